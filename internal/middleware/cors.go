package middleware

import (
	"net/http"
	"strconv"
	"strings"
)

var (
	defaultCORSMethods = []string{http.MethodGet, http.MethodPost, http.MethodOptions}
	defaultCORSHeaders = []string{"Content-Type", defaultAdminTokenHeader, RequestIDHeader}
	defaultCORSExpose  = []string{RequestIDHeader}
)

// CORSConfig configures Cross-Origin Resource Sharing (CORS) policies for
// the review dashboard. An origin entry may use a leading "*." host label,
// e.g. "https://*.crm.example.com", to match any subdomain.
type CORSConfig struct {
	Enabled          bool
	AllowedOrigins   []string
	AllowedMethods   []string
	AllowedHeaders   []string
	ExposeHeaders    []string
	AllowCredentials bool
	MaxAge           int
}

type originMatcher struct {
	any      bool
	exact    map[string]struct{}
	suffixes []originSuffix
}

type originSuffix struct {
	scheme string
	host   string
}

func newOriginMatcher(origins []string) originMatcher {
	m := originMatcher{exact: make(map[string]struct{})}
	for _, origin := range origins {
		origin = strings.TrimRight(strings.TrimSpace(origin), "/")
		switch {
		case origin == "":
		case origin == "*":
			m.any = true
		case strings.Contains(origin, "://*."):
			scheme, host, _ := strings.Cut(origin, "://*")
			m.suffixes = append(m.suffixes, originSuffix{scheme: strings.ToLower(scheme), host: strings.ToLower(host)})
		default:
			m.exact[strings.ToLower(origin)] = struct{}{}
		}
	}
	return m
}

func (m originMatcher) allows(origin string) bool {
	if m.any {
		return true
	}
	origin = strings.ToLower(origin)
	if _, ok := m.exact[origin]; ok {
		return true
	}
	scheme, host, ok := strings.Cut(origin, "://")
	if !ok {
		return false
	}
	for _, s := range m.suffixes {
		if scheme == s.scheme && strings.HasSuffix(host, s.host) && len(host) > len(s.host) {
			return true
		}
	}
	return false
}

// CORSMiddleware adds CORS headers and answers preflight requests. Preflights
// from origins outside the allow list are refused with 403.
func CORSMiddleware(cfg CORSConfig) func(http.Handler) http.Handler {
	if !cfg.Enabled {
		return func(next http.Handler) http.Handler {
			return next
		}
	}

	matcher := newOriginMatcher(cfg.AllowedOrigins)
	methodsHeader := joinOrDefault(cfg.AllowedMethods, defaultCORSMethods)
	headersHeader := joinOrDefault(cfg.AllowedHeaders, defaultCORSHeaders)
	exposeHeader := joinOrDefault(cfg.ExposeHeaders, defaultCORSExpose)
	maxAgeHeader := ""
	if cfg.MaxAge > 0 {
		maxAgeHeader = strconv.Itoa(cfg.MaxAge)
	}
	// Credentials are never combined with a literal "*".
	credentials := cfg.AllowCredentials

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin == "" {
				next.ServeHTTP(w, r)
				return
			}

			h := w.Header()
			h.Add("Vary", "Origin")
			allowed := matcher.allows(origin)
			preflight := r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != ""

			if !allowed {
				if preflight {
					writeJSONError(w, http.StatusForbidden, "origin not allowed")
					return
				}
				next.ServeHTTP(w, r)
				return
			}

			if matcher.any && !credentials {
				h.Set("Access-Control-Allow-Origin", "*")
			} else {
				h.Set("Access-Control-Allow-Origin", origin)
			}
			if credentials {
				h.Set("Access-Control-Allow-Credentials", "true")
			}

			if preflight {
				h.Set("Access-Control-Allow-Methods", methodsHeader)
				h.Set("Access-Control-Allow-Headers", headersHeader)
				if maxAgeHeader != "" {
					h.Set("Access-Control-Max-Age", maxAgeHeader)
				}
				w.WriteHeader(http.StatusNoContent)
				return
			}

			h.Set("Access-Control-Expose-Headers", exposeHeader)
			next.ServeHTTP(w, r)
		})
	}
}

func joinOrDefault(values, fallback []string) string {
	if len(values) == 0 {
		values = fallback
	}
	return strings.Join(values, ", ")
}
