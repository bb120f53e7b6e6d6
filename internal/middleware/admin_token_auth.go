package middleware

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"crm-approvals/internal/logging"
	"crm-approvals/internal/observability"
)

const defaultAdminTokenHeader = "X-Admin-Token"

// AdminTokenAuthConfig controls shared-token authentication for admin endpoints.
type AdminTokenAuthConfig struct {
	Token      string
	HeaderName string
	Metrics    *observability.SecurityMetrics
}

// AuthContext describes the authenticated caller of a request.
type AuthContext struct {
	Subject string
	Method  string
}

type authContextKey struct{}

// WithAuthContext stores auth on the request context.
func WithAuthContext(ctx context.Context, auth AuthContext) context.Context {
	return context.WithValue(ctx, authContextKey{}, auth)
}

// AuthFromContext returns the auth context from a request context.
func AuthFromContext(ctx context.Context) (AuthContext, bool) {
	auth, ok := ctx.Value(authContextKey{}).(AuthContext)
	return auth, ok
}

// AdminTokenAuthMiddleware validates a shared admin token from request headers.
func AdminTokenAuthMiddleware(cfg AdminTokenAuthConfig) (func(http.Handler) http.Handler, error) {
	token := strings.TrimSpace(cfg.Token)
	if token == "" {
		return nil, errors.New("admin auth token is required")
	}
	headerName := strings.TrimSpace(cfg.HeaderName)
	if headerName == "" {
		headerName = defaultAdminTokenHeader
	}
	metrics := cfg.Metrics

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			endpoint := r.URL.Path
			if reason := checkAdminToken(r.Header.Get(headerName), token); reason != "" {
				metrics.RecordAdminAuth(r.Context(), endpoint, reason)
				logging.FromContext(r.Context()).Warn("admin authentication failed",
					slog.String("path", endpoint),
					slog.String("reason", reason),
				)
				writeAdminUnauthorized(w)
				return
			}

			metrics.RecordAdminAuth(r.Context(), endpoint, "")
			ctx := WithAuthContext(r.Context(), AuthContext{Subject: "admin", Method: "admin_token"})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}, nil
}

// checkAdminToken returns the denial reason, or "" when provided matches.
// Both sides are hashed so the comparison time does not depend on length.
func checkAdminToken(provided, expected string) string {
	provided = strings.TrimSpace(provided)
	if provided == "" {
		return "missing_token"
	}
	got := sha256.Sum256([]byte(provided))
	want := sha256.Sum256([]byte(expected))
	if subtle.ConstantTimeCompare(got[:], want[:]) != 1 {
		return "invalid_token"
	}
	return ""
}

func writeAdminUnauthorized(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = fmt.Fprint(w, `{"error":"unauthorized"}`)
}
