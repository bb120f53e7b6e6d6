package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"crm-approvals/internal/logging"
	"crm-approvals/internal/platform"
	"crm-approvals/internal/review"
)

// Problem is an RFC 7807 Problem Details response. Retryable tells the
// client that repeating the request may succeed.
type Problem struct {
	Type      string `json:"type"`
	Title     string `json:"title"`
	Status    int    `json:"status"`
	Detail    string `json:"detail"`
	Instance  string `json:"instance,omitempty"`
	Retryable bool   `json:"retryable"`
}

var problemTypes = map[int]struct {
	typeURI string
	title   string
}{
	http.StatusBadRequest: {
		typeURI: "https://crm-approvals.dev/errors/bad-request",
		title:   "Bad Request",
	},
	http.StatusUnauthorized: {
		typeURI: "https://crm-approvals.dev/errors/unauthorized",
		title:   "Unauthorized",
	},
	http.StatusNotFound: {
		typeURI: "https://crm-approvals.dev/errors/not-found",
		title:   "Not Found",
	},
	http.StatusInternalServerError: {
		typeURI: "https://crm-approvals.dev/errors/internal-error",
		title:   "Internal Server Error",
	},
	http.StatusBadGateway: {
		typeURI: "https://crm-approvals.dev/errors/platform-error",
		title:   "Bad Gateway",
	},
	http.StatusServiceUnavailable: {
		typeURI: "https://crm-approvals.dev/errors/service-unavailable",
		title:   "Service Unavailable",
	},
	http.StatusGatewayTimeout: {
		typeURI: "https://crm-approvals.dev/errors/timeout",
		title:   "Gateway Timeout",
	},
}

// WriteProblem writes a Problem Details response.
func WriteProblem(w http.ResponseWriter, r *http.Request, status int, detail string, retryable bool) {
	pt, ok := problemTypes[status]
	if !ok {
		pt.typeURI = "https://crm-approvals.dev/errors/unknown"
		pt.title = http.StatusText(status)
	}

	p := Problem{
		Type:      pt.typeURI,
		Title:     pt.title,
		Status:    status,
		Detail:    detail,
		Instance:  r.URL.Path,
		Retryable: retryable,
	}

	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(p); err != nil {
		logging.FromContext(r.Context()).Error("failed to encode problem response", "error", err)
	}
}

// MapError converts service errors to Problem Details responses. Internal
// details are only exposed for caller errors.
func MapError(w http.ResponseWriter, r *http.Request, err error) {
	var apiErr *platform.APIError
	switch {
	case errors.Is(err, review.ErrInvalidRequest):
		WriteProblem(w, r, http.StatusBadRequest, err.Error(), false)
	case errors.Is(err, context.DeadlineExceeded):
		WriteProblem(w, r, http.StatusGatewayTimeout, "The platform did not answer in time", true)
	case errors.Is(err, context.Canceled):
		WriteProblem(w, r, http.StatusServiceUnavailable, "Request canceled", true)
	case platform.IsTransient(err):
		WriteProblem(w, r, http.StatusServiceUnavailable, "The platform is unavailable", true)
	case errors.As(err, &apiErr):
		WriteProblem(w, r, http.StatusBadGateway, "The platform rejected the request", false)
	default:
		WriteProblem(w, r, http.StatusInternalServerError, "Internal Server Error", false)
	}
}
