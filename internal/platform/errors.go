package platform

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

var (
	// ErrObjectNotFound is returned by Describe for an unknown object.
	ErrObjectNotFound = errors.New("platform: object not found")
	// ErrInvalidLocator is returned by QueryMore when a continuation locator
	// is expired or rejected.
	ErrInvalidLocator = errors.New("platform: invalid query locator")
	// ErrUnavailable means a session with the platform could not be
	// established.
	ErrUnavailable = errors.New("platform: unavailable")
)

// APIError is an error response from the platform.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("platform: %d %s: %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("platform: %d: %s", e.StatusCode, e.Message)
}

// Temporary reports whether retrying the call may succeed.
func (e *APIError) Temporary() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// IsTransient reports whether err is a retryable I/O failure.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrUnavailable) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Temporary()
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}
