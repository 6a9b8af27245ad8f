package scoring

import (
	"errors"
	"fmt"
	"net/http"
)

// UpstreamError is a non-2xx response from the scoring service.
type UpstreamError struct {
	Status int
	Body   string
}

func (e *UpstreamError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("scoring service returned %d: %s", e.Status, e.Body)
	}
	return fmt.Sprintf("scoring service returned %d", e.Status)
}

// Transient reports whether the failure is a rate limit or server-side error
// worth retrying. Everything else is treated as fatal.
func (e *UpstreamError) Transient() bool {
	return e.Status == http.StatusTooManyRequests || e.Status >= 500
}

// AuthFailure reports an authentication or permission failure. These are
// never retried and are surfaced to callers as non-retryable.
func (e *UpstreamError) AuthFailure() bool {
	return e.Status == http.StatusUnauthorized || e.Status == http.StatusForbidden
}

// IsTransient reports whether err (anywhere in its chain) is a retryable
// upstream failure.
func IsTransient(err error) bool {
	var ue *UpstreamError
	return errors.As(err, &ue) && ue.Transient()
}

// IsAuthFailure reports whether err is an authentication/permission failure
// from the scoring service.
func IsAuthFailure(err error) bool {
	var ue *UpstreamError
	return errors.As(err, &ue) && ue.AuthFailure()
}
