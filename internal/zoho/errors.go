package zoho

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrUnavailable wraps transport failures, timeouts and an open breaker.
	// Callers may retry these.
	ErrUnavailable = errors.New("zoho: service unavailable")
	// ErrInvalidResponse means the response did not match the expected shape.
	ErrInvalidResponse = errors.New("zoho: invalid response")
	// ErrMissingIdentifier means a create call returned without the new record's id.
	ErrMissingIdentifier = errors.New("zoho: response carries no identifier")
)

// APIError is a rejection reported by the remote service.
type APIError struct {
	HTTPStatus int
	Code       int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("zoho: api error (http %d, code %d): %s", e.HTTPStatus, e.Code, e.Message)
}

// clientError reports rejections that say nothing about the service's health.
func clientError(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	return apiErr.HTTPStatus < http.StatusInternalServerError && apiErr.HTTPStatus != http.StatusTooManyRequests
}
