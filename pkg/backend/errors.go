package backend

import (
	"errors"
	"fmt"
)

var (
	// ErrNoBaseURL is returned when the API base URL is missing.
	ErrNoBaseURL = errors.New("backend: base URL required")

	// ErrEmptyUpload is returned by UploadFinal with no data.
	ErrEmptyUpload = errors.New("backend: empty upload")

	// ErrInvalidAudioKind is returned for an unknown audio track.
	ErrInvalidAudioKind = errors.New("backend: invalid audio kind")
)

// APIError is a non-2xx response from the backend.
type APIError struct {
	// StatusCode is the HTTP status code.
	StatusCode int

	// Message is the error detail from the response body.
	Message string

	// Path is the request path.
	Path string
}

// Error implements the error interface.
func (e *APIError) Error() string {
	return fmt.Sprintf("backend: %s: API error %d: %s", e.Path, e.StatusCode, e.Message)
}

// IsNotFound returns true if the resource was not found (HTTP 404).
func (e *APIError) IsNotFound() bool {
	return e.StatusCode == 404
}

// IsUnauthorized returns true if this is an authentication error (HTTP 401).
func (e *APIError) IsUnauthorized() bool {
	return e.StatusCode == 401
}

// IsRetryable returns true if the request should be retried.
func (e *APIError) IsRetryable() bool {
	return e.StatusCode == 429 || (e.StatusCode >= 500 && e.StatusCode < 600)
}

// IsNotFound reports whether err is a 404 APIError.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.IsNotFound()
}
