package models

import (
	"errors"
	"fmt"
	"net/http"
)

// Machine-readable codes attached to APIError when the backend gives none or the
// failure happened before a response could be read.
const (
	ErrorCodeNetwork         = "network_error"
	ErrorCodeParse           = "parse_error"
	ErrorCodeNonJSON         = "non_json_response"
	ErrorCodeInvalidJSON     = "invalid_json_response"
	ErrorCodeEmptyResponse   = "empty_response"
	ErrorCodeSessionExpired  = "SESSION_EXPIRED"
	ErrorCodeMissingToken    = "MISSING_TOKEN"
	ErrorCodeUnknown         = "UNKNOWN"
	ErrorCodeInvalidCheckout = "invalid_checkout_url"
)

// APIError represents a failed call to the backend API.
// Status is 0 when no HTTP response was received.
type APIError struct {
	Status  int
	Code    string
	Message string
	Details any
	Err     error
}

func (e *APIError) Error() string {
	if e.Status > 0 {
		if e.Err != nil {
			return fmt.Sprintf("api error: HTTP %d - %s (caused by: %v)", e.Status, e.Message, e.Err)
		}
		return fmt.Sprintf("api error: HTTP %d - %s", e.Status, e.Message)
	}

	if e.Err != nil {
		return fmt.Sprintf("api error: %s (caused by: %v)", e.Message, e.Err)
	}
	return fmt.Sprintf("api error: %s", e.Message)
}

func (e *APIError) Unwrap() error {
	return e.Err
}

// HTTPStatus returns the HTTP status code of the failed response
func (e *APIError) HTTPStatus() int {
	return e.Status
}

// DisplayMessage returns the message without the error prefix
func (e *APIError) DisplayMessage() string {
	return e.Message
}

// Retriable reports whether repeating the same request may succeed
func (e *APIError) Retriable() bool {
	if e.Status == 0 {
		return e.Code == ErrorCodeNetwork
	}
	return isRetriableStatusCode(e.Status)
}

// NewAPIError creates a new APIError
func NewAPIError(status int, code, message string, details any, err error) *APIError {
	return &APIError{
		Status:  status,
		Code:    code,
		Message: message,
		Details: details,
		Err:     err,
	}
}

// isRetriableStatusCode determines if an HTTP status code should trigger a retry
func isRetriableStatusCode(statusCode int) bool {
	// 5xx errors are retriable (server errors)
	if statusCode >= 500 && statusCode < 600 {
		return true
	}

	// 429 Too Many Requests is retriable
	if statusCode == http.StatusTooManyRequests {
		return true
	}

	// Other 4xx and 3xx are not
	return false
}

// HTTPStatusCoder is implemented by errors that carry an HTTP status code
type HTTPStatusCoder interface {
	HTTPStatus() int
}

// HTTPStatusOf extracts the HTTP status from anywhere in err's chain
func HTTPStatusOf(err error) (int, bool) {
	var coder HTTPStatusCoder
	if errors.As(err, &coder) {
		status := coder.HTTPStatus()
		return status, status > 0
	}
	return 0, false
}

// IsSessionExpired reports whether err means the caller must sign in again
func IsSessionExpired(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Code == ErrorCodeSessionExpired
}

// ErrNotFound is returned by repositories when a row does not exist
var ErrNotFound = errors.New("not found")

// InvalidTransitionError is returned when a tracked upload cannot move to a status
type InvalidTransitionError struct {
	From UploadUIStatus
	To   UploadUIStatus
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid status transition from %s to %s", e.From, e.To)
}

// StorageUploadError is returned when the object store rejects a presigned PUT.
// Storage status codes are not API status codes, so it does not implement
// HTTPStatusCoder.
type StorageUploadError struct {
	StatusCode int
}

func (e *StorageUploadError) Error() string {
	return fmt.Sprintf("Storage upload failed with status %d", e.StatusCode)
}
