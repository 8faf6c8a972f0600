package remote

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorClass classifies a remote platform failure so callers can produce
// precise diagnostics without inspecting status codes.
type ErrorClass string

const (
	// ClassNotFound means the project/deployment/env-var is missing remotely
	ClassNotFound ErrorClass = "project-not-found"

	// ClassUnauthorized means the token is missing or invalid
	ClassUnauthorized ErrorClass = "unauthorized"

	// ClassForbidden means the token is valid but lacks access
	ClassForbidden ErrorClass = "forbidden"

	// ClassConflict means the resource already exists remotely
	ClassConflict ErrorClass = "conflict"

	// ClassRateLimited means the platform rejected the call with a rate limit
	ClassRateLimited ErrorClass = "rate-limited"

	// ClassUnknown is any other failure
	ClassUnknown ErrorClass = "unknown"
)

// APIError is a structured remote platform error
type APIError struct {
	StatusCode int
	Class      ErrorClass
	URL        string
	Message    string
}

// Error returns the error message
func (e *APIError) Error() string {
	return fmt.Sprintf("remote platform returned %d (%s) for %s: %s", e.StatusCode, e.Class, e.URL, e.Message)
}

// NewAPIError creates an APIError, deriving the class from the status code
func NewAPIError(statusCode int, url, message string) *APIError {
	return &APIError{
		StatusCode: statusCode,
		Class:      classify(statusCode),
		URL:        url,
		Message:    message,
	}
}

func classify(statusCode int) ErrorClass {
	switch statusCode {
	case http.StatusNotFound:
		return ClassNotFound
	case http.StatusUnauthorized:
		return ClassUnauthorized
	case http.StatusForbidden:
		return ClassForbidden
	case http.StatusConflict:
		return ClassConflict
	case http.StatusTooManyRequests:
		return ClassRateLimited
	default:
		return ClassUnknown
	}
}

// Classify extracts the error class from any error chain. Non-APIError values
// classify as unknown.
func Classify(err error) ErrorClass {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Class
	}
	return ClassUnknown
}

// IsNotFound reports whether err is a remote not-found failure
func IsNotFound(err error) bool {
	return Classify(err) == ClassNotFound
}

// IsConflict reports whether err is a remote conflict failure
func IsConflict(err error) bool {
	return Classify(err) == ClassConflict
}

// IsAuthFailure reports whether err is an authentication or access failure
func IsAuthFailure(err error) bool {
	class := Classify(err)
	return class == ClassUnauthorized || class == ClassForbidden
}

// retryable reports whether a status code is worth retrying
func retryable(statusCode int) bool {
	switch statusCode {
	case http.StatusTooManyRequests, http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}
