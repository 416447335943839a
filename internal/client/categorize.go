package client

import (
	"errors"
)

// ErrorCategory is a stable label for error classification in metrics and logs.
type ErrorCategory string

const (
	ErrorCategoryMisconfigured     ErrorCategory = "misconfigured"
	ErrorCategoryUpstreamRejected  ErrorCategory = "upstream_rejected"
	ErrorCategoryMalformedResponse ErrorCategory = "malformed_response"
	ErrorCategoryTransport         ErrorCategory = "transport"
	ErrorCategoryUnknown           ErrorCategory = "unknown"
)

// CategorizeError maps a Fetch error to its ErrorCategory. nil maps to "".
func CategorizeError(err error) ErrorCategory {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrMisconfigured):
		return ErrorCategoryMisconfigured
	case errors.Is(err, ErrUpstreamRejected):
		return ErrorCategoryUpstreamRejected
	case errors.Is(err, ErrMalformedResponse):
		return ErrorCategoryMalformedResponse
	case errors.Is(err, ErrTransport):
		return ErrorCategoryTransport
	default:
		return ErrorCategoryUnknown
	}
}

// StatusCode returns the provider HTTP status carried by err, or 0.
func StatusCode(err error) int {
	var rejected *UpstreamRejectedError
	if errors.As(err, &rejected) {
		return rejected.StatusCode
	}
	return 0
}
