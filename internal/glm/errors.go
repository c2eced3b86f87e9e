package glm

import (
	"fmt"
	"net/http"
	"strings"
)

// ErrorKind classifies API failures so callers can choose a policy
// without string matching. Auth and Parameter are configuration
// problems and must not be retried; RateLimit and ServerUnavailable
// are caller-visible transient conditions.
type ErrorKind int

const (
	// KindUnknown covers HTTP statuses outside the classified set.
	KindUnknown ErrorKind = iota

	// KindAuth means the API key was rejected (HTTP 401).
	KindAuth

	// KindRateLimit means the vendor throttled the request (HTTP 429,
	// or a vendor error message mentioning rate limits).
	KindRateLimit

	// KindServerUnavailable covers HTTP 500, 502 and 503.
	KindServerUnavailable

	// KindParameter means the request was malformed (HTTP 400).
	KindParameter

	// KindResponseTooLong means the prompt or completion exceeded the
	// vendor's token budget (reported inside a 200 response).
	KindResponseTooLong

	// KindVendor is any other vendor-level error object.
	KindVendor
)

// String returns the kind name for logging.
func (k ErrorKind) String() string {
	switch k {
	case KindAuth:
		return "auth"
	case KindRateLimit:
		return "rate_limit"
	case KindServerUnavailable:
		return "server_unavailable"
	case KindParameter:
		return "parameter"
	case KindResponseTooLong:
		return "response_too_long"
	case KindVendor:
		return "vendor"
	default:
		return "unknown"
	}
}

// APIError is a classified failure from the vendor endpoint.
type APIError struct {
	Kind       ErrorKind
	StatusCode int    // 0 when the failure came from a vendor error body in a 200
	Message    string // vendor-supplied detail when available
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("glm: %s (HTTP %d)", e.Kind, e.StatusCode)
	}
	return fmt.Sprintf("glm: %s: %s", e.Kind, e.Message)
}

// classifyStatus maps a non-200 HTTP response to an APIError.
func classifyStatus(status int, body string) *APIError {
	kind := KindUnknown
	switch status {
	case http.StatusUnauthorized:
		kind = KindAuth
	case http.StatusTooManyRequests:
		kind = KindRateLimit
	case http.StatusInternalServerError, http.StatusBadGateway, http.StatusServiceUnavailable:
		kind = KindServerUnavailable
	case http.StatusBadRequest:
		kind = KindParameter
	}
	return &APIError{Kind: kind, StatusCode: status, Message: body}
}

// classifyVendorError maps a vendor-level error object (delivered inside
// a 200 response) to an APIError by substring match on the message.
func classifyVendorError(e *VendorErrorBody) *APIError {
	msg := e.Message
	lower := strings.ToLower(msg)
	switch {
	case strings.Contains(lower, "token"):
		return &APIError{Kind: KindResponseTooLong, Message: msg}
	case strings.Contains(lower, "rate"):
		return &APIError{Kind: KindRateLimit, Message: msg}
	default:
		return &APIError{Kind: KindVendor, Message: msg}
	}
}
