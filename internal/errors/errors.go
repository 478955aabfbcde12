package errors

import (
	"fmt"
	"net/http"
)

// Kind classifies an API error into the response taxonomy.
type Kind int

const (
	KindValidation Kind = iota
	KindMissingHeaders
	KindInvalidTimestamp
	KindNonceUsed
	KindInvalidSignature
	KindUnauthorized
	KindNotFound
	KindConflict
	KindUnavailable
	KindInternal
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "VALIDATION_ERROR"
	case KindMissingHeaders:
		return "MISSING_HEADERS"
	case KindInvalidTimestamp:
		return "INVALID_TIMESTAMP"
	case KindNonceUsed:
		return "NONCE_USED"
	case KindInvalidSignature:
		return "INVALID_SIGNATURE"
	case KindUnauthorized:
		return "UNAUTHORIZED"
	case KindNotFound:
		return "NOT_FOUND"
	case KindConflict:
		return "CONFLICT"
	case KindUnavailable:
		return "UNAVAILABLE"
	default:
		return "INTERNAL_ERROR"
	}
}

// Status maps the kind to its HTTP status code.
func (k Kind) Status() int {
	switch k {
	case KindValidation, KindMissingHeaders, KindInvalidTimestamp, KindNonceUsed, KindInvalidSignature:
		return http.StatusBadRequest
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Detail is a single field-level validation problem.
type Detail struct {
	Code  string `json:"code"`
	Field string `json:"field,omitempty"`
}

// APIError is an error that can be returned to clients. Messages are generic
// by construction; secret material must never be placed in Message or Details.
type APIError struct {
	Kind       Kind     `json:"-"`
	Code       string   `json:"code,omitempty"`
	Message    string   `json:"message"`
	Details    []Detail `json:"details,omitempty"`
	underlying error
}

func (e *APIError) Error() string {
	if e.underlying != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.underlying)
	}
	return e.Message
}

func (e *APIError) Unwrap() error {
	return e.underlying
}

// Status returns the HTTP status for the error.
func (e *APIError) Status() int {
	return e.Kind.Status()
}

// Common errors
var (
	ErrUnauthorized = &APIError{
		Kind:    KindUnauthorized,
		Message: "Unauthorized",
	}

	ErrNotFound = &APIError{
		Kind:    KindNotFound,
		Code:    "NOT_FOUND",
		Message: "Not Found",
	}

	ErrInternal = &APIError{
		Kind:    KindInternal,
		Code:    "INTERNAL_ERROR",
		Message: "Internal Server Error",
	}

	ErrUnavailable = &APIError{
		Kind:    KindUnavailable,
		Code:    "UNAVAILABLE",
		Message: "Service Unavailable",
	}
)

// New creates a new APIError with the given kind and message. The kind's
// canonical code is used unless overridden with WithCode.
func New(kind Kind, message string) *APIError {
	return &APIError{
		Kind:    kind,
		Code:    kind.String(),
		Message: message,
	}
}

// Wrap wraps an underlying error. The underlying error is preserved for
// logging but never serialized to clients.
func Wrap(err error, kind Kind, message string) *APIError {
	return &APIError{
		Kind:       kind,
		Code:       kind.String(),
		Message:    message,
		underlying: err,
	}
}

// Validation builds a 400 validation error with field details.
func Validation(message string, details ...Detail) *APIError {
	return &APIError{
		Kind:    KindValidation,
		Message: message,
		Details: details,
	}
}

// WithCode returns a copy of the error with an explicit code.
func (e *APIError) WithCode(code string) *APIError {
	return &APIError{
		Kind:       e.Kind,
		Code:       code,
		Message:    e.Message,
		Details:    e.Details,
		underlying: e.underlying,
	}
}

// AsAPIError checks if an error is an APIError.
func AsAPIError(err error) (*APIError, bool) {
	if ae, ok := err.(*APIError); ok {
		return ae, true
	}
	return nil, false
}
