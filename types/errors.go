package types

import (
	"errors"
	"fmt"
)

// ErrorKind tags a classified error. The set is closed: every failure the
// library returns to callers is one of these kinds.
type ErrorKind string

const (
	KindValidation        ErrorKind = "validation"
	KindInvalidAddress    ErrorKind = "invalid_address"
	KindNotFound          ErrorKind = "not_found"
	KindPaymentNotFound   ErrorKind = "payment_not_found"
	KindPaymentExpired    ErrorKind = "payment_expired"
	KindInsufficientFunds ErrorKind = "insufficient_funds"
	KindNetwork           ErrorKind = "network"
	KindAuthentication    ErrorKind = "authentication"
	KindRateLimit         ErrorKind = "rate_limit"
	KindService           ErrorKind = "service"
)

// Stable error codes
const (
	ErrValidation        = "VALIDATION_ERROR"
	ErrInvalidAddress    = "INVALID_ADDRESS"
	ErrNotFound          = "NOT_FOUND"
	ErrPaymentNotFound   = "PAYMENT_NOT_FOUND"
	ErrPaymentExpired    = "PAYMENT_EXPIRED"
	ErrInsufficientFunds = "INSUFFICIENT_FUNDS"
	ErrNetworkError      = "NETWORK_ERROR"
	ErrAuthentication    = "AUTHENTICATION_ERROR"
	ErrRateLimit         = "RATE_LIMIT_EXCEEDED"
	ErrUnknown           = "UNKNOWN_ERROR"
	ErrInvalidResponse   = "INVALID_RESPONSE"
	ErrConfigError       = "CONFIG_ERROR"
)

// DefaultRetryAfterSeconds is used when a 429 response carries no usable
// Retry-After header.
const DefaultRetryAfterSeconds = 60

// Error is the classified error returned by every package of the library.
type Error struct {
	Kind    ErrorKind `json:"kind"`
	Code    string    `json:"code"`
	Message string    `json:"message"`

	// StatusCode is the HTTP status that produced the error, 0 when no
	// response was received.
	StatusCode int `json:"statusCode,omitempty"`

	// RetryAfter is the server-asserted wait in seconds. Only set for
	// KindRateLimit.
	RetryAfter int `json:"retryAfter,omitempty"`

	// Err is the underlying cause, kept for diagnostics.
	Err error `json:"-"`
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Retryable reports whether a failed request may succeed if issued again.
func (e *Error) Retryable() bool {
	switch e.Kind {
	case KindNetwork, KindRateLimit:
		return true
	}
	return e.StatusCode >= 500
}

// AsError extracts a classified error from an error chain.
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// IsKind reports whether err is a classified error of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	e, ok := AsError(err)
	return ok && e.Kind == kind
}

func NewValidationError(message string) *Error {
	return &Error{Kind: KindValidation, Code: ErrValidation, Message: message}
}

func NewInvalidAddressError(address string) *Error {
	return &Error{
		Kind:    KindInvalidAddress,
		Code:    ErrInvalidAddress,
		Message: fmt.Sprintf("invalid address: %s", address),
	}
}

func NewNotFoundError(message string) *Error {
	return &Error{Kind: KindNotFound, Code: ErrNotFound, Message: message}
}

func NewPaymentNotFoundError(paymentID string) *Error {
	return &Error{
		Kind:       KindPaymentNotFound,
		Code:       ErrPaymentNotFound,
		Message:    fmt.Sprintf("payment %s not found", paymentID),
		StatusCode: 404,
	}
}

func NewPaymentExpiredError(paymentID string) *Error {
	return &Error{
		Kind:    KindPaymentExpired,
		Code:    ErrPaymentExpired,
		Message: fmt.Sprintf("payment %s has expired", paymentID),
	}
}

func NewInsufficientFundsError(message string) *Error {
	return &Error{Kind: KindInsufficientFunds, Code: ErrInsufficientFunds, Message: message}
}

func NewNetworkError(err error) *Error {
	return &Error{
		Kind:    KindNetwork,
		Code:    ErrNetworkError,
		Message: "no response received from payment API",
		Err:     err,
	}
}

func NewAuthenticationError(statusCode int, message string) *Error {
	if message == "" {
		message = "invalid or missing API key"
	}
	return &Error{
		Kind:       KindAuthentication,
		Code:       ErrAuthentication,
		Message:    message,
		StatusCode: statusCode,
	}
}

func NewRateLimitError(retryAfter int) *Error {
	return &Error{
		Kind:       KindRateLimit,
		Code:       ErrRateLimit,
		Message:    fmt.Sprintf("rate limit exceeded, retry after %d seconds", retryAfter),
		StatusCode: 429,
		RetryAfter: retryAfter,
	}
}

// NewServiceError is the catch-all for unclassified non-2xx responses.
func NewServiceError(statusCode int, code, message string) *Error {
	if code == "" {
		code = ErrUnknown
	}
	if message == "" {
		message = fmt.Sprintf("payment API returned status %d", statusCode)
	}
	return &Error{
		Kind:       KindService,
		Code:       code,
		Message:    message,
		StatusCode: statusCode,
	}
}
