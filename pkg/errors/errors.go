package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
)

type StatusError struct {
	Code       int    `json:"code"`
	Message    string `json:"message"`
	Reason     string `json:"reason,omitempty"`
	RetryAfter int    `json:"retryAfter,omitempty"`

	cause error
}

func (e *StatusError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("status %d: %s: %s", e.Code, e.Message, e.Reason)
	}
	return fmt.Sprintf("status %d: %s", e.Code, e.Message)
}

func NewStatusError(code int, message string) *StatusError {
	return &StatusError{
		Code:    code,
		Message: message,
	}
}

// WithReason returns a copy of e carrying reason. Sentinels stay untouched.
func (e *StatusError) WithReason(reason string) *StatusError {
	cp := *e
	cp.Reason = reason
	return &cp
}

func (e *StatusError) WithReasonf(format string, args ...any) *StatusError {
	return e.WithReason(fmt.Sprintf(format, args...))
}

// Wrap returns a copy of e that unwraps to cause.
func (e *StatusError) Wrap(cause error) *StatusError {
	cp := *e
	cp.cause = cause
	if cp.Reason == "" && cause != nil {
		cp.Reason = cause.Error()
	}
	return &cp
}

func (e *StatusError) Unwrap() error { return e.cause }

// Is matches another StatusError with the same code and message, so copies
// made by WithReason still match their sentinel.
func (e *StatusError) Is(target error) bool {
	t, ok := target.(*StatusError)
	if !ok {
		return false
	}
	return e.Code == t.Code && e.Message == t.Message
}

var (
	// Configuration errors
	ErrInvalidMapping  = NewStatusError(http.StatusInternalServerError, "invalid entity mapping")
	ErrDuplicateFact   = NewStatusError(http.StatusInternalServerError, "duplicate fact binding")
	ErrUnsupportedType = NewStatusError(http.StatusInternalServerError, "unsupported column type")
	ErrInvalidConfig   = NewStatusError(http.StatusInternalServerError, "invalid configuration")

	// Usage errors
	ErrNoEntity           = NewStatusError(http.StatusBadRequest, "no entity to authorize")
	ErrMultipleEntities   = NewStatusError(http.StatusBadRequest, "multiple entities in one authorization")
	ErrNotResource        = NewStatusError(http.StatusBadRequest, "model is not a registered resource")
	ErrAlreadyInitialized = NewStatusError(http.StatusConflict, "authorization already initialized")
	ErrNotInitialized     = NewStatusError(http.StatusPreconditionFailed, "authorization not initialized")

	// Upstream errors
	ErrUpstream = NewStatusError(http.StatusBadGateway, "authorization service request failed")

	// Authentication errors
	ErrUnauthorized = NewStatusError(http.StatusUnauthorized, "unauthorized")

	// Validation errors
	ErrInvalidInput = NewStatusError(http.StatusBadRequest, "invalid input")

	// Resource errors
	ErrNotFound = NewStatusError(http.StatusNotFound, "resource not found")

	// Server errors
	ErrInternal = NewStatusError(http.StatusInternalServerError, "internal server error")
)

func Is(err, target error) bool { return stderrors.Is(err, target) }

func As(err error, target any) bool { return stderrors.As(err, target) }

// IsConfigError reports whether err comes from a malformed binding or
// service configuration.
func IsConfigError(err error) bool {
	return Is(err, ErrInvalidMapping) || Is(err, ErrDuplicateFact) ||
		Is(err, ErrUnsupportedType) || Is(err, ErrInvalidConfig)
}

// IsUsageError reports whether err was caused by the caller.
func IsUsageError(err error) bool {
	return Is(err, ErrNoEntity) || Is(err, ErrMultipleEntities) || Is(err, ErrNotResource) ||
		Is(err, ErrAlreadyInitialized) || Is(err, ErrNotInitialized)
}
