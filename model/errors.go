package model

import (
	"errors"
	"fmt"
)

// Stable fatal error codes surfaced to upstream UX mapping.
const (
	// CodeModelNotSupported signals the selected model cannot serve the
	// request shape at all (e.g. no tool calling, no system prompt).
	CodeModelNotSupported = "model_not_supported"
	// CodeInvalidRequest signals a request the vendor permanently rejects.
	CodeInvalidRequest = "invalid_request"
	// CodeAuth signals a credentials problem; retrying cannot help.
	CodeAuth = "authentication"
)

// FatalError is a vendor/model error that must abort the run rather than be
// retried. It carries a stable code so callers can map it to user-facing
// messaging without string matching.
type FatalError struct {
	Code    string
	Message string
}

// Error implements the error interface.
func (e *FatalError) Error() string {
	return fmt.Sprintf("fatal model error [%s]: %s", e.Code, e.Message)
}

// NewFatalError creates a FatalError with the given code and message.
func NewFatalError(code, message string) *FatalError {
	return &FatalError{Code: code, Message: message}
}

// UnavailableError signals a "service unavailable"-class condition (429,
// 5xx, overloaded). The runner rethrows it unchanged so a higher-level
// policy can retry with backoff or a different model.
type UnavailableError struct {
	Provider string
	Message  string
}

// Error implements the error interface.
func (e *UnavailableError) Error() string {
	return fmt.Sprintf("%s unavailable: %s", e.Provider, e.Message)
}

// IsFatal reports whether err is (or wraps) a FatalError.
func IsFatal(err error) bool {
	var fe *FatalError
	return errors.As(err, &fe)
}

// IsUnavailable reports whether err is (or wraps) an UnavailableError.
func IsUnavailable(err error) bool {
	var ue *UnavailableError
	return errors.As(err, &ue)
}
