package core

import (
	"errors"
	"fmt"

	"github.com/roach88/roomtodo/internal/remote"
)

// ErrorCode categorizes core errors.
type ErrorCode string

const (
	// ErrCodeAuth indicates there is no signed-in user.
	ErrCodeAuth ErrorCode = "AUTH"

	// ErrCodeStore indicates a remote fetch, write or subscribe failed.
	ErrCodeStore ErrorCode = "STORE"

	// ErrCodeValidation indicates input was rejected before any remote call.
	ErrCodeValidation ErrorCode = "VALIDATION"

	// ErrCodeStream indicates a change feed dropped.
	ErrCodeStream ErrorCode = "STREAM"
)

// Error is a failure surfaced by the core.
type Error struct {
	// Code identifies the error category.
	Code ErrorCode

	// Op names the operation that failed ("create todo", "load todos").
	Op string

	// Message is the display text. For store errors it is the remote
	// message, unchanged.
	Message string

	// Err is the underlying cause, if any.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s: %s", e.Code, e.Op, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Info returns the display form of the error.
func (e *Error) Info() *ErrorInfo {
	return &ErrorInfo{Code: e.Code, Op: e.Op, Message: e.Message}
}

// ErrorInfo is the error as exposed in View.LastError.
type ErrorInfo struct {
	Code    ErrorCode `json:"code"`
	Op      string    `json:"op"`
	Message string    `json:"message"`
}

func hasCode(err error, code ErrorCode) bool {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Code == code
	}
	return false
}

// IsAuthError returns true if err is an AUTH error.
func IsAuthError(err error) bool { return hasCode(err, ErrCodeAuth) }

// IsStoreError returns true if err is a STORE error.
func IsStoreError(err error) bool { return hasCode(err, ErrCodeStore) }

// IsValidationError returns true if err is a VALIDATION error.
func IsValidationError(err error) bool { return hasCode(err, ErrCodeValidation) }

// IsStreamError returns true if err is a STREAM error.
func IsStreamError(err error) bool { return hasCode(err, ErrCodeStream) }

// NewAuthError creates the "please sign in" error.
func NewAuthError(cause error) *Error {
	return &Error{Code: ErrCodeAuth, Op: "sign in", Message: "please sign in", Err: cause}
}

// NewValidationError creates a VALIDATION error.
func NewValidationError(op, msg string) *Error {
	return &Error{Code: ErrCodeValidation, Op: op, Message: msg}
}

// NewStoreError wraps a remote failure. The message is the remote message
// when the failure came from the HTTP API, else the error text.
func NewStoreError(op string, cause error) *Error {
	return &Error{Code: ErrCodeStore, Op: op, Message: remoteMessage(cause), Err: cause}
}

// NewStreamError wraps a dropped change feed.
func NewStreamError(op string, cause error) *Error {
	return &Error{Code: ErrCodeStream, Op: op, Message: remoteMessage(cause), Err: cause}
}

func remoteMessage(err error) string {
	var re *remote.Error
	if errors.As(err, &re) {
		return re.Error()
	}
	if err == nil {
		return "unknown error"
	}
	return err.Error()
}

// asCoreError returns err as *Error, wrapping foreign errors as STORE
// errors of op.
func asCoreError(op string, err error) *Error {
	var ce *Error
	if errors.As(err, &ce) {
		return ce
	}
	return NewStoreError(op, err)
}
