package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/roach88/roomtodo/internal/core"
)

// Exit codes for CLI commands.
const (
	ExitSuccess      = 0 // Successful execution
	ExitFailure      = 1 // The operation failed (remote rejected a write, feed dropped, etc.)
	ExitCommandError = 2 // Command error (bad arguments, config, not signed in, etc.)
)

// ExitError represents an error with a specific exit code.
// Use this to return errors with meaningful exit codes from CLI commands.
type ExitError struct {
	Code    int    // Exit code (use ExitFailure or ExitCommandError)
	Message string // Error message
	Err     error  // Underlying error (optional)

	// Reported is set once the error has been written through an
	// OutputFormatter, so main does not print it again.
	Reported bool
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// NewExitError creates a new ExitError with the given code and message.
func NewExitError(code int, message string) *ExitError {
	return &ExitError{Code: code, Message: message}
}

// WrapExitError wraps an existing error with an exit code.
func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// GetExitCode extracts the exit code from an error.
// Returns ExitFailure (1) if the error is not an ExitError.
func GetExitCode(err error) int {
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitFailure
}

// IsReported reports whether err was already written by a formatter.
func IsReported(err error) bool {
	var exitErr *ExitError
	return errors.As(err, &exitErr) && exitErr.Reported
}

// Error codes of CLIError that are not core error codes.
const (
	ErrCodeCommand = "COMMAND"
	ErrCodeFailure = "FAILURE"
)

// OutputFormatter handles JSON vs text output for CLI commands.
type OutputFormatter struct {
	Format    string
	Writer    io.Writer
	ErrWriter io.Writer // Separate writer for verbose/diagnostic output (defaults to Writer)
	Verbose   bool
}

// CLIResponse is the standard JSON response format for CLI output.
type CLIResponse struct {
	Status string    `json:"status"`          // "ok" or "error"
	Data   any       `json:"data,omitempty"`  // success payload
	Error  *CLIError `json:"error,omitempty"` // error details
}

// CLIError is the error structure for CLI responses.
type CLIError struct {
	Code    string `json:"code"`              // "AUTH", "STORE", "COMMAND", ...
	Op      string `json:"op,omitempty"`      // failed core operation, if any
	Message string `json:"message"`           // human-readable message
	Details any    `json:"details,omitempty"` // additional context
}

// Success outputs a successful result in the configured format.
func (f *OutputFormatter) Success(data any) error {
	return f.Render(data, func(w io.Writer) {
		fmt.Fprintln(w, data)
	})
}

// Render outputs data as a JSON response, or calls text to write the
// human-readable form.
func (f *OutputFormatter) Render(data any, text func(w io.Writer)) error {
	if f.Format == "json" {
		return json.NewEncoder(f.Writer).Encode(CLIResponse{
			Status: "ok",
			Data:   data,
		})
	}
	text(f.Writer)
	return nil
}

// Error outputs an error in the configured format. JSON errors go to
// Writer; text errors go to the diagnostic writer.
func (f *OutputFormatter) Error(e CLIError) error {
	if f.Format == "json" {
		return json.NewEncoder(f.Writer).Encode(CLIResponse{
			Status: "error",
			Error:  &e,
		})
	}

	w := f.GetErrWriter()
	if e.Op != "" {
		fmt.Fprintf(w, "Error [%s] %s: %s\n", e.Code, e.Op, e.Message)
	} else {
		fmt.Fprintf(w, "Error [%s]: %s\n", e.Code, e.Message)
	}
	if f.Verbose && e.Details != nil {
		fmt.Fprintf(w, "Details: %v\n", e.Details)
	}
	return nil
}

// Fail reports err and returns it as a reported ExitError. Core AUTH and
// VALIDATION errors exit with ExitCommandError, other core errors with
// ExitFailure.
func (f *OutputFormatter) Fail(err error) error {
	e, code := classify(err)
	_ = f.Error(e)

	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		exitErr.Reported = true
		return exitErr
	}
	return &ExitError{Code: code, Message: e.Message, Err: err, Reported: true}
}

func classify(err error) (CLIError, int) {
	var ce *core.Error
	if errors.As(err, &ce) {
		code := ExitFailure
		if ce.Code == core.ErrCodeAuth || ce.Code == core.ErrCodeValidation {
			code = ExitCommandError
		}
		return CLIError{Code: string(ce.Code), Op: ce.Op, Message: ce.Message}, code
	}

	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		code := ErrCodeFailure
		if exitErr.Code == ExitCommandError {
			code = ErrCodeCommand
		}
		return CLIError{Code: code, Message: exitErr.Error()}, exitErr.Code
	}
	return CLIError{Code: ErrCodeFailure, Message: err.Error()}, ExitFailure
}

// VerboseLog outputs a message only if verbose mode is enabled.
// Uses ErrWriter if set, otherwise falls back to Writer.
func (f *OutputFormatter) VerboseLog(format string, args ...any) {
	if !f.Verbose {
		return
	}
	fmt.Fprintf(f.GetErrWriter(), format+"\n", args...)
}

// GetErrWriter returns the appropriate writer for diagnostic output.
// Returns ErrWriter if set, otherwise Writer.
func (f *OutputFormatter) GetErrWriter() io.Writer {
	if f.ErrWriter != nil {
		return f.ErrWriter
	}
	return f.Writer
}
