package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/mcdev12/bazaar/go/internal/auction/auctionerr"
)

// Exit codes for CLI commands.
const (
	ExitSuccess      = 0 // Successful execution
	ExitFailure      = 1 // The auction said no: rejected, outbid, not live, superseded
	ExitCommandError = 2 // Bad arguments, config or an unreachable backend
)

// ExitError carries the exit code a command failed with.
type ExitError struct {
	Code    int
	Message string
	Err     error
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
	if err == nil {
		return ExitSuccess
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitFailure
}

// classify maps auction errors onto exit codes.
func classify(message string, err error) *ExitError {
	var rejected *auctionerr.BidRejectedError
	var below *auctionerr.BelowMinimumError
	switch {
	case errors.As(err, &rejected), errors.As(err, &below),
		errors.Is(err, auctionerr.ErrAuctionNotLive), errors.Is(err, auctionerr.ErrBidSuperseded):
		return WrapExitError(ExitFailure, message, err)
	default:
		return WrapExitError(ExitCommandError, message, err)
	}
}

// errorCode is the stable code reported in JSON error envelopes.
func errorCode(err error) string {
	var rejected *auctionerr.BidRejectedError
	var below *auctionerr.BelowMinimumError
	switch {
	case errors.Is(err, auctionerr.ErrNotFound):
		return "not_found"
	case errors.Is(err, auctionerr.ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, auctionerr.ErrForbidden):
		return "forbidden"
	case errors.Is(err, auctionerr.ErrAuctionNotLive):
		return "not_live"
	case errors.Is(err, auctionerr.ErrBidSuperseded):
		return "superseded"
	case errors.As(err, &below):
		return "below_minimum"
	case errors.As(err, &rejected):
		return "rejected"
	case auctionerr.IsRetriable(err):
		return "unavailable"
	default:
		return "error"
	}
}

// OutputFormatter handles JSON vs text output for CLI commands.
type OutputFormatter struct {
	Format    string
	Writer    io.Writer
	ErrWriter io.Writer
	Verbose   bool
}

// CLIResponse is the JSON envelope every command writes in json format.
type CLIResponse struct {
	Status string    `json:"status"`
	Data   any       `json:"data,omitempty"`
	Error  *CLIError `json:"error,omitempty"`
}

// CLIError is the error structure for CLI responses.
type CLIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// textual is implemented by payloads with a human rendering.
type textual interface {
	Text() string
}

// Success outputs a successful result in the configured format.
func (f *OutputFormatter) Success(data any) error {
	if f.Format == "json" {
		return json.NewEncoder(f.Writer).Encode(CLIResponse{Status: "ok", Data: data})
	}
	if t, ok := data.(textual); ok {
		_, err := fmt.Fprintln(f.Writer, t.Text())
		return err
	}
	_, err := fmt.Fprintln(f.Writer, data)
	return err
}

// Error outputs an error in the configured format.
func (f *OutputFormatter) Error(err error) error {
	if f.Format == "json" {
		return json.NewEncoder(f.Writer).Encode(CLIResponse{
			Status: "error",
			Error:  &CLIError{Code: errorCode(err), Message: err.Error()},
		})
	}
	_, werr := fmt.Fprintf(f.errWriter(), "Error [%s]: %s\n", errorCode(err), err)
	return werr
}

// VerboseLog outputs a message only if verbose mode is enabled.
func (f *OutputFormatter) VerboseLog(format string, args ...any) {
	if !f.Verbose {
		return
	}
	fmt.Fprintf(f.errWriter(), format+"\n", args...)
}

func (f *OutputFormatter) errWriter() io.Writer {
	if f.ErrWriter != nil {
		return f.ErrWriter
	}
	return f.Writer
}
