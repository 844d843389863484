package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/weeargh/kiwi/internal/api"
)

// Exit codes for CLI commands.
const (
	ExitSuccess      = 0
	ExitFailure      = 1 // the operation was rejected
	ExitCommandError = 2 // bad flags, unreachable database
)

// ExitError is an error with a specific exit code.
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
func GetExitCode(err error) int {
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitFailure
}

// Response is the JSON envelope of every command.
type Response struct {
	Status string    `json:"status"`
	Data   any       `json:"data,omitempty"`
	Error  *apiError `json:"error,omitempty"`
}

type apiError struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// formatter writes command results as JSON or as aligned text.
type formatter struct {
	format string
	w      io.Writer
}

// success writes data. text renders the text form through a tabwriter.
func (f *formatter) success(data any, text func(w io.Writer)) error {
	if f.format == "json" {
		return json.NewEncoder(f.w).Encode(Response{Status: "ok", Data: data})
	}
	tw := tabwriter.NewWriter(f.w, 0, 4, 2, ' ', 0)
	text(tw)
	return tw.Flush()
}

// failure reports err and returns it wrapped with an exit code.
func (f *formatter) failure(err error) error {
	kind := "INTERNAL"
	if apiErr := api.MapError(err); apiErr != nil {
		kind = apiErr.Kind
	}
	if f.format == "json" {
		_ = json.NewEncoder(f.w).Encode(Response{Status: "error", Error: &apiError{Kind: kind, Message: err.Error()}})
	} else {
		fmt.Fprintf(f.w, "Error [%s]: %s\n", kind, err.Error())
	}
	return WrapExitError(ExitFailure, kind, err)
}
