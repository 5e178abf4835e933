package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/mmynk/pointsledger/internal/service"
)

// Exit codes for CLI commands.
const (
	ExitSuccess      = 0 // Successful execution
	ExitRejected     = 1 // Operation rejected (not found, already settled, insufficient funds, ...)
	ExitCommandError = 2 // Command or system error (bad config, database unreachable, ...)
)

// ExitError represents an error with a specific exit code.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string { return e.Err.Error() }

func (e *ExitError) Unwrap() error { return e.Err }

// GetExitCode extracts the exit code from an error.
// Returns ExitCommandError if the error is not an ExitError.
func GetExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitCommandError
}

// OutputFormatter handles JSON vs text output for CLI commands.
type OutputFormatter struct {
	Format string
	Writer io.Writer
}

// CLIResponse is the JSON response format for CLI output.
type CLIResponse struct {
	service.Outcome
	Data any `json:"data,omitempty"`
}

// Success outputs data, or text in text mode.
func (f *OutputFormatter) Success(data any, text string) error {
	if f.Format == "json" {
		return json.NewEncoder(f.Writer).Encode(CLIResponse{Outcome: service.OutcomeOf(nil), Data: data})
	}
	_, err := fmt.Fprintln(f.Writer, text)
	return err
}

// Fail outputs the outcome of err and returns it as an ExitError.
func (f *OutputFormatter) Fail(err error) error {
	outcome := service.OutcomeOf(err)
	if f.Format == "json" {
		_ = json.NewEncoder(f.Writer).Encode(CLIResponse{Outcome: outcome})
	} else {
		fmt.Fprintf(f.Writer, "Error [%s]: %s\n", outcome.Kind, outcome.Message)
	}

	code := ExitCommandError
	if outcome.Kind.Expected() {
		code = ExitRejected
	}
	return &ExitError{Code: code, Err: err}
}
