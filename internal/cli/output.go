package cli

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/benjamind/flecs/internal/compiler"
	"github.com/benjamind/flecs/internal/ecs"
	"github.com/benjamind/flecs/internal/harness"
)

// Exit codes for CLI commands. Success exits 0.
const (
	ExitFailure      = 1 // Scenario or validation failure, diverging replay
	ExitCommandError = 2 // Bad paths, unreadable scenarios, unknown runs
)

// ExitError carries the process exit code out of a command.
type ExitError struct {
	Code    int
	Message string
	Err     error

	// Reported is set once the error has been written to the command
	// output, so main doesn't print it a second time.
	Reported bool
}

func (e *ExitError) Error() string {
	if e.Message == "" && e.Err != nil {
		return e.Err.Error()
	}
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

// GetExitCode extracts the exit code from an error.
// Returns ExitFailure (1) if the error is not an ExitError.
func GetExitCode(err error) int {
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitFailure
}

// reportedExit is the error of a command that already printed its outcome.
func reportedExit(code int, message string) error {
	return &ExitError{Code: code, Message: message, Reported: true}
}

// IsReported reports whether err was already written by a command.
func IsReported(err error) bool {
	var exitErr *ExitError
	return errors.As(err, &exitErr) && exitErr.Reported
}

// ErrorCode picks the response code for err. Schema load and validation
// errors keep their E-codes and world errors keep their category, so a
// scenario that trips over a missing entity answers NOT_FOUND.
func ErrorCode(err error) string {
	var (
		loadErr     *LoadError
		compileErr  *compiler.CompileError
		validateErr compiler.ValidationError
		worldErr    *ecs.Error
		missing     *harness.ScenarioNotFoundError
	)
	switch {
	case err == nil:
		return ErrCodeGeneric
	case errors.As(err, &loadErr):
		return loadErr.Code
	case errors.As(err, &compileErr):
		return MapFieldToErrorCode(compileErr.Field)
	case errors.As(err, &validateErr):
		return validateErr.Code
	case errors.As(err, &worldErr):
		return string(worldErr.Code)
	case errors.As(err, &missing), errors.Is(err, os.ErrNotExist):
		return ErrCodeNotFound
	case errors.Is(err, sql.ErrNoRows):
		return ErrCodeRunNotFound
	case errors.Is(err, errScenarioMismatch):
		return ErrCodeScenarioMismatch
	}
	return ErrCodeGeneric
}

var errScenarioMismatch = errors.New("scenario mismatch")

// errorDetails returns the structured part of err worth showing, if any.
func errorDetails(err error) any {
	var validateErr compiler.ValidationError
	if errors.As(err, &validateErr) {
		return validateErr
	}
	var loadErr *LoadError
	if errors.As(err, &loadErr) && loadErr.Pos.IsValid() {
		return loadErr.Pos.String()
	}
	var worldErr *ecs.Error
	if errors.As(err, &worldErr) {
		return worldErr.Message
	}
	return nil
}

// OutputFormatter handles JSON vs text output for CLI commands.
type OutputFormatter struct {
	Format    string
	Writer    io.Writer
	ErrWriter io.Writer // verbose logs; falls back to Writer
	Verbose   bool
}

// CLIResponse is the envelope of every JSON answer.
type CLIResponse struct {
	Status string    `json:"status"` // "ok" or "error"
	Data   any       `json:"data,omitempty"`
	Error  *CLIError `json:"error,omitempty"`
}

// CLIError is the error part of a JSON answer.
type CLIError struct {
	Code    string `json:"code"` // "E005", "E103", "NOT_FOUND", ...
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// Success outputs a successful result in the configured format.
func (f *OutputFormatter) Success(data any) error {
	if f.Format == "json" {
		return json.NewEncoder(f.Writer).Encode(CLIResponse{
			Status: "ok",
			Data:   data,
		})
	}
	fmt.Fprintln(f.Writer, data)
	return nil
}

// Error outputs an error in the configured format.
func (f *OutputFormatter) Error(code, message string, details any) error {
	if f.Format == "json" {
		return json.NewEncoder(f.Writer).Encode(CLIResponse{
			Status: "error",
			Error: &CLIError{
				Code:    code,
				Message: message,
				Details: details,
			},
		})
	}

	fmt.Fprintf(f.Writer, "Error [%s]: %s\n", code, message)
	if f.Verbose && details != nil {
		fmt.Fprintf(f.Writer, "Details: %v\n", details)
	}
	return nil
}

// Fail writes err with its response code and returns the ExitError the
// command should return. An empty message uses err's own text.
func (f *OutputFormatter) Fail(exitCode int, message string, err error) error {
	exitErr := &ExitError{Code: exitCode, Message: message, Err: err, Reported: true}
	_ = f.Error(ErrorCode(err), exitErr.Error(), errorDetails(err))
	return exitErr
}

// VerboseLog outputs a message only if verbose mode is enabled.
// JSON output stays clean as long as ErrWriter is set.
func (f *OutputFormatter) VerboseLog(format string, args ...any) {
	if !f.Verbose {
		return
	}
	w := f.ErrWriter
	if w == nil {
		w = f.Writer
	}
	fmt.Fprintf(w, format+"\n", args...)
}

// newFormatter builds the formatter for a command from the root flags.
func newFormatter(opts *RootOptions, cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}
}
