package opcov

import (
	"errors"
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/ethereum-optimism/infra/op-coverage/exitcodes"
)

// RuntimeError is an operational failure that prevented a trustworthy result,
// such as an unwritable report directory.
type RuntimeError struct {
	Err error
}

func (e *RuntimeError) Error() string {
	return fmt.Sprintf("runtime error: %v", e.Err)
}

func (e *RuntimeError) Unwrap() error {
	return e.Err
}

func NewRuntimeError(err error) *RuntimeError {
	return &RuntimeError{Err: err}
}

// IsRuntimeError checks if the error is or wraps a RuntimeError
func IsRuntimeError(err error) bool {
	var runtimeErr *RuntimeError
	return err != nil && errors.As(err, &runtimeErr)
}

// TestFailureError reports a completed run that failed a phase or the coverage gate.
type TestFailureError struct {
	Message string
}

func (e *TestFailureError) Error() string {
	return fmt.Sprintf("test failure: %s", e.Message)
}

func NewTestFailureError(message string) *TestFailureError {
	return &TestFailureError{Message: message}
}

// IsTestFailureError checks if the error is or wraps a TestFailureError
func IsTestFailureError(err error) bool {
	var testErr *TestFailureError
	return err != nil && errors.As(err, &testErr)
}

// ExitCode maps an error returned by the orchestrator to the process exit code.
// Errors that are neither a test failure nor an explicit cli exit code are
// treated as runtime errors.
func ExitCode(err error) int {
	if err == nil {
		return exitcodes.Success
	}
	if IsTestFailureError(err) {
		return exitcodes.TestFailure
	}
	if IsRuntimeError(err) {
		return exitcodes.RuntimeErr
	}
	var exitErr cli.ExitCoder
	if errors.As(err, &exitErr) && exitErr.ExitCode() != 0 {
		return exitErr.ExitCode()
	}
	return exitcodes.RuntimeErr
}
