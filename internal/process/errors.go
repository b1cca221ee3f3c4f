package process

import (
	"errors"
	"fmt"
)

var (
	ErrEmptyCommand = errors.New("empty command")
	ErrNotRunning   = errors.New("process is not running")
)

// ExitError reports a command that ran but exited non-zero.
type ExitError struct {
	Command  string
	ExitCode int
	Stderr   string
	Cause    error
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("%s exited with code %d", e.Command, e.ExitCode)
}

func (e *ExitError) Unwrap() error {
	return e.Cause
}

// ExitCodeOf returns the exit code carried by err, or -1.
func ExitCodeOf(err error) int {
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode
	}
	return -1
}
