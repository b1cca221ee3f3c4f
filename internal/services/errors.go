package services

import (
	"errors"
	"fmt"
)

// ValidationError reports a request the pipeline refuses to run.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ErrModel wraps every failure of the model call. Callers surface it
// without detail.
var ErrModel = errors.New("model generation failed")

// InstallError wraps a failed dependency install for a project.
type InstallError struct {
	ProjectID string
	ExitCode  int
	Err       error
}

func (e *InstallError) Error() string {
	return fmt.Sprintf("dependency install failed for %s (exit code %d): %v", e.ProjectID, e.ExitCode, e.Err)
}

func (e *InstallError) Unwrap() error { return e.Err }
