// internal/service/errors.go
package service

import (
	"errors"
	"fmt"
	"strings"
)

// ErrBusy is returned when an operation needs the browser while another
// run is still driving it. Admission is refused, never queued.
var ErrBusy = errors.New("browser is busy with another run")

// ErrNotRecording is returned when a recording operation arrives while
// no capture is in progress.
var ErrNotRecording = errors.New("no recording in progress")

// ParameterMissingError reports declared required workflow parameters
// that were not supplied at admission.
type ParameterMissingError struct {
	Workflow string
	Missing  []string
}

func (e *ParameterMissingError) Error() string {
	return fmt.Sprintf("workflow '%s' requires parameters: %s",
		e.Workflow, strings.Join(e.Missing, ", "))
}

// NotFoundError reports an unknown task or batch id.
type NotFoundError struct {
	Kind string // "task" or "batch"
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Kind, e.ID)
}
