package generate

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation is returned for bad user input; the backend is never
	// invoked.
	ErrValidation = errors.New("invalid generation request")
	// ErrBusy is returned when a request arrives while another is in
	// flight. Requests are never queued.
	ErrBusy = errors.New("a generation request is already in flight")
)

// BackendError means the synthesis backend failed and left no usable
// artifact. The backend's diagnostic output rides along for reporting.
type BackendError struct {
	Stdout string
	Stderr string
	Err    error
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("synthesis backend failed: %v", e.Err)
}

func (e *BackendError) Unwrap() error { return e.Err }

// ArtifactInvalidError means the backend claimed success but its output is
// missing, empty, or not a valid audio container. Fatal to the request.
type ArtifactInvalidError struct {
	Path   string
	Reason string
}

func (e *ArtifactInvalidError) Error() string {
	return fmt.Sprintf("artifact %s invalid: %s", e.Path, e.Reason)
}
