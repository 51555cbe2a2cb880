package voice

import (
	"errors"
	"fmt"
)

var (
	// ErrDuplicateName is returned when creating a context whose name is
	// already taken.
	ErrDuplicateName = errors.New("context name already exists")
	// ErrNotFound is returned when a named context or session id does not
	// exist.
	ErrNotFound = errors.New("not found")
	// ErrInvalidName is returned when a required name is empty.
	ErrInvalidName = errors.New("name must not be empty")
)

// PersistWarning signals that an in-memory mutation succeeded but could not
// be written through to the durable store. The mutation stands; the caller
// should report the warning and continue.
type PersistWarning struct {
	Err error
}

func (w *PersistWarning) Error() string {
	return fmt.Sprintf("state not persisted: %v", w.Err)
}

func (w *PersistWarning) Unwrap() error { return w.Err }

// IsPersistWarning reports whether err is a non-fatal persistence warning.
func IsPersistWarning(err error) bool {
	var w *PersistWarning
	return errors.As(err, &w)
}
