package tuner

import (
	"errors"
	"fmt"
)

// Sentinel errors for the failure classes callers branch on. Raised
// errors are usually an *Error wrapping one of these, so errors.Is works
// while the message still names the tuner set and module path involved.
var (
	ErrConfig            = errors.New("invalid tuner configuration")
	ErrDuplicateName     = errors.New("duplicate tuner name")
	ErrConflict          = errors.New("conflicting attachment")
	ErrStructureMismatch = errors.New("model structure mismatch")
	ErrUnsupportedMerge  = errors.New("tuner does not support merging")
	ErrFormat            = errors.New("unreadable checkpoint")
)

// Error carries the tuner set and module path an operation failed on.
type Error struct {
	Tuner string
	Path  string
	Err   error
}

func (e *Error) Error() string {
	switch {
	case e.Tuner != "" && e.Path != "":
		return fmt.Sprintf("tuner %q at %q: %v", e.Tuner, e.Path, e.Err)
	case e.Tuner != "":
		return fmt.Sprintf("tuner %q: %v", e.Tuner, e.Err)
	case e.Path != "":
		return fmt.Sprintf("module %q: %v", e.Path, e.Err)
	default:
		return e.Err.Error()
	}
}

func (e *Error) Unwrap() error { return e.Err }

func errConfig(tuner, path, format string, args ...any) error {
	return &Error{Tuner: tuner, Path: path, Err: fmt.Errorf("%w: %s", ErrConfig, fmt.Sprintf(format, args...))}
}
