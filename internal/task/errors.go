package task

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownTask is returned for a task or target name that is not defined.
	ErrUnknownTask = errors.New("unknown task")

	// ErrDuplicateTask is returned when registering a name twice.
	ErrDuplicateTask = errors.New("task already defined")
)

// Error reports a task failure and the file it failed on, if any.
type Error struct {
	Task string
	Path string
	Err  error
}

func (e *Error) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("%s: %s: %v", e.Task, e.Path, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Task, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }
