package task

import (
	"errors"
	"fmt"
)

// CodeTaskError is the stable error code for task-level failures.
const CodeTaskError = "A2A_TASK_ERROR"

// ErrNotFound marks failures caused by an unknown task id. Callers
// translating errors to HTTP status use it to pick 404 over 500.
var ErrNotFound = errors.New("task not found")

// TaskError is a coded task failure.
type TaskError struct {
	Code    string
	Message string
	Err     error
}

func (e *TaskError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *TaskError) Unwrap() error { return e.Err }

func notFoundError(id string) *TaskError {
	return &TaskError{
		Code:    CodeTaskError,
		Message: fmt.Sprintf("unknown task: %s", id),
		Err:     ErrNotFound,
	}
}
