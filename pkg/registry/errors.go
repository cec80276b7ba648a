package registry

import "fmt"

// Error codes surfaced through the HTTP error envelope.
const (
	CodeAgentNotFound    = "AGENT_NOT_FOUND"
	CodeAgentConfigError = "AGENT_CONFIG_ERROR"
)

// Error is a registry failure with a stable machine-readable code.
type Error struct {
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

func notFound(path string) *Error {
	return &Error{Code: CodeAgentNotFound, Message: fmt.Sprintf("agent not found: %s", path)}
}

func configError(message string, err error) *Error {
	return &Error{Code: CodeAgentConfigError, Message: message, Err: err}
}
