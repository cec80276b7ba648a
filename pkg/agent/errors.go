package agent

import "fmt"

// ExecutionError wraps any failure while running a turn. The HTTP layer
// maps it to AGENT_EXECUTION_ERROR.
type ExecutionError struct {
	AgentID string
	Err     error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("agent %s: %v", e.AgentID, e.Err)
}

func (e *ExecutionError) Unwrap() error { return e.Err }
