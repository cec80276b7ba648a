// Package task implements the asynchronous A2A task lifecycle: an
// in-memory store of task records with compare-and-set state
// transitions, and an executor that runs agent turns in the background
// or streams them as they happen.
//
// Tasks are deliberately not durable. A restart forgets them.
package task

import (
	"time"

	"github.com/atriumhq/atrium/pkg/agent"
)

// State is the lifecycle state of a task.
type State string

const (
	StatePending       State = "pending"
	StateInProgress    State = "in_progress"
	StateCompleted     State = "completed"
	StateFailed        State = "failed"
	StateCancelled     State = "cancelled"
	StateInputRequired State = "input_required"
)

// Terminal reports whether no further transitions are possible.
func (s State) Terminal() bool {
	switch s {
	case StateCompleted, StateFailed, StateCancelled:
		return true
	}
	return false
}

// legalTransitions maps each state to the states it may move to.
// Cancellation is only reachable from pending and in_progress.
var legalTransitions = map[State][]State{
	StatePending:       {StateInProgress, StateCancelled},
	StateInProgress:    {StateCompleted, StateFailed, StateCancelled, StateInputRequired},
	StateInputRequired: {StateInProgress},
}

func legalTransition(from, to State) bool {
	for _, s := range legalTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Task is one client-observable agent execution.
//
// CreatedAt never changes after creation. UpdatedAt advances on every
// state transition and never decreases. Metadata is carried into the
// agent turn but is not part of the task's wire shape.
type Task struct {
	ID        string  `json:"taskId"`
	ContextID string  `json:"contextId,omitempty"`
	AgentPath string  `json:"agentPath"`
	Message   string  `json:"message"`
	Status    State   `json:"status"`
	Result    *Result `json:"result,omitempty"`
	Error     string  `json:"error,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`

	metadata map[string]any
}

// Result is the payload of a completed task.
type Result struct {
	Text  string       `json:"text"`
	Usage *agent.Usage `json:"usage,omitempty"`
}

// clone returns a copy safe to hand out while the store keeps mutating
// the original. Result is copied; metadata is shared but never written
// after creation.
func (t *Task) clone() *Task {
	c := *t
	if t.Result != nil {
		r := *t.Result
		c.Result = &r
	}
	return &c
}
