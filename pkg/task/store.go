package task

import (
	"sync"
	"time"
)

// Store holds task records in memory. All mutation goes through
// Transition, which enforces the state machine with compare-and-set
// discipline: a transition from a state the task has already left is
// rejected rather than applied.
type Store struct {
	mu      sync.Mutex
	tasks   map[string]*Task
	waiters map[string][]chan struct{}
}

func NewStore() *Store {
	return &Store{
		tasks:   make(map[string]*Task),
		waiters: make(map[string][]chan struct{}),
	}
}

// Put registers a new task record.
func (s *Store) Put(t *Task) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks[t.ID] = t
}

// Get returns a copy of the task, so callers never observe a record
// mid-mutation.
func (s *Store) Get(id string) (*Task, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return nil, false
	}
	return t.clone(), true
}

// List returns copies of all tasks, filtered by agent path when
// agentPath is non-empty. Order is unspecified.
func (s *Store) List(agentPath string) []*Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Task, 0, len(s.tasks))
	for _, t := range s.tasks {
		if agentPath != "" && t.AgentPath != agentPath {
			continue
		}
		out = append(out, t.clone())
	}
	return out
}

// Len returns the number of stored tasks.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tasks)
}

// Transition moves a task from one state to another. It returns false
// when the task is unknown, is no longer in the expected from state, or
// the transition is not legal. mutate, when non-nil, runs under the
// store lock after the state change so result and error land atomically
// with the status they belong to.
func (s *Store) Transition(id string, from, to State, mutate func(*Task)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok || t.Status != from || !legalTransition(from, to) {
		return false
	}
	t.Status = to
	if mutate != nil {
		mutate(t)
	}
	if now := time.Now().UTC(); now.After(t.UpdatedAt) {
		t.UpdatedAt = now
	}
	s.notifyLocked(id)
	return true
}

// Sweep deletes completed and failed tasks whose last update is older
// than maxAge and returns how many were removed. Cancelled tasks are
// retained. A zero maxAge removes every finished task.
func (s *Store) Sweep(maxAge time.Duration) int {
	cutoff := time.Now().UTC().Add(-maxAge)
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, t := range s.tasks {
		if t.Status != StateCompleted && t.Status != StateFailed {
			continue
		}
		if !t.UpdatedAt.Before(cutoff) {
			continue
		}
		delete(s.tasks, id)
		s.notifyLocked(id)
		n++
	}
	return n
}

// watch returns a channel that is closed on the task's next transition
// or deletion. For unknown or already terminal tasks the channel is
// returned closed, since nothing further will happen.
func (s *Store) watch(id string) <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch := make(chan struct{})
	t, ok := s.tasks[id]
	if !ok || t.Status.Terminal() {
		close(ch)
		return ch
	}
	s.waiters[id] = append(s.waiters[id], ch)
	return ch
}

func (s *Store) notifyLocked(id string) {
	for _, ch := range s.waiters[id] {
		close(ch)
	}
	delete(s.waiters, id)
}
