package task

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStateTerminal(t *testing.T) {
	assert.True(t, StateCompleted.Terminal())
	assert.True(t, StateFailed.Terminal())
	assert.True(t, StateCancelled.Terminal())
	assert.False(t, StatePending.Terminal())
	assert.False(t, StateInProgress.Terminal())
	assert.False(t, StateInputRequired.Terminal())
}

func TestLegalTransitions(t *testing.T) {
	allowed := []struct{ from, to State }{
		{StatePending, StateInProgress},
		{StatePending, StateCancelled},
		{StateInProgress, StateCompleted},
		{StateInProgress, StateFailed},
		{StateInProgress, StateCancelled},
		{StateInProgress, StateInputRequired},
		{StateInputRequired, StateInProgress},
	}
	for _, tr := range allowed {
		assert.True(t, legalTransition(tr.from, tr.to), "%s -> %s should be legal", tr.from, tr.to)
	}

	forbidden := []struct{ from, to State }{
		{StatePending, StateCompleted},
		{StatePending, StateFailed},
		{StateCompleted, StateCancelled},
		{StateCompleted, StateInProgress},
		{StateFailed, StateInProgress},
		{StateCancelled, StateInProgress},
		{StateInputRequired, StateCancelled},
		{StateInProgress, StatePending},
	}
	for _, tr := range forbidden {
		assert.False(t, legalTransition(tr.from, tr.to), "%s -> %s should be rejected", tr.from, tr.to)
	}
}

func newStoredTask(s *Store, id string, status State) *Task {
	now := time.Now().UTC()
	t := &Task{
		ID:        id,
		AgentPath: "helper",
		Message:   "hello",
		Status:    status,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.Put(t)
	return t
}

func TestStoreTransitionCAS(t *testing.T) {
	s := NewStore()
	newStoredTask(s, "t1", StatePending)

	require.True(t, s.Transition("t1", StatePending, StateInProgress, nil))
	assert.False(t, s.Transition("t1", StatePending, StateInProgress, nil),
		"transition from a state the task has left must be rejected")

	require.True(t, s.Transition("t1", StateInProgress, StateCompleted, func(task *Task) {
		task.Result = &Result{Text: "done"}
	}))
	assert.False(t, s.Transition("t1", StateInProgress, StateCancelled, nil))
	assert.False(t, s.Transition("t1", StateCompleted, StateCancelled, nil))

	got, ok := s.Get("t1")
	require.True(t, ok)
	assert.Equal(t, StateCompleted, got.Status)
	require.NotNil(t, got.Result)
	assert.Equal(t, "done", got.Result.Text)

	assert.False(t, s.Transition("missing", StatePending, StateInProgress, nil))
}

func TestStoreTimestamps(t *testing.T) {
	s := NewStore()
	created := newStoredTask(s, "t1", StatePending).CreatedAt

	require.True(t, s.Transition("t1", StatePending, StateInProgress, nil))
	mid, _ := s.Get("t1")
	require.True(t, s.Transition("t1", StateInProgress, StateCompleted, nil))
	end, _ := s.Get("t1")

	assert.Equal(t, created, mid.CreatedAt)
	assert.Equal(t, created, end.CreatedAt)
	assert.False(t, mid.UpdatedAt.Before(mid.CreatedAt))
	assert.False(t, end.UpdatedAt.Before(mid.UpdatedAt))
}

func TestStoreGetReturnsCopy(t *testing.T) {
	s := NewStore()
	newStoredTask(s, "t1", StatePending)

	got, ok := s.Get("t1")
	require.True(t, ok)
	got.Status = StateFailed
	got.Result = &Result{Text: "tampered"}

	again, ok := s.Get("t1")
	require.True(t, ok)
	assert.Equal(t, StatePending, again.Status)
	assert.Nil(t, again.Result)
}

func TestStoreList(t *testing.T) {
	s := NewStore()
	newStoredTask(s, "t1", StatePending)
	newStoredTask(s, "t2", StateCompleted)
	w := newStoredTask(s, "t3", StatePending)
	w.AgentPath = "writer"

	assert.Len(t, s.List(""), 3)

	writers := s.List("writer")
	require.Len(t, writers, 1)
	assert.Equal(t, "t3", writers[0].ID)

	assert.Empty(t, s.List("ghost"))
}

func TestStoreSweep(t *testing.T) {
	s := NewStore()
	old := time.Now().UTC().Add(-2 * time.Hour)
	for id, status := range map[string]State{
		"done-old":    StateCompleted,
		"failed-old":  StateFailed,
		"cancel-old":  StateCancelled,
		"pending-old": StatePending,
		"running-old": StateInProgress,
	} {
		task := newStoredTask(s, id, status)
		task.UpdatedAt = old
	}
	newStoredTask(s, "done-fresh", StateCompleted)

	assert.Equal(t, 2, s.Sweep(30*time.Minute))

	_, ok := s.Get("done-old")
	assert.False(t, ok)
	_, ok = s.Get("failed-old")
	assert.False(t, ok)
	for _, id := range []string{"cancel-old", "pending-old", "running-old", "done-fresh"} {
		_, ok := s.Get(id)
		assert.True(t, ok, "%s should survive the sweep", id)
	}

	// Zero max age removes every finished task.
	assert.Equal(t, 1, s.Sweep(0))
	_, ok = s.Get("done-fresh")
	assert.False(t, ok)
	assert.Equal(t, 3, s.Len())
}

func TestStoreWatch(t *testing.T) {
	s := NewStore()
	newStoredTask(s, "t1", StatePending)

	ch := s.watch("t1")
	select {
	case <-ch:
		t.Fatal("watch fired before any transition")
	default:
	}

	require.True(t, s.Transition("t1", StatePending, StateInProgress, nil))
	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatal("watch did not fire on transition")
	}

	// Unknown and terminal tasks yield an already closed channel.
	select {
	case <-s.watch("missing"):
	case <-time.After(time.Second):
		t.Fatal("watch on unknown task should be closed")
	}
	newStoredTask(s, "t2", StateCompleted)
	select {
	case <-s.watch("t2"):
	case <-time.After(time.Second):
		t.Fatal("watch on terminal task should be closed")
	}
}
