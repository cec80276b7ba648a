package task

import (
	"context"
	"iter"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/atriumhq/atrium/pkg/agent"
)

// Stream event types, in the order a consumer can expect them: a status
// event first, text while the turn runs, then either an artifact
// followed by complete, or a single error.
const (
	EventStatus   = "status"
	EventText     = "text"
	EventArtifact = "artifact"
	EventError    = "error"
	EventComplete = "complete"
)

// Event is one frame of a task stream.
type Event struct {
	Type   string `json:"type"`
	TaskID string `json:"taskId"`
	Data   any    `json:"data,omitempty"`
}

type statusPayload struct {
	Status State `json:"status"`
}

type textPayload struct {
	Text string `json:"text"`
}

type errorPayload struct {
	Error string `json:"error"`
}

func statusEvent(id string, s State) Event {
	return Event{Type: EventStatus, TaskID: id, Data: statusPayload{Status: s}}
}

func textEvent(id, text string) Event {
	return Event{Type: EventText, TaskID: id, Data: textPayload{Text: text}}
}

func errorEvent(id, msg string) Event {
	return Event{Type: EventError, TaskID: id, Data: errorPayload{Error: msg}}
}

// AgentSource resolves agent paths to runnable agents. The agent
// registry satisfies it.
type AgentSource interface {
	Get(path string) (*agent.Agent, error)
}

// Options tunes the executor. Zero values fall back to defaults.
type Options struct {
	// MaxAge is how long finished tasks are retained before the
	// periodic sweep removes them. Default one hour.
	MaxAge time.Duration

	// GCInterval is how often the sweep runs. Default ten minutes.
	GCInterval time.Duration
}

// Executor owns all task records and their background executions.
type Executor struct {
	agents     AgentSource
	store      *Store
	maxAge     time.Duration
	gcInterval time.Duration

	mu      sync.Mutex
	cancels map[string]context.CancelFunc

	wg       sync.WaitGroup
	done     chan struct{}
	stopOnce sync.Once
}

func NewExecutor(agents AgentSource, opts Options) *Executor {
	if opts.MaxAge <= 0 {
		opts.MaxAge = time.Hour
	}
	if opts.GCInterval <= 0 {
		opts.GCInterval = 10 * time.Minute
	}
	return &Executor{
		agents:     agents,
		store:      NewStore(),
		maxAge:     opts.MaxAge,
		gcInterval: opts.GCInterval,
		cancels:    make(map[string]context.CancelFunc),
		done:       make(chan struct{}),
	}
}

// CreateTask validates the agent path, records a pending task and
// schedules its execution in the background. The returned task is the
// record as of creation; callers poll GetTask for progress.
func (e *Executor) CreateTask(ctx context.Context, agentPath, message, contextID string, metadata map[string]any) (*Task, error) {
	if _, err := e.agents.Get(agentPath); err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	t := &Task{
		ID:        uuid.NewString(),
		ContextID: contextID,
		AgentPath: agentPath,
		Message:   message,
		Status:    StatePending,
		CreatedAt: now,
		UpdatedAt: now,
		metadata:  metadata,
	}
	created := t.clone()
	e.store.Put(t)
	slog.Debug("Task created", "task", t.ID, "agent", agentPath)

	e.wg.Add(1)
	go e.executeDetached(t.ID)
	return created, nil
}

// GetTask returns the task by id.
func (e *Executor) GetTask(id string) (*Task, error) {
	t, ok := e.store.Get(id)
	if !ok {
		return nil, notFoundError(id)
	}
	return t, nil
}

// ListTasks returns all tasks, filtered by agent path when agentPath is
// non-empty. Order is unspecified.
func (e *Executor) ListTasks(agentPath string) []*Task {
	return e.store.List(agentPath)
}

// CancelTask moves a pending or in-progress task to cancelled and stops
// its execution. It returns false for unknown tasks and for tasks
// already past the point of cancellation. The running turn notices at
// its next model or tool boundary.
func (e *Executor) CancelTask(id string) bool {
	ok := e.store.Transition(id, StatePending, StateCancelled, nil)
	if !ok {
		ok = e.store.Transition(id, StateInProgress, StateCancelled, nil)
	}
	if !ok {
		return false
	}
	e.mu.Lock()
	cancel := e.cancels[id]
	e.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	slog.Debug("Task cancelled", "task", id)
	return true
}

// CleanupOldTasks removes completed and failed tasks whose last update
// is older than maxAge and returns the count removed. Cancelled tasks
// are kept.
func (e *Executor) CleanupOldTasks(maxAge time.Duration) int {
	return e.store.Sweep(maxAge)
}

// Start launches the periodic retention sweep. Call Stop to end it.
func (e *Executor) Start() {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		ticker := time.NewTicker(e.gcInterval)
		defer ticker.Stop()
		for {
			select {
			case <-e.done:
				return
			case <-ticker.C:
				if n := e.CleanupOldTasks(e.maxAge); n > 0 {
					slog.Debug("Removed old tasks", "count", n)
				}
			}
		}
	}()
}

// Stop cancels every running task, stops the sweep and waits for
// background executions to settle.
func (e *Executor) Stop() {
	e.stopOnce.Do(func() { close(e.done) })
	e.mu.Lock()
	for _, cancel := range e.cancels {
		cancel()
	}
	e.mu.Unlock()
	e.wg.Wait()
}

// StreamTask returns the task's events as they happen. When the task is
// still pending this call claims it and drives the execution itself,
// emitting live text. When the task is already running or finished the
// stream follows the record instead: it reports the current status and
// the terminal outcome without re-executing anything.
//
// The first event is always a status; the last is complete or error.
func (e *Executor) StreamTask(ctx context.Context, id string) (iter.Seq[Event], error) {
	if _, ok := e.store.Get(id); !ok {
		return nil, notFoundError(id)
	}
	seq := func(yield func(Event) bool) {
		// The cancel func is registered inside the claim transition so a
		// concurrent CancelTask either beats the claim or finds the func.
		runCtx, cancel := context.WithCancel(ctx)
		claimed := e.store.Transition(id, StatePending, StateInProgress, func(*Task) {
			e.track(id, cancel)
		})
		if !claimed {
			cancel()
			e.follow(ctx, id, yield)
			return
		}
		defer func() {
			e.untrack(id)
			cancel()
		}()
		e.streamDrive(runCtx, id, yield)
	}
	return seq, nil
}

func (e *Executor) executeDetached(id string) {
	defer e.wg.Done()
	// Task execution outlives the creating request, so the run context
	// descends from Background, not from the request context.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	claimed := e.store.Transition(id, StatePending, StateInProgress, func(*Task) {
		e.track(id, cancel)
	})
	if !claimed {
		return
	}
	defer e.untrack(id)
	t, ok := e.store.Get(id)
	if !ok {
		return
	}

	out, err := e.runTurn(ctx, t)
	if err != nil {
		e.store.Transition(id, StateInProgress, StateFailed, func(t *Task) {
			t.Error = err.Error()
		})
		return
	}
	e.store.Transition(id, StateInProgress, StateCompleted, func(t *Task) {
		t.Result = &Result{Text: out.Text, Usage: out.Usage}
	})
}

func (e *Executor) runTurn(ctx context.Context, t *Task) (*agent.ChatOutput, error) {
	ag, err := e.agents.Get(t.AgentPath)
	if err != nil {
		return nil, err
	}
	return ag.Chat(ctx, &agent.ChatInput{
		Message:        t.Message,
		ConversationID: t.ContextID,
		Metadata:       t.metadata,
	})
}

// streamDrive executes a task this stream has claimed, feeding events
// to the consumer while recording the outcome on the task record. A
// consumer that stops listening aborts the turn and fails the task.
func (e *Executor) streamDrive(ctx context.Context, id string, yield func(Event) bool) {
	t, ok := e.store.Get(id)
	if !ok {
		return
	}
	if !yield(statusEvent(id, StateInProgress)) {
		e.abandon(id)
		return
	}
	ag, err := e.agents.Get(t.AgentPath)
	if err != nil {
		e.store.Transition(id, StateInProgress, StateFailed, func(t *Task) {
			t.Error = err.Error()
		})
		yield(errorEvent(id, err.Error()))
		return
	}

	var text strings.Builder
	var usage *agent.Usage
	var failMsg string
	closed := false
	input := &agent.ChatInput{
		Message:        t.Message,
		ConversationID: t.ContextID,
		Metadata:       t.metadata,
	}
	for chunk := range ag.ChatStream(ctx, input) {
		switch chunk.Type {
		case agent.ChunkTypeText:
			text.WriteString(chunk.Content)
			if !yield(textEvent(id, chunk.Content)) {
				closed = true
			}
		case agent.ChunkTypeError:
			failMsg = chunk.Content
		case agent.ChunkTypeFinish:
			usage = chunk.Usage
		}
		if closed || failMsg != "" {
			break
		}
	}

	if failMsg != "" {
		e.store.Transition(id, StateInProgress, StateFailed, func(t *Task) {
			t.Error = failMsg
		})
		if !closed {
			yield(errorEvent(id, failMsg))
		}
		return
	}
	if closed {
		e.abandon(id)
		return
	}
	result := &Result{Text: text.String(), Usage: usage}
	recorded := e.store.Transition(id, StateInProgress, StateCompleted, func(t *Task) {
		t.Result = result
	})
	if !recorded {
		// Cancelled between the final chunk and here.
		yield(errorEvent(id, "task cancelled"))
		return
	}
	if !yield(Event{Type: EventArtifact, TaskID: id, Data: result}) {
		return
	}
	if final, ok := e.store.Get(id); ok {
		yield(Event{Type: EventComplete, TaskID: id, Data: final})
	}
}

func (e *Executor) abandon(id string) {
	e.store.Transition(id, StateInProgress, StateFailed, func(t *Task) {
		t.Error = "stream closed before completion"
	})
}

// follow watches a task someone else is driving and replays its
// progress as events. It never writes to the record.
func (e *Executor) follow(ctx context.Context, id string, yield func(Event) bool) {
	t, ok := e.store.Get(id)
	if !ok {
		return
	}
	if !yield(statusEvent(id, t.Status)) {
		return
	}
	seen := t.Status
	for !t.Status.Terminal() {
		changed := e.store.watch(id)
		t, ok = e.store.Get(id)
		if !ok {
			yield(errorEvent(id, "task not found"))
			return
		}
		if t.Status != seen && !t.Status.Terminal() {
			if !yield(statusEvent(id, t.Status)) {
				return
			}
			seen = t.Status
		}
		if t.Status.Terminal() {
			break
		}
		select {
		case <-ctx.Done():
			return
		case <-changed:
		}
	}
	switch t.Status {
	case StateCompleted:
		result := t.Result
		if result == nil {
			result = &Result{}
		}
		if !yield(Event{Type: EventArtifact, TaskID: id, Data: result}) {
			return
		}
		yield(Event{Type: EventComplete, TaskID: id, Data: t})
	case StateFailed:
		yield(errorEvent(id, t.Error))
	case StateCancelled:
		yield(errorEvent(id, "task cancelled"))
	}
}

func (e *Executor) track(id string, cancel context.CancelFunc) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cancels[id] = cancel
}

func (e *Executor) untrack(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.cancels, id)
}
