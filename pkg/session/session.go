// Package session persists conversation history between chat turns.
//
// Two stores implement Service: an in-memory map for single-process
// deployments and a SQL store that shares the process-wide database pool.
// History applies the token budget on read, so callers always receive a
// prompt-sized window regardless of how long the transcript has grown.
package session

import (
	"context"
	"fmt"
	"sync"

	"github.com/a2aproject/a2a-go/a2a"

	"github.com/atriumhq/atrium/pkg/config"
	"github.com/atriumhq/atrium/pkg/model"
	"github.com/atriumhq/atrium/pkg/utils"
)

// Service stores per-conversation message history. Implementations are
// safe for concurrent use.
type Service interface {
	// Append adds messages to the end of the session transcript.
	Append(ctx context.Context, sessionID string, msgs ...*a2a.Message) error

	// History returns the transcript oldest first, trimmed from the front
	// until it fits maxTokens. maxTokens <= 0 disables trimming.
	History(ctx context.Context, sessionID string, maxTokens int) ([]*a2a.Message, error)

	// Delete removes the session and its messages.
	Delete(ctx context.Context, sessionID string) error

	// Close releases store resources.
	Close() error
}

// New builds the store selected by cfg: "memory" (the default) or
// "database". The database backend borrows its handle from the shared pool.
func New(cfg *config.SessionConfig, pool *config.DBPool) (Service, error) {
	if cfg == nil || cfg.Backend == "" || cfg.Backend == "memory" {
		return NewMemory(), nil
	}
	if cfg.Backend != "database" {
		return nil, fmt.Errorf("unsupported session backend: %s (supported: memory, database)", cfg.Backend)
	}
	if cfg.Database == nil {
		return nil, fmt.Errorf("session backend %q requires a database config", cfg.Backend)
	}
	db, err := pool.Get(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to open session database: %w", err)
	}
	return NewSQL(db, cfg.Database.Dialect())
}

// Memory is an in-process Service. History hands out slice copies so
// callers cannot mutate the stored transcript.
type Memory struct {
	mu       sync.RWMutex
	sessions map[string][]*a2a.Message
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{sessions: make(map[string][]*a2a.Message)}
}

func (m *Memory) Append(_ context.Context, sessionID string, msgs ...*a2a.Message) error {
	if sessionID == "" {
		return fmt.Errorf("session id is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[sessionID] = append(m.sessions[sessionID], msgs...)
	return nil
}

func (m *Memory) History(_ context.Context, sessionID string, maxTokens int) ([]*a2a.Message, error) {
	m.mu.RLock()
	stored := m.sessions[sessionID]
	msgs := make([]*a2a.Message, len(stored))
	copy(msgs, stored)
	m.mu.RUnlock()
	return trimToBudget(msgs, maxTokens), nil
}

func (m *Memory) Delete(_ context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, sessionID)
	return nil
}

func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions = make(map[string][]*a2a.Message)
	return nil
}

// trimToBudget drops the oldest messages until the transcript fits the
// token budget, walking back from the most recent message. A budget
// smaller than the newest message yields an empty transcript.
func trimToBudget(msgs []*a2a.Message, maxTokens int) []*a2a.Message {
	if maxTokens <= 0 || len(msgs) == 0 {
		return msgs
	}
	total := 0
	start := len(msgs)
	for i := len(msgs) - 1; i >= 0; i-- {
		total += messageTokens(msgs[i])
		if total > maxTokens {
			break
		}
		start = i
	}
	return msgs[start:]
}

// messageTokens prices a message as its text content plus a small
// per-message overhead for role framing.
func messageTokens(msg *a2a.Message) int {
	const overhead = 3
	if msg == nil {
		return overhead
	}
	return utils.CountTokens(model.ExtractText(msg)) + overhead
}

var _ Service = (*Memory)(nil)
