package session

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/a2aproject/a2a-go/a2a"
)

const createSessionsSchemaSQL = `
CREATE TABLE IF NOT EXISTS sessions (
    session_id VARCHAR(255) NOT NULL,
    seq INTEGER NOT NULL,
    role VARCHAR(50) NOT NULL,
    payload TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL,
    PRIMARY KEY (session_id, seq)
)`

const createSessionsIndexSQL = `
CREATE INDEX IF NOT EXISTS idx_sessions_created_at ON sessions(session_id, created_at)`

// SQL is a Service backed by a relational database, one row per message
// ordered by a per-session sequence number. The shared pool owns the
// *sql.DB, so Close here is a no-op.
type SQL struct {
	db      *sql.DB
	dialect string
}

// NewSQL initializes the schema and returns the store. Supported dialects
// are postgres, mysql and sqlite ("sqlite3" normalizes to "sqlite").
func NewSQL(db *sql.DB, dialect string) (*SQL, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}
	switch dialect {
	case "sqlite3":
		dialect = "sqlite"
	case "postgres", "mysql", "sqlite":
	default:
		return nil, fmt.Errorf("unsupported dialect: %s (supported: postgres, mysql, sqlite)", dialect)
	}

	s := &SQL{db: db, dialect: dialect}
	if err := s.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize session schema: %w", err)
	}
	return s, nil
}

// initSchema runs each statement separately; the sqlite driver rejects
// multi-statement Exec.
func (s *SQL) initSchema() error {
	for _, stmt := range []string{createSessionsSchemaSQL, createSessionsIndexSQL} {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQL) Append(ctx context.Context, sessionID string, msgs ...*a2a.Message) error {
	if sessionID == "" {
		return fmt.Errorf("session id is required")
	}
	if len(msgs) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var seq int
	next := s.query(`SELECT COALESCE(MAX(seq), 0) FROM sessions WHERE session_id = ?`)
	if err := tx.QueryRowContext(ctx, next, sessionID).Scan(&seq); err != nil {
		return fmt.Errorf("failed to read session sequence: %w", err)
	}

	insert := s.query(`INSERT INTO sessions (session_id, seq, role, payload, created_at) VALUES (?, ?, ?, ?, ?)`)
	now := time.Now().UTC()
	for _, msg := range msgs {
		if msg == nil {
			continue
		}
		payload, err := json.Marshal(msg.Parts)
		if err != nil {
			return fmt.Errorf("failed to encode message: %w", err)
		}
		seq++
		if _, err := tx.ExecContext(ctx, insert, sessionID, seq, string(msg.Role), string(payload), now); err != nil {
			return fmt.Errorf("failed to insert message: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (s *SQL) History(ctx context.Context, sessionID string, maxTokens int) ([]*a2a.Message, error) {
	query := s.query(`SELECT role, payload FROM sessions WHERE session_id = ? ORDER BY seq`)
	rows, err := s.db.QueryContext(ctx, query, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query session: %w", err)
	}
	defer rows.Close()

	var msgs []*a2a.Message
	for rows.Next() {
		var role, payload string
		if err := rows.Scan(&role, &payload); err != nil {
			return nil, fmt.Errorf("failed to scan message row: %w", err)
		}
		msg, err := decodeMessage(role, []byte(payload))
		if err != nil {
			return nil, err
		}
		if msg != nil {
			msgs = append(msgs, msg)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return trimToBudget(msgs, maxTokens), nil
}

func (s *SQL) Delete(ctx context.Context, sessionID string) error {
	query := s.query(`DELETE FROM sessions WHERE session_id = ?`)
	if _, err := s.db.ExecContext(ctx, query, sessionID); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// Close is a no-op: the shared pool owns the database handle.
func (s *SQL) Close() error { return nil }

func (s *SQL) query(q string) string {
	if s.dialect == "postgres" {
		return toPostgresPlaceholders(q)
	}
	return q
}

// toPostgresPlaceholders rewrites ? placeholders to positional $n.
func toPostgresPlaceholders(query string) string {
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 1
	for _, c := range query {
		if c == '?' {
			fmt.Fprintf(&b, "$%d", n)
			n++
		} else {
			b.WriteRune(c)
		}
	}
	return b.String()
}

// decodeMessage rebuilds a message from a role column and a parts payload.
// Unknown part kinds are skipped so newer writers do not break older
// readers; a message with no decodable parts is dropped entirely.
func decodeMessage(role string, payload []byte) (*a2a.Message, error) {
	var rawParts []json.RawMessage
	if err := json.Unmarshal(payload, &rawParts); err != nil {
		return nil, fmt.Errorf("failed to decode message payload: %w", err)
	}

	var parts a2a.ContentParts
	for _, raw := range rawParts {
		part, err := parsePart(raw)
		if err != nil {
			return nil, err
		}
		if part != nil {
			parts = append(parts, part)
		}
	}
	if len(parts) == 0 {
		return nil, nil
	}
	return &a2a.Message{Role: a2a.MessageRole(role), Parts: parts}, nil
}

// parsePart decodes one part by its "kind" discriminator.
func parsePart(raw json.RawMessage) (a2a.Part, error) {
	var peek struct {
		Kind string `json:"kind"`
	}
	if err := json.Unmarshal(raw, &peek); err != nil {
		return nil, fmt.Errorf("failed to peek part kind: %w", err)
	}

	switch peek.Kind {
	case "text":
		var part a2a.TextPart
		if err := json.Unmarshal(raw, &part); err != nil {
			return nil, err
		}
		return part, nil
	case "file":
		var part a2a.FilePart
		if err := json.Unmarshal(raw, &part); err != nil {
			return nil, err
		}
		return part, nil
	case "data":
		var part a2a.DataPart
		if err := json.Unmarshal(raw, &part); err != nil {
			return nil, err
		}
		return part, nil
	default:
		slog.Debug("Skipping unknown part kind in stored session", "kind", peek.Kind)
		return nil, nil
	}
}

var _ Service = (*SQL)(nil)
