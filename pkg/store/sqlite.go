package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/hamzilla/mcp/pkg/dialogue"
	_ "github.com/mattn/go-sqlite3"
)

const schema = `
CREATE TABLE IF NOT EXISTS messages (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id TEXT NOT NULL,
	role TEXT NOT NULL,
	content TEXT NOT NULL,
	tool_calls TEXT,
	tool_call_id TEXT,
	created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_messages_session ON messages(session_id, id);
`

// Compile-time check that *SQLite implements Store.
var _ Store = (*SQLite)(nil)

// SQLite is a Store backed by a local SQLite database. Safe for concurrent
// use; database/sql serializes access through the connection pool.
type SQLite struct {
	db *sql.DB
}

// Open opens (creating if needed) the database at path and ensures the schema.
func Open(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("store: init schema: %w", err)
	}

	return &SQLite{db: db}, nil
}

// Close releases the database handle.
func (s *SQLite) Close() error {
	return s.db.Close()
}

// Append records one message at the end of the session's history. Assistant
// tool calls are stored as a JSON column so a reloaded history round-trips
// through the model binding unchanged.
func (s *SQLite) Append(ctx context.Context, sessionID string, msg dialogue.Message) error {
	var toolCalls sql.NullString
	if len(msg.ToolCalls) > 0 {
		raw, err := json.Marshal(msg.ToolCalls)
		if err != nil {
			return fmt.Errorf("store: marshal tool calls: %w", err)
		}
		toolCalls = sql.NullString{String: string(raw), Valid: true}
	}

	var toolCallID sql.NullString
	if msg.ToolCallID != "" {
		toolCallID = sql.NullString{String: msg.ToolCallID, Valid: true}
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (session_id, role, content, tool_calls, tool_call_id) VALUES (?, ?, ?, ?, ?)`,
		sessionID, string(msg.Role), msg.Content, toolCalls, toolCallID,
	)
	if err != nil {
		return fmt.Errorf("store: append to %s: %w", sessionID, err)
	}
	return nil
}

// Load returns the session's history in insertion order.
func (s *SQLite) Load(ctx context.Context, sessionID string) ([]dialogue.Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT role, content, tool_calls, tool_call_id FROM messages WHERE session_id = ? ORDER BY id`,
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("store: load %s: %w", sessionID, err)
	}
	defer func() { _ = rows.Close() }()

	var msgs []dialogue.Message
	for rows.Next() {
		var (
			role       string
			content    string
			toolCalls  sql.NullString
			toolCallID sql.NullString
		)
		if err := rows.Scan(&role, &content, &toolCalls, &toolCallID); err != nil {
			return nil, fmt.Errorf("store: scan message: %w", err)
		}

		msg := dialogue.Message{
			Role:       dialogue.Role(role),
			Content:    content,
			ToolCallID: toolCallID.String,
		}
		if toolCalls.Valid {
			if err := json.Unmarshal([]byte(toolCalls.String), &msg.ToolCalls); err != nil {
				return nil, fmt.Errorf("store: unmarshal tool calls: %w", err)
			}
		}
		msgs = append(msgs, msg)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: load %s: %w", sessionID, err)
	}

	return msgs, nil
}
