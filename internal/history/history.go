// Package history keeps an append-only SQLite transcript of conversation turns.
//
// The transcript is an audit trail only: conversations live in memory and are
// never rebuilt from it after a restart.
package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/glebarez/go-sqlite"

	"github.com/comigor/groqchat/internal/logger"
)

// Message is one recorded turn.
type Message struct {
	ID             int64     `json:"id"`
	ConversationID string    `json:"conversation_id"`
	TurnID         string    `json:"turn_id"`
	Role           string    `json:"role"`
	Content        string    `json:"content"`
	CreatedAt      time.Time `json:"created_at"`
}

// Journal writes turns to a SQLite database.
type Journal struct {
	db *sql.DB
}

// Open opens (creating if needed) the SQLite database at path and ensures the
// messages table exists.
func Open(path string) (*Journal, error) {
	if path == "" {
		return nil, errors.New("history: empty database path")
	}
	db, err := sql.Open("sqlite", "file:"+path+"?_pragma=busy_timeout(10000)")
	if err != nil {
		return nil, fmt.Errorf("history: open %s: %w", path, err)
	}
	// SQLite serialises writers anyway; one connection avoids SQLITE_BUSY churn.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS messages (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		conversation_id TEXT NOT NULL,
		turn_id TEXT NOT NULL,
		role TEXT NOT NULL,
		content TEXT NOT NULL,
		created_at DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(conversation_id, id);`); err != nil {
		db.Close()
		return nil, fmt.Errorf("history: create schema: %w", err)
	}
	logger.L.Info("sqlite history journal initialized", "path", path)
	return &Journal{db: db}, nil
}

// Record appends msg to the journal.
func (j *Journal) Record(ctx context.Context, msg Message) error {
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}
	_, err := j.db.ExecContext(ctx,
		`INSERT INTO messages (conversation_id, turn_id, role, content, created_at) VALUES (?,?,?,?,?);`,
		msg.ConversationID, msg.TurnID, msg.Role, msg.Content, msg.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("history: insert: %w", err)
	}
	return nil
}

// List returns all recorded messages of a conversation in insertion order.
func (j *Journal) List(ctx context.Context, conversationID string) ([]Message, error) {
	rows, err := j.db.QueryContext(ctx,
		`SELECT id, conversation_id, turn_id, role, content, created_at FROM messages WHERE conversation_id = ? ORDER BY id ASC;`,
		conversationID)
	if err != nil {
		return nil, fmt.Errorf("history: query: %w", err)
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.TurnID, &m.Role, &m.Content, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("history: scan: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// Close releases the database handle.
func (j *Journal) Close() error {
	return j.db.Close()
}
