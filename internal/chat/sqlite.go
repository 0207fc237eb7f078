package chat

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// SQLiteStore persists chat history in a local SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

const messagesSchema = `
CREATE TABLE IF NOT EXISTS messages (
    id TEXT PRIMARY KEY,
    team TEXT NOT NULL,
    project_id TEXT NOT NULL,
    username TEXT NOT NULL,
    text TEXT NOT NULL,
    kind TEXT NOT NULL DEFAULT 'text',
    created_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_messages_room ON messages(team, project_id, created_at);
`

// NewSQLiteStore opens (or creates) the database at dataSourceName and
// ensures the schema exists.
func NewSQLiteStore(dataSourceName string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dataSourceName)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if _, err := db.Exec(messagesSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Save(ctx context.Context, msg *Message) error {
	if msg.Text == "" {
		return ErrEmptyMessage
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (id, team, project_id, username, text, kind, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		msg.ID, msg.Team, msg.ProjectID, msg.Username, msg.Text, msg.Kind, msg.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert message: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Recent(ctx context.Context, team, projectID string, limit int) ([]Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, team, project_id, username, text, kind, created_at
		 FROM messages
		 WHERE team = ? AND project_id = ?
		 ORDER BY created_at DESC, id DESC
		 LIMIT ?`,
		team, projectID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()

	var newestFirst []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.Team, &m.ProjectID, &m.Username, &m.Text, &m.Kind, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		newestFirst = append(newestFirst, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Reverse to chronological ascending order for the client.
	out := make([]Message, len(newestFirst))
	for i, m := range newestFirst {
		out[len(out)-1-i] = m
	}
	return out, nil
}
