// Package chat is the persistence collaborator for project chat history.
// The session layer treats messages as opaque payloads: it assigns the id
// and timestamp, hands the record to a Store, and fans it out.
package chat

import (
	"context"
	"errors"
	"time"
)

var ErrEmptyMessage = errors.New("message text is empty")

// Message is one persisted chat record.
type Message struct {
	ID        string    `json:"id"`
	ProjectID string    `json:"projectId"`
	Team      string    `json:"team"`
	Username  string    `json:"username"`
	Text      string    `json:"text"`
	Kind      string    `json:"kind"`
	CreatedAt time.Time `json:"createdAt"`
}

// Store persists and retrieves chat history for a (team, project) room.
type Store interface {
	// Save persists a message. The caller has already assigned ID and
	// CreatedAt.
	Save(ctx context.Context, msg *Message) error
	// Recent returns up to limit most recent messages in chronological
	// ascending order.
	Recent(ctx context.Context, team, projectID string, limit int) ([]Message, error)
}
