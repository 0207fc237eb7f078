package chat

import (
	"context"
	"sync"
)

// MemoryStore keeps history in process memory. It is the default store for
// single-node deployments and tests; history does not survive restarts.
type MemoryStore struct {
	mu       sync.RWMutex
	messages map[roomKey][]Message
	cap      int
}

type roomKey struct {
	team    string
	project string
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore bounds each room's retained history at capPerRoom
// (0 means the default of 500).
func NewMemoryStore(capPerRoom int) *MemoryStore {
	if capPerRoom <= 0 {
		capPerRoom = 500
	}
	return &MemoryStore{
		messages: make(map[roomKey][]Message),
		cap:      capPerRoom,
	}
}

func (s *MemoryStore) Save(_ context.Context, msg *Message) error {
	if msg.Text == "" {
		return ErrEmptyMessage
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	key := roomKey{team: msg.Team, project: msg.ProjectID}
	log := append(s.messages[key], *msg)
	if len(log) > s.cap {
		log = log[len(log)-s.cap:]
	}
	s.messages[key] = log
	return nil
}

func (s *MemoryStore) Recent(_ context.Context, team, projectID string, limit int) ([]Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	log := s.messages[roomKey{team: team, project: projectID}]
	if limit > 0 && len(log) > limit {
		log = log[len(log)-limit:]
	}
	out := make([]Message, len(log))
	copy(out, log)
	return out, nil
}
