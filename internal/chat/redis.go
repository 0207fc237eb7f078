package chat

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps each room's history in a capped Redis list. Useful when
// history should survive server restarts without a local database file.
type RedisStore struct {
	rdb *redis.Client
	cap int64
}

var _ Store = (*RedisStore)(nil)

func historyKey(team, projectID string) string {
	return fmt.Sprintf("chat:%s:%s", team, projectID)
}

// NewRedisStore caps each room's list at capPerRoom entries
// (0 means the default of 500).
func NewRedisStore(rdb *redis.Client, capPerRoom int) *RedisStore {
	if capPerRoom <= 0 {
		capPerRoom = 500
	}
	return &RedisStore{rdb: rdb, cap: int64(capPerRoom)}
}

func (s *RedisStore) Save(ctx context.Context, msg *Message) error {
	if msg.Text == "" {
		return ErrEmptyMessage
	}
	b, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	key := historyKey(msg.Team, msg.ProjectID)
	pipe := s.rdb.TxPipeline()
	pipe.RPush(ctx, key, b)
	pipe.LTrim(ctx, key, -s.cap, -1)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to persist message: %w", err)
	}
	return nil
}

func (s *RedisStore) Recent(ctx context.Context, team, projectID string, limit int) ([]Message, error) {
	vals, err := s.rdb.LRange(ctx, historyKey(team, projectID), int64(-limit), -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to fetch history: %w", err)
	}

	out := make([]Message, 0, len(vals))
	for _, val := range vals {
		var m Message
		if err := json.Unmarshal([]byte(val), &m); err != nil {
			// Skip unreadable entries instead of failing the whole fetch.
			continue
		}
		out = append(out, m)
	}
	return out, nil
}
