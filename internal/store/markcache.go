package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// MarkCache caches marked-date lists in redis, keyed by batch, course and
// faculty. The worker writes it after submissions; the calendar endpoint
// reads it before falling back to the attendance API.
type MarkCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewMarkCache creates a cache with the given entry TTL.
func NewMarkCache(client *redis.Client, ttl time.Duration) *MarkCache {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &MarkCache{client: client, ttl: ttl}
}

// Get returns the cached date list and whether an entry existed.
func (m *MarkCache) Get(ctx context.Context, batchID, courseID, facultyID string) ([]string, bool, error) {
	raw, err := m.client.Get(ctx, m.key(batchID, courseID, facultyID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, err
	}
	var dates []string
	if err := json.Unmarshal([]byte(raw), &dates); err != nil {
		return nil, false, err
	}
	return dates, true, nil
}

// Put stores a date list.
func (m *MarkCache) Put(ctx context.Context, batchID, courseID, facultyID string, dates []string) error {
	raw, err := json.Marshal(dates)
	if err != nil {
		return err
	}
	return m.client.Set(ctx, m.key(batchID, courseID, facultyID), raw, m.ttl).Err()
}

func (m *MarkCache) key(batchID, courseID, facultyID string) string {
	return "rollcall:marked-dates:" + batchID + ":" + courseID + ":" + facultyID
}
