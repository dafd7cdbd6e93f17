// Package state keeps the minimal per-session resume record in Redis so a
// restarted server can honor the resync handshake instead of rejecting
// returning endpoints.
package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ResumeRecord is the durable slice of session state: who the session
// belongs to and how far its event stream has been applied.
type ResumeRecord struct {
	Candidate string `json:"candidate"`
	LastSeq   uint64 `json:"last_seq"`
	UpdatedAt int64  `json:"updated_at"` // Unix timestamp
}

// RedisStore implements session.ResumeStore on Redis.
type RedisStore struct {
	redis *redis.Client
	ttl   time.Duration
}

// Connect parses the URL and pings the server before returning a store.
func Connect(ctx context.Context, url string, ttl time.Duration) (*RedisStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return NewRedisStore(client, ttl), nil
}

// NewRedisStore wraps an existing client. TTL bounds how long a resume
// record outlives its last event; zero means records never expire.
func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{redis: client, ttl: ttl}
}

// Save writes the resume record for a session.
func (s *RedisStore) Save(ctx context.Context, id, candidate string, lastSeq uint64) error {
	rec := ResumeRecord{
		Candidate: candidate,
		LastSeq:   lastSeq,
		UpdatedAt: time.Now().Unix(),
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal resume record: %w", err)
	}
	if err := s.redis.Set(ctx, s.key(id), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to save resume record: %w", err)
	}
	return nil
}

// Load reads the resume record for a session. ok is false when the record
// does not exist.
func (s *RedisStore) Load(ctx context.Context, id string) (string, uint64, bool, error) {
	data, err := s.redis.Get(ctx, s.key(id)).Result()
	if errors.Is(err, redis.Nil) {
		return "", 0, false, nil
	}
	if err != nil {
		return "", 0, false, fmt.Errorf("failed to load resume record: %w", err)
	}

	var rec ResumeRecord
	if err := json.Unmarshal([]byte(data), &rec); err != nil {
		return "", 0, false, fmt.Errorf("failed to unmarshal resume record: %w", err)
	}
	return rec.Candidate, rec.LastSeq, true, nil
}

// Delete removes the resume record once the session is closed.
func (s *RedisStore) Delete(ctx context.Context, id string) error {
	if err := s.redis.Del(ctx, s.key(id)).Err(); err != nil {
		return fmt.Errorf("failed to delete resume record: %w", err)
	}
	return nil
}

// Close releases the underlying client.
func (s *RedisStore) Close() error {
	return s.redis.Close()
}

func (s *RedisStore) key(id string) string {
	return "vigil:session:resume:" + id
}
