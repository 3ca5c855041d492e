// Package notification derives SLA notifications for approval inboxes:
// warnings as a deadline approaches, overdue alerts once it passes, and
// recurring reminders after that. A dedup store keeps repeated evaluation
// from re-emitting the same tier.
package notification

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// DedupStore records which notification keys have already been emitted.
// The key format is "notif:{instanceId}:{stepId}:{tier}".
type DedupStore interface {
	// Seen reports whether the key was marked within its TTL.
	Seen(ctx context.Context, key string) (bool, error)
	// Mark records the key with a TTL. Marking an existing key refreshes it.
	Mark(ctx context.Context, key string, ttl time.Duration) error
}

// FormatKey builds the standard dedup key for a notification tier.
func FormatKey(instanceID, stepID, tier string) string {
	return fmt.Sprintf("notif:%s:%s:%s", instanceID, stepID, tier)
}

// --- MemoryDedupStore ---

// MemoryDedupStore is an in-memory DedupStore with TTL support. Suitable for
// testing and single-instance deployments.
type MemoryDedupStore struct {
	mu      sync.RWMutex
	entries map[string]time.Time
	now     func() time.Time
}

// NewMemoryDedupStore creates a new in-memory dedup store.
func NewMemoryDedupStore() *MemoryDedupStore {
	return &MemoryDedupStore{
		entries: make(map[string]time.Time),
		now:     time.Now,
	}
}

// Seen reports whether the key is present and unexpired.
func (s *MemoryDedupStore) Seen(_ context.Context, key string) (bool, error) {
	s.mu.RLock()
	expires, exists := s.entries[key]
	s.mu.RUnlock()

	if !exists {
		return false, nil
	}
	if s.now().After(expires) {
		s.mu.Lock()
		delete(s.entries, key)
		s.mu.Unlock()
		return false, nil
	}
	return true, nil
}

// Mark records the key with a TTL.
func (s *MemoryDedupStore) Mark(_ context.Context, key string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = s.now().Add(ttl)
	return nil
}

// Len returns the number of entries, expired included. For testing.
func (s *MemoryDedupStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// --- RedisDedupStore ---

// RedisDedupStore is a Redis-backed DedupStore so multiple replicas agree on
// what has already been sent.
type RedisDedupStore struct {
	client redis.Cmdable
}

// NewRedisDedupStore creates a new Redis-backed dedup store.
func NewRedisDedupStore(client redis.Cmdable) *RedisDedupStore {
	return &RedisDedupStore{client: client}
}

// Seen reports whether the key exists in Redis.
func (s *RedisDedupStore) Seen(ctx context.Context, key string) (bool, error) {
	_, err := s.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("redis get %q: %w", key, err)
	}
	return true, nil
}

// Mark records the key in Redis with a TTL.
func (s *RedisDedupStore) Mark(ctx context.Context, key string, ttl time.Duration) error {
	if err := s.client.Set(ctx, key, "1", ttl).Err(); err != nil {
		return fmt.Errorf("redis set %q: %w", key, err)
	}
	return nil
}

// HealthCheck pings Redis.
func (s *RedisDedupStore) HealthCheck(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
