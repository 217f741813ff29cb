package snapshot

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// CursorKey is the single persisted cursor key for the snapshot feed.
const CursorKey = "snapshots:cursor"

// CursorStore persists the last-seen max createdAt of the feed. A zero time
// means no snapshot has been seen yet.
type CursorStore interface {
	Get(ctx context.Context) (time.Time, error)
	Set(ctx context.Context, cursor time.Time) error
}

// MemoryCursorStore is an in-process CursorStore for tests.
type MemoryCursorStore struct {
	mu     sync.Mutex
	cursor time.Time
}

var _ CursorStore = (*MemoryCursorStore)(nil)

// NewMemoryCursorStore creates a cursor store starting at the zero time.
func NewMemoryCursorStore() *MemoryCursorStore {
	return &MemoryCursorStore{}
}

// Get implements CursorStore.
func (s *MemoryCursorStore) Get(context.Context) (time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.cursor, nil
}

// Set implements CursorStore.
func (s *MemoryCursorStore) Set(_ context.Context, cursor time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cursor = cursor

	return nil
}

// RedisCursorStore persists the cursor in Redis under CursorKey, formatted
// as RFC3339Nano so it stays inspectable from the CLI.
type RedisCursorStore struct {
	client redis.UniversalClient
	key    string
}

var _ CursorStore = (*RedisCursorStore)(nil)

// NewRedisCursorStore creates a Redis-backed cursor store.
func NewRedisCursorStore(client redis.UniversalClient) *RedisCursorStore {
	return &RedisCursorStore{client: client, key: CursorKey}
}

// Get implements CursorStore. A missing key yields the zero time.
func (s *RedisCursorStore) Get(ctx context.Context) (time.Time, error) {
	raw, err := s.client.Get(ctx, s.key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return time.Time{}, nil
		}

		return time.Time{}, fmt.Errorf("get cursor: %w", err)
	}

	cursor, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse cursor %q: %w", raw, err)
	}

	return cursor, nil
}

// Set implements CursorStore.
func (s *RedisCursorStore) Set(ctx context.Context, cursor time.Time) error {
	if err := s.client.Set(ctx, s.key, cursor.UTC().Format(time.RFC3339Nano), 0).Err(); err != nil {
		return fmt.Errorf("set cursor: %w", err)
	}

	return nil
}
