package kv

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const lastSyncKey = "recall:vault:last_sync_time"

// SyncState persists the vault reconciler's last sync watermark in Redis so
// offline edits are caught on the next startup.
type SyncState struct {
	rdb *redis.Client
}

// NewSyncState creates a sync-state store over rdb.
func NewSyncState(rdb *redis.Client) *SyncState {
	return &SyncState{rdb: rdb}
}

// LastSyncTime returns the persisted watermark. The second return is false
// when no sync has ever completed.
func (s *SyncState) LastSyncTime(ctx context.Context) (time.Time, bool, error) {
	raw, err := s.rdb.Get(ctx, lastSyncKey).Result()
	if errors.Is(err, redis.Nil) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("failed to read last sync time: %w", err)
	}

	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("corrupt last sync time %q: %w", raw, err)
	}
	return t, true, nil
}

// SetLastSyncTime persists the watermark.
func (s *SyncState) SetLastSyncTime(ctx context.Context, t time.Time) error {
	if err := s.rdb.Set(ctx, lastSyncKey, t.UTC().Format(time.RFC3339Nano), 0).Err(); err != nil {
		return fmt.Errorf("failed to persist last sync time: %w", err)
	}
	return nil
}
