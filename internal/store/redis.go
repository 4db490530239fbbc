package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache for snapshots. Writes go to the primary store and refresh the
// cache; reads check Redis first then fall back to the primary. The
// journal is not cached: it is written once and read rarely.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// --- Write-through (write to primary, refresh cache) ---

func (s *CachedStore) SaveSnapshot(ctx context.Context, snap *Snapshot) error {
	if err := s.primary.SaveSnapshot(ctx, snap); err != nil {
		return err
	}
	s.cacheSnapshot(ctx, snap)
	// The new snapshot is by construction the latest.
	s.rdb.Set(ctx, latestKey(), snap.ID.String(), s.ttl)
	return nil
}

func (s *CachedStore) AppendOperation(ctx context.Context, rec *OperationRecord) error {
	return s.primary.AppendOperation(ctx, rec)
}

// --- Read-through (check cache first) ---

func (s *CachedStore) GetSnapshot(ctx context.Context, id uuid.UUID) (*Snapshot, error) {
	data, err := s.rdb.Get(ctx, snapshotKey(id)).Bytes()
	if err == nil {
		var snap Snapshot
		if json.Unmarshal(data, &snap) == nil {
			return &snap, nil
		}
	}

	// Cache miss: read from primary.
	snap, err := s.primary.GetSnapshot(ctx, id)
	if err != nil {
		return nil, err
	}
	s.cacheSnapshot(ctx, snap)
	return snap, nil
}

func (s *CachedStore) LatestSnapshot(ctx context.Context) (*Snapshot, error) {
	// Try cache via latest→id mapping.
	idStr, err := s.rdb.Get(ctx, latestKey()).Result()
	if err == nil {
		if id, parseErr := uuid.Parse(idStr); parseErr == nil {
			return s.GetSnapshot(ctx, id)
		}
	}

	// Cache miss.
	snap, err := s.primary.LatestSnapshot(ctx)
	if err != nil {
		return nil, err
	}
	s.cacheSnapshot(ctx, snap)
	s.rdb.Set(ctx, latestKey(), snap.ID.String(), s.ttl)
	return snap, nil
}

// --- Passthrough (not cached) ---

func (s *CachedStore) OperationsByPayer(ctx context.Context, payer string) ([]OperationRecord, error) {
	return s.primary.OperationsByPayer(ctx, payer)
}

func (s *CachedStore) OperationsSince(ctx context.Context, t time.Time) ([]OperationRecord, error) {
	return s.primary.OperationsSince(ctx, t)
}

func (s *CachedStore) RecentOperations(ctx context.Context, limit int) ([]OperationRecord, error) {
	return s.primary.RecentOperations(ctx, limit)
}

// --- Cache helpers ---

func (s *CachedStore) cacheSnapshot(ctx context.Context, snap *Snapshot) {
	if data, err := json.Marshal(snap); err == nil {
		s.rdb.Set(ctx, snapshotKey(snap.ID), data, s.ttl)
	}
}

func snapshotKey(id uuid.UUID) string { return fmt.Sprintf("snapshot:%s", id) }
func latestKey() string               { return "snapshot:latest" }
