package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore implements Store with in-memory maps. Used for testing
// and development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu        sync.RWMutex
	snapshots map[uuid.UUID]*Snapshot
	journal   []OperationRecord
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		snapshots: make(map[uuid.UUID]*Snapshot),
	}
}

func (s *MemoryStore) SaveSnapshot(_ context.Context, snap *Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.snapshots[snap.ID]; exists {
		return fmt.Errorf("snapshot %s already exists", snap.ID)
	}

	// Store a copy to avoid external mutation.
	cp := *snap
	cp.State = append([]byte(nil), snap.State...)
	s.snapshots[snap.ID] = &cp
	return nil
}

func (s *MemoryStore) GetSnapshot(_ context.Context, id uuid.UUID) (*Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap, ok := s.snapshots[id]
	if !ok {
		return nil, fmt.Errorf("snapshot %s: %w", id, ErrNotFound)
	}
	cp := *snap
	cp.State = append([]byte(nil), snap.State...)
	return &cp, nil
}

func (s *MemoryStore) LatestSnapshot(_ context.Context) (*Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var latest *Snapshot
	for _, snap := range s.snapshots {
		if latest == nil || snap.CreatedAt.After(latest.CreatedAt) {
			latest = snap
		}
	}
	if latest == nil {
		return nil, ErrNotFound
	}
	cp := *latest
	cp.State = append([]byte(nil), latest.State...)
	return &cp, nil
}

func (s *MemoryStore) AppendOperation(_ context.Context, rec *OperationRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.journal = append(s.journal, *rec)
	return nil
}

func (s *MemoryStore) OperationsByPayer(_ context.Context, payer string) ([]OperationRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []OperationRecord
	for _, rec := range s.journal {
		if rec.Payer == payer {
			result = append(result, rec)
		}
	}
	return result, nil
}

func (s *MemoryStore) OperationsSince(_ context.Context, t time.Time) ([]OperationRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []OperationRecord
	for _, rec := range s.journal {
		if !rec.AppliedAt.Before(t) {
			result = append(result, rec)
		}
	}
	return result, nil
}

func (s *MemoryStore) RecentOperations(_ context.Context, limit int) ([]OperationRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []OperationRecord
	for i := len(s.journal) - 1; i >= 0 && len(result) < limit; i-- {
		result = append(result, s.journal[i])
	}
	return result, nil
}
