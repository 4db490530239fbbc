package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestMemoryStore_SnapshotRoundTrip(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	if _, err := s.LatestSnapshot(ctx); !errors.Is(err, ErrNotFound) {
		t.Errorf("empty store should report ErrNotFound, got %v", err)
	}

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	old := &Snapshot{ID: uuid.New(), HeadBlockTime: base, CreatedAt: base, State: []byte(`{"a":1}`)}
	recent := &Snapshot{ID: uuid.New(), HeadBlockTime: base.Add(time.Hour), CreatedAt: base.Add(time.Hour), State: []byte(`{"a":2}`)}
	if err := s.SaveSnapshot(ctx, old); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := s.SaveSnapshot(ctx, recent); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, err := s.GetSnapshot(ctx, old.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(got.State) != `{"a":1}` {
		t.Errorf("state = %s", got.State)
	}

	latest, err := s.LatestSnapshot(ctx)
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if latest.ID != recent.ID {
		t.Errorf("latest = %s, want %s", latest.ID, recent.ID)
	}

	// The stored copy must not alias the caller's buffer.
	recent.State[0] = 'X'
	again, _ := s.GetSnapshot(ctx, recent.ID)
	if string(again.State) != `{"a":2}` {
		t.Error("stored snapshot aliases the caller's state buffer")
	}

	if err := s.SaveSnapshot(ctx, &Snapshot{ID: old.ID}); err == nil {
		t.Error("re-saving an existing snapshot id should fail")
	}
}

func TestMemoryStore_Journal(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		rec := &OperationRecord{
			ID:        uuid.New(),
			Name:      "limit_order_create",
			Payer:     "1.0",
			Outcome:   "applied",
			Payload:   []byte(`{}`),
			AppliedAt: base.Add(time.Duration(i) * time.Minute),
		}
		if i == 1 {
			rec.Payer = "1.1"
		}
		if err := s.AppendOperation(ctx, rec); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	byPayer, err := s.OperationsByPayer(ctx, "1.0")
	if err != nil {
		t.Fatalf("by payer: %v", err)
	}
	if len(byPayer) != 2 {
		t.Errorf("payer 1.0 has %d records, want 2", len(byPayer))
	}

	since, err := s.OperationsSince(ctx, base.Add(time.Minute))
	if err != nil {
		t.Fatalf("since: %v", err)
	}
	if len(since) != 2 {
		t.Errorf("since +1m returned %d records, want 2", len(since))
	}

	recent, err := s.RecentOperations(ctx, 2)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(recent) != 2 {
		t.Errorf("recent(2) returned %d records", len(recent))
	}
	if !recent[0].AppliedAt.After(recent[1].AppliedAt) {
		t.Error("recent operations should come back newest first")
	}
}
