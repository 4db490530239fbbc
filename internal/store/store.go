// Package store defines durable persistence for the evaluation engine:
// state snapshots of the ledger arena and an applied-operation journal.
// Implementations include PostgreSQL (source of truth), Redis (read-through
// cache), and in-memory (for testing). The stores live outside the
// consensus core; the arena never reads from them mid-block.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned when a snapshot or journal record does not exist.
var ErrNotFound = errors.New("store: not found")

// Snapshot is one serialized arena state.
type Snapshot struct {
	ID            uuid.UUID `json:"id"`
	HeadBlockTime time.Time `json:"head_block_time"`
	CreatedAt     time.Time `json:"created_at"`
	State         []byte    `json:"state"`
}

// OperationRecord is one applied operation in the immutable journal.
type OperationRecord struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	Payer     string    `json:"payer"`
	Outcome   string    `json:"outcome"`
	Payload   []byte    `json:"payload"`
	AppliedAt time.Time `json:"applied_at"`
}

// Store is the persistence interface. PostgreSQL is the source of truth;
// Redis provides a read-through cache layer.
type Store interface {
	// SaveSnapshot persists a serialized arena state.
	SaveSnapshot(ctx context.Context, snap *Snapshot) error

	// GetSnapshot retrieves a snapshot by id.
	GetSnapshot(ctx context.Context, id uuid.UUID) (*Snapshot, error)

	// LatestSnapshot returns the most recently created snapshot, or
	// ErrNotFound when none exists.
	LatestSnapshot(ctx context.Context) (*Snapshot, error)

	// AppendOperation appends an immutable journal record.
	AppendOperation(ctx context.Context, rec *OperationRecord) error

	// OperationsByPayer returns all journal records for one account.
	OperationsByPayer(ctx context.Context, payer string) ([]OperationRecord, error)

	// OperationsSince returns journal records applied at or after t, oldest
	// first, for replay on top of a restored snapshot.
	OperationsSince(ctx context.Context, t time.Time) ([]OperationRecord, error)

	// RecentOperations returns the newest journal records, most recent
	// first, up to limit.
	RecentOperations(ctx context.Context, limit int) ([]OperationRecord, error)
}
