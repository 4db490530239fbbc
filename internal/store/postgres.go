package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/openledger/chain-engine/internal/metrics"
)

// PostgresStore implements Store using PostgreSQL as the source of truth.
// Snapshots hold the serialized arena as JSONB; the journal is append-only.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) SaveSnapshot(ctx context.Context, snap *Snapshot) error {
	start := time.Now()
	_, err := s.pool.Exec(ctx,
		`INSERT INTO snapshots (id, head_block_time, created_at, state)
		 VALUES ($1, $2, $3, $4)`,
		snap.ID, snap.HeadBlockTime, snap.CreatedAt, snap.State,
	)
	metrics.SnapshotDuration.WithLabelValues("postgres", "save").Observe(time.Since(start).Seconds())
	return err
}

func (s *PostgresStore) GetSnapshot(ctx context.Context, id uuid.UUID) (*Snapshot, error) {
	start := time.Now()
	var snap Snapshot
	err := s.pool.QueryRow(ctx,
		`SELECT id, head_block_time, created_at, state
		 FROM snapshots WHERE id = $1`, id).
		Scan(&snap.ID, &snap.HeadBlockTime, &snap.CreatedAt, &snap.State)
	metrics.SnapshotDuration.WithLabelValues("postgres", "load").Observe(time.Since(start).Seconds())
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("snapshot %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get snapshot %s: %w", id, err)
	}
	return &snap, nil
}

func (s *PostgresStore) LatestSnapshot(ctx context.Context) (*Snapshot, error) {
	start := time.Now()
	var snap Snapshot
	err := s.pool.QueryRow(ctx,
		`SELECT id, head_block_time, created_at, state
		 FROM snapshots ORDER BY created_at DESC LIMIT 1`).
		Scan(&snap.ID, &snap.HeadBlockTime, &snap.CreatedAt, &snap.State)
	metrics.SnapshotDuration.WithLabelValues("postgres", "load").Observe(time.Since(start).Seconds())
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("latest snapshot: %w", err)
	}
	return &snap, nil
}

func (s *PostgresStore) AppendOperation(ctx context.Context, rec *OperationRecord) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO operation_journal (id, name, payer, outcome, payload, applied_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		rec.ID, rec.Name, rec.Payer, rec.Outcome, rec.Payload, rec.AppliedAt,
	)
	return err
}

func (s *PostgresStore) OperationsByPayer(ctx context.Context, payer string) ([]OperationRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, name, payer, outcome, payload, applied_at
		 FROM operation_journal WHERE payer = $1 ORDER BY applied_at`, payer)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanOperations(rows)
}

func (s *PostgresStore) OperationsSince(ctx context.Context, t time.Time) ([]OperationRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, name, payer, outcome, payload, applied_at
		 FROM operation_journal WHERE applied_at >= $1 ORDER BY applied_at`, t)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanOperations(rows)
}

func (s *PostgresStore) RecentOperations(ctx context.Context, limit int) ([]OperationRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, name, payer, outcome, payload, applied_at
		 FROM operation_journal ORDER BY applied_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanOperations(rows)
}

func scanOperations(rows pgx.Rows) ([]OperationRecord, error) {
	var records []OperationRecord
	for rows.Next() {
		var rec OperationRecord
		if err := rows.Scan(&rec.ID, &rec.Name, &rec.Payer, &rec.Outcome,
			&rec.Payload, &rec.AppliedAt); err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// Schema is the DDL the store expects; cmd/chaind applies it on startup.
const Schema = `
CREATE TABLE IF NOT EXISTS snapshots (
	id              UUID PRIMARY KEY,
	head_block_time TIMESTAMPTZ NOT NULL,
	created_at      TIMESTAMPTZ NOT NULL,
	state           JSONB NOT NULL
);

CREATE TABLE IF NOT EXISTS operation_journal (
	id         UUID PRIMARY KEY,
	name       TEXT NOT NULL,
	payer      TEXT NOT NULL,
	outcome    TEXT NOT NULL,
	payload    JSONB NOT NULL,
	applied_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_journal_payer ON operation_journal (payer, applied_at);
CREATE INDEX IF NOT EXISTS idx_snapshots_created ON snapshots (created_at DESC);
`
