// Package snapshot periodically persists point-in-time ranking and cache
// statistics to PostgreSQL, so operational history survives Redis restarts
// and counter resets.
package snapshot

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/bizrank/bizrank/internal/cache"
	"github.com/bizrank/bizrank/internal/ranking"
	apperrors "github.com/bizrank/bizrank/pkg/errors"
)

// Snapshot is one persisted statistics record.
type Snapshot struct {
	ID         int64             `json:"id"`
	Ranking    *ranking.Stats    `json:"ranking"`
	Cache      *cache.Statistics `json:"cache"`
	CapturedAt time.Time         `json:"captured_at"`
}

// payload is the JSONB document stored per row.
type payload struct {
	Ranking *ranking.Stats    `json:"ranking"`
	Cache   *cache.Statistics `json:"cache"`
}

// Store reads and writes snapshots in PostgreSQL.
type Store struct {
	db *sql.DB
}

// NewStore creates a Store over an open connection pool.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// EnsureSchema creates the snapshot table if it does not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS ranking_snapshots (
			id          BIGSERIAL PRIMARY KEY,
			data        JSONB NOT NULL,
			captured_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`)
	if err != nil {
		return fmt.Errorf("creating ranking_snapshots table: %w", err)
	}
	return nil
}

// Save persists one snapshot and returns its assigned id.
func (s *Store) Save(ctx context.Context, snap *Snapshot) (int64, error) {
	data, err := json.Marshal(payload{Ranking: snap.Ranking, Cache: snap.Cache})
	if err != nil {
		return 0, fmt.Errorf("encoding snapshot: %w", err)
	}
	var id int64
	err = s.db.QueryRowContext(ctx,
		`INSERT INTO ranking_snapshots (data, captured_at) VALUES ($1, $2) RETURNING id`,
		data, snap.CapturedAt,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("inserting snapshot: %w", err)
	}
	return id, nil
}

// Latest returns the most recently captured snapshot.
func (s *Store) Latest(ctx context.Context) (*Snapshot, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, data, captured_at FROM ranking_snapshots ORDER BY captured_at DESC, id DESC LIMIT 1`)
	snap, err := scanSnapshot(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.New(apperrors.ErrNotFound, http.StatusNotFound, "no snapshots captured yet")
	}
	return snap, err
}

// List returns up to limit snapshots, most recent first.
func (s *Store) List(ctx context.Context, limit int) ([]*Snapshot, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, data, captured_at FROM ranking_snapshots ORDER BY captured_at DESC, id DESC LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("listing snapshots: %w", err)
	}
	defer rows.Close()

	var snapshots []*Snapshot
	for rows.Next() {
		snap, err := scanSnapshot(rows.Scan)
		if err != nil {
			return nil, err
		}
		snapshots = append(snapshots, snap)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating snapshots: %w", err)
	}
	return snapshots, nil
}

func scanSnapshot(scan func(dest ...any) error) (*Snapshot, error) {
	var (
		snap Snapshot
		data []byte
	)
	if err := scan(&snap.ID, &data, &snap.CapturedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scanning snapshot row: %w", err)
	}
	var p payload
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, apperrors.Newf(apperrors.ErrCorrupted, http.StatusInternalServerError,
			"decoding snapshot %d: %v", snap.ID, err)
	}
	snap.Ranking = p.Ranking
	snap.Cache = p.Cache
	return &snap, nil
}
