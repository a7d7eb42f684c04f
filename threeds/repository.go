package threeds

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/alovak/threeds-flow/threeds/models"
	"github.com/jackc/pgconn"
	"github.com/lib/pq"
)

// Schema creates the transaction journal. A checkout has at most one
// transaction.
const Schema = `
CREATE SCHEMA IF NOT EXISTS threeds;
CREATE TABLE IF NOT EXISTS threeds.transactions (
    tx_id         text PRIMARY KEY,
    checkout_id   text NOT NULL UNIQUE,
    brand         text NOT NULL,
    flow          text NOT NULL DEFAULT '',
    state         text NOT NULL,
    native_failed boolean NOT NULL DEFAULT false,
    outcome       text NOT NULL DEFAULT '',
    snapshot      jsonb NOT NULL,
    created_at    timestamptz NOT NULL,
    updated_at    timestamptz NOT NULL
);
`

// Repository journals transaction snapshots in memory or in Postgres.
type Repository struct {
	mu         sync.RWMutex
	snapshots  map[string]models.Snapshot
	byCheckout map[string]string
	db         *sql.DB
}

func NewRepository() *Repository {
	return &Repository{
		snapshots:  make(map[string]models.Snapshot),
		byCheckout: make(map[string]string),
	}
}

// NewPGRepository constructs a db-backed repository.
func NewPGRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) Migrate(ctx context.Context) error {
	if r.db == nil {
		return nil
	}
	_, err := r.db.ExecContext(ctx, Schema)
	return err
}

// Create registers a new transaction. It fails with ErrConflict when the
// checkout already has one.
func (r *Repository) Create(ctx context.Context, s models.Snapshot) error {
	if r.db == nil {
		r.mu.Lock()
		defer r.mu.Unlock()
		if _, ok := r.byCheckout[s.CheckoutID]; ok {
			return fmt.Errorf("checkout %s already has a transaction: %w", s.CheckoutID, ErrConflict)
		}
		if _, ok := r.snapshots[s.ID]; ok {
			return fmt.Errorf("transaction %s exists: %w", s.ID, ErrConflict)
		}
		r.snapshots[s.ID] = s
		r.byCheckout[s.CheckoutID] = s.ID
		return nil
	}

	raw, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("encoding snapshot: %w", err)
	}
	_, err = r.db.ExecContext(ctx, `
        INSERT INTO threeds.transactions(tx_id, checkout_id, brand, flow, state, native_failed, outcome, snapshot, created_at, updated_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
    `, s.ID, s.CheckoutID, s.Brand, string(s.Flow), string(s.State), s.NativeFailed, s.Outcome, raw, s.CreatedAt, updatedAt(s))
	if isUniqueViolation(err) {
		return fmt.Errorf("checkout %s already has a transaction: %w", s.CheckoutID, ErrConflict)
	}
	return err
}

// Save upserts the snapshot. Older snapshots never replace newer ones.
func (r *Repository) Save(ctx context.Context, s models.Snapshot) error {
	if r.db == nil {
		r.mu.Lock()
		defer r.mu.Unlock()
		if prev, ok := r.snapshots[s.ID]; ok && prev.UpdatedAt.After(s.UpdatedAt) {
			return nil
		}
		if id, ok := r.byCheckout[s.CheckoutID]; ok && id != s.ID {
			return fmt.Errorf("checkout %s already has a transaction: %w", s.CheckoutID, ErrConflict)
		}
		r.snapshots[s.ID] = s
		r.byCheckout[s.CheckoutID] = s.ID
		return nil
	}

	raw, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("encoding snapshot: %w", err)
	}
	_, err = r.db.ExecContext(ctx, `
        INSERT INTO threeds.transactions(tx_id, checkout_id, brand, flow, state, native_failed, outcome, snapshot, created_at, updated_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
        ON CONFLICT (tx_id) DO UPDATE
           SET flow=EXCLUDED.flow,
               state=EXCLUDED.state,
               native_failed=EXCLUDED.native_failed,
               outcome=EXCLUDED.outcome,
               snapshot=EXCLUDED.snapshot,
               updated_at=EXCLUDED.updated_at
         WHERE threeds.transactions.updated_at <= EXCLUDED.updated_at
    `, s.ID, s.CheckoutID, s.Brand, string(s.Flow), string(s.State), s.NativeFailed, s.Outcome, raw, s.CreatedAt, updatedAt(s))
	if isUniqueViolation(err) {
		return fmt.Errorf("checkout %s already has a transaction: %w", s.CheckoutID, ErrConflict)
	}
	return err
}

func (r *Repository) Get(ctx context.Context, id string) (models.Snapshot, error) {
	if r.db == nil {
		r.mu.RLock()
		defer r.mu.RUnlock()
		s, ok := r.snapshots[id]
		if !ok {
			return models.Snapshot{}, ErrNotFound
		}
		return s, nil
	}

	var raw []byte
	err := r.db.QueryRowContext(ctx, `SELECT snapshot FROM threeds.transactions WHERE tx_id=$1`, id).Scan(&raw)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.Snapshot{}, ErrNotFound
		}
		return models.Snapshot{}, err
	}
	var s models.Snapshot
	if err := json.Unmarshal(raw, &s); err != nil {
		return models.Snapshot{}, fmt.Errorf("decoding snapshot %s: %w", id, err)
	}
	return s, nil
}

// List returns the most recently updated transactions first.
func (r *Repository) List(ctx context.Context, limit int) ([]models.Snapshot, error) {
	if limit <= 0 {
		limit = 50
	}
	if r.db == nil {
		r.mu.RLock()
		out := make([]models.Snapshot, 0, len(r.snapshots))
		for _, s := range r.snapshots {
			out = append(out, s)
		}
		r.mu.RUnlock()
		sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
		if len(out) > limit {
			out = out[:limit]
		}
		return out, nil
	}

	rows, err := r.db.QueryContext(ctx, `SELECT snapshot FROM threeds.transactions ORDER BY updated_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.Snapshot
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var s models.Snapshot
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// Ping returns DB readiness
func (r *Repository) Ping(ctx context.Context) error {
	if r.db == nil {
		return nil
	}
	return r.db.PingContext(ctx)
}

func updatedAt(s models.Snapshot) time.Time {
	if s.UpdatedAt.IsZero() {
		return time.Now().UTC()
	}
	return s.UpdatedAt
}

func isUniqueViolation(err error) bool {
	var pe *pq.Error
	if errors.As(err, &pe) && pe.Code == "23505" {
		return true
	}
	var pgerr *pgconn.PgError
	if errors.As(err, &pgerr) && pgerr.Code == "23505" {
		return true
	}
	return false
}
