package dispute

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const recordColumns = `id::text, escrow_id, raised_by::text, reason, status::text,
outcome::text, resolution, resolved_by::text, created_at, updated_at, resolved_at`

// Repository provides access to dispute records. Open and Resolve run inside
// the escrow engine's transaction so the nested dispute lifecycle commits
// atomically with the escrow status transition; reads go through the pool.
type Repository struct {
	pool        *pgxpool.Pool
	idGenerator func() string
	now         func() time.Time
}

// NewRepository wires a pgxpool-backed dispute repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{
		pool:        pool,
		idGenerator: func() string { return uuid.NewString() },
		now:         time.Now,
	}
}

// WithIDGenerator overrides dispute ID generation, primarily for tests.
func (r *Repository) WithIDGenerator(gen func() string) *Repository {
	r.idGenerator = gen
	return r
}

// WithClock overrides the time source, primarily for tests.
func (r *Repository) WithClock(now func() time.Time) *Repository {
	r.now = now
	return r
}

// Open records a new open dispute for the escrow inside the given
// transaction. A partial unique index guarantees at most one open dispute per
// escrow; hitting it means the caller lost a race it should never be in,
// since the escrow row is locked.
func (r *Repository) Open(ctx context.Context, tx pgx.Tx, escrowID, raisedBy, reason string) (Record, error) {
	const insertSQL = `
        INSERT INTO disputes (id, escrow_id, raised_by, reason, created_at, updated_at)
        VALUES ($1::uuid, $2, $3::uuid, $4, $5, $5)
        RETURNING ` + recordColumns

	rec, err := scanRecord(tx.QueryRow(ctx, insertSQL, r.idGenerator(), escrowID, raisedBy, reason, r.now()))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return Record{}, fmt.Errorf("dispute: open dispute already exists for %s", escrowID)
		}
		return Record{}, fmt.Errorf("dispute: open: %w", err)
	}
	return rec, nil
}

// Resolve closes the open dispute for the escrow with a terminal outcome.
func (r *Repository) Resolve(ctx context.Context, tx pgx.Tx, escrowID string, outcome Outcome, resolution, resolvedBy string) (Record, error) {
	if !outcome.Valid() {
		return Record{}, fmt.Errorf("dispute: invalid outcome %q", outcome)
	}

	const updateSQL = `
        UPDATE disputes
        SET status = 'resolved',
            outcome = $1::dispute_outcome,
            resolution = $2,
            resolved_by = $3::uuid,
            resolved_at = $4,
            updated_at = $4
        WHERE escrow_id = $5 AND status = 'open'
        RETURNING ` + recordColumns

	rec, err := scanRecord(tx.QueryRow(ctx, updateSQL, outcome, resolution, resolvedBy, r.now(), escrowID))
	if err == nil {
		return rec, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return Record{}, fmt.Errorf("dispute: resolve: %w", err)
	}

	var exists bool
	if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM disputes WHERE escrow_id = $1)`, escrowID).Scan(&exists); err != nil {
		return Record{}, fmt.Errorf("dispute: resolve fetch: %w", err)
	}
	if exists {
		return Record{}, ErrAlreadyResolved
	}
	return Record{}, ErrNoOpenDispute
}

// Get fetches a dispute by its identifier.
func (r *Repository) Get(ctx context.Context, id string) (Record, error) {
	rec, err := scanRecord(r.pool.QueryRow(ctx, `SELECT `+recordColumns+` FROM disputes WHERE id = $1::uuid`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Record{}, ErrNotFound
		}
		return Record{}, fmt.Errorf("dispute: get: %w", err)
	}
	return rec, nil
}

// ListByEscrow returns the dispute history for one escrow, newest first.
func (r *Repository) ListByEscrow(ctx context.Context, escrowID string) ([]Record, error) {
	rows, err := r.pool.Query(ctx, `
        SELECT `+recordColumns+` FROM disputes
        WHERE escrow_id = $1 ORDER BY created_at DESC
    `, escrowID)
	if err != nil {
		return nil, fmt.Errorf("dispute: list: %w", err)
	}
	defer rows.Close()

	out := make([]Record, 0, 4)
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("dispute: scan: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("dispute: iterate: %w", err)
	}
	return out, nil
}

func scanRecord(row pgx.Row) (Record, error) {
	var (
		rec     Record
		outcome *string
	)
	err := row.Scan(
		&rec.ID,
		&rec.EscrowID,
		&rec.RaisedBy,
		&rec.Reason,
		&rec.Status,
		&outcome,
		&rec.Resolution,
		&rec.ResolvedBy,
		&rec.CreatedAt,
		&rec.UpdatedAt,
		&rec.ResolvedAt,
	)
	if err != nil {
		return Record{}, err
	}
	if outcome != nil {
		o := Outcome(*outcome)
		rec.Outcome = &o
	}
	return rec, nil
}
