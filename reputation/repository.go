package reputation

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound signals the user has no reputation profile yet.
var ErrNotFound = errors.New("reputation: not found")

const profileColumns = `user_id::text, completed_deals, dispute_count, trust_score, updated_at`

// Repository maintains reputation profiles.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository wires a pgxpool-backed repository implementation.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Get fetches a single profile.
func (r *Repository) Get(ctx context.Context, userID string) (Profile, error) {
	p, err := scanProfile(r.pool.QueryRow(ctx, `SELECT `+profileColumns+` FROM reputation_profiles WHERE user_id = $1::uuid`, userID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Profile{}, ErrNotFound
		}
		return Profile{}, fmt.Errorf("reputation: get: %w", err)
	}
	return p, nil
}

// Top returns up to limit profiles ordered by trust score.
func (r *Repository) Top(ctx context.Context, limit int) ([]Profile, error) {
	if limit <= 0 || limit > 100 {
		limit = 100
	}

	rows, err := r.pool.Query(ctx, `
        SELECT `+profileColumns+` FROM reputation_profiles
        ORDER BY trust_score DESC, completed_deals DESC
        LIMIT $1
    `, limit)
	if err != nil {
		return nil, fmt.Errorf("reputation: top: %w", err)
	}
	defer rows.Close()

	out := make([]Profile, 0, limit)
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, fmt.Errorf("reputation: scan profile: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reputation: iterate profiles: %w", err)
	}
	return out, nil
}

// RecordCompletedDeal credits the user with a completed escrow.
func (r *Repository) RecordCompletedDeal(ctx context.Context, userID string) error {
	return r.adjust(ctx, userID, func(p *Profile) {
		p.CompletedDeals++
	})
}

// RecordDispute debits the user with a resolved dispute.
func (r *Repository) RecordDispute(ctx context.Context, userID string) error {
	return r.adjust(ctx, userID, func(p *Profile) {
		p.DisputeCount++
	})
}

// adjust applies fn to the locked profile, creating it on first touch, and
// recomputes the trust score.
func (r *Repository) adjust(ctx context.Context, userID string, fn func(*Profile)) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("reputation: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `
        INSERT INTO reputation_profiles (user_id) VALUES ($1::uuid)
        ON CONFLICT (user_id) DO NOTHING
    `, userID); err != nil {
		return fmt.Errorf("reputation: ensure profile: %w", err)
	}

	p, err := scanProfile(tx.QueryRow(ctx, `SELECT `+profileColumns+` FROM reputation_profiles WHERE user_id = $1::uuid FOR UPDATE`, userID))
	if err != nil {
		return fmt.Errorf("reputation: lock profile: %w", err)
	}

	fn(&p)
	p.TrustScore = TrustScore(p.CompletedDeals, p.DisputeCount)

	if _, err := tx.Exec(ctx, `
        UPDATE reputation_profiles
        SET completed_deals = $1, dispute_count = $2, trust_score = $3, updated_at = now()
        WHERE user_id = $4::uuid
    `, p.CompletedDeals, p.DisputeCount, p.TrustScore, userID); err != nil {
		return fmt.Errorf("reputation: update profile: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("reputation: commit: %w", err)
	}
	return nil
}

func scanProfile(row pgx.Row) (Profile, error) {
	var p Profile
	err := row.Scan(&p.UserID, &p.CompletedDeals, &p.DisputeCount, &p.TrustScore, &p.UpdatedAt)
	if err != nil {
		return Profile{}, err
	}
	return p, nil
}
