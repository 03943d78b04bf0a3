package escrow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const recordColumns = `id, creator_id::text, counterparty_id::text, requested_amount,
currency::text, deposit_address, status::text, time_lock, creator_confirmed,
counterparty_confirmed, risk_score, funded_at, created_at, updated_at`

// PGStore is the PostgreSQL-backed escrow record store. Mutations run inside
// the caller's transaction so a lifecycle action commits as one atomic step;
// reads go straight to the pool.
type PGStore struct {
	pool *pgxpool.Pool
}

// NewStore wires a pgxpool-backed store implementation.
func NewStore(pool *pgxpool.Pool) *PGStore {
	return &PGStore{pool: pool}
}

// NextID reserves the next monotonic escrow identifier. Sequence values are
// never reused, so identifiers stay globally unique even across rollbacks.
func (s *PGStore) NextID(ctx context.Context, tx pgx.Tx) (string, error) {
	var n int64
	if err := tx.QueryRow(ctx, `SELECT nextval('escrow_id_seq')`).Scan(&n); err != nil {
		return "", fmt.Errorf("escrow: next id: %w", err)
	}
	return fmt.Sprintf("ESC-%010d", n), nil
}

// Insert persists a freshly created record.
func (s *PGStore) Insert(ctx context.Context, tx pgx.Tx, rec Record) error {
	const insertSQL = `
        INSERT INTO escrows
            (id, creator_id, counterparty_id, requested_amount, currency,
             deposit_address, status, time_lock, created_at, updated_at)
        VALUES ($1, $2::uuid, $3::uuid, $4, $5::escrow_currency,
                $6, $7::escrow_status, $8, $9, $10)
    `
	_, err := tx.Exec(ctx, insertSQL,
		rec.ID, rec.Creator, rec.Counterparty, rec.RequestedAmount, rec.Currency,
		rec.DepositAddress, rec.Status, rec.TimeLock, rec.CreatedAt, rec.UpdatedAt)
	if err != nil {
		return fmt.Errorf("escrow: insert: %w", err)
	}
	return nil
}

// GetForUpdate loads the escrow row under a row lock, serializing every
// lifecycle action against the same identifier. Deposits and annotations are
// loaded separately.
func (s *PGStore) GetForUpdate(ctx context.Context, tx pgx.Tx, id string) (Record, error) {
	rec, err := scanRecord(tx.QueryRow(ctx, `SELECT `+recordColumns+` FROM escrows WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Record{}, ErrNotFound
		}
		return Record{}, fmt.Errorf("escrow: get for update: %w", err)
	}
	return rec, nil
}

// Update rewrites the mutable columns of the record in one statement.
func (s *PGStore) Update(ctx context.Context, tx pgx.Tx, rec Record) error {
	const updateSQL = `
        UPDATE escrows
        SET status = $1::escrow_status,
            creator_confirmed = $2,
            counterparty_confirmed = $3,
            risk_score = $4,
            funded_at = $5,
            updated_at = $6
        WHERE id = $7
    `
	tag, err := tx.Exec(ctx, updateSQL,
		rec.Status, rec.CreatorConfirmed, rec.CounterpartyConfirmed,
		rec.RiskScore, rec.FundedAt, rec.UpdatedAt, rec.ID)
	if err != nil {
		return fmt.Errorf("escrow: update: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// AppendDeposit records a proof against the escrow. Rows are append-only.
func (s *PGStore) AppendDeposit(ctx context.Context, tx pgx.Tx, id string, proof DepositProof) error {
	const insertSQL = `
        INSERT INTO escrow_deposits (escrow_id, reference, amount, confirmations, reported_at)
        VALUES ($1, $2, $3, $4, $5)
    `
	if _, err := tx.Exec(ctx, insertSQL, id, proof.Reference, proof.Amount, proof.Confirmations, proof.ReportedAt); err != nil {
		return fmt.Errorf("escrow: append deposit: %w", err)
	}
	return nil
}

// SumDeposits recomputes the cumulative deposited amount for the escrow.
func (s *PGStore) SumDeposits(ctx context.Context, tx pgx.Tx, id string) (int64, error) {
	var total int64
	if err := tx.QueryRow(ctx, `SELECT COALESCE(SUM(amount), 0) FROM escrow_deposits WHERE escrow_id = $1`, id).Scan(&total); err != nil {
		return 0, fmt.Errorf("escrow: sum deposits: %w", err)
	}
	return total, nil
}

// AppendAnnotation records a free-text tag against the escrow.
func (s *PGStore) AppendAnnotation(ctx context.Context, tx pgx.Tx, id, kind, body string) error {
	const insertSQL = `
        INSERT INTO escrow_annotations (escrow_id, kind, body)
        VALUES ($1, $2, $3)
    `
	if _, err := tx.Exec(ctx, insertSQL, id, kind, body); err != nil {
		return fmt.Errorf("escrow: append annotation: %w", err)
	}
	return nil
}

// AppendEvent appends a milestone event with a per-escrow monotonic sequence.
// Callers hold the record lock, so the MAX(seq)+1 read is race-free.
func (s *PGStore) AppendEvent(ctx context.Context, tx pgx.Tx, id, eventType, actorID string, payload map[string]any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("escrow: marshal event payload: %w", err)
	}
	var actor any
	if actorID != "" {
		actor = actorID
	}
	const insertSQL = `
        INSERT INTO escrow_events (escrow_id, seq, type, actor_id, payload)
        SELECT $1, COALESCE(MAX(seq), 0) + 1, $2, $3::uuid, $4::jsonb
        FROM escrow_events WHERE escrow_id = $1
    `
	if _, err := tx.Exec(ctx, insertSQL, id, eventType, actor, body); err != nil {
		return fmt.Errorf("escrow: append event: %w", err)
	}
	return nil
}

// ListDeposits returns the ordered deposit proofs inside the transaction.
func (s *PGStore) ListDeposits(ctx context.Context, tx pgx.Tx, id string) ([]DepositProof, error) {
	rows, err := tx.Query(ctx, `
        SELECT reference, amount, confirmations, reported_at
        FROM escrow_deposits WHERE escrow_id = $1 ORDER BY id
    `, id)
	if err != nil {
		return nil, fmt.Errorf("escrow: list deposits: %w", err)
	}
	defer rows.Close()

	out := []DepositProof{}
	for rows.Next() {
		var d DepositProof
		if err := rows.Scan(&d.Reference, &d.Amount, &d.Confirmations, &d.ReportedAt); err != nil {
			return nil, fmt.Errorf("escrow: scan deposit: %w", err)
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("escrow: iterate deposits: %w", err)
	}
	return out, nil
}

// ListAnnotations returns the ordered annotations inside the transaction.
func (s *PGStore) ListAnnotations(ctx context.Context, tx pgx.Tx, id string) ([]Annotation, error) {
	rows, err := tx.Query(ctx, `
        SELECT kind, body, created_at
        FROM escrow_annotations WHERE escrow_id = $1 ORDER BY id
    `, id)
	if err != nil {
		return nil, fmt.Errorf("escrow: list annotations: %w", err)
	}
	defer rows.Close()

	out := []Annotation{}
	for rows.Next() {
		var a Annotation
		if err := rows.Scan(&a.Kind, &a.Body, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("escrow: scan annotation: %w", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("escrow: iterate annotations: %w", err)
	}
	return out, nil
}

// Get fetches a full record, deposits and annotations included.
func (s *PGStore) Get(ctx context.Context, id string) (Record, error) {
	rec, err := scanRecord(s.pool.QueryRow(ctx, `SELECT `+recordColumns+` FROM escrows WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Record{}, ErrNotFound
		}
		return Record{}, fmt.Errorf("escrow: get: %w", err)
	}

	if rec.Deposits, err = s.poolDeposits(ctx, id); err != nil {
		return Record{}, err
	}
	if rec.Annotations, err = s.poolAnnotations(ctx, id); err != nil {
		return Record{}, err
	}
	return rec, nil
}

// ListByParticipant returns every record where the user is creator or
// counterparty, newest first.
func (s *PGStore) ListByParticipant(ctx context.Context, userID string) ([]Record, error) {
	return s.list(ctx, `
        SELECT `+recordColumns+` FROM escrows
        WHERE creator_id = $1::uuid OR counterparty_id = $1::uuid
        ORDER BY created_at DESC
    `, userID)
}

// ListByStatus returns every record currently in the given status.
func (s *PGStore) ListByStatus(ctx context.Context, status Status) ([]Record, error) {
	return s.list(ctx, `
        SELECT `+recordColumns+` FROM escrows
        WHERE status = $1::escrow_status
        ORDER BY created_at DESC
    `, status)
}

// CountAll returns the total number of escrow records.
func (s *PGStore) CountAll(ctx context.Context) (int64, error) {
	var total int64
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM escrows`).Scan(&total); err != nil {
		return 0, fmt.Errorf("escrow: count: %w", err)
	}
	return total, nil
}

func (s *PGStore) list(ctx context.Context, query string, args ...any) ([]Record, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("escrow: list: %w", err)
	}
	defer rows.Close()

	out := []Record{}
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("escrow: scan record: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("escrow: iterate records: %w", err)
	}
	return out, nil
}

func (s *PGStore) poolDeposits(ctx context.Context, id string) ([]DepositProof, error) {
	rows, err := s.pool.Query(ctx, `
        SELECT reference, amount, confirmations, reported_at
        FROM escrow_deposits WHERE escrow_id = $1 ORDER BY id
    `, id)
	if err != nil {
		return nil, fmt.Errorf("escrow: list deposits: %w", err)
	}
	defer rows.Close()

	out := []DepositProof{}
	for rows.Next() {
		var d DepositProof
		if err := rows.Scan(&d.Reference, &d.Amount, &d.Confirmations, &d.ReportedAt); err != nil {
			return nil, fmt.Errorf("escrow: scan deposit: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (s *PGStore) poolAnnotations(ctx context.Context, id string) ([]Annotation, error) {
	rows, err := s.pool.Query(ctx, `
        SELECT kind, body, created_at
        FROM escrow_annotations WHERE escrow_id = $1 ORDER BY id
    `, id)
	if err != nil {
		return nil, fmt.Errorf("escrow: list annotations: %w", err)
	}
	defer rows.Close()

	out := []Annotation{}
	for rows.Next() {
		var a Annotation
		if err := rows.Scan(&a.Kind, &a.Body, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("escrow: scan annotation: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func scanRecord(row pgx.Row) (Record, error) {
	var rec Record
	err := row.Scan(
		&rec.ID,
		&rec.Creator,
		&rec.Counterparty,
		&rec.RequestedAmount,
		&rec.Currency,
		&rec.DepositAddress,
		&rec.Status,
		&rec.TimeLock,
		&rec.CreatorConfirmed,
		&rec.CounterpartyConfirmed,
		&rec.RiskScore,
		&rec.FundedAt,
		&rec.CreatedAt,
		&rec.UpdatedAt,
	)
	if err != nil {
		return Record{}, err
	}
	return rec, nil
}
