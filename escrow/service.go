package escrow

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"dealvault/dispute"
)

// Outbox topics published on lifecycle milestones. The feedback worker fans
// these out to the reputation and risk collaborators.
const (
	TopicCreated   = "escrow.created"
	TopicFunded    = "escrow.funded"
	TopicDelivered = "escrow.delivered"
	TopicReleased  = "escrow.released"
	TopicRefunded  = "escrow.refunded"
	TopicDisputed  = "escrow.disputed"
	TopicResolved  = "escrow.resolved"
)

// Milestone event types appended to the per-escrow event log.
const (
	EventCreated           = "ESCROW_CREATED"
	EventDepositReported   = "DEPOSIT_REPORTED"
	EventFunded            = "ESCROW_FUNDED"
	EventDeliveryConfirmed = "DELIVERY_CONFIRMED"
	EventDelivered         = "ESCROW_DELIVERED"
	EventReleased          = "ESCROW_RELEASED"
	EventRefunded          = "ESCROW_REFUNDED"
	EventDisputed          = "ESCROW_DISPUTED"
	EventResolved          = "DISPUTE_RESOLVED"
	EventRiskAttached      = "RISK_ATTACHED"
)

// TxBeginner abstracts pgxpool.Pool for testability.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Store is the record store contract the engine mutates through. All methods
// except the pool reads operate inside the engine's transaction.
type Store interface {
	NextID(ctx context.Context, tx pgx.Tx) (string, error)
	Insert(ctx context.Context, tx pgx.Tx, rec Record) error
	GetForUpdate(ctx context.Context, tx pgx.Tx, id string) (Record, error)
	Update(ctx context.Context, tx pgx.Tx, rec Record) error
	AppendDeposit(ctx context.Context, tx pgx.Tx, id string, proof DepositProof) error
	SumDeposits(ctx context.Context, tx pgx.Tx, id string) (int64, error)
	AppendAnnotation(ctx context.Context, tx pgx.Tx, id, kind, body string) error
	AppendEvent(ctx context.Context, tx pgx.Tx, id, eventType, actorID string, payload map[string]any) error
	ListDeposits(ctx context.Context, tx pgx.Tx, id string) ([]DepositProof, error)
	ListAnnotations(ctx context.Context, tx pgx.Tx, id string) ([]Annotation, error)
}

// Reader is the side-effect-free query surface.
type Reader interface {
	Get(ctx context.Context, id string) (Record, error)
	ListByParticipant(ctx context.Context, userID string) ([]Record, error)
	ListByStatus(ctx context.Context, status Status) ([]Record, error)
	CountAll(ctx context.Context) (int64, error)
}

// DisputeStore is the slice of the dispute subsystem the engine drives from
// inside its transaction.
type DisputeStore interface {
	Open(ctx context.Context, tx pgx.Tx, escrowID, raisedBy, reason string) (dispute.Record, error)
	Resolve(ctx context.Context, tx pgx.Tx, escrowID string, outcome dispute.Outcome, resolution, resolvedBy string) (dispute.Record, error)
}

// OutboxWriter enqueues feedback notifications in the engine's transaction.
type OutboxWriter interface {
	Enqueue(ctx context.Context, tx pgx.Tx, topic string, payload map[string]any) error
}

// Service is the escrow lifecycle engine. Every action locks the record row,
// validates the guard, rewrites the record and appends events and outbox
// messages in one transaction.
type Service struct {
	pool     TxBeginner
	store    Store
	reader   Reader
	disputes DisputeStore
	outbox   OutboxWriter
	now      func() time.Time
}

// NewService wires the lifecycle engine. Production callers pass the same
// *PGStore as store and reader.
func NewService(pool TxBeginner, store Store, reader Reader, disputes DisputeStore, outbox OutboxWriter) *Service {
	return &Service{
		pool:     pool,
		store:    store,
		reader:   reader,
		disputes: disputes,
		outbox:   outbox,
		now:      time.Now,
	}
}

// WithClock overrides the time source, primarily for time-lock tests.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// CreateParams carries the caller-supplied fields of a new escrow.
type CreateParams struct {
	Counterparty string
	Amount       int64
	Currency     Currency
	TimeLock     *time.Time
}

// Create opens a new escrow between the caller and the counterparty and
// derives its deposit address.
func (s *Service) Create(ctx context.Context, caller string, params CreateParams) (Record, error) {
	if params.Amount <= 0 {
		return Record{}, ErrInvalidAmount
	}
	if caller == "" || params.Counterparty == "" {
		return Record{}, fmt.Errorf("escrow: missing party identity")
	}
	if caller == params.Counterparty {
		return Record{}, fmt.Errorf("escrow: creator and counterparty must differ: %w", ErrUnauthorized)
	}
	if params.Currency != CurrencyBTC && params.Currency != CurrencyCkBTC {
		return Record{}, fmt.Errorf("escrow: unsupported currency %q", params.Currency)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Record{}, fmt.Errorf("escrow: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	id, err := s.store.NextID(ctx, tx)
	if err != nil {
		return Record{}, err
	}

	now := s.now()
	rec := Record{
		ID:              id,
		Creator:         caller,
		Counterparty:    params.Counterparty,
		RequestedAmount: params.Amount,
		Currency:        params.Currency,
		DepositAddress:  DepositAddress(id, params.Currency),
		Status:          StatusCreated,
		TimeLock:        params.TimeLock,
		CreatedAt:       now,
		UpdatedAt:       now,
		Deposits:        []DepositProof{},
		Annotations:     []Annotation{},
	}

	if err := s.store.Insert(ctx, tx, rec); err != nil {
		return Record{}, err
	}
	if err := s.store.AppendEvent(ctx, tx, id, EventCreated, caller, map[string]any{
		"counterparty_id":  params.Counterparty,
		"requested_amount": params.Amount,
		"currency":         params.Currency,
	}); err != nil {
		return Record{}, err
	}
	if err := s.outbox.Enqueue(ctx, tx, TopicCreated, map[string]any{
		"escrow_id":       id,
		"creator_id":      caller,
		"counterparty_id": params.Counterparty,
	}); err != nil {
		return Record{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Record{}, fmt.Errorf("escrow: commit create: %w", err)
	}
	return rec, nil
}

// ReportDeposit appends a deposit proof and recomputes the funding total.
// Crossing the requested amount while still in Created advances the record to
// Funded; proofs arriving later are kept for audit without transitioning.
func (s *Service) ReportDeposit(ctx context.Context, id string, proof DepositProof) (Record, error) {
	if proof.Amount <= 0 {
		return Record{}, ErrInvalidAmount
	}

	return s.mutate(ctx, id, func(ctx context.Context, tx pgx.Tx, rec *Record) error {
		now := s.now()
		proof.ReportedAt = now
		if err := s.store.AppendDeposit(ctx, tx, id, proof); err != nil {
			return err
		}
		if err := s.store.AppendEvent(ctx, tx, id, EventDepositReported, "", map[string]any{
			"reference": proof.Reference,
			"amount":    proof.Amount,
		}); err != nil {
			return err
		}

		total, err := s.store.SumDeposits(ctx, tx, id)
		if err != nil {
			return err
		}

		rec.UpdatedAt = now
		if rec.Status == StatusCreated && total >= rec.RequestedAmount {
			if err := advance(rec, StatusFunded, now); err != nil {
				return err
			}
			rec.FundedAt = &now
			if err := s.store.AppendEvent(ctx, tx, id, EventFunded, "", map[string]any{
				"total_deposited":  total,
				"requested_amount": rec.RequestedAmount,
			}); err != nil {
				return err
			}
			if err := s.outbox.Enqueue(ctx, tx, TopicFunded, map[string]any{
				"escrow_id":       id,
				"total_deposited": total,
			}); err != nil {
				return err
			}
		}
		return s.store.Update(ctx, tx, *rec)
	})
}

// ConfirmDelivery records the caller's delivery confirmation. Once both
// parties have confirmed the record advances to Delivered.
func (s *Service) ConfirmDelivery(ctx context.Context, caller, id string) (Record, error) {
	return s.mutate(ctx, id, func(ctx context.Context, tx pgx.Tx, rec *Record) error {
		if !rec.Participant(caller) {
			return ErrUnauthorized
		}
		if rec.Status != StatusFunded {
			return ErrInvalidStatus
		}

		switch caller {
		case rec.Creator:
			if rec.CreatorConfirmed {
				return ErrAlreadyConfirmed
			}
			rec.CreatorConfirmed = true
		default:
			if rec.CounterpartyConfirmed {
				return ErrAlreadyConfirmed
			}
			rec.CounterpartyConfirmed = true
		}

		now := s.now()
		rec.UpdatedAt = now
		if err := s.store.AppendEvent(ctx, tx, id, EventDeliveryConfirmed, caller, nil); err != nil {
			return err
		}

		if rec.CreatorConfirmed && rec.CounterpartyConfirmed {
			if err := advance(rec, StatusDelivered, now); err != nil {
				return err
			}
			if err := s.store.AppendEvent(ctx, tx, id, EventDelivered, caller, nil); err != nil {
				return err
			}
			if err := s.outbox.Enqueue(ctx, tx, TopicDelivered, map[string]any{
				"escrow_id": id,
			}); err != nil {
				return err
			}
		}
		return s.store.Update(ctx, tx, *rec)
	})
}

// RequestRelease releases the escrow when it is delivered, or funded with an
// elapsed time-lock. Eligibility is computed at request time, never queued.
func (s *Service) RequestRelease(ctx context.Context, caller, id string) (Record, error) {
	return s.mutate(ctx, id, func(ctx context.Context, tx pgx.Tx, rec *Record) error {
		if !rec.Participant(caller) {
			return ErrUnauthorized
		}
		now := s.now()
		if !ReleaseEligible(*rec, now) {
			return ErrInvalidStatus
		}
		if err := advance(rec, StatusReleased, now); err != nil {
			return err
		}
		if err := s.store.AppendEvent(ctx, tx, id, EventReleased, caller, nil); err != nil {
			return err
		}
		if err := s.outbox.Enqueue(ctx, tx, TopicReleased, releaseFacts(*rec, now)); err != nil {
			return err
		}
		return s.store.Update(ctx, tx, *rec)
	})
}

// ForceRefund refunds the escrow before delivery. Only the creator may force
// a refund, and only from Created or Funded.
func (s *Service) ForceRefund(ctx context.Context, caller, id, reason string) (Record, error) {
	return s.mutate(ctx, id, func(ctx context.Context, tx pgx.Tx, rec *Record) error {
		if caller != rec.Creator {
			return ErrUnauthorized
		}
		if rec.Status != StatusCreated && rec.Status != StatusFunded {
			return ErrInvalidStatus
		}
		now := s.now()
		if err := advance(rec, StatusRefunded, now); err != nil {
			return err
		}
		if err := s.store.AppendAnnotation(ctx, tx, id, AnnotationRefundReason, reason); err != nil {
			return err
		}
		if err := s.store.AppendEvent(ctx, tx, id, EventRefunded, caller, map[string]any{
			"reason": reason,
		}); err != nil {
			return err
		}
		if err := s.outbox.Enqueue(ctx, tx, TopicRefunded, map[string]any{
			"escrow_id":  id,
			"creator_id": rec.Creator,
			"reason":     reason,
		}); err != nil {
			return err
		}
		return s.store.Update(ctx, tx, *rec)
	})
}

// RaiseDispute moves a funded or delivered escrow to Disputed and opens the
// nested dispute record.
func (s *Service) RaiseDispute(ctx context.Context, caller, id, reason string) (Record, error) {
	return s.mutate(ctx, id, func(ctx context.Context, tx pgx.Tx, rec *Record) error {
		if !rec.Participant(caller) {
			return ErrUnauthorized
		}
		if rec.Status != StatusFunded && rec.Status != StatusDelivered {
			return ErrInvalidStatus
		}
		now := s.now()
		if err := advance(rec, StatusDisputed, now); err != nil {
			return err
		}
		if _, err := s.disputes.Open(ctx, tx, id, caller, reason); err != nil {
			return err
		}
		if err := s.store.AppendAnnotation(ctx, tx, id, AnnotationDisputeReason, reason); err != nil {
			return err
		}
		if err := s.store.AppendEvent(ctx, tx, id, EventDisputed, caller, map[string]any{
			"reason": reason,
		}); err != nil {
			return err
		}
		if err := s.outbox.Enqueue(ctx, tx, TopicDisputed, map[string]any{
			"escrow_id":       id,
			"raised_by":       caller,
			"creator_id":      rec.Creator,
			"counterparty_id": rec.Counterparty,
			"reason":          reason,
		}); err != nil {
			return err
		}
		return s.store.Update(ctx, tx, *rec)
	})
}

// ResolveDispute closes a disputed escrow with a terminal outcome decided by
// the resolver. The resolution text is recorded as an annotation only.
func (s *Service) ResolveDispute(ctx context.Context, resolver, id string, outcome dispute.Outcome, resolution string) (Record, error) {
	if !outcome.Valid() {
		return Record{}, fmt.Errorf("escrow: invalid resolution outcome %q", outcome)
	}

	return s.mutate(ctx, id, func(ctx context.Context, tx pgx.Tx, rec *Record) error {
		if rec.Status != StatusDisputed {
			return ErrInvalidStatus
		}
		target := StatusRefunded
		if outcome == dispute.OutcomeRelease {
			target = StatusReleased
		}
		now := s.now()
		if err := advance(rec, target, now); err != nil {
			return err
		}
		if _, err := s.disputes.Resolve(ctx, tx, id, outcome, resolution, resolver); err != nil {
			return err
		}
		if err := s.store.AppendAnnotation(ctx, tx, id, AnnotationResolution, resolution); err != nil {
			return err
		}
		if err := s.store.AppendEvent(ctx, tx, id, EventResolved, resolver, map[string]any{
			"outcome": outcome,
		}); err != nil {
			return err
		}
		payload := map[string]any{
			"escrow_id":       id,
			"outcome":         outcome,
			"creator_id":      rec.Creator,
			"counterparty_id": rec.Counterparty,
			"resolved_by":     resolver,
		}
		if target == StatusReleased {
			payload["release_facts"] = releaseFacts(*rec, now)
		}
		if err := s.outbox.Enqueue(ctx, tx, TopicResolved, payload); err != nil {
			return err
		}
		return s.store.Update(ctx, tx, *rec)
	})
}

// AttachRisk records an external risk assessment. Accepted in any status;
// repeated calls overwrite the score and append the tags.
func (s *Service) AttachRisk(ctx context.Context, id string, score int16, tags []string) (Record, error) {
	if score < 0 || score > 100 {
		return Record{}, fmt.Errorf("escrow: risk score %d out of range", score)
	}

	return s.mutate(ctx, id, func(ctx context.Context, tx pgx.Tx, rec *Record) error {
		rec.RiskScore = &score
		rec.UpdatedAt = s.now()
		for _, tag := range tags {
			if err := s.store.AppendAnnotation(ctx, tx, id, AnnotationRiskTag, tag); err != nil {
				return err
			}
		}
		if err := s.store.AppendEvent(ctx, tx, id, EventRiskAttached, "", map[string]any{
			"risk_score": score,
			"tags":       tags,
		}); err != nil {
			return err
		}
		return s.store.Update(ctx, tx, *rec)
	})
}

// Get fetches a single record.
func (s *Service) Get(ctx context.Context, id string) (Record, error) {
	return s.reader.Get(ctx, id)
}

// ListByParticipant returns all escrows the user is party to.
func (s *Service) ListByParticipant(ctx context.Context, userID string) ([]Record, error) {
	return s.reader.ListByParticipant(ctx, userID)
}

// ListByStatus returns all escrows currently in the given status.
func (s *Service) ListByStatus(ctx context.Context, status Status) ([]Record, error) {
	if !ValidStatus(status) {
		return nil, fmt.Errorf("escrow: unknown status %q", status)
	}
	return s.reader.ListByStatus(ctx, status)
}

// CountAll returns the total number of escrows ever created.
func (s *Service) CountAll(ctx context.Context) (int64, error) {
	return s.reader.CountAll(ctx)
}

// mutate runs one lifecycle action: lock the record, apply fn, reload the
// proofs and annotations, commit. fn sees and edits the locked record.
func (s *Service) mutate(ctx context.Context, id string, fn func(ctx context.Context, tx pgx.Tx, rec *Record) error) (Record, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Record{}, fmt.Errorf("escrow: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	rec, err := s.store.GetForUpdate(ctx, tx, id)
	if err != nil {
		return Record{}, err
	}
	if err := fn(ctx, tx, &rec); err != nil {
		return Record{}, err
	}

	if rec.Deposits, err = s.store.ListDeposits(ctx, tx, id); err != nil {
		return Record{}, err
	}
	if rec.Annotations, err = s.store.ListAnnotations(ctx, tx, id); err != nil {
		return Record{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Record{}, fmt.Errorf("escrow: commit: %w", err)
	}
	return rec, nil
}

// releaseFacts builds the reputation payload for a release: both parties and
// the elapsed time from funding to release.
func releaseFacts(rec Record, releasedAt time.Time) map[string]any {
	payload := map[string]any{
		"escrow_id":       rec.ID,
		"creator_id":      rec.Creator,
		"counterparty_id": rec.Counterparty,
		"released_at":     releasedAt.UTC(),
	}
	if rec.FundedAt != nil {
		payload["funded_at"] = rec.FundedAt.UTC()
		payload["elapsed_seconds"] = int64(releasedAt.Sub(*rec.FundedAt).Seconds())
	}
	return payload
}
