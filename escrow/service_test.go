package escrow

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"dealvault/dispute"
)

const (
	userA = "11111111-1111-1111-1111-111111111111"
	userB = "22222222-2222-2222-2222-222222222222"
	userC = "33333333-3333-3333-3333-333333333333"
)

func TestCreate(t *testing.T) {
	eng, env := newTestEngine(t)

	rec, err := eng.Create(context.Background(), userA, CreateParams{
		Counterparty: userB,
		Amount:       100_000,
		Currency:     CurrencyBTC,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if rec.ID != "ESC-0000000001" {
		t.Fatalf("expected first monotonic id, got %q", rec.ID)
	}
	if rec.Status != StatusCreated {
		t.Fatalf("expected status created, got %s", rec.Status)
	}
	if rec.DepositAddress != DepositAddress(rec.ID, CurrencyBTC) {
		t.Fatalf("deposit address not derived from id+currency: %q", rec.DepositAddress)
	}
	if got := env.outbox.topics(); len(got) != 1 || got[0] != TopicCreated {
		t.Fatalf("expected [%s] enqueued, got %v", TopicCreated, got)
	}
	if !env.pool.tx.committed {
		t.Fatal("expected create transaction to commit")
	}
}

func TestCreateValidation(t *testing.T) {
	eng, _ := newTestEngine(t)
	ctx := context.Background()

	if _, err := eng.Create(ctx, userA, CreateParams{Counterparty: userB, Amount: 0, Currency: CurrencyBTC}); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("zero amount: expected ErrInvalidAmount, got %v", err)
	}
	if _, err := eng.Create(ctx, userA, CreateParams{Counterparty: userA, Amount: 1, Currency: CurrencyBTC}); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("self-deal: expected ErrUnauthorized, got %v", err)
	}
	if _, err := eng.Create(ctx, userA, CreateParams{Counterparty: userB, Amount: 1, Currency: "DOGE"}); err == nil {
		t.Fatal("expected error for unsupported currency")
	}
}

func TestFundingAccumulates(t *testing.T) {
	eng, env := newTestEngine(t)
	ctx := context.Background()
	id := mustCreate(t, eng, 100_000)

	rec, err := eng.ReportDeposit(ctx, id, DepositProof{Reference: "tx-1", Amount: 60_000, Confirmations: 2})
	if err != nil {
		t.Fatalf("first deposit: %v", err)
	}
	if rec.Status != StatusCreated {
		t.Fatalf("expected created after partial funding, got %s", rec.Status)
	}
	if rec.DepositedTotal() != 60_000 {
		t.Fatalf("expected total 60000, got %d", rec.DepositedTotal())
	}

	rec, err = eng.ReportDeposit(ctx, id, DepositProof{Reference: "tx-2", Amount: 40_000, Confirmations: 1})
	if err != nil {
		t.Fatalf("second deposit: %v", err)
	}
	if rec.Status != StatusFunded {
		t.Fatalf("expected funded, got %s", rec.Status)
	}
	if rec.DepositedTotal() != 100_000 {
		t.Fatalf("expected total 100000, got %d", rec.DepositedTotal())
	}
	if rec.FundedAt == nil {
		t.Fatal("expected funded_at to be set")
	}
	if got := env.outbox.topics(); got[len(got)-1] != TopicFunded {
		t.Fatalf("expected %s enqueued, got %v", TopicFunded, got)
	}
}

func TestDepositsAfterFundedAreAuditOnly(t *testing.T) {
	eng, env := newTestEngine(t)
	ctx := context.Background()
	id := mustFund(t, eng, 100_000)

	before := len(env.outbox.topics())
	rec, err := eng.ReportDeposit(ctx, id, DepositProof{Reference: "tx-late", Amount: 25_000})
	if err != nil {
		t.Fatalf("late deposit: %v", err)
	}
	if rec.Status != StatusFunded {
		t.Fatalf("late deposit must not transition, got %s", rec.Status)
	}
	if rec.DepositedTotal() != 125_000 {
		t.Fatalf("over-funding must be recorded, got total %d", rec.DepositedTotal())
	}
	if len(env.outbox.topics()) != before {
		t.Fatal("late deposit must not enqueue a funded notification")
	}
}

func TestReportDepositErrors(t *testing.T) {
	eng, _ := newTestEngine(t)
	ctx := context.Background()

	if _, err := eng.ReportDeposit(ctx, "ESC-0000009999", DepositProof{Reference: "x", Amount: 1}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	id := mustCreate(t, eng, 100)
	if _, err := eng.ReportDeposit(ctx, id, DepositProof{Reference: "x", Amount: 0}); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount, got %v", err)
	}
}

func TestConfirmDelivery(t *testing.T) {
	eng, env := newTestEngine(t)
	ctx := context.Background()
	id := mustFund(t, eng, 1_000)

	if _, err := eng.ConfirmDelivery(ctx, userC, id); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("stranger: expected ErrUnauthorized, got %v", err)
	}

	rec, err := eng.ConfirmDelivery(ctx, userA, id)
	if err != nil {
		t.Fatalf("creator confirm: %v", err)
	}
	if rec.Status != StatusFunded || !rec.CreatorConfirmed || rec.CounterpartyConfirmed {
		t.Fatalf("after one confirmation: status=%s creator=%v counterparty=%v", rec.Status, rec.CreatorConfirmed, rec.CounterpartyConfirmed)
	}

	if _, err := eng.ConfirmDelivery(ctx, userA, id); !errors.Is(err, ErrAlreadyConfirmed) {
		t.Fatalf("duplicate: expected ErrAlreadyConfirmed, got %v", err)
	}
	if got := env.store.records[id].Status; got != StatusFunded {
		t.Fatalf("duplicate confirmation must leave status unchanged, got %s", got)
	}

	rec, err = eng.ConfirmDelivery(ctx, userB, id)
	if err != nil {
		t.Fatalf("counterparty confirm: %v", err)
	}
	if rec.Status != StatusDelivered {
		t.Fatalf("expected delivered after both confirmations, got %s", rec.Status)
	}
	if got := env.outbox.topics(); got[len(got)-1] != TopicDelivered {
		t.Fatalf("expected %s enqueued, got %v", TopicDelivered, got)
	}
}

func TestConfirmDeliveryRequiresFunded(t *testing.T) {
	eng, _ := newTestEngine(t)
	id := mustCreate(t, eng, 1_000)

	if _, err := eng.ConfirmDelivery(context.Background(), userA, id); !errors.Is(err, ErrInvalidStatus) {
		t.Fatalf("expected ErrInvalidStatus on created escrow, got %v", err)
	}
}

func TestReleaseAfterDelivery(t *testing.T) {
	eng, env := newTestEngine(t)
	ctx := context.Background()
	id := mustDeliver(t, eng)

	rec, err := eng.RequestRelease(ctx, userB, id)
	if err != nil {
		t.Fatalf("release: %v", err)
	}
	if rec.Status != StatusReleased {
		t.Fatalf("expected released, got %s", rec.Status)
	}

	msg := env.outbox.last()
	if msg.topic != TopicReleased {
		t.Fatalf("expected %s, got %s", TopicReleased, msg.topic)
	}
	if msg.payload["creator_id"] != userA || msg.payload["counterparty_id"] != userB {
		t.Fatalf("release facts must carry both parties: %v", msg.payload)
	}
	if _, ok := msg.payload["elapsed_seconds"]; !ok {
		t.Fatalf("release facts must carry funded-to-released elapsed time: %v", msg.payload)
	}
}

func TestReleaseTimeLockBoundary(t *testing.T) {
	eng, env := newTestEngine(t)
	ctx := context.Background()

	lock := env.clock.now.Add(time.Hour)
	rec, err := eng.Create(ctx, userA, CreateParams{
		Counterparty: userB,
		Amount:       1_000,
		Currency:     CurrencyCkBTC,
		TimeLock:     &lock,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := eng.ReportDeposit(ctx, rec.ID, DepositProof{Reference: "tx", Amount: 1_000}); err != nil {
		t.Fatalf("fund: %v", err)
	}

	env.clock.now = lock.Add(-time.Second)
	if _, err := eng.RequestRelease(ctx, userA, rec.ID); !errors.Is(err, ErrInvalidStatus) {
		t.Fatalf("before lock: expected ErrInvalidStatus, got %v", err)
	}

	env.clock.now = lock
	got, err := eng.RequestRelease(ctx, userA, rec.ID)
	if err != nil {
		t.Fatalf("at lock instant: %v", err)
	}
	if got.Status != StatusReleased {
		t.Fatalf("expected released at lock instant, got %s", got.Status)
	}
}

func TestReleaseRequiresEligibility(t *testing.T) {
	eng, _ := newTestEngine(t)
	ctx := context.Background()

	id := mustFund(t, eng, 1_000)
	if _, err := eng.RequestRelease(ctx, userA, id); !errors.Is(err, ErrInvalidStatus) {
		t.Fatalf("funded, no time-lock: expected ErrInvalidStatus, got %v", err)
	}
	if _, err := eng.RequestRelease(ctx, userC, id); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("stranger: expected ErrUnauthorized, got %v", err)
	}
}

func TestForceRefund(t *testing.T) {
	eng, _ := newTestEngine(t)
	ctx := context.Background()
	id := mustCreate(t, eng, 1_000)

	if _, err := eng.ForceRefund(ctx, userB, id, "buyer unresponsive"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("counterparty: expected ErrUnauthorized, got %v", err)
	}

	rec, err := eng.ForceRefund(ctx, userA, id, "buyer unresponsive")
	if err != nil {
		t.Fatalf("force refund: %v", err)
	}
	if rec.Status != StatusRefunded {
		t.Fatalf("expected refunded, got %s", rec.Status)
	}
	if !hasAnnotation(rec, AnnotationRefundReason, "buyer unresponsive") {
		t.Fatalf("expected refund reason annotation, got %v", rec.Annotations)
	}

	if _, err := eng.ForceRefund(ctx, userA, id, "again"); !errors.Is(err, ErrInvalidStatus) {
		t.Fatalf("terminal: expected ErrInvalidStatus, got %v", err)
	}
}

func TestForceRefundAfterDeliveryRejected(t *testing.T) {
	eng, _ := newTestEngine(t)
	id := mustDeliver(t, eng)

	if _, err := eng.ForceRefund(context.Background(), userA, id, "too late"); !errors.Is(err, ErrInvalidStatus) {
		t.Fatalf("expected ErrInvalidStatus after delivery, got %v", err)
	}
}

func TestRaiseDispute(t *testing.T) {
	eng, env := newTestEngine(t)
	ctx := context.Background()
	id := mustFund(t, eng, 1_000)

	rec, err := eng.RaiseDispute(ctx, userB, id, "goods never arrived")
	if err != nil {
		t.Fatalf("raise dispute: %v", err)
	}
	if rec.Status != StatusDisputed {
		t.Fatalf("expected disputed, got %s", rec.Status)
	}
	if !hasAnnotation(rec, AnnotationDisputeReason, "goods never arrived") {
		t.Fatalf("expected dispute reason annotation, got %v", rec.Annotations)
	}
	if len(env.disputes.open) != 1 || env.disputes.open[id] != "goods never arrived" {
		t.Fatalf("expected nested dispute record, got %v", env.disputes.open)
	}
	if got := env.outbox.last(); got.topic != TopicDisputed {
		t.Fatalf("expected %s enqueued, got %s", TopicDisputed, got.topic)
	}

	if _, err := eng.RaiseDispute(ctx, userC, id, "nope"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("stranger: expected ErrUnauthorized, got %v", err)
	}
}

func TestRaiseDisputeStatusGuard(t *testing.T) {
	eng, _ := newTestEngine(t)
	ctx := context.Background()

	id := mustCreate(t, eng, 1_000)
	if _, err := eng.RaiseDispute(ctx, userA, id, "too early"); !errors.Is(err, ErrInvalidStatus) {
		t.Fatalf("created: expected ErrInvalidStatus, got %v", err)
	}
}

func TestResolveDispute(t *testing.T) {
	for _, tc := range []struct {
		outcome dispute.Outcome
		want    Status
	}{
		{dispute.OutcomeRefund, StatusRefunded},
		{dispute.OutcomeRelease, StatusReleased},
	} {
		t.Run(string(tc.outcome), func(t *testing.T) {
			eng, env := newTestEngine(t)
			ctx := context.Background()
			id := mustDispute(t, eng)

			rec, err := eng.ResolveDispute(ctx, userC, id, tc.outcome, "arbiter decision")
			if err != nil {
				t.Fatalf("resolve: %v", err)
			}
			if rec.Status != tc.want {
				t.Fatalf("expected %s, got %s", tc.want, rec.Status)
			}
			if !hasAnnotation(rec, AnnotationResolution, "arbiter decision") {
				t.Fatalf("expected resolution annotation, got %v", rec.Annotations)
			}
			if env.disputes.resolved[id] != tc.outcome {
				t.Fatalf("expected nested dispute resolved with %s, got %v", tc.outcome, env.disputes.resolved)
			}
			if got := env.outbox.last(); got.topic != TopicResolved {
				t.Fatalf("expected %s enqueued, got %s", TopicResolved, got.topic)
			}

			if _, err := eng.ResolveDispute(ctx, userC, id, tc.outcome, "again"); !errors.Is(err, ErrInvalidStatus) {
				t.Fatalf("terminal: expected ErrInvalidStatus, got %v", err)
			}
		})
	}
}

func TestResolveDisputeValidation(t *testing.T) {
	eng, _ := newTestEngine(t)
	ctx := context.Background()

	if _, err := eng.ResolveDispute(ctx, userC, "ESC-0000000001", "split", "half each"); err == nil {
		t.Fatal("expected error for unknown outcome")
	}

	id := mustFund(t, eng, 1_000)
	if _, err := eng.ResolveDispute(ctx, userC, id, dispute.OutcomeRefund, "not disputed"); !errors.Is(err, ErrInvalidStatus) {
		t.Fatalf("expected ErrInvalidStatus, got %v", err)
	}
}

func TestAttachRisk(t *testing.T) {
	eng, _ := newTestEngine(t)
	ctx := context.Background()
	id := mustCreate(t, eng, 1_000)

	rec, err := eng.AttachRisk(ctx, id, 42, []string{"velocity", "new-party"})
	if err != nil {
		t.Fatalf("attach risk: %v", err)
	}
	if rec.RiskScore == nil || *rec.RiskScore != 42 {
		t.Fatalf("expected risk score 42, got %v", rec.RiskScore)
	}
	if !hasAnnotation(rec, AnnotationRiskTag, "velocity") || !hasAnnotation(rec, AnnotationRiskTag, "new-party") {
		t.Fatalf("expected risk tags appended, got %v", rec.Annotations)
	}

	// Repeated calls overwrite the score and append tags, in any status.
	if _, err := eng.ForceRefund(ctx, userA, id, "called off"); err != nil {
		t.Fatalf("refund: %v", err)
	}
	rec, err = eng.AttachRisk(ctx, id, 90, []string{"post-mortem"})
	if err != nil {
		t.Fatalf("attach risk on terminal escrow: %v", err)
	}
	if *rec.RiskScore != 90 {
		t.Fatalf("expected overwritten score 90, got %d", *rec.RiskScore)
	}
	if len(rec.Annotations) != 4 {
		t.Fatalf("expected 4 annotations (2 tags + refund reason + 1 tag), got %d", len(rec.Annotations))
	}

	if _, err := eng.AttachRisk(ctx, id, 101, nil); err == nil {
		t.Fatal("expected error for out-of-range score")
	}
	if _, err := eng.AttachRisk(ctx, "ESC-0000004242", 10, nil); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestUpdatedAtMonotonic(t *testing.T) {
	eng, env := newTestEngine(t)
	ctx := context.Background()
	id := mustCreate(t, eng, 2_000)

	prev := env.store.records[id].UpdatedAt
	for _, step := range []func() (Record, error){
		func() (Record, error) { return eng.ReportDeposit(ctx, id, DepositProof{Reference: "a", Amount: 2_000}) },
		func() (Record, error) { return eng.ConfirmDelivery(ctx, userA, id) },
		func() (Record, error) { return eng.ConfirmDelivery(ctx, userB, id) },
		func() (Record, error) { return eng.RequestRelease(ctx, userA, id) },
	} {
		env.clock.advance(time.Minute)
		rec, err := step()
		if err != nil {
			t.Fatalf("step: %v", err)
		}
		if rec.UpdatedAt.Before(prev) {
			t.Fatalf("updated_at regressed: %s < %s", rec.UpdatedAt, prev)
		}
		prev = rec.UpdatedAt
	}
}

// --- helpers ---

func mustCreate(t *testing.T, eng *Service, amount int64) string {
	t.Helper()
	rec, err := eng.Create(context.Background(), userA, CreateParams{
		Counterparty: userB,
		Amount:       amount,
		Currency:     CurrencyBTC,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	return rec.ID
}

func mustFund(t *testing.T, eng *Service, amount int64) string {
	t.Helper()
	id := mustCreate(t, eng, amount)
	if _, err := eng.ReportDeposit(context.Background(), id, DepositProof{Reference: "tx-fund", Amount: amount}); err != nil {
		t.Fatalf("fund: %v", err)
	}
	return id
}

func mustDeliver(t *testing.T, eng *Service) string {
	t.Helper()
	id := mustFund(t, eng, 1_000)
	ctx := context.Background()
	if _, err := eng.ConfirmDelivery(ctx, userA, id); err != nil {
		t.Fatalf("confirm A: %v", err)
	}
	if _, err := eng.ConfirmDelivery(ctx, userB, id); err != nil {
		t.Fatalf("confirm B: %v", err)
	}
	return id
}

func mustDispute(t *testing.T, eng *Service) string {
	t.Helper()
	id := mustFund(t, eng, 1_000)
	if _, err := eng.RaiseDispute(context.Background(), userA, id, "test dispute"); err != nil {
		t.Fatalf("dispute: %v", err)
	}
	return id
}

func hasAnnotation(rec Record, kind, body string) bool {
	for _, a := range rec.Annotations {
		if a.Kind == kind && a.Body == body {
			return true
		}
	}
	return false
}

type testEnv struct {
	pool     *fakePool
	store    *fakeStore
	disputes *fakeDisputes
	outbox   *fakeOutbox
	clock    *fakeClock
}

func newTestEngine(t *testing.T) (*Service, *testEnv) {
	t.Helper()
	env := &testEnv{
		pool:     &fakePool{},
		store:    newFakeStore(),
		disputes: newFakeDisputes(),
		outbox:   &fakeOutbox{},
		clock:    &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)},
	}
	eng := NewService(env.pool, env.store, env.store, env.disputes, env.outbox).
		WithClock(env.clock.Now)
	return eng, env
}

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time          { return c.now }
func (c *fakeClock) advance(d time.Duration) { c.now = c.now.Add(d) }

type fakeStore struct {
	records     map[string]Record
	deposits    map[string][]DepositProof
	annotations map[string][]Annotation
	events      map[string][]string
	nextID      int64
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		records:     make(map[string]Record),
		deposits:    make(map[string][]DepositProof),
		annotations: make(map[string][]Annotation),
		events:      make(map[string][]string),
	}
}

func (f *fakeStore) NextID(ctx context.Context, tx pgx.Tx) (string, error) {
	f.nextID++
	return fmt.Sprintf("ESC-%010d", f.nextID), nil
}

func (f *fakeStore) Insert(ctx context.Context, tx pgx.Tx, rec Record) error {
	f.records[rec.ID] = rec
	return nil
}

func (f *fakeStore) GetForUpdate(ctx context.Context, tx pgx.Tx, id string) (Record, error) {
	rec, ok := f.records[id]
	if !ok {
		return Record{}, ErrNotFound
	}
	return rec, nil
}

func (f *fakeStore) Update(ctx context.Context, tx pgx.Tx, rec Record) error {
	if _, ok := f.records[rec.ID]; !ok {
		return ErrNotFound
	}
	rec.Deposits = nil
	rec.Annotations = nil
	f.records[rec.ID] = rec
	return nil
}

func (f *fakeStore) AppendDeposit(ctx context.Context, tx pgx.Tx, id string, proof DepositProof) error {
	f.deposits[id] = append(f.deposits[id], proof)
	return nil
}

func (f *fakeStore) SumDeposits(ctx context.Context, tx pgx.Tx, id string) (int64, error) {
	var total int64
	for _, d := range f.deposits[id] {
		total += d.Amount
	}
	return total, nil
}

func (f *fakeStore) AppendAnnotation(ctx context.Context, tx pgx.Tx, id, kind, body string) error {
	f.annotations[id] = append(f.annotations[id], Annotation{Kind: kind, Body: body})
	return nil
}

func (f *fakeStore) AppendEvent(ctx context.Context, tx pgx.Tx, id, eventType, actorID string, payload map[string]any) error {
	f.events[id] = append(f.events[id], eventType)
	return nil
}

func (f *fakeStore) ListDeposits(ctx context.Context, tx pgx.Tx, id string) ([]DepositProof, error) {
	return append([]DepositProof(nil), f.deposits[id]...), nil
}

func (f *fakeStore) ListAnnotations(ctx context.Context, tx pgx.Tx, id string) ([]Annotation, error) {
	return append([]Annotation(nil), f.annotations[id]...), nil
}

func (f *fakeStore) Get(ctx context.Context, id string) (Record, error) {
	rec, ok := f.records[id]
	if !ok {
		return Record{}, ErrNotFound
	}
	rec.Deposits = append([]DepositProof(nil), f.deposits[id]...)
	rec.Annotations = append([]Annotation(nil), f.annotations[id]...)
	return rec, nil
}

func (f *fakeStore) ListByParticipant(ctx context.Context, userID string) ([]Record, error) {
	out := []Record{}
	for _, rec := range f.records {
		if rec.Participant(userID) {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (f *fakeStore) ListByStatus(ctx context.Context, status Status) ([]Record, error) {
	out := []Record{}
	for _, rec := range f.records {
		if rec.Status == status {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (f *fakeStore) CountAll(ctx context.Context) (int64, error) {
	return int64(len(f.records)), nil
}

type fakeDisputes struct {
	open     map[string]string
	resolved map[string]dispute.Outcome
}

func newFakeDisputes() *fakeDisputes {
	return &fakeDisputes{
		open:     make(map[string]string),
		resolved: make(map[string]dispute.Outcome),
	}
}

func (f *fakeDisputes) Open(ctx context.Context, tx pgx.Tx, escrowID, raisedBy, reason string) (dispute.Record, error) {
	f.open[escrowID] = reason
	return dispute.Record{EscrowID: escrowID, RaisedBy: raisedBy, Reason: reason, Status: dispute.StatusOpen}, nil
}

func (f *fakeDisputes) Resolve(ctx context.Context, tx pgx.Tx, escrowID string, outcome dispute.Outcome, resolution, resolvedBy string) (dispute.Record, error) {
	if _, ok := f.open[escrowID]; !ok {
		return dispute.Record{}, dispute.ErrNoOpenDispute
	}
	delete(f.open, escrowID)
	f.resolved[escrowID] = outcome
	return dispute.Record{EscrowID: escrowID, Status: dispute.StatusResolved, Outcome: &outcome}, nil
}

type enqueued struct {
	topic   string
	payload map[string]any
}

type fakeOutbox struct {
	messages []enqueued
}

func (f *fakeOutbox) Enqueue(ctx context.Context, tx pgx.Tx, topic string, payload map[string]any) error {
	f.messages = append(f.messages, enqueued{topic: topic, payload: payload})
	return nil
}

func (f *fakeOutbox) topics() []string {
	out := make([]string, len(f.messages))
	for i, m := range f.messages {
		out[i] = m.topic
	}
	return out
}

func (f *fakeOutbox) last() enqueued {
	if len(f.messages) == 0 {
		return enqueued{}
	}
	return f.messages[len(f.messages)-1]
}

type fakePool struct {
	tx *fakeTx
}

func (f *fakePool) Begin(ctx context.Context) (pgx.Tx, error) {
	f.tx = &fakeTx{}
	return f.tx, nil
}

type fakeTx struct {
	rolled    bool
	committed bool
}

func (f *fakeTx) Begin(context.Context) (pgx.Tx, error) {
	return nil, errors.New("fakeTx does not support nested transactions")
}

func (f *fakeTx) Commit(context.Context) error {
	f.committed = true
	return nil
}

func (f *fakeTx) Rollback(context.Context) error {
	f.rolled = true
	return nil
}

func (f *fakeTx) CopyFrom(context.Context, pgx.Identifier, []string, pgx.CopyFromSource) (int64, error) {
	panic("not implemented")
}

func (f *fakeTx) SendBatch(context.Context, *pgx.Batch) pgx.BatchResults {
	panic("not implemented")
}

func (f *fakeTx) LargeObjects() pgx.LargeObjects {
	panic("not implemented")
}

func (f *fakeTx) Prepare(context.Context, string, string) (*pgconn.StatementDescription, error) {
	panic("not implemented")
}

func (f *fakeTx) Exec(context.Context, string, ...any) (pgconn.CommandTag, error) {
	panic("not implemented")
}

func (f *fakeTx) Query(context.Context, string, ...any) (pgx.Rows, error) {
	panic("not implemented")
}

func (f *fakeTx) QueryRow(context.Context, string, ...any) pgx.Row {
	panic("not implemented")
}

func (f *fakeTx) Conn() *pgx.Conn {
	return nil
}
