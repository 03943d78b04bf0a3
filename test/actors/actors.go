package actors

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"dealvault/dispute"
	"dealvault/escrow"
	"dealvault/feedback"
)

// Parties carries the seeded user identifiers the actors trade between.
type Parties struct {
	Creator      string
	Counterparty string
	Arbiter      string
}

// LifecycleDriver runs complete happy-path escrows end to end: create, fund in
// two chunks, confirm both sides, release.
func LifecycleDriver(ctx context.Context, engine *escrow.Service, p Parties, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}

		err := func() error {
			rec, err := engine.Create(ctx, p.Creator, escrow.CreateParams{
				Counterparty: p.Counterparty,
				Amount:       int64(1000 + rand.Intn(9000)),
				Currency:     escrow.CurrencyBTC,
			})
			if err != nil {
				return err
			}
			half := rec.RequestedAmount / 2
			if _, err := engine.ReportDeposit(ctx, rec.ID, escrow.DepositProof{Reference: ref(), Amount: half, Confirmations: 1}); err != nil {
				return err
			}
			if _, err := engine.ReportDeposit(ctx, rec.ID, escrow.DepositProof{Reference: ref(), Amount: rec.RequestedAmount - half, Confirmations: 1}); err != nil {
				return err
			}
			if _, err := engine.ConfirmDelivery(ctx, p.Creator, rec.ID); err != nil {
				return err
			}
			if _, err := engine.ConfirmDelivery(ctx, p.Counterparty, rec.ID); err != nil {
				return err
			}
			_, err = engine.RequestRelease(ctx, p.Counterparty, rec.ID)
			return err
		}()
		// connection kills from the chaos actor surface here; the SQL oracles
		// are the correctness check, so transient errors just restart the loop
		if err != nil && ctx.Err() != nil {
			return ctx.Err()
		}

		sleep(10, 30)
	}
}

// Disputer funds escrows, raises disputes and has the arbiter resolve them
// with a random outcome.
func Disputer(ctx context.Context, engine *escrow.Service, p Parties, stop <-chan struct{}) error {
	outcomes := []dispute.Outcome{dispute.OutcomeRelease, dispute.OutcomeRefund}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}

		err := func() error {
			rec, err := engine.Create(ctx, p.Creator, escrow.CreateParams{
				Counterparty: p.Counterparty,
				Amount:       500,
				Currency:     escrow.CurrencyCkBTC,
			})
			if err != nil {
				return err
			}
			if _, err := engine.ReportDeposit(ctx, rec.ID, escrow.DepositProof{Reference: ref(), Amount: 500, Confirmations: 2}); err != nil {
				return err
			}
			if _, err := engine.RaiseDispute(ctx, p.Counterparty, rec.ID, "stress dispute"); err != nil {
				return err
			}
			outcome := outcomes[rand.Intn(len(outcomes))]
			_, err = engine.ResolveDispute(ctx, p.Arbiter, rec.ID, outcome, "stress resolution")
			return err
		}()
		if err != nil && ctx.Err() != nil {
			return ctx.Err()
		}

		sleep(50, 100)
	}
}

// Refunder creates escrows and immediately refunds them from Created.
func Refunder(ctx context.Context, engine *escrow.Service, p Parties, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}

		err := func() error {
			rec, err := engine.Create(ctx, p.Creator, escrow.CreateParams{
				Counterparty: p.Counterparty,
				Amount:       250,
				Currency:     escrow.CurrencyBTC,
			})
			if err != nil {
				return err
			}
			_, err = engine.ForceRefund(ctx, p.Creator, rec.ID, "stress refund")
			return err
		}()
		if err != nil && ctx.Err() != nil {
			return ctx.Err()
		}

		sleep(30, 80)
	}
}

// DepositSpammer reports small deposits against random existing escrows. Most
// land after funding and must be recorded without transitioning anything.
func DepositSpammer(ctx context.Context, engine *escrow.Service, pool *pgxpool.Pool, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}

		var id string
		err := pool.QueryRow(ctx, `SELECT id FROM escrows ORDER BY random() LIMIT 1`).Scan(&id)
		if err == nil {
			_, _ = engine.ReportDeposit(ctx, id, escrow.DepositProof{Reference: ref(), Amount: int64(1 + rand.Intn(50))})
		}

		sleep(20, 60)
	}
}

// RiskAssessor attaches random scores and tags to random escrows regardless of
// their status.
func RiskAssessor(ctx context.Context, engine *escrow.Service, pool *pgxpool.Pool, stop <-chan struct{}) error {
	tags := []string{"velocity", "new-party", "high-value", "watchlist"}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}

		var id string
		err := pool.QueryRow(ctx, `SELECT id FROM escrows ORDER BY random() LIMIT 1`).Scan(&id)
		if err == nil {
			score := int16(rand.Intn(101))
			_, _ = engine.AttachRisk(ctx, id, score, []string{tags[rand.Intn(len(tags))]})
		}

		sleep(40, 90)
	}
}

// FeedbackWorker drains the outbox repeatedly through the real worker.
func FeedbackWorker(ctx context.Context, worker *feedback.Worker, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}

		if _, err := worker.DrainOnce(ctx); err != nil && ctx.Err() != nil {
			return ctx.Err()
		}

		sleep(80, 120)
	}
}

func ref() string {
	return fmt.Sprintf("stress-%d", rand.Int63())
}

func sleep(minMs, maxMs int) {
	time.Sleep(time.Duration(minMs+rand.Intn(maxMs-minMs)) * time.Millisecond)
}
