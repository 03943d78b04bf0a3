package feedback

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"
)

// Message is one claimed outbox entry handed to sinks.
type Message struct {
	ID      string
	Topic   string
	Payload []byte
}

// Sink consumes dispatched messages. Sinks must tolerate messages being
// dropped: delivery is best-effort, at most once per message.
type Sink interface {
	Handle(ctx context.Context, msg Message) error
}

// Worker drains the outbox and fans messages out to the registered sinks.
// Messages are marked dispatched before any sink runs, so escrow state can
// never be corrupted by a slow or failing collaborator.
type Worker struct {
	pool      *pgxpool.Pool
	sinks     []Sink
	batchSize int
	interval  time.Duration
}

// NewWorker builds an outbox worker polling at the given interval.
func NewWorker(pool *pgxpool.Pool, interval time.Duration, sinks ...Sink) *Worker {
	if interval <= 0 {
		interval = time.Second
	}
	return &Worker{
		pool:      pool,
		sinks:     sinks,
		batchSize: 32,
		interval:  interval,
	}
}

// Run polls until the context is canceled.
func (w *Worker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := w.DrainOnce(ctx); err != nil {
				return err
			}
		}
	}
}

// DrainOnce claims one batch of pending messages and dispatches it,
// returning the number of messages claimed.
func (w *Worker) DrainOnce(ctx context.Context) (int, error) {
	msgs, err := w.claim(ctx)
	if err != nil {
		return 0, err
	}
	if len(msgs) == 0 {
		return 0, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, msg := range msgs {
		msg := msg
		g.Go(func() error {
			for _, sink := range w.sinks {
				if err := sink.Handle(gctx, msg); err != nil {
					// Best-effort delivery: record the failure, keep going.
					_, _ = w.pool.Exec(gctx,
						`UPDATE outbox SET attempts = attempts + 1, last_attempt = now() WHERE id = $1::uuid`,
						msg.ID)
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return len(msgs), err
	}
	return len(msgs), nil
}

// claim marks a batch dispatched inside one transaction. SKIP LOCKED lets
// multiple workers drain concurrently without double-claiming.
func (w *Worker) claim(ctx context.Context) ([]Message, error) {
	tx, err := w.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("feedback: begin claim tx: %w", err)
	}
	defer tx.Rollback(ctx)

	rows, err := tx.Query(ctx, `
        SELECT id::text, topic, payload
        FROM outbox
        WHERE status = 'pending'
        ORDER BY created_at
        FOR UPDATE SKIP LOCKED
        LIMIT $1
    `, w.batchSize)
	if err != nil {
		return nil, fmt.Errorf("feedback: claim batch: %w", err)
	}

	msgs := make([]Message, 0, w.batchSize)
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.Topic, &m.Payload); err != nil {
			rows.Close()
			return nil, fmt.Errorf("feedback: scan message: %w", err)
		}
		msgs = append(msgs, m)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("feedback: iterate messages: %w", err)
	}

	for _, m := range msgs {
		if _, err := tx.Exec(ctx, `
            UPDATE outbox
            SET status = 'dispatched', attempts = attempts + 1, last_attempt = now()
            WHERE id = $1::uuid
        `, m.ID); err != nil {
			return nil, fmt.Errorf("feedback: mark dispatched: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("feedback: commit claim: %w", err)
	}
	return msgs, nil
}
