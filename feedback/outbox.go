package feedback

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// Outbox writes notification messages inside the caller's transaction so a
// lifecycle transition and its outbound notification commit atomically.
type Outbox struct {
	idGenerator func() string
}

// NewOutbox builds the transactional outbox writer.
func NewOutbox() *Outbox {
	return &Outbox{idGenerator: func() string { return uuid.NewString() }}
}

// WithIDGenerator overrides message ID generation, primarily for tests.
func (o *Outbox) WithIDGenerator(gen func() string) *Outbox {
	o.idGenerator = gen
	return o
}

// Enqueue appends a pending message for the worker to dispatch.
func (o *Outbox) Enqueue(ctx context.Context, tx pgx.Tx, topic string, payload map[string]any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("feedback: marshal outbox payload: %w", err)
	}
	const insertSQL = `INSERT INTO outbox (id, topic, payload) VALUES ($1::uuid, $2, $3::jsonb)`
	if _, err := tx.Exec(ctx, insertSQL, o.idGenerator(), topic, body); err != nil {
		return fmt.Errorf("feedback: enqueue outbox: %w", err)
	}
	return nil
}
