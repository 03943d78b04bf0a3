package reputation

import (
	"context"
	"encoding/json"
	"fmt"

	"dealvault/escrow"
	"dealvault/feedback"
)

// Recorder consumes escrow milestone notifications and folds them into
// reputation profiles. A release credits both parties with a completed deal;
// a dispute resolution debits both parties. Raising a dispute alone carries
// no reputation effect.
type Recorder struct {
	repo profileWriter
}

type profileWriter interface {
	RecordCompletedDeal(ctx context.Context, userID string) error
	RecordDispute(ctx context.Context, userID string) error
}

// NewRecorder builds the feedback sink for reputation.
func NewRecorder(repo *Repository) *Recorder {
	return &Recorder{repo: repo}
}

type milestonePayload struct {
	CreatorID      string `json:"creator_id"`
	CounterpartyID string `json:"counterparty_id"`
}

// Handle implements feedback.Sink.
func (r *Recorder) Handle(ctx context.Context, msg feedback.Message) error {
	switch msg.Topic {
	case escrow.TopicReleased:
		return r.apply(ctx, msg.Payload, r.repo.RecordCompletedDeal)
	case escrow.TopicResolved:
		return r.apply(ctx, msg.Payload, r.repo.RecordDispute)
	default:
		return nil
	}
}

func (r *Recorder) apply(ctx context.Context, payload []byte, record func(context.Context, string) error) error {
	var p milestonePayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("reputation: decode payload: %w", err)
	}
	for _, userID := range []string{p.CreatorID, p.CounterpartyID} {
		if userID == "" {
			continue
		}
		if err := record(ctx, userID); err != nil {
			return err
		}
	}
	return nil
}
