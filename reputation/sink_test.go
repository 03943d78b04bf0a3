package reputation

import (
	"context"
	"testing"

	"dealvault/escrow"
	"dealvault/feedback"
)

type fakeProfileWriter struct {
	deals    []string
	disputes []string
}

func (f *fakeProfileWriter) RecordCompletedDeal(ctx context.Context, userID string) error {
	f.deals = append(f.deals, userID)
	return nil
}

func (f *fakeProfileWriter) RecordDispute(ctx context.Context, userID string) error {
	f.disputes = append(f.disputes, userID)
	return nil
}

func TestRecorderCreditsBothPartiesOnRelease(t *testing.T) {
	repo := &fakeProfileWriter{}
	rec := &Recorder{repo: repo}

	err := rec.Handle(context.Background(), feedback.Message{
		Topic:   escrow.TopicReleased,
		Payload: []byte(`{"creator_id":"alice","counterparty_id":"bob"}`),
	})
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if len(repo.deals) != 2 || repo.deals[0] != "alice" || repo.deals[1] != "bob" {
		t.Fatalf("expected both parties credited, got %v", repo.deals)
	}
	if len(repo.disputes) != 0 {
		t.Fatalf("release must not record disputes, got %v", repo.disputes)
	}
}

func TestRecorderDebitsBothPartiesOnResolution(t *testing.T) {
	repo := &fakeProfileWriter{}
	rec := &Recorder{repo: repo}

	err := rec.Handle(context.Background(), feedback.Message{
		Topic:   escrow.TopicResolved,
		Payload: []byte(`{"creator_id":"alice","counterparty_id":"bob","outcome":"refund"}`),
	})
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if len(repo.disputes) != 2 {
		t.Fatalf("expected both parties debited, got %v", repo.disputes)
	}
}

func TestRecorderIgnoresOtherTopics(t *testing.T) {
	repo := &fakeProfileWriter{}
	rec := &Recorder{repo: repo}

	for _, topic := range []string{escrow.TopicCreated, escrow.TopicFunded, escrow.TopicDisputed, "unknown.topic"} {
		if err := rec.Handle(context.Background(), feedback.Message{Topic: topic, Payload: []byte(`{}`)}); err != nil {
			t.Fatalf("topic %s: %v", topic, err)
		}
	}
	if len(repo.deals) != 0 || len(repo.disputes) != 0 {
		t.Fatalf("no reputation effect expected, got deals=%v disputes=%v", repo.deals, repo.disputes)
	}
}

func TestRecorderRejectsMalformedPayload(t *testing.T) {
	rec := &Recorder{repo: &fakeProfileWriter{}}

	err := rec.Handle(context.Background(), feedback.Message{
		Topic:   escrow.TopicReleased,
		Payload: []byte(`not json`),
	})
	if err == nil {
		t.Fatal("expected decode error")
	}
}
