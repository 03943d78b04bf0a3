package dispute

import (
	"errors"
	"strings"
	"time"
)

// Status represents the lifecycle of a dispute record.
type Status string

const (
	StatusOpen     Status = "open"
	StatusResolved Status = "resolved"
)

// Outcome is the terminal decision for a disputed escrow. Every dispute
// resolves to exactly one of the two outcomes, never back to an intermediate
// state.
type Outcome string

const (
	OutcomeRelease Outcome = "release"
	OutcomeRefund  Outcome = "refund"
)

var (
	// ErrNotFound signals the dispute does not exist.
	ErrNotFound = errors.New("dispute: not found")
	// ErrNoOpenDispute signals no open dispute exists for the escrow.
	ErrNoOpenDispute = errors.New("dispute: no open dispute")
	// ErrAlreadyResolved signals a duplicate terminal submission.
	ErrAlreadyResolved = errors.New("dispute: already resolved")
)

// Record mirrors the disputes table.
type Record struct {
	ID         string
	EscrowID   string
	RaisedBy   string
	Reason     string
	Status     Status
	Outcome    *Outcome
	Resolution *string
	ResolvedBy *string
	CreatedAt  time.Time
	UpdatedAt  time.Time
	ResolvedAt *time.Time
}

// Valid reports whether o is a known outcome.
func (o Outcome) Valid() bool {
	return o == OutcomeRelease || o == OutcomeRefund
}

// OutcomeFromText maps free-form resolution text to an outcome for callers
// that do not supply one explicitly: text mentioning "release" releases,
// everything else refunds.
func OutcomeFromText(text string) Outcome {
	if strings.Contains(strings.ToLower(text), "release") {
		return OutcomeRelease
	}
	return OutcomeRefund
}
