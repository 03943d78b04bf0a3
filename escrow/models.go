package escrow

import (
	"errors"
	"time"
)

// Status represents the lifecycle state of an escrow record.
type Status string

const (
	StatusCreated   Status = "created"
	StatusFunded    Status = "funded"
	StatusDelivered Status = "delivered"
	StatusReleased  Status = "released"
	StatusRefunded  Status = "refunded"
	StatusDisputed  Status = "disputed"
)

// Currency enumerates the asset types an escrow can be denominated in.
type Currency string

const (
	CurrencyBTC   Currency = "BTC"
	CurrencyCkBTC Currency = "ckBTC"
)

// Annotation kinds recorded against an escrow.
const (
	AnnotationRefundReason  = "refund_reason"
	AnnotationDisputeReason = "dispute_reason"
	AnnotationResolution    = "resolution"
	AnnotationRiskTag       = "risk_tag"
)

var (
	// ErrNotFound signals an unknown escrow identifier.
	ErrNotFound = errors.New("escrow: not found")
	// ErrUnauthorized signals the caller is not a permitted party for the action.
	ErrUnauthorized = errors.New("escrow: unauthorized")
	// ErrInvalidStatus signals the action is not legal from the current status.
	ErrInvalidStatus = errors.New("escrow: invalid status")
	// ErrInvalidAmount signals a non-positive amount.
	ErrInvalidAmount = errors.New("escrow: invalid amount")
	// ErrAlreadyConfirmed signals a duplicate delivery confirmation from the same party.
	ErrAlreadyConfirmed = errors.New("escrow: delivery already confirmed")
)

// DepositProof is an externally-reported claim that funds were sent toward
// the escrow's deposit address. Proofs are append-only and trusted as given;
// confirmation tracking happens upstream.
type DepositProof struct {
	Reference     string
	Amount        int64
	Confirmations int32
	ReportedAt    time.Time
}

// Annotation is a free-text tag appended to an escrow (dispute reasons,
// resolutions, refund reasons, risk tags).
type Annotation struct {
	Kind      string
	Body      string
	CreatedAt time.Time
}

// Record is the authoritative state of a single escrow. Amounts are in the
// smallest currency unit.
type Record struct {
	ID                    string
	Creator               string
	Counterparty          string
	RequestedAmount       int64
	Currency              Currency
	DepositAddress        string
	Status                Status
	TimeLock              *time.Time
	CreatorConfirmed      bool
	CounterpartyConfirmed bool
	RiskScore             *int16
	FundedAt              *time.Time
	CreatedAt             time.Time
	UpdatedAt             time.Time
	Deposits              []DepositProof
	Annotations           []Annotation
}

// Participant reports whether userID is one of the two escrow parties.
func (r Record) Participant(userID string) bool {
	return userID == r.Creator || userID == r.Counterparty
}

// DepositedTotal returns the cumulative amount over all recorded proofs.
func (r Record) DepositedTotal() int64 {
	var total int64
	for _, d := range r.Deposits {
		total += d.Amount
	}
	return total
}
