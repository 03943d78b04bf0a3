package main

import (
	"time"

	"dealvault/auth"
	"dealvault/dispute"
	"dealvault/escrow"
	"dealvault/reputation"
)

type listResponse[T any] struct {
	Items []T `json:"items"`
	Total int `json:"total"`
}

type createEscrowRequest struct {
	CounterpartyID string `json:"counterpartyId"`
	Amount         int64  `json:"amount"`
	Currency       string `json:"currency"`
	TimeLock       string `json:"timeLock,omitempty"`
}

type reportDepositRequest struct {
	Reference     string `json:"reference"`
	Amount        int64  `json:"amount"`
	Confirmations int32  `json:"confirmations"`
}

type reasonRequest struct {
	Reason string `json:"reason"`
}

type resolveRequest struct {
	Outcome    string `json:"outcome,omitempty"`
	Resolution string `json:"resolution"`
}

type attachRiskRequest struct {
	Score int16    `json:"score"`
	Tags  []string `json:"tags,omitempty"`
}

type loginResponse struct {
	Token string       `json:"token"`
	User  userResponse `json:"user"`
}

type userResponse struct {
	ID        string `json:"id"`
	Email     string `json:"email"`
	FullName  string `json:"fullName"`
	Role      string `json:"role"`
	CreatedAt string `json:"createdAt"`
}

func toUserResponse(u auth.User) userResponse {
	return userResponse{
		ID:        u.ID,
		Email:     u.Email,
		FullName:  u.FullName,
		Role:      string(u.Role),
		CreatedAt: u.CreatedAt.Format(time.RFC3339),
	}
}

type depositResponse struct {
	Reference     string `json:"reference"`
	Amount        int64  `json:"amount"`
	Confirmations int32  `json:"confirmations"`
	ReportedAt    string `json:"reportedAt"`
}

type annotationResponse struct {
	Kind      string `json:"kind"`
	Body      string `json:"body"`
	CreatedAt string `json:"createdAt"`
}

type escrowResponse struct {
	ID                    string               `json:"id"`
	CreatorID             string               `json:"creatorId"`
	CounterpartyID        string               `json:"counterpartyId"`
	RequestedAmount       int64                `json:"requestedAmount"`
	DepositedTotal        int64                `json:"depositedTotal"`
	Currency              string               `json:"currency"`
	DepositAddress        string               `json:"depositAddress"`
	Status                string               `json:"status"`
	TimeLock              string               `json:"timeLock,omitempty"`
	CreatorConfirmed      bool                 `json:"creatorConfirmed"`
	CounterpartyConfirmed bool                 `json:"counterpartyConfirmed"`
	RiskScore             *int16               `json:"riskScore,omitempty"`
	FundedAt              string               `json:"fundedAt,omitempty"`
	CreatedAt             string               `json:"createdAt"`
	UpdatedAt             string               `json:"updatedAt"`
	Deposits              []depositResponse    `json:"deposits"`
	Annotations           []annotationResponse `json:"annotations"`
}

func toEscrowResponse(rec escrow.Record) escrowResponse {
	resp := escrowResponse{
		ID:                    rec.ID,
		CreatorID:             rec.Creator,
		CounterpartyID:        rec.Counterparty,
		RequestedAmount:       rec.RequestedAmount,
		DepositedTotal:        rec.DepositedTotal(),
		Currency:              string(rec.Currency),
		DepositAddress:        rec.DepositAddress,
		Status:                string(rec.Status),
		CreatorConfirmed:      rec.CreatorConfirmed,
		CounterpartyConfirmed: rec.CounterpartyConfirmed,
		RiskScore:             rec.RiskScore,
		CreatedAt:             rec.CreatedAt.Format(time.RFC3339),
		UpdatedAt:             rec.UpdatedAt.Format(time.RFC3339),
		Deposits:              make([]depositResponse, 0, len(rec.Deposits)),
		Annotations:           make([]annotationResponse, 0, len(rec.Annotations)),
	}
	if rec.TimeLock != nil {
		resp.TimeLock = rec.TimeLock.Format(time.RFC3339)
	}
	if rec.FundedAt != nil {
		resp.FundedAt = rec.FundedAt.Format(time.RFC3339)
	}
	for _, d := range rec.Deposits {
		resp.Deposits = append(resp.Deposits, depositResponse{
			Reference:     d.Reference,
			Amount:        d.Amount,
			Confirmations: d.Confirmations,
			ReportedAt:    d.ReportedAt.Format(time.RFC3339),
		})
	}
	for _, a := range rec.Annotations {
		resp.Annotations = append(resp.Annotations, annotationResponse{
			Kind:      a.Kind,
			Body:      a.Body,
			CreatedAt: a.CreatedAt.Format(time.RFC3339),
		})
	}
	return resp
}

type disputeResponse struct {
	ID         string `json:"id"`
	EscrowID   string `json:"escrowId"`
	RaisedBy   string `json:"raisedBy"`
	Reason     string `json:"reason"`
	Status     string `json:"status"`
	Outcome    string `json:"outcome,omitempty"`
	Resolution string `json:"resolution,omitempty"`
	ResolvedBy string `json:"resolvedBy,omitempty"`
	CreatedAt  string `json:"createdAt"`
	ResolvedAt string `json:"resolvedAt,omitempty"`
}

func toDisputeResponse(rec dispute.Record) disputeResponse {
	resp := disputeResponse{
		ID:        rec.ID,
		EscrowID:  rec.EscrowID,
		RaisedBy:  rec.RaisedBy,
		Reason:    rec.Reason,
		Status:    string(rec.Status),
		CreatedAt: rec.CreatedAt.Format(time.RFC3339),
	}
	if rec.Outcome != nil {
		resp.Outcome = string(*rec.Outcome)
	}
	if rec.Resolution != nil {
		resp.Resolution = *rec.Resolution
	}
	if rec.ResolvedBy != nil {
		resp.ResolvedBy = *rec.ResolvedBy
	}
	if rec.ResolvedAt != nil {
		resp.ResolvedAt = rec.ResolvedAt.Format(time.RFC3339)
	}
	return resp
}

type profileResponse struct {
	UserID         string `json:"userId"`
	CompletedDeals int64  `json:"completedDeals"`
	DisputeCount   int64  `json:"disputeCount"`
	TrustScore     int16  `json:"trustScore"`
	UpdatedAt      string `json:"updatedAt"`
}

func toProfileResponse(p reputation.Profile) profileResponse {
	return profileResponse{
		UserID:         p.UserID,
		CompletedDeals: p.CompletedDeals,
		DisputeCount:   p.DisputeCount,
		TrustScore:     p.TrustScore,
		UpdatedAt:      p.UpdatedAt.Format(time.RFC3339),
	}
}
