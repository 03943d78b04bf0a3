package main

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"dealvault/auth"
	"dealvault/dispute"
	"dealvault/escrow"
	"dealvault/reputation"
)

type ctxKey int

const (
	ctxKeyUserID ctxKey = iota
	ctxKeyRole
)

type escrowService interface {
	Create(ctx context.Context, caller string, params escrow.CreateParams) (escrow.Record, error)
	ReportDeposit(ctx context.Context, id string, proof escrow.DepositProof) (escrow.Record, error)
	ConfirmDelivery(ctx context.Context, caller, id string) (escrow.Record, error)
	RequestRelease(ctx context.Context, caller, id string) (escrow.Record, error)
	ForceRefund(ctx context.Context, caller, id, reason string) (escrow.Record, error)
	RaiseDispute(ctx context.Context, caller, id, reason string) (escrow.Record, error)
	ResolveDispute(ctx context.Context, resolver, id string, outcome dispute.Outcome, resolution string) (escrow.Record, error)
	AttachRisk(ctx context.Context, id string, score int16, tags []string) (escrow.Record, error)
	Get(ctx context.Context, id string) (escrow.Record, error)
	ListByParticipant(ctx context.Context, userID string) ([]escrow.Record, error)
	ListByStatus(ctx context.Context, status escrow.Status) ([]escrow.Record, error)
	CountAll(ctx context.Context) (int64, error)
}

type authService interface {
	Register(ctx context.Context, req auth.RegisterRequest) (*auth.User, error)
	Login(ctx context.Context, req auth.LoginRequest) (auth.LoginResult, error)
	VerifyToken(token string) (auth.Identity, error)
}

type disputeService interface {
	ListByEscrow(ctx context.Context, escrowID string) ([]dispute.Record, error)
}

type reputationService interface {
	Get(ctx context.Context, userID string) (reputation.Profile, error)
	Top(ctx context.Context, limit int) ([]reputation.Profile, error)
}

// Server holds the HTTP surface over the escrow engine and its collaborators.
type Server struct {
	authService       authService
	escrowService     escrowService
	disputeService    disputeService
	reputationService reputationService
}

// Routes builds the request mux. All escrow and reputation routes require a
// verified bearer token; role restrictions apply per action.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/auth/register", s.handleRegister)
	mux.HandleFunc("/api/auth/login", s.handleLogin)
	mux.Handle("/api/escrows", s.authenticate(s.handleEscrows))
	mux.Handle("/api/escrows/", s.authenticate(s.handleEscrowDetail))
	mux.Handle("/api/reputation", s.authenticate(s.handleLeaderboard))
	mux.Handle("/api/reputation/", s.authenticate(s.handleProfile))
	mux.Handle("/api/stats", s.authenticate(s.handleStats))
	return mux
}

func (s *Server) authenticate(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		identity, err := s.authService.VerifyToken(token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid token")
			return
		}
		ctx := context.WithValue(r.Context(), ctxKeyUserID, identity.UserID)
		ctx = context.WithValue(ctx, ctxKeyRole, identity.Role)
		next(w, r.WithContext(ctx))
	})
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req auth.RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	user, err := s.authService.Register(r.Context(), req)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toUserResponse(*user))
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req auth.LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	result, err := s.authService.Login(r.Context(), req)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, loginResponse{
		Token: result.Token,
		User:  toUserResponse(result.User),
	})
}

// handleEscrows serves POST /api/escrows and GET /api/escrows with either a
// status filter or the caller's own escrows by default.
func (s *Server) handleEscrows(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.handleCreateEscrow(w, r)
	case http.MethodGet:
		s.handleListEscrows(w, r)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *Server) handleCreateEscrow(w http.ResponseWriter, r *http.Request) {
	var req createEscrowRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	params := escrow.CreateParams{
		Counterparty: req.CounterpartyID,
		Amount:       req.Amount,
		Currency:     escrow.Currency(req.Currency),
	}
	if req.TimeLock != "" {
		lock, err := time.Parse(time.RFC3339, req.TimeLock)
		if err != nil {
			writeError(w, http.StatusBadRequest, "timeLock must be RFC 3339")
			return
		}
		params.TimeLock = &lock
	}
	rec, err := s.escrowService.Create(r.Context(), callerID(r), params)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toEscrowResponse(rec))
}

func (s *Server) handleListEscrows(w http.ResponseWriter, r *http.Request) {
	var (
		records []escrow.Record
		err     error
	)
	if status := r.URL.Query().Get("status"); status != "" {
		records, err = s.escrowService.ListByStatus(r.Context(), escrow.Status(status))
	} else {
		records, err = s.escrowService.ListByParticipant(r.Context(), callerID(r))
	}
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	items := make([]escrowResponse, 0, len(records))
	for _, rec := range records {
		items = append(items, toEscrowResponse(rec))
	}
	writeJSON(w, http.StatusOK, listResponse[escrowResponse]{Items: items, Total: len(items)})
}

// handleEscrowDetail serves GET /api/escrows/{id}, GET /api/escrows/{id}/disputes
// and POST /api/escrows/{id}/{action}.
func (s *Server) handleEscrowDetail(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/escrows/")
	id, action, _ := strings.Cut(rest, "/")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing escrow id")
		return
	}

	if r.Method == http.MethodGet {
		switch action {
		case "":
			s.handleGetEscrow(w, r, id)
		case "disputes":
			s.handleEscrowDisputes(w, r, id)
		default:
			writeError(w, http.StatusNotFound, "unknown resource")
		}
		return
	}
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	switch action {
	case "deposits":
		s.handleReportDeposit(w, r, id)
	case "confirm":
		s.handleConfirmDelivery(w, r, id)
	case "release":
		s.handleRequestRelease(w, r, id)
	case "refund":
		s.handleForceRefund(w, r, id)
	case "dispute":
		s.handleRaiseDispute(w, r, id)
	case "resolve":
		s.handleResolveDispute(w, r, id)
	case "risk":
		s.handleAttachRisk(w, r, id)
	default:
		writeError(w, http.StatusNotFound, "unknown action")
	}
}

func (s *Server) handleGetEscrow(w http.ResponseWriter, r *http.Request, id string) {
	rec, err := s.escrowService.Get(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toEscrowResponse(rec))
}

func (s *Server) handleEscrowDisputes(w http.ResponseWriter, r *http.Request, id string) {
	records, err := s.disputeService.ListByEscrow(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	items := make([]disputeResponse, 0, len(records))
	for _, rec := range records {
		items = append(items, toDisputeResponse(rec))
	}
	writeJSON(w, http.StatusOK, listResponse[disputeResponse]{Items: items, Total: len(items)})
}

func (s *Server) handleReportDeposit(w http.ResponseWriter, r *http.Request, id string) {
	if !requireRole(w, r, auth.RoleOracle) {
		return
	}
	var req reportDepositRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	rec, err := s.escrowService.ReportDeposit(r.Context(), id, escrow.DepositProof{
		Reference:     req.Reference,
		Amount:        req.Amount,
		Confirmations: req.Confirmations,
	})
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toEscrowResponse(rec))
}

func (s *Server) handleConfirmDelivery(w http.ResponseWriter, r *http.Request, id string) {
	rec, err := s.escrowService.ConfirmDelivery(r.Context(), callerID(r), id)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toEscrowResponse(rec))
}

func (s *Server) handleRequestRelease(w http.ResponseWriter, r *http.Request, id string) {
	rec, err := s.escrowService.RequestRelease(r.Context(), callerID(r), id)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toEscrowResponse(rec))
}

func (s *Server) handleForceRefund(w http.ResponseWriter, r *http.Request, id string) {
	var req reasonRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	rec, err := s.escrowService.ForceRefund(r.Context(), callerID(r), id, req.Reason)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toEscrowResponse(rec))
}

func (s *Server) handleRaiseDispute(w http.ResponseWriter, r *http.Request, id string) {
	var req reasonRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Reason) == "" {
		writeError(w, http.StatusBadRequest, "reason is required")
		return
	}
	rec, err := s.escrowService.RaiseDispute(r.Context(), callerID(r), id, req.Reason)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toEscrowResponse(rec))
}

func (s *Server) handleResolveDispute(w http.ResponseWriter, r *http.Request, id string) {
	if !requireRole(w, r, auth.RoleArbiter) {
		return
	}
	var req resolveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	outcome := dispute.Outcome(req.Outcome)
	if req.Outcome == "" {
		outcome = dispute.OutcomeFromText(req.Resolution)
	}
	rec, err := s.escrowService.ResolveDispute(r.Context(), callerID(r), id, outcome, req.Resolution)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toEscrowResponse(rec))
}

func (s *Server) handleAttachRisk(w http.ResponseWriter, r *http.Request, id string) {
	if !requireRole(w, r, auth.RoleAssessor) {
		return
	}
	var req attachRiskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	rec, err := s.escrowService.AttachRisk(r.Context(), id, req.Score, req.Tags)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toEscrowResponse(rec))
}

func (s *Server) handleLeaderboard(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	profiles, err := s.reputationService.Top(r.Context(), limit)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	items := make([]profileResponse, 0, len(profiles))
	for _, p := range profiles {
		items = append(items, toProfileResponse(p))
	}
	writeJSON(w, http.StatusOK, listResponse[profileResponse]{Items: items, Total: len(items)})
}

func (s *Server) handleProfile(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	userID := strings.TrimPrefix(r.URL.Path, "/api/reputation/")
	if userID == "" || strings.Contains(userID, "/") {
		writeError(w, http.StatusBadRequest, "missing user id")
		return
	}
	profile, err := s.reputationService.Get(r.Context(), userID)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toProfileResponse(profile))
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	total, err := s.escrowService.CountAll(r.Context())
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"escrowCount": total})
}

func callerID(r *http.Request) string {
	id, _ := r.Context().Value(ctxKeyUserID).(string)
	return id
}

func requireRole(w http.ResponseWriter, r *http.Request, want auth.Role) bool {
	role, _ := r.Context().Value(ctxKeyRole).(auth.Role)
	if role != want {
		writeError(w, http.StatusForbidden, "role "+string(want)+" required")
		return false
	}
	return true
}

func (s *Server) writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, escrow.ErrNotFound),
		errors.Is(err, dispute.ErrNotFound),
		errors.Is(err, reputation.ErrNotFound),
		errors.Is(err, auth.ErrUserNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, escrow.ErrUnauthorized):
		writeError(w, http.StatusForbidden, "not a permitted party")
	case errors.Is(err, escrow.ErrInvalidStatus),
		errors.Is(err, escrow.ErrAlreadyConfirmed),
		errors.Is(err, dispute.ErrNoOpenDispute),
		errors.Is(err, dispute.ErrAlreadyResolved):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, escrow.ErrInvalidAmount),
		errors.Is(err, auth.ErrWeakPassword):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, auth.ErrDuplicateEmail):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, auth.ErrInvalidCredentials):
		writeError(w, http.StatusUnauthorized, "invalid credentials")
	default:
		log.Printf("internal error: %v", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Printf("encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
