package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"accordflow/ai"
	"accordflow/auth"
	"accordflow/casefile"
	"accordflow/decision"
	"accordflow/negotiation"
	"accordflow/party"
	"accordflow/settlement"
	"accordflow/statement"
)

type ctxKey int

const (
	ctxKeyUserID ctxKey = iota
	ctxKeyRole
)

type authService interface {
	Register(ctx context.Context, req auth.RegisterRequest) (*auth.User, error)
	Login(ctx context.Context, req auth.LoginRequest) (auth.LoginResult, error)
	VerifyToken(token string) (string, auth.Role, error)
}

type caseService interface {
	Transition(ctx context.Context, params casefile.TransitionParams) error
	ForwardToCourt(ctx context.Context, caseID, actorID, reason string) error
	BeginDocumentGeneration(ctx context.Context, caseID, actorID string) error
	HandleDocumentReady(ctx context.Context, req casefile.WebhookRequest) error
	HandleSignaturesComplete(ctx context.Context, req casefile.WebhookRequest) error
}

type caseRepository interface {
	File(ctx context.Context, params casefile.FileParams) (casefile.Case, error)
	Get(ctx context.Context, caseID string) (casefile.Case, error)
	ListForUser(ctx context.Context, userID string, limit int) ([]casefile.Case, error)
}

type partyService interface {
	Add(ctx context.Context, params party.AddParams) (party.Party, error)
	ListByCase(ctx context.Context, caseID string) ([]party.Party, error)
	RecordResponse(ctx context.Context, partyID string) (party.Party, error)
	RecordDecline(ctx context.Context, partyID string) (party.Party, error)
}

type decisionService interface {
	Record(ctx context.Context, params decision.RecordParams) (casefile.BatchOutcome, error)
}

type decisionReader interface {
	DecisionsFor(ctx context.Context, caseID, batchID string) (map[string]decision.Decision, error)
}

type settlementService interface {
	RequestOptions(ctx context.Context, caseID, actorID string) (settlement.Batch, error)
}

type optionLister interface {
	OptionsForBatch(ctx context.Context, batchID string) ([]settlement.Option, error)
}

type statementService interface {
	Submit(ctx context.Context, params statement.SubmitParams) (statement.Statement, error)
	SubmitAudio(ctx context.Context, caseID, partyID, audioPath string) (statement.Statement, error)
	ListByCase(ctx context.Context, caseID string) ([]statement.Statement, error)
}

type negotiationEngine interface {
	Start(ctx context.Context, params negotiation.StartParams) (negotiation.Session, error)
	Get(ctx context.Context, sessionID string) (negotiation.Session, error)
	SubmitProposal(ctx context.Context, sessionID, proposerID string, payload json.RawMessage) error
	Respond(ctx context.Context, sessionID, participantID string, kind negotiation.ResponseKind, counterPayload json.RawMessage) (negotiation.RoundOutcome, error)
	Pause(ctx context.Context, sessionID string) error
	Resume(ctx context.Context, sessionID string) error
}

// Server routes HTTP traffic to the domain services.
type Server struct {
	authService        authService
	caseService        caseService
	caseRepo           caseRepository
	partyService       partyService
	decisionService    decisionService
	decisionReader     decisionReader
	settlementService  settlementService
	optionLister       optionLister
	statementService   statementService
	negotiationEngine  negotiationEngine
	negotiationRounds  int
	negotiationTimeout time.Duration
}

func (s *Server) routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/api/auth/register", s.handleRegister)
	mux.HandleFunc("/api/auth/login", s.handleLogin)
	mux.HandleFunc("/api/cases", s.requireAuth(s.handleCases))
	mux.HandleFunc("/api/cases/", s.requireAuth(s.handleCaseDetail))
	mux.HandleFunc("/api/parties/", s.requireAuth(s.handlePartyAction))
	mux.HandleFunc("/api/negotiations", s.requireAuth(s.handleNegotiations))
	mux.HandleFunc("/api/negotiations/", s.requireAuth(s.handleNegotiationDetail))
	mux.HandleFunc("/api/webhooks/document-ready", s.handleDocumentReadyWebhook)
	mux.HandleFunc("/api/webhooks/signatures-complete", s.handleSignaturesCompleteWebhook)
	return mux
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// requireAuth validates the bearer token and stashes the caller identity in
// the request context.
func (s *Server) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		userID, role, err := s.authService.VerifyToken(strings.TrimPrefix(header, "Bearer "))
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid token")
			return
		}
		ctx := context.WithValue(r.Context(), ctxKeyUserID, userID)
		ctx = context.WithValue(ctx, ctxKeyRole, role)
		next(w, r.WithContext(ctx))
	}
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req auth.RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	user, err := s.authService.Register(r.Context(), req)
	if err != nil {
		writeServiceError(w, err)
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
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	result, err := s.authService.Login(r.Context(), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, loginResponse{
		Token: result.Token,
		User:  toUserResponse(result.User),
	})
}

func (s *Server) handleCases(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.handleFileCase(w, r)
	case http.MethodGet:
		s.handleListCases(w, r)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *Server) handleFileCase(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Title   string         `json:"title"`
		Facts   map[string]any `json:"facts"`
		Contact string         `json:"contact"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	if strings.TrimSpace(req.Title) == "" {
		writeError(w, http.StatusBadRequest, "title is required")
		return
	}
	rec, err := s.caseRepo.File(r.Context(), casefile.FileParams{
		Title:           req.Title,
		Facts:           req.Facts,
		ClaimantUserID:  userID(r),
		ClaimantContact: req.Contact,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toCaseResponse(rec))
}

func (s *Server) handleListCases(w http.ResponseWriter, r *http.Request) {
	cases, err := s.caseRepo.ListForUser(r.Context(), userID(r), 100)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	items := make([]caseResponse, 0, len(cases))
	for _, c := range cases {
		items = append(items, toCaseResponse(c))
	}
	writeJSON(w, http.StatusOK, listResponse[caseResponse]{Items: items, Total: len(items)})
}

// handleCaseDetail dispatches /api/cases/{id} and its sub-resources.
func (s *Server) handleCaseDetail(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/cases/")
	parts := strings.Split(strings.Trim(rest, "/"), "/")
	if len(parts) == 0 || parts[0] == "" {
		writeError(w, http.StatusBadRequest, "case id is required")
		return
	}
	caseID := parts[0]

	if len(parts) == 1 {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		s.handleGetCase(w, r, caseID)
		return
	}

	switch parts[1] {
	case "parties":
		s.handleCaseParties(w, r, caseID)
	case "invitations":
		s.handleSendInvitations(w, r, caseID)
	case "statements":
		s.handleCaseStatements(w, r, caseID)
	case "options":
		s.handleCaseOptions(w, r, caseID)
	case "decisions":
		s.handleCaseDecisions(w, r, caseID)
	case "forward":
		s.handleForwardToCourt(w, r, caseID)
	case "documents":
		s.handleBeginDocuments(w, r, caseID)
	default:
		writeError(w, http.StatusNotFound, "unknown resource")
	}
}

func (s *Server) handleGetCase(w http.ResponseWriter, r *http.Request, caseID string) {
	rec, err := s.caseRepo.Get(r.Context(), caseID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toCaseResponse(rec))
}

func (s *Server) handleCaseParties(w http.ResponseWriter, r *http.Request, caseID string) {
	switch r.Method {
	case http.MethodPost:
		var req struct {
			UserID  *string `json:"userId"`
			Role    string  `json:"role"`
			Contact string  `json:"contact"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid body")
			return
		}
		p, err := s.partyService.Add(r.Context(), party.AddParams{
			CaseID:  caseID,
			UserID:  req.UserID,
			Role:    party.Role(req.Role),
			Contact: req.Contact,
		})
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, toPartyResponse(p))
	case http.MethodGet:
		parties, err := s.partyService.ListByCase(r.Context(), caseID)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		items := make([]partyResponse, 0, len(parties))
		for _, p := range parties {
			items = append(items, toPartyResponse(p))
		}
		writeJSON(w, http.StatusOK, listResponse[partyResponse]{Items: items, Total: len(items)})
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// handleSendInvitations moves the case to invitations_sent once the roster
// satisfies the quorum rule.
func (s *Server) handleSendInvitations(w http.ResponseWriter, r *http.Request, caseID string) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	actor := userID(r)
	if err := s.caseService.Transition(r.Context(), casefile.TransitionParams{
		CaseID:  caseID,
		ActorID: actor,
		Next:    casefile.StatusInvitationsSent,
	}); err != nil {
		writeServiceError(w, err)
		return
	}
	if err := s.caseService.Transition(r.Context(), casefile.TransitionParams{
		CaseID:  caseID,
		ActorID: actor,
		Next:    casefile.StatusAwaitingResponse,
	}); err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleCaseStatements(w http.ResponseWriter, r *http.Request, caseID string) {
	switch r.Method {
	case http.MethodPost:
		var req struct {
			PartyID   string `json:"partyId"`
			Body      string `json:"body"`
			AudioPath string `json:"audioPath"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid body")
			return
		}
		var (
			st  statement.Statement
			err error
		)
		if req.AudioPath != "" {
			st, err = s.statementService.SubmitAudio(r.Context(), caseID, req.PartyID, req.AudioPath)
		} else {
			st, err = s.statementService.Submit(r.Context(), statement.SubmitParams{
				CaseID:  caseID,
				PartyID: req.PartyID,
				Body:    req.Body,
			})
		}
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, toStatementResponse(st))
	case http.MethodGet:
		statements, err := s.statementService.ListByCase(r.Context(), caseID)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		items := make([]statementResponse, 0, len(statements))
		for _, st := range statements {
			items = append(items, toStatementResponse(st))
		}
		writeJSON(w, http.StatusOK, listResponse[statementResponse]{Items: items, Total: len(items)})
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *Server) handleCaseOptions(w http.ResponseWriter, r *http.Request, caseID string) {
	switch r.Method {
	case http.MethodPost:
		batch, err := s.settlementService.RequestOptions(r.Context(), caseID, userID(r))
		if err != nil {
			writeServiceError(w, err)
			return
		}
		options, err := s.optionLister.OptionsForBatch(r.Context(), batch.ID)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, toBatchResponse(batch, options))
	case http.MethodGet:
		rec, err := s.caseRepo.Get(r.Context(), caseID)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		if rec.CurrentBatch == nil {
			writeError(w, http.StatusNotFound, "no settlement options yet")
			return
		}
		options, err := s.optionLister.OptionsForBatch(r.Context(), *rec.CurrentBatch)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		items := make([]optionResponse, 0, len(options))
		for _, o := range options {
			items = append(items, toOptionResponse(o))
		}
		writeJSON(w, http.StatusOK, listResponse[optionResponse]{Items: items, Total: len(items)})
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *Server) handleCaseDecisions(w http.ResponseWriter, r *http.Request, caseID string) {
	if r.Method == http.MethodGet {
		batchID := r.URL.Query().Get("batchId")
		if batchID == "" {
			writeError(w, http.StatusBadRequest, "batchId query parameter is required")
			return
		}
		decisions, err := s.decisionReader.DecisionsFor(r.Context(), caseID, batchID)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		items := make([]decisionResponse, 0, len(decisions))
		for _, d := range decisions {
			items = append(items, toDecisionResponse(d))
		}
		writeJSON(w, http.StatusOK, listResponse[decisionResponse]{Items: items, Total: len(items)})
		return
	}
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req struct {
		BatchID  string  `json:"batchId"`
		PartyID  string  `json:"partyId"`
		OptionID *string `json:"optionId"`
		Choice   string  `json:"choice"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	outcome, err := s.decisionService.Record(r.Context(), decision.RecordParams{
		CaseID:   caseID,
		BatchID:  req.BatchID,
		PartyID:  req.PartyID,
		OptionID: req.OptionID,
		Choice:   decision.Choice(req.Choice),
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"outcome": string(outcome)})
}

func (s *Server) handleForwardToCourt(w http.ResponseWriter, r *http.Request, caseID string) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req struct {
		Reason string `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	if err := s.caseService.ForwardToCourt(r.Context(), caseID, userID(r), req.Reason); err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleBeginDocuments kicks off settlement document generation for an
// agreed case.
func (s *Server) handleBeginDocuments(w http.ResponseWriter, r *http.Request, caseID string) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if err := s.caseService.BeginDocumentGeneration(r.Context(), caseID, userID(r)); err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// handlePartyAction dispatches /api/parties/{id}/respond and /decline.
func (s *Server) handlePartyAction(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	rest := strings.TrimPrefix(r.URL.Path, "/api/parties/")
	parts := strings.Split(strings.Trim(rest, "/"), "/")
	if len(parts) != 2 || parts[0] == "" {
		writeError(w, http.StatusBadRequest, "expected /api/parties/{id}/{action}")
		return
	}

	var (
		p   party.Party
		err error
	)
	switch parts[1] {
	case "respond":
		p, err = s.partyService.RecordResponse(r.Context(), parts[0])
	case "decline":
		p, err = s.partyService.RecordDecline(r.Context(), parts[0])
	default:
		writeError(w, http.StatusNotFound, "unknown action")
		return
	}
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toPartyResponse(p))
}

func (s *Server) handleNegotiations(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req struct {
		CaseID         string   `json:"caseId"`
		ParticipantIDs []string `json:"participantIds"`
		MaxRounds      int      `json:"maxRounds"`
		RoundTimeout   string   `json:"roundTimeout"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}

	maxRounds := req.MaxRounds
	if maxRounds == 0 {
		maxRounds = s.negotiationRounds
	}
	timeout := s.negotiationTimeout
	if req.RoundTimeout != "" {
		d, err := time.ParseDuration(req.RoundTimeout)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid roundTimeout")
			return
		}
		timeout = d
	}

	session, err := s.negotiationEngine.Start(r.Context(), negotiation.StartParams{
		CaseID:         req.CaseID,
		ParticipantIDs: req.ParticipantIDs,
		MaxRounds:      maxRounds,
		RoundTimeout:   timeout,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toSessionResponse(session))
}

// handleNegotiationDetail dispatches /api/negotiations/{id} and its actions.
func (s *Server) handleNegotiationDetail(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/negotiations/")
	parts := strings.Split(strings.Trim(rest, "/"), "/")
	if len(parts) == 0 || parts[0] == "" {
		writeError(w, http.StatusBadRequest, "session id is required")
		return
	}
	sessionID := parts[0]

	if len(parts) == 1 {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		session, err := s.negotiationEngine.Get(r.Context(), sessionID)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toSessionResponse(session))
		return
	}

	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	switch parts[1] {
	case "proposal":
		var req struct {
			ProposerID string          `json:"proposerId"`
			Payload    json.RawMessage `json:"payload"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid body")
			return
		}
		if err := s.negotiationEngine.SubmitProposal(r.Context(), sessionID, req.ProposerID, req.Payload); err != nil {
			writeServiceError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	case "responses":
		var req struct {
			ParticipantID  string          `json:"participantId"`
			Kind           string          `json:"kind"`
			CounterPayload json.RawMessage `json:"counterPayload"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid body")
			return
		}
		outcome, err := s.negotiationEngine.Respond(r.Context(), sessionID, req.ParticipantID, negotiation.ResponseKind(req.Kind), req.CounterPayload)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"outcome": string(outcome)})
	case "pause":
		if err := s.negotiationEngine.Pause(r.Context(), sessionID); err != nil {
			writeServiceError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	case "resume":
		if err := s.negotiationEngine.Resume(r.Context(), sessionID); err != nil {
			writeServiceError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		writeError(w, http.StatusNotFound, "unknown action")
	}
}

func (s *Server) handleDocumentReadyWebhook(w http.ResponseWriter, r *http.Request) {
	s.handleCaseWebhook(w, r, s.caseService.HandleDocumentReady)
}

func (s *Server) handleSignaturesCompleteWebhook(w http.ResponseWriter, r *http.Request) {
	s.handleCaseWebhook(w, r, s.caseService.HandleSignaturesComplete)
}

func (s *Server) handleCaseWebhook(w http.ResponseWriter, r *http.Request, handle func(context.Context, casefile.WebhookRequest) error) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req struct {
		CaseID         string         `json:"caseId"`
		IdempotencyKey string         `json:"idempotencyKey"`
		Payload        map[string]any `json:"payload"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	if req.CaseID == "" || req.IdempotencyKey == "" {
		writeError(w, http.StatusBadRequest, "caseId and idempotencyKey are required")
		return
	}
	if err := handle(r.Context(), casefile.WebhookRequest{
		CaseID:         req.CaseID,
		IdempotencyKey: req.IdempotencyKey,
		Payload:        req.Payload,
	}); err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func userID(r *http.Request) string {
	id, _ := r.Context().Value(ctxKeyUserID).(string)
	return id
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeServiceError maps domain sentinels to HTTP statuses.
func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, casefile.ErrNotFound),
		errors.Is(err, party.ErrNotFound),
		errors.Is(err, negotiation.ErrNotFound),
		errors.Is(err, settlement.ErrBatchNotFound),
		errors.Is(err, auth.ErrUserNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, auth.ErrInvalidCredentials):
		writeError(w, http.StatusUnauthorized, "invalid credentials")
	case errors.Is(err, negotiation.ErrNotParticipant),
		errors.Is(err, statement.ErrPartyNotInCase):
		writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, casefile.ErrTerminalState),
		errors.Is(err, negotiation.ErrNotActive),
		errors.Is(err, party.ErrDuplicateRole),
		errors.Is(err, negotiation.ErrDuplicateResponse),
		errors.Is(err, statement.ErrDuplicateStatement),
		errors.Is(err, auth.ErrDuplicateEmail):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, casefile.ErrInvalidTransition),
		errors.Is(err, party.ErrInvalidState),
		errors.Is(err, party.ErrInvalidRole),
		errors.Is(err, decision.ErrInvalidChoice),
		errors.Is(err, decision.ErrUnknownOption),
		errors.Is(err, decision.ErrUnknownParty),
		errors.Is(err, negotiation.ErrCounterPayload),
		errors.Is(err, negotiation.ErrNoProposal),
		errors.Is(err, statement.ErrEmptyBody),
		errors.Is(err, auth.ErrWeakPassword):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, ai.ErrUnavailable):
		writeError(w, http.StatusBadGateway, "settlement analysis unavailable, retry later")
	default:
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
