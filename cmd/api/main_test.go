package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
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

type stubAuthService struct {
	user      *auth.User
	registerE error
	login     auth.LoginResult
	loginE    error
	verifyID  string
	verifyR   auth.Role
	verifyE   error
}

func (s *stubAuthService) Register(context.Context, auth.RegisterRequest) (*auth.User, error) {
	return s.user, s.registerE
}

func (s *stubAuthService) Login(context.Context, auth.LoginRequest) (auth.LoginResult, error) {
	return s.login, s.loginE
}

func (s *stubAuthService) VerifyToken(string) (string, auth.Role, error) {
	return s.verifyID, s.verifyR, s.verifyE
}

type stubCaseService struct {
	transitionErr error
	forwardErr    error
	webhookErr    error
	transitions   []casefile.Status
}

func (s *stubCaseService) Transition(_ context.Context, params casefile.TransitionParams) error {
	s.transitions = append(s.transitions, params.Next)
	return s.transitionErr
}

func (s *stubCaseService) ForwardToCourt(context.Context, string, string, string) error {
	return s.forwardErr
}

func (s *stubCaseService) BeginDocumentGeneration(_ context.Context, _, _ string) error {
	s.transitions = append(s.transitions, casefile.StatusDocumentGeneration)
	return s.transitionErr
}

func (s *stubCaseService) HandleDocumentReady(context.Context, casefile.WebhookRequest) error {
	return s.webhookErr
}

func (s *stubCaseService) HandleSignaturesComplete(context.Context, casefile.WebhookRequest) error {
	return s.webhookErr
}

type stubCaseRepo struct {
	rec     casefile.Case
	list    []casefile.Case
	err     error
	filedAs casefile.FileParams
}

func (s *stubCaseRepo) File(_ context.Context, params casefile.FileParams) (casefile.Case, error) {
	s.filedAs = params
	return s.rec, s.err
}

func (s *stubCaseRepo) Get(context.Context, string) (casefile.Case, error) {
	return s.rec, s.err
}

func (s *stubCaseRepo) ListForUser(context.Context, string, int) ([]casefile.Case, error) {
	return s.list, s.err
}

type stubPartyService struct {
	p   party.Party
	all []party.Party
	err error
}

func (s *stubPartyService) Add(context.Context, party.AddParams) (party.Party, error) {
	return s.p, s.err
}

func (s *stubPartyService) ListByCase(context.Context, string) ([]party.Party, error) {
	return s.all, s.err
}

func (s *stubPartyService) RecordResponse(context.Context, string) (party.Party, error) {
	return s.p, s.err
}

func (s *stubPartyService) RecordDecline(context.Context, string) (party.Party, error) {
	return s.p, s.err
}

type stubDecisionService struct {
	outcome casefile.BatchOutcome
	err     error
}

func (s *stubDecisionService) Record(context.Context, decision.RecordParams) (casefile.BatchOutcome, error) {
	return s.outcome, s.err
}

type stubDecisionReader struct {
	decisions map[string]decision.Decision
	err       error
}

func (s *stubDecisionReader) DecisionsFor(context.Context, string, string) (map[string]decision.Decision, error) {
	return s.decisions, s.err
}

type stubNegotiationEngine struct {
	session    negotiation.Session
	outcome    negotiation.RoundOutcome
	startErr   error
	respondErr error
}

func (s *stubNegotiationEngine) Start(context.Context, negotiation.StartParams) (negotiation.Session, error) {
	return s.session, s.startErr
}

func (s *stubNegotiationEngine) Get(context.Context, string) (negotiation.Session, error) {
	return s.session, s.startErr
}

func (s *stubNegotiationEngine) SubmitProposal(context.Context, string, string, json.RawMessage) error {
	return s.respondErr
}

func (s *stubNegotiationEngine) Respond(context.Context, string, string, negotiation.ResponseKind, json.RawMessage) (negotiation.RoundOutcome, error) {
	return s.outcome, s.respondErr
}

func (s *stubNegotiationEngine) Pause(context.Context, string) error { return s.respondErr }

func (s *stubNegotiationEngine) Resume(context.Context, string) error { return s.respondErr }

type stubSettlementService struct {
	batch settlement.Batch
	err   error
}

func (s *stubSettlementService) RequestOptions(context.Context, string, string) (settlement.Batch, error) {
	return s.batch, s.err
}

type stubOptionLister struct {
	options []settlement.Option
	err     error
}

func (s *stubOptionLister) OptionsForBatch(context.Context, string) ([]settlement.Option, error) {
	return s.options, s.err
}

type stubStatementService struct {
	st  statement.Statement
	all []statement.Statement
	err error
}

func (s *stubStatementService) Submit(context.Context, statement.SubmitParams) (statement.Statement, error) {
	return s.st, s.err
}

func (s *stubStatementService) SubmitAudio(context.Context, string, string, string) (statement.Statement, error) {
	return s.st, s.err
}

func (s *stubStatementService) ListByCase(context.Context, string) ([]statement.Statement, error) {
	return s.all, s.err
}

var errWrapped = fmt.Errorf("settlement: generate options: %w", ai.ErrUnavailable)

func authed(req *http.Request) *http.Request {
	ctx := context.WithValue(req.Context(), ctxKeyUserID, "user-1")
	ctx = context.WithValue(ctx, ctxKeyRole, auth.RoleClaimant)
	return req.WithContext(ctx)
}

func TestRequireAuth_MissingToken(t *testing.T) {
	server := &Server{authService: &stubAuthService{}}
	handler := server.requireAuth(func(http.ResponseWriter, *http.Request) {
		t.Fatal("handler must not run without a token")
	})

	req := httptest.NewRequest(http.MethodGet, "/api/cases", nil)
	rec := httptest.NewRecorder()

	handler(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestHandleFileCase_Success(t *testing.T) {
	now := time.Date(2026, 2, 10, 9, 0, 0, 0, time.UTC)
	repo := &stubCaseRepo{
		rec: casefile.Case{
			ID:        "c1",
			Title:     "Security deposit dispute",
			Status:    casefile.StatusFiled,
			CreatedAt: now,
			UpdatedAt: now,
		},
	}
	server := &Server{caseRepo: repo}

	body := strings.NewReader(`{"title":"Security deposit dispute","contact":"claimant@example.com"}`)
	req := authed(httptest.NewRequest(http.MethodPost, "/api/cases", body))
	rec := httptest.NewRecorder()

	server.handleCases(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp caseResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.ID != "c1" || resp.Status != "filed" {
		t.Fatalf("unexpected payload: %+v", resp)
	}
	if repo.filedAs.ClaimantUserID != "user-1" {
		t.Fatalf("expected claimant user from token, got %q", repo.filedAs.ClaimantUserID)
	}
}

func TestHandleFileCase_MissingTitle(t *testing.T) {
	server := &Server{caseRepo: &stubCaseRepo{}}

	req := authed(httptest.NewRequest(http.MethodPost, "/api/cases", strings.NewReader(`{"title":"  "}`)))
	rec := httptest.NewRecorder()

	server.handleCases(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestHandleGetCase_NotFound(t *testing.T) {
	server := &Server{caseRepo: &stubCaseRepo{err: casefile.ErrNotFound}}

	req := authed(httptest.NewRequest(http.MethodGet, "/api/cases/missing", nil))
	rec := httptest.NewRecorder()

	server.handleCaseDetail(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestHandleSendInvitations_RunsBothTransitions(t *testing.T) {
	cases := &stubCaseService{}
	server := &Server{caseService: cases}

	req := authed(httptest.NewRequest(http.MethodPost, "/api/cases/c1/invitations", nil))
	rec := httptest.NewRecorder()

	server.handleCaseDetail(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d: %s", rec.Code, rec.Body.String())
	}
	want := []casefile.Status{casefile.StatusInvitationsSent, casefile.StatusAwaitingResponse}
	if len(cases.transitions) != 2 || cases.transitions[0] != want[0] || cases.transitions[1] != want[1] {
		t.Fatalf("unexpected transitions: %v", cases.transitions)
	}
}

func TestHandleSendInvitations_QuorumFailure(t *testing.T) {
	server := &Server{caseService: &stubCaseService{transitionErr: casefile.ErrInvalidTransition}}

	req := authed(httptest.NewRequest(http.MethodPost, "/api/cases/c1/invitations", nil))
	rec := httptest.NewRecorder()

	server.handleCaseDetail(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestHandleBeginDocuments(t *testing.T) {
	cases := &stubCaseService{}
	server := &Server{caseService: cases}

	req := authed(httptest.NewRequest(http.MethodPost, "/api/cases/c1/documents", nil))
	rec := httptest.NewRecorder()

	server.handleCaseDetail(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body.String())
	}
	if len(cases.transitions) != 1 || cases.transitions[0] != casefile.StatusDocumentGeneration {
		t.Fatalf("unexpected transitions: %v", cases.transitions)
	}
}

func TestHandleBeginDocuments_NotAgreed(t *testing.T) {
	server := &Server{caseService: &stubCaseService{transitionErr: casefile.ErrInvalidTransition}}

	req := authed(httptest.NewRequest(http.MethodPost, "/api/cases/c1/documents", nil))
	rec := httptest.NewRecorder()

	server.handleCaseDetail(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestHandleAddParty_DuplicateClaimant(t *testing.T) {
	server := &Server{partyService: &stubPartyService{err: party.ErrDuplicateRole}}

	body := strings.NewReader(`{"role":"claimant","contact":"second@example.com"}`)
	req := authed(httptest.NewRequest(http.MethodPost, "/api/cases/c1/parties", body))
	rec := httptest.NewRecorder()

	server.handleCaseDetail(rec, req)

	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rec.Code)
	}
}

func TestHandlePartyRespond_Success(t *testing.T) {
	server := &Server{partyService: &stubPartyService{
		p: party.Party{ID: "p1", CaseID: "c1", Role: party.RoleRespondent, ResponseStatus: party.StatusResponded},
	}}

	req := authed(httptest.NewRequest(http.MethodPost, "/api/parties/p1/respond", nil))
	rec := httptest.NewRecorder()

	server.handlePartyAction(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var resp partyResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.ResponseStatus != "responded" {
		t.Fatalf("unexpected payload: %+v", resp)
	}
}

func TestHandlePartyRespond_TerminalCase(t *testing.T) {
	server := &Server{partyService: &stubPartyService{err: casefile.ErrTerminalState}}

	req := authed(httptest.NewRequest(http.MethodPost, "/api/parties/p1/respond", nil))
	rec := httptest.NewRecorder()

	server.handlePartyAction(rec, req)

	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rec.Code)
	}
}

func TestHandleCaseDecisions_ReturnsOutcome(t *testing.T) {
	server := &Server{decisionService: &stubDecisionService{outcome: casefile.OutcomeAgreed}}

	body := strings.NewReader(`{"batchId":"b1","partyId":"p1","optionId":"o1","choice":"accepted"}`)
	req := authed(httptest.NewRequest(http.MethodPost, "/api/cases/c1/decisions", body))
	rec := httptest.NewRecorder()

	server.handleCaseDetail(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp["outcome"] != string(casefile.OutcomeAgreed) {
		t.Fatalf("unexpected outcome: %v", resp)
	}
}

func TestHandleCaseDecisions_ListsLedger(t *testing.T) {
	opt := "o1"
	server := &Server{decisionReader: &stubDecisionReader{decisions: map[string]decision.Decision{
		"p1": {BatchID: "b1", PartyID: "p1", OptionID: &opt, Choice: decision.ChoiceAccepted, DecidedAt: time.Now()},
	}}}

	req := authed(httptest.NewRequest(http.MethodGet, "/api/cases/c1/decisions?batchId=b1", nil))
	rec := httptest.NewRecorder()

	server.handleCaseDetail(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp listResponse[decisionResponse]
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Total != 1 || resp.Items[0].PartyID != "p1" || resp.Items[0].Choice != "accepted" {
		t.Fatalf("unexpected ledger response: %+v", resp)
	}
}

func TestHandleCaseDecisions_ListRequiresBatch(t *testing.T) {
	server := &Server{decisionReader: &stubDecisionReader{}}

	req := authed(httptest.NewRequest(http.MethodGet, "/api/cases/c1/decisions", nil))
	rec := httptest.NewRecorder()

	server.handleCaseDetail(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestHandleCaseDecisions_UnknownOption(t *testing.T) {
	server := &Server{decisionService: &stubDecisionService{err: decision.ErrUnknownOption}}

	body := strings.NewReader(`{"batchId":"b1","partyId":"p1","optionId":"bogus","choice":"accepted"}`)
	req := authed(httptest.NewRequest(http.MethodPost, "/api/cases/c1/decisions", body))
	rec := httptest.NewRecorder()

	server.handleCaseDetail(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestHandleNegotiationRespond_Duplicate(t *testing.T) {
	server := &Server{negotiationEngine: &stubNegotiationEngine{respondErr: negotiation.ErrDuplicateResponse}}

	body := strings.NewReader(`{"participantId":"p1","kind":"accept"}`)
	req := authed(httptest.NewRequest(http.MethodPost, "/api/negotiations/s1/responses", body))
	rec := httptest.NewRecorder()

	server.handleNegotiationDetail(rec, req)

	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rec.Code)
	}
}

func TestHandleNegotiationRespond_Outcome(t *testing.T) {
	server := &Server{negotiationEngine: &stubNegotiationEngine{outcome: negotiation.OutcomeCompleted}}

	body := strings.NewReader(`{"participantId":"p1","kind":"accept"}`)
	req := authed(httptest.NewRequest(http.MethodPost, "/api/negotiations/s1/responses", body))
	rec := httptest.NewRecorder()

	server.handleNegotiationDetail(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var resp map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp["outcome"] != "completed" {
		t.Fatalf("unexpected outcome: %v", resp)
	}
}

func TestHandleWebhook_MissingIdempotencyKey(t *testing.T) {
	server := &Server{caseService: &stubCaseService{}}

	body := strings.NewReader(`{"caseId":"c1"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/webhooks/document-ready", body)
	rec := httptest.NewRecorder()

	server.handleDocumentReadyWebhook(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestHandleWebhook_IdempotentReplay(t *testing.T) {
	// A replay surfaces as nil from the service; the endpoint stays 204.
	server := &Server{caseService: &stubCaseService{}}

	body := strings.NewReader(`{"caseId":"c1","idempotencyKey":"evt-1"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/webhooks/signatures-complete", body)
	rec := httptest.NewRecorder()

	server.handleSignaturesCompleteWebhook(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
}

func TestHandleCaseOptions_AIUnavailable(t *testing.T) {
	server := &Server{settlementService: &stubSettlementService{err: errWrapped}}

	req := authed(httptest.NewRequest(http.MethodPost, "/api/cases/c1/options", nil))
	rec := httptest.NewRecorder()

	server.handleCaseDetail(rec, req)

	if rec.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", rec.Code)
	}
}

func TestHandleStatements_Submit(t *testing.T) {
	server := &Server{statementService: &stubStatementService{
		st: statement.Statement{ID: "st1", CaseID: "c1", PartyID: "p1", Body: "my account", Source: statement.SourceTyped},
	}}

	body := strings.NewReader(`{"partyId":"p1","body":"my account"}`)
	req := authed(httptest.NewRequest(http.MethodPost, "/api/cases/c1/statements", body))
	rec := httptest.NewRecorder()

	server.handleCaseDetail(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
}
