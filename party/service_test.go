package party

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"accordflow/casefile"
)

func TestRequired(t *testing.T) {
	cases := []struct {
		role Role
		want bool
	}{
		{RoleClaimant, true},
		{RoleRespondent, true},
		{RoleMediator, false},
		{RoleWitness, false},
	}
	for _, tc := range cases {
		p := Party{Role: tc.role}
		if got := p.Required(); got != tc.want {
			t.Errorf("Required() for %s = %v, want %v", tc.role, got, tc.want)
		}
	}
}

func TestValidRole(t *testing.T) {
	for _, r := range []Role{RoleClaimant, RoleRespondent, RoleMediator, RoleWitness} {
		if !validRole(r) {
			t.Errorf("validRole(%q) = false, want true", r)
		}
	}
	for _, r := range []Role{"", "judge", "CLAIMANT"} {
		if validRole(r) {
			t.Errorf("validRole(%q) = true, want false", r)
		}
	}
}

func TestAddRequiresCaseID(t *testing.T) {
	repo := &fakeRepo{}
	svc := NewService(nil, repo, nil, nil, nil)

	_, err := svc.Add(context.Background(), AddParams{Role: RoleWitness})
	if err == nil {
		t.Fatal("expected error for missing case id")
	}
	if repo.addCalls != 0 {
		t.Fatalf("repository should not be reached, got %d calls", repo.addCalls)
	}
}

func TestRecordResponse_EvaluatesReadiness(t *testing.T) {
	repo := &fakeRepo{party: Party{
		ID:     "p1",
		CaseID: "c1",
		Role:   RoleRespondent,
	}}
	pool := &fakePool{status: casefile.StatusAwaitingResponse}
	readiness := &fakeReadiness{}
	writer := &fakeWriter{}

	svc := NewService(pool, repo, nil, writer, writer).WithReadinessEvaluator(readiness)

	p, err := svc.RecordResponse(context.Background(), "p1")
	if err != nil {
		t.Fatalf("RecordResponse: %v", err)
	}
	if p.ResponseStatus != StatusResponded {
		t.Fatalf("expected responded, got %s", p.ResponseStatus)
	}
	if !pool.tx.committed {
		t.Fatal("expected transaction commit")
	}
	if readiness.caseID != "c1" {
		t.Fatalf("expected readiness evaluation for c1, got %q", readiness.caseID)
	}
}

func TestRecordResponse_ToleratesTerminalReadiness(t *testing.T) {
	// The case may conclude between the response commit and the readiness
	// re-check; that race is benign and must not surface to the caller.
	repo := &fakeRepo{party: Party{ID: "p1", CaseID: "c1", Role: RoleRespondent}}
	pool := &fakePool{status: casefile.StatusAwaitingResponse}
	writer := &fakeWriter{}

	svc := NewService(pool, repo, nil, writer, writer).
		WithReadinessEvaluator(&fakeReadiness{err: casefile.ErrTerminalState})

	if _, err := svc.RecordResponse(context.Background(), "p1"); err != nil {
		t.Fatalf("terminal readiness should be swallowed, got %v", err)
	}
}

func TestRecordResponse_TerminalCase(t *testing.T) {
	repo := &fakeRepo{party: Party{ID: "p1", CaseID: "c1", Role: RoleRespondent}}
	pool := &fakePool{status: casefile.StatusClosed}
	writer := &fakeWriter{}

	svc := NewService(pool, repo, nil, writer, writer)

	_, err := svc.RecordResponse(context.Background(), "p1")
	if !errors.Is(err, casefile.ErrTerminalState) {
		t.Fatalf("expected ErrTerminalState, got %v", err)
	}
	if !pool.tx.rolled || pool.tx.committed {
		t.Fatal("expected rollback without commit")
	}
}

func TestRecordDecline_RequiredPartyRejectsCase(t *testing.T) {
	repo := &fakeRepo{party: Party{ID: "p1", CaseID: "c1", Role: RoleClaimant}}
	pool := &fakePool{status: casefile.StatusAwaitingResponse}
	cases := &fakeCases{}
	writer := &fakeWriter{}

	svc := NewService(pool, repo, cases, writer, writer)

	p, err := svc.RecordDecline(context.Background(), "p1")
	if err != nil {
		t.Fatalf("RecordDecline: %v", err)
	}
	if p.ResponseStatus != StatusDeclined {
		t.Fatalf("expected declined, got %s", p.ResponseStatus)
	}
	if len(cases.transitions) != 1 || cases.transitions[0].Next != casefile.StatusRejected {
		t.Fatalf("expected one transition to rejected, got %+v", cases.transitions)
	}
	if !pool.tx.committed {
		t.Fatal("rejection must commit with the decline")
	}
}

func TestRecordDecline_OptionalPartyLeavesCaseAlone(t *testing.T) {
	repo := &fakeRepo{party: Party{ID: "p1", CaseID: "c1", Role: RoleWitness}}
	pool := &fakePool{status: casefile.StatusAwaitingResponse}
	cases := &fakeCases{}
	writer := &fakeWriter{}

	svc := NewService(pool, repo, cases, writer, writer)

	if _, err := svc.RecordDecline(context.Background(), "p1"); err != nil {
		t.Fatalf("RecordDecline: %v", err)
	}
	if len(cases.transitions) != 0 {
		t.Fatalf("witness decline must not transition the case, got %+v", cases.transitions)
	}
}

var _ Repository = (*fakeRepo)(nil)

type fakeRepo struct {
	party    Party
	addCalls int
}

func (f *fakeRepo) Add(_ context.Context, params AddParams) (Party, error) {
	f.addCalls++
	return Party{CaseID: params.CaseID, Role: params.Role, ResponseStatus: StatusInvited}, nil
}

func (f *fakeRepo) GetByID(_ context.Context, partyID string) (Party, error) {
	if partyID != f.party.ID {
		return Party{}, ErrNotFound
	}
	return f.party, nil
}

func (f *fakeRepo) ListByCase(context.Context, string) ([]Party, error) {
	return []Party{f.party}, nil
}

func (f *fakeRepo) SetResponse(_ context.Context, _ pgx.Tx, partyID string, status ResponseStatus) (Party, error) {
	if partyID != f.party.ID {
		return Party{}, ErrNotFound
	}
	p := f.party
	p.ResponseStatus = status
	now := time.Now()
	p.RespondedAt = &now
	return p, nil
}

func (f *fakeRepo) AllRequiredResponded(context.Context, string) (bool, error) {
	return f.party.ResponseStatus == StatusResponded, nil
}

type fakeReadiness struct {
	caseID string
	err    error
}

func (f *fakeReadiness) EvaluateReadiness(_ context.Context, caseID string) error {
	f.caseID = caseID
	return f.err
}

type fakeCases struct {
	transitions []casefile.TransitionParams
}

func (f *fakeCases) TransitionTx(_ context.Context, _ pgx.Tx, params casefile.TransitionParams) error {
	f.transitions = append(f.transitions, params)
	return nil
}

type fakeWriter struct {
	events []string
	topics []string
}

func (f *fakeWriter) Append(_ context.Context, _ pgx.Tx, _ string, eventType string, _ *string, _ map[string]any) error {
	f.events = append(f.events, eventType)
	return nil
}

func (f *fakeWriter) Enqueue(_ context.Context, _ pgx.Tx, topic string, _ map[string]any) error {
	f.topics = append(f.topics, topic)
	return nil
}

// fakePool hands out transactions whose case-status probe answers with a
// canned status; everything else is off-limits to the code under test.
type fakePool struct {
	status casefile.Status
	tx     *fakeTx
}

func (f *fakePool) Begin(ctx context.Context) (pgx.Tx, error) {
	f.tx = &fakeTx{status: f.status}
	return f.tx, nil
}

type fakeTx struct {
	status    casefile.Status
	rolled    bool
	committed bool
}

func (f *fakeTx) Begin(context.Context) (pgx.Tx, error) {
	return nil, errors.New("fakeTx does not support nested transactions")
}

func (f *fakeTx) Commit(context.Context) error {
	f.committed = true
	return nil
}

func (f *fakeTx) Rollback(context.Context) error {
	f.rolled = true
	return nil
}

func (f *fakeTx) CopyFrom(context.Context, pgx.Identifier, []string, pgx.CopyFromSource) (int64, error) {
	panic("not implemented")
}

func (f *fakeTx) SendBatch(context.Context, *pgx.Batch) pgx.BatchResults {
	panic("not implemented")
}

func (f *fakeTx) LargeObjects() pgx.LargeObjects {
	panic("not implemented")
}

func (f *fakeTx) Prepare(context.Context, string, string) (*pgconn.StatementDescription, error) {
	panic("not implemented")
}

func (f *fakeTx) Exec(context.Context, string, ...any) (pgconn.CommandTag, error) {
	panic("not implemented")
}

func (f *fakeTx) Query(context.Context, string, ...any) (pgx.Rows, error) {
	panic("not implemented")
}

func (f *fakeTx) QueryRow(context.Context, string, ...any) pgx.Row {
	return statusRow{status: f.status}
}

func (f *fakeTx) Conn() *pgx.Conn {
	return nil
}

type statusRow struct {
	status casefile.Status
}

func (r statusRow) Scan(dest ...any) error {
	if len(dest) != 1 {
		return errors.New("statusRow supports a single destination")
	}
	s, ok := dest[0].(*casefile.Status)
	if !ok {
		return errors.New("statusRow scans into *casefile.Status")
	}
	*s = r.status
	return nil
}
