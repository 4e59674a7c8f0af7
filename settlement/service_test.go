package settlement

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"accordflow/ai"
	"accordflow/casefile"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

func TestRequestOptions_FullFlow(t *testing.T) {
	pool := &fakePool{}
	cases := &fakeCases{}
	reader := &fakeCaseReader{rec: casefile.Case{
		ID:     "c1",
		Status: casefile.StatusStatementsComplete,
		Facts:  []byte(`{"claim":"deposit"}`),
	}}
	batches := &fakeBatches{batch: Batch{ID: "b1", CaseID: "c1", Kind: KindOriginal}}
	oracle := &fakeOracle{drafts: []ai.OptionDraft{
		{Rank: 1, Terms: json.RawMessage(`{"amount":50000}`), AmountCents: 5000000, Probability: 0.8},
		{Rank: 2, Terms: json.RawMessage(`{"amount":30000}`), AmountCents: 3000000, Probability: 0.6},
	}}
	writer := &fakeWriter{}

	svc := NewService(pool, cases, reader, batches, oracle, writer, writer)

	batch, err := svc.RequestOptions(context.Background(), "c1", "user-1")
	if err != nil {
		t.Fatalf("request options: %v", err)
	}
	if batch.ID != "b1" {
		t.Fatalf("unexpected batch: %+v", batch)
	}

	if len(cases.transitions) != 1 || cases.transitions[0] != casefile.StatusAIAnalyzing {
		t.Fatalf("expected single own-tx transition to ai_analyzing, got %v", cases.transitions)
	}
	want := []casefile.Status{casefile.StatusOptionsAvailable, casefile.StatusPartiesDeciding}
	if len(cases.txTransitions) != 2 || cases.txTransitions[0] != want[0] || cases.txTransitions[1] != want[1] {
		t.Fatalf("unexpected in-tx transitions: %v", cases.txTransitions)
	}
	if !pool.tx.committed {
		t.Error("expected batch transaction to commit")
	}
	if len(batches.created) != 1 || batches.created[0].Kind != KindOriginal {
		t.Fatalf("unexpected batch creation: %+v", batches.created)
	}
	if len(writer.topics) != 1 || writer.topics[0] != "settlement.options_available" {
		t.Fatalf("unexpected outbox topics: %v", writer.topics)
	}
}

func TestRequestOptions_OracleFailureLeavesCaseAnalyzing(t *testing.T) {
	pool := &fakePool{}
	cases := &fakeCases{}
	reader := &fakeCaseReader{rec: casefile.Case{ID: "c1", Status: casefile.StatusStatementsComplete}}
	batches := &fakeBatches{}
	oracle := &fakeOracle{err: ai.ErrUnavailable}

	svc := NewService(pool, cases, reader, batches, oracle, &fakeWriter{}, &fakeWriter{})

	_, err := svc.RequestOptions(context.Background(), "c1", "user-1")
	if !errors.Is(err, ai.ErrUnavailable) {
		t.Fatalf("expected ai.ErrUnavailable, got %v", err)
	}
	if pool.tx != nil {
		t.Error("expected no batch transaction after oracle failure")
	}
	if len(batches.created) != 0 {
		t.Error("expected no batch to be created")
	}
}

func TestRequestOptions_RetriesFromAnalyzing(t *testing.T) {
	pool := &fakePool{}
	cases := &fakeCases{}
	reader := &fakeCaseReader{rec: casefile.Case{ID: "c1", Status: casefile.StatusAIAnalyzing}}
	batches := &fakeBatches{batch: Batch{ID: "b2", CaseID: "c1"}}
	oracle := &fakeOracle{drafts: []ai.OptionDraft{{Rank: 1, Terms: json.RawMessage(`{}`)}}}

	svc := NewService(pool, cases, reader, batches, oracle, &fakeWriter{}, &fakeWriter{})

	if _, err := svc.RequestOptions(context.Background(), "c1", "user-1"); err != nil {
		t.Fatalf("retry from ai_analyzing: %v", err)
	}
	if len(cases.transitions) != 0 {
		t.Fatalf("retry must not re-enter ai_analyzing, got %v", cases.transitions)
	}
}

func TestRequestOptions_WrongStatus(t *testing.T) {
	reader := &fakeCaseReader{rec: casefile.Case{ID: "c1", Status: casefile.StatusFiled}}
	svc := NewService(&fakePool{}, &fakeCases{}, reader, &fakeBatches{}, &fakeOracle{}, &fakeWriter{}, &fakeWriter{})

	_, err := svc.RequestOptions(context.Background(), "c1", "user-1")
	if !errors.Is(err, casefile.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
}

type fakeCaseReader struct {
	rec casefile.Case
	err error
}

func (f *fakeCaseReader) Get(context.Context, string) (casefile.Case, error) {
	return f.rec, f.err
}

type fakeCases struct {
	transitions   []casefile.Status
	txTransitions []casefile.Status
	err           error
}

func (f *fakeCases) Transition(_ context.Context, params casefile.TransitionParams) error {
	f.transitions = append(f.transitions, params.Next)
	return f.err
}

func (f *fakeCases) TransitionTx(_ context.Context, _ pgx.Tx, params casefile.TransitionParams) error {
	f.txTransitions = append(f.txTransitions, params.Next)
	return f.err
}

type fakeBatches struct {
	batch   Batch
	created []CreateBatchParams
	err     error
}

func (f *fakeBatches) CreateBatchTx(_ context.Context, _ pgx.Tx, params CreateBatchParams) (Batch, error) {
	f.created = append(f.created, params)
	return f.batch, f.err
}

type fakeOracle struct {
	drafts []ai.OptionDraft
	err    error
}

func (f *fakeOracle) GenerateSettlementOptions(context.Context, ai.CaseFacts) ([]ai.OptionDraft, error) {
	return f.drafts, f.err
}

func (f *fakeOracle) GenerateCompromise(context.Context, ai.CompromiseRequest) ([]ai.OptionDraft, error) {
	return f.drafts, f.err
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

type fakePool struct {
	tx *fakeTx
}

func (f *fakePool) Begin(ctx context.Context) (pgx.Tx, error) {
	f.tx = &fakeTx{}
	return f.tx, nil
}

type fakeTx struct {
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
	panic("not implemented")
}

func (f *fakeTx) Conn() *pgx.Conn {
	return nil
}
