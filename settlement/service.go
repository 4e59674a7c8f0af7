package settlement

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"accordflow/ai"
	"accordflow/casefile"
	"accordflow/event"

	"github.com/jackc/pgx/v5"
)

// TxBeginner abstracts pgxpool.Pool for testability.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// CaseTransitioner applies case status changes, in-transaction or standalone.
type CaseTransitioner interface {
	Transition(ctx context.Context, params casefile.TransitionParams) error
	TransitionTx(ctx context.Context, tx pgx.Tx, params casefile.TransitionParams) error
}

// CaseReader loads the case facts handed to the oracle.
type CaseReader interface {
	Get(ctx context.Context, caseID string) (casefile.Case, error)
}

// BatchCreator commits a batch inside the caller's transaction.
type BatchCreator interface {
	CreateBatchTx(ctx context.Context, tx pgx.Tx, params CreateBatchParams) (Batch, error)
}

// Service orchestrates option generation: it moves the case through
// ai_analyzing, calls the oracle with a bounded timeout, and commits the
// resulting batch together with the transitions that make it live.
type Service struct {
	pool      TxBeginner
	cases     CaseTransitioner
	caseRead  CaseReader
	batches   BatchCreator
	oracle    ai.Client
	timeline  event.TimelineWriter
	outbox    event.OutboxWriter
	aiTimeout time.Duration
}

func NewService(pool TxBeginner, cases CaseTransitioner, caseRead CaseReader, batches BatchCreator, oracle ai.Client, timeline event.TimelineWriter, outbox event.OutboxWriter) *Service {
	return &Service{
		pool:      pool,
		cases:     cases,
		caseRead:  caseRead,
		batches:   batches,
		oracle:    oracle,
		timeline:  timeline,
		outbox:    outbox,
		aiTimeout: 30 * time.Second,
	}
}

// WithAITimeout overrides the oracle call budget.
func (s *Service) WithAITimeout(d time.Duration) *Service {
	if d > 0 {
		s.aiTimeout = d
	}
	return s
}

// RequestOptions drives statements_complete -> ai_analyzing ->
// settlement_options_available -> parties_deciding. The oracle call happens
// between the two transactions so no row lock is held across external I/O.
// On oracle failure the case stays in ai_analyzing and the error wraps
// ai.ErrUnavailable; the call is safe to retry.
func (s *Service) RequestOptions(ctx context.Context, caseID, actorID string) (Batch, error) {
	rec, err := s.caseRead.Get(ctx, caseID)
	if err != nil {
		return Batch{}, err
	}

	if rec.Status == casefile.StatusStatementsComplete {
		err := s.cases.Transition(ctx, casefile.TransitionParams{
			CaseID:  caseID,
			ActorID: actorID,
			Next:    casefile.StatusAIAnalyzing,
		})
		if err != nil {
			return Batch{}, err
		}
	} else if rec.Status != casefile.StatusAIAnalyzing {
		// A retry after a failed oracle call re-enters here in ai_analyzing.
		return Batch{}, fmt.Errorf("%w: options request in %s", casefile.ErrInvalidTransition, rec.Status)
	}

	aiCtx, cancel := context.WithTimeout(ctx, s.aiTimeout)
	defer cancel()
	drafts, err := s.oracle.GenerateSettlementOptions(aiCtx, ai.CaseFacts{
		CaseID: caseID,
		Facts:  json.RawMessage(rec.Facts),
	})
	if err != nil {
		return Batch{}, fmt.Errorf("settlement: generate options: %w", err)
	}

	return s.commitBatch(ctx, caseID, actorID, CreateBatchParams{
		CaseID: caseID,
		Kind:   KindOriginal,
		Drafts: drafts,
	})
}

// commitBatch writes the batch and fires the two transitions that open
// decision collection, atomically.
func (s *Service) commitBatch(ctx context.Context, caseID, actorID string, params CreateBatchParams) (Batch, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Batch{}, fmt.Errorf("settlement: begin commit tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := s.cases.TransitionTx(ctx, tx, casefile.TransitionParams{
		CaseID:  caseID,
		ActorID: actorID,
		Next:    casefile.StatusOptionsAvailable,
	}); err != nil {
		return Batch{}, err
	}

	batch, err := s.batches.CreateBatchTx(ctx, tx, params)
	if err != nil {
		return Batch{}, err
	}

	if err := s.timeline.Append(ctx, tx, caseID, event.TypeOptionsGenerated, nil, map[string]any{
		"batch_id": batch.ID,
		"kind":     string(batch.Kind),
		"options":  len(params.Drafts),
	}); err != nil {
		return Batch{}, err
	}
	if err := s.outbox.Enqueue(ctx, tx, event.TopicSettlementOptionsReady, map[string]any{
		"case_id":  caseID,
		"batch_id": batch.ID,
	}); err != nil {
		return Batch{}, err
	}

	// Option-batch creation opens a fresh decision ledger scope.
	if err := s.cases.TransitionTx(ctx, tx, casefile.TransitionParams{
		CaseID:  caseID,
		ActorID: actorID,
		Next:    casefile.StatusPartiesDeciding,
		Payload: map[string]any{"batch_id": batch.ID},
	}); err != nil {
		return Batch{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Batch{}, fmt.Errorf("settlement: commit batch tx: %w", err)
	}
	return batch, nil
}
