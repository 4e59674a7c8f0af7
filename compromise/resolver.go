// Package compromise reconciles divergent decisions. When required parties
// split over an option batch, the resolver asks the oracle for a compromise
// batch and re-opens decision collection on it. Resolution reuses the case's
// decide-on-batch procedure, so a compromise batch follows exactly the same
// accept/reject/divergence rules as the original.
package compromise

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"accordflow/ai"
	"accordflow/casefile"
	"accordflow/decision"
	"accordflow/event"
	"accordflow/settlement"

	"github.com/jackc/pgx/v5"
)

// TxBeginner abstracts pgxpool.Pool for testability.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// CaseTransitioner applies a case status change inside the caller's transaction.
type CaseTransitioner interface {
	TransitionTx(ctx context.Context, tx pgx.Tx, params casefile.TransitionParams) error
}

// LedgerReader reads the decision ledger.
type LedgerReader interface {
	DecisionsFor(ctx context.Context, caseID, batchID string) (map[string]decision.Decision, error)
}

// OptionReader loads option payloads for the oracle input.
type OptionReader interface {
	GetBatch(ctx context.Context, batchID string) (settlement.Batch, error)
	OptionsForBatch(ctx context.Context, batchID string) ([]settlement.Option, error)
}

// BatchCreator commits the compromise batch in the caller's transaction.
type BatchCreator interface {
	CreateBatchTx(ctx context.Context, tx pgx.Tx, params settlement.CreateBatchParams) (settlement.Batch, error)
}

// Resolver drives the compromise flow.
type Resolver struct {
	pool      TxBeginner
	cases     CaseTransitioner
	ledger    LedgerReader
	options   OptionReader
	batches   BatchCreator
	oracle    ai.Client
	timeline  event.TimelineWriter
	outbox    event.OutboxWriter
	aiTimeout time.Duration
}

func NewResolver(pool TxBeginner, cases CaseTransitioner, ledger LedgerReader, options OptionReader, batches BatchCreator, oracle ai.Client, timeline event.TimelineWriter, outbox event.OutboxWriter) *Resolver {
	return &Resolver{
		pool:      pool,
		cases:     cases,
		ledger:    ledger,
		options:   options,
		batches:   batches,
		oracle:    oracle,
		timeline:  timeline,
		outbox:    outbox,
		aiTimeout: 30 * time.Second,
	}
}

// WithAITimeout overrides the oracle call budget.
func (r *Resolver) WithAITimeout(d time.Duration) *Resolver {
	if d > 0 {
		r.aiTimeout = d
	}
	return r
}

// DetectDivergence reports whether the batch's decided parties chose
// differently. Pending decisions count as not divergent yet.
func (r *Resolver) DetectDivergence(ctx context.Context, caseID, batchID string) (bool, error) {
	decisions, err := r.ledger.DecisionsFor(ctx, caseID, batchID)
	if err != nil {
		return false, err
	}

	var first *decision.Decision
	for _, d := range decisions {
		if d.Choice == decision.ChoicePending {
			return false, nil
		}
		d := d
		if first == nil {
			first = &d
			continue
		}
		if d.Choice != first.Choice {
			return true, nil
		}
		if d.Choice == decision.ChoiceAccepted && !sameOption(d.OptionID, first.OptionID) {
			return true, nil
		}
	}
	return false, nil
}

// RequestCompromise hands the diverging decisions and their option payloads
// to the oracle. Read-only with respect to case state: a failure leaves the
// case in compromise_needed and the call is safe to retry.
func (r *Resolver) RequestCompromise(ctx context.Context, caseID, batchID string) ([]ai.OptionDraft, error) {
	decisions, err := r.ledger.DecisionsFor(ctx, caseID, batchID)
	if err != nil {
		return nil, err
	}
	opts, err := r.options.OptionsForBatch(ctx, batchID)
	if err != nil {
		return nil, err
	}
	terms := make(map[string]json.RawMessage, len(opts))
	for _, o := range opts {
		terms[o.ID] = json.RawMessage(o.Terms)
	}

	req := ai.CompromiseRequest{CaseID: caseID, BatchID: batchID}
	for _, d := range decisions {
		choice := ai.DivergentChoice{
			PartyID: d.PartyID,
			Choice:  string(d.Choice),
		}
		if d.OptionID != nil {
			choice.OptionID = *d.OptionID
			choice.OptionTerms = terms[*d.OptionID]
		}
		req.Choices = append(req.Choices, choice)
	}

	aiCtx, cancel := context.WithTimeout(ctx, r.aiTimeout)
	defer cancel()
	drafts, err := r.oracle.GenerateCompromise(aiCtx, req)
	if err != nil {
		return nil, fmt.Errorf("compromise: generate: %w", err)
	}
	return drafts, nil
}

// ApplyBatch commits a compromise batch derived from sourceBatchID and
// re-enters parties_deciding restricted to the new batch. The compromise
// round index is inherited from the source batch plus one, which is what
// bounds chained compromises.
func (r *Resolver) ApplyBatch(ctx context.Context, caseID, sourceBatchID, actorID string, drafts []ai.OptionDraft) (settlement.Batch, error) {
	source, err := r.options.GetBatch(ctx, sourceBatchID)
	if err != nil {
		return settlement.Batch{}, err
	}
	if source.CaseID != caseID {
		return settlement.Batch{}, decision.ErrUnknownOption
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return settlement.Batch{}, fmt.Errorf("compromise: begin apply tx: %w", err)
	}
	defer tx.Rollback(ctx)

	batch, err := r.batches.CreateBatchTx(ctx, tx, settlement.CreateBatchParams{
		CaseID:          caseID,
		Kind:            settlement.KindCompromise,
		SourceBatchID:   &sourceBatchID,
		CompromiseRound: source.CompromiseRound + 1,
		Drafts:          drafts,
	})
	if err != nil {
		return settlement.Batch{}, err
	}

	if err := r.timeline.Append(ctx, tx, caseID, event.TypeOptionsGenerated, nil, map[string]any{
		"batch_id":         batch.ID,
		"kind":             string(settlement.KindCompromise),
		"source_batch_id":  sourceBatchID,
		"compromise_round": batch.CompromiseRound,
	}); err != nil {
		return settlement.Batch{}, err
	}
	if err := r.outbox.Enqueue(ctx, tx, event.TopicCompromiseRequested, map[string]any{
		"case_id":          caseID,
		"batch_id":         batch.ID,
		"compromise_round": batch.CompromiseRound,
	}); err != nil {
		return settlement.Batch{}, err
	}

	if err := r.cases.TransitionTx(ctx, tx, casefile.TransitionParams{
		CaseID:  caseID,
		ActorID: actorID,
		Next:    casefile.StatusPartiesDeciding,
		Payload: map[string]any{"batch_id": batch.ID},
	}); err != nil {
		return settlement.Batch{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return settlement.Batch{}, fmt.Errorf("compromise: commit apply tx: %w", err)
	}
	return batch, nil
}

// Resolve runs the full flow for a case sitting in compromise_needed:
// request a compromise from the oracle and open decision collection on it.
func (r *Resolver) Resolve(ctx context.Context, caseID, batchID, actorID string) (settlement.Batch, error) {
	drafts, err := r.RequestCompromise(ctx, caseID, batchID)
	if err != nil {
		return settlement.Batch{}, err
	}
	return r.ApplyBatch(ctx, caseID, batchID, actorID, drafts)
}

func sameOption(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
