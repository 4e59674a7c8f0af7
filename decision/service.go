package decision

import (
	"context"
	"errors"
	"fmt"
	"time"

	"accordflow/casefile"
	"accordflow/event"

	"github.com/jackc/pgx/v5"
)

var (
	// ErrUnknownOption signals a batch or option that does not belong to the
	// case. This is a programming or data error worth surfacing, unlike the
	// benign idempotency signals.
	ErrUnknownOption = errors.New("decision: option batch does not belong to case")
	// ErrUnknownParty signals the deciding party is not a member of the case.
	ErrUnknownParty = errors.New("decision: party does not belong to case")
	// ErrInvalidChoice signals a choice outside accepted|rejected.
	ErrInvalidChoice = errors.New("decision: invalid choice")
)

// TxBeginner abstracts pgxpool.Pool for testability.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// BatchEvaluator re-runs the case's decide-on-batch procedure after a write.
type BatchEvaluator interface {
	EvaluateBatch(ctx context.Context, caseID, batchID string) (casefile.BatchOutcome, error)
}

// Service owns the decision ledger.
type Service struct {
	pool      TxBeginner
	evaluator BatchEvaluator
	timeline  event.TimelineWriter
	outbox    event.OutboxWriter
	now       func() time.Time
}

func NewService(pool TxBeginner, timeline event.TimelineWriter, outbox event.OutboxWriter) *Service {
	return &Service{
		pool:     pool,
		timeline: timeline,
		outbox:   outbox,
		now:      time.Now,
	}
}

// WithEvaluator wires event-driven re-evaluation after each decision write.
func (s *Service) WithEvaluator(ev BatchEvaluator) *Service {
	s.evaluator = ev
	return s
}

// RecordParams carries one party's choice on an option batch.
type RecordParams struct {
	CaseID   string
	BatchID  string
	PartyID  string
	OptionID *string
	Choice   Choice
}

// Record upserts the decision for (batch, party). The write is an atomic
// read-modify-write: the case row is locked, batch and option membership are
// validated, and ON CONFLICT keeps concurrent duplicates from double-applying
// (last committed wins). After commit the batch is re-evaluated, which may
// advance the case.
func (s *Service) Record(ctx context.Context, params RecordParams) (casefile.BatchOutcome, error) {
	if !validChoice(params.Choice) {
		return casefile.OutcomePending, fmt.Errorf("%w: %q", ErrInvalidChoice, params.Choice)
	}
	if params.Choice == ChoiceAccepted && params.OptionID == nil {
		return casefile.OutcomePending, fmt.Errorf("decision: accepted choice requires an option id")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return casefile.OutcomePending, fmt.Errorf("decision: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var caseStatus casefile.Status
	if err := tx.QueryRow(ctx, `SELECT status FROM cases WHERE id = $1 FOR UPDATE`, params.CaseID).Scan(&caseStatus); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return casefile.OutcomePending, casefile.ErrNotFound
		}
		return casefile.OutcomePending, fmt.Errorf("decision: lock case: %w", err)
	}
	if caseStatus.IsTerminal() {
		return casefile.OutcomePending, casefile.ErrTerminalState
	}

	if err := validateScope(ctx, tx, params); err != nil {
		return casefile.OutcomePending, err
	}

	const upsertSQL = `
        INSERT INTO decisions (case_id, batch_id, party_id, option_id, choice, decided_at)
        VALUES ($1, $2, $3, $4, $5::decision_choice, now())
        ON CONFLICT (batch_id, party_id)
        DO UPDATE SET option_id = EXCLUDED.option_id,
                      choice = EXCLUDED.choice,
                      decided_at = now()
    `
	if _, err := tx.Exec(ctx, upsertSQL, params.CaseID, params.BatchID, params.PartyID, params.OptionID, params.Choice); err != nil {
		return casefile.OutcomePending, fmt.Errorf("decision: upsert: %w", err)
	}

	payload := map[string]any{
		"batch_id": params.BatchID,
		"party_id": params.PartyID,
		"choice":   string(params.Choice),
	}
	if params.OptionID != nil {
		payload["option_id"] = *params.OptionID
	}
	if err := s.timeline.Append(ctx, tx, params.CaseID, event.TypeDecisionRecorded, nil, payload); err != nil {
		return casefile.OutcomePending, err
	}
	if err := s.outbox.Enqueue(ctx, tx, event.TopicDecisionRecorded, map[string]any{
		"case_id":  params.CaseID,
		"batch_id": params.BatchID,
		"party_id": params.PartyID,
		"choice":   string(params.Choice),
	}); err != nil {
		return casefile.OutcomePending, err
	}

	if err := tx.Commit(ctx); err != nil {
		return casefile.OutcomePending, fmt.Errorf("decision: commit: %w", err)
	}

	if s.evaluator == nil {
		return casefile.OutcomePending, nil
	}
	outcome, err := s.evaluator.EvaluateBatch(ctx, params.CaseID, params.BatchID)
	if err != nil && !errors.Is(err, casefile.ErrTerminalState) {
		return casefile.OutcomePending, err
	}
	return outcome, nil
}

// validateScope rejects batch/case and option/batch mismatches with
// ErrUnknownOption, and foreign parties with ErrUnknownParty.
func validateScope(ctx context.Context, tx pgx.Tx, params RecordParams) error {
	var batchOK bool
	if err := tx.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM settlement_batches WHERE id = $1 AND case_id = $2)`,
		params.BatchID, params.CaseID,
	).Scan(&batchOK); err != nil {
		return fmt.Errorf("decision: verify batch: %w", err)
	}
	if !batchOK {
		return ErrUnknownOption
	}

	if params.OptionID != nil {
		var optionOK bool
		if err := tx.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM settlement_options WHERE id = $1 AND batch_id = $2)`,
			*params.OptionID, params.BatchID,
		).Scan(&optionOK); err != nil {
			return fmt.Errorf("decision: verify option: %w", err)
		}
		if !optionOK {
			return ErrUnknownOption
		}
	}

	var partyOK bool
	if err := tx.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM parties WHERE id = $1 AND case_id = $2)`,
		params.PartyID, params.CaseID,
	).Scan(&partyOK); err != nil {
		return fmt.Errorf("decision: verify party: %w", err)
	}
	if !partyOK {
		return ErrUnknownParty
	}
	return nil
}
