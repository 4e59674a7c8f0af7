package casefile

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// EvaluateBatch runs the decide-on-batch procedure: it reads a consistent
// snapshot of the decision ledger for the given batch and applies whichever
// transition the decisions warrant. The same procedure serves the original
// option batch and every compromise batch; only the batch id differs.
//
// It is re-invoked after every decision write. Re-evaluating a case whose
// transition already fired is a no-op (OutcomePending), which keeps duplicate
// triggers from double-firing status events.
func (s *Service) EvaluateBatch(ctx context.Context, caseID, batchID string) (BatchOutcome, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return OutcomePending, fmt.Errorf("casefile: begin evaluate tx: %w", err)
	}
	defer tx.Rollback(ctx)

	current, err := lockCase(ctx, tx, caseID)
	if err != nil {
		return OutcomePending, err
	}
	if current.IsTerminal() {
		return OutcomePending, ErrTerminalState
	}
	if current != StatusPartiesDeciding {
		// Stale event: decisions landed but the transition already fired.
		return OutcomePending, nil
	}

	batch, err := loadBatchMeta(ctx, tx, caseID, batchID)
	if err != nil {
		return OutcomePending, err
	}
	if !batch.current {
		// Decision against a superseded batch; the live batch drives the case.
		return OutcomePending, nil
	}

	snapshot, err := loadDecisionSnapshot(ctx, tx, caseID, batchID)
	if err != nil {
		return OutcomePending, err
	}
	if !snapshot.allDecided {
		return OutcomePending, nil
	}

	outcome, next, payload, agreedOption := resolveSnapshot(snapshot, batch.compromiseRound, s.maxCompromiseRounds)

	params := TransitionParams{CaseID: caseID, Next: next, Payload: payload}
	if err := s.applyResolution(ctx, tx, params, outcome, agreedOption); err != nil {
		return OutcomePending, err
	}

	if err := tx.Commit(ctx); err != nil {
		return OutcomePending, fmt.Errorf("casefile: commit evaluation: %w", err)
	}
	return outcome, nil
}

func (s *Service) applyResolution(ctx context.Context, tx pgx.Tx, params TransitionParams, outcome BatchOutcome, agreedOption *string) error {
	// lockCase inside TransitionTx re-reads the row we already hold locked;
	// row locks are reentrant within one transaction.
	if err := s.TransitionTx(ctx, tx, params); err != nil {
		return err
	}

	if outcome == OutcomeAgreed {
		if _, err := tx.Exec(ctx, `UPDATE cases SET final_option_id = $1 WHERE id = $2`, agreedOption, params.CaseID); err != nil {
			return fmt.Errorf("casefile: record final option: %w", err)
		}
	}
	return nil
}

// EvaluateReadiness fires awaiting_response -> statements_complete once every
// required party has responded to the invitation AND filed a statement. Both
// conditions are necessary; calling it on an already satisfied case is a
// no-op.
func (s *Service) EvaluateReadiness(ctx context.Context, caseID string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("casefile: begin readiness tx: %w", err)
	}
	defer tx.Rollback(ctx)

	current, err := lockCase(ctx, tx, caseID)
	if err != nil {
		return err
	}
	if current.IsTerminal() {
		return ErrTerminalState
	}
	if current != StatusAwaitingResponse {
		return nil
	}

	var missing int
	err = tx.QueryRow(ctx, `
        SELECT COUNT(*)
        FROM parties p
        WHERE p.case_id = $1
          AND p.role IN ('claimant', 'respondent')
          AND (p.response_status <> 'responded'
               OR NOT EXISTS (SELECT 1 FROM statements st WHERE st.party_id = p.id))
    `, caseID).Scan(&missing)
	if err != nil {
		return fmt.Errorf("casefile: readiness check: %w", err)
	}
	if missing > 0 {
		return nil
	}

	if err := s.TransitionTx(ctx, tx, TransitionParams{
		CaseID: caseID,
		Next:   StatusStatementsComplete,
	}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("casefile: commit readiness: %w", err)
	}
	return nil
}

type batchMeta struct {
	compromiseRound int
	current         bool
}

func loadBatchMeta(ctx context.Context, tx pgx.Tx, caseID, batchID string) (batchMeta, error) {
	var (
		meta    batchMeta
		current *string
	)
	err := tx.QueryRow(ctx, `
        SELECT b.compromise_round, c.current_batch_id::text
        FROM settlement_batches b
        JOIN cases c ON c.id = b.case_id
        WHERE b.id = $1 AND b.case_id = $2
    `, batchID, caseID).Scan(&meta.compromiseRound, &current)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return batchMeta{}, fmt.Errorf("casefile: batch %s not found for case %s", batchID, caseID)
		}
		return batchMeta{}, fmt.Errorf("casefile: load batch: %w", err)
	}
	meta.current = current != nil && *current == batchID
	return meta, nil
}

type partyDecision struct {
	partyID  string
	choice   string
	optionID *string
}

type decisionSnapshot struct {
	decisions  []partyDecision
	allDecided bool
}

// loadDecisionSnapshot reads required parties and their latest decisions in a
// single query so the evaluation never sees a torn view of two writers.
func loadDecisionSnapshot(ctx context.Context, tx pgx.Tx, caseID, batchID string) (decisionSnapshot, error) {
	rows, err := tx.Query(ctx, `
        SELECT p.id::text, COALESCE(d.choice::text, 'pending'), d.option_id::text
        FROM parties p
        LEFT JOIN decisions d ON d.party_id = p.id AND d.batch_id = $2
        WHERE p.case_id = $1
          AND p.role IN ('claimant', 'respondent')
    `, caseID, batchID)
	if err != nil {
		return decisionSnapshot{}, fmt.Errorf("casefile: load decisions: %w", err)
	}
	defer rows.Close()

	snap := decisionSnapshot{allDecided: true}
	for rows.Next() {
		var d partyDecision
		if err := rows.Scan(&d.partyID, &d.choice, &d.optionID); err != nil {
			return decisionSnapshot{}, fmt.Errorf("casefile: scan decision: %w", err)
		}
		if d.choice == "pending" {
			snap.allDecided = false
		}
		snap.decisions = append(snap.decisions, d)
	}
	if err := rows.Err(); err != nil {
		return decisionSnapshot{}, fmt.Errorf("casefile: iterate decisions: %w", err)
	}
	if len(snap.decisions) == 0 {
		snap.allDecided = false
	}
	return snap, nil
}

// resolveSnapshot classifies a fully decided ledger. Unanimous accept on one
// option agrees the settlement; unanimous reject forfeits straight to court;
// anything else diverges, escalating once the compromise budget is spent.
func resolveSnapshot(snap decisionSnapshot, compromiseRound, maxCompromiseRounds int) (BatchOutcome, Status, map[string]any, *string) {
	allAccepted := true
	allRejected := true
	sameOption := true
	var firstOption *string

	for i, d := range snap.decisions {
		if d.choice != "accepted" {
			allAccepted = false
		}
		if d.choice != "rejected" {
			allRejected = false
		}
		if i == 0 {
			firstOption = d.optionID
		} else if !optionEq(firstOption, d.optionID) {
			sameOption = false
		}
	}

	switch {
	case allAccepted && sameOption:
		return OutcomeAgreed, StatusSettlementAgreed, map[string]any{"option_id": deref(firstOption)}, firstOption
	case allRejected:
		return OutcomeRejected, StatusForwardedToCourt, map[string]any{"reason": "all parties rejected settlement options"}, nil
	case compromiseRound >= maxCompromiseRounds:
		return OutcomeEscalated, StatusForwardedToCourt, map[string]any{"reason": "compromise rounds exhausted"}, nil
	default:
		return OutcomeDiverged, StatusCompromiseNeeded, map[string]any{"compromise_round": compromiseRound}, nil
	}
}

func optionEq(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
