package decision

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository serves ledger reads. Writes go through the Service so they stay
// transactional with the case lock.
type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// DecisionsFor returns the latest decision per party for a batch.
func (r *Repository) DecisionsFor(ctx context.Context, caseID, batchID string) (map[string]Decision, error) {
	const q = `
        SELECT case_id, batch_id, party_id, option_id::text, choice::text, decided_at
        FROM decisions
        WHERE case_id = $1 AND batch_id = $2
    `
	rows, err := r.pool.Query(ctx, q, caseID, batchID)
	if err != nil {
		return nil, fmt.Errorf("decision: decisions for batch: %w", err)
	}
	defer rows.Close()

	out := make(map[string]Decision, 4)
	for rows.Next() {
		var d Decision
		if err := rows.Scan(&d.CaseID, &d.BatchID, &d.PartyID, &d.OptionID, &d.Choice, &d.DecidedAt); err != nil {
			return nil, fmt.Errorf("decision: scan: %w", err)
		}
		out[d.PartyID] = d
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("decision: iterate: %w", err)
	}
	return out, nil
}

// AllDecided reports whether every listed party holds a non-pending decision
// on the batch.
func (r *Repository) AllDecided(ctx context.Context, caseID, batchID string, requiredPartyIDs []string) (bool, error) {
	decisions, err := r.DecisionsFor(ctx, caseID, batchID)
	if err != nil {
		return false, err
	}
	for _, pid := range requiredPartyIDs {
		d, ok := decisions[pid]
		if !ok || d.Choice == ChoicePending {
			return false, nil
		}
	}
	return len(requiredPartyIDs) > 0, nil
}

// SameChoice reports whether two parties made the same choice on a batch.
// decided is false when either party has not decided yet.
func (r *Repository) SameChoice(ctx context.Context, caseID, batchID, partyA, partyB string) (same bool, decided bool, err error) {
	decisions, err := r.DecisionsFor(ctx, caseID, batchID)
	if err != nil {
		return false, false, err
	}
	a, okA := decisions[partyA]
	b, okB := decisions[partyB]
	if !okA || !okB || a.Choice == ChoicePending || b.Choice == ChoicePending {
		return false, false, nil
	}
	if a.Choice != b.Choice {
		return false, true, nil
	}
	if a.Choice == ChoiceAccepted {
		same = a.OptionID != nil && b.OptionID != nil && *a.OptionID == *b.OptionID
		return same, true, nil
	}
	return true, true, nil
}
