package oracles

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Oracle is a safety property expressed as a query that must return no rows.
type Oracle struct {
	Name string
	SQL  string
}

func All() []Oracle {
	return []Oracle{
		{
			Name: "O1_one_claimant_per_case",
			SQL: `SELECT case_id, COUNT(*) FROM parties
                  WHERE role = 'claimant'
                  GROUP BY case_id HAVING COUNT(*) > 1`,
		},
		{
			Name: "O2_timeline_seq_monotonic",
			SQL: `WITH seqs AS (
                      SELECT case_id, seq,
                             LAG(seq) OVER (PARTITION BY case_id ORDER BY seq) AS prev
                      FROM timeline_events)
                  SELECT * FROM seqs WHERE prev IS NOT NULL AND seq <= prev`,
		},
		{
			Name: "O3_timeline_seq_gapless",
			SQL: `SELECT case_id, COUNT(*), MAX(seq) FROM timeline_events
                  GROUP BY case_id HAVING COUNT(*) <> MAX(seq)`,
		},
		{
			Name: "O4_no_transition_out_of_terminal",
			SQL: `SELECT * FROM timeline_events
                  WHERE type = 'CASE_STATUS_CHANGED'
                    AND payload->>'from' IN ('closed', 'forwarded_to_court', 'rejected')`,
		},
		{
			Name: "O5_decision_scope",
			SQL: `SELECT d.* FROM decisions d
                  JOIN settlement_batches b ON b.id = d.batch_id
                  WHERE b.case_id <> d.case_id`,
		},
		{
			Name: "O6_final_option_belongs_to_case",
			SQL: `SELECT c.id FROM cases c
                  JOIN settlement_options o ON o.id = c.final_option_id
                  WHERE o.case_id <> c.id`,
		},
		{
			Name: "O7_negotiation_round_bounds",
			SQL: `SELECT id, current_round, max_rounds FROM negotiation_sessions
                  WHERE current_round < 1 OR current_round > max_rounds`,
		},
		{
			Name: "O8_completed_session_has_terms",
			SQL: `SELECT id FROM negotiation_sessions
                  WHERE status = 'completed' AND (agreed_terms IS NULL OR final_round IS NULL)`,
		},
		{
			Name: "O9_response_round_in_range",
			SQL: `SELECT r.id FROM negotiation_responses r
                  JOIN negotiation_sessions s ON s.id = r.session_id
                  WHERE r.round < 1 OR r.round > s.current_round`,
		},
		{
			Name: "O10_outbox_liveness",
			SQL: `SELECT id, topic, attempts FROM outbox
                  WHERE status NOT IN ('processed', 'dead')
                    AND now() - created_at > interval '5 minutes'`,
		},
	}
}

// Run executes all oracles and returns the first failure (name and sample row
// text), or an empty name when all pass.
func Run(ctx context.Context, pool *pgxpool.Pool) (string, string, error) {
	for _, o := range All() {
		rows, err := pool.Query(ctx, o.SQL)
		if err != nil {
			return o.Name, "", fmt.Errorf("oracle %s: %w", o.Name, err)
		}
		has := rows.Next()
		if has {
			vals, err := rows.Values()
			rows.Close()
			if err != nil {
				return o.Name, "", err
			}
			return o.Name, fmt.Sprintf("%v", vals), nil
		}
		rows.Close()
	}
	return "", "", nil
}
