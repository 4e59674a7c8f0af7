package negotiation

import (
	"context"
	"encoding/json"
	"os"
	"testing"
	"time"

	"accordflow/event"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Connects to a real PostgreSQL via DATABASE_URL and runs full negotiation
// sessions through the engine: counter-and-accept to agreement, round-bound
// expiry, duplicate responses, and deadline sweeping.
func TestNegotiation_Integration(t *testing.T) {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("DATABASE_URL is empty; set it to a live PostgreSQL to run integration test")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, dsn)
	require.NoError(t, err)
	defer pool.Close()

	var schemaReady bool
	require.NoError(t, pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_schema = 'public' AND table_name = 'negotiation_sessions')`,
	).Scan(&schemaReady))
	if !schemaReady {
		t.Skip("database schema missing; apply migrations/ first")
	}

	writer := event.NewWriter()
	engine := NewEngine(pool, writer, writer)

	seed := func(t *testing.T) (caseID string, partyIDs []string) {
		t.Helper()
		require.NoError(t, pool.QueryRow(ctx,
			`INSERT INTO cases (title, status) VALUES ('Security deposit dispute', 'parties_deciding') RETURNING id`,
		).Scan(&caseID))
		for _, role := range []string{"claimant", "respondent"} {
			var pid string
			require.NoError(t, pool.QueryRow(ctx,
				`INSERT INTO parties (case_id, role, response_status) VALUES ($1, $2::party_role, 'responded') RETURNING id`,
				caseID, role,
			).Scan(&pid))
			partyIDs = append(partyIDs, pid)
		}
		t.Cleanup(func() {
			ctx2, cancel2 := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel2()
			pool.Exec(ctx2, `DELETE FROM cases WHERE id = $1`, caseID)
		})
		return caseID, partyIDs
	}

	t.Run("counter accepted in round two completes the session", func(t *testing.T) {
		caseID, parties := seed(t)
		claimant, respondent := parties[0], parties[1]

		s, err := engine.Start(ctx, StartParams{
			CaseID:         caseID,
			ParticipantIDs: parties,
			MaxRounds:      3,
			RoundTimeout:   time.Hour,
		})
		require.NoError(t, err)
		assert.Equal(t, 1, s.CurrentRound)

		require.NoError(t, engine.SubmitProposal(ctx, s.ID, claimant, json.RawMessage(`{"amount_cents":5000000}`)))

		outcome, err := engine.Respond(ctx, s.ID, claimant, KindAccept, nil)
		require.NoError(t, err)
		assert.Equal(t, OutcomeOpen, outcome)

		outcome, err = engine.Respond(ctx, s.ID, respondent, KindCounter, json.RawMessage(`{"amount_cents":3000000}`))
		require.NoError(t, err)
		assert.Equal(t, OutcomeCountered, outcome)

		s, err = engine.Get(ctx, s.ID)
		require.NoError(t, err)
		assert.Equal(t, 2, s.CurrentRound)
		assert.JSONEq(t, `{"amount_cents":3000000}`, string(s.CurrentProposal))
		require.NotNil(t, s.ProposerID)
		assert.Equal(t, respondent, *s.ProposerID)

		_, err = engine.Respond(ctx, s.ID, claimant, KindAccept, nil)
		require.NoError(t, err)
		outcome, err = engine.Respond(ctx, s.ID, respondent, KindAccept, nil)
		require.NoError(t, err)
		assert.Equal(t, OutcomeCompleted, outcome)

		s, err = engine.Get(ctx, s.ID)
		require.NoError(t, err)
		assert.Equal(t, StatusCompleted, s.Status)
		assert.JSONEq(t, `{"amount_cents":3000000}`, string(s.AgreedTerms))
		require.NotNil(t, s.FinalRound)
		assert.Equal(t, 2, *s.FinalRound)
	})

	t.Run("counter past the final round expires the session", func(t *testing.T) {
		caseID, parties := seed(t)
		claimant, respondent := parties[0], parties[1]

		s, err := engine.Start(ctx, StartParams{
			CaseID:         caseID,
			ParticipantIDs: parties,
			MaxRounds:      1,
			RoundTimeout:   time.Hour,
		})
		require.NoError(t, err)

		require.NoError(t, engine.SubmitProposal(ctx, s.ID, claimant, json.RawMessage(`{"amount_cents":5000000}`)))
		_, err = engine.Respond(ctx, s.ID, claimant, KindAccept, nil)
		require.NoError(t, err)

		outcome, err := engine.Respond(ctx, s.ID, respondent, KindCounter, json.RawMessage(`{"amount_cents":1}`))
		require.NoError(t, err)
		assert.Equal(t, OutcomeExpired, outcome)

		s, err = engine.Get(ctx, s.ID)
		require.NoError(t, err)
		assert.Equal(t, StatusExpired, s.Status)
		assert.Nil(t, s.AgreedTerms)
	})

	t.Run("second response in the same round is rejected", func(t *testing.T) {
		caseID, parties := seed(t)
		claimant := parties[0]

		s, err := engine.Start(ctx, StartParams{
			CaseID:         caseID,
			ParticipantIDs: parties,
			MaxRounds:      3,
			RoundTimeout:   time.Hour,
		})
		require.NoError(t, err)

		require.NoError(t, engine.SubmitProposal(ctx, s.ID, claimant, json.RawMessage(`{"amount_cents":100}`)))
		_, err = engine.Respond(ctx, s.ID, claimant, KindAccept, nil)
		require.NoError(t, err)

		_, err = engine.Respond(ctx, s.ID, claimant, KindReject, nil)
		require.ErrorIs(t, err, ErrDuplicateResponse)
	})

	t.Run("outsiders cannot respond", func(t *testing.T) {
		caseID, parties := seed(t)

		var stranger string
		require.NoError(t, pool.QueryRow(ctx,
			`INSERT INTO parties (case_id, role, response_status) VALUES ($1, 'witness', 'responded') RETURNING id`,
			caseID,
		).Scan(&stranger))

		s, err := engine.Start(ctx, StartParams{
			CaseID:         caseID,
			ParticipantIDs: parties,
			MaxRounds:      3,
			RoundTimeout:   time.Hour,
		})
		require.NoError(t, err)

		require.NoError(t, engine.SubmitProposal(ctx, s.ID, parties[0], json.RawMessage(`{"amount_cents":100}`)))
		_, err = engine.Respond(ctx, s.ID, stranger, KindAccept, nil)
		require.ErrorIs(t, err, ErrNotParticipant)
	})

	t.Run("sweeper records silence as timed-out rejects", func(t *testing.T) {
		caseID, parties := seed(t)
		claimant := parties[0]

		s, err := engine.Start(ctx, StartParams{
			CaseID:         caseID,
			ParticipantIDs: parties,
			MaxRounds:      3,
			RoundTimeout:   time.Hour,
		})
		require.NoError(t, err)

		require.NoError(t, engine.SubmitProposal(ctx, s.ID, claimant, json.RawMessage(`{"amount_cents":100}`)))
		_, err = engine.Respond(ctx, s.ID, claimant, KindAccept, nil)
		require.NoError(t, err)

		_, err = pool.Exec(ctx,
			`UPDATE negotiation_sessions SET round_deadline = now() - interval '1 minute' WHERE id = $1`, s.ID)
		require.NoError(t, err)

		sweeper := NewSweeper(pool, engine, time.Minute)
		require.NoError(t, sweeper.SweepOnce(ctx))

		s, err = engine.Get(ctx, s.ID)
		require.NoError(t, err)
		assert.Equal(t, StatusCancelled, s.Status)

		var timedOut int
		require.NoError(t, pool.QueryRow(ctx,
			`SELECT COUNT(*) FROM negotiation_responses WHERE session_id = $1 AND timed_out`, s.ID,
		).Scan(&timedOut))
		assert.Equal(t, 1, timedOut)
	})

	t.Run("paused sessions refuse responses until resumed", func(t *testing.T) {
		caseID, parties := seed(t)
		claimant := parties[0]

		s, err := engine.Start(ctx, StartParams{
			CaseID:         caseID,
			ParticipantIDs: parties,
			MaxRounds:      3,
			RoundTimeout:   time.Hour,
		})
		require.NoError(t, err)

		require.NoError(t, engine.SubmitProposal(ctx, s.ID, claimant, json.RawMessage(`{"amount_cents":100}`)))
		require.NoError(t, engine.Pause(ctx, s.ID))

		_, err = engine.Respond(ctx, s.ID, claimant, KindAccept, nil)
		require.ErrorIs(t, err, ErrNotActive)

		require.NoError(t, engine.Resume(ctx, s.ID))
		_, err = engine.Respond(ctx, s.ID, claimant, KindAccept, nil)
		require.NoError(t, err)
	})
}
