package negotiation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"accordflow/event"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

var (
	// ErrNotFound signals the session does not exist.
	ErrNotFound = errors.New("negotiation: session not found")
	// ErrNotActive signals an operation against a paused or concluded session.
	ErrNotActive = errors.New("negotiation: session not active")
	// ErrNotParticipant signals the actor is not a member of the session.
	ErrNotParticipant = errors.New("negotiation: not a session participant")
	// ErrDuplicateResponse signals a second response in the same round from
	// the same participant. Safe to ignore on retries.
	ErrDuplicateResponse = errors.New("negotiation: duplicate response for round")
	// ErrCounterPayload signals a counter response without a proposal payload.
	ErrCounterPayload = errors.New("negotiation: counter requires a proposal payload")
	// ErrStaleRound signals the round advanced underneath the caller between
	// evaluation and commit.
	ErrStaleRound = errors.New("negotiation: round advanced concurrently")
	// ErrNoProposal signals a response arriving before any proposal exists.
	ErrNoProposal = errors.New("negotiation: no proposal on the table")
)

// TxBeginner abstracts pgxpool.Pool for testability.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Engine manages bounded-round, timed negotiation sessions.
type Engine struct {
	pool     TxBeginner
	timeline event.TimelineWriter
	outbox   event.OutboxWriter
	now      func() time.Time
}

func NewEngine(pool TxBeginner, timeline event.TimelineWriter, outbox event.OutboxWriter) *Engine {
	return &Engine{
		pool:     pool,
		timeline: timeline,
		outbox:   outbox,
		now:      time.Now,
	}
}

// WithClock injects a deterministic clock for tests.
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	return e
}

// StartParams configures a new session.
type StartParams struct {
	CaseID         string
	ParticipantIDs []string
	MaxRounds      int
	RoundTimeout   time.Duration
}

// Start opens a negotiation session at round 1 with the full round timeout on
// the clock.
func (e *Engine) Start(ctx context.Context, params StartParams) (Session, error) {
	if params.CaseID == "" {
		return Session{}, fmt.Errorf("negotiation: case id required")
	}
	if len(params.ParticipantIDs) < 2 {
		return Session{}, fmt.Errorf("negotiation: at least two participants required")
	}
	if params.MaxRounds < 1 {
		return Session{}, fmt.Errorf("negotiation: max rounds must be positive")
	}
	if params.RoundTimeout <= 0 {
		return Session{}, fmt.Errorf("negotiation: round timeout must be positive")
	}

	tx, err := e.pool.Begin(ctx)
	if err != nil {
		return Session{}, fmt.Errorf("negotiation: begin start tx: %w", err)
	}
	defer tx.Rollback(ctx)

	deadline := e.now().Add(params.RoundTimeout)
	var s Session
	var timeoutSecs int64
	err = tx.QueryRow(ctx, `
        INSERT INTO negotiation_sessions (case_id, status, current_round, max_rounds, round_timeout_seconds, round_deadline)
        VALUES ($1, 'active', 1, $2, $3, $4)
        RETURNING id, case_id, status::text, current_round, max_rounds, round_timeout_seconds, round_deadline, created_at, updated_at
    `, params.CaseID, params.MaxRounds, int(params.RoundTimeout.Seconds()), deadline).Scan(
		&s.ID, &s.CaseID, &s.Status, &s.CurrentRound, &s.MaxRounds,
		&timeoutSecs, &s.RoundDeadline, &s.CreatedAt, &s.UpdatedAt,
	)
	if err != nil {
		return Session{}, fmt.Errorf("negotiation: insert session: %w", err)
	}
	s.RoundTimeout = time.Duration(timeoutSecs) * time.Second

	for _, pid := range params.ParticipantIDs {
		if _, err := tx.Exec(ctx, `
            INSERT INTO negotiation_participants (session_id, party_id) VALUES ($1, $2)
        `, s.ID, pid); err != nil {
			return Session{}, fmt.Errorf("negotiation: insert participant: %w", err)
		}
	}
	s.Participants = params.ParticipantIDs

	if err := tx.Commit(ctx); err != nil {
		return Session{}, fmt.Errorf("negotiation: commit start tx: %w", err)
	}
	return s, nil
}

// SubmitProposal puts a proposal on the table and restarts the round clock.
func (e *Engine) SubmitProposal(ctx context.Context, sessionID, proposerID string, payload json.RawMessage) error {
	tx, err := e.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("negotiation: begin proposal tx: %w", err)
	}
	defer tx.Rollback(ctx)

	s, err := lockSession(ctx, tx, sessionID)
	if err != nil {
		return err
	}
	if s.Status != StatusActive {
		return ErrNotActive
	}
	if err := requireParticipant(ctx, tx, sessionID, proposerID); err != nil {
		return err
	}

	deadline := e.now().Add(s.RoundTimeout)
	if _, err := tx.Exec(ctx, `
        UPDATE negotiation_sessions
        SET current_proposal = $1::jsonb,
            proposer_id = $2,
            round_deadline = $3,
            updated_at = now()
        WHERE id = $4
    `, []byte(payload), proposerID, deadline, sessionID); err != nil {
		return fmt.Errorf("negotiation: set proposal: %w", err)
	}

	if err := e.timeline.Append(ctx, tx, s.CaseID, event.TypeProposalSubmitted, &proposerID, map[string]any{
		"session_id": sessionID,
		"round":      s.CurrentRound,
	}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("negotiation: commit proposal tx: %w", err)
	}
	return nil
}

// Respond records a participant's reply for the current round. When the
// response completes the round it is resolved in the same transaction.
func (e *Engine) Respond(ctx context.Context, sessionID, participantID string, kind ResponseKind, counterPayload json.RawMessage) (RoundOutcome, error) {
	if !validKind(kind) {
		return OutcomeOpen, fmt.Errorf("negotiation: invalid response kind %q", kind)
	}
	if kind == KindCounter && len(counterPayload) == 0 {
		return OutcomeOpen, ErrCounterPayload
	}

	tx, err := e.pool.Begin(ctx)
	if err != nil {
		return OutcomeOpen, fmt.Errorf("negotiation: begin respond tx: %w", err)
	}
	defer tx.Rollback(ctx)

	s, err := lockSession(ctx, tx, sessionID)
	if err != nil {
		return OutcomeOpen, err
	}
	if s.Status != StatusActive {
		return OutcomeOpen, ErrNotActive
	}
	if len(s.CurrentProposal) == 0 {
		return OutcomeOpen, ErrNoProposal
	}
	if err := requireParticipant(ctx, tx, sessionID, participantID); err != nil {
		return OutcomeOpen, err
	}

	var counter []byte
	if kind == KindCounter {
		counter = []byte(counterPayload)
	}
	if _, err := tx.Exec(ctx, `
        INSERT INTO negotiation_responses (session_id, round, participant_id, kind, counter_payload, timed_out)
        VALUES ($1, $2, $3, $4::response_kind, $5::jsonb, false)
    `, sessionID, s.CurrentRound, participantID, kind, counter); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return OutcomeOpen, ErrDuplicateResponse
		}
		return OutcomeOpen, fmt.Errorf("negotiation: insert response: %w", err)
	}

	outcome, err := e.resolveRoundTx(ctx, tx, s, false)
	if err != nil {
		return OutcomeOpen, err
	}

	if err := tx.Commit(ctx); err != nil {
		return OutcomeOpen, fmt.Errorf("negotiation: commit respond tx: %w", err)
	}
	return outcome, nil
}

// AdvanceRound resolves the current round if it is complete or its deadline
// has elapsed. It is safe to call concurrently with live responses: the
// session row lock plus the round-sequence guard prevent double resolution.
func (e *Engine) AdvanceRound(ctx context.Context, sessionID string) (RoundOutcome, error) {
	tx, err := e.pool.Begin(ctx)
	if err != nil {
		return OutcomeOpen, fmt.Errorf("negotiation: begin advance tx: %w", err)
	}
	defer tx.Rollback(ctx)

	s, err := lockSession(ctx, tx, sessionID)
	if err != nil {
		return OutcomeOpen, err
	}
	if s.Status != StatusActive {
		return OutcomeOpen, ErrNotActive
	}

	outcome, err := e.resolveRoundTx(ctx, tx, s, true)
	if err != nil {
		return OutcomeOpen, err
	}

	if err := tx.Commit(ctx); err != nil {
		return OutcomeOpen, fmt.Errorf("negotiation: commit advance tx: %w", err)
	}
	return outcome, nil
}

// Pause suspends an active session; the sweeper skips paused sessions and
// responses are refused until Resume.
func (e *Engine) Pause(ctx context.Context, sessionID string) error {
	return e.flipStatus(ctx, sessionID, StatusActive, StatusPaused)
}

// Resume reactivates a paused session with a fresh round deadline.
func (e *Engine) Resume(ctx context.Context, sessionID string) error {
	return e.flipStatus(ctx, sessionID, StatusPaused, StatusActive)
}

func (e *Engine) flipStatus(ctx context.Context, sessionID string, from, to Status) error {
	tx, err := e.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("negotiation: begin status tx: %w", err)
	}
	defer tx.Rollback(ctx)

	s, err := lockSession(ctx, tx, sessionID)
	if err != nil {
		return err
	}
	if s.Status != from {
		return ErrNotActive
	}

	deadline := e.now().Add(s.RoundTimeout)
	if _, err := tx.Exec(ctx, `
        UPDATE negotiation_sessions
        SET status = $1::negotiation_status, round_deadline = $2, updated_at = now()
        WHERE id = $3
    `, to, deadline, sessionID); err != nil {
		return fmt.Errorf("negotiation: flip status: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("negotiation: commit status tx: %w", err)
	}
	return nil
}

// Get returns the session with its participants.
func (e *Engine) Get(ctx context.Context, sessionID string) (Session, error) {
	tx, err := e.pool.Begin(ctx)
	if err != nil {
		return Session{}, fmt.Errorf("negotiation: begin get tx: %w", err)
	}
	defer tx.Rollback(ctx)

	s, err := loadSession(ctx, tx, sessionID, false)
	if err != nil {
		return Session{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return Session{}, fmt.Errorf("negotiation: commit get tx: %w", err)
	}
	return s, nil
}

// resolveRoundTx applies the round resolution policy. force indicates a
// deadline-driven call: missing participants become implicit rejects flagged
// timed_out. Without force, an incomplete round before its deadline is left
// open.
func (e *Engine) resolveRoundTx(ctx context.Context, tx pgx.Tx, s Session, force bool) (RoundOutcome, error) {
	responses, err := loadRoundResponses(ctx, tx, s.ID, s.CurrentRound)
	if err != nil {
		return OutcomeOpen, err
	}

	responded := make(map[string]bool, len(responses))
	for _, r := range responses {
		responded[r.ParticipantID] = true
	}
	var missing []string
	for _, pid := range s.Participants {
		if !responded[pid] {
			missing = append(missing, pid)
		}
	}

	if len(missing) > 0 {
		deadlinePassed := !e.now().Before(s.RoundDeadline)
		if !deadlinePassed || !force {
			return OutcomeOpen, nil
		}
		// Implicit reject at the deadline. Distinct from an explicit reject
		// in the audit trail; identical for resolution.
		for _, pid := range missing {
			if _, err := tx.Exec(ctx, `
                INSERT INTO negotiation_responses (session_id, round, participant_id, kind, timed_out)
                VALUES ($1, $2, $3, 'reject', true)
                ON CONFLICT (session_id, round, participant_id) DO NOTHING
            `, s.ID, s.CurrentRound, pid); err != nil {
				return OutcomeOpen, fmt.Errorf("negotiation: insert implicit reject: %w", err)
			}
			if err := e.timeline.Append(ctx, tx, s.CaseID, event.TypeResponseTimedOut, nil, map[string]any{
				"session_id":     s.ID,
				"round":          s.CurrentRound,
				"participant_id": pid,
			}); err != nil {
				return OutcomeOpen, err
			}
			responses = append(responses, Response{
				SessionID:     s.ID,
				Round:         s.CurrentRound,
				ParticipantID: pid,
				Kind:          KindReject,
				TimedOut:      true,
			})
		}
	}

	outcome := classify(responses)
	switch outcome {
	case OutcomeCompleted:
		if err := e.concludeSession(ctx, tx, s, StatusCompleted, s.CurrentProposal); err != nil {
			return OutcomeOpen, err
		}
	case OutcomeCancelled:
		if err := e.concludeSession(ctx, tx, s, StatusCancelled, nil); err != nil {
			return OutcomeOpen, err
		}
	case OutcomeCountered:
		counter := earliestCounter(responses)
		nextRound := s.CurrentRound + 1
		if nextRound > s.MaxRounds {
			if err := e.concludeSession(ctx, tx, s, StatusExpired, nil); err != nil {
				return OutcomeOpen, err
			}
			outcome = OutcomeExpired
			break
		}
		deadline := e.now().Add(s.RoundTimeout)
		tag, err := tx.Exec(ctx, `
            UPDATE negotiation_sessions
            SET current_proposal = $1::jsonb,
                proposer_id = $2,
                current_round = $3,
                round_deadline = $4,
                updated_at = now()
            WHERE id = $5 AND current_round = $6 AND status = 'active'
        `, counter.CounterPayload, counter.ParticipantID, nextRound, deadline, s.ID, s.CurrentRound)
		if err != nil {
			return OutcomeOpen, fmt.Errorf("negotiation: advance round: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return OutcomeOpen, ErrStaleRound
		}
	}

	if err := e.timeline.Append(ctx, tx, s.CaseID, event.TypeRoundResolved, nil, map[string]any{
		"session_id": s.ID,
		"round":      s.CurrentRound,
		"outcome":    string(outcome),
	}); err != nil {
		return OutcomeOpen, err
	}
	if err := e.outbox.Enqueue(ctx, tx, event.TopicNegotiationRoundAdvance, map[string]any{
		"session_id": s.ID,
		"round":      s.CurrentRound,
		"outcome":    string(outcome),
	}); err != nil {
		return OutcomeOpen, err
	}
	return outcome, nil
}

func (e *Engine) concludeSession(ctx context.Context, tx pgx.Tx, s Session, status Status, agreedTerms []byte) error {
	tag, err := tx.Exec(ctx, `
        UPDATE negotiation_sessions
        SET status = $1::negotiation_status,
            agreed_terms = $2::jsonb,
            final_round = $3,
            updated_at = now()
        WHERE id = $4 AND current_round = $5 AND status = 'active'
    `, status, agreedTerms, s.CurrentRound, s.ID, s.CurrentRound)
	if err != nil {
		return fmt.Errorf("negotiation: conclude session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrStaleRound
	}
	return nil
}

// classify applies the resolution policy to a full response set: unanimous
// accept completes, reject without counter cancels, otherwise the earliest
// counter drives a new round.
func classify(responses []Response) RoundOutcome {
	allAccept := true
	hasCounter := false
	for _, r := range responses {
		if r.Kind != KindAccept {
			allAccept = false
		}
		if r.Kind == KindCounter {
			hasCounter = true
		}
	}
	switch {
	case allAccept:
		return OutcomeCompleted
	case hasCounter:
		return OutcomeCountered
	default:
		return OutcomeCancelled
	}
}

func earliestCounter(responses []Response) Response {
	var best Response
	found := false
	for _, r := range responses {
		if r.Kind != KindCounter {
			continue
		}
		if !found || r.CreatedAt.Before(best.CreatedAt) {
			best = r
			found = true
		}
	}
	return best
}

func lockSession(ctx context.Context, tx pgx.Tx, sessionID string) (Session, error) {
	return loadSession(ctx, tx, sessionID, true)
}

func loadSession(ctx context.Context, tx pgx.Tx, sessionID string, forUpdate bool) (Session, error) {
	q := `
        SELECT id, case_id, status::text, current_round, max_rounds, round_timeout_seconds,
               round_deadline, current_proposal, proposer_id::text, agreed_terms, final_round,
               created_at, updated_at
        FROM negotiation_sessions
        WHERE id = $1
    `
	if forUpdate {
		q += ` FOR UPDATE`
	}

	var s Session
	var timeoutSecs int64
	err := tx.QueryRow(ctx, q, sessionID).Scan(
		&s.ID, &s.CaseID, &s.Status, &s.CurrentRound, &s.MaxRounds,
		&timeoutSecs, &s.RoundDeadline, &s.CurrentProposal,
		&s.ProposerID, &s.AgreedTerms, &s.FinalRound, &s.CreatedAt, &s.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Session{}, ErrNotFound
		}
		return Session{}, fmt.Errorf("negotiation: load session: %w", err)
	}
	s.RoundTimeout = time.Duration(timeoutSecs) * time.Second

	rows, err := tx.Query(ctx, `SELECT party_id::text FROM negotiation_participants WHERE session_id = $1 ORDER BY party_id`, sessionID)
	if err != nil {
		return Session{}, fmt.Errorf("negotiation: load participants: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var pid string
		if err := rows.Scan(&pid); err != nil {
			return Session{}, fmt.Errorf("negotiation: scan participant: %w", err)
		}
		s.Participants = append(s.Participants, pid)
	}
	if err := rows.Err(); err != nil {
		return Session{}, fmt.Errorf("negotiation: iterate participants: %w", err)
	}
	return s, nil
}

func requireParticipant(ctx context.Context, tx pgx.Tx, sessionID, partyID string) error {
	var ok bool
	if err := tx.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM negotiation_participants WHERE session_id = $1 AND party_id = $2)`,
		sessionID, partyID,
	).Scan(&ok); err != nil {
		return fmt.Errorf("negotiation: verify participant: %w", err)
	}
	if !ok {
		return ErrNotParticipant
	}
	return nil
}

func loadRoundResponses(ctx context.Context, tx pgx.Tx, sessionID string, round int) ([]Response, error) {
	rows, err := tx.Query(ctx, `
        SELECT session_id, round, participant_id::text, kind::text, counter_payload, timed_out, created_at
        FROM negotiation_responses
        WHERE session_id = $1 AND round = $2
        ORDER BY created_at
    `, sessionID, round)
	if err != nil {
		return nil, fmt.Errorf("negotiation: load responses: %w", err)
	}
	defer rows.Close()

	out := make([]Response, 0, 4)
	for rows.Next() {
		var r Response
		var counter []byte
		if err := rows.Scan(&r.SessionID, &r.Round, &r.ParticipantID, &r.Kind, &counter, &r.TimedOut, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("negotiation: scan response: %w", err)
		}
		r.CounterPayload = counter
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("negotiation: iterate responses: %w", err)
	}
	return out, nil
}
