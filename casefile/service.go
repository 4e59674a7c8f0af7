package casefile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"accordflow/event"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

var (
	// ErrNotFound is returned when no case row exists for the identifier.
	ErrNotFound = errors.New("casefile: not found")
	// ErrTerminalState signals a mutation attempted against a concluded case.
	// Callers treat it as a benign no-op: it marks a stale or retried event,
	// not a fault.
	ErrTerminalState = errors.New("casefile: case already concluded")
	// ErrInvalidTransition signals an edge not present in the lifecycle table.
	ErrInvalidTransition = errors.New("casefile: invalid status transition")
	// ErrDuplicateIdempotencyKey signals a webhook replay hit the key guard.
	ErrDuplicateIdempotencyKey = errors.New("casefile: duplicate idempotency key")
)

// TxBeginner abstracts pgxpool.Pool for testability.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Service drives case status transitions, ensuring every transition commits
// its timeline event and outbox message in the same transaction.
type Service struct {
	pool     TxBeginner
	timeline event.TimelineWriter
	outbox   event.OutboxWriter
	now      func() time.Time

	// maxCompromiseRounds bounds how many compromise batches may be attempted
	// before a divergent case is forwarded to court.
	maxCompromiseRounds int
}

func NewService(pool TxBeginner, timeline event.TimelineWriter, outbox event.OutboxWriter) *Service {
	return &Service{
		pool:                pool,
		timeline:            timeline,
		outbox:              outbox,
		now:                 time.Now,
		maxCompromiseRounds: 1,
	}
}

// WithMaxCompromiseRounds overrides the compromise escalation bound.
func (s *Service) WithMaxCompromiseRounds(n int) *Service {
	if n >= 0 {
		s.maxCompromiseRounds = n
	}
	return s
}

// WithClock injects a deterministic clock for tests.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// TransitionParams carries one requested status change.
type TransitionParams struct {
	CaseID  string
	ActorID string
	Next    Status
	Payload map[string]any
}

// Transition applies a single status change in its own transaction.
func (s *Service) Transition(ctx context.Context, params TransitionParams) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("casefile: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := s.TransitionTx(ctx, tx, params); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("casefile: commit transition: %w", err)
	}
	return nil
}

// TransitionTx applies a status change inside the caller's transaction so
// composite operations (batch creation, compromise application) stay atomic.
// The case row is locked for the remainder of the transaction.
func (s *Service) TransitionTx(ctx context.Context, tx pgx.Tx, params TransitionParams) error {
	current, err := lockCase(ctx, tx, params.CaseID)
	if err != nil {
		return err
	}

	if current.IsTerminal() {
		return ErrTerminalState
	}
	if !CanTransition(current, params.Next) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current, params.Next)
	}

	if params.Next == StatusInvitationsSent {
		if err := checkPartyQuorum(ctx, tx, params.CaseID); err != nil {
			return err
		}
	}

	if _, err := tx.Exec(ctx, `
        UPDATE cases
        SET status = $1::case_status,
            updated_at = now()
        WHERE id = $2
    `, params.Next, params.CaseID); err != nil {
		return fmt.Errorf("casefile: update status: %w", err)
	}

	payload := map[string]any{
		"previous_status": string(current),
		"next_status":     string(params.Next),
	}
	for k, v := range params.Payload {
		payload[k] = v
	}
	var actor *string
	if params.ActorID != "" {
		actor = &params.ActorID
		payload["actor_id"] = params.ActorID
	}

	if err := s.timeline.Append(ctx, tx, params.CaseID, event.TypeCaseStatusChanged, actor, payload); err != nil {
		return err
	}

	return s.outbox.Enqueue(ctx, tx, event.TopicCaseStatusChanged, map[string]any{
		"case_id": params.CaseID,
		"from":    string(current),
		"to":      string(params.Next),
	})
}

// ForwardToCourt escalates a case out of the settlement flow. Legal from any
// non-terminal status.
func (s *Service) ForwardToCourt(ctx context.Context, caseID, actorID, reason string) error {
	return s.Transition(ctx, TransitionParams{
		CaseID:  caseID,
		ActorID: actorID,
		Next:    StatusForwardedToCourt,
		Payload: map[string]any{"reason": reason},
	})
}

// WebhookRequest is an external collaborator callback normalized for the service.
type WebhookRequest struct {
	CaseID         string
	IdempotencyKey string
	ActorID        *string
	Payload        map[string]any
}

// HandleDocumentReady advances document_generation -> awaiting_signatures when
// the document collaborator reports the settlement papers are prepared.
// Replays (same idempotency key) and stale deliveries against a concluded
// case are benign no-ops.
func (s *Service) HandleDocumentReady(ctx context.Context, req WebhookRequest) error {
	return s.handleWebhook(ctx, req, StatusAwaitingSignatures)
}

// HandleSignaturesComplete advances awaiting_signatures -> closed once every
// signature has been collected.
func (s *Service) HandleSignaturesComplete(ctx context.Context, req WebhookRequest) error {
	return s.handleWebhook(ctx, req, StatusClosed)
}

func (s *Service) handleWebhook(ctx context.Context, req WebhookRequest, next Status) error {
	if req.IdempotencyKey == "" {
		return fmt.Errorf("casefile: missing idempotency key")
	}
	if req.CaseID == "" {
		return fmt.Errorf("casefile: missing case id")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("casefile: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := insertIdempotencyKey(ctx, tx, req.IdempotencyKey); err != nil {
		if errors.Is(err, ErrDuplicateIdempotencyKey) {
			return nil
		}
		return err
	}

	actorID := ""
	if req.ActorID != nil {
		actorID = *req.ActorID
	}
	err = s.TransitionTx(ctx, tx, TransitionParams{
		CaseID:  req.CaseID,
		ActorID: actorID,
		Next:    next,
		Payload: req.Payload,
	})
	if err != nil {
		if errors.Is(err, ErrTerminalState) {
			// Stale retry of an already concluded case. Commit so the
			// idempotency key sticks and later replays short-circuit.
			if commitErr := tx.Commit(ctx); commitErr != nil {
				return fmt.Errorf("casefile: commit idempotency key: %w", commitErr)
			}
			return nil
		}
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("casefile: commit webhook tx: %w", err)
	}
	return nil
}

// BeginDocumentGeneration moves an agreed case into document generation,
// notifying the document collaborator through the outbox.
func (s *Service) BeginDocumentGeneration(ctx context.Context, caseID, actorID string) error {
	return s.Transition(ctx, TransitionParams{
		CaseID:  caseID,
		ActorID: actorID,
		Next:    StatusDocumentGeneration,
	})
}

func insertIdempotencyKey(ctx context.Context, tx pgx.Tx, key string) error {
	if _, err := tx.Exec(ctx, `INSERT INTO idempotency (key) VALUES ($1)`, key); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrDuplicateIdempotencyKey
		}
		return fmt.Errorf("casefile: insert idempotency key: %w", err)
	}
	return nil
}

// lockCase reads the case status under FOR UPDATE, serializing all transition
// evaluation against concurrent writers.
func lockCase(ctx context.Context, tx pgx.Tx, caseID string) (Status, error) {
	var current Status
	err := tx.QueryRow(ctx, `SELECT status FROM cases WHERE id = $1 FOR UPDATE`, caseID).Scan(&current)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("casefile: lock case: %w", err)
	}
	return current, nil
}

// checkPartyQuorum enforces that a case holds exactly one claimant and at
// least one respondent before invitations go out.
func checkPartyQuorum(ctx context.Context, tx pgx.Tx, caseID string) error {
	var claimants, respondents int
	err := tx.QueryRow(ctx, `
        SELECT COUNT(*) FILTER (WHERE role = 'claimant'),
               COUNT(*) FILTER (WHERE role = 'respondent')
        FROM parties
        WHERE case_id = $1
    `, caseID).Scan(&claimants, &respondents)
	if err != nil {
		return fmt.Errorf("casefile: count parties: %w", err)
	}
	if claimants != 1 || respondents < 1 {
		return fmt.Errorf("%w: case needs one claimant and at least one respondent", ErrInvalidTransition)
	}
	return nil
}
