package party

import (
	"context"
	"errors"
	"fmt"
	"time"

	"accordflow/casefile"
	"accordflow/event"

	"github.com/jackc/pgx/v5"
)

// TxBeginner abstracts pgxpool.Pool for testability.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// ReadinessEvaluator is satisfied by the case service: it re-checks whether a
// case can advance to statements_complete after each party response.
type ReadinessEvaluator interface {
	EvaluateReadiness(ctx context.Context, caseID string) error
}

// CaseTransitioner applies a case status change inside the caller's transaction.
type CaseTransitioner interface {
	TransitionTx(ctx context.Context, tx pgx.Tx, params casefile.TransitionParams) error
}

// Service exposes party registry operations.
type Service struct {
	pool      TxBeginner
	repo      Repository
	cases     CaseTransitioner
	readiness ReadinessEvaluator
	timeline  event.TimelineWriter
	outbox    event.OutboxWriter
	now       func() time.Time
}

func NewService(pool TxBeginner, repo Repository, cases CaseTransitioner, timeline event.TimelineWriter, outbox event.OutboxWriter) *Service {
	return &Service{
		pool:     pool,
		repo:     repo,
		cases:    cases,
		timeline: timeline,
		outbox:   outbox,
		now:      time.Now,
	}
}

// WithReadinessEvaluator wires the post-response case re-evaluation.
func (s *Service) WithReadinessEvaluator(ev ReadinessEvaluator) *Service {
	s.readiness = ev
	return s
}

// Add invites a party to a case. A second claimant fails with ErrDuplicateRole.
func (s *Service) Add(ctx context.Context, params AddParams) (Party, error) {
	if params.CaseID == "" {
		return Party{}, fmt.Errorf("party: case id required")
	}
	return s.repo.Add(ctx, params)
}

// ListByCase returns all parties of a case.
func (s *Service) ListByCase(ctx context.Context, caseID string) ([]Party, error) {
	return s.repo.ListByCase(ctx, caseID)
}

// AllRequiredResponded reports whether the claimant and every respondent have
// responded to their invitations.
func (s *Service) AllRequiredResponded(ctx context.Context, caseID string) (bool, error) {
	return s.repo.AllRequiredResponded(ctx, caseID)
}

// RecordResponse transitions a party invited -> responded. The case row is
// locked first so a response can never land on a case that concluded
// concurrently; responses against terminal cases fail with ErrTerminalState.
func (s *Service) RecordResponse(ctx context.Context, partyID string) (Party, error) {
	p, err := s.setResponse(ctx, partyID, StatusResponded, event.TypePartyResponded)
	if err != nil {
		return Party{}, err
	}

	if s.readiness != nil {
		if err := s.readiness.EvaluateReadiness(ctx, p.CaseID); err != nil && !errors.Is(err, casefile.ErrTerminalState) {
			return Party{}, err
		}
	}
	return p, nil
}

// RecordDecline transitions a party invited -> declined. When a required
// party declines, the case is rejected in the same transaction.
func (s *Service) RecordDecline(ctx context.Context, partyID string) (Party, error) {
	return s.setResponse(ctx, partyID, StatusDeclined, event.TypePartyResponded)
}

func (s *Service) setResponse(ctx context.Context, partyID string, status ResponseStatus, eventType string) (Party, error) {
	existing, err := s.repo.GetByID(ctx, partyID)
	if err != nil {
		return Party{}, err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Party{}, fmt.Errorf("party: begin response tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var caseStatus casefile.Status
	if err := tx.QueryRow(ctx, `SELECT status FROM cases WHERE id = $1 FOR UPDATE`, existing.CaseID).Scan(&caseStatus); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Party{}, casefile.ErrNotFound
		}
		return Party{}, fmt.Errorf("party: lock case: %w", err)
	}
	if caseStatus.IsTerminal() {
		return Party{}, casefile.ErrTerminalState
	}

	p, err := s.repo.SetResponse(ctx, tx, partyID, status)
	if err != nil {
		return Party{}, err
	}

	if err := s.timeline.Append(ctx, tx, p.CaseID, eventType, p.UserID, map[string]any{
		"party_id": p.ID,
		"role":     string(p.Role),
		"status":   string(status),
	}); err != nil {
		return Party{}, err
	}

	if status == StatusDeclined && p.Required() && s.cases != nil {
		err := s.cases.TransitionTx(ctx, tx, casefile.TransitionParams{
			CaseID: p.CaseID,
			Next:   casefile.StatusRejected,
			Payload: map[string]any{
				"reason":   "required party declined",
				"party_id": p.ID,
			},
		})
		if err != nil {
			return Party{}, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return Party{}, fmt.Errorf("party: commit response tx: %w", err)
	}
	return p, nil
}
