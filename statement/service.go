package statement

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"accordflow/casefile"
	"accordflow/event"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

var (
	// ErrEmptyBody signals a statement with no content.
	ErrEmptyBody = errors.New("statement: body is empty")
	// ErrDuplicateStatement signals a party submitting a second statement.
	ErrDuplicateStatement = errors.New("statement: party already submitted a statement")
	// ErrPartyNotInCase signals a statement from a party outside the case.
	ErrPartyNotInCase = errors.New("statement: party does not belong to case")
)

// TxBeginner abstracts pgxpool.Pool for testability.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// ReadinessEvaluator is satisfied by the case service: it re-checks whether a
// case can advance to statements_complete after each submission.
type ReadinessEvaluator interface {
	EvaluateReadiness(ctx context.Context, caseID string) error
}

// Service accepts party statements, typed or transcribed from audio.
type Service struct {
	pool        TxBeginner
	timeline    event.TimelineWriter
	readiness   ReadinessEvaluator
	transcriber Transcriber
}

func NewService(pool TxBeginner, timeline event.TimelineWriter) *Service {
	return &Service{pool: pool, timeline: timeline}
}

// WithReadinessEvaluator wires the post-submission case re-evaluation.
func (s *Service) WithReadinessEvaluator(ev ReadinessEvaluator) *Service {
	s.readiness = ev
	return s
}

// WithTranscriber enables audio submissions.
func (s *Service) WithTranscriber(t Transcriber) *Service {
	s.transcriber = t
	return s
}

// SubmitParams carries one statement submission.
type SubmitParams struct {
	CaseID   string
	PartyID  string
	Body     string
	Source   Source
	AudioRef *string
}

// Submit records a party's statement and re-evaluates case readiness. The
// case row is locked first so a statement can never land on a case that
// concluded concurrently.
func (s *Service) Submit(ctx context.Context, params SubmitParams) (Statement, error) {
	if strings.TrimSpace(params.Body) == "" {
		return Statement{}, ErrEmptyBody
	}
	if params.Source == "" {
		params.Source = SourceTyped
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Statement{}, fmt.Errorf("statement: begin submit tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var caseStatus casefile.Status
	if err := tx.QueryRow(ctx, `SELECT status FROM cases WHERE id = $1 FOR UPDATE`, params.CaseID).Scan(&caseStatus); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Statement{}, casefile.ErrNotFound
		}
		return Statement{}, fmt.Errorf("statement: lock case: %w", err)
	}
	if caseStatus.IsTerminal() {
		return Statement{}, casefile.ErrTerminalState
	}

	var belongs bool
	if err := tx.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM parties WHERE id = $1 AND case_id = $2)`,
		params.PartyID, params.CaseID,
	).Scan(&belongs); err != nil {
		return Statement{}, fmt.Errorf("statement: verify party: %w", err)
	}
	if !belongs {
		return Statement{}, ErrPartyNotInCase
	}

	var st Statement
	err = tx.QueryRow(ctx, `
        INSERT INTO statements (case_id, party_id, body, source, audio_ref)
        VALUES ($1, $2, $3, $4, $5)
        RETURNING id, case_id, party_id, body, source, audio_ref, created_at
    `, params.CaseID, params.PartyID, params.Body, params.Source, params.AudioRef).Scan(
		&st.ID, &st.CaseID, &st.PartyID, &st.Body, &st.Source, &st.AudioRef, &st.CreatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return Statement{}, ErrDuplicateStatement
		}
		return Statement{}, fmt.Errorf("statement: insert: %w", err)
	}

	if err := s.timeline.Append(ctx, tx, params.CaseID, event.TypeStatementSubmitted, nil, map[string]any{
		"party_id": params.PartyID,
		"source":   string(params.Source),
	}); err != nil {
		return Statement{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Statement{}, fmt.Errorf("statement: commit submit tx: %w", err)
	}

	if s.readiness != nil {
		if err := s.readiness.EvaluateReadiness(ctx, params.CaseID); err != nil && !errors.Is(err, casefile.ErrTerminalState) {
			return Statement{}, err
		}
	}
	return st, nil
}

// SubmitAudio transcribes an audio file and records the transcript as the
// party's statement.
func (s *Service) SubmitAudio(ctx context.Context, caseID, partyID, audioPath string) (Statement, error) {
	if s.transcriber == nil {
		return Statement{}, fmt.Errorf("statement: no transcriber configured")
	}

	transcript, err := s.transcriber.Transcribe(ctx, audioPath)
	if err != nil {
		return Statement{}, err
	}

	return s.Submit(ctx, SubmitParams{
		CaseID:   caseID,
		PartyID:  partyID,
		Body:     transcript,
		Source:   SourceTranscribed,
		AudioRef: &audioPath,
	})
}

// ListByCase returns a case's statements in submission order.
func (s *Service) ListByCase(ctx context.Context, caseID string) ([]Statement, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("statement: begin list tx: %w", err)
	}
	defer tx.Rollback(ctx)

	rows, err := tx.Query(ctx, `
        SELECT id, case_id, party_id, body, source, audio_ref, created_at
        FROM statements
        WHERE case_id = $1
        ORDER BY created_at
    `, caseID)
	if err != nil {
		return nil, fmt.Errorf("statement: list: %w", err)
	}
	defer rows.Close()

	out := make([]Statement, 0, 4)
	for rows.Next() {
		var st Statement
		if err := rows.Scan(&st.ID, &st.CaseID, &st.PartyID, &st.Body, &st.Source, &st.AudioRef, &st.CreatedAt); err != nil {
			return nil, fmt.Errorf("statement: scan: %w", err)
		}
		out = append(out, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("statement: iterate: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("statement: commit list tx: %w", err)
	}
	return out, nil
}
