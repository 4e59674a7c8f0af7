package casefile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"accordflow/event"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository handles direct reads and case creation.
type Repository struct {
	pool     *pgxpool.Pool
	timeline event.TimelineWriter
	outbox   event.OutboxWriter
}

func NewRepository(pool *pgxpool.Pool, timeline event.TimelineWriter, outbox event.OutboxWriter) *Repository {
	return &Repository{pool: pool, timeline: timeline, outbox: outbox}
}

// FileParams carries everything needed to open a new case. The filing user
// becomes the case's claimant.
type FileParams struct {
	Title           string
	Facts           map[string]any
	ClaimantUserID  string
	ClaimantContact string
}

// File creates a case in `filed` status together with its claimant party.
func (r *Repository) File(ctx context.Context, params FileParams) (Case, error) {
	if params.Title == "" {
		return Case{}, fmt.Errorf("casefile: title required")
	}
	if params.ClaimantUserID == "" {
		return Case{}, fmt.Errorf("casefile: claimant user id required")
	}

	facts, err := json.Marshal(params.Facts)
	if err != nil {
		return Case{}, fmt.Errorf("casefile: marshal facts: %w", err)
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return Case{}, fmt.Errorf("casefile: begin file tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var rec Case
	err = tx.QueryRow(ctx, `
        INSERT INTO cases (title, facts, status)
        VALUES ($1, $2::jsonb, 'filed')
        RETURNING id, title, facts, status, current_batch_id::text, final_option_id::text, created_at, updated_at
    `, params.Title, facts).Scan(
		&rec.ID, &rec.Title, &rec.Facts, &rec.Status,
		&rec.CurrentBatch, &rec.FinalOptionID, &rec.CreatedAt, &rec.UpdatedAt,
	)
	if err != nil {
		return Case{}, fmt.Errorf("casefile: insert case: %w", err)
	}

	if _, err := tx.Exec(ctx, `
        INSERT INTO parties (case_id, user_id, role, response_status, contact, responded_at)
        VALUES ($1, $2, 'claimant', 'responded', $3, now())
    `, rec.ID, params.ClaimantUserID, params.ClaimantContact); err != nil {
		return Case{}, fmt.Errorf("casefile: insert claimant: %w", err)
	}

	if err := r.timeline.Append(ctx, tx, rec.ID, event.TypeCaseFiled, &params.ClaimantUserID, map[string]any{
		"title": params.Title,
	}); err != nil {
		return Case{}, err
	}
	if err := r.outbox.Enqueue(ctx, tx, event.TopicCaseStatusChanged, map[string]any{
		"case_id": rec.ID,
		"from":    "",
		"to":      string(StatusFiled),
	}); err != nil {
		return Case{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Case{}, fmt.Errorf("casefile: commit file tx: %w", err)
	}
	return rec, nil
}

// Get returns a single case by id.
func (r *Repository) Get(ctx context.Context, caseID string) (Case, error) {
	const q = `
        SELECT id, title, facts, status, current_batch_id::text, final_option_id::text, created_at, updated_at
        FROM cases
        WHERE id = $1
    `
	var rec Case
	err := r.pool.QueryRow(ctx, q, caseID).Scan(
		&rec.ID, &rec.Title, &rec.Facts, &rec.Status,
		&rec.CurrentBatch, &rec.FinalOptionID, &rec.CreatedAt, &rec.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Case{}, ErrNotFound
		}
		return Case{}, fmt.Errorf("casefile: get case: %w", err)
	}
	return rec, nil
}

// ListForUser returns the cases a user participates in, newest first.
func (r *Repository) ListForUser(ctx context.Context, userID string, limit int) ([]Case, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	const q = `
        SELECT DISTINCT c.id, c.title, c.facts, c.status, c.current_batch_id::text, c.final_option_id::text, c.created_at, c.updated_at
        FROM cases c
        JOIN parties p ON p.case_id = c.id
        WHERE p.user_id = $1
        ORDER BY c.created_at DESC
        LIMIT $2
    `
	rows, err := r.pool.Query(ctx, q, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("casefile: list cases: %w", err)
	}
	defer rows.Close()

	out := make([]Case, 0, 8)
	for rows.Next() {
		var rec Case
		if err := rows.Scan(
			&rec.ID, &rec.Title, &rec.Facts, &rec.Status,
			&rec.CurrentBatch, &rec.FinalOptionID, &rec.CreatedAt, &rec.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("casefile: scan case: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("casefile: iterate cases: %w", err)
	}
	return out, nil
}
