package settlement

import (
	"context"
	"errors"
	"fmt"

	"accordflow/ai"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrBatchNotFound signals no batch row for the identifier.
var ErrBatchNotFound = errors.New("settlement: batch not found")

// Repository persists option batches.
type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// CreateBatchParams describes a batch commit.
type CreateBatchParams struct {
	CaseID          string
	Kind            BatchKind
	SourceBatchID   *string
	CompromiseRound int
	Drafts          []ai.OptionDraft
}

// CreateBatchTx inserts the batch with its options and points the case's
// current_batch_id at it, all inside the caller's transaction. Designed to be
// composed with the status transition that makes the batch live.
func (r *Repository) CreateBatchTx(ctx context.Context, tx pgx.Tx, params CreateBatchParams) (Batch, error) {
	if len(params.Drafts) == 0 {
		return Batch{}, fmt.Errorf("settlement: empty batch")
	}

	var b Batch
	err := tx.QueryRow(ctx, `
        INSERT INTO settlement_batches (case_id, kind, source_batch_id, compromise_round)
        VALUES ($1, $2::batch_kind, $3, $4)
        RETURNING id, case_id, kind::text, source_batch_id::text, compromise_round, created_at
    `, params.CaseID, params.Kind, params.SourceBatchID, params.CompromiseRound).Scan(
		&b.ID, &b.CaseID, &b.Kind, &b.SourceBatchID, &b.CompromiseRound, &b.CreatedAt,
	)
	if err != nil {
		return Batch{}, fmt.Errorf("settlement: insert batch: %w", err)
	}

	for _, d := range params.Drafts {
		if _, err := tx.Exec(ctx, `
            INSERT INTO settlement_options (case_id, batch_id, rank, terms, amount_cents, probability)
            VALUES ($1, $2, $3, $4::jsonb, $5, $6)
        `, params.CaseID, b.ID, d.Rank, []byte(d.Terms), d.AmountCents, d.Probability); err != nil {
			return Batch{}, fmt.Errorf("settlement: insert option: %w", err)
		}
	}

	if _, err := tx.Exec(ctx, `UPDATE cases SET current_batch_id = $1 WHERE id = $2`, b.ID, params.CaseID); err != nil {
		return Batch{}, fmt.Errorf("settlement: point case at batch: %w", err)
	}

	return b, nil
}

// GetBatch returns batch metadata.
func (r *Repository) GetBatch(ctx context.Context, batchID string) (Batch, error) {
	var b Batch
	err := r.pool.QueryRow(ctx, `
        SELECT id, case_id, kind::text, source_batch_id::text, compromise_round, created_at
        FROM settlement_batches
        WHERE id = $1
    `, batchID).Scan(&b.ID, &b.CaseID, &b.Kind, &b.SourceBatchID, &b.CompromiseRound, &b.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Batch{}, ErrBatchNotFound
		}
		return Batch{}, fmt.Errorf("settlement: get batch: %w", err)
	}
	return b, nil
}

// OptionsForBatch returns the batch's options ordered by rank.
func (r *Repository) OptionsForBatch(ctx context.Context, batchID string) ([]Option, error) {
	rows, err := r.pool.Query(ctx, `
        SELECT id, case_id, batch_id, rank, terms, amount_cents, probability, created_at
        FROM settlement_options
        WHERE batch_id = $1
        ORDER BY rank
    `, batchID)
	if err != nil {
		return nil, fmt.Errorf("settlement: list options: %w", err)
	}
	defer rows.Close()

	out := make([]Option, 0, 4)
	for rows.Next() {
		var o Option
		if err := rows.Scan(&o.ID, &o.CaseID, &o.BatchID, &o.Rank, &o.Terms, &o.AmountCents, &o.Probability, &o.CreatedAt); err != nil {
			return nil, fmt.Errorf("settlement: scan option: %w", err)
		}
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("settlement: iterate options: %w", err)
	}
	return out, nil
}
