package event

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// TimelineWriter appends immutable business events inside the caller's transaction.
type TimelineWriter interface {
	Append(ctx context.Context, tx pgx.Tx, caseID string, eventType string, actorID *string, payload map[string]any) error
}

// OutboxWriter enqueues outbox messages inside the caller's transaction.
type OutboxWriter interface {
	Enqueue(ctx context.Context, tx pgx.Tx, topic string, payload map[string]any) error
}

// PGWriter implements both TimelineWriter and OutboxWriter against PostgreSQL.
// Timeline rows carry a per-case monotonic seq assigned by the database so the
// audit trail stays gap-checked under concurrent writers.
type PGWriter struct{}

func NewWriter() *PGWriter {
	return &PGWriter{}
}

func (w *PGWriter) Append(ctx context.Context, tx pgx.Tx, caseID string, eventType string, actorID *string, payload map[string]any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("event: marshal timeline payload: %w", err)
	}

	var actor any
	if actorID != nil && *actorID != "" {
		actor = *actorID
	}

	const q = `
INSERT INTO timeline_events (case_id, seq, type, payload, actor_id)
SELECT $1, COALESCE(MAX(seq), 0) + 1, $2, $3::jsonb, $4::uuid
FROM timeline_events
WHERE case_id = $1
`
	if _, err := tx.Exec(ctx, q, caseID, eventType, body, actor); err != nil {
		return fmt.Errorf("event: insert timeline event: %w", err)
	}
	return nil
}

func (w *PGWriter) Enqueue(ctx context.Context, tx pgx.Tx, topic string, payload map[string]any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("event: marshal outbox payload: %w", err)
	}

	const q = `INSERT INTO outbox (topic, payload) VALUES ($1, $2::jsonb)`
	if _, err := tx.Exec(ctx, q, topic, body); err != nil {
		return fmt.Errorf("event: enqueue outbox: %w", err)
	}
	return nil
}
