package event

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Notifier is the delivery layer contract (email, SMS, websocket fan-out).
// Deliver returning an error leaves the message pending for a later sweep.
type Notifier interface {
	Deliver(ctx context.Context, topic string, payload []byte) error
}

// Dispatcher polls the outbox table and hands pending messages to the
// Notifier. Rows are claimed with FOR UPDATE SKIP LOCKED so multiple
// dispatcher replicas never deliver the same message twice.
type Dispatcher struct {
	pool        *pgxpool.Pool
	notifier    Notifier
	interval    time.Duration
	batchSize   int
	maxAttempts int
}

func NewDispatcher(pool *pgxpool.Pool, notifier Notifier, interval time.Duration) *Dispatcher {
	if interval <= 0 {
		interval = time.Second
	}
	return &Dispatcher{
		pool:        pool,
		notifier:    notifier,
		interval:    interval,
		batchSize:   32,
		maxAttempts: 10,
	}
}

// Run blocks until ctx is cancelled, draining the outbox on each tick.
func (d *Dispatcher) Run(ctx context.Context) error {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := d.drain(ctx); err != nil {
				log.Printf("outbox dispatcher: drain: %v", err)
			}
		}
	}
}

func (d *Dispatcher) drain(ctx context.Context) error {
	for {
		n, err := d.dispatchBatch(ctx)
		if err != nil {
			return err
		}
		if n < d.batchSize {
			return nil
		}
	}
}

func (d *Dispatcher) dispatchBatch(ctx context.Context) (int, error) {
	tx, err := d.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("event: begin dispatch tx: %w", err)
	}
	defer tx.Rollback(ctx)

	const claimSQL = `
SELECT id, topic, payload, attempts
FROM outbox
WHERE status = 'pending'
ORDER BY created_at
LIMIT $1
FOR UPDATE SKIP LOCKED
`
	rows, err := tx.Query(ctx, claimSQL, d.batchSize)
	if err != nil {
		return 0, fmt.Errorf("event: claim outbox batch: %w", err)
	}

	msgs := make([]OutboxMessage, 0, d.batchSize)
	for rows.Next() {
		var m OutboxMessage
		if err := rows.Scan(&m.ID, &m.Topic, &m.Payload, &m.Attempts); err != nil {
			rows.Close()
			return 0, fmt.Errorf("event: scan outbox row: %w", err)
		}
		msgs = append(msgs, m)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("event: iterate outbox rows: %w", err)
	}

	for _, m := range msgs {
		deliverErr := d.notifier.Deliver(ctx, m.Topic, m.Payload)
		switch {
		case deliverErr == nil:
			if _, err := tx.Exec(ctx, `UPDATE outbox SET status='processed', attempts=attempts+1 WHERE id=$1`, m.ID); err != nil {
				return 0, fmt.Errorf("event: mark processed: %w", err)
			}
		case m.Attempts+1 >= d.maxAttempts:
			if _, err := tx.Exec(ctx, `UPDATE outbox SET status='dead', attempts=attempts+1 WHERE id=$1`, m.ID); err != nil {
				return 0, fmt.Errorf("event: mark dead: %w", err)
			}
			log.Printf("outbox dispatcher: message %s dead after %d attempts: %v", m.ID, m.Attempts+1, deliverErr)
		default:
			if _, err := tx.Exec(ctx, `UPDATE outbox SET attempts=attempts+1 WHERE id=$1`, m.ID); err != nil {
				return 0, fmt.Errorf("event: bump attempts: %w", err)
			}
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("event: commit dispatch tx: %w", err)
	}
	return len(msgs), nil
}
