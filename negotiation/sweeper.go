package negotiation

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/jackc/pgx/v5"
)

// Querier is the read surface the sweeper needs from pgxpool.Pool.
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// Sweeper resolves rounds whose deadline passed without a full response set.
// It races live Respond calls safely: AdvanceRound takes the session row lock
// and re-checks the round before acting.
type Sweeper struct {
	pool     Querier
	engine   *Engine
	interval time.Duration
	batch    int
}

func NewSweeper(pool Querier, engine *Engine, interval time.Duration) *Sweeper {
	return &Sweeper{
		pool:     pool,
		engine:   engine,
		interval: interval,
		batch:    50,
	}
}

// Run sweeps on a ticker until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := s.SweepOnce(ctx); err != nil {
				log.Printf("negotiation sweeper: %v", err)
			}
		}
	}
}

// SweepOnce resolves every overdue active session found in one pass.
func (s *Sweeper) SweepOnce(ctx context.Context) error {
	ids, err := s.overdueSessions(ctx)
	if err != nil {
		return err
	}

	for _, id := range ids {
		outcome, err := s.engine.AdvanceRound(ctx, id)
		switch {
		case err == nil:
			if outcome != OutcomeOpen {
				log.Printf("negotiation sweeper: session %s resolved on deadline: %s", id, outcome)
			}
		case errors.Is(err, ErrNotActive), errors.Is(err, ErrStaleRound):
			// Another worker or a live response got there first.
		default:
			log.Printf("negotiation sweeper: session %s: %v", id, err)
		}
	}
	return nil
}

func (s *Sweeper) overdueSessions(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `
        SELECT id
        FROM negotiation_sessions
        WHERE status = 'active' AND round_deadline <= now()
        ORDER BY round_deadline
        LIMIT $1
    `, s.batch)
	if err != nil {
		return nil, fmt.Errorf("negotiation: list overdue sessions: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("negotiation: scan session id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("negotiation: iterate overdue sessions: %w", err)
	}
	return ids, nil
}
