package actors

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// Decider races the other deciders to upsert a party's choice on the current
// option batch. Last committed write wins; the (batch, party) primary key
// keeps the ledger a map, never a log.
func Decider(ctx context.Context, pool *pgxpool.Pool, caseID, batchID, partyID, optionID string, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		choice := "accepted"
		opt := &optionID
		if rand.Intn(3) == 0 {
			choice = "rejected"
			opt = nil
		}
		// Chaos may kill the connection mid-flight; transient errors are
		// part of the exercise, only cancellation stops the actor.
		_, err := pool.Exec(ctx, `INSERT INTO decisions (case_id, batch_id, party_id, option_id, choice)
                                  VALUES ($1,$2,$3,$4,$5::decision_choice)
                                  ON CONFLICT (batch_id, party_id)
                                  DO UPDATE SET option_id = EXCLUDED.option_id, choice = EXCLUDED.choice, decided_at = now()`,
			caseID, batchID, partyID, opt, choice)
		if err != nil && ctx.Err() != nil {
			return ctx.Err()
		}
		time.Sleep(time.Duration(10+rand.Intn(20)) * time.Millisecond)
	}
}

// Evaluator replays the decide-on-batch procedure: lock the case, and when
// every required party accepted the same option, fire the guarded transition
// to settlement_agreed with its timeline and outbox writes in one commit.
func Evaluator(ctx context.Context, pool *pgxpool.Pool, caseID, batchID string, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		if err := evaluateOnce(ctx, pool, caseID, batchID); err != nil && ctx.Err() != nil {
			return ctx.Err()
		}
		time.Sleep(time.Duration(20+rand.Intn(40)) * time.Millisecond)
	}
}

func evaluateOnce(ctx context.Context, pool *pgxpool.Pool, caseID, batchID string) error {
	tx, err := pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	var status string
	if err := tx.QueryRow(ctx, `SELECT status FROM cases WHERE id=$1 FOR UPDATE`, caseID).Scan(&status); err != nil {
		return nil
	}
	if status != "parties_deciding" {
		return nil
	}

	var agreedOption *string
	err = tx.QueryRow(ctx, `
        SELECT MIN(d.option_id::text)
        FROM parties p
        JOIN decisions d ON d.party_id = p.id AND d.batch_id = $2
        WHERE p.case_id = $1 AND p.role IN ('claimant','respondent')
        HAVING COUNT(*) = (SELECT COUNT(*) FROM parties WHERE case_id=$1 AND role IN ('claimant','respondent'))
           AND COUNT(*) FILTER (WHERE d.choice <> 'accepted') = 0
           AND COUNT(DISTINCT d.option_id) = 1
    `, caseID, batchID).Scan(&agreedOption)
	if err != nil || agreedOption == nil {
		return nil
	}

	tag, err := tx.Exec(ctx, `UPDATE cases SET status='settlement_agreed', final_option_id=$2, updated_at=now()
                              WHERE id=$1 AND status='parties_deciding'`, caseID, *agreedOption)
	if err != nil || tag.RowsAffected() == 0 {
		return nil
	}

	var seq int
	if err := tx.QueryRow(ctx, `SELECT COALESCE(MAX(seq),0)+1 FROM timeline_events WHERE case_id=$1`, caseID).Scan(&seq); err != nil {
		return nil
	}
	if _, err := tx.Exec(ctx, `INSERT INTO timeline_events (case_id, seq, type, payload)
                               VALUES ($1,$2,'CASE_STATUS_CHANGED', jsonb_build_object('from','parties_deciding','to','settlement_agreed'))`, caseID, seq); err != nil {
		return nil
	}
	if _, err := tx.Exec(ctx, `INSERT INTO outbox (topic, payload)
                               VALUES ('case.status_changed', jsonb_build_object('case_id',$1,'from','parties_deciding','to','settlement_agreed'))`, caseID); err != nil {
		return nil
	}
	return tx.Commit(ctx)
}

// Responder submits accept/reject/counter responses for the session's current
// round. The unique (session, round, participant) constraint absorbs the race
// against its twin and the round sweeper.
func Responder(ctx context.Context, pool *pgxpool.Pool, sessionID, partyID string, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		var round int
		var status string
		if err := pool.QueryRow(ctx, `SELECT current_round, status FROM negotiation_sessions WHERE id=$1`, sessionID).Scan(&round, &status); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			time.Sleep(50 * time.Millisecond)
			continue
		}
		if status == "active" {
			kind := "reject"
			var payload *string
			switch rand.Intn(3) {
			case 0:
				kind = "accept"
			case 1:
				kind = "counter"
				p := fmt.Sprintf(`{"amount_cents": %d}`, 1000*(1+rand.Intn(5000)))
				payload = &p
			}
			_, err := pool.Exec(ctx, `INSERT INTO negotiation_responses (session_id, round, participant_id, kind, counter_payload)
                                      VALUES ($1,$2,$3,$4::response_kind,$5::jsonb)
                                      ON CONFLICT (session_id, round, participant_id) DO NOTHING`,
				sessionID, round, partyID, kind, payload)
			if err != nil && !isUniqueViolation(err) && ctx.Err() != nil {
				return ctx.Err()
			}
		}
		time.Sleep(time.Duration(30+rand.Intn(50)) * time.Millisecond)
	}
}

// RoundSweeper advances expired rounds with the same guarded UPDATE the
// engine uses, marking the session expired when the budget runs out.
func RoundSweeper(ctx context.Context, pool *pgxpool.Pool, sessionID string, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		tag, err := pool.Exec(ctx, `UPDATE negotiation_sessions
                                    SET current_round = current_round + 1,
                                        round_deadline = now() + make_interval(secs => round_timeout_seconds),
                                        updated_at = now()
                                    WHERE id=$1 AND status='active' AND round_deadline <= now() AND current_round < max_rounds`, sessionID)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			time.Sleep(50 * time.Millisecond)
			continue
		}
		if tag.RowsAffected() == 0 {
			_, _ = pool.Exec(ctx, `UPDATE negotiation_sessions
                                   SET status='expired', final_round=current_round, updated_at=now()
                                   WHERE id=$1 AND status='active' AND round_deadline <= now() AND current_round >= max_rounds`, sessionID)
		}
		time.Sleep(time.Duration(50+rand.Intn(100)) * time.Millisecond)
	}
}

// TimelineWriter appends audit events with the next per-case sequence. Losing
// the MAX(seq)+1 race trips the unique constraint; the loser just retries.
func TimelineWriter(ctx context.Context, pool *pgxpool.Pool, caseID string, stop <-chan struct{}) error {
	types := []string{"STATEMENT_SUBMITTED", "PARTY_RESPONDED"}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		ty := types[rand.Intn(len(types))]
		tx, err := pool.Begin(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			time.Sleep(50 * time.Millisecond)
			continue
		}
		var seq int
		if err := tx.QueryRow(ctx, `SELECT COALESCE(MAX(seq),0)+1 FROM timeline_events WHERE case_id=$1`, caseID).Scan(&seq); err != nil {
			_ = tx.Rollback(ctx)
			continue
		}
		if _, err := tx.Exec(ctx, `INSERT INTO timeline_events (case_id, seq, type, payload) VALUES ($1,$2,$3,'{}'::jsonb)`, caseID, seq, ty); err != nil {
			// Losing the seq race trips the unique index; just retry.
			_ = tx.Rollback(ctx)
			continue
		}
		_ = tx.Commit(ctx)
		time.Sleep(time.Duration(15+rand.Intn(35)) * time.Millisecond)
	}
}

// OutboxWorker consumes pending outbox messages with SKIP LOCKED, randomly
// failing some to exercise the retry path.
func OutboxWorker(ctx context.Context, pool *pgxpool.Pool, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		tx, err := pool.Begin(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			time.Sleep(50 * time.Millisecond)
			continue
		}
		rows, err := tx.Query(ctx, `SELECT id FROM outbox WHERE status='pending' ORDER BY created_at FOR UPDATE SKIP LOCKED LIMIT 10`)
		if err != nil {
			_ = tx.Rollback(ctx)
			time.Sleep(50 * time.Millisecond)
			continue
		}
		ids := make([]string, 0, 10)
		for rows.Next() {
			var id string
			_ = rows.Scan(&id)
			ids = append(ids, id)
		}
		rows.Close()
		for _, id := range ids {
			if rand.Intn(10) == 0 {
				_, _ = tx.Exec(ctx, `UPDATE outbox SET attempts=attempts+1 WHERE id=$1`, id)
				continue
			}
			_, _ = tx.Exec(ctx, `UPDATE outbox SET status='processed', attempts=attempts+1 WHERE id=$1`, id)
		}
		_ = tx.Commit(ctx)
		time.Sleep(100 * time.Millisecond)
	}
}

// WebhookReplayer hammers the idempotency table the way repeated webhook
// deliveries would; only the first insert per key may produce a side effect.
func WebhookReplayer(ctx context.Context, pool *pgxpool.Pool, caseID string, stop <-chan struct{}) error {
	for i := 0; ; i++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		// A small key space forces replays.
		key := fmt.Sprintf("doc-ready-%s-%d", caseID, i%5)
		tag, err := pool.Exec(ctx, `INSERT INTO idempotency (key) VALUES ($1) ON CONFLICT (key) DO NOTHING`, key)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			time.Sleep(50 * time.Millisecond)
			continue
		}
		if tag.RowsAffected() == 1 {
			_, _ = pool.Exec(ctx, `INSERT INTO outbox (topic, payload) VALUES ('case.document_ready', jsonb_build_object('case_id',$1,'key',$2))`, caseID, key)
		}
		time.Sleep(80 * time.Millisecond)
	}
}
