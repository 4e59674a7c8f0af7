package party

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	// ErrNotFound signals the party row does not exist.
	ErrNotFound = errors.New("party: not found")
	// ErrDuplicateRole signals a second claimant was added to a case.
	ErrDuplicateRole = errors.New("party: case already has a claimant")
	// ErrInvalidState signals a response recorded against a party that has
	// already responded or declined.
	ErrInvalidState = errors.New("party: invalid response state")
	// ErrInvalidRole signals an unknown role value.
	ErrInvalidRole = errors.New("party: invalid role")
)

// Repository is the data access surface required by the service.
type Repository interface {
	Add(ctx context.Context, params AddParams) (Party, error)
	GetByID(ctx context.Context, partyID string) (Party, error)
	ListByCase(ctx context.Context, caseID string) ([]Party, error)
	SetResponse(ctx context.Context, tx pgx.Tx, partyID string, status ResponseStatus) (Party, error)
	AllRequiredResponded(ctx context.Context, caseID string) (bool, error)
}

// AddParams enumerates the fields required to invite a party.
type AddParams struct {
	CaseID  string
	UserID  *string
	Role    Role
	Contact string
}

// PGRepository implements Repository backed by PostgreSQL. The one-claimant
// invariant is a partial unique index; violation maps to ErrDuplicateRole.
type PGRepository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

func (r *PGRepository) Add(ctx context.Context, params AddParams) (Party, error) {
	if !validRole(params.Role) {
		return Party{}, fmt.Errorf("%w: %q", ErrInvalidRole, params.Role)
	}

	const q = `
        INSERT INTO parties (case_id, user_id, role, response_status, contact)
        VALUES ($1, $2, $3::party_role, 'invited', $4)
        RETURNING id, case_id, user_id::text, role::text, response_status::text, contact, responded_at, created_at
    `
	p, err := scanParty(r.pool.QueryRow(ctx, q, params.CaseID, params.UserID, params.Role, params.Contact))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return Party{}, ErrDuplicateRole
		}
		return Party{}, fmt.Errorf("party: add: %w", err)
	}
	return p, nil
}

func (r *PGRepository) GetByID(ctx context.Context, partyID string) (Party, error) {
	const q = `
        SELECT id, case_id, user_id::text, role::text, response_status::text, contact, responded_at, created_at
        FROM parties
        WHERE id = $1
    `
	p, err := scanParty(r.pool.QueryRow(ctx, q, partyID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Party{}, ErrNotFound
		}
		return Party{}, fmt.Errorf("party: get: %w", err)
	}
	return p, nil
}

func (r *PGRepository) ListByCase(ctx context.Context, caseID string) ([]Party, error) {
	const q = `
        SELECT id, case_id, user_id::text, role::text, response_status::text, contact, responded_at, created_at
        FROM parties
        WHERE case_id = $1
        ORDER BY created_at
    `
	rows, err := r.pool.Query(ctx, q, caseID)
	if err != nil {
		return nil, fmt.Errorf("party: list: %w", err)
	}
	defer rows.Close()

	out := make([]Party, 0, 4)
	for rows.Next() {
		p, err := scanParty(rows)
		if err != nil {
			return nil, fmt.Errorf("party: scan: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("party: iterate: %w", err)
	}
	return out, nil
}

// SetResponse flips invited -> responded|declined inside the caller's
// transaction. The guarded UPDATE makes concurrent duplicate responses lose
// cleanly: zero rows updated means the party was not in `invited`.
func (r *PGRepository) SetResponse(ctx context.Context, tx pgx.Tx, partyID string, status ResponseStatus) (Party, error) {
	const q = `
        UPDATE parties
        SET response_status = $2::party_response,
            responded_at = now()
        WHERE id = $1 AND response_status = 'invited'
        RETURNING id, case_id, user_id::text, role::text, response_status::text, contact, responded_at, created_at
    `
	p, err := scanParty(tx.QueryRow(ctx, q, partyID, status))
	if err == nil {
		return p, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return Party{}, fmt.Errorf("party: set response: %w", err)
	}

	var exists bool
	if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM parties WHERE id = $1)`, partyID).Scan(&exists); err != nil {
		return Party{}, fmt.Errorf("party: response fetch: %w", err)
	}
	if !exists {
		return Party{}, ErrNotFound
	}
	return Party{}, ErrInvalidState
}

func (r *PGRepository) AllRequiredResponded(ctx context.Context, caseID string) (bool, error) {
	const q = `
        SELECT COUNT(*) FILTER (WHERE response_status <> 'responded')
        FROM parties
        WHERE case_id = $1 AND role IN ('claimant', 'respondent')
    `
	var outstanding int
	if err := r.pool.QueryRow(ctx, q, caseID).Scan(&outstanding); err != nil {
		return false, fmt.Errorf("party: required responded: %w", err)
	}
	return outstanding == 0, nil
}

func scanParty(row pgx.Row) (Party, error) {
	var p Party
	err := row.Scan(
		&p.ID,
		&p.CaseID,
		&p.UserID,
		&p.Role,
		&p.ResponseStatus,
		&p.Contact,
		&p.RespondedAt,
		&p.CreatedAt,
	)
	return p, err
}
