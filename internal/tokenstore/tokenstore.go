// Package tokenstore persists token metadata records (§3, §4.E). It is
// the sole writer of the `tokens` table; every operation opens its own
// transaction scoped to the caller's request.
package tokenstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// State is the token record's lifecycle state (§3 "state").
type State int

const (
	Nascent  State = 1
	Valid    State = 2
	Refreshed State = 3
	Revoked  State = 4
	Expired  State = 5
)

// Record is one row of the `tokens` table.
type Record struct {
	TokenID     int64
	UserID      string
	UserEmail   string
	ProjectID   string
	TokenHash   string
	State       State
	CreatedAt   time.Time
	ExpiresAt   time.Time
	CreatedFrom string
	Comment     string
}

// EffectiveState reports the row's state as the Lifecycle API must
// present it: any row whose expires_at has passed reports Expired
// regardless of the stored state (§3 "Invariants").
func (r Record) EffectiveState() State {
	if time.Now().After(r.ExpiresAt) {
		return Expired
	}
	return r.State
}

// ErrNotFound is returned when a lookup or update targets a token_hash
// with no matching row.
var ErrNotFound = errors.New("tokenstore: token not found")

// ErrDuplicateHash is returned by Add when token_hash already exists,
// enforcing the uniqueness invariant of §3.
var ErrDuplicateHash = errors.New("tokenstore: token_hash already exists")

// Store is a pgx-backed implementation of the §4.E contract.
type Store struct {
	pool *pgxpool.Pool
}

// New wraps an already-connected pgxpool.Pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Add inserts a new token record (§4.E "Add").
func (s *Store) Add(ctx context.Context, r Record) error {
	const query = `
		INSERT INTO tokens (user_id, user_email, project_id, token_hash, state,
		                     created_at, expires_at, created_from, comment)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err := s.pool.Exec(ctx, query,
		r.UserID, r.UserEmail, r.ProjectID, r.TokenHash, int(r.State),
		r.CreatedAt, r.ExpiresAt, r.CreatedFrom, r.Comment,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateHash
		}
		return fmt.Errorf("tokenstore: add: %w", err)
	}
	return nil
}

// Update transitions a row's state, idempotent for identical state
// (§4.E "Update"). Returns ErrNotFound if no row matches.
func (s *Store) Update(ctx context.Context, tokenHash string, state State) error {
	tag, err := s.pool.Exec(ctx, `UPDATE tokens SET state = $1 WHERE token_hash = $2`, int(state), tokenHash)
	if err != nil {
		return fmt.Errorf("tokenstore: update: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Remove hard-deletes a row by token_hash (§4.E "Remove").
func (s *Store) Remove(ctx context.Context, tokenHash string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM tokens WHERE token_hash = $1`, tokenHash)
	if err != nil {
		return fmt.Errorf("tokenstore: remove: %w", err)
	}
	return nil
}

// Query is a filter for Find: zero-value fields are not applied.
type Query struct {
	UserID        string
	UserEmail     string
	ProjectID     string
	TokenHash     string
	ExpiresBefore *time.Time
	States        []State
	Offset        int
	Limit         int
}

// Find returns rows matching q, ordered by expires_at DESC and paginated
// (§4.E "Query").
func (s *Store) Find(ctx context.Context, q Query) ([]Record, error) {
	sql := `
		SELECT token_id, user_id, user_email, project_id, token_hash, state,
		       created_at, expires_at, created_from, comment
		FROM tokens
		WHERE 1=1
	`
	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if q.UserID != "" {
		sql += " AND user_id = " + arg(q.UserID)
	}
	if q.UserEmail != "" {
		sql += " AND user_email = " + arg(q.UserEmail)
	}
	if q.ProjectID != "" {
		sql += " AND project_id = " + arg(q.ProjectID)
	}
	if q.TokenHash != "" {
		sql += " AND token_hash = " + arg(q.TokenHash)
	}
	if q.ExpiresBefore != nil {
		sql += " AND expires_at < " + arg(*q.ExpiresBefore)
	}
	if len(q.States) > 0 {
		ints := make([]int, len(q.States))
		for i, st := range q.States {
			ints[i] = int(st)
		}
		sql += " AND state = ANY(" + arg(ints) + ")"
	}

	sql += " ORDER BY expires_at DESC"

	limit := q.Limit
	if limit <= 0 {
		limit = 100
	}
	sql += " LIMIT " + arg(limit)
	sql += " OFFSET " + arg(q.Offset)

	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("tokenstore: query: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var r Record
		var state int
		if err := rows.Scan(
			&r.TokenID, &r.UserID, &r.UserEmail, &r.ProjectID, &r.TokenHash, &state,
			&r.CreatedAt, &r.ExpiresAt, &r.CreatedFrom, &r.Comment,
		); err != nil {
			return nil, fmt.Errorf("tokenstore: scanning row: %w", err)
		}
		r.State = State(state)
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("tokenstore: iterating rows: %w", err)
	}
	return out, nil
}

// CountLongLived counts stored rows for userID+projectID whose original
// lifetime exceeded the short-lived threshold, used by the LLT cap check
// in §4.F step 3. A row counts as long-lived when its span
// (expires_at - created_at) exceeds threshold.
func (s *Store) CountLongLived(ctx context.Context, userID, projectID string, threshold time.Duration) (int, error) {
	const query = `
		SELECT COUNT(*) FROM tokens
		WHERE user_id = $1 AND project_id = $2
		  AND state NOT IN ($3, $4)
		  AND EXTRACT(EPOCH FROM (expires_at - created_at)) > $5
	`
	var count int
	err := s.pool.QueryRow(ctx, query, userID, projectID, int(Revoked), int(Expired), threshold.Seconds()).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("tokenstore: count long-lived: %w", err)
	}
	return count, nil
}

// DeleteExpired best-effort hard-deletes rows for userID whose expiry has
// passed (§4.F step 7). Errors are not fatal to the caller's pipeline.
func (s *Store) DeleteExpired(ctx context.Context, userID string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM tokens WHERE user_id = $1 AND expires_at < now()`, userID)
	if err != nil {
		return fmt.Errorf("tokenstore: delete expired: %w", err)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
