package screenshare

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/enayetaitech/amplify-sub003/internal/models"
)

// Store persists screen-share grants. Grants are append-only: revocation is a
// timestamp, never a delete, so a session's grant history stays
// reconstructable.
type Store interface {
	Insert(ctx context.Context, g models.ScreenShareGrant) error
	Get(ctx context.Context, sessionID, grantID uuid.UUID) (*models.ScreenShareGrant, error)
	Revoke(ctx context.Context, sessionID, grantID uuid.UUID, at time.Time) error
	RevokeActiveAll(ctx context.Context, sessionID uuid.UUID, at time.Time) error
	RevokeActiveSingles(ctx context.Context, sessionID uuid.UUID, at time.Time) ([]models.ScreenShareGrant, error)
	ActiveAll(ctx context.Context, sessionID uuid.UUID) (*models.ScreenShareGrant, error)
	ActiveSingle(ctx context.Context, sessionID uuid.UUID, target string) (*models.ScreenShareGrant, error)
	ListActive(ctx context.Context, sessionID uuid.UUID) ([]models.ScreenShareGrant, error)
}

// Repository is the PostgreSQL grant store. The partial indexes on
// (session_id, mode) and (session_id, target_identity) where revoked_at is
// null make the "currently granted" lookups direct index scans.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a screen-share grant repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const grantCols = `id, session_id, mode, target_identity, target_name, granter_identity, granter_role, granted_at, revoked_at`

func scanGrant(row pgx.Row) (*models.ScreenShareGrant, error) {
	var g models.ScreenShareGrant
	err := row.Scan(&g.ID, &g.SessionID, &g.Mode, &g.TargetIdentity, &g.TargetName,
		&g.GranterIdentity, &g.GranterRole, &g.GrantedAt, &g.RevokedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan grant: %w", err)
	}
	return &g, nil
}

// Insert stores a new grant.
func (r *Repository) Insert(ctx context.Context, g models.ScreenShareGrant) error {
	const q = `INSERT INTO screen_share_grants (` + grantCols + `) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
	_, err := r.pool.Exec(ctx, q, g.ID, g.SessionID, g.Mode, g.TargetIdentity, g.TargetName,
		g.GranterIdentity, g.GranterRole, g.GrantedAt, g.RevokedAt)
	if err != nil {
		return fmt.Errorf("insert grant: %w", err)
	}
	return nil
}

// Get returns a grant by id, nil when absent.
func (r *Repository) Get(ctx context.Context, sessionID, grantID uuid.UUID) (*models.ScreenShareGrant, error) {
	const q = `SELECT ` + grantCols + ` FROM screen_share_grants WHERE session_id = $1 AND id = $2`
	return scanGrant(r.pool.QueryRow(ctx, q, sessionID, grantID))
}

// Revoke stamps revoked_at on one grant; a no-op when already revoked.
func (r *Repository) Revoke(ctx context.Context, sessionID, grantID uuid.UUID, at time.Time) error {
	const q = `UPDATE screen_share_grants SET revoked_at = $3 WHERE session_id = $1 AND id = $2 AND revoked_at IS NULL`
	_, err := r.pool.Exec(ctx, q, sessionID, grantID, at)
	return err
}

// RevokeActiveAll supersedes the session's active "all" grant, if any.
func (r *Repository) RevokeActiveAll(ctx context.Context, sessionID uuid.UUID, at time.Time) error {
	const q = `UPDATE screen_share_grants SET revoked_at = $2
		WHERE session_id = $1 AND mode = 'all' AND revoked_at IS NULL`
	_, err := r.pool.Exec(ctx, q, sessionID, at)
	return err
}

// RevokeActiveSingles supersedes every active "single" grant in the session
// and returns the grants it revoked so callers can stop the old publishers.
func (r *Repository) RevokeActiveSingles(ctx context.Context, sessionID uuid.UUID, at time.Time) ([]models.ScreenShareGrant, error) {
	const q = `UPDATE screen_share_grants SET revoked_at = $2
		WHERE session_id = $1 AND mode = 'single' AND revoked_at IS NULL
		RETURNING ` + grantCols
	rows, err := r.pool.Query(ctx, q, sessionID, at)
	if err != nil {
		return nil, fmt.Errorf("revoke single grants: %w", err)
	}
	defer rows.Close()
	var out []models.ScreenShareGrant
	for rows.Next() {
		var g models.ScreenShareGrant
		if err := rows.Scan(&g.ID, &g.SessionID, &g.Mode, &g.TargetIdentity, &g.TargetName,
			&g.GranterIdentity, &g.GranterRole, &g.GrantedAt, &g.RevokedAt); err != nil {
			return nil, fmt.Errorf("scan grant: %w", err)
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

// ActiveAll returns the session's active "all" grant, nil when none.
func (r *Repository) ActiveAll(ctx context.Context, sessionID uuid.UUID) (*models.ScreenShareGrant, error) {
	const q = `SELECT ` + grantCols + ` FROM screen_share_grants
		WHERE session_id = $1 AND mode = 'all' AND revoked_at IS NULL LIMIT 1`
	return scanGrant(r.pool.QueryRow(ctx, q, sessionID))
}

// ActiveSingle returns the active "single" grant for a target, nil when none.
func (r *Repository) ActiveSingle(ctx context.Context, sessionID uuid.UUID, target string) (*models.ScreenShareGrant, error) {
	const q = `SELECT ` + grantCols + ` FROM screen_share_grants
		WHERE session_id = $1 AND mode = 'single' AND target_identity = $2 AND revoked_at IS NULL LIMIT 1`
	return scanGrant(r.pool.QueryRow(ctx, q, sessionID, target))
}

// ListActive returns every unrevoked grant for a session.
func (r *Repository) ListActive(ctx context.Context, sessionID uuid.UUID) ([]models.ScreenShareGrant, error) {
	const q = `SELECT ` + grantCols + ` FROM screen_share_grants
		WHERE session_id = $1 AND revoked_at IS NULL ORDER BY granted_at`
	rows, err := r.pool.Query(ctx, q, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list grants: %w", err)
	}
	defer rows.Close()
	var out []models.ScreenShareGrant
	for rows.Next() {
		var g models.ScreenShareGrant
		if err := rows.Scan(&g.ID, &g.SessionID, &g.Mode, &g.TargetIdentity, &g.TargetName,
			&g.GranterIdentity, &g.GranterRole, &g.GrantedAt, &g.RevokedAt); err != nil {
			return nil, fmt.Errorf("scan grant: %w", err)
		}
		out = append(out, g)
	}
	return out, rows.Err()
}
