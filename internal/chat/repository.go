package chat

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/enayetaitech/amplify-sub003/internal/models"
)

// Store is the durable side of the chat router: bulk inserts from the batch
// flusher and the scope/thread history queries.
type Store interface {
	InsertBatch(ctx context.Context, msgs []models.ChatMessage) error
	List(ctx context.Context, sessionID uuid.UUID, scope models.ChatScope, limit int) ([]models.ChatMessage, error)
	ListThread(ctx context.Context, sessionID uuid.UUID, scope models.ChatScope, viewer, other string, limit int) ([]models.ChatMessage, error)
	ListPoolThread(ctx context.Context, sessionID uuid.UUID, scope models.ChatScope, participant string, limit int) ([]models.ChatMessage, error)
}

// Repository persists chat messages in PostgreSQL. Inserts arrive in batches
// from the flush timer, so they go through CopyFrom rather than row-at-a-time
// statements.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a chat repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// InsertBatch bulk-inserts one flushed batch.
func (r *Repository) InsertBatch(ctx context.Context, msgs []models.ChatMessage) error {
	if len(msgs) == 0 {
		return nil
	}
	rows := make([][]interface{}, len(msgs))
	for i, m := range msgs {
		rows[i] = []interface{}{m.ID, m.SessionID, m.Scope, m.Email, m.SenderName, m.Role, m.Content, m.ToEmail, m.Timestamp}
	}
	_, err := r.pool.CopyFrom(ctx,
		pgx.Identifier{"chat_messages"},
		[]string{"id", "session_id", "scope", "email", "sender_name", "role", "content", "to_email", "ts"},
		pgx.CopyFromRows(rows),
	)
	if err != nil {
		return fmt.Errorf("copy chat batch: %w", err)
	}
	return nil
}

func (r *Repository) query(ctx context.Context, q string, args ...interface{}) ([]models.ChatMessage, error) {
	rows, err := r.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list chat messages: %w", err)
	}
	defer rows.Close()
	var out []models.ChatMessage
	for rows.Next() {
		var m models.ChatMessage
		if err := rows.Scan(&m.ID, &m.SessionID, &m.Scope, &m.Email, &m.SenderName, &m.Role, &m.Content, &m.ToEmail, &m.Timestamp); err != nil {
			return nil, fmt.Errorf("scan chat message: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	// Queries run newest-first for the limit; display order is oldest-first.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

const selectCols = `SELECT id, session_id, scope, email, sender_name, role, content, to_email, ts FROM chat_messages`

// List returns a scope's shared history, newest-bounded by limit, oldest-first.
func (r *Repository) List(ctx context.Context, sessionID uuid.UUID, scope models.ChatScope, limit int) ([]models.ChatMessage, error) {
	const q = selectCols + ` WHERE session_id = $1 AND scope = $2 ORDER BY ts DESC LIMIT $3`
	return r.query(ctx, q, sessionID, scope, limit)
}

// ListThread returns the two-party DM thread between viewer and other.
func (r *Repository) ListThread(ctx context.Context, sessionID uuid.UUID, scope models.ChatScope, viewer, other string, limit int) ([]models.ChatMessage, error) {
	const q = selectCols + ` WHERE session_id = $1 AND scope = $2
		AND ((email = $3 AND to_email = $4) OR (email = $4 AND to_email = $3))
		ORDER BY ts DESC LIMIT $5`
	return r.query(ctx, q, sessionID, scope, viewer, other, limit)
}

// ListPoolThread returns a moderator-pool thread: everything the participant
// sent to the pool plus every moderator reply addressed to them.
func (r *Repository) ListPoolThread(ctx context.Context, sessionID uuid.UUID, scope models.ChatScope, participant string, limit int) ([]models.ChatMessage, error) {
	const q = selectCols + ` WHERE session_id = $1 AND scope = $2
		AND (email = $3 OR to_email = $3)
		ORDER BY ts DESC LIMIT $4`
	return r.query(ctx, q, sessionID, scope, participant, limit)
}
