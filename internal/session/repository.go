package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/enayetaitech/amplify-sub003/internal/models"
)

// Repository persists live-session documents in PostgreSQL: one row in
// live_sessions, the four lists as rows in session_members (position keeps
// FIFO order), and the audit trail in session_history.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a live-session repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Get loads the full document for a session id. Returns ErrNotFound when the
// session has never been started.
func (r *Repository) Get(ctx context.Context, sessionID uuid.UUID) (*models.LiveSession, error) {
	const q = `SELECT id, session_id, ongoing, start_time, end_time, peak_connected
		FROM live_sessions WHERE session_id = $1`
	var s models.LiveSession
	err := r.pool.QueryRow(ctx, q, sessionID).
		Scan(&s.ID, &s.SessionID, &s.Ongoing, &s.StartTime, &s.EndTime, &s.PeakConnected)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get live session: %w", err)
	}

	const mq = `SELECT track, state, name, email, role, user_id, waiting_since, joined_at
		FROM session_members WHERE session_id = $1 ORDER BY position`
	rows, err := r.pool.Query(ctx, mq, sessionID)
	if err != nil {
		return nil, fmt.Errorf("get session members: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			track models.Track
			state models.MemberState
			m     models.Member
		)
		if err := rows.Scan(&track, &state, &m.Name, &m.Email, &m.Role, &m.UserID, &m.WaitingSince, &m.JoinedAt); err != nil {
			return nil, fmt.Errorf("scan session member: %w", err)
		}
		switch {
		case track == models.TrackParticipant && state == models.StateWaiting:
			s.ParticipantWaitingRoom = append(s.ParticipantWaitingRoom, m)
		case track == models.TrackParticipant && state == models.StateAdmitted:
			s.ParticipantsList = append(s.ParticipantsList, m)
		case track == models.TrackObserver && state == models.StateWaiting:
			s.ObserverWaitingRoom = append(s.ObserverWaitingRoom, m)
		case track == models.TrackObserver && state == models.StateAdmitted:
			s.ObserverList = append(s.ObserverList, m)
		}
	}
	return &s, rows.Err()
}

// Create inserts a brand-new live-session document.
func (r *Repository) Create(ctx context.Context, s *models.LiveSession) error {
	const q = `INSERT INTO live_sessions (id, session_id, ongoing, start_time, end_time, peak_connected)
		VALUES ($1, $2, $3, $4, $5, $6)`
	_, err := r.pool.Exec(ctx, q, s.ID, s.SessionID, s.Ongoing, s.StartTime, s.EndTime, s.PeakConnected)
	if err != nil {
		return fmt.Errorf("insert live session: %w", err)
	}
	return nil
}

// Save writes the document and its new history records in one transaction.
// The member lists are replaced wholesale: they are small (a meeting's worth
// of people) and the registry already serialized the mutation.
func (r *Repository) Save(ctx context.Context, s *models.LiveSession, history []models.HistoryRecord) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	const uq = `UPDATE live_sessions
		SET ongoing = $2, start_time = $3, end_time = $4, peak_connected = $5, updated_at = NOW()
		WHERE session_id = $1`
	if _, err := tx.Exec(ctx, uq, s.SessionID, s.Ongoing, s.StartTime, s.EndTime, s.PeakConnected); err != nil {
		return fmt.Errorf("update live session: %w", err)
	}

	if _, err := tx.Exec(ctx, `DELETE FROM session_members WHERE session_id = $1`, s.SessionID); err != nil {
		return fmt.Errorf("clear session members: %w", err)
	}
	if err := insertMembers(ctx, tx, s); err != nil {
		return err
	}

	const hq = `INSERT INTO session_history (id, session_id, track, name, email, joined_at, left_at, reason)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	for _, h := range history {
		if _, err := tx.Exec(ctx, hq, h.ID, h.SessionID, h.Track, h.Name, h.Email, h.JoinedAt, h.LeftAt, h.Reason); err != nil {
			return fmt.Errorf("insert history record: %w", err)
		}
	}

	return tx.Commit(ctx)
}

func insertMembers(ctx context.Context, tx pgx.Tx, s *models.LiveSession) error {
	lists := []struct {
		track   models.Track
		state   models.MemberState
		members []models.Member
	}{
		{models.TrackParticipant, models.StateWaiting, s.ParticipantWaitingRoom},
		{models.TrackParticipant, models.StateAdmitted, s.ParticipantsList},
		{models.TrackObserver, models.StateWaiting, s.ObserverWaitingRoom},
		{models.TrackObserver, models.StateAdmitted, s.ObserverList},
	}
	const q = `INSERT INTO session_members (session_id, track, state, position, name, email, role, user_id, waiting_since, joined_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`
	for _, l := range lists {
		for i, m := range l.members {
			if _, err := tx.Exec(ctx, q, s.SessionID, l.track, l.state, i, m.Name, m.Email, m.Role, m.UserID, m.WaitingSince, m.JoinedAt); err != nil {
				return fmt.Errorf("insert session member: %w", err)
			}
		}
	}
	return nil
}

// History returns the audit trail for one track, oldest first.
func (r *Repository) History(ctx context.Context, sessionID uuid.UUID, track models.Track) ([]models.HistoryRecord, error) {
	const q = `SELECT id, session_id, track, name, email, joined_at, left_at, reason
		FROM session_history WHERE session_id = $1 AND track = $2 ORDER BY left_at`
	rows, err := r.pool.Query(ctx, q, sessionID, track)
	if err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}
	defer rows.Close()
	var out []models.HistoryRecord
	for rows.Next() {
		var h models.HistoryRecord
		if err := rows.Scan(&h.ID, &h.SessionID, &h.Track, &h.Name, &h.Email, &h.JoinedAt, &h.LeftAt, &h.Reason); err != nil {
			return nil, fmt.Errorf("scan history record: %w", err)
		}
		out = append(out, h)
	}
	return out, rows.Err()
}
