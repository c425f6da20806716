// Package roster is the authoritative "who is currently in the meeting" query
// surface plus the history bookkeeping around departures.
package roster

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/enayetaitech/amplify-sub003/internal/models"
	"github.com/enayetaitech/amplify-sub003/internal/session"
)

// Manager answers roster-membership queries and handles the transitions that
// take a member off the active list. Every removal writes its history record
// in the same transaction as the list rewrite, before the confirming
// broadcast, so a client told "you are no longer in the roster" can always
// resolve why with a history query.
type Manager struct {
	registry *session.Registry
	logger   *zap.Logger
}

// NewManager creates the roster manager.
func NewManager(registry *session.Registry, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{registry: registry, logger: logger}
}

// IsActive reports whether the email is currently on the track's roster.
func (m *Manager) IsActive(ctx context.Context, sessionID uuid.UUID, track models.Track, email string) (bool, error) {
	s, err := m.registry.Snapshot(ctx, sessionID)
	if err != nil {
		return false, err
	}
	return s.IsActive(track, email), nil
}

// MarkLeft records a self-initiated departure (reason Left).
func (m *Manager) MarkLeft(ctx context.Context, sessionID uuid.UUID, track models.Track, email string) (*models.LiveSession, error) {
	return m.registry.Apply(ctx, sessionID, func(s *models.LiveSession) ([]models.HistoryRecord, []session.Event, error) {
		member, from, ok := s.Remove(track, email)
		if !ok {
			return nil, nil, session.ErrNotFound
		}
		if from != models.StateAdmitted {
			// Leaving the waiting room is an unaudited dequeue.
			return nil, []session.Event{session.WaitingRoomEvent(s, track)}, nil
		}
		history := []models.HistoryRecord{s.HistoryFor(track, member, models.ReasonLeft, time.Now().UTC())}
		return history, []session.Event{session.RosterEvent(s, track)}, nil
	})
}

// TransferToWaitingRoom moves an active member back to the waiting list (used
// for re-verification flows), recording the transfer in the history trail.
func (m *Manager) TransferToWaitingRoom(ctx context.Context, sessionID uuid.UUID, track models.Track, email string) (*models.LiveSession, error) {
	return m.registry.Apply(ctx, sessionID, func(s *models.LiveSession) ([]models.HistoryRecord, []session.Event, error) {
		member, ok := s.Transfer(track, email, time.Now().UTC())
		if !ok {
			return nil, nil, session.ErrNotFound
		}
		history := []models.HistoryRecord{s.HistoryFor(track, member, models.ReasonMovedToWaitingRoom, time.Now().UTC())}
		events := []session.Event{
			session.RosterEvent(s, track),
			session.WaitingRoomEvent(s, track),
			{
				Name:    session.EventRemovedFromSession,
				Payload: map[string]interface{}{"reason": models.ReasonMovedToWaitingRoom},
				ToEmail: member.Email,
			},
		}
		return history, events, nil
	})
}

// History returns a track's audit trail for post-hoc reports.
func (m *Manager) History(ctx context.Context, sessionID uuid.UUID, track models.Track) ([]models.HistoryRecord, error) {
	return m.registry.History(ctx, sessionID, track)
}
