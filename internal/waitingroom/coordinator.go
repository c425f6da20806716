// Package waitingroom implements the admission workflow: enqueue on join,
// promote to the roster on moderator admit, evict on remove or leave.
package waitingroom

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/enayetaitech/amplify-sub003/internal/models"
	"github.com/enayetaitech/amplify-sub003/internal/session"
)

// Coordinator drives the per-(session, email, track) admission state machine
// (absent -> waiting -> admitted, with removals back to absent). All list
// rewrites run through the registry, which serializes them per session.
type Coordinator struct {
	registry *session.Registry
	logger   *zap.Logger
}

// NewCoordinator creates the waiting-room coordinator.
func NewCoordinator(registry *session.Registry, logger *zap.Logger) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Coordinator{registry: registry, logger: logger}
}

// JoinResult is the ack payload for a join: the state the member ended up in
// and the session snapshot for initial reconciliation.
type JoinResult struct {
	State   models.MemberState  `json:"state"`
	Session *models.LiveSession `json:"live_session"`
}

// Join enqueues an identity into a track's waiting room. A member already on
// the roster short-circuits as admitted; a duplicate join while waiting is
// idempotent on email. Waiting lists keep arrival order.
func (c *Coordinator) Join(ctx context.Context, sessionID uuid.UUID, track models.Track, m models.Member) (*JoinResult, error) {
	var state models.MemberState
	snap, err := c.registry.Apply(ctx, sessionID, func(s *models.LiveSession) ([]models.HistoryRecord, []session.Event, error) {
		if !s.Ongoing {
			return nil, nil, session.ErrInvalidState
		}
		before, already := s.StateOf(track, m.Email)
		state = s.Enqueue(track, m, time.Now().UTC())
		if already && before == state {
			// No list changed; skip the save-and-broadcast churn.
			return nil, nil, nil
		}
		return nil, []session.Event{session.WaitingRoomEvent(s, track)}, nil
	})
	if err != nil {
		return nil, err
	}
	c.logger.Debug("join",
		zap.String("session_id", sessionID.String()),
		zap.String("email", models.NormalizeEmail(m.Email)),
		zap.String("track", string(track)),
		zap.String("state", string(state)))
	return &JoinResult{State: state, Session: snap}, nil
}

// Admit moves a waiting member onto the roster with a fresh joinedAt.
// Fails with ErrNotFound when the email is not currently waiting — including
// the race where a concurrent remove got there first.
func (c *Coordinator) Admit(ctx context.Context, sessionID uuid.UUID, track models.Track, email string) (*models.LiveSession, error) {
	return c.registry.Apply(ctx, sessionID, func(s *models.LiveSession) ([]models.HistoryRecord, []session.Event, error) {
		if _, ok := s.Admit(track, email, time.Now().UTC()); !ok {
			return nil, nil, session.ErrNotFound
		}
		return nil, []session.Event{
			session.WaitingRoomEvent(s, track),
			session.RosterEvent(s, track),
		}, nil
	})
}

// Remove evicts an email from whichever list currently holds it. A roster
// eviction appends a history record with the given reason (zero value means
// removed by the moderator) and signals the removed client directly so it can
// navigate away; a waiting-room eviction is unaudited.
func (c *Coordinator) Remove(ctx context.Context, sessionID uuid.UUID, track models.Track, email string, reason models.LeaveReason) (*models.LiveSession, error) {
	if reason == "" {
		reason = models.ReasonRemovedByModerator
	}
	return c.registry.Apply(ctx, sessionID, func(s *models.LiveSession) ([]models.HistoryRecord, []session.Event, error) {
		m, from, ok := s.Remove(track, email)
		if !ok {
			return nil, nil, session.ErrNotFound
		}
		events := []session.Event{{
			Name:    session.EventRemovedFromSession,
			Payload: map[string]interface{}{"reason": reason},
			ToEmail: m.Email,
		}}
		var history []models.HistoryRecord
		if from == models.StateAdmitted {
			history = append(history, s.HistoryFor(track, m, reason, time.Now().UTC()))
			events = append(events, session.RosterEvent(s, track))
		} else {
			events = append(events, session.WaitingRoomEvent(s, track))
		}
		return history, events, nil
	})
}
