package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/enayetaitech/amplify-sub003/internal/models"
)

// Store is the durable backing for live-session documents. Save persists the
// document and its history records in one transaction so a removal is never
// durable without its audit entry.
type Store interface {
	Get(ctx context.Context, sessionID uuid.UUID) (*models.LiveSession, error)
	Create(ctx context.Context, s *models.LiveSession) error
	Save(ctx context.Context, s *models.LiveSession, history []models.HistoryRecord) error
	History(ctx context.Context, sessionID uuid.UUID, track models.Track) ([]models.HistoryRecord, error)
}

// Broadcaster pushes state changes to every client connected to a session's
// room, or to one specific connection.
type Broadcaster interface {
	BroadcastToSessionAndPublish(sessionID uuid.UUID, event string, payload interface{})
	SendToClient(sessionID uuid.UUID, clientID string, event string, payload interface{})
	SendToEmail(sessionID uuid.UUID, email string, event string, payload interface{})
}

// Event is a room or connection-targeted notification produced by a mutation.
// Events are emitted only after the mutation is durable.
type Event struct {
	Name    string
	Payload interface{}
	// ToClient, when set, delivers to that single connection instead of the room.
	ToClient string
	// ToEmail, when set, delivers to every connection of that identity.
	ToEmail string
}

// Mutation rewrites the in-memory document and returns the history records it
// produced plus the events to emit once the rewrite is persisted. Returning an
// error abandons the mutation without saving.
type Mutation func(s *models.LiveSession) ([]models.HistoryRecord, []Event, error)

// Registry is the single point of read/mutate access to live-session
// documents. All mutations for a given session id run under that session's
// lock around load-mutate-save, so no mutation ever sees a stale copy of a
// list it is about to rewrite.
type Registry struct {
	store  Store
	hub    Broadcaster
	logger *zap.Logger

	mu    sync.Mutex
	locks map[uuid.UUID]*sync.Mutex
}

// NewRegistry creates the session registry.
func NewRegistry(store Store, hub Broadcaster, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		store:  store,
		hub:    hub,
		logger: logger,
		locks:  make(map[uuid.UUID]*sync.Mutex),
	}
}

func (r *Registry) lockFor(sessionID uuid.UUID) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.locks[sessionID]
	if !ok {
		l = &sync.Mutex{}
		r.locks[sessionID] = l
	}
	return l
}

// Apply runs a mutation against the session's document under its lock:
// load, mutate, save (document + history together), then emit events.
// Returns ErrNotFound when no live session exists for the id.
func (r *Registry) Apply(ctx context.Context, sessionID uuid.UUID, fn Mutation) (*models.LiveSession, error) {
	l := r.lockFor(sessionID)
	l.Lock()
	defer l.Unlock()

	s, err := r.store.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	history, events, err := fn(s)
	if err != nil {
		return nil, err
	}
	if err := r.store.Save(ctx, s, history); err != nil {
		return nil, fmt.Errorf("save live session: %w", err)
	}
	r.emit(sessionID, events)
	return s, nil
}

func (r *Registry) emit(sessionID uuid.UUID, events []Event) {
	if r.hub == nil {
		return
	}
	for _, e := range events {
		switch {
		case e.ToClient != "":
			r.hub.SendToClient(sessionID, e.ToClient, e.Name, e.Payload)
		case e.ToEmail != "":
			r.hub.SendToEmail(sessionID, e.ToEmail, e.Name, e.Payload)
		default:
			r.hub.BroadcastToSessionAndPublish(sessionID, e.Name, e.Payload)
		}
	}
}

// Start marks the session ongoing, creating the live-session document lazily
// on first start. Idempotent when already ongoing. Broadcasts meetingStarted.
func (r *Registry) Start(ctx context.Context, sessionID uuid.UUID, startedBy string) (*models.LiveSession, error) {
	l := r.lockFor(sessionID)
	l.Lock()
	defer l.Unlock()

	s, err := r.store.Get(ctx, sessionID)
	created := false
	if err == ErrNotFound {
		s = &models.LiveSession{ID: uuid.New(), SessionID: sessionID}
		created = true
	} else if err != nil {
		return nil, err
	}

	if !s.Ongoing {
		now := time.Now().UTC()
		s.Ongoing = true
		s.StartTime = &now
		s.EndTime = nil
	}

	if created {
		if err := r.store.Create(ctx, s); err != nil {
			return nil, fmt.Errorf("create live session: %w", err)
		}
	} else if err := r.store.Save(ctx, s, nil); err != nil {
		return nil, fmt.Errorf("save live session: %w", err)
	}

	r.logger.Info("meeting started",
		zap.String("session_id", sessionID.String()),
		zap.String("started_by", startedBy))
	r.emit(sessionID, []Event{{Name: EventMeetingStarted, Payload: s}})
	return s, nil
}

// End marks the session finished, evicts every active roster member with a
// Meeting Ended history record, and clears the waiting rooms (waiting members
// never joined the meeting proper, so no history). Idempotent when already
// ended. Broadcasts meetingEnded.
func (r *Registry) End(ctx context.Context, sessionID uuid.UUID, endedBy string) (*models.LiveSession, error) {
	return r.Apply(ctx, sessionID, func(s *models.LiveSession) ([]models.HistoryRecord, []Event, error) {
		if !s.Ongoing {
			return nil, nil, nil
		}
		now := time.Now().UTC()
		s.Ongoing = false
		s.EndTime = &now

		participants, observers := s.EndEviction()
		history := make([]models.HistoryRecord, 0, len(participants)+len(observers))
		for _, m := range participants {
			history = append(history, s.HistoryFor(models.TrackParticipant, m, models.ReasonMeetingEnded, now))
		}
		for _, m := range observers {
			history = append(history, s.HistoryFor(models.TrackObserver, m, models.ReasonMeetingEnded, now))
		}
		r.logger.Info("meeting ended",
			zap.String("session_id", sessionID.String()),
			zap.String("ended_by", endedBy),
			zap.Int("evicted", len(history)))
		return history, []Event{{Name: EventMeetingEnded, Payload: s}}, nil
	})
}

// Snapshot returns the current document for reconciliation by newly
// connecting clients.
func (r *Registry) Snapshot(ctx context.Context, sessionID uuid.UUID) (*models.LiveSession, error) {
	return r.store.Get(ctx, sessionID)
}

// History returns the audit trail for one track of a session.
func (r *Registry) History(ctx context.Context, sessionID uuid.UUID, track models.Track) ([]models.HistoryRecord, error) {
	return r.store.History(ctx, sessionID, track)
}

// RecordPeak raises the session's peak-connected counter when the current
// audience exceeds it. Fed by the hub's audience callback; lapses silently
// when the session is not live.
func (r *Registry) RecordPeak(ctx context.Context, sessionID uuid.UUID, connected int) {
	_, err := r.Apply(ctx, sessionID, func(s *models.LiveSession) ([]models.HistoryRecord, []Event, error) {
		if !s.Ongoing || connected <= s.PeakConnected {
			return nil, nil, ErrInvalidState
		}
		s.PeakConnected = connected
		return nil, nil, nil
	})
	if err != nil && err != ErrNotFound && err != ErrInvalidState {
		r.logger.Warn("record peak", zap.String("session_id", sessionID.String()), zap.Error(err))
	}
}
