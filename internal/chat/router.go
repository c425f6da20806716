// Package chat routes scope-tagged messages: immediate broadcast to the
// thread's audience, batched persistence behind it.
package chat

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/enayetaitech/amplify-sub003/internal/models"
	"github.com/enayetaitech/amplify-sub003/internal/session"
)

// EventChatNew is broadcast for every accepted message.
const EventChatNew = "chat:new"

// DefaultHistoryLimit bounds history queries that do not pass a limit.
const DefaultHistoryLimit = 100

// Broadcaster delivers messages to a chat scope's audience.
type Broadcaster interface {
	BroadcastToSessionAndPublish(sessionID uuid.UUID, event string, payload interface{})
	SendToEmail(sessionID uuid.UUID, email string, event string, payload interface{})
	SendToModerators(sessionID uuid.UUID, event string, payload interface{})
}

// SessionSource supplies the current session snapshot for sender validation.
type SessionSource interface {
	Snapshot(ctx context.Context, sessionID uuid.UUID) (*models.LiveSession, error)
}

// Sender is the already-verified identity a message comes from.
type Sender struct {
	Name  string
	Email string
	Role  models.Role
}

// Router validates, delivers and enqueues chat messages.
type Router struct {
	store    Store
	batcher  *Batcher
	sessions SessionSource
	hub      Broadcaster
	logger   *zap.Logger
}

// NewRouter creates the chat router.
func NewRouter(store Store, batcher *Batcher, sessions SessionSource, hub Broadcaster, logger *zap.Logger) *Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Router{store: store, batcher: batcher, sessions: sessions, hub: hub, logger: logger}
}

// Send validates the scope and sender, stamps id and timestamp, broadcasts
// chat:new to the scope's audience immediately, and queues the message for the
// next batch flush. The returned message carries the server-assigned id
// receivers use for deduplication.
func (r *Router) Send(ctx context.Context, sessionID uuid.UUID, from Sender, scope models.ChatScope, content string, toEmail *string) (*models.ChatMessage, error) {
	if !models.ValidScope(scope) {
		return nil, fmt.Errorf("%w: unknown chat scope %q", session.ErrInvalidState, scope)
	}
	to, err := resolveTarget(scope, toEmail)
	if err != nil {
		return nil, err
	}
	var snap *models.LiveSession
	if !from.Role.IsModerator() || (to != nil && *to != models.ModeratorPoolAlias) {
		snap, err = r.sessions.Snapshot(ctx, sessionID)
		if err != nil {
			return nil, err
		}
	}
	if err := checkSender(snap, from, scope); err != nil {
		return nil, err
	}
	if to != nil {
		if err := checkTarget(snap, from.Role, scope, *to); err != nil {
			return nil, err
		}
	}

	msg := models.ChatMessage{
		ID:         uuid.New(),
		SessionID:  sessionID,
		Email:      models.NormalizeEmail(from.Email),
		SenderName: from.Name,
		Role:       from.Role,
		Content:    content,
		ToEmail:    to,
		Scope:      scope,
		Timestamp:  time.Now().UTC(),
	}

	r.deliver(msg)
	r.batcher.Append(msg)
	return &msg, nil
}

func resolveTarget(scope models.ChatScope, toEmail *string) (*string, error) {
	if !models.IsDMScope(scope) {
		return nil, nil
	}
	if toEmail == nil || *toEmail == "" {
		return nil, fmt.Errorf("%w: direct-message scope requires a target", session.ErrUnauthorized)
	}
	to := models.NormalizeEmail(*toEmail)
	if to == models.ModeratorPoolAlias && !models.IsPoolScope(scope) {
		return nil, fmt.Errorf("%w: pool alias not valid for scope %q", session.ErrUnauthorized, scope)
	}
	return &to, nil
}

// checkSender rejects messages from identities not currently known to the
// scope's population. Moderators and admins may speak in any scope.
func checkSender(s *models.LiveSession, from Sender, scope models.ChatScope) error {
	if from.Role.IsModerator() {
		return nil
	}
	switch scope {
	case models.ScopeWaitingRoomDM:
		if _, ok := s.StateOf(models.TrackParticipant, from.Email); ok {
			return nil
		}
	case models.ScopeObserverWaitGroup, models.ScopeObserverWaitDM:
		if _, ok := s.StateOf(models.TrackObserver, from.Email); ok {
			return nil
		}
	case models.ScopeMeetingGroup, models.ScopeMeetingDM, models.ScopeMeetingModDM:
		if s.IsActive(models.TrackParticipant, from.Email) {
			return nil
		}
	case models.ScopeStreamGroup, models.ScopeStreamObserverDM, models.ScopeStreamModeratorDM:
		if s.IsActive(models.TrackObserver, from.Email) {
			return nil
		}
	}
	return fmt.Errorf("%w: sender %s is not active for scope %q", session.ErrUnauthorized, models.NormalizeEmail(from.Email), scope)
}

// checkTarget rejects DMs addressed to identities the session has never seen.
// Targets on the moderator side cannot be checked this way: moderators are not
// tracked in the session document, so a member addressing one is taken at
// their word and the message simply goes undelivered if no such moderator is
// connected.
func checkTarget(s *models.LiveSession, sender models.Role, scope models.ChatScope, to string) error {
	if to == models.ModeratorPoolAlias {
		return nil
	}
	if !sender.IsModerator() && moderatorDirected(scope) {
		return nil
	}
	if _, ok := s.StateOf(models.TrackParticipant, to); ok {
		return nil
	}
	if _, ok := s.StateOf(models.TrackObserver, to); ok {
		return nil
	}
	return fmt.Errorf("%w: no member %s in this session", session.ErrUnauthorized, to)
}

// moderatorDirected reports whether a non-moderator's DM in this scope is
// addressed to the moderator side.
func moderatorDirected(scope models.ChatScope) bool {
	return scope == models.ScopeWaitingRoomDM || scope == models.ScopeObserverWaitDM || models.IsPoolScope(scope)
}

// deliver pushes the message to its audience: the whole room for group
// scopes, both thread parties for DMs, the moderator pool plus the
// participant for pool scopes.
func (r *Router) deliver(msg models.ChatMessage) {
	payload := map[string]interface{}{"scope": msg.Scope, "message": msg}
	switch {
	case !models.IsDMScope(msg.Scope):
		r.hub.BroadcastToSessionAndPublish(msg.SessionID, EventChatNew, payload)
	case models.IsPoolScope(msg.Scope):
		r.hub.SendToModerators(msg.SessionID, EventChatNew, payload)
		if other := msg.ThreadKey(""); other != "" && other != models.ModeratorPoolAlias {
			r.hub.SendToEmail(msg.SessionID, other, EventChatNew, payload)
		}
	default:
		r.hub.SendToEmail(msg.SessionID, *msg.ToEmail, EventChatNew, payload)
		if msg.Email != *msg.ToEmail {
			r.hub.SendToEmail(msg.SessionID, msg.Email, EventChatNew, payload)
		}
	}
}

// History returns a scope's messages oldest-first, newest-bounded by limit,
// merged with the not-yet-flushed buffer so a just-sent message is always
// present exactly once. For DM scopes, withEmail narrows to the two-party
// thread; pool scopes default to the viewer's own thread when withEmail is
// empty.
func (r *Router) History(ctx context.Context, sessionID uuid.UUID, viewer Sender, scope models.ChatScope, withEmail string, limit int) ([]models.ChatMessage, error) {
	if !models.ValidScope(scope) {
		return nil, fmt.Errorf("%w: unknown chat scope %q", session.ErrInvalidState, scope)
	}
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}

	var (
		durable []models.ChatMessage
		err     error
		thread  string
	)
	switch {
	case models.IsPoolScope(scope):
		thread = models.NormalizeEmail(withEmail)
		if thread == "" || thread == models.ModeratorPoolAlias {
			thread = models.NormalizeEmail(viewer.Email)
		}
		durable, err = r.store.ListPoolThread(ctx, sessionID, scope, thread, limit)
	case models.IsDMScope(scope):
		if withEmail == "" {
			return nil, fmt.Errorf("%w: direct-message history requires a thread", session.ErrUnauthorized)
		}
		thread = models.NormalizeEmail(withEmail)
		durable, err = r.store.ListThread(ctx, sessionID, scope, models.NormalizeEmail(viewer.Email), thread, limit)
	default:
		durable, err = r.store.List(ctx, sessionID, scope, limit)
	}
	if err != nil {
		return nil, err
	}

	seen := make(map[uuid.UUID]bool, len(durable))
	for _, m := range durable {
		seen[m.ID] = true
	}
	out := durable
	for _, m := range r.batcher.Unflushed(sessionID, scope) {
		if seen[m.ID] {
			continue
		}
		if thread != "" && !m.InThread(viewer.Email, thread) {
			continue
		}
		seen[m.ID] = true
		out = append(out, m)
	}
	if len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}
