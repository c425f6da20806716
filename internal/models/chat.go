package models

import (
	"time"

	"github.com/google/uuid"
)

// ChatScope names a chat channel/thread category within a session.
type ChatScope string

const (
	// Waiting-room side.
	ScopeWaitingRoomDM     ChatScope = "waiting_room_dm"
	ScopeObserverWaitGroup ChatScope = "observer_wait_group"
	ScopeObserverWaitDM    ChatScope = "observer_wait_dm"
	// Inside the meeting.
	ScopeMeetingGroup ChatScope = "meeting_group"
	ScopeMeetingDM    ChatScope = "meeting_dm"
	ScopeMeetingModDM ChatScope = "meeting_mod_dm"
	// Observer stream side.
	ScopeStreamGroup       ChatScope = "stream_group"
	ScopeStreamObserverDM  ChatScope = "stream_dm_obs_obs"
	ScopeStreamModeratorDM ChatScope = "stream_dm_obs_mod"
)

// ModeratorPoolAlias is the well-known toEmail value addressing the whole
// moderator pool rather than a single moderator.
const ModeratorPoolAlias = "moderators"

var chatScopes = map[ChatScope]bool{
	ScopeWaitingRoomDM:     true,
	ScopeObserverWaitGroup: true,
	ScopeObserverWaitDM:    true,
	ScopeMeetingGroup:      true,
	ScopeMeetingDM:         true,
	ScopeMeetingModDM:      true,
	ScopeStreamGroup:       true,
	ScopeStreamObserverDM:  true,
	ScopeStreamModeratorDM: true,
}

// ValidScope reports whether the scope is one of the recognized values.
func ValidScope(s ChatScope) bool { return chatScopes[s] }

// IsDMScope reports whether the scope is a direct-message thread, which
// requires a resolvable toEmail (or the moderator-pool alias).
func IsDMScope(s ChatScope) bool {
	switch s {
	case ScopeWaitingRoomDM, ScopeObserverWaitDM, ScopeMeetingDM,
		ScopeMeetingModDM, ScopeStreamObserverDM, ScopeStreamModeratorDM:
		return true
	}
	return false
}

// IsPoolScope reports whether the scope addresses the moderator pool, where
// toEmail may be the pool alias instead of a single moderator's email.
func IsPoolScope(s ChatScope) bool {
	return s == ScopeMeetingModDM || s == ScopeStreamModeratorDM
}

// ChatMessage is one scope-tagged message. Created on send, never mutated.
// The server-assigned ID doubles as the receiver-side deduplication key:
// reconnect/replay paths may deliver the same message twice and clients drop
// repeats by ID.
type ChatMessage struct {
	ID         uuid.UUID `json:"id"`
	SessionID  uuid.UUID `json:"session_id"`
	Email      string    `json:"email"`
	SenderName string    `json:"sender_name"`
	Role       Role      `json:"role"`
	Content    string    `json:"content"`
	ToEmail    *string   `json:"to_email,omitempty"`
	Scope      ChatScope `json:"scope"`
	Timestamp  time.Time `json:"timestamp"`
}

// ThreadKey derives the DM thread identity for a viewer: the other party's
// normalized email. Messages addressed to the moderator pool are filed under
// the non-moderator party's email, so a moderator sees one thread per
// participant no matter which moderator replies.
func (m ChatMessage) ThreadKey(viewerEmail string) string {
	if !IsDMScope(m.Scope) {
		return string(m.Scope)
	}
	viewer := NormalizeEmail(viewerEmail)
	sender := NormalizeEmail(m.Email)
	to := ""
	if m.ToEmail != nil {
		to = NormalizeEmail(*m.ToEmail)
	}
	if IsPoolScope(m.Scope) {
		// Pool threads key on the non-moderator party regardless of viewer.
		if m.Role.IsModerator() {
			if to == ModeratorPoolAlias {
				return ""
			}
			return to
		}
		return sender
	}
	if sender == viewer {
		return to
	}
	return sender
}

// InThread reports whether the message belongs to the two-party DM thread
// between the viewer and withEmail.
func (m ChatMessage) InThread(viewerEmail, withEmail string) bool {
	return m.ThreadKey(viewerEmail) == NormalizeEmail(withEmail)
}
