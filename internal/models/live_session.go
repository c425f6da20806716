package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Role is the caller's role inside a live session.
type Role string

const (
	RoleParticipant Role = "participant"
	RoleObserver    Role = "observer"
	RoleModerator   Role = "moderator"
	RoleAdmin       Role = "admin"
)

// IsModerator reports whether the role may perform moderator-gated actions.
func (r Role) IsModerator() bool {
	return r == RoleModerator || r == RoleAdmin
}

// Track is one of the two independent membership pipelines.
type Track string

const (
	TrackParticipant Track = "participant"
	TrackObserver    Track = "observer"
)

// MemberState tells which list currently holds a member.
type MemberState string

const (
	StateWaiting  MemberState = "waiting"
	StateAdmitted MemberState = "admitted"
)

// LeaveReason is recorded on every history entry when a member leaves a roster.
type LeaveReason string

const (
	ReasonLeft               LeaveReason = "Left"
	ReasonMeetingEnded       LeaveReason = "Meeting Ended"
	ReasonRemovedByModerator LeaveReason = "Removed by the moderator"
	ReasonMovedToWaitingRoom LeaveReason = "Transferred to waiting room"
)

// Member is one entry in a waiting room or roster, keyed by normalized email
// within its list. Value object: it has no identity outside its session.
type Member struct {
	Name         string     `json:"name"`
	Email        string     `json:"email"`
	Role         Role       `json:"role"`
	UserID       *uuid.UUID `json:"user_id,omitempty"`
	WaitingSince time.Time  `json:"waiting_since"`
	JoinedAt     *time.Time `json:"joined_at,omitempty"`
}

// HistoryRecord is the append-only audit entry written whenever a roster
// member is evicted, leaves, or is moved back to the waiting room.
type HistoryRecord struct {
	ID        uuid.UUID   `json:"id"`
	SessionID uuid.UUID   `json:"session_id"`
	Track     Track       `json:"track"`
	Name      string      `json:"name"`
	Email     string      `json:"email"`
	JoinedAt  time.Time   `json:"joined_at"`
	LeftAt    *time.Time  `json:"left_at,omitempty"`
	Reason    LeaveReason `json:"reason"`
}

// LiveSession is the transient-state document for one scheduled meeting
// occurrence. All list mutations go through the methods below so the
// invariants (an email in at most one list per track, roster entries always
// carry a joinedAt) hold by construction.
type LiveSession struct {
	ID            uuid.UUID  `json:"id"`
	SessionID     uuid.UUID  `json:"session_id"`
	Ongoing       bool       `json:"ongoing"`
	StartTime     *time.Time `json:"start_time,omitempty"`
	EndTime       *time.Time `json:"end_time,omitempty"`
	PeakConnected int        `json:"peak_connected"`

	ParticipantWaitingRoom []Member `json:"participant_waiting_room"`
	ObserverWaitingRoom    []Member `json:"observer_waiting_room"`
	ParticipantsList       []Member `json:"participants_list"`
	ObserverList           []Member `json:"observer_list"`
}

// NormalizeEmail lowercases and trims an email so list lookups are
// case-insensitive.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func (s *LiveSession) waiting(track Track) *[]Member {
	if track == TrackObserver {
		return &s.ObserverWaitingRoom
	}
	return &s.ParticipantWaitingRoom
}

func (s *LiveSession) roster(track Track) *[]Member {
	if track == TrackObserver {
		return &s.ObserverList
	}
	return &s.ParticipantsList
}

// WaitingList returns the waiting room for a track.
func (s *LiveSession) WaitingList(track Track) []Member { return *s.waiting(track) }

// Roster returns the active list for a track.
func (s *LiveSession) Roster(track Track) []Member { return *s.roster(track) }

func indexByEmail(list []Member, email string) int {
	for i, m := range list {
		if m.Email == email {
			return i
		}
	}
	return -1
}

// StateOf reports which list currently holds the given email on a track.
// The second return is false when the email is in neither list.
func (s *LiveSession) StateOf(track Track, email string) (MemberState, bool) {
	email = NormalizeEmail(email)
	if indexByEmail(*s.roster(track), email) >= 0 {
		return StateAdmitted, true
	}
	if indexByEmail(*s.waiting(track), email) >= 0 {
		return StateWaiting, true
	}
	return "", false
}

// IsActive reports whether an email is currently on a track's roster.
func (s *LiveSession) IsActive(track Track, email string) bool {
	st, ok := s.StateOf(track, email)
	return ok && st == StateAdmitted
}

// Enqueue appends a member to a track's waiting room. Idempotent on email:
// a member already waiting is left untouched, a member already admitted
// short-circuits so the caller can report "already in the meeting".
func (s *LiveSession) Enqueue(track Track, m Member, now time.Time) MemberState {
	m.Email = NormalizeEmail(m.Email)
	if st, ok := s.StateOf(track, m.Email); ok {
		return st
	}
	m.WaitingSince = now
	m.JoinedAt = nil
	list := s.waiting(track)
	*list = append(*list, m)
	return StateWaiting
}

// Admit moves a waiting member to the roster, stamping a fresh joinedAt
// (distinct from waiting-room arrival). Returns false when the email is not
// currently waiting.
func (s *LiveSession) Admit(track Track, email string, now time.Time) (Member, bool) {
	email = NormalizeEmail(email)
	wait := s.waiting(track)
	i := indexByEmail(*wait, email)
	if i < 0 {
		return Member{}, false
	}
	m := (*wait)[i]
	*wait = append((*wait)[:i], (*wait)[i+1:]...)
	joined := now
	m.JoinedAt = &joined
	rost := s.roster(track)
	*rost = append(*rost, m)
	return m, true
}

// Remove deletes the member from whichever list currently holds it and
// reports which list that was. Returns false when the email is in neither.
func (s *LiveSession) Remove(track Track, email string) (Member, MemberState, bool) {
	email = NormalizeEmail(email)
	rost := s.roster(track)
	if i := indexByEmail(*rost, email); i >= 0 {
		m := (*rost)[i]
		*rost = append((*rost)[:i], (*rost)[i+1:]...)
		return m, StateAdmitted, true
	}
	wait := s.waiting(track)
	if i := indexByEmail(*wait, email); i >= 0 {
		m := (*wait)[i]
		*wait = append((*wait)[:i], (*wait)[i+1:]...)
		return m, StateWaiting, true
	}
	return Member{}, "", false
}

// Transfer moves an active roster member back to the waiting room. Returns
// false when the email is not currently admitted.
func (s *LiveSession) Transfer(track Track, email string, now time.Time) (Member, bool) {
	email = NormalizeEmail(email)
	rost := s.roster(track)
	i := indexByEmail(*rost, email)
	if i < 0 {
		return Member{}, false
	}
	m := (*rost)[i]
	*rost = append((*rost)[:i], (*rost)[i+1:]...)
	w := m
	w.WaitingSince = now
	w.JoinedAt = nil
	wait := s.waiting(track)
	*wait = append(*wait, w)
	// The pre-reset copy keeps the roster joinedAt for the audit record.
	return m, true
}

// EndEviction clears both rosters and both waiting rooms, returning the
// members that were admitted at the time (waiting members never joined the
// meeting proper, so they produce no history).
func (s *LiveSession) EndEviction() (participants, observers []Member) {
	participants = s.ParticipantsList
	observers = s.ObserverList
	s.ParticipantsList = nil
	s.ObserverList = nil
	s.ParticipantWaitingRoom = nil
	s.ObserverWaitingRoom = nil
	return participants, observers
}

// HistoryFor builds the audit record for a member leaving a roster.
func (s *LiveSession) HistoryFor(track Track, m Member, reason LeaveReason, leftAt time.Time) HistoryRecord {
	joined := m.WaitingSince
	if m.JoinedAt != nil {
		joined = *m.JoinedAt
	}
	return HistoryRecord{
		ID:        uuid.New(),
		SessionID: s.SessionID,
		Track:     track,
		Name:      m.Name,
		Email:     m.Email,
		JoinedAt:  joined,
		LeftAt:    &leftAt,
		Reason:    reason,
	}
}
