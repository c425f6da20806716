package models

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func member(name, email string) Member {
	return Member{Name: name, Email: email, Role: RoleParticipant}
}

func TestEnqueueKeepsArrivalOrder(t *testing.T) {
	t.Parallel()

	s := &LiveSession{SessionID: uuid.New(), Ongoing: true}
	now := time.Now().UTC()

	assert.Equal(t, StateWaiting, s.Enqueue(TrackParticipant, member("Alice", "alice@example.com"), now))
	assert.Equal(t, StateWaiting, s.Enqueue(TrackParticipant, member("Bob", "bob@example.com"), now.Add(time.Second)))
	assert.Equal(t, StateWaiting, s.Enqueue(TrackParticipant, member("Cara", "cara@example.com"), now.Add(2*time.Second)))

	require.Len(t, s.ParticipantWaitingRoom, 3)
	assert.Equal(t, "alice@example.com", s.ParticipantWaitingRoom[0].Email)
	assert.Equal(t, "bob@example.com", s.ParticipantWaitingRoom[1].Email)
	assert.Equal(t, "cara@example.com", s.ParticipantWaitingRoom[2].Email)
}

func TestEnqueueIdempotentOnEmail(t *testing.T) {
	t.Parallel()

	s := &LiveSession{SessionID: uuid.New(), Ongoing: true}
	now := time.Now().UTC()

	s.Enqueue(TrackParticipant, member("Alice", "alice@example.com"), now)
	// Same identity again, different case and padding.
	st := s.Enqueue(TrackParticipant, member("Alice", "  ALICE@Example.com "), now.Add(time.Minute))

	assert.Equal(t, StateWaiting, st)
	require.Len(t, s.ParticipantWaitingRoom, 1)
	assert.Equal(t, now, s.ParticipantWaitingRoom[0].WaitingSince, "original arrival time kept")
}

func TestEnqueueShortCircuitsWhenAlreadyAdmitted(t *testing.T) {
	t.Parallel()

	s := &LiveSession{SessionID: uuid.New(), Ongoing: true}
	now := time.Now().UTC()
	s.Enqueue(TrackParticipant, member("Alice", "alice@example.com"), now)
	_, ok := s.Admit(TrackParticipant, "alice@example.com", now.Add(time.Second))
	require.True(t, ok)

	st := s.Enqueue(TrackParticipant, member("Alice", "alice@example.com"), now.Add(time.Minute))

	assert.Equal(t, StateAdmitted, st)
	assert.Empty(t, s.ParticipantWaitingRoom)
	assert.Len(t, s.ParticipantsList, 1)
}

func TestTracksAreIndependent(t *testing.T) {
	t.Parallel()

	s := &LiveSession{SessionID: uuid.New(), Ongoing: true}
	now := time.Now().UTC()

	s.Enqueue(TrackParticipant, member("Alice", "same@example.com"), now)
	obs := member("Alice", "same@example.com")
	obs.Role = RoleObserver
	s.Enqueue(TrackObserver, obs, now)

	assert.Len(t, s.ParticipantWaitingRoom, 1)
	assert.Len(t, s.ObserverWaitingRoom, 1)

	_, ok := s.Admit(TrackObserver, "same@example.com", now.Add(time.Second))
	require.True(t, ok)
	st, _ := s.StateOf(TrackParticipant, "same@example.com")
	assert.Equal(t, StateWaiting, st, "participant track untouched by observer admit")
}

func TestAdmitStampsFreshJoinedAt(t *testing.T) {
	t.Parallel()

	s := &LiveSession{SessionID: uuid.New(), Ongoing: true}
	waited := time.Now().UTC().Add(-time.Hour)
	s.Enqueue(TrackParticipant, member("Alice", "alice@example.com"), waited)

	admitAt := time.Now().UTC()
	m, ok := s.Admit(TrackParticipant, "alice@example.com", admitAt)

	require.True(t, ok)
	require.NotNil(t, m.JoinedAt)
	assert.Equal(t, admitAt, *m.JoinedAt)
	assert.Equal(t, waited, m.WaitingSince, "waiting-room arrival preserved separately")
	assert.Empty(t, s.ParticipantWaitingRoom)
	assert.True(t, s.IsActive(TrackParticipant, "alice@example.com"))
}

func TestAdmitMissingEmail(t *testing.T) {
	t.Parallel()

	s := &LiveSession{SessionID: uuid.New(), Ongoing: true}
	_, ok := s.Admit(TrackParticipant, "ghost@example.com", time.Now().UTC())
	assert.False(t, ok)
}

func TestRemoveReportsSourceList(t *testing.T) {
	t.Parallel()

	s := &LiveSession{SessionID: uuid.New(), Ongoing: true}
	now := time.Now().UTC()
	s.Enqueue(TrackParticipant, member("Alice", "alice@example.com"), now)
	s.Enqueue(TrackParticipant, member("Bob", "bob@example.com"), now)
	_, ok := s.Admit(TrackParticipant, "alice@example.com", now)
	require.True(t, ok)

	_, from, ok := s.Remove(TrackParticipant, "alice@example.com")
	require.True(t, ok)
	assert.Equal(t, StateAdmitted, from)

	_, from, ok = s.Remove(TrackParticipant, "bob@example.com")
	require.True(t, ok)
	assert.Equal(t, StateWaiting, from)

	_, _, ok = s.Remove(TrackParticipant, "alice@example.com")
	assert.False(t, ok, "second remove finds nothing")
}

func TestTransferReturnsRosterMemberAndResetsWaitingCopy(t *testing.T) {
	t.Parallel()

	s := &LiveSession{SessionID: uuid.New(), Ongoing: true}
	now := time.Now().UTC()
	s.Enqueue(TrackParticipant, member("Alice", "alice@example.com"), now)
	admitted, ok := s.Admit(TrackParticipant, "alice@example.com", now.Add(time.Second))
	require.True(t, ok)

	transferAt := now.Add(time.Minute)
	m, ok := s.Transfer(TrackParticipant, "alice@example.com", transferAt)
	require.True(t, ok)

	// The returned member still carries the roster joinedAt for the audit
	// record; the waiting-room entry got a fresh arrival.
	require.NotNil(t, m.JoinedAt)
	assert.Equal(t, *admitted.JoinedAt, *m.JoinedAt)
	require.Len(t, s.ParticipantWaitingRoom, 1)
	assert.Nil(t, s.ParticipantWaitingRoom[0].JoinedAt)
	assert.Equal(t, transferAt, s.ParticipantWaitingRoom[0].WaitingSince)
	assert.Empty(t, s.ParticipantsList)
}

func TestEndEvictionReturnsOnlyAdmitted(t *testing.T) {
	t.Parallel()

	s := &LiveSession{SessionID: uuid.New(), Ongoing: true}
	now := time.Now().UTC()
	s.Enqueue(TrackParticipant, member("Alice", "alice@example.com"), now)
	s.Enqueue(TrackParticipant, member("Bob", "bob@example.com"), now)
	s.Admit(TrackParticipant, "alice@example.com", now)
	obs := member("Olga", "olga@example.com")
	obs.Role = RoleObserver
	s.Enqueue(TrackObserver, obs, now)
	s.Admit(TrackObserver, "olga@example.com", now)

	participants, observers := s.EndEviction()

	require.Len(t, participants, 1)
	assert.Equal(t, "alice@example.com", participants[0].Email)
	require.Len(t, observers, 1)
	assert.Equal(t, "olga@example.com", observers[0].Email)
	assert.Empty(t, s.ParticipantWaitingRoom, "waiting members dropped without history")
	assert.Empty(t, s.ParticipantsList)
	assert.Empty(t, s.ObserverWaitingRoom)
	assert.Empty(t, s.ObserverList)
}

func TestHistoryForFallsBackToWaitingSince(t *testing.T) {
	t.Parallel()

	s := &LiveSession{SessionID: uuid.New()}
	waited := time.Now().UTC().Add(-time.Hour)
	left := time.Now().UTC()

	h := s.HistoryFor(TrackParticipant, Member{Name: "Alice", Email: "alice@example.com", WaitingSince: waited}, ReasonLeft, left)

	assert.Equal(t, waited, h.JoinedAt)
	assert.Equal(t, ReasonLeft, h.Reason)
	require.NotNil(t, h.LeftAt)
	assert.Equal(t, left, *h.LeftAt)
}

func TestStateOfIsCaseInsensitive(t *testing.T) {
	t.Parallel()

	s := &LiveSession{SessionID: uuid.New(), Ongoing: true}
	s.Enqueue(TrackParticipant, member("Alice", "Alice@Example.COM"), time.Now().UTC())

	st, ok := s.StateOf(TrackParticipant, "alice@example.com")
	require.True(t, ok)
	assert.Equal(t, StateWaiting, st)
}
