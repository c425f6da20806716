package gateway

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/enayetaitech/amplify-sub003/internal/chat"
	"github.com/enayetaitech/amplify-sub003/internal/models"
	"github.com/enayetaitech/amplify-sub003/internal/realtime"
	"github.com/enayetaitech/amplify-sub003/internal/roster"
	"github.com/enayetaitech/amplify-sub003/internal/screenshare"
	"github.com/enayetaitech/amplify-sub003/internal/session"
	"github.com/enayetaitech/amplify-sub003/internal/waitingroom"
	"github.com/enayetaitech/amplify-sub003/internal/whiteboard"
)

// memSessionStore backs the registry in memory.
type memSessionStore struct {
	mu       sync.Mutex
	sessions map[uuid.UUID]*models.LiveSession
	history  map[uuid.UUID][]models.HistoryRecord
}

func newMemSessionStore() *memSessionStore {
	return &memSessionStore{
		sessions: make(map[uuid.UUID]*models.LiveSession),
		history:  make(map[uuid.UUID][]models.HistoryRecord),
	}
}

func cloneSession(s *models.LiveSession) *models.LiveSession {
	c := *s
	c.ParticipantWaitingRoom = append([]models.Member(nil), s.ParticipantWaitingRoom...)
	c.ObserverWaitingRoom = append([]models.Member(nil), s.ObserverWaitingRoom...)
	c.ParticipantsList = append([]models.Member(nil), s.ParticipantsList...)
	c.ObserverList = append([]models.Member(nil), s.ObserverList...)
	return &c
}

func (st *memSessionStore) Get(ctx context.Context, sessionID uuid.UUID) (*models.LiveSession, error) {
	st.mu.Lock()
	defer st.mu.Unlock()
	s, ok := st.sessions[sessionID]
	if !ok {
		return nil, session.ErrNotFound
	}
	return cloneSession(s), nil
}

func (st *memSessionStore) Create(ctx context.Context, s *models.LiveSession) error {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.sessions[s.SessionID] = cloneSession(s)
	return nil
}

func (st *memSessionStore) Save(ctx context.Context, s *models.LiveSession, history []models.HistoryRecord) error {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.sessions[s.SessionID] = cloneSession(s)
	st.history[s.SessionID] = append(st.history[s.SessionID], history...)
	return nil
}

func (st *memSessionStore) History(ctx context.Context, sessionID uuid.UUID, track models.Track) ([]models.HistoryRecord, error) {
	st.mu.Lock()
	defer st.mu.Unlock()
	var out []models.HistoryRecord
	for _, h := range st.history[sessionID] {
		if h.Track == track {
			out = append(out, h)
		}
	}
	return out, nil
}

// memChatStore backs the chat router in memory; history queries in these
// tests read through the batcher's unflushed buffer.
type memChatStore struct {
	mu   sync.Mutex
	rows []models.ChatMessage
}

func (s *memChatStore) InsertBatch(ctx context.Context, msgs []models.ChatMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows = append(s.rows, msgs...)
	return nil
}

func (s *memChatStore) List(ctx context.Context, sessionID uuid.UUID, scope models.ChatScope, limit int) ([]models.ChatMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.ChatMessage
	for _, m := range s.rows {
		if m.SessionID == sessionID && m.Scope == scope {
			out = append(out, m)
		}
	}
	if len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (s *memChatStore) ListThread(ctx context.Context, sessionID uuid.UUID, scope models.ChatScope, viewer, other string, limit int) ([]models.ChatMessage, error) {
	return s.List(ctx, sessionID, scope, limit)
}

func (s *memChatStore) ListPoolThread(ctx context.Context, sessionID uuid.UUID, scope models.ChatScope, participant string, limit int) ([]models.ChatMessage, error) {
	return s.List(ctx, sessionID, scope, limit)
}

// memGrantStore backs the screen-share authority in memory.
type memGrantStore struct {
	mu     sync.Mutex
	grants []models.ScreenShareGrant
}

func (s *memGrantStore) Insert(ctx context.Context, g models.ScreenShareGrant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.grants = append(s.grants, g)
	return nil
}

func (s *memGrantStore) Get(ctx context.Context, sessionID, grantID uuid.UUID) (*models.ScreenShareGrant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.grants {
		if s.grants[i].SessionID == sessionID && s.grants[i].ID == grantID {
			g := s.grants[i]
			return &g, nil
		}
	}
	return nil, nil
}

func (s *memGrantStore) Revoke(ctx context.Context, sessionID, grantID uuid.UUID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.grants {
		if s.grants[i].SessionID == sessionID && s.grants[i].ID == grantID && s.grants[i].RevokedAt == nil {
			t := at
			s.grants[i].RevokedAt = &t
		}
	}
	return nil
}

func (s *memGrantStore) RevokeActiveAll(ctx context.Context, sessionID uuid.UUID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.grants {
		if s.grants[i].SessionID == sessionID && s.grants[i].Mode == models.GrantModeAll && s.grants[i].RevokedAt == nil {
			t := at
			s.grants[i].RevokedAt = &t
		}
	}
	return nil
}

func (s *memGrantStore) RevokeActiveSingles(ctx context.Context, sessionID uuid.UUID, at time.Time) ([]models.ScreenShareGrant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var revoked []models.ScreenShareGrant
	for i := range s.grants {
		g := &s.grants[i]
		if g.SessionID == sessionID && g.Mode == models.GrantModeSingle && g.RevokedAt == nil {
			t := at
			g.RevokedAt = &t
			revoked = append(revoked, *g)
		}
	}
	return revoked, nil
}

func (s *memGrantStore) ActiveAll(ctx context.Context, sessionID uuid.UUID) (*models.ScreenShareGrant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.grants {
		if s.grants[i].SessionID == sessionID && s.grants[i].Mode == models.GrantModeAll && s.grants[i].RevokedAt == nil {
			g := s.grants[i]
			return &g, nil
		}
	}
	return nil, nil
}

func (s *memGrantStore) ActiveSingle(ctx context.Context, sessionID uuid.UUID, target string) (*models.ScreenShareGrant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.grants {
		g := s.grants[i]
		if g.SessionID == sessionID && g.Mode == models.GrantModeSingle && g.RevokedAt == nil &&
			g.TargetIdentity != nil && *g.TargetIdentity == target {
			return &g, nil
		}
	}
	return nil, nil
}

func (s *memGrantStore) ListActive(ctx context.Context, sessionID uuid.UUID) ([]models.ScreenShareGrant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.ScreenShareGrant
	for _, g := range s.grants {
		if g.SessionID == sessionID && g.RevokedAt == nil {
			out = append(out, g)
		}
	}
	return out, nil
}

// fanoutHub satisfies every component's broadcaster interface.
type fanoutHub struct {
	mu     sync.Mutex
	events []string
}

func (h *fanoutHub) record(event string) {
	h.mu.Lock()
	h.events = append(h.events, event)
	h.mu.Unlock()
}

func (h *fanoutHub) BroadcastToSessionAndPublish(sessionID uuid.UUID, event string, payload interface{}) {
	h.record(event)
}
func (h *fanoutHub) SendToClient(sessionID uuid.UUID, clientID string, event string, payload interface{}) {
	h.record(event)
}
func (h *fanoutHub) SendToEmail(sessionID uuid.UUID, email string, event string, payload interface{}) {
	h.record(event)
}
func (h *fanoutHub) SendToModerators(sessionID uuid.UUID, event string, payload interface{}) {
	h.record(event)
}

func newTestGateway(t *testing.T) (*Gateway, *session.Registry, uuid.UUID) {
	t.Helper()
	hub := &fanoutHub{}
	registry := session.NewRegistry(newMemSessionStore(), hub, nil)
	waiting := waitingroom.NewCoordinator(registry, nil)
	rosterMgr := roster.NewManager(registry, nil)
	chatStore := &memChatStore{}
	batcher := chat.NewBatcher(chatStore, time.Hour, nil)
	chatRouter := chat.NewRouter(chatStore, batcher, registry, hub, nil)
	authority := screenshare.NewAuthority(&memGrantStore{}, hub, nil)
	locker := whiteboard.NewLocker(hub, nil)
	return New(registry, waiting, rosterMgr, chatRouter, authority, locker, nil), registry, uuid.New()
}

func client(sessionID uuid.UUID, name, email string, role models.Role) realtime.ClientInfo {
	return realtime.ClientInfo{
		ID:        uuid.New().String(),
		SessionID: sessionID,
		Name:      name,
		Email:     email,
		Role:      role,
	}
}

func dispatch(t *testing.T, g *Gateway, c realtime.ClientInfo, event string, payload interface{}) (interface{}, error) {
	t.Helper()
	var raw json.RawMessage
	if payload != nil {
		b, err := json.Marshal(payload)
		require.NoError(t, err)
		raw = b
	}
	return g.HandleEvent(context.Background(), c, event, raw)
}

func TestUnknownEvent(t *testing.T) {
	t.Parallel()

	g, _, sessionID := newTestGateway(t)
	mod := client(sessionID, "Mia", "mod@example.com", models.RoleModerator)

	_, err := dispatch(t, g, mod, "teleport", nil)
	assert.ErrorIs(t, err, session.ErrInvalidState)
}

func TestModeratorGates(t *testing.T) {
	t.Parallel()

	g, _, sessionID := newTestGateway(t)
	alice := client(sessionID, "Alice", "alice@example.com", models.RoleParticipant)

	for _, event := range []string{"startMeeting", "endMeeting", "acceptFromWaitingRoom", "removeFromWaitingRoom", "transferToWaitingRoom"} {
		_, err := dispatch(t, g, alice, event, map[string]string{"email": "x@example.com"})
		assert.ErrorIs(t, err, session.ErrUnauthorized, event)
	}
}

func TestAdmissionFlow(t *testing.T) {
	t.Parallel()

	g, registry, sessionID := newTestGateway(t)
	mod := client(sessionID, "Mia", "mod@example.com", models.RoleModerator)
	alice := client(sessionID, "Alice", "alice@example.com", models.RoleParticipant)

	_, err := dispatch(t, g, mod, "startMeeting", nil)
	require.NoError(t, err)

	res, err := dispatch(t, g, alice, "join-room", nil)
	require.NoError(t, err)
	join, ok := res.(*waitingroom.JoinResult)
	require.True(t, ok)
	assert.Equal(t, models.StateWaiting, join.State)

	_, err = dispatch(t, g, mod, "acceptFromWaitingRoom", map[string]string{"email": "alice@example.com"})
	require.NoError(t, err)

	s, err := registry.Snapshot(context.Background(), sessionID)
	require.NoError(t, err)
	assert.True(t, s.IsActive(models.TrackParticipant, "alice@example.com"))

	_, err = dispatch(t, g, alice, "leaveMeeting", nil)
	require.NoError(t, err)
	h, err := registry.History(context.Background(), sessionID, models.TrackParticipant)
	require.NoError(t, err)
	require.Len(t, h, 1)
	assert.Equal(t, models.ReasonLeft, h[0].Reason)
}

func TestObserverJoinUsesObserverTrack(t *testing.T) {
	t.Parallel()

	g, registry, sessionID := newTestGateway(t)
	mod := client(sessionID, "Mia", "mod@example.com", models.RoleModerator)
	olga := client(sessionID, "Olga", "olga@example.com", models.RoleObserver)

	_, err := dispatch(t, g, mod, "startMeeting", nil)
	require.NoError(t, err)
	_, err = dispatch(t, g, olga, "observer:join", nil)
	require.NoError(t, err)

	s, err := registry.Snapshot(context.Background(), sessionID)
	require.NoError(t, err)
	assert.Len(t, s.ObserverWaitingRoom, 1)
	assert.Empty(t, s.ParticipantWaitingRoom)
}

func TestChatSendAndHistoryOverGateway(t *testing.T) {
	t.Parallel()

	g, _, sessionID := newTestGateway(t)
	mod := client(sessionID, "Mia", "mod@example.com", models.RoleModerator)
	alice := client(sessionID, "Alice", "alice@example.com", models.RoleParticipant)

	_, err := dispatch(t, g, mod, "startMeeting", nil)
	require.NoError(t, err)
	_, err = dispatch(t, g, alice, "join-room", nil)
	require.NoError(t, err)
	_, err = dispatch(t, g, mod, "acceptFromWaitingRoom", map[string]string{"email": "alice@example.com"})
	require.NoError(t, err)

	_, err = dispatch(t, g, alice, "chat:send", map[string]string{"scope": "meeting_group", "content": "hello"})
	require.NoError(t, err)

	res, err := dispatch(t, g, alice, "chat:history:get", map[string]string{"scope": "meeting_group"})
	require.NoError(t, err)
	items := res.(map[string]interface{})["items"].([]models.ChatMessage)
	require.Len(t, items, 1)
	assert.Equal(t, "hello", items[0].Content)
}

func TestChatSendRequiresContent(t *testing.T) {
	t.Parallel()

	g, _, sessionID := newTestGateway(t)
	alice := client(sessionID, "Alice", "alice@example.com", models.RoleParticipant)

	_, err := dispatch(t, g, alice, "chat:send", map[string]string{"scope": "meeting_group"})
	assert.ErrorIs(t, err, session.ErrInvalidState)
}

func TestScreenShareGrantAndRevokeOverGateway(t *testing.T) {
	t.Parallel()

	g, _, sessionID := newTestGateway(t)
	mod := client(sessionID, "Mia", "mod@example.com", models.RoleModerator)

	res, err := dispatch(t, g, mod, "screenshare:grant", map[string]string{"mode": "single", "targetIdentity": "conn-x", "targetName": "Xavier"})
	require.NoError(t, err)
	grant := res.(map[string]interface{})["grant"].(*models.ScreenShareGrant)
	require.NotNil(t, grant)

	_, err = dispatch(t, g, mod, "screenshare:grant", map[string]string{"mode": "sideways"})
	assert.ErrorIs(t, err, session.ErrInvalidState)

	_, err = dispatch(t, g, mod, "screenshare:revoke", map[string]string{"grantId": grant.ID.String()})
	require.NoError(t, err)
	_, err = dispatch(t, g, mod, "screenshare:revoke", map[string]string{"grantId": "not-a-uuid"})
	assert.ErrorIs(t, err, session.ErrInvalidState)
}

func TestWhiteboardOverGateway(t *testing.T) {
	t.Parallel()

	g, _, sessionID := newTestGateway(t)
	alice := client(sessionID, "Alice", "alice@example.com", models.RoleParticipant)
	bob := client(sessionID, "Bob", "bob@example.com", models.RoleParticipant)

	_, err := dispatch(t, g, alice, "whiteboard:acquire", nil)
	require.NoError(t, err)
	_, err = dispatch(t, g, bob, "whiteboard:acquire", nil)
	assert.ErrorIs(t, err, session.ErrInvalidState)
	_, err = dispatch(t, g, alice, "whiteboard:release", nil)
	require.NoError(t, err)
	_, err = dispatch(t, g, bob, "whiteboard:acquire", nil)
	assert.NoError(t, err)
}

func TestOnDisconnectMarksLeftOnlyForLastConnection(t *testing.T) {
	t.Parallel()

	g, registry, sessionID := newTestGateway(t)
	mod := client(sessionID, "Mia", "mod@example.com", models.RoleModerator)
	alice := client(sessionID, "Alice", "alice@example.com", models.RoleParticipant)

	_, err := dispatch(t, g, mod, "startMeeting", nil)
	require.NoError(t, err)
	_, err = dispatch(t, g, alice, "join-room", nil)
	require.NoError(t, err)
	_, err = dispatch(t, g, mod, "acceptFromWaitingRoom", map[string]string{"email": "alice@example.com"})
	require.NoError(t, err)

	g.OnDisconnect(alice, false)
	s, err := registry.Snapshot(context.Background(), sessionID)
	require.NoError(t, err)
	assert.True(t, s.IsActive(models.TrackParticipant, "alice@example.com"), "another tab is still open")

	g.OnDisconnect(alice, true)
	s, err = registry.Snapshot(context.Background(), sessionID)
	require.NoError(t, err)
	assert.False(t, s.IsActive(models.TrackParticipant, "alice@example.com"))
}

func TestOnDisconnectFreesWhiteboardLock(t *testing.T) {
	t.Parallel()

	g, _, sessionID := newTestGateway(t)
	alice := client(sessionID, "Alice", "alice@example.com", models.RoleParticipant)
	bob := client(sessionID, "Bob", "bob@example.com", models.RoleParticipant)

	_, err := dispatch(t, g, alice, "whiteboard:acquire", nil)
	require.NoError(t, err)

	g.OnDisconnect(alice, false)

	_, err = dispatch(t, g, bob, "whiteboard:acquire", nil)
	assert.NoError(t, err, "lock freed even when other tabs of the holder remain")
}
