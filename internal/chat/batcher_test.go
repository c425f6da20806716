package chat

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/enayetaitech/amplify-sub003/internal/models"
)

// memChatStore implements Store in memory, with fault injection for flush
// retry tests.
type memChatStore struct {
	mu       sync.Mutex
	rows     []models.ChatMessage
	inserts  int
	failNext bool
}

func (s *memChatStore) InsertBatch(ctx context.Context, msgs []models.ChatMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inserts++
	if s.failNext {
		s.failNext = false
		return errors.New("connection reset")
	}
	s.rows = append(s.rows, msgs...)
	return nil
}

func (s *memChatStore) match(sessionID uuid.UUID, scope models.ChatScope) []models.ChatMessage {
	var out []models.ChatMessage
	for _, m := range s.rows {
		if m.SessionID == sessionID && m.Scope == scope {
			out = append(out, m)
		}
	}
	return out
}

func tail(msgs []models.ChatMessage, limit int) []models.ChatMessage {
	if len(msgs) > limit {
		return msgs[len(msgs)-limit:]
	}
	return msgs
}

func (s *memChatStore) List(ctx context.Context, sessionID uuid.UUID, scope models.ChatScope, limit int) ([]models.ChatMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return tail(s.match(sessionID, scope), limit), nil
}

func (s *memChatStore) ListThread(ctx context.Context, sessionID uuid.UUID, scope models.ChatScope, viewer, other string, limit int) ([]models.ChatMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.ChatMessage
	for _, m := range s.match(sessionID, scope) {
		if m.InThread(viewer, other) {
			out = append(out, m)
		}
	}
	return tail(out, limit), nil
}

func (s *memChatStore) ListPoolThread(ctx context.Context, sessionID uuid.UUID, scope models.ChatScope, participant string, limit int) ([]models.ChatMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.ChatMessage
	for _, m := range s.match(sessionID, scope) {
		if m.Email == participant || (m.ToEmail != nil && *m.ToEmail == participant) {
			out = append(out, m)
		}
	}
	return tail(out, limit), nil
}

func (s *memChatStore) stored() []models.ChatMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.ChatMessage(nil), s.rows...)
}

func (s *memChatStore) insertCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inserts
}

func msg(sessionID uuid.UUID, scope models.ChatScope, content string) models.ChatMessage {
	return models.ChatMessage{
		ID:        uuid.New(),
		SessionID: sessionID,
		Scope:     scope,
		Email:     "alice@example.com",
		Content:   content,
		Timestamp: time.Now().UTC(),
	}
}

func TestFlushWritesInArrivalOrder(t *testing.T) {
	t.Parallel()

	store := &memChatStore{}
	b := NewBatcher(store, time.Hour, nil)
	sessionID := uuid.New()

	b.Append(msg(sessionID, models.ScopeMeetingGroup, "first"))
	b.Append(msg(sessionID, models.ScopeMeetingGroup, "second"))
	b.Append(msg(sessionID, models.ScopeMeetingGroup, "third"))

	require.NoError(t, b.Flush(context.Background()))
	rows := store.stored()
	require.Len(t, rows, 3)
	assert.Equal(t, "first", rows[0].Content)
	assert.Equal(t, "third", rows[2].Content)
	assert.Empty(t, b.Unflushed(sessionID, models.ScopeMeetingGroup))
}

func TestFlushEmptyBufferSkipsInsert(t *testing.T) {
	t.Parallel()

	store := &memChatStore{}
	b := NewBatcher(store, time.Hour, nil)
	require.NoError(t, b.Flush(context.Background()))
	assert.Zero(t, store.insertCalls())
}

func TestFailedFlushKeepsBatchAheadOfNewMessages(t *testing.T) {
	t.Parallel()

	store := &memChatStore{failNext: true}
	b := NewBatcher(store, time.Hour, nil)
	sessionID := uuid.New()

	b.Append(msg(sessionID, models.ScopeMeetingGroup, "first"))
	assert.Error(t, b.Flush(context.Background()))
	assert.Empty(t, store.stored(), "nothing durable yet")

	// Still readable while pending retry.
	unflushed := b.Unflushed(sessionID, models.ScopeMeetingGroup)
	require.Len(t, unflushed, 1)
	assert.Equal(t, "first", unflushed[0].Content)

	b.Append(msg(sessionID, models.ScopeMeetingGroup, "second"))
	require.NoError(t, b.Flush(context.Background()))
	rows := store.stored()
	require.Len(t, rows, 2)
	assert.Equal(t, "first", rows[0].Content, "retried batch flushes before later messages")
	assert.Equal(t, "second", rows[1].Content)
}

func TestUnflushedFiltersBySessionAndScope(t *testing.T) {
	t.Parallel()

	b := NewBatcher(&memChatStore{}, time.Hour, nil)
	s1, s2 := uuid.New(), uuid.New()

	b.Append(msg(s1, models.ScopeMeetingGroup, "meeting"))
	b.Append(msg(s1, models.ScopeStreamGroup, "stream"))
	b.Append(msg(s2, models.ScopeMeetingGroup, "other session"))

	got := b.Unflushed(s1, models.ScopeMeetingGroup)
	require.Len(t, got, 1)
	assert.Equal(t, "meeting", got[0].Content)
}

func TestRunFlushesOnShutdown(t *testing.T) {
	t.Parallel()

	store := &memChatStore{}
	b := NewBatcher(store, time.Hour, nil)
	sessionID := uuid.New()
	b.Append(msg(sessionID, models.ScopeMeetingGroup, "pending"))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		b.Run(ctx)
		close(done)
	}()
	cancel()
	<-done

	require.Len(t, store.stored(), 1, "final flush drains the buffer")
}
