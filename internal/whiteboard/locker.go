// Package whiteboard coordinates the collaborative whiteboard's drawing lock.
// The drawing algorithm itself lives client-side; the server only arbitrates
// who currently holds the pencil, following the same session-membership
// pattern as screen share.
package whiteboard

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/enayetaitech/amplify-sub003/internal/models"
	"github.com/enayetaitech/amplify-sub003/internal/session"
)

// EventLockUpdate is broadcast whenever the lock changes hands.
const EventLockUpdate = "whiteboard:lock"

// Holder identifies the connection currently allowed to draw.
type Holder struct {
	Identity string      `json:"identity"`
	Name     string      `json:"name"`
	Role     models.Role `json:"role"`
	Since    time.Time   `json:"since"`
}

// Broadcaster pushes lock changes to the session room.
type Broadcaster interface {
	BroadcastToSessionAndPublish(sessionID uuid.UUID, event string, payload interface{})
}

// Locker holds one drawing lock per live session, in memory only: the lock is
// meaningful only while its holder's connection is alive, like the ephemeral
// identities it is keyed on.
type Locker struct {
	hub    Broadcaster
	logger *zap.Logger

	mu    sync.Mutex
	locks map[uuid.UUID]*Holder
}

// NewLocker creates the whiteboard lock coordinator.
func NewLocker(hub Broadcaster, logger *zap.Logger) *Locker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Locker{hub: hub, logger: logger, locks: make(map[uuid.UUID]*Holder)}
}

// Acquire takes the lock for a connection. Re-acquiring one's own lock is
// idempotent; taking a held lock fails with ErrInvalidState unless the caller
// is a moderator, who may take it over.
func (l *Locker) Acquire(sessionID uuid.UUID, h Holder) (*Holder, error) {
	l.mu.Lock()
	cur := l.locks[sessionID]
	if cur != nil && cur.Identity != h.Identity && !h.Role.IsModerator() {
		held := *cur
		l.mu.Unlock()
		return &held, fmt.Errorf("%w: whiteboard lock held by %s", session.ErrInvalidState, held.Name)
	}
	h.Since = time.Now().UTC()
	l.locks[sessionID] = &h
	l.mu.Unlock()

	l.broadcast(sessionID, &h)
	return &h, nil
}

// Release frees the lock. Only the holder or a moderator may release it;
// releasing an unheld lock is a no-op.
func (l *Locker) Release(sessionID uuid.UUID, identity string, role models.Role) error {
	l.mu.Lock()
	cur := l.locks[sessionID]
	if cur == nil {
		l.mu.Unlock()
		return nil
	}
	if cur.Identity != identity && !role.IsModerator() {
		l.mu.Unlock()
		return fmt.Errorf("%w: whiteboard lock belongs to %s", session.ErrUnauthorized, cur.Name)
	}
	delete(l.locks, sessionID)
	l.mu.Unlock()

	l.broadcast(sessionID, nil)
	return nil
}

// Holder returns the current lock holder, nil when the board is free.
func (l *Locker) Holder(sessionID uuid.UUID) *Holder {
	l.mu.Lock()
	defer l.mu.Unlock()
	if h := l.locks[sessionID]; h != nil {
		held := *h
		return &held
	}
	return nil
}

// DropIdentity releases any lock held by a now-disconnected identity.
// Called from the hub's disconnect path.
func (l *Locker) DropIdentity(sessionID uuid.UUID, identity string) {
	l.mu.Lock()
	cur := l.locks[sessionID]
	if cur == nil || cur.Identity != identity {
		l.mu.Unlock()
		return
	}
	delete(l.locks, sessionID)
	l.mu.Unlock()

	l.logger.Debug("whiteboard lock dropped on disconnect",
		zap.String("session_id", sessionID.String()),
		zap.String("identity", identity))
	l.broadcast(sessionID, nil)
}

func (l *Locker) broadcast(sessionID uuid.UUID, h *Holder) {
	if l.hub == nil {
		return
	}
	l.hub.BroadcastToSessionAndPublish(sessionID, EventLockUpdate, map[string]interface{}{"holder": h})
}
