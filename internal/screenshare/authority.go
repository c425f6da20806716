// Package screenshare decides which connections may publish a screen-share
// track. Grants are keyed on the media transport's ephemeral per-connection
// identity, not a stable user id: participants and observers do not
// necessarily have durable accounts.
package screenshare

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/enayetaitech/amplify-sub003/internal/models"
	"github.com/enayetaitech/amplify-sub003/internal/session"
)

// Outbound events.
const (
	EventGrantUpdate = "screenshare:update"
	EventForceStop   = "screenshare:force-stop"
)

// Granter is the identity issuing or revoking a grant.
type Granter struct {
	Identity string
	Role     models.Role
}

// Target is the connection a single-mode grant addresses.
type Target struct {
	Identity string
	Name     string
}

// Broadcaster notifies the room of grant changes and force-stops a specific
// publishing connection.
type Broadcaster interface {
	BroadcastToSessionAndPublish(sessionID uuid.UUID, event string, payload interface{})
	SendToClient(sessionID uuid.UUID, clientID string, event string, payload interface{})
}

// Authority issues, supersedes and revokes screen-share grants. The
// at-most-one-active-per-mode invariant is enforced here by serializing
// issuance per process, not by a storage constraint.
type Authority struct {
	store  Store
	hub    Broadcaster
	logger *zap.Logger
	mu     sync.Mutex
}

// NewAuthority creates the screen-share authority.
func NewAuthority(store Store, hub Broadcaster, logger *zap.Logger) *Authority {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Authority{store: store, hub: hub, logger: logger}
}

func requireModerator(g Granter) error {
	if !g.Role.IsModerator() {
		return fmt.Errorf("%w: only moderators can manage screen share", session.ErrUnauthorized)
	}
	return nil
}

// GrantAll lets every current and subsequently connected participant share.
// An existing active "all" grant is implicitly revoked (superseded).
func (a *Authority) GrantAll(ctx context.Context, sessionID uuid.UUID, granter Granter) (*models.ScreenShareGrant, error) {
	if err := requireModerator(granter); err != nil {
		return nil, err
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	now := time.Now().UTC()
	if err := a.store.RevokeActiveAll(ctx, sessionID, now); err != nil {
		return nil, fmt.Errorf("supersede all grant: %w", err)
	}
	g := models.ScreenShareGrant{
		ID:              uuid.New(),
		SessionID:       sessionID,
		Mode:            models.GrantModeAll,
		GranterIdentity: granter.Identity,
		GranterRole:     granter.Role,
		GrantedAt:       now,
	}
	if err := a.store.Insert(ctx, g); err != nil {
		return nil, err
	}
	a.broadcastState(ctx, sessionID)
	a.logger.Info("screen share granted to all",
		zap.String("session_id", sessionID.String()),
		zap.String("granter", granter.Identity))
	return &g, nil
}

// GrantSingle lets exactly one connection share. Any prior active single grant
// in the session is implicitly revoked and its target force-stopped: granting
// Y while X holds the floor takes it from X.
func (a *Authority) GrantSingle(ctx context.Context, sessionID uuid.UUID, granter Granter, target Target) (*models.ScreenShareGrant, error) {
	if err := requireModerator(granter); err != nil {
		return nil, err
	}
	if target.Identity == "" {
		return nil, fmt.Errorf("%w: single grant requires a target identity", session.ErrInvalidState)
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	now := time.Now().UTC()
	superseded, err := a.store.RevokeActiveSingles(ctx, sessionID, now)
	if err != nil {
		return nil, fmt.Errorf("supersede single grant: %w", err)
	}
	g := models.ScreenShareGrant{
		ID:              uuid.New(),
		SessionID:       sessionID,
		Mode:            models.GrantModeSingle,
		TargetIdentity:  &target.Identity,
		TargetName:      target.Name,
		GranterIdentity: granter.Identity,
		GranterRole:     granter.Role,
		GrantedAt:       now,
	}
	if err := a.store.Insert(ctx, g); err != nil {
		return nil, err
	}
	for _, old := range superseded {
		if old.TargetIdentity == nil || *old.TargetIdentity == target.Identity {
			continue
		}
		a.hub.SendToClient(sessionID, *old.TargetIdentity, EventForceStop, map[string]interface{}{"grant_id": old.ID})
	}
	a.broadcastState(ctx, sessionID)
	a.logger.Info("screen share granted",
		zap.String("session_id", sessionID.String()),
		zap.String("target", target.Identity),
		zap.String("granter", granter.Identity))
	return &g, nil
}

// Revoke stamps revokedAt on a grant and force-stops whoever was publishing
// under it. Idempotent when already revoked; ErrNotFound when the grant does
// not exist.
func (a *Authority) Revoke(ctx context.Context, sessionID, grantID uuid.UUID, granter Granter) error {
	if err := requireModerator(granter); err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	g, err := a.store.Get(ctx, sessionID, grantID)
	if err != nil {
		return err
	}
	if g == nil {
		return fmt.Errorf("%w: grant %s", session.ErrNotFound, grantID)
	}
	if !g.Active() {
		return nil
	}
	if err := a.store.Revoke(ctx, sessionID, grantID, time.Now().UTC()); err != nil {
		return fmt.Errorf("revoke grant: %w", err)
	}
	// A force-stop for a disconnected identity simply finds nobody; the
	// grant record itself stays inert.
	if g.Mode == models.GrantModeSingle && g.TargetIdentity != nil {
		a.hub.SendToClient(sessionID, *g.TargetIdentity, EventForceStop, map[string]interface{}{"grant_id": g.ID})
	} else {
		a.hub.BroadcastToSessionAndPublish(sessionID, EventForceStop, map[string]interface{}{"grant_id": g.ID})
	}
	a.broadcastState(ctx, sessionID)
	return nil
}

// IsAllowed reports whether a connection may publish a screen-share track:
// moderators and admins always, everyone under an active "all" grant, and the
// exact target of an active "single" grant. Unknown or disconnected
// identities simply do not match.
func (a *Authority) IsAllowed(ctx context.Context, sessionID uuid.UUID, identity string, role models.Role) (bool, error) {
	if role.IsModerator() {
		return true, nil
	}
	if all, err := a.store.ActiveAll(ctx, sessionID); err != nil {
		return false, err
	} else if all != nil {
		return true, nil
	}
	if identity == "" {
		return false, nil
	}
	single, err := a.store.ActiveSingle(ctx, sessionID, identity)
	if err != nil {
		return false, err
	}
	return single != nil, nil
}

// ActiveGrants lists the session's unrevoked grants for reconciliation.
func (a *Authority) ActiveGrants(ctx context.Context, sessionID uuid.UUID) ([]models.ScreenShareGrant, error) {
	return a.store.ListActive(ctx, sessionID)
}

func (a *Authority) broadcastState(ctx context.Context, sessionID uuid.UUID) {
	grants, err := a.store.ListActive(ctx, sessionID)
	if err != nil {
		a.logger.Warn("list active grants", zap.Error(err))
		return
	}
	a.hub.BroadcastToSessionAndPublish(sessionID, EventGrantUpdate, map[string]interface{}{"grants": grants})
}
