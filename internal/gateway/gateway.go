// Package gateway decodes named inbound session events, applies role gates,
// and dispatches to the owning component. Every failure is converted into an
// ack payload; nothing throws across the transport boundary.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/enayetaitech/amplify-sub003/internal/chat"
	"github.com/enayetaitech/amplify-sub003/internal/models"
	"github.com/enayetaitech/amplify-sub003/internal/realtime"
	"github.com/enayetaitech/amplify-sub003/internal/roster"
	"github.com/enayetaitech/amplify-sub003/internal/screenshare"
	"github.com/enayetaitech/amplify-sub003/internal/session"
	"github.com/enayetaitech/amplify-sub003/internal/waitingroom"
	"github.com/enayetaitech/amplify-sub003/internal/whiteboard"
)

// Gateway implements realtime.EventHandler over the session components.
type Gateway struct {
	registry    *session.Registry
	waiting     *waitingroom.Coordinator
	roster      *roster.Manager
	chat        *chat.Router
	screenshare *screenshare.Authority
	whiteboard  *whiteboard.Locker
	logger      *zap.Logger
}

// New creates the event gateway.
func New(
	registry *session.Registry,
	waiting *waitingroom.Coordinator,
	rosterMgr *roster.Manager,
	chatRouter *chat.Router,
	authority *screenshare.Authority,
	locker *whiteboard.Locker,
	logger *zap.Logger,
) *Gateway {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Gateway{
		registry:    registry,
		waiting:     waiting,
		roster:      rosterMgr,
		chat:        chatRouter,
		screenshare: authority,
		whiteboard:  locker,
		logger:      logger,
	}
}

// trackOf picks the membership track for a connection: observers live on the
// observer track, everyone else on the participant track.
func trackOf(c realtime.ClientInfo) models.Track {
	if c.Role == models.RoleObserver {
		return models.TrackObserver
	}
	return models.TrackParticipant
}

func parseTrack(s string) models.Track {
	if models.Track(s) == models.TrackObserver {
		return models.TrackObserver
	}
	return models.TrackParticipant
}

func requireModerator(c realtime.ClientInfo) error {
	if !c.Role.IsModerator() {
		return fmt.Errorf("%w: %s requires a moderator", session.ErrUnauthorized, c.Role)
	}
	return nil
}

// HandleEvent dispatches one inbound event and returns the ack data.
func (g *Gateway) HandleEvent(ctx context.Context, c realtime.ClientInfo, event string, data json.RawMessage) (interface{}, error) {
	switch event {
	case "startMeeting":
		return g.startMeeting(ctx, c)
	case "endMeeting":
		return g.endMeeting(ctx, c)
	case "join-room":
		return g.join(ctx, c, models.TrackParticipant)
	case "observer:join":
		return g.join(ctx, c, models.TrackObserver)
	case "acceptFromWaitingRoom":
		return g.admit(ctx, c, data)
	case "removeFromWaitingRoom":
		return g.remove(ctx, c, data)
	case "leaveMeeting":
		return g.leave(ctx, c)
	case "transferToWaitingRoom":
		return g.transfer(ctx, c, data)
	case "chat:send":
		return g.chatSend(ctx, c, data)
	case "chat:history:get":
		return g.chatHistory(ctx, c, data)
	case "screenshare:grant":
		return g.grantShare(ctx, c, data)
	case "screenshare:revoke":
		return g.revokeShare(ctx, c, data)
	case "whiteboard:acquire":
		return g.whiteboard.Acquire(c.SessionID, whiteboard.Holder{Identity: c.ID, Name: c.Name, Role: c.Role})
	case "whiteboard:release":
		return nil, g.whiteboard.Release(c.SessionID, c.ID, c.Role)
	default:
		return nil, fmt.Errorf("%w: unknown event %q", session.ErrInvalidState, event)
	}
}

func (g *Gateway) startMeeting(ctx context.Context, c realtime.ClientInfo) (interface{}, error) {
	if err := requireModerator(c); err != nil {
		return nil, err
	}
	s, err := g.registry.Start(ctx, c.SessionID, c.Email)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"liveSession": s}, nil
}

func (g *Gateway) endMeeting(ctx context.Context, c realtime.ClientInfo) (interface{}, error) {
	if err := requireModerator(c); err != nil {
		return nil, err
	}
	s, err := g.registry.End(ctx, c.SessionID, c.Email)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"liveSession": s}, nil
}

func (g *Gateway) join(ctx context.Context, c realtime.ClientInfo, track models.Track) (interface{}, error) {
	res, err := g.waiting.Join(ctx, c.SessionID, track, models.Member{
		Name:  c.Name,
		Email: c.Email,
		Role:  c.Role,
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

type memberRef struct {
	Email  string `json:"email"`
	Track  string `json:"track,omitempty"`
	Reason string `json:"reason,omitempty"`
}

func (g *Gateway) admit(ctx context.Context, c realtime.ClientInfo, data json.RawMessage) (interface{}, error) {
	if err := requireModerator(c); err != nil {
		return nil, err
	}
	var req memberRef
	if err := json.Unmarshal(data, &req); err != nil || req.Email == "" {
		return nil, fmt.Errorf("%w: acceptFromWaitingRoom requires an email", session.ErrInvalidState)
	}
	track := parseTrack(req.Track)
	s, err := g.waiting.Admit(ctx, c.SessionID, track, req.Email)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"waitingRoom": s.WaitingList(track),
		"roster":      s.Roster(track),
	}, nil
}

func (g *Gateway) remove(ctx context.Context, c realtime.ClientInfo, data json.RawMessage) (interface{}, error) {
	if err := requireModerator(c); err != nil {
		return nil, err
	}
	var req memberRef
	if err := json.Unmarshal(data, &req); err != nil || req.Email == "" {
		return nil, fmt.Errorf("%w: removeFromWaitingRoom requires an email", session.ErrInvalidState)
	}
	track := parseTrack(req.Track)
	s, err := g.waiting.Remove(ctx, c.SessionID, track, req.Email, models.LeaveReason(req.Reason))
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"waitingRoom": s.WaitingList(track)}, nil
}

func (g *Gateway) leave(ctx context.Context, c realtime.ClientInfo) (interface{}, error) {
	s, err := g.roster.MarkLeft(ctx, c.SessionID, trackOf(c), c.Email)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"liveSession": s}, nil
}

func (g *Gateway) transfer(ctx context.Context, c realtime.ClientInfo, data json.RawMessage) (interface{}, error) {
	if err := requireModerator(c); err != nil {
		return nil, err
	}
	var req memberRef
	if err := json.Unmarshal(data, &req); err != nil || req.Email == "" {
		return nil, fmt.Errorf("%w: transferToWaitingRoom requires an email", session.ErrInvalidState)
	}
	track := parseTrack(req.Track)
	s, err := g.roster.TransferToWaitingRoom(ctx, c.SessionID, track, req.Email)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"waitingRoom": s.WaitingList(track),
		"roster":      s.Roster(track),
	}, nil
}

type chatSendReq struct {
	Scope   string  `json:"scope"`
	Content string  `json:"content"`
	ToEmail *string `json:"toEmail,omitempty"`
}

func (g *Gateway) chatSend(ctx context.Context, c realtime.ClientInfo, data json.RawMessage) (interface{}, error) {
	var req chatSendReq
	if err := json.Unmarshal(data, &req); err != nil || req.Content == "" {
		return nil, fmt.Errorf("%w: chat:send requires content", session.ErrInvalidState)
	}
	from := chat.Sender{Name: c.Name, Email: c.Email, Role: c.Role}
	msg, err := g.chat.Send(ctx, c.SessionID, from, models.ChatScope(req.Scope), req.Content, req.ToEmail)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"message": msg}, nil
}

type chatHistoryReq struct {
	Scope  string `json:"scope"`
	Limit  int    `json:"limit,omitempty"`
	Thread string `json:"thread,omitempty"`
}

func (g *Gateway) chatHistory(ctx context.Context, c realtime.ClientInfo, data json.RawMessage) (interface{}, error) {
	var req chatHistoryReq
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, fmt.Errorf("%w: malformed chat:history:get", session.ErrInvalidState)
	}
	viewer := chat.Sender{Name: c.Name, Email: c.Email, Role: c.Role}
	items, err := g.chat.History(ctx, c.SessionID, viewer, models.ChatScope(req.Scope), req.Thread, req.Limit)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"items": items}, nil
}

type shareGrantReq struct {
	Mode           string `json:"mode"`
	TargetIdentity string `json:"targetIdentity,omitempty"`
	TargetName     string `json:"targetName,omitempty"`
}

func (g *Gateway) grantShare(ctx context.Context, c realtime.ClientInfo, data json.RawMessage) (interface{}, error) {
	var req shareGrantReq
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, fmt.Errorf("%w: malformed screenshare:grant", session.ErrInvalidState)
	}
	granter := screenshare.Granter{Identity: c.ID, Role: c.Role}
	switch models.GrantMode(req.Mode) {
	case models.GrantModeAll:
		grant, err := g.screenshare.GrantAll(ctx, c.SessionID, granter)
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{"grant": grant}, nil
	case models.GrantModeSingle:
		grant, err := g.screenshare.GrantSingle(ctx, c.SessionID, granter,
			screenshare.Target{Identity: req.TargetIdentity, Name: req.TargetName})
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{"grant": grant}, nil
	default:
		return nil, fmt.Errorf("%w: unknown grant mode %q", session.ErrInvalidState, req.Mode)
	}
}

type shareRevokeReq struct {
	GrantID string `json:"grantId"`
}

func (g *Gateway) revokeShare(ctx context.Context, c realtime.ClientInfo, data json.RawMessage) (interface{}, error) {
	var req shareRevokeReq
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, fmt.Errorf("%w: malformed screenshare:revoke", session.ErrInvalidState)
	}
	grantID, err := uuid.Parse(req.GrantID)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid grant id", session.ErrInvalidState)
	}
	if err := g.screenshare.Revoke(ctx, c.SessionID, grantID, screenshare.Granter{Identity: c.ID, Role: c.Role}); err != nil {
		return nil, err
	}
	return map[string]interface{}{"revoked": true}, nil
}

// OnDisconnect is the hub's disconnect callback: when the last connection for
// an email drops without an explicit leave, the roster is reconciled with a
// best-effort MarkLeft, and any whiteboard lock the connection held is freed.
// The disconnect never cancels mutations the client already submitted.
func (g *Gateway) OnDisconnect(c realtime.ClientInfo, lastOfEmail bool) {
	g.whiteboard.DropIdentity(c.SessionID, c.ID)
	if !lastOfEmail {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if _, err := g.roster.MarkLeft(ctx, c.SessionID, trackOf(c), c.Email); err != nil {
		if !errors.Is(err, session.ErrNotFound) {
			g.logger.Warn("disconnect reconciliation",
				zap.String("session_id", c.SessionID.String()),
				zap.String("email", c.Email),
				zap.Error(err))
		}
		return
	}
	g.logger.Debug("marked left on disconnect",
		zap.String("session_id", c.SessionID.String()),
		zap.String("email", c.Email))
}
