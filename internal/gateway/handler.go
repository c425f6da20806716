package gateway

import (
	"errors"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/enayetaitech/amplify-sub003/internal/chat"
	"github.com/enayetaitech/amplify-sub003/internal/middleware"
	"github.com/enayetaitech/amplify-sub003/internal/models"
	"github.com/enayetaitech/amplify-sub003/internal/screenshare"
	"github.com/enayetaitech/amplify-sub003/internal/session"
	"github.com/enayetaitech/amplify-sub003/pkg/response"
)

const defaultChatHistoryLimit = 200

// Handler exposes read-side REST endpoints for live sessions: the current
// snapshot, the join/leave audit trail, chat history and active screen-share
// grants. All mutations go through the websocket gateway.
type Handler struct {
	registry  *session.Registry
	chat      *chat.Router
	authority *screenshare.Authority
	logger    *zap.Logger
}

// NewHandler creates a session REST handler.
func NewHandler(registry *session.Registry, chatRouter *chat.Router, authority *screenshare.Authority, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{registry: registry, chat: chatRouter, authority: authority, logger: logger}
}

// RegisterRoutes wires the session routes onto an authenticated group. The
// audit and grant views are moderator-only; the rest filter per viewer.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	moderatorOnly := middleware.RequireRole(string(models.RoleModerator), string(models.RoleAdmin))
	rg.GET("/sessions/:id", h.GetSnapshot)
	rg.GET("/sessions/:id/history", moderatorOnly, h.GetHistory)
	rg.GET("/sessions/:id/chat", h.GetChatHistory)
	rg.GET("/sessions/:id/screenshare", moderatorOnly, h.GetActiveGrants)
}

// GetSnapshot handles GET /sessions/:id. Moderators see the waiting rooms;
// everyone else gets the admitted lists only.
func (h *Handler) GetSnapshot(c *gin.Context) {
	sessionID, ok := h.sessionID(c)
	if !ok {
		return
	}
	s, err := h.registry.Snapshot(c.Request.Context(), sessionID)
	if errors.Is(err, session.ErrNotFound) {
		response.NotFound(c, "session not started")
		return
	}
	if err != nil {
		h.logger.Error("snapshot failed", zap.Error(err), zap.String("session_id", sessionID.String()))
		response.Internal(c, "failed to load session")
		return
	}
	role := models.Role(c.GetString(middleware.ContextUserRole))
	if !role.IsModerator() {
		s.ParticipantWaitingRoom = nil
		s.ObserverWaitingRoom = nil
	}
	response.OK(c, s)
}

// GetHistory handles GET /sessions/:id/history?track=participant|observer.
func (h *Handler) GetHistory(c *gin.Context) {
	sessionID, ok := h.sessionID(c)
	if !ok {
		return
	}
	track := models.Track(c.DefaultQuery("track", string(models.TrackParticipant)))
	if track != models.TrackParticipant && track != models.TrackObserver {
		response.BadRequest(c, "track must be participant or observer")
		return
	}
	records, err := h.registry.History(c.Request.Context(), sessionID, track)
	if err != nil {
		h.logger.Error("history lookup failed", zap.Error(err), zap.String("session_id", sessionID.String()))
		response.Internal(c, "failed to load history")
		return
	}
	response.OK(c, gin.H{"history": records})
}

// GetChatHistory handles GET /sessions/:id/chat?scope=...&with=...&limit=N.
// Scope access is enforced by the chat router against the viewer's identity.
func (h *Handler) GetChatHistory(c *gin.Context) {
	sessionID, ok := h.sessionID(c)
	if !ok {
		return
	}
	scope := models.ChatScope(c.Query("scope"))
	limit := defaultChatHistoryLimit
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			response.BadRequest(c, "limit must be a positive integer")
			return
		}
		limit = n
	}
	viewer := chat.Sender{
		Name:  c.GetString(middleware.ContextUserName),
		Email: c.GetString(middleware.ContextUserEmail),
		Role:  models.Role(c.GetString(middleware.ContextUserRole)),
	}
	msgs, err := h.chat.History(c.Request.Context(), sessionID, viewer, scope, c.Query("with"), limit)
	switch {
	case errors.Is(err, session.ErrInvalidState):
		response.BadRequest(c, "invalid chat scope")
		return
	case errors.Is(err, session.ErrUnauthorized):
		response.Forbidden(c, "not allowed in this scope")
		return
	case err != nil:
		h.logger.Error("chat history failed", zap.Error(err), zap.String("session_id", sessionID.String()))
		response.Internal(c, "failed to load chat history")
		return
	}
	response.OK(c, gin.H{"messages": msgs})
}

// GetActiveGrants handles GET /sessions/:id/screenshare.
func (h *Handler) GetActiveGrants(c *gin.Context) {
	sessionID, ok := h.sessionID(c)
	if !ok {
		return
	}
	grants, err := h.authority.ActiveGrants(c.Request.Context(), sessionID)
	if err != nil {
		h.logger.Error("grant lookup failed", zap.Error(err), zap.String("session_id", sessionID.String()))
		response.Internal(c, "failed to load screen share grants")
		return
	}
	response.OK(c, gin.H{"grants": grants})
}

func (h *Handler) sessionID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid session id")
		return uuid.Nil, false
	}
	return id, true
}
