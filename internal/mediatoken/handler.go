package mediatoken

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/enayetaitech/amplify-sub003/config"
	"github.com/enayetaitech/amplify-sub003/internal/middleware"
	"github.com/enayetaitech/amplify-sub003/internal/models"
	"github.com/enayetaitech/amplify-sub003/internal/roster"
	"github.com/enayetaitech/amplify-sub003/internal/screenshare"
	"github.com/enayetaitech/amplify-sub003/pkg/response"
)

const tokenValidSec = 3600 * 4 // a session's worth

// Handler issues media-provider room tokens for admitted clients.
type Handler struct {
	roster    *roster.Manager
	authority *screenshare.Authority
	cfg       config.ZegoConfig
	logger    *zap.Logger
}

// NewHandler creates a media token handler.
func NewHandler(rosterMgr *roster.Manager, authority *screenshare.Authority, cfg config.ZegoConfig, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{roster: rosterMgr, authority: authority, cfg: cfg, logger: logger}
}

// GetToken handles GET /sessions/:id/media-token?identity=<connection id>.
// Participants and observers must be on their track's roster; moderators may
// always attach. Publish privilege reflects the current screen-share state.
func (h *Handler) GetToken(c *gin.Context) {
	if h.cfg.AppID == 0 || h.cfg.ServerSecret == "" {
		response.ServiceUnavailable(c, "media provider not configured (ZEGO_APP_ID, ZEGO_SERVER_SECRET)")
		return
	}
	sessionID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid session id")
		return
	}
	identity := c.Query("identity")
	if identity == "" {
		response.BadRequest(c, "identity required")
		return
	}
	email := c.GetString(middleware.ContextUserEmail)
	role := models.Role(c.GetString(middleware.ContextUserRole))

	if !role.IsModerator() {
		track := models.TrackParticipant
		if role == models.RoleObserver {
			track = models.TrackObserver
		}
		active, err := h.roster.IsActive(c.Request.Context(), sessionID, track, email)
		if err != nil || !active {
			response.Forbidden(c, "not admitted to this session")
			return
		}
	}

	canShare, err := h.authority.IsAllowed(c.Request.Context(), sessionID, identity, role)
	if err != nil {
		h.logger.Warn("screen share lookup failed", zap.Error(err))
		canShare = false
	}

	token, err := GenerateRoomToken(h.cfg.AppID, h.cfg.ServerSecret, sessionID.String(), identity, role, canShare, tokenValidSec)
	if err != nil {
		h.logger.Error("media token generation failed", zap.Error(err), zap.String("session_id", sessionID.String()))
		response.Internal(c, "failed to generate token")
		return
	}
	response.OK(c, gin.H{"token": token, "app_id": h.cfg.AppID, "can_share": canShare})
}
