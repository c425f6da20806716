package realtime

import (
	"encoding/json"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/enayetaitech/amplify-sub003/internal/models"
)

const (
	// PingInterval and PongWait are used for heartbeat.
	PingInterval = 30
	PongWait     = 60
)

// AudienceChangeHandler is called when the connection count for a session
// changes (feeds peak-connected tracking).
type AudienceChangeHandler func(sessionID uuid.UUID, count int)

// DisconnectHandler is called after a client is unregistered. lastOfEmail is
// true when no other connection in the session shares the client's email, so
// the caller can reconcile the roster without evicting a second tab.
type DisconnectHandler func(c ClientInfo, lastOfEmail bool)

// Hub maintains session_id -> set of connections and broadcasts messages.
// Uses Redis pub/sub for horizontal scaling: local broadcast + publish to Redis.
type Hub struct {
	// sessionID -> map[clientID]*Client
	sessions     map[uuid.UUID]map[string]*Client
	subs         map[uuid.UUID]func() // cancel Redis subscription per session
	mu           sync.RWMutex
	logger       *zap.Logger
	redis        RedisPublisher
	redisSub     RedisSubscriber
	onAudience   AudienceChangeHandler
	onDisconnect DisconnectHandler
}

// RedisPublisher is the interface for publishing to Redis (for cross-instance broadcast).
type RedisPublisher interface {
	PublishSessionEvent(sessionID uuid.UUID, event string, payload []byte) error
}

// RedisSubscriber subscribes to session channels and invokes handler for incoming events.
type RedisSubscriber interface {
	SubscribeSession(sessionID uuid.UUID, handler func(event string, payload []byte)) (cancel func(), err error)
}

// NewHub creates a new WebSocket hub.
func NewHub(logger *zap.Logger, redisPub RedisPublisher, redisSub RedisSubscriber) *Hub {
	return &Hub{
		sessions: make(map[uuid.UUID]map[string]*Client),
		subs:     make(map[uuid.UUID]func()),
		logger:   logger,
		redis:    redisPub,
		redisSub: redisSub,
	}
}

// SetAudienceChangeHandler sets the callback for connection count changes.
func (h *Hub) SetAudienceChangeHandler(fn AudienceChangeHandler) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onAudience = fn
}

// SetDisconnectHandler sets the callback run after a client drops.
func (h *Hub) SetDisconnectHandler(fn DisconnectHandler) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onDisconnect = fn
}

// Register adds a client to a session room. Starts the Redis subscription for
// this session on the first client.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	if h.sessions[c.SessionID] == nil {
		h.sessions[c.SessionID] = make(map[string]*Client)
		if h.redisSub != nil {
			cancel, err := h.redisSub.SubscribeSession(c.SessionID, func(event string, payload []byte) {
				h.BroadcastToSession(c.SessionID, event, json.RawMessage(payload))
			})
			if err == nil {
				h.subs[c.SessionID] = cancel
			}
		}
	}
	h.sessions[c.SessionID][c.ID] = c
	count := len(h.sessions[c.SessionID])
	onAudience := h.onAudience
	h.mu.Unlock()
	if onAudience != nil {
		onAudience(c.SessionID, count)
	}
	h.logger.Debug("client joined session room",
		zap.String("client_id", c.ID),
		zap.String("session_id", c.SessionID.String()),
		zap.String("email", c.Email))
}

// Unregister removes a client from a session room, cancels the Redis
// subscription when the last client leaves, and fires the disconnect handler.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	lastOfEmail := true
	if m, ok := h.sessions[c.SessionID]; ok {
		delete(m, c.ID)
		for _, other := range m {
			if other.Email == c.Email {
				lastOfEmail = false
				break
			}
		}
		if len(m) == 0 {
			delete(h.sessions, c.SessionID)
			if cancel, ok := h.subs[c.SessionID]; ok {
				cancel()
				delete(h.subs, c.SessionID)
			}
		}
	}
	onDisconnect := h.onDisconnect
	h.mu.Unlock()
	if onDisconnect != nil {
		onDisconnect(c.Info(), lastOfEmail)
	}
	h.logger.Debug("client left session room",
		zap.String("client_id", c.ID),
		zap.String("session_id", c.SessionID.String()))
}

// BroadcastToSession sends a message to all clients in a session (local only).
func (h *Hub) BroadcastToSession(sessionID uuid.UUID, event string, payload interface{}) {
	msg := envelope(event, payload)

	h.mu.RLock()
	clients := make([]*Client, 0, len(h.sessions[sessionID]))
	for _, c := range h.sessions[sessionID] {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		select {
		case c.send <- msg:
		default:
			// buffer full, skip
		}
	}
}

// BroadcastToSessionAndPublish sends to local clients and publishes to Redis
// for other instances.
func (h *Hub) BroadcastToSessionAndPublish(sessionID uuid.UUID, event string, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	h.BroadcastToSession(sessionID, event, payload)
	if h.redis != nil {
		_ = h.redis.PublishSessionEvent(sessionID, event, data)
	}
}

// PublishToSessionOnly publishes to Redis only (no local broadcast), so the
// Redis subscriber callback performs the broadcast once for all instances
// including this one, avoiding duplicate delivery to local clients.
func (h *Hub) PublishToSessionOnly(sessionID uuid.UUID, event string, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	if h.redis != nil {
		_ = h.redis.PublishSessionEvent(sessionID, event, data)
		return
	}
	h.BroadcastToSession(sessionID, event, payload)
}

// AudienceCount returns the number of connected clients in a session.
func (h *Hub) AudienceCount(sessionID uuid.UUID) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions[sessionID])
}

// SendToClient sends a message to a single connection by its ephemeral id.
func (h *Hub) SendToClient(sessionID uuid.UUID, clientID string, event string, payload interface{}) {
	msg := envelope(event, payload)
	h.mu.RLock()
	c, ok := h.sessions[sessionID][clientID]
	h.mu.RUnlock()
	if !ok || c == nil {
		return
	}
	select {
	case c.send <- msg:
	default:
	}
}

// SendToEmail sends a message to every connection of an identity; a
// disconnected identity finds nobody and the send is a no-op.
func (h *Hub) SendToEmail(sessionID uuid.UUID, email string, event string, payload interface{}) {
	msg := envelope(event, payload)
	email = models.NormalizeEmail(email)
	h.mu.RLock()
	var targets []*Client
	for _, c := range h.sessions[sessionID] {
		if c.Email == email {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()
	for _, c := range targets {
		select {
		case c.send <- msg:
		default:
		}
	}
}

// SendToModerators sends a message to every moderator/admin connection in a
// session room.
func (h *Hub) SendToModerators(sessionID uuid.UUID, event string, payload interface{}) {
	msg := envelope(event, payload)
	h.mu.RLock()
	var targets []*Client
	for _, c := range h.sessions[sessionID] {
		if c.Role.IsModerator() {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()
	for _, c := range targets {
		select {
		case c.send <- msg:
		default:
		}
	}
}

func envelope(event string, payload interface{}) WSMessage {
	var data []byte
	switch v := payload.(type) {
	case []byte:
		data = v
	case json.RawMessage:
		data = v
	default:
		data, _ = json.Marshal(payload)
	}
	return WSMessage{Event: event, Data: data}
}
