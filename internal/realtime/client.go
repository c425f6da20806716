package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/enayetaitech/amplify-sub003/internal/models"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // allow all origins in dev; restrict in production
	},
}

// WSMessage is the WebSocket message envelope. ID, when set on an inbound
// message, asks for an ack carrying the same id.
type WSMessage struct {
	ID    string          `json:"id,omitempty"`
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Ack is the reply payload for an inbound event that carried an id.
type Ack struct {
	ID      string      `json:"id"`
	Success bool        `json:"success"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

// ClientInfo is the identity attached to one connection: the ephemeral
// connection id plus the verified claims it connected with.
type ClientInfo struct {
	ID        string
	SessionID uuid.UUID
	Name      string
	Email     string
	Role      models.Role
}

// EventHandler dispatches one named inbound event. The returned value becomes
// the ack data; a returned error becomes a {success:false, message} ack and
// never crosses the transport as a failure.
type EventHandler interface {
	HandleEvent(ctx context.Context, c ClientInfo, event string, data json.RawMessage) (interface{}, error)
}

// ClaimsValidator turns a raw token into verified identity claims.
type ClaimsValidator func(token string) (name, email, role string, err error)

// Client represents a single WebSocket connection in a session room.
type Client struct {
	ID        string
	SessionID uuid.UUID
	Name      string
	Email     string
	Role      models.Role
	JoinedAt  time.Time
	hub       *Hub
	handler   EventHandler
	conn      *websocket.Conn
	send      chan WSMessage
	logger    *zap.Logger
}

// Info returns the connection's identity snapshot.
func (c *Client) Info() ClientInfo {
	return ClientInfo{ID: c.ID, SessionID: c.SessionID, Name: c.Name, Email: c.Email, Role: c.Role}
}

// ServeWs handles the WebSocket upgrade and runs the client loop.
func ServeWs(hub *Hub, logger *zap.Logger, validate ClaimsValidator, handler EventHandler) gin.HandlerFunc {
	return func(c *gin.Context) {
		sessionIDStr := c.Query("session_id")
		token := c.Query("token")
		if sessionIDStr == "" || token == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "session_id and token required"})
			return
		}
		sessionID, err := uuid.Parse(sessionIDStr)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid session_id"})
			return
		}
		name, email, role, err := validate(token)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			logger.Warn("websocket upgrade failed", zap.Error(err))
			return
		}

		client := &Client{
			ID:        uuid.New().String(),
			SessionID: sessionID,
			Name:      name,
			Email:     models.NormalizeEmail(email),
			Role:      models.Role(role),
			JoinedAt:  time.Now(),
			hub:       hub,
			handler:   handler,
			conn:      conn,
			send:      make(chan WSMessage, 256),
			logger:    logger,
		}
		hub.Register(client)
		go client.writePump()
		client.readPump()
	}
}

func (c *Client) readPump() {
	defer func() {
		c.hub.Unregister(c)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(65536)
	_ = c.conn.SetReadDeadline(time.Now().Add(PongWait * time.Second))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(PongWait * time.Second))
		return nil
	})

	for {
		var msg WSMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			break
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(PongWait * time.Second))
		if msg.Event == "" || c.handler == nil {
			continue
		}

		result, err := c.handler.HandleEvent(context.Background(), c.Info(), msg.Event, msg.Data)
		if msg.ID == "" {
			continue
		}
		ack := Ack{ID: msg.ID, Success: err == nil, Data: result}
		if err != nil {
			ack.Message = err.Error()
			c.logger.Debug("event rejected",
				zap.String("event", msg.Event),
				zap.String("client_id", c.ID),
				zap.Error(err))
		}
		c.reply(ack)
	}
}

func (c *Client) reply(ack Ack) {
	data, err := json.Marshal(ack)
	if err != nil {
		return
	}
	select {
	case c.send <- WSMessage{ID: ack.ID, Event: "ack", Data: data}:
	default:
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(PingInterval * time.Second)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteJSON(msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
