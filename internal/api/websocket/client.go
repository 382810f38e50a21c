package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/KevinKickass/OpenWaterCore/internal/auth"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period (must be less than pongWait)
	pingPeriod = (pongWait * 9) / 10

	// Time allowed for the auth message after connecting
	authWait = 10 * time.Second

	// Maximum message size allowed from peer
	maxMessageSize = 8192

	// Send channel buffer size
	sendBufferSize = 256

	setTimeout = 15 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Client represents a WebSocket client connection
type Client struct {
	id            uuid.UUID
	hub           *Hub
	conn          *websocket.Conn
	send          chan []byte
	registered    chan struct{}
	logger        *zap.Logger
	authenticated bool
	permissions   []auth.Permission
}

type clientMessage struct {
	Type      string      `json:"type"`
	Token     string      `json:"token,omitempty"`
	RequestID string      `json:"request_id,omitempty"`
	Key       string      `json:"key,omitempty"`
	Value     interface{} `json:"value,omitempty"`
}

// readPump handles reading messages from the WebSocket connection
func (c *Client) readPump() {
	defer func() {
		if c.authenticated {
			c.hub.unregisterClient(c)
		} else {
			// not handed to the hub yet, so the client owns the channel
			close(c.send)
		}
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(authWait))

	for {
		var msg clientMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway,
				websocket.CloseAbnormalClosure) {
				c.logger.Warn("WebSocket read error",
					zap.Error(err),
					zap.String("client_id", c.id.String()))
			}
			return
		}

		// First message MUST be authentication
		if !c.authenticated {
			if !c.authenticate(msg) {
				return
			}
			continue
		}

		c.handleMessage(msg)
	}
}

func (c *Client) authenticate(msg clientMessage) bool {
	if msg.Type != "auth" {
		c.sendAuthFailed("First message must be authentication")
		return false
	}
	if msg.Token == "" {
		c.sendAuthFailed("Missing token in auth message")
		return false
	}

	permissions, err := c.hub.tokens.ValidateToken(msg.Token)
	if err != nil {
		c.logger.Warn("WebSocket authentication failed",
			zap.Error(err),
			zap.String("remote_addr", c.conn.RemoteAddr().String()))
		c.sendAuthFailed("Invalid or expired token")
		return false
	}

	c.permissions = permissions
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	c.sendRaw(map[string]interface{}{
		"type":        "auth_success",
		"timestamp":   time.Now(),
		"client_id":   c.id,
		"permissions": permissions,
	})
	c.sendRaw(NewMessage(MessageTypeSnapshot, c.hub.surface.Snapshot()))

	if !c.hub.registerClient(c) {
		return false
	}
	c.authenticated = true

	c.logger.Info("WebSocket client authenticated",
		zap.String("client_id", c.id.String()),
		zap.Any("permissions", permissions))
	return true
}

// sendRaw is only used before the client is registered with the hub.
func (c *Client) sendRaw(v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		c.logger.Error("Failed to marshal message", zap.Error(err))
		return
	}
	select {
	case c.send <- data:
	default:
	}
}

func (c *Client) sendAuthFailed(reason string) {
	c.sendRaw(map[string]interface{}{
		"type":      "auth_failed",
		"timestamp": time.Now(),
		"reason":    reason,
	})
}

func (c *Client) can(p auth.Permission) bool {
	for _, have := range c.permissions {
		if have == p {
			return true
		}
	}
	return false
}

func (c *Client) handleMessage(msg clientMessage) {
	switch msg.Type {
	case "set":
		if !c.can(auth.PermWrite) {
			c.hub.sendTo(c, NewSetResultMessage(msg.RequestID, msg.Key, errForbidden))
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), setTimeout)
		err := c.hub.surface.Set(ctx, msg.Key, msg.Value)
		cancel()

		if err != nil {
			c.logger.Warn("Set via WebSocket failed",
				zap.String("client_id", c.id.String()),
				zap.String("register", msg.Key),
				zap.Error(err))
		}
		c.hub.sendTo(c, NewSetResultMessage(msg.RequestID, msg.Key, err))

	case "snapshot":
		c.hub.sendTo(c, NewMessage(MessageTypeSnapshot, c.hub.surface.Snapshot()))

	default:
		c.logger.Debug("Ignoring client message",
			zap.String("client_id", c.id.String()),
			zap.String("type", msg.Type))
	}
}

// writePump handles writing messages to the WebSocket connection
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// Channel closed by hub or by a failed handshake
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// ServeWs handles WebSocket upgrade requests. The client joins the hub only
// after a valid auth message.
func ServeWs(hub *Hub, w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		hub.logger.Error("WebSocket upgrade error",
			zap.Error(err),
			zap.String("remote_addr", r.RemoteAddr))
		return
	}

	client := &Client{
		id:         uuid.New(),
		hub:        hub,
		conn:       conn,
		send:       make(chan []byte, sendBufferSize),
		registered: make(chan struct{}),
		logger:     hub.logger,
	}

	go client.writePump()
	go client.readPump()
}
