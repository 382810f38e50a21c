package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/KevinKickass/OpenWaterCore/internal/auth"
	"github.com/KevinKickass/OpenWaterCore/internal/events"
	"github.com/KevinKickass/OpenWaterCore/internal/judo"
	"go.uber.org/zap"
)

var errForbidden = errors.New("insufficient permissions")

// RegisterSurface is the part of the device the live feed needs.
type RegisterSurface interface {
	Snapshot() []judo.LiveValue
	Set(ctx context.Context, key string, value any) error
}

// TokenValidator resolves a bearer token to permissions.
type TokenValidator interface {
	ValidateToken(token string) ([]auth.Permission, error)
}

// Hub maintains active WebSocket clients and broadcasts messages
type Hub struct {
	// Registered clients
	clients map[*Client]bool

	// Inbound messages to broadcast
	broadcast chan Message

	// Register requests from clients
	register chan *Client

	// Unregister requests from clients
	unregister chan *Client

	stop     chan struct{}
	stopOnce sync.Once

	mu sync.RWMutex

	logger *zap.Logger

	tokens  TokenValidator
	surface RegisterSurface
}

// NewHub creates a new Hub instance
func NewHub(logger *zap.Logger, tokens TokenValidator, surface RegisterSurface) *Hub {
	return &Hub{
		broadcast:  make(chan Message, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		stop:       make(chan struct{}),
		clients:    make(map[*Client]bool),
		logger:     logger,
		tokens:     tokens,
		surface:    surface,
	}
}

// Run starts the hub's main event loop. It returns after Stop.
func (h *Hub) Run() {
	h.logger.Info("WebSocket Hub started")
	for {
		select {
		case <-h.stop:
			h.mu.Lock()
			for client := range h.clients {
				close(client.send)
				delete(h.clients, client)
			}
			h.mu.Unlock()
			h.logger.Info("WebSocket Hub stopped")
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			total := len(h.clients)
			h.mu.Unlock()
			close(client.registered)
			h.logger.Info("WebSocket client registered",
				zap.String("client_id", client.id.String()),
				zap.Int("total_clients", total))

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
				h.logger.Info("WebSocket client unregistered",
					zap.String("client_id", client.id.String()),
					zap.Int("total_clients", len(h.clients)))
			}
			h.mu.Unlock()

		case message := <-h.broadcast:
			data, err := json.Marshal(message)
			if err != nil {
				h.logger.Error("Failed to marshal broadcast message", zap.Error(err))
				continue
			}

			h.mu.Lock()
			for client := range h.clients {
				select {
				case client.send <- data:
				default:
					// Client send channel full - unregister slow/dead client
					close(client.send)
					delete(h.clients, client)
					h.logger.Warn("Client send buffer full, unregistering",
						zap.String("client_id", client.id.String()))
				}
			}
			h.mu.Unlock()
		}
	}
}

// Stop ends Run and closes all client connections.
func (h *Hub) Stop() {
	h.stopOnce.Do(func() { close(h.stop) })
}

// Forward relays register updates to all clients until updates is closed
// or the hub stops.
func (h *Hub) Forward(updates <-chan events.Update) {
	for {
		select {
		case <-h.stop:
			return
		case u, ok := <-updates:
			if !ok {
				return
			}
			h.Broadcast(NewRegisterUpdateMessage(u.Key, u.Value, u.Valid, u.UpdatedAt))
		}
	}
}

// Broadcast sends a message to all connected clients
func (h *Hub) Broadcast(msg Message) {
	select {
	case h.broadcast <- msg:
	default:
		h.logger.Warn("Hub broadcast channel full, message dropped",
			zap.String("message_type", string(msg.Type)))
	}
}

// GetClientCount returns the number of connected clients
func (h *Hub) GetClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) registerClient(c *Client) bool {
	select {
	case h.register <- c:
		<-c.registered
		return true
	case <-h.stop:
		return false
	}
}

func (h *Hub) unregisterClient(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.stop:
	}
}

// sendTo queues a message for one registered client.
func (h *Hub) sendTo(c *Client, msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("Failed to marshal message", zap.Error(err))
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	if _, ok := h.clients[c]; !ok {
		return
	}
	select {
	case c.send <- data:
	default:
		h.logger.Warn("Client send buffer full, message dropped",
			zap.String("client_id", c.id.String()))
	}
}
