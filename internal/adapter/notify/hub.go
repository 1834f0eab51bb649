package notify

import (
	"encoding/json"
	"sync"

	"go.uber.org/zap"

	"github.com/rl1809/apparatus-check/internal/core/domain"
)

// Hub tracks connected clients per user and fans messages out to them.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]map[*Client]struct{}
	logger  *zap.Logger
}

func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		clients: make(map[string]map[*Client]struct{}),
		logger:  logger,
	}
}

func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.clients[c.userID] == nil {
		h.clients[c.userID] = make(map[*Client]struct{})
	}
	h.clients[c.userID][c] = struct{}{}
	h.logger.Debug("websocket client registered", zap.String("user_id", c.userID))
}

func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(c)
}

func (h *Hub) removeLocked(c *Client) {
	set, ok := h.clients[c.userID]
	if !ok {
		return
	}
	if _, ok := set[c]; !ok {
		return
	}
	delete(set, c)
	close(c.send)
	if len(set) == 0 {
		delete(h.clients, c.userID)
	}
	h.logger.Debug("websocket client unregistered", zap.String("user_id", c.userID))
}

// Connected reports how many connections a user has open.
func (h *Hub) Connected(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[userID])
}

// SendToUser queues message on every connection of userID and returns how
// many accepted it. A client whose buffer is full is disconnected.
func (h *Hub) SendToUser(userID string, message []byte) int {
	h.mu.Lock()
	defer h.mu.Unlock()

	delivered := 0
	for c := range h.clients[userID] {
		select {
		case c.send <- message:
			delivered++
		default:
			h.logger.Warn("websocket client too slow, disconnecting", zap.String("user_id", userID))
			h.removeLocked(c)
		}
	}
	return delivered
}

// Deliver pushes a lock event to its recipient's connections.
func (h *Hub) Deliver(event domain.LockEvent) error {
	message, err := json.Marshal(envelopeFor(event))
	if err != nil {
		return err
	}
	if n := h.SendToUser(event.Recipient, message); n == 0 {
		h.logger.Debug("no connection for lock event recipient",
			zap.String("user_id", event.Recipient),
			zap.String("type", string(event.Type)),
		)
	}
	return nil
}
