// Package realtime delivers events to the websocket connections of a user.
package realtime

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/porteria/backend/pkg/metrics"
)

const (
	// PingInterval and PongWait are used for heartbeat.
	PingInterval = 30 * time.Second
	PongWait     = 60 * time.Second
	writeWait    = 10 * time.Second
	sendBuffer   = 64
)

// Publisher publishes a user event for every instance (cross-instance fan-out).
type Publisher interface {
	PublishUserEvent(ctx context.Context, userID uuid.UUID, event string, payload []byte) error
}

// Subscriber subscribes to a user's channel and invokes handler for incoming events.
type Subscriber interface {
	SubscribeUser(userID uuid.UUID, handler func(event string, payload []byte)) (cancel func(), err error)
}

// Hub maintains user_id -> set of connections.
// With redis configured, events go through the user's channel so every instance
// delivers to its own connections exactly once.
type Hub struct {
	users   map[uuid.UUID]map[string]*Client
	subs    map[uuid.UUID]*userSub
	mu      sync.RWMutex
	logger  *zap.Logger
	pub     Publisher
	sub     Subscriber
	metrics *metrics.Metrics
}

// NewHub creates a hub. pub and sub may be nil for a single instance; a
// publish-only hub (nil sub) serves processes without websocket clients.
func NewHub(logger *zap.Logger, pub Publisher, sub Subscriber, m *metrics.Metrics) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		users:   make(map[uuid.UUID]map[string]*Client),
		subs:    make(map[uuid.UUID]*userSub),
		logger:  logger,
		pub:     pub,
		sub:     sub,
		metrics: m,
	}
}

// userSub tracks a user's channel subscription. cancel is nil while subscribing.
type userSub struct {
	cancel func()
}

// Register adds a connection. The user's channel is subscribed outside the lock;
// a failed subscription is retried by the next Register of that user.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	if h.users[c.UserID] == nil {
		h.users[c.UserID] = make(map[string]*Client)
	}
	h.users[c.UserID][c.ID] = c
	var pending *userSub
	if h.sub != nil && h.subs[c.UserID] == nil {
		pending = &userSub{}
		h.subs[c.UserID] = pending
	}
	h.mu.Unlock()
	if h.metrics != nil {
		h.metrics.RealtimeConnected.Inc()
	}
	h.logger.Debug("client connected", zap.String("client_id", c.ID), zap.String("user_id", c.UserID.String()))

	if pending != nil {
		h.subscribe(c.UserID, pending)
	}
}

func (h *Hub) subscribe(userID uuid.UUID, pending *userSub) {
	cancel, err := h.sub.SubscribeUser(userID, func(event string, payload []byte) {
		h.SendToUser(userID, event, json.RawMessage(payload))
	})

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.subs[userID] != pending {
		if cancel != nil {
			cancel()
		}
		return
	}
	if err != nil {
		h.logger.Warn("subscribe user channel", zap.String("user_id", userID.String()), zap.Error(err))
		delete(h.subs, userID)
		return
	}
	if len(h.users[userID]) == 0 {
		// Last connection left while subscribing.
		cancel()
		delete(h.subs, userID)
		return
	}
	pending.cancel = cancel
}

// Unregister removes a connection and closes its send channel. The user's
// channel is released with the last one.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	m, ok := h.users[c.UserID]
	if ok {
		if _, present := m[c.ID]; !present {
			h.mu.Unlock()
			return
		}
		delete(m, c.ID)
		close(c.send)
		if len(m) == 0 {
			delete(h.users, c.UserID)
			if s, ok := h.subs[c.UserID]; ok && s.cancel != nil {
				s.cancel()
				delete(h.subs, c.UserID)
			}
		}
	}
	h.mu.Unlock()
	if ok && h.metrics != nil {
		h.metrics.RealtimeConnected.Dec()
	}
	h.logger.Debug("client disconnected", zap.String("client_id", c.ID), zap.String("user_id", c.UserID.String()))
}

// subscribed reports whether the user's channel feeds this hub.
func (h *Hub) subscribed(userID uuid.UUID) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	s := h.subs[userID]
	return s != nil && s.cancel != nil
}

// Connections returns the number of local connections of a user.
func (h *Hub) Connections(userID uuid.UUID) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.users[userID])
}

// SendToUser delivers an event to the user's local connections. Slow clients
// with a full buffer miss the event.
func (h *Hub) SendToUser(userID uuid.UUID, event string, payload interface{}) {
	data, err := encode(payload)
	if err != nil {
		h.logger.Warn("encode realtime payload", zap.String("event", event), zap.Error(err))
		return
	}
	msg := WSMessage{Event: event, Data: data}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.users[userID] {
		select {
		case c.send <- msg:
		default:
			h.logger.Debug("client buffer full", zap.String("client_id", c.ID))
		}
	}
}

// PublishToUsers delivers an event to every listed user, on any instance.
// Delivery is best effort; failures are logged.
func (h *Hub) PublishToUsers(ctx context.Context, userIDs []uuid.UUID, event string, payload interface{}) {
	data, err := encode(payload)
	if err != nil {
		h.logger.Warn("encode realtime payload", zap.String("event", event), zap.Error(err))
		return
	}
	seen := make(map[uuid.UUID]struct{}, len(userIDs))
	for _, id := range userIDs {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		if h.pub == nil {
			h.SendToUser(id, event, data)
			continue
		}
		if h.sub != nil && !h.subscribed(id) {
			// Local connections without a channel subscription.
			h.SendToUser(id, event, data)
		}
		if err := h.pub.PublishUserEvent(ctx, id, event, data); err != nil {
			h.logger.Warn("publish user event", zap.String("user_id", id.String()), zap.String("event", event), zap.Error(err))
		}
	}
}

func encode(payload interface{}) (json.RawMessage, error) {
	switch v := payload.(type) {
	case json.RawMessage:
		return v, nil
	case []byte:
		return v, nil
	default:
		return json.Marshal(payload)
	}
}
