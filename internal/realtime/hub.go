package realtime

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aura-webinar/collab/internal/models"
)

const (
	// PingInterval and PongWait are used for heartbeat, in seconds.
	PingInterval = 30
	PongWait     = 60

	EventCollabUpdated  = "collab_updated"
	EventCollabDeleted  = "collab_deleted"
	EventCollabSnapshot = "collab_snapshot"
)

// Publisher publishes collab events to other instances.
type Publisher interface {
	PublishCollabEvent(ctx context.Context, collabID uuid.UUID, event string, payload []byte) error
}

// Subscriber delivers events published for one collab.
type Subscriber interface {
	SubscribeCollab(collabID uuid.UUID, handler func(event string, payload []byte)) (cancel func(), err error)
}

// Hub keeps the websocket watchers of each collab and fans events out to
// them. With a Publisher, events go through Redis and come back through the
// Subscriber on every instance, this one included.
type Hub struct {
	collabs map[uuid.UUID]map[string]*Client
	subs    map[uuid.UUID]func()
	mu      sync.RWMutex
	logger  *zap.Logger
	pub     Publisher
	sub     Subscriber
}

// NewHub creates a hub. pub and sub may be nil for local-only delivery; a
// publish-only hub (nil sub) is what the standalone worker uses.
func NewHub(logger *zap.Logger, pub Publisher, sub Subscriber) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		collabs: make(map[uuid.UUID]map[string]*Client),
		subs:    make(map[uuid.UUID]func()),
		logger:  logger,
		pub:     pub,
		sub:     sub,
	}
}

// Register adds a watcher. The first watcher of a collab opens its Redis subscription.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.collabs[c.CollabID] == nil {
		h.collabs[c.CollabID] = make(map[string]*Client)
		if h.sub != nil {
			collabID := c.CollabID
			cancel, err := h.sub.SubscribeCollab(collabID, func(event string, payload []byte) {
				h.Broadcast(collabID, event, json.RawMessage(payload))
			})
			if err != nil {
				h.logger.Warn("subscribe collab channel", zap.String("collab_id", collabID.String()), zap.Error(err))
			} else {
				h.subs[collabID] = cancel
			}
		}
	}
	h.collabs[c.CollabID][c.ID] = c
	h.logger.Debug("watcher joined", zap.String("client_id", c.ID), zap.String("collab_id", c.CollabID.String()))
}

// Unregister removes a watcher. The last one out cancels the subscription.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	m, ok := h.collabs[c.CollabID]
	if !ok {
		return
	}
	if _, ok := m[c.ID]; !ok {
		return
	}
	delete(m, c.ID)
	close(c.send)
	if len(m) == 0 {
		delete(h.collabs, c.CollabID)
		if cancel, ok := h.subs[c.CollabID]; ok {
			cancel()
			delete(h.subs, c.CollabID)
		}
	}
	h.logger.Debug("watcher left", zap.String("client_id", c.ID), zap.String("collab_id", c.CollabID.String()))
}

// Broadcast sends to local watchers only. Slow watchers miss messages.
func (h *Hub) Broadcast(collabID uuid.UUID, event string, payload interface{}) {
	data, ok := encode(payload)
	if !ok {
		return
	}
	msg := WSMessage{Event: event, Data: data}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.collabs[collabID] {
		select {
		case c.send <- msg:
		default:
		}
	}
}

// Publish delivers an event to every instance's watchers: through Redis when a
// Publisher is configured, locally otherwise.
func (h *Hub) Publish(ctx context.Context, collabID uuid.UUID, event string, payload interface{}) {
	data, ok := encode(payload)
	if !ok {
		return
	}
	if h.pub != nil {
		if err := h.pub.PublishCollabEvent(ctx, collabID, event, data); err != nil {
			h.logger.Warn("publish collab event", zap.String("collab_id", collabID.String()), zap.String("event", event), zap.Error(err))
		}
		return
	}
	h.Broadcast(collabID, event, json.RawMessage(data))
}

// CollabChanged publishes the collab's new state.
func (h *Hub) CollabChanged(ctx context.Context, c *models.Collab) {
	h.Publish(ctx, c.ID, EventCollabUpdated, c)
}

// CollabDeleted tells watchers the collab is gone.
func (h *Hub) CollabDeleted(ctx context.Context, id uuid.UUID) {
	h.Publish(ctx, id, EventCollabDeleted, map[string]string{"id": id.String()})
}

// WatcherCount returns the number of local watchers of a collab.
func (h *Hub) WatcherCount(collabID uuid.UUID) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.collabs[collabID])
}

func encode(payload interface{}) ([]byte, bool) {
	switch v := payload.(type) {
	case []byte:
		return v, true
	case json.RawMessage:
		return v, true
	}
	data, err := json.Marshal(payload)
	return data, err == nil
}
