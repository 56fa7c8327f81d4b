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
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// WSMessage is the WebSocket message envelope.
type WSMessage struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Client is one websocket watcher of a collab. Watchers only receive.
type Client struct {
	ID       string
	CollabID uuid.UUID
	UserID   uuid.UUID
	hub      *Hub
	conn     *websocket.Conn
	send     chan WSMessage
	logger   *zap.Logger
}

// SnapshotFunc loads the current state sent to a watcher on connect. It
// returns an error when the collab does not exist.
type SnapshotFunc func(ctx context.Context, collabID uuid.UUID) (interface{}, error)

// ServeWs upgrades GET /ws?collab_id=&token= and streams the collab's events.
func ServeWs(hub *Hub, logger *zap.Logger, validate func(token string) (uuid.UUID, error), snapshot SnapshotFunc) gin.HandlerFunc {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(c *gin.Context) {
		collabIDStr := c.Query("collab_id")
		token := c.Query("token")
		if collabIDStr == "" || token == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "collab_id and token required"})
			return
		}
		collabID, err := uuid.Parse(collabIDStr)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid collab_id"})
			return
		}
		userID, err := validate(token)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		var initial interface{}
		if snapshot != nil {
			initial, err = snapshot(c.Request.Context(), collabID)
			if err != nil {
				c.JSON(http.StatusNotFound, gin.H{"error": "collab not found"})
				return
			}
		}

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			logger.Warn("websocket upgrade failed", zap.Error(err))
			return
		}
		client := &Client{
			ID:       uuid.New().String(),
			CollabID: collabID,
			UserID:   userID,
			hub:      hub,
			conn:     conn,
			send:     make(chan WSMessage, 64),
			logger:   logger,
		}
		if initial != nil {
			if data, err := json.Marshal(initial); err == nil {
				client.send <- WSMessage{Event: EventCollabSnapshot, Data: data}
			}
		}
		hub.Register(client)
		go client.writePump()
		client.readPump()
	}
}

// readPump discards incoming frames and keeps the read deadline fresh.
func (c *Client) readPump() {
	defer func() {
		c.hub.Unregister(c)
		_ = c.conn.Close()
	}()
	c.conn.SetReadLimit(4096)
	_ = c.conn.SetReadDeadline(time.Now().Add(PongWait * time.Second))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(PongWait * time.Second))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
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
			_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
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
