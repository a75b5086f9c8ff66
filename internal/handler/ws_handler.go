package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	// Time allowed to write a message to the client.
	writeWait = 10 * time.Second
	// Time allowed to read the next pong from the client.
	pongWait = 60 * time.Second
	// Ping period; must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10
	// Maximum inbound message size; clients only listen.
	maxMessageSize = 512
	// Outbound queue per client.
	sendQueueSize = 32
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// WebSocketHandler upgrades viewers onto an instance's realtime channel.
// Identity is optional: anonymous viewers can watch, they just cannot vote.
type WebSocketHandler struct {
	manager   *ConnectionManager
	jwtSecret string
	logger    *zap.Logger
}

// NewWebSocketHandler creates the websocket endpoint handler.
func NewWebSocketHandler(manager *ConnectionManager, jwtSecret string, logger *zap.Logger) *WebSocketHandler {
	return &WebSocketHandler{
		manager:   manager,
		jwtSecret: jwtSecret,
		logger:    logger.Named("WebSocketHandler"),
	}
}

// ServeWS handles GET /ws/:instanceID.
func (h *WebSocketHandler) ServeWS(c *gin.Context) {
	instanceID := c.Param("instanceID")
	if instanceID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "instance id required"})
		return
	}

	userID := ""
	if token := c.Query("token"); token != "" {
		id, err := ParseUserID(token, h.jwtSecret)
		if err != nil {
			h.logger.Warn("Ignoring invalid websocket token", zap.Error(err))
		} else {
			userID = id
		}
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("Websocket upgrade failed", zap.Error(err))
		return
	}

	client := &WSClient{
		UserID: userID,
		Conn:   conn,
		send:   make(chan []byte, sendQueueSize),
	}
	h.manager.Register(instanceID, client)

	go h.writePump(instanceID, client)
	go h.readPump(instanceID, client)
}

// readPump drains (and discards) inbound frames to keep the connection's
// control messages flowing; viewers have nothing to say over this socket.
func (h *WebSocketHandler) readPump(instanceID string, client *WSClient) {
	defer func() {
		h.manager.Unregister(instanceID, client)
		_ = client.Conn.Close()
	}()
	client.Conn.SetReadLimit(maxMessageSize)
	_ = client.Conn.SetReadDeadline(time.Now().Add(pongWait))
	client.Conn.SetPongHandler(func(string) error {
		return client.Conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := client.Conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debug("Websocket closed unexpectedly", zap.Error(err),
					zap.String("instanceID", instanceID))
			}
			return
		}
	}
}

func (h *WebSocketHandler) writePump(instanceID string, client *WSClient) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = client.Conn.Close()
	}()
	for {
		select {
		case message, ok := <-client.send:
			_ = client.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = client.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := client.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			_ = client.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := client.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
