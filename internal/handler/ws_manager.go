package handler

import (
	"context"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"nightfall-server/internal/realtime"
)

// WSClient is one websocket connection watching a story instance.
type WSClient struct {
	UserID string
	Conn   *websocket.Conn
	send   chan []byte
}

type instanceHub struct {
	clients map[*WSClient]struct{}
	cancel  context.CancelFunc
}

// ConnectionManager bridges Redis pub/sub to websocket clients. The first
// viewer of an instance opens one subscription to its realtime channel;
// every message fans out to all connected viewers of that instance. The last
// viewer leaving tears the subscription down.
type ConnectionManager struct {
	client *redis.Client
	logger *zap.Logger

	mu   sync.Mutex
	hubs map[string]*instanceHub
}

// NewConnectionManager creates the websocket bridge.
func NewConnectionManager(client *redis.Client, logger *zap.Logger) *ConnectionManager {
	return &ConnectionManager{
		client: client,
		logger: logger.Named("ConnectionManager"),
		hubs:   make(map[string]*instanceHub),
	}
}

// Register attaches a client to an instance's hub, starting the Redis
// subscription if this is the instance's first viewer.
func (m *ConnectionManager) Register(instanceID string, client *WSClient) {
	m.mu.Lock()
	hub, ok := m.hubs[instanceID]
	if !ok {
		ctx, cancel := context.WithCancel(context.Background())
		hub = &instanceHub{
			clients: make(map[*WSClient]struct{}),
			cancel:  cancel,
		}
		m.hubs[instanceID] = hub
		go m.pump(ctx, instanceID)
	}
	hub.clients[client] = struct{}{}
	viewers := len(hub.clients)
	m.mu.Unlock()

	m.logger.Debug("Client registered",
		zap.String("instanceID", instanceID),
		zap.String("userID", client.UserID),
		zap.Int("viewers", viewers))
}

// Unregister detaches a client from its hub.
func (m *ConnectionManager) Unregister(instanceID string, client *WSClient) {
	m.mu.Lock()
	hub, ok := m.hubs[instanceID]
	if ok {
		if _, present := hub.clients[client]; present {
			delete(hub.clients, client)
			close(client.send)
		}
		if len(hub.clients) == 0 {
			hub.cancel()
			delete(m.hubs, instanceID)
		}
	}
	m.mu.Unlock()
}

// pump forwards every message on the instance's realtime channel to its
// connected clients. Slow clients are skipped rather than blocking the
// broadcast; delivery is best-effort.
func (m *ConnectionManager) pump(ctx context.Context, instanceID string) {
	pubsub := m.client.Subscribe(ctx, realtime.ChannelName(instanceID))
	defer pubsub.Close()

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			m.broadcast(instanceID, []byte(msg.Payload))
		}
	}
}

func (m *ConnectionManager) broadcast(instanceID string, payload []byte) {
	m.mu.Lock()
	hub, ok := m.hubs[instanceID]
	if !ok {
		m.mu.Unlock()
		return
	}
	clients := make([]*WSClient, 0, len(hub.clients))
	for c := range hub.clients {
		clients = append(clients, c)
	}
	m.mu.Unlock()

	for _, c := range clients {
		select {
		case c.send <- payload:
		default:
			m.logger.Warn("Send queue full, dropping message",
				zap.String("instanceID", instanceID),
				zap.String("userID", c.UserID))
		}
	}
}

// Shutdown cancels all hub subscriptions.
func (m *ConnectionManager) Shutdown() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for instanceID, hub := range m.hubs {
		hub.cancel()
		for c := range hub.clients {
			close(c.send)
		}
		delete(m.hubs, instanceID)
	}
}
