// internal/handler/websocket_types.go
package handler

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"usb-serial-service/internal/model"
)

// Client represents a WebSocket event stream client
type Client struct {
	ID          string          `json:"id"`
	Connection  *websocket.Conn `json:"-"`
	Send        chan []byte     `json:"-"`
	UserAgent   string          `json:"user_agent"`
	RemoteAddr  string          `json:"remote_addr"`
	ConnectedAt time.Time       `json:"connected_at"`

	done      chan struct{}
	closeOnce sync.Once

	mutex         sync.RWMutex
	subscriptions map[model.EventName]bool
}

// NewClient creates a client that receives every event until it subscribes
// to specific names.
func NewClient(id string, conn *websocket.Conn, sendBuffer int) *Client {
	return &Client{
		ID:            id,
		Connection:    conn,
		Send:          make(chan []byte, sendBuffer),
		ConnectedAt:   time.Now(),
		done:          make(chan struct{}),
		subscriptions: make(map[model.EventName]bool),
	}
}

// Wants reports whether the client should receive the named event
func (c *Client) Wants(name model.EventName) bool {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	if len(c.subscriptions) == 0 {
		return true
	}
	return c.subscriptions[name]
}

// Subscribe narrows delivery to the given names
func (c *Client) Subscribe(names []model.EventName) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	for _, name := range names {
		c.subscriptions[name] = true
	}
}

// Unsubscribe removes names; with none left the client receives everything
func (c *Client) Unsubscribe(names []model.EventName) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	for _, name := range names {
		delete(c.subscriptions, name)
	}
}

// Subscriptions returns the current filter
func (c *Client) Subscriptions() []model.EventName {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	names := make([]model.EventName, 0, len(c.subscriptions))
	for _, name := range model.AllEventNames {
		if c.subscriptions[name] {
			names = append(names, name)
		}
	}
	return names
}

// Enqueue queues a frame without blocking; false means it was dropped
func (c *Client) Enqueue(message []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}

	select {
	case c.Send <- message:
		return true
	default:
		return false
	}
}

// Done is closed once the client is shutting down
func (c *Client) Done() <-chan struct{} {
	return c.done
}

func (c *Client) close() {
	c.closeOnce.Do(func() { close(c.done) })
}

// WebSocketMessage represents a WebSocket message
type WebSocketMessage struct {
	Type      string      `json:"type"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// SubscriptionRequest is the data of subscribe and unsubscribe messages
type SubscriptionRequest struct {
	Events []model.EventName `json:"events"`
}

// ConnectionManager tracks connected clients
type ConnectionManager struct {
	clients    map[string]*Client
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
	stopOnce   sync.Once
	mutex      sync.RWMutex
}

// NewConnectionManager creates a new connection manager
func NewConnectionManager() *ConnectionManager {
	manager := &ConnectionManager{
		clients:    make(map[string]*Client),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
	}

	go manager.run()
	return manager
}

// run starts the connection manager
func (cm *ConnectionManager) run() {
	for {
		select {
		case client := <-cm.register:
			cm.mutex.Lock()
			cm.clients[client.ID] = client
			cm.mutex.Unlock()

		case client := <-cm.unregister:
			cm.mutex.Lock()
			if _, ok := cm.clients[client.ID]; ok {
				delete(cm.clients, client.ID)
				client.close()
			}
			cm.mutex.Unlock()

		case <-cm.done:
			cm.mutex.Lock()
			for id, client := range cm.clients {
				client.close()
				delete(cm.clients, id)
			}
			cm.mutex.Unlock()
			return
		}
	}
}

// Register registers a client
func (cm *ConnectionManager) Register(client *Client) {
	select {
	case cm.register <- client:
	case <-cm.done:
		client.close()
	}
}

// Unregister unregisters a client
func (cm *ConnectionManager) Unregister(client *Client) {
	select {
	case cm.unregister <- client:
	case <-cm.done:
	}
}

// Stop disconnects every client and stops the manager
func (cm *ConnectionManager) Stop() {
	cm.stopOnce.Do(func() { close(cm.done) })
}

// GetStats returns connection statistics
func (cm *ConnectionManager) GetStats() *ConnectionStats {
	cm.mutex.RLock()
	defer cm.mutex.RUnlock()

	return &ConnectionStats{TotalConnections: len(cm.clients)}
}

// ConnectionStats represents connection statistics
type ConnectionStats struct {
	TotalConnections int `json:"total_connections"`
}
