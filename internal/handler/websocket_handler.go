// internal/handler/websocket_handler.go
package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"usb-serial-service/internal/config"
	"usb-serial-service/internal/events"
	"usb-serial-service/internal/model"
	"usb-serial-service/internal/service"
	"usb-serial-service/internal/utils"
)

// StatusProvider supplies the snapshot sent to new clients
type StatusProvider interface {
	Status() service.Status
}

// WebSocketHandler streams service events to WebSocket clients
type WebSocketHandler struct {
	upgrader    websocket.Upgrader
	connections *ConnectionManager
	bus         *events.EventBus
	status      StatusProvider
	config      config.WebSocketConfig
	logger      *utils.ServiceLogger
}

// NewWebSocketHandler creates a new WebSocket handler
func NewWebSocketHandler(
	bus *events.EventBus,
	status StatusProvider,
	cfg config.WebSocketConfig,
	security config.SecurityConfig,
	logger *zap.Logger,
) *WebSocketHandler {
	cfg = withWebSocketDefaults(cfg)
	upgrader := websocket.Upgrader{
		ReadBufferSize:  cfg.ReadBufferSize,
		WriteBufferSize: cfg.WriteBufferSize,
		CheckOrigin:     originChecker(security.AllowedOrigins),
	}

	return &WebSocketHandler{
		upgrader:    upgrader,
		connections: NewConnectionManager(),
		bus:         bus,
		status:      status,
		config:      cfg,
		logger:      utils.NewServiceLogger(logger, "websocket-handler"),
	}
}

// RegisterRoutes registers WebSocket routes
func (h *WebSocketHandler) RegisterRoutes(router *gin.RouterGroup) {
	router.GET("/events", h.HandleEventConnection)
}

// HandleEventConnection upgrades the request and streams every event
func (h *WebSocketHandler) HandleEventConnection(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("Failed to upgrade WebSocket connection", zap.Error(err))
		return
	}

	client := NewClient(uuid.New().String(), conn, h.config.SendBuffer)
	client.UserAgent = c.Request.UserAgent()
	client.RemoteAddr = c.Request.RemoteAddr

	sub := h.bus.Subscribe()

	h.connections.Register(client)
	h.logger.Info("Event WebSocket client connected",
		zap.String("client_id", client.ID),
		zap.String("remote_addr", client.RemoteAddr),
	)

	h.sendMessage(client, &WebSocketMessage{
		Type:      "initial_status",
		Data:      h.status.Status(),
		Timestamp: time.Now(),
	})

	go h.forwardEvents(client, sub)
	go h.handleClientRead(client, sub)
	go h.handleClientWrite(client)
}

// Shutdown disconnects every client
func (h *WebSocketHandler) Shutdown() {
	h.connections.Stop()
}

// GetConnectionStats returns connection statistics
func (h *WebSocketHandler) GetConnectionStats() *ConnectionStats {
	return h.connections.GetStats()
}

// forwardEvents copies bus events to the client until the subscription closes
func (h *WebSocketHandler) forwardEvents(client *Client, sub *events.Subscription) {
	for event := range sub.C {
		if !client.Wants(event.Name) {
			continue
		}
		h.sendMessage(client, &WebSocketMessage{
			Type:      "event",
			Data:      event,
			Timestamp: event.Timestamp,
		})
	}
}

// handleClientRead handles reading messages from WebSocket client
func (h *WebSocketHandler) handleClientRead(client *Client, sub *events.Subscription) {
	defer func() {
		h.bus.Unsubscribe(sub)
		h.connections.Unregister(client)
		client.close()
		client.Connection.Close()
		h.logger.Info("Event WebSocket client disconnected", zap.String("client_id", client.ID))
	}()

	client.Connection.SetReadLimit(h.config.MaxMessageSize)
	client.Connection.SetReadDeadline(time.Now().Add(h.config.PongWait))
	client.Connection.SetPongHandler(func(string) error {
		client.Connection.SetReadDeadline(time.Now().Add(h.config.PongWait))
		return nil
	})

	for {
		_, messageBytes, err := client.Connection.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.logger.Error("WebSocket read error",
					zap.Error(err),
					zap.String("client_id", client.ID),
				)
			}
			return
		}

		var message struct {
			Type string          `json:"type"`
			Data json.RawMessage `json:"data,omitempty"`
		}
		if err := json.Unmarshal(messageBytes, &message); err != nil {
			h.logger.Warn("Failed to parse WebSocket message",
				zap.Error(err),
				zap.String("client_id", client.ID),
			)
			h.sendError(client, "invalid message")
			continue
		}

		h.handleClientMessage(client, message.Type, message.Data)
	}
}

// handleClientWrite handles writing messages to WebSocket client
func (h *WebSocketHandler) handleClientWrite(client *Client) {
	ticker := time.NewTicker(h.config.PingInterval)
	defer func() {
		ticker.Stop()
		client.Connection.Close()
	}()

	for {
		select {
		case message := <-client.Send:
			client.Connection.SetWriteDeadline(time.Now().Add(h.config.WriteWait))
			if err := client.Connection.WriteMessage(websocket.TextMessage, message); err != nil {
				h.logger.Warn("WebSocket write error",
					zap.Error(err),
					zap.String("client_id", client.ID),
				)
				return
			}

		case <-ticker.C:
			client.Connection.SetWriteDeadline(time.Now().Add(h.config.WriteWait))
			if err := client.Connection.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-client.Done():
			client.Connection.SetWriteDeadline(time.Now().Add(h.config.WriteWait))
			client.Connection.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

// handleClientMessage handles incoming client messages
func (h *WebSocketHandler) handleClientMessage(client *Client, messageType string, data json.RawMessage) {
	switch messageType {
	case "subscribe", "unsubscribe":
		var req SubscriptionRequest
		if len(data) == 0 || json.Unmarshal(data, &req) != nil {
			h.sendError(client, "events is required")
			return
		}
		for _, name := range req.Events {
			if !isKnownEvent(name) {
				h.sendError(client, "unknown event: "+string(name))
				return
			}
		}

		if messageType == "subscribe" {
			client.Subscribe(req.Events)
		} else {
			client.Unsubscribe(req.Events)
		}
		h.logger.Debug("Client subscriptions changed",
			zap.String("client_id", client.ID),
			zap.String("action", messageType),
			zap.Any("events", req.Events),
		)
		h.sendMessage(client, &WebSocketMessage{
			Type:      "subscriptions",
			Data:      map[string]interface{}{"events": client.Subscriptions()},
			Timestamp: time.Now(),
		})

	case "ping":
		h.sendMessage(client, &WebSocketMessage{
			Type:      "pong",
			Timestamp: time.Now(),
		})

	default:
		h.logger.Warn("Unknown message type",
			zap.String("type", messageType),
			zap.String("client_id", client.ID),
		)
		h.sendError(client, "unknown message type: "+messageType)
	}
}

// sendMessage sends a message to a client
func (h *WebSocketHandler) sendMessage(client *Client, message *WebSocketMessage) {
	messageBytes, err := json.Marshal(message)
	if err != nil {
		h.logger.Error("Failed to marshal WebSocket message", zap.Error(err))
		return
	}

	if !client.Enqueue(messageBytes) {
		h.logger.Warn("Client send channel full, dropping message",
			zap.String("client_id", client.ID),
			zap.String("type", message.Type),
		)
	}
}

// sendError sends an error message to a client
func (h *WebSocketHandler) sendError(client *Client, errorMsg string) {
	h.sendMessage(client, &WebSocketMessage{
		Type: "error",
		Data: map[string]interface{}{
			"error": errorMsg,
		},
		Timestamp: time.Now(),
	})
}

func withWebSocketDefaults(cfg config.WebSocketConfig) config.WebSocketConfig {
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = 256
	}
	if cfg.PongWait <= 0 {
		cfg.PongWait = 60 * time.Second
	}
	if cfg.PingInterval <= 0 || cfg.PingInterval >= cfg.PongWait {
		cfg.PingInterval = cfg.PongWait * 9 / 10
	}
	if cfg.WriteWait <= 0 {
		cfg.WriteWait = 10 * time.Second
	}
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = 512
	}
	return cfg
}

func isKnownEvent(name model.EventName) bool {
	for _, known := range model.AllEventNames {
		if known == name {
			return true
		}
	}
	return false
}

// originChecker allows any origin for "*" or an empty list
func originChecker(allowed []string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" || len(allowed) == 0 {
			return true
		}
		for _, a := range allowed {
			if a == "*" || a == origin {
				return true
			}
		}
		return false
	}
}
