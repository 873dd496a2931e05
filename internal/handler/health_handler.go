// internal/handler/health_handler.go
package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"usb-serial-service/internal/config"
	"usb-serial-service/internal/model"
	"usb-serial-service/internal/utils"
)

// DeviceLister enumerates attached devices without the service being started
type DeviceLister interface {
	ListDevices() ([]model.DeviceDescriptor, error)
}

// ConnectionStatsProvider reports event stream clients
type ConnectionStatsProvider interface {
	GetConnectionStats() *ConnectionStats
}

// HealthHandler handles health check requests
type HealthHandler struct {
	host      DeviceLister
	status    StatusProvider
	clients   ConnectionStatsProvider
	config    *config.Config
	startedAt time.Time
	logger    *utils.ServiceLogger
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(host DeviceLister, status StatusProvider, clients ConnectionStatsProvider, config *config.Config, logger *zap.Logger) *HealthHandler {
	return &HealthHandler{
		host:      host,
		status:    status,
		clients:   clients,
		config:    config,
		startedAt: time.Now(),
		logger:    utils.NewServiceLogger(logger, "health-handler"),
	}
}

// RegisterRoutes registers health check routes
func (h *HealthHandler) RegisterRoutes(router gin.IRoutes) {
	router.GET("/health", h.HealthCheck)
	router.GET("/ready", h.ReadinessCheck)
	router.GET("/live", h.LivenessCheck)
}

// HealthCheck reports USB enumeration and controller state
func (h *HealthHandler) HealthCheck(c *gin.Context) {
	health := &HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now(),
		Service:   h.config.App.Name,
		Version:   h.config.App.Version,
		Uptime:    time.Since(h.startedAt).String(),
		Checks:    make(map[string]CheckResult),
	}

	devices, err := h.host.ListDevices()
	if err != nil {
		h.logger.Error("USB enumeration health check failed", zap.Error(err))
		health.Status = "unhealthy"
		health.Checks["usb"] = CheckResult{
			Status:  "unhealthy",
			Message: err.Error(),
		}
	} else {
		health.Checks["usb"] = CheckResult{
			Status:  "healthy",
			Message: "USB enumeration OK",
			Data:    map[string]interface{}{"attached_devices": len(devices)},
		}
	}

	st := h.status.Status()
	health.Checks["serial"] = CheckResult{
		Status: "healthy",
		Data: map[string]interface{}{
			"service_started": st.ServiceStarted,
			"state":           st.State,
			"open":            st.Open,
		},
	}

	if h.clients != nil {
		health.Checks["websocket"] = CheckResult{
			Status: "healthy",
			Data: map[string]interface{}{
				"websocket_clients": h.clients.GetConnectionStats().TotalConnections,
			},
		}
	}

	statusCode := http.StatusOK
	if health.Status == "unhealthy" {
		statusCode = http.StatusServiceUnavailable
	}

	c.JSON(statusCode, health)
}

// ReadinessCheck reports ready once USB enumeration works
func (h *HealthHandler) ReadinessCheck(c *gin.Context) {
	if _, err := h.host.ListDevices(); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "not ready",
			"reason": "usb enumeration not available",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":    "ready",
		"timestamp": time.Now(),
	})
}

// LivenessCheck reports the process is alive
func (h *HealthHandler) LivenessCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "alive",
		"timestamp": time.Now(),
	})
}

// HealthResponse represents health check response
type HealthResponse struct {
	Status    string                 `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Service   string                 `json:"service"`
	Version   string                 `json:"version"`
	Uptime    string                 `json:"uptime"`
	Checks    map[string]CheckResult `json:"checks"`
}

// CheckResult represents individual check result
type CheckResult struct {
	Status  string                 `json:"status"`
	Message string                 `json:"message,omitempty"`
	Data    map[string]interface{} `json:"data,omitempty"`
}
