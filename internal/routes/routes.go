// internal/routes/routes.go
package routes

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"usb-serial-service/internal/config"
	"usb-serial-service/internal/events"
	"usb-serial-service/internal/handler"
	"usb-serial-service/internal/middleware"
	"usb-serial-service/internal/utils"
)

// Router holds all dependencies for routing
type Router struct {
	config    *config.Config
	logger    *zap.Logger
	serial    handler.SerialController
	host      handler.DeviceLister
	bus       *events.EventBus
	wsHandler *handler.WebSocketHandler
}

// NewRouter creates a new router instance
func NewRouter(
	config *config.Config,
	logger *zap.Logger,
	serial handler.SerialController,
	host handler.DeviceLister,
	bus *events.EventBus,
) *Router {
	return &Router{
		config: config,
		logger: logger,
		serial: serial,
		host:   host,
		bus:    bus,
	}
}

// SetupRouter creates and configures the Gin router
func (r *Router) SetupRouter() *gin.Engine {
	// Set Gin mode
	if r.config.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	} else if r.config.App.Environment == "test" {
		gin.SetMode(gin.TestMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	// Create Gin engine
	router := gin.New()

	// Add middleware
	r.addMiddleware(router)

	// Add routes
	r.addRoutes(router)

	return router
}

// Shutdown disconnects event stream clients
func (r *Router) Shutdown() {
	if r.wsHandler != nil {
		r.wsHandler.Shutdown()
	}
}

// addMiddleware adds middleware to the router
func (r *Router) addMiddleware(router *gin.Engine) {
	// Request ID first so recovery and logging can use it
	router.Use(middleware.RequestIDMiddleware())

	router.Use(middleware.RecoveryMiddleware(r.logger))

	serviceLogger := utils.NewServiceLogger(r.logger, "http-server")
	router.Use(middleware.LoggingMiddleware(serviceLogger))

	router.Use(middleware.CORSMiddleware(&r.config.Security))

	r.logger.Info("Middleware configured")
}

// addRoutes sets up all application routes
func (r *Router) addRoutes(router *gin.Engine) {
	r.wsHandler = handler.NewWebSocketHandler(r.bus, r.serial, r.config.WebSocket, r.config.Security, r.logger)
	healthHandler := handler.NewHealthHandler(r.host, r.serial, r.wsHandler, r.config, r.logger)
	serialHandler := handler.NewSerialHandler(r.serial, r.logger)

	// Health check routes
	healthHandler.RegisterRoutes(router)

	// API v1 routes
	apiV1 := router.Group("/api/v1")
	serialHandler.RegisterRoutes(apiV1)

	// WebSocket routes
	r.wsHandler.RegisterRoutes(router.Group("/ws"))

	r.logger.Info("All routes configured successfully")
}
