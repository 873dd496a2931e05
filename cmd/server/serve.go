// cmd/server/serve.go
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"usb-serial-service/internal/config"
	"usb-serial-service/internal/driver"
	"usb-serial-service/internal/events"
	"usb-serial-service/internal/registry"
	"usb-serial-service/internal/routes"
	"usb-serial-service/internal/service"
	"usb-serial-service/internal/usbhost"
	"usb-serial-service/internal/utils"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the bridge HTTP and WebSocket server",
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := NewApplication(configPath)
		if err != nil {
			return fmt.Errorf("failed to initialize application: %w", err)
		}
		return app.Start()
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

// Application represents the main application
type Application struct {
	config *config.Config
	logger *zap.Logger
	server *http.Server
	router *routes.Router

	host     *usbhost.SystemHost
	registry *registry.Registry
	selector *driver.Selector
	bus      *events.EventBus
	serial   *service.SerialService

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewApplication creates a new application instance
func NewApplication(path string) (*Application, error) {
	// Load configuration
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	// Initialize logger
	logger, err := utils.NewLogger(&cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	serviceLogger := utils.NewServiceLogger(logger, cfg.App.Name)
	serviceLogger.LogServiceStart(cfg.App.Version, cfg)

	app := &Application{
		config: cfg,
		logger: logger,
	}

	app.initializeHost()
	app.initializeDrivers()

	if err := app.initializeServices(); err != nil {
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	app.initializeServer()

	return app, nil
}

// initializeHost sets up USB enumeration, hotplug and permissions
func (app *Application) initializeHost() {
	app.host = newSystemHost(app.config, app.logger)
	app.registry = registry.New(app.host, app.logger)

	app.logger.Info("USB host initialized",
		zap.Duration("poll_interval", app.config.USB.PollInterval),
		zap.Bool("auto_grant_permission", app.config.USB.AutoGrantPermission),
	)
}

// initializeDrivers sets up the chipset driver selector
func (app *Application) initializeDrivers() {
	app.selector = newSelector(app.config, app.logger, app.host)

	app.logger.Info("Driver selector initialized",
		zap.Any("drivers", app.selector.ListDrivers()),
		zap.Bool("descriptor_probe", app.config.USB.EnableDescriptorProbe),
	)
}

// newSystemHost builds the USB host from the usb config section
func newSystemHost(cfg *config.Config, logger *zap.Logger) *usbhost.SystemHost {
	return usbhost.NewSystemHost(logger, &usbhost.Config{
		PollInterval:        cfg.USB.PollInterval,
		AutoGrantPermission: cfg.USB.AutoGrantPermission,
		NotificationBuffer:  cfg.USB.NotificationBuffer,
	})
}

// newSelector builds the driver selector; the CDC descriptor probe is only
// attached when enabled
func newSelector(cfg *config.Config, logger *zap.Logger, lister driver.DeviceLister) *driver.Selector {
	var prober driver.CDCProber
	if cfg.USB.EnableDescriptorProbe {
		prober = usbhost.NewDescriptorProbe(logger, cfg.USB.DebugLevel)
	}
	return driver.NewSelector(logger, lister, prober, nil)
}

// initializeServices creates the event bus and the serial controller
func (app *Application) initializeServices() error {
	conn, err := app.config.Serial.Defaults.ConnectionConfig()
	if err != nil {
		return fmt.Errorf("invalid serial defaults: %w", err)
	}

	app.bus = events.NewEventBus(app.logger, app.config.Events.SubscriberBuffer)
	app.serial = service.NewSerialService(
		app.host,
		app.registry,
		app.selector,
		app.bus,
		service.Config{
			Connection: conn,
			BaudRate:   app.config.Serial.Defaults.BaudRate,
			QueueSize:  app.config.Read.QueueSize,
		},
		app.logger,
	)

	app.logger.Info("Services initialized successfully")
	return nil
}

// initializeServer sets up HTTP server and routes
func (app *Application) initializeServer() {
	app.router = routes.NewRouter(app.config, app.logger, app.serial, app.host, app.bus)

	app.server = &http.Server{
		Addr:         app.config.GetServerAddr(),
		Handler:      app.router.SetupRouter(),
		ReadTimeout:  app.config.Server.ReadTimeout,
		WriteTimeout: app.config.Server.WriteTimeout,
		IdleTimeout:  app.config.Server.IdleTimeout,
	}

	app.logger.Info("HTTP server initialized",
		zap.String("address", app.config.GetServerAddr()),
		zap.Bool("tls_enabled", app.config.Server.TLS.Enabled),
	)
}

// startBackgroundServices starts the USB watcher and the notification loop
func (app *Application) startBackgroundServices(ctx context.Context) {
	app.wg.Add(2)
	go func() {
		defer app.wg.Done()
		if err := app.host.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			app.logger.Error("USB watcher stopped", zap.Error(err))
		}
	}()
	go func() {
		defer app.wg.Done()
		if err := app.serial.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			app.logger.Error("Notification loop stopped", zap.Error(err))
		}
	}()

	if app.config.Serial.StartOnBoot {
		app.serial.StartService()
	}

	app.logger.Info("Background services started",
		zap.Bool("start_on_boot", app.config.Serial.StartOnBoot),
	)
}

// Start runs the server until SIGINT or SIGTERM
func (app *Application) Start() error {
	ctx, cancel := context.WithCancel(context.Background())
	app.cancel = cancel

	app.startBackgroundServices(ctx)

	serverErr := make(chan error, 1)
	go func() {
		app.logger.Info("Starting HTTP server",
			zap.String("address", app.server.Addr),
		)

		var err error
		if app.config.Server.TLS.Enabled {
			err = app.server.ListenAndServeTLS(
				app.config.Server.TLS.CertFile,
				app.config.Server.TLS.KeyFile,
			)
		} else {
			err = app.server.ListenAndServe()
		}

		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	var runErr error
	select {
	case sig := <-quit:
		app.logger.Info("Received shutdown signal", zap.String("signal", sig.String()))
	case err := <-serverErr:
		app.logger.Error("HTTP server failed", zap.Error(err))
		runErr = fmt.Errorf("http server: %w", err)
	}

	app.shutdown()
	return runErr
}

// shutdown performs graceful shutdown
func (app *Application) shutdown() {
	serviceLogger := utils.NewServiceLogger(app.logger, app.config.App.Name)
	serviceLogger.LogServiceStop("shutdown signal received")

	ctx, cancel := context.WithTimeout(context.Background(), app.config.Server.ShutdownTimeout)
	defer cancel()

	if err := app.server.Shutdown(ctx); err != nil {
		app.logger.Error("HTTP server shutdown error", zap.Error(err))
	} else {
		app.logger.Info("HTTP server stopped")
	}
	app.router.Shutdown()

	// Close the port before the watcher stops so onDisconnected still reaches subscribers
	if err := app.serial.Close(); err != nil {
		app.logger.Error("Serial service close error", zap.Error(err))
	}

	app.cancel()
	app.wg.Wait()
	app.bus.Close()

	app.logger.Info("Application shutdown completed")

	if err := utils.CloseLogger(app.logger); err != nil {
		fmt.Fprintf(os.Stderr, "Logger close error: %v\n", err)
	}
}
