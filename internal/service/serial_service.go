// internal/service/serial_service.go
package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"usb-serial-service/internal/driver"
	"usb-serial-service/internal/events"
	"usb-serial-service/internal/model"
	"usb-serial-service/internal/pipeline"
	"usb-serial-service/internal/registry"
	"usb-serial-service/internal/usbhost"
	"usb-serial-service/internal/utils"
)

var (
	// ErrServiceNotStarted is returned by queries that need a started service
	ErrServiceNotStarted = errors.New("usb service not started")
	// ErrDeviceNotFound is returned when a device name does not resolve
	ErrDeviceNotFound = registry.ErrDeviceNotFound
)

// State is the connection controller state
type State int

const (
	StateIdle State = iota
	StatePermissionRequested
	StateOpening
	StateConfiguring
	StateConnected
	StateClosing
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePermissionRequested:
		return "permission_requested"
	case StateOpening:
		return "opening"
	case StateConfiguring:
		return "configuring"
	case StateConnected:
		return "connected"
	case StateClosing:
		return "closing"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// DeviceRegistry enumerates and resolves attached devices
type DeviceRegistry interface {
	List() ([]model.DeviceDescriptor, error)
	Resolve(name string) (model.DeviceDescriptor, error)
	SelectDefault() (model.DeviceDescriptor, error)
}

// DriverSelector creates drivers for devices
type DriverSelector interface {
	Select(name model.DriverName, device model.DeviceDescriptor, interfaceIndex int) (driver.SerialDriver, error)
	IsSupported(device model.DeviceDescriptor) bool
}

// Config holds the controller's initial settings
type Config struct {
	Connection model.ConnectionConfig
	BaudRate   int
	QueueSize  int
}

// Status is a point-in-time view of the controller
type Status struct {
	ServiceStarted bool                    `json:"service_started"`
	Open           bool                    `json:"open"`
	State          string                  `json:"state"`
	Device         *model.DeviceDescriptor `json:"device,omitempty"`
	Driver         string                  `json:"driver,omitempty"`
	BaudRate       int                     `json:"baud_rate"`
	AutoConnect    string                  `json:"auto_connect_device,omitempty"`
}

// SerialService owns the single connection slot. Caller operations and host
// notifications are serialized by one mutex; device open and configuration
// run on a background goroutine tagged with the generation that started it.
// Driver writes run outside mutex under writeMutex.
type SerialService struct {
	host     usbhost.Host
	registry DeviceRegistry
	selector DriverSelector
	sink     events.Sink
	logger   *utils.ServiceLogger

	mutex          sync.Mutex
	writeMutex     sync.Mutex
	config         model.ConnectionConfig
	baudRate       int
	queueSize      int
	state          State
	serviceStarted bool
	device         *model.DeviceDescriptor
	driver         driver.SerialDriver
	pipeline       *pipeline.ReadPipeline
	connLogger     *utils.ConnectionLogger
	autoDevice     string
	generation     uint64
	inFlight       sync.WaitGroup

	// read by the pipeline consumer without taking mutex
	returnedDataType atomic.Int32
}

// NewSerialService creates a controller in the Idle state with the service stopped
func NewSerialService(host usbhost.Host, registry DeviceRegistry, selector DriverSelector, sink events.Sink, config Config, logger *zap.Logger) *SerialService {
	conn := config.Connection
	if err := conn.Validate(); err != nil {
		logger.Warn("Invalid connection defaults, using built-in defaults", zap.Error(err))
		conn = model.DefaultConnectionConfig()
	}
	baud := config.BaudRate
	if baud < 1 {
		baud = model.DefaultBaudRate
	}

	s := &SerialService{
		host:      host,
		registry:  registry,
		selector:  selector,
		sink:      sink,
		logger:    utils.NewServiceLogger(logger, "serial"),
		config:    conn,
		baudRate:  baud,
		queueSize: config.QueueSize,
		state:     StateIdle,
	}
	s.returnedDataType.Store(int32(conn.ReturnedDataType))
	return s
}

// Run consumes host notifications until ctx is done or the channel closes
func (s *SerialService) Run(ctx context.Context) error {
	notifications := s.host.Notifications()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case n, ok := <-notifications:
			if !ok {
				return nil
			}
			s.HandleNotification(n)
		}
	}
}

// HandleNotification applies one host signal to the state machine
func (s *SerialService) HandleNotification(n usbhost.Notification) {
	switch n.Kind {
	case usbhost.NotificationAttached:
		s.onAttached(n.Device)
	case usbhost.NotificationDetached:
		s.onDetached(n.Device)
	case usbhost.NotificationPermission:
		s.onPermission(n.Device, n.Granted)
	default:
		s.logger.Warn("Unknown host notification", zap.Stringer("kind", n.Kind))
	}
}

// StartService is idempotent. It reports whether any device is attached and
// then runs the auto-connect check.
func (s *SerialService) StartService() {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.serviceStarted {
		return
	}
	s.serviceStarted = true

	devices, err := s.registry.List()
	if err != nil {
		s.logger.Warn("Device enumeration failed on start", zap.Error(err))
	}
	attached := len(devices) > 0

	s.logger.Info("USB service started", zap.Bool("device_attached", attached))
	s.emit(model.EventServiceStarted, model.ServiceStartedPayload{DeviceAttached: attached})

	s.checkAutoConnectLocked()
}

// StopService refuses while connected; otherwise cancels any in-flight
// connect and stops the service.
func (s *SerialService) StopService() {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.state == StateConnected {
		s.emitError(model.ErrorServiceStopFailed, "")
		return
	}
	if !s.serviceStarted {
		return
	}

	s.cancelInFlightLocked("service stopped")
	s.serviceStarted = false

	s.logger.Info("USB service stopped")
	s.emit(model.EventServiceStopped, nil)
}

// IsOpen reports whether a connection is established
func (s *SerialService) IsOpen() bool {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.state == StateConnected
}

// IsServiceStarted reports whether the service is started
func (s *SerialService) IsServiceStarted() bool {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.serviceStarted
}

// State returns the current controller state
func (s *SerialService) State() State {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.state
}

// Status returns a snapshot for status endpoints
func (s *SerialService) Status() Status {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	st := Status{
		ServiceStarted: s.serviceStarted,
		Open:           s.state == StateConnected,
		State:          s.state.String(),
		BaudRate:       s.effectiveBaudLocked(),
		AutoConnect:    s.autoDevice,
	}
	if s.device != nil {
		d := *s.device
		st.Device = &d
	}
	if s.driver != nil {
		st.Driver = s.driver.Name()
	}
	return st
}

// IsSupported reports whether any driver claims the named device
func (s *SerialService) IsSupported(name string) (bool, error) {
	device, err := s.registry.Resolve(name)
	if err != nil {
		return false, err
	}
	return s.selector.IsSupported(device), nil
}

// ListDevices returns attached devices; the service must be started
func (s *SerialService) ListDevices() ([]model.DeviceDescriptor, error) {
	s.mutex.Lock()
	started := s.serviceStarted
	s.mutex.Unlock()

	if !started {
		return nil, ErrServiceNotStarted
	}
	return s.registry.List()
}

// Connect validates preconditions and requests permission for the device.
// The outcome is reported through events.
func (s *SerialService) Connect(name string, baudRate int) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.connectLocked(name, baudRate)
}

func (s *SerialService) connectLocked(name string, baudRate int) {
	if !s.serviceStarted {
		s.emitError(model.ErrorUsbServiceNotStarted, "")
		return
	}
	if s.state != StateIdle {
		s.emitError(model.ErrorSerialportAlreadyConnected, "")
		return
	}
	if name == "" {
		s.emitError(model.ErrorConnectDeviceNameInvalid, "")
		return
	}
	if baudRate < 1 {
		s.emitError(model.ErrorConnectBaudrateEmpty, "")
		return
	}
	if !s.config.AutoConnect {
		s.baudRate = baudRate
	}

	device, err := s.registry.Resolve(name)
	if err != nil {
		if errors.Is(err, registry.ErrDeviceNotFound) {
			s.emitError(model.ErrorXDeviceNotFound, name)
		} else {
			s.emitError(model.ErrorConnectionFailed, " Catch Error Message:"+err.Error())
		}
		return
	}

	s.generation++
	s.device = &device
	s.state = StatePermissionRequested

	s.logger.Info("Requesting USB permission",
		zap.String("device", device.SystemName),
		zap.String("usb_id", device.USBID()),
		zap.Uint64("generation", s.generation),
	)
	s.host.RequestPermission(device)
}

// Disconnect closes the current connection
func (s *SerialService) Disconnect() {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if !s.serviceStarted {
		s.emitError(model.ErrorUsbServiceNotStarted, "")
		return
	}
	if s.state != StateConnected {
		s.emitError(model.ErrorSerialportAlreadyDisconnected, "")
		return
	}
	s.teardownLocked("disconnect requested")
}

// Close tears everything down; used when the embedding host goes away
func (s *SerialService) Close() error {
	s.mutex.Lock()
	if s.state == StateConnected {
		s.teardownLocked("service closed")
	}
	s.cancelInFlightLocked("service closed")
	wasStarted := s.serviceStarted
	s.serviceStarted = false
	s.mutex.Unlock()

	s.inFlight.Wait()

	if wasStarted {
		s.logger.LogServiceStop("closed")
		s.emit(model.EventServiceStopped, nil)
	}
	return nil
}

func (s *SerialService) onAttached(device model.DeviceDescriptor) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if !s.serviceStarted {
		return
	}

	s.logger.Info("USB device attached",
		zap.String("device", device.SystemName),
		zap.String("usb_id", device.USBID()),
	)
	s.emit(model.EventDeviceAttached, device)
	s.checkAutoConnectLocked()
}

func (s *SerialService) onDetached(device model.DeviceDescriptor) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if !s.serviceStarted {
		return
	}

	s.logger.Info("USB device detached",
		zap.String("device", device.SystemName),
		zap.String("usb_id", device.USBID()),
	)
	s.emit(model.EventDeviceDetached, device)

	if s.device == nil || s.device.SystemName != device.SystemName {
		return
	}
	if s.state == StateConnected {
		s.teardownLocked("device detached")
		return
	}
	s.cancelInFlightLocked("device detached")
}

func (s *SerialService) onPermission(device model.DeviceDescriptor, granted bool) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if !s.serviceStarted || s.state != StatePermissionRequested || s.device == nil || s.device.SystemName != device.SystemName {
		s.logger.Debug("Ignoring stale permission result",
			zap.String("device", device.SystemName),
			zap.Stringer("state", s.state),
		)
		return
	}

	if !granted {
		s.logger.Warn("USB permission denied", zap.String("device", device.SystemName))
		s.emitError(model.ErrorUserDidNotAllowToConnect, "")
		s.device = nil
		s.state = StateIdle
		return
	}

	s.emit(model.EventPermissionGranted, nil)
	s.state = StateOpening

	req := openRequest{
		generation: s.generation,
		device:     *s.device,
		config:     s.config,
		settings: model.LineSettings{
			BaudRate:    s.effectiveBaudLocked(),
			DataBits:    s.config.DataBits,
			StopBits:    s.config.StopBits,
			Parity:      s.config.Parity,
			FlowControl: s.config.FlowControl,
		},
	}

	s.inFlight.Add(1)
	go s.open(req)
}

type openRequest struct {
	generation uint64
	device     model.DeviceDescriptor
	config     model.ConnectionConfig
	settings   model.LineSettings
}

// open runs Opening and Configuring off the caller's goroutine
func (s *SerialService) open(req openRequest) {
	defer s.inFlight.Done()

	var drv driver.SerialDriver
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Panic while opening serial port", zap.Any("panic", r))
			s.failOpen(req.generation, drv, model.ErrorConnectionFailed, fmt.Sprintf(" Exception: %v", r))
		}
	}()

	selected, err := s.selector.Select(req.config.Driver, req.device, req.config.InterfaceIndex)
	if err != nil {
		s.logger.Warn("Driver selection failed", zap.String("device", req.device.SystemName), zap.Error(err))
		s.failOpen(req.generation, nil, model.ErrorCouldNotOpenSerialport, "")
		return
	}
	drv = selected

	connLogger := utils.NewConnectionLogger(s.logger.Logger, req.device, drv.Name())
	if err := drv.Open(); err != nil {
		connLogger.LogConnection("open", false, err)
		s.failOpen(req.generation, nil, model.ErrorCouldNotOpenSerialport, "")
		return
	}

	s.mutex.Lock()
	if req.generation != s.generation || s.state != StateOpening {
		s.mutex.Unlock()
		connLogger.LogConnection("discard", true, nil)
		_ = drv.Close()
		return
	}
	s.state = StateConfiguring
	s.driver = drv
	s.mutex.Unlock()

	if err := drv.Configure(req.settings); err != nil {
		connLogger.LogConnection("configure", false, err)
		s.failOpen(req.generation, drv, model.ErrorConnectionFailed, " Exception: "+err.Error())
		return
	}
	connLogger.LogSettings(req.settings)

	s.mutex.Lock()
	defer s.mutex.Unlock()

	if req.generation != s.generation || s.state != StateConfiguring {
		connLogger.LogConnection("discard", true, nil)
		_ = drv.Close()
		return
	}

	p := pipeline.New(s.sink, s.currentReturnedDataType, s.queueSize, s.logger.Logger)
	if err := drv.StartReading(p.OnData, p.OnError, req.config.ReadBufferSize); err != nil {
		connLogger.LogConnection("start_reading", false, err)
		p.Stop()
		_ = drv.Close()
		s.resetLocked()
		s.emitError(model.ErrorConnectionFailed, " Exception: "+err.Error())
		return
	}
	p.Start()

	s.pipeline = p
	s.connLogger = connLogger
	s.state = StateConnected

	connLogger.LogConnection("connect", true, nil)
	s.emit(model.EventConnected, nil)
}

// failOpen reverts to Idle unless the attempt was already cancelled
func (s *SerialService) failOpen(generation uint64, drv driver.SerialDriver, code model.ErrorCode, detail string) {
	if drv != nil {
		_ = drv.Close()
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()

	if generation != s.generation {
		return
	}
	if s.state != StateOpening && s.state != StateConfiguring {
		return
	}
	s.resetLocked()
	s.emitError(code, detail)
}

// teardownLocked moves Connected → Closing → Idle and emits onDisconnected
func (s *SerialService) teardownLocked(reason string) {
	s.state = StateClosing
	s.generation++

	if s.pipeline != nil {
		s.pipeline.Stop()
	}
	var closeErr error
	if s.driver != nil {
		closeErr = s.driver.Close()
	}
	if s.connLogger != nil {
		s.connLogger.LogConnection("disconnect: "+reason, closeErr == nil, closeErr)
	}
	if closeErr != nil {
		s.emitError(model.ErrorDisconnectFailed, " "+closeErr.Error())
	}

	s.resetLocked()
	s.emit(model.EventDisconnected, nil)
}

// cancelInFlightLocked abandons a pending permission request or open
func (s *SerialService) cancelInFlightLocked(reason string) {
	switch s.state {
	case StatePermissionRequested, StateOpening, StateConfiguring:
	default:
		return
	}

	s.logger.Info("Cancelling in-flight connect",
		zap.Stringer("state", s.state),
		zap.String("reason", reason),
	)
	s.generation++
	if s.driver != nil {
		_ = s.driver.Close()
	}
	s.resetLocked()
}

func (s *SerialService) resetLocked() {
	s.state = StateIdle
	s.device = nil
	s.driver = nil
	s.pipeline = nil
	s.connLogger = nil
}

func (s *SerialService) checkAutoConnectLocked() {
	if !s.config.AutoConnect || s.state != StateIdle {
		return
	}

	device, err := s.registry.SelectDefault()
	if err != nil {
		s.logger.Debug("Auto-connect found no eligible device", zap.Error(err))
		return
	}

	s.autoDevice = device.SystemName
	s.logger.Info("Auto-connecting", zap.String("device", device.SystemName))
	s.connectLocked(device.SystemName, s.config.AutoConnectBaudRate)
}

func (s *SerialService) effectiveBaudLocked() int {
	if s.config.AutoConnect {
		return s.config.AutoConnectBaudRate
	}
	return s.baudRate
}

func (s *SerialService) currentReturnedDataType() model.ReturnedDataType {
	return model.ReturnedDataType(s.returnedDataType.Load())
}

func (s *SerialService) emit(name model.EventName, payload interface{}) {
	s.sink.Notify(model.NewEvent(name, payload))
}

func (s *SerialService) emitError(code model.ErrorCode, detail string) {
	s.logger.Debug("Emitting error event",
		zap.Int("error_code", int(code)),
		zap.String("detail", detail),
	)
	s.emit(model.EventError, model.NewErrorPayload(code, detail))
}
