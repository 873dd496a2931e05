package service

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"usb-serial-service/internal/driver"
	"usb-serial-service/internal/model"
	"usb-serial-service/internal/registry"
	"usb-serial-service/internal/usbhost"
)

type fakeHost struct {
	mu            sync.Mutex
	devices       []model.DeviceDescriptor
	requests      []model.DeviceDescriptor
	notifications chan usbhost.Notification
}

func newFakeHost(devices ...model.DeviceDescriptor) *fakeHost {
	return &fakeHost{
		devices:       devices,
		notifications: make(chan usbhost.Notification, 16),
	}
}

func (h *fakeHost) ListDevices() ([]model.DeviceDescriptor, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]model.DeviceDescriptor(nil), h.devices...), nil
}

func (h *fakeHost) RequestPermission(device model.DeviceDescriptor) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.requests = append(h.requests, device)
}

func (h *fakeHost) Notifications() <-chan usbhost.Notification {
	return h.notifications
}

func (h *fakeHost) permissionRequests() []model.DeviceDescriptor {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]model.DeviceDescriptor(nil), h.requests...)
}

type fakeDriver struct {
	mu           sync.Mutex
	name         string
	openErr      error
	configureErr error
	writeErr     error
	openGate     chan struct{}
	writeGate    chan struct{}
	writeStarted chan struct{}

	opened   bool
	closed   bool
	settings model.LineSettings
	written  [][]byte
	onData   func([]byte)
	onError  func(error)
}

func (d *fakeDriver) Open() error {
	if d.openGate != nil {
		<-d.openGate
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.openErr != nil {
		return d.openErr
	}
	d.opened = true
	return nil
}

func (d *fakeDriver) Configure(settings model.LineSettings) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.configureErr != nil {
		return d.configureErr
	}
	d.settings = settings
	return nil
}

func (d *fakeDriver) StartReading(onData func([]byte), onError func(error), bufferSize int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.onData = onData
	d.onError = onError
	return nil
}

func (d *fakeDriver) Write(data []byte) (int, error) {
	d.mu.Lock()
	gate, started := d.writeGate, d.writeStarted
	d.mu.Unlock()
	if gate != nil {
		if started != nil {
			close(started)
		}
		<-gate
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return 0, errPortClosed
	}
	if d.writeErr != nil {
		return 0, d.writeErr
	}
	d.written = append(d.written, append([]byte(nil), data...))
	return len(data), nil
}

func (d *fakeDriver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	return nil
}

func (d *fakeDriver) Name() string { return d.name }

func (d *fakeDriver) isClosed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}

func (d *fakeDriver) writes() [][]byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([][]byte(nil), d.written...)
}

func (d *fakeDriver) lineSettings() model.LineSettings {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.settings
}

func (d *fakeDriver) deliver(data []byte) {
	d.mu.Lock()
	onData := d.onData
	d.mu.Unlock()
	onData(data)
}

type fakeSelector struct {
	mu        sync.Mutex
	driver    *fakeDriver
	err       error
	supported bool
	lastName  model.DriverName
	lastIface int
}

func (s *fakeSelector) Select(name model.DriverName, device model.DeviceDescriptor, interfaceIndex int) (driver.SerialDriver, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastName = name
	s.lastIface = interfaceIndex
	if s.err != nil {
		return nil, s.err
	}
	return s.driver, nil
}

func (s *fakeSelector) IsSupported(model.DeviceDescriptor) bool { return s.supported }

type recordingSink struct {
	mu     sync.Mutex
	events []model.Event
}

func (s *recordingSink) Notify(e model.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
}

func (s *recordingSink) snapshot() []model.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.Event(nil), s.events...)
}

func (s *recordingSink) names() []model.EventName {
	var names []model.EventName
	for _, e := range s.snapshot() {
		names = append(names, e.Name)
	}
	return names
}

func (s *recordingSink) count(name model.EventName) int {
	n := 0
	for _, e := range s.snapshot() {
		if e.Name == name {
			n++
		}
	}
	return n
}

func (s *recordingSink) errorCodes() []model.ErrorCode {
	var codes []model.ErrorCode
	for _, e := range s.snapshot() {
		if e.Name == model.EventError {
			codes = append(codes, e.Payload.(model.ErrorPayload).ErrorCode)
		}
	}
	return codes
}

func (s *recordingSink) lastError() model.ErrorPayload {
	events := s.snapshot()
	for i := len(events) - 1; i >= 0; i-- {
		if events[i].Name == model.EventError {
			return events[i].Payload.(model.ErrorPayload)
		}
	}
	return model.ErrorPayload{}
}

func (s *recordingSink) waitFor(t *testing.T, name model.EventName, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return s.count(name) >= n }, time.Second, time.Millisecond,
		"waiting for %d x %s, got %v", n, name, s.names())
}

var (
	ftdiDevice    = model.DeviceDescriptor{SystemName: "/dev/ttyUSB0", VendorID: 0x0403, ProductID: 0x6001}
	rootHub       = model.DeviceDescriptor{SystemName: "/dev/bus0", VendorID: 0x1d6b, ProductID: 0x0002}
	errBoom       = errors.New("boom")
	errPortClosed = errors.New("port closed")
)

type fixture struct {
	svc      *SerialService
	host     *fakeHost
	selector *fakeSelector
	driver   *fakeDriver
	sink     *recordingSink
}

func newFixture(t *testing.T, devices ...model.DeviceDescriptor) *fixture {
	t.Helper()

	host := newFakeHost(devices...)
	drv := &fakeDriver{name: "ftdi"}
	selector := &fakeSelector{driver: drv, supported: true}
	sink := &recordingSink{}
	logger := zap.NewNop()

	svc := NewSerialService(host, registry.New(host, logger), selector, sink, Config{
		Connection: model.DefaultConnectionConfig(),
		BaudRate:   model.DefaultBaudRate,
	}, logger)
	t.Cleanup(func() { _ = svc.Close() })

	return &fixture{svc: svc, host: host, selector: selector, driver: drv, sink: sink}
}

func (f *fixture) grant(device model.DeviceDescriptor, granted bool) {
	f.svc.HandleNotification(usbhost.Notification{Kind: usbhost.NotificationPermission, Device: device, Granted: granted})
}

// connect drives a full successful connection
func (f *fixture) connect(t *testing.T, device model.DeviceDescriptor, baud int) {
	t.Helper()
	f.svc.Connect(device.SystemName, baud)
	require.Equal(t, StatePermissionRequested, f.svc.State())
	f.grant(device, true)
	f.sink.waitFor(t, model.EventConnected, 1)
	require.True(t, f.svc.IsOpen())
}
