// internal/driver/registry.go
package driver

import (
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"usb-serial-service/internal/model"
)

// DriverFactory creates a driver bound to one OS port
type DriverFactory func(portName string, logger *zap.Logger) SerialDriver

// Selector picks and creates chipset drivers for devices
type Selector struct {
	factories map[model.DriverName]DriverFactory
	mu        sync.RWMutex
	database  *ChipDatabase
	prober    CDCProber
	lister    DeviceLister
	logger    *zap.Logger
}

// NewSelector creates a selector with a PortDriver factory for every
// supported chipset. prober may be nil when descriptor inspection is off.
func NewSelector(logger *zap.Logger, lister DeviceLister, prober CDCProber, opener PortOpener) *Selector {
	s := &Selector{
		factories: make(map[model.DriverName]DriverFactory),
		database:  NewChipDatabase(),
		prober:    prober,
		lister:    lister,
		logger:    logger.With(zap.String("component", "driver-selector")),
	}

	for _, name := range model.SupportedDrivers {
		name := name
		s.Register(name, func(portName string, logger *zap.Logger) SerialDriver {
			return NewPortDriver(name, portName, opener, logger)
		})
	}
	return s
}

// Register registers a driver factory, replacing any existing one
func (s *Selector) Register(name model.DriverName, factory DriverFactory) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.factories[name] = factory
	s.logger.Debug("Driver registered", zap.String("driver", string(name)))
}

// ListDrivers returns the registered driver names in probe order
func (s *Selector) ListDrivers() []model.DriverName {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]model.DriverName, 0, len(s.factories))
	for _, name := range model.SupportedDrivers {
		if _, ok := s.factories[name]; ok {
			names = append(names, name)
		}
	}
	return names
}

// Probe returns the first driver, in priority order, that claims the device
func (s *Selector) Probe(device model.DeviceDescriptor) (model.DriverName, bool) {
	for _, name := range model.SupportedDrivers {
		if s.database.Claims(name, device.VendorID, device.ProductID) {
			return name, true
		}
		if name == model.DriverCDC && s.hasCDCInterface(device) {
			return name, true
		}
	}
	return "", false
}

// IsSupported reports whether any supported driver claims the device
func (s *Selector) IsSupported(device model.DeviceDescriptor) bool {
	_, ok := s.Probe(device)
	return ok
}

// Select creates, without opening, a driver for the device. interfaceIndex
// picks a sibling port of a multi-port adapter; InterfaceUnspecified uses
// the device itself.
func (s *Selector) Select(name model.DriverName, device model.DeviceDescriptor, interfaceIndex int) (SerialDriver, error) {
	if name == model.DriverAuto {
		probed, ok := s.Probe(device)
		if !ok {
			return nil, fmt.Errorf("%w: %s (%s)", ErrNoDriverFound, device.SystemName, device.USBID())
		}
		name = probed
	}

	s.mu.RLock()
	factory, exists := s.factories[name]
	s.mu.RUnlock()
	if !exists {
		return nil, fmt.Errorf("%w: %q", ErrDriverTypeNotFound, name)
	}

	portName, err := s.resolvePort(device, interfaceIndex)
	if err != nil {
		return nil, err
	}

	s.logger.Info("Driver selected",
		zap.String("driver", string(name)),
		zap.String("device", device.SystemName),
		zap.String("port", portName),
		zap.String("usb_id", device.USBID()),
	)

	return factory(portName, s.logger), nil
}

func (s *Selector) resolvePort(device model.DeviceDescriptor, interfaceIndex int) (string, error) {
	if interfaceIndex <= model.InterfaceUnspecified || s.lister == nil {
		return device.SystemName, nil
	}

	devices, err := s.lister.ListDevices()
	if err != nil {
		return "", fmt.Errorf("list sibling ports: %w", err)
	}

	var siblings []string
	for _, d := range devices {
		if d.VendorID == device.VendorID && d.ProductID == device.ProductID && d.SerialNumber == device.SerialNumber {
			siblings = append(siblings, d.SystemName)
		}
	}
	sort.Strings(siblings)

	if interfaceIndex >= len(siblings) {
		return "", fmt.Errorf("%w: index %d of %d on %s", ErrInterfaceNotFound, interfaceIndex, len(siblings), device.SystemName)
	}
	return siblings[interfaceIndex], nil
}

func (s *Selector) hasCDCInterface(device model.DeviceDescriptor) bool {
	if s.prober == nil {
		return false
	}
	ok, err := s.prober.HasCDCInterface(device.VendorID, device.ProductID)
	if err != nil {
		s.logger.Debug("CDC descriptor probe failed",
			zap.String("device", device.SystemName),
			zap.Error(err),
		)
		return false
	}
	return ok
}
