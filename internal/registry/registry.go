// internal/registry/registry.go
package registry

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"usb-serial-service/internal/model"
	"usb-serial-service/internal/usbhost"
)

var (
	// ErrDeviceNotFound is returned when no device matches the request
	ErrDeviceNotFound = errors.New("device not found")
)

type usbID struct {
	vendor  uint16
	product uint16
}

// Root hubs and the Qualcomm diagnostic port are never auto-selected
var denylist = map[usbID]struct{}{
	{0x1d6b, 0x0001}: {},
	{0x1d6b, 0x0002}: {},
	{0x1d6b, 0x0003}: {},
	{0x05c6, 0x904c}: {},
}

// Registry resolves device names against the host enumeration
type Registry struct {
	host   usbhost.Host
	logger *zap.Logger
}

// New creates a registry over the given host
func New(host usbhost.Host, logger *zap.Logger) *Registry {
	return &Registry{
		host:   host,
		logger: logger.With(zap.String("component", "registry")),
	}
}

// List returns the attached devices; an empty slice is a valid result
func (r *Registry) List() ([]model.DeviceDescriptor, error) {
	devices, err := r.host.ListDevices()
	if err != nil {
		return nil, fmt.Errorf("list devices: %w", err)
	}
	if devices == nil {
		devices = []model.DeviceDescriptor{}
	}
	return devices, nil
}

// Resolve finds the device with exactly the given system name
func (r *Registry) Resolve(name string) (model.DeviceDescriptor, error) {
	devices, err := r.List()
	if err != nil {
		return model.DeviceDescriptor{}, err
	}
	for _, d := range devices {
		if d.SystemName == name {
			return d, nil
		}
	}
	return model.DeviceDescriptor{}, fmt.Errorf("%w: %s", ErrDeviceNotFound, name)
}

// SelectDefault returns the first attached device that is not denylisted
func (r *Registry) SelectDefault() (model.DeviceDescriptor, error) {
	devices, err := r.List()
	if err != nil {
		return model.DeviceDescriptor{}, err
	}
	for _, d := range devices {
		if IsDenied(d) {
			r.logger.Debug("Skipping denylisted device",
				zap.String("device", d.SystemName),
				zap.String("usb_id", d.USBID()),
			)
			continue
		}
		return d, nil
	}
	return model.DeviceDescriptor{}, ErrDeviceNotFound
}

// IsDenied reports whether the device is excluded from default selection
func IsDenied(d model.DeviceDescriptor) bool {
	_, ok := denylist[usbID{d.VendorID, d.ProductID}]
	return ok
}
