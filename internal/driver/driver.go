// internal/driver/driver.go
package driver

import (
	"errors"

	"usb-serial-service/internal/model"
)

var (
	ErrDriverTypeNotFound = errors.New("driver type not found")
	ErrNoDriverFound      = errors.New("no driver claims device")
	ErrInterfaceNotFound  = errors.New("interface not found")
	ErrNotOpen            = errors.New("serial port not open")
	ErrTransmitPaused     = errors.New("transmit paused by XOFF")
)

// SerialDriver is the uniform capability every chipset driver exposes
type SerialDriver interface {
	Open() error
	Configure(settings model.LineSettings) error
	// StartReading delivers chunks to onData until the driver is closed.
	// onError is called once if the underlying read fails.
	StartReading(onData func([]byte), onError func(error), bufferSize int) error
	Write(data []byte) (int, error)
	Close() error
	Name() string
}

// CDCProber reports whether a device exposes a communications class interface
type CDCProber interface {
	HasCDCInterface(vendorID, productID uint16) (bool, error)
}

// DeviceLister enumerates attached devices; used to find sibling ports
type DeviceLister interface {
	ListDevices() ([]model.DeviceDescriptor, error)
}
