// internal/usbhost/descriptors.go
package usbhost

import (
	"fmt"

	"github.com/google/gousb"
	"go.uber.org/zap"
)

// DescriptorProbe inspects raw USB descriptors through libusb
type DescriptorProbe struct {
	logger     *zap.Logger
	debugLevel int
}

// NewDescriptorProbe creates a probe; debugLevel is passed to libusb
func NewDescriptorProbe(logger *zap.Logger, debugLevel int) *DescriptorProbe {
	return &DescriptorProbe{
		logger:     logger.With(zap.String("component", "usb-descriptors")),
		debugLevel: debugLevel,
	}
}

// HasCDCInterface reports whether a device with the given ids exposes a
// communications class interface. No device is opened.
func (p *DescriptorProbe) HasCDCInterface(vendorID, productID uint16) (bool, error) {
	usbCtx := gousb.NewContext()
	defer func() {
		if err := usbCtx.Close(); err != nil {
			p.logger.Warn("Failed to close USB context", zap.Error(err))
		}
	}()
	usbCtx.Debug(p.debugLevel)

	found := false
	_, err := usbCtx.OpenDevices(func(desc *gousb.DeviceDesc) bool {
		if uint16(desc.Vendor) != vendorID || uint16(desc.Product) != productID {
			return false
		}
		if isCDC(desc) {
			found = true
		}
		return false
	})
	if err != nil {
		return false, fmt.Errorf("USB descriptor enumeration failed: %w", err)
	}

	p.logger.Debug("Descriptor probe finished",
		zap.String("usb_id", fmt.Sprintf("%04x:%04x", vendorID, productID)),
		zap.Bool("cdc", found),
	)
	return found, nil
}

func isCDC(desc *gousb.DeviceDesc) bool {
	if desc.Class == gousb.ClassComm {
		return true
	}
	for _, cfg := range desc.Configs {
		for _, iface := range cfg.Interfaces {
			for _, alt := range iface.AltSettings {
				if alt.Class == gousb.ClassComm {
					return true
				}
			}
		}
	}
	return false
}
