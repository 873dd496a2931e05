// internal/usbhost/permission.go
package usbhost

import (
	"go.uber.org/zap"

	"usb-serial-service/internal/model"
)

// checkAccess is replaced in tests
var checkAccess = hasReadWriteAccess

// PermissionBroker answers permission requests asynchronously
type PermissionBroker struct {
	logger    *zap.Logger
	out       chan<- Notification
	autoGrant bool
}

// NewPermissionBroker creates a broker publishing results to out
func NewPermissionBroker(logger *zap.Logger, out chan<- Notification, autoGrant bool) *PermissionBroker {
	return &PermissionBroker{
		logger:    logger,
		out:       out,
		autoGrant: autoGrant,
	}
}

// Request checks access on a background goroutine and returns immediately
func (b *PermissionBroker) Request(device model.DeviceDescriptor) {
	go func() {
		granted := b.autoGrant
		if !granted {
			err := checkAccess(device.SystemName)
			if err != nil {
				b.logger.Warn("USB permission denied",
					zap.String("device", device.SystemName),
					zap.Error(err),
				)
			}
			granted = err == nil
		}

		b.logger.Debug("USB permission decided",
			zap.String("device", device.SystemName),
			zap.Bool("granted", granted),
		)

		b.out <- Notification{
			Kind:    NotificationPermission,
			Device:  device,
			Granted: granted,
		}
	}()
}
