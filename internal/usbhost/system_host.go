// internal/usbhost/system_host.go
package usbhost

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.bug.st/serial/enumerator"
	"go.uber.org/zap"

	"usb-serial-service/internal/model"
)

// enumerate is replaced in tests
var enumerate = enumerator.GetDetailedPortsList

// Config for the system USB host
type Config struct {
	PollInterval        time.Duration `json:"poll_interval"`
	AutoGrantPermission bool          `json:"auto_grant_permission"`
	NotificationBuffer  int           `json:"notification_buffer"`
}

// SystemHost implements Host on top of the OS serial port enumeration
type SystemHost struct {
	logger        *zap.Logger
	config        *Config
	notifications chan Notification
	permissions   *PermissionBroker
}

// NewSystemHost creates a host backed by the OS enumerator
func NewSystemHost(logger *zap.Logger, config *Config) *SystemHost {
	if config == nil {
		config = &Config{
			PollInterval:       time.Second,
			NotificationBuffer: 64,
		}
	}
	if config.NotificationBuffer <= 0 {
		config.NotificationBuffer = 64
	}
	if config.PollInterval <= 0 {
		config.PollInterval = time.Second
	}

	notifications := make(chan Notification, config.NotificationBuffer)
	hostLogger := logger.With(zap.String("component", "usb-host"))

	return &SystemHost{
		logger:        hostLogger,
		config:        config,
		notifications: notifications,
		permissions:   NewPermissionBroker(hostLogger, notifications, config.AutoGrantPermission),
	}
}

// ListDevices returns the attached USB serial ports sorted by system name
func (h *SystemHost) ListDevices() ([]model.DeviceDescriptor, error) {
	ports, err := enumerate()
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate serial ports: %w", err)
	}

	devices := make([]model.DeviceDescriptor, 0, len(ports))
	for _, port := range ports {
		if port == nil || !port.IsUSB {
			continue
		}

		vid, err := parseUSBID(port.VID)
		if err != nil {
			h.logger.Debug("Skipping port with unreadable vendor id",
				zap.String("port", port.Name),
				zap.String("vid", port.VID),
			)
			continue
		}
		pid, err := parseUSBID(port.PID)
		if err != nil {
			h.logger.Debug("Skipping port with unreadable product id",
				zap.String("port", port.Name),
				zap.String("pid", port.PID),
			)
			continue
		}

		devices = append(devices, model.DeviceDescriptor{
			SystemName:   port.Name,
			VendorID:     vid,
			ProductID:    pid,
			SerialNumber: port.SerialNumber,
			Product:      port.Product,
		})
	}

	sort.Slice(devices, func(i, j int) bool {
		return devices[i].SystemName < devices[j].SystemName
	})

	return devices, nil
}

// RequestPermission forwards to the permission broker
func (h *SystemHost) RequestPermission(device model.DeviceDescriptor) {
	h.permissions.Request(device)
}

// Notifications delivers attach, detach and permission signals
func (h *SystemHost) Notifications() <-chan Notification {
	return h.notifications
}

// Run watches for attach and detach until ctx is cancelled
func (h *SystemHost) Run(ctx context.Context) error {
	watcher := NewWatcher(h.logger, h.ListDevices, h.config.PollInterval)
	return watcher.Run(ctx, h.notifications)
}

// parseUSBID parses a 16 bit hex id with or without 0x prefix
func parseUSBID(hexStr string) (uint16, error) {
	hexStr = strings.TrimPrefix(strings.TrimPrefix(hexStr, "0x"), "0X")
	id, err := strconv.ParseUint(hexStr, 16, 16)
	if err != nil {
		return 0, err
	}
	return uint16(id), nil
}
