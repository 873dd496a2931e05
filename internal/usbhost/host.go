// internal/usbhost/host.go
package usbhost

import (
	"fmt"

	"usb-serial-service/internal/model"
)

// NotificationKind identifies an asynchronous signal from the OS USB layer
type NotificationKind int

const (
	NotificationAttached NotificationKind = iota
	NotificationDetached
	NotificationPermission
)

func (k NotificationKind) String() string {
	switch k {
	case NotificationAttached:
		return "attached"
	case NotificationDetached:
		return "detached"
	case NotificationPermission:
		return "permission"
	default:
		return fmt.Sprintf("NotificationKind(%d)", int(k))
	}
}

// Notification is one attach, detach or permission result signal
type Notification struct {
	Kind    NotificationKind
	Device  model.DeviceDescriptor
	Granted bool
}

// Host is the OS-level USB stack as seen by the connection controller
type Host interface {
	// ListDevices returns the currently attached USB serial devices
	ListDevices() ([]model.DeviceDescriptor, error)
	// RequestPermission returns immediately; the decision is delivered later
	// as a NotificationPermission on Notifications.
	RequestPermission(device model.DeviceDescriptor)
	// Notifications delivers attach, detach and permission signals
	Notifications() <-chan Notification
}
