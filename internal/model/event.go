// internal/model/event.go
package model

import (
	"time"
)

// EventName is the name under which an event is emitted to the embedding
type EventName string

const (
	EventError             EventName = "onError"
	EventConnected         EventName = "onConnected"
	EventDisconnected      EventName = "onDisconnected"
	EventDeviceAttached    EventName = "onDeviceAttached"
	EventDeviceDetached    EventName = "onDeviceDetached"
	EventServiceStarted    EventName = "onServiceStarted"
	EventServiceStopped    EventName = "onServiceStopped"
	EventReadData          EventName = "onReadDataFromPort"
	EventPermissionGranted EventName = "onUsbPermissionGranted"
)

// AllEventNames lists every event the service can emit
var AllEventNames = []EventName{
	EventError,
	EventConnected,
	EventDisconnected,
	EventDeviceAttached,
	EventDeviceDetached,
	EventServiceStarted,
	EventServiceStopped,
	EventReadData,
	EventPermissionGranted,
}

// Event represents one notification to the embedding environment
type Event struct {
	Name      EventName   `json:"name"`
	Payload   interface{} `json:"payload,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// NewEvent stamps an event with the current time
func NewEvent(name EventName, payload interface{}) Event {
	return Event{
		Name:      name,
		Payload:   payload,
		Timestamp: time.Now(),
	}
}

// ServiceStartedPayload is the body of onServiceStarted
type ServiceStartedPayload struct {
	DeviceAttached bool `json:"deviceAttached"`
}

// ReadDataPayload is the body of onReadDataFromPort; Payload holds either
// []int or an uppercase hex string depending on the returned data type.
type ReadDataPayload struct {
	Payload interface{} `json:"payload"`
}
