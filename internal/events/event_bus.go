// internal/events/event_bus.go
package events

import (
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"usb-serial-service/internal/model"
)

// Sink receives every event the service emits. Notify must not block.
type Sink interface {
	Notify(event model.Event)
}

// SinkFunc adapts a function to Sink
type SinkFunc func(event model.Event)

// Notify calls f
func (f SinkFunc) Notify(event model.Event) { f(event) }

// Subscription is one subscriber's view of the bus
type Subscription struct {
	ID     string
	C      <-chan model.Event
	ch     chan model.Event
	filter map[model.EventName]struct{}
}

func (s *Subscription) wants(name model.EventName) bool {
	if len(s.filter) == 0 {
		return true
	}
	_, ok := s.filter[name]
	return ok
}

// EventBus fans events out to subscribers. With no subscribers Notify is a no-op.
type EventBus struct {
	subscribers map[string]*Subscription
	bufferSize  int
	mutex       sync.RWMutex
	logger      *zap.Logger
}

// NewEventBus creates a new event bus
func NewEventBus(logger *zap.Logger, bufferSize int) *EventBus {
	if bufferSize <= 0 {
		bufferSize = 100
	}
	return &EventBus{
		subscribers: make(map[string]*Subscription),
		bufferSize:  bufferSize,
		logger:      logger.With(zap.String("component", "event-bus")),
	}
}

// Notify delivers the event to every interested subscriber without blocking
func (eb *EventBus) Notify(event model.Event) {
	eb.mutex.RLock()
	defer eb.mutex.RUnlock()

	for _, sub := range eb.subscribers {
		if !sub.wants(event.Name) {
			continue
		}
		select {
		case sub.ch <- event:
		default:
			eb.logger.Warn("Subscriber is slow, dropping event",
				zap.String("subscriber", sub.ID),
				zap.String("event", string(event.Name)),
			)
		}
	}
}

// Subscribe registers a subscriber; with no names every event is delivered
func (eb *EventBus) Subscribe(names ...model.EventName) *Subscription {
	ch := make(chan model.Event, eb.bufferSize)
	sub := &Subscription{
		ID: uuid.New().String(),
		C:  ch,
		ch: ch,
	}
	if len(names) > 0 {
		sub.filter = make(map[model.EventName]struct{}, len(names))
		for _, name := range names {
			sub.filter[name] = struct{}{}
		}
	}

	eb.mutex.Lock()
	eb.subscribers[sub.ID] = sub
	eb.mutex.Unlock()

	eb.logger.Debug("Subscriber added", zap.String("subscriber", sub.ID))
	return sub
}

// Unsubscribe removes the subscriber and closes its channel
func (eb *EventBus) Unsubscribe(sub *Subscription) {
	eb.mutex.Lock()
	defer eb.mutex.Unlock()

	if _, ok := eb.subscribers[sub.ID]; !ok {
		return
	}
	delete(eb.subscribers, sub.ID)
	close(sub.ch)

	eb.logger.Debug("Subscriber removed", zap.String("subscriber", sub.ID))
}

// SubscriberCount returns the number of active subscribers
func (eb *EventBus) SubscriberCount() int {
	eb.mutex.RLock()
	defer eb.mutex.RUnlock()
	return len(eb.subscribers)
}

// Close removes every subscriber
func (eb *EventBus) Close() {
	eb.mutex.Lock()
	defer eb.mutex.Unlock()

	for id, sub := range eb.subscribers {
		close(sub.ch)
		delete(eb.subscribers, id)
	}
}
