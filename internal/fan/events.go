package fan

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// EventType identifies the kind of registry event.
type EventType string

// Registry event types.
const (
	// EventDeviceFound fires when a device is first inserted into the registry.
	// Re-announcements of a known serial do not fire it again.
	EventDeviceFound EventType = "device_found"

	// EventDeviceLost fires when a removal announcement deletes a device.
	EventDeviceLost EventType = "device_lost"

	// EventStateChanged fires when a poll or command changed at least one
	// of IsOn, SpeedPercent, RPM.
	EventStateChanged EventType = "state_changed"
)

// Event sources, recorded so downstream consumers can tell a poll
// correction from a command confirmation.
const (
	SourceDiscovery = "discovery"
	SourcePoll      = "poll"
	SourceCommand   = "command"
)

// Event is a registry change notification delivered to subscribers.
type Event struct {
	// ID uniquely identifies the event.
	ID string `json:"id"`

	// Type is the kind of change.
	Type EventType `json:"type"`

	// Serial identifies the affected device.
	Serial string `json:"serial"`

	// Fan is a snapshot of the device at emission time.
	// Nil for EventDeviceLost.
	Fan *Fan `json:"fan,omitempty"`

	// Source records what caused the change (discovery, poll, command).
	Source string `json:"source,omitempty"`

	// Time is the emission timestamp (UTC).
	Time time.Time `json:"time"`
}

// Subscription is one subscriber's ordered event stream.
//
// Events are delivered in emission order. A subscriber that stops draining
// its channel has further events dropped (not blocked on) once the buffer
// fills; the registry stays responsive regardless of consumer speed.
type Subscription struct {
	id string
	ch chan Event
}

// Events returns the subscriber's receive channel.
// The channel is closed by Unsubscribe.
func (s *Subscription) Events() <-chan Event {
	return s.ch
}

// bus fans registry events out to subscribers.
// Publishing holds the bus lock, so each subscriber observes events in
// emission order.
type bus struct {
	mu     sync.Mutex
	subs   map[string]*Subscription
	logger Logger
}

func newBus() *bus {
	return &bus{
		subs:   make(map[string]*Subscription),
		logger: noopLogger{},
	}
}

func (b *bus) subscribe(buffer int) *Subscription {
	if buffer < 1 {
		buffer = defaultEventBuffer
	}
	sub := &Subscription{
		id: uuid.NewString(),
		ch: make(chan Event, buffer),
	}

	b.mu.Lock()
	b.subs[sub.id] = sub
	b.mu.Unlock()

	return sub
}

func (b *bus) unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}

	b.mu.Lock()
	_, existed := b.subs[sub.id]
	delete(b.subs, sub.id)
	b.mu.Unlock()

	if existed {
		close(sub.ch)
	}
}

// publish delivers an event to every subscriber. A full subscriber buffer
// drops the event for that subscriber only.
func (b *bus) publish(ev Event) {
	ev.ID = uuid.NewString()
	ev.Time = time.Now().UTC()

	b.mu.Lock()
	defer b.mu.Unlock()

	for _, sub := range b.subs {
		select {
		case sub.ch <- ev:
		default:
			b.logger.Warn("event dropped for slow subscriber",
				"type", ev.Type,
				"serial", ev.Serial,
			)
		}
	}
}

// defaultEventBuffer is the per-subscriber channel capacity.
const defaultEventBuffer = 64
