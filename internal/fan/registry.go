package fan

import "sync"

// Logger defines the logging interface used by the fan package.
// This allows different logging implementations to be used.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Registry is the shared mapping from serial to Fan plus the event bus
// downstream consumers subscribe to.
//
// It is the only shared mutable structure in the system. All reads return
// value copies so callers can never mutate registry state directly; all
// mutation goes through the Apply/Upsert/Remove methods, which maintain
// the state invariants and emit events.
//
// The registry is never persisted. A process restart implies full
// rediscovery.
//
// All public methods are thread-safe.
type Registry struct {
	mu     sync.RWMutex
	fans   map[string]*Fan
	events *bus
	logger Logger
}

// NewRegistry creates an empty fan registry.
func NewRegistry() *Registry {
	return &Registry{
		fans:   make(map[string]*Fan),
		events: newBus(),
		logger: noopLogger{},
	}
}

// SetLogger sets the logger for the registry and its event bus.
func (r *Registry) SetLogger(logger Logger) {
	r.logger = logger
	r.events.logger = logger
}

// Subscribe registers a new event subscriber with the given channel buffer.
// Pass 0 for the default buffer size. Call Unsubscribe to release it.
func (r *Registry) Subscribe(buffer int) *Subscription {
	return r.events.subscribe(buffer)
}

// Unsubscribe removes a subscriber and closes its channel.
// Safe to call more than once.
func (r *Registry) Unsubscribe(sub *Subscription) {
	r.events.unsubscribe(sub)
}

// Get returns a copy of the fan with the given serial.
// Returns ErrNotFound if the serial is unknown.
func (r *Registry) Get(serial string) (Fan, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	f, ok := r.fans[serial]
	if !ok {
		return Fan{}, ErrNotFound
	}
	return *f, nil
}

// All returns a snapshot of every registered fan.
// The copies are detached; mutating them does not touch the registry.
func (r *Registry) All() []Fan {
	r.mu.RLock()
	defer r.mu.RUnlock()

	fans := make([]Fan, 0, len(r.fans))
	for _, f := range r.fans {
		fans = append(fans, *f)
	}
	return fans
}

// Serials returns the serials of every registered fan.
func (r *Registry) Serials() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	serials := make([]string, 0, len(r.fans))
	for s := range r.fans {
		serials = append(serials, s)
	}
	return serials
}

// Count returns the number of registered fans.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.fans)
}

// Upsert inserts a newly discovered fan or refreshes the address and port
// of a known one.
//
// A first sighting inserts the fan and emits DeviceFound. A duplicate
// announcement updates Address/Port in place without re-emitting, so
// downstream consumers never see a second entry for the same serial.
// Concurrent duplicates resolve as last-write-wins.
//
// Returns true if the fan was newly inserted.
func (r *Registry) Upsert(f Fan) bool {
	r.mu.Lock()

	existing, ok := r.fans[f.Serial]
	if ok {
		existing.Address = f.Address
		existing.Port = f.Port
		r.mu.Unlock()
		r.logger.Debug("fan re-announced", "serial", f.Serial, "address", f.Address)
		return false
	}

	stored := f
	r.fans[f.Serial] = &stored
	snapshot := stored
	r.mu.Unlock()

	r.logger.Info("fan registered",
		"serial", f.Serial,
		"name", f.Name,
		"address", f.Address,
		"port", f.Port,
	)
	r.events.publish(Event{
		Type:   EventDeviceFound,
		Serial: f.Serial,
		Fan:    &snapshot,
		Source: SourceDiscovery,
	})
	return true
}

// Remove deletes a fan from the registry and emits DeviceLost.
// Removing an unknown serial is a no-op.
//
// Returns true if the fan was present.
func (r *Registry) Remove(serial string) bool {
	r.mu.Lock()
	_, ok := r.fans[serial]
	if ok {
		delete(r.fans, serial)
	}
	r.mu.Unlock()

	if !ok {
		return false
	}

	r.logger.Info("fan removed", "serial", serial)
	r.events.publish(Event{
		Type:   EventDeviceLost,
		Serial: serial,
	})
	return true
}

// ApplyStatus folds a polled status into the live fan and emits
// StateChanged if any of IsOn, SpeedPercent, RPM actually differ.
// No event fires when nothing changed.
//
// Returns true if the state changed. Unknown serials (removed while the
// fetch was in flight) are ignored; the result is simply dropped.
func (r *Registry) ApplyStatus(serial string, st Status) bool {
	return r.apply(serial, SourcePoll, func(f *Fan) { f.ApplyStatus(st) })
}

// ApplySpeed folds a confirmed speed command into the live fan and emits
// StateChanged if the state differs from the previous confirmed values.
//
// Returns true if the state changed.
func (r *Registry) ApplySpeed(serial string, speed int) bool {
	return r.apply(serial, SourceCommand, func(f *Fan) { f.applySpeed(speed) })
}

// apply runs a state mutation under the write lock, diffing before and
// after so events only fire on real changes.
func (r *Registry) apply(serial, source string, mutate func(*Fan)) bool {
	r.mu.Lock()

	f, ok := r.fans[serial]
	if !ok {
		r.mu.Unlock()
		return false
	}

	before := *f
	mutate(f)
	changed := f.IsOn != before.IsOn ||
		f.SpeedPercent != before.SpeedPercent ||
		f.RPM != before.RPM
	snapshot := *f
	r.mu.Unlock()

	if !changed {
		return false
	}

	r.logger.Debug("fan state changed",
		"serial", serial,
		"source", source,
		"on", snapshot.IsOn,
		"speed", snapshot.SpeedPercent,
		"rpm", snapshot.RPM,
	)
	r.events.publish(Event{
		Type:   EventStateChanged,
		Serial: serial,
		Fan:    &snapshot,
		Source: source,
	})
	return true
}
