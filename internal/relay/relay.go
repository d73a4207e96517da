package relay

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/nerrad567/openfan-core/internal/fan"
	"github.com/nerrad567/openfan-core/internal/infrastructure/mqtt"
)

// eventBuffer is the relay's subscription depth. Sinks are slow compared
// to the registry, so the relay takes a deeper buffer than UI consumers.
const eventBuffer = 256

// recordTimeout bounds each history write.
const recordTimeout = 5 * time.Second

// Registry is the subset of fan.Registry the relay consumes.
type Registry interface {
	Subscribe(buffer int) *fan.Subscription
	Unsubscribe(sub *fan.Subscription)
	All() []fan.Fan
}

// StatePublisher mirrors state to an MQTT broker. Satisfied by
// *mqtt.Client. Optional.
type StatePublisher interface {
	PublishRetained(topic string, payload []byte) error
	PublishEvent(topic string, payload []byte) error
}

// TelemetryWriter records time-series readings. Satisfied by
// *influxdb.Client. Optional.
type TelemetryWriter interface {
	WriteFanTelemetry(serial string, rpm, speedPercent int, isOn bool)
	WriteFleetGauge(total, running int)
}

// HistoryRecorder persists state changes. Satisfied by
// *fan.SQLiteStateHistoryRepository. Optional.
type HistoryRecorder interface {
	RecordStateChange(ctx context.Context, serial string, f fan.Fan, source string) error
}

// Logger defines the logging interface used by the relay.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Relay subscribes to registry events and fans them out to the optional
// integration sinks: MQTT state mirroring, InfluxDB telemetry, and the
// state-history database.
//
// Every sink is optional; a nil sink is simply skipped. Sink failures
// are logged and never propagate back into the registry path.
type Relay struct {
	registry  Registry
	publisher StatePublisher
	telemetry TelemetryWriter
	history   HistoryRecorder
	logger    Logger

	topics mqtt.Topics

	mu      sync.Mutex
	sub     *fan.Subscription
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

// New creates a relay. Any of publisher, telemetry, and history may be
// nil to disable that sink.
func New(registry Registry, publisher StatePublisher, telemetry TelemetryWriter, history HistoryRecorder) *Relay {
	return &Relay{
		registry:  registry,
		publisher: publisher,
		telemetry: telemetry,
		history:   history,
		logger:    noopLogger{},
	}
}

// SetLogger sets the logger for the relay.
func (r *Relay) SetLogger(logger Logger) {
	r.logger = logger
}

// Start subscribes to the registry and begins forwarding events.
// Calling Start on a running relay is a no-op.
func (r *Relay) Start(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.running {
		return
	}

	var loopCtx context.Context
	loopCtx, r.cancel = context.WithCancel(ctx)
	r.sub = r.registry.Subscribe(eventBuffer)
	r.running = true

	r.wg.Add(1)
	go r.loop(loopCtx, r.sub)

	r.logger.Info("relay started",
		"mqtt", r.publisher != nil,
		"influxdb", r.telemetry != nil,
		"history", r.history != nil,
	)
}

// Stop unsubscribes and waits for the forwarding loop to drain.
// Safe to call when not running, and safe to call repeatedly.
func (r *Relay) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.running = false
	cancel := r.cancel
	sub := r.sub
	r.sub = nil
	r.mu.Unlock()

	cancel()
	r.registry.Unsubscribe(sub)
	r.wg.Wait()
	r.logger.Info("relay stopped")
}

// RepublishAll pushes the retained state of every registered device.
// Wired to the MQTT client's OnConnect callback so a broker that lost
// its retained messages is rebuilt after a reconnect.
func (r *Relay) RepublishAll() {
	if r.publisher == nil {
		return
	}
	for _, f := range r.registry.All() {
		r.publishState(&f)
	}
}

func (r *Relay) loop(ctx context.Context, sub *fan.Subscription) {
	defer r.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub.Events():
			if !ok {
				return
			}
			r.forward(ctx, ev)
		}
	}
}

// forward fans one event out to every configured sink.
func (r *Relay) forward(ctx context.Context, ev fan.Event) {
	switch ev.Type {
	case fan.EventDeviceFound, fan.EventStateChanged:
		if ev.Fan == nil {
			return
		}
		r.publishState(ev.Fan)
		if ev.Type == fan.EventDeviceFound {
			r.publishLifecycle(ev)
		}
		if r.telemetry != nil {
			r.telemetry.WriteFanTelemetry(ev.Fan.Serial, ev.Fan.RPM, ev.Fan.SpeedPercent, ev.Fan.IsOn)
		}
		r.recordHistory(ctx, ev)

	case fan.EventDeviceLost:
		r.clearState(ev.Serial)
		r.publishLifecycle(ev)
	}

	if ev.Type != fan.EventStateChanged {
		r.publishFleetGauge()
	}
}

// publishState mirrors one device's state as a retained message.
func (r *Relay) publishState(f *fan.Fan) {
	if r.publisher == nil {
		return
	}

	payload, err := json.Marshal(f)
	if err != nil {
		r.logger.Error("state payload marshal failed", "serial", f.Serial, "error", err)
		return
	}

	if err := r.publisher.PublishRetained(r.topics.FanState(f.Serial), payload); err != nil {
		r.logger.Warn("state publish failed", "serial", f.Serial, "error", err)
	}
}

// clearState removes a lost device's retained state message.
// An empty retained payload deletes the retained message on the broker.
func (r *Relay) clearState(serial string) {
	if r.publisher == nil {
		return
	}
	if err := r.publisher.PublishRetained(r.topics.FanState(serial), nil); err != nil {
		r.logger.Warn("state clear failed", "serial", serial, "error", err)
	}
}

// publishLifecycle announces a found/lost event, non-retained.
func (r *Relay) publishLifecycle(ev fan.Event) {
	if r.publisher == nil {
		return
	}

	payload, err := json.Marshal(ev)
	if err != nil {
		r.logger.Error("event payload marshal failed", "serial", ev.Serial, "error", err)
		return
	}

	if err := r.publisher.PublishEvent(r.topics.FanEvent(ev.Serial, string(ev.Type)), payload); err != nil {
		r.logger.Warn("event publish failed", "serial", ev.Serial, "error", err)
	}
}

// publishFleetGauge records fleet-level counts after membership changes.
func (r *Relay) publishFleetGauge() {
	if r.telemetry == nil {
		return
	}

	fans := r.registry.All()
	running := 0
	for _, f := range fans {
		if f.IsOn {
			running++
		}
	}
	r.telemetry.WriteFleetGauge(len(fans), running)
}

// recordHistory persists one state change to the history database.
func (r *Relay) recordHistory(ctx context.Context, ev fan.Event) {
	if r.history == nil || ev.Fan == nil {
		return
	}

	recordCtx, cancel := context.WithTimeout(ctx, recordTimeout)
	defer cancel()

	if err := r.history.RecordStateChange(recordCtx, ev.Serial, *ev.Fan, ev.Source); err != nil {
		r.logger.Warn("history record failed", "serial", ev.Serial, "error", err)
	}
}
