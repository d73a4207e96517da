package dispatch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/openfan-core/internal/fan"
)

// Dispatcher defaults.
const (
	defaultDebounceDelay  = 500 * time.Millisecond
	defaultRequestTimeout = 3 * time.Second
	defaultSuspendGrace   = time.Second
)

// Config holds configuration for the dispatcher.
type Config struct {
	// DebounceDelay is how long a device's intent settles before a
	// request is sent. Intents arriving inside the window replace the
	// target and restart it.
	DebounceDelay time.Duration

	// RequestTimeout bounds each device request.
	RequestTimeout time.Duration

	// SuspendGrace is how long polling is paused around a bulk command.
	SuspendGrace time.Duration

	// DefaultSpeed is applied by a power-on when the device has never
	// reported a positive speed. Zero falls back to fan.DefaultSpeed.
	DefaultSpeed int
}

// Registry is the subset of fan.Registry the dispatcher uses.
type Registry interface {
	Get(serial string) (fan.Fan, error)
	Serials() []string
	ApplySpeed(serial string, speed int) bool
}

// Commander sends speed commands to a device. Satisfied by *fan.Client.
type Commander interface {
	SetSpeed(ctx context.Context, f fan.Fan, speed int) (int, error)
}

// PollSuspender pauses background polling. Satisfied by *poller.Poller.
// Optional; a nil suspender disables the pause around bulk commands.
type PollSuspender interface {
	Suspend(grace time.Duration)
}

// Logger defines the logging interface used by the dispatcher.
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

// deviceState is the per-device dispatch state machine.
//
//	idle ──intent──► pending ──timer──► in-flight ──done──► idle
//	                    │▲                  │
//	          intent: retarget      intent: coalesce to one
//	          and restart timer     queued value, sent next
type deviceState struct {
	timer    *time.Timer
	pending  bool
	inflight bool
	target   int
	queued   *int

	// prior is the last confirmed speed before the current episode of
	// intents. A failed request rolls the registry back to it.
	prior int
}

// Dispatcher turns speed intents into device requests, debouncing rapid
// input per device so a slider drag costs one request, not one per
// position.
//
// State per device moves idle → pending → in-flight. An intent during
// pending replaces the target and restarts the debounce timer. An intent
// during in-flight is coalesced: only the latest value is remembered and
// dispatched once the current request finishes. At most one request per
// device is ever outstanding.
//
// Each intent is applied to the registry optimistically so readers see
// the new value immediately. The device's confirmed response corrects
// it if they differ; a failed request rolls the registry back to the
// last confirmed speed, and the next poll settles any remaining drift.
type Dispatcher struct {
	cfg       Config
	registry  Registry
	commander Commander
	suspender PollSuspender
	logger    Logger

	mu      sync.Mutex
	devices map[string]*deviceState
	stopped bool
	wg      sync.WaitGroup
}

// New creates a dispatcher. Zero-value config fields fall back to the
// defaults. suspender may be nil.
func New(cfg Config, registry Registry, commander Commander, suspender PollSuspender) *Dispatcher {
	if cfg.DebounceDelay <= 0 {
		cfg.DebounceDelay = defaultDebounceDelay
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaultRequestTimeout
	}
	if cfg.SuspendGrace <= 0 {
		cfg.SuspendGrace = defaultSuspendGrace
	}
	return &Dispatcher{
		cfg:       cfg,
		registry:  registry,
		commander: commander,
		suspender: suspender,
		logger:    noopLogger{},
		devices:   make(map[string]*deviceState),
	}
}

// SetLogger sets the logger for the dispatcher.
func (d *Dispatcher) SetLogger(logger Logger) {
	d.logger = logger
}

// SetSpeed registers an intent to run the device at the given speed.
// The value is clamped to [0,100] and dispatched after the debounce
// window settles. Returns fan.ErrNotFound for an unknown serial.
func (d *Dispatcher) SetSpeed(serial string, speed int) error {
	if _, err := d.registry.Get(serial); err != nil {
		return err
	}
	d.enqueue(serial, fan.ClampSpeed(speed), d.cfg.DebounceDelay)
	return nil
}

// SetPower turns the device on or off. On restores the last remembered
// positive speed, falling back to the configured default; off sets
// zero. Returns fan.ErrNotFound for an unknown serial.
func (d *Dispatcher) SetPower(serial string, on bool) error {
	f, err := d.registry.Get(serial)
	if err != nil {
		return err
	}
	target := 0
	if on {
		target = f.RestoreSpeed(d.cfg.DefaultSpeed)
	}
	d.enqueue(serial, target, d.cfg.DebounceDelay)
	return nil
}

// Toggle flips the device's power state. Returns fan.ErrNotFound for an
// unknown serial.
func (d *Dispatcher) Toggle(serial string) error {
	f, err := d.registry.Get(serial)
	if err != nil {
		return err
	}
	return d.SetPower(serial, !f.IsOn)
}

// SetAllSpeed dispatches the given speed to every registered device
// without debouncing, pausing background polling so the burst settles
// before the next read. Backs the preset operations.
func (d *Dispatcher) SetAllSpeed(speed int) error {
	if speed < 0 || speed > 100 {
		return fmt.Errorf("dispatch: speed %d out of range [0,100]", speed)
	}

	if d.suspender != nil {
		d.suspender.Suspend(d.cfg.SuspendGrace)
	}

	serials := d.registry.Serials()
	d.logger.Info("bulk speed command", "speed", speed, "devices", len(serials))
	for _, serial := range serials {
		d.enqueue(serial, speed, 0)
	}
	return nil
}

// Stop cancels all pending intents and waits for in-flight requests to
// finish. The dispatcher accepts no further intents afterwards.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return
	}
	d.stopped = true
	for _, ds := range d.devices {
		if ds.pending && ds.timer.Stop() {
			ds.pending = false
			// Timer won't fire; balance the Add made when arming.
			d.wg.Done()
		}
		ds.queued = nil
	}
	d.mu.Unlock()

	d.wg.Wait()
	d.logger.Info("dispatcher stopped")
}

// enqueue feeds one intent into the device's state machine.
func (d *Dispatcher) enqueue(serial string, speed int, delay time.Duration) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		return
	}

	ds, ok := d.devices[serial]
	if !ok {
		ds = &deviceState{}
		d.devices[serial] = ds
	}

	switch {
	case ds.inflight:
		// Coalesce: only the latest intent survives the current request.
		v := speed
		ds.queued = &v
	case ds.pending:
		ds.target = speed
		// Reset only while the callback has not fired. A fired timer's
		// callback is already waiting on the mutex and will read the
		// updated target; resetting it would schedule a second firing
		// against the single Add made when arming.
		if ds.timer.Stop() {
			ds.timer.Reset(delay)
		}
	default:
		f, err := d.registry.Get(serial)
		if err != nil {
			return
		}
		ds.prior = f.SpeedPercent
		d.arm(serial, ds, speed, delay)
	}

	// Optimistic update; corrected on confirmation or rolled back.
	d.registry.ApplySpeed(serial, speed)
}

// arm starts the debounce timer for a device. Caller holds d.mu.
func (d *Dispatcher) arm(serial string, ds *deviceState, speed int, delay time.Duration) {
	ds.pending = true
	ds.target = speed
	d.wg.Add(1)
	ds.timer = time.AfterFunc(delay, func() { d.fire(serial) })
}

// fire moves a device from pending to in-flight, sends the request, and
// dispatches any value queued while it ran.
func (d *Dispatcher) fire(serial string) {
	defer d.wg.Done()

	d.mu.Lock()
	ds, ok := d.devices[serial]
	if !ok || d.stopped || !ds.pending {
		d.mu.Unlock()
		return
	}
	ds.pending = false
	ds.inflight = true
	target := ds.target
	d.mu.Unlock()

	sent, err := d.send(serial, target)

	d.mu.Lock()
	ds.inflight = false
	switch {
	case err != nil:
		// Undo the optimistic update unless a newer intent is queued;
		// its own request will settle the state.
		if ds.queued == nil {
			d.registry.ApplySpeed(serial, ds.prior)
		}
	default:
		ds.prior = sent
		if sent != target {
			// Device confirmed a different value than requested.
			d.registry.ApplySpeed(serial, sent)
		}
	}
	if ds.queued != nil && !d.stopped {
		next := *ds.queued
		ds.queued = nil
		d.arm(serial, ds, next, 0)
	}
	d.mu.Unlock()
}

// send performs one device request and returns the confirmed speed.
func (d *Dispatcher) send(serial string, speed int) (int, error) {
	f, err := d.registry.Get(serial)
	if err != nil {
		// Device vanished between intent and dispatch.
		return 0, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), d.cfg.RequestTimeout)
	defer cancel()

	sent, err := d.commander.SetSpeed(ctx, f, speed)
	if err != nil {
		d.logger.Warn("speed command failed",
			"serial", serial,
			"address", f.Address,
			"speed", speed,
			"error", err,
		)
		return 0, err
	}

	d.logger.Debug("speed command confirmed", "serial", serial, "speed", sent)
	return sent, nil
}
