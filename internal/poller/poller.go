package poller

import (
	"context"
	"sync"
	"time"

	"github.com/nerrad567/openfan-core/internal/fan"
)

// Poller defaults.
const (
	defaultActiveInterval = 500 * time.Millisecond
	defaultIdleInterval   = 10 * time.Second
)

// Config holds configuration for the poller.
type Config struct {
	// ActiveInterval is the poll cadence while a consumer is watching
	// live state.
	ActiveInterval time.Duration

	// IdleInterval is the background poll cadence.
	IdleInterval time.Duration
}

// Registry is the subset of fan.Registry the poller reads and updates.
type Registry interface {
	All() []fan.Fan
	ApplyStatus(serial string, st fan.Status) bool
}

// StatusFetcher retrieves live status from a device. Satisfied by
// *fan.Client.
type StatusFetcher interface {
	Status(ctx context.Context, f fan.Fan) (fan.Status, error)
}

// Logger defines the logging interface used by the poller.
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

// Poller periodically fetches status from every registered device and
// folds the results into the registry, which emits state-change events
// only when a field actually changed.
//
// Two cadences are supported: a fast one while something is watching
// live state and a slow background one otherwise. SetActive switches
// between them and takes effect on the next tick.
//
// Each cycle snapshots the registry and fetches devices concurrently.
// A device whose previous fetch is still in flight is skipped for the
// cycle rather than queued, so a dead device costs at most one stalled
// fetch, not a growing backlog.
//
// Suspend pauses polling for a grace period so a burst of commands is
// not interleaved with stale reads.
type Poller struct {
	cfg      Config
	registry Registry
	fetcher  StatusFetcher
	logger   Logger

	mu       sync.Mutex
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	running  bool
	active   bool
	pausedTo time.Time

	// inflight tracks serials with a fetch in progress across cycles.
	inflightMu sync.Mutex
	inflight   map[string]struct{}
}

// New creates a poller. Zero-value intervals fall back to the defaults.
func New(cfg Config, registry Registry, fetcher StatusFetcher) *Poller {
	if cfg.ActiveInterval <= 0 {
		cfg.ActiveInterval = defaultActiveInterval
	}
	if cfg.IdleInterval <= 0 {
		cfg.IdleInterval = defaultIdleInterval
	}
	return &Poller{
		cfg:      cfg,
		registry: registry,
		fetcher:  fetcher,
		logger:   noopLogger{},
		inflight: make(map[string]struct{}),
	}
}

// SetLogger sets the logger for the poller.
func (p *Poller) SetLogger(logger Logger) {
	p.logger = logger
}

// Start begins the polling loop. Calling Start on a running poller is a
// no-op.
func (p *Poller) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return
	}

	var loopCtx context.Context
	loopCtx, p.cancel = context.WithCancel(ctx)
	p.running = true

	p.wg.Add(1)
	go p.loop(loopCtx)

	p.logger.Info("poller started",
		"active_interval", p.cfg.ActiveInterval,
		"idle_interval", p.cfg.IdleInterval,
	)
}

// Stop halts the polling loop and waits for in-flight fetches to finish
// or time out. Safe to call when not running, and safe to call
// repeatedly.
func (p *Poller) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	cancel := p.cancel
	p.mu.Unlock()

	cancel()
	p.wg.Wait()
	p.logger.Info("poller stopped")
}

// SetActive switches between the fast and background cadences. The new
// cadence takes effect on the next tick. Safe to call whether or not
// the poller is running.
func (p *Poller) SetActive(active bool) {
	p.mu.Lock()
	changed := p.active != active
	p.active = active
	p.mu.Unlock()

	if changed {
		p.logger.Debug("poll cadence changed", "active", active)
	}
}

// Suspend pauses polling until the grace period elapses. Cycles that
// would start inside the window are skipped; the ticker keeps running.
// Used around bulk commands so their settling is not interleaved with
// reads of pre-command state.
func (p *Poller) Suspend(grace time.Duration) {
	if grace <= 0 {
		return
	}
	until := time.Now().Add(grace)
	p.mu.Lock()
	if until.After(p.pausedTo) {
		p.pausedTo = until
	}
	p.mu.Unlock()
}

// interval returns the cadence for the current activity level.
func (p *Poller) interval() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.active {
		return p.cfg.ActiveInterval
	}
	return p.cfg.IdleInterval
}

// suspended reports whether the current moment falls inside a Suspend
// window.
func (p *Poller) suspended() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return time.Now().Before(p.pausedTo)
}

func (p *Poller) loop(ctx context.Context) {
	defer p.wg.Done()

	timer := time.NewTimer(p.interval())
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			if !p.suspended() {
				p.pollAll(ctx)
			}
			timer.Reset(p.interval())
		}
	}
}

// pollAll launches a status fetch for every registered device and
// returns without waiting; Stop waits for stragglers. Fetch failures
// leave the last known state untouched.
func (p *Poller) pollAll(ctx context.Context) {
	for _, f := range p.registry.All() {
		if !p.claim(f.Serial) {
			// Previous fetch still in flight; skip this cycle.
			continue
		}
		p.wg.Add(1)
		go func(f fan.Fan) {
			defer p.wg.Done()
			defer p.release(f.Serial)
			p.pollOne(ctx, f)
		}(f)
	}
}

func (p *Poller) pollOne(ctx context.Context, f fan.Fan) {
	st, err := p.fetcher.Status(ctx, f)
	if err != nil {
		p.logger.Debug("status poll failed",
			"serial", f.Serial,
			"address", f.Address,
			"error", err,
		)
		return
	}

	select {
	case <-ctx.Done():
		return
	default:
	}

	p.registry.ApplyStatus(f.Serial, st)
}

// claim marks a serial as having a fetch in flight. Returns false when
// one is already running.
func (p *Poller) claim(serial string) bool {
	p.inflightMu.Lock()
	defer p.inflightMu.Unlock()
	if _, busy := p.inflight[serial]; busy {
		return false
	}
	p.inflight[serial] = struct{}{}
	return true
}

func (p *Poller) release(serial string) {
	p.inflightMu.Lock()
	delete(p.inflight, serial)
	p.inflightMu.Unlock()
}
