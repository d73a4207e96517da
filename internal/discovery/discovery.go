package discovery

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/grandcat/zeroconf"

	"github.com/nerrad567/openfan-core/internal/fan"
)

// Engine defaults.
const (
	defaultWorkers          = 2
	defaultServiceType      = "_http._tcp"
	defaultDomain           = "local."
	defaultPort             = 80
	defaultFetchTimeout     = 3 * time.Second
	defaultRebrowseInterval = time.Minute
	defaultStaleTimeout     = 3 * time.Minute

	// jobBuffer bounds queued announcements awaiting a worker.
	// A burst larger than this blocks the browse consumer briefly rather
	// than growing without bound.
	jobBuffer = 16
)

// Config holds configuration for the discovery engine.
type Config struct {
	// ServiceType is the DNS-SD service type to browse.
	ServiceType string

	// Domain is the mDNS browse domain.
	Domain string

	// InstancePrefix filters announcements. Instances not starting with
	// this prefix are ignored silently.
	InstancePrefix string

	// Workers is the size of the announcement-processing pool.
	Workers int

	// DefaultPort is used when an announcement carries no port.
	DefaultPort int

	// FetchTimeout bounds the initial best-effort status fetch.
	FetchTimeout time.Duration

	// RebrowseInterval bounds one browse session. Each session runs a
	// fresh resolver, so announcements suppressed by the previous
	// session's dedup cache flow again and refresh last-seen times.
	RebrowseInterval time.Duration

	// StaleTimeout evicts a device whose announcements stop arriving.
	// Must comfortably exceed RebrowseInterval so a device survives a
	// missed session.
	StaleTimeout time.Duration
}

// Registry is the subset of fan.Registry the engine mutates.
type Registry interface {
	Get(serial string) (fan.Fan, error)
	Serials() []string
	Upsert(f fan.Fan) bool
	Remove(serial string) bool
}

// StatusFetcher performs the initial status fetch for a new device.
// Satisfied by *fan.Client.
type StatusFetcher interface {
	Status(ctx context.Context, f fan.Fan) (fan.Status, error)
}

// Logger defines the logging interface used by the engine.
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

// browseFunc matches the zeroconf browse signature. It must return once
// ctx is cancelled and must not close the entries channel; the browse
// loop reuses it across sessions.
type browseFunc func(ctx context.Context, serviceType, domain string, entries chan<- *zeroconf.ServiceEntry) error

// Engine listens for mDNS service announcements, filters them to the fan
// device namespace, and keeps the registry in sync.
//
// Announcement processing (address resolution plus the initial status
// fetch) runs in a bounded worker pool so one slow or unreachable device
// never delays processing of other announcements. Removal announcements
// are handled inline; they touch no network.
//
// Browsing runs in bounded sessions so devices are re-heard regularly,
// and a sweeper evicts devices whose announcements stop arriving for
// StaleTimeout. Departure therefore does not depend on goodbye packets,
// which resolvers routinely swallow.
//
// Start and Stop are idempotent and safe for concurrent use.
type Engine struct {
	cfg      Config
	registry Registry
	fetcher  StatusFetcher
	logger   Logger

	// browse is replaceable for tests; the default browses via a real
	// zeroconf resolver.
	browse browseFunc

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool

	// lastSeen records when each serial last announced itself. Devices
	// not refreshed within StaleTimeout are evicted, since mDNS goodbye
	// packets cannot be relied on to arrive.
	seenMu   sync.Mutex
	lastSeen map[string]time.Time
}

// New creates a discovery engine. Zero-value config fields fall back to
// the OpenFan defaults.
func New(cfg Config, registry Registry, fetcher StatusFetcher) *Engine {
	if cfg.ServiceType == "" {
		cfg.ServiceType = defaultServiceType
	}
	if cfg.Domain == "" {
		cfg.Domain = defaultDomain
	}
	if cfg.Workers < 1 {
		cfg.Workers = defaultWorkers
	}
	if cfg.DefaultPort < 1 {
		cfg.DefaultPort = defaultPort
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = defaultFetchTimeout
	}
	if cfg.RebrowseInterval <= 0 {
		cfg.RebrowseInterval = defaultRebrowseInterval
	}
	if cfg.StaleTimeout <= 0 {
		cfg.StaleTimeout = defaultStaleTimeout
	}

	e := &Engine{
		cfg:      cfg,
		registry: registry,
		fetcher:  fetcher,
		logger:   noopLogger{},
		lastSeen: make(map[string]time.Time),
	}
	e.browse = e.zeroconfBrowse
	return e
}

// SetLogger sets the logger for the engine.
func (e *Engine) SetLogger(logger Logger) {
	e.logger = logger
}

// Start begins listening for service announcements.
// Calling Start on a running engine is a no-op.
func (e *Engine) Start(ctx context.Context) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.running {
		return
	}

	var engineCtx context.Context
	engineCtx, e.cancel = context.WithCancel(ctx)
	e.running = true

	// A stop/start gap must not count against the staleness window.
	now := time.Now()
	e.seenMu.Lock()
	for serial := range e.lastSeen {
		e.lastSeen[serial] = now
	}
	e.seenMu.Unlock()

	entries := make(chan *zeroconf.ServiceEntry, jobBuffer)
	jobs := make(chan *zeroconf.ServiceEntry, jobBuffer)

	// Worker pool: resolution and the initial status fetch happen here,
	// off the browse consumer's critical path.
	for i := 0; i < e.cfg.Workers; i++ {
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			for entry := range jobs {
				e.processAnnouncement(engineCtx, entry)
			}
		}()
	}

	// Browse consumer: filters, triages removals inline, queues the rest.
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		defer close(jobs)
		for entry := range entries {
			if entry == nil || !strings.HasPrefix(entry.Instance, e.cfg.InstancePrefix) {
				continue
			}
			if entry.TTL == 0 {
				e.processRemoval(entry)
				continue
			}
			select {
			case jobs <- entry:
			case <-engineCtx.Done():
				return
			}
		}
	}()

	// Browse loop: each session is bounded by RebrowseInterval so a
	// fresh resolver re-hears every device on the next pass. Resolver
	// dedup within one session would otherwise suppress re-announcements
	// and starve the staleness tracking. Failed sessions back off briefly.
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		defer close(entries)
		for {
			sessionCtx, cancel := context.WithTimeout(engineCtx, e.cfg.RebrowseInterval)
			err := e.browse(sessionCtx, e.cfg.ServiceType, e.cfg.Domain, entries)
			cancel()
			if err != nil {
				e.logger.Error("mDNS browse failed", "error", err)
				select {
				case <-engineCtx.Done():
					return
				case <-time.After(time.Second):
					// brief backoff before re-browsing
				}
				continue
			}
			select {
			case <-engineCtx.Done():
				return
			default:
			}
		}
	}()

	// Stale sweeper: evicts devices whose announcements stopped.
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		tick := e.cfg.StaleTimeout / 4
		if tick <= 0 {
			tick = time.Second
		}
		ticker := time.NewTicker(tick)
		defer ticker.Stop()
		for {
			select {
			case <-engineCtx.Done():
				return
			case <-ticker.C:
				e.sweepStale()
			}
		}
	}()

	e.logger.Info("discovery started",
		"service", e.cfg.ServiceType,
		"prefix", e.cfg.InstancePrefix,
		"workers", e.cfg.Workers,
	)
}

// Stop ceases listening and releases all discovery resources.
// Safe to call when not running, and safe to call repeatedly.
// In-flight initial fetches are abandoned via context cancellation.
func (e *Engine) Stop() {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return
	}
	e.running = false
	cancel := e.cancel
	e.mu.Unlock()

	cancel()
	e.wg.Wait()
	e.logger.Info("discovery stopped")
}

// Restart stops and starts the engine, re-browsing from scratch.
// Used by the manual refresh operation.
func (e *Engine) Restart(ctx context.Context) {
	e.Stop()
	e.Start(ctx)
}

// zeroconfBrowse is the production browse implementation.
// The resolver is created fresh per call so a Restart gets clean sockets.
func (e *Engine) zeroconfBrowse(ctx context.Context, serviceType, domain string, entries chan<- *zeroconf.ServiceEntry) error {
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return err
	}

	raw := make(chan *zeroconf.ServiceEntry, jobBuffer)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for entry := range raw {
			select {
			case entries <- entry:
			case <-ctx.Done():
			}
		}
	}()

	if err := resolver.Browse(ctx, serviceType, domain, raw); err != nil {
		return err
	}

	<-ctx.Done()
	<-done
	return nil
}

// sweepStale evicts registered devices whose last announcement is older
// than StaleTimeout. Goodbye packets are not delivered reliably, so this
// is the removal path that actually fires in production.
func (e *Engine) sweepStale() {
	cutoff := time.Now().Add(-e.cfg.StaleTimeout)
	for _, serial := range e.registry.Serials() {
		e.seenMu.Lock()
		seen, tracked := e.lastSeen[serial]
		if !tracked {
			// Registered before tracking began; grant a full window.
			e.lastSeen[serial] = time.Now()
			e.seenMu.Unlock()
			continue
		}
		e.seenMu.Unlock()

		if seen.After(cutoff) {
			continue
		}

		e.seenMu.Lock()
		delete(e.lastSeen, serial)
		e.seenMu.Unlock()
		if e.registry.Remove(serial) {
			e.logger.Info("stale device evicted",
				"serial", serial,
				"last_seen", seen.Format(time.RFC3339),
			)
		}
	}
}

// markSeen refreshes a serial's staleness clock.
func (e *Engine) markSeen(serial string) {
	e.seenMu.Lock()
	e.lastSeen[serial] = time.Now()
	e.seenMu.Unlock()
}

// processAnnouncement resolves one matching announcement into a registry
// entry, performing the initial status fetch for first sightings.
func (e *Engine) processAnnouncement(ctx context.Context, entry *zeroconf.ServiceEntry) {
	serial := strings.TrimPrefix(entry.Instance, e.cfg.InstancePrefix)
	if serial == "" {
		return
	}

	// No address yet means not-yet-resolved; a later announcement for the
	// same instance will supply it.
	if len(entry.AddrIPv4) == 0 {
		e.logger.Debug("announcement without address dropped", "instance", entry.Instance)
		return
	}

	e.markSeen(serial)

	f := fan.Fan{
		Serial:  serial,
		Name:    fan.FriendlyName(serial),
		Address: entry.AddrIPv4[0].String(),
		Port:    entry.Port,
	}
	if f.Port < 1 {
		f.Port = e.cfg.DefaultPort
	}

	// Known serials only refresh address/port; no fetch, no duplicate event.
	if _, err := e.registry.Get(serial); err == nil {
		e.registry.Upsert(f)
		return
	}

	// Initial fetch is best-effort: failure still registers the device,
	// which then starts with zero state until the next successful poll.
	fetchCtx, cancel := context.WithTimeout(ctx, e.cfg.FetchTimeout)
	defer cancel()

	if st, err := e.fetcher.Status(fetchCtx, f); err != nil {
		e.logger.Warn("initial status fetch failed",
			"serial", serial,
			"address", f.Address,
			"error", err,
		)
	} else {
		f.ApplyStatus(st)
	}

	select {
	case <-ctx.Done():
		// Engine stopped while fetching; drop the result.
		return
	default:
	}

	e.registry.Upsert(f)
}

// processRemoval deletes a device on a goodbye announcement.
// Unknown serials are ignored. Resolver implementations differ on
// whether goodbyes are ever surfaced; the stale sweeper covers the ones
// that are swallowed.
func (e *Engine) processRemoval(entry *zeroconf.ServiceEntry) {
	serial := strings.TrimPrefix(entry.Instance, e.cfg.InstancePrefix)
	if serial == "" {
		return
	}
	e.seenMu.Lock()
	delete(e.lastSeen, serial)
	e.seenMu.Unlock()
	e.registry.Remove(serial)
}
