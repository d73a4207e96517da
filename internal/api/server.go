// Package api provides the HTTP REST API and WebSocket server for the
// OpenFan engine.
//
// It exposes the fan registry, speed/power commands, presets, discovery
// refresh, and a real-time event stream to user interfaces (tray apps,
// dashboards, mobile clients).
//
// The server follows the same lifecycle pattern as other infrastructure
// components:
//
//	server, err := api.New(deps)
//	server.Start(ctx)
//	defer server.Close()
//
// Thread Safety: All methods are safe for concurrent use from multiple goroutines.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/nerrad567/openfan-core/internal/fan"
	"github.com/nerrad567/openfan-core/internal/infrastructure/config"
	"github.com/nerrad567/openfan-core/internal/infrastructure/logging"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// CommandDispatcher issues fan commands. Satisfied by *dispatch.Dispatcher.
type CommandDispatcher interface {
	SetSpeed(serial string, speed int) error
	SetPower(serial string, on bool) error
	Toggle(serial string) error
	SetAllSpeed(speed int) error
}

// DiscoveryRestarter re-runs device discovery from scratch. Satisfied by
// *discovery.Engine.
type DiscoveryRestarter interface {
	Restart(ctx context.Context)
}

// PollActivator switches the poll cadence. Satisfied by *poller.Poller.
type PollActivator interface {
	SetActive(active bool)
}

// HealthChecker reports the health of one infrastructure component.
// Satisfied by the mqtt, influxdb, and database clients.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config     config.API
	WS         config.WebSocket
	Logger     *logging.Logger
	Registry   *fan.Registry
	Dispatcher CommandDispatcher
	Discovery  DiscoveryRestarter               // optional: refresh endpoint returns 503 when nil
	Poller     PollActivator                    // optional: cadence stays idle when nil
	History    fan.StateHistoryRepository       // optional: history endpoint returns 503 when nil
	Components map[string]HealthChecker         // optional: checked by the health endpoint
	Presets    []int
	Version    string
}

// Server is the HTTP API server for the OpenFan engine.
//
// It manages the HTTP listener, routes, middleware, and WebSocket hub.
// The server is created with New() and started with Start().
type Server struct {
	cfg        config.API
	wsCfg      config.WebSocket
	logger     *logging.Logger
	registry   *fan.Registry
	dispatcher CommandDispatcher
	discovery  DiscoveryRestarter
	poller     PollActivator
	history    fan.StateHistoryRepository
	components map[string]HealthChecker
	presets    []int
	version    string

	server *http.Server
	hub    *Hub
	srvCtx context.Context
	cancel context.CancelFunc
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called.
//
// Parameters:
//   - deps: Required dependencies (config, logger, registry, dispatcher)
//
// Returns:
//   - *Server: Configured server ready to start
//   - error: If required dependencies are missing
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Registry == nil {
		return nil, fmt.Errorf("fan registry is required")
	}
	if deps.Dispatcher == nil {
		return nil, fmt.Errorf("command dispatcher is required")
	}

	return &Server{
		cfg:        deps.Config,
		wsCfg:      deps.WS,
		logger:     deps.Logger,
		registry:   deps.Registry,
		dispatcher: deps.Dispatcher,
		discovery:  deps.Discovery,
		poller:     deps.Poller,
		history:    deps.History,
		components: deps.Components,
		presets:    deps.Presets,
		version:    deps.Version,
	}, nil
}

// Start begins listening for HTTP connections.
//
// It sets up the router, starts the WebSocket hub, subscribes to registry
// events for real-time broadcast, and launches the HTTP listener in a
// background goroutine. The server can be stopped with Close().
//
// Parameters:
//   - ctx: Context for background goroutines (not the listener lifetime)
//
// Returns:
//   - error: If the server fails to start
func (s *Server) Start(ctx context.Context) error {
	// Internal context so Close() can stop background goroutines
	// independently of the parent context.
	s.srvCtx, s.cancel = context.WithCancel(ctx)

	s.hub = NewHub(s.wsCfg, s.logger)
	s.hub.SetOnClientCountChange(s.handleClientCountChange)
	go s.hub.Run(s.srvCtx)

	go s.broadcastRegistryEvents(s.srvCtx)

	router := s.buildRouter()

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           router,
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	go func() {
		s.logger.Info("API server starting", "address", s.server.Addr)
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Close gracefully shuts down the API server.
//
// It waits up to 10 seconds for in-flight requests to complete,
// then forcefully closes remaining connections.
//
// Returns:
//   - error: If shutdown encounters an error
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}

	if s.cancel != nil {
		s.cancel()
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// broadcastRegistryEvents relays registry events to WebSocket clients.
func (s *Server) broadcastRegistryEvents(ctx context.Context) {
	sub := s.registry.Subscribe(0)
	defer s.registry.Unsubscribe(sub)

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub.Events():
			if !ok {
				return
			}
			s.hub.Broadcast("fan."+string(ev.Type), ev)
		}
	}
}

// handleClientCountChange switches the poll cadence with WebSocket demand:
// any connected client means someone is watching live state.
func (s *Server) handleClientCountChange(count int) {
	if s.poller == nil {
		return
	}
	s.poller.SetActive(count > 0)
}
