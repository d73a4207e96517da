// OpenFan Core - fan fleet engine
//
// This is the main entry point for the OpenFan engine daemon. It
// discovers OpenFan devices on the local network via mDNS, keeps their
// state synchronised through adaptive polling, and dispatches debounced
// speed commands. State is exposed over a local HTTP/WebSocket API and
// optionally mirrored to MQTT, InfluxDB, and a SQLite history database.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/nerrad567/openfan-core/internal/api"
	"github.com/nerrad567/openfan-core/internal/discovery"
	"github.com/nerrad567/openfan-core/internal/dispatch"
	"github.com/nerrad567/openfan-core/internal/fan"
	"github.com/nerrad567/openfan-core/internal/infrastructure/config"
	"github.com/nerrad567/openfan-core/internal/infrastructure/database"
	"github.com/nerrad567/openfan-core/internal/infrastructure/influxdb"
	"github.com/nerrad567/openfan-core/internal/infrastructure/logging"
	"github.com/nerrad567/openfan-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/openfan-core/internal/poller"
	"github.com/nerrad567/openfan-core/internal/relay"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
//
// Parameters:
//   - ctx: Context for cancellation and shutdown signals
//
// Returns:
//   - error: nil on clean shutdown, or error describing failure
func run(ctx context.Context) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting OpenFan Core",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	// Load configuration
	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	// Reinitialise logger with config settings
	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	// Device registry and HTTP device client
	registry := fan.NewRegistry()
	registry.SetLogger(log)

	client := fan.NewClient(cfg.RequestTimeout())
	client.SetLogger(log)

	// Optional infrastructure components, checked by the health endpoint.
	components := make(map[string]api.HealthChecker)

	// State history database (optional)
	var history fan.StateHistoryRepository
	if cfg.Database.Enabled {
		db, dbErr := database.Open(cfg.Database)
		if dbErr != nil {
			return fmt.Errorf("opening database: %w", dbErr)
		}
		defer func() {
			log.Info("closing database")
			if closeErr := db.Close(); closeErr != nil {
				log.Error("error closing database", "error", closeErr)
			}
		}()
		log.Info("database connected", "path", db.Path())

		history = fan.NewSQLiteStateHistoryRepository(db.DB)
		components["database"] = db
	}

	// MQTT state mirroring (optional)
	var mqttClient *mqtt.Client
	if cfg.MQTT.Enabled {
		mqttClient, err = mqtt.Connect(cfg.MQTT)
		if err != nil {
			return fmt.Errorf("connecting to MQTT: %w", err)
		}
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Host, cfg.MQTT.Port),
			"client_id", cfg.MQTT.ClientID,
		)

		mqttClient.SetOnDisconnect(func(err error) {
			log.Warn("MQTT disconnected", "error", err)
		})
		components["mqtt"] = mqttClient
	}

	// InfluxDB telemetry (optional)
	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(cfg.InfluxDB)
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		influxClient.SetOnError(func(err error) {
			log.Warn("InfluxDB write failed", "error", err)
		})
		log.Info("InfluxDB connected", "url", cfg.InfluxDB.URL, "bucket", cfg.InfluxDB.Bucket)
		components["influxdb"] = influxClient
	}

	// Relay: registry events -> MQTT / InfluxDB / history.
	// Sinks stay nil-typed when disabled so the relay skips them.
	var statePublisher relay.StatePublisher
	if mqttClient != nil {
		statePublisher = mqttClient
	}
	var telemetry relay.TelemetryWriter
	if influxClient != nil {
		telemetry = influxClient
	}
	stateRelay := relay.New(registry, statePublisher, telemetry, history)
	stateRelay.SetLogger(log)
	stateRelay.Start(ctx)
	defer stateRelay.Stop()

	if mqttClient != nil {
		mqttClient.SetOnConnect(func() {
			log.Info("MQTT reconnected, republishing retained state")
			stateRelay.RepublishAll()
		})
		stateRelay.RepublishAll()
	}

	// Poller: adaptive status refresh
	statusPoller := poller.New(poller.Config{
		ActiveInterval: cfg.ActiveInterval(),
		IdleInterval:   cfg.IdleInterval(),
	}, registry, client)
	statusPoller.SetLogger(log)
	statusPoller.Start(ctx)
	defer statusPoller.Stop()

	// Dispatcher: debounced command delivery
	dispatcher := dispatch.New(dispatch.Config{
		DebounceDelay:  cfg.DebounceDelay(),
		RequestTimeout: cfg.RequestTimeout(),
		DefaultSpeed:   cfg.Device.DefaultSpeed,
	}, registry, client, statusPoller)
	dispatcher.SetLogger(log)
	defer dispatcher.Stop()

	// Discovery: mDNS browse with prefix filtering
	engine := discovery.New(discovery.Config{
		ServiceType:      cfg.Discovery.ServiceType,
		Domain:           cfg.Discovery.Domain,
		InstancePrefix:   cfg.Discovery.InstancePrefix,
		Workers:          cfg.Discovery.Workers,
		DefaultPort:      cfg.Device.DefaultPort,
		FetchTimeout:     cfg.RequestTimeout(),
		RebrowseInterval: cfg.RebrowseInterval(),
		StaleTimeout:     cfg.StaleTimeout(),
	}, registry, client)
	engine.SetLogger(log)
	engine.Start(ctx)
	defer engine.Stop()

	// HTTP API and WebSocket event stream
	server, err := api.New(api.Deps{
		Config:     cfg.API,
		WS:         cfg.WebSocket,
		Logger:     log,
		Registry:   registry,
		Dispatcher: dispatcher,
		Discovery:  engine,
		Poller:     statusPoller,
		History:    history,
		Components: components,
		Presets:    cfg.Presets,
		Version:    version,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	if err := server.Start(ctx); err != nil {
		return fmt.Errorf("starting API server: %w", err)
	}
	defer func() {
		if closeErr := server.Close(); closeErr != nil {
			log.Error("error closing API server", "error", closeErr)
		}
	}()

	log.Info("OpenFan Core running",
		"api", fmt.Sprintf("%s:%d", cfg.API.Host, cfg.API.Port),
		"service", cfg.Discovery.ServiceType,
		"prefix", cfg.Discovery.InstancePrefix,
	)

	// Block until shutdown signal
	<-ctx.Done()
	log.Info("shutdown signal received")

	return nil
}

// getConfigPath returns the config file path from the command line,
// the OPENFAN_CONFIG environment variable, or the default.
func getConfigPath() string {
	if len(os.Args) > 1 {
		return os.Args[1]
	}
	if path := os.Getenv("OPENFAN_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}
