// riolink - Russound RIO to MQTT bridge
//
// This is the main entry point for the riolink daemon. It maintains a
// resilient session to one Russound controller over RIO/TCP, mirrors
// zone state, and exposes it to the host platform over MQTT:
//
//	host platform <--MQTT--> riolink <--RIO/TCP--> Russound controller
//
// A small read-only HTTP API serves bridge health and mirrored state
// for local diagnostics.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/atward/riolink/internal/api"
	"github.com/atward/riolink/internal/bridge"
	"github.com/atward/riolink/internal/infrastructure/config"
	"github.com/atward/riolink/internal/infrastructure/database"
	"github.com/atward/riolink/internal/infrastructure/influxdb"
	"github.com/atward/riolink/internal/infrastructure/logging"
	"github.com/atward/riolink/internal/infrastructure/mqtt"
	"github.com/atward/riolink/internal/rio"
	"github.com/atward/riolink/internal/session"
	"github.com/atward/riolink/internal/store"
	"github.com/atward/riolink/internal/zone"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

// initTimeout bounds startup work (schema creation, health checks).
const initTimeout = 30 * time.Second

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
// Returning an error allows main to handle exit codes consistently.
//
// Parameters:
//   - ctx: Context for cancellation and shutdown signals
//
// Returns:
//   - error: nil on clean shutdown, or error describing failure
func run(ctx context.Context) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting riolink",
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

	// Open database
	db, err := database.Open(database.Config{
		Path:        cfg.Database.Path,
		WALMode:     cfg.Database.WALMode,
		BusyTimeout: cfg.Database.BusyTimeout,
	})
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()
	log.Info("database connected", "path", cfg.Database.Path)

	// Create schema and open the snapshot store
	initCtx, initCancel := context.WithTimeout(ctx, initTimeout)
	defer initCancel()

	repo := store.NewSQLiteStore(db)
	if initErr := repo.Init(initCtx); initErr != nil {
		return fmt.Errorf("initialising store: %w", initErr)
	}
	log.Info("store initialised")

	// Connect to MQTT broker
	mqttClient, err := mqtt.Connect(cfg.MQTT)
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
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
		"client_id", cfg.MQTT.Broker.ClientID,
	)

	mqttClient.SetLogger(log)
	mqttClient.SetOnConnect(func() {
		log.Info("MQTT reconnected")
	})
	mqttClient.SetOnDisconnect(func(err error) {
		log.Warn("MQTT disconnected", "error", err)
	})

	// Connect to InfluxDB (optional)
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
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)

		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
	} else {
		log.Info("InfluxDB disabled")
	}

	// Build the device session
	registry := zone.NewRegistry(cfg.Device.Zones, cfg.Device.Sources)
	sess := session.New(session.Config{
		ControllerID:      cfg.Device.ControllerID,
		Zones:             cfg.Device.Zones,
		Sources:           cfg.Device.Sources,
		KeepaliveInterval: cfg.GetKeepaliveInterval(),
		Backoff: session.Backoff{
			Initial: cfg.GetInitialDelay(),
			Max:     cfg.GetMaxDelay(),
		},
	}, session.RIODialer(rio.Config{
		Host:           cfg.Device.Host,
		Port:           cfg.Device.Port,
		ConnectTimeout: cfg.GetConnectTimeout(),
	}, log), registry)
	sess.SetLogger(log)

	// Start the bridge: MQTT contract on one side, session on the other
	riolinkBridge, err := startBridge(ctx, sess, mqttClient, repo, influxClient, log)
	if err != nil {
		return fmt.Errorf("starting bridge: %w", err)
	}
	defer func() {
		log.Info("stopping bridge")
		riolinkBridge.Stop()
	}()

	// Start the status API (if enabled)
	if cfg.API.Enabled {
		apiServer, apiErr := startAPI(ctx, cfg, log, sess, repo)
		if apiErr != nil {
			return fmt.Errorf("starting API server: %w", apiErr)
		}
		defer func() {
			log.Info("stopping API server")
			if closeErr := apiServer.Close(); closeErr != nil {
				log.Error("error closing API server", "error", closeErr)
			}
		}()
	} else {
		log.Info("API server disabled")
	}

	// Verify infrastructure connections are healthy
	if err := healthCheck(initCtx, db, mqttClient, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	log.Info("initialisation complete, waiting for shutdown signal")

	// Wait for shutdown signal
	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")

	// Deferred Close() calls run in reverse order:
	// 1. API server (if enabled)
	// 2. Bridge (disconnects the session, publishes offline)
	// 3. InfluxDB (if enabled)
	// 4. MQTT
	// 5. Database

	log.Info("riolink stopped")
	return nil
}

// getConfigPath returns the configuration file path.
// Uses RIOLINK_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("RIOLINK_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// healthCheck verifies all infrastructure connections are healthy.
//
// The device link is deliberately excluded: the bridge starts with the
// controller unreachable and the supervisor brings the session up when
// the controller appears.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//   - db: Database connection to check
//   - mqttClient: MQTT client to check
//   - influxClient: InfluxDB client to check (may be nil if disabled)
//
// Returns:
//   - error: First health check failure, or nil if all healthy
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client) error {
	if err := db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}

	if err := mqttClient.HealthCheck(ctx); err != nil {
		return fmt.Errorf("mqtt: %w", err)
	}

	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}

	return nil
}

// startBridge wires the session into the MQTT contract and starts it.
//
// Parameters:
//   - ctx: Context for startup/cancellation
//   - sess: Device session (disconnected; the bridge arms the supervisor)
//   - mqttClient: MQTT client for publishing/subscribing
//   - repo: Snapshot store for zone state and session events
//   - influxClient: Telemetry sink (may be nil if disabled)
//   - log: Logger instance
//
// Returns:
//   - *bridge.Bridge: Running bridge
//   - error: If the bridge fails to start
func startBridge(ctx context.Context, sess *session.Session, mqttClient *mqtt.Client, repo store.Repository, influxClient *influxdb.Client, log *logging.Logger) (*bridge.Bridge, error) {
	opts := bridge.Options{
		MQTT:    mqttClient,
		Session: sess,
		Store:   repo,
		Logger:  log,
		Version: version,
	}
	// A nil *influxdb.Client must stay a nil interface value.
	if influxClient != nil {
		opts.Metrics = influxClient
	}

	b, err := bridge.New(opts)
	if err != nil {
		return nil, fmt.Errorf("creating bridge: %w", err)
	}

	if err := b.Start(ctx); err != nil {
		return nil, fmt.Errorf("starting bridge: %w", err)
	}
	log.Info("bridge started")

	return b, nil
}

// startAPI creates and starts the read-only status HTTP server.
//
// Parameters:
//   - ctx: Context for startup
//   - cfg: Application configuration
//   - log: Logger instance
//   - sess: Device session for state and metrics
//   - repo: Snapshot store for the event log endpoint
//
// Returns:
//   - *api.Server: Running API server
//   - error: If the server fails to start
func startAPI(ctx context.Context, cfg *config.Config, log *logging.Logger, sess *session.Session, repo store.Repository) (*api.Server, error) {
	server, err := api.New(api.Deps{
		Config:  cfg.API,
		Logger:  log,
		Session: sess,
		Store:   repo,
		Version: version,
	})
	if err != nil {
		return nil, fmt.Errorf("creating API server: %w", err)
	}

	if err := server.Start(ctx); err != nil {
		return nil, fmt.Errorf("starting API server: %w", err)
	}
	log.Info("API server started", "address", fmt.Sprintf("%s:%d", cfg.API.Host, cfg.API.Port))

	return server, nil
}
