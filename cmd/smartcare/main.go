// SmartCare Bridge - device state polling bridge
//
// This is the main entry point for the SmartCare bridge. It polls a
// SmartCare hub's JSON device list, resolves the state of each configured
// channel and publishes it over MQTT:
//   - Resolved channel states (colour, on/off, percent, play/pause, UNDEF)
//   - Upstream ONLINE/OFFLINE status
//   - Refresh on request over MQTT or the status API
//
// For the payload format and resolution order, see internal/bridges/smartcare.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	_ "github.com/nerrad567/smartcare-bridge/migrations"

	"github.com/nerrad567/smartcare-bridge/internal/api"
	"github.com/nerrad567/smartcare-bridge/internal/bridges/smartcare"
	"github.com/nerrad567/smartcare-bridge/internal/device"
	"github.com/nerrad567/smartcare-bridge/internal/infrastructure/config"
	"github.com/nerrad567/smartcare-bridge/internal/infrastructure/database"
	"github.com/nerrad567/smartcare-bridge/internal/infrastructure/influxdb"
	"github.com/nerrad567/smartcare-bridge/internal/infrastructure/logging"
	"github.com/nerrad567/smartcare-bridge/internal/infrastructure/mqtt"
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

func main() {
	// A missing .env file is normal outside development.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "Warning: reading .env: %v\n", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the application logic, separated from main for testability.
//
// Parameters:
//   - ctx: Context for cancellation and shutdown signals
//
// Returns:
//   - error: nil on clean shutdown, or error describing failure
func run(ctx context.Context) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting SmartCare bridge",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	db, err := database.Open(ctx, database.Config{
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

	if migrateErr := db.Migrate(ctx); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database migrations complete")

	historyRepo := device.NewSQLiteStateHistoryRepository(db.DB)

	var bridgeCfg *smartcare.Config
	if cfg.Protocols.SmartCare.Enabled {
		bridgeCfg, err = smartcare.LoadConfig(cfg.Protocols.SmartCare.ConfigFile)
		if err != nil {
			return fmt.Errorf("loading SmartCare bridge config: %w", err)
		}
		log.Info("SmartCare bridge config loaded",
			"path", cfg.Protocols.SmartCare.ConfigFile,
			"endpoint", bridgeCfg.Endpoint.URL,
			"channels", len(bridgeCfg.Channels),
		)
	}

	mqttOpts := mqtt.OptionsFromConfig(cfg.MQTT, presenceFor(cfg, bridgeCfg))
	mqttClient, err := mqtt.Connect(mqttOpts)
	if err != nil {
		return fmt.Errorf("connecting to MQTT: %w", err)
	}
	defer func() {
		log.Info("disconnecting from MQTT")
		if closeErr := mqttClient.Close(); closeErr != nil {
			log.Error("error closing MQTT", "error", closeErr)
		}
	}()
	mqttClient.SetLogger(log)
	log.Info("MQTT connected",
		"broker", mqttOpts.BrokerURL,
		"client_id", mqttOpts.ClientID,
		"bridge_id", mqttOpts.Presence.BridgeID,
	)

	mqttClient.SetOnConnect(func() {
		log.Info("MQTT reconnected")
	})
	mqttClient.SetOnDisconnect(func(err error) {
		log.Warn("MQTT disconnected", "error", err)
	})

	// InfluxDB is optional
	var influxClient *influxdb.Client
	influxOpts, err := influxdb.OptionsFromConfig(cfg.InfluxDB, mqttOpts.Presence.BridgeID)
	if errors.Is(err, influxdb.ErrDisabled) {
		log.Info("InfluxDB disabled")
	} else {
		influxClient, err = influxdb.Connect(ctx, influxOpts)
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
	}

	var bridge *smartcare.Bridge
	if bridgeCfg != nil {
		bridge, err = startSmartCareBridge(ctx, bridgeCfg, mqttClient, influxClient, historyRepo, log)
		if err != nil {
			return fmt.Errorf("starting SmartCare bridge: %w", err)
		}
		defer func() {
			log.Info("stopping SmartCare bridge")
			bridge.Stop()
		}()
	} else {
		log.Info("SmartCare bridge disabled")
	}

	if err := healthCheck(ctx, db, mqttClient, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	if cfg.API.Enabled && bridge != nil {
		deps := api.Deps{
			Config:  cfg.API,
			Logger:  log,
			Bridge:  bridge,
			History: historyRepo,
			MQTT:    mqttClient,
			DB:      db,
			Version: version,
		}
		if influxClient != nil {
			deps.Metrics = influxClient
		}
		apiServer, apiErr := api.New(deps)
		if apiErr != nil {
			return fmt.Errorf("creating API server: %w", apiErr)
		}
		if startErr := apiServer.Start(ctx); startErr != nil {
			return fmt.Errorf("starting API server: %w", startErr)
		}
		defer func() {
			if closeErr := apiServer.Close(); closeErr != nil {
				log.Error("error closing API server", "error", closeErr)
			}
		}()
	}

	log.Info("initialisation complete, waiting for shutdown signal")

	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")

	// Deferred calls run in reverse order: API server, bridge, InfluxDB,
	// MQTT, database.

	log.Info("SmartCare bridge stopped")
	return nil
}

// getConfigPath returns the configuration file path.
// Uses SMARTCARE_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("SMARTCARE_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// healthCheck verifies all infrastructure connections are healthy.
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

	// The SmartCare endpoint is deliberately not checked: an unreachable hub
	// is reported as OFFLINE by the bridge, not treated as a startup failure.
	return nil
}

// presenceFor identifies the process on its MQTT presence topic. Without a
// bridge the client ID stands in for the bridge ID.
func presenceFor(cfg *config.Config, bridgeCfg *smartcare.Config) mqtt.Presence {
	presence := mqtt.Presence{
		Protocol: smartcare.Protocol,
		BridgeID: cfg.MQTT.Broker.ClientID,
		Version:  version,
	}
	if bridgeCfg != nil {
		presence.BridgeID = bridgeCfg.Bridge.ID
	}
	return presence
}

// startSmartCareBridge creates the bridge and starts polling.
//
// Parameters:
//   - ctx: Context for startup/cancellation
//   - bridgeCfg: Loaded bridge configuration
//   - mqttClient: MQTT client for publishing/subscribing
//   - influxClient: Telemetry sink (nil when InfluxDB is disabled)
//   - historyRepo: State history store
//   - log: Logger instance
//
// Returns:
//   - *smartcare.Bridge: Running bridge
//   - error: If the bridge fails to start
func startSmartCareBridge(
	ctx context.Context,
	bridgeCfg *smartcare.Config,
	mqttClient *mqtt.Client,
	influxClient *influxdb.Client,
	historyRepo *device.SQLiteStateHistoryRepository,
	log *logging.Logger,
) (*smartcare.Bridge, error) {
	opts := smartcare.BridgeOptions{
		Config:     bridgeCfg,
		MQTTClient: &mqttBridgeAdapter{client: mqttClient},
		Logger:     log.Component("smartcare"),
		Version:    version,

		// Presence carries the upstream status, so republish it on change.
		OnStatusChange: func(smartcare.Status) {
			if err := mqttClient.PublishPresence(); err != nil {
				log.Warn("failed to publish presence", "error", err)
			}
		},
	}

	// Only assign non-nil values: a typed nil pointer in an interface field
	// would defeat the bridge's nil checks.
	if influxClient != nil {
		opts.Metrics = influxClient
	}
	if bridgeCfg.History.Enabled {
		opts.History = &historyAdapter{repo: historyRepo}
	}

	bridge, err := smartcare.NewBridge(opts)
	if err != nil {
		return nil, fmt.Errorf("creating SmartCare bridge: %w", err)
	}
	mqttClient.SetUpstreamStatus(func() string {
		return string(bridge.Poller().Status())
	})

	if err := bridge.Start(ctx); err != nil {
		bridge.Stop()
		return nil, fmt.Errorf("starting SmartCare bridge: %w", err)
	}
	log.Info("SmartCare bridge started")

	return bridge, nil
}

// mqttBridgeAdapter adapts the infrastructure MQTT client to the bridge's
// MQTTClient interface. The difference is the Subscribe handler signature:
// - Infrastructure mqtt: func(topic, payload []byte) error
// - SmartCare bridge expects: func(topic, payload []byte)
type mqttBridgeAdapter struct {
	client *mqtt.Client
}

// Publish implements smartcare.MQTTClient.
func (a *mqttBridgeAdapter) Publish(topic string, payload []byte, qos byte, retained bool) error {
	return a.client.Publish(topic, payload, qos, retained)
}

// Subscribe implements smartcare.MQTTClient.
func (a *mqttBridgeAdapter) Subscribe(topic string, qos byte, handler func(topic string, payload []byte)) error {
	return a.client.Subscribe(topic, qos, func(t string, p []byte) error {
		handler(t, p)
		return nil
	})
}

// IsConnected implements smartcare.MQTTClient.
func (a *mqttBridgeAdapter) IsConnected() bool {
	return a.client.IsConnected()
}

// historyAdapter stores bridge channel updates in the state history table.
type historyAdapter struct {
	repo device.StateHistoryRepository
}

// RecordChannelState implements smartcare.HistoryRecorder.
func (a *historyAdapter) RecordChannelState(ctx context.Context, update smartcare.ChannelUpdate) error {
	return a.repo.RecordStateChange(ctx, historyEntry(update))
}

// PruneHistory implements smartcare.HistoryRecorder.
func (a *historyAdapter) PruneHistory(ctx context.Context, olderThan time.Duration) (int64, error) {
	return a.repo.PruneHistory(ctx, olderThan)
}

// LatestChannelState implements smartcare.HistoryRecorder.
func (a *historyAdapter) LatestChannelState(ctx context.Context, channel string) (string, bool, error) {
	entry, err := a.repo.LatestState(ctx, channel)
	switch {
	case errors.Is(err, device.ErrNoHistory):
		return "", false, nil
	case err != nil:
		return "", false, err
	}
	return entry.State, true, nil
}

func historyEntry(update smartcare.ChannelUpdate) device.StateHistoryEntry {
	source := update.Source
	if source == "" {
		source = device.SourcePoll
	}
	return device.StateHistoryEntry{
		Channel:  update.Channel,
		DeviceID: update.DeviceID,
		State:    update.State.String(),
		Kind:     update.State.Kind.String(),
		Source:   source,
	}
}
