// Package api provides the HTTP status API for the SmartCare bridge.
//
// It exposes the resolved channel states, the poller status, recorded state
// history and a refresh trigger to dashboards and operators.
//
// The server follows the same lifecycle pattern as other infrastructure components:
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

	"github.com/nerrad567/smartcare-bridge/internal/bridges/smartcare"
	"github.com/nerrad567/smartcare-bridge/internal/device"
	"github.com/nerrad567/smartcare-bridge/internal/infrastructure/config"
	"github.com/nerrad567/smartcare-bridge/internal/infrastructure/database"
	"github.com/nerrad567/smartcare-bridge/internal/infrastructure/influxdb"
	"github.com/nerrad567/smartcare-bridge/internal/infrastructure/logging"
	"github.com/nerrad567/smartcare-bridge/internal/infrastructure/mqtt"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// BridgeService is the subset of *smartcare.Bridge used by the API.
type BridgeService interface {
	ChannelStates() []smartcare.ChannelState
	ChannelState(channel string) (smartcare.ChannelState, error)
	Refresh(ctx context.Context, channel string) error
	GetMetrics() smartcare.BridgeMetrics
	Health() smartcare.HealthMessage
}

// HistoryReader reads recorded channel state changes.
// *device.SQLiteStateHistoryRepository satisfies it.
type HistoryReader interface {
	GetHistory(ctx context.Context, channel string, limit int) ([]device.StateHistoryEntry, error)
}

// MQTTClient is the broker connection used for connectivity metrics and the
// live state relay. *mqtt.Client satisfies it.
type MQTTClient interface {
	IsConnected() bool
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
}

// TelemetryStats reports telemetry write counters. *influxdb.Client
// satisfies it.
type TelemetryStats interface {
	Stats() influxdb.Stats
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config  config.APIConfig
	Logger  *logging.Logger
	Bridge  BridgeService
	History HistoryReader  // Optional: history endpoints return 503 without it
	MQTT    MQTTClient     // Optional: no live relay without it
	DB      *database.DB   // Optional: pool stats in /metrics
	Metrics TelemetryStats // Optional: InfluxDB counters in /metrics
	Version string
}

// Server is the HTTP status API server.
//
// It manages the HTTP listener, routes, middleware and WebSocket hub.
// The server is created with New() and started with Start().
type Server struct {
	cfg       config.APIConfig
	logger    *logging.Logger
	bridge    BridgeService
	history   HistoryReader
	mqtt      MQTTClient
	db        *database.DB
	telemetry TelemetryStats
	version   string
	startTime time.Time
	server    *http.Server
	hub       *Hub
	cancel    context.CancelFunc // stops the hub on Close()
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called.
//
// Parameters:
//   - deps: Required dependencies (config, logger, bridge)
//
// Returns:
//   - *Server: Configured server ready to start
//   - error: If required dependencies are missing
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Bridge == nil {
		return nil, fmt.Errorf("bridge is required")
	}

	return &Server{
		cfg:       deps.Config,
		logger:    deps.Logger,
		bridge:    deps.Bridge,
		history:   deps.History,
		mqtt:      deps.MQTT,
		db:        deps.DB,
		telemetry: deps.Metrics,
		version:   deps.Version,
		startTime: time.Now(),
		hub:       NewHub(deps.Config.WebSocket, deps.Logger),
	}, nil
}

// Start runs the WebSocket hub, subscribes to the bridge's MQTT state topics
// for the live relay and begins listening for HTTP connections in a
// background goroutine. The server can be stopped with Close().
//
// Parameters:
//   - ctx: Context for cancellation (not used for listener lifetime)
//
// Returns:
//   - error: If the server fails to start
func (s *Server) Start(ctx context.Context) error {
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)
	go s.hub.Run(srvCtx)

	if err := s.subscribeStateUpdates(); err != nil {
		s.logger.Warn("failed to subscribe to state updates for WebSocket", "error", err)
	}

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           s.buildRouter(),
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

// HealthCheck verifies the API server is running.
func (s *Server) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("api health check: %w", ctx.Err())
	default:
	}

	if s.server == nil {
		return fmt.Errorf("api server not started")
	}

	return nil
}
