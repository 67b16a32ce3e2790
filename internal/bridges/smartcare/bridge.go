package smartcare

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Bridge operation constants.
const (
	// minTopicParts is the minimum number of parts in a valid request topic.
	minTopicParts = 3

	// refreshGrace is added to the HTTP timeout when bounding a refresh request.
	refreshGrace = 5 * time.Second

	// historyTimeout bounds a single history write.
	historyTimeout = 2 * time.Second

	// pruneInterval is how often old history rows are deleted.
	pruneInterval = 24 * time.Hour
)

// Bridge connects the SmartCare poller to MQTT.
// It handles:
//   - Publishing resolved channel states and the upstream status (retained)
//   - Answering refresh and status requests received over MQTT
//   - Recording state changes and poll telemetry when sinks are configured
//   - Health reporting and graceful shutdown
//
// Thread Safety: All methods are safe for concurrent use.
type Bridge struct {
	cfg     *Config
	mqtt    MQTTClient
	poller  *Poller
	health  *HealthReporter
	history HistoryRecorder // Optional
	metrics MetricsWriter   // Optional

	onStatusChange func(Status)

	// Last recorded state per channel, for history change detection
	lastStates   map[string]string
	lastStatesMu sync.Mutex

	// Shutdown coordination
	done      chan struct{}
	wg        sync.WaitGroup
	stopOnce  sync.Once
	stopping  bool
	stateMu   sync.Mutex
	ctx       context.Context    // Bridge-level context, cancelled on Stop()
	ctxCancel context.CancelFunc // Cancel function for ctx

	// Logger
	logger   Logger
	loggerMu sync.RWMutex
}

// Logger is the structured logging interface used across the bridge.
// *logging.Logger satisfies it.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// MQTTClient is the interface for MQTT operations.
// This allows mocking in tests and flexibility in implementation.
type MQTTClient interface {
	// Publish sends a message to a topic.
	Publish(topic string, payload []byte, qos byte, retained bool) error

	// Subscribe registers a handler for a topic pattern.
	Subscribe(topic string, qos byte, handler func(topic string, payload []byte)) error

	// IsConnected returns true if connected to the broker.
	IsConnected() bool
}

// HistoryRecorder persists channel state changes.
// This interface is satisfied by the SQLite history repository (via adapter in main.go).
// It is optional - if nil, the bridge keeps no history.
type HistoryRecorder interface {
	// RecordChannelState stores one state change.
	RecordChannelState(ctx context.Context, update ChannelUpdate) error

	// PruneHistory deletes entries older than the given age.
	PruneHistory(ctx context.Context, olderThan time.Duration) (int64, error)

	// LatestChannelState returns the wire form of the newest recorded state
	// for a channel. found is false when nothing was recorded yet.
	LatestChannelState(ctx context.Context, channel string) (state string, found bool, err error)
}

// MetricsWriter receives poll and channel telemetry.
// *influxdb.Client satisfies it. Writes are non-blocking and best-effort.
type MetricsWriter interface {
	WritePollResult(result string, duration time.Duration, records int)
	WriteChannelState(channel string, deviceID int, kind string, fields map[string]interface{})
}

// BridgeOptions holds configuration for creating a bridge.
type BridgeOptions struct {
	// Config is the loaded bridge configuration.
	Config *Config

	// MQTTClient is the MQTT client implementation.
	MQTTClient MQTTClient

	// Fetcher overrides the HTTP fetcher built from Config.Endpoint.
	Fetcher Fetcher

	// Logger is optional structured logger.
	Logger Logger

	// History is optional state change persistence.
	History HistoryRecorder

	// Metrics is optional telemetry output.
	Metrics MetricsWriter

	// Version is reported in health messages and the User-Agent header.
	Version string

	// OnStatusChange is called after a new upstream status was published
	// (optional).
	OnStatusChange func(Status)
}

// NewBridge creates a new bridge instance.
// Call Start() to begin operation.
func NewBridge(opts BridgeOptions) (*Bridge, error) {
	if opts.Config == nil {
		return nil, fmt.Errorf("config is required")
	}
	if opts.MQTTClient == nil {
		return nil, fmt.Errorf("MQTT client is required")
	}

	version := opts.Version
	if version == "" {
		version = "dev"
	}

	fetcher := opts.Fetcher
	if fetcher == nil {
		fetcher = NewHTTPFetcher(opts.Config.Endpoint.URL, opts.Config.GetHTTPTimeout(), "smartcare-bridge/"+version)
	}

	ctx, ctxCancel := context.WithCancel(context.Background())

	b := &Bridge{
		cfg:        opts.Config,
		mqtt:       opts.MQTTClient,
		history:    opts.History, // May be nil (optional)
		metrics:    opts.Metrics, // May be nil (optional)
		lastStates: make(map[string]string),
		done:       make(chan struct{}),
		ctx:        ctx,
		ctxCancel:  ctxCancel,
		logger:     opts.Logger,

		onStatusChange: opts.OnStatusChange,
	}

	poller, err := NewPoller(PollerOptions{
		Interval:     opts.Config.GetPollInterval(),
		Fetcher:      fetcher,
		Sink:         b,
		Bindings:     opts.Config.Channels,
		OfflineAfter: opts.Config.Poll.OfflineAfterFailures,
		OnPoll:       b.observePoll,
		Logger:       opts.Logger,
	})
	if err != nil {
		ctxCancel()
		return nil, fmt.Errorf("creating poller: %w", err)
	}
	b.poller = poller

	if raw, rejected := opts.Config.Poll.RejectedInterval(); rejected && opts.Logger != nil {
		opts.Logger.Warn("invalid poll interval, using default",
			"value", raw,
			"interval", poller.Interval().String())
	}

	b.health = NewHealthReporter(HealthReporterConfig{
		BridgeID:    opts.Config.Bridge.ID,
		Version:     version,
		Interval:    opts.Config.GetHealthInterval(),
		Publisher:   opts.MQTTClient,
		Upstream:    poller,
		EndpointURL: opts.Config.Endpoint.URL,
		Channels:    len(opts.Config.Channels),
	})
	if opts.Logger != nil {
		b.health.SetLogger(opts.Logger)
	}

	return b, nil
}

// Start begins bridge operation.
// This subscribes to request topics, starts the poller and starts health
// reporting. Upstream failures never prevent Start from succeeding.
func (b *Bridge) Start(ctx context.Context) error {
	if err := b.health.PublishStarting(); err != nil {
		b.logError("failed to publish starting status", err)
	}

	requestTopic := RequestSubscribeTopic()
	if err := b.mqtt.Subscribe(requestTopic, 1, b.handleMQTTMessage); err != nil {
		return fmt.Errorf("subscribe to requests: %w", err)
	}
	b.logInfo("subscribed to requests", "topic", requestTopic)

	if b.history != nil {
		b.seedLastStates(ctx)
	}

	if err := b.poller.Start(b.ctx); err != nil {
		return fmt.Errorf("starting poller: %w", err)
	}

	b.health.Start(ctx)

	if err := b.health.PublishNow(); err != nil {
		b.logError("failed to publish healthy status", err)
	}

	if b.history != nil && b.cfg.GetHistoryRetention() > 0 {
		b.spawn(b.pruneLoop)
	}

	b.logInfo("bridge started",
		"bridge_id", b.cfg.Bridge.ID,
		"endpoint", b.cfg.Endpoint.URL,
		"channels", len(b.cfg.Channels),
		"interval", b.poller.Interval().String())

	return nil
}

// Stop gracefully shuts down the bridge. No fetch is issued after Stop
// returns.
func (b *Bridge) Stop() {
	b.stopOnce.Do(func() {
		b.stateMu.Lock()
		b.stopping = true
		b.stateMu.Unlock()

		close(b.done)

		// Cancel bridge context to abort in-flight fetches
		b.ctxCancel()

		b.poller.Stop()

		// Stop health reporting (publishes "stopping" status)
		b.health.Stop()

		// Wait for pending requests
		b.wg.Wait()

		b.logInfo("bridge stopped")
	})
}

// spawn runs fn in a tracked goroutine unless the bridge is stopping.
func (b *Bridge) spawn(fn func()) bool {
	b.stateMu.Lock()
	defer b.stateMu.Unlock()

	if b.stopping {
		return false
	}
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		fn()
	}()
	return true
}

// Poller returns the underlying poller.
func (b *Bridge) Poller() *Poller {
	return b.poller
}

// Health returns the current health message without publishing it.
func (b *Bridge) Health() HealthMessage {
	return b.health.Current()
}

// Refresh triggers an out-of-band fetch and publishes the named channel
// (all channels when empty).
func (b *Bridge) Refresh(ctx context.Context, channel string) error {
	return b.poller.Refresh(ctx, channel)
}

// ChannelState is the resolved state of one bound channel.
type ChannelState struct {
	Channel   string         `json:"channel"`
	DeviceID  int            `json:"device_id"`
	State     State          `json:"state"`
	Kind      Kind           `json:"kind"`
	Fields    map[string]any `json:"fields,omitempty"`
	FetchedAt time.Time      `json:"fetched_at,omitzero"`
}

// ChannelStates resolves every bound channel against the current snapshot.
// Before the first successful fetch every channel is UNDEF.
func (b *Bridge) ChannelStates() []ChannelState {
	snap := b.poller.Snapshot()
	bindings := b.poller.Bindings()

	out := make([]ChannelState, 0, len(bindings))
	for _, binding := range bindings {
		out = append(out, newChannelState(binding, snap))
	}
	return out
}

// ChannelState resolves a single channel against the current snapshot.
func (b *Bridge) ChannelState(channel string) (ChannelState, error) {
	binding, ok := b.poller.Binding(channel)
	if !ok {
		return ChannelState{}, fmt.Errorf("%w: %q", ErrUnknownChannel, channel)
	}
	return newChannelState(binding, b.poller.Snapshot()), nil
}

func newChannelState(binding ChannelBinding, snap *Snapshot) ChannelState {
	state := ResolveState(binding.DeviceID, snap)
	cs := ChannelState{
		Channel:  binding.Channel,
		DeviceID: binding.DeviceID,
		State:    state,
		Kind:     state.Kind,
		Fields:   state.Fields(),
	}
	if snap != nil {
		cs.FetchedAt = snap.FetchedAt
	}
	return cs
}

// PublishState publishes a resolved channel state (retained) and, if it
// differs from the last recorded value, records it in the history.
func (b *Bridge) PublishState(update ChannelUpdate) error {
	msg := NewStateMessage(update)
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}

	if b.metrics != nil {
		b.metrics.WriteChannelState(update.Channel, update.DeviceID, update.State.Kind.String(), msg.Fields)
	}

	if err := b.mqtt.Publish(StateTopic(update.Channel), payload, 1, true); err != nil {
		return err
	}

	b.logDebug("published channel state",
		"channel", update.Channel,
		"state", update.State.String(),
		"source", update.Source)

	b.recordHistory(update)
	return nil
}

// PublishStatus publishes the upstream status marker (retained).
func (b *Bridge) PublishStatus(status Status, reason string) error {
	payload, err := json.Marshal(StatusMessage{
		Bridge:    b.cfg.Bridge.ID,
		Timestamp: time.Now().UTC(),
		Status:    status,
		Reason:    reason,
	})
	if err != nil {
		return fmt.Errorf("marshal status: %w", err)
	}
	if err := b.mqtt.Publish(StatusTopic(), payload, 1, true); err != nil {
		return err
	}

	if b.onStatusChange != nil {
		b.onStatusChange(status)
	}
	return nil
}

// recordHistory stores the update when the channel's wire state changed.
// The lock is held across the write so concurrent publishers of the same
// state record it once.
func (b *Bridge) recordHistory(update ChannelUpdate) {
	if b.history == nil {
		return
	}

	wire := update.State.String()

	b.lastStatesMu.Lock()
	defer b.lastStatesMu.Unlock()

	if prev, seen := b.lastStates[update.Channel]; seen && prev == wire {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), historyTimeout)
	defer cancel()

	if err := b.history.RecordChannelState(ctx, update); err != nil {
		b.logError("failed to record state history", err)
		return
	}
	b.lastStates[update.Channel] = wire
}

// seedLastStates loads the newest recorded state of every channel so a
// restart does not record an unchanged state again. Failures only cost a
// duplicate row.
func (b *Bridge) seedLastStates(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, historyTimeout)
	defer cancel()

	b.lastStatesMu.Lock()
	defer b.lastStatesMu.Unlock()

	for _, binding := range b.cfg.Channels {
		state, found, err := b.history.LatestChannelState(ctx, binding.Channel)
		if err != nil {
			b.logError("failed to load last recorded state", err)
			return
		}
		if found {
			b.lastStates[binding.Channel] = state
		}
	}
}

func (b *Bridge) observePoll(r PollResult) {
	if b.metrics != nil {
		b.metrics.WritePollResult(r.Result, r.Duration, r.Records)
	}
	b.logDebug("poll completed",
		"result", r.Result,
		"duration_ms", r.Duration.Milliseconds(),
		"records", r.Records)
}

func (b *Bridge) pruneLoop() {
	ticker := time.NewTicker(pruneInterval)
	defer ticker.Stop()

	b.pruneHistory()

	for {
		select {
		case <-b.done:
			return
		case <-ticker.C:
			b.pruneHistory()
		}
	}
}

func (b *Bridge) pruneHistory() {
	ctx, cancel := context.WithTimeout(b.ctx, 30*time.Second)
	defer cancel()

	deleted, err := b.history.PruneHistory(ctx, b.cfg.GetHistoryRetention())
	if err != nil {
		if b.ctx.Err() == nil {
			b.logError("failed to prune state history", err)
		}
		return
	}
	if deleted > 0 {
		b.logInfo("pruned state history", "deleted", deleted)
	}
}

// handleMQTTMessage routes incoming request messages. Requests run in a
// tracked goroutine so a slow refresh does not block MQTT delivery.
func (b *Bridge) handleMQTTMessage(topic string, payload []byte) {
	parts := strings.Split(topic, "/")
	if len(parts) < minTopicParts || parts[1] != "request" {
		b.logError("unexpected topic", fmt.Errorf("topic: %s", topic))
		return
	}

	topicID := ""
	if len(parts) > minTopicParts {
		topicID = parts[len(parts)-1]
	}

	if !b.spawn(func() { b.handleRequest(topicID, payload) }) {
		b.logDebug("dropping request during shutdown", "topic", topic)
	}
}

// handleRequest processes a request message and publishes the response.
func (b *Bridge) handleRequest(topicID string, payload []byte) {
	var req RequestMessage
	parseErr := json.Unmarshal(payload, &req)

	if req.RequestID == "" {
		req.RequestID = topicID
	}
	if req.RequestID == "" {
		req.RequestID = uuid.NewString()
	}

	var resp ResponseMessage
	if parseErr != nil {
		b.logError("failed to parse request", parseErr)
		resp = NewErrorResponse(req.RequestID, ErrCodeInvalidRequest, "invalid JSON payload")
	} else {
		b.logInfo("received request",
			"request_id", req.RequestID,
			"action", req.Action,
			"channel", req.Channel)

		switch req.Action {
		case ActionRefresh:
			resp = b.handleRefresh(req)
		case ActionStatus:
			resp = b.handleStatus(req)
		default:
			resp = NewErrorResponse(req.RequestID, ErrCodeUnknownAction,
				fmt.Sprintf("unknown action: %s", req.Action))
		}
	}

	respPayload, err := json.Marshal(resp)
	if err != nil {
		b.logError("failed to marshal response", err)
		return
	}

	if err := b.mqtt.Publish(ResponseTopic(req.RequestID), respPayload, 1, false); err != nil {
		b.logError("failed to publish response", err)
	}
}

// handleRefresh handles a refresh request.
func (b *Bridge) handleRefresh(req RequestMessage) ResponseMessage {
	ctx, cancel := context.WithTimeout(b.ctx, b.cfg.GetHTTPTimeout()+refreshGrace)
	defer cancel()

	if err := b.poller.Refresh(ctx, req.Channel); err != nil {
		code := ErrCodeUpstream
		switch {
		case errors.Is(err, ErrUnknownChannel):
			code = ErrCodeUnknownChannel
		case errors.Is(err, ErrNotRunning), errors.Is(err, context.Canceled):
			code = ErrCodeBridgeError
		}
		return NewErrorResponse(req.RequestID, code, err.Error())
	}

	var channels []ChannelState
	if req.Channel == "" {
		channels = b.ChannelStates()
	} else {
		cs, err := b.ChannelState(req.Channel)
		if err != nil {
			return NewErrorResponse(req.RequestID, ErrCodeUnknownChannel, err.Error())
		}
		channels = []ChannelState{cs}
	}

	return NewSuccessResponse(req.RequestID, map[string]any{
		"channels": channels,
	})
}

// handleStatus handles a status request.
func (b *Bridge) handleStatus(req RequestMessage) ResponseMessage {
	return NewSuccessResponse(req.RequestID, map[string]any{
		"status":   b.poller.Status(),
		"stats":    b.poller.Stats(),
		"channels": b.ChannelStates(),
	})
}

// SetLogger sets the logger for the bridge, its poller and health reporter.
func (b *Bridge) SetLogger(logger Logger) {
	b.loggerMu.Lock()
	b.logger = logger
	b.loggerMu.Unlock()

	b.poller.SetLogger(logger)
	b.health.SetLogger(logger)
}

// logInfo logs an info message if logger is set.
func (b *Bridge) logInfo(msg string, keysAndValues ...any) {
	b.loggerMu.RLock()
	logger := b.logger
	b.loggerMu.RUnlock()

	if logger != nil {
		logger.Info(msg, keysAndValues...)
	}
}

// logError logs an error message if logger is set.
func (b *Bridge) logError(msg string, err error) {
	b.loggerMu.RLock()
	logger := b.logger
	b.loggerMu.RUnlock()

	if logger != nil {
		logger.Error(msg, "error", err)
	}
}

// logDebug logs a debug message if logger is set.
func (b *Bridge) logDebug(msg string, keysAndValues ...any) {
	b.loggerMu.RLock()
	logger := b.logger
	b.loggerMu.RUnlock()

	if logger != nil {
		logger.Debug(msg, keysAndValues...)
	}
}

// BridgeMetrics contains metrics data for the API status endpoint.
type BridgeMetrics struct {
	Connected       bool      `json:"mqtt_connected"`
	Status          Status    `json:"status"`
	Endpoint        string    `json:"endpoint"`
	Interval        string    `json:"interval"`
	ChannelsManaged int       `json:"channels_managed"`
	Stats           PollStats `json:"stats"`
}

// GetMetrics returns current bridge metrics for the API status endpoint.
func (b *Bridge) GetMetrics() BridgeMetrics {
	stats := b.poller.Stats()
	return BridgeMetrics{
		Connected:       b.mqtt.IsConnected(),
		Status:          stats.Status,
		Endpoint:        b.cfg.Endpoint.URL,
		Interval:        b.poller.Interval().String(),
		ChannelsManaged: len(b.poller.Bindings()),
		Stats:           stats,
	}
}
