package smartcare

import (
	"context"
	"encoding/json"
	"sync"
	"time"
)

const defaultHealthInterval = 30 * time.Second

// HealthPublisher is the interface for publishing health messages.
// This is typically implemented by an MQTT client.
type HealthPublisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	IsConnected() bool
}

// UpstreamMonitor reports the poller's view of the endpoint.
// *Poller satisfies it.
type UpstreamMonitor interface {
	Status() Status
	Stats() PollStats
}

// HealthReporterConfig holds configuration for the health reporter.
type HealthReporterConfig struct {
	BridgeID string
	Version  string

	// Interval is how often to publish health status. Default: 30 seconds.
	Interval time.Duration

	Publisher   HealthPublisher
	Upstream    UpstreamMonitor
	EndpointURL string
	Channels    int
}

// HealthReporter publishes retained health messages at a fixed interval.
type HealthReporter struct {
	bridgeID    string
	version     string
	startTime   time.Time
	interval    time.Duration
	publisher   HealthPublisher
	upstream    UpstreamMonitor
	endpointURL string
	channels    int

	// Shutdown coordination (stopOnce prevents double-close panics)
	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once

	logger   Logger
	loggerMu sync.RWMutex
}

// NewHealthReporter creates a new health reporter. Call Start to begin reporting.
func NewHealthReporter(cfg HealthReporterConfig) *HealthReporter {
	interval := cfg.Interval
	if interval <= 0 {
		interval = defaultHealthInterval
	}

	return &HealthReporter{
		bridgeID:    cfg.BridgeID,
		version:     cfg.Version,
		startTime:   time.Now(),
		interval:    interval,
		publisher:   cfg.Publisher,
		upstream:    cfg.Upstream,
		endpointURL: cfg.EndpointURL,
		channels:    cfg.Channels,
		done:        make(chan struct{}),
	}
}

// Start begins periodic health reporting until Stop is called or ctx is cancelled.
func (h *HealthReporter) Start(ctx context.Context) {
	h.wg.Add(1)
	go h.reportLoop(ctx)
}

// Stop stops reporting and publishes a final "stopping" status.
// Safe to call multiple times.
func (h *HealthReporter) Stop() {
	h.stopOnce.Do(func() {
		close(h.done)
		h.wg.Wait()

		//nolint:errcheck // Best-effort during shutdown
		h.publishStatus(HealthStopping, "")
	})
}

// SetLogger sets the logger for this reporter.
func (h *HealthReporter) SetLogger(logger Logger) {
	h.loggerMu.Lock()
	h.logger = logger
	h.loggerMu.Unlock()
}

// PublishStarting publishes a "starting" status.
func (h *HealthReporter) PublishStarting() error {
	return h.publishStatus(HealthStarting, "bridge starting")
}

// PublishNow publishes the current health status immediately.
func (h *HealthReporter) PublishNow() error {
	status, reason := h.determineStatus()
	return h.publishStatus(status, reason)
}

// Current returns the health message that PublishNow would send.
func (h *HealthReporter) Current() HealthMessage {
	status, reason := h.determineStatus()
	return h.buildMessage(status, reason)
}

func (h *HealthReporter) reportLoop(ctx context.Context) {
	defer h.wg.Done()

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	if err := h.PublishNow(); err != nil {
		h.logError("failed to publish initial health", err)
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-h.done:
			return
		case <-ticker.C:
			if err := h.PublishNow(); err != nil {
				h.logError("failed to publish health", err)
			}
		}
	}
}

// determineStatus evaluates the current bridge health.
func (h *HealthReporter) determineStatus() (HealthStatus, string) {
	if h.publisher == nil || !h.publisher.IsConnected() {
		return HealthDegraded, "MQTT disconnected"
	}
	if h.upstream != nil && h.upstream.Status() == StatusOffline {
		return HealthDegraded, "upstream offline"
	}
	return HealthHealthy, ""
}

func (h *HealthReporter) buildMessage(status HealthStatus, reason string) HealthMessage {
	msg := HealthMessage{
		Bridge:          h.bridgeID,
		Timestamp:       time.Now().UTC(),
		Status:          status,
		Version:         h.version,
		UptimeSeconds:   int64(time.Since(h.startTime).Seconds()),
		ChannelsManaged: h.channels,
		Reason:          reason,
	}
	if h.upstream != nil {
		msg.Upstream = &UpstreamStatus{
			URL:   h.endpointURL,
			Stats: h.upstream.Stats(),
		}
	}
	return msg
}

func (h *HealthReporter) publishStatus(status HealthStatus, reason string) error {
	if h.publisher == nil {
		return nil
	}

	payload, err := json.Marshal(h.buildMessage(status, reason))
	if err != nil {
		return err
	}

	// QoS 1, retained
	return h.publisher.Publish(HealthTopic(), payload, 1, true)
}

func (h *HealthReporter) logError(msg string, err error) {
	h.loggerMu.RLock()
	logger := h.logger
	h.loggerMu.RUnlock()

	if logger != nil {
		logger.Error(msg, "error", err)
	}
}
