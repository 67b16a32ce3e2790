package smartcare

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"
)

// DefaultPollInterval is used when the configured interval is missing or invalid.
const DefaultPollInterval = 10 * time.Second

// fetchKey is the single singleflight key: there is only one endpoint.
const fetchKey = "snapshot"

// Status is the upstream availability marker published by the poller.
type Status string

const (
	// StatusUnknown is the state before the first fetch completes.
	StatusUnknown Status = "UNKNOWN"

	// StatusOnline is set by every successful fetch.
	StatusOnline Status = "ONLINE"

	// StatusOffline is set after the configured number of consecutive failures.
	StatusOffline Status = "OFFLINE"
)

// Update sources.
const (
	SourcePoll    = "poll"
	SourceRefresh = "refresh"
)

// Poll results, used as the telemetry "result" tag.
const (
	ResultOK         = "ok"
	ResultNetwork    = "network"
	ResultHTTPStatus = "http_status"
	ResultDecode     = "decode"
)

// ChannelBinding maps a channel name to an upstream device ID.
type ChannelBinding struct {
	Channel  string `yaml:"channel" json:"channel"`
	DeviceID int    `yaml:"device_id" json:"device_id"`
}

// ChannelUpdate is a resolved channel state handed to the StateSink.
type ChannelUpdate struct {
	Channel   string
	DeviceID  int
	State     State
	Source    string
	Timestamp time.Time
}

// StateSink receives resolved channel states and status transitions.
// The Bridge implements it on top of MQTT.
type StateSink interface {
	PublishState(update ChannelUpdate) error
	PublishStatus(status Status, reason string) error
}

// PollResult describes one completed fetch, successful or not.
type PollResult struct {
	Result   string
	Duration time.Duration
	Records  int
	Err      error
}

// PollStats is a point-in-time copy of the poller's counters.
type PollStats struct {
	Status              Status    `json:"status"`
	Polls               uint64    `json:"polls"`
	Failures            uint64    `json:"failures"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	LastSuccess         time.Time `json:"last_success,omitzero"`
	LastFailure         time.Time `json:"last_failure,omitzero"`
	LastError           string    `json:"last_error,omitempty"`
	Records             int       `json:"records"`
}

// PollerOptions configures a Poller.
type PollerOptions struct {
	// Interval between ticks. <= 0 selects DefaultPollInterval.
	Interval time.Duration

	// Fetcher retrieves the raw body. Required.
	Fetcher Fetcher

	// Sink receives channel states and status changes. Required.
	Sink StateSink

	// Bindings lists the channels to publish on every successful tick.
	Bindings []ChannelBinding

	// OfflineAfter is the number of consecutive failed fetches after which
	// the poller reports OFFLINE. 0 disables the transition.
	OfflineAfter int

	// OnPoll is called after every fetch attempt (optional).
	OnPoll func(PollResult)

	// Logger is optional.
	Logger Logger
}

// Poller periodically fetches the device list, swaps the snapshot and
// publishes each bound channel's resolved state.
//
// Thread Safety: all methods are safe for concurrent use. Readers of the
// snapshot always see one complete poll result.
type Poller struct {
	interval     time.Duration
	fetcher      Fetcher
	sink         StateSink
	bindings     []ChannelBinding
	offlineAfter int
	onPoll       func(PollResult)

	snapshot atomic.Pointer[Snapshot]

	// fetches collapses concurrent timer and refresh fetches into one request.
	fetches singleflight.Group

	statsMu         sync.Mutex
	stats           PollStats
	publishedStatus Status
	statusReason    string

	// Lifecycle
	runMu    sync.Mutex
	running  bool
	stopped  bool
	runCtx   context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	stopOnce sync.Once

	logger   Logger
	loggerMu sync.RWMutex
}

// NewPoller creates a poller. Call Start to begin polling.
func NewPoller(opts PollerOptions) (*Poller, error) {
	if opts.Fetcher == nil {
		return nil, fmt.Errorf("fetcher is required")
	}
	if opts.Sink == nil {
		return nil, fmt.Errorf("state sink is required")
	}
	if opts.OfflineAfter < 0 {
		return nil, fmt.Errorf("offline threshold must not be negative")
	}

	interval := opts.Interval
	if interval <= 0 {
		interval = DefaultPollInterval
	}

	bindings := make([]ChannelBinding, len(opts.Bindings))
	copy(bindings, opts.Bindings)

	return &Poller{
		interval:        interval,
		fetcher:         opts.Fetcher,
		sink:            opts.Sink,
		bindings:        bindings,
		offlineAfter:    opts.OfflineAfter,
		onPoll:          opts.OnPoll,
		stats:           PollStats{Status: StatusUnknown},
		publishedStatus: StatusUnknown,
		logger:          opts.Logger,
	}, nil
}

// Start fires one tick immediately and then one every interval until Stop
// is called or ctx is cancelled.
func (p *Poller) Start(ctx context.Context) error {
	p.runMu.Lock()
	defer p.runMu.Unlock()

	if p.stopped {
		return ErrNotRunning
	}
	if p.running {
		return ErrAlreadyStarted
	}

	p.runCtx, p.cancel = context.WithCancel(ctx)
	p.running = true

	p.wg.Add(1)
	go p.loop(p.runCtx)

	p.logInfo("poller started", "interval", p.interval.String(), "channels", len(p.bindings))
	return nil
}

// Stop cancels the timer and any in-flight fetch, then waits for the loop
// and pending refreshes to return. No fetch is issued after Stop returns.
// Safe to call multiple times.
func (p *Poller) Stop() {
	p.stopOnce.Do(func() {
		p.runMu.Lock()
		p.stopped = true
		wasRunning := p.running
		p.running = false
		if p.cancel != nil {
			p.cancel()
		}
		p.runMu.Unlock()

		p.wg.Wait()

		if wasRunning {
			p.logInfo("poller stopped")
		}
	})
}

// Refresh performs an out-of-band fetch (bypassing the timer) and, on
// success, publishes the state of the named channel only. An empty channel
// publishes every bound channel.
//
// A fetch already in flight is shared rather than duplicated. The fetch
// runs on the poller's context; if ctx ends first Refresh returns ctx.Err()
// and the shared fetch is left to complete for the other waiters.
func (p *Poller) Refresh(ctx context.Context, channel string) error {
	var targets []ChannelBinding
	if channel == "" {
		targets = p.bindings
	} else {
		b, ok := p.Binding(channel)
		if !ok {
			return fmt.Errorf("%w: %q", ErrUnknownChannel, channel)
		}
		targets = []ChannelBinding{b}
	}

	runCtx, err := p.acquire()
	if err != nil {
		return err
	}

	if err := ctx.Err(); err != nil {
		p.wg.Done()
		return err
	}

	results := p.fetches.DoChan(fetchKey, func() (any, error) {
		return p.fetchAndSwap(runCtx)
	})

	select {
	case res := <-results:
		defer p.wg.Done()
		if res.Err != nil {
			return res.Err
		}
		p.publishBindings(res.Val.(*Snapshot), targets, SourceRefresh)
		return nil
	case <-ctx.Done():
		// Stop must still wait for the shared fetch.
		go func() {
			<-results
			p.wg.Done()
		}()
		return ctx.Err()
	}
}

// acquire registers an operation with the wait group, failing if the
// poller is not running.
func (p *Poller) acquire() (context.Context, error) {
	p.runMu.Lock()
	defer p.runMu.Unlock()

	if !p.running {
		return nil, ErrNotRunning
	}
	p.wg.Add(1)
	return p.runCtx, nil
}

// Snapshot returns the most recent successful snapshot, or nil before the
// first success. The returned value must not be modified.
func (p *Poller) Snapshot() *Snapshot {
	return p.snapshot.Load()
}

// ResolveState resolves a device against the given snapshot.
func (p *Poller) ResolveState(deviceID int, snapshot *Snapshot) State {
	return ResolveState(deviceID, snapshot)
}

// Bindings returns a copy of the configured channel bindings.
func (p *Poller) Bindings() []ChannelBinding {
	out := make([]ChannelBinding, len(p.bindings))
	copy(out, p.bindings)
	return out
}

// Binding returns the binding for a channel name.
func (p *Poller) Binding(channel string) (ChannelBinding, bool) {
	for _, b := range p.bindings {
		if b.Channel == channel {
			return b, true
		}
	}
	return ChannelBinding{}, false
}

// Status returns the current upstream status.
func (p *Poller) Status() Status {
	p.statsMu.Lock()
	defer p.statsMu.Unlock()
	return p.stats.Status
}

// Stats returns a copy of the poll counters.
func (p *Poller) Stats() PollStats {
	p.statsMu.Lock()
	defer p.statsMu.Unlock()
	return p.stats
}

// Interval returns the effective poll interval.
func (p *Poller) Interval() time.Duration {
	return p.interval
}

// SetLogger sets the logger for this poller.
func (p *Poller) SetLogger(logger Logger) {
	p.loggerMu.Lock()
	p.logger = logger
	p.loggerMu.Unlock()
}

func (p *Poller) loop(ctx context.Context) {
	defer p.wg.Done()

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.tick(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.tick(ctx)
		}
	}
}

// tick runs one fetch-decode-publish cycle. Failures are logged and never
// stop the loop.
func (p *Poller) tick(ctx context.Context) {
	snap, err := p.fetch(ctx)
	if err != nil {
		if ctx.Err() == nil {
			p.logWarn("poll failed", "error", err)
		}
		return
	}
	p.publishBindings(snap, p.bindings, SourcePoll)
}

// fetch runs a fetch on ctx, or joins the one already in flight. The
// leader runs the request on its own goroutine; every caller holds the wait
// group while it waits, so Stop waits for every fetch to finish.
func (p *Poller) fetch(ctx context.Context) (*Snapshot, error) {
	v, err, _ := p.fetches.Do(fetchKey, func() (any, error) {
		return p.fetchAndSwap(ctx)
	})
	if err != nil {
		return nil, err
	}
	return v.(*Snapshot), nil
}

// fetchAndSwap performs the HTTP fetch and decode, swaps the snapshot on
// success and updates status and counters either way.
func (p *Poller) fetchAndSwap(ctx context.Context) (*Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	start := time.Now()
	body, err := p.fetcher.Fetch(ctx)
	if err == nil {
		var snap *Snapshot
		snap, err = DecodeSnapshot(body)
		if err == nil {
			snap.FetchedAt = time.Now().UTC()
			p.snapshot.Store(snap)
			p.recordSuccess(snap, time.Since(start))
			return snap, nil
		}
	}

	if ctx.Err() != nil {
		// Cancelled by Stop: not an upstream failure.
		return nil, ctx.Err()
	}
	p.recordFailure(err, time.Since(start))
	return nil, err
}

func (p *Poller) recordSuccess(snap *Snapshot, elapsed time.Duration) {
	p.statsMu.Lock()
	p.stats.Polls++
	p.stats.ConsecutiveFailures = 0
	p.stats.LastSuccess = snap.FetchedAt
	p.stats.Records = snap.Len()
	p.stats.Status = StatusOnline
	p.statusReason = ""
	p.statsMu.Unlock()

	p.syncStatus()
	p.observe(PollResult{Result: ResultOK, Duration: elapsed, Records: snap.Len()})
}

func (p *Poller) recordFailure(err error, elapsed time.Duration) {
	p.statsMu.Lock()
	p.stats.Polls++
	p.stats.Failures++
	p.stats.ConsecutiveFailures++
	p.stats.LastFailure = time.Now().UTC()
	p.stats.LastError = err.Error()
	if p.offlineAfter > 0 && p.stats.ConsecutiveFailures >= p.offlineAfter {
		p.stats.Status = StatusOffline
		p.statusReason = err.Error()
	}
	p.statsMu.Unlock()

	p.syncStatus()
	p.observe(PollResult{Result: classify(err), Duration: elapsed, Err: err})
}

// syncStatus publishes the current status if it differs from the last one
// successfully published. A failed publish is retried on the next fetch.
func (p *Poller) syncStatus() {
	p.statsMu.Lock()
	status, reason := p.stats.Status, p.statusReason
	changed := status != p.publishedStatus
	p.statsMu.Unlock()

	if !changed {
		return
	}

	if err := p.sink.PublishStatus(status, reason); err != nil {
		p.logWarn("failed to publish status", "status", string(status), "error", err)
		return
	}

	p.statsMu.Lock()
	p.publishedStatus = status
	p.statsMu.Unlock()

	p.logInfo("upstream status changed", "status", string(status), "reason", reason)
}

func (p *Poller) publishBindings(snap *Snapshot, bindings []ChannelBinding, source string) {
	now := time.Now().UTC()
	for _, b := range bindings {
		update := ChannelUpdate{
			Channel:   b.Channel,
			DeviceID:  b.DeviceID,
			State:     ResolveState(b.DeviceID, snap),
			Source:    source,
			Timestamp: now,
		}
		if err := p.sink.PublishState(update); err != nil {
			p.logWarn("failed to publish channel state", "channel", b.Channel, "error", err)
		}
	}
}

func (p *Poller) observe(r PollResult) {
	if p.onPoll != nil {
		p.onPoll(r)
	}
}

// classify maps a fetch error to a telemetry result tag.
func classify(err error) string {
	switch {
	case errors.Is(err, ErrDecode):
		return ResultDecode
	case errors.Is(err, ErrHTTPStatus):
		return ResultHTTPStatus
	default:
		return ResultNetwork
	}
}

func (p *Poller) getLogger() Logger {
	p.loggerMu.RLock()
	defer p.loggerMu.RUnlock()
	return p.logger
}

func (p *Poller) logInfo(msg string, keysAndValues ...any) {
	if logger := p.getLogger(); logger != nil {
		logger.Info(msg, keysAndValues...)
	}
}

func (p *Poller) logWarn(msg string, keysAndValues ...any) {
	if logger := p.getLogger(); logger != nil {
		logger.Warn(msg, keysAndValues...)
	}
}
