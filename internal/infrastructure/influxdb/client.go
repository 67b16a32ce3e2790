package influxdb

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"

	"github.com/nerrad567/smartcare-bridge/internal/infrastructure/config"
)

const (
	defaultBatchSize     = 100
	defaultFlushInterval = 10 * time.Second
	pingTimeout          = 5 * time.Second
)

// Options selects the bucket the bridge writes to and how writes are batched.
type Options struct {
	URL    string
	Token  string
	Org    string
	Bucket string

	// BatchSize points are buffered before a write. Default: 100.
	BatchSize uint

	// FlushInterval forces a write of a partial batch. Default: 10s.
	FlushInterval time.Duration

	// BridgeID is added as the "bridge" tag on every point, so several
	// bridges can share a bucket.
	BridgeID string
}

// OptionsFromConfig maps the core InfluxDB configuration onto Options. It
// returns ErrDisabled when telemetry is switched off.
func OptionsFromConfig(cfg config.InfluxDBConfig, bridgeID string) (Options, error) {
	if !cfg.Enabled {
		return Options{}, ErrDisabled
	}

	opts := Options{
		URL:      cfg.URL,
		Token:    cfg.Token,
		Org:      cfg.Org,
		Bucket:   cfg.Bucket,
		BridgeID: bridgeID,
	}
	if cfg.BatchSize > 0 {
		opts.BatchSize = uint(cfg.BatchSize)
	}
	if cfg.FlushInterval > 0 {
		opts.FlushInterval = time.Duration(cfg.FlushInterval) * time.Second
	}
	return opts, nil
}

// Stats counts telemetry points since Connect.
type Stats struct {
	Points      uint64 `json:"points"`
	WriteErrors uint64 `json:"write_errors"`
}

// Client records bridge telemetry. Writes are buffered and sent in the
// background; they never block the poller, and failures surface through
// SetOnError and Stats.
//
// All methods are safe for concurrent use.
type Client struct {
	client   influxdb2.Client
	writeAPI api.WriteAPI

	closed      atomic.Bool
	points      atomic.Uint64
	writeErrors atomic.Uint64
	errorsDone  chan struct{}

	onErrorMu sync.RWMutex
	onError   func(err error)
}

// Connect creates the client and pings the server once; an unreachable
// server is an error so a misconfigured URL is caught at startup.
func Connect(ctx context.Context, opts Options) (*Client, error) {
	if opts.URL == "" || opts.Org == "" || opts.Bucket == "" {
		return nil, fmt.Errorf("%w: url, org and bucket are required", ErrConnectionFailed)
	}

	batchSize := opts.BatchSize
	if batchSize == 0 {
		batchSize = defaultBatchSize
	}
	flush := opts.FlushInterval
	if flush <= 0 {
		flush = defaultFlushInterval
	}

	clientOpts := influxdb2.DefaultOptions().
		SetBatchSize(batchSize).
		SetFlushInterval(uint(flush.Milliseconds()))
	if opts.BridgeID != "" {
		clientOpts.AddDefaultTag("bridge", opts.BridgeID)
	}

	client := influxdb2.NewClientWithOptions(opts.URL, opts.Token, clientOpts)

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()

	if err := ping(pingCtx, client); err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: %s: %w", ErrConnectionFailed, opts.URL, err)
	}

	c := &Client{
		client:     client,
		writeAPI:   client.WriteAPI(opts.Org, opts.Bucket),
		errorsDone: make(chan struct{}),
	}
	go c.drainErrors(c.writeAPI.Errors())

	return c, nil
}

func ping(ctx context.Context, client influxdb2.Client) error {
	healthy, err := client.Ping(ctx)
	if err != nil {
		return err
	}
	if !healthy {
		return fmt.Errorf("server not ready")
	}
	return nil
}

// drainErrors counts and forwards asynchronous write failures until the
// write API closes the channel.
func (c *Client) drainErrors(errs <-chan error) {
	defer close(c.errorsDone)
	for err := range errs {
		c.writeErrors.Add(1)

		c.onErrorMu.RLock()
		callback := c.onError
		c.onErrorMu.RUnlock()
		if callback != nil {
			callback(fmt.Errorf("%w: %w", ErrWriteFailed, err))
		}
	}
}

// SetOnError registers a callback for asynchronous write failures.
func (c *Client) SetOnError(callback func(err error)) {
	c.onErrorMu.Lock()
	c.onError = callback
	c.onErrorMu.Unlock()
}

// HealthCheck pings the server.
func (c *Client) HealthCheck(ctx context.Context) error {
	if c.closed.Load() {
		return ErrNotConnected
	}

	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()

	if err := ping(ctx, c.client); err != nil {
		return fmt.Errorf("influxdb health check: %w", err)
	}
	return nil
}

// Stats returns the point and error counters.
func (c *Client) Stats() Stats {
	return Stats{
		Points:      c.points.Load(),
		WriteErrors: c.writeErrors.Load(),
	}
}

// Close flushes buffered points and releases the client. Later writes are
// dropped. Safe to call more than once.
func (c *Client) Close() error {
	if c.client == nil || !c.closed.CompareAndSwap(false, true) {
		return nil
	}

	c.writeAPI.Flush()
	c.client.Close()

	select {
	case <-c.errorsDone:
	case <-time.After(pingTimeout):
	}
	return nil
}
