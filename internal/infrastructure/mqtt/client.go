package mqtt

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
)

// Client is the bridge's broker session. It announces the bridge on its
// presence topic, leaves a will behind for crashes and restores
// subscriptions after paho reconnects.
//
// All methods are safe for concurrent use.
type Client struct {
	paho pahomqtt.Client
	opts Options

	connected atomic.Bool

	subsMu sync.Mutex
	subs   map[string]subscription

	hooksMu      sync.RWMutex
	onConnect    func()
	onDisconnect func(err error)
	upstream     func() string

	logger   Logger
	loggerMu sync.RWMutex
}

// Logger is satisfied by *logging.Logger and *slog.Logger.
type Logger interface {
	Error(msg string, args ...any)
	Warn(msg string, args ...any)
}

// Connect opens the session. The will is registered before the first
// CONNECT, so it reports the bridge offline even if the process dies
// before Close. A broker that is unreachable at startup is an error;
// connections lost later are retried by paho with exponential backoff.
func Connect(opts Options) (*Client, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}

	po, err := opts.clientOptions()
	if err != nil {
		return nil, err
	}

	c := &Client{
		opts: opts,
		subs: make(map[string]subscription),
	}

	will, err := c.presencePayload(PresenceOffline, ReasonConnectionLost)
	if err != nil {
		return nil, err
	}
	po.SetBinaryWill(c.presenceTopic(), will, opts.QoS, true)

	po.SetOnConnectHandler(func(pahomqtt.Client) { c.handleConnect() })
	po.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) { c.handleConnectionLost(err) })
	po.SetReconnectingHandler(func(pahomqtt.Client, *pahomqtt.ClientOptions) {
		if logger := c.getLogger(); logger != nil {
			logger.Warn("MQTT reconnecting", "broker", opts.BrokerURL)
		}
	})

	c.paho = pahomqtt.NewClient(po)
	if err := wait(c.paho.Connect(), opts.connectTimeout()); err != nil {
		c.paho.Disconnect(0)
		return nil, fmt.Errorf("%w: %s: %w", ErrConnectionFailed, opts.BrokerURL, err)
	}

	// handleConnect runs on its own goroutine and may not have run yet.
	c.connected.Store(true)
	return c, nil
}

// handleConnect runs after the first connect and after every reconnect.
func (c *Client) handleConnect() {
	c.connected.Store(true)
	c.resubscribe()

	// The handler must not block on tokens; the online marker is fire and forget.
	if payload, err := c.presencePayload(PresenceOnline, ""); err == nil {
		c.paho.Publish(c.presenceTopic(), c.opts.QoS, true, payload)
	}

	c.hooksMu.RLock()
	hook := c.onConnect
	c.hooksMu.RUnlock()
	if hook != nil {
		hook()
	}
}

func (c *Client) handleConnectionLost(err error) {
	c.connected.Store(false)

	c.hooksMu.RLock()
	hook := c.onDisconnect
	c.hooksMu.RUnlock()
	if hook != nil {
		hook(err)
	}
}

// Close publishes the shutdown marker, which replaces the will, and
// disconnects. Calling Close on a client that never connected is a no-op.
func (c *Client) Close() error {
	if c.paho == nil {
		return nil
	}

	if c.IsConnected() {
		payload, err := c.presencePayload(PresenceOffline, ReasonShutdown)
		if err == nil {
			c.paho.Publish(c.presenceTopic(), c.opts.QoS, true, payload).WaitTimeout(publishTimeout)
		}
	}

	c.paho.Disconnect(disconnectQuiesce)
	c.connected.Store(false)
	return nil
}

// HealthCheck reports ErrNotConnected while the session is down.
func (c *Client) HealthCheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("mqtt health check: %w", err)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}
	return nil
}

// IsConnected reports the last known connection state.
func (c *Client) IsConnected() bool {
	return c.paho != nil && c.connected.Load() && c.paho.IsConnected()
}

// SetOnConnect registers a hook run after every (re)connect.
func (c *Client) SetOnConnect(hook func()) {
	c.hooksMu.Lock()
	c.onConnect = hook
	c.hooksMu.Unlock()
}

// SetOnDisconnect registers a hook run when the connection is lost.
func (c *Client) SetOnDisconnect(hook func(err error)) {
	c.hooksMu.Lock()
	c.onDisconnect = hook
	c.hooksMu.Unlock()
}

// SetLogger sets the logger for handler failures and reconnects.
func (c *Client) SetLogger(logger Logger) {
	c.loggerMu.Lock()
	c.logger = logger
	c.loggerMu.Unlock()
}

func (c *Client) getLogger() Logger {
	c.loggerMu.RLock()
	defer c.loggerMu.RUnlock()
	return c.logger
}

// wait blocks until the token completes or timeout elapses.
func wait(token pahomqtt.Token, timeout time.Duration) error {
	if !token.WaitTimeout(timeout) {
		return fmt.Errorf("%w after %v", ErrTimeout, timeout)
	}
	return token.Error()
}
