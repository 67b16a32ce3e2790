package mqtt

import (
	"crypto/tls"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/smartcare-bridge/internal/infrastructure/config"
)

const (
	defaultConnectTimeout = 10 * time.Second
	publishTimeout        = 5 * time.Second
	keepAlive             = 60 * time.Second

	// disconnectQuiesce is in milliseconds, as paho expects.
	disconnectQuiesce = 1000

	maxQoS = 2
)

// Options holds the connection settings the bridge uses. Build it with
// OptionsFromConfig or fill it directly in tests.
type Options struct {
	// BrokerURL is tcp://host:port, or ssl://host:port for TLS.
	BrokerURL string

	ClientID string
	Username string
	Password string

	// QoS is used for presence messages.
	QoS byte

	// ConnectTimeout bounds the initial connection. Default: 10s.
	ConnectTimeout time.Duration

	// RetryInterval is the first reconnect delay; MaxReconnectInterval caps
	// the exponential backoff.
	RetryInterval        time.Duration
	MaxReconnectInterval time.Duration

	// Presence identifies this process in its online/offline marker.
	Presence Presence
}

// Presence names the bridge instance behind the connection.
type Presence struct {
	Protocol string
	BridgeID string
	Version  string
}

// OptionsFromConfig maps the core MQTT configuration onto Options.
func OptionsFromConfig(cfg config.MQTTConfig, presence Presence) Options {
	scheme := "tcp"
	if cfg.Broker.TLS {
		scheme = "ssl"
	}
	return Options{
		BrokerURL:            scheme + "://" + net.JoinHostPort(cfg.Broker.Host, strconv.Itoa(cfg.Broker.Port)),
		ClientID:             cfg.Broker.ClientID,
		Username:             cfg.Auth.Username,
		Password:             cfg.Auth.Password,
		QoS:                  byte(cfg.QoS),
		RetryInterval:        time.Duration(cfg.Reconnect.InitialDelay) * time.Second,
		MaxReconnectInterval: time.Duration(cfg.Reconnect.MaxDelay) * time.Second,
		Presence:             presence,
	}
}

func (o Options) validate() error {
	switch {
	case o.BrokerURL == "":
		return fmt.Errorf("%w: broker URL is required", ErrInvalidOptions)
	case o.ClientID == "":
		return fmt.Errorf("%w: client ID is required", ErrInvalidOptions)
	case o.Presence.Protocol == "" || o.Presence.BridgeID == "":
		return fmt.Errorf("%w: presence protocol and bridge ID are required", ErrInvalidOptions)
	case o.QoS > maxQoS:
		return ErrInvalidQoS
	}
	return nil
}

func (o Options) connectTimeout() time.Duration {
	if o.ConnectTimeout <= 0 {
		return defaultConnectTimeout
	}
	return o.ConnectTimeout
}

// clientOptions translates Options into paho options. The will and the
// connection handlers are added by Connect.
func (o Options) clientOptions() (*pahomqtt.ClientOptions, error) {
	u, err := url.Parse(o.BrokerURL)
	if err != nil {
		return nil, fmt.Errorf("%w: broker URL: %w", ErrInvalidOptions, err)
	}

	po := pahomqtt.NewClientOptions().
		AddBroker(o.BrokerURL).
		SetClientID(o.ClientID).
		SetCleanSession(true).
		SetAutoReconnect(true).
		SetConnectTimeout(o.connectTimeout()).
		SetKeepAlive(keepAlive)

	if o.RetryInterval > 0 {
		po.SetConnectRetryInterval(o.RetryInterval)
	}
	if o.MaxReconnectInterval > 0 {
		po.SetMaxReconnectInterval(o.MaxReconnectInterval)
	}

	if o.Username != "" {
		po.SetUsername(o.Username)
		po.SetPassword(o.Password)
	}

	switch u.Scheme {
	case "ssl", "tls", "mqtts":
		po.SetTLSConfig(&tls.Config{MinVersion: tls.VersionTLS12})
	}

	return po, nil
}
