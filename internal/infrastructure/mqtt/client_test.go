package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/smartcare-bridge/internal/infrastructure/config"
)

func testOptions() Options {
	return Options{
		BrokerURL:      "tcp://127.0.0.1:1883",
		ClientID:       "smartcare-test",
		QoS:            1,
		ConnectTimeout: 500 * time.Millisecond,
		Presence: Presence{
			Protocol: "smartcare",
			BridgeID: "smartcare-bridge-01",
			Version:  "1.2.3",
		},
	}
}

// =============================================================================
// Validation Tests (no broker required)
// =============================================================================

func TestCloseNeverConnected(t *testing.T) {
	client := &Client{}
	if err := client.Close(); err != nil {
		t.Errorf("Close() error = %v, want nil", err)
	}
	if client.IsConnected() {
		t.Error("IsConnected() = true for a client that never connected")
	}
}

func TestPublishValidation(t *testing.T) {
	client := &Client{}
	tests := []struct {
		name    string
		topic   string
		payload []byte
		qos     byte
		want    error
	}{
		{"empty topic", "", []byte("x"), 1, ErrInvalidTopic},
		{"qos 3", "graylogic/state/smartcare/sonos", []byte("x"), 3, ErrInvalidQoS},
		{"oversized payload", "graylogic/state/smartcare/sonos", make([]byte, maxPayloadSize+1), 1, ErrPublishFailed},
		{"not connected", "graylogic/state/smartcare/sonos", []byte("x"), 1, ErrNotConnected},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := client.Publish(tt.topic, tt.payload, tt.qos, true); !errors.Is(err, tt.want) {
				t.Errorf("Publish() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestSubscribeValidation(t *testing.T) {
	client := &Client{}
	noop := func(string, []byte) error { return nil }

	if err := client.Subscribe("", 1, noop); !errors.Is(err, ErrInvalidTopic) {
		t.Errorf("Subscribe(empty) error = %v, want ErrInvalidTopic", err)
	}
	if err := client.Subscribe("a/b", 3, noop); !errors.Is(err, ErrInvalidQoS) {
		t.Errorf("Subscribe(qos 3) error = %v, want ErrInvalidQoS", err)
	}
	if err := client.Subscribe("a/b", 1, nil); !errors.Is(err, ErrSubscribeFailed) {
		t.Errorf("Subscribe(nil handler) error = %v, want ErrSubscribeFailed", err)
	}
	if err := client.Subscribe("a/b", 1, noop); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Subscribe(disconnected) error = %v, want ErrNotConnected", err)
	}
}

func TestHealthCheck(t *testing.T) {
	client := &Client{}

	if err := client.HealthCheck(context.Background()); !errors.Is(err, ErrNotConnected) {
		t.Errorf("HealthCheck() error = %v, want ErrNotConnected", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := client.HealthCheck(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("HealthCheck(cancelled) error = %v, want context.Canceled", err)
	}
}

func TestConnect_InvalidOptions(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(o *Options)
		want   error
	}{
		{"no broker", func(o *Options) { o.BrokerURL = "" }, ErrInvalidOptions},
		{"no client id", func(o *Options) { o.ClientID = "" }, ErrInvalidOptions},
		{"no bridge id", func(o *Options) { o.Presence.BridgeID = "" }, ErrInvalidOptions},
		{"no protocol", func(o *Options) { o.Presence.Protocol = "" }, ErrInvalidOptions},
		{"qos 3", func(o *Options) { o.QoS = 3 }, ErrInvalidQoS},
		{"bad url", func(o *Options) { o.BrokerURL = "tcp://[::1" }, ErrInvalidOptions},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := testOptions()
			tt.mutate(&opts)
			if _, err := Connect(opts); !errors.Is(err, tt.want) {
				t.Errorf("Connect() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestConnect_BrokerRefused(t *testing.T) {
	opts := testOptions()
	opts.BrokerURL = "tcp://127.0.0.1:19999"

	_, err := Connect(opts)
	if !errors.Is(err, ErrConnectionFailed) {
		t.Errorf("Connect() error = %v, want ErrConnectionFailed", err)
	}
}

// =============================================================================
// Options Tests
// =============================================================================

func TestOptionsFromConfig(t *testing.T) {
	cfg := config.MQTTConfig{
		Broker: config.MQTTBrokerConfig{Host: "broker.local", Port: 8883, TLS: true, ClientID: "bridge-1"},
		Auth:   config.MQTTAuthConfig{Username: "bridge", Password: "secret"},
		QoS:    2,
		Reconnect: config.MQTTReconnectConfig{
			InitialDelay: 2,
			MaxDelay:     30,
		},
	}

	opts := OptionsFromConfig(cfg, Presence{Protocol: "smartcare", BridgeID: "b1"})

	if opts.BrokerURL != "ssl://broker.local:8883" {
		t.Errorf("BrokerURL = %q", opts.BrokerURL)
	}
	if opts.ClientID != "bridge-1" || opts.Username != "bridge" || opts.Password != "secret" {
		t.Errorf("identity = %q %q %q", opts.ClientID, opts.Username, opts.Password)
	}
	if opts.QoS != 2 {
		t.Errorf("QoS = %d, want 2", opts.QoS)
	}
	if opts.RetryInterval != 2*time.Second || opts.MaxReconnectInterval != 30*time.Second {
		t.Errorf("reconnect = %v / %v", opts.RetryInterval, opts.MaxReconnectInterval)
	}
	if opts.Presence.BridgeID != "b1" {
		t.Errorf("Presence = %+v", opts.Presence)
	}
}

func TestOptionsFromConfig_IPv6Host(t *testing.T) {
	cfg := config.MQTTConfig{Broker: config.MQTTBrokerConfig{Host: "::1", Port: 1883}}
	if got := OptionsFromConfig(cfg, Presence{}).BrokerURL; got != "tcp://[::1]:1883" {
		t.Errorf("BrokerURL = %q", got)
	}
}

func TestClientOptions(t *testing.T) {
	opts := testOptions()
	opts.Username = "bridge"
	opts.Password = "secret"
	opts.RetryInterval = 2 * time.Second

	po, err := opts.clientOptions()
	if err != nil {
		t.Fatalf("clientOptions() error = %v", err)
	}

	if len(po.Servers) != 1 || po.Servers[0].String() != "tcp://127.0.0.1:1883" {
		t.Errorf("Servers = %v", po.Servers)
	}
	if po.ClientID != "smartcare-test" || po.Username != "bridge" {
		t.Errorf("ClientID/Username = %q/%q", po.ClientID, po.Username)
	}
	if !po.AutoReconnect || !po.CleanSession {
		t.Error("AutoReconnect and CleanSession should be enabled")
	}
	if po.ConnectRetryInterval != 2*time.Second {
		t.Errorf("ConnectRetryInterval = %v", po.ConnectRetryInterval)
	}
	if po.ConnectTimeout != 500*time.Millisecond {
		t.Errorf("ConnectTimeout = %v", po.ConnectTimeout)
	}
	if po.TLSConfig != nil {
		t.Error("TLSConfig set for tcp broker")
	}
}

func TestClientOptions_TLS(t *testing.T) {
	opts := testOptions()
	opts.BrokerURL = "ssl://broker.local:8883"

	po, err := opts.clientOptions()
	if err != nil {
		t.Fatalf("clientOptions() error = %v", err)
	}
	if po.TLSConfig == nil {
		t.Error("TLSConfig should be set for ssl broker")
	}
}

// =============================================================================
// Presence Tests
// =============================================================================

func TestPresenceMessage(t *testing.T) {
	client := &Client{opts: testOptions()}

	if got := client.presence(PresenceOnline, "").Upstream; got != "" {
		t.Errorf("Upstream without source = %q, want empty", got)
	}

	client.SetUpstreamStatus(func() string { return "OFFLINE" })
	payload, err := client.presencePayload(PresenceOffline, ReasonConnectionLost)
	if err != nil {
		t.Fatalf("presencePayload() error = %v", err)
	}

	var msg PresenceMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if msg.Bridge != "smartcare-bridge-01" || msg.ClientID != "smartcare-test" || msg.Version != "1.2.3" {
		t.Errorf("identity = %+v", msg)
	}
	if msg.Status != PresenceOffline || msg.Reason != ReasonConnectionLost || msg.Upstream != "OFFLINE" {
		t.Errorf("status = %+v", msg)
	}
	if msg.Timestamp.IsZero() {
		t.Error("Timestamp not set")
	}

	if topic := client.presenceTopic(); topic != "graylogic/presence/smartcare/smartcare-bridge-01" {
		t.Errorf("presenceTopic() = %q", topic)
	}
}

func TestPublishPresence_NotConnected(t *testing.T) {
	client := &Client{opts: testOptions()}
	if err := client.PublishPresence(); !errors.Is(err, ErrNotConnected) {
		t.Errorf("PublishPresence() error = %v, want ErrNotConnected", err)
	}
}

// =============================================================================
// Topic Tests
// =============================================================================

func TestTopics(t *testing.T) {
	topics := Topics{Protocol: "smartcare"}
	tests := []struct {
		name string
		got  string
		want string
	}{
		{"State", topics.State("sonos"), "graylogic/state/smartcare/sonos"},
		{"StateWildcard", topics.State("+"), "graylogic/state/smartcare/+"},
		{"Status", topics.Status(), "graylogic/status/smartcare"},
		{"Health", topics.Health(), "graylogic/health/smartcare"},
		{"Requests", topics.Requests(), "graylogic/request/smartcare/#"},
		{"Response", topics.Response("req-1"), "graylogic/response/smartcare/req-1"},
		{"Presence", topics.Presence("b1"), "graylogic/presence/smartcare/b1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("%s = %q, want %q", tt.name, tt.got, tt.want)
			}
		})
	}
}

// =============================================================================
// Handler Wrapping Tests
// =============================================================================

// fakeMessage implements pahomqtt.Message for handler tests.
type fakeMessage struct {
	topic   string
	payload []byte
}

func (m fakeMessage) Duplicate() bool   { return false }
func (m fakeMessage) Qos() byte         { return 1 }
func (m fakeMessage) Retained() bool    { return false }
func (m fakeMessage) Topic() string     { return m.topic }
func (m fakeMessage) MessageID() uint16 { return 1 }
func (m fakeMessage) Payload() []byte   { return m.payload }
func (m fakeMessage) Ack()              {}

// mockLogger implements Logger for testing.
type mockLogger struct {
	mu     sync.Mutex
	errors []string
	warns  []string
}

func (l *mockLogger) Error(msg string, _ ...any) {
	l.mu.Lock()
	l.errors = append(l.errors, msg)
	l.mu.Unlock()
}

func (l *mockLogger) Warn(msg string, _ ...any) {
	l.mu.Lock()
	l.warns = append(l.warns, msg)
	l.mu.Unlock()
}

func TestWrapHandler_RecoversPanic(t *testing.T) {
	logger := &mockLogger{}
	client := &Client{}
	client.SetLogger(logger)

	wrapped := client.wrapHandler(func(string, []byte) error {
		panic("boom")
	})
	wrapped(nil, fakeMessage{topic: "graylogic/request/smartcare/r1"})

	if len(logger.errors) != 1 {
		t.Fatalf("errors logged = %d, want 1", len(logger.errors))
	}
}

func TestWrapHandler_LogsHandlerError(t *testing.T) {
	logger := &mockLogger{}
	client := &Client{}
	client.SetLogger(logger)

	var gotTopic string
	wrapped := client.wrapHandler(func(topic string, _ []byte) error {
		gotTopic = topic
		return errors.New("bad request")
	})
	wrapped(nil, fakeMessage{topic: "graylogic/request/smartcare/r2", payload: []byte("{}")})

	if gotTopic != "graylogic/request/smartcare/r2" {
		t.Errorf("handler topic = %q", gotTopic)
	}
	if len(logger.warns) != 1 {
		t.Errorf("warnings logged = %d, want 1", len(logger.warns))
	}
}
