package smartcare

import (
	"fmt"
	"math"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultEndpointURL is the device list endpoint used when none is configured.
const DefaultEndpointURL = "http://localhost:8080/api/devices"

// Config is the root configuration for the SmartCare bridge.
// Loaded from YAML with environment variable overrides.
type Config struct {
	Bridge   BridgeConfig     `yaml:"bridge"`
	Endpoint EndpointConfig   `yaml:"endpoint"`
	Poll     PollConfig       `yaml:"poll"`
	Channels []ChannelBinding `yaml:"channels"`
	History  HistoryConfig    `yaml:"history"`
}

// BridgeConfig contains bridge identity and health settings.
type BridgeConfig struct {
	// ID identifies this bridge instance in status and health messages.
	ID string `yaml:"id"`

	// HealthInterval is how often to publish health status (seconds).
	// Default: 30 seconds.
	HealthInterval int `yaml:"health_interval"`
}

// EndpointConfig describes the SmartCare HTTP endpoint.
type EndpointConfig struct {
	// URL returns the JSON device list.
	URL string `yaml:"url"`

	// TimeoutSeconds bounds one fetch. Values <= 0 select 5 seconds.
	TimeoutSeconds int `yaml:"timeout_seconds"`
}

// maxPollIntervalSeconds is the largest interval that fits a time.Duration.
const maxPollIntervalSeconds = math.MaxInt64 / int64(time.Second)

// PollConfig controls the polling timer.
type PollConfig struct {
	// IntervalSeconds between polls. Missing or invalid values select 10.
	IntervalSeconds int `yaml:"interval_seconds"`

	// OfflineAfterFailures is the number of consecutive failed polls after
	// which the upstream is reported OFFLINE. 0 disables the transition.
	OfflineAfterFailures int `yaml:"offline_after_failures"`

	// rejectedInterval holds the raw interval value that was replaced by
	// the default, for the startup warning.
	rejectedInterval string
}

// UnmarshalYAML decodes the poll section. interval_seconds never fails the
// load: anything other than a positive YAML integer small enough for a
// time.Duration ("fast", true, 12.5, "15", -1) selects the default and is
// reported by RejectedInterval.
func (p *PollConfig) UnmarshalYAML(value *yaml.Node) error {
	var raw struct {
		IntervalSeconds      yaml.Node `yaml:"interval_seconds"`
		OfflineAfterFailures *int      `yaml:"offline_after_failures"`
	}
	if err := value.Decode(&raw); err != nil {
		return err
	}

	if raw.OfflineAfterFailures != nil {
		p.OfflineAfterFailures = *raw.OfflineAfterFailures
	}

	node := &raw.IntervalSeconds
	if node.Kind == 0 || (node.Kind == yaml.ScalarNode && node.ShortTag() == "!!null") {
		return nil
	}

	var n int64
	if node.Kind == yaml.ScalarNode && node.ShortTag() == "!!int" && node.Decode(&n) == nil {
		p.setInterval(n, node.Value)
		return nil
	}
	p.reject(describeNode(node))
	return nil
}

// setInterval stores n, or the default when n is out of range.
func (p *PollConfig) setInterval(n int64, raw string) {
	if n <= 0 || n > maxPollIntervalSeconds || n > math.MaxInt {
		p.reject(raw)
		return
	}
	p.IntervalSeconds = int(n)
	p.rejectedInterval = ""
}

func (p *PollConfig) reject(raw string) {
	p.IntervalSeconds = int(DefaultPollInterval / time.Second)
	p.rejectedInterval = raw
}

// RejectedInterval reports the configured interval value that was replaced
// by the default.
func (p PollConfig) RejectedInterval() (string, bool) {
	return p.rejectedInterval, p.rejectedInterval != ""
}

func describeNode(node *yaml.Node) string {
	if node.Kind == yaml.ScalarNode {
		return node.Value
	}
	return node.ShortTag()
}

// HistoryConfig controls the channel state history.
type HistoryConfig struct {
	// Enabled records every channel state change in SQLite.
	Enabled bool `yaml:"enabled"`

	// RetentionDays prunes older entries once a day. 0 keeps everything.
	RetentionDays int `yaml:"retention_days"`
}

// LoadConfig reads configuration from a YAML file.
//
// The configuration loading order is:
//  1. Default values
//  2. YAML file values
//  3. Environment variables (SMARTCARE_BRIDGE_*)
//
// Parameters:
//   - path: Path to the YAML configuration file
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validation fails
func LoadConfig(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// DefaultConfig returns the configuration used when no file is present.
func DefaultConfig() *Config {
	return defaultConfig()
}

func defaultConfig() *Config {
	return &Config{
		Bridge: BridgeConfig{
			ID:             "smartcare-bridge-01",
			HealthInterval: 30,
		},
		Endpoint: EndpointConfig{
			URL:            DefaultEndpointURL,
			TimeoutSeconds: 5,
		},
		Poll: PollConfig{
			IntervalSeconds:      10,
			OfflineAfterFailures: 3,
		},
		Channels: []ChannelBinding{
			{Channel: "sonos", DeviceID: 1},
			{Channel: "hue", DeviceID: 2},
		},
		History: HistoryConfig{
			Enabled:       true,
			RetentionDays: 30,
		},
	}
}

// applyEnvOverrides applies SMARTCARE_BRIDGE_* environment variables.
// Numeric values that fail to parse are ignored, except the poll interval,
// which falls back to the default like an invalid YAML value.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("SMARTCARE_BRIDGE_ID"); v != "" {
		cfg.Bridge.ID = v
	}
	if v := os.Getenv("SMARTCARE_BRIDGE_ENDPOINT_URL"); v != "" {
		cfg.Endpoint.URL = v
	}
	if n, ok := envInt("SMARTCARE_BRIDGE_ENDPOINT_TIMEOUT"); ok {
		cfg.Endpoint.TimeoutSeconds = n
	}
	if v := os.Getenv("SMARTCARE_BRIDGE_POLL_INTERVAL"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			cfg.Poll.reject(v)
		} else {
			cfg.Poll.setInterval(n, v)
		}
	}
	if n, ok := envInt("SMARTCARE_BRIDGE_OFFLINE_AFTER"); ok {
		cfg.Poll.OfflineAfterFailures = n
	}
}

func envInt(key string) (int, bool) {
	v := os.Getenv(key)
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}

// Validate checks the configuration for errors.
//
// A missing or non-positive poll interval or endpoint timeout is not an
// error; the getters fall back to the defaults.
func (c *Config) Validate() error {
	var errs []string

	if c.Bridge.ID == "" {
		errs = append(errs, "bridge.id is required")
	}
	if c.Bridge.HealthInterval < 1 {
		errs = append(errs, "bridge.health_interval must be at least 1 second")
	}

	errs = append(errs, c.validateEndpoint()...)

	if c.Poll.OfflineAfterFailures < 0 {
		errs = append(errs, "poll.offline_after_failures must not be negative")
	}
	if c.History.RetentionDays < 0 {
		errs = append(errs, "history.retention_days must not be negative")
	}

	errs = append(errs, c.validateChannels()...)

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}
	return nil
}

func (c *Config) validateEndpoint() []string {
	if c.Endpoint.URL == "" {
		return []string{"endpoint.url is required"}
	}
	u, err := url.Parse(c.Endpoint.URL)
	if err != nil {
		return []string{fmt.Sprintf("endpoint.url %q is invalid: %v", c.Endpoint.URL, err)}
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return []string{fmt.Sprintf("endpoint.url %q must use http or https", c.Endpoint.URL)}
	}
	if u.Host == "" {
		return []string{fmt.Sprintf("endpoint.url %q has no host", c.Endpoint.URL)}
	}
	return nil
}

func (c *Config) validateChannels() []string {
	var errs []string
	if len(c.Channels) == 0 {
		return []string{"channels must have at least one entry"}
	}

	seen := make(map[string]bool, len(c.Channels))
	for i, ch := range c.Channels {
		switch {
		case ch.Channel == "":
			errs = append(errs, fmt.Sprintf("channels[%d].channel is required", i))
			continue
		case strings.ContainsAny(ch.Channel, "/+#"):
			errs = append(errs, fmt.Sprintf("channels[%d].channel %q must not contain '/', '+' or '#'", i, ch.Channel))
		}
		if seen[ch.Channel] {
			errs = append(errs, fmt.Sprintf("channels[%d].channel %q is duplicate", i, ch.Channel))
		}
		seen[ch.Channel] = true
	}
	return errs
}

// GetHealthInterval returns the health reporting interval as a Duration.
func (c *Config) GetHealthInterval() time.Duration {
	return time.Duration(c.Bridge.HealthInterval) * time.Second
}

// GetPollInterval returns the poll interval, defaulting to 10 seconds.
func (c *Config) GetPollInterval() time.Duration {
	return c.Poll.Interval()
}

// Interval returns the poll interval, defaulting to 10 seconds.
func (p PollConfig) Interval() time.Duration {
	if p.IntervalSeconds <= 0 || int64(p.IntervalSeconds) > maxPollIntervalSeconds {
		return DefaultPollInterval
	}
	return time.Duration(p.IntervalSeconds) * time.Second
}

// GetHTTPTimeout returns the fetch timeout, defaulting to 5 seconds.
func (c *Config) GetHTTPTimeout() time.Duration {
	if c.Endpoint.TimeoutSeconds <= 0 {
		return DefaultHTTPTimeout
	}
	return time.Duration(c.Endpoint.TimeoutSeconds) * time.Second
}

// GetHistoryRetention returns the retention period, or 0 to keep everything.
func (c *Config) GetHistoryRetention() time.Duration {
	return time.Duration(c.History.RetentionDays) * 24 * time.Hour
}
