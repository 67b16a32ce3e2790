package smartcare

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "smartcare.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return path
}

func TestLoadConfig_Valid(t *testing.T) {
	path := writeConfig(t, `
bridge:
  id: "smartcare-test"
  health_interval: 15
endpoint:
  url: "http://hub.local:8080/api/devices"
  timeout_seconds: 3
poll:
  interval_seconds: 20
  offline_after_failures: 5
channels:
  - channel: sonos
    device_id: 11
  - channel: hue
    device_id: 12
  - channel: blinds
    device_id: 13
history:
  enabled: false
  retention_days: 7
`)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}

	if cfg.Bridge.ID != "smartcare-test" {
		t.Errorf("Bridge.ID = %q", cfg.Bridge.ID)
	}
	if cfg.GetHealthInterval() != 15*time.Second {
		t.Errorf("GetHealthInterval() = %v", cfg.GetHealthInterval())
	}
	if cfg.GetHTTPTimeout() != 3*time.Second {
		t.Errorf("GetHTTPTimeout() = %v", cfg.GetHTTPTimeout())
	}
	if cfg.GetPollInterval() != 20*time.Second {
		t.Errorf("GetPollInterval() = %v", cfg.GetPollInterval())
	}
	if cfg.Poll.OfflineAfterFailures != 5 {
		t.Errorf("OfflineAfterFailures = %d", cfg.Poll.OfflineAfterFailures)
	}
	if len(cfg.Channels) != 3 || cfg.Channels[2] != (ChannelBinding{Channel: "blinds", DeviceID: 13}) {
		t.Errorf("Channels = %+v", cfg.Channels)
	}
	if cfg.History.Enabled {
		t.Error("History.Enabled should be false")
	}
	if cfg.GetHistoryRetention() != 7*24*time.Hour {
		t.Errorf("GetHistoryRetention() = %v", cfg.GetHistoryRetention())
	}
}

func TestLoadConfig_DefaultsFillGaps(t *testing.T) {
	path := writeConfig(t, `
endpoint:
  url: "https://hub.local/api/devices"
`)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if cfg.GetPollInterval() != 10*time.Second {
		t.Errorf("GetPollInterval() = %v, want 10s", cfg.GetPollInterval())
	}
	if len(cfg.Channels) != 2 || cfg.Channels[0].Channel != "sonos" || cfg.Channels[1].Channel != "hue" {
		t.Errorf("default Channels = %+v", cfg.Channels)
	}
}

func TestLoadConfig_Errors(t *testing.T) {
	if _, err := LoadConfig("/nonexistent/smartcare.yaml"); err == nil {
		t.Error("LoadConfig() expected error for missing file")
	}

	if _, err := LoadConfig(writeConfig(t, "bridge: [oops")); err == nil {
		t.Error("LoadConfig() expected error for invalid YAML")
	}

	_, err := LoadConfig(writeConfig(t, `
endpoint:
  url: "ftp://hub.local/devices"
`))
	if err == nil || !strings.Contains(err.Error(), "http or https") {
		t.Errorf("LoadConfig() error = %v, want scheme error", err)
	}
}

func TestLoadConfig_PollIntervalFallsBack(t *testing.T) {
	tests := []struct {
		name         string
		value        string
		want         time.Duration
		wantRejected bool
	}{
		{"integer", "15", 15 * time.Second, false},
		{"null", "null", DefaultPollInterval, false},
		{"word", `"fast"`, DefaultPollInterval, true},
		{"bare word", "fast", DefaultPollInterval, true},
		{"boolean", "true", DefaultPollInterval, true},
		{"decimal", "12.5", DefaultPollInterval, true},
		{"quoted number", `"15"`, DefaultPollInterval, true},
		{"zero", "0", DefaultPollInterval, true},
		{"negative", "-3", DefaultPollInterval, true},
		{"beyond duration range", "9300000000", DefaultPollInterval, true},
		{"beyond int64", "99999999999999999999", DefaultPollInterval, true},
		{"sequence", "[1, 2]", DefaultPollInterval, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := LoadConfig(writeConfig(t, `
poll:
  interval_seconds: `+tt.value+`
  offline_after_failures: 4
`))
			if err != nil {
				t.Fatalf("LoadConfig() error = %v", err)
			}
			if got := cfg.GetPollInterval(); got != tt.want {
				t.Errorf("GetPollInterval() = %v, want %v", got, tt.want)
			}
			if _, rejected := cfg.Poll.RejectedInterval(); rejected != tt.wantRejected {
				t.Errorf("RejectedInterval() rejected = %v, want %v", rejected, tt.wantRejected)
			}
			if cfg.Poll.OfflineAfterFailures != 4 {
				t.Errorf("OfflineAfterFailures = %d, want 4", cfg.Poll.OfflineAfterFailures)
			}
		})
	}
}

func TestPollInterval_InvalidFallsBack(t *testing.T) {
	for _, seconds := range []int{0, -5} {
		p := PollConfig{IntervalSeconds: seconds}
		if got := p.Interval(); got != DefaultPollInterval {
			t.Errorf("Interval(%d) = %v, want %v", seconds, got, DefaultPollInterval)
		}
	}

	cfg := DefaultConfig()
	cfg.Endpoint.TimeoutSeconds = 0
	if got := cfg.GetHTTPTimeout(); got != DefaultHTTPTimeout {
		t.Errorf("GetHTTPTimeout() = %v, want %v", got, DefaultHTTPTimeout)
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"defaults", func(_ *Config) {}, ""},
		{"zero interval is allowed", func(c *Config) { c.Poll.IntervalSeconds = 0 }, ""},
		{"missing bridge id", func(c *Config) { c.Bridge.ID = "" }, "bridge.id"},
		{"health interval", func(c *Config) { c.Bridge.HealthInterval = 0 }, "health_interval"},
		{"missing url", func(c *Config) { c.Endpoint.URL = "" }, "endpoint.url is required"},
		{"url without host", func(c *Config) { c.Endpoint.URL = "http://" }, "no host"},
		{"negative offline threshold", func(c *Config) { c.Poll.OfflineAfterFailures = -1 }, "offline_after_failures"},
		{"negative retention", func(c *Config) { c.History.RetentionDays = -1 }, "retention_days"},
		{"no channels", func(c *Config) { c.Channels = nil }, "at least one"},
		{"empty channel name", func(c *Config) { c.Channels[0].Channel = "" }, "channels[0].channel is required"},
		{"wildcard in channel", func(c *Config) { c.Channels[1].Channel = "hue/#" }, "must not contain"},
		{"duplicate channel", func(c *Config) { c.Channels[1].Channel = "sonos" }, "duplicate"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() error = %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	t.Setenv("SMARTCARE_BRIDGE_ID", "env-bridge")
	t.Setenv("SMARTCARE_BRIDGE_ENDPOINT_URL", "http://env.local/devices")
	t.Setenv("SMARTCARE_BRIDGE_ENDPOINT_TIMEOUT", "9")
	t.Setenv("SMARTCARE_BRIDGE_POLL_INTERVAL", "not-a-number")
	t.Setenv("SMARTCARE_BRIDGE_OFFLINE_AFTER", "0")

	cfg := defaultConfig()
	applyEnvOverrides(cfg)

	if cfg.Bridge.ID != "env-bridge" {
		t.Errorf("Bridge.ID = %q", cfg.Bridge.ID)
	}
	if cfg.Endpoint.URL != "http://env.local/devices" {
		t.Errorf("Endpoint.URL = %q", cfg.Endpoint.URL)
	}
	if cfg.Endpoint.TimeoutSeconds != 9 {
		t.Errorf("Endpoint.TimeoutSeconds = %d", cfg.Endpoint.TimeoutSeconds)
	}
	if cfg.Poll.IntervalSeconds != 10 {
		t.Errorf("unparseable interval should select the default, got %d", cfg.Poll.IntervalSeconds)
	}
	if raw, rejected := cfg.Poll.RejectedInterval(); !rejected || raw != "not-a-number" {
		t.Errorf("RejectedInterval() = %q, %v", raw, rejected)
	}
	if cfg.Poll.OfflineAfterFailures != 0 {
		t.Errorf("OfflineAfterFailures = %d, want 0", cfg.Poll.OfflineAfterFailures)
	}
}
