package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_ValidConfig(t *testing.T) {
	content := `
site:
  id: "test-site"
database:
  path: "/tmp/test.db"
  wal_mode: true
  busy_timeout: 5
mqtt:
  broker:
    host: "localhost"
    port: 1883
    client_id: "test-client"
  qos: 1
api:
  host: "0.0.0.0"
  port: 8090
protocols:
  smartcare:
    enabled: true
    config_file: "configs/smartcare.yaml"
`
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Site.ID != "test-site" {
		t.Errorf("Site.ID = %q, want %q", cfg.Site.ID, "test-site")
	}

	if cfg.Database.Path != "/tmp/test.db" {
		t.Errorf("Database.Path = %q, want %q", cfg.Database.Path, "/tmp/test.db")
	}

	if cfg.MQTT.Broker.ClientID != "test-client" {
		t.Errorf("MQTT.Broker.ClientID = %q, want %q", cfg.MQTT.Broker.ClientID, "test-client")
	}

	if cfg.Protocols.SmartCare.ConfigFile != "configs/smartcare.yaml" {
		t.Errorf("Protocols.SmartCare.ConfigFile = %q", cfg.Protocols.SmartCare.ConfigFile)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	if err == nil {
		t.Error("Load() expected error for missing file, got nil")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(configPath, []byte("invalid: [yaml: content"), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	_, err := Load(configPath)
	if err == nil {
		t.Error("Load() expected error for invalid YAML, got nil")
	}
}

func TestLoad_ValidationFailure(t *testing.T) {
	content := `
site:
  id: ""
`
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	_, err := Load(configPath)
	if err == nil {
		t.Error("Load() expected validation error for empty site.id, got nil")
	}
}

func TestConfig_Validate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Site:     SiteConfig{ID: "site-001"},
			Database: DatabaseConfig{Path: "/data/smartcare.db"},
			MQTT:     MQTTConfig{QoS: 1},
			API: APIConfig{
				Enabled:   true,
				Port:      8090,
				WebSocket: WebSocketConfig{MaxMessageSize: 8192, PingInterval: 30, PongTimeout: 10},
			},
			Protocols: ProtocolsConfig{
				SmartCare: SmartCareConfig{Enabled: true, ConfigFile: "smartcare.yaml"},
			},
		}
	}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{
			name:    "valid config",
			mutate:  func(_ *Config) {},
			wantErr: false,
		},
		{
			name:    "missing site id",
			mutate:  func(c *Config) { c.Site.ID = "" },
			wantErr: true,
		},
		{
			name:    "missing database path",
			mutate:  func(c *Config) { c.Database.Path = "" },
			wantErr: true,
		},
		{
			name:    "invalid QoS",
			mutate:  func(c *Config) { c.MQTT.QoS = 3 },
			wantErr: true,
		},
		{
			name:    "invalid API port",
			mutate:  func(c *Config) { c.API.Port = 0 },
			wantErr: true,
		},
		{
			name: "API port ignored when API disabled",
			mutate: func(c *Config) {
				c.API.Enabled = false
				c.API.Port = 0
			},
			wantErr: false,
		},
		{
			name:    "zero websocket ping interval",
			mutate:  func(c *Config) { c.API.WebSocket.PingInterval = 0 },
			wantErr: true,
		},
		{
			name:    "influxdb enabled without url",
			mutate:  func(c *Config) { c.InfluxDB.Enabled = true },
			wantErr: true,
		},
		{
			name:    "smartcare enabled without config file",
			mutate:  func(c *Config) { c.Protocols.SmartCare.ConfigFile = "" },
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestConfig_GetTimeouts(t *testing.T) {
	cfg := &Config{
		API: APIConfig{
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 45,
				Idle:  60,
			},
		},
	}

	if got := cfg.GetReadTimeout(); got != 30*time.Second {
		t.Errorf("GetReadTimeout() = %v, want 30s", got)
	}
	if got := cfg.GetWriteTimeout(); got != 45*time.Second {
		t.Errorf("GetWriteTimeout() = %v, want 45s", got)
	}
	if got := cfg.GetIdleTimeout(); got != 60*time.Second {
		t.Errorf("GetIdleTimeout() = %v, want 60s", got)
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	t.Setenv("SMARTCARE_DATABASE_PATH", "/env/db.sqlite")
	t.Setenv("SMARTCARE_MQTT_HOST", "mqtt.example.com")
	t.Setenv("SMARTCARE_MQTT_USERNAME", "envuser")
	t.Setenv("SMARTCARE_MQTT_PASSWORD", "envpass")
	t.Setenv("SMARTCARE_API_HOST", "127.0.0.1")
	t.Setenv("SMARTCARE_INFLUXDB_TOKEN", "env-token")
	t.Setenv("SMARTCARE_BRIDGE_CONFIG", "/etc/smartcare/bridge.yaml")

	cfg := defaultConfig()
	applyEnvOverrides(cfg)

	if cfg.Database.Path != "/env/db.sqlite" {
		t.Errorf("Database.Path = %q, want /env/db.sqlite", cfg.Database.Path)
	}
	if cfg.MQTT.Broker.Host != "mqtt.example.com" {
		t.Errorf("MQTT.Broker.Host = %q, want mqtt.example.com", cfg.MQTT.Broker.Host)
	}
	if cfg.MQTT.Auth.Username != "envuser" {
		t.Errorf("MQTT.Auth.Username = %q, want envuser", cfg.MQTT.Auth.Username)
	}
	if cfg.MQTT.Auth.Password != "envpass" {
		t.Errorf("MQTT.Auth.Password = %q, want envpass", cfg.MQTT.Auth.Password)
	}
	if cfg.API.Host != "127.0.0.1" {
		t.Errorf("API.Host = %q, want 127.0.0.1", cfg.API.Host)
	}
	if cfg.InfluxDB.Token != "env-token" {
		t.Errorf("InfluxDB.Token = %q, want env-token", cfg.InfluxDB.Token)
	}
	if cfg.Protocols.SmartCare.ConfigFile != "/etc/smartcare/bridge.yaml" {
		t.Errorf("Protocols.SmartCare.ConfigFile = %q", cfg.Protocols.SmartCare.ConfigFile)
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := defaultConfig()

	if cfg.MQTT.Broker.Port != 1883 {
		t.Errorf("default MQTT port = %d, want 1883", cfg.MQTT.Broker.Port)
	}
	if cfg.MQTT.QoS != 1 {
		t.Errorf("default MQTT QoS = %d, want 1", cfg.MQTT.QoS)
	}
	if cfg.Logging.Format != "json" {
		t.Errorf("default logging format = %q, want json", cfg.Logging.Format)
	}
	if !cfg.Protocols.SmartCare.Enabled {
		t.Error("smartcare should be enabled by default")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate, got %v", err)
	}
}
