package influxdb_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/smartcare-bridge/internal/infrastructure/config"
	"github.com/nerrad567/smartcare-bridge/internal/infrastructure/influxdb"
)

// fakeServer answers the InfluxDB v2 ping and write endpoints and records
// every line-protocol body it receives. Writes are rejected with
// writeStatus when it is set.
type fakeServer struct {
	*httptest.Server

	mu          sync.Mutex
	writes      []string
	writeStatus int
}

func newFakeServer(t *testing.T) *fakeServer {
	t.Helper()
	fs := &fakeServer{}
	fs.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/write") {
			body, _ := io.ReadAll(r.Body) //nolint:errcheck // test server
			fs.mu.Lock()
			fs.writes = append(fs.writes, string(body))
			status := fs.writeStatus
			fs.mu.Unlock()
			if status != 0 {
				http.Error(w, `{"code":"invalid","message":"rejected"}`, status)
				return
			}
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	t.Cleanup(fs.Close)
	return fs
}

func (fs *fakeServer) body() string {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return strings.Join(fs.writes, "\n")
}

func testOptions(url string) influxdb.Options {
	return influxdb.Options{
		URL:           url,
		Token:         "smartcare-test-token",
		Org:           "smartcare",
		Bucket:        "metrics",
		FlushInterval: time.Second,
		BridgeID:      "test-bridge",
	}
}

func connect(t *testing.T, opts influxdb.Options) *influxdb.Client {
	t.Helper()
	client, err := influxdb.Connect(context.Background(), opts)
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	return client
}

// =============================================================================
// Options Tests
// =============================================================================

func TestOptionsFromConfig(t *testing.T) {
	tests := []struct {
		name      string
		cfg       config.InfluxDBConfig
		wantErr   error
		wantBatch uint
		wantFlush time.Duration
	}{
		{
			name:    "disabled",
			cfg:     config.InfluxDBConfig{URL: "http://localhost:8086"},
			wantErr: influxdb.ErrDisabled,
		},
		{
			name: "explicit batching",
			cfg: config.InfluxDBConfig{
				Enabled: true, URL: "http://localhost:8086", Org: "o", Bucket: "b",
				BatchSize: 50, FlushInterval: 3,
			},
			wantBatch: 50,
			wantFlush: 3 * time.Second,
		},
		{
			name: "non-positive batching left to defaults",
			cfg: config.InfluxDBConfig{
				Enabled: true, URL: "http://localhost:8086", Org: "o", Bucket: "b",
				BatchSize: -5,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts, err := influxdb.OptionsFromConfig(tt.cfg, "hall-1")
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("OptionsFromConfig() error = %v, want %v", err, tt.wantErr)
			}
			if err != nil {
				return
			}
			if opts.BridgeID != "hall-1" || opts.URL != tt.cfg.URL || opts.Bucket != tt.cfg.Bucket {
				t.Errorf("OptionsFromConfig() = %+v", opts)
			}
			if opts.BatchSize != tt.wantBatch {
				t.Errorf("BatchSize = %d, want %d", opts.BatchSize, tt.wantBatch)
			}
			if opts.FlushInterval != tt.wantFlush {
				t.Errorf("FlushInterval = %v, want %v", opts.FlushInterval, tt.wantFlush)
			}
		})
	}
}

// =============================================================================
// Connection Tests
// =============================================================================

func TestConnect(t *testing.T) {
	srv := newFakeServer(t)
	client := connect(t, testOptions(srv.URL))
	defer client.Close()

	if stats := client.Stats(); stats != (influxdb.Stats{}) {
		t.Errorf("Stats() = %+v after Connect(), want zero", stats)
	}
}

func TestConnect_MissingSettings(t *testing.T) {
	opts := testOptions("http://127.0.0.1:8086")
	opts.Bucket = ""

	_, err := influxdb.Connect(context.Background(), opts)
	if !errors.Is(err, influxdb.ErrConnectionFailed) {
		t.Errorf("Connect() error = %v, want ErrConnectionFailed", err)
	}
}

func TestConnect_Unreachable(t *testing.T) {
	_, err := influxdb.Connect(context.Background(), testOptions("http://127.0.0.1:59999"))
	if !errors.Is(err, influxdb.ErrConnectionFailed) {
		t.Errorf("Connect() error = %v, want ErrConnectionFailed", err)
	}
}

// =============================================================================
// Health Check Tests
// =============================================================================

func TestHealthCheck(t *testing.T) {
	srv := newFakeServer(t)
	client := connect(t, testOptions(srv.URL))
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.HealthCheck(ctx); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}
}

func TestHealthCheck_AfterClose(t *testing.T) {
	srv := newFakeServer(t)
	client := connect(t, testOptions(srv.URL))
	client.Close()

	if err := client.HealthCheck(context.Background()); !errors.Is(err, influxdb.ErrNotConnected) {
		t.Errorf("HealthCheck() error = %v, want ErrNotConnected", err)
	}
	if err := client.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
}

// =============================================================================
// Write Tests
// =============================================================================

func TestWritePollResult(t *testing.T) {
	srv := newFakeServer(t)
	client := connect(t, testOptions(srv.URL))

	client.WritePollResult("ok", 25*time.Millisecond, 2)
	client.Close()

	body := srv.body()
	for _, want := range []string{"smartcare_poll,", "bridge=test-bridge", "result=ok", "records=2i", "duration_ms=25"} {
		if !strings.Contains(body, want) {
			t.Errorf("write body = %q, want %q", body, want)
		}
	}
	if got := client.Stats().Points; got != 1 {
		t.Errorf("Stats().Points = %d, want 1", got)
	}
}

func TestWriteChannelState(t *testing.T) {
	srv := newFakeServer(t)
	client := connect(t, testOptions(srv.URL))

	client.WriteChannelState("sonos", 1, "percent", map[string]interface{}{"percent": 42.5})
	client.WriteChannelState("hue", 2, "undef", nil)
	client.Close()

	lines := strings.Split(srv.body(), "\n")
	tests := []struct {
		channel string
		want    []string
	}{
		{"channel=sonos", []string{"device_id=1", "kind=percent", "percent=42.5"}},
		{"channel=hue", []string{"device_id=2", "kind=undef", "value=0"}},
	}
	for _, tt := range tests {
		var line string
		for _, l := range lines {
			if strings.Contains(l, tt.channel) {
				line = l
			}
		}
		if line == "" {
			t.Errorf("no point with %s in %q", tt.channel, lines)
			continue
		}
		for _, want := range append(tt.want, "smartcare_channel,", "bridge=test-bridge") {
			if !strings.Contains(line, want) {
				t.Errorf("%s line = %q, want %q", tt.channel, line, want)
			}
		}
	}
}

func TestWriteWithoutBridgeID(t *testing.T) {
	srv := newFakeServer(t)
	opts := testOptions(srv.URL)
	opts.BridgeID = ""
	client := connect(t, opts)

	client.WritePollResult("network", time.Millisecond, 0)
	client.Close()

	if body := srv.body(); strings.Contains(body, "bridge=") {
		t.Errorf("write body = %q, want no bridge tag", body)
	}
}

func TestWriteAfterClose_NoOp(t *testing.T) {
	srv := newFakeServer(t)
	client := connect(t, testOptions(srv.URL))
	if err := client.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	client.WritePollResult("ok", time.Millisecond, 1)

	if body := srv.body(); strings.Contains(body, "smartcare_poll") {
		t.Errorf("write after Close() reached server: %q", body)
	}
	if got := client.Stats().Points; got != 0 {
		t.Errorf("Stats().Points = %d, want 0", got)
	}
}

func TestWriteRejected_ReportsError(t *testing.T) {
	srv := newFakeServer(t)
	srv.writeStatus = http.StatusBadRequest
	client := connect(t, testOptions(srv.URL))

	var (
		mu   sync.Mutex
		errs []error
	)
	client.SetOnError(func(err error) {
		mu.Lock()
		errs = append(errs, err)
		mu.Unlock()
	})

	client.WritePollResult("ok", time.Millisecond, 1)
	client.Close()

	mu.Lock()
	defer mu.Unlock()
	if len(errs) == 0 {
		t.Fatal("SetOnError callback not called for rejected write")
	}
	if !errors.Is(errs[0], influxdb.ErrWriteFailed) {
		t.Errorf("callback error = %v, want ErrWriteFailed", errs[0])
	}
	if got := client.Stats().WriteErrors; got == 0 {
		t.Error("Stats().WriteErrors = 0 after rejected write")
	}
}
