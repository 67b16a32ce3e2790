package api

import (
	"context"
	"net/http"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/nerrad567/smartcare-bridge/internal/bridges/smartcare"
	"github.com/nerrad567/smartcare-bridge/internal/infrastructure/influxdb"
)

// hostMetricsTimeout bounds host collection so a slow /proc read cannot
// stall the metrics endpoint.
const hostMetricsTimeout = 2 * time.Second

// SystemMetrics represents the complete system metrics response.
type SystemMetrics struct {
	Timestamp     string                  `json:"timestamp"`
	Version       string                  `json:"version"`
	UptimeSeconds int64                   `json:"uptime_seconds"`
	Runtime       RuntimeMetrics          `json:"runtime"`
	Host          *HostMetrics            `json:"host,omitempty"`
	MQTT          MQTTMetrics             `json:"mqtt"`
	Bridge        smartcare.BridgeMetrics `json:"bridge"`
	Database      *DatabaseMetrics        `json:"database,omitempty"`
	Telemetry     *influxdb.Stats         `json:"telemetry,omitempty"`
}

// RuntimeMetrics contains Go runtime statistics.
type RuntimeMetrics struct {
	Goroutines    int     `json:"goroutines"`
	MemoryAllocMB float64 `json:"memory_alloc_mb"`
	MemoryTotalMB float64 `json:"memory_total_mb"`
	NumGC         uint32  `json:"num_gc"`
}

// HostMetrics contains machine-level CPU and memory usage.
type HostMetrics struct {
	CPUPercent        float64 `json:"cpu_percent"`
	MemoryTotalMB     float64 `json:"memory_total_mb"`
	MemoryUsedMB      float64 `json:"memory_used_mb"`
	MemoryUsedPercent float64 `json:"memory_used_percent"`
}

// MQTTMetrics contains MQTT client statistics.
type MQTTMetrics struct {
	Connected bool `json:"connected"`
}

// DatabaseMetrics contains database connection pool statistics.
type DatabaseMetrics struct {
	OpenConnections int   `json:"open_connections"`
	InUse           int   `json:"in_use"`
	Idle            int   `json:"idle"`
	WaitCount       int64 `json:"wait_count"`
}

// handleMetrics returns process, MQTT, bridge, database and telemetry metrics.
func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	metrics := SystemMetrics{
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		Version:       s.version,
		UptimeSeconds: int64(time.Since(s.startTime).Seconds()),
		Runtime: RuntimeMetrics{
			Goroutines:    runtime.NumGoroutine(),
			MemoryAllocMB: float64(memStats.Alloc) / 1024 / 1024,
			MemoryTotalMB: float64(memStats.TotalAlloc) / 1024 / 1024,
			NumGC:         memStats.NumGC,
		},
		Host:   s.collectHostMetrics(r.Context()),
		Bridge: s.bridge.GetMetrics(),
	}

	if s.mqtt != nil {
		metrics.MQTT = MQTTMetrics{
			Connected: s.mqtt.IsConnected(),
		}
	}

	if s.db != nil && s.db.DB != nil {
		dbStats := s.db.Stats()
		metrics.Database = &DatabaseMetrics{
			OpenConnections: dbStats.OpenConnections,
			InUse:           dbStats.InUse,
			Idle:            dbStats.Idle,
			WaitCount:       dbStats.WaitCount,
		}
	}

	if s.telemetry != nil {
		stats := s.telemetry.Stats()
		metrics.Telemetry = &stats
	}

	writeJSON(w, http.StatusOK, metrics)
}

// collectHostMetrics reads host CPU and memory usage. It returns nil when
// memory stats are unavailable; CPU usage falls back to zero.
func (s *Server) collectHostMetrics(ctx context.Context) *HostMetrics {
	ctx, cancel := context.WithTimeout(ctx, hostMetricsTimeout)
	defer cancel()

	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		s.logger.Debug("host memory collection failed", "error", err)
		return nil
	}

	host := &HostMetrics{
		MemoryTotalMB:     float64(vm.Total) / 1024 / 1024,
		MemoryUsedMB:      float64(vm.Used) / 1024 / 1024,
		MemoryUsedPercent: vm.UsedPercent,
	}

	// A zero interval compares against the previous call instead of sampling.
	if percent, err := cpu.PercentWithContext(ctx, 0, false); err != nil {
		s.logger.Debug("host cpu collection failed", "error", err)
	} else if len(percent) > 0 {
		host.CPUPercent = percent[0]
	}

	return host
}
