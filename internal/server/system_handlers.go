package server

import (
	"context"
	"encoding/json"
	"net/http"
	"runtime"
	"time"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"
)

// SystemHandlers serves host and database status
type SystemHandlers struct {
	dataDir   string
	databases []HealthChecker
	started   time.Time
	log       zerolog.Logger
}

// NewSystemHandlers creates system handlers
func NewSystemHandlers(dataDir string, databases []HealthChecker, log zerolog.Logger) *SystemHandlers {
	return &SystemHandlers{
		dataDir:   dataDir,
		databases: databases,
		started:   time.Now(),
		log:       log.With().Str("component", "system_handlers").Logger(),
	}
}

// SystemStatsResponse is the body of GET /api/system/stats
type SystemStatsResponse struct {
	CPUPercent     float64 `json:"cpu_percent"`
	MemoryPercent  float64 `json:"memory_percent"`
	MemoryUsedMB   float64 `json:"memory_used_mb"`
	DiskPercent    float64 `json:"disk_percent"`
	DiskFreeMB     float64 `json:"disk_free_mb"`
	HostUptimeSecs uint64  `json:"host_uptime_seconds"`
	UptimeSecs     int64   `json:"uptime_seconds"`
	Goroutines     int     `json:"goroutines"`
	HeapAllocMB    float64 `json:"heap_alloc_mb"`
}

// HandleStats returns CPU, memory and data-disk usage
func (h *SystemHandlers) HandleStats(w http.ResponseWriter, r *http.Request) {
	resp := SystemStatsResponse{
		UptimeSecs: int64(time.Since(h.started).Seconds()),
		Goroutines: runtime.NumGoroutine(),
	}

	// 100ms sample keeps the call responsive
	if pct, err := cpu.PercentWithContext(r.Context(), 100*time.Millisecond, false); err != nil {
		h.log.Warn().Err(err).Msg("Failed to get CPU percentage")
	} else if len(pct) > 0 {
		resp.CPUPercent = pct[0]
	}

	if vm, err := mem.VirtualMemoryWithContext(r.Context()); err != nil {
		h.log.Warn().Err(err).Msg("Failed to get memory statistics")
	} else {
		resp.MemoryPercent = vm.UsedPercent
		resp.MemoryUsedMB = float64(vm.Used) / 1024 / 1024
	}

	if h.dataDir != "" {
		if du, err := disk.UsageWithContext(r.Context(), h.dataDir); err != nil {
			h.log.Warn().Err(err).Str("path", h.dataDir).Msg("Failed to get disk usage")
		} else {
			resp.DiskPercent = du.UsedPercent
			resp.DiskFreeMB = float64(du.Free) / 1024 / 1024
		}
	}

	if up, err := host.UptimeWithContext(r.Context()); err == nil {
		resp.HostUptimeSecs = up
	}

	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	resp.HeapAllocMB = float64(ms.HeapAlloc) / 1024 / 1024

	writeJSON(w, http.StatusOK, resp, h.log)
}

// DatabaseHealth is one database's health check result
type DatabaseHealth struct {
	Name         string `json:"name"`
	Healthy      bool   `json:"healthy"`
	Error        string `json:"error,omitempty"`
	SizeBytes    int64  `json:"size_bytes,omitempty"`
	WALSizeBytes int64  `json:"wal_size_bytes,omitempty"`
	PageCount    int64  `json:"page_count,omitempty"`
}

// HandleDatabaseHealth runs an integrity check on every database.
// Responds 503 when any database is unhealthy.
func (h *SystemHandlers) HandleDatabaseHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	status := http.StatusOK
	out := make([]DatabaseHealth, 0, len(h.databases))
	for _, db := range h.databases {
		res := DatabaseHealth{Name: db.Name(), Healthy: true}
		if err := db.HealthCheck(ctx); err != nil {
			h.log.Error().Err(err).Str("database", db.Name()).Msg("Database health check failed")
			res.Healthy = false
			res.Error = err.Error()
			status = http.StatusServiceUnavailable
		}
		if stats, err := db.GetStats(); err != nil {
			h.log.Warn().Err(err).Str("database", db.Name()).Msg("Failed to get database stats")
		} else {
			res.SizeBytes = stats.SizeBytes
			res.WALSizeBytes = stats.WALSizeBytes
			res.PageCount = stats.PageCount
		}
		out = append(out, res)
	}
	writeJSON(w, status, out, h.log)
}

func writeJSON(w http.ResponseWriter, status int, data interface{}, log zerolog.Logger) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}
