package handlers

import (
	"net/http"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/host"
	"github.com/shirou/gopsutil/v4/mem"
)

// SystemReport carries host-level diagnostics
type SystemReport struct {
	Status        string    `json:"status"`
	Timestamp     time.Time `json:"timestamp"`
	Version       string    `json:"version"`
	GoVersion     string    `json:"go_version"`
	Goroutines    int       `json:"goroutines"`
	CPUCount      int       `json:"cpu_count"`
	CPUPercent    float64   `json:"cpu_percent"`
	MemoryUsedMB  uint64    `json:"memory_used_mb"`
	MemoryTotalMB uint64    `json:"memory_total_mb"`
	MemoryPercent float64   `json:"memory_percent"`
	HostUptimeSec uint64    `json:"host_uptime_sec"`
	ProcessUptime string    `json:"process_uptime"`
}

// SystemHandler reports process and host diagnostics without touching any
// provider
type SystemHandler struct {
	version string
	started time.Time
}

// NewSystemHandler creates a new SystemHandler
func NewSystemHandler(version string) *SystemHandler {
	return &SystemHandler{
		version: version,
		started: time.Now(),
	}
}

// Diagnostics handles GET /health/system
func (h *SystemHandler) Diagnostics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		RenderError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	report := SystemReport{
		Status:        "healthy",
		Timestamp:     time.Now().UTC(),
		Version:       h.version,
		GoVersion:     runtime.Version(),
		Goroutines:    runtime.NumGoroutine(),
		CPUCount:      runtime.NumCPU(),
		ProcessUptime: time.Since(h.started).Round(time.Second).String(),
	}

	// Host metrics are best-effort; restricted containers may not expose them
	if pct, err := cpu.PercentWithContext(r.Context(), 0, false); err == nil && len(pct) > 0 {
		report.CPUPercent = pct[0]
	}
	if vm, err := mem.VirtualMemoryWithContext(r.Context()); err == nil {
		report.MemoryUsedMB = vm.Used >> 20
		report.MemoryTotalMB = vm.Total >> 20
		report.MemoryPercent = vm.UsedPercent
	}
	if uptime, err := host.UptimeWithContext(r.Context()); err == nil {
		report.HostUptimeSec = uptime
	}

	RenderJSON(w, http.StatusOK, report)
}
