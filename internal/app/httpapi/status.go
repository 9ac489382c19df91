package httpapi

import (
	"context"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

type systemStatusResponse struct {
	Service           string    `json:"service"`
	Time              time.Time `json:"time"`
	UptimeSeconds     int64     `json:"uptime_seconds"`
	Goroutines        int       `json:"goroutines"`
	HeapAllocMB       float64   `json:"heap_alloc_mb"`
	CPUPercent        float64   `json:"cpu_percent"`
	MemoryUsedPercent float64   `json:"memory_used_percent"`
	MemoryTotalMB     float64   `json:"memory_total_mb"`
}

// statusProbe snapshots process and host health for the status endpoint.
type statusProbe struct {
	started time.Time
}

func newStatusProbe() *statusProbe {
	return &statusProbe{started: time.Now().UTC()}
}

func (p *statusProbe) snapshot(ctx context.Context) systemStatusResponse {
	now := time.Now().UTC()
	resp := systemStatusResponse{
		Service:       "reservation-engine",
		Time:          now,
		UptimeSeconds: int64(now.Sub(p.started).Seconds()),
		Goroutines:    runtime.NumGoroutine(),
	}

	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	resp.HeapAllocMB = float64(ms.HeapAlloc) / 1024 / 1024

	// Host probes are best effort; a restricted container still answers.
	if percents, err := cpu.PercentWithContext(ctx, 0, false); err == nil && len(percents) > 0 {
		resp.CPUPercent = percents[0]
	}
	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		resp.MemoryUsedPercent = vm.UsedPercent
		resp.MemoryTotalMB = float64(vm.Total) / 1024 / 1024
	}
	return resp
}
