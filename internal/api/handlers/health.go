package handlers

import (
	"net/http"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/jroosing/bsdm-proxy/internal/api/models"
)

// Health godoc
// @Summary Health check
// @Description Returns server health status
// @Tags system
// @Produce json
// @Success 200 {object} models.StatusResponse
// @Router /health [get]
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, models.StatusResponse{Status: "ok"})
}

// Stats godoc
// @Summary Server statistics
// @Description Returns runtime statistics including system CPU/memory usage, request stats, and cache stats
// @Tags system
// @Produce json
// @Success 200 {object} models.ServerStatsResponse
// @Security ApiKeyAuth
// @Router /stats [get]
func (h *Handler) Stats(c *gin.Context) {
	uptime := time.Since(h.startTime)

	memStats := models.MemoryStats{}
	if vmStat, err := mem.VirtualMemory(); err == nil {
		memStats.TotalMB = float64(vmStat.Total) / 1024 / 1024
		memStats.FreeMB = float64(vmStat.Available) / 1024 / 1024
		memStats.UsedMB = float64(vmStat.Used) / 1024 / 1024
		memStats.UsedPercent = vmStat.UsedPercent
	}

	cpuStats := models.CPUStats{NumCPU: runtime.NumCPU()}
	if cpuPercent, err := cpu.Percent(200*time.Millisecond, false); err == nil && len(cpuPercent) > 0 {
		cpuStats.UsedPercent = cpuPercent[0]
		cpuStats.IdlePercent = 100.0 - cpuPercent[0]
	}

	resp := models.ServerStatsResponse{
		Uptime:        uptime.Round(time.Second).String(),
		UptimeSeconds: int64(uptime.Seconds()),
		StartTime:     h.startTime,
		CPU:           cpuStats,
		Memory:        memStats,
		Proxy:         h.getProxyStatsResponse(),
		Cache:         h.getCacheStatsResponse(),
		Events:        h.getEventsStatsResponse(),
	}

	c.JSON(http.StatusOK, resp)
}

func (h *Handler) getProxyStatsResponse() models.ProxyStatsResponse {
	fn := h.getProxyStats()
	if fn == nil {
		return models.ProxyStatsResponse{}
	}
	snap := fn()
	return models.ProxyStatsResponse{
		RequestsTotal: snap.RequestsTotal,
		Hits:          snap.Hits,
		Misses:        snap.Misses,
		Bypasses:      snap.Bypasses,
		Errors:        snap.Errors,
		ConnectTotal:  snap.ConnectTotal,
		AvgLatencyMs:  snap.AvgLatencyMs,
	}
}

func (h *Handler) getCacheStatsResponse() models.CacheStatsResponse {
	cache := h.getCache()
	if cache == nil {
		return models.CacheStatsResponse{}
	}
	snap := cache.Snapshot()
	return models.CacheStatsResponse{
		Entries:   snap.Entries,
		Hits:      snap.Hits,
		Misses:    snap.Misses,
		Evictions: snap.Evictions,
	}
}

func (h *Handler) getEventsStatsResponse() models.EventsStatsResponse {
	emitter := h.getEmitter()
	if emitter == nil {
		return models.EventsStatsResponse{}
	}
	snap := emitter.Snapshot()
	return models.EventsStatsResponse{
		Sent:    snap.Sent,
		Dropped: snap.Dropped,
		Queued:  snap.Queued,
	}
}
