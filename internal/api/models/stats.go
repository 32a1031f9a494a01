package models

import "time"

// CPUStats contains system CPU statistics.
type CPUStats struct {
	NumCPU      int     `json:"num_cpu"`
	UsedPercent float64 `json:"used_percent"`
	IdlePercent float64 `json:"idle_percent"`
}

// MemoryStats contains system memory statistics.
type MemoryStats struct {
	TotalMB     float64 `json:"total_mb"`
	FreeMB      float64 `json:"free_mb"`
	UsedMB      float64 `json:"used_mb"`
	UsedPercent float64 `json:"used_percent"`
}

// ProxyStatsResponse contains request-serving statistics.
type ProxyStatsResponse struct {
	RequestsTotal uint64  `json:"requests_total"`
	Hits          uint64  `json:"hits"`
	Misses        uint64  `json:"misses"`
	Bypasses      uint64  `json:"bypasses"`
	Errors        uint64  `json:"errors"`
	ConnectTotal  uint64  `json:"connect_total"`
	AvgLatencyMs  float64 `json:"avg_latency_ms"`
}

// CacheStatsResponse contains response-cache statistics.
type CacheStatsResponse struct {
	Entries   int   `json:"entries"`
	Hits      int64 `json:"hits"`
	Misses    int64 `json:"misses"`
	Evictions int64 `json:"evictions"`
}

// EventsStatsResponse contains event-emitter queue statistics.
type EventsStatsResponse struct {
	Sent    uint64 `json:"sent"`
	Dropped uint64 `json:"dropped"`
	Queued  int    `json:"queued"`
}

// ServerStatsResponse contains server runtime statistics.
type ServerStatsResponse struct {
	Uptime        string              `json:"uptime"`
	UptimeSeconds int64               `json:"uptime_seconds"`
	StartTime     time.Time           `json:"start_time"`
	CPU           CPUStats            `json:"cpu"`
	Memory        MemoryStats         `json:"memory"`
	Proxy         ProxyStatsResponse  `json:"proxy"`
	Cache         CacheStatsResponse  `json:"cache"`
	Events        EventsStatsResponse `json:"events"`
}
