// Package events implements the observation-record emitter: a
// best-effort, non-blocking publish path from the request engine to an
// external event bus, backed by Kafka.
package events

import "time"

// Outcome mirrors httpcache.Outcome to keep this package decoupled from the
// cache implementation; the request engine converts between the two.
type Outcome string

const (
	Hit    Outcome = "HIT"
	Miss   Outcome = "MISS"
	Bypass Outcome = "BYPASS"
)

// Record is a flat, independently-meaningful observation emitted once per
// served request. Optional string fields are omitted from JSON when empty.
type Record struct {
	URL           string    `json:"url"`
	Method        string    `json:"method"`
	Status        int       `json:"status"`
	Fingerprint   string    `json:"fingerprint"`
	CacheOutcome  Outcome   `json:"cache_status"`
	Timestamp     time.Time `json:"timestamp"`
	ClientIP      string    `json:"client_ip"`
	Domain        string    `json:"domain"`
	ResponseBytes int64     `json:"response_size"`
	LatencyMs     float64   `json:"latency_ms"`
	ContentType   string    `json:"content_type,omitempty"`
	UserAgent     string    `json:"user_agent,omitempty"`
	Username      string    `json:"username,omitempty"`
	UserID        string    `json:"user_id,omitempty"`
}
