package server

import (
	"sync/atomic"
)

// ProxyStats collects request-serving statistics for the admin API.
// All methods are safe for concurrent use.
type ProxyStats struct {
	requestsTotal  atomic.Uint64
	hits           atomic.Uint64
	misses         atomic.Uint64
	bypasses       atomic.Uint64
	errors         atomic.Uint64
	connectTotal   atomic.Uint64
	latencyTotalNs atomic.Uint64
}

// NewProxyStats creates a new statistics collector.
func NewProxyStats() *ProxyStats {
	return &ProxyStats{}
}

// RecordOutcome records one completed request's cache outcome.
func (s *ProxyStats) RecordOutcome(outcome string) {
	s.requestsTotal.Add(1)
	switch outcome {
	case "HIT":
		s.hits.Add(1)
	case "MISS":
		s.misses.Add(1)
	case "BYPASS":
		s.bypasses.Add(1)
	}
}

// RecordError records a request that failed before an outcome was reached.
func (s *ProxyStats) RecordError() {
	s.errors.Add(1)
}

// RecordConnect records one CONNECT request (tunnel or MITM).
func (s *ProxyStats) RecordConnect() {
	s.connectTotal.Add(1)
}

// RecordLatency records one request's service latency in nanoseconds.
func (s *ProxyStats) RecordLatency(ns int64) {
	if ns > 0 {
		s.latencyTotalNs.Add(uint64(ns))
	}
}

// ProxyStatsSnapshot is a point-in-time snapshot of proxy statistics.
type ProxyStatsSnapshot struct {
	RequestsTotal uint64
	Hits          uint64
	Misses        uint64
	Bypasses      uint64
	Errors        uint64
	ConnectTotal  uint64
	AvgLatencyMs  float64
}

// Snapshot returns the current statistics.
func (s *ProxyStats) Snapshot() ProxyStatsSnapshot {
	total := s.requestsTotal.Load()
	latencyNs := s.latencyTotalNs.Load()

	avgLatencyMs := 0.0
	if total > 0 {
		avgLatencyMs = float64(latencyNs) / float64(total) / 1e6
	}

	return ProxyStatsSnapshot{
		RequestsTotal: total,
		Hits:          s.hits.Load(),
		Misses:        s.misses.Load(),
		Bypasses:      s.bypasses.Load(),
		Errors:        s.errors.Load(),
		ConnectTotal:  s.connectTotal.Load(),
		AvgLatencyMs:  avgLatencyMs,
	}
}
