// Package peers tracks parent and sibling cache peers: their configuration,
// health, round-trip time, and request statistics.
package peers

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// Kind distinguishes a parent cache (queried on every miss) from a sibling
// (queried via ICP, only useful on a HIT).
type Kind string

const (
	Parent  Kind = "parent"
	Sibling Kind = "sibling"
)

// healthyErrorRate and unhealthyErrorRate are the passive health-check
// thresholds: a peer flips unhealthy once its error rate climbs past
// unhealthyErrorRate, and only recovers once it drops below healthyErrorRate.
// The gap between them avoids flapping a peer hovering around one threshold.
const (
	unhealthyErrorRate = 0.5
	healthyErrorRate   = 0.1
)

// Config describes a configured peer.
type Config struct {
	Host           string
	Port           int
	Kind           Kind
	Weight         float64
	ICPPort        int
	MaxConnections int
}

// Stats holds request counters for a single peer. All fields are accessed
// through atomics so callers never need external locking.
type Stats struct {
	requests      atomic.Uint64
	hits          atomic.Uint64
	misses        atomic.Uint64
	errors        atomic.Uint64
	bytesReceived atomic.Uint64

	mu          sync.Mutex
	lastSuccess time.Time
	lastFailure time.Time
}

func (s *Stats) RecordRequest() {
	s.requests.Add(1)
}

func (s *Stats) RecordHit(bytes uint64) {
	s.hits.Add(1)
	s.bytesReceived.Add(bytes)
	s.mu.Lock()
	s.lastSuccess = time.Now()
	s.mu.Unlock()
}

func (s *Stats) RecordMiss() {
	s.misses.Add(1)
	s.mu.Lock()
	s.lastSuccess = time.Now()
	s.mu.Unlock()
}

func (s *Stats) RecordError() {
	s.errors.Add(1)
	s.mu.Lock()
	s.lastFailure = time.Now()
	s.mu.Unlock()
}

// HitRate returns hits / (hits + misses), or 0 when there is no data yet.
func (s *Stats) HitRate() float64 {
	hits := float64(s.hits.Load())
	total := hits + float64(s.misses.Load())
	if total == 0 {
		return 0
	}
	return hits / total
}

// ErrorRate returns errors / requests, or 0 when there is no data yet.
func (s *Stats) ErrorRate() float64 {
	requests := float64(s.requests.Load())
	if requests == 0 {
		return 0
	}
	return float64(s.errors.Load()) / requests
}

// StatsSnapshot is a point-in-time copy of a peer's counters.
type StatsSnapshot struct {
	Requests      uint64
	Hits          uint64
	Misses        uint64
	Errors        uint64
	BytesReceived uint64
	HitRate       float64
	ErrorRate     float64
}

func (s *Stats) Snapshot() StatsSnapshot {
	return StatsSnapshot{
		Requests:      s.requests.Load(),
		Hits:          s.hits.Load(),
		Misses:        s.misses.Load(),
		Errors:        s.errors.Load(),
		BytesReceived: s.bytesReceived.Load(),
		HitRate:       s.HitRate(),
		ErrorRate:     s.ErrorRate(),
	}
}

// Peer is a parent or sibling cache under management.
type Peer struct {
	ID        string
	Config    Config
	CreatedAt time.Time
	Stats     Stats

	healthy atomic.Bool
	rttMs   atomic.Uint64
}

// New creates a peer in the healthy state with zero RTT and stats.
func New(cfg Config) *Peer {
	p := &Peer{
		ID:        fmt.Sprintf("%s:%s:%d", cfg.Kind, cfg.Host, cfg.Port),
		Config:    cfg,
		CreatedAt: time.Now(),
	}
	p.healthy.Store(true)
	return p
}

func (p *Peer) IsHealthy() bool {
	return p.healthy.Load()
}

// SetHealthy transitions health state, returning whether it actually changed.
func (p *Peer) SetHealthy(healthy bool) bool {
	return p.healthy.Swap(healthy) != healthy
}

func (p *Peer) RTT() time.Duration {
	return time.Duration(p.rttMs.Load()) * time.Millisecond
}

func (p *Peer) UpdateRTT(rtt time.Duration) {
	p.rttMs.Store(uint64(rtt.Milliseconds()))
}

// Score combines configured weight, observed error rate, and RTT into a
// single ranking value used by weighted selection. Unhealthy peers always
// score zero so they drop out of weighted selection entirely (closest
// selection skips them through IsHealthy instead).
func (p *Peer) Score() float64 {
	if !p.IsHealthy() {
		return 0
	}
	errorRate := p.Stats.ErrorRate()
	rttFactor := 1.0 / (1.0 + float64(p.RTT().Milliseconds())/100.0)
	return p.Config.Weight * (1 - errorRate) * rttFactor
}

func (p *Peer) Address() string {
	return fmt.Sprintf("%s:%d", p.Config.Host, p.Config.Port)
}

// Registry tracks the set of configured peers, keyed by ID.
type Registry struct {
	mu    sync.RWMutex
	peers map[string]*Peer
}

func NewRegistry() *Registry {
	return &Registry{peers: map[string]*Peer{}}
}

// Add registers a peer, returning it. Adding a peer with an ID already
// present replaces the prior entry, resetting its health and stats.
func (r *Registry) Add(cfg Config) *Peer {
	p := New(cfg)
	r.mu.Lock()
	r.peers[p.ID] = p
	r.mu.Unlock()
	return p
}

// Remove deletes a peer by ID, reporting whether it was present.
func (r *Registry) Remove(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.peers[id]; !ok {
		return false
	}
	delete(r.peers, id)
	return true
}

func (r *Registry) Get(id string) (*Peer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.peers[id]
	return p, ok
}

// All returns every registered peer, sorted by ID. The stable order matters
// to the selection strategies: hash and round-robin both index into the
// candidate slice, so a map-ordered list would send the same URL to a
// different peer on every call.
func (r *Registry) All() []*Peer {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Peer, 0, len(r.peers))
	for _, p := range r.peers {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (r *Registry) Healthy() []*Peer {
	all := r.All()
	out := make([]*Peer, 0, len(all))
	for _, p := range all {
		if p.IsHealthy() {
			out = append(out, p)
		}
	}
	return out
}

func byKind(peers []*Peer, kind Kind) []*Peer {
	out := make([]*Peer, 0, len(peers))
	for _, p := range peers {
		if p.Config.Kind == kind {
			out = append(out, p)
		}
	}
	return out
}

// Parents returns the healthy parent-cache peers.
func (r *Registry) Parents() []*Peer {
	return byKind(r.Healthy(), Parent)
}

// Siblings returns the healthy sibling-cache peers.
func (r *Registry) Siblings() []*Peer {
	return byKind(r.Healthy(), Sibling)
}

// Transition records one peer's health flip observed by HealthCheck.
type Transition struct {
	Peer    *Peer
	Healthy bool
}

// HealthCheck applies the passive error-rate-based health transition to every
// registered peer, returning the peers whose state actually flipped so the
// caller can log them. It is meant to be called periodically, not per-request.
func (r *Registry) HealthCheck() []Transition {
	var changed []Transition
	for _, p := range r.All() {
		errorRate := p.Stats.ErrorRate()
		if errorRate > unhealthyErrorRate {
			if p.SetHealthy(false) {
				changed = append(changed, Transition{Peer: p, Healthy: false})
			}
		} else if errorRate < healthyErrorRate && !p.IsHealthy() {
			if p.SetHealthy(true) {
				changed = append(changed, Transition{Peer: p, Healthy: true})
			}
		}
	}
	return changed
}

// Summary is a reporting-friendly snapshot of one peer, used by the admin API.
type Summary struct {
	ID      string
	Kind    Kind
	Healthy bool
	RTTMs   int64
	Score   float64
	Stats   StatsSnapshot
}

// Summaries returns a point-in-time snapshot of every registered peer.
func (r *Registry) Summaries() []Summary {
	all := r.All()
	out := make([]Summary, 0, len(all))
	for _, p := range all {
		out = append(out, Summary{
			ID:      p.ID,
			Kind:    p.Config.Kind,
			Healthy: p.IsHealthy(),
			RTTMs:   p.RTT().Milliseconds(),
			Score:   p.Score(),
			Stats:   p.Stats.Snapshot(),
		})
	}
	return out
}
