// Package hierarchy implements the source-resolution decision: for a
// cacheable local miss, decide whether to consult a sibling via ICP, forward
// to a selected parent, or fall through to the origin.
package hierarchy

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jroosing/bsdm-proxy/internal/icp"
	"github.com/jroosing/bsdm-proxy/internal/peers"
	"github.com/jroosing/bsdm-proxy/internal/selection"
)

// Source identifies where the request should be fetched from.
type Source int

const (
	OriginRequired Source = iota
	SiblingHit
	ParentHit
)

// Decision is the resolver's verdict for one cacheable miss.
type Decision struct {
	Source Source
	Peer   *peers.Peer
}

// Config controls the resolver's sibling-query and parent-selection behavior.
type Config struct {
	Enabled           bool
	ICPTimeout        time.Duration
	MaxSiblingQueries int
}

// Resolver composes the peer registry, selection policy, and ICP client into
// the single per-miss source decision.
type Resolver struct {
	cfg       Config
	registry  *peers.Registry
	icpClient *icp.Client
	logger    *slog.Logger

	mu       sync.RWMutex
	strategy selection.Strategy
}

// New creates a hierarchy resolver. icpClient may be nil if cfg.Enabled is
// false or no sibling peers are ever configured.
func New(cfg Config, registry *peers.Registry, strategy selection.Strategy, icpClient *icp.Client, logger *slog.Logger) *Resolver {
	if cfg.MaxSiblingQueries <= 0 {
		cfg.MaxSiblingQueries = 10
	}
	if cfg.ICPTimeout <= 0 {
		cfg.ICPTimeout = 100 * time.Millisecond
	}
	return &Resolver{cfg: cfg, registry: registry, strategy: strategy, icpClient: icpClient, logger: logger}
}

// Resolve decides the source for url: siblings first, then a selected
// parent, then origin. Each step short-circuits.
func (r *Resolver) Resolve(ctx context.Context, url string) Decision {
	if !r.cfg.Enabled {
		return Decision{Source: OriginRequired}
	}

	if decision, ok := r.querySiblings(ctx, url); ok {
		return decision
	}

	parents := r.registry.Parents()
	if len(parents) == 0 {
		return Decision{Source: OriginRequired}
	}
	parent := r.Strategy().Select(parents, url)
	if parent == nil {
		return Decision{Source: OriginRequired}
	}
	return Decision{Source: ParentHit, Peer: parent}
}

// Strategy returns the resolver's current parent-selection strategy.
func (r *Resolver) Strategy() selection.Strategy {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.strategy
}

// SetStrategy swaps the parent-selection strategy at runtime, letting the
// admin API change selection policy without a restart.
func (r *Resolver) SetStrategy(strategy selection.Strategy) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.strategy = strategy
}

func (r *Resolver) querySiblings(ctx context.Context, url string) (Decision, bool) {
	siblings := r.registry.Siblings()
	if len(siblings) == 0 || r.icpClient == nil {
		return Decision{}, false
	}
	if len(siblings) > r.cfg.MaxSiblingQueries {
		siblings = siblings[:r.cfg.MaxSiblingQueries]
	}

	addrs := make([]string, 0, len(siblings))
	byAddr := make(map[string]*peers.Peer, len(siblings))
	for _, p := range siblings {
		addr := fmt.Sprintf("%s:%d", p.Config.Host, p.Config.ICPPort)
		addrs = append(addrs, addr)
		byAddr[addr] = p
	}

	queryCtx, cancel := context.WithTimeout(ctx, r.cfg.ICPTimeout)
	defer cancel()

	peerAddr, latency, found := r.icpClient.FindHit(queryCtx, addrs, url, r.cfg.ICPTimeout)
	if !found {
		return Decision{}, false
	}

	sibling := byAddr[peerAddr]
	if sibling == nil {
		return Decision{}, false
	}
	sibling.UpdateRTT(latency)
	if r.logger != nil {
		r.logger.Debug("hierarchy: sibling hit", "peer", sibling.ID, "url", url, "rtt_ms", latency.Milliseconds())
	}
	return Decision{Source: SiblingHit, Peer: sibling}, true
}

// RecordHit updates peer stats for a successful fetch of n bytes.
func RecordHit(p *peers.Peer, bytes uint64) {
	if p == nil {
		return
	}
	p.Stats.RecordRequest()
	p.Stats.RecordHit(bytes)
}

// RecordMiss updates peer stats for a fetch that completed but found nothing.
func RecordMiss(p *peers.Peer) {
	if p == nil {
		return
	}
	p.Stats.RecordRequest()
	p.Stats.RecordMiss()
}

// RecordError updates peer stats for a failed interaction and re-evaluates
// the peer's health immediately, since a request path that just observed a
// failure shouldn't have to wait for the next periodic health check. It
// reports whether the peer's health state flipped so the caller can log the
// transition.
func RecordError(p *peers.Peer) bool {
	if p == nil {
		return false
	}
	p.Stats.RecordRequest()
	p.Stats.RecordError()

	errorRate := p.Stats.ErrorRate()
	if errorRate > 0.5 {
		return p.SetHealthy(false)
	} else if errorRate < 0.1 && !p.IsHealthy() {
		return p.SetHealthy(true)
	}
	return false
}
