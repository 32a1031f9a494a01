// Package selection implements the peer-selection strategies used to
// pick a parent cache when more than one is healthy and eligible.
package selection

import (
	"hash/fnv"
	"log/slog"
	"math/rand"
	"strings"
	"sync/atomic"

	"github.com/jroosing/bsdm-proxy/internal/peers"
)

// Strategy picks one peer from a non-empty candidate slice, or nil if none
// qualifies. url is available for strategies that key off it (hash).
type Strategy interface {
	Select(candidates []*peers.Peer, url string) *peers.Peer
	Name() string
}

// RoundRobin rotates through candidates in order, ignoring weight and RTT.
type RoundRobin struct {
	counter atomic.Uint64
}

func NewRoundRobin() *RoundRobin { return &RoundRobin{} }

func (s *RoundRobin) Select(candidates []*peers.Peer, _ string) *peers.Peer {
	if len(candidates) == 0 {
		return nil
	}
	idx := s.counter.Add(1) - 1
	return candidates[int(idx)%len(candidates)]
}

func (s *RoundRobin) Name() string { return "round-robin" }

// Weighted draws a peer at random, weighted by Score. An all-zero-score set
// (every candidate unhealthy, which Select's caller should normally have
// filtered already) reports no selection rather than a uniform draw.
type Weighted struct{}

func NewWeighted() *Weighted { return &Weighted{} }

func (s *Weighted) Select(candidates []*peers.Peer, _ string) *peers.Peer {
	if len(candidates) == 0 {
		return nil
	}

	var total float64
	for _, p := range candidates {
		total += p.Score()
	}
	if total == 0 {
		return nil
	}

	r := rand.Float64() * total
	for _, p := range candidates {
		score := p.Score()
		if r <= score {
			return p
		}
		r -= score
	}
	return candidates[len(candidates)-1]
}

func (s *Weighted) Name() string { return "weighted" }

// Closest selects the healthy candidate with the lowest RTT.
type Closest struct{}

func NewClosest() *Closest { return &Closest{} }

func (s *Closest) Select(candidates []*peers.Peer, _ string) *peers.Peer {
	var best *peers.Peer
	for _, p := range candidates {
		if !p.IsHealthy() {
			continue
		}
		if best == nil || p.RTT() < best.RTT() {
			best = p
		}
	}
	return best
}

func (s *Closest) Name() string { return "closest" }

// Hash deterministically maps a URL onto one of the candidates, so repeated
// requests for the same URL tend to land on the same peer.
type Hash struct{}

func NewHash() *Hash { return &Hash{} }

func (s *Hash) Select(candidates []*peers.Peer, url string) *peers.Peer {
	if len(candidates) == 0 {
		return nil
	}
	h := fnv.New64a()
	_, _ = h.Write([]byte(url))
	idx := h.Sum64() % uint64(len(candidates))
	return candidates[idx]
}

func (s *Hash) Name() string { return "hash" }

// Parse resolves a configured strategy name to a Strategy, falling back to
// Weighted (with a warning) for anything unrecognized.
func Parse(name string, logger *slog.Logger) Strategy {
	switch strings.ToLower(name) {
	case "round-robin", "round_robin", "roundrobin", "rr":
		return NewRoundRobin()
	case "weighted", "weight", "w":
		return NewWeighted()
	case "closest", "rtt", "latency":
		return NewClosest()
	case "hash", "consistent", "ch":
		return NewHash()
	default:
		if logger != nil {
			logger.Warn("unknown selection strategy, defaulting to weighted", "strategy", name)
		}
		return NewWeighted()
	}
}
