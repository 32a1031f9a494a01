// Package handlers implements the REST API endpoint handlers for the proxy's
// admin API: health, stats, peers, policy, config, and cluster sync status.
//
// @title Proxy Admin API
// @version 1.0
// @description REST API for inspecting and adjusting a running bsdm-proxy node.
//
// @license.name MIT
// @license.url https://opensource.org/licenses/MIT
//
// @host localhost:8080
// @BasePath /api/v1
//
// @securityDefinitions.apikey ApiKeyAuth
// @in header
// @name X-API-Key
package handlers

import (
	"log/slog"
	"sync"
	"time"

	"github.com/jroosing/bsdm-proxy/internal/aclpolicy"
	"github.com/jroosing/bsdm-proxy/internal/cluster"
	"github.com/jroosing/bsdm-proxy/internal/config"
	"github.com/jroosing/bsdm-proxy/internal/events"
	"github.com/jroosing/bsdm-proxy/internal/hierarchy"
	"github.com/jroosing/bsdm-proxy/internal/httpcache"
	"github.com/jroosing/bsdm-proxy/internal/peers"
	"github.com/jroosing/bsdm-proxy/internal/storage"
)

// ProxyStatsSnapshot is a point-in-time snapshot of request-serving
// statistics. It mirrors internal/server.ProxyStatsSnapshot field-for-field;
// the API layer keeps its own copy of the type so it never has to import the
// bootstrap package (wired instead via SetProxyStatsFunc).
type ProxyStatsSnapshot struct {
	RequestsTotal uint64
	Hits          uint64
	Misses        uint64
	Bypasses      uint64
	Errors        uint64
	ConnectTotal  uint64
	AvgLatencyMs  float64
}

// ProxyStatsFunc returns the current request-serving statistics.
type ProxyStatsFunc func() ProxyStatsSnapshot

// Handler contains dependencies for API handlers.
type Handler struct {
	cfg       *config.Config
	logger    *slog.Logger
	startTime time.Time

	mu            sync.RWMutex
	registry      *peers.Registry
	cache         *httpcache.Cache
	emitter       *events.Emitter
	resolver      *hierarchy.Resolver
	aclEngine     *aclpolicy.Engine
	db            *storage.DB
	clusterSyncer *cluster.Syncer
	proxyStats    ProxyStatsFunc
}

// New creates a new Handler with the given configuration.
func New(cfg *config.Config, logger *slog.Logger) *Handler {
	return &Handler{
		cfg:       cfg,
		logger:    logger,
		startTime: time.Now(),
	}
}

func (h *Handler) SetRegistry(r *peers.Registry) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.registry = r
}

func (h *Handler) SetCache(c *httpcache.Cache) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.cache = c
}

func (h *Handler) SetEmitter(e *events.Emitter) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.emitter = e
}

func (h *Handler) SetResolver(r *hierarchy.Resolver) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.resolver = r
}

func (h *Handler) SetACLEngine(e *aclpolicy.Engine) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.aclEngine = e
}

func (h *Handler) SetDB(db *storage.DB) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.db = db
}

func (h *Handler) SetClusterSyncer(s *cluster.Syncer) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clusterSyncer = s
}

func (h *Handler) SetProxyStatsFunc(fn ProxyStatsFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.proxyStats = fn
}

func (h *Handler) getRegistry() *peers.Registry {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.registry
}

func (h *Handler) getCache() *httpcache.Cache {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.cache
}

func (h *Handler) getEmitter() *events.Emitter {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.emitter
}

func (h *Handler) getResolver() *hierarchy.Resolver {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.resolver
}

func (h *Handler) getACLEngine() *aclpolicy.Engine {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.aclEngine
}

func (h *Handler) getDB() *storage.DB {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.db
}

func (h *Handler) getClusterSyncer() *cluster.Syncer {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.clusterSyncer
}

func (h *Handler) getProxyStats() ProxyStatsFunc {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.proxyStats
}
