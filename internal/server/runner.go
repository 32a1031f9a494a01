package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/jroosing/bsdm-proxy/internal/aclpolicy"
	"github.com/jroosing/bsdm-proxy/internal/api"
	"github.com/jroosing/bsdm-proxy/internal/api/handlers"
	"github.com/jroosing/bsdm-proxy/internal/cachekey"
	"github.com/jroosing/bsdm-proxy/internal/certcache"
	"github.com/jroosing/bsdm-proxy/internal/cluster"
	"github.com/jroosing/bsdm-proxy/internal/config"
	"github.com/jroosing/bsdm-proxy/internal/events"
	"github.com/jroosing/bsdm-proxy/internal/hierarchy"
	"github.com/jroosing/bsdm-proxy/internal/httpcache"
	"github.com/jroosing/bsdm-proxy/internal/icp"
	"github.com/jroosing/bsdm-proxy/internal/peers"
	"github.com/jroosing/bsdm-proxy/internal/proxyengine"
	"github.com/jroosing/bsdm-proxy/internal/reuseport"
	"github.com/jroosing/bsdm-proxy/internal/selection"
	"github.com/jroosing/bsdm-proxy/internal/storage"
)

// Runner orchestrates proxy startup, component wiring, and shutdown.
type Runner struct {
	logger *slog.Logger
	stats  *ProxyStats
}

// NewRunner creates a new server runner with the given logger.
func NewRunner(logger *slog.Logger) *Runner {
	return &Runner{logger: logger, stats: NewProxyStats()}
}

// Stats returns the runner's request-serving statistics collector.
func (r *Runner) Stats() *ProxyStats {
	return r.stats
}

// reuseportHTTPServer pairs an http.Server with the SO_REUSEPORT listener it
// serves on, so the runner can start and stop both together.
type reuseportHTTPServer struct {
	*http.Server
	listener net.Listener
}

func (s *reuseportHTTPServer) serve() error {
	return s.Server.Serve(s.listener)
}

// Run starts the proxy with the given configuration and blocks until a
// shutdown signal arrives or a listener fails.
//
// Startup order:
//  1. Open storage and build the peer registry (config peers, then any
//     persisted peers from prior admin edits).
//  2. Build the response cache, hierarchy resolver, certificate cache, and
//     event emitter.
//  3. Start the HTTP proxy listener over a SO_REUSEPORT socket and,
//     if hierarchy is enabled, the ICP sibling server.
//  4. Optionally start the admin API and cluster syncer.
//  5. Wait for SIGINT/SIGTERM, then shut everything down with a bounded
//     timeout.
func (r *Runner) Run(cfg *config.Config) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	db, err := storage.Open(cfg.Storage.Path)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer db.Close()

	registry, err := r.buildRegistry(ctx, cfg, db)
	if err != nil {
		return fmt.Errorf("build peer registry: %w", err)
	}

	cache := httpcache.New(cfg.Cache.Capacity, time.Duration(cfg.Cache.TTLSeconds)*time.Second, cfg.Cache.MaxBodySize)
	coalescer := httpcache.NewCoalescer()

	emitter, err := r.buildEmitter(cfg)
	if err != nil {
		return fmt.Errorf("build event emitter: %w", err)
	}
	if emitter != nil {
		defer emitter.Close()
	}

	resolver, icpClient, icpServer, err := r.buildHierarchy(ctx, cfg, db, registry, cache)
	if err != nil {
		return fmt.Errorf("build hierarchy resolver: %w", err)
	}
	if icpClient != nil {
		defer icpClient.Close()
	}

	certs, err := r.buildCertCache(cfg)
	if err != nil {
		return fmt.Errorf("build certificate cache: %w", err)
	}

	aclEngine, err := r.buildACLEngine(ctx, db)
	if err != nil {
		return fmt.Errorf("build acl engine: %w", err)
	}

	parentTimeout, _ := time.ParseDuration(cfg.Hierarchy.ParentTimeout)
	engine := proxyengine.New(proxyengine.Config{
		MITMEnabled:         cfg.TLS.MITMEnabled,
		ParentTimeout:       parentTimeout,
		InsecureUpstreamTLS: !cfg.TLS.ValidateCert,
	}, cache, coalescer, resolver, certs, emitter, r.logger, r.stats)
	handler := newGatedHandler(engine, aclEngine)

	addr := net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.Port))
	httpServer, err := r.buildHTTPServer(ctx, cfg, addr, handler)
	if err != nil {
		return fmt.Errorf("start proxy listener: %w", err)
	}

	r.logger.Info("proxy listening", "addr", addr, "mitm", cfg.TLS.MITMEnabled, "hierarchy", cfg.Hierarchy.Enabled)

	go r.runHealthChecks(ctx, registry)

	errCh := make(chan error, 3)
	go func() { errCh <- httpServer.serve() }()

	if icpServer != nil {
		go func() {
			if err := icpServer.Serve(ctx, cfg.Hierarchy.ICPBindAddr); err != nil {
				errCh <- fmt.Errorf("icp server: %w", err)
			}
		}()
	}

	var apiSrv *api.Server
	if cfg.API.Enabled {
		apiSrv = r.startAPI(cfg, db, registry, cache, emitter, resolver, aclEngine, errCh)
	}

	var syncer *cluster.Syncer
	if cfg.Cluster.Mode == config.ClusterModeSecondary {
		syncer, err = r.startClusterSyncer(ctx, cfg, db)
		if err != nil {
			return fmt.Errorf("start cluster syncer: %w", err)
		}
		if apiSrv != nil {
			apiSrv.Handler().SetClusterSyncer(syncer)
		}
	}

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errCh:
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	_ = httpServer.Shutdown(shutdownCtx)
	if syncer != nil {
		syncer.Stop()
	}
	if apiSrv != nil {
		_ = apiSrv.Shutdown(shutdownCtx)
	}

	if runErr != nil && !errors.Is(runErr, http.ErrServerClosed) {
		return runErr
	}
	return nil
}

// runHealthChecks periodically re-evaluates peer health from accumulated
// error rates, independent of the per-request recovery check in
// hierarchy.RecordError: a peer that stops erroring needs this to notice its
// error rate has dropped even if no new request touches it.
func (r *Runner) runHealthChecks(ctx context.Context, registry *peers.Registry) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, tr := range registry.HealthCheck() {
				r.logger.Info("peer health changed", "peer", tr.Peer.ID, "healthy", tr.Healthy, "error_rate", tr.Peer.Stats.ErrorRate())
			}
		}
	}
}

// buildRegistry constructs the peer registry from config peers, then layers
// any persisted peers from storage on top: storage wins on ID collision
// since it reflects live admin edits made after the config was loaded.
func (r *Runner) buildRegistry(ctx context.Context, cfg *config.Config, db *storage.DB) (*peers.Registry, error) {
	registry := peers.NewRegistry()

	for _, pc := range cfg.Peers {
		registry.Add(peers.Config{
			Host:    pc.Host,
			Port:    pc.Port,
			Kind:    peers.Kind(pc.Kind),
			Weight:  pc.Weight,
			ICPPort: pc.ICPPort,
		})
	}

	records, err := db.ListPeers(ctx)
	if err != nil {
		return nil, err
	}
	for _, rec := range records {
		registry.Add(rec.ToConfig())
	}

	return registry, nil
}

func (r *Runner) buildEmitter(cfg *config.Config) (*events.Emitter, error) {
	if len(cfg.Events.KafkaBrokers) == 0 {
		return nil, nil
	}
	publisher := events.NewKafkaPublisher(cfg.Events.KafkaBrokers, cfg.Events.Topic)
	return events.NewEmitter(publisher, cfg.Events.QueueSize, r.logger), nil
}

// buildHierarchy wires the parent-selection strategy (config default,
// overridden by any persisted admin edit) and, when hierarchy is enabled,
// the ICP client/server pair used for sibling queries.
func (r *Runner) buildHierarchy(ctx context.Context, cfg *config.Config, db *storage.DB, registry *peers.Registry, cache *httpcache.Cache) (*hierarchy.Resolver, *icp.Client, *icp.Server, error) {
	strategyName := cfg.Hierarchy.SelectionPolicy
	if persisted, err := db.GetSelectionPolicy(ctx); err == nil && persisted != "" {
		strategyName = persisted
	}
	strategy := selection.Parse(strategyName, r.logger)

	var icpClient *icp.Client
	var icpServer *icp.Server
	if cfg.Hierarchy.Enabled {
		var err error
		icpClient, err = icp.NewClient("0.0.0.0:0")
		if err != nil {
			return nil, nil, nil, fmt.Errorf("start icp client: %w", err)
		}
		icpServer = &icp.Server{Logger: r.logger, Handler: func(url string) bool {
			_, ok := cache.Get(cachekey.Fingerprint(http.MethodGet, url))
			return ok
		}}
	}

	icpTimeout, _ := time.ParseDuration(cfg.Hierarchy.ICPTimeout)
	resolver := hierarchy.New(hierarchy.Config{
		Enabled:           cfg.Hierarchy.Enabled,
		ICPTimeout:        icpTimeout,
		MaxSiblingQueries: cfg.Hierarchy.MaxSiblingQueries,
	}, registry, strategy, icpClient, r.logger)

	return resolver, icpClient, icpServer, nil
}

func (r *Runner) buildCertCache(cfg *config.Config) (*certcache.Cache, error) {
	if !cfg.TLS.MITMEnabled {
		return certcache.New(nil), nil
	}
	ca, err := certcache.LoadCA(cfg.TLS.CertsDir+"/ca.crt", cfg.TLS.CertsDir+"/ca.key")
	if err != nil {
		return nil, fmt.Errorf("load CA material: %w", err)
	}
	return certcache.New(ca), nil
}

func (r *Runner) buildACLEngine(ctx context.Context, db *storage.DB) (*aclpolicy.Engine, error) {
	mode := aclpolicy.AllowAll
	if persisted, err := db.GetACLMode(ctx); err == nil && persisted != "" {
		mode = aclpolicy.Mode(persisted)
	}
	return aclpolicy.New(mode), nil
}

func (r *Runner) buildHTTPServer(ctx context.Context, cfg *config.Config, addr string, handler http.Handler) (*reuseportHTTPServer, error) {
	ln, err := reuseport.ListenTCP(ctx, addr)
	if err != nil {
		return nil, err
	}

	idleTimeout, _ := time.ParseDuration(cfg.Server.IdleTimeout)
	readHeaderTimeout, _ := time.ParseDuration(cfg.Server.ReadHeaderTimeout)

	srv := &http.Server{
		Handler:           handler,
		IdleTimeout:       idleTimeout,
		ReadHeaderTimeout: readHeaderTimeout,
	}
	return &reuseportHTTPServer{Server: srv, listener: ln}, nil
}

func (r *Runner) startAPI(cfg *config.Config, db *storage.DB, registry *peers.Registry, cache *httpcache.Cache, emitter *events.Emitter, resolver *hierarchy.Resolver, aclEngine *aclpolicy.Engine, errCh chan<- error) *api.Server {
	apiSrv := api.New(cfg, r.logger)
	h := apiSrv.Handler()
	h.SetRegistry(registry)
	h.SetCache(cache)
	h.SetEmitter(emitter)
	h.SetResolver(resolver)
	h.SetACLEngine(aclEngine)
	h.SetDB(db)
	h.SetProxyStatsFunc(func() handlers.ProxyStatsSnapshot {
		s := r.stats.Snapshot()
		return handlers.ProxyStatsSnapshot{
			RequestsTotal: s.RequestsTotal,
			Hits:          s.Hits,
			Misses:        s.Misses,
			Bypasses:      s.Bypasses,
			Errors:        s.Errors,
			ConnectTotal:  s.ConnectTotal,
			AvgLatencyMs:  s.AvgLatencyMs,
		}
	})

	r.logger.Info("admin API starting", "addr", apiSrv.Addr())
	go func() {
		if err := apiSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("admin api: %w", err)
		}
	}()
	return apiSrv
}

func (r *Runner) startClusterSyncer(ctx context.Context, cfg *config.Config, db *storage.DB) (*cluster.Syncer, error) {
	importFunc := func(data *cluster.ExportData) error {
		for _, rec := range data.Peers {
			if err := db.UpsertPeer(ctx, rec); err != nil {
				return err
			}
		}
		if data.Selection != "" {
			if err := db.SetSelectionPolicy(ctx, data.Selection); err != nil {
				return err
			}
		}
		if data.ACLMode != "" {
			if err := db.SetACLMode(ctx, data.ACLMode); err != nil {
				return err
			}
		}
		return nil
	}
	versionFunc := func() (int64, error) { return db.GetVersion() }

	syncer, err := cluster.NewSyncer(&cfg.Cluster, r.logger, importFunc, versionFunc)
	if err != nil {
		return nil, err
	}
	if err := syncer.Start(ctx); err != nil {
		return nil, err
	}
	r.logger.Info("cluster syncer started", "primary_url", cfg.Cluster.PrimaryURL, "node_id", cfg.Cluster.NodeID)
	return syncer, nil
}

// newGatedHandler wraps engine with the ACL admission check that must pass
// before a request reaches the cache/hierarchy path.
func newGatedHandler(engine *proxyengine.Engine, aclEngine *aclpolicy.Engine) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if aclEngine != nil && !aclEngine.Allow() {
			http.Error(w, "forbidden by policy", http.StatusForbidden)
			return
		}

		engine.ServeHTTP(w, req)
	})
}
