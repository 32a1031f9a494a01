// Package proxyengine implements the request engine: the HTTP and
// CONNECT handling that orchestrates the cache, hierarchy resolver,
// certificate cache, and event emitter for every accepted connection.
package proxyengine

import (
	"bufio"
	"context"
	"crypto/tls"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/jroosing/bsdm-proxy/internal/cachekey"
	"github.com/jroosing/bsdm-proxy/internal/certcache"
	"github.com/jroosing/bsdm-proxy/internal/events"
	"github.com/jroosing/bsdm-proxy/internal/hierarchy"
	"github.com/jroosing/bsdm-proxy/internal/httpcache"
)

// Config controls engine-wide behavior.
type Config struct {
	MITMEnabled bool
	// ParentTimeout bounds a single upstream fetch routed to a selected
	// parent cache. Zero disables the extra deadline,
	// leaving only the client's own context and the transport's dial/TLS
	// timeouts in effect.
	ParentTimeout time.Duration
	// InsecureUpstreamTLS skips origin certificate verification on MITM'd
	// upstream fetches. The default (false) validates against system roots.
	InsecureUpstreamTLS bool
}

// StatsRecorder receives best-effort counters for the admin API. It is
// satisfied implicitly by *internal/server.ProxyStats; the engine only
// depends on this narrow shape so the request-serving package never has to
// import the bootstrap/server package.
type StatsRecorder interface {
	RecordOutcome(outcome string)
	RecordError()
	RecordConnect()
	RecordLatency(ns int64)
}

// Engine is the shared proxy request handler. One Engine instance is wired
// into the HTTP server and handles every accepted connection.
type Engine struct {
	cfg Config

	cache     *httpcache.Cache
	coalescer *httpcache.Coalescer
	resolver  *hierarchy.Resolver
	certs     *certcache.Cache
	emitter   *events.Emitter
	upstream  *http.Client
	logger    *slog.Logger
	stats     StatsRecorder
}

// New assembles a request engine from its already-constructed components.
// stats may be nil.
func New(cfg Config, cache *httpcache.Cache, coalescer *httpcache.Coalescer, resolver *hierarchy.Resolver, certs *certcache.Cache, emitter *events.Emitter, logger *slog.Logger, stats StatsRecorder) *Engine {
	return &Engine{
		cfg:       cfg,
		cache:     cache,
		coalescer: coalescer,
		resolver:  resolver,
		certs:     certs,
		emitter:   emitter,
		upstream:  newUpstreamClient(cfg.InsecureUpstreamTLS),
		logger:    logger,
		stats:     stats,
	}
}

func (e *Engine) recordOutcome(outcome string, start time.Time) {
	if e.stats == nil {
		return
	}
	e.stats.RecordOutcome(outcome)
	e.stats.RecordLatency(time.Since(start).Nanoseconds())
}

// ServeHTTP dispatches CONNECT requests to the tunnel/MITM path and
// everything else to the plain forward-proxy path.
func (e *Engine) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodConnect {
		e.handleConnect(w, r)
		return
	}
	e.handleHTTP(w, r)
}

func (e *Engine) handleHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	targetURL := r.URL.String()
	if r.URL.Scheme == "" || r.URL.Host == "" {
		targetURL = "http://" + r.Host + r.URL.RequestURI()
	}

	fingerprint := cachekey.Fingerprint(r.Method, targetURL)

	if cachekey.Cacheable(r.Method) {
		if cached, ok := e.cache.Get(fingerprint); ok {
			e.writeResponse(w, cached, httpcache.Hit)
			e.emit(r, targetURL, cached.Status, fingerprint, events.Hit, len(cached.Body), cached.HeaderValue("Content-Type"), start)
			e.recordOutcome(string(httpcache.Hit), start)
			return
		}
	}

	resp, outcome, err := e.fetch(r.Context(), r, targetURL, fingerprint)
	if err != nil {
		status := http.StatusBadGateway
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			status = http.StatusGatewayTimeout
		}
		w.WriteHeader(status)
		e.emit(r, targetURL, status, fingerprint, events.Bypass, 0, "", start)
		if e.stats != nil {
			e.stats.RecordError()
		}
		return
	}

	e.writeResponse(w, resp, outcome)
	e.emit(r, targetURL, resp.Status, fingerprint, events.Outcome(outcome), len(resp.Body), resp.HeaderValue("Content-Type"), start)
	e.recordOutcome(string(outcome), start)
}

// fetch performs the upstream request for a cache miss, single-flighted
// for cacheable methods, consulting the hierarchy resolver first and
// admitting the result to the cache when admission allows it.
func (e *Engine) fetch(ctx context.Context, r *http.Request, targetURL, fingerprint string) (*httpcache.Response, httpcache.Outcome, error) {
	decision := e.resolver.Resolve(ctx, targetURL)

	fetchCtx := ctx
	if decision.Source == hierarchy.ParentHit && e.cfg.ParentTimeout > 0 {
		var cancel context.CancelFunc
		fetchCtx, cancel = context.WithTimeout(ctx, e.cfg.ParentTimeout)
		defer cancel()
	}

	// Only cacheable methods are single-flighted: two concurrent POSTs to
	// the same URL share a fingerprint but are distinct requests with
	// distinct bodies, and each must reach the upstream.
	var resp *httpcache.Response
	var err error
	if cachekey.Cacheable(r.Method) {
		resp, err = e.coalescer.Do(fetchCtx, fingerprint, func(ctx context.Context) (*httpcache.Response, error) {
			return e.doUpstream(ctx, r, targetURL, decision)
		})
	} else {
		resp, err = e.doUpstream(fetchCtx, r, targetURL, decision)
	}
	if err != nil {
		if hierarchy.RecordError(decision.Peer) && e.logger != nil {
			e.logger.Warn("peer health changed", "peer", decision.Peer.ID, "healthy", decision.Peer.IsHealthy())
		}
		return nil, httpcache.Bypass, err
	}

	if decision.Peer != nil {
		// A sibling only gets fetched from after answering HIT; a parent is
		// used regardless, so credit it with a hit only when it served from
		// its own cache rather than forwarding to origin itself.
		if decision.Source == hierarchy.SiblingHit || resp.HeaderValue("X-Cache-Status") == "HIT" {
			hierarchy.RecordHit(decision.Peer, uint64(len(resp.Body)))
		} else {
			hierarchy.RecordMiss(decision.Peer)
		}
	}

	outcome := httpcache.Bypass
	if cachekey.Cacheable(r.Method) {
		outcome = e.cache.Admit(fingerprint, r.Method, resp)
	}
	return resp, outcome, nil
}

func (e *Engine) doUpstream(ctx context.Context, r *http.Request, targetURL string, decision hierarchy.Decision) (*httpcache.Response, error) {
	// A parent or sibling hit is fetched by forwarding through that peer as
	// a plain-HTTP proxy rather than contacting the origin directly: the
	// request line stays the absolute origin URL, and the transport's Proxy
	// hook (fed via context) dials the peer's address instead of the
	// origin's. Concatenating the peer's bare "host:port" onto the request
	// path here would produce an unroutable URL with no scheme or host.
	if (decision.Source == hierarchy.ParentHit || decision.Source == hierarchy.SiblingHit) && decision.Peer != nil {
		ctx = withParentProxy(ctx, decision.Peer.Address())
	}

	req, err := http.NewRequestWithContext(ctx, r.Method, targetURL, r.Body)
	if err != nil {
		return nil, err
	}
	req.Header = r.Header.Clone()
	req.Header.Set("X-Forwarded-Proto", "https")
	stripHopByHopHTTP(req.Header)

	resp, err := e.upstream.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	return &httpcache.Response{
		Status:  resp.StatusCode,
		Headers: toCacheHeaders(resp.Header),
		Body:    body,
	}, nil
}

func (e *Engine) writeResponse(w http.ResponseWriter, resp *httpcache.Response, outcome httpcache.Outcome) {
	header := w.Header()
	applyCacheHeaders(header, resp.Headers)
	header.Set("X-Cache-Status", string(outcome))
	w.WriteHeader(resp.Status)
	_, _ = w.Write(resp.Body)
}

func (e *Engine) emit(r *http.Request, url string, status int, fingerprint string, outcome events.Outcome, size int, contentType string, start time.Time) {
	if e.emitter == nil {
		return
	}
	username, _ := basicAuthUser(r.Header)
	e.emitter.Publish(events.Record{
		URL:           url,
		Method:        r.Method,
		Status:        status,
		Fingerprint:   fingerprint,
		CacheOutcome:  outcome,
		Timestamp:     time.Now(),
		ClientIP:      clientIP(r.RemoteAddr),
		Domain:        r.URL.Hostname(),
		ResponseBytes: int64(size),
		LatencyMs:     float64(time.Since(start).Microseconds()) / 1000.0,
		ContentType:   contentType,
		UserAgent:     r.Header.Get("User-Agent"),
		Username:      username,
		UserID:        username,
	})
}

// handleConnect serves a CONNECT request either by opaque tunneling or, when
// MITM is enabled, by terminating TLS and re-entering the HTTP path.
func (e *Engine) handleConnect(w http.ResponseWriter, r *http.Request) {
	if e.stats != nil {
		e.stats.RecordConnect()
	}
	hijacker, ok := w.(http.Hijacker)
	if !ok {
		http.Error(w, "proxy does not support hijacking", http.StatusInternalServerError)
		return
	}
	clientConn, _, err := hijacker.Hijack()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	defer clientConn.Close()

	if e.cfg.MITMEnabled && e.certs != nil {
		e.mitmConnect(clientConn, r)
		return
	}
	e.tunnelConnect(clientConn, r)
}

func (e *Engine) tunnelConnect(clientConn net.Conn, r *http.Request) {
	start := time.Now()
	upstreamConn, err := net.DialTimeout("tcp", r.Host, 10*time.Second)
	if err != nil {
		_, _ = clientConn.Write([]byte("HTTP/1.1 502 Bad Gateway\r\n\r\n"))
		e.emitConnect(r, http.StatusBadGateway, 0, start)
		if e.stats != nil {
			e.stats.RecordError()
		}
		return
	}
	defer upstreamConn.Close()

	if _, err := clientConn.Write([]byte("HTTP/1.1 200 Connection Established\r\n\r\n")); err != nil {
		return
	}

	fromOrigin, _ := splice(clientConn, upstreamConn)
	e.emitConnect(r, http.StatusOK, fromOrigin, start)
	e.recordOutcome(string(httpcache.Bypass), start)
}

// splice copies bytes bidirectionally until either side closes, logging
// errors rather than surfacing them to either peer. It returns the byte
// counts in each direction (a<-b, then a->b).
func splice(a, b net.Conn) (fromB int64, fromA int64) {
	logErr := func(err error) {
		if err != nil && !errors.Is(err, net.ErrClosed) {
			slog.Debug("proxyengine: splice error", "error", err)
		}
	}
	var wg sync.WaitGroup
	wg.Add(2)
	// When one direction ends, closing the connection it writes to also ends
	// the other direction's read.
	go func() {
		defer wg.Done()
		var err error
		fromB, err = io.Copy(a, b)
		logErr(err)
		_ = a.Close()
	}()
	go func() {
		defer wg.Done()
		var err error
		fromA, err = io.Copy(b, a)
		logErr(err)
		_ = b.Close()
	}()
	wg.Wait()
	return fromB, fromA
}

// emitConnect publishes the single top-level observation record for a
// tunneled CONNECT request; response_size is the bytes relayed from origin
// to client.
func (e *Engine) emitConnect(r *http.Request, status int, responseBytes int64, start time.Time) {
	if e.emitter == nil {
		return
	}
	host, _, err := net.SplitHostPort(r.Host)
	if err != nil {
		host = r.Host
	}
	username, _ := basicAuthUser(r.Header)
	e.emitter.Publish(events.Record{
		URL:           "https://" + r.Host,
		Method:        http.MethodConnect,
		Status:        status,
		Fingerprint:   cachekey.Fingerprint(http.MethodConnect, "https://"+r.Host),
		CacheOutcome:  events.Bypass,
		Timestamp:     time.Now(),
		ClientIP:      clientIP(r.RemoteAddr),
		Domain:        host,
		ResponseBytes: responseBytes,
		LatencyMs:     float64(time.Since(start).Microseconds()) / 1000.0,
		UserAgent:     r.Header.Get("User-Agent"),
		Username:      username,
		UserID:        username,
	})
}

func (e *Engine) mitmConnect(clientConn net.Conn, r *http.Request) {
	host, _, err := net.SplitHostPort(r.Host)
	if err != nil {
		host = r.Host
	}

	start := time.Now()
	cert, err := e.certs.Get(host)
	if err != nil {
		if e.logger != nil {
			e.logger.Warn("proxyengine: certificate mint failed, MITM disabled for host", "host", host, "error", err)
		}
		_, _ = clientConn.Write([]byte("HTTP/1.1 502 Bad Gateway\r\n\r\n"))
		e.emitConnect(r, http.StatusBadGateway, 0, start)
		if e.stats != nil {
			e.stats.RecordError()
		}
		return
	}

	if _, err := clientConn.Write([]byte("HTTP/1.1 200 Connection Established\r\n\r\n")); err != nil {
		return
	}

	tlsConn := tls.Server(clientConn, &tls.Config{Certificates: []tls.Certificate{*cert}})
	defer tlsConn.Close()
	if err := tlsConn.Handshake(); err != nil {
		if e.logger != nil {
			e.logger.Debug("proxyengine: MITM handshake failed", "host", host, "error", err)
		}
		return
	}

	e.serveDecryptedStream(tlsConn, host)
}

// serveDecryptedStream re-enters the HTTP path on the decrypted client
// stream, reading requests off it directly rather than via net/http.Server
// since the original hijacked connection already left that machinery.
func (e *Engine) serveDecryptedStream(conn net.Conn, host string) {
	reader := bufio.NewReader(conn)
	for {
		req, err := http.ReadRequest(reader)
		if err != nil {
			return
		}
		req.RemoteAddr = conn.RemoteAddr().String()
		if req.URL.Host == "" {
			req.URL.Host = host
		}
		if req.URL.Scheme == "" {
			req.URL.Scheme = "https"
		}

		rw := newStreamResponseWriter(conn)
		e.handleHTTP(rw, req)
		if err := rw.flush(); err != nil {
			return
		}
		if req.Close {
			return
		}
	}
}

func stripHopByHopHTTP(h http.Header) {
	for _, name := range []string{"Connection", "Keep-Alive", "Transfer-Encoding", "Upgrade", "Proxy-Authorization", "Proxy-Connection"} {
		h.Del(name)
	}
}
