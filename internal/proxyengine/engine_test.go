package proxyengine

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jroosing/bsdm-proxy/internal/events"
	"github.com/jroosing/bsdm-proxy/internal/hierarchy"
	"github.com/jroosing/bsdm-proxy/internal/httpcache"
	"github.com/jroosing/bsdm-proxy/internal/peers"
	"github.com/jroosing/bsdm-proxy/internal/selection"
)

// fakePublisher captures every record an engine under test emits, decoded
// back from JSON, for assertion.
type fakePublisher struct {
	mu      sync.Mutex
	records []events.Record
}

func (f *fakePublisher) Publish(_ context.Context, _ string, value []byte) error {
	var rec events.Record
	if err := json.Unmarshal(value, &rec); err != nil {
		return err
	}
	f.mu.Lock()
	f.records = append(f.records, rec)
	f.mu.Unlock()
	return nil
}

func (f *fakePublisher) Close() error { return nil }

func (f *fakePublisher) snapshot() []events.Record {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]events.Record, len(f.records))
	copy(out, f.records)
	return out
}

func newTestEngine(t *testing.T, cfg Config) (*Engine, *fakePublisher) {
	t.Helper()
	return newTestEngineWithResolver(t, cfg, hierarchy.New(hierarchy.Config{Enabled: false}, peers.NewRegistry(), selection.NewWeighted(), nil, nil))
}

func newTestEngineWithResolver(t *testing.T, cfg Config, resolver *hierarchy.Resolver) (*Engine, *fakePublisher) {
	t.Helper()
	pub := &fakePublisher{}
	emitter := events.NewEmitter(pub, 64, nil)
	t.Cleanup(func() { _ = emitter.Close() })

	cache := httpcache.New(100, time.Minute, 1024)
	coalescer := httpcache.NewCoalescer()

	return New(cfg, cache, coalescer, resolver, nil, emitter, nil, nil), pub
}

// A cacheable GET misses, is served and admitted, then hits on replay.
func TestHandleHTTPMissThenHit(t *testing.T) {
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("hello"))
	}))
	defer origin.Close()

	engine, pub := newTestEngine(t, Config{})

	req1 := httptest.NewRequest(http.MethodGet, origin.URL+"/a", nil)
	rec1 := httptest.NewRecorder()
	engine.ServeHTTP(rec1, req1)

	assert.Equal(t, http.StatusOK, rec1.Code)
	assert.Equal(t, "hello", rec1.Body.String())
	assert.Equal(t, "MISS", rec1.Header().Get("X-Cache-Status"))

	req2 := httptest.NewRequest(http.MethodGet, origin.URL+"/a", nil)
	rec2 := httptest.NewRecorder()
	engine.ServeHTTP(rec2, req2)

	assert.Equal(t, http.StatusOK, rec2.Code)
	assert.Equal(t, "hello", rec2.Body.String())
	assert.Equal(t, "HIT", rec2.Header().Get("X-Cache-Status"))

	require.Eventually(t, func() bool { return len(pub.snapshot()) == 2 }, time.Second, 5*time.Millisecond)
	records := pub.snapshot()
	assert.Equal(t, events.Miss, records[0].CacheOutcome)
	assert.Equal(t, 5, int(records[0].ResponseBytes))
	assert.Equal(t, events.Hit, records[1].CacheOutcome)
}

// A POST is never served from cache, even for the same URL as a prior GET.
func TestHandleHTTPPostBypasses(t *testing.T) {
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("x"))
	}))
	defer origin.Close()

	engine, pub := newTestEngine(t, Config{})

	req := httptest.NewRequest(http.MethodPost, origin.URL+"/a", nil)
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)

	assert.Equal(t, "BYPASS", rec.Header().Get("X-Cache-Status"))

	require.Eventually(t, func() bool { return len(pub.snapshot()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, events.Bypass, pub.snapshot()[0].CacheOutcome)
}

// A response over the admission size cap bypasses and is re-fetched on replay.
func TestHandleHTTPOversizeBodyBypasses(t *testing.T) {
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(make([]byte, 2048)) // exceeds the 1024-byte test cache cap
	}))
	defer origin.Close()

	engine, _ := newTestEngine(t, Config{})

	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodGet, origin.URL+"/big", nil)
		rec := httptest.NewRecorder()
		engine.ServeHTTP(rec, req)
		assert.Equal(t, "BYPASS", rec.Header().Get("X-Cache-Status"))
	}
}

// A cacheable miss with a configured parent is forwarded through that
// parent as an absolute-URI request rather than dialing the origin
// directly.
func TestHandleHTTPParentHitForwardsThroughPeer(t *testing.T) {
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("origin should not be contacted when a parent is configured")
	}))
	defer origin.Close()

	parent := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// A forward-proxy request line carries the absolute origin URL.
		assert.Equal(t, origin.URL+"/a", r.URL.String())
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("from-parent"))
	}))
	defer parent.Close()

	parentHost, parentPortStr, err := net.SplitHostPort(parent.Listener.Addr().String())
	require.NoError(t, err)
	var parentPort int
	_, err = fmt.Sscanf(parentPortStr, "%d", &parentPort)
	require.NoError(t, err)

	registry := peers.NewRegistry()
	registry.Add(peers.Config{Host: parentHost, Port: parentPort, Kind: peers.Parent, Weight: 1})
	resolver := hierarchy.New(hierarchy.Config{Enabled: true}, registry, selection.NewWeighted(), nil, nil)

	engine, pub := newTestEngineWithResolver(t, Config{}, resolver)

	req := httptest.NewRequest(http.MethodGet, origin.URL+"/a", nil)
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "from-parent", rec.Body.String())
	assert.Equal(t, "MISS", rec.Header().Get("X-Cache-Status"))

	require.Eventually(t, func() bool { return len(pub.snapshot()) == 1 }, time.Second, 5*time.Millisecond)
}

// CONNECT tunnel mode passes bytes through unmodified and emits exactly
// one CONNECT observation record.
func TestHandleConnectTunnel(t *testing.T) {
	originLn, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer originLn.Close()

	const payload = "raw-bytes-from-origin"
	go func() {
		conn, err := originLn.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		_, _ = conn.Write([]byte(payload))
	}()

	engine, pub := newTestEngine(t, Config{})

	proxyLn, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer proxyLn.Close()

	srv := &http.Server{Handler: engine}
	go func() { _ = srv.Serve(proxyLn) }()
	defer srv.Close()

	clientConn, err := net.Dial("tcp", proxyLn.Addr().String())
	require.NoError(t, err)

	_, err = clientConn.Write([]byte("CONNECT " + originLn.Addr().String() + " HTTP/1.1\r\nHost: " + originLn.Addr().String() + "\r\n\r\n"))
	require.NoError(t, err)

	reader := bufio.NewReader(clientConn)
	statusLine, err := reader.ReadString('\n')
	require.NoError(t, err)
	assert.Contains(t, statusLine, "200")

	// Drain the CRLF-terminated header block.
	for {
		line, err := reader.ReadString('\n')
		require.NoError(t, err)
		if line == "\r\n" {
			break
		}
	}

	buf := make([]byte, len(payload))
	_, err = io.ReadFull(reader, buf)
	require.NoError(t, err)
	assert.Equal(t, payload, string(buf))

	// The origin closed its side after writing, which ends the tunnel and
	// lets its single observation record get emitted; the client side is
	// closed here as well.
	require.NoError(t, clientConn.Close())

	require.Eventually(t, func() bool { return len(pub.snapshot()) == 1 }, time.Second, 5*time.Millisecond)
	rec := pub.snapshot()[0]
	assert.Equal(t, http.MethodConnect, rec.Method)
	assert.Equal(t, events.Bypass, rec.CacheOutcome)
	assert.Equal(t, int64(len(payload)), rec.ResponseBytes)
}
