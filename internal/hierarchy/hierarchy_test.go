package hierarchy

import (
	"context"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jroosing/bsdm-proxy/internal/icp"
	"github.com/jroosing/bsdm-proxy/internal/peers"
	"github.com/jroosing/bsdm-proxy/internal/selection"
)

func startICPServer(t *testing.T, hit bool) string {
	t.Helper()
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 0})
	require.NoError(t, err)
	addr := conn.LocalAddr().(*net.UDPAddr)
	require.NoError(t, conn.Close())

	srv := &icp.Server{Handler: func(string) bool { return hit }}
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go func() { _ = srv.Serve(ctx, addr.String()) }()
	time.Sleep(20 * time.Millisecond)
	return addr.String()
}

func TestResolveReturnsOriginWhenDisabled(t *testing.T) {
	registry := peers.NewRegistry()
	r := New(Config{Enabled: false}, registry, selection.NewWeighted(), nil, nil)

	d := r.Resolve(context.Background(), "http://example.com/x")
	assert.Equal(t, OriginRequired, d.Source)
}

func TestResolveReturnsOriginWhenNoPeers(t *testing.T) {
	registry := peers.NewRegistry()
	r := New(Config{Enabled: true}, registry, selection.NewWeighted(), nil, nil)

	d := r.Resolve(context.Background(), "http://example.com/x")
	assert.Equal(t, OriginRequired, d.Source)
}

func TestResolveReturnsParentHit(t *testing.T) {
	registry := peers.NewRegistry()
	registry.Add(peers.Config{Host: "parent1", Port: 1488, Kind: peers.Parent, Weight: 1.0})

	r := New(Config{Enabled: true}, registry, selection.NewWeighted(), nil, nil)

	d := r.Resolve(context.Background(), "http://example.com/x")
	require.Equal(t, ParentHit, d.Source)
	assert.Equal(t, "parent1", d.Peer.Config.Host)
}

func TestResolveReturnsSiblingHitOverParent(t *testing.T) {
	_, port, host := splitAddr(t, startICPServer(t, true))

	registry := peers.NewRegistry()
	registry.Add(peers.Config{Host: host, Port: 1, Kind: peers.Sibling, Weight: 1.0, ICPPort: port})
	registry.Add(peers.Config{Host: "parent1", Port: 1488, Kind: peers.Parent, Weight: 1.0})

	client, err := icp.NewClient("127.0.0.1:0")
	require.NoError(t, err)
	defer client.Close()

	r := New(Config{Enabled: true, ICPTimeout: 500 * time.Millisecond}, registry, selection.NewWeighted(), client, nil)

	d := r.Resolve(context.Background(), "http://example.com/x")
	require.Equal(t, SiblingHit, d.Source)
	assert.Equal(t, host, d.Peer.Config.Host)
}

func TestResolveFallsThroughToParentOnSiblingMiss(t *testing.T) {
	_, port, host := splitAddr(t, startICPServer(t, false))

	registry := peers.NewRegistry()
	registry.Add(peers.Config{Host: host, Port: 1, Kind: peers.Sibling, Weight: 1.0, ICPPort: port})
	registry.Add(peers.Config{Host: "parent1", Port: 1488, Kind: peers.Parent, Weight: 1.0})

	client, err := icp.NewClient("127.0.0.1:0")
	require.NoError(t, err)
	defer client.Close()

	r := New(Config{Enabled: true, ICPTimeout: 500 * time.Millisecond}, registry, selection.NewWeighted(), client, nil)

	d := r.Resolve(context.Background(), "http://example.com/x")
	require.Equal(t, ParentHit, d.Source)
}

func TestRecordErrorFlipsUnhealthy(t *testing.T) {
	p := peers.New(peers.Config{Host: "x", Port: 1, Kind: peers.Parent, Weight: 1.0})
	for i := 0; i < 10; i++ {
		RecordError(p)
	}
	assert.False(t, p.IsHealthy())
}

func splitAddr(t *testing.T, addr string) (full string, port int, host string) {
	t.Helper()
	h, p, err := net.SplitHostPort(addr)
	require.NoError(t, err)
	portNum, err := strconv.Atoi(p)
	require.NoError(t, err)
	return addr, portNum, h
}
