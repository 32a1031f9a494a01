package icp

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func startTestServer(t *testing.T, handler QueryHandler) (string, context.CancelFunc) {
	t.Helper()

	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 0})
	require.NoError(t, err)
	addr := conn.LocalAddr().String()
	require.NoError(t, conn.Close())

	srv := &Server{Handler: handler}
	ctx, cancel := context.WithCancel(context.Background())

	ready := make(chan struct{})
	go func() {
		close(ready)
		_ = srv.Serve(ctx, addr)
	}()
	<-ready
	time.Sleep(20 * time.Millisecond)

	return addr, cancel
}

func TestClientServerHitRoundTrip(t *testing.T) {
	addr, cancel := startTestServer(t, func(url string) bool { return true })
	defer cancel()

	client, err := NewClient("127.0.0.1:0")
	require.NoError(t, err)
	defer client.Close()

	result, err := client.QueryPeer(context.Background(), addr, "http://example.com/test", 500*time.Millisecond)
	require.NoError(t, err)
	require.Equal(t, OpHit, result.Opcode)
}

func TestClientServerMissRoundTrip(t *testing.T) {
	addr, cancel := startTestServer(t, func(url string) bool { return false })
	defer cancel()

	client, err := NewClient("127.0.0.1:0")
	require.NoError(t, err)
	defer client.Close()

	result, err := client.QueryPeer(context.Background(), addr, "http://example.com/test", 500*time.Millisecond)
	require.NoError(t, err)
	require.Equal(t, OpMiss, result.Opcode)
}

func TestFindHitAmongMultiplePeers(t *testing.T) {
	missAddr, cancelMiss := startTestServer(t, func(url string) bool { return false })
	defer cancelMiss()
	hitAddr, cancelHit := startTestServer(t, func(url string) bool { return true })
	defer cancelHit()

	client, err := NewClient("127.0.0.1:0")
	require.NoError(t, err)
	defer client.Close()

	peer, _, found := client.FindHit(context.Background(), []string{missAddr, hitAddr}, "http://example.com/x", 500*time.Millisecond)
	require.True(t, found)
	require.Equal(t, hitAddr, peer)
}

func TestFindHitNoneReturnsFalse(t *testing.T) {
	addr, cancel := startTestServer(t, func(url string) bool { return false })
	defer cancel()

	client, err := NewClient("127.0.0.1:0")
	require.NoError(t, err)
	defer client.Close()

	_, _, found := client.FindHit(context.Background(), []string{addr}, "http://example.com/x", 500*time.Millisecond)
	require.False(t, found)
}
