package icp

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"
)

// Result is the outcome of one peer's ICP query.
type Result struct {
	Peer    string
	Opcode  Opcode
	Latency time.Duration
}

// pendingQuery tracks one in-flight query awaiting a matching reply. A
// single receive loop owns the socket, so concurrent QueryPeer calls never
// contend over read deadlines the way per-call blocking reads would.
type pendingQuery struct {
	peer  *net.UDPAddr
	start time.Time
	done  chan Result
}

// Client sends ICP queries to sibling caches over a shared UDP socket.
type Client struct {
	conn      *net.UDPConn
	requestNo atomic.Uint32

	mu      sync.Mutex
	pending map[uint32]*pendingQuery

	closeOnce sync.Once
	closed    chan struct{}
}

// NewClient binds a UDP socket for outgoing ICP queries and starts its
// background receive loop. bindAddr may be "0.0.0.0:0" for an ephemeral port.
func NewClient(bindAddr string) (*Client, error) {
	addr, err := net.ResolveUDPAddr("udp", bindAddr)
	if err != nil {
		return nil, fmt.Errorf("icp: resolve bind addr: %w", err)
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("icp: listen: %w", err)
	}

	c := &Client{
		conn:    conn,
		pending: map[uint32]*pendingQuery{},
		closed:  make(chan struct{}),
	}
	c.requestNo.Store(1)
	go c.recvLoop()
	return c, nil
}

// Close releases the client's socket and stops its receive loop.
func (c *Client) Close() error {
	err := c.conn.Close()
	c.closeOnce.Do(func() { close(c.closed) })
	return err
}

func (c *Client) recvLoop() {
	buf := make([]byte, 1024)
	for {
		n, from, err := c.conn.ReadFromUDP(buf)
		if err != nil {
			return
		}

		resp, err := Decode(buf[:n])
		if err != nil {
			continue
		}

		c.mu.Lock()
		pq, ok := c.pending[resp.RequestNumber]
		if ok {
			delete(c.pending, resp.RequestNumber)
		}
		c.mu.Unlock()

		if !ok || !sameHost(pq.peer, from) {
			continue
		}

		pq.done <- Result{Peer: pq.peer.String(), Opcode: resp.Opcode, Latency: time.Since(pq.start)}
	}
}

func sameHost(want, got *net.UDPAddr) bool {
	return want.IP.Equal(got.IP) && want.Port == got.Port
}

// QueryPeer sends a single ICP query to peer and waits up to timeout for a
// matching response. Stale or mismatched replies are ignored by the shared
// receive loop, not by this call.
func (c *Client) QueryPeer(ctx context.Context, peer, url string, timeout time.Duration) (Result, error) {
	peerAddr, err := net.ResolveUDPAddr("udp", peer)
	if err != nil {
		return Result{}, fmt.Errorf("icp: resolve peer %s: %w", peer, err)
	}

	query := Query(c.requestNo.Add(1), url)
	encoded, err := query.Encode()
	if err != nil {
		return Result{}, err
	}
	requestNumber := query.RequestNumber

	pq := &pendingQuery{peer: peerAddr, start: time.Now(), done: make(chan Result, 1)}

	c.mu.Lock()
	c.pending[requestNumber] = pq
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, requestNumber)
		c.mu.Unlock()
	}()

	if _, err := c.conn.WriteToUDP(encoded, peerAddr); err != nil {
		return Result{}, fmt.Errorf("icp: send to %s: %w", peer, err)
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case res := <-pq.done:
		return res, nil
	case <-timer.C:
		return Result{}, fmt.Errorf("icp: query %s timed out", peer)
	case <-ctx.Done():
		return Result{}, ctx.Err()
	case <-c.closed:
		return Result{}, fmt.Errorf("icp: client closed")
	}
}

// QueryPeers fans a query out to every peer in parallel and collects every
// response received within timeout. A peer that errors or never answers is
// simply absent from the result slice. All goroutines are allowed to run to
// completion (bounded by timeout) before this returns; callers racing for the
// first HIT should use FindHit instead, which returns as soon as one arrives.
func (c *Client) QueryPeers(ctx context.Context, peerList []string, url string, timeout time.Duration) []Result {
	type outcome struct {
		result Result
		ok     bool
	}

	ch := make(chan outcome, len(peerList))
	for _, peer := range peerList {
		peer := peer
		go func() {
			res, err := c.QueryPeer(ctx, peer, url, timeout)
			ch <- outcome{result: res, ok: err == nil}
		}()
	}

	results := make([]Result, 0, len(peerList))
	for range peerList {
		out := <-ch
		if out.ok {
			results = append(results, out.result)
		}
	}
	return results
}

// FindHit queries every peer in parallel and returns the address of the
// first one that reports a HIT, returning as soon as that HIT arrives rather
// than waiting on the rest of the fan-out. Responses that arrive after a HIT
// was already returned are drained in the background so they don't bleed
// into a later query on the same socket. If no HIT arrives before timeout,
// it returns false once every peer has answered or the deadline passes.
func (c *Client) FindHit(ctx context.Context, peerList []string, url string, timeout time.Duration) (string, time.Duration, bool) {
	ch := make(chan queryOutcome, len(peerList))
	for _, peer := range peerList {
		peer := peer
		go func() {
			res, err := c.QueryPeer(ctx, peer, url, timeout)
			ch <- queryOutcome{result: res, ok: err == nil}
		}()
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	remaining := len(peerList)
	for remaining > 0 {
		select {
		case out := <-ch:
			remaining--
			if out.ok && out.result.Opcode == OpHit {
				go drain(ch, remaining)
				return out.result.Peer, out.result.Latency, true
			}
		case <-timer.C:
			go drain(ch, remaining)
			return "", 0, false
		case <-ctx.Done():
			go drain(ch, remaining)
			return "", 0, false
		}
	}
	return "", 0, false
}

// queryOutcome is one QueryPeer result arriving on FindHit's fan-in channel.
type queryOutcome struct {
	result Result
	ok     bool
}

// drain consumes the remaining n outcomes from ch so the per-query
// goroutines above never block forever on an unread send.
func drain(ch <-chan queryOutcome, n int) {
	for i := 0; i < n; i++ {
		<-ch
	}
}
