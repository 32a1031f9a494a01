package icp

import (
	"context"
	"log/slog"
	"net"
	"sync"

	"github.com/jroosing/bsdm-proxy/internal/pool"
	"github.com/jroosing/bsdm-proxy/internal/reuseport"
)

// bufferPool reduces allocations for incoming ICP packets.
var bufferPool = pool.New(func() *[]byte {
	buf := make([]byte, 1024)
	return &buf
})

// QueryHandler reports whether url is present in the local cache.
type QueryHandler func(url string) bool

// Server answers ICP queries from sibling caches over a single UDP socket.
// ICP traffic is low volume, a handful of sibling caches each sending at
// most one query per proxied request, so a single socket with a small
// worker pool is enough; no SO_REUSEPORT fan-out.
type Server struct {
	Logger  *slog.Logger
	Handler QueryHandler
	Workers int

	conn *net.UDPConn
	wg   sync.WaitGroup
}

const defaultICPWorkers = 16

// Serve binds addr and processes ICP queries until ctx is cancelled. The
// socket is SO_REUSEPORT-enabled so a replacement process can bind while
// this one drains.
func (s *Server) Serve(ctx context.Context, addr string) error {
	conn, err := reuseport.ListenUDP(ctx, addr)
	if err != nil {
		return err
	}
	s.conn = conn

	workers := s.Workers
	if workers <= 0 {
		workers = defaultICPWorkers
	}

	type packet struct {
		bufPtr *[]byte
		n      int
		peer   *net.UDPAddr
	}
	packetCh := make(chan packet, workers*2)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			bufPtr := bufferPool.Get()
			buf := *bufPtr

			n, peer, err := conn.ReadFromUDP(buf)
			if err != nil {
				bufferPool.Put(bufPtr)
				return
			}

			select {
			case packetCh <- packet{bufPtr, n, peer}:
			default:
				bufferPool.Put(bufPtr)
			}
		}
	}()

	for i := 0; i < workers; i++ {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case p, ok := <-packetCh:
					if !ok {
						return
					}
					s.handlePacket((*p.bufPtr)[:p.n], p.peer)
					bufferPool.Put(p.bufPtr)
				}
			}
		}()
	}

	<-ctx.Done()
	_ = conn.Close()
	s.wg.Wait()
	return nil
}

func (s *Server) handlePacket(data []byte, sender *net.UDPAddr) {
	msg, err := Decode(data)
	if err != nil {
		if s.Logger != nil {
			s.Logger.Debug("icp: dropping malformed packet", "peer", sender, "error", err)
		}
		return
	}
	if msg.Version != Version && s.Logger != nil {
		s.Logger.Debug("icp: unexpected protocol version", "peer", sender, "version", msg.Version)
	}
	if msg.Opcode != OpQuery {
		return
	}

	hit := s.Handler != nil && s.Handler(msg.URL)

	var resp Message
	if hit {
		resp = Hit(msg.RequestNumber)
	} else {
		resp = Miss(msg.RequestNumber)
	}

	encoded, err := resp.Encode()
	if err != nil {
		return
	}
	if _, err := s.conn.WriteToUDP(encoded, sender); err != nil && s.Logger != nil {
		s.Logger.Debug("icp: failed to send response", "peer", sender, "error", err)
	}
}
