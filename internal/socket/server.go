package socket

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/1ureka/snowfight/internal/session"
	"github.com/1ureka/snowfight/internal/util"
)

// Server owns the listening UDP endpoint and the table of peer sessions,
// keyed by remote address. New addresses are only admitted when their
// first datagram is a handshake Init.
type Server struct {
	ctx    context.Context
	cancel context.CancelFunc

	opts Options
	conn *net.UDPConn
	ep   *endpoint
	loss *lossGate

	mu      sync.RWMutex
	peers   map[string]*Conn
	accepts chan *Conn
}

// Listen binds addr and starts the read and tick loops. The server runs
// until ctx is cancelled or Close is called.
func Listen(ctx context.Context, addr string, opts Options) (*Server, error) {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %s: %w", addr, err)
	}

	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return nil, fmt.Errorf("failed to bind %s: %w", addr, err)
	}

	sCtx, cancel := context.WithCancel(ctx)

	s := &Server{
		ctx:     sCtx,
		cancel:  cancel,
		opts:    opts.withDefaults(),
		conn:    conn,
		ep:      newEndpoint(conn),
		loss:    newLossGate(opts.PacketLoss),
		peers:   make(map[string]*Conn),
		accepts: make(chan *Conn, acceptBufferSize),
	}

	go s.readLoop()
	go s.tickLoop()

	// Unblock the read loop when the context dies.
	go func() {
		<-sCtx.Done()
		conn.Close()
	}()

	util.LogInfo("listening on %v", conn.LocalAddr())
	return s, nil
}

// Addr returns the bound local address.
func (s *Server) Addr() net.Addr { return s.conn.LocalAddr() }

// Accept returns the channel of handshake-verified peers.
func (s *Server) Accept() <-chan *Conn { return s.accepts }

// Done returns a channel closed when the server shuts down.
func (s *Server) Done() <-chan struct{} { return s.ctx.Done() }

// Close shuts the endpoint down and closes every peer session.
func (s *Server) Close() {
	s.mu.Lock()
	peers := make([]*Conn, 0, len(s.peers))
	for _, p := range s.peers {
		peers = append(peers, p)
	}
	s.mu.Unlock()

	for _, p := range peers {
		p.Close()
	}
	s.cancel()
}

// readLoop receives datagrams and routes them by source address.
func (s *Server) readLoop() {
	buf := make([]byte, 1<<16)

	for {
		data, addr, err := readDatagram(s.conn, buf, s.loss)
		if err != nil {
			select {
			case <-s.ctx.Done():
			default:
				util.LogError("read failed: %v", err)
				s.cancel()
			}
			return
		}
		if data == nil {
			continue
		}

		peer := s.lookup(addr.String())
		if peer == nil {
			if !session.IsInit(data) {
				util.LogDebug("non-handshake datagram from unknown %v, dropping", addr)
				continue
			}
			peer = s.admit(addr)
		}

		peer.handleDatagram(data)
	}
}

// tickLoop drives every peer's retransmit and timeout checks from one
// shared timer.
func (s *Server) tickLoop() {
	ticker := time.NewTicker(s.opts.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.mu.RLock()
			peers := make([]*Conn, 0, len(s.peers))
			for _, p := range s.peers {
				peers = append(peers, p)
			}
			s.mu.RUnlock()

			for _, p := range peers {
				p.tick()
			}

		case <-s.ctx.Done():
			return
		}
	}
}

func (s *Server) lookup(key string) *Conn {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.peers[key]
}

// admit creates a pending session for a new address.
func (s *Server) admit(addr *net.UDPAddr) *Conn {
	key := addr.String()

	c := newConn(addr)
	c.onClosed = func() {
		s.mu.Lock()
		delete(s.peers, key)
		s.mu.Unlock()
	}

	handlers := c.handlers(s.ep, addr)
	verified := handlers.Verified
	handlers.Verified = func() {
		verified()
		select {
		case s.accepts <- c:
		default:
			util.LogWarning("[%v] accept queue full, closing session", addr)
			c.sess.Close()
		}
	}

	c.sess = session.NewServer(addr, s.opts.Session, handlers)

	s.mu.Lock()
	s.peers[key] = c
	s.mu.Unlock()

	util.Stats.AddSession()
	util.LogDebug("[%v] new pending session", addr)
	return c
}
