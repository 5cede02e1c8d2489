package socket

import (
	"math/rand"
	"net"
	"sync"
	"time"

	"github.com/1ureka/snowfight/internal/session"
	"github.com/1ureka/snowfight/internal/util"
)

// Options tunes an endpoint and the sessions it creates.
type Options struct {
	// Session carries the protocol timing; zero fields use the defaults.
	Session session.Config

	// TickInterval drives retransmission and timeout checks.
	TickInterval time.Duration

	// PacketLoss drops this fraction of inbound datagrams, for testing.
	PacketLoss float64
}

func (o Options) withDefaults() Options {
	if o.TickInterval <= 0 {
		o.TickInterval = 50 * time.Millisecond
	}
	return o
}

// Conn is one verified (or verifying) peer. The embedded session is
// single-writer; every path into it takes the connection's lock.
type Conn struct {
	addr *net.UDPAddr

	mu   sync.Mutex
	sess *session.Session

	recv  chan []byte
	ready chan struct{}
	done  chan struct{}

	readyOnce sync.Once
	doneOnce  sync.Once

	errMu    sync.Mutex
	closeErr error

	// onClosed lets the owning server drop the peer from its table.
	onClosed func()
}

func newConn(addr *net.UDPAddr) *Conn {
	return &Conn{
		addr:  addr,
		recv:  make(chan []byte, recvBufferSize),
		ready: make(chan struct{}),
		done:  make(chan struct{}),
	}
}

// handlers wires the session callbacks to the connection's channels.
func (c *Conn) handlers(ep *endpoint, sendAddr *net.UDPAddr) session.Handlers {
	return session.Handlers{
		Output: func(datagram []byte) {
			ep.send(datagram, sendAddr)
		},
		Deliver: func(payload []byte) {
			select {
			case c.recv <- payload:
			default:
				util.LogWarning("[%v] receive buffer full, dropping payload", c.addr)
			}
		},
		Verified: func() {
			c.readyOnce.Do(func() { close(c.ready) })
		},
		Closed: func(err error) {
			c.errMu.Lock()
			c.closeErr = err
			c.errMu.Unlock()

			util.Stats.RemoveSession()
			c.doneOnce.Do(func() { close(c.done) })
			if c.onClosed != nil {
				c.onClosed()
			}
		},
	}
}

// Addr returns the peer's address.
func (c *Conn) Addr() net.Addr { return c.addr }

// Send transmits a payload, reliably when asked.
func (c *Conn) Send(payload []byte, reliable bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sess.Send(payload, reliable)
}

// Recv returns the channel of completed inbound payloads.
func (c *Conn) Recv() <-chan []byte { return c.recv }

// Ready returns a channel that is closed once the handshake completes.
func (c *Conn) Ready() <-chan struct{} { return c.ready }

// Done returns a channel that is closed when the session is gone.
func (c *Conn) Done() <-chan struct{} { return c.done }

// Err reports why the session closed. It is nil for a graceful close and
// meaningful only after Done is closed.
func (c *Conn) Err() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.closeErr
}

// Close sends a best-effort END packet and discards the session.
func (c *Conn) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sess.Close()
}

// handleDatagram runs one inbound datagram through the session.
func (c *Conn) handleDatagram(data []byte) {
	c.mu.Lock()
	err := c.sess.HandlePacket(data)
	c.mu.Unlock()

	if err != nil {
		util.LogDebug("[%v] dropped datagram: %v", c.addr, err)
	}
}

// tick drives the session's timers.
func (c *Conn) tick() {
	c.mu.Lock()
	c.sess.Tick()
	c.mu.Unlock()
}

// lossGate implements the artificial packet loss knob.
type lossGate struct {
	rate float64
	mu   sync.Mutex
	rng  *rand.Rand
}

func newLossGate(rate float64) *lossGate {
	return &lossGate{
		rate: rate,
		rng:  rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (g *lossGate) drop() bool {
	if g.rate <= 0 {
		return false
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.rng.Float64() < g.rate
}
