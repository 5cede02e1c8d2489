// Package socket binds a UDP endpoint and routes datagrams between the
// wire and per-peer sessions. The server side demultiplexes by source
// address; the client side drives a single connected socket. All socket
// writes are serialized by one lock on the endpoint.
package socket

import (
	"net"
	"sync"

	"github.com/1ureka/snowfight/internal/session"
	"github.com/1ureka/snowfight/internal/util"
)

const (
	// recvBufferSize is the per-peer delivery channel capacity.
	recvBufferSize = 64

	// acceptBufferSize bounds sessions waiting in Accept.
	acceptBufferSize = 16
)

// endpoint serializes all writes to one UDP socket so sessions can emit
// datagrams from any goroutine without interleaving. There is no
// backpressure: a datagram the OS refuses is simply a lost packet, and
// reliable chunks come back through retransmission.
type endpoint struct {
	mu   sync.Mutex
	conn *net.UDPConn
}

func newEndpoint(conn *net.UDPConn) *endpoint {
	return &endpoint{conn: conn}
}

// send writes one datagram. addr is nil on a connected socket.
func (e *endpoint) send(data []byte, addr *net.UDPAddr) {
	e.mu.Lock()
	defer e.mu.Unlock()

	var err error
	if addr != nil {
		_, err = e.conn.WriteToUDP(data, addr)
	} else {
		_, err = e.conn.Write(data)
	}
	if err != nil {
		util.LogDebug("send failed: %v", err)
		return
	}
	util.Stats.AddSent(len(data))
}

// readDatagram pulls one datagram, applying the artificial loss knob.
// Returns nil data for datagrams that should be ignored.
func readDatagram(conn *net.UDPConn, buf []byte, loss *lossGate) ([]byte, *net.UDPAddr, error) {
	n, addr, err := conn.ReadFromUDP(buf)
	if err != nil {
		return nil, nil, err
	}

	util.Stats.AddRecv(n)

	if n > session.MaxDatagramSize {
		util.LogDebug("oversized datagram (%d bytes) from %v", n, addr)
		return nil, nil, nil
	}
	if loss.drop() {
		util.LogDebug("artificial loss: dropping %d bytes from %v", n, addr)
		return nil, nil, nil
	}

	data := make([]byte, n)
	copy(data, buf[:n])
	return data, addr, nil
}
