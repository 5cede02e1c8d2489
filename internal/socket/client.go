package socket

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/1ureka/snowfight/internal/session"
	"github.com/1ureka/snowfight/internal/util"
)

// Dial connects a UDP socket to the server, starts the handshake and
// returns the connection. The handshake completes in the background;
// Ready is closed once the first post-handshake packet arrives. Reliable
// payloads may be sent immediately.
func Dial(ctx context.Context, addr string, opts Options) (*Conn, error) {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %s: %w", addr, err)
	}

	conn, err := net.DialUDP("udp", nil, udpAddr)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", addr, err)
	}

	opts = opts.withDefaults()
	cCtx, cancel := context.WithCancel(ctx)

	ep := newEndpoint(conn)
	c := newConn(udpAddr)

	// NewClient transmits the opening Init.
	c.sess = session.NewClient(udpAddr, opts.Session, c.handlers(ep, nil))
	util.Stats.AddSession()

	go clientReadLoop(cCtx, cancel, conn, c, newLossGate(opts.PacketLoss))
	go clientTickLoop(cCtx, c, opts.TickInterval)

	// Tie socket lifetime to the context and the session.
	go func() {
		select {
		case <-cCtx.Done():
		case <-c.done:
		}
		c.Close()
		cancel()
		conn.Close()
	}()

	util.LogInfo("connecting to %v from %v", udpAddr, conn.LocalAddr())
	return c, nil
}

func clientReadLoop(ctx context.Context, cancel context.CancelFunc, conn *net.UDPConn, c *Conn, loss *lossGate) {
	buf := make([]byte, 1<<16)

	for {
		data, _, err := readDatagram(conn, buf, loss)
		if err != nil {
			select {
			case <-ctx.Done():
			default:
				util.LogError("read failed: %v", err)
				c.Close()
				cancel()
			}
			return
		}
		if data == nil {
			continue
		}

		c.handleDatagram(data)
	}
}

func clientTickLoop(ctx context.Context, c *Conn, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.tick()
		case <-ctx.Done():
			return
		}
	}
}
