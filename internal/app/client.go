package app

import (
	"context"
	"sync"
	"time"

	"github.com/1ureka/snowfight/internal/config"
	"github.com/1ureka/snowfight/internal/protocol"
	"github.com/1ureka/snowfight/internal/socket"
	"github.com/1ureka/snowfight/internal/util"
)

// pingInterval is how often the client measures its round trip.
const pingInterval = 2 * time.Second

// RunClient orchestrates the full client lifecycle:
//  1. Dial the server and complete the handshake
//  2. Receive the Connect response with our player id
//  3. Track the world from snapshot events
//  4. Ping periodically until the game ends or ctx is cancelled
func RunClient(ctx context.Context, cfg config.Config) error {
	conn, err := socket.Dial(ctx, cfg.ServerAddr, options(cfg))
	if err != nil {
		return err
	}
	defer conn.Close()

	util.StartStatsReporter(ctx)

	pings := newPingTable()
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	var playerID uint32
	connected := false

	for {
		select {
		case payload := <-conn.Recv():
			msg, err := protocol.DecodeServerMessage(payload)
			if err != nil {
				util.LogWarning("undecodable message: %v", err)
				continue
			}

			switch m := msg.(type) {
			case protocol.Response:
				switch kind := m.Kind.(type) {
				case protocol.Connect:
					playerID = kind.Player
					connected = true
					util.LogSuccess("connected as player %d (%d entities)",
						playerID, len(kind.Snapshot.Entities))
				case protocol.Pong:
					if sent, ok := pings.take(m.Channel); ok {
						util.LogInfo("pong on channel %d: %v", m.Channel, time.Since(sent).Round(time.Millisecond))
					}
				case protocol.ErrorResponse:
					util.LogWarning("request %d failed: %s", m.Channel, kind.Message)
				}

			case protocol.Event:
				switch kind := m.Kind.(type) {
				case protocol.Snapshot:
					util.LogDebug("snapshot at t=%d: %d entities", m.Time, len(kind.Entities))
				case protocol.GameOver:
					if kind.Won {
						util.LogSuccess("game over — you won")
					} else {
						util.LogInfo("game over — you were snowed under")
					}
					return nil
				}
			}

		case <-ticker.C:
			if !connected {
				continue
			}
			channel := pings.add()
			ping := protocol.Request{Channel: channel, Kind: protocol.Ping{}}
			if err := conn.Send(protocol.EncodeClientMessage(ping), false); err != nil {
				util.LogWarning("ping failed: %v", err)
			}

		case <-conn.Done():
			if err := conn.Err(); err != nil {
				return err
			}
			util.LogInfo("server closed the session")
			return nil

		case <-ctx.Done():
			return nil
		}
	}
}

// pingTable correlates ping channels with their send times.
type pingTable struct {
	mu      sync.Mutex
	next    uint32
	pending map[uint32]time.Time
}

func newPingTable() *pingTable {
	return &pingTable{next: 1, pending: make(map[uint32]time.Time)}
}

func (t *pingTable) add() uint32 {
	t.mu.Lock()
	defer t.mu.Unlock()

	channel := t.next
	t.next++
	t.pending[channel] = time.Now()
	return channel
}

func (t *pingTable) take(channel uint32) (time.Time, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	sent, ok := t.pending[channel]
	delete(t.pending, channel)
	return sent, ok
}
