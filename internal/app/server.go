// Package app contains the top-level orchestration for server and client
// roles: the authoritative world loop on one side, the request/event loop
// on the other.
package app

import (
	"context"
	"time"

	"github.com/1ureka/snowfight/internal/config"
	"github.com/1ureka/snowfight/internal/protocol"
	"github.com/1ureka/snowfight/internal/session"
	"github.com/1ureka/snowfight/internal/socket"
	"github.com/1ureka/snowfight/internal/util"
)

// RunServer orchestrates the full server lifecycle:
//  1. Bind the UDP endpoint
//  2. Admit handshake-verified peers and hand out player ids
//  3. Apply client actions to the world
//  4. Broadcast snapshots on a fixed tick
func RunServer(ctx context.Context, cfg config.Config) error {
	srv, err := socket.Listen(ctx, cfg.ListenAddr, options(cfg))
	if err != nil {
		return err
	}
	defer srv.Close()

	util.StartStatsReporter(ctx)
	util.LogSuccess("server up — waiting for players on %v", srv.Addr())

	w := newWorld()
	start := time.Now()
	ticker := time.NewTicker(cfg.SnapshotInterval)
	defer ticker.Stop()

	for {
		select {
		case peer := <-srv.Accept():
			id := w.join(peer)
			util.LogInfo("[%v] player %d joined", peer.Addr(), id)

			// The first reliable message a client sees is its Connect.
			connect := protocol.Response{
				Channel: 0,
				Kind:    protocol.Connect{Player: id, Snapshot: w.snapshot()},
			}
			if err := peer.Send(protocol.EncodeServerMessage(connect), true); err != nil {
				util.LogWarning("[%v] failed to send connect: %v", peer.Addr(), err)
			}

			go servePeer(ctx, w, peer, start)

		case <-ticker.C:
			w.step()
			broadcastSnapshot(w, start)

		case <-ctx.Done():
			return nil

		case <-srv.Done():
			return nil
		}
	}
}

// broadcastSnapshot sends the world state to every peer, best effort.
// A lost snapshot is superseded by the next one.
func broadcastSnapshot(w *world, start time.Time) {
	event := protocol.Event{
		Time: gameTime(start),
		Kind: w.snapshot(),
	}
	data := protocol.EncodeServerMessage(event)

	for _, peer := range w.peers() {
		if err := peer.Send(data, event.MustArrive()); err != nil {
			util.LogDebug("[%v] snapshot send failed: %v", peer.Addr(), err)
		}
	}
}

// servePeer consumes one peer's messages until its session closes.
func servePeer(ctx context.Context, w *world, peer *socket.Conn, start time.Time) {
	defer func() {
		if id, ok := w.playerID(peer); ok {
			util.LogInfo("[%v] player %d left", peer.Addr(), id)
		}
		w.leave(peer)
	}()

	for {
		select {
		case payload := <-peer.Recv():
			msg, err := protocol.DecodeClientMessage(payload)
			if err != nil {
				// A bad payload costs this message, not the session.
				util.LogWarning("[%v] undecodable message: %v", peer.Addr(), err)
				continue
			}
			handleClientMessage(w, peer, msg, start)

		case <-peer.Done():
			if err := peer.Err(); err != nil {
				util.LogWarning("[%v] session closed: %v", peer.Addr(), err)
			}
			return

		case <-ctx.Done():
			peer.Close()
			return
		}
	}
}

func handleClientMessage(w *world, peer *socket.Conn, msg protocol.ClientMessage, start time.Time) {
	switch m := msg.(type) {
	case protocol.Request:
		handleRequest(w, peer, m)
	case protocol.Action:
		handleAction(w, peer, m, start)
	}
}

func handleRequest(w *world, peer *socket.Conn, req protocol.Request) {
	var kind protocol.ResponseKind

	switch req.Kind.(type) {
	case protocol.Ping:
		kind = protocol.Pong{}
	case protocol.Init:
		id, ok := w.playerID(peer)
		if !ok {
			kind = protocol.ErrorResponse{Message: "not in game"}
			break
		}
		kind = protocol.Connect{Player: id, Snapshot: w.snapshot()}
	}

	response := protocol.Response{Channel: req.Channel, Kind: kind}
	if err := peer.Send(protocol.EncodeServerMessage(response), response.MustArrive()); err != nil {
		util.LogWarning("[%v] failed to respond: %v", peer.Addr(), err)
	}
}

func handleAction(w *world, peer *socket.Conn, action protocol.Action, start time.Time) {
	switch a := action.Kind.(type) {
	case protocol.Move:
		w.setMovement(peer, a.Direction)

	case protocol.Break:
		w.setBreaking(peer, a.IsBreaking, a.Entity)

	case protocol.Throw:
		for _, hit := range w.throwAt(peer, a.Target) {
			util.LogInfo("player %d was snowed under", hit.id)
			sendGameOver(hit.peer, start, false)
			sendGameOver(peer, start, true)
		}
	}
}

func sendGameOver(peer *socket.Conn, start time.Time, won bool) {
	event := protocol.Event{Time: gameTime(start), Kind: protocol.GameOver{Won: won}}
	if err := peer.Send(protocol.EncodeServerMessage(event), event.MustArrive()); err != nil {
		util.LogWarning("[%v] failed to send game over: %v", peer.Addr(), err)
	}
}

// gameTime is milliseconds since server start, as carried by events.
func gameTime(start time.Time) uint32 {
	return uint32(time.Since(start).Milliseconds())
}

// options maps the runtime configuration onto the transport.
func options(cfg config.Config) socket.Options {
	return socket.Options{
		Session: session.Config{
			RetransmitInterval: cfg.RetransmitInterval,
			IdleTimeout:        cfg.IdleTimeout,
			CompletedRetention: cfg.CompletedRetention,
		},
		TickInterval: cfg.TickInterval,
		PacketLoss:   cfg.PacketLoss,
	}
}
