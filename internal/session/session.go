package session

import (
	"errors"
	"math/rand/v2"
	"net"
	"time"

	"github.com/1ureka/snowfight/internal/util"
)

// Phase is the handshake state of a session.
type Phase uint8

const (
	// PhaseInit: the server is waiting for Init, the client has sent it
	// and is waiting for Challenge.
	PhaseInit Phase = iota

	// PhaseChallenge: the server has sent Challenge and waits for the
	// response, the client has answered and waits for the first data
	// packet.
	PhaseChallenge

	// PhaseVerified: the handshake is complete, data flows.
	PhaseVerified

	// PhaseClosed: the session is gone; all sends are rejected.
	PhaseClosed
)

// Role distinguishes the two ends of the handshake.
type Role uint8

const (
	RoleServer Role = iota
	RoleClient
)

// ErrSessionClosed is returned by Send after the session has closed.
var ErrSessionClosed = errors.New("session: closed")

// ErrSessionTimeout is the close reason after 15 seconds without a
// well-formed inbound packet.
var ErrSessionTimeout = errors.New("session: idle timeout")

// Config holds the transport tuning knobs.
type Config struct {
	// RetransmitInterval is how long an unacknowledged reliable chunk
	// waits before being resent.
	RetransmitInterval time.Duration

	// IdleTimeout closes the session after this long without a
	// well-formed inbound packet.
	IdleTimeout time.Duration

	// CompletedRetention is how long a completed sequence is remembered
	// to suppress duplicate deliveries.
	CompletedRetention time.Duration
}

// DefaultConfig returns the protocol's standard timing.
func DefaultConfig() Config {
	return Config{
		RetransmitInterval: 100 * time.Millisecond,
		IdleTimeout:        15 * time.Second,
		CompletedRetention: 30 * time.Second,
	}
}

// withDefaults fills zero fields so a partially specified Config works.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.RetransmitInterval <= 0 {
		c.RetransmitInterval = d.RetransmitInterval
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = d.IdleTimeout
	}
	if c.CompletedRetention <= 0 {
		c.CompletedRetention = d.CompletedRetention
	}
	return c
}

// Handlers are the session's callbacks into its owner. Output and Deliver
// must be set; the rest are optional. All callbacks run synchronously on
// the goroutine that called into the session.
type Handlers struct {
	// Output transmits a raw datagram to the peer.
	Output func(datagram []byte)

	// Deliver hands a completed payload to the application.
	Deliver func(payload []byte)

	// Verified fires once when the handshake completes.
	Verified func()

	// Closed fires once when the session closes. err is nil for a
	// graceful close and ErrSessionTimeout for an idle timeout.
	Closed func(err error)
}

type chunkKey struct {
	sequence uint16
	chunk    uint8
}

type unackedChunk struct {
	datagram []byte
	lastSend time.Time
	retries  int
}

// Session is the per-peer protocol state machine. It is not safe for
// concurrent use; the owner must serialize HandlePacket, Send, Tick and
// Close, which the socket package does with one lock per peer.
type Session struct {
	addr     net.Addr
	role     Role
	cfg      Config
	handlers Handlers

	phase  Phase
	salt   uint32
	pepper uint32

	// lastHandshake is this side's most recent handshake datagram (the
	// client's Init or ChallengeResponse, the server's Challenge), resent
	// on every tick until the handshake completes.
	lastHandshake []byte

	nextSeq  uint16
	unacked  map[chunkKey]*unackedChunk
	inbound  map[uint16]*reassembly
	lastRecv time.Time

	// Injected for tests.
	now        func() time.Time
	randUint32 func() uint32
}

// NewServer creates the server-side state for a peer whose Init has just
// arrived at the endpoint. The Init itself still goes through HandlePacket.
func NewServer(addr net.Addr, cfg Config, handlers Handlers) *Session {
	return newSession(addr, RoleServer, cfg, handlers)
}

// NewClient creates the client-side state and immediately sends Init with
// a fresh random salt.
func NewClient(addr net.Addr, cfg Config, handlers Handlers) *Session {
	s := newSession(addr, RoleClient, cfg, handlers)
	s.start()
	return s
}

// start opens the handshake from the client side.
func (s *Session) start() {
	s.salt = s.randUint32()
	s.sendHandshake(s.salt)
}

func newSession(addr net.Addr, role Role, cfg Config, handlers Handlers) *Session {
	s := &Session{
		addr:       addr,
		role:       role,
		cfg:        cfg.withDefaults(),
		handlers:   handlers,
		phase:      PhaseInit,
		unacked:    make(map[chunkKey]*unackedChunk),
		inbound:    make(map[uint16]*reassembly),
		now:        time.Now,
		randUint32: rand.Uint32,
	}
	s.lastRecv = s.now()
	return s
}

// Addr returns the peer's address.
func (s *Session) Addr() net.Addr { return s.addr }

// Phase returns the current handshake phase.
func (s *Session) Phase() Phase { return s.phase }

// Verified reports whether the handshake has completed.
func (s *Session) Verified() bool { return s.phase == PhaseVerified }

// Closed reports whether the session is gone.
func (s *Session) Closed() bool { return s.phase == PhaseClosed }

// Send splits a payload into chunks and transmits them under a fresh
// sequence id. Reliable chunks are tracked until acknowledged.
func (s *Session) Send(payload []byte, reliable bool) error {
	if s.phase == PhaseClosed {
		return ErrSessionClosed
	}

	packets, err := splitChunks(s.nextSeq, payload, reliable)
	if err != nil {
		return err
	}
	seq := s.nextSeq
	s.nextSeq++

	now := s.now()
	for i, datagram := range packets {
		if reliable {
			key := chunkKey{sequence: seq, chunk: uint8(i)}
			s.unacked[key] = &unackedChunk{datagram: datagram, lastSend: now}
		}
		s.handlers.Output(datagram)
	}

	util.LogDebug("[%v] sent sequence %d in %d chunk(s)", s.addr, seq, len(packets))
	return nil
}

// HandlePacket runs the full inbound path for one datagram. Malformed
// datagrams are reported as ErrMalformedPacket and change no state.
func (s *Session) HandlePacket(datagram []byte) error {
	if s.phase == PhaseClosed {
		return nil
	}

	h, payload, err := ParseHeader(datagram)
	if err != nil {
		return err
	}

	s.lastRecv = s.now()

	if h.Flags&FlagEnd != 0 {
		util.LogDebug("[%v] received END", s.addr)
		s.close(nil, false)
		return nil
	}

	if h.Flags&FlagAck != 0 {
		s.acknowledge(h)
		return nil
	}

	if s.phase != PhaseVerified {
		return s.handleHandshake(h, payload)
	}

	if isHandshake(h, payload) {
		// A stray duplicate from the handshake; already verified.
		return nil
	}

	s.handleData(h, payload)
	return nil
}

// acknowledge removes a reliable chunk from the unacked table. The first
// inbound packet after the client's challenge response also completes the
// client handshake.
func (s *Session) acknowledge(h Header) {
	s.clientVerifiedByTraffic()

	key := chunkKey{sequence: h.Sequence, chunk: h.Chunk}
	if _, ok := s.unacked[key]; !ok {
		util.LogDebug("[%v] chunk %d:%d already acked", s.addr, h.Sequence, h.Chunk)
		return
	}
	delete(s.unacked, key)
	util.LogDebug("[%v] chunk %d:%d acked", s.addr, h.Sequence, h.Chunk)
}

// handleHandshake interprets a packet body according to the phase.
func (s *Session) handleHandshake(h Header, payload []byte) error {
	shaped := isHandshake(h, payload)
	value, ok := handshakeValue(payload)

	switch {
	case s.role == RoleServer && s.phase == PhaseInit:
		if !ok {
			return nil
		}
		s.salt = value
		s.pepper = s.randUint32()
		s.phase = PhaseChallenge
		s.sendHandshake(s.pepper)
		util.LogDebug("[%v] challenge sent", s.addr)

	case s.role == RoleServer && s.phase == PhaseChallenge:
		if !ok {
			return nil
		}
		if value != s.salt^s.pepper {
			// Wrong seasoning. Drop without a reply so a spoofed source
			// address cannot use us as an amplifier.
			util.LogDebug("[%v] challenge response mismatch", s.addr)
			return nil
		}
		s.setVerified()

	case s.role == RoleClient && s.phase == PhaseInit:
		if !ok {
			return nil
		}
		s.pepper = value
		s.phase = PhaseChallenge
		s.sendHandshake(s.salt ^ s.pepper)
		util.LogDebug("[%v] challenge answered", s.addr)

	case s.role == RoleClient && s.phase == PhaseChallenge:
		if shaped {
			// The server re-sent its Challenge: our response was lost.
			s.pepper = value
			s.sendHandshake(s.salt ^ s.pepper)
			return nil
		}
		// Any post-handshake traffic proves the server accepted us.
		s.setVerified()
		s.handleData(h, payload)
	}

	return nil
}

// clientVerifiedByTraffic promotes a client waiting on its challenge
// response as soon as any packet arrives.
func (s *Session) clientVerifiedByTraffic() {
	if s.role == RoleClient && s.phase == PhaseChallenge {
		s.setVerified()
	}
}

func (s *Session) setVerified() {
	s.phase = PhaseVerified
	s.lastHandshake = nil
	util.LogDebug("[%v] handshake complete", s.addr)
	if s.handlers.Verified != nil {
		s.handlers.Verified()
	}
}

// handleData acks reliable chunks and feeds the payload into reassembly.
func (s *Session) handleData(h Header, payload []byte) {
	if h.Flags&FlagReliable != 0 {
		ack := Header{Flags: FlagAck, Chunk: h.Chunk, Sequence: h.Sequence}
		s.handlers.Output(encodePacket(ack, nil))
	}

	entry, ok := s.inbound[h.Sequence]
	if !ok {
		entry = newReassembly()
		s.inbound[h.Sequence] = entry
	}

	if entry.completed {
		// Duplicate of a sequence that was already delivered.
		return
	}

	if !entry.insert(h.Chunk, h.Flags&FlagFin != 0, payload) {
		util.LogDebug("[%v] dropped chunk %d:%d", s.addr, h.Sequence, h.Chunk)
		return
	}

	if entry.complete() {
		entry.completed = true
		entry.completedAt = s.now()
		payload := entry.payload
		entry.payload = nil
		s.handlers.Deliver(payload)
	}
}

// Tick drives retransmission, handshake resends, completed-sequence
// eviction and the idle timeout. The owner calls it on a shared periodic
// timer.
func (s *Session) Tick() {
	if s.phase == PhaseClosed {
		return
	}

	now := s.now()

	if now.Sub(s.lastRecv) >= s.cfg.IdleTimeout {
		util.LogDebug("[%v] idle timeout", s.addr)
		s.close(ErrSessionTimeout, false)
		return
	}

	if s.lastHandshake != nil {
		s.handlers.Output(s.lastHandshake)
	}

	for key, chunk := range s.unacked {
		if now.Sub(chunk.lastSend) < s.cfg.RetransmitInterval {
			continue
		}
		chunk.lastSend = now
		chunk.retries++
		util.Stats.AddRetransmit()
		util.LogDebug("[%v] retransmitting chunk %d:%d (try %d)",
			s.addr, key.sequence, key.chunk, chunk.retries)
		s.handlers.Output(chunk.datagram)
	}

	for seq, entry := range s.inbound {
		if entry.completed && now.Sub(entry.completedAt) >= s.cfg.CompletedRetention {
			delete(s.inbound, seq)
		}
	}
}

// Close ends the session on request: a single best-effort END packet,
// then all state is discarded. Closing twice is a no-op.
func (s *Session) Close() {
	s.close(nil, true)
}

// sendHandshake transmits a handshake value and remembers it for resends.
func (s *Session) sendHandshake(value uint32) {
	s.lastHandshake = handshakePacket(value)
	s.handlers.Output(s.lastHandshake)
}

func (s *Session) close(reason error, sendEnd bool) {
	if s.phase == PhaseClosed {
		return
	}

	if sendEnd {
		end := Header{Flags: FlagEnd}
		s.handlers.Output(encodePacket(end, nil))
	}

	s.phase = PhaseClosed
	s.unacked = nil
	s.inbound = nil
	s.lastHandshake = nil

	if s.handlers.Closed != nil {
		s.handlers.Closed(reason)
	}
}
