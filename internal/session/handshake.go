package session

import "encoding/binary"

// The three-way handshake rides in ordinary packets with flags, chunk and
// sequence all zero and a raw big-endian 4-byte body: the client's salt,
// the server's pepper, and finally seasoning = salt XOR pepper. Which of
// the three a body means is decided by the session's phase, never by the
// bytes themselves.

const handshakeBodySize = 4

// handshakePacket builds a handshake datagram carrying one 4-byte value.
func handshakePacket(value uint32) []byte {
	buf := make([]byte, HeaderSize+handshakeBodySize)
	binary.BigEndian.PutUint32(buf[HeaderSize:], value)
	return buf
}

// handshakeValue extracts the 4-byte body of a handshake packet.
func handshakeValue(payload []byte) (uint32, bool) {
	if len(payload) < handshakeBodySize {
		return 0, false
	}
	return binary.BigEndian.Uint32(payload[:handshakeBodySize]), true
}

// isHandshake reports whether a packet has the handshake shape: zeroed
// header fields and a 4-byte body. No data packet matches it, because a
// 4-byte final chunk always carries FIN.
func isHandshake(h Header, payload []byte) bool {
	return h.Flags == 0 && h.Chunk == 0 && h.Sequence == 0 &&
		len(payload) == handshakeBodySize
}

// IsInit reports whether a datagram from an unknown address looks like the
// opening packet of a handshake. Anything else from an unknown peer is
// dropped by the endpoint without creating a session.
func IsInit(datagram []byte) bool {
	h, payload, err := ParseHeader(datagram)
	if err != nil {
		return false
	}
	return isHandshake(h, payload)
}
