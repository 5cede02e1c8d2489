// Package session implements the UDP session layer: the packet header,
// payload chunking, the salt/pepper handshake, selective reliability with
// acknowledgement and retransmission, reassembly of out-of-order chunks,
// and liveness detection.
package session

import (
	"encoding/binary"
	"errors"
)

// Header flag bits. The upper four bits are reserved and must be zero.
const (
	FlagReliable uint8 = 1 << 0 // REL: chunk must be acknowledged
	FlagAck      uint8 = 1 << 1 // ACK: acknowledges (sequence, chunk)
	FlagFin      uint8 = 1 << 2 // FIN: last chunk of the sequence
	FlagEnd      uint8 = 1 << 3 // END: close the session

	flagsReserved uint8 = 0xF0
)

const (
	// HeaderSize is the fixed packet header size:
	// Flags(1) + Chunk(1) + Sequence(2).
	HeaderSize = 4

	// MaxChunkSize is the largest chunk payload. The minimum MTU is 576
	// bytes; subtracting the largest IP header (60) and the UDP header (8)
	// leaves 508 bytes per datagram, 504 after our header.
	MaxChunkSize = 508 - HeaderSize

	// MaxChunkCount is the most chunks a single sequence can carry.
	MaxChunkCount = 256

	// MaxPayloadSize is the largest payload that can be split into chunks.
	MaxPayloadSize = MaxChunkSize * MaxChunkCount

	// MaxDatagramSize is the largest datagram this protocol emits.
	MaxDatagramSize = HeaderSize + MaxChunkSize
)

// ErrMalformedPacket covers datagrams that cannot be a protocol packet:
// too short for a header, reserved flag bits set, or an oversized payload.
var ErrMalformedPacket = errors.New("session: malformed packet")

// ErrPayloadTooLarge is returned when an outbound payload would need more
// than MaxChunkCount chunks.
var ErrPayloadTooLarge = errors.New("session: payload too large")

// Header is the fixed 4-byte packet header.
type Header struct {
	Flags    uint8
	Chunk    uint8
	Sequence uint16
}

// Marshal serializes the header. The sequence is big-endian.
func (h Header) Marshal() [HeaderSize]byte {
	var buf [HeaderSize]byte
	buf[0] = h.Flags
	buf[1] = h.Chunk
	binary.BigEndian.PutUint16(buf[2:4], h.Sequence)
	return buf
}

// ParseHeader extracts the header from a datagram and returns the payload
// that follows it.
func ParseHeader(datagram []byte) (Header, []byte, error) {
	if len(datagram) < HeaderSize {
		return Header{}, nil, ErrMalformedPacket
	}

	h := Header{
		Flags:    datagram[0],
		Chunk:    datagram[1],
		Sequence: binary.BigEndian.Uint16(datagram[2:4]),
	}

	if h.Flags&flagsReserved != 0 {
		return Header{}, nil, ErrMalformedPacket
	}

	payload := datagram[HeaderSize:]
	if len(payload) > MaxChunkSize {
		return Header{}, nil, ErrMalformedPacket
	}

	return h, payload, nil
}

// encodePacket builds a complete datagram from a header and payload.
func encodePacket(h Header, payload []byte) []byte {
	buf := make([]byte, HeaderSize+len(payload))
	header := h.Marshal()
	copy(buf, header[:])
	copy(buf[HeaderSize:], payload)
	return buf
}

// splitChunks cuts a payload into packets of at most MaxChunkSize bytes.
// The final packet carries FIN; every one carries REL when reliable. An
// empty payload still produces one empty FIN chunk so the receiver can
// complete the sequence.
func splitChunks(seq uint16, payload []byte, reliable bool) ([][]byte, error) {
	count := (len(payload) + MaxChunkSize - 1) / MaxChunkSize
	if count == 0 {
		count = 1
	}
	if count > MaxChunkCount {
		return nil, ErrPayloadTooLarge
	}

	var flags uint8
	if reliable {
		flags |= FlagReliable
	}

	packets := make([][]byte, 0, count)
	for i := 0; i < count; i++ {
		start := i * MaxChunkSize
		end := start + MaxChunkSize
		if end > len(payload) {
			end = len(payload)
		}

		h := Header{Flags: flags, Chunk: uint8(i), Sequence: seq}
		if i == count-1 {
			h.Flags |= FlagFin
		}
		packets = append(packets, encodePacket(h, payload[start:end]))
	}

	return packets, nil
}
