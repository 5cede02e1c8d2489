// Package protocol defines the application message schema exchanged between
// the Snow Fight server and client, and its bit-packed wire encoding.
//
// The encoding is not self-describing: both sides must agree on the schema.
// Variant tags use the minimal bit width for their union, optional fields
// are preceded by a presence bit and omitted entirely when absent, and
// repeated fields carry an explicit count prefix.
package protocol

import (
	"fmt"

	"github.com/1ureka/snowfight/internal/rabbit"
)

// Point is a position in world space.
type Point struct {
	X, Y, Z float32
}

// Direction is a bitfield of the four movement directions. The upper four
// bits are reserved and must be zero on the wire.
type Direction uint8

const (
	North Direction = 1 << iota
	West
	South
	East
)

// ServerMessage is the top-level union sent from the server to the client:
// an Event or a Response.
type ServerMessage interface {
	pack(w *rabbit.Writer)
	serverMessage()
}

// ClientMessage is the top-level union sent from the client to the server:
// a Request or an Action.
type ClientMessage interface {
	pack(w *rabbit.Writer)
	clientMessage()
}

// Variant tags follow declaration order within each union.
const (
	tagEvent    = 0
	tagResponse = 1

	tagRequest = 0
	tagAction  = 1
)

// EncodeServerMessage serializes a server message to bytes.
func EncodeServerMessage(m ServerMessage) []byte {
	w := rabbit.NewWriter()
	switch m.(type) {
	case Event:
		w.WriteBits(tagEvent, 1)
	case Response:
		w.WriteBits(tagResponse, 1)
	}
	m.pack(w)
	return w.Finish()
}

// DecodeServerMessage deserializes a server message from bytes.
func DecodeServerMessage(b []byte) (ServerMessage, error) {
	r := rabbit.NewReader(b)
	tag, err := r.ReadBits(1)
	if err != nil {
		return nil, err
	}

	switch tag {
	case tagEvent:
		return decodeEvent(r)
	case tagResponse:
		return decodeResponse(r)
	}
	panic("unreachable")
}

// EncodeClientMessage serializes a client message to bytes.
//
// The top-level client tag is a full variable-length u32 rather than a
// single bit. The asymmetry with ServerMessage is part of the wire format
// and is preserved as is.
func EncodeClientMessage(m ClientMessage) []byte {
	w := rabbit.NewWriter()
	switch m.(type) {
	case Request:
		w.WriteU32(tagRequest)
	case Action:
		w.WriteU32(tagAction)
	}
	m.pack(w)
	return w.Finish()
}

// DecodeClientMessage deserializes a client message from bytes.
func DecodeClientMessage(b []byte) (ClientMessage, error) {
	r := rabbit.NewReader(b)
	tag, err := r.ReadU32()
	if err != nil {
		return nil, err
	}

	switch tag {
	case tagRequest:
		return decodeRequest(r)
	case tagAction:
		return decodeAction(r)
	default:
		return nil, fmt.Errorf("protocol: unknown client message tag %d", tag)
	}
}

func (p Point) pack(w *rabbit.Writer) {
	w.WriteF32(p.X)
	w.WriteF32(p.Y)
	w.WriteF32(p.Z)
}

func decodePoint(r *rabbit.Reader) (Point, error) {
	var p Point
	var err error
	if p.X, err = r.ReadF32(); err != nil {
		return p, err
	}
	if p.Y, err = r.ReadF32(); err != nil {
		return p, err
	}
	p.Z, err = r.ReadF32()
	return p, err
}

func (d Direction) pack(w *rabbit.Writer) {
	w.WriteU8(uint8(d))
}

func decodeDirection(r *rabbit.Reader) (Direction, error) {
	v, err := r.ReadU8()
	return Direction(v), err
}
