package protocol

import (
	"fmt"

	"github.com/1ureka/snowfight/internal/rabbit"
)

// Response is sent from the server to the client in reply to a Request,
// correlated by the request's channel id.
type Response struct {
	Channel uint32
	Kind    ResponseKind
}

// ResponseKind is ErrorResponse, Pong or Connect.
type ResponseKind interface {
	packResponse(w *rabbit.Writer)
}

const (
	tagError   = 0
	tagPong    = 1
	tagConnect = 2
)

// ErrorResponse reports a failed request.
type ErrorResponse struct {
	Message string
}

// Pong answers a Ping.
type Pong struct{}

// Connect completes a client's Init request with its assigned player id
// and the current world state.
type Connect struct {
	Player   uint32
	Snapshot Snapshot
}

func (Response) serverMessage() {}

func (re Response) pack(w *rabbit.Writer) {
	w.WriteU32(re.Channel)
	switch re.Kind.(type) {
	case ErrorResponse:
		w.WriteBits(tagError, 2)
	case Pong:
		w.WriteBits(tagPong, 2)
	case Connect:
		w.WriteBits(tagConnect, 2)
	}
	re.Kind.packResponse(w)
}

func decodeResponse(r *rabbit.Reader) (Response, error) {
	var re Response
	var err error
	if re.Channel, err = r.ReadU32(); err != nil {
		return re, err
	}

	tag, err := r.ReadBits(2)
	if err != nil {
		return re, err
	}

	switch tag {
	case tagError:
		re.Kind, err = decodeErrorResponse(r)
	case tagPong:
		re.Kind = Pong{}
	case tagConnect:
		re.Kind, err = decodeConnect(r)
	default:
		err = errUnknownTag("response", tag)
	}
	return re, err
}

func (e ErrorResponse) packResponse(w *rabbit.Writer) {
	w.WriteU32(uint32(len(e.Message)))
	for _, b := range []byte(e.Message) {
		w.WriteU8(b)
	}
}

func decodeErrorResponse(r *rabbit.Reader) (ErrorResponse, error) {
	length, err := r.ReadU32()
	if err != nil {
		return ErrorResponse{}, err
	}

	buf := make([]byte, 0, length)
	for i := uint32(0); i < length; i++ {
		b, err := r.ReadU8()
		if err != nil {
			return ErrorResponse{}, err
		}
		buf = append(buf, b)
	}
	return ErrorResponse{Message: string(buf)}, nil
}

func (Pong) packResponse(*rabbit.Writer) {}

func (c Connect) packResponse(w *rabbit.Writer) {
	w.WriteU32(c.Player)
	c.Snapshot.packEvent(w)
}

func decodeConnect(r *rabbit.Reader) (Connect, error) {
	var c Connect
	var err error
	if c.Player, err = r.ReadU32(); err != nil {
		return c, err
	}
	c.Snapshot, err = decodeSnapshot(r)
	return c, err
}

// MustArrive reports whether the response needs reliable delivery.
// Every response kind does.
func (Response) MustArrive() bool { return true }

func errUnknownTag(union string, tag uint32) error {
	return fmt.Errorf("protocol: unknown %s tag %d", union, tag)
}
