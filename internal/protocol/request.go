package protocol

import "github.com/1ureka/snowfight/internal/rabbit"

// Request is sent from the client to the server. The channel id is chosen
// by the client and echoed in the matching Response.
type Request struct {
	Channel uint32
	Kind    RequestKind
}

// RequestKind is Ping or Init.
type RequestKind interface {
	packRequest(w *rabbit.Writer)
}

const (
	tagPing = 0
	tagInit = 1
)

// Ping asks the server for a Pong.
type Ping struct{}

// Init asks the server to admit the client to the game.
type Init struct{}

func (Request) clientMessage() {}

func (rq Request) pack(w *rabbit.Writer) {
	w.WriteU32(rq.Channel)
	switch rq.Kind.(type) {
	case Ping:
		w.WriteBits(tagPing, 1)
	case Init:
		w.WriteBits(tagInit, 1)
	}
	rq.Kind.packRequest(w)
}

func decodeRequest(r *rabbit.Reader) (Request, error) {
	var rq Request
	var err error
	if rq.Channel, err = r.ReadU32(); err != nil {
		return rq, err
	}

	tag, err := r.ReadBits(1)
	if err != nil {
		return rq, err
	}

	switch tag {
	case tagPing:
		rq.Kind = Ping{}
	case tagInit:
		rq.Kind = Init{}
	}
	return rq, nil
}

// MustArrive reports whether the request needs reliable delivery. Pings
// are best-effort; every other request kind must arrive.
func (rq Request) MustArrive() bool {
	_, isPing := rq.Kind.(Ping)
	return !isPing
}

func (Ping) packRequest(*rabbit.Writer) {}

func (Init) packRequest(*rabbit.Writer) {}
