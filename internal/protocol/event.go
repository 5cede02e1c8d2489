package protocol

import (
	"fmt"

	"github.com/1ureka/snowfight/internal/rabbit"
)

// Event is sent from the server to the client when something happens in
// the world.
type Event struct {
	Time uint32
	Kind EventKind
}

// EventKind is either a Snapshot or a GameOver.
type EventKind interface {
	packEvent(w *rabbit.Writer)
}

const (
	tagSnapshot = 0
	tagGameOver = 1
)

// GameOver ends the game for the receiving player.
type GameOver struct {
	Won bool
}

func (Event) serverMessage() {}

func (e Event) pack(w *rabbit.Writer) {
	w.WriteU32(e.Time)
	switch e.Kind.(type) {
	case Snapshot:
		w.WriteBits(tagSnapshot, 1)
	case GameOver:
		w.WriteBits(tagGameOver, 1)
	}
	e.Kind.packEvent(w)
}

func decodeEvent(r *rabbit.Reader) (Event, error) {
	var e Event
	var err error
	if e.Time, err = r.ReadU32(); err != nil {
		return e, err
	}

	tag, err := r.ReadBits(1)
	if err != nil {
		return e, err
	}

	switch tag {
	case tagSnapshot:
		e.Kind, err = decodeSnapshot(r)
	case tagGameOver:
		e.Kind, err = decodeGameOver(r)
	}
	return e, err
}

func (g GameOver) packEvent(w *rabbit.Writer) {
	w.WriteBool(g.Won)
}

func decodeGameOver(r *rabbit.Reader) (GameOver, error) {
	won, err := r.ReadBool()
	return GameOver{Won: won}, err
}

// MustArrive reports whether the event needs reliable delivery. Snapshots
// are superseded by the next one; everything else must reach the peer.
func (e Event) MustArrive() bool {
	switch e.Kind.(type) {
	case Snapshot:
		return false
	default:
		return true
	}
}

func (e Event) String() string {
	return fmt.Sprintf("Event(t=%d, %T)", e.Time, e.Kind)
}
