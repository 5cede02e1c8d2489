package protocol

import "github.com/1ureka/snowfight/internal/rabbit"

// Action is sent from the client to the server when the player acts.
type Action struct {
	Kind ActionKind
}

// ActionKind is Break, Throw or Move.
type ActionKind interface {
	packAction(w *rabbit.Writer)
}

const (
	tagBreak = 0
	tagThrow = 1
	tagMove  = 2
)

// Break starts or stops breaking an entity.
type Break struct {
	IsBreaking bool
	Entity     uint32 // only on the wire when IsBreaking
}

// Throw hurls the held snowball at a target point.
type Throw struct {
	Target Point
}

// Move updates the player's movement direction.
type Move struct {
	Direction Direction
}

func (Action) clientMessage() {}

func (a Action) pack(w *rabbit.Writer) {
	switch a.Kind.(type) {
	case Break:
		w.WriteBits(tagBreak, 2)
	case Throw:
		w.WriteBits(tagThrow, 2)
	case Move:
		w.WriteBits(tagMove, 2)
	}
	a.Kind.packAction(w)
}

func decodeAction(r *rabbit.Reader) (Action, error) {
	tag, err := r.ReadBits(2)
	if err != nil {
		return Action{}, err
	}

	var a Action
	switch tag {
	case tagBreak:
		a.Kind, err = decodeBreak(r)
	case tagThrow:
		a.Kind, err = decodeThrow(r)
	case tagMove:
		a.Kind, err = decodeMove(r)
	default:
		err = errUnknownTag("action", tag)
	}
	return a, err
}

func (b Break) packAction(w *rabbit.Writer) {
	w.WriteBool(b.IsBreaking)
	if b.IsBreaking {
		w.WriteU32(b.Entity)
	}
}

func decodeBreak(r *rabbit.Reader) (Break, error) {
	var b Break
	var err error
	if b.IsBreaking, err = r.ReadBool(); err != nil {
		return b, err
	}
	if b.IsBreaking {
		b.Entity, err = r.ReadU32()
	}
	return b, err
}

func (t Throw) packAction(w *rabbit.Writer) {
	t.Target.pack(w)
}

func decodeThrow(r *rabbit.Reader) (Throw, error) {
	target, err := decodePoint(r)
	return Throw{Target: target}, err
}

func (m Move) packAction(w *rabbit.Writer) {
	m.Direction.pack(w)
}

func decodeMove(r *rabbit.Reader) (Move, error) {
	dir, err := decodeDirection(r)
	return Move{Direction: dir}, err
}

// MustArrive reports whether the action needs reliable delivery.
func (Action) MustArrive() bool { return true }
