package protocol

import "github.com/1ureka/snowfight/internal/rabbit"

// Snapshot is the server's view of every entity in the world at one tick.
type Snapshot struct {
	Entities []Entity
}

// Entity pairs an id with the entity's current state.
type Entity struct {
	ID   uint32
	Kind EntityKind
}

// EntityKind is Object, Player or Dead.
type EntityKind interface {
	packEntity(w *rabbit.Writer)
}

const (
	tagObject = 0
	tagPlayer = 1
	tagDead   = 2
)

// ObjectKind distinguishes the static world objects.
type ObjectKind uint8

const (
	Tree ObjectKind = iota
	Mushroom
)

// Object is a static world entity. Breakable objects carry a durability.
type Object struct {
	Position   Point
	Kind       ObjectKind
	Breakable  bool
	Durability float32 // only on the wire when Breakable
	Health     uint32
	MaxHealth  uint32
}

// Player is a connected player's avatar.
type Player struct {
	Position   Point
	Movement   Direction
	IsHolding  bool
	Holding    uint32 // entity id, only on the wire when IsHolding
	IsBreaking bool
	Breaking   uint32 // entity id, only on the wire when IsBreaking
	Owner      uint32 // owning player id
	Health     uint32
	MaxHealth  uint32
}

// Dead marks an entity that no longer exists.
type Dead struct{}

func (s Snapshot) packEvent(w *rabbit.Writer) {
	w.WriteU32(uint32(len(s.Entities)))
	for _, e := range s.Entities {
		e.pack(w)
	}
}

func decodeSnapshot(r *rabbit.Reader) (Snapshot, error) {
	count, err := r.ReadU32()
	if err != nil {
		return Snapshot{}, err
	}

	s := Snapshot{Entities: make([]Entity, 0, count)}
	for i := uint32(0); i < count; i++ {
		e, err := decodeEntity(r)
		if err != nil {
			return s, err
		}
		s.Entities = append(s.Entities, e)
	}
	return s, nil
}

func (e Entity) pack(w *rabbit.Writer) {
	w.WriteU32(e.ID)
	switch e.Kind.(type) {
	case Object:
		w.WriteBits(tagObject, 2)
	case Player:
		w.WriteBits(tagPlayer, 2)
	case Dead:
		w.WriteBits(tagDead, 2)
	}
	e.Kind.packEntity(w)
}

func decodeEntity(r *rabbit.Reader) (Entity, error) {
	var e Entity
	var err error
	if e.ID, err = r.ReadU32(); err != nil {
		return e, err
	}

	tag, err := r.ReadBits(2)
	if err != nil {
		return e, err
	}

	switch tag {
	case tagObject:
		e.Kind, err = decodeObject(r)
	case tagPlayer:
		e.Kind, err = decodePlayer(r)
	case tagDead:
		e.Kind = Dead{}
	default:
		err = errUnknownTag("entity", tag)
	}
	return e, err
}

func (o Object) packEntity(w *rabbit.Writer) {
	o.Position.pack(w)
	w.WriteBits(uint32(o.Kind), 1)
	w.WriteBool(o.Breakable)
	if o.Breakable {
		w.WriteF32(o.Durability)
	}
	w.WriteU32(o.Health)
	w.WriteU32(o.MaxHealth)
}

func decodeObject(r *rabbit.Reader) (Object, error) {
	var o Object
	var err error
	if o.Position, err = decodePoint(r); err != nil {
		return o, err
	}

	kind, err := r.ReadBits(1)
	if err != nil {
		return o, err
	}
	o.Kind = ObjectKind(kind)

	if o.Breakable, err = r.ReadBool(); err != nil {
		return o, err
	}
	if o.Breakable {
		if o.Durability, err = r.ReadF32(); err != nil {
			return o, err
		}
	}
	if o.Health, err = r.ReadU32(); err != nil {
		return o, err
	}
	o.MaxHealth, err = r.ReadU32()
	return o, err
}

func (p Player) packEntity(w *rabbit.Writer) {
	p.Position.pack(w)
	p.Movement.pack(w)
	w.WriteBool(p.IsHolding)
	if p.IsHolding {
		w.WriteU32(p.Holding)
	}
	w.WriteBool(p.IsBreaking)
	if p.IsBreaking {
		w.WriteU32(p.Breaking)
	}
	w.WriteU32(p.Owner)
	w.WriteU32(p.Health)
	w.WriteU32(p.MaxHealth)
}

func decodePlayer(r *rabbit.Reader) (Player, error) {
	var p Player
	var err error
	if p.Position, err = decodePoint(r); err != nil {
		return p, err
	}
	if p.Movement, err = decodeDirection(r); err != nil {
		return p, err
	}
	if p.IsHolding, err = r.ReadBool(); err != nil {
		return p, err
	}
	if p.IsHolding {
		if p.Holding, err = r.ReadU32(); err != nil {
			return p, err
		}
	}
	if p.IsBreaking, err = r.ReadBool(); err != nil {
		return p, err
	}
	if p.IsBreaking {
		if p.Breaking, err = r.ReadU32(); err != nil {
			return p, err
		}
	}
	if p.Owner, err = r.ReadU32(); err != nil {
		return p, err
	}
	if p.Health, err = r.ReadU32(); err != nil {
		return p, err
	}
	p.MaxHealth, err = r.ReadU32()
	return p, err
}

func (Dead) packEntity(*rabbit.Writer) {}
