package app

import (
	"sync"

	"github.com/1ureka/snowfight/internal/protocol"
	"github.com/1ureka/snowfight/internal/socket"
)

// Movement and combat tuning.
const (
	moveStep       = 0.5  // world units per snapshot tick
	breakStep      = 0.25 // durability lost per snapshot tick
	throwRadius    = 2.0
	throwDamage    = 5
	playerHealth   = 20
	treeHealth     = 10
	mushroomHealth = 3
)

// world is the server's authoritative entity table. Every mutation locks;
// snapshots copy under the same lock.
type world struct {
	mu      sync.Mutex
	nextID  uint32
	objects map[uint32]*object
	players map[uint32]*player
	byPeer  map[*socket.Conn]uint32
}

type object struct {
	position   protocol.Point
	kind       protocol.ObjectKind
	breakable  bool
	durability float32
	health     uint32
	maxHealth  uint32
	dead       bool
}

type player struct {
	peer       *socket.Conn
	position   protocol.Point
	movement   protocol.Direction
	holding    uint32
	isHolding  bool
	breaking   uint32
	isBreaking bool
	health     uint32
	dead       bool
}

// newWorld seeds the map with a handful of static objects so the first
// snapshot is not empty.
func newWorld() *world {
	w := &world{
		nextID:  1,
		objects: make(map[uint32]*object),
		players: make(map[uint32]*player),
		byPeer:  make(map[*socket.Conn]uint32),
	}

	seeds := []struct {
		kind protocol.ObjectKind
		x, z float32
	}{
		{protocol.Tree, -8, -8},
		{protocol.Tree, 8, -4},
		{protocol.Tree, 0, 10},
		{protocol.Mushroom, -3, 5},
		{protocol.Mushroom, 6, 6},
	}

	for _, s := range seeds {
		o := &object{
			position:  protocol.Point{X: s.x, Z: s.z},
			kind:      s.kind,
			breakable: s.kind == protocol.Mushroom,
			health:    treeHealth,
			maxHealth: treeHealth,
		}
		if s.kind == protocol.Mushroom {
			o.durability = 1
			o.health = mushroomHealth
			o.maxHealth = mushroomHealth
		}
		w.objects[w.allocID()] = o
	}

	return w
}

func (w *world) allocID() uint32 {
	id := w.nextID
	w.nextID++
	return id
}

// join creates a player entity for a verified peer and returns its id.
func (w *world) join(peer *socket.Conn) uint32 {
	w.mu.Lock()
	defer w.mu.Unlock()

	id := w.allocID()
	w.players[id] = &player{peer: peer, health: playerHealth}
	w.byPeer[peer] = id
	return id
}

// leave marks the peer's player dead so the next snapshot reports it.
func (w *world) leave(peer *socket.Conn) {
	w.mu.Lock()
	defer w.mu.Unlock()

	id, ok := w.byPeer[peer]
	if !ok {
		return
	}
	delete(w.byPeer, peer)
	if p := w.players[id]; p != nil {
		p.dead = true
	}
}

// playerID resolves the id assigned to a peer.
func (w *world) playerID(peer *socket.Conn) (uint32, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	id, ok := w.byPeer[peer]
	return id, ok
}

// setMovement updates a player's direction.
func (w *world) setMovement(peer *socket.Conn, dir protocol.Direction) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if p := w.playerOf(peer); p != nil {
		p.movement = dir
	}
}

// setBreaking starts or stops a player's breaking action.
func (w *world) setBreaking(peer *socket.Conn, breaking bool, entity uint32) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if p := w.playerOf(peer); p != nil {
		p.isBreaking = breaking
		p.breaking = entity
	}
}

func (w *world) playerOf(peer *socket.Conn) *player {
	id, ok := w.byPeer[peer]
	if !ok {
		return nil
	}
	return w.players[id]
}

// throwAt damages every other player within throwRadius of the target.
// It returns the losers whose health reached zero.
type casualty struct {
	id   uint32
	peer *socket.Conn
}

func (w *world) throwAt(peer *socket.Conn, target protocol.Point) []casualty {
	w.mu.Lock()
	defer w.mu.Unlock()

	thrower := w.byPeer[peer]
	var out []casualty

	for id, p := range w.players {
		if id == thrower || p.dead {
			continue
		}
		dx := p.position.X - target.X
		dz := p.position.Z - target.Z
		if dx*dx+dz*dz > throwRadius*throwRadius {
			continue
		}

		if p.health > throwDamage {
			p.health -= throwDamage
			continue
		}
		p.health = 0
		p.dead = true
		out = append(out, casualty{id: id, peer: p.peer})
	}
	return out
}

// step advances movement and breaking by one snapshot tick.
func (w *world) step() {
	w.mu.Lock()
	defer w.mu.Unlock()

	for _, p := range w.players {
		if p.dead {
			continue
		}

		if p.movement&protocol.North != 0 {
			p.position.Z -= moveStep
		}
		if p.movement&protocol.South != 0 {
			p.position.Z += moveStep
		}
		if p.movement&protocol.West != 0 {
			p.position.X -= moveStep
		}
		if p.movement&protocol.East != 0 {
			p.position.X += moveStep
		}

		if !p.isBreaking {
			continue
		}
		o, ok := w.objects[p.breaking]
		if !ok || o.dead || !o.breakable {
			continue
		}
		o.durability -= breakStep
		if o.durability <= 0 {
			o.durability = 0
			o.dead = true
			p.isBreaking = false
		}
	}
}

// snapshot copies the current entity table into its wire form.
func (w *world) snapshot() protocol.Snapshot {
	w.mu.Lock()
	defer w.mu.Unlock()

	entities := make([]protocol.Entity, 0, len(w.objects)+len(w.players))

	for id, o := range w.objects {
		var kind protocol.EntityKind
		if o.dead {
			kind = protocol.Dead{}
		} else {
			kind = protocol.Object{
				Position:   o.position,
				Kind:       o.kind,
				Breakable:  o.breakable,
				Durability: o.durability,
				Health:     o.health,
				MaxHealth:  o.maxHealth,
			}
		}
		entities = append(entities, protocol.Entity{ID: id, Kind: kind})
	}

	for id, p := range w.players {
		var kind protocol.EntityKind
		if p.dead {
			kind = protocol.Dead{}
		} else {
			kind = protocol.Player{
				Position:   p.position,
				Movement:   p.movement,
				IsHolding:  p.isHolding,
				Holding:    p.holding,
				IsBreaking: p.isBreaking,
				Breaking:   p.breaking,
				Owner:      id,
				Health:     p.health,
				MaxHealth:  playerHealth,
			}
		}
		entities = append(entities, protocol.Entity{ID: id, Kind: kind})
	}

	return protocol.Snapshot{Entities: entities}
}

// peers returns every connected peer.
func (w *world) peers() []*socket.Conn {
	w.mu.Lock()
	defer w.mu.Unlock()

	out := make([]*socket.Conn, 0, len(w.byPeer))
	for peer := range w.byPeer {
		out = append(out, peer)
	}
	return out
}
