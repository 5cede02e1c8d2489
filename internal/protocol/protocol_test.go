package protocol

import (
	"math/rand"
	"reflect"
	"testing"
)

// TestServerMessageRoundTrip covers every server-side variant.
func TestServerMessageRoundTrip(t *testing.T) {
	testCases := []struct {
		name string
		msg  ServerMessage
	}{
		{
			name: "empty snapshot event",
			msg:  Event{Time: 0, Kind: Snapshot{}},
		},
		{
			name: "snapshot with every entity kind",
			msg: Event{
				Time: 123456,
				Kind: Snapshot{Entities: []Entity{
					{ID: 1, Kind: Object{
						Position:  Point{X: 1.5, Y: -2.25, Z: 0},
						Kind:      Tree,
						Health:    10,
						MaxHealth: 10,
					}},
					{ID: 2, Kind: Object{
						Position:   Point{X: -8, Y: 0.5, Z: 3},
						Kind:       Mushroom,
						Breakable:  true,
						Durability: 0.75,
						Health:     3,
						MaxHealth:  5,
					}},
					{ID: 3, Kind: Player{
						Position:   Point{X: 0, Y: 0, Z: 12},
						Movement:   North | East,
						IsHolding:  true,
						Holding:    2,
						IsBreaking: false,
						Owner:      42,
						Health:     100,
						MaxHealth:  100,
					}},
					{ID: 4, Kind: Dead{}},
				}},
			},
		},
		{
			name: "game over won",
			msg:  Event{Time: 99, Kind: GameOver{Won: true}},
		},
		{
			name: "game over lost",
			msg:  Event{Time: 100, Kind: GameOver{Won: false}},
		},
		{
			name: "pong response",
			msg:  Response{Channel: 7, Kind: Pong{}},
		},
		{
			name: "error response",
			msg:  Response{Channel: 3, Kind: ErrorResponse{Message: "no such entity"}},
		},
		{
			name: "connect response",
			msg: Response{Channel: 1, Kind: Connect{
				Player: 42,
				Snapshot: Snapshot{Entities: []Entity{
					{ID: 8, Kind: Dead{}},
				}},
			}},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			encoded := EncodeServerMessage(tc.msg)
			decoded, err := DecodeServerMessage(encoded)
			if err != nil {
				t.Fatalf("DecodeServerMessage failed: %v", err)
			}
			if !equalMessages(decoded, tc.msg) {
				t.Errorf("round trip mismatch:\n got %#v\nwant %#v", decoded, tc.msg)
			}
		})
	}
}

// TestClientMessageRoundTrip covers every client-side variant.
func TestClientMessageRoundTrip(t *testing.T) {
	testCases := []struct {
		name string
		msg  ClientMessage
	}{
		{"ping request", Request{Channel: 7, Kind: Ping{}}},
		{"init request", Request{Channel: 0, Kind: Init{}}},
		{"break start", Action{Kind: Break{IsBreaking: true, Entity: 31}}},
		{"break stop", Action{Kind: Break{}}},
		{"throw", Action{Kind: Throw{Target: Point{X: 4, Y: 5.5, Z: -6}}}},
		{"move", Action{Kind: Move{Direction: South | West}}},
		{"move idle", Action{Kind: Move{}}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			encoded := EncodeClientMessage(tc.msg)
			decoded, err := DecodeClientMessage(encoded)
			if err != nil {
				t.Fatalf("DecodeClientMessage failed: %v", err)
			}
			if !equalMessages(decoded, tc.msg) {
				t.Errorf("round trip mismatch:\n got %#v\nwant %#v", decoded, tc.msg)
			}
		})
	}
}

// TestRandomSnapshots round-trips randomly generated snapshots to exercise
// field combinations the hand-written cases miss.
func TestRandomSnapshots(t *testing.T) {
	rng := rand.New(rand.NewSource(1))

	for i := 0; i < 50; i++ {
		msg := Event{Time: rng.Uint32(), Kind: randomSnapshot(rng, 20)}

		encoded := EncodeServerMessage(msg)
		decoded, err := DecodeServerMessage(encoded)
		if err != nil {
			t.Fatalf("iteration %d: decode failed: %v", i, err)
		}
		if !equalMessages(decoded, msg) {
			t.Fatalf("iteration %d: round trip mismatch", i)
		}
	}
}

// TestDecodeTruncated verifies that cut-off streams fail instead of
// producing a message.
func TestDecodeTruncated(t *testing.T) {
	msg := Response{Channel: 9, Kind: ErrorResponse{Message: "snowball incoming"}}
	encoded := EncodeServerMessage(msg)

	for cut := 0; cut < len(encoded); cut++ {
		if _, err := DecodeServerMessage(encoded[:cut]); err == nil {
			t.Errorf("decoding %d of %d bytes succeeded", cut, len(encoded))
		}
	}
}

// TestDecodeEmptyClient verifies an empty stream is rejected.
func TestDecodeEmptyClient(t *testing.T) {
	if _, err := DecodeClientMessage(nil); err == nil {
		t.Fatal("expected error for empty input")
	}
}

func randomSnapshot(rng *rand.Rand, maxEntities int) Snapshot {
	n := rng.Intn(maxEntities + 1)
	s := Snapshot{Entities: make([]Entity, 0, n)}

	for i := 0; i < n; i++ {
		e := Entity{ID: rng.Uint32()}
		switch rng.Intn(3) {
		case 0:
			o := Object{
				Position:  randomPoint(rng),
				Kind:      ObjectKind(rng.Intn(2)),
				Breakable: rng.Intn(2) == 0,
				Health:    rng.Uint32(),
				MaxHealth: rng.Uint32(),
			}
			if o.Breakable {
				o.Durability = rng.Float32()
			}
			e.Kind = o
		case 1:
			p := Player{
				Position:   randomPoint(rng),
				Movement:   Direction(rng.Intn(16)),
				IsHolding:  rng.Intn(2) == 0,
				IsBreaking: rng.Intn(2) == 0,
				Owner:      rng.Uint32(),
				Health:     rng.Uint32(),
				MaxHealth:  rng.Uint32(),
			}
			if p.IsHolding {
				p.Holding = rng.Uint32()
			}
			if p.IsBreaking {
				p.Breaking = rng.Uint32()
			}
			e.Kind = p
		case 2:
			e.Kind = Dead{}
		}
		s.Entities = append(s.Entities, e)
	}
	return s
}

func randomPoint(rng *rand.Rand) Point {
	return Point{
		X: rng.Float32()*200 - 100,
		Y: rng.Float32()*200 - 100,
		Z: rng.Float32()*200 - 100,
	}
}

// equalMessages compares decoded messages structurally. A nil Entities
// slice and an empty one are the same snapshot on the wire.
func equalMessages(a, b interface{}) bool {
	return reflect.DeepEqual(normalize(a), normalize(b))
}

func normalize(m interface{}) interface{} {
	switch v := m.(type) {
	case Event:
		if s, ok := v.Kind.(Snapshot); ok {
			v.Kind = normalizeSnapshot(s)
		}
		return v
	case Response:
		if c, ok := v.Kind.(Connect); ok {
			c.Snapshot = normalizeSnapshot(c.Snapshot)
			v.Kind = c
		}
		return v
	default:
		return m
	}
}

func normalizeSnapshot(s Snapshot) Snapshot {
	if len(s.Entities) == 0 {
		s.Entities = nil
	}
	return s
}
