package session

import "time"

// reassembly collects the chunks of one inbound sequence until the FIN
// index and everything below it have arrived. Completed entries linger so
// that late duplicates of an already delivered sequence are recognized
// and dropped.
type reassembly struct {
	received    [MaxChunkCount]bool
	payload     []byte
	finIndex    int // -1 until the FIN chunk arrives
	completed   bool
	completedAt time.Time
}

func newReassembly() *reassembly {
	return &reassembly{finIndex: -1}
}

// insert places a chunk at its index. It reports whether the chunk was
// accepted; chunks that contradict the known FIN index and short interior
// chunks are refused. A duplicate is accepted without copying its bytes
// again.
func (s *reassembly) insert(chunk uint8, fin bool, payload []byte) bool {
	index := int(chunk)

	if s.finIndex >= 0 && index > s.finIndex {
		return false
	}
	// Interior chunks are always full; a short one cannot be stitched
	// back into the payload at a fixed offset.
	if !fin && len(payload) != MaxChunkSize {
		return false
	}
	if fin {
		s.finIndex = index
	}
	if s.received[index] {
		return true
	}

	s.received[index] = true

	start := index * MaxChunkSize
	needed := start + len(payload)
	if len(s.payload) < needed {
		grown := make([]byte, needed)
		copy(grown, s.payload)
		s.payload = grown
	}
	copy(s.payload[start:needed], payload)

	return true
}

// complete reports whether every chunk up to and including FIN is present.
func (s *reassembly) complete() bool {
	if s.finIndex < 0 {
		return false
	}
	for i := 0; i <= s.finIndex; i++ {
		if !s.received[i] {
			return false
		}
	}
	return true
}
