// Package ids manages the identifier spaces shared by the layers of a circuit.
//
// Every node and element of a circuit is identified by a small positive int32
// id, which doubles as the row index of the node in the value and flow
// buffers. The id 0 (DummyID) is reserved in every space as the padding
// sentinel: adjacency tables are padded with it, and row 0 of every buffer is
// expected to hold the neutral element of the evaluation domain, so gathering
// the dummy row never changes the result of a reduction.
//
// A Space is created once by the circuit assembler, before any layer is
// constructed. Layers allocate contiguous ranges from it during their own
// construction and the assembler calls Freeze once the circuit is complete,
// after which the space is read-only and safe to share.
package ids

import (
	"fmt"
	"math"

	. "github.com/gomlx/exceptions"
)

// DummyID is the reserved sentinel id. It is never allocated to a real node
// or element, and it is used to pad adjacency tables to rectangular shapes.
const DummyID int32 = 0

// Range is a contiguous range of ids allocated to a block of nodes.
//
// The zero value is invalid and means "not yet assigned".
type Range struct {
	// First id of the range, always ≥ 1 for a valid range.
	First int32

	// N is the number of ids in the range.
	N int
}

// Last returns the last id of the range, inclusive.
func (r Range) Last() int32 { return r.First + int32(r.N) - 1 }

// Contains returns whether id falls inside the range.
func (r Range) Contains(id int32) bool { return id >= r.First && id <= r.Last() }

// IsValid returns whether the range was actually allocated from a Space.
func (r Range) IsValid() bool { return r.First >= 1 && r.N > 0 }

// String implements fmt.Stringer.
func (r Range) String() string {
	if !r.IsValid() {
		return "Range(unassigned)"
	}
	return fmt.Sprintf("[%d, %d]", r.First, r.Last())
}

// Space allocates contiguous ranges of ids, reserving DummyID (0).
//
// It is not safe for concurrent allocation; circuits are assembled by a
// single goroutine.
type Space struct {
	next   int32
	frozen bool
}

// NewSpace creates an id space with only the dummy id 0 allocated.
func NewSpace() *Space {
	return &Space{next: 1}
}

// AllocateRange reserves the next n ids and returns their Range.
// It panics if n <= 0, if the space was frozen, or on id overflow.
func (s *Space) AllocateRange(n int) Range {
	if s.frozen {
		Panicf("ids.Space is frozen, no more ranges can be allocated -- allocate all ranges before calling Freeze")
	}
	if n <= 0 {
		Panicf("ids.Space.AllocateRange(n=%d): n must be > 0", n)
	}
	if int64(s.next)+int64(n) > math.MaxInt32 {
		Panicf("ids.Space.AllocateRange(n=%d): id space overflow, %d ids already allocated", n, s.next-1)
	}
	r := Range{First: s.next, N: n}
	s.next += int32(n)
	return r
}

// NumIDs returns the total number of ids in the space, including the dummy
// id 0. It is the minimum number of rows of any buffer indexed by this space.
func (s *Space) NumIDs() int { return int(s.next) }

// Freeze marks the space as read-only. Any further AllocateRange panics.
func (s *Space) Freeze() { s.frozen = true }

// IsFrozen returns whether Freeze was called.
func (s *Space) IsFrozen() bool { return s.frozen }
