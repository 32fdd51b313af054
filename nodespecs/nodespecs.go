// Package nodespecs defines the node specification blocks from which circuit
// layers are compiled.
//
// A circuit layer is built from an ordered list of blocks. Each block is a
// set of nodes sharing the same structure: every node of a ProductBlock
// combines exactly one element from each of the block's child blocks, and the
// edge assignment selects which element of each child block a given node
// consumes.
//
// Blocks are given their global output ids by allocating a contiguous
// ids.Range: child blocks must already have theirs assigned (they were built
// by an earlier layer) before a ProductBlock referencing them is compiled.
package nodespecs

import (
	. "github.com/gomlx/exceptions"

	"github.com/gomlx/circuits/ids"
)

// Block is any block of nodes whose outputs occupy a contiguous range of
// global ids.
//
// The local node i of a block has the global id OutputRange().First + i.
type Block interface {
	// NumNodes in the block.
	NumNodes() int

	// OutputRange of global ids assigned to the block's outputs.
	// Returns an invalid (zero) Range if not yet assigned.
	OutputRange() ids.Range
}

// InputBlock is a block of values produced outside the layer being compiled,
// typically by a previous layer. It only carries the output id range, which
// is allocated at creation.
type InputBlock struct {
	rng ids.Range
}

// NewInputBlock creates an InputBlock with numNodes outputs, allocating its
// id range from space immediately.
func NewInputBlock(space *ids.Space, numNodes int) *InputBlock {
	if numNodes <= 0 {
		Panicf("nodespecs.NewInputBlock(numNodes=%d): numNodes must be > 0", numNodes)
	}
	return &InputBlock{rng: space.AllocateRange(numNodes)}
}

// NumNodes implements Block.
func (b *InputBlock) NumNodes() int { return b.rng.N }

// OutputRange implements Block.
func (b *InputBlock) OutputRange() ids.Range { return b.rng }

// ProductBlock declares a block of product nodes.
//
// All nodes of the block have the same fan-in, one child element per child
// block. edgeIDs[i][j] is the local index (within children[j]) of the element
// that node i consumes at slot j.
type ProductBlock struct {
	children []Block
	edgeIDs  [][]int32
	rng      ids.Range
}

// NewProductBlock creates a ProductBlock from its child blocks and edge
// assignment. It panics on a malformed specification: no children, no nodes,
// a ragged edge assignment, an out-of-range local child index, or a child
// block without an assigned output range.
func NewProductBlock(children []Block, edgeIDs [][]int32) *ProductBlock {
	if len(children) == 0 {
		Panicf("nodespecs.NewProductBlock: a product block must have at least one child block")
	}
	if len(edgeIDs) == 0 {
		Panicf("nodespecs.NewProductBlock: a product block must have at least one node (empty edge assignment)")
	}
	for j, c := range children {
		if c == nil {
			Panicf("nodespecs.NewProductBlock: child block %d is nil", j)
		}
		if !c.OutputRange().IsValid() {
			Panicf("nodespecs.NewProductBlock: child block %d has no output id range assigned yet", j)
		}
	}
	for i, row := range edgeIDs {
		if len(row) != len(children) {
			Panicf("nodespecs.NewProductBlock: edgeIDs[%d] has %d slots, expected one per child block (%d)",
				i, len(row), len(children))
		}
		for j, e := range row {
			if e < 0 || int(e) >= children[j].NumNodes() {
				Panicf("nodespecs.NewProductBlock: edgeIDs[%d][%d]=%d out of range for child block %d with %d nodes",
					i, j, e, j, children[j].NumNodes())
			}
		}
	}
	return &ProductBlock{children: children, edgeIDs: edgeIDs}
}

// NumNodes implements Block.
func (b *ProductBlock) NumNodes() int { return len(b.edgeIDs) }

// NumChildSlots returns the fan-in shared by all nodes of the block: one
// slot per child block.
func (b *ProductBlock) NumChildSlots() int { return len(b.children) }

// Children returns the child blocks. Don't modify the returned slice, it is
// in use by the block.
func (b *ProductBlock) Children() []Block { return b.children }

// EdgeID returns the local child index consumed by the given local node at
// the given slot.
func (b *ProductBlock) EdgeID(node, slot int) int32 { return b.edgeIDs[node][slot] }

// ChildID returns the global id of the element consumed by the given local
// node at the given slot.
func (b *ProductBlock) ChildID(node, slot int) int32 {
	return b.edgeIDs[node][slot] + b.children[slot].OutputRange().First
}

// AssignOutputRange allocates the block's output ids from space. It panics
// if the block already has a range assigned.
func (b *ProductBlock) AssignOutputRange(space *ids.Space) {
	if b.rng.IsValid() {
		Panicf("nodespecs.ProductBlock.AssignOutputRange: output range %s already assigned", b.rng)
	}
	b.rng = space.AllocateRange(b.NumNodes())
}

// OutputRange implements Block.
func (b *ProductBlock) OutputRange() ids.Range { return b.rng }
