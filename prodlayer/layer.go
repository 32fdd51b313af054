// Package prodlayer compiles and evaluates the product layer of a layered
// probabilistic circuit.
//
// A product layer is a bipartite stage: each of its nodes combines a fixed
// set of child elements (outputs of earlier layers) with the evaluation
// domain's combine operator -- addition in log-domain, multiplication in
// linear domain. Node fan-in varies per node, but dense rectangular batches
// are the only thing that evaluates fast, so compilation (a) assigns every
// node a global id, (b) builds a dummy-padded rectangular child-id table,
// (c) partitions nodes into a bounded number of groups by fan-in (see the
// partition package) and, for the reverse pass, (d) inverts the table and
// partitions the referenced children by fan-out the same way.
//
// Construction runs once and produces immutable metadata; each Forward or
// Backward call is then a handful of independent gather→reduce→scatter
// reductions, one per group, over caller-supplied buffers (see the buffers
// package for the dummy-row neutral-element contract).
package prodlayer

import (
	"slices"

	. "github.com/gomlx/exceptions"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/gomlx/circuits/buffers"
	"github.com/gomlx/circuits/ids"
	"github.com/gomlx/circuits/nodespecs"
	"github.com/gomlx/circuits/partition"
)

// forwardGroup is a disjoint subset of the layer's nodes whose fan-ins fall
// in one interval chosen by the partition oracle.
type forwardGroup struct {
	// nodeIDs are the element ids the group's reduced values are written to,
	// in ascending order.
	nodeIDs []int32

	// childIDs is the group's adjacency submatrix, flattened row-major
	// [len(nodeIDs), width]. Entries beyond a node's true fan-in hold
	// ids.DummyID.
	childIDs []int32

	width int
}

// backwardGroup is a disjoint subset of the referenced child ids whose
// fan-outs fall in one interval chosen by the partition oracle.
type backwardGroup struct {
	// childIDs are the node ids the group's reduced flows are accumulated
	// into, ascending and de-duplicated.
	childIDs []int32

	// parentIDs is flattened row-major [len(childIDs), width], holding the
	// element ids referencing each child, padded with ids.DummyID.
	parentIDs []int32

	width int
}

// GroupStats describes one compiled group for introspection.
type GroupStats struct {
	// Size is the number of rows (nodes or children) in the group.
	Size int

	// Width is the padded fan width of the group's adjacency submatrix.
	Width int

	// TrueFan is the sum of the true (unpadded) fan counts of the group's
	// rows.
	TrueFan int
}

// Padding returns the number of sentinel entries in the group's submatrix.
func (s GroupStats) Padding() int { return s.Size*s.Width - s.TrueFan }

// Layer is a compiled product layer. It is immutable after New, except for
// the internal scratch buffer shared by Forward and Backward -- concurrent
// evaluation calls on the same Layer are not allowed.
type Layer struct {
	mode      Mode
	oracle    partition.Oracle
	maxGroups int

	numNodes    int
	outputRange ids.Range
	maxChildID  int32
	maxFanIn    int
	maxFanOut   int

	fwd      []forwardGroup
	bwd      []backwardGroup
	fwdStats []GroupStats
	bwdStats []GroupStats

	// scratch stages a group's gathered-and-reduced rows before the scatter.
	// Reused across groups and passes, reallocated if dtype or batch change.
	scratch     *buffers.Buffer
	scratchRows int
}

// Option configures New.
type Option func(*Layer)

// WithMode sets the evaluation domain. Default is ModeLog.
func WithMode(mode Mode) Option {
	return func(l *Layer) { l.mode = mode }
}

// WithMaxGroups caps the number of groups per direction. Default is 1: a
// single group per pass, maximal padding, minimal per-group overhead.
func WithMaxGroups(maxGroups int) Option {
	return func(l *Layer) { l.maxGroups = maxGroups }
}

// WithOracle sets the partition oracle. Default is partition.MinCost.
func WithOracle(oracle partition.Oracle) Option {
	return func(l *Layer) { l.oracle = oracle }
}

// New compiles a product layer from the given blocks.
//
// It allocates the blocks' output (element) ids from space, in block order,
// so the layer covers one contiguous id range. The blocks' child blocks must
// already have their output ranges assigned. space must be the element-side
// id space created by the circuit assembler -- it is shared by all layers
// writing to the same element buffer.
//
// Malformed specifications panic; see the package documentation of
// nodespecs for what is validated where.
func New(space *ids.Space, blocks []*nodespecs.ProductBlock, options ...Option) *Layer {
	if space == nil {
		Panicf("prodlayer.New: nil id space")
	}
	if len(blocks) == 0 {
		Panicf("prodlayer.New: no node blocks, a layer needs at least one")
	}
	l := &Layer{
		mode:      ModeLog,
		oracle:    partition.MinCost{},
		maxGroups: 1,
	}
	for _, opt := range options {
		opt(l)
	}
	if !l.mode.IsAMode() {
		Panicf("prodlayer.New: invalid mode %d", int(l.mode))
	}
	if l.maxGroups <= 0 {
		Panicf("prodlayer.New: maxGroups=%d, must be > 0", l.maxGroups)
	}
	if l.oracle == nil {
		Panicf("prodlayer.New: nil partition oracle")
	}

	numNodes := 0
	maxFanIn := 0
	for bi, b := range blocks {
		if b == nil {
			Panicf("prodlayer.New: blocks[%d] is nil", bi)
		}
		b.AssignOutputRange(space)
		numNodes += b.NumNodes()
		maxFanIn = max(maxFanIn, b.NumChildSlots())
	}
	l.numNodes = numNodes
	l.maxFanIn = maxFanIn
	l.outputRange = ids.Range{First: blocks[0].OutputRange().First, N: numNodes}

	// Adjacency builder: the dense child-id table, one row per node in block
	// order, width maxFanIn, padded with the dummy id. Entry [i, j] of block
	// b is the block-local edge id shifted by the child block's first
	// output id.
	childIDs := make([]int32, numNodes*maxFanIn)
	fanIn := make([]int32, numNodes)
	nodeIDs := make([]int32, numNodes)
	row := 0
	for _, b := range blocks {
		first := b.OutputRange().First
		slots := b.NumChildSlots()
		for i := 0; i < b.NumNodes(); i++ {
			nodeIDs[row] = first + int32(i)
			fanIn[row] = int32(slots)
			base := row * maxFanIn
			for j := 0; j < slots; j++ {
				id := b.ChildID(i, j)
				childIDs[base+j] = id
				l.maxChildID = max(l.maxChildID, id)
			}
			row++
		}
	}

	l.buildForwardGroups(nodeIDs, fanIn, childIDs)
	l.buildBackwardGroups(nodeIDs, childIDs)

	for _, s := range l.fwdStats {
		l.scratchRows = max(l.scratchRows, s.Size)
	}
	for _, s := range l.bwdStats {
		l.scratchRows = max(l.scratchRows, s.Size)
	}

	if klog.V(1).Enabled() {
		klog.Infof("prodlayer: compiled %d nodes (element ids %s, mode %s): %d forward groups (%d padded entries), %d backward groups (%d padded entries)",
			l.numNodes, l.outputRange, l.mode,
			len(l.fwd), totalPadding(l.fwdStats),
			len(l.bwd), totalPadding(l.bwdStats))
	}
	return l
}

// NewWithError is like New, but returns construction failures as an error
// instead of panicking, for callers assembling circuits from untrusted
// specifications.
func NewWithError(space *ids.Space, blocks []*nodespecs.ProductBlock, options ...Option) (l *Layer, err error) {
	err = TryCatch[error](func() {
		l = New(space, blocks, options...)
	})
	if err != nil {
		return nil, errors.WithMessage(err, "prodlayer.NewWithError")
	}
	return l, nil
}

// buildForwardGroups partitions the nodes by fan-in and trims the child-id
// table per group.
func (l *Layer) buildForwardGroups(nodeIDs, fanIn, childIDs []int32) {
	bounds := l.oracle.Partition(fanIn, l.maxGroups)
	checkOracleBounds(bounds, fanIn, l.maxGroups)
	lo := int32(0)
	for _, hi := range bounds {
		var rows []int
		for r, c := range fanIn {
			if c >= lo && c <= hi {
				rows = append(rows, r)
			}
		}
		lo = hi + 1
		if len(rows) == 0 {
			continue
		}
		width := int(hi)
		g := forwardGroup{
			nodeIDs:  make([]int32, len(rows)),
			childIDs: make([]int32, len(rows)*width),
			width:    width,
		}
		copyWidth := min(width, l.maxFanIn)
		trueFan := 0
		for gr, r := range rows {
			g.nodeIDs[gr] = nodeIDs[r]
			copy(g.childIDs[gr*width:gr*width+copyWidth], childIDs[r*l.maxFanIn:r*l.maxFanIn+copyWidth])
			trueFan += int(fanIn[r])
		}
		l.fwd = append(l.fwd, g)
		l.fwdStats = append(l.fwdStats, GroupStats{Size: len(rows), Width: width, TrueFan: trueFan})
	}
}

// buildBackwardGroups inverts the child-id table and partitions the
// referenced children by fan-out.
func (l *Layer) buildBackwardGroups(nodeIDs, childIDs []int32) {
	// Reverse index: for every non-dummy id in the table, the element ids of
	// the nodes referencing it, in table scan order. Children never
	// referenced stay out entirely -- they receive no flow.
	parents := make(map[int32][]int32)
	for r := 0; r < l.numNodes; r++ {
		base := r * l.maxFanIn
		for j := 0; j < l.maxFanIn; j++ {
			id := childIDs[base+j]
			if id == ids.DummyID {
				continue
			}
			parents[id] = append(parents[id], nodeIDs[r])
		}
	}

	refIDs := make([]int32, 0, len(parents))
	for id := range parents {
		refIDs = append(refIDs, id)
	}
	slices.Sort(refIDs)
	fanOut := make([]int32, len(refIDs))
	for r, id := range refIDs {
		fanOut[r] = int32(len(parents[id]))
		l.maxFanOut = max(l.maxFanOut, len(parents[id]))
	}

	bounds := l.oracle.Partition(fanOut, l.maxGroups)
	checkOracleBounds(bounds, fanOut, l.maxGroups)
	lo := int32(0)
	for _, hi := range bounds {
		var rows []int
		for r, c := range fanOut {
			if c >= lo && c <= hi {
				rows = append(rows, r)
			}
		}
		lo = hi + 1
		if len(rows) == 0 {
			continue
		}
		width := int(hi)
		g := backwardGroup{
			childIDs:  make([]int32, len(rows)),
			parentIDs: make([]int32, len(rows)*width),
			width:     width,
		}
		trueFan := 0
		for gr, r := range rows {
			id := refIDs[r]
			g.childIDs[gr] = id
			copy(g.parentIDs[gr*width:], parents[id])
			trueFan += len(parents[id])
		}
		l.bwd = append(l.bwd, g)
		l.bwdStats = append(l.bwdStats, GroupStats{Size: len(rows), Width: width, TrueFan: trueFan})
	}
}

// checkOracleBounds verifies the partition oracle's contract. A violation is
// an internal invariant failure, not a user error.
func checkOracleBounds(bounds, counts []int32, maxGroups int) {
	if len(bounds) == 0 {
		Panicf("prodlayer: partition oracle returned no interval bounds")
	}
	if len(bounds) > maxGroups {
		Panicf("prodlayer: partition oracle returned %d bounds, more than maxGroups=%d", len(bounds), maxGroups)
	}
	for i := 1; i < len(bounds); i++ {
		if bounds[i] <= bounds[i-1] {
			Panicf("prodlayer: partition oracle bounds %v are not strictly increasing", bounds)
		}
	}
	if maxCount := slices.Max(counts); bounds[len(bounds)-1] < maxCount {
		Panicf("prodlayer: partition oracle bounds %v don't cover the max fan count %d", bounds, maxCount)
	}
}

func totalPadding(stats []GroupStats) int {
	total := 0
	for _, s := range stats {
		total += s.Padding()
	}
	return total
}

// Mode returns the layer's evaluation domain.
func (l *Layer) Mode() Mode { return l.mode }

// NumNodes returns the number of product nodes in the layer.
func (l *Layer) NumNodes() int { return l.numNodes }

// OutputRange returns the contiguous element id range the layer writes to.
func (l *Layer) OutputRange() ids.Range { return l.outputRange }

// MaxFanIn across all nodes of the layer, before grouping.
func (l *Layer) MaxFanIn() int { return l.maxFanIn }

// MaxFanOut across all referenced children of the layer.
func (l *Layer) MaxFanOut() int { return l.maxFanOut }

// NumForwardGroups after compilation. At most the maxGroups given to New.
func (l *Layer) NumForwardGroups() int { return len(l.fwd) }

// NumBackwardGroups after compilation. At most the maxGroups given to New.
func (l *Layer) NumBackwardGroups() int { return len(l.bwd) }

// ForwardGroupStats returns per-group sizes for introspection.
func (l *Layer) ForwardGroupStats() []GroupStats { return slices.Clone(l.fwdStats) }

// BackwardGroupStats returns per-group sizes for introspection.
func (l *Layer) BackwardGroupStats() []GroupStats { return slices.Clone(l.bwdStats) }
