package prodlayer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gomlx/circuits/ids"
	"github.com/gomlx/circuits/nodespecs"
	"github.com/gomlx/circuits/partition"
)

// testLayer builds the reference 4-node layer with fan-ins [2, 2, 3, 1].
//
// Node-side id space: in1 has ids 1..4 (id 4 never referenced), in2 has
// ids 5..6, in3 has ids 7..8. Element-side ids are 1..4, one per node:
//
//	element 1 = combine(1, 5)
//	element 2 = combine(3, 6)
//	element 3 = combine(2, 5, 8)
//	element 4 = combine(7)
//
// Child id 5 is shared by elements 1 and 3 (fan-out 2); all other referenced
// children have fan-out 1.
func testLayer(options ...Option) *Layer {
	nodeSpace := ids.NewSpace()
	in1 := nodespecs.NewInputBlock(nodeSpace, 4)
	in2 := nodespecs.NewInputBlock(nodeSpace, 2)
	in3 := nodespecs.NewInputBlock(nodeSpace, 2)

	blockA := nodespecs.NewProductBlock([]nodespecs.Block{in1, in2}, [][]int32{
		{0, 0},
		{2, 1},
	})
	blockB := nodespecs.NewProductBlock([]nodespecs.Block{in1, in2, in3}, [][]int32{
		{1, 0, 1},
	})
	blockC := nodespecs.NewProductBlock([]nodespecs.Block{in3}, [][]int32{
		{0},
	})

	elementSpace := ids.NewSpace()
	return New(elementSpace, []*nodespecs.ProductBlock{blockA, blockB, blockC}, options...)
}

func TestLayerScenario(t *testing.T) {
	// With two groups the oracle splits {fan-in 1, 2} from {fan-in 3}:
	// widths 2 and 3.
	l := testLayer(WithMaxGroups(2))
	assert.Equal(t, 4, l.NumNodes())
	assert.Equal(t, ids.Range{First: 1, N: 4}, l.OutputRange())
	assert.Equal(t, 3, l.MaxFanIn())
	assert.Equal(t, 2, l.MaxFanOut())

	require.Equal(t, 2, l.NumForwardGroups())
	assert.Equal(t, []int32{1, 2, 4}, l.fwd[0].nodeIDs)
	assert.Equal(t, 2, l.fwd[0].width)
	assert.Equal(t, []int32{1, 5, 3, 6, 7, 0}, l.fwd[0].childIDs)
	assert.Equal(t, []int32{3}, l.fwd[1].nodeIDs)
	assert.Equal(t, 3, l.fwd[1].width)
	assert.Equal(t, []int32{2, 5, 8}, l.fwd[1].childIDs)

	stats := l.ForwardGroupStats()
	require.Len(t, stats, 2)
	assert.Equal(t, GroupStats{Size: 3, Width: 2, TrueFan: 5}, stats[0])
	assert.Equal(t, 1, stats[0].Padding())
	assert.Equal(t, GroupStats{Size: 1, Width: 3, TrueFan: 3}, stats[1])
	assert.Equal(t, 0, stats[1].Padding())

	// Backward: fan-outs are 1 everywhere except child 5 (fan-out 2).
	require.Equal(t, 2, l.NumBackwardGroups())
	assert.Equal(t, []int32{1, 2, 3, 6, 7, 8}, l.bwd[0].childIDs)
	assert.Equal(t, 1, l.bwd[0].width)
	assert.Equal(t, []int32{1, 3, 2, 2, 4, 3}, l.bwd[0].parentIDs)
	assert.Equal(t, []int32{5}, l.bwd[1].childIDs)
	assert.Equal(t, 2, l.bwd[1].width)
	assert.Equal(t, []int32{1, 3}, l.bwd[1].parentIDs)
}

func TestPartitionCoverage(t *testing.T) {
	for maxGroups := 1; maxGroups <= 4; maxGroups++ {
		l := testLayer(WithMaxGroups(maxGroups))

		seenNodes := make(map[int32]int)
		for _, g := range l.fwd {
			for _, id := range g.nodeIDs {
				seenNodes[id]++
			}
		}
		require.Len(t, seenNodes, 4, "every node in exactly one forward group")
		for id := int32(1); id <= 4; id++ {
			require.Equal(t, 1, seenNodes[id], "node %d", id)
		}

		seenChildren := make(map[int32]int)
		for _, g := range l.bwd {
			for _, id := range g.childIDs {
				seenChildren[id]++
			}
		}
		// Child 4 is never referenced: absent from every backward group.
		require.Len(t, seenChildren, 7)
		for _, id := range []int32{1, 2, 3, 5, 6, 7, 8} {
			require.Equal(t, 1, seenChildren[id], "child %d", id)
		}
		_, found := seenChildren[4]
		require.False(t, found)
	}
}

func TestReverseConsistency(t *testing.T) {
	l := testLayer(WithMaxGroups(3))
	wantParents := map[int32][]int32{
		1: {1}, 2: {3}, 3: {2}, 5: {1, 3}, 6: {2}, 7: {4}, 8: {3},
	}
	for _, g := range l.bwd {
		for r, child := range g.childIDs {
			row := g.parentIDs[r*g.width : (r+1)*g.width]
			var gotParents []int32
			for _, p := range row {
				if p != ids.DummyID {
					gotParents = append(gotParents, p)
				}
			}
			assert.Equal(t, wantParents[child], gotParents, "child %d", child)
		}
	}
}

func TestPaddingSoundness(t *testing.T) {
	fanInByNode := map[int32]int{1: 2, 2: 2, 3: 3, 4: 1}
	for maxGroups := 1; maxGroups <= 3; maxGroups++ {
		l := testLayer(WithMaxGroups(maxGroups))
		for _, g := range l.fwd {
			for r, id := range g.nodeIDs {
				row := g.childIDs[r*g.width : (r+1)*g.width]
				trueFan := fanInByNode[id]
				require.LessOrEqual(t, trueFan, g.width)
				for c, entry := range row {
					if c < trueFan {
						require.NotEqual(t, ids.DummyID, entry, "node %d slot %d", id, c)
					} else {
						require.Equal(t, ids.DummyID, entry, "node %d slot %d must be padding", id, c)
					}
				}
			}
		}
	}
}

func TestDeterministicConstruction(t *testing.T) {
	first := testLayer(WithMaxGroups(2))
	for i := 0; i < 3; i++ {
		again := testLayer(WithMaxGroups(2))
		require.Equal(t, first.fwd, again.fwd)
		require.Equal(t, first.bwd, again.bwd)
		require.Equal(t, first.fwdStats, again.fwdStats)
		require.Equal(t, first.bwdStats, again.bwdStats)
	}
}

func TestSingleGroupOracle(t *testing.T) {
	l := testLayer(WithMaxGroups(4), WithOracle(partition.SingleGroup{}))
	require.Equal(t, 1, l.NumForwardGroups())
	assert.Equal(t, []int32{1, 2, 3, 4}, l.fwd[0].nodeIDs)
	assert.Equal(t, 3, l.fwd[0].width)
	require.Equal(t, 1, l.NumBackwardGroups())
	assert.Equal(t, 2, l.bwd[0].width)
}

// brokenOracle violates the oracle contract in a configurable way.
type brokenOracle struct {
	bounds []int32
}

func (o brokenOracle) Partition(counts []int32, maxGroups int) []int32 {
	return o.bounds
}

func TestConstructionErrors(t *testing.T) {
	space := ids.NewSpace()
	require.Panics(t, func() { New(space, nil) })
	require.Panics(t, func() { New(nil, nil) })
	require.Panics(t, func() { New(space, []*nodespecs.ProductBlock{nil}) })
	require.Panics(t, func() { testLayer(WithMaxGroups(0)) })
	require.Panics(t, func() { testLayer(WithMode(Mode(17))) })
	require.Panics(t, func() { testLayer(WithOracle(nil)) })

	// Oracle contract violations surface as construction panics.
	require.Panics(t, func() { testLayer(WithOracle(brokenOracle{nil})) })
	// Doesn't cover fan-in 3.
	require.Panics(t, func() { testLayer(WithOracle(brokenOracle{[]int32{2}})) })
	// Not strictly increasing.
	require.Panics(t, func() { testLayer(WithOracle(brokenOracle{[]int32{2, 2, 3}})) })
	// More bounds than maxGroups.
	require.Panics(t, func() { testLayer(WithMaxGroups(1), WithOracle(brokenOracle{[]int32{1, 3}})) })
}

func TestNewWithError(t *testing.T) {
	nodeSpace := ids.NewSpace()
	in := nodespecs.NewInputBlock(nodeSpace, 2)
	block := nodespecs.NewProductBlock([]nodespecs.Block{in}, [][]int32{{0}, {1}})

	elementSpace := ids.NewSpace()
	l, err := NewWithError(elementSpace, []*nodespecs.ProductBlock{block})
	require.NoError(t, err)
	require.NotNil(t, l)
	assert.Equal(t, 2, l.NumNodes())

	l, err = NewWithError(elementSpace, nil)
	require.Error(t, err)
	assert.Nil(t, l)
	assert.Contains(t, err.Error(), "at least one")
}
