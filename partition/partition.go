// Package partition chooses how entities of a layer are split into dense
// groups according to their fan counts.
//
// A layer cannot efficiently reduce rows of varying widths, so it pads every
// row of a group to the group's width. The oracle picks the group boundaries:
// an ordered list of fan-count upper bounds b1 < b2 < … < bk defining the
// intervals [0, b1], [b1+1, b2], …; an entity with fan count c joins the
// group of the interval containing c, which is padded to width = the
// interval's upper bound. Fewer groups mean fewer (larger) dense reductions
// but more padding; the oracle trades one against the other.
package partition

import (
	"slices"

	. "github.com/gomlx/exceptions"
)

// Oracle returns the group interval upper bounds for the given fan counts.
//
// Contract: the result is non-empty, strictly increasing, has at most
// maxGroups entries, its last entry is ≥ the maximum of counts, and it is
// deterministic for a given input.
type Oracle interface {
	Partition(counts []int32, maxGroups int) []int32
}

// SingleGroup is the trivial oracle: one group of width max(counts),
// regardless of maxGroups. The padding-heaviest but cheapest-to-schedule
// choice.
type SingleGroup struct{}

// Partition implements Oracle.
func (SingleGroup) Partition(counts []int32, maxGroups int) []int32 {
	checkArgs(counts, maxGroups)
	return []int32{slices.Max(counts)}
}

// MinCost is the default oracle: a dynamic program over the distinct
// observed fan counts that minimizes the total padded area
// Σ group_size × group_width, using at most maxGroups groups.
// Among solutions of equal cost it prefers fewer groups and breaks remaining
// ties by a fixed scan order, so it is deterministic.
type MinCost struct{}

// Partition implements Oracle.
func (MinCost) Partition(counts []int32, maxGroups int) []int32 {
	checkArgs(counts, maxGroups)

	// Distinct sorted fan counts and the number of entities at each.
	vals := slices.Clone(counts)
	slices.Sort(vals)
	vals = slices.Compact(vals)
	numVals := len(vals)
	multiplicity := make([]int64, numVals)
	for _, c := range counts {
		pos, _ := slices.BinarySearch(vals, c)
		multiplicity[pos]++
	}
	// prefix[i] = number of entities with fan count ≤ vals[i-1].
	prefix := make([]int64, numVals+1)
	for i, m := range multiplicity {
		prefix[i+1] = prefix[i] + m
	}
	// Every bound is one of the observed values: raising a bound between
	// observed values only adds padding, so the search space is exact.
	segmentCost := func(i, j int) int64 {
		return (prefix[j+1] - prefix[i]) * int64(vals[j])
	}

	if maxGroups > numVals {
		maxGroups = numVals
	}

	// minCost[g][j]: minimal padded area covering vals[0..j] with exactly g+1
	// groups. splitAt[g][j]: first value index of the last group.
	minCost := make([][]int64, maxGroups)
	splitAt := make([][]int, maxGroups)
	for g := range minCost {
		minCost[g] = make([]int64, numVals)
		splitAt[g] = make([]int, numVals)
	}
	for j := 0; j < numVals; j++ {
		minCost[0][j] = segmentCost(0, j)
	}
	for g := 1; g < maxGroups; g++ {
		for j := g; j < numVals; j++ {
			best := int64(-1)
			bestK := -1
			for k := g; k <= j; k++ {
				cost := minCost[g-1][k-1] + segmentCost(k, j)
				if best < 0 || cost < best {
					best = cost
					bestK = k
				}
			}
			minCost[g][j] = best
			splitAt[g][j] = bestK
		}
	}

	// Splitting never increases the padded area, so the best cost is reached
	// with the largest group count; prefer the fewest groups achieving it.
	numGroups := 1
	for g := 1; g < maxGroups; g++ {
		if minCost[g][numVals-1] < minCost[numGroups-1][numVals-1] {
			numGroups = g + 1
		}
	}

	bounds := make([]int32, numGroups)
	j := numVals - 1
	for g := numGroups - 1; g >= 0; g-- {
		bounds[g] = vals[j]
		if g > 0 {
			j = splitAt[g][j] - 1
		}
	}
	return bounds
}

func checkArgs(counts []int32, maxGroups int) {
	if len(counts) == 0 {
		Panicf("partition: empty fan counts, nothing to partition")
	}
	if maxGroups <= 0 {
		Panicf("partition: maxGroups=%d, must be > 0", maxGroups)
	}
	for i, c := range counts {
		if c < 0 {
			Panicf("partition: counts[%d]=%d, fan counts must be non-negative", i, c)
		}
	}
}
