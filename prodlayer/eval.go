package prodlayer

import (
	. "github.com/gomlx/exceptions"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/x448/float16"
	"golang.org/x/exp/constraints"

	"github.com/gomlx/circuits/buffers"
)

// Forward evaluates the layer: for every node, the combine of its children's
// values in nodeValues is written to the node's row of elementValues --
// a sum in ModeLog, a product in ModeLinear. Only the rows of elementValues
// named by the layer's node ids are written.
//
// nodeValues and elementValues must have the same dtype and batch size;
// nodeValues must have rows for every referenced child id, elementValues for
// every id of the layer's output range. Row 0 of nodeValues must hold the
// mode's neutral element (see Mode.Neutral); padded adjacency entries gather
// it and leave the reduction unchanged.
//
// Forward and Backward share the layer's scratch buffer: don't call either
// concurrently on the same Layer.
func (l *Layer) Forward(nodeValues, elementValues *buffers.Buffer) {
	l.checkEvalBuffers("Forward", nodeValues, elementValues)
	scratch := l.ensureScratch(nodeValues.DType(), nodeValues.Batch())
	for gi := range l.fwd {
		g := &l.fwd[gi]
		gatherReduce(l.mode, scratch, nodeValues, g.childIDs, g.width)
		buffers.ScatterWrite(elementValues, scratch, g.nodeIDs)
	}
}

// Backward propagates flow: for every referenced child, the combine of the
// flows of its parents in elementFlows is accumulated (added) into the
// child's row of nodeFlows. Accumulation, not overwrite: nodeFlows is shared
// across the circuit and may already hold contributions from other layers.
// Children never referenced by this layer are untouched.
//
// The reduction over a child's parents matches the evaluation domain -- a
// sum in ModeLog, a product in ModeLinear -- mirroring the forward pass.
// Row 0 of elementFlows must hold the mode's neutral element, like in
// Forward.
func (l *Layer) Backward(nodeFlows, elementFlows *buffers.Buffer) {
	l.checkEvalBuffers("Backward", nodeFlows, elementFlows)
	scratch := l.ensureScratch(nodeFlows.DType(), nodeFlows.Batch())
	for gi := range l.bwd {
		g := &l.bwd[gi]
		gatherReduce(l.mode, scratch, elementFlows, g.parentIDs, g.width)
		buffers.ScatterAdd(nodeFlows, scratch, g.childIDs)
	}
}

// checkEvalBuffers enforces the shape contract of an evaluation call.
// Violations are caller mistakes, detected before any row is written.
func (l *Layer) checkEvalBuffers(op string, nodeSide, elementSide *buffers.Buffer) {
	if nodeSide == nil || elementSide == nil {
		Panicf("prodlayer.%s: nil buffer", op)
	}
	if nodeSide.DType() != elementSide.DType() {
		Panicf("prodlayer.%s: node-side dtype %s != element-side dtype %s", op, nodeSide.DType(), elementSide.DType())
	}
	if nodeSide.Batch() != elementSide.Batch() {
		Panicf("prodlayer.%s: node-side batch size %d != element-side batch size %d", op, nodeSide.Batch(), elementSide.Batch())
	}
	if nodeSide.Rows() <= int(l.maxChildID) {
		Panicf("prodlayer.%s: node-side buffer has %d rows, but the layer references child ids up to %d", op, nodeSide.Rows(), l.maxChildID)
	}
	if elementSide.Rows() <= int(l.outputRange.Last()) {
		Panicf("prodlayer.%s: element-side buffer has %d rows, but the layer's output ids reach %d", op, elementSide.Rows(), l.outputRange.Last())
	}
}

// ensureScratch returns the layer's staging buffer, reallocating it if the
// call's dtype or batch size changed since the last evaluation.
func (l *Layer) ensureScratch(dtype dtypes.DType, batch int) *buffers.Buffer {
	if l.scratch == nil || l.scratch.DType() != dtype || l.scratch.Batch() != batch {
		l.scratch = buffers.New(dtype, l.scratchRows, batch)
	}
	return l.scratch
}

// gatherReduce gathers values at the rows named by table (flattened
// [len(table)/width, width]) and reduces each row across the width axis with
// the mode's combine operator, into the leading rows of scratch.
func gatherReduce(mode Mode, scratch, values *buffers.Buffer, table []int32, width int) {
	switch values.DType() {
	case dtypes.Float32:
		gatherReduceOf[float32](mode, scratch, values, table, width)
	case dtypes.Float64:
		gatherReduceOf[float64](mode, scratch, values, table, width)
	case dtypes.Float16:
		batch := values.Batch()
		numRows := len(table) / width
		out := buffers.Flat[float16.Float16](scratch)[:numRows*batch]
		vals := buffers.Flat[float16.Float16](values)
		if mode == ModeLinear {
			gatherReduceProdF16(out, vals, table, width, batch)
		} else {
			gatherReduceSumF16(out, vals, table, width, batch)
		}
	}
}

func gatherReduceOf[T interface{ float32 | float64 }](mode Mode, scratch, values *buffers.Buffer, table []int32, width int) {
	batch := values.Batch()
	numRows := len(table) / width
	out := buffers.Flat[T](scratch)[:numRows*batch]
	vals := buffers.Flat[T](values)
	if mode == ModeLinear {
		gatherReduceProd(out, vals, table, width, batch)
	} else {
		gatherReduceSum(out, vals, table, width, batch)
	}
}

func gatherReduceSum[T constraints.Float](out, vals []T, table []int32, width, batch int) {
	numRows := len(table) / width
	for r := 0; r < numRows; r++ {
		outRow := out[r*batch : (r+1)*batch]
		base := r * width
		first := int(table[base]) * batch
		copy(outRow, vals[first:first+batch])
		for c := 1; c < width; c++ {
			src := vals[int(table[base+c])*batch:]
			for col := range outRow {
				outRow[col] += src[col]
			}
		}
	}
}

func gatherReduceProd[T constraints.Float](out, vals []T, table []int32, width, batch int) {
	numRows := len(table) / width
	for r := 0; r < numRows; r++ {
		outRow := out[r*batch : (r+1)*batch]
		base := r * width
		first := int(table[base]) * batch
		copy(outRow, vals[first:first+batch])
		for c := 1; c < width; c++ {
			src := vals[int(table[base+c])*batch:]
			for col := range outRow {
				outRow[col] *= src[col]
			}
		}
	}
}

// The Float16 kernels accumulate in float32 and convert back once per
// output value.

func gatherReduceSumF16(out, vals []float16.Float16, table []int32, width, batch int) {
	numRows := len(table) / width
	for r := 0; r < numRows; r++ {
		base := r * width
		for col := 0; col < batch; col++ {
			acc := vals[int(table[base])*batch+col].Float32()
			for c := 1; c < width; c++ {
				acc += vals[int(table[base+c])*batch+col].Float32()
			}
			out[r*batch+col] = float16.Fromfloat32(acc)
		}
	}
}

func gatherReduceProdF16(out, vals []float16.Float16, table []int32, width, batch int) {
	numRows := len(table) / width
	for r := 0; r < numRows; r++ {
		base := r * width
		for col := 0; col < batch; col++ {
			acc := vals[int(table[base])*batch+col].Float32()
			for c := 1; c < width; c++ {
				acc *= vals[int(table[base+c])*batch+col].Float32()
			}
			out[r*batch+col] = float16.Fromfloat32(acc)
		}
	}
}
