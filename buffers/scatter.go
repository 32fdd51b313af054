package buffers

import (
	. "github.com/gomlx/exceptions"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/x448/float16"
	"golang.org/x/exp/constraints"
)

// This file implements the batched scatter primitives: staging buffers
// (gathered-and-reduced group results) are written back into the full value
// and flow buffers at a list of destination rows.

// ScatterWrite copies row r of src into row rowIDs[r] of dst, for every r in
// [0, len(rowIDs)). Rows of dst not named in rowIDs are untouched. src may
// have more rows than len(rowIDs); the extra rows are ignored.
//
// dst and src must have the same dtype and batch size, and every destination
// row id must be within dst's rows.
func ScatterWrite(dst, src *Buffer, rowIDs []int32) {
	checkScatterArgs("ScatterWrite", dst, src, rowIDs)
	switch dst.dtype {
	case dtypes.Float32:
		scatterWrite(Flat[float32](dst), Flat[float32](src), rowIDs, dst.batch)
	case dtypes.Float64:
		scatterWrite(Flat[float64](dst), Flat[float64](src), rowIDs, dst.batch)
	case dtypes.Float16:
		scatterWrite(Flat[float16.Float16](dst), Flat[float16.Float16](src), rowIDs, dst.batch)
	}
}

// ScatterAdd accumulates row r of src into row rowIDs[r] of dst, for every r
// in [0, len(rowIDs)): dst[rowIDs[r]] += src[r]. Rows of dst not named in
// rowIDs are untouched.
//
// rowIDs must not repeat within one call -- repeated destinations would make
// the result order-dependent. The layer compiler guarantees this: each
// backward group's destination list is de-duplicated by construction.
func ScatterAdd(dst, src *Buffer, rowIDs []int32) {
	checkScatterArgs("ScatterAdd", dst, src, rowIDs)
	switch dst.dtype {
	case dtypes.Float32:
		scatterAdd(Flat[float32](dst), Flat[float32](src), rowIDs, dst.batch)
	case dtypes.Float64:
		scatterAdd(Flat[float64](dst), Flat[float64](src), rowIDs, dst.batch)
	case dtypes.Float16:
		scatterAddF16(Flat[float16.Float16](dst), Flat[float16.Float16](src), rowIDs, dst.batch)
	}
}

func checkScatterArgs(op string, dst, src *Buffer, rowIDs []int32) {
	dst.AssertValid()
	src.AssertValid()
	if dst.dtype != src.dtype {
		Panicf("buffers.%s: dst dtype %s != src dtype %s", op, dst.dtype, src.dtype)
	}
	if dst.batch != src.batch {
		Panicf("buffers.%s: dst batch size %d != src batch size %d", op, dst.batch, src.batch)
	}
	if len(rowIDs) > src.rows {
		Panicf("buffers.%s: %d destination rows but src only has %d rows", op, len(rowIDs), src.rows)
	}
	for r, id := range rowIDs {
		if id < 0 || int(id) >= dst.rows {
			Panicf("buffers.%s: rowIDs[%d]=%d out of range for dst with %d rows", op, r, id, dst.rows)
		}
	}
}

func scatterWrite[T any](dst, src []T, rowIDs []int32, batch int) {
	for r, id := range rowIDs {
		copy(dst[int(id)*batch:(int(id)+1)*batch], src[r*batch:(r+1)*batch])
	}
}

func scatterAdd[T constraints.Float](dst, src []T, rowIDs []int32, batch int) {
	for r, id := range rowIDs {
		dstRow := dst[int(id)*batch : (int(id)+1)*batch]
		srcRow := src[r*batch : (r+1)*batch]
		for col := range dstRow {
			dstRow[col] += srcRow[col]
		}
	}
}

func scatterAddF16(dst, src []float16.Float16, rowIDs []int32, batch int) {
	for r, id := range rowIDs {
		dstRow := dst[int(id)*batch : (int(id)+1)*batch]
		srcRow := src[r*batch : (r+1)*batch]
		for col := range dstRow {
			dstRow[col] = float16.Fromfloat32(dstRow[col].Float32() + srcRow[col].Float32())
		}
	}
}
