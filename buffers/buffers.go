// Package buffers implements the dense value and flow buffers that circuit
// layers evaluate over, and the batched scatter primitives used to write
// grouped results back into them.
//
// A Buffer is a dense [rows, batch] matrix stored flat in row-major order,
// where the row index is a global id (see the ids package) and the columns
// are the evaluation batch. Supported dtypes are Float16, Float32 and
// Float64 -- Float16 is stored as float16.Float16 and computed in float32.
//
// Row 0 is the dummy row (ids.DummyID). The owner of a buffer must fill it
// with the neutral element of the evaluation domain before evaluating (see
// Buffer.FillRow), so that gathers of padded adjacency entries are no-ops
// under the domain's combine operator. The evaluators rely on this
// precondition but do not enforce it.
package buffers

import (
	. "github.com/gomlx/exceptions"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"
	"github.com/x448/float16"
)

// Buffer is a dense [rows, batch] matrix of one of the supported float
// dtypes, indexed by global ids on the row axis.
type Buffer struct {
	dtype dtypes.DType
	rows  int
	batch int

	// flat holds the actual data, a slice of the Go type for dtype, of
	// length rows*batch, in row-major order.
	flat any
}

// New returns a zero-initialized Buffer with the given shape.
// It panics on non-positive dimensions or an unsupported dtype.
func New(dtype dtypes.DType, rows, batch int) *Buffer {
	if rows <= 0 || batch <= 0 {
		Panicf("buffers.New(%s, rows=%d, batch=%d): dimensions must be > 0", dtype, rows, batch)
	}
	b := &Buffer{dtype: dtype, rows: rows, batch: batch}
	size := rows * batch
	switch dtype {
	case dtypes.Float32:
		b.flat = make([]float32, size)
	case dtypes.Float64:
		b.flat = make([]float64, size)
	case dtypes.Float16:
		b.flat = make([]float16.Float16, size)
	default:
		Panicf("buffers.New: unsupported dtype %s, only Float16, Float32 and Float64 are supported", dtype)
	}
	return b
}

// AssertValid panics if the buffer is nil or has no storage attached.
func (b *Buffer) AssertValid() {
	if b == nil {
		panic(errors.New("buffers.Buffer is nil"))
	}
	if b.flat == nil {
		panic(errors.New("buffers.Buffer has no storage, use buffers.New to create one"))
	}
}

// DType of the buffer's values.
func (b *Buffer) DType() dtypes.DType { return b.dtype }

// Rows of the buffer: the number of ids it can hold, including the dummy
// row 0.
func (b *Buffer) Rows() int { return b.rows }

// Batch size of the buffer (number of columns).
func (b *Buffer) Batch() int { return b.batch }

// Size returns the total number of values (rows × batch).
func (b *Buffer) Size() int { return b.rows * b.batch }

// Flat returns the flat row-major backing data of the buffer as a slice of
// its dtype's Go type. The slice is owned by the buffer and stays valid for
// the buffer's lifetime. It panics if T does not match the buffer's dtype.
func Flat[T dtypes.Supported](b *Buffer) []T {
	b.AssertValid()
	if b.dtype != dtypes.FromGenericsType[T]() {
		var v T
		Panicf("buffers.Flat[%T] is incompatible with buffer's dtype %s", v, b.dtype)
	}
	return b.flat.([]T)
}

// At returns the value at (row, col) converted to float64.
// It is meant for tests and inspection, not for evaluation inner loops.
func (b *Buffer) At(row, col int) float64 {
	idx := b.index(row, col)
	switch flat := b.flat.(type) {
	case []float32:
		return float64(flat[idx])
	case []float64:
		return flat[idx]
	case []float16.Float16:
		return float64(flat[idx].Float32())
	}
	return 0 // Unreachable, New only builds the cases above.
}

// Set stores value (converted to the buffer's dtype) at (row, col).
// It is meant for tests and buffer set up, not for evaluation inner loops.
func (b *Buffer) Set(row, col int, value float64) {
	idx := b.index(row, col)
	switch flat := b.flat.(type) {
	case []float32:
		flat[idx] = float32(value)
	case []float64:
		flat[idx] = value
	case []float16.Float16:
		flat[idx] = float16.Fromfloat32(float32(value))
	}
}

// FillRow sets every column of the given row to value. Use it to initialize
// the dummy row 0 to the domain's neutral element before evaluating.
func (b *Buffer) FillRow(row int, value float64) {
	for col := 0; col < b.batch; col++ {
		b.Set(row, col, value)
	}
}

// Zero resets the whole buffer to zeros. Flow buffers are accumulated into
// and usually need a reset between evaluation calls.
func (b *Buffer) Zero() {
	switch flat := b.flat.(type) {
	case []float32:
		clear(flat)
	case []float64:
		clear(flat)
	case []float16.Float16:
		clear(flat)
	}
}

func (b *Buffer) index(row, col int) int {
	b.AssertValid()
	if row < 0 || row >= b.rows || col < 0 || col >= b.batch {
		Panicf("buffers: position (%d, %d) out of bounds for buffer shaped [%d, %d]", row, col, b.rows, b.batch)
	}
	return row*b.batch + col
}
