package buffers

import (
	"testing"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewAndAccess(t *testing.T) {
	for _, dtype := range []dtypes.DType{dtypes.Float16, dtypes.Float32, dtypes.Float64} {
		t.Run(dtype.String(), func(t *testing.T) {
			b := New(dtype, 3, 2)
			assert.Equal(t, dtype, b.DType())
			assert.Equal(t, 3, b.Rows())
			assert.Equal(t, 2, b.Batch())
			assert.Equal(t, 6, b.Size())
			assert.Equal(t, 0.0, b.At(2, 1))

			b.Set(1, 0, 2.5)
			assert.Equal(t, 2.5, b.At(1, 0))
			assert.Equal(t, 0.0, b.At(1, 1))

			b.FillRow(0, 1.0)
			assert.Equal(t, 1.0, b.At(0, 0))
			assert.Equal(t, 1.0, b.At(0, 1))

			b.Zero()
			assert.Equal(t, 0.0, b.At(0, 0))
			assert.Equal(t, 0.0, b.At(1, 0))
		})
	}
}

func TestNewBadArgs(t *testing.T) {
	require.Panics(t, func() { New(dtypes.Float32, 0, 2) })
	require.Panics(t, func() { New(dtypes.Float32, 2, 0) })
	require.Panics(t, func() { New(dtypes.Int32, 2, 2) })
}

func TestFlat(t *testing.T) {
	b := New(dtypes.Float32, 2, 3)
	flat := Flat[float32](b)
	require.Len(t, flat, 6)
	flat[5] = 7
	assert.Equal(t, 7.0, b.At(1, 2))

	// Wrong generics type for the buffer's dtype.
	require.Panics(t, func() { Flat[float64](b) })

	require.Panics(t, func() { b.At(2, 0) })
	require.Panics(t, func() { b.At(0, 3) })
	require.Panics(t, func() { b.Set(-1, 0, 1) })
}

func TestAssertValid(t *testing.T) {
	var nilBuffer *Buffer
	require.Panics(t, func() { nilBuffer.AssertValid() })
	require.Panics(t, func() { (&Buffer{}).AssertValid() })
	require.NotPanics(t, func() { New(dtypes.Float32, 1, 1).AssertValid() })
}

func TestScatterWrite(t *testing.T) {
	dst := New(dtypes.Float64, 5, 2)
	dst.FillRow(3, 9) // Should be overwritten.
	src := New(dtypes.Float64, 3, 2)
	src.Set(0, 0, 1)
	src.Set(0, 1, 2)
	src.Set(1, 0, 3)
	src.Set(1, 1, 4)

	ScatterWrite(dst, src, []int32{3, 1})
	assert.Equal(t, 1.0, dst.At(3, 0))
	assert.Equal(t, 2.0, dst.At(3, 1))
	assert.Equal(t, 3.0, dst.At(1, 0))
	assert.Equal(t, 4.0, dst.At(1, 1))
	// Untouched rows.
	assert.Equal(t, 0.0, dst.At(0, 0))
	assert.Equal(t, 0.0, dst.At(2, 0))
	assert.Equal(t, 0.0, dst.At(4, 1))
}

func TestScatterAdd(t *testing.T) {
	for _, dtype := range []dtypes.DType{dtypes.Float16, dtypes.Float32, dtypes.Float64} {
		t.Run(dtype.String(), func(t *testing.T) {
			dst := New(dtype, 4, 2)
			dst.Set(2, 0, 10)
			dst.Set(2, 1, 20)
			src := New(dtype, 2, 2)
			src.Set(0, 0, 1)
			src.Set(0, 1, 2)
			src.Set(1, 0, 3)

			ScatterAdd(dst, src, []int32{2, 0})
			assert.Equal(t, 11.0, dst.At(2, 0))
			assert.Equal(t, 22.0, dst.At(2, 1))
			assert.Equal(t, 3.0, dst.At(0, 0))
			assert.Equal(t, 0.0, dst.At(0, 1))
			assert.Equal(t, 0.0, dst.At(1, 0))
			assert.Equal(t, 0.0, dst.At(3, 1))
		})
	}
}

func TestScatterBadArgs(t *testing.T) {
	dst64 := New(dtypes.Float64, 4, 2)
	src64 := New(dtypes.Float64, 2, 2)
	src32 := New(dtypes.Float32, 2, 2)
	srcWideBatch := New(dtypes.Float64, 2, 3)

	require.Panics(t, func() { ScatterWrite(dst64, src32, []int32{0, 1}) })
	require.Panics(t, func() { ScatterWrite(dst64, srcWideBatch, []int32{0, 1}) })
	require.Panics(t, func() { ScatterWrite(dst64, src64, []int32{0, 1, 2}) })
	require.Panics(t, func() { ScatterWrite(dst64, src64, []int32{0, 4}) })
	require.Panics(t, func() { ScatterAdd(dst64, src64, []int32{-1}) })
}
