package ids

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSpace(t *testing.T) {
	s := NewSpace()
	require.Equal(t, 1, s.NumIDs()) // Only the dummy id.

	r1 := s.AllocateRange(3)
	assert.Equal(t, int32(1), r1.First)
	assert.Equal(t, int32(3), r1.Last())
	assert.Equal(t, 3, r1.N)

	r2 := s.AllocateRange(5)
	assert.Equal(t, int32(4), r2.First)
	assert.Equal(t, int32(8), r2.Last())
	require.Equal(t, 9, s.NumIDs())

	assert.True(t, r2.Contains(4))
	assert.True(t, r2.Contains(8))
	assert.False(t, r2.Contains(3))
	assert.False(t, r2.Contains(9))
	assert.False(t, r2.Contains(DummyID))

	require.Panics(t, func() { s.AllocateRange(0) })
	require.Panics(t, func() { s.AllocateRange(-1) })

	s.Freeze()
	assert.True(t, s.IsFrozen())
	require.Panics(t, func() { s.AllocateRange(1) })
	assert.Equal(t, 9, s.NumIDs())
}

func TestRangeValidity(t *testing.T) {
	var unassigned Range
	assert.False(t, unassigned.IsValid())
	assert.Equal(t, "Range(unassigned)", unassigned.String())

	s := NewSpace()
	r := s.AllocateRange(2)
	assert.True(t, r.IsValid())
	assert.Equal(t, "[1, 2]", r.String())
}
