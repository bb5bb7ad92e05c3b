package neighborhood

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildAndRead(t *testing.T) {
	// Three owned points: 2 neighbors, none, 1 neighbor.
	b := NewBuilder(3, 3+3)
	require.NoError(t, b.AppendPoint(0, []int32{3, 4}))
	require.NoError(t, b.AppendPoint(1, nil))
	require.NoError(t, b.AppendPoint(2, []int32{4}))
	d, err := b.Finish()
	require.NoError(t, err)

	assert.Equal(t, 3, d.NumOwnedPoints())
	assert.Equal(t, []int32{0, 1, 2}, d.OwnedIDs())
	assert.Equal(t, []int32{2, 3, 4, 0, 1, 4}, d.NeighborhoodList())
	assert.Equal(t, []int32{0, 3, 4}, d.NeighborhoodPtr())

	assert.Equal(t, 2, d.NumNeighbors(0))
	assert.Equal(t, []int32{3, 4}, d.Neighbors(0))
	assert.Equal(t, 0, d.NumNeighbors(1))
	assert.Empty(t, d.Neighbors(1))
	assert.Equal(t, []int32{4}, d.Neighbors(2))
}

func TestBuilderRejectsOverflow(t *testing.T) {
	b := NewBuilder(1, 2)
	err := b.AppendPoint(0, []int32{1, 2})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "overflows")
}

func TestBuilderRejectsExtraPoints(t *testing.T) {
	b := NewBuilder(1, 1)
	require.NoError(t, b.AppendPoint(0, nil))
	err := b.AppendPoint(1, nil)
	require.Error(t, err)
}

func TestBuilderRejectsUnresolvedSlots(t *testing.T) {
	b := NewBuilder(1, 2)
	require.Error(t, b.AppendPoint(-1, nil))
	require.Error(t, b.AppendPoint(0, []int32{-1}))
}

func TestFinishRejectsUnderfilledArena(t *testing.T) {
	b := NewBuilder(2, 4)
	require.NoError(t, b.AppendPoint(0, []int32{1}))
	_, err := b.Finish()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "points appended, table sized for")

	require.NoError(t, b.AppendPoint(1, nil))
	_, err = b.Finish()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unused entries")
}

func TestCopyIsDeep(t *testing.T) {
	b := NewBuilder(1, 2)
	require.NoError(t, b.AppendPoint(0, []int32{1}))
	d, err := b.Finish()
	require.NoError(t, err)

	cp := d.Copy()
	cp.NeighborhoodList()[1] = 99
	assert.Equal(t, int32(1), d.NeighborhoodList()[1])
}
