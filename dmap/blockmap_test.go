package dmap

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/notargets/pdcontact/comm"
)

func TestBlockMapLookup(t *testing.T) {
	g := comm.NewGroup(2)
	err := g.Run(func(c *comm.Comm) error {
		gids := [][]GlobalID{{10, 20, 30}, {40, 50}}[c.Rank()]
		m, err := NewBlockMap(c, gids, 3)
		require.NoError(t, err)

		assert.Equal(t, len(gids), m.NumMyElements())
		assert.Equal(t, 3*len(gids), m.NumMyPoints())
		assert.Equal(t, 5, m.NumGlobalElements())
		for lid, gid := range gids {
			assert.Equal(t, lid, m.LID(gid))
			assert.Equal(t, gid, m.GID(lid))
			assert.Equal(t, 3, m.ElementSize(lid))
			assert.Equal(t, 3*lid, m.FirstPointInElement(lid))
		}
		assert.Equal(t, InvalidLID, m.LID(999))
		assert.False(t, m.MyGID(999))
		return nil
	})
	require.NoError(t, err)
}

func TestVariableBlockMapOffsets(t *testing.T) {
	g := comm.NewGroup(1)
	err := g.Run(func(c *comm.Comm) error {
		m, err := NewVariableBlockMap(c, []GlobalID{7, 8, 9}, []int{2, 1, 4})
		require.NoError(t, err)
		assert.Equal(t, 7, m.NumMyPoints())
		assert.Equal(t, 0, m.FirstPointInElement(0))
		assert.Equal(t, 2, m.FirstPointInElement(1))
		assert.Equal(t, 3, m.FirstPointInElement(2))
		assert.Equal(t, 4, m.ElementSize(2))
		return nil
	})
	require.NoError(t, err)
}

func TestVariableBlockMapRejectsZeroSize(t *testing.T) {
	g := comm.NewGroup(1)
	err := g.Run(func(c *comm.Comm) error {
		_, err := NewVariableBlockMap(c, []GlobalID{1, 2}, []int{3, 0})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "global ID 2")
		return nil
	})
	require.NoError(t, err)
}

func TestBlockMapRejectsDuplicateGID(t *testing.T) {
	g := comm.NewGroup(1)
	err := g.Run(func(c *comm.Comm) error {
		_, err := NewBlockMap(c, []GlobalID{5, 5}, 1)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "duplicate global ID 5")
		return nil
	})
	require.NoError(t, err)
}

func TestBlockMapRejectsBadElementSize(t *testing.T) {
	g := comm.NewGroup(1)
	err := g.Run(func(c *comm.Comm) error {
		_, err := NewBlockMap(c, []GlobalID{1}, 0)
		require.Error(t, err)
		return nil
	})
	require.NoError(t, err)
}

func TestEmptyRankMap(t *testing.T) {
	g := comm.NewGroup(2)
	err := g.Run(func(c *comm.Comm) error {
		var gids []GlobalID
		if c.Rank() == 0 {
			gids = []GlobalID{1, 2, 3}
		}
		m, err := NewBlockMap(c, gids, 1)
		require.NoError(t, err)
		assert.Equal(t, 3, m.NumGlobalElements())
		if c.Rank() == 1 {
			assert.Equal(t, 0, m.NumMyElements())
			assert.Equal(t, 0, m.NumMyPoints())
		}
		return nil
	})
	require.NoError(t, err)
}
