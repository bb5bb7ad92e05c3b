package search

import (
	"math"
	"math/rand"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/notargets/pdcontact/comm"
	"github.com/notargets/pdcontact/dmap"
)

func TestRangeQueryMatchesBruteForce(t *testing.T) {
	g := comm.NewGroup(2)
	err := g.Run(func(c *comm.Comm) error {
		rng := rand.New(rand.NewSource(int64(7 + c.Rank())))
		d := clusterDecomp(c.Rank(), 30, rng)
		ix, err := BuildIndex(c, d)
		require.NoError(t, err)

		cloud, err := Gather(c, d)
		require.NoError(t, err)

		const radius = 2.5
		for q := 0; q < cloud.NumPoints(); q++ {
			p := [3]float64{cloud.Coords[3*q], cloud.Coords[3*q+1], cloud.Coords[3*q+2]}
			got := ix.RangeQuery(p, radius)

			var want []dmap.GlobalID
			for i := 0; i < cloud.NumPoints(); i++ {
				dx := cloud.Coords[3*i] - p[0]
				dy := cloud.Coords[3*i+1] - p[1]
				dz := cloud.Coords[3*i+2] - p[2]
				if math.Sqrt(dx*dx+dy*dy+dz*dz) <= radius {
					want = append(want, cloud.GIDs[i])
				}
			}
			sort.Slice(want, func(a, b int) bool { return want[a] < want[b] })
			assert.Equal(t, want, got, "query point %d", q)
		}
		return nil
	})
	require.NoError(t, err)
}

func TestRangeQueryIncludesSelf(t *testing.T) {
	g := comm.NewGroup(1)
	err := g.Run(func(c *comm.Comm) error {
		d := Decomposition{
			GIDs:    []dmap.GlobalID{5, 6},
			Coords:  []float64{0, 0, 0, 10, 0, 0},
			Volumes: []float64{1, 1},
		}
		ix, err := BuildIndex(c, d)
		require.NoError(t, err)

		got := ix.RangeQuery([3]float64{0, 0, 0}, 1)
		assert.Equal(t, []dmap.GlobalID{5}, got)
		return nil
	})
	require.NoError(t, err)
}

func TestRangeQueryResultsAreSorted(t *testing.T) {
	g := comm.NewGroup(1)
	err := g.Run(func(c *comm.Comm) error {
		// IDs deliberately out of spatial order.
		d := Decomposition{
			GIDs:    []dmap.GlobalID{9, 2, 7, 4},
			Coords:  []float64{0, 0, 0, 0.1, 0, 0, 0.2, 0, 0, 0.3, 0, 0},
			Volumes: []float64{1, 1, 1, 1},
		}
		ix, err := BuildIndex(c, d)
		require.NoError(t, err)

		got := ix.RangeQuery([3]float64{0, 0, 0}, 1)
		assert.Equal(t, []dmap.GlobalID{2, 4, 7, 9}, got)
		return nil
	})
	require.NoError(t, err)
}

func TestEmptyCloudIndex(t *testing.T) {
	g := comm.NewGroup(2)
	err := g.Run(func(c *comm.Comm) error {
		ix, err := BuildIndex(c, Decomposition{})
		require.NoError(t, err)
		assert.Empty(t, ix.RangeQuery([3]float64{0, 0, 0}, 100))
		return nil
	})
	require.NoError(t, err)
}

func TestIndexSeesRemotePoints(t *testing.T) {
	g := comm.NewGroup(2)
	err := g.Run(func(c *comm.Comm) error {
		// Each rank owns one point; both must find the other's.
		d := Decomposition{
			GIDs:    []dmap.GlobalID{dmap.GlobalID(c.Rank() + 1)},
			Coords:  []float64{float64(c.Rank()), 0, 0},
			Volumes: []float64{1},
		}
		ix, err := BuildIndex(c, d)
		require.NoError(t, err)

		got := ix.RangeQuery([3]float64{0.5, 0, 0}, 1)
		assert.Equal(t, []dmap.GlobalID{1, 2}, got)
		return nil
	})
	require.NoError(t, err)
}
