// Package search provides the spatial side of the rebalance pipeline: the
// point decomposition value handed to the partitioner, a deterministic
// recursive coordinate bisection partitioner, and a kd-tree index answering
// fixed-radius range queries over the gathered global point cloud.
package search

import (
	"fmt"
	"sort"

	"github.com/notargets/pdcontact/comm"
	"github.com/notargets/pdcontact/dmap"
)

// Decomposition is one rank's view of the point cloud: global IDs, packed
// 3-component coordinates, and per-point volumes used as partitioning
// weights.
type Decomposition struct {
	GIDs    []dmap.GlobalID
	Coords  []float64 // packed xyz, length 3*len(GIDs)
	Volumes []float64 // length len(GIDs)
}

// NumPoints returns the number of points in the decomposition.
func (d Decomposition) NumPoints() int { return len(d.GIDs) }

// Validate checks the packed-array lengths against the ID count.
func (d Decomposition) Validate() error {
	if len(d.Coords) != 3*len(d.GIDs) {
		return fmt.Errorf("search: %d coordinate values for %d points", len(d.Coords), len(d.GIDs))
	}
	if len(d.Volumes) != len(d.GIDs) {
		return fmt.Errorf("search: %d volume values for %d points", len(d.Volumes), len(d.GIDs))
	}
	return nil
}

// Gather concatenates every rank's decomposition in rank order, giving each
// rank an identical copy of the global cloud. Collective.
func Gather(c *comm.Comm, d Decomposition) (Decomposition, error) {
	if err := d.Validate(); err != nil {
		return Decomposition{}, err
	}
	gidParts := comm.Allgather(c, d.GIDs)
	coordParts := comm.Allgather(c, d.Coords)
	volParts := comm.Allgather(c, d.Volumes)

	var g Decomposition
	for r := 0; r < c.Size(); r++ {
		g.GIDs = append(g.GIDs, gidParts[r]...)
		g.Coords = append(g.Coords, coordParts[r]...)
		g.Volumes = append(g.Volumes, volParts[r]...)
	}
	return g, nil
}

// Partitioner produces a load-balanced ownership assignment from current
// point positions and weights. Partition is collective: every rank passes
// its owned points and receives its new owned decomposition.
type Partitioner interface {
	Partition(c *comm.Comm, d Decomposition) (Decomposition, error)
}

// Stats summarizes the point balance across ranks. Collective constructor.
type Stats struct {
	MinPoints int
	MaxPoints int
	AvgPoints float64
	Imbalance float64 // MaxPoints / AvgPoints
}

// PartitionStats gathers per-rank point counts and computes balance
// metrics. Collective.
func PartitionStats(c *comm.Comm, numOwned int) Stats {
	counts := comm.Allgather(c, []int{numOwned})
	s := Stats{MinPoints: counts[0][0]}
	total := 0
	for _, p := range counts {
		n := p[0]
		total += n
		if n < s.MinPoints {
			s.MinPoints = n
		}
		if n > s.MaxPoints {
			s.MaxPoints = n
		}
	}
	s.AvgPoints = float64(total) / float64(c.Size())
	if s.AvgPoints > 0 {
		s.Imbalance = float64(s.MaxPoints) / s.AvgPoints
	}
	return s
}

// sortByGID orders a point index permutation by global ID.
func sortByGID(d Decomposition, idx []int) {
	sort.Slice(idx, func(a, b int) bool { return d.GIDs[idx[a]] < d.GIDs[idx[b]] })
}
