package search

import (
	"sort"

	"gonum.org/v1/gonum/floats"

	"github.com/notargets/pdcontact/comm"
	"github.com/notargets/pdcontact/dmap"
)

// RCB is a recursive coordinate bisection partitioner. Every rank gathers
// the full cloud and computes the identical deterministic cut sequence, so
// the assignment agrees across ranks without further communication: splits
// always pick the longest bounding-box axis, orderings tie-break on global
// ID, and weights are the point volumes.
type RCB struct{}

// Partition implements Partitioner. Collective.
func (RCB) Partition(c *comm.Comm, d Decomposition) (Decomposition, error) {
	cloud, err := Gather(c, d)
	if err != nil {
		return Decomposition{}, err
	}

	assign := make([]int, cloud.NumPoints())
	idx := make([]int, cloud.NumPoints())
	for i := range idx {
		idx[i] = i
	}
	bisect(cloud, idx, 0, c.Size(), assign)

	var mine []int
	for i, part := range assign {
		if part == c.Rank() {
			mine = append(mine, i)
		}
	}
	sortByGID(cloud, mine)

	out := Decomposition{
		GIDs:    make([]dmap.GlobalID, 0, len(mine)),
		Coords:  make([]float64, 0, 3*len(mine)),
		Volumes: make([]float64, 0, len(mine)),
	}
	for _, i := range mine {
		out.GIDs = append(out.GIDs, cloud.GIDs[i])
		out.Coords = append(out.Coords, cloud.Coords[3*i:3*i+3]...)
		out.Volumes = append(out.Volumes, cloud.Volumes[i])
	}
	return out, nil
}

// bisect assigns parts [firstPart, firstPart+nparts) to the points in idx.
func bisect(cloud Decomposition, idx []int, firstPart, nparts int, assign []int) {
	if nparts == 1 {
		for _, i := range idx {
			assign[i] = firstPart
		}
		return
	}
	if len(idx) == 0 {
		return
	}

	axis := longestAxis(cloud, idx)
	sort.Slice(idx, func(a, b int) bool {
		ca := cloud.Coords[3*idx[a]+axis]
		cb := cloud.Coords[3*idx[b]+axis]
		if ca != cb {
			return ca < cb
		}
		return cloud.GIDs[idx[a]] < cloud.GIDs[idx[b]]
	})

	kLeft := nparts / 2
	split := weightSplit(cloud, idx, float64(kLeft)/float64(nparts))

	bisect(cloud, idx[:split], firstPart, kLeft, assign)
	bisect(cloud, idx[split:], firstPart+kLeft, nparts-kLeft, assign)
}

// longestAxis returns the coordinate axis with the largest bounding-box
// extent over the selected points.
func longestAxis(cloud Decomposition, idx []int) int {
	var lo, hi [3]float64
	for ax := 0; ax < 3; ax++ {
		vals := make([]float64, len(idx))
		for i, p := range idx {
			vals[i] = cloud.Coords[3*p+ax]
		}
		lo[ax] = floats.Min(vals)
		hi[ax] = floats.Max(vals)
	}
	axis := 0
	for ax := 1; ax < 3; ax++ {
		if hi[ax]-lo[ax] > hi[axis]-lo[axis] {
			axis = ax
		}
	}
	return axis
}

// weightSplit finds the index splitting the sorted points so that the left
// side carries approximately frac of the total weight. Both sides are kept
// non-empty whenever there are at least two points.
func weightSplit(cloud Decomposition, idx []int, frac float64) int {
	total := 0.0
	for _, p := range idx {
		total += cloud.Volumes[p]
	}
	if total <= 0 {
		// Degenerate weights: split by count.
		split := int(frac * float64(len(idx)))
		return clampSplit(split, len(idx))
	}
	target := frac * total
	cum := 0.0
	split := 0
	for split < len(idx) {
		next := cum + cloud.Volumes[idx[split]]
		if next > target {
			// Take the point into the left half only if that lands closer
			// to the target weight.
			if next-target < target-cum {
				split++
			}
			break
		}
		cum = next
		split++
	}
	return clampSplit(split, len(idx))
}

func clampSplit(split, n int) int {
	if n < 2 {
		return n
	}
	if split < 1 {
		return 1
	}
	if split > n-1 {
		return n - 1
	}
	return split
}
