package search

import (
	"sort"

	"gonum.org/v1/gonum/spatial/kdtree"

	"github.com/notargets/pdcontact/comm"
	"github.com/notargets/pdcontact/dmap"
)

// treePoint is a cloud point stored in the kd-tree.
type treePoint struct {
	pos [3]float64
	gid dmap.GlobalID
}

func (p treePoint) Compare(c kdtree.Comparable, d kdtree.Dim) float64 {
	q := c.(treePoint)
	return p.pos[d] - q.pos[d]
}

func (p treePoint) Dims() int { return 3 }

// Distance returns the squared Euclidean distance, matching the kdtree
// package's convention.
func (p treePoint) Distance(c kdtree.Comparable) float64 {
	q := c.(treePoint)
	var s float64
	for i := range p.pos {
		d := p.pos[i] - q.pos[i]
		s += d * d
	}
	return s
}

// treePoints implements kdtree.Interface.
type treePoints []treePoint

func (p treePoints) Index(i int) kdtree.Comparable { return p[i] }
func (p treePoints) Len() int                      { return len(p) }
func (p treePoints) Pivot(d kdtree.Dim) int {
	return plane{treePoints: p, Dim: d}.Pivot()
}
func (p treePoints) Slice(start, end int) kdtree.Interface { return p[start:end] }

// plane is a treePoints ordering over a single dimension.
type plane struct {
	kdtree.Dim
	treePoints
}

func (p plane) Less(i, j int) bool {
	return p.treePoints[i].pos[p.Dim] < p.treePoints[j].pos[p.Dim]
}
func (p plane) Pivot() int { return kdtree.Partition(p, kdtree.MedianOfMedians(p)) }
func (p plane) Slice(start, end int) kdtree.SortSlicer {
	p.treePoints = p.treePoints[start:end]
	return p
}
func (p plane) Swap(i, j int) {
	p.treePoints[i], p.treePoints[j] = p.treePoints[j], p.treePoints[i]
}

// Index answers fixed-radius range queries over the global point cloud of a
// decomposition. Every rank holds an identical tree, so queries are purely
// local and rank-order independent.
type Index struct {
	tree *kdtree.Tree
}

// BuildIndex gathers the decomposition across all ranks and builds the
// spatial index over the global cloud. Collective.
func BuildIndex(c *comm.Comm, d Decomposition) (*Index, error) {
	cloud, err := Gather(c, d)
	if err != nil {
		return nil, err
	}
	if cloud.NumPoints() == 0 {
		return &Index{}, nil
	}
	pts := make(treePoints, cloud.NumPoints())
	for i := range pts {
		pts[i] = treePoint{
			pos: [3]float64{cloud.Coords[3*i], cloud.Coords[3*i+1], cloud.Coords[3*i+2]},
			gid: cloud.GIDs[i],
		}
	}
	return &Index{tree: kdtree.New(pts, false)}, nil
}

// RangeQuery returns the global IDs of all points within radius of p,
// sorted ascending. The query position's own point, if indexed, is
// included; callers exclude it by ID.
func (ix *Index) RangeQuery(p [3]float64, radius float64) []dmap.GlobalID {
	if ix.tree == nil {
		return nil
	}
	keeper := kdtree.NewDistKeeper(radius * radius)
	ix.tree.NearestSet(keeper, treePoint{pos: p})
	var out []dmap.GlobalID
	for _, cd := range keeper.Heap {
		if cd.Comparable == nil {
			continue
		}
		out = append(out, cd.Comparable.(treePoint).gid)
	}
	sort.Slice(out, func(a, b int) bool { return out[a] < out[b] })
	return out
}
