// Package dmap implements distributed index maps and the ghost exchange
// channel used to move per-point field data between decompositions.
//
// A BlockMap assigns the global point IDs held by a rank to contiguous
// local slots; an Importer moves element data between two maps that may
// decompose the same global ID space differently.
package dmap

import (
	"fmt"

	"github.com/notargets/pdcontact/comm"
)

// GlobalID is the process-lifetime-stable identity of a simulation point.
// It is independent of rank and local storage slot and is never reused.
type GlobalID int64

// InvalidLID is the not-present sentinel returned by LID for global IDs
// outside a map. Callers must check for it before dereferencing.
const InvalidLID = -1

// BlockMap is an immutable, ordered set of global IDs held by this rank,
// with a bijection to local slots [0, NumMyElements). Each element carries
// a fixed number of data points (uniform maps) or its own size (variable
// maps, used for bond data). Construction is collective.
type BlockMap struct {
	comm      *comm.Comm
	gids      []GlobalID
	lids      map[GlobalID]int
	elemSize  int   // uniform element size; 0 when variable
	sizes     []int // per-element sizes when variable, else nil
	first     []int // prefix offsets into point layout, len NumMyElements+1
	numGlobal int
}

// NewBlockMap constructs a map in which every element carries elementSize
// data points. Collective: every rank must call it.
func NewBlockMap(c *comm.Comm, gids []GlobalID, elementSize int) (*BlockMap, error) {
	if elementSize < 1 {
		return nil, fmt.Errorf("dmap: element size %d, must be at least 1", elementSize)
	}
	m := &BlockMap{comm: c, elemSize: elementSize}
	if err := m.index(gids); err != nil {
		return nil, err
	}
	m.first = make([]int, len(gids)+1)
	for i := range gids {
		m.first[i+1] = m.first[i] + elementSize
	}
	m.numGlobal = comm.AllreduceSum(c, len(gids))
	return m, nil
}

// NewVariableBlockMap constructs a map with a per-element size. Zero-length
// elements are structurally disallowed: every size must be at least 1.
// Collective: every rank must call it.
func NewVariableBlockMap(c *comm.Comm, gids []GlobalID, sizes []int) (*BlockMap, error) {
	if len(sizes) != len(gids) {
		return nil, fmt.Errorf("dmap: %d element sizes for %d global IDs", len(sizes), len(gids))
	}
	m := &BlockMap{comm: c}
	if err := m.index(gids); err != nil {
		return nil, err
	}
	m.sizes = make([]int, len(sizes))
	copy(m.sizes, sizes)
	m.first = make([]int, len(gids)+1)
	for i, sz := range sizes {
		if sz < 1 {
			return nil, fmt.Errorf("dmap: global ID %d has element size %d, must be at least 1",
				gids[i], sz)
		}
		m.first[i+1] = m.first[i] + sz
	}
	m.numGlobal = comm.AllreduceSum(c, len(gids))
	return m, nil
}

func (m *BlockMap) index(gids []GlobalID) error {
	m.gids = make([]GlobalID, len(gids))
	copy(m.gids, gids)
	m.lids = make(map[GlobalID]int, len(gids))
	for i, gid := range gids {
		if _, dup := m.lids[gid]; dup {
			return fmt.Errorf("dmap: duplicate global ID %d on rank %d", gid, m.comm.Rank())
		}
		m.lids[gid] = i
	}
	return nil
}

// Comm returns the communicator the map was built on.
func (m *BlockMap) Comm() *comm.Comm { return m.comm }

// NumMyElements returns the number of elements held by this rank.
func (m *BlockMap) NumMyElements() int { return len(m.gids) }

// NumMyPoints returns the total number of data points across this rank's
// elements (the required buffer length for this map's layout).
func (m *BlockMap) NumMyPoints() int { return m.first[len(m.gids)] }

// NumGlobalElements returns the element count summed over all ranks.
func (m *BlockMap) NumGlobalElements() int { return m.numGlobal }

// GID returns the global ID stored at local slot lid. lid must be in
// [0, NumMyElements).
func (m *BlockMap) GID(lid int) GlobalID { return m.gids[lid] }

// LID returns the local slot of gid, or InvalidLID if this rank does not
// hold it.
func (m *BlockMap) LID(gid GlobalID) int {
	lid, ok := m.lids[gid]
	if !ok {
		return InvalidLID
	}
	return lid
}

// MyGID reports whether this rank holds gid.
func (m *BlockMap) MyGID(gid GlobalID) bool {
	_, ok := m.lids[gid]
	return ok
}

// ElementSize returns the number of data points carried by element lid.
func (m *BlockMap) ElementSize(lid int) int {
	if m.sizes != nil {
		return m.sizes[lid]
	}
	return m.elemSize
}

// FirstPointInElement returns the offset of element lid's first data point
// in this map's buffer layout.
func (m *BlockMap) FirstPointInElement(lid int) int { return m.first[lid] }

// MyGlobalElements returns this rank's global IDs in slot order. The
// returned slice is owned by the map and must not be modified.
func (m *BlockMap) MyGlobalElements() []GlobalID { return m.gids }
