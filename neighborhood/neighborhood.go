// Package neighborhood implements the compact neighbor table shared by the
// bond and contact pipelines: for every owned point, its neighbor count
// followed by that many local slot indices into the associated overlap map.
//
// Tables are built through a Builder that allocates the exact encoding size
// up front and bounds-checks every write, so a malformed construction fails
// instead of corrupting adjacent entries.
package neighborhood

import "fmt"

// Data is an immutable neighbor table. The flat list encodes
// [count_0, n_0_1, ..., n_0_count0, count_1, ...] where each n is a local
// slot index into the overlap map the table was built against.
type Data struct {
	ownedIDs []int32 // overlap slot of each owned point
	ptr      []int32 // offset of each owned point's entry in list
	list     []int32
}

// NumOwnedPoints returns the number of owned points the table covers.
func (d *Data) NumOwnedPoints() int { return len(d.ownedIDs) }

// OwnedIDs returns the overlap slot of every owned point, in owned order.
// The returned slice is owned by the table and must not be modified.
func (d *Data) OwnedIDs() []int32 { return d.ownedIDs }

// NeighborhoodList returns the flat count-prefixed encoding. The returned
// slice is owned by the table and must not be modified.
func (d *Data) NeighborhoodList() []int32 { return d.list }

// NeighborhoodPtr returns, for each owned point, the offset of its entry
// in the flat list.
func (d *Data) NeighborhoodPtr() []int32 { return d.ptr }

// NumNeighbors returns the neighbor count of owned point i.
func (d *Data) NumNeighbors(i int) int { return int(d.list[d.ptr[i]]) }

// Neighbors returns the neighbor slots of owned point i as a view into the
// flat list.
func (d *Data) Neighbors(i int) []int32 {
	p := d.ptr[i]
	n := d.list[p]
	return d.list[p+1 : p+1+n]
}

// Copy returns a deep copy of the table.
func (d *Data) Copy() *Data {
	cp := &Data{
		ownedIDs: make([]int32, len(d.ownedIDs)),
		ptr:      make([]int32, len(d.ptr)),
		list:     make([]int32, len(d.list)),
	}
	copy(cp.ownedIDs, d.ownedIDs)
	copy(cp.ptr, d.ptr)
	copy(cp.list, d.list)
	return cp
}

// Builder assembles a Data of exactly numOwned points and listSize encoded
// entries. Points must be appended in owned order; Finish fails unless the
// arena is filled exactly.
type Builder struct {
	ownedIDs []int32
	ptr      []int32
	list     []int32
	next     int
	cursor   int
}

// NewBuilder allocates the arena for a table covering numOwned points with
// a flat encoding of listSize entries (counts plus neighbor slots).
func NewBuilder(numOwned, listSize int) *Builder {
	return &Builder{
		ownedIDs: make([]int32, numOwned),
		ptr:      make([]int32, numOwned),
		list:     make([]int32, listSize),
	}
}

// AppendPoint records the next owned point: its overlap slot and the
// overlap slots of its neighbors. A zero-length neighbor list is valid and
// encodes as a single zero count.
func (b *Builder) AppendPoint(ownedSlot int32, neighborSlots []int32) error {
	if b.next >= len(b.ownedIDs) {
		return fmt.Errorf("neighborhood: point %d exceeds table capacity %d", b.next, len(b.ownedIDs))
	}
	if ownedSlot < 0 {
		return fmt.Errorf("neighborhood: point %d has unresolved owned slot", b.next)
	}
	need := 1 + len(neighborSlots)
	if b.cursor+need > len(b.list) {
		return fmt.Errorf("neighborhood: point %d overflows list arena: need %d of %d remaining",
			b.next, need, len(b.list)-b.cursor)
	}
	for _, slot := range neighborSlots {
		if slot < 0 {
			return fmt.Errorf("neighborhood: point %d references unresolved neighbor slot", b.next)
		}
	}
	b.ownedIDs[b.next] = ownedSlot
	b.ptr[b.next] = int32(b.cursor)
	b.list[b.cursor] = int32(len(neighborSlots))
	copy(b.list[b.cursor+1:], neighborSlots)
	b.cursor += need
	b.next++
	return nil
}

// Finish validates that the arena was filled exactly and returns the table.
func (b *Builder) Finish() (*Data, error) {
	if b.next != len(b.ownedIDs) {
		return nil, fmt.Errorf("neighborhood: %d points appended, table sized for %d",
			b.next, len(b.ownedIDs))
	}
	if b.cursor != len(b.list) {
		return nil, fmt.Errorf("neighborhood: list arena has %d unused entries",
			len(b.list)-b.cursor)
	}
	return &Data{ownedIDs: b.ownedIDs, ptr: b.ptr, list: b.list}, nil
}
