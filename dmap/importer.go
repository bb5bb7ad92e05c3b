package dmap

import (
	"fmt"

	"gonum.org/v1/gonum/floats"

	"github.com/notargets/pdcontact/comm"
)

// CombineMode selects how moved data is combined into the target buffer.
type CombineMode int

const (
	// Overwrite replaces the target element with the source element.
	Overwrite CombineMode = iota
	// Accumulate adds the source element into the target element. There is
	// no zero-fill guarantee: callers must pre-clear the target buffer when
	// a clean accumulation is required.
	Accumulate
)

// Importer is the ghost exchange channel between a source and a destination
// map over the same global ID space. It is built once per map pair
// (collectively) and reused for any number of Move calls between the same
// two decompositions.
//
// The transfer plan covers every global ID present in both maps. IDs
// present only in the destination are left untouched by Move. When several
// ranks hold the same ID on the sending side, their contributions are
// combined in rank order, so results are deterministic.
type Importer struct {
	src, dst *BlockMap
	comm     *comm.Comm

	// sendElems[d] lists source LIDs shipped to rank d, ordered by rank
	// d's destination slots. recvElems[s] lists the destination LIDs
	// filled by rank s's payload, in the same order. The diagonal entries
	// are nil; same-rank transfers use the local pair lists.
	sendElems [][]int
	recvElems [][]int
	localSrc  []int
	localDst  []int
}

// NewImporter builds the transfer plan moving data from src-map layout into
// dst-map layout. Collective: every rank must call it with maps built on
// the same communicator. Element sizes of transferred elements must agree
// between the two maps.
func NewImporter(dst, src *BlockMap) (*Importer, error) {
	if dst.comm != src.comm {
		return nil, fmt.Errorf("dmap: importer maps built on different communicators")
	}
	c := dst.comm
	im := &Importer{
		src:       src,
		dst:       dst,
		comm:      c,
		sendElems: make([][]int, c.Size()),
		recvElems: make([][]int, c.Size()),
	}

	dstAll := comm.Allgather(c, dst.gids)
	srcAll := comm.Allgather(c, src.gids)

	for d := 0; d < c.Size(); d++ {
		if d == c.Rank() {
			for _, gid := range dst.gids {
				if srcLID := src.LID(gid); srcLID != InvalidLID {
					im.localSrc = append(im.localSrc, srcLID)
					im.localDst = append(im.localDst, dst.LID(gid))
				}
			}
			continue
		}
		for _, gid := range dstAll[d] {
			if srcLID := src.LID(gid); srcLID != InvalidLID {
				im.sendElems[d] = append(im.sendElems[d], srcLID)
			}
		}
	}

	for s := 0; s < c.Size(); s++ {
		if s == c.Rank() {
			continue
		}
		held := make(map[GlobalID]struct{}, len(srcAll[s]))
		for _, gid := range srcAll[s] {
			held[gid] = struct{}{}
		}
		for lid, gid := range dst.gids {
			if _, ok := held[gid]; ok {
				im.recvElems[s] = append(im.recvElems[s], lid)
			}
		}
	}

	if err := im.validateElementSizes(); err != nil {
		return nil, err
	}
	return im, nil
}

// validateElementSizes exchanges the source-side element sizes of every
// planned transfer and checks them against the destination map. Collective.
func (im *Importer) validateElementSizes() error {
	c := im.comm
	out := make([][]int, c.Size())
	for d, elems := range im.sendElems {
		sizes := make([]int, len(elems))
		for i, lid := range elems {
			sizes[i] = im.src.ElementSize(lid)
		}
		out[d] = sizes
	}
	in := comm.Exchange(c, out)
	for s := 0; s < c.Size(); s++ {
		if s == c.Rank() {
			continue
		}
		if len(in[s]) != len(im.recvElems[s]) {
			return fmt.Errorf("dmap: importer plan asymmetry between ranks %d and %d: %d sent, %d expected",
				s, c.Rank(), len(in[s]), len(im.recvElems[s]))
		}
		for i, dstLID := range im.recvElems[s] {
			if in[s][i] != im.dst.ElementSize(dstLID) {
				return fmt.Errorf("dmap: element size mismatch for global ID %d: source %d, destination %d",
					im.dst.GID(dstLID), in[s][i], im.dst.ElementSize(dstLID))
			}
		}
	}
	for i, srcLID := range im.localSrc {
		dstLID := im.localDst[i]
		if im.src.ElementSize(srcLID) != im.dst.ElementSize(dstLID) {
			return fmt.Errorf("dmap: element size mismatch for global ID %d: source %d, destination %d",
				im.dst.GID(dstLID), im.src.ElementSize(srcLID), im.dst.ElementSize(dstLID))
		}
	}
	return nil
}

// SourceMap returns the map describing srcBuf's layout.
func (im *Importer) SourceMap() *BlockMap { return im.src }

// TargetMap returns the map describing dstBuf's layout.
func (im *Importer) TargetMap() *BlockMap { return im.dst }

// Move transfers element data from srcBuf (source-map layout) into dstBuf
// (destination-map layout) under the given combine mode. Collective: every
// rank must call it with the same mode.
func (im *Importer) Move(srcBuf, dstBuf []float64, mode CombineMode) error {
	if len(srcBuf) != im.src.NumMyPoints() {
		return fmt.Errorf("dmap: source buffer length %d, map holds %d points",
			len(srcBuf), im.src.NumMyPoints())
	}
	if len(dstBuf) != im.dst.NumMyPoints() {
		return fmt.Errorf("dmap: destination buffer length %d, map holds %d points",
			len(dstBuf), im.dst.NumMyPoints())
	}

	c := im.comm
	out := make([][]float64, c.Size())
	for d, elems := range im.sendElems {
		out[d] = im.pack(im.src, elems, srcBuf)
	}
	in := comm.Exchange(c, out)

	for s := 0; s < c.Size(); s++ {
		if s == c.Rank() {
			for i, srcLID := range im.localSrc {
				seg := srcBuf[im.src.first[srcLID]:im.src.first[srcLID+1]]
				combine(dstBuf, im.dst, im.localDst[i], seg, mode)
			}
			continue
		}
		im.unpack(in[s], im.recvElems[s], dstBuf, mode)
	}
	return nil
}

// MoveReverse runs the transfer plan backwards: data in destination-map
// layout is combined into a source-map layout buffer. Ghosted elements held
// by several destination ranks all contribute, combined in rank order.
// Collective.
func (im *Importer) MoveReverse(dstBuf, srcBuf []float64, mode CombineMode) error {
	if len(dstBuf) != im.dst.NumMyPoints() {
		return fmt.Errorf("dmap: destination buffer length %d, map holds %d points",
			len(dstBuf), im.dst.NumMyPoints())
	}
	if len(srcBuf) != im.src.NumMyPoints() {
		return fmt.Errorf("dmap: source buffer length %d, map holds %d points",
			len(srcBuf), im.src.NumMyPoints())
	}

	c := im.comm
	out := make([][]float64, c.Size())
	for s, elems := range im.recvElems {
		out[s] = im.pack(im.dst, elems, dstBuf)
	}
	in := comm.Exchange(c, out)

	for d := 0; d < c.Size(); d++ {
		if d == c.Rank() {
			for i, dstLID := range im.localDst {
				seg := dstBuf[im.dst.first[dstLID]:im.dst.first[dstLID+1]]
				combine(srcBuf, im.src, im.localSrc[i], seg, mode)
			}
			continue
		}
		im.unpackReverse(in[d], im.sendElems[d], srcBuf, mode)
	}
	return nil
}

func (im *Importer) pack(m *BlockMap, elems []int, buf []float64) []float64 {
	if len(elems) == 0 {
		return nil
	}
	n := 0
	for _, lid := range elems {
		n += m.ElementSize(lid)
	}
	payload := make([]float64, 0, n)
	for _, lid := range elems {
		payload = append(payload, buf[m.first[lid]:m.first[lid+1]]...)
	}
	return payload
}

func (im *Importer) unpack(payload []float64, elems []int, dstBuf []float64, mode CombineMode) {
	pos := 0
	for _, lid := range elems {
		sz := im.dst.ElementSize(lid)
		combine(dstBuf, im.dst, lid, payload[pos:pos+sz], mode)
		pos += sz
	}
}

func (im *Importer) unpackReverse(payload []float64, elems []int, srcBuf []float64, mode CombineMode) {
	pos := 0
	for _, lid := range elems {
		sz := im.src.ElementSize(lid)
		combine(srcBuf, im.src, lid, payload[pos:pos+sz], mode)
		pos += sz
	}
}

func combine(buf []float64, m *BlockMap, lid int, seg []float64, mode CombineMode) {
	target := buf[m.first[lid]:m.first[lid+1]]
	switch mode {
	case Accumulate:
		floats.Add(target, seg)
	default:
		copy(target, seg)
	}
}
