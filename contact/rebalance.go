package contact

import (
	"fmt"

	"github.com/RoaringBitmap/roaring/v2/roaring64"

	"github.com/notargets/pdcontact/dmap"
	"github.com/notargets/pdcontact/neighborhood"
	"github.com/notargets/pdcontact/search"
)

// Rebalance re-partitions the contact decomposition and rebuilds every
// derived structure. It is a no-op unless step is a multiple of the
// configured search frequency; the cadence decision depends only on the
// step counter, which is identical on all ranks, so every rank takes the
// same branch. Collective when not a no-op.
//
// The cycle runs Partitioning, GhostDiscovery, TopologyRebuild,
// ContactSearch, OverlapConstruction, and DataMigration strictly in
// sequence. All replacement state is built into locals first; on any
// error the previous decomposition's structures remain published. Such an
// error indicates a partitioner or migration inconsistency and the whole
// distributed run must be treated as failed.
func (m *Manager) Rebalance(step int) error {
	if !m.initialized {
		return fmt.Errorf("contact: Rebalance called before Initialize")
	}
	if step%m.cfg.SearchFrequency != 0 {
		return nil
	}

	// Partitioning: new ownership from current positions and volumes.
	current := search.Decomposition{
		GIDs:    m.oneDim.MyGlobalElements(),
		Coords:  m.y,
		Volumes: m.volume,
	}
	newDecomp, err := m.part.Partition(m.comm, current)
	if err != nil {
		return fmt.Errorf("contact: partitioning: %w", err)
	}

	newOneDim, err := dmap.NewBlockMap(m.comm, newDecomp.GIDs, 1)
	if err != nil {
		return err
	}
	newThreeDim, err := dmap.NewBlockMap(m.comm, newDecomp.GIDs, 3)
	if err != nil {
		return err
	}
	imp1D, err := dmap.NewImporter(newOneDim, m.oneDim)
	if err != nil {
		return err
	}
	imp3D, err := dmap.NewImporter(newThreeDim, m.threeDim)
	if err != nil {
		return err
	}

	// GhostDiscovery: migrate the bond topology and collect the off-rank
	// bonded neighbors that must be ghosted.
	newBond, droppedBondPoints, err := m.rebalancedBondMap(newOneDim, imp1D)
	if err != nil {
		return err
	}
	bondImp, err := dmap.NewImporter(newBond, m.bond)
	if err != nil {
		return err
	}
	neighborGIDs, err := m.rebalancedNeighborGIDs(newBond, bondImp)
	if err != nil {
		return err
	}
	ghostSet := roaring64.New()
	for _, gid := range neighborGIDs {
		if newOneDim.LID(gid) == dmap.InvalidLID {
			ghostSet.Add(uint64(gid))
		}
	}

	// TopologyRebuild: validate the migrated bond topology against the
	// bond-only overlap map. Slots assigned here may shift once the
	// contact ghosts join the overlap map, so this table is discarded and
	// rebuilt after OverlapConstruction; the validation must happen before
	// the contact search consumes the bond map.
	partialOverlap, err := m.overlapMap(newOneDim, ghostSet, 1)
	if err != nil {
		return err
	}
	if _, err := buildBondTable(newOneDim, partialOverlap, newBond, neighborGIDs); err != nil {
		return err
	}

	// ContactSearch: proximity pairs against the new positions, excluding
	// bonded pairs.
	index, err := search.BuildIndex(m.comm, newDecomp)
	if err != nil {
		return err
	}
	contactNbrs, contactGhosts := m.contactSearch(newOneDim, newBond, neighborGIDs, newDecomp, index)
	ghostSet.Or(contactGhosts)

	// OverlapConstruction: final owned+ghost maps and both neighbor
	// tables, with bond slots re-resolved against the final overlap map.
	newOneDimOverlap, err := m.overlapMap(newOneDim, ghostSet, 1)
	if err != nil {
		return err
	}
	newThreeDimOverlap, err := m.overlapMap(newOneDim, ghostSet, 3)
	if err != nil {
		return err
	}
	newBondData, err := buildBondTable(newOneDim, newOneDimOverlap, newBond, neighborGIDs)
	if err != nil {
		return err
	}
	newContactData, err := buildContactTable(newOneDim, newOneDimOverlap, contactNbrs)
	if err != nil {
		return err
	}

	// DataMigration: move all persistent fields into the new ownership,
	// rebuild the ghost channels, refresh overlap fields, and rebind the
	// blocks. Transient buffers start zeroed.
	newBlockIDs := make([]float64, newOneDim.NumMyPoints())
	newVolume := make([]float64, newOneDim.NumMyPoints())
	newY := make([]float64, newThreeDim.NumMyPoints())
	newV := make([]float64, newThreeDim.NumMyPoints())
	if err := imp1D.Move(m.blockIDs, newBlockIDs, dmap.Overwrite); err != nil {
		return err
	}
	if err := imp1D.Move(m.volume, newVolume, dmap.Overwrite); err != nil {
		return err
	}
	if err := imp3D.Move(m.y, newY, dmap.Overwrite); err != nil {
		return err
	}
	if err := imp3D.Move(m.v, newV, dmap.Overwrite); err != nil {
		return err
	}

	ghost1D, err := dmap.NewImporter(newOneDimOverlap, newOneDim)
	if err != nil {
		return err
	}
	ghost3D, err := dmap.NewImporter(newThreeDimOverlap, newThreeDim)
	if err != nil {
		return err
	}
	newOvBlockIDs := make([]float64, newOneDimOverlap.NumMyPoints())
	newOvVolume := make([]float64, newOneDimOverlap.NumMyPoints())
	newOvY := make([]float64, newThreeDimOverlap.NumMyPoints())
	newOvV := make([]float64, newThreeDimOverlap.NumMyPoints())
	if err := ghost1D.Move(newBlockIDs, newOvBlockIDs, dmap.Overwrite); err != nil {
		return err
	}
	if err := ghost1D.Move(newVolume, newOvVolume, dmap.Overwrite); err != nil {
		return err
	}
	if err := ghost3D.Move(newY, newOvY, dmap.Overwrite); err != nil {
		return err
	}
	if err := ghost3D.Move(newV, newOvV, dmap.Overwrite); err != nil {
		return err
	}

	simToContact1D, err := dmap.NewImporter(newOneDim, m.simOneDim)
	if err != nil {
		return err
	}
	simToContact3D, err := dmap.NewImporter(newThreeDim, m.simThreeDim)
	if err != nil {
		return err
	}

	// Publish: every derived structure is complete, swap atomically.
	m.oneDim = newOneDim
	m.threeDim = newThreeDim
	m.oneDimOverlap = newOneDimOverlap
	m.threeDimOverlap = newThreeDimOverlap
	m.bond = newBond
	m.simToContact1D = simToContact1D
	m.simToContact3D = simToContact3D
	m.ghost1D = ghost1D
	m.ghost3D = ghost3D
	m.blockIDs = newBlockIDs
	m.volume = newVolume
	m.y = newY
	m.v = newV
	m.force = make([]float64, newThreeDim.NumMyPoints())
	m.scratch = make([]float64, newThreeDim.NumMyPoints())
	m.ovBlockIDs = newOvBlockIDs
	m.ovVolume = newOvVolume
	m.ovY = newOvY
	m.ovV = newOvV
	m.ovForce = make([]float64, newThreeDimOverlap.NumMyPoints())
	m.ovScratch = make([]float64, newThreeDimOverlap.NumMyPoints())
	m.bondData = newBondData
	m.contactData = newContactData

	for _, b := range m.blocks {
		b.rebalance(m.oneDimOverlap, m.ovBlockIDs)
		b.importKinematics(m.ovY, m.ovV)
	}

	stats := search.PartitionStats(m.comm, m.oneDim.NumMyElements())
	m.log.Debug("rebalance complete",
		"step", step,
		"owned", m.oneDim.NumMyElements(),
		"ghosts", m.oneDimOverlap.NumMyElements()-m.oneDim.NumMyElements(),
		"droppedBondPoints", droppedBondPoints,
		"imbalance", stats.Imbalance)
	return nil
}

// rebalancedBondMap migrates per-point bond counts into the new
// decomposition and constructs the new bond map over the points whose
// migrated count is positive. Points with zero bonds take no bond map
// entry; the number dropped is returned for sizing diagnostics.
func (m *Manager) rebalancedBondMap(newOneDim *dmap.BlockMap, imp1D *dmap.Importer) (*dmap.BlockMap, int, error) {
	counts := make([]float64, m.oneDim.NumMyPoints())
	for lid := 0; lid < m.oneDim.NumMyElements(); lid++ {
		gid := m.oneDim.GID(lid)
		if bondLID := m.bond.LID(gid); bondLID != dmap.InvalidLID {
			counts[lid] = float64(m.bond.ElementSize(bondLID))
		}
	}
	newCounts := make([]float64, newOneDim.NumMyPoints())
	if err := imp1D.Move(counts, newCounts, dmap.Overwrite); err != nil {
		return nil, 0, err
	}

	var gids []dmap.GlobalID
	var sizes []int
	dropped := 0
	for lid, c := range newCounts {
		if n := int(c); n > 0 {
			gids = append(gids, newOneDim.GID(lid))
			sizes = append(sizes, n)
		} else {
			dropped++
		}
	}
	newBond, err := dmap.NewVariableBlockMap(m.comm, gids, sizes)
	if err != nil {
		return nil, 0, err
	}
	return newBond, dropped, nil
}

// rebalancedNeighborGIDs flattens the current bond table to neighbor global
// IDs in old bond map layout and moves it into the new bond map layout.
func (m *Manager) rebalancedNeighborGIDs(newBond *dmap.BlockMap, bondImp *dmap.Importer) ([]dmap.GlobalID, error) {
	buf := make([]float64, m.bond.NumMyPoints())
	idx := 0
	for i := 0; i < m.bondData.NumOwnedPoints(); i++ {
		for _, slot := range m.bondData.Neighbors(i) {
			if idx >= len(buf) {
				return nil, fmt.Errorf("contact: bond table holds more neighbors than the bond map's %d points",
					len(buf))
			}
			buf[idx] = float64(m.oneDimOverlap.GID(int(slot)))
			idx++
		}
	}
	if idx != len(buf) {
		return nil, fmt.Errorf("contact: bond table holds %d neighbors, bond map expects %d", idx, len(buf))
	}

	moved := make([]float64, newBond.NumMyPoints())
	if err := bondImp.Move(buf, moved, dmap.Overwrite); err != nil {
		return nil, err
	}
	out := make([]dmap.GlobalID, len(moved))
	for i, v := range moved {
		out[i] = dmap.GlobalID(v)
	}
	return out, nil
}

// contactSearch runs the range query for every owned point of the new
// decomposition, retains neighbors not bonded to the point, and collects
// retained off-rank IDs into the ghost-need set. Every owned point gets an
// entry, zero-length when nothing is retained; entries are ordered by
// ascending neighbor ID, so results are deterministic for fixed inputs.
func (m *Manager) contactSearch(newOneDim, newBond *dmap.BlockMap, neighborGIDs []dmap.GlobalID,
	d search.Decomposition, index *search.Index) (map[dmap.GlobalID][]dmap.GlobalID, *roaring64.Bitmap) {

	radii := make([]float64, d.NumPoints())
	for i := range radii {
		radii[i] = m.cfg.SearchRadius
	}

	nbrs := make(map[dmap.GlobalID][]dmap.GlobalID, d.NumPoints())
	ghosts := roaring64.New()
	for i, gid := range d.GIDs {
		bonded := map[dmap.GlobalID]struct{}{}
		if bondLID := newBond.LID(gid); bondLID != dmap.InvalidLID {
			first := newBond.FirstPointInElement(bondLID)
			for k := 0; k < newBond.ElementSize(bondLID); k++ {
				bonded[neighborGIDs[first+k]] = struct{}{}
			}
		}

		pos := [3]float64{d.Coords[3*i], d.Coords[3*i+1], d.Coords[3*i+2]}
		list := []dmap.GlobalID{}
		for _, n := range index.RangeQuery(pos, radii[i]) {
			if n == gid {
				continue
			}
			if _, isBonded := bonded[n]; isBonded {
				continue
			}
			list = append(list, n)
			if newOneDim.LID(n) == dmap.InvalidLID {
				ghosts.Add(uint64(n))
			}
		}
		nbrs[gid] = list
	}
	return nbrs, ghosts
}

// overlapMap builds an owned+ghost map: owned IDs in owned order followed
// by the ghost set in ascending ID order. Collective.
func (m *Manager) overlapMap(owned *dmap.BlockMap, ghosts *roaring64.Bitmap, elementSize int) (*dmap.BlockMap, error) {
	gids := make([]dmap.GlobalID, 0, owned.NumMyElements()+int(ghosts.GetCardinality()))
	gids = append(gids, owned.MyGlobalElements()...)
	it := ghosts.Iterator()
	for it.HasNext() {
		gids = append(gids, dmap.GlobalID(it.Next()))
	}
	return dmap.NewBlockMap(m.comm, gids, elementSize)
}

// buildBondTable encodes the migrated bond topology as local overlap slots.
// Any neighbor ID that does not resolve in the overlap map is a fatal
// topology inconsistency.
func buildBondTable(owned, overlap, bond *dmap.BlockMap, neighborGIDs []dmap.GlobalID) (*neighborhood.Data, error) {
	b := neighborhood.NewBuilder(owned.NumMyElements(), owned.NumMyElements()+bond.NumMyPoints())
	for lid := 0; lid < owned.NumMyElements(); lid++ {
		gid := owned.GID(lid)
		ovSlot := overlap.LID(gid)
		if ovSlot == dmap.InvalidLID {
			return nil, fmt.Errorf("contact: owned global ID %d missing from overlap map", gid)
		}
		var slots []int32
		if bondLID := bond.LID(gid); bondLID != dmap.InvalidLID {
			first := bond.FirstPointInElement(bondLID)
			for k := 0; k < bond.ElementSize(bondLID); k++ {
				ngid := neighborGIDs[first+k]
				s := overlap.LID(ngid)
				if s == dmap.InvalidLID {
					return nil, fmt.Errorf("contact: bond neighbor global ID %d of point %d does not resolve in overlap map",
						ngid, gid)
				}
				slots = append(slots, int32(s))
			}
		}
		if err := b.AppendPoint(int32(ovSlot), slots); err != nil {
			return nil, err
		}
	}
	return b.Finish()
}

// buildContactTable encodes the contact search results as local overlap
// slots, one entry per owned point.
func buildContactTable(owned, overlap *dmap.BlockMap, nbrs map[dmap.GlobalID][]dmap.GlobalID) (*neighborhood.Data, error) {
	listSize := owned.NumMyElements()
	for _, list := range nbrs {
		listSize += len(list)
	}
	b := neighborhood.NewBuilder(owned.NumMyElements(), listSize)
	for lid := 0; lid < owned.NumMyElements(); lid++ {
		gid := owned.GID(lid)
		ovSlot := overlap.LID(gid)
		if ovSlot == dmap.InvalidLID {
			return nil, fmt.Errorf("contact: owned global ID %d missing from overlap map", gid)
		}
		list, ok := nbrs[gid]
		if !ok {
			return nil, fmt.Errorf("contact: owned global ID %d missing from contact search results", gid)
		}
		slots := make([]int32, len(list))
		for k, ngid := range list {
			s := overlap.LID(ngid)
			if s == dmap.InvalidLID {
				return nil, fmt.Errorf("contact: contact neighbor global ID %d of point %d does not resolve in overlap map",
					ngid, gid)
			}
			slots[k] = int32(s)
		}
		if err := b.AppendPoint(int32(ovSlot), slots); err != nil {
			return nil, err
		}
	}
	return b.Finish()
}
