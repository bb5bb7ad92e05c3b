package contact

import (
	"fmt"
	"log/slog"

	"gonum.org/v1/gonum/floats"

	"github.com/notargets/pdcontact/comm"
	"github.com/notargets/pdcontact/dmap"
	"github.com/notargets/pdcontact/neighborhood"
	"github.com/notargets/pdcontact/search"
)

// Manager is the rebalance orchestrator. It exclusively owns the
// contact-side distributed maps, exchange channels, field buffers, and
// neighbor tables, and replaces them atomically at every rebalance: new
// structures are fully built before anything is published, so a failed
// rebalance leaves the previous decomposition as the last-known-good state.
//
// One Manager exists per rank; all its collective operations must be
// entered by every rank's Manager in the same order.
type Manager struct {
	cfg  *Config
	comm *comm.Comm
	log  *slog.Logger
	part search.Partitioner

	blocks []*Block

	// Simulation-side decomposition, fixed for the Manager's lifetime.
	simOneDim, simThreeDim *dmap.BlockMap

	// Contact-side decomposition, replaced on every rebalance.
	oneDim, threeDim, oneDimOverlap, threeDimOverlap, bond *dmap.BlockMap

	simToContact1D, simToContact3D *dmap.Importer
	ghost1D, ghost3D               *dmap.Importer

	// Owned-layout fields.
	blockIDs, volume     []float64
	y, v, force, scratch []float64

	// Overlap-layout fields.
	ovBlockIDs, ovVolume         []float64
	ovY, ovV, ovForce, ovScratch []float64

	bondData, contactData *neighborhood.Data

	initialized bool
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the structured logger; the default discards all output.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) { m.log = l }
}

// WithPartitioner overrides the spatial partitioner, search.RCB by default.
func WithPartitioner(p search.Partitioner) Option {
	return func(m *Manager) { m.part = p }
}

// NewManager creates the per-rank contact manager from a validated
// configuration and the discretization's block names. Explicitly configured
// blocks are created first, in configuration order; if a Default group is
// configured, a block is added for every discretization block name not
// matched explicitly. Without a Default group, unmatched names are simply
// outside contact.
func NewManager(cfg *Config, c *comm.Comm, discretizationBlockNames []string, opts ...Option) (*Manager, error) {
	if cfg == nil {
		return nil, fmt.Errorf("contact: nil configuration")
	}
	m := &Manager{
		cfg:  cfg,
		comm: c,
		log:  slog.New(slog.DiscardHandler),
		part: search.RCB{},
	}
	for _, opt := range opts {
		opt(m)
	}

	haveDefault := false
	seen := map[string]bool{}
	for _, group := range cfg.Groups {
		for _, name := range group.BlockNames {
			if isDefaultName(name) {
				haveDefault = true
				continue
			}
			if seen[name] {
				return nil, fmt.Errorf("contact: block %q configured twice", name)
			}
			id, err := ParseBlockID(name)
			if err != nil {
				return nil, err
			}
			seen[name] = true
			m.blocks = append(m.blocks, newBlock(name, id))
		}
	}
	if haveDefault {
		for _, name := range discretizationBlockNames {
			if seen[name] {
				continue
			}
			id, err := ParseBlockID(name)
			if err != nil {
				return nil, fmt.Errorf("contact: discretization %w", err)
			}
			seen[name] = true
			m.blocks = append(m.blocks, newBlock(name, id))
		}
	}
	if len(m.blocks) == 0 {
		return nil, fmt.Errorf("contact: no contact blocks configured")
	}
	return m, nil
}

// Blocks returns the manager's contact blocks.
func (m *Manager) Blocks() []*Block { return m.blocks }

// horizonFor resolves a block's horizon: explicit value, else the default
// entry, else a configuration error naming the block.
func (m *Manager) horizonFor(name string) (float64, error) {
	if h, ok := m.cfg.Horizons[name]; ok {
		return h, nil
	}
	if h, ok := m.cfg.Horizons["default"]; ok {
		return h, nil
	}
	return 0, fmt.Errorf("contact: no horizon value supplied for block %q and no default provided", name)
}

// Initialize snapshots the simulation decomposition, builds the
// contact-side maps, channels, and field buffers, and binds a contact
// model to every block. Collective.
func (m *Manager) Initialize(oneDim, threeDim, oneDimOverlap, bondMap *dmap.BlockMap) error {
	for _, b := range m.blocks {
		h, err := m.horizonFor(b.name)
		if err != nil {
			return err
		}
		b.model = &Model{
			Name:                m.cfg.Model.Name,
			Horizon:             h,
			FrictionCoefficient: m.cfg.Model.Params["friction_coefficient"],
			Params:              m.cfg.Model.Params,
		}
	}

	m.simOneDim = oneDim
	m.simThreeDim = threeDim

	var err error
	if m.oneDim, err = dmap.NewBlockMap(m.comm, oneDim.MyGlobalElements(), 1); err != nil {
		return err
	}
	if m.threeDim, err = dmap.NewBlockMap(m.comm, oneDim.MyGlobalElements(), 3); err != nil {
		return err
	}
	if m.oneDimOverlap, err = dmap.NewBlockMap(m.comm, oneDimOverlap.MyGlobalElements(), 1); err != nil {
		return err
	}
	// The 3-component overlap map shares the 1-component overlap map's IDs.
	if m.threeDimOverlap, err = dmap.NewBlockMap(m.comm, oneDimOverlap.MyGlobalElements(), 3); err != nil {
		return err
	}
	bondSizes := make([]int, bondMap.NumMyElements())
	for lid := range bondSizes {
		bondSizes[lid] = bondMap.ElementSize(lid)
	}
	if m.bond, err = dmap.NewVariableBlockMap(m.comm, bondMap.MyGlobalElements(), bondSizes); err != nil {
		return err
	}

	if m.simToContact1D, err = dmap.NewImporter(m.oneDim, m.simOneDim); err != nil {
		return err
	}
	if m.simToContact3D, err = dmap.NewImporter(m.threeDim, m.simThreeDim); err != nil {
		return err
	}
	if m.ghost1D, err = dmap.NewImporter(m.oneDimOverlap, m.oneDim); err != nil {
		return err
	}
	if m.ghost3D, err = dmap.NewImporter(m.threeDimOverlap, m.threeDim); err != nil {
		return err
	}

	m.allocateFields()
	m.initialized = true
	return nil
}

func (m *Manager) allocateFields() {
	n1 := m.oneDim.NumMyPoints()
	n3 := m.threeDim.NumMyPoints()
	m.blockIDs = make([]float64, n1)
	m.volume = make([]float64, n1)
	m.y = make([]float64, n3)
	m.v = make([]float64, n3)
	m.force = make([]float64, n3)
	m.scratch = make([]float64, n3)

	o1 := m.oneDimOverlap.NumMyPoints()
	o3 := m.threeDimOverlap.NumMyPoints()
	m.ovBlockIDs = make([]float64, o1)
	m.ovVolume = make([]float64, o1)
	m.ovY = make([]float64, o3)
	m.ovV = make([]float64, o3)
	m.ovForce = make([]float64, o3)
	m.ovScratch = make([]float64, o3)
}

// LoadAllMothershipData imports all persistent fields from the simulation
// decomposition into the contact decomposition and clears the transient
// force and scratch buffers. Collective.
func (m *Manager) LoadAllMothershipData(blockIDs, volume, y, v []float64) error {
	if err := m.simToContact1D.Move(blockIDs, m.blockIDs, dmap.Overwrite); err != nil {
		return err
	}
	if err := m.simToContact1D.Move(volume, m.volume, dmap.Overwrite); err != nil {
		return err
	}
	if err := m.simToContact3D.Move(y, m.y, dmap.Overwrite); err != nil {
		return err
	}
	if err := m.simToContact3D.Move(v, m.v, dmap.Overwrite); err != nil {
		return err
	}
	zero(m.force)
	zero(m.scratch)
	return nil
}

// LoadNeighborhoodData installs deep copies of the global bond neighbor
// table as both the bond and contact tables.
func (m *Manager) LoadNeighborhoodData(d *neighborhood.Data) {
	m.bondData = d.Copy()
	m.contactData = d.Copy()
}

// BondNeighborhood returns the published bond neighbor table.
func (m *Manager) BondNeighborhood() *neighborhood.Data { return m.bondData }

// ContactNeighborhood returns the published contact neighbor table.
func (m *Manager) ContactNeighborhood() *neighborhood.Data { return m.contactData }

// OneDimMap returns the published owned contact map.
func (m *Manager) OneDimMap() *dmap.BlockMap { return m.oneDim }

// OneDimOverlapMap returns the published owned+ghost contact map.
func (m *Manager) OneDimOverlapMap() *dmap.BlockMap { return m.oneDimOverlap }

// BondMap returns the published bond map.
func (m *Manager) BondMap() *dmap.BlockMap { return m.bond }

// InitializeBlocks ghost-fills block IDs and volumes and binds every block
// to the current overlap decomposition. Collective.
func (m *Manager) InitializeBlocks() error {
	if err := m.ghost1D.Move(m.blockIDs, m.ovBlockIDs, dmap.Overwrite); err != nil {
		return err
	}
	if err := m.ghost1D.Move(m.volume, m.ovVolume, dmap.Overwrite); err != nil {
		return err
	}
	for _, b := range m.blocks {
		b.rebalance(m.oneDimOverlap, m.ovBlockIDs)
	}
	return nil
}

// ImportData publishes current owned+ghost positions and velocities:
// fields move from the simulation decomposition into the contact
// decomposition, are ghost-filled into overlap layout, and are distributed
// to the blocks. Collective.
func (m *Manager) ImportData(volume, y, v []float64) error {
	if err := m.simToContact1D.Move(volume, m.volume, dmap.Overwrite); err != nil {
		return err
	}
	if err := m.simToContact3D.Move(y, m.y, dmap.Overwrite); err != nil {
		return err
	}
	if err := m.simToContact3D.Move(v, m.v, dmap.Overwrite); err != nil {
		return err
	}
	if err := m.ghost1D.Move(m.volume, m.ovVolume, dmap.Overwrite); err != nil {
		return err
	}
	if err := m.ghost3D.Move(m.y, m.ovY, dmap.Overwrite); err != nil {
		return err
	}
	if err := m.ghost3D.Move(m.v, m.ovV, dmap.Overwrite); err != nil {
		return err
	}
	for _, b := range m.blocks {
		b.importKinematics(m.ovY, m.ovV)
	}
	return nil
}

// ExportContactForces sums every block's contact force density by global ID
// into the caller's owned-only simulation-layout buffer. Ghost
// contributions are combined into their owners across ranks. Collective.
func (m *Manager) ExportContactForces(force []float64) error {
	zero(m.ovForce)
	for _, b := range m.blocks {
		zero(m.ovScratch)
		b.exportForce(m.ovScratch)
		floats.Add(m.ovForce, m.ovScratch)
	}
	zero(m.force)
	if err := m.ghost3D.MoveReverse(m.ovForce, m.force, dmap.Accumulate); err != nil {
		return err
	}
	return m.simToContact3D.MoveReverse(m.force, force, dmap.Accumulate)
}

func zero(buf []float64) {
	for i := range buf {
		buf[i] = 0
	}
}
