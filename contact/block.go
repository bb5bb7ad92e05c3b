package contact

import (
	"github.com/notargets/pdcontact/dmap"
	"gonum.org/v1/gonum/floats"
)

// Model is a contact force-law configuration bound to one block: the
// shared model parameters plus the block's horizon.
type Model struct {
	Name                string
	Horizon             float64
	FrictionCoefficient float64
	Params              map[string]float64
}

// Block is a named partition of simulation points carrying its own contact
// model and per-block field storage. Blocks are created from configuration
// and rebound to fresh maps on every rebalance; the force-law layer reads
// kinematics from a block and writes force density back into it.
type Block struct {
	name  string
	id    int
	model *Model

	// Rebalance-bound state: the overlap slots whose block ID matches,
	// and per-point field storage in block-local order.
	slots    []int
	coords   []float64 // packed xyz, 3*len(slots)
	velocity []float64
	force    []float64
}

func newBlock(name string, id int) *Block {
	return &Block{name: name, id: id}
}

// Name returns the block's configured name.
func (b *Block) Name() string { return b.name }

// ID returns the numeric block ID parsed from the name.
func (b *Block) ID() int { return b.id }

// Model returns the block's contact model, nil before Initialize.
func (b *Block) Model() *Model { return b.model }

// NumPoints returns the number of owned+ghost points currently assigned to
// the block.
func (b *Block) NumPoints() int { return len(b.slots) }

// Slots returns the overlap-map slots of the block's points, in block-local
// order. Read-only.
func (b *Block) Slots() []int { return b.slots }

// Coords and Velocity expose the block's current kinematic fields in
// block-local order; Force is the writable per-point contact force density
// the force-law layer fills between ImportData and ExportContactForces.
func (b *Block) Coords() []float64   { return b.coords }
func (b *Block) Velocity() []float64 { return b.velocity }
func (b *Block) Force() []float64    { return b.force }

// rebalance rebinds the block to a new overlap decomposition: selects the
// overlap slots whose block ID matches and reallocates field storage.
func (b *Block) rebalance(overlap *dmap.BlockMap, ovBlockIDs []float64) {
	b.slots = b.slots[:0]
	for lid := 0; lid < overlap.NumMyElements(); lid++ {
		if int(ovBlockIDs[lid]) == b.id {
			b.slots = append(b.slots, lid)
		}
	}
	n := len(b.slots)
	b.coords = make([]float64, 3*n)
	b.velocity = make([]float64, 3*n)
	b.force = make([]float64, 3*n)
}

// importKinematics copies current positions and velocities from the
// overlap-layout buffers into the block's storage.
func (b *Block) importKinematics(ovY, ovV []float64) {
	for i, slot := range b.slots {
		copy(b.coords[3*i:3*i+3], ovY[3*slot:3*slot+3])
		copy(b.velocity[3*i:3*i+3], ovV[3*slot:3*slot+3])
	}
}

// exportForce adds the block's force density into the overlap-layout
// buffer.
func (b *Block) exportForce(ovBuf []float64) {
	for i, slot := range b.slots {
		floats.Add(ovBuf[3*slot:3*slot+3], b.force[3*i:3*i+3])
	}
}
