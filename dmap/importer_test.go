package dmap

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/notargets/pdcontact/comm"
)

// Two ranks: source owns {1,2} / {3,4}; destination swaps 2 and 3 across
// ranks so the move exercises both local and remote transfers.
func swapMaps(t *testing.T, c *comm.Comm, stride int) (src, dst *BlockMap) {
	t.Helper()
	srcGIDs := [][]GlobalID{{1, 2}, {3, 4}}[c.Rank()]
	dstGIDs := [][]GlobalID{{1, 3}, {2, 4}}[c.Rank()]
	src, err := NewBlockMap(c, srcGIDs, stride)
	require.NoError(t, err)
	dst, err = NewBlockMap(c, dstGIDs, stride)
	require.NoError(t, err)
	return src, dst
}

func TestImporterMoveOverwrite(t *testing.T) {
	g := comm.NewGroup(2)
	err := g.Run(func(c *comm.Comm) error {
		src, dst := swapMaps(t, c, 1)
		im, err := NewImporter(dst, src)
		require.NoError(t, err)

		srcBuf := make([]float64, src.NumMyPoints())
		for lid := range srcBuf {
			srcBuf[lid] = float64(src.GID(lid)) * 10
		}
		dstBuf := make([]float64, dst.NumMyPoints())
		require.NoError(t, im.Move(srcBuf, dstBuf, Overwrite))

		for lid := 0; lid < dst.NumMyElements(); lid++ {
			assert.Equal(t, float64(dst.GID(lid))*10, dstBuf[lid])
		}
		return nil
	})
	require.NoError(t, err)
}

func TestImporterMoveVectorStride(t *testing.T) {
	g := comm.NewGroup(2)
	err := g.Run(func(c *comm.Comm) error {
		src, dst := swapMaps(t, c, 3)
		im, err := NewImporter(dst, src)
		require.NoError(t, err)

		srcBuf := make([]float64, src.NumMyPoints())
		for lid := 0; lid < src.NumMyElements(); lid++ {
			for k := 0; k < 3; k++ {
				srcBuf[3*lid+k] = float64(src.GID(lid))*10 + float64(k)
			}
		}
		dstBuf := make([]float64, dst.NumMyPoints())
		require.NoError(t, im.Move(srcBuf, dstBuf, Overwrite))

		for lid := 0; lid < dst.NumMyElements(); lid++ {
			for k := 0; k < 3; k++ {
				assert.Equal(t, float64(dst.GID(lid))*10+float64(k), dstBuf[3*lid+k])
			}
		}
		return nil
	})
	require.NoError(t, err)
}

func TestImporterMoveAccumulate(t *testing.T) {
	g := comm.NewGroup(2)
	err := g.Run(func(c *comm.Comm) error {
		src, dst := swapMaps(t, c, 1)
		im, err := NewImporter(dst, src)
		require.NoError(t, err)

		srcBuf := make([]float64, src.NumMyPoints())
		for lid := range srcBuf {
			srcBuf[lid] = float64(src.GID(lid))
		}
		dstBuf := make([]float64, dst.NumMyPoints())
		for lid := range dstBuf {
			dstBuf[lid] = 100
		}
		require.NoError(t, im.Move(srcBuf, dstBuf, Accumulate))

		for lid := 0; lid < dst.NumMyElements(); lid++ {
			assert.Equal(t, 100+float64(dst.GID(lid)), dstBuf[lid])
		}
		return nil
	})
	require.NoError(t, err)
}

func TestImporterLeavesDestinationOnlyIDs(t *testing.T) {
	g := comm.NewGroup(2)
	err := g.Run(func(c *comm.Comm) error {
		srcGIDs := [][]GlobalID{{1}, {2}}[c.Rank()]
		// GID 99 exists only in the destination.
		dstGIDs := [][]GlobalID{{1, 99}, {2}}[c.Rank()]
		src, err := NewBlockMap(c, srcGIDs, 1)
		require.NoError(t, err)
		dst, err := NewBlockMap(c, dstGIDs, 1)
		require.NoError(t, err)
		im, err := NewImporter(dst, src)
		require.NoError(t, err)

		srcBuf := []float64{float64(srcGIDs[0])}
		dstBuf := make([]float64, dst.NumMyPoints())
		for i := range dstBuf {
			dstBuf[i] = -7
		}
		require.NoError(t, im.Move(srcBuf, dstBuf, Overwrite))

		assert.Equal(t, float64(dstGIDs[0]), dstBuf[0])
		if c.Rank() == 0 {
			assert.Equal(t, -7.0, dstBuf[1], "destination-only ID must be untouched")
		}
		return nil
	})
	require.NoError(t, err)
}

func TestImporterVariableStrideBondPayload(t *testing.T) {
	g := comm.NewGroup(2)
	err := g.Run(func(c *comm.Comm) error {
		// Bond data for points 1 (2 bonds) and 3 (1 bond) migrates from
		// rank 0 to rank 1.
		var srcGIDs, dstGIDs []GlobalID
		var srcSizes, dstSizes []int
		if c.Rank() == 0 {
			srcGIDs, srcSizes = []GlobalID{1, 3}, []int{2, 1}
		} else {
			dstGIDs, dstSizes = []GlobalID{1, 3}, []int{2, 1}
		}
		src, err := NewVariableBlockMap(c, srcGIDs, srcSizes)
		require.NoError(t, err)
		dst, err := NewVariableBlockMap(c, dstGIDs, dstSizes)
		require.NoError(t, err)
		im, err := NewImporter(dst, src)
		require.NoError(t, err)

		srcBuf := make([]float64, src.NumMyPoints())
		if c.Rank() == 0 {
			copy(srcBuf, []float64{21, 22, 31})
		}
		dstBuf := make([]float64, dst.NumMyPoints())
		require.NoError(t, im.Move(srcBuf, dstBuf, Overwrite))

		if c.Rank() == 1 {
			assert.Equal(t, []float64{21, 22, 31}, dstBuf)
		}
		return nil
	})
	require.NoError(t, err)
}

func TestImporterMoveReverseAccumulatesGhostContributions(t *testing.T) {
	g := comm.NewGroup(2)
	err := g.Run(func(c *comm.Comm) error {
		// Owned: rank 0 {1}, rank 1 {2}. Both ranks ghost the other's
		// point, so each owner must receive its own plus one remote
		// contribution.
		ownedGIDs := [][]GlobalID{{1}, {2}}[c.Rank()]
		overlapGIDs := [][]GlobalID{{1, 2}, {2, 1}}[c.Rank()]
		owned, err := NewBlockMap(c, ownedGIDs, 1)
		require.NoError(t, err)
		overlap, err := NewBlockMap(c, overlapGIDs, 1)
		require.NoError(t, err)
		im, err := NewImporter(overlap, owned)
		require.NoError(t, err)

		// Every holder contributes rank+1 to each point it holds.
		ovBuf := make([]float64, overlap.NumMyPoints())
		for i := range ovBuf {
			ovBuf[i] = float64(c.Rank() + 1)
		}
		ownBuf := make([]float64, owned.NumMyPoints())
		require.NoError(t, im.MoveReverse(ovBuf, ownBuf, Accumulate))

		// Contributions from rank 0 (1) and rank 1 (2) sum to 3.
		assert.Equal(t, []float64{3}, ownBuf)
		return nil
	})
	require.NoError(t, err)
}

func TestImporterBufferLengthValidation(t *testing.T) {
	g := comm.NewGroup(1)
	err := g.Run(func(c *comm.Comm) error {
		m, err := NewBlockMap(c, []GlobalID{1, 2}, 3)
		require.NoError(t, err)
		im, err := NewImporter(m, m)
		require.NoError(t, err)

		bad := make([]float64, 5)
		good := make([]float64, m.NumMyPoints())
		require.Error(t, im.Move(bad, good, Overwrite))
		require.Error(t, im.Move(good, bad, Overwrite))
		require.Error(t, im.MoveReverse(bad, good, Accumulate))
		return nil
	})
	require.NoError(t, err)
}

func TestImporterElementSizeMismatch(t *testing.T) {
	g := comm.NewGroup(1)
	err := g.Run(func(c *comm.Comm) error {
		src, err := NewBlockMap(c, []GlobalID{1}, 1)
		require.NoError(t, err)
		dst, err := NewBlockMap(c, []GlobalID{1}, 3)
		require.NoError(t, err)
		_, err = NewImporter(dst, src)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "element size mismatch")
		return nil
	})
	require.NoError(t, err)
}
