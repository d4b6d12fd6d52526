package node

import (
	"testing"

	"github.com/bimdata/go3dtiles/tilepb"
	"github.com/stretchr/testify/require"
)

func gridGeometry() (aabbMin, invSize [3]float64) {
	return [3]float64{0, 0, 0}, [3]float64{1, 1, 1}
}

func TestGridInsertRejectsTooClosePoints(t *testing.T) {
	g := NewGrid(0.5)
	aabbMin, invSize := gridGeometry()

	batch := tilepb.PointBatch{XYZ: []float32{0.1, 0.1, 0.1, 0.11, 0.11, 0.11}}
	result := g.Insert(batch, aabbMin, invSize, 100_000, false)

	require.Equal(t, 1, g.Count())
	require.Equal(t, 1, result.Rejected.Len())
}

func TestGridInsertForceAcceptsEverything(t *testing.T) {
	g := NewGrid(0.5)
	aabbMin, invSize := gridGeometry()

	batch := tilepb.PointBatch{XYZ: []float32{0.1, 0.1, 0.1, 0.11, 0.11, 0.11}}
	result := g.Insert(batch, aabbMin, invSize, 100_000, true)

	require.Equal(t, 2, g.Count())
	require.Equal(t, 0, result.Rejected.Len())
}

func TestGridNeedsBalanceTriggersAtThreshold(t *testing.T) {
	g := NewGrid(0.0) // zero spacing: every point in a cell is "far enough"
	aabbMin, invSize := gridGeometry()

	var batch tilepb.PointBatch
	for i := 0; i < 5; i++ {
		batch.XYZ = append(batch.XYZ, 0.1, 0.1, 0.1)
	}
	result := g.Insert(batch, aabbMin, invSize, 4, false)
	require.True(t, result.NeedsBalance)
}

func TestGridBalanceIncreasesCellCountAndPreservesPoints(t *testing.T) {
	g := NewGrid(0.0)
	aabbMin, invSize := gridGeometry()
	batch := tilepb.PointBatch{XYZ: []float32{0.1, 0.1, 0.1, 0.9, 0.9, 0.9}}
	g.Insert(batch, aabbMin, invSize, 100_000, false)

	before := g.Count()
	require.NoError(t, g.Balance(tilepb.Octree, aabbMin, invSize))
	require.Equal(t, [3]int{4, 4, 4}, g.cellCount)
	require.Equal(t, before, g.Count())
}
