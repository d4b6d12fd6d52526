package node

import (
	"testing"

	"github.com/bimdata/go3dtiles/tilepb"
	"github.com/stretchr/testify/require"
)

func unitAABB() tilepb.AABB {
	return tilepb.AABB{Min: [3]float64{0, 0, 0}, Max: [3]float64{1, 1, 1}}
}

func TestInsertBelowThresholdStaysLeafBuffer(t *testing.T) {
	n := NewNode(tilepb.RootName, unitAABB(), 0.1)
	batch := tilepb.PointBatch{XYZ: []float32{0.1, 0.1, 0.1}}
	n.Insert(batch, 1, 20_000, 100_000)
	require.False(t, n.IsGridState())
	points := n.Points()
	require.Equal(t, 1, points.Len())
}

func TestInsertAboveThresholdSplitsToGridState(t *testing.T) {
	n := NewNode(tilepb.RootName, unitAABB(), 0.1)
	const splitThreshold = 10
	batch := tilepb.PointBatch{}
	for i := 0; i < splitThreshold; i++ {
		v := float32(i) / float32(splitThreshold*10)
		batch.XYZ = append(batch.XYZ, v, v, v)
	}
	n.Insert(batch, 1, splitThreshold, 100_000)
	require.True(t, n.IsGridState())
}

func TestGridEnforcesSpacing(t *testing.T) {
	n := NewNode(tilepb.RootName, unitAABB(), 0.5)
	n.Children = []tilepb.NodeName{}
	n.Grid = NewGrid(n.Spacing)

	close1 := tilepb.PointBatch{XYZ: []float32{0.1, 0.1, 0.1}}
	close2 := tilepb.PointBatch{XYZ: []float32{0.11, 0.11, 0.11}} // well within 0.5 spacing
	n.Insert(close1, 1, 20_000, 100_000)
	n.Insert(close2, 1, 20_000, 100_000)

	require.Equal(t, 1, n.Grid.Count())
	require.Equal(t, 1, n.Pending.Len())
}

func TestForceInsertBypassesSpacing(t *testing.T) {
	n := NewNode(tilepb.RootName, unitAABB(), 0.5)
	batch := tilepb.PointBatch{XYZ: []float32{0.1, 0.1, 0.1, 0.11, 0.11, 0.11}}
	n.ForceInsert(batch)
	require.True(t, n.IsGridState())
	require.Equal(t, 2, n.Grid.Count())
}

func TestFinalizeIncludesEverySection(t *testing.T) {
	n := NewNode(tilepb.RootName, unitAABB(), 0.1)
	batch := tilepb.PointBatch{
		XYZ:            []float32{0.1, 0.2, 0.3},
		RGB:            []uint8{10, 20, 30},
		Classification: []uint8{5},
		Intensity:      []uint8{200},
	}
	n.Insert(batch, 1, 20_000, 100_000)
	data := n.Finalize(true, true, true)
	require.Equal(t, 12+3+1+1, len(data))
}
