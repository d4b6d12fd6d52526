package tilepb

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMakeValidWidensZeroExtentAxes(t *testing.T) {
	b := AABB{Min: [3]float64{0, 0, 0}, Max: [3]float64{1, 0, 1}}
	b.MakeValid()
	for i := 0; i < 3; i++ {
		require.GreaterOrEqual(t, b.Max[i]-b.Min[i], MinPointSize)
	}
	// untouched axes keep their original extent
	require.Equal(t, 1.0, b.Max[0]-b.Min[0])
}

func TestBisectCoversAllOctants(t *testing.T) {
	b := AABB{Min: [3]float64{0, 0, 0}, Max: [3]float64{2, 2, 2}}
	for octant := 0; octant < 8; octant++ {
		child := b.Bisect(octant)
		for axis := 0; axis < 3; axis++ {
			require.GreaterOrEqual(t, child.Min[axis], b.Min[axis])
			require.LessOrEqual(t, child.Max[axis], b.Max[axis])
		}
	}
}

func TestOctantOfTieGoesToLowerIndex(t *testing.T) {
	b := AABB{Min: [3]float64{0, 0, 0}, Max: [3]float64{2, 2, 2}}
	center := b.Center()
	require.Equal(t, 0, b.OctantOf(center, center, Octree))
}

func TestFromPoints(t *testing.T) {
	xyz := []float32{0, 0, 0, 1, 2, 3, -1, 5, 0.5}
	b := FromPoints(xyz)
	require.Equal(t, [3]float64{-1, 0, 0}, b.Min)
	require.Equal(t, [3]float64{1, 5, 3}, b.Max)
}

func TestClassifyFlatSlabIsQuadtree(t *testing.T) {
	require.Equal(t, Quadtree, Classify([3]float64{10, 10, 1}))
	require.Equal(t, Octree, Classify([3]float64{10, 10, 10}))
}
