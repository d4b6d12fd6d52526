package config

import (
	"testing"

	"github.com/bimdata/go3dtiles/tilepb"
	"github.com/stretchr/testify/require"
)

func TestComputeSpacingIsDiagonalOver125(t *testing.T) {
	b := tilepb.AABB{Min: [3]float64{0, 0, 0}, Max: [3]float64{125, 0, 0}}
	require.InDelta(t, 1.0, ComputeSpacing(b), 1e-9)
}

func TestDeriveRootGeometryNonGeocentricIsTranslateAndScaleOnly(t *testing.T) {
	aabb := tilepb.AABB{Min: [3]float64{10, 10, 10}, Max: [3]float64{20, 20, 20}}
	meta := DeriveRootGeometry(aabb, [3]float64{10, 10, 10}, false)

	require.InDelta(t, 0, meta.RootAABB.Min[0], 1e-9)
	require.Greater(t, meta.RootAABB.Max[0], 0.0)
	require.Equal(t, [3][3]float64{{1, 0, 0}, {0, 1, 0}, {0, 0, 1}}, meta.RotationApply)
}

func TestDeriveRootGeometryRootScalePicksBandByDiagonal(t *testing.T) {
	small := DeriveRootGeometry(tilepb.AABB{Min: [3]float64{0, 0, 0}, Max: [3]float64{0.5, 0, 0}}, [3]float64{}, false)
	require.Equal(t, 1.0, small.RootScale)

	large := DeriveRootGeometry(tilepb.AABB{Min: [3]float64{0, 0, 0}, Max: [3]float64{2000, 0, 0}}, [3]float64{}, false)
	require.Equal(t, 0.01, large.RootScale)
}

func TestDeriveRootGeometryGeocentricAppliesRotation(t *testing.T) {
	aabb := tilepb.AABB{Min: [3]float64{6378000, 0, 0}, Max: [3]float64{6378100, 100, 100}}
	avgMin := [3]float64{6378000, 0, 0}
	meta := DeriveRootGeometry(aabb, avgMin, true)

	identityRotation := [3][3]float64{{1, 0, 0}, {0, 1, 0}, {0, 0, 1}}
	require.NotEqual(t, identityRotation, meta.RotationApply, "a geocentric box off the pole must produce a non-identity alignment rotation")
}

func TestIdentityTransformerIsNoop(t *testing.T) {
	x, y, z, err := TransformerIdentity.Transform(1, 2, 3)
	require.NoError(t, err)
	require.Equal(t, [3]float64{1, 2, 3}, [3]float64{x, y, z})
	require.False(t, TransformerIdentity.OutputIsGeocentric())
}
