package reader

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRegistryDispatchesByExtensionCaseInsensitively(t *testing.T) {
	r := NewRegistry()
	rd, err := r.For("/tmp/cloud.XYZ")
	require.NoError(t, err)
	require.IsType(t, &XYZReader{}, rd)

	rd, err = r.For("/tmp/cloud.las")
	require.NoError(t, err)
	require.IsType(t, &LASReader{}, rd)

	rd, err = r.For("/tmp/cloud.ply")
	require.NoError(t, err)
	require.IsType(t, &PLYReader{}, rd)
}

func TestRegistryRejectsUnknownExtension(t *testing.T) {
	r := NewRegistry()
	_, err := r.For("/tmp/cloud.e57")
	require.Error(t, err)
}

func TestApplyTransformOffsetsScalesAndRotates(t *testing.T) {
	opts := StreamOptions{
		AvgMin: [3]float64{1, 1, 1},
		Scale:  2,
		Rotation: [3][3]float64{
			{1, 0, 0},
			{0, 1, 0},
			{0, 0, 1},
		},
	}
	x, y, z, err := ApplyTransform(opts, 2, 3, 4)
	require.NoError(t, err)
	require.Equal(t, float32(2), x) // (2-1)*2
	require.Equal(t, float32(4), y) // (3-1)*2
	require.Equal(t, float32(6), z) // (4-1)*2
}

func TestClampColorScalesAndClamps(t *testing.T) {
	opts := StreamOptions{HasColorScale: true, ColorScale: 2}
	require.Equal(t, uint8(255), ClampColor(200, opts))
	require.Equal(t, uint8(20), ClampColor(10, opts))

	require.Equal(t, uint8(10), ClampColor(10, StreamOptions{HasColorScale: false}), "no-op when color scale is unset")
}
