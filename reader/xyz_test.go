package reader

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeXYZFile(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "points.xyz")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func identityStreamOpts() StreamOptions {
	return StreamOptions{
		Scale:    1,
		Rotation: [3][3]float64{{1, 0, 0}, {0, 1, 0}, {0, 0, 1}},
	}
}

func TestXYZInspectComputesAABBAndCount(t *testing.T) {
	path := writeXYZFile(t, "0 0 0\n1 2 3\n-1 5 2\n")
	meta, err := (&XYZReader{}).Inspect(path)
	require.NoError(t, err)

	require.Equal(t, int64(3), meta.PointCount)
	require.Equal(t, [3]float64{-1, 0, 0}, meta.AABB.Min)
	require.Equal(t, [3]float64{1, 5, 3}, meta.AABB.Max)
	require.NotEmpty(t, meta.Portions)
}

func TestXYZInspectSkipsNonNumericHeader(t *testing.T) {
	path := writeXYZFile(t, "x y z\n0 0 0\n1 1 1\n")
	meta, err := (&XYZReader{}).Inspect(path)
	require.NoError(t, err)
	require.Equal(t, int64(2), meta.PointCount)
}

func TestXYZStreamYieldsAllPointsInPortion(t *testing.T) {
	path := writeXYZFile(t, "0 0 0\n1 1 1\n2 2 2\n")
	meta, err := (&XYZReader{}).Inspect(path)
	require.NoError(t, err)
	require.Len(t, meta.Portions, 1)

	it, err := (&XYZReader{}).Stream(path, meta.Portions[0], identityStreamOpts())
	require.NoError(t, err)
	defer it.Close()

	var total int
	for it.Next() {
		b := it.Batch()
		total += b.Len()
	}
	require.NoError(t, it.Err())
	require.Equal(t, 3, total)
}

func TestXYZStreamParsesCommaDelimitedXYZRGB(t *testing.T) {
	path := writeXYZFile(t, "0,0,0,10,20,30\n1,1,1,40,50,60\n")
	meta, err := (&XYZReader{}).Inspect(path)
	require.NoError(t, err)

	it, err := (&XYZReader{}).Stream(path, meta.Portions[0], identityStreamOpts())
	require.NoError(t, err)
	defer it.Close()

	require.True(t, it.Next())
	batch := it.Batch()
	require.Equal(t, []uint8{10, 20, 30, 40, 50, 60}, batch.RGB)
}
