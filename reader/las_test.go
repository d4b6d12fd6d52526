package reader

import (
	"encoding/binary"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// writeLASFile hand-assembles a minimal point-data-format-0 LAS file with
// the exact header field offsets readLASHeader depends on.
func writeLASFile(t *testing.T, points [][3]int32, classifications []uint8) (string, [3]float64, [3]float64) {
	t.Helper()
	const recordLen = 20
	const offsetToPointData = 227

	scale := [3]float64{0.01, 0.01, 0.01}
	offset := [3]float64{0, 0, 0}
	min := [3]float64{1e18, 1e18, 1e18}
	max := [3]float64{-1e18, -1e18, -1e18}
	for _, p := range points {
		for i := 0; i < 3; i++ {
			v := float64(p[i])*scale[i] + offset[i]
			if v < min[i] {
				min[i] = v
			}
			if v > max[i] {
				max[i] = v
			}
		}
	}

	buf := make([]byte, offsetToPointData+len(points)*recordLen)
	binary.LittleEndian.PutUint32(buf[96:100], offsetToPointData)
	buf[104] = 0 // point data format 0
	binary.LittleEndian.PutUint16(buf[105:107], recordLen)
	binary.LittleEndian.PutUint32(buf[107:111], uint32(len(points)))

	putF64 := func(off int, v float64) { binary.LittleEndian.PutUint64(buf[off:off+8], math.Float64bits(v)) }
	for i := 0; i < 3; i++ {
		putF64(131+i*8, scale[i])
		putF64(155+i*8, offset[i])
	}
	for i := 0; i < 3; i++ {
		putF64(179+i*16, max[i])
		putF64(179+i*16+8, min[i])
	}

	for i, p := range points {
		rec := buf[offsetToPointData+i*recordLen : offsetToPointData+(i+1)*recordLen]
		binary.LittleEndian.PutUint32(rec[0:4], uint32(p[0]))
		binary.LittleEndian.PutUint32(rec[4:8], uint32(p[1]))
		binary.LittleEndian.PutUint32(rec[8:12], uint32(p[2]))
		if i < len(classifications) {
			rec[15] = classifications[i] & 0x1f
		}
	}

	path := filepath.Join(t.TempDir(), "cloud.las")
	require.NoError(t, os.WriteFile(path, buf, 0o644))
	return path, min, max
}

func TestLASInspectReadsExactCountAndAABB(t *testing.T) {
	points := [][3]int32{{0, 0, 0}, {100, 200, 300}, {-50, 10, 10}}
	path, min, max := writeLASFile(t, points, []uint8{1, 2, 3})

	meta, err := (&LASReader{}).Inspect(path)
	require.NoError(t, err)
	require.Equal(t, int64(3), meta.PointCount)
	require.InDelta(t, min[0], meta.AABB.Min[0], 1e-9)
	require.InDelta(t, max[0], meta.AABB.Max[0], 1e-9)
	require.Len(t, meta.Portions, 1)
}

func TestLASStreamAppliesScaleOffsetAndClassification(t *testing.T) {
	points := [][3]int32{{100, 200, 300}}
	path, _, _ := writeLASFile(t, points, []uint8{5})

	meta, err := (&LASReader{}).Inspect(path)
	require.NoError(t, err)

	it, err := (&LASReader{}).Stream(path, meta.Portions[0], identityStreamOpts())
	require.NoError(t, err)
	defer it.Close()

	require.True(t, it.Next())
	batch := it.Batch()
	require.InDelta(t, 1.0, batch.XYZ[0], 1e-6) // 100 * 0.01
	require.InDelta(t, 2.0, batch.XYZ[1], 1e-6)
	require.InDelta(t, 3.0, batch.XYZ[2], 1e-6)
	require.Equal(t, uint8(5), batch.Classification[0])
}

func TestLASRejectsCompressedFormat(t *testing.T) {
	points := [][3]int32{{0, 0, 0}}
	path, _, _ := writeLASFile(t, points, nil)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	raw[104] = 0x80 // LASzip compression flag bit
	require.NoError(t, os.WriteFile(path, raw, 0o644))

	_, err = (&LASReader{}).Inspect(path)
	require.Error(t, err)
}
