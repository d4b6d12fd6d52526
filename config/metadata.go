package config

import (
	"math"

	"github.com/bimdata/go3dtiles/tilepb"
)

// CRSTransformer converts a point from the input CRS to the output CRS.
// spec.md section 6 lists CRS transforms as an external collaborator
// ("interfaces only"); TransformerIdentity is the only implementation
// wired by default since no geodesy/PROJ library exists anywhere in the
// retrieved example pack to ground a real one on (see DESIGN.md).
type CRSTransformer interface {
	// Transform returns the transformed (x, y, z).
	Transform(x, y, z float64) (float64, float64, float64, error)
	// OutputIsGeocentric reports whether the output CRS is EPSG:4978
	// (earth-centered, earth-fixed), which triggers the extra rotation
	// alignment in DeriveRootGeometry.
	OutputIsGeocentric() bool
}

type identityTransformer struct{}

func (identityTransformer) Transform(x, y, z float64) (float64, float64, float64, error) {
	return x, y, z, nil
}
func (identityTransformer) OutputIsGeocentric() bool { return false }

// TransformerIdentity is a no-op CRSTransformer used whenever no
// --srs_out is requested.
var TransformerIdentity CRSTransformer = identityTransformer{}

// SharedMetadata is the immutable configuration broadcast to every worker
// goroutine: transform, scales, root AABB & spacing, output folder,
// attribute-write flags, verbosity. It plays the role the original tiler's
// PointSharedMetadata plays for its process-pool workers; here it is just
// captured by closures / passed by value since goroutines share an address
// space, but no worker is ever given a pointer into dispatcher-owned state
// (see tiler.Dispatcher).
type SharedMetadata struct {
	OutFolder         string
	CacheSizeBytes    int64
	WriteRGB          bool
	WriteClass        bool
	WriteIntensity    bool
	ColorScale        float64
	HasColorScale     bool
	Verbosity         int
	MaxPointsInFlight int
	MaxReadingJobs    int

	AvgMin        [3]float64
	RootAABB      tilepb.AABB
	RootScale     float64
	RootSpacing   float64
	RotationApply [3][3]float64 // applied to points during streaming
	RotationInv   [3][3]float64 // inverse, used to build the tile transform
	Transform     Matrix4       // final tileset.json root transform
}

// ComputeSpacing mirrors compute_spacing in the original tiler: the box
// diagonal divided by 125.
func ComputeSpacing(b tilepb.AABB) float64 {
	return b.Diagonal() / 125
}

// DeriveRootGeometry implements get_root_aabb + get_rotation_matrix from
// the original point_tiler.py: given the aggregated input AABB (already
// CRS-transformed if applicable) and the average minimum corner across
// input files, it picks a root_scale from the overall diagonal, builds the
// rotation matrix (identity unless the output CRS is geocentric), and
// derives the root AABB, spacing and final tile transform.
func DeriveRootGeometry(originalAABB tilepb.AABB, avgMin [3]float64, geocentric bool) SharedMetadata {
	baseSpacing := ComputeSpacing(originalAABB)
	var rootScale float64
	switch {
	case baseSpacing > 10:
		rootScale = 0.01
	case baseSpacing > 1:
		rootScale = 0.1
	default:
		rootScale = 1
	}

	rotation := Identity4()
	rootAABBf64 := tilepb.AABB{}
	for i := 0; i < 3; i++ {
		rootAABBf64.Min[i] = (originalAABB.Min[i] - avgMin[i]) * rootScale
		rootAABBf64.Max[i] = (originalAABB.Max[i] - avgMin[i]) * rootScale
	}

	if geocentric {
		bl := [3]float64{originalAABB.Min[0], originalAABB.Min[1], originalAABB.Min[2]}
		tr := [3]float64{originalAABB.Max[0], originalAABB.Max[1], originalAABB.Max[2]}
		for i := 0; i < 3; i++ {
			bl[i] -= avgMin[i]
			tr[i] -= avgMin[i]
		}
		normal := normalize(avgMin)
		rotation = RotationMatrix(normal, [3]float64{0, 0, 1})
		xAxis := [3]float64{tr[0] - bl[0], tr[1] - bl[1], tr[2] - bl[2]}
		rotation = RotationMatrix(xAxis, [3]float64{1, 0, 0}).Mul(rotation)

		rotT := transpose3(rotation)
		blR := apply3(rotT, bl)
		trR := apply3(rotT, tr)
		for i := 0; i < 3; i++ {
			rootAABBf64.Min[i] = math.Min(blR[i], trR[i]) * rootScale
			rootAABBf64.Max[i] = math.Max(blR[i], trR[i]) * rootScale
		}
	}

	rootSpacing := ComputeSpacing(rootAABBf64)

	transform := rotation.Inverse()
	transform = transform.Mul(ScaleMatrix(1.0 / rootScale))
	transform = TranslationMatrix(avgMin).Mul(transform)

	applyR, invR := extract3x3(rotation)

	return SharedMetadata{
		AvgMin:        avgMin,
		RootAABB:      rootAABBf64,
		RootScale:     rootScale,
		RootSpacing:   rootSpacing,
		RotationApply: applyR,
		RotationInv:   invR,
		Transform:     transform,
	}
}

func extract3x3(m Matrix4) (apply, inv [3][3]float64) {
	// m is column-major; apply = m[:3,:3]^T (to match the original's
	// rotation_matrix[:3,:3].T applied to row vectors), inv = m[:3,:3].
	for r := 0; r < 3; r++ {
		for c := 0; c < 3; c++ {
			inv[r][c] = m[c*4+r]
			apply[r][c] = m[r*4+c]
		}
	}
	return apply, inv
}

func transpose3(m Matrix4) [3][3]float64 {
	var t [3][3]float64
	for r := 0; r < 3; r++ {
		for c := 0; c < 3; c++ {
			t[r][c] = m[c*4+r]
		}
	}
	return t
}

func apply3(m [3][3]float64, v [3]float64) [3]float64 {
	var out [3]float64
	for r := 0; r < 3; r++ {
		out[r] = m[r][0]*v[0] + m[r][1]*v[1] + m[r][2]*v[2]
	}
	return out
}
