package tilepb

import "math"

// MinPointSize is the minimum extent enforced on every axis of an AABB
// before it is used for bisection or inverse-size math. 1e-5 matches the
// epsilon spec.md requires for zero-width axes.
const MinPointSize = 1e-5

// AABB is an axis-aligned bounding box in f64 bookkeeping precision. Tile
// geometry itself is stored in f32 (see PointBatch); the split between
// storage precision and bookkeeping precision is intentional.
type AABB struct {
	Min, Max [3]float64
}

// MakeValid widens any axis whose extent is below MinPointSize so that
// Max[i] - Min[i] >= MinPointSize on every axis, leaving wider axes
// untouched.
func (b *AABB) MakeValid() {
	for i := 0; i < 3; i++ {
		if b.Max[i]-b.Min[i] < MinPointSize {
			mid := (b.Max[i] + b.Min[i]) / 2
			b.Min[i] = mid - MinPointSize/2
			b.Max[i] = mid + MinPointSize/2
		}
	}
}

// Size returns Max-Min on every axis, floored at MinPointSize.
func (b AABB) Size() [3]float64 {
	var s [3]float64
	for i := 0; i < 3; i++ {
		s[i] = math.Max(b.Max[i]-b.Min[i], MinPointSize)
	}
	return s
}

// Center returns the midpoint of the box.
func (b AABB) Center() [3]float64 {
	var c [3]float64
	for i := 0; i < 3; i++ {
		c[i] = (b.Min[i] + b.Max[i]) / 2
	}
	return c
}

// Diagonal returns the Euclidean length of the box diagonal.
func (b AABB) Diagonal() float64 {
	s := b.Size()
	return math.Sqrt(s[0]*s[0] + s[1]*s[1] + s[2]*s[2])
}

// SubdivisionType classifies a node for octree vs. quadtree splitting,
// chosen from the AABB's z/xy aspect ratio: flat slabs split as a
// quadtree (z untouched), everything else as a full octree.
type SubdivisionType int

const (
	Octree SubdivisionType = iota
	Quadtree
)

// Classify returns the subdivision type for a box of the given size: if the
// z extent is less than half the smaller of the x/y extents, the node
// subdivides as a quadtree.
func Classify(size [3]float64) SubdivisionType {
	minXY := math.Min(size[0], size[1])
	if size[2] < 0.5*minXY {
		return Quadtree
	}
	return Octree
}

// Bisect returns the child AABB for the given octant (bit 2 = +x, bit 1 =
// +y, bit 0 = +z). For quadtree nodes, callers must pass octants whose bit 0
// is fixed (0 or 1, consistently) since the z split is suppressed: Bisect
// itself always bisects every axis and leaves the z-suppression policy to
// the caller (see node.Node.childAABB).
func (b AABB) Bisect(octant int) AABB {
	c := b.Center()
	var child AABB
	for axis := 0; axis < 3; axis++ {
		bit := 0
		switch axis {
		case 0:
			bit = (octant >> 2) & 1
		case 1:
			bit = (octant >> 1) & 1
		case 2:
			bit = octant & 1
		}
		if bit == 1 {
			child.Min[axis] = c[axis]
			child.Max[axis] = b.Max[axis]
		} else {
			child.Min[axis] = b.Min[axis]
			child.Max[axis] = c[axis]
		}
	}
	return child
}

// FromPoints computes the bounding box of a flat list of f32 xyz triples.
func FromPoints(xyz []float32) AABB {
	if len(xyz) == 0 {
		return AABB{}
	}
	b := AABB{
		Min: [3]float64{float64(xyz[0]), float64(xyz[1]), float64(xyz[2])},
		Max: [3]float64{float64(xyz[0]), float64(xyz[1]), float64(xyz[2])},
	}
	for i := 0; i+2 < len(xyz); i += 3 {
		for a := 0; a < 3; a++ {
			v := float64(xyz[i+a])
			if v < b.Min[a] {
				b.Min[a] = v
			}
			if v > b.Max[a] {
				b.Max[a] = v
			}
		}
	}
	return b
}

// OctantOf returns the child octant index containing point p, given this
// box's center and subdivision type. Bit 2 = +x, bit 1 = +y, bit 0 = +z
// (forced to 0 for quadtree nodes, whose z split is suppressed in favor of
// the box's own max-z per spec). A point exactly on a split plane is
// assigned to the lower-index (min-corner) octant.
func (b AABB) OctantOf(center [3]float64, p [3]float64, t SubdivisionType) int {
	octant := 0
	if p[0] > center[0] {
		octant |= 4
	}
	if p[1] > center[1] {
		octant |= 2
	}
	if t == Octree && p[2] > center[2] {
		octant |= 1
	}
	return octant
}

// Add grows b (in place) to also contain other.
func (b *AABB) Add(other AABB) {
	for i := 0; i < 3; i++ {
		if other.Min[i] < b.Min[i] {
			b.Min[i] = other.Min[i]
		}
		if other.Max[i] > b.Max[i] {
			b.Max[i] = other.Max[i]
		}
	}
}
