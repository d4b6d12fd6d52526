// Package node implements spec.md §4.2: the in-memory octree/quadtree
// node, its spacing-enforcing grid, and the catalog that loads/holds a
// worker's currently-owned subtree. Grounded on
// original_source/.../tilers/node/points_grid.py and
// original_source/.../tilers/point/node/node.py, reworked from a numba
// columnar-array implementation into plain Go slices (no numba/JIT
// equivalent exists anywhere in the retrieved pack).
package node

import (
	"encoding/binary"
	"math"

	"github.com/bimdata/go3dtiles/tilepb"
	"github.com/dgryski/go-farm"
)

// The per-cell balance threshold is an insert-time parameter (see
// Grid.Insert) rather than an import of config; the 8-cells-per-axis limit
// is written as a literal below.

// cell holds the points a grid cell has accepted, plus spacing bookkeeping.
type cell struct {
	xyz            []float32
	rgb            []uint8
	classification []uint8
	intensity      []uint8
}

func (c *cell) len() int { return len(c.xyz) / 3 }

// isFarEnough reports whether p is at least `spacing` away from every point
// already accepted into the cell (original's is_point_far_enough).
func (c *cell) isFarEnough(p [3]float32, spacing float64) bool {
	sp2 := spacing * spacing
	for i := 0; i < len(c.xyz); i += 3 {
		dx := float64(c.xyz[i]) - float64(p[0])
		dy := float64(c.xyz[i+1]) - float64(p[1])
		dz := float64(c.xyz[i+2]) - float64(p[2])
		if dx*dx+dy*dy+dz*dz < sp2 {
			return false
		}
	}
	return true
}

func (c *cell) append(p [3]float32, r, g, b, cls, inten uint8) {
	c.xyz = append(c.xyz, p[0], p[1], p[2])
	c.rgb = append(c.rgb, r, g, b)
	c.classification = append(c.classification, cls)
	c.intensity = append(c.intensity, inten)
}

// Grid is a uniform spatial grid over a node's AABB enforcing a minimum
// inter-point spacing per cell (spec.md §3, "grid-insert semantics").
type Grid struct {
	cellCount [3]int // per-axis cell count, starts at 3, balanced up to 8
	spacing   float64
	cells     map[uint64]*cell
}

// NewGrid returns a 3x3x3 grid with the given per-node spacing.
func NewGrid(spacing float64) *Grid {
	return &Grid{
		cellCount: [3]int{3, 3, 3},
		spacing:   spacing,
		cells:     make(map[uint64]*cell),
	}
}

// cellIndex maps a point to its integer (ix, iy, iz) cell coordinates,
// clamped into range. Every axis, z included, uses its own cellCount.
func (g *Grid) cellIndex(p [3]float32, aabbMin [3]float64, invSize [3]float64) [3]int {
	var idx [3]int
	for a := 0; a < 3; a++ {
		frac := (float64(p[a]) - aabbMin[a]) * invSize[a]
		i := int(frac * float64(g.cellCount[a]))
		if i < 0 {
			i = 0
		}
		if i >= g.cellCount[a] {
			i = g.cellCount[a] - 1
		}
		idx[a] = i
	}
	return idx
}

// cellKey hashes (ix,iy,iz) into a stable map key using the same
// byte-oriented FarmHash the original's numeric key packing is replaced
// with, rather than hand-rolling a bit-packing scheme that would silently
// break once a cell count exceeds a few bits.
func cellKey(idx [3]int) uint64 {
	var buf [12]byte
	binary.LittleEndian.PutUint32(buf[0:4], uint32(idx[0]))
	binary.LittleEndian.PutUint32(buf[4:8], uint32(idx[1]))
	binary.LittleEndian.PutUint32(buf[8:12], uint32(idx[2]))
	return farm.Hash64(buf[:])
}

// InsertResult reports what Grid.Insert couldn't accept.
type InsertResult struct {
	Rejected     tilepb.PointBatch
	NeedsBalance bool
}

// Insert attempts to accept every point in batch into its spatial cell,
// per spec.md §3: a point is accepted iff its cell is empty or the nearest
// already-accepted point in that cell is >= spacing away. Rejected points
// are returned for the caller to route into pending.
func (g *Grid) Insert(batch tilepb.PointBatch, aabbMin [3]float64, invSize [3]float64, balanceThreshold int, force bool) InsertResult {
	var result InsertResult
	n := batch.Len()
	for i := 0; i < n; i++ {
		p := batch.Point(i)
		idx := g.cellIndex(p, aabbMin, invSize)
		key := cellKey(idx)
		c, ok := g.cells[key]
		if !ok {
			c = &cell{}
			g.cells[key] = c
		}

		var r, gr, b, cls, inten uint8
		if len(batch.RGB) > 0 {
			r, gr, b = batch.RGB[i*3], batch.RGB[i*3+1], batch.RGB[i*3+2]
		}
		if len(batch.Classification) > 0 {
			cls = batch.Classification[i]
		}
		if len(batch.Intensity) > 0 {
			inten = batch.Intensity[i]
		}

		if force || c.len() == 0 || c.isFarEnough(p, g.spacing) {
			c.append(p, r, gr, b, cls, inten)
			if !force && g.cellCount[0] < 8 && c.len() > balanceThreshold {
				result.NeedsBalance = true
			}
			continue
		}

		result.Rejected.XYZ = append(result.Rejected.XYZ, p[0], p[1], p[2])
		result.Rejected.RGB = append(result.Rejected.RGB, r, gr, b)
		result.Rejected.Classification = append(result.Rejected.Classification, cls)
		result.Rejected.Intensity = append(result.Rejected.Intensity, inten)
	}
	return result
}

// NeedsBalance reports whether any cell has exceeded balanceThreshold
// while cellCount is still under 8 on the first axis.
func (g *Grid) NeedsBalance(balanceThreshold int) bool {
	if g.cellCount[0] >= 8 {
		return false
	}
	for _, c := range g.cells {
		if c.len() > balanceThreshold {
			return true
		}
	}
	return false
}

// Balance increases the per-axis cell count by one (all three axes for
// octree nodes, x/y only for quadtree nodes, whose z count stays at its
// initial 3) and force-reinserts every accepted point into the
// finer grid, bypassing the spacing check (spec.md §3, "Grid balancing").
func (g *Grid) Balance(subtype tilepb.SubdivisionType, aabbMin [3]float64, invSize [3]float64) error {
	g.cellCount[0]++
	g.cellCount[1]++
	if subtype == tilepb.Octree {
		g.cellCount[2]++
	}
	if g.cellCount[0] > 8 {
		return errCellOverflow
	}

	old := g.cells
	g.cells = make(map[uint64]*cell, len(old))
	for _, c := range old {
		batch := tilepb.PointBatch{XYZ: c.xyz, RGB: c.rgb, Classification: c.classification, Intensity: c.intensity}
		g.Insert(batch, aabbMin, invSize, math.MaxInt32, true)
	}
	return nil
}

// Count returns the total number of points accepted across every cell.
func (g *Grid) Count() int {
	n := 0
	for _, c := range g.cells {
		n += c.len()
	}
	return n
}

// Points concatenates every cell's points into one batch, for finalization
// and for serialization.
func (g *Grid) Points() tilepb.PointBatch {
	var out tilepb.PointBatch
	for _, c := range g.cells {
		out.XYZ = append(out.XYZ, c.xyz...)
		out.RGB = append(out.RGB, c.rgb...)
		out.Classification = append(out.Classification, c.classification...)
		out.Intensity = append(out.Intensity, c.intensity...)
	}
	return out
}
