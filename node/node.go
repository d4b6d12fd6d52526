package node

import (
	"math"

	"github.com/bimdata/go3dtiles/tilepb"
	"github.com/grailbio/base/errors"
)

var errCellOverflow = errors.E("node: grid cell count exceeded 8 on rebalance")

// Node is the in-memory representation of one octree/quadtree node
// (spec.md §3/§4.2). It is mutually exclusive between two states:
//
//   - leaf-buffer: Children == nil, points accumulate unthinned in Batches.
//   - grid: Children != nil (possibly empty), Grid enforces spacing and
//     Pending holds points rejected by the grid awaiting child routing.
type Node struct {
	Name    tilepb.NodeName
	AABB    tilepb.AABB
	Spacing float64

	aabbMin   [3]float64
	invSize   [3]float64
	center    [3]float64
	subtype   tilepb.SubdivisionType

	Batches  []tilepb.PointBatch // leaf-buffer state
	Grid     *Grid                // grid state
	Children []tilepb.NodeName    // nil in leaf-buffer state

	Pending tilepb.PointBatch
	Dirty   bool
}

// NewNode constructs a node at `name` over the given AABB (widened by
// MakeValid where degenerate) with the given spacing; callers pass the
// already-bisected AABB and halved spacing for child nodes.
func NewNode(name tilepb.NodeName, aabb tilepb.AABB, spacing float64) *Node {
	aabb.MakeValid()
	size := aabb.Size()
	var invSize [3]float64
	for i := 0; i < 3; i++ {
		invSize[i] = 1.0 / size[i]
	}
	return &Node{
		Name:    name,
		AABB:    aabb,
		Spacing: spacing,
		aabbMin: aabb.Min,
		invSize: invSize,
		center:  aabb.Center(),
		subtype: tilepb.Classify(size),
	}
}

// IsGridState reports whether the node has transitioned out of leaf-buffer
// state.
func (n *Node) IsGridState() bool { return n.Children != nil }

// minSpacingFloor is the 1mm-times-scale spacing below which a node never
// subdivides further (spec.md §3).
const minSpacingFloor = 0.001

// Insert implements spec.md §4.2's insert operation. splitThreshold and
// balanceThreshold are passed in from config rather than imported, to keep
// node free of a config dependency.
func (n *Node) Insert(batch tilepb.PointBatch, scale float64, splitThreshold, balanceThreshold int) bool {
	if !n.IsGridState() {
		n.Batches = append(n.Batches, batch)
		count := 0
		for _, b := range n.Batches {
			count += b.Len()
		}
		n.Dirty = true
		if count >= splitThreshold && n.Spacing > minSpacingFloor*scale {
			n.split(scale, splitThreshold, balanceThreshold)
		}
		return true
	}

	result := n.Grid.Insert(batch, n.aabbMin, n.invSize, balanceThreshold, false)
	if result.NeedsBalance {
		if err := n.Grid.Balance(n.subtype, n.aabbMin, n.invSize); err == nil {
			n.Dirty = true
		}
	}
	if result.Rejected.Len() != batch.Len() {
		n.Dirty = true
	}
	if result.Rejected.Len() > 0 {
		n.Pending.Append(result.Rejected)
	}
	return n.Dirty
}

// ForceInsert accepts every point in batch into the node's grid
// unconditionally, bypassing the spacing check and split threshold. Used
// by tileset finalization to synthesize the root tile from a sample of its
// children's points (spec.md §4.6), mirroring the grid's own force=True
// path used during rebalancing.
func (n *Node) ForceInsert(batch tilepb.PointBatch) {
	if !n.IsGridState() {
		n.Children = []tilepb.NodeName{}
		n.Grid = NewGrid(n.Spacing)
	}
	n.Grid.Insert(batch, n.aabbMin, n.invSize, 1<<30, true)
	n.Dirty = true
}

// split transitions a leaf-buffer node to grid state, re-inserting every
// buffered batch (original's Node._split).
func (n *Node) split(scale float64, splitThreshold, balanceThreshold int) {
	n.Children = []tilepb.NodeName{}
	n.Grid = NewGrid(n.Spacing)
	batches := n.Batches
	n.Batches = nil
	for _, b := range batches {
		n.Insert(b, scale, splitThreshold, balanceThreshold)
	}
}

// childAABB returns the AABB for a given octant, honoring quadtree
// z-suppression (the z axis of a quadtree child equals the parent's).
func (n *Node) childAABB(octant int) tilepb.AABB {
	child := n.AABB.Bisect(octant)
	if n.subtype == tilepb.Quadtree {
		child.Min[2] = n.AABB.Min[2]
		child.Max[2] = n.AABB.Max[2]
	}
	return child
}

// GetPointCount implements spec.md §4.2's get_point_count: for a
// leaf-buffer node it's the buffered total; for a grid node it's the
// grid's own count plus children's counts up to depthBudget, resolved via
// resolveChild (nil children count as zero, used when a child hasn't been
// loaded into the current worker's subtree).
func (n *Node) GetPointCount(depthBudget int, resolveChild func(tilepb.NodeName) *Node) int {
	if !n.IsGridState() {
		count := 0
		for _, b := range n.Batches {
			count += b.Len()
		}
		return count
	}
	count := n.Grid.Count()
	if depthBudget > 0 {
		for _, childName := range n.Children {
			if child := resolveChild(childName); child != nil {
				count += child.GetPointCount(depthBudget-1, resolveChild)
			}
		}
	}
	return count
}

// Points returns the node's own points (not its children's) as a single
// batch: the grid's accepted points in grid state, or the concatenation of
// buffered batches in leaf-buffer state. Used both by Finalize and by the
// tile encoder, which needs the batch in structured form rather than the
// flat byte layout Finalize produces.
func (n *Node) Points() tilepb.PointBatch {
	var batch tilepb.PointBatch
	if n.IsGridState() {
		batch = n.Grid.Points()
	} else {
		for _, b := range n.Batches {
			batch.Append(b)
		}
	}
	return batch
}

// Finalize implements spec.md §4.2's finalize: a flat byte buffer of
// xyz||rgb||classification||intensity, each section empty per the flags.
func (n *Node) Finalize(includeRGB, includeClassification, includeIntensity bool) []byte {
	batch := n.Points()

	out := make([]byte, 0, len(batch.XYZ)*4+len(batch.RGB)+len(batch.Classification)+len(batch.Intensity))
	for _, f := range batch.XYZ {
		out = appendFloat32(out, f)
	}
	if includeRGB {
		out = append(out, batch.RGB...)
	}
	if includeClassification {
		out = append(out, batch.Classification...)
	}
	if includeIntensity {
		out = append(out, batch.Intensity...)
	}
	return out
}

func appendFloat32(dst []byte, f float32) []byte {
	bits := math.Float32bits(f)
	return append(dst, byte(bits), byte(bits>>8), byte(bits>>16), byte(bits>>24))
}
