package node

import (
	"github.com/bimdata/go3dtiles/tilepb"
)

// Catalog holds the subtree a single PROCESS task has loaded into memory,
// rooted at Root (spec.md §4.4's "reconstitute the node catalog rooted at
// name from bytes"). Every other node in the subtree is created lazily by
// bisecting down from RootAABB/RootSpacing, the way original_source's
// node_from_name walks a name's octant digits.
type Catalog struct {
	RootAABB    tilepb.AABB
	RootSpacing float64

	nodes map[tilepb.NodeName]*Node
}

// NewCatalog constructs an empty catalog against the pipeline-wide root
// geometry; nodes are filled in by Load or created on demand by GetNode.
func NewCatalog(rootAABB tilepb.AABB, rootSpacing float64) *Catalog {
	return &Catalog{RootAABB: rootAABB, RootSpacing: rootSpacing, nodes: map[tilepb.NodeName]*Node{}}
}

// aabbAndSpacingFor derives a node's AABB and spacing by bisecting from the
// catalog root along name's octant digits (original_source's
// utils.node_from_name).
func (c *Catalog) aabbAndSpacingFor(name tilepb.NodeName) (tilepb.AABB, float64) {
	aabb := c.RootAABB
	spacing := c.RootSpacing
	for i := 0; i < name.Depth(); i++ {
		octant := int(name[i] - '0')
		subtype := tilepb.Classify(aabb.Size())
		child := aabb.Bisect(octant)
		if subtype == tilepb.Quadtree {
			child.Min[2] = aabb.Min[2]
			child.Max[2] = aabb.Max[2]
		}
		aabb = child
		spacing /= 2
	}
	return aabb, spacing
}

// GetNode returns the node for name, creating it (with freshly-derived
// AABB/spacing) if this is its first reference in the catalog.
func (c *Catalog) GetNode(name tilepb.NodeName) *Node {
	if n, ok := c.nodes[name]; ok {
		return n
	}
	aabb, spacing := c.aabbAndSpacingFor(name)
	n := NewNode(name, aabb, spacing)
	c.nodes[name] = n
	return n
}

// Put installs an already-constructed node, used when reconstituting a
// node from NodeStore bytes via codec.Decode.
func (c *Catalog) Put(n *Node) { c.nodes[n.Name] = n }

// Has reports whether name has been materialized in this catalog.
func (c *Catalog) Has(name tilepb.NodeName) bool {
	_, ok := c.nodes[name]
	return ok
}

// Nodes returns every node materialized in this catalog, keyed by absolute
// name. Used by the WRITE task to flush every node in a finished subtree to
// disk in one pass (original_source's pnts_writer.run iterating the
// decoded catalog dict).
func (c *Catalog) Nodes() map[tilepb.NodeName]*Node { return c.nodes }

// routePending partitions a node's pending points by child octant
// (spec.md §4.2's flush_pending partition step), registering any newly
// discovered child octants in the node's Children set.
func routePending(n *Node) map[tilepb.NodeName]tilepb.PointBatch {
	if n.Pending.Len() == 0 {
		return nil
	}
	out := map[tilepb.NodeName]tilepb.PointBatch{}
	center := n.center
	if n.subtype == tilepb.Quadtree {
		center = [3]float64{n.center[0], n.center[1], n.AABB.Max[2]}
	}
	pending := n.Pending
	n.Pending = tilepb.PointBatch{}

	count := pending.Len()
	for i := 0; i < count; i++ {
		p := pending.Point(i)
		octant := n.AABB.OctantOf(center, [3]float64{float64(p[0]), float64(p[1]), float64(p[2])}, n.subtype)
		childName := n.Name.Child(octant)
		known := false
		for _, existing := range n.Children {
			if existing == childName {
				known = true
				break
			}
		}
		if !known {
			n.Children = append(n.Children, childName)
			n.Dirty = true
		}

		b := out[childName]
		b.XYZ = append(b.XYZ, p[0], p[1], p[2])
		if len(pending.RGB) > 0 {
			b.RGB = append(b.RGB, pending.RGB[i*3], pending.RGB[i*3+1], pending.RGB[i*3+2])
		}
		if len(pending.Classification) > 0 {
			b.Classification = append(b.Classification, pending.Classification[i])
		}
		if len(pending.Intensity) > 0 {
			b.Intensity = append(b.Intensity, pending.Intensity[i])
		}
		out[childName] = b
	}
	return out
}

// FlushPending implements spec.md §4.2/§4.5's bounded recursive flush: it
// routes name's pending points to child nodes and inserts them, recursing
// only while depthBudget permits (the worker's locally-loaded subtree);
// points routed past the budget are returned in spillover for the caller
// to emit as NEW_TASK messages back to the dispatcher.
func (c *Catalog) FlushPending(name tilepb.NodeName, scale float64, splitThreshold, balanceThreshold, depthBudget int, spillover map[tilepb.NodeName]tilepb.PointBatch) {
	n := c.GetNode(name)
	routed := routePending(n)
	for childName, batch := range routed {
		if depthBudget <= 0 {
			existing := spillover[childName]
			existing.Append(batch)
			spillover[childName] = existing
			continue
		}
		child := c.GetNode(childName)
		child.Insert(batch, scale, splitThreshold, balanceThreshold)
		if child.IsGridState() {
			c.FlushPending(childName, scale, splitThreshold, balanceThreshold, depthBudget-1, spillover)
		}
	}
}
