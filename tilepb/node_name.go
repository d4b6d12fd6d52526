// Package tilepb holds the small value types shared by every other package
// in this module: node names, bounding boxes, and point batches. It plays
// the same role here that biopb played for grailbio/bio -- a leaf package
// with no internal dependencies that everything else imports.
package tilepb

import "strings"

// NodeName is the base-8 path from the octree/quadtree root to a node. The
// empty name is the root. Appending a digit in [0,7] selects a child octant;
// "is ancestor" is a plain string-prefix test.
type NodeName string

// RootName is the name of the tree root.
const RootName NodeName = ""

// Child returns the name of this node's child at the given octant index
// (0-7). The caller is responsible for restricting octant to the valid
// range for the node's subdivision type (quadtree nodes only ever use
// octants whose bit 0 is the same as every other child's, see
// tilepb.SubdivisionType).
func (n NodeName) Child(octant int) NodeName {
	if octant < 0 || octant > 7 {
		panic("tilepb: octant out of range")
	}
	return n + NodeName('0'+byte(octant))
}

// Parent returns the name of this node's parent. Calling Parent on the root
// panics.
func (n NodeName) Parent() NodeName {
	if len(n) == 0 {
		panic("tilepb: root has no parent")
	}
	return n[:len(n)-1]
}

// Octant returns the octant digit (0-7) selecting this node under its
// parent. The root's octant is defined to be 0.
func (n NodeName) Octant() int {
	if len(n) == 0 {
		return 0
	}
	return int(n[len(n)-1] - '0')
}

// Depth is the number of levels below the root (0 for the root itself).
func (n NodeName) Depth() int { return len(n) }

// IsRoot reports whether n is the tree root.
func (n NodeName) IsRoot() bool { return len(n) == 0 }

// IsAncestorOf reports whether n is an ancestor of other, inclusive: a node
// is its own ancestor.
func (n NodeName) IsAncestorOf(other NodeName) bool {
	return len(n) <= len(other) && other[:len(n)] == n
}

// String implements fmt.Stringer.
func (n NodeName) String() string { return string(n) }

// PathShard splits the name into 8-character segments for the on-disk
// sharding rule shared by nodestore spill files and final .pnts tiles: the
// last (possibly short) segment becomes the file stem "r<segment>". The
// empty name collapses to "r" (callers append the appropriate suffix).
func (n NodeName) PathShard() (dirs []string, stem string) {
	s := string(n)
	if s == "" {
		return nil, "r"
	}
	for len(s) > 8 {
		dirs = append(dirs, s[:8])
		s = s[8:]
	}
	return dirs, "r" + s
}

// JoinPathShard renders the full relative path (using '/' separators,
// joined by the caller's filepath.Join) for this node under the given
// suffix, e.g. JoinPathShard(".pnts") -> "01234567/89abcdef/r01.pnts"
// for the name "0123456789abcdef01".
func (n NodeName) JoinPathShard(suffix string) string {
	dirs, stem := n.PathShard()
	parts := append(append([]string{}, dirs...), stem+suffix)
	return strings.Join(parts, "/")
}
