// Package tileset implements spec.md §4.6: tileset.json synthesis from the
// tree of written .pnts files, including root-tile construction, pruning
// of small deep tiles, and size-triggered sub-tileset splitting. Grounded
// on original_source's tileset.py/tile.py (the BoundingVolume/Tile/TileSet
// trio), reworked into plain Go value types serialized with encoding/json
// the way the teacher's config structs are.
package tileset

import "github.com/bimdata/go3dtiles/config"

// Refine is a tile's refinement strategy.
type Refine string

const (
	RefineAdd     Refine = "ADD"
	RefineReplace Refine = "REPLACE"
)

// Box is a 3D Tiles "box" bounding volume: center followed by three
// half-axis vectors, flattened to 12 floats.
type Box [12]float64

// BoxFromAABB derives a box bounding volume from an axis-aligned box in
// tile-local coordinates (spec.md §4.6).
func BoxFromAABB(minV, maxV [3]float64) Box {
	var b Box
	for i := 0; i < 3; i++ {
		b[i] = (minV[i] + maxV[i]) / 2
	}
	b[3], b[4], b[5] = (maxV[0]-minV[0])/2, 0, 0
	b[6], b[7], b[8] = 0, (maxV[1]-minV[1])/2, 0
	b[9], b[10], b[11] = 0, 0, (maxV[2]-minV[2])/2
	return b
}

// BoundingVolume wraps a Box; 3D Tiles supports sphere/region too but this
// pipeline only ever emits box volumes (original_source does the same).
type BoundingVolume struct {
	Box Box `json:"box"`
}

// Content references a tile's payload file.
type Content struct {
	URI string `json:"uri"`
}

// Tile is one node of the tileset.json tree.
type Tile struct {
	BoundingVolume BoundingVolume `json:"boundingVolume"`
	GeometricError float64        `json:"geometricError"`
	Refine         Refine         `json:"refine,omitempty"`
	Content        *Content       `json:"content,omitempty"`
	Children       []*Tile        `json:"children,omitempty"`
	Transform      *config.Matrix4 `json:"transform,omitempty"`
}

// Asset is the tileset.json "asset" block.
type Asset struct {
	Version string `json:"version"`
}

// TileSet is the root tileset.json document.
type TileSet struct {
	Asset              Asset   `json:"asset"`
	GeometricError     float64 `json:"geometricError"`
	Root               *Tile   `json:"root"`
}
