package tileset

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/bimdata/go3dtiles/config"
	"github.com/bimdata/go3dtiles/node"
	"github.com/bimdata/go3dtiles/tilepb"
	"github.com/bimdata/go3dtiles/tileset/pnts"
	"github.com/grailbio/base/errors"
)

// Finalizer walks the tree of .pnts files the pipeline wrote to outDir and
// synthesizes tileset.json, grounded on original_source's
// point_tiler.py:to_tileset/write_tileset (spec.md §4.6).
type Finalizer struct {
	OutDir                                     string
	Meta                                       config.SharedMetadata
	IncludeRGB, IncludeClassification, IncludeIntensity bool
	PruneThreshold                              int
	MaxTilesetJSONBytes                         int
}

// NewFinalizer returns a Finalizer using config's default thresholds.
func NewFinalizer(outDir string, meta config.SharedMetadata, rgb, class, intensity bool) *Finalizer {
	return &Finalizer{
		OutDir:               outDir,
		Meta:                 meta,
		IncludeRGB:           rgb,
		IncludeClassification: class,
		IncludeIntensity:     intensity,
		PruneThreshold:       config.PruneThreshold,
		MaxTilesetJSONBytes:  config.MaxTilesetJSONBytes,
	}
}

// pntsPath returns the on-disk path for a node's tile payload.
func (f *Finalizer) pntsPath(name tilepb.NodeName) string {
	return filepath.Join(f.OutDir, filepath.FromSlash(name.JoinPathShard(".pnts")))
}

// SynthesizeRoot builds the root tile's own .pnts payload out of a
// representative sample of its first-level children's points, since the
// pipeline itself never inserts points at depth 0 (original_source's
// point_tiler.py does the same forced-grid-insert trick before writing the
// tileset). Must run before Build.
func (f *Finalizer) SynthesizeRoot() error {
	rootPath := f.pntsPath(tilepb.RootName)
	if _, err := os.Stat(rootPath); err == nil {
		return nil // a worker already produced a root tile (tiny inputs).
	}

	root := node.NewNode(tilepb.RootName, f.Meta.RootAABB, f.Meta.RootSpacing)
	any := false
	for o := 0; o < 8; o++ {
		childName := tilepb.RootName.Child(o)
		data, err := os.ReadFile(f.pntsPath(childName))
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			return errors.E(err, "tileset: read child for root synthesis", childName)
		}
		batch, err := pnts.Decode(data)
		if err != nil {
			return errors.E(err, "tileset: decode child for root synthesis", childName)
		}
		root.ForceInsert(sample(batch, rootSampleStride))
		any = true
	}
	if !any {
		return errors.E("tileset: no child tiles found, nothing to synthesize a root from")
	}

	encoded := pnts.Encode(root.Points(), f.IncludeRGB, f.IncludeClassification, f.IncludeIntensity)
	if err := os.MkdirAll(filepath.Dir(rootPath), 0o755); err != nil {
		return errors.E(err, "tileset: mkdir for root tile")
	}
	return os.WriteFile(rootPath, encoded, 0o644)
}

// rootSampleStride subsamples children's points when building the
// synthetic root tile, so the root doesn't simply duplicate every point in
// its children (the root only needs to be visually representative at a
// coarse LOD).
const rootSampleStride = 8

func sample(b tilepb.PointBatch, stride int) tilepb.PointBatch {
	var out tilepb.PointBatch
	n := b.Len()
	for i := 0; i < n; i += stride {
		p := b.Point(i)
		out.XYZ = append(out.XYZ, p[0], p[1], p[2])
		if len(b.RGB) > 0 {
			out.RGB = append(out.RGB, b.RGB[i*3], b.RGB[i*3+1], b.RGB[i*3+2])
		}
		if len(b.Classification) > 0 {
			out.Classification = append(out.Classification, b.Classification[i])
		}
		if len(b.Intensity) > 0 {
			out.Intensity = append(out.Intensity, b.Intensity[i])
		}
	}
	return out
}

// walkResult carries a subtree's Tile plus the point count of its own
// (non-child) payload, needed by the parent to decide whether to prune it.
type walkResult struct {
	tile       *Tile
	pointCount int
}

// walk recursively discovers name's children by checking for the
// existence of their .pnts files (original_source's tree-walk-by-file
// convention), builds their Tile nodes, and prunes depth>1 leaf children
// under PruneThreshold by merging their points into name's own payload.
func (f *Finalizer) walk(name tilepb.NodeName, depth int) (*walkResult, error) {
	path := f.pntsPath(name)
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.E(err, "tileset: read tile", name)
	}

	batch, err := pnts.Decode(data)
	if err != nil {
		return nil, errors.E(err, "tileset: decode tile", name)
	}
	dirty := false

	var children []*Tile
	for o := 0; o < 8; o++ {
		childName := name.Child(o)
		childResult, err := f.walk(childName, depth+1)
		if err != nil {
			return nil, err
		}
		if childResult == nil {
			continue
		}
		if depth+1 > 1 && childResult.tile.Children == nil && childResult.pointCount < f.PruneThreshold {
			batch.Append(mustDecode(f.pntsPath(childName)))
			if err := os.Remove(f.pntsPath(childName)); err != nil && !os.IsNotExist(err) {
				return nil, errors.E(err, "tileset: remove pruned tile", childName)
			}
			dirty = true
			continue
		}
		children = append(children, childResult.tile)
	}

	if dirty {
		encoded := pnts.Encode(batch, f.IncludeRGB, f.IncludeClassification, f.IncludeIntensity)
		if err := os.WriteFile(path, encoded, 0o644); err != nil {
			return nil, errors.E(err, "tileset: rewrite merged tile", name)
		}
	}

	aabb := tilepb.FromPoints(batch.XYZ)
	refine := RefineAdd
	if name.IsRoot() {
		refine = RefineReplace
	}
	tile := &Tile{
		BoundingVolume: BoundingVolume{Box: BoxFromAABB(aabb.Min, aabb.Max)},
		GeometricError: spacingAt(f.Meta.RootSpacing, depth),
		Refine:         refine,
		Content:        &Content{URI: relURI(name)},
		Children:       children,
	}
	return &walkResult{tile: tile, pointCount: batch.Len()}, nil
}

func mustDecode(path string) tilepb.PointBatch {
	data, err := os.ReadFile(path)
	if err != nil {
		return tilepb.PointBatch{}
	}
	b, err := pnts.Decode(data)
	if err != nil {
		return tilepb.PointBatch{}
	}
	return b
}

func relURI(name tilepb.NodeName) string {
	return name.JoinPathShard(".pnts")
}

func spacingAt(rootSpacing float64, depth int) float64 {
	s := rootSpacing
	for i := 0; i < depth; i++ {
		s /= 2
	}
	return s
}

// Build walks the written tile tree and returns the root TileSet document.
// SynthesizeRoot must have already run.
func (f *Finalizer) Build() (*TileSet, error) {
	result, err := f.walk(tilepb.RootName, 0)
	if err != nil {
		return nil, err
	}
	if result == nil {
		return nil, errors.E("tileset: no root tile found after synthesis")
	}
	transform := f.Meta.Transform
	result.tile.Transform = &transform
	return &TileSet{
		Asset:          Asset{Version: "1.0"},
		GeometricError: f.Meta.RootSpacing,
		Root:           result.tile,
	}, nil
}

// Write serializes ts to outDir/tileset.json, splitting any subtree whose
// serialized size exceeds MaxTilesetJSONBytes into its own
// tileset.<name>.json external tile, per spec.md §4.6.
func (f *Finalizer) Write(ts *TileSet) error {
	f.splitLargeSubtrees(ts.Root, tilepb.RootName)
	return f.writeJSON(filepath.Join(f.OutDir, "tileset.json"), ts)
}

func (f *Finalizer) splitLargeSubtrees(t *Tile, name tilepb.NodeName) {
	for i, child := range t.Children {
		childName := name.Child(i)
		f.splitLargeSubtrees(child, childName)
		if estimateSize(child) <= f.MaxTilesetJSONBytes {
			continue
		}
		sub := &TileSet{Asset: Asset{Version: "1.0"}, GeometricError: child.GeometricError, Root: child}
		subPath := filepath.Join(f.OutDir, "tileset."+string(childName)+".json")
		if err := f.writeJSON(subPath, sub); err != nil {
			continue // best-effort: leave the subtree inline if the split write fails
		}
		t.Children[i] = &Tile{
			BoundingVolume: child.BoundingVolume,
			GeometricError: child.GeometricError,
			Content:        &Content{URI: "tileset." + string(childName) + ".json"},
		}
	}
}

func (f *Finalizer) writeJSON(path string, v interface{}) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return errors.E(err, "tileset: marshal", path)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.E(err, "tileset: mkdir", path)
	}
	return os.WriteFile(path, b, 0o644)
}

func estimateSize(t *Tile) int {
	b, err := json.Marshal(t)
	if err != nil {
		return 0
	}
	return len(b)
}
