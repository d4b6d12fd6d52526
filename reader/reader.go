// Package reader implements spec.md section 4.1: per-format Inspect/Stream
// readers that turn an input file into metadata plus a stream of
// attribute-normalized point batches. The Registry dispatches on file
// extension the way original_source's READER_MAP does in utils.py.
package reader

import (
	"path/filepath"
	"strings"

	"github.com/bimdata/go3dtiles/config"
	"github.com/bimdata/go3dtiles/tilepb"
	"github.com/grailbio/base/errors"
)

// Sentinel configuration errors (spec.md section 4.1 / section 7). These
// fail the pipeline early, before any worker is spawned.
var (
	ErrMissingInputSRS  = errors.E("MISSING_INPUT_SRS: an output CRS was requested but no input file declares one")
	ErrMixedInputSRS    = errors.E("MIXED_INPUT_SRS: input files declare different CRSes; pass --force-srs-in to proceed anyway")
	ErrUnsupportedFormat = errors.E("UNSUPPORTED_FORMAT: no reader is registered for this file extension")
)

// Portion is a contiguous logical range of an input file sized to bound a
// single worker's memory (spec.md section 3, "portion"). ByteOffset is an
// optional hint (used by the XYZ/CSV reader to seek directly to the start
// of a portion without rescanning from the top of the file).
type Portion struct {
	File       string
	Start, End int64 // [Start, End) in point indices
	ByteOffset int64
}

// Count returns the number of points in the portion.
func (p Portion) Count() int64 { return p.End - p.Start }

// Metadata is what Inspect returns for one input file.
type Metadata struct {
	Portions   []Portion
	AABB       tilepb.AABB
	CRS        string // empty if the file declares none
	PointCount int64
	AvgMin     [3]float64
}

// StreamOptions carries the per-pipeline-run transform applied to every
// point as it is read (spec.md section 4.1): translate by -AvgMin, scale by
// RootScale, then rotate by Rotation (the inverse of the tile transform).
// If Transformer is non-nil it is applied before the offset/scale/rotation.
type StreamOptions struct {
	AvgMin        [3]float64
	Scale         float64
	Rotation      [3][3]float64
	Transformer   config.CRSTransformer
	ColorScale    float64
	HasColorScale bool
	EmitIntensity bool
	BatchSize     int
}

// BatchIterator yields point batches of bounded size, in the style of
// recordio.Scanner / bufio.Scanner: call Next until it returns false, then
// check Err.
type BatchIterator interface {
	Next() bool
	Batch() tilepb.PointBatch
	Err() error
	Close() error
}

// Reader is implemented once per supported file extension.
type Reader interface {
	// Inspect partitions the file and computes its bounding box / point
	// count without reading point data into memory beyond a bounded sniff.
	Inspect(path string) (Metadata, error)
	// Stream yields batches of <= ~1e5 points for the given portion.
	Stream(path string, portion Portion, opts StreamOptions) (BatchIterator, error)
}

// Registry dispatches readers by file extension.
type Registry struct {
	readers map[string]Reader
}

// NewRegistry returns a Registry with the standard XYZ/CSV, LAS and PLY
// readers registered.
func NewRegistry() *Registry {
	r := &Registry{readers: map[string]Reader{}}
	xyz := &XYZReader{}
	r.Register(".xyz", xyz)
	r.Register(".csv", xyz)
	r.Register(".las", &LASReader{})
	r.Register(".ply", &PLYReader{})
	return r
}

// Register associates a reader with a file extension (including the dot).
func (r *Registry) Register(ext string, rd Reader) {
	r.readers[strings.ToLower(ext)] = rd
}

// For returns the reader registered for path's extension.
func (r *Registry) For(path string) (Reader, error) {
	ext := strings.ToLower(filepath.Ext(path))
	rd, ok := r.readers[ext]
	if !ok {
		return nil, errors.E(ErrUnsupportedFormat, path)
	}
	return rd, nil
}

// ApplyTransform maps one input-space point through the CRS transform (if
// any), the -AvgMin offset, the RootScale, and the Rotation matrix, in that
// order (spec.md section 4.1).
func ApplyTransform(opts StreamOptions, x, y, z float64) (float32, float32, float32, error) {
	if opts.Transformer != nil {
		var err error
		x, y, z, err = opts.Transformer.Transform(x, y, z)
		if err != nil {
			return 0, 0, 0, err
		}
	}
	x -= opts.AvgMin[0]
	y -= opts.AvgMin[1]
	z -= opts.AvgMin[2]
	x *= opts.Scale
	y *= opts.Scale
	z *= opts.Scale
	rx := opts.Rotation[0][0]*x + opts.Rotation[0][1]*y + opts.Rotation[0][2]*z
	ry := opts.Rotation[1][0]*x + opts.Rotation[1][1]*y + opts.Rotation[1][2]*z
	rz := opts.Rotation[2][0]*x + opts.Rotation[2][1]*y + opts.Rotation[2][2]*z
	return float32(rx), float32(ry), float32(rz), nil
}

// ClampColor applies the optional color_scale multiplier then clamps to
// [0,255] (spec.md section 4.1).
func ClampColor(v uint8, opts StreamOptions) uint8 {
	if !opts.HasColorScale {
		return v
	}
	scaled := float64(v) * opts.ColorScale
	if scaled < 0 {
		return 0
	}
	if scaled > 255 {
		return 255
	}
	return uint8(scaled)
}
