// Package config holds the CLI-level Options and the immutable
// SharedMetadata broadcast to every worker goroutine, mirroring the
// original tiler's PointSharedMetadata plus the fusion detector's Opts
// pattern (grailbio/bio/fusion/opts.go).
package config

import (
	"fmt"
	"runtime"

	"github.com/grailbio/base/errors"
)

// DefaultMaxPointsInProgress bounds the dispatcher's total outstanding
// point count (spec.md section 5's max_points_in_progress).
const DefaultMaxPointsInProgress = 60_000_000

// SplitThreshold is the leaf-buffer point count at or above which a node
// transitions to grid state (spec.md section 3).
const SplitThreshold = 20_000

// MinSpacingScale is the minimum-spacing floor, in scale units (1mm).
const MinSpacingScale = 0.001

// CellOverflowLimit bounds a grid from exceeding 8 cells on a side.
const CellOverflowLimit = 8

// CellBalanceThreshold is the per-cell point count that triggers a grid
// rebalance (spec.md section 3).
const CellBalanceThreshold = 100_000

// PruneThreshold is the point count below which a deep leaf tile is merged
// into its parent during tileset finalization (spec.md section 4.6).
const PruneThreshold = 100

// MaxTilesetJSONBytes is the approximate serialized-size threshold above
// which a tile's subtree is split into its own tileset.<name>.json file.
const MaxTilesetJSONBytes = 100_000

// ReadBatchSize bounds the number of points yielded per Stream call.
const ReadBatchSize = 100_000

// PortionSize bounds the number of points a single file portion covers.
const PortionSize = 1_000_000

// ProcessDepthBudget bounds how many levels a single PROCESS task may
// recurse into while flushing pending points before it stops and emits the
// remainder as new tasks back to the dispatcher. This keeps one job's
// memory/CPU footprint bounded regardless of how deep a local point burst
// would otherwise cascade (spec.md §4.5's "locally-loaded subtree").
const ProcessDepthBudget = 5

// Options are the raw CLI-level knobs (spec.md section 6).
type Options struct {
	Files          []string
	OutDir         string
	Overwrite      bool
	Jobs           int
	CacheSizeMB    int
	SRSIn          string
	SRSOut         string
	ForceSRSIn     bool
	NoRGB          bool
	Classification bool
	Intensity      bool
	ColorScale     float64
	HasColorScale  bool
	Benchmark      string
	Verbosity      int
}

// DefaultOptions returns the flag defaults documented in spec.md section 6.
func DefaultOptions() Options {
	return Options{
		OutDir: "./3dtiles",
		Jobs:   runtime.NumCPU(),
	}
}

// Validate checks required/derived invariants that don't depend on having
// read any input file yet.
func (o *Options) Validate() error {
	if len(o.Files) == 0 {
		return errors.E("convert: at least one input file is required")
	}
	if o.Jobs < 1 {
		return errors.E(fmt.Sprintf("convert: --jobs must be >= 1, got %d", o.Jobs))
	}
	return nil
}

// CacheSizeBytes returns the configured (or default, RAM/10) NodeStore
// budget in bytes.
func (o *Options) CacheSizeBytes(totalRAMBytes uint64) int64 {
	if o.CacheSizeMB > 0 {
		return int64(o.CacheSizeMB) * 1 << 20
	}
	return int64(totalRAMBytes / 10)
}

// MaxReadingJobs is the spec.md section 4.4 reading-job cap: max(1, jobs/2).
func (o *Options) MaxReadingJobs() int {
	if o.Jobs/2 < 1 {
		return 1
	}
	return o.Jobs / 2
}
