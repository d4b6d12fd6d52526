// Copyright 2020 Grail Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package main

/*
convert reads one or more point-cloud files (XYZ/CSV, LAS, PLY) and tiles
them into a 3D Tiles point-cloud tileset: a hierarchical tileset.json plus
per-node .pnts files, built by streaming every point through an out-of-core
octree/quadtree without ever holding the whole dataset in memory.
*/

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/bimdata/go3dtiles/config"
	"github.com/bimdata/go3dtiles/nodestore"
	"github.com/bimdata/go3dtiles/reader"
	"github.com/bimdata/go3dtiles/tilepb"
	"github.com/bimdata/go3dtiles/tiler"
	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/grail"
	"github.com/grailbio/base/log"
)

// exit codes (spec.md section 6)
const (
	exitMissingOptionalDep = 1
	exitMissingArgument    = 2
	exitUnspecifiedError   = 3
	exitMissingInputSRS    = 10
)

// errOptionalDependency tags errors that should exit with
// exitMissingOptionalDep rather than the generic exitUnspecifiedError.
var errOptionalDependency = errors.E("MISSING_OPTIONAL_DEPENDENCY")

// verbosity is a repeatable -v counter flag (-v -v -v raises it to 3).
type verbosity int

func (v *verbosity) String() string { return strconv.Itoa(int(*v)) }
func (v *verbosity) Set(string) error {
	*v++
	return nil
}
func (v *verbosity) IsBoolFlag() bool { return true } // so "-v" needs no argument

var (
	outDir         = flag.String("out", "./3dtiles", "Output folder")
	overwrite      = flag.Bool("overwrite", false, "Delete an existing non-empty output folder first")
	jobs           = flag.Int("jobs", 0, "Worker count; 0 = runtime.NumCPU()")
	cacheSizeMB    = flag.Int("cache_size", 0, "NodeStore budget per process, in MB; 0 = RAM/10")
	srsIn          = flag.String("srs_in", "", "Override/assume input CRS (EPSG numeric or Proj4 string)")
	srsOut         = flag.String("srs_out", "", "Target CRS for tiles (EPSG numeric)")
	forceSRSIn     = flag.Bool("force-srs-in", false, "Accept mixed input CRSes")
	noRGB          = flag.Bool("no-rgb", false, "Do not write RGB color to tiles")
	classification = flag.Bool("classification", false, "Write classification byte to tiles")
	intensity      = flag.Bool("intensity", false, "Write intensity byte to tiles")
	colorScale     = flag.Float64("color_scale", 0, "Multiplier applied to RGB before clamping to [0,255]; 0 = disabled")
	benchmark      = flag.String("benchmark", "", "Tag to print a final stats line under, for scripted benchmarking")
	verbose        verbosity
)

func convertUsage() {
	fmt.Printf("Usage: %s [OPTIONS] file [file...]\n", os.Args[0])
	fmt.Printf("Tiles one or more point-cloud files into a 3D Tiles point-cloud tileset.\n")
	fmt.Printf("Other options:\n")
	flag.PrintDefaults()
}

func main() {
	flag.Var(&verbose, "v", "Verbosity; repeat for more detail")
	flag.Usage = convertUsage
	shutdown := grail.Init()
	defer shutdown()

	files := flag.Args()
	if len(files) == 0 {
		fmt.Fprintln(os.Stderr, "convert: at least one input file is required")
		os.Exit(exitMissingArgument)
	}

	opts := config.DefaultOptions() // OutDir/Jobs defaults; overridden below where flags were set
	opts.Files = files
	opts.OutDir = *outDir
	opts.Overwrite = *overwrite
	if *jobs > 0 {
		opts.Jobs = *jobs
	}
	opts.CacheSizeMB = *cacheSizeMB
	opts.SRSIn = *srsIn
	opts.SRSOut = *srsOut
	opts.ForceSRSIn = *forceSRSIn
	opts.NoRGB = *noRGB
	opts.Classification = *classification
	opts.Intensity = *intensity
	if *colorScale != 0 {
		opts.ColorScale = *colorScale
		opts.HasColorScale = true
	}
	opts.Benchmark = *benchmark
	opts.Verbosity = int(verbose)

	if err := opts.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitMissingArgument)
	}

	if err := run(opts); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(classifyExit(err))
	}
}

// classifyExit maps a sentinel error's message prefix to the exit code
// spec.md section 6 assigns it. Every other error is "unspecified".
func classifyExit(err error) int {
	msg := err.Error()
	switch {
	case strings.Contains(msg, "MISSING_INPUT_SRS"):
		return exitMissingInputSRS
	case strings.Contains(msg, "MISSING_OPTIONAL_DEPENDENCY"):
		return exitMissingOptionalDep
	default:
		return exitUnspecifiedError
	}
}

func run(opts config.Options) error {
	if err := prepareOutDir(opts); err != nil {
		return err
	}

	registry := reader.NewRegistry()
	agg, err := inspectAll(registry, opts)
	if err != nil {
		return err
	}
	log.Printf("convert: inspected %d file(s), %d points total", len(opts.Files), agg.pointCount)

	// Only EPSG:4978 (geocentric) output is supported without an actual CRS
	// transform, by aligning the tile rotation to the input's own geocentric
	// normal (config.DeriveRootGeometry). Any other --srs_out would require a
	// real reprojection library, which has no home anywhere in the example
	// pack (see DESIGN.md); config.CRSTransformer stays interface-only.
	if opts.SRSOut != "" && opts.SRSOut != "4978" {
		return errors.E(errOptionalDependency, "convert: --srs_out", opts.SRSOut, "requires a CRS reprojection library that is not available")
	}
	geocentric := opts.SRSOut == "4978"
	meta := config.DeriveRootGeometry(agg.aabb, agg.avgMin, geocentric)
	meta.OutFolder = opts.OutDir
	meta.CacheSizeBytes = opts.CacheSizeBytes(config.TotalRAMBytes())
	meta.WriteRGB = !opts.NoRGB
	meta.WriteClass = opts.Classification
	meta.WriteIntensity = opts.Intensity
	meta.ColorScale = opts.ColorScale
	meta.HasColorScale = opts.HasColorScale
	meta.Verbosity = opts.Verbosity
	meta.MaxPointsInFlight = config.DefaultMaxPointsInProgress
	meta.MaxReadingJobs = opts.MaxReadingJobs()

	workDir := filepath.Join(opts.OutDir, "tmp", "points")
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return errors.E(err, "convert: create working directory", workDir)
	}
	store, err := nodestore.New(workDir)
	if err != nil {
		return err
	}
	defer store.Close()

	pipeline := tiler.NewPipeline(agg.portions, registry, store, meta, opts.Jobs)
	written, err := pipeline.Run()
	if err != nil {
		return errors.E(err, "convert: pipeline run")
	}
	if written != agg.pointCount {
		return errors.E(fmt.Sprintf("convert: point accounting mismatch: wrote %d, readers reported %d", written, agg.pointCount))
	}

	if err := tiler.Finalize(opts.OutDir, meta); err != nil {
		return errors.E(err, "convert: finalize tileset")
	}

	if opts.Benchmark != "" {
		fmt.Printf("benchmark,%s,points=%d,jobs=%d\n", opts.Benchmark, written, opts.Jobs)
	}
	log.Printf("convert: wrote %d points to %s", written, opts.OutDir)
	return nil
}

// prepareOutDir implements the FOLDER_NOT_EMPTY rule from spec.md section 8
// scenario 6: a non-empty output directory is an error unless --overwrite is
// set, in which case it is removed first.
func prepareOutDir(opts config.Options) error {
	entries, err := os.ReadDir(opts.OutDir)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return errors.E(err, "convert: stat output directory", opts.OutDir)
	}
	if len(entries) == 0 {
		return nil
	}
	if !opts.Overwrite {
		return errors.E("FOLDER_NOT_EMPTY: output directory is not empty, pass --overwrite to replace it", opts.OutDir)
	}
	if err := os.RemoveAll(opts.OutDir); err != nil {
		return errors.E(err, "convert: remove existing output directory", opts.OutDir)
	}
	return nil
}

// inspected combines reader.Metadata across every input file: a global
// AABB, total point count, all portions to dispatch, and the average
// per-file minimum corner (the offset DeriveRootGeometry centers the tile
// tree on).
type inspected struct {
	aabb       tilepb.AABB
	pointCount int64
	portions   []reader.Portion
	avgMin     [3]float64
	crsSeen    map[string]bool
}

func inspectAll(registry *reader.Registry, opts config.Options) (*inspected, error) {
	result := &inspected{crsSeen: map[string]bool{}}
	var sumMin [3]float64

	for _, path := range opts.Files {
		rd, err := registry.For(path)
		if err != nil {
			return nil, err
		}
		md, err := rd.Inspect(path)
		if err != nil {
			return nil, errors.E(err, "convert: inspect", path)
		}

		crs := md.CRS
		if opts.SRSIn != "" {
			crs = opts.SRSIn
		}
		if crs != "" {
			result.crsSeen[crs] = true
		}

		if result.pointCount == 0 {
			result.aabb = md.AABB
		} else {
			result.aabb.Add(md.AABB)
		}
		result.pointCount += md.PointCount
		result.portions = append(result.portions, md.Portions...)
		for i := 0; i < 3; i++ {
			sumMin[i] += md.AvgMin[i]
		}
	}

	for i := 0; i < 3; i++ {
		result.avgMin[i] = sumMin[i] / float64(len(opts.Files))
	}
	result.aabb.MakeValid()

	if opts.SRSOut != "" {
		if len(result.crsSeen) == 0 {
			return nil, reader.ErrMissingInputSRS
		}
		if len(result.crsSeen) > 1 && !opts.ForceSRSIn {
			return nil, reader.ErrMixedInputSRS
		}
	}

	return result, nil
}
