package tiler

import (
	"os"
	"path/filepath"

	"github.com/bimdata/go3dtiles/config"
	"github.com/bimdata/go3dtiles/node"
	"github.com/bimdata/go3dtiles/reader"
	"github.com/bimdata/go3dtiles/tilepb"
	"github.com/bimdata/go3dtiles/tileset/pnts"
	"github.com/grailbio/base/errors"
)

// Worker executes Tasks against a shared reader registry and the
// pipeline-wide root geometry. One Worker instance is safe to share across
// goroutines since it is stateless; RunWorker spawns the per-goroutine
// loop.
type Worker struct {
	Registry *reader.Registry
	Meta     config.SharedMetadata

	SplitThreshold     int
	BalanceThreshold   int
	ProcessDepthBudget int
}

// RunWorker pulls Tasks from tasks until the channel closes, sending one or
// more Results per task to results. Spawned as a goroutine by the pipeline
// (spec.md §4.5's worker pool, reworked from an OS-process pool into
// goroutines per SPEC_FULL.md §A).
func (w *Worker) RunWorker(tasks <-chan Task, results chan<- Result) {
	for t := range tasks {
		switch t.Kind {
		case TaskRead:
			w.executeRead(t, results)
		case TaskProcess:
			w.executeProcess(t, results)
		case TaskWrite:
			w.executeWrite(t, results)
		}
	}
}

func (w *Worker) executeRead(t Task, results chan<- Result) {
	rd, err := w.Registry.For(t.ReadFile)
	if err != nil {
		results <- Result{Kind: ResultError, Err: err}
		return
	}

	opts := reader.StreamOptions{
		AvgMin:        w.Meta.AvgMin,
		Scale:         w.Meta.RootScale,
		Rotation:      w.Meta.RotationApply,
		ColorScale:    w.Meta.ColorScale,
		HasColorScale: w.Meta.HasColorScale,
		EmitIntensity: w.Meta.WriteIntensity,
		BatchSize:     config.ReadBatchSize,
	}
	it, err := rd.Stream(t.ReadFile, t.ReadPortion, opts)
	if err != nil {
		results <- Result{Kind: ResultError, Err: err}
		return
	}
	defer it.Close()

	for it.Next() {
		results <- Result{Kind: ResultNewTask, NewTaskName: tilepb.RootName, NewTaskBatch: it.Batch()}
	}
	if err := it.Err(); err != nil {
		results <- Result{Kind: ResultError, Err: err}
		return
	}
	results <- Result{Kind: ResultReadDone}
}

func (w *Worker) executeProcess(t Task, results chan<- Result) {
	for _, job := range t.ProcessJobs {
		w.executeProcessJob(job, results)
	}
}

func (w *Worker) executeProcessJob(job ProcessJob, results chan<- Result) {
	var cat *node.Catalog
	if len(job.StoredData) > 0 {
		var err error
		cat, err = node.Decode(job.StoredData, w.Meta.RootAABB, w.Meta.RootSpacing)
		if err != nil {
			results <- Result{Kind: ResultError, Err: errors.E(err, "tiler: decode stored node", job.Name)}
			return
		}
	} else {
		cat = node.NewCatalog(w.Meta.RootAABB, w.Meta.RootSpacing)
	}

	n := cat.GetNode(job.Name)
	for _, batch := range job.Batches {
		n.Insert(batch, w.Meta.RootScale, w.SplitThreshold, w.BalanceThreshold)
	}

	if n.IsGridState() {
		spillover := map[tilepb.NodeName]tilepb.PointBatch{}
		cat.FlushPending(job.Name, w.Meta.RootScale, w.SplitThreshold, w.BalanceThreshold, w.ProcessDepthBudget, spillover)
		for name, batch := range spillover {
			results <- Result{Kind: ResultNewTask, NewTaskName: name, NewTaskBatch: batch}
		}
	}

	var data []byte
	if !job.Name.IsRoot() {
		data = node.Encode(cat)
	}

	results <- Result{
		Kind:           ResultProcessed,
		ProcessedName:  job.Name,
		ProcessedData:  data,
		ProcessedTotal: job.PointCount,
	}
}

func (w *Worker) executeWrite(t Task, results chan<- Result) {
	cat, err := node.Decode(t.WriteData, w.Meta.RootAABB, w.Meta.RootSpacing)
	if err != nil {
		results <- Result{Kind: ResultError, Err: errors.E(err, "tiler: decode write payload", t.WriteName)}
		return
	}

	total := 0
	for name, n := range cat.Nodes() {
		points := n.Points()
		encoded := pnts.Encode(points, w.Meta.WriteRGB, w.Meta.WriteClass, w.Meta.WriteIntensity)
		path := filepath.Join(w.Meta.OutFolder, filepath.FromSlash(name.JoinPathShard(".pnts")))
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			results <- Result{Kind: ResultError, Err: errors.E(err, "tiler: mkdir for tile", name)}
			return
		}
		if err := os.WriteFile(path, encoded, 0o644); err != nil {
			results <- Result{Kind: ResultError, Err: errors.E(err, "tiler: write tile", name)}
			return
		}
		total += points.Len()
	}

	results <- Result{Kind: ResultWritten, WrittenTotal: total}
}
