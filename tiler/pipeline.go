package tiler

import (
	"github.com/bimdata/go3dtiles/config"
	"github.com/bimdata/go3dtiles/nodestore"
	"github.com/bimdata/go3dtiles/reader"
	"github.com/bimdata/go3dtiles/tileset"
)

// channelDepth sizes the task/result channels generously relative to the
// worker count so a round of NextTasks (which can bundle several tasks at
// once) never blocks waiting for a worker to drain a full channel while
// the dispatcher itself is blocked waiting on a result.
const channelDepth = 256

// Pipeline wires a Dispatcher to a pool of Worker goroutines and drives
// the task/result loop to completion (spec.md §4.5, reworked from an
// OS-process pool into goroutines per SPEC_FULL.md §A).
type Pipeline struct {
	Dispatcher *Dispatcher
	Worker     *Worker
	Jobs       int
}

// NewPipeline assembles a Pipeline from inspected file portions and the
// pipeline-wide root geometry.
func NewPipeline(portions []reader.Portion, registry *reader.Registry, store *nodestore.Store, meta config.SharedMetadata, jobs int) *Pipeline {
	state := NewState(portions)
	dispatcher := NewDispatcher(state, store, meta, int64(meta.MaxPointsInFlight), meta.MaxReadingJobs)
	worker := &Worker{
		Registry:           registry,
		Meta:               meta,
		SplitThreshold:     config.SplitThreshold,
		BalanceThreshold:   config.CellBalanceThreshold,
		ProcessDepthBudget: config.ProcessDepthBudget,
	}
	return &Pipeline{Dispatcher: dispatcher, Worker: worker, Jobs: jobs}
}

// Run drives the dispatcher/worker loop until every queue drains (spec.md
// §4.4's termination condition), returning the total point count flushed
// to disk.
func (p *Pipeline) Run() (int64, error) {
	tasks := make(chan Task, channelDepth)
	results := make(chan Result, channelDepth)

	for i := 0; i < p.Jobs; i++ {
		go p.Worker.RunWorker(tasks, results)
	}
	defer close(tasks)

	for !p.Dispatcher.State.Done() {
		next, err := p.Dispatcher.NextTasks()
		if err != nil {
			return 0, err
		}
		for _, t := range next {
			tasks <- t
		}
		if p.Dispatcher.State.Done() {
			break
		}
		r := <-results
		if err := p.Dispatcher.ApplyResult(r); err != nil {
			return 0, err
		}
	}
	return p.Dispatcher.PointsWrittenTotal, nil
}

// Finalize synthesizes the root tile and writes tileset.json (and any
// split sub-tileset files) once Run has completed (spec.md §4.6).
func Finalize(outDir string, meta config.SharedMetadata) error {
	f := tileset.NewFinalizer(outDir, meta, meta.WriteRGB, meta.WriteClass, meta.WriteIntensity)
	if err := f.SynthesizeRoot(); err != nil {
		return err
	}
	ts, err := f.Build()
	if err != nil {
		return err
	}
	return f.Write(ts)
}
