package tiler

import (
	"sort"
	"time"

	"github.com/bimdata/go3dtiles/config"
	"github.com/bimdata/go3dtiles/nodestore"
	"github.com/bimdata/go3dtiles/tilepb"
	"github.com/grailbio/base/errors"
)

// targetProcessBatchPoints bounds how many points one PROCESS task bundles
// across however many nodes it takes to reach it (original's
// send_points_to_process target_count).
const targetProcessBatchPoints = 100_000

// Dispatcher owns State and the NodeStore, and implements spec.md §4.4's
// three-tier dispatch policy: write first, then process, then read,
// bounded by MaxPointsInProgress/MaxReadingJobs. Grounded on
// original_source's PointTiler (send_file_to_read / send_points_to_process
// / send_pnts_to_write / process_message / dispatch_processed_nodes).
type Dispatcher struct {
	State *State
	Store *nodestore.Store
	Meta  config.SharedMetadata

	MaxPointsInProgress int64
	MaxReadingJobs      int

	PointsWrittenTotal int64
}

// NewDispatcher wires a Dispatcher from already-inspected file portions.
func NewDispatcher(state *State, store *nodestore.Store, meta config.SharedMetadata, maxPointsInProgress int64, maxReadingJobs int) *Dispatcher {
	return &Dispatcher{
		State:               state,
		Store:               store,
		Meta:                meta,
		MaxPointsInProgress: maxPointsInProgress,
		MaxReadingJobs:      maxReadingJobs,
	}
}

// NextTasks returns every Task immediately dispatchable this round, in
// priority order: drain ReadyToWrite, then bundle eligible NodeToProcess
// entries into PROCESS tasks, then top up with READ tasks up to the
// concurrency caps (spec.md §4.4's get_tasks).
func (d *Dispatcher) NextTasks() ([]Task, error) {
	var tasks []Task

	for len(d.State.ReadyToWrite) > 0 {
		t, err := d.nextWriteTask()
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}

	for {
		t, ok := d.nextProcessTask()
		if !ok {
			break
		}
		tasks = append(tasks, t)
	}

	for d.State.CanAddReadingJobs(d.MaxPointsInProgress, d.MaxReadingJobs) {
		tasks = append(tasks, d.nextReadTask())
	}

	return tasks, nil
}

func (d *Dispatcher) nextWriteTask() (Task, error) {
	n := len(d.State.ReadyToWrite)
	name := d.State.ReadyToWrite[n-1]
	d.State.ReadyToWrite = d.State.ReadyToWrite[:n-1]

	data, err := d.Store.Get(name)
	if err != nil {
		return Task{}, errors.E(err, "tiler: fetch node for write", name)
	}
	if len(data) == 0 {
		return Task{}, errors.E("tiler: node has no data to write", name)
	}
	d.Store.Remove(name)
	d.State.WritingJobs++
	return Task{Kind: TaskWrite, WriteName: name, WriteData: data}, nil
}

// nextProcessTask bundles eligible NodeToProcess entries (those not
// already checked out to a worker) into one Task, deepest node names
// first, stopping once targetProcessBatchPoints is reached. spec.md §4.4
// is explicit that deepest-first keeps the working set narrow and enables
// early finalization of leaves; this overrides original_source's actual
// "root nodes first" comment the same way the grid rebalance threshold
// does (see DESIGN.md's Open Questions resolved).
func (d *Dispatcher) nextProcessTask() (Task, bool) {
	var names []tilepb.NodeName
	for name := range d.State.NodeToProcess {
		if _, busy := d.State.Processing[name]; !busy {
			names = append(names, name)
		}
	}
	if len(names) == 0 {
		return Task{}, false
	}
	sort.Slice(names, func(i, j int) bool {
		if len(names[i]) != len(names[j]) {
			return len(names[i]) > len(names[j])
		}
		return names[i] < names[j]
	})

	var jobs []ProcessJob
	count := 0
	for _, name := range names {
		if count >= targetProcessBatchPoints {
			break
		}
		entry := d.State.NodeToProcess[name]
		stored, err := d.Store.Get(name)
		if err != nil {
			stored = nil // best-effort: treat an unreadable snapshot as "not yet persisted"
		}
		jobs = append(jobs, ProcessJob{
			Name:       name,
			StoredData: stored,
			Batches:    entry.Batches,
			PointCount: entry.PointCount,
		})
		count += entry.PointCount

		delete(d.State.NodeToProcess, name)
		d.State.Processing[name] = &processingEntry{
			TaskCount:  len(entry.Batches),
			PointCount: entry.PointCount,
			StartedAt:  time.Now(),
		}
		removeByValue(&d.State.WaitingToWrite, name)
	}
	if len(jobs) == 0 {
		return Task{}, false
	}
	return Task{Kind: TaskProcess, ProcessJobs: jobs}, true
}

func (d *Dispatcher) nextReadTask() Task {
	n := len(d.State.FilePortions)
	p := d.State.FilePortions[n-1]
	d.State.FilePortions = d.State.FilePortions[:n-1]
	d.State.PointsInProgress += p.Count()
	d.State.ReadingJobs++
	return Task{Kind: TaskRead, ReadFile: p.File, ReadPortion: p}
}

// ApplyResult folds one worker Result into dispatcher state (spec.md
// §4.4's process_message).
func (d *Dispatcher) ApplyResult(r Result) error {
	switch r.Kind {
	case ResultReadDone:
		d.State.ReadingJobs--

	case ResultProcessed:
		d.State.PointsProcessed += int64(r.ProcessedTotal)
		d.State.PointsInProgress -= int64(r.ProcessedTotal)
		delete(d.State.Processing, r.ProcessedName)
		if err := d.dispatchProcessed(r.ProcessedName, r.ProcessedData); err != nil {
			return err
		}

	case ResultWritten:
		d.PointsWrittenTotal += int64(r.WrittenTotal)
		d.State.WritingJobs--

	case ResultNewTask:
		d.State.AddTaskToProcess(r.NewTaskName, r.NewTaskBatch)

	case ResultError:
		return r.Err

	default:
		return errors.E("tiler: unknown result kind")
	}
	return nil
}

// dispatchProcessed implements spec.md §4.4's finalization rule: a
// processed node becomes writable once no node still queued or in flight
// is its ancestor, and (once reading has finished) every ancestor-free
// node already waiting can be promoted to ready in the same pass.
func (d *Dispatcher) dispatchProcessed(name tilepb.NodeName, data []byte) error {
	if name.IsRoot() {
		return nil // the root is never written mid-pipeline; see tileset.SynthesizeRoot.
	}

	d.Store.Put(name, data)
	d.State.WaitingToWrite = append(d.State.WaitingToWrite, name)
	if err := d.Store.ControlMemory(d.Meta.CacheSizeBytes); err != nil {
		return errors.E(err, "tiler: spill node store")
	}

	if !d.State.IsReadingFinished() {
		return nil
	}

	if len(d.State.Processing) > 0 || len(d.State.NodeToProcess) > 0 {
		finished := name
		if !d.canWrite(finished, finished) {
			return nil
		}
		d.promote(len(d.State.WaitingToWrite) - 1)

		for i := len(d.State.WaitingToWrite) - 1; i >= 0; i-- {
			candidate := d.State.WaitingToWrite[i]
			if d.canWrite(candidate, finished) {
				d.promote(i)
			}
		}
		return nil
	}

	// Nothing left to process at all: every waiting node can be written.
	d.State.ReadyToWrite = append(d.State.ReadyToWrite, d.State.WaitingToWrite...)
	d.State.WaitingToWrite = nil
	return nil
}

// promote moves WaitingToWrite[i] to ReadyToWrite.
func (d *Dispatcher) promote(i int) {
	name := d.State.WaitingToWrite[i]
	d.State.WaitingToWrite = append(d.State.WaitingToWrite[:i], d.State.WaitingToWrite[i+1:]...)
	d.State.ReadyToWrite = append(d.State.ReadyToWrite, name)
}

// canWrite implements original_source's can_pnts_be_written: nodeName is
// writable once finished is its ancestor and neither NodeToProcess nor
// Processing contains an ancestor of nodeName.
func (d *Dispatcher) canWrite(nodeName, finished tilepb.NodeName) bool {
	if !finished.IsAncestorOf(nodeName) {
		return false
	}
	for n := range d.State.NodeToProcess {
		if n.IsAncestorOf(nodeName) {
			return false
		}
	}
	for n := range d.State.Processing {
		if n.IsAncestorOf(nodeName) {
			return false
		}
	}
	return true
}

func removeByValue(s *[]tilepb.NodeName, v tilepb.NodeName) {
	for i, x := range *s {
		if x == v {
			*s = append((*s)[:i], (*s)[i+1:]...)
			return
		}
	}
}
