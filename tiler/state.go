// Package tiler implements spec.md §4.4/§4.5: the dispatcher's queues and
// dispatch policy, and the worker pool that executes READ/PROCESS/WRITE
// tasks. The N+1-OS-process/ZeroMQ design in spec.md §5 is replaced with
// goroutines and buffered channels (see SPEC_FULL.md §A); every ordering
// and ownership guarantee spec.md describes is preserved, only the
// transport changes.
package tiler

import (
	"time"

	"github.com/bimdata/go3dtiles/reader"
	"github.com/bimdata/go3dtiles/tilepb"
)

// processEntry accumulates the work queued for one node awaiting dispatch
// (spec.md §4.4's node_to_process). Batches are held as native PointBatch
// values rather than serialized bytes: goroutines share an address space,
// so the pickled-bytes wire format the original process-pool design needed
// has no reason to exist here (see SPEC_FULL.md §A).
type processEntry struct {
	Batches    []tilepb.PointBatch
	PointCount int
}

// processingEntry tracks a node currently checked out to a worker (spec.md
// §4.4's processing).
type processingEntry struct {
	TaskCount  int
	PointCount int
	StartedAt  time.Time
}

// State holds the six queues/sets spec.md §4.4 names, keyed by node name.
// It is owned exclusively by the Dispatcher goroutine; no worker ever
// reaches into it directly (SPEC_FULL.md §A's "interior-mutable shared
// maps become owned-by-dispatcher state").
type State struct {
	FilePortions []reader.Portion // LIFO: pop from the back

	NodeToProcess map[tilepb.NodeName]*processEntry
	Processing    map[tilepb.NodeName]*processingEntry
	WaitingToWrite []tilepb.NodeName
	ReadyToWrite   []tilepb.NodeName

	ReadingJobs      int
	WritingJobs      int
	PointsInProgress int64
	PointsProcessed  int64
	PointsWritten    int64

	InitialPortionCount int
	readingFinished     bool
}

// NewState seeds a State with the initial file portions to read.
func NewState(portions []reader.Portion) *State {
	return &State{
		FilePortions:  append([]reader.Portion{}, portions...),
		NodeToProcess: map[tilepb.NodeName]*processEntry{},
		Processing:    map[tilepb.NodeName]*processingEntry{},
		InitialPortionCount: len(portions),
	}
}

// IsReadingFinished reports whether every portion has been popped and no
// read task is still in flight.
func (s *State) IsReadingFinished() bool {
	return len(s.FilePortions) == 0 && s.ReadingJobs == 0
}

// CanAddReadingJobs implements spec.md §4.4's read-dispatch guard.
func (s *State) CanAddReadingJobs(maxPointsInProgress int64, maxReadingJobs int) bool {
	return s.PointsInProgress < maxPointsInProgress &&
		s.ReadingJobs < maxReadingJobs &&
		len(s.FilePortions) > 0
}

// AddTaskToProcess implements spec.md §4.4's NEW_TASK ingestion: append the
// batch to the node's queue.
func (s *State) AddTaskToProcess(name tilepb.NodeName, batch tilepb.PointBatch) {
	e, ok := s.NodeToProcess[name]
	if !ok {
		e = &processEntry{}
		s.NodeToProcess[name] = e
	}
	e.Batches = append(e.Batches, batch)
	e.PointCount += batch.Len()
}

// Done reports the pipeline termination condition (spec.md §4.4): every
// queue empty, reading finished, nothing processing or waiting.
func (s *State) Done() bool {
	return s.IsReadingFinished() &&
		len(s.NodeToProcess) == 0 &&
		len(s.Processing) == 0 &&
		len(s.WaitingToWrite) == 0 &&
		len(s.ReadyToWrite) == 0 &&
		s.WritingJobs == 0
}
