package tiler

import (
	"github.com/bimdata/go3dtiles/reader"
	"github.com/bimdata/go3dtiles/tilepb"
)

// TaskKind identifies which of the three worker operations a Task runs
// (spec.md §4.5): READ_FILE / PROCESS_JOBS / WRITE_PNTS in
// original_source's terms.
type TaskKind int

const (
	TaskRead TaskKind = iota
	TaskProcess
	TaskWrite
)

// ProcessJob bundles one node's accumulated incoming batches with its
// previously-persisted catalog snapshot (nil the first time a node is
// touched), mirroring one (name, node_bytes, tasks) triple from
// send_points_to_process.
type ProcessJob struct {
	Name       tilepb.NodeName
	StoredData []byte
	Batches    []tilepb.PointBatch
	PointCount int
}

// Task is the unit of work handed to a worker goroutine.
type Task struct {
	Kind TaskKind

	ReadFile    string
	ReadPortion reader.Portion

	ProcessJobs []ProcessJob

	WriteName tilepb.NodeName
	WriteData []byte
}

// ResultKind identifies the kind of outcome a worker reports back to the
// dispatcher (spec.md §4.5's READ_DONE/NEW_TASK/PROCESSED/WRITTEN/ERROR).
type ResultKind int

const (
	ResultReadDone ResultKind = iota
	ResultNewTask
	ResultProcessed
	ResultWritten
	ResultError
)

// Result is what a worker goroutine sends back on the results channel.
// Only the fields relevant to Kind are populated.
type Result struct {
	Kind ResultKind

	// ResultNewTask: points destined for NewTaskName, queued by the
	// dispatcher into node_to_process.
	NewTaskName  tilepb.NodeName
	NewTaskBatch tilepb.PointBatch

	// ResultProcessed: name's updated subtree snapshot (nil for the root,
	// which is never persisted mid-pipeline -- see tileset.SynthesizeRoot),
	// plus the point total consumed by this job (for PointsInProgress
	// accounting).
	ProcessedName  tilepb.NodeName
	ProcessedData  []byte
	ProcessedTotal int

	// ResultWritten: total points flushed to disk across every node in the
	// written subtree.
	WrittenTotal int

	Err error
}
