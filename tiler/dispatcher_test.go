package tiler

import (
	"testing"

	"github.com/bimdata/go3dtiles/config"
	"github.com/bimdata/go3dtiles/nodestore"
	"github.com/bimdata/go3dtiles/reader"
	"github.com/bimdata/go3dtiles/tilepb"
	"github.com/stretchr/testify/require"
)

func newTestDispatcher(t *testing.T) *Dispatcher {
	t.Helper()
	store, err := nodestore.New(t.TempDir())
	require.NoError(t, err)
	state := NewState(nil) // no portions: reading is already "finished"
	meta := config.SharedMetadata{CacheSizeBytes: 1 << 30}
	return NewDispatcher(state, store, meta, config.DefaultMaxPointsInProgress, 4)
}

func TestCanWriteBlockedByInFlightAncestor(t *testing.T) {
	d := newTestDispatcher(t)
	d.State.NodeToProcess[tilepb.RootName] = &processEntry{}

	require.False(t, d.canWrite("00", tilepb.RootName), "root is still queued, an ancestor of 00")
}

func TestCanWriteRequiresFinishedToBeAncestor(t *testing.T) {
	d := newTestDispatcher(t)
	require.False(t, d.canWrite("00", "1"), "1 is not an ancestor of 00")
	require.True(t, d.canWrite("00", tilepb.RootName))
}

func TestDispatchProcessedPromotesWhenNothingElseOutstanding(t *testing.T) {
	d := newTestDispatcher(t)
	require.NoError(t, d.ApplyResult(Result{Kind: ResultProcessed, ProcessedName: "0", ProcessedData: []byte("x"), ProcessedTotal: 3}))

	require.Contains(t, d.State.ReadyToWrite, tilepb.NodeName("0"))
	require.Empty(t, d.State.WaitingToWrite)
}

func TestDispatchProcessedHoldsRootForever(t *testing.T) {
	d := newTestDispatcher(t)
	require.NoError(t, d.ApplyResult(Result{Kind: ResultProcessed, ProcessedName: tilepb.RootName, ProcessedData: []byte("x"), ProcessedTotal: 3}))

	require.Empty(t, d.State.ReadyToWrite)
	require.Empty(t, d.State.WaitingToWrite)
}

func TestDispatchProcessedIgnoresUnrelatedSiblingStillQueued(t *testing.T) {
	d := newTestDispatcher(t)
	d.State.NodeToProcess["01"] = &processEntry{} // unrelated sibling, not an ancestor of "00"

	require.NoError(t, d.ApplyResult(Result{Kind: ResultProcessed, ProcessedName: "00", ProcessedData: []byte("x"), ProcessedTotal: 1}))

	require.Contains(t, d.State.ReadyToWrite, tilepb.NodeName("00"), "an unrelated sibling in flight does not block writing 00")
}

func TestDispatchProcessedBlocksOnInFlightAncestor(t *testing.T) {
	d := newTestDispatcher(t)
	d.State.NodeToProcess[tilepb.RootName] = &processEntry{} // ancestor of "00" still queued

	require.NoError(t, d.ApplyResult(Result{Kind: ResultProcessed, ProcessedName: "00", ProcessedData: []byte("x"), ProcessedTotal: 1}))

	require.Empty(t, d.State.ReadyToWrite)
	require.Contains(t, d.State.WaitingToWrite, tilepb.NodeName("00"))
}

func TestNextProcessTaskPrefersDeepestNodesFirst(t *testing.T) {
	d := newTestDispatcher(t)
	d.State.NodeToProcess["0"] = &processEntry{PointCount: 1}
	d.State.NodeToProcess["01"] = &processEntry{PointCount: 1}
	d.State.NodeToProcess["012"] = &processEntry{PointCount: 1}

	task, ok := d.nextProcessTask()
	require.True(t, ok)
	require.Len(t, task.ProcessJobs, 3)
	require.Equal(t, tilepb.NodeName("012"), task.ProcessJobs[0].Name)
	require.Equal(t, tilepb.NodeName("01"), task.ProcessJobs[1].Name)
	require.Equal(t, tilepb.NodeName("0"), task.ProcessJobs[2].Name)
}

func TestNextReadTaskPopsFromBackAndUpdatesCounters(t *testing.T) {
	d := newTestDispatcher(t)
	d.State.FilePortions = []reader.Portion{{File: "a.xyz", Start: 0, End: 10}, {File: "b.xyz", Start: 0, End: 20}}

	task := d.nextReadTask()
	require.Equal(t, "b.xyz", task.ReadFile)
	require.Equal(t, int64(20), d.State.PointsInProgress)
	require.Equal(t, 1, d.State.ReadingJobs)
	require.Len(t, d.State.FilePortions, 1)
}
