package tiler

import (
	"testing"

	"github.com/bimdata/go3dtiles/reader"
	"github.com/bimdata/go3dtiles/tilepb"
	"github.com/stretchr/testify/require"
)

func TestStateDoneRequiresEveryQueueEmpty(t *testing.T) {
	s := NewState([]reader.Portion{{File: "a.xyz", Start: 0, End: 10}})
	require.False(t, s.Done(), "unread portions remain")

	s.FilePortions = nil
	require.True(t, s.Done())

	s.AddTaskToProcess(tilepb.RootName, tilepb.PointBatch{XYZ: []float32{0, 0, 0}})
	require.False(t, s.Done(), "a node is queued to process")
}

func TestCanAddReadingJobsRespectsCaps(t *testing.T) {
	s := NewState([]reader.Portion{{File: "a.xyz", Start: 0, End: 100}})
	require.True(t, s.CanAddReadingJobs(1000, 2))

	s.PointsInProgress = 1000
	require.False(t, s.CanAddReadingJobs(1000, 2))

	s.PointsInProgress = 0
	s.ReadingJobs = 2
	require.False(t, s.CanAddReadingJobs(1000, 2))
}

func TestAddTaskToProcessAccumulatesAcrossCalls(t *testing.T) {
	s := NewState(nil)
	s.AddTaskToProcess(tilepb.RootName, tilepb.PointBatch{XYZ: []float32{0, 0, 0}})
	s.AddTaskToProcess(tilepb.RootName, tilepb.PointBatch{XYZ: []float32{1, 1, 1, 2, 2, 2}})

	entry := s.NodeToProcess[tilepb.RootName]
	require.Equal(t, 3, entry.PointCount)
	require.Len(t, entry.Batches, 2)
}
