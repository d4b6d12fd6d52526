package tiler

import (
	"testing"

	"github.com/bimdata/go3dtiles/config"
	"github.com/bimdata/go3dtiles/tilepb"
	"github.com/stretchr/testify/require"
)

func unitAABB() tilepb.AABB {
	return tilepb.AABB{Min: [3]float64{0, 0, 0}, Max: [3]float64{1, 1, 1}}
}

func testWorker() *Worker {
	return &Worker{
		Meta: config.SharedMetadata{
			RootAABB:    unitAABB(),
			RootSpacing: 0.1,
			WriteRGB:    true,
		},
		SplitThreshold:     config.SplitThreshold,
		BalanceThreshold:   config.CellBalanceThreshold,
		ProcessDepthBudget: config.ProcessDepthBudget,
	}
}

func TestExecuteProcessJobRootNeverSerializes(t *testing.T) {
	w := testWorker()
	results := make(chan Result, 8)
	job := ProcessJob{
		Name:       tilepb.RootName,
		Batches:    []tilepb.PointBatch{{XYZ: []float32{0.1, 0.1, 0.1}}},
		PointCount: 1,
	}
	w.executeProcessJob(job, results)

	r := <-results
	require.Equal(t, ResultProcessed, r.Kind)
	require.Equal(t, tilepb.RootName, r.ProcessedName)
	require.Nil(t, r.ProcessedData, "root's catalog bytes are never persisted mid-pipeline")
	require.Equal(t, 1, r.ProcessedTotal)
}

func TestExecuteProcessJobNonRootEncodesCatalog(t *testing.T) {
	w := testWorker()
	results := make(chan Result, 8)
	job := ProcessJob{
		Name:       "0",
		Batches:    []tilepb.PointBatch{{XYZ: []float32{0.1, 0.1, 0.1}}},
		PointCount: 1,
	}
	w.executeProcessJob(job, results)

	r := <-results
	require.Equal(t, ResultProcessed, r.Kind)
	require.NotEmpty(t, r.ProcessedData)
}

func TestExecuteProcessJobEmitsSpilloverPastSplitThreshold(t *testing.T) {
	w := testWorker()
	w.SplitThreshold = 2
	w.ProcessDepthBudget = 0 // force every routed child past budget into spillover
	results := make(chan Result, 32)

	var batch tilepb.PointBatch
	for i := 0; i < 4; i++ {
		v := float32(i) / 20 // tightly clustered near the min corner, same octant
		batch.XYZ = append(batch.XYZ, v, v, v)
	}
	job := ProcessJob{Name: tilepb.RootName, Batches: []tilepb.PointBatch{batch}, PointCount: 4}
	w.executeProcessJob(job, results)

	sawNewTask, sawProcessed := false, false
	close(results)
	for r := range results {
		switch r.Kind {
		case ResultNewTask:
			sawNewTask = true
		case ResultProcessed:
			sawProcessed = true
		}
	}
	require.True(t, sawProcessed)
	require.True(t, sawNewTask, "points rejected by the grid past the depth budget must spill back as NEW_TASK")
}
