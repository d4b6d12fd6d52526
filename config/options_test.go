package config

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestValidateRequiresFiles(t *testing.T) {
	o := DefaultOptions()
	require.Error(t, o.Validate())
	o.Files = []string{"a.xyz"}
	require.NoError(t, o.Validate())
}

func TestValidateRejectsZeroJobs(t *testing.T) {
	o := DefaultOptions()
	o.Files = []string{"a.xyz"}
	o.Jobs = 0
	require.Error(t, o.Validate())
}

func TestCacheSizeBytesPrefersExplicitOverride(t *testing.T) {
	o := DefaultOptions()
	o.CacheSizeMB = 256
	require.Equal(t, int64(256)<<20, o.CacheSizeBytes(999))
}

func TestCacheSizeBytesDefaultsToRAMTenth(t *testing.T) {
	o := DefaultOptions()
	require.Equal(t, int64(10), o.CacheSizeBytes(100))
}

func TestMaxReadingJobsFloorsAtOne(t *testing.T) {
	o := DefaultOptions()
	o.Jobs = 1
	require.Equal(t, 1, o.MaxReadingJobs())
	o.Jobs = 9
	require.Equal(t, 4, o.MaxReadingJobs())
}
