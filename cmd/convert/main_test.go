package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/bimdata/go3dtiles/config"
	"github.com/bimdata/go3dtiles/reader"
	"github.com/grailbio/base/errors"
	"github.com/stretchr/testify/require"
)

func TestClassifyExitMapsSentinels(t *testing.T) {
	require.Equal(t, exitMissingInputSRS, classifyExit(reader.ErrMissingInputSRS))
	require.Equal(t, exitMissingOptionalDep, classifyExit(errOptionalDependency))
	require.Equal(t, exitUnspecifiedError, classifyExit(errors.E("convert: something else broke")))
}

func TestPrepareOutDirAllowsMissingOrEmptyDir(t *testing.T) {
	base := t.TempDir()
	missing := filepath.Join(base, "nope")
	require.NoError(t, prepareOutDir(config.Options{OutDir: missing}))

	empty := filepath.Join(base, "empty")
	require.NoError(t, os.Mkdir(empty, 0o755))
	require.NoError(t, prepareOutDir(config.Options{OutDir: empty}))
}

func TestPrepareOutDirRejectsNonEmptyWithoutOverwrite(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "old.pnts"), []byte("x"), 0o644))

	err := prepareOutDir(config.Options{OutDir: dir})
	require.Error(t, err)
	require.Contains(t, err.Error(), "FOLDER_NOT_EMPTY")
}

func TestPrepareOutDirOverwriteClearsDir(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "old.pnts"), []byte("x"), 0o644))

	require.NoError(t, prepareOutDir(config.Options{OutDir: dir, Overwrite: true}))
	_, err := os.Stat(dir)
	require.True(t, os.IsNotExist(err))
}

func writeXYZInput(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "in.xyz")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func TestInspectAllAggregatesAcrossFiles(t *testing.T) {
	a := writeXYZInput(t, "0 0 0\n1 1 1\n")
	b := writeXYZInput(t, "-1 -1 -1\n2 2 2\n")

	opts := config.DefaultOptions()
	opts.Files = []string{a, b}

	agg, err := inspectAll(reader.NewRegistry(), opts)
	require.NoError(t, err)
	require.Equal(t, int64(4), agg.pointCount)
	require.Equal(t, [3]float64{-1, -1, -1}, agg.aabb.Min)
	require.Equal(t, [3]float64{2, 2, 2}, agg.aabb.Max)
}

func TestInspectAllRejectsMissingSRSWhenSRSOutRequested(t *testing.T) {
	a := writeXYZInput(t, "0 0 0\n")
	opts := config.DefaultOptions()
	opts.Files = []string{a}
	opts.SRSOut = "4978"

	_, err := inspectAll(reader.NewRegistry(), opts)
	require.ErrorIs(t, err, reader.ErrMissingInputSRS)
}

func TestInspectAllAcceptsDeclaredSRSInOverride(t *testing.T) {
	a := writeXYZInput(t, "0 0 0\n")
	opts := config.DefaultOptions()
	opts.Files = []string{a}
	opts.SRSOut = "4978"
	opts.SRSIn = "4978"

	_, err := inspectAll(reader.NewRegistry(), opts)
	require.NoError(t, err)
}
