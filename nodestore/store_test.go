package nodestore

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/bimdata/go3dtiles/tilepb"
	"github.com/stretchr/testify/require"
)

func TestPutGetRoundTripFromMemory(t *testing.T) {
	s, err := New(t.TempDir())
	require.NoError(t, err)
	defer s.Close()

	s.Put("0", []byte("hello"))
	data, err := s.Get("0")
	require.NoError(t, err)
	require.Equal(t, []byte("hello"), data)
}

func TestGetUnknownNameReturnsNil(t *testing.T) {
	s, err := New(t.TempDir())
	require.NoError(t, err)
	defer s.Close()

	data, err := s.Get("07")
	require.NoError(t, err)
	require.Nil(t, data)
}

func TestControlMemorySpillsLeastRecentlyUsed(t *testing.T) {
	dir := t.TempDir()
	s, err := New(dir)
	require.NoError(t, err)
	defer s.Close()

	s.Put("0", []byte("aaaaaaaaaa"))
	s.Put("1", []byte("bbbbbbbbbb"))
	s.Put("2", []byte("cccccccccc"))
	// "0" is now least recently used (pushed front on each subsequent Put).

	require.NoError(t, s.ControlMemory(20))
	require.LessOrEqual(t, s.curBytes, int64(20))

	// "0" was spilled to disk, not just dropped — Get must recover it.
	data, err := s.Get("0")
	require.NoError(t, err)
	require.Equal(t, []byte("aaaaaaaaaa"), data)
}

func TestControlMemoryIsNoopUnderBudget(t *testing.T) {
	s, err := New(t.TempDir())
	require.NoError(t, err)
	defer s.Close()

	s.Put("0", []byte("small"))
	require.NoError(t, s.ControlMemory(1<<20))
	require.Equal(t, int64(len("small")), s.curBytes)
}

func TestRemoveDropsFromMemoryAndDisk(t *testing.T) {
	dir := t.TempDir()
	s, err := New(dir)
	require.NoError(t, err)
	defer s.Close()

	s.Put("0", []byte("aaaaaaaaaa"))
	s.Put("1", []byte("bbbbbbbbbb"))
	require.NoError(t, s.ControlMemory(10)) // spills "0"

	s.Remove(tilepb.NodeName("0"))
	data, err := s.Get("0")
	require.NoError(t, err)
	require.Nil(t, data, "removed entries must not resurrect from a stale spill file")
}

func TestGetDetectsCorruptedSpillFile(t *testing.T) {
	dir := t.TempDir()
	s, err := New(dir)
	require.NoError(t, err)
	defer s.Close()

	s.Put("0", []byte("aaaaaaaaaa"))
	require.NoError(t, s.ControlMemory(0)) // force spill

	path := filepath.Join(dir, filepath.FromSlash(tilepb.NodeName("0").JoinPathShard(".bin")))
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	raw[len(raw)-1] ^= 0xFF // flip a byte inside the compressed payload
	require.NoError(t, os.WriteFile(path, raw, 0o644))

	_, err = s.Get("0")
	require.Error(t, err)
}
