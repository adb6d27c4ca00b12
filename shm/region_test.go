package shm_test

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tensorpool/tpool/shm"
)

func TestCreateThenMapRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pool0")
	uri := fmt.Sprintf("shm:file?path=%s", path)

	sb := &shm.Superblock{
		LayoutVersion: 1, Epoch: 1, StreamID: 9,
		RegionType: shm.PayloadPool, NSlots: 16, StrideBytes: 256,
		Pid: uint64(os.Getpid()),
	}
	created, err := shm.Create(uri, 16, 256, sb, []string{dir})
	require.NoError(t, err)
	defer created.Unmap(false)

	assert.EqualValues(t, shm.RegionSize(16, 256), int64(len(created.View())))

	mapped, err := shm.Map(uri, true, []string{dir})
	require.NoError(t, err)
	defer mapped.Unmap(false)

	out, err := shm.DecodeSuperblock(mapped.View())
	require.NoError(t, err)
	assert.Equal(t, sb.StreamID, out.StreamID)
	assert.Equal(t, sb.NSlots, out.NSlots)
}

func TestCreateRejectsPathOutsideAllowlist(t *testing.T) {
	dir := t.TempDir()
	other := t.TempDir()
	path := filepath.Join(dir, "pool0")
	uri := fmt.Sprintf("shm:file?path=%s", path)

	sb := &shm.Superblock{RegionType: shm.PayloadPool, NSlots: 16, StrideBytes: 256}
	_, err := shm.Create(uri, 16, 256, sb, []string{other})
	require.Error(t, err)
}

func TestMapRejectsSymlink(t *testing.T) {
	dir := t.TempDir()
	real := filepath.Join(dir, "real")
	require.NoError(t, os.WriteFile(real, make([]byte, shm.SuperblockSize), 0o644))
	link := filepath.Join(dir, "link")
	require.NoError(t, os.Symlink(real, link))

	uri := fmt.Sprintf("shm:file?path=%s", link)
	_, err := shm.Map(uri, false, []string{dir})
	require.Error(t, err)
}

func TestMapRejectsFileBelowSuperblockSize(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tiny")
	require.NoError(t, os.WriteFile(path, []byte("short"), 0o644))

	uri := fmt.Sprintf("shm:file?path=%s", path)
	_, err := shm.Map(uri, false, []string{dir})
	require.Error(t, err)
}
