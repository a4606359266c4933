package driver

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relan/exfat/device"
	"github.com/relan/exfat/format"
	"github.com/relan/exfat/fs"
)

func mountWithOwnership(t *testing.T) *fs.FileSystem {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "volume.img")
	require.NoError(t, format.Format(path, 16*1024*1024, format.Options{}))

	fsys, err := fs.Mount(path, fs.Options{
		Mode:  device.ModeReadWrite,
		Uid:   1000,
		Gid:   1000,
		Dmask: 0o022,
		Fmask: 0o022,
	})
	require.NoError(t, err)
	return fsys
}

func TestNodeStatAppliesDmaskToDirectories(t *testing.T) {
	fsys := mountWithOwnership(t)
	defer fs.Unmount(fsys)

	stat := NodeStat(fsys, fsys.Root())
	assert.True(t, stat.IsDir())
	assert.EqualValues(t, 1000, stat.Uid)
	assert.EqualValues(t, 1000, stat.Gid)
	assert.Equal(t, os.FileMode(0o755), stat.ModeFlags.Perm())
}

func TestNodeStatAppliesFmaskToFiles(t *testing.T) {
	fsys := mountWithOwnership(t)
	defer fs.Unmount(fsys)

	n, err := fsys.Create("file.txt")
	require.NoError(t, err)
	defer fsys.PutNode(n)

	stat := NodeStat(fsys, n)
	assert.False(t, stat.IsDir())
	assert.Equal(t, os.FileMode(0o644), stat.ModeFlags.Perm())
}

func TestNodeStatHonorsReadOnlyAttribute(t *testing.T) {
	fsys := mountWithOwnership(t)
	defer fs.Unmount(fsys)

	n, err := fsys.Create("ro.txt")
	require.NoError(t, err)
	defer fsys.PutNode(n)
	n.Attrib |= 0x01 // AttribReadOnly

	stat := NodeStat(fsys, n)
	assert.Zero(t, stat.ModeFlags.Perm()&0o222)
}

func TestStatfsReportsClusterCountsNotInodes(t *testing.T) {
	fsys := mountWithOwnership(t)
	defer fs.Unmount(fsys)

	stat := Statfs(fsys)
	assert.Greater(t, stat.FilesTotal, uint64(0))
	assert.Greater(t, stat.FilesFree, uint64(0))
}
