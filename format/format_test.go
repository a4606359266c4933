package format

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relan/exfat/cluster"
	"github.com/relan/exfat/device"
	"github.com/relan/exfat/fs"
	"github.com/relan/exfat/layout"
)

func TestPlanLayoutPicksSmallClustersForSmallVolume(t *testing.T) {
	// 64 MiB volume: well under the 256 MiB cutoff, so 4 KiB clusters.
	plan, err := planLayout(64*1024*1024/sectorSize, Options{})
	require.NoError(t, err)
	assert.EqualValues(t, 3, plan.bpcBits)
}

func TestPlanLayoutRejectsTinyVolume(t *testing.T) {
	_, err := planLayout(fatBlockStart, Options{})
	assert.Error(t, err)
}

func TestPlanLayoutHonorsSectorsPerClusterOverride(t *testing.T) {
	plan, err := planLayout(64*1024*1024/sectorSize, Options{SectorsPerCluster: 64})
	require.NoError(t, err)
	assert.EqualValues(t, 6, plan.bpcBits)
}

func TestPlanLayoutRejectsNonPowerOfTwoOverride(t *testing.T) {
	_, err := planLayout(64*1024*1024/sectorSize, Options{SectorsPerCluster: 3})
	assert.Error(t, err)
}

func TestPlanLayoutLaysOutHeapInBitmapUpcaseRootOrder(t *testing.T) {
	plan, err := planLayout(64*1024*1024/sectorSize, Options{})
	require.NoError(t, err)
	assert.EqualValues(t, cluster.FirstDataCluster, plan.bitmapCluster)
	assert.Equal(t, plan.bitmapCluster+uint32(plan.bitmapClusters), plan.upcaseCluster)
	assert.Equal(t, plan.upcaseCluster+uint32(plan.upcaseClusters), plan.rootCluster)
}

func newMemoryImage(t *testing.T, sizeBytes int64) *device.Device {
	t.Helper()
	buf := make([]byte, sizeBytes)
	dev, _, err := device.NewMemoryDevice(buf, false)
	require.NoError(t, err)
	return dev
}

func TestFormatDeviceProducesAValidBootSector(t *testing.T) {
	dev := newMemoryImage(t, 32*1024*1024)
	require.NoError(t, formatDevice(dev, Options{Label: "TESTVOL"}))

	plan, err := planLayout(uint64(dev.Size())/sectorSize, Options{})
	require.NoError(t, err)

	var main [512]byte
	require.NoError(t, dev.ReadAt(main[:], 0))
	sb, err := layout.Unpack(main[:])
	require.NoError(t, err)
	require.NoError(t, sb.Validate())
	assert.EqualValues(t, fatBlockStart, sb.FATBlockStart)
	assert.Equal(t, plan.rootCluster, sb.RootDirCluster)

	var backup [512]byte
	require.NoError(t, dev.ReadAt(backup[:], vbrSectorCount*sectorSize))
	assert.Equal(t, main[:], backup[:])
}

func TestFormatDeviceMarksItsOwnClustersAllocated(t *testing.T) {
	dev := newMemoryImage(t, 32*1024*1024)
	require.NoError(t, formatDevice(dev, Options{}))

	var main [512]byte
	require.NoError(t, dev.ReadAt(main[:], 0))
	sb, err := layout.Unpack(main[:])
	require.NoError(t, err)

	engine := cluster.New(dev, sb)
	bitmapBytes := make([]byte, byteLen(uint64(sb.ClusterCount)))
	require.NoError(t, dev.ReadAt(bitmapBytes, engine.ClusterToOffset(cluster.FirstDataCluster)))
	// cluster 2 (the bitmap's own first cluster) must be marked in use.
	assert.NotZero(t, bitmapBytes[0]&0x01)
}

func TestFormatThenMountRoundTrips(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "volume.img")

	require.NoError(t, Format(path, 16*1024*1024, Options{Label: "MYDISK"}))

	fsys, err := fs.Mount(path, fs.Options{})
	require.NoError(t, err)
	defer fs.Unmount(fsys)

	assert.Equal(t, "MYDISK", fsys.Label())
	stat := fsys.Stat()
	assert.Greater(t, stat.FilesFree, uint64(0))
}

func TestFormatRejectsPathThatCannotBeCreated(t *testing.T) {
	err := Format(filepath.Join(t.TempDir(), "missing-dir", "volume.img"), 16*1024*1024, Options{})
	assert.Error(t, err)
}

func TestFormatRejectsNameTooLong(t *testing.T) {
	dev := newMemoryImage(t, 32*1024*1024)
	longLabel := ""
	for i := 0; i < 20; i++ {
		longLabel += "x"
	}
	err := formatDevice(dev, Options{Label: longLabel})
	assert.Error(t, err)
}

