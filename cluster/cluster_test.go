package cluster_test

import (
	"testing"

	"github.com/relan/exfat/cluster"
	"github.com/relan/exfat/device"
	"github.com/relan/exfat/layout"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestEngine(t *testing.T) (*cluster.Engine, *device.Device) {
	t.Helper()
	sb := &layout.BootSector{
		FATBlockStart:     4,
		FATBlockCount:     2,
		ClusterBlockStart: 16,
		ClusterCount:      64,
		BlockBits:         9, // 512-byte sectors
		BPCBits:           0, // 1 sector per cluster -> 512-byte clusters
	}
	size := int64(64) * int64(sb.ClusterSize())
	buf := make([]byte, size+int64(sb.ClusterBlockStart)<<sb.BlockBits)
	dev, _, err := device.NewMemoryDevice(buf, false)
	require.NoError(t, err)
	return cluster.New(dev, sb), dev
}

func TestClusterToOffset(t *testing.T) {
	engine, _ := newTestEngine(t)
	// cluster 2 is the first data cluster, starting right at
	// ClusterBlockStart.
	assert.EqualValues(t, 16<<9, engine.ClusterToOffset(2))
	assert.EqualValues(t, 17<<9, engine.ClusterToOffset(3))
}

func TestFATEntryOffset(t *testing.T) {
	engine, _ := newTestEngine(t)
	assert.EqualValues(t, (4<<9)+2*4, engine.FATEntryOffset(2))
}

func TestNextClusterContiguousSkipsFAT(t *testing.T) {
	engine, _ := newTestEngine(t)
	next, err := engine.NextCluster(true, 5)
	require.NoError(t, err)
	assert.EqualValues(t, 6, next)
}

func TestNextClusterReadsFAT(t *testing.T) {
	engine, _ := newTestEngine(t)
	require.NoError(t, engine.WriteFATEntry(5, 9))
	next, err := engine.NextCluster(false, 5)
	require.NoError(t, err)
	assert.EqualValues(t, 9, next)
}

func TestNextClusterBadBecomesEnd(t *testing.T) {
	engine, _ := newTestEngine(t)
	require.NoError(t, engine.WriteFATEntry(5, cluster.Bad))
	next, err := engine.NextCluster(false, 5)
	require.NoError(t, err)
	assert.EqualValues(t, cluster.End, next)
}

func TestAdvanceClusterSequentialUsesCursor(t *testing.T) {
	engine, _ := newTestEngine(t)
	require.NoError(t, engine.WriteFATEntry(2, 3))
	require.NoError(t, engine.WriteFATEntry(3, 4))
	require.NoError(t, engine.WriteFATEntry(4, cluster.End))

	var cur cluster.Cursor
	c, err := engine.AdvanceCluster(false, 2, &cur, 0)
	require.NoError(t, err)
	assert.EqualValues(t, 2, c)

	c, err = engine.AdvanceCluster(false, 2, &cur, 2)
	require.NoError(t, err)
	assert.EqualValues(t, 4, c)
}

func TestAdvanceClusterRewindsWhenBehindCursor(t *testing.T) {
	engine, _ := newTestEngine(t)
	require.NoError(t, engine.WriteFATEntry(2, 3))
	require.NoError(t, engine.WriteFATEntry(3, 4))

	var cur cluster.Cursor
	_, err := engine.AdvanceCluster(false, 2, &cur, 2)
	require.NoError(t, err)

	c, err := engine.AdvanceCluster(false, 2, &cur, 1)
	require.NoError(t, err)
	assert.EqualValues(t, 3, c)
}

func TestSetNextClusterNoopWhenContiguous(t *testing.T) {
	engine, _ := newTestEngine(t)
	require.NoError(t, engine.SetNextCluster(true, 2, 3))
	entry, err := engine.ReadFATEntry(2)
	require.NoError(t, err)
	assert.Zero(t, entry)
}

func TestBytesToClusters(t *testing.T) {
	engine, _ := newTestEngine(t)
	assert.EqualValues(t, 1, engine.BytesToClusters(1))
	assert.EqualValues(t, 1, engine.BytesToClusters(512))
	assert.EqualValues(t, 2, engine.BytesToClusters(513))
}
