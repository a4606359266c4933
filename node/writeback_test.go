package node_test

import (
	"testing"
	"time"

	"github.com/relan/exfat/layout"
	"github.com/relan/exfat/nameutil"
	"github.com/relan/exfat/node"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFlushNodeWritesBackAttribAndTimes(t *testing.T) {
	v := newTestVolume(t)
	dir := newRootDir(t, v)
	name, err := nameutil.Encode("a.txt")
	require.NoError(t, err)
	upcase := nameutil.DefaultUpcaseTable()
	slot, err := node.FindSlot(v.dev, v.engine, dir, 3, v.growChain(&dir.Chain))
	require.NoError(t, err)
	n, err := node.WriteEntry(v.dev, v.engine, dir, name, 0, slot, upcase)
	require.NoError(t, err)

	n.Attrib = 0x21 // read-only + archive
	n.MTime = time.Date(2020, 6, 15, 10, 30, 0, 0, time.UTC)
	n.MarkDirty()

	require.NoError(t, node.FlushNode(v.dev, n, upcase))
	assert.False(t, n.Dirty())

	parser := node.NewParser(v.dev, v.engine, nameutil.DefaultUpcaseTable())
	dir.Flags = 0 // force a re-scan to read back what was flushed
	_, err = parser.CacheDirectory(dir, false)
	require.NoError(t, err)
	require.NotNil(t, dir.FirstChild)
	assert.EqualValues(t, 0x21, dir.FirstChild.Attrib)
	assert.Equal(t, n.MTime.Unix(), dir.FirstChild.MTime.Unix())
}

func TestEraseEntryClearsValidBitsOnly(t *testing.T) {
	v := newTestVolume(t)
	dir := newRootDir(t, v)
	name, err := nameutil.Encode("gone.txt")
	require.NoError(t, err)
	slot, err := node.FindSlot(v.dev, v.engine, dir, 3, v.growChain(&dir.Chain))
	require.NoError(t, err)
	n, err := node.WriteEntry(v.dev, v.engine, dir, name, 0, slot, nameutil.DefaultUpcaseTable())
	require.NoError(t, err)

	require.NoError(t, node.EraseEntry(v.dev, v.engine, n))

	var typeByte [1]byte
	require.NoError(t, v.dev.ReadAt(typeByte[:], n.Meta1Offset))
	assert.False(t, layout.IsValid(typeByte[0]))

	require.NoError(t, v.dev.ReadAt(typeByte[:], n.Meta2Offset))
	assert.False(t, layout.IsValid(typeByte[0]))
}

func TestFindSlotGrowsDirectoryWhenOutOfRoom(t *testing.T) {
	v := newTestVolume(t)
	dir := newRootDir(t, v)

	// Fill the first cluster with one-unit names (File + FileInfo + one
	// FileName: 3 entries per set) until there's no room left for another
	// 3-entry set, forcing FindSlot to grow the chain.
	entriesPerCluster := int(v.engine.ClusterSize() / layout.EntrySize)
	for i := 0; i*3+3 < entriesPerCluster; i++ {
		name, err := nameutil.Encode("a")
		require.NoError(t, err)
		slot, err := node.FindSlot(v.dev, v.engine, dir, 3, v.growChain(&dir.Chain))
		require.NoError(t, err)
		_, err = node.WriteEntry(v.dev, v.engine, dir, name, 0, slot, nameutil.DefaultUpcaseTable())
		require.NoError(t, err)
	}

	beforeClusters := v.engine.BytesToClusters(dir.Size)
	slot, err := node.FindSlot(v.dev, v.engine, dir, 3, v.growChain(&dir.Chain))
	require.NoError(t, err)
	afterClusters := v.engine.BytesToClusters(dir.Size)
	assert.Greater(t, afterClusters, beforeClusters)
	assert.NotZero(t, slot.Cluster)
}
