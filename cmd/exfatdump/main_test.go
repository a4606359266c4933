package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relan/exfat/device"
	"github.com/relan/exfat/format"
	"github.com/relan/exfat/layout"
)

func formatVolume(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "volume.img")
	require.NoError(t, format.Format(path, 16*1024*1024, format.Options{Label: "DUMPTEST"}))
	return path
}

func TestDumpSuperblockOnlyReadsValidBootSector(t *testing.T) {
	path := formatVolume(t)

	dev, err := device.Open(path, device.ModeReadOnly)
	require.NoError(t, err)
	defer dev.Close()

	raw := make([]byte, layout.RawSize)
	require.NoError(t, dev.ReadAt(raw, 0))

	sb, err := layout.Unpack(raw)
	require.NoError(t, err)
	require.NoError(t, sb.Validate())

	assert.EqualValues(t, 0x0100, sb.Version)
	assert.Greater(t, sb.SectorSize(), uint32(0))
	assert.Greater(t, sb.ClusterSize(), uint64(0))
}

func TestDumpSuperblockOnlyRejectsGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "garbage.img")
	require.NoError(t, os.WriteFile(path, make([]byte, layout.RawSize), 0o666))

	dev, err := device.Open(path, device.ModeReadOnly)
	require.NoError(t, err)
	defer dev.Close()

	raw := make([]byte, layout.RawSize)
	require.NoError(t, dev.ReadAt(raw, 0))

	sb, err := layout.Unpack(raw)
	require.NoError(t, err)
	assert.Error(t, sb.Validate())
}

func TestDumpSuperblockOnlyAndDumpFullSucceed(t *testing.T) {
	path := formatVolume(t)
	require.NoError(t, dumpSuperblockOnly(path))
	require.NoError(t, dumpFull(path))
}
