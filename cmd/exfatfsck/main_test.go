package main

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relan/exfat"
	"github.com/relan/exfat/check"
	"github.com/relan/exfat/device"
	"github.com/relan/exfat/format"
	"github.com/relan/exfat/fs"
)

func TestCheckFreshVolumeReportsOK(t *testing.T) {
	path := filepath.Join(t.TempDir(), "volume.img")
	require.NoError(t, format.Format(path, 16*1024*1024, format.Options{Label: "FSCKTEST"}))

	fsys, err := fs.Mount(path, fs.Options{Mode: device.ModeReadOnly, Repair: exfat.RepairNone})
	require.NoError(t, err)
	defer fs.Unmount(fsys)

	report, err := check.Check(fsys)
	require.NoError(t, err)
	assert.True(t, report.OK())
	assert.Contains(t, report.Summary(), "seems OK")
}

func TestCheckCSVRendersFindingsHeader(t *testing.T) {
	report := &check.Report{Files: 1, Directories: 0}
	out, err := report.CSV()
	require.NoError(t, err)
	assert.Contains(t, string(out), "path")
	assert.Contains(t, string(out), "cluster")
	assert.Contains(t, string(out), "message")
}
