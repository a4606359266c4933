//go:build linux || darwin

package main

import (
	"testing"

	"bazil.org/fuse"
	fusefs "bazil.org/fuse/fs"
	"github.com/stretchr/testify/assert"

	"github.com/relan/exfat"
)

var (
	_ fusefs.FS                 = (*volumeFS)(nil)
	_ fusefs.FSStatfser         = (*volumeFS)(nil)
	_ fusefs.Node               = (*dirNode)(nil)
	_ fusefs.NodeStringLookuper = (*dirNode)(nil)
	_ fusefs.HandleReadDirAller = (*dirNode)(nil)
	_ fusefs.NodeMkdirer        = (*dirNode)(nil)
	_ fusefs.NodeCreater        = (*dirNode)(nil)
	_ fusefs.NodeRemover        = (*dirNode)(nil)
	_ fusefs.NodeRenamer        = (*dirNode)(nil)
	_ fusefs.NodeForgetter      = (*dirNode)(nil)
	_ fusefs.Node               = (*fileNode)(nil)
	_ fusefs.HandleReader       = (*fileNode)(nil)
	_ fusefs.HandleWriter       = (*fileNode)(nil)
	_ fusefs.NodeSetattrer      = (*fileNode)(nil)
	_ fusefs.NodeForgetter      = (*fileNode)(nil)
)

func TestJoinPathFromRoot(t *testing.T) {
	assert.Equal(t, "file.txt", joinPath("", "file.txt"))
	assert.Equal(t, "sub/file.txt", joinPath("sub", "file.txt"))
}

func TestToFuseErrTranslatesErrno(t *testing.T) {
	err := toFuseErr(exfat.ErrNotFound)
	assert.Equal(t, fuse.Errno(fuse.ENOENT), err)
}

func TestToFuseErrPassesThroughNil(t *testing.T) {
	assert.NoError(t, toFuseErr(nil))
}

func TestApplyAttrCopiesFields(t *testing.T) {
	stat := exfat.FileStat{Size: 4096, Uid: 1000, Gid: 1000}
	var a fuse.Attr
	applyAttr(&a, stat)
	assert.EqualValues(t, 4096, a.Size)
	assert.EqualValues(t, 1000, a.Uid)
	assert.EqualValues(t, 1000, a.Gid)
}
