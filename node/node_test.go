package node_test

import (
	"testing"

	"github.com/relan/exfat"
	"github.com/relan/exfat/node"
	"github.com/stretchr/testify/assert"
)

func TestGetNodePutNodeTracksReferences(t *testing.T) {
	n := node.NewNode()
	assert.Zero(t, n.References())

	node.GetNode(n)
	node.GetNode(n)
	assert.Equal(t, 2, n.References())

	node.PutNode(n)
	assert.Equal(t, 1, n.References())
}

func TestPutNodeBelowZeroIsABug(t *testing.T) {
	n := node.NewNode()
	assert.Panics(t, func() { node.PutNode(n) })
}

func TestIsDirReflectsAttrib(t *testing.T) {
	n := node.NewNode()
	assert.False(t, n.IsDir())
	n.Attrib = exfat.AttribDir
	assert.True(t, n.IsDir())
}

func TestDirtyFlag(t *testing.T) {
	n := node.NewNode()
	assert.False(t, n.Dirty())
	n.MarkDirty()
	assert.True(t, n.Dirty())
}

func TestUnlinkedFlag(t *testing.T) {
	n := node.NewNode()
	assert.False(t, n.Unlinked())
	n.MarkUnlinked()
	assert.True(t, n.Unlinked())
}

func TestCachedFlagStartsClear(t *testing.T) {
	n := node.NewNode()
	assert.False(t, n.Cached())
}
