// Package fs ties the device, cluster engine, allocation bitmap, upcase
// table, and node cache into the single mounted-volume handle exFAT's
// filesystem operations (§4.6, C7) and mount lifecycle (§4.7, C8) run
// against. It is grounded on libexfat/mount.c's struct exfat, generalized
// from the teacher's pluggable disko.FileSystemImplementer (which exists to
// support many unrelated on-disk formats behind one interface) into a
// single concrete handle, since this module implements exactly one format.
package fs

import (
	"github.com/relan/exfat"
	"github.com/relan/exfat/bitmap"
	"github.com/relan/exfat/cluster"
	"github.com/relan/exfat/device"
	"github.com/relan/exfat/layout"
	"github.com/relan/exfat/nameutil"
	"github.com/relan/exfat/node"
)

// FileSystem is a mounted exFAT volume: every operation in this package is
// a method on it, mirroring struct exfat's role as the single handle every
// libexfat call takes.
type FileSystem struct {
	dev    *device.Device
	sb     *layout.BootSector
	engine *cluster.Engine
	bmap   *bitmap.ClusterBitmap
	upcase *nameutil.UpcaseTable
	parser *node.Parser
	root   *node.Node

	Options Options
	Logger  exfat.Logger

	label       string
	hasLabel    bool
	labelOffset int64 // -1 if no label entry exists yet on disk

	zeroCluster []byte
}

// ClusterSize returns the volume's cluster size in bytes.
func (fsys *FileSystem) ClusterSize() uint64 { return fsys.engine.ClusterSize() }

// Root returns the (already pinned) root node.
func (fsys *FileSystem) Root() *node.Node { return fsys.root }

// Label returns the volume label discovered at mount time, or the empty
// string if the volume has none.
func (fsys *FileSystem) Label() string { return fsys.label }

// Stat fills a statfs(2)-style summary (§6.2's FSStat, supplemented): exFAT
// has no inode concept, so FilesTotal/FilesFree stand in for the cluster
// count and the live free-cluster count, the same fudge the FUSE adapter is
// asked to make.
func (fsys *FileSystem) Stat() exfat.FSStat {
	free := fsys.bmap.FreeClusterCount()
	return exfat.FSStat{
		BlockSize:       int64(fsys.sb.SectorSize()),
		TotalBlocks:     uint64(fsys.sb.ClusterCount) * uint64(fsys.sb.SectorsPerCluster()),
		BlocksFree:      uint64(free) * uint64(fsys.sb.SectorsPerCluster()),
		BlocksAvailable: uint64(free) * uint64(fsys.sb.SectorsPerCluster()),
		FilesTotal:      uint64(fsys.sb.ClusterCount),
		FilesFree:       uint64(free),
		MaxNameLength:   int64(nameutil.MaxNameUnits),
		Label:           fsys.label,
	}
}

// Engine returns the cluster engine backing this volume, for callers
// outside this package that need to walk chains directly (the consistency
// checker, C10).
func (fsys *FileSystem) Engine() *cluster.Engine { return fsys.engine }

// Bitmap returns the allocation bitmap backing this volume, for the same
// reason as Engine.
func (fsys *FileSystem) Bitmap() *bitmap.ClusterBitmap { return fsys.bmap }

// Opendir fills in dir's children from disk if they aren't cached yet,
// exported for callers that walk the tree without going through Lookup
// (the consistency checker). Mirrors upstream's exfat_opendir, which is
// likewise just a cache-fill with no iterator state of its own.
func (fsys *FileSystem) Opendir(dir *node.Node) error {
	return fsys.ensureCached(dir)
}

// growChain returns a closure suitable for node.FindSlot/node.WriteEntry
// callers, and for direct use by Truncate: it extends n's chain through the
// bitmap and keeps the in-core contiguity flag in sync (§4.3, §4.5).
func (fsys *FileSystem) growChain(n *node.Node) func(sizeInClusters, delta uint32) error {
	return func(sizeInClusters, delta uint32) error {
		if err := fsys.bmap.GrowChain(&n.Chain, sizeInClusters, delta); err != nil {
			return err
		}
		n.SyncContiguous()
		return nil
	}
}

func (fsys *FileSystem) shrinkChain(n *node.Node, sizeInClusters, delta uint32) error {
	if err := fsys.bmap.ShrinkChain(&n.Chain, sizeInClusters, delta); err != nil {
		return err
	}
	n.SyncContiguous()
	return nil
}

// ensureCached fills in dir's children from disk if it hasn't been already
// (§4.5's CACHED gate).
func (fsys *FileSystem) ensureCached(dir *node.Node) error {
	if dir.Cached() {
		return nil
	}
	_, err := fsys.parser.CacheDirectory(dir, dir == fsys.root)
	return err
}

// walkDirty invokes fn for every DIRTY node reachable from n, depth first.
func walkDirty(n *node.Node, fn func(*node.Node) error) error {
	if n.Dirty() {
		if err := fn(n); err != nil {
			return err
		}
	}
	for child := n.FirstChild; child != nil; child = child.NextSibling {
		if err := walkDirty(child, fn); err != nil {
			return err
		}
	}
	return nil
}
