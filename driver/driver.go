// Package driver implements the filesystem-in-userspace callback contract
// (§6.2): converting a mounted volume's nodes into the platform-independent
// FileStat/FSStat shapes a FUSE binding expects, using the uid/gid/dmask/
// fmask supplied at mount. It is deliberately thin — argument marshalling
// only, no bazil.org/fuse types — so cmd/exfatmount is the only place that
// needs to import the FUSE library itself.
//
// Adapted from the teacher's driver/driver.go (path resolution) and
// driver/file.go (FileInfo's Stat()/Mode() conversion), stripped of the
// generic FileSystemImplementer/ObjectHandle indirection: there is exactly
// one on-disk format here, so NodeStat talks to *node.Node directly instead
// of through an interface built for many unrelated formats.
package driver

import (
	"os"

	"github.com/relan/exfat"
	"github.com/relan/exfat/fs"
	"github.com/relan/exfat/node"
)

// NodeStat converts n into a platform-independent FileStat, applying opts'
// uid/gid and the dmask/fmask permission masks the way §6.2 specifies:
// "stat conversion uses those plus the node's size and times". exFAT has no
// on-disk permission bits, so every file gets the same base mode (0666 for
// files, 0777 for directories) with its mask subtracted.
func NodeStat(fsys *fs.FileSystem, n *node.Node) exfat.FileStat {
	opts := fsys.Options

	var base os.FileMode = 0o666
	mask := opts.Fmask
	if n.IsDir() {
		base = os.ModeDir | 0o777
		mask = opts.Dmask
	}
	mode := base &^ os.FileMode(mask)
	if n.IsDir() {
		mode |= os.ModeDir
	}
	if n.Attrib&exfat.AttribReadOnly != 0 {
		mode &^= 0o222
	}

	clusterSize := fsys.ClusterSize()
	numBlocks := int64((n.Size + clusterSize - 1) / clusterSize)

	return exfat.FileStat{
		Size:         int64(n.Size),
		BlockSize:    int64(clusterSize),
		NumBlocks:    numBlocks,
		ModeFlags:    mode,
		Uid:          opts.Uid,
		Gid:          opts.Gid,
		CreatedAt:    exfat.UndefinedTimestamp,
		LastModified: n.MTime,
		LastAccessed: n.ATime,
	}
}

// Statfs converts the mounted volume's summary into the platform-independent
// FSStat shape. exFAT keeps no inode table, so the cluster count and free
// cluster count stand in for f_files/f_favail, exactly as §6.2 asks: "it
// returns cluster_count as f_files and free_clusters as f_favail".
func Statfs(fsys *fs.FileSystem) exfat.FSStat {
	return fsys.Stat()
}
