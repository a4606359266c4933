// Package cluster implements the cluster-to-offset arithmetic and FAT chain
// traversal exFAT uses to locate file data (§4.2, C3). It knows nothing
// about nodes or directories; callers supply a cursor to make repeated
// sequential traversal cheap.
package cluster

import (
	"encoding/binary"

	"github.com/relan/exfat"
	"github.com/relan/exfat/device"
	"github.com/relan/exfat/layout"
)

// Reserved cluster values and the first usable cluster number (§3.1).
const (
	FirstDataCluster = 2

	Free = 0x00000000
	Bad  = 0xFFFFFFF7
	End  = 0xFFFFFFFF
)

// Invalid reports whether c cannot be followed any further: exFAT treats
// both Bad and End (and, defensively, Free) as chain terminators (§4.2).
func Invalid(c uint32) bool {
	return c == Free || c == Bad || c == End
}

// Engine resolves cluster numbers to device byte offsets and walks FAT
// chains for one mounted volume. It is grounded on the teacher's
// ClusterStream.ClusterIDToBlock/CheckIOBounds (drivers/common/clusterio.go),
// generalized from a fixed-block-size stream to exFAT's sector/cluster
// geometry, and cross-checked against upstream's c2b/exfat_c2o/
// exfat_next_cluster/exfat_advance_cluster (cluster.c).
type Engine struct {
	dev *device.Device
	sb  *layout.BootSector
}

// New returns an Engine bound to dev using the geometry described by sb.
func New(dev *device.Device, sb *layout.BootSector) *Engine {
	return &Engine{dev: dev, sb: sb}
}

// ClusterToOffset returns the device byte offset of the first byte of
// cluster c. c must be >= FirstDataCluster.
func (e *Engine) ClusterToOffset(c uint32) int64 {
	if c < FirstDataCluster {
		exfat.Bug("cluster: invalid cluster number %d", c)
	}
	block := uint64(e.sb.ClusterBlockStart) + (uint64(c-FirstDataCluster) << e.sb.BPCBits)
	return int64(block << e.sb.BlockBits)
}

// OffsetToCluster inverts ClusterToOffset: given a device byte offset known
// to fall inside the data cluster region, it returns the cluster number
// that holds it and the byte offset within that cluster.
func (e *Engine) OffsetToCluster(offset int64) (uint32, int64) {
	base := e.ClusterToOffset(FirstDataCluster)
	clusterSize := int64(e.ClusterSize())
	rel := offset - base
	c := FirstDataCluster + uint32(rel/clusterSize)
	return c, rel % clusterSize
}

// FATEntryOffset returns the device byte offset of the 4-byte FAT entry
// for cluster c.
func (e *Engine) FATEntryOffset(c uint32) int64 {
	fatStart := int64(e.sb.FATBlockStart) << e.sb.BlockBits
	return fatStart + int64(c)*4
}

// ClusterSize returns the volume's cluster size in bytes.
func (e *Engine) ClusterSize() uint64 { return e.sb.ClusterSize() }

// BytesToClusters rounds a byte length up to whole clusters.
func (e *Engine) BytesToClusters(bytes uint64) uint32 {
	clusterSize := e.sb.ClusterSize()
	return uint32((bytes + clusterSize - 1) / clusterSize)
}

// ReadFATEntry reads the raw FAT entry for cluster c.
func (e *Engine) ReadFATEntry(c uint32) (uint32, error) {
	var buf [4]byte
	if err := e.dev.ReadAt(buf[:], e.FATEntryOffset(c)); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(buf[:]), nil
}

// WriteFATEntry writes value into the FAT slot for cluster c.
func (e *Engine) WriteFATEntry(c, value uint32) error {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], value)
	return e.dev.WriteAt(buf[:], e.FATEntryOffset(c))
}

// NextCluster returns the cluster that follows c in a chain. When
// contiguous is true (the node's IS_CONTIGUOUS flag) the FAT is never
// read: the next cluster is simply c+1, per §4.2.
func (e *Engine) NextCluster(contiguous bool, c uint32) (uint32, error) {
	if c < FirstDataCluster {
		exfat.Bug("cluster: bad cluster 0x%x", c)
	}
	if contiguous {
		return c + 1, nil
	}
	next, err := e.ReadFATEntry(c)
	if err != nil {
		return 0, err
	}
	if next == Bad {
		return End, nil
	}
	return next, nil
}

// SetNextCluster writes the FAT link from current to next, unless the
// chain is contiguous, in which case the link is implicit and the FAT is
// left untouched (§4.2, §4.3 grow_chain).
func (e *Engine) SetNextCluster(contiguous bool, current, next uint32) error {
	if contiguous {
		return nil
	}
	return e.WriteFATEntry(current, next)
}

// Cursor caches a prior position within a cluster chain (§3.2) so that
// sequential access does not re-walk the chain from the start every time.
type Cursor struct {
	Index   uint32
	Cluster uint32
}

// AdvanceCluster walks to the cluster at position k within the chain
// starting at startCluster, using and updating cursor to skip prefix
// walks on sequential access (§4.2). If k is behind the cursor's current
// index, the cursor is reset to the start of the chain first.
func (e *Engine) AdvanceCluster(contiguous bool, startCluster uint32, cursor *Cursor, k uint32) (uint32, error) {
	if cursor.Index > k {
		cursor.Index = 0
		cursor.Cluster = startCluster
	} else if cursor.Cluster == 0 {
		cursor.Cluster = startCluster
	}

	for i := cursor.Index; i < k; i++ {
		next, err := e.NextCluster(contiguous, cursor.Cluster)
		if err != nil {
			return 0, err
		}
		cursor.Cluster = next
		if Invalid(cursor.Cluster) {
			break
		}
	}
	cursor.Index = k
	return cursor.Cluster, nil
}
