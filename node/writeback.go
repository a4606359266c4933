package node

import (
	"github.com/relan/exfat"
	"github.com/relan/exfat/cluster"
	"github.com/relan/exfat/device"
	"github.com/relan/exfat/layout"
	"github.com/relan/exfat/nameutil"
)

// FlushNode writes n's in-core fields back over its two primary on-disk
// entries (§4.5's flush_node). It re-reads both entries first since a
// sibling's flush may have touched the same cluster moments ago; a type
// mismatch on re-read means on-disk corruption introduced by a bug
// elsewhere, not something a caller can recover from. upcase must be the
// same table the directory is parsed with, since the stored name hash is
// defined over folded code units (§4.4).
func FlushNode(dev *device.Device, n *Node, upcase *nameutil.UpcaseTable) error {
	var rawFile [layout.EntrySize]byte
	if err := dev.ReadAt(rawFile[:], n.Meta1Offset); err != nil {
		return err
	}
	var file layout.FileEntry
	if err := layout.Unpack(rawFile[:], &file); err != nil {
		return err
	}
	if file.Type != layout.TypeFile {
		exfat.Bug("node: meta1 at offset %d has type 0x%02x, want file entry", n.Meta1Offset, file.Type)
	}

	var rawInfo [layout.EntrySize]byte
	if err := dev.ReadAt(rawInfo[:], n.Meta2Offset); err != nil {
		return err
	}
	var info layout.FileInfoEntry
	if err := layout.Unpack(rawInfo[:], &info); err != nil {
		return err
	}
	if info.Type != layout.TypeFileInfo {
		exfat.Bug("node: meta2 at offset %d has type 0x%02x, want file info entry", n.Meta2Offset, info.Type)
	}

	file.Attrib = n.Attrib
	mdate, mtime, mcs := nameutil.UnixToExfat(n.MTime, 0)
	file.MDate, file.MTime, file.MTimeCS = mdate, mtime, mcs
	adate, atime, _ := nameutil.UnixToExfat(n.ATime, 0)
	file.ADate, file.ATime = adate, atime

	info.Size = n.Size
	info.RealSize = n.ValidSize
	info.StartCluster = n.Chain.StartCluster
	if n.IsContiguous() {
		info.Flag = layout.FlagContiguous
	} else {
		info.Flag = layout.FlagFragmented
	}
	info.NameLength = byte(len(n.Name))
	info.NameHash = upcase.Hash(n.Name)

	// Recompute the checksum over the File entry (minus its own checksum
	// field), the FileInfo entry, and every FileName continuation derived
	// from the node's current name, per §4.5 step 4.
	rawFileForChecksum, err := layout.Pack(&file)
	if err != nil {
		return err
	}
	checksum := nameutil.StartEntrySetChecksum(rawFileForChecksum)

	rawInfoPacked, err := layout.Pack(&info)
	if err != nil {
		return err
	}
	checksum = nameutil.AddEntrySetChecksum(checksum, rawInfoPacked)

	nameEntries := nameContinuations(n.Name)
	for _, fn := range nameEntries {
		raw, err := layout.Pack(&fn)
		if err != nil {
			return err
		}
		checksum = nameutil.AddEntrySetChecksum(checksum, raw)
	}
	file.Checksum = checksum
	file.Continuations = byte(1 + len(nameEntries))

	rawFile2, err := layout.Pack(&file)
	if err != nil {
		return err
	}
	if err := dev.WriteAt(rawFile2, n.Meta1Offset); err != nil {
		return err
	}
	if err := dev.WriteAt(rawInfoPacked, n.Meta2Offset); err != nil {
		return err
	}

	n.clearDirty()
	return nil
}

// nameContinuations splits a name into ENameMax-sized FileName entries.
func nameContinuations(name []uint16) []layout.FileNameEntry {
	if len(name) == 0 {
		return nil
	}
	count := (len(name) + layout.ENameMax - 1) / layout.ENameMax
	out := make([]layout.FileNameEntry, count)
	for i := range out {
		out[i].Type = layout.TypeFileName
		start := i * layout.ENameMax
		end := start + layout.ENameMax
		if end > len(name) {
			end = len(name)
		}
		copy(out[i].Name[:], name[start:end])
	}
	return out
}

// EraseEntry overwrites only the type byte of every entry in a node's set
// with its valid bit cleared, leaving the rest of each entry's bytes
// untouched (§4.5's erase_entry): the cheapest possible "this slot is
// free" marker, and one that never disturbs a concurrent reader scanning
// past it. The entry set's FileName continuations are located by walking
// the containing directory's cluster chain one entry at a time, the same
// way FindSlot and WriteEntry's write closure do, since the set may
// straddle a cluster boundary in a fragmented directory (the root
// directory, in particular, is never contiguous).
func EraseEntry(dev *device.Device, engine *cluster.Engine, n *Node) error {
	if err := clearValidBit(dev, n.Meta1Offset); err != nil {
		return err
	}

	entriesPerCluster := int64(engine.ClusterSize() / layout.EntrySize)
	c, offInCluster := engine.OffsetToCluster(n.Meta2Offset)
	idx := offInCluster / layout.EntrySize

	contiguous := n.Parent != nil && n.Parent.IsContiguous()
	total := int(n.Continuations) // FileInfo + every FileName continuation

	for i := 0; i < total; i++ {
		off := engine.ClusterToOffset(c) + idx*layout.EntrySize
		if err := clearValidBit(dev, off); err != nil {
			return err
		}
		idx++
		if idx == entriesPerCluster && i != total-1 {
			next, err := engine.NextCluster(contiguous, c)
			if err != nil {
				return err
			}
			c = next
			idx = 0
		}
	}
	return nil
}

func clearValidBit(dev *device.Device, off int64) error {
	var typeByte [1]byte
	if err := dev.ReadAt(typeByte[:], off); err != nil {
		return err
	}
	typeByte[0] &^= 0x80 // clear entryValid
	return dev.WriteAt(typeByte[:], off)
}

// Slot identifies a location for a new entry set: the cluster holding its
// first entry, and the byte offset within that cluster.
type Slot struct {
	Cluster uint32
	Offset  int64
}

// FindSlot scans dir's cluster chain for `count` contiguous invalid-or-EOD
// entries, growing the directory by one cluster if the chain runs out of
// room before an EOD marker leaves enough space (§4.5's find_slot). The
// caller (fs package) supplies growChain so this package need not import
// bitmap directly.
func FindSlot(dev *device.Device, engine *cluster.Engine, dir *Node, count int, growChain func(sizeInClusters uint32, delta uint32) error) (Slot, error) {
	clusterSize := engine.ClusterSize()
	entriesPerCluster := int(clusterSize / layout.EntrySize)

	c := dir.Chain.StartCluster
	if cluster.Invalid(c) {
		if err := growChain(0, 1); err != nil {
			return Slot{}, err
		}
		c = dir.Chain.StartCluster
		if err := writeEOD(dev, engine.ClusterToOffset(c)); err != nil {
			return Slot{}, err
		}
		dir.Size = clusterSize
		dir.ValidSize = dir.Size
		dir.MarkDirty()
	}

	run := 0
	var runStart Slot
	buf := make([]byte, layout.EntrySize)
	scanned := uint32(0)

	for {
		for i := 0; i < entriesPerCluster; i++ {
			off := engine.ClusterToOffset(c) + int64(i)*layout.EntrySize
			if err := dev.ReadAt(buf, off); err != nil {
				return Slot{}, err
			}
			free := buf[0] == layout.TypeEOD || !layout.IsValid(buf[0])
			if !free {
				run = 0
				continue
			}
			if run == 0 {
				runStart = Slot{Cluster: c, Offset: off}
			}
			run++
			// An EOD (and every zero byte upstream's zero-filled clusters
			// leave past it) counts as free the same as an erased entry;
			// reaching end of chain with too short a run is handled below
			// by growing and planting a fresh EOD at the new tail.
			if run == count {
				return runStart, nil
			}
		}

		// Stop at the directory's own size: a contiguous chain has no FAT
		// end marker, and NextCluster would simply return c+1.
		scanned++
		var next uint32 = cluster.End
		var err error
		if scanned < engine.BytesToClusters(dir.Size) {
			if next, err = engine.NextCluster(dir.IsContiguous(), c); err != nil {
				return Slot{}, err
			}
		}
		if cluster.Invalid(next) {
			sizeInClusters := engine.BytesToClusters(dir.Size)
			if err := growChain(sizeInClusters, 1); err != nil {
				return Slot{}, err
			}
			next, err = engine.NextCluster(dir.IsContiguous(), c)
			if err != nil {
				return Slot{}, err
			}
			if err := writeEOD(dev, engine.ClusterToOffset(next)); err != nil {
				return Slot{}, err
			}
			dir.Size += clusterSize
			dir.ValidSize = dir.Size
			dir.MarkDirty()
			run = 0
		}
		c = next
	}
}

func writeEOD(dev *device.Device, clusterOffset int64) error {
	var zero [layout.EntrySize]byte // type byte 0x00 == EOD
	return dev.WriteAt(zero[:], clusterOffset)
}

// WriteEntry constructs and writes a fresh File/FileInfo/FileName* entry
// set at slot, returning the populated Node appended to dir's child list
// (§4.5's write_entry). A freshly created file has no clusters yet:
// start_cluster is FREE, size and valid_size are zero, and its flag is
// FRAGMENTED (a zero-length chain has no contiguity to claim). The
// checksum is computed over all entries before any of them is written, the
// same order upstream builds the on-disk record in. upcase must be the
// same table the directory is parsed with (§4.4).
func WriteEntry(dev *device.Device, engine *cluster.Engine, dir *Node, name []uint16, attrib uint16, slot Slot, upcase *nameutil.UpcaseTable) (*Node, error) {
	n := NewNode()
	n.Name = name
	n.Attrib = attrib
	n.Chain.StartCluster = cluster.Free
	n.Continuations = byte(1 + len(nameContinuations(name)))
	n.Meta1Offset = slot.Offset

	file := layout.FileEntry{Type: layout.TypeFile, Continuations: n.Continuations, Attrib: attrib}
	info := layout.FileInfoEntry{Type: layout.TypeFileInfo, Flag: layout.FlagFragmented, NameLength: byte(len(name)), NameHash: upcase.Hash(name)}
	nameEntries := nameContinuations(name)

	rawFile, err := layout.Pack(&file)
	if err != nil {
		return nil, err
	}
	checksum := nameutil.StartEntrySetChecksum(rawFile)
	rawInfo, err := layout.Pack(&info)
	if err != nil {
		return nil, err
	}
	checksum = nameutil.AddEntrySetChecksum(checksum, rawInfo)
	rawNames := make([][]byte, len(nameEntries))
	for i := range nameEntries {
		raw, err := layout.Pack(&nameEntries[i])
		if err != nil {
			return nil, err
		}
		rawNames[i] = raw
		checksum = nameutil.AddEntrySetChecksum(checksum, raw)
	}
	file.Checksum = checksum
	rawFile, err = layout.Pack(&file)
	if err != nil {
		return nil, err
	}

	entriesPerCluster := int(engine.ClusterSize() / layout.EntrySize)
	offsetInCluster := int(slot.Offset-engine.ClusterToOffset(slot.Cluster)) / layout.EntrySize

	c := slot.Cluster
	idx := offsetInCluster

	write := func(raw []byte) (int64, error) {
		off := engine.ClusterToOffset(c) + int64(idx)*layout.EntrySize
		if err := dev.WriteAt(raw, off); err != nil {
			return 0, err
		}
		idx++
		if idx == entriesPerCluster {
			next, err := engine.NextCluster(dir.IsContiguous(), c)
			if err != nil {
				return 0, err
			}
			c = next
			idx = 0
		}
		return off, nil
	}

	if _, err := write(rawFile); err != nil {
		return nil, err
	}
	infoOffset, err := write(rawInfo)
	if err != nil {
		return nil, err
	}
	n.Meta2Offset = infoOffset
	for _, raw := range rawNames {
		if _, err := write(raw); err != nil {
			return nil, err
		}
	}

	n.MarkDirty()
	dir.AppendChild(n)

	return n, nil
}

