package node

import (
	"fmt"

	"github.com/hashicorp/go-multierror"
	"github.com/relan/exfat"
	"github.com/relan/exfat/cluster"
	"github.com/relan/exfat/device"
	"github.com/relan/exfat/layout"
	"github.com/relan/exfat/nameutil"
)

// MaxUpcaseTableBytes bounds the Upcase entry's declared size (§4.5): "non-
// zero, even, <= 128 KiB".
const MaxUpcaseTableBytes = 128 * 1024

// BitmapInfo is the Bitmap entry's side-effect: where the allocation
// bitmap lives, recorded during the root directory scan so the caller
// (fs.Mount) can bitmap.Load it afterwards.
type BitmapInfo struct {
	StartCluster uint32
	SizeBytes    uint64
}

// UpcaseInfo is the Upcase entry's side-effect: the decoded case-folding
// table plus where it was read from.
type UpcaseInfo struct {
	StartCluster uint32
	SizeBytes    uint64
	Table        *nameutil.UpcaseTable
}

// CacheResult collects everything a directory scan discovers: the ordered
// child list (already linked via Node.FirstChild/NextSibling/PrevSibling)
// plus whichever Idle-state side-effects were seen. Only the root
// directory scan populates Bitmap/Upcase/Label; a subdirectory scan leaves
// them nil/empty and the caller ignores them.
type CacheResult struct {
	Bitmap *BitmapInfo
	Upcase *UpcaseInfo
	Label  string
	HasLabel bool
	// LabelOffset is the device byte offset of the Label/invalid-Label
	// entry, if one was seen, so a caller wanting to change the label can
	// overwrite it in place instead of hunting for it again.
	LabelOffset int64
	HasLabelEntry bool
}

// Parser reads a directory's entry-set stream and emits Node values. It
// holds no state between CacheDirectory calls: each call walks the
// target's own chain from the start.
type Parser struct {
	dev    *device.Device
	engine *cluster.Engine
	upcase *nameutil.UpcaseTable

	// Repair controls whether a recoverable consistency failure (a stale
	// name hash or entry-set checksum, which the next flush simply
	// recomputes) aborts the scan or is logged and repaired in place
	// (§4.7, §7). RepairNone aborts; RepairPrompt/RepairAuto both repair
	// here, since this library has no interactive prompt of its own — an
	// embedding CLI tool decides whether to ask the user before setting
	// this field.
	Repair exfat.RepairLevel
	Logger exfat.Logger
}

// NewParser returns a Parser that reads directory clusters through engine
// and folds names through upcase (nil is fine for the initial root scan,
// since the root's own name is never looked up).
func NewParser(dev *device.Device, engine *cluster.Engine, upcase *nameutil.UpcaseTable) *Parser {
	return &Parser{dev: dev, engine: engine, upcase: upcase}
}

// SetUpcase wires in the upcase table discovered by an initial root-
// directory scan, so a second pass over the same directory can validate
// the name hashes the first pass had to skip.
func (p *Parser) SetUpcase(upcase *nameutil.UpcaseTable) {
	p.upcase = upcase
}

// warn appends msg to *warnings (allocating it on first use) and, if a
// Logger is configured, reports it immediately too.
func (p *Parser) warn(warnings **multierror.Error, msg string) {
	*warnings = multierror.Append(*warnings, fmt.Errorf("%s", msg))
	if p.Logger != nil {
		p.Logger.Warnf("repairing: %s", msg)
	}
}

// parserState names the three states of §4.5's table.
type parserState int

const (
	stateIdle parserState = iota
	stateFileOpen
	stateInfoSeen
)

// building accumulates the pieces of an entry set in progress.
type building struct {
	file         layout.FileEntry
	fileOffset   int64
	continuLeft  int
	info         layout.FileInfoEntry
	infoOffset   int64
	nameUnits    []uint16
	checksum     uint16
}

// CacheDirectory walks dir's cluster chain (already loaded into dir: start
// cluster, contiguity, size) emitting child nodes into dir.FirstChild in
// on-disk order, exactly as upstream's exfat_cache_directory/readdir pair
// does. If dir is already CACHED, it returns immediately. A root-flagged
// scan (isRoot) also reports Bitmap/Upcase/Label side-effects.
func (p *Parser) CacheDirectory(dir *Node, isRoot bool) (*CacheResult, error) {
	if dir.Cached() {
		return &CacheResult{}, nil
	}

	result := &CacheResult{}
	var warnings *multierror.Error

	state := stateIdle
	var cur building
	var last *Node

	clusterSize := p.engine.ClusterSize()
	buf := make([]byte, clusterSize)
	c := dir.Chain.StartCluster
	if cluster.Invalid(c) {
		dir.markCached()
		return result, nil
	}
	if err := p.dev.ReadAt(buf, p.engine.ClusterToOffset(c)); err != nil {
		return nil, err
	}

	offsetInCluster := int64(0)
	absOffset := p.engine.ClusterToOffset(c)

	rollback := func() {
		for child := dir.FirstChild; child != nil; {
			next := child.NextSibling
			child.Parent = nil
			child.NextSibling = nil
			child.PrevSibling = nil
			child = next
		}
		dir.FirstChild = nil
	}

	for {
		raw := buf[offsetInCluster : offsetInCluster+layout.EntrySize]
		entryOffset := absOffset + offsetInCluster
		rawEntry, err := layout.DecodeRawEntry(raw)
		if err != nil {
			rollback()
			return nil, err
		}

		switch state {
		case stateIdle:
			switch {
			case rawEntry.Type == layout.TypeEOD:
				dir.markCached()
				if warnings != nil {
					return result, warnings.ErrorOrNil()
				}
				return result, nil

			case rawEntry.Type == layout.TypeFile:
				var file layout.FileEntry
				if err := layout.Unpack(raw, &file); err != nil {
					rollback()
					return nil, err
				}
				cur = building{file: file, fileOffset: entryOffset, continuLeft: int(file.Continuations)}
				if cur.continuLeft < 2 {
					rollback()
					return nil, exfat.ErrCorrupted.WithMessage("file entry has fewer than 2 continuations")
				}
				cur.checksum = nameutil.StartEntrySetChecksum(raw)
				cur.continuLeft-- // consumed the FileInfo continuation below
				state = stateFileOpen

			case isRoot && rawEntry.Type == layout.TypeBitmap:
				var be layout.BitmapEntry
				if err := layout.Unpack(raw, &be); err != nil {
					rollback()
					return nil, err
				}
				if cluster.Invalid(be.StartCluster) {
					rollback()
					return nil, exfat.ErrCorrupted.WithMessage("invalid cluster in clusters bitmap")
				}
				result.Bitmap = &BitmapInfo{StartCluster: be.StartCluster, SizeBytes: be.Size}

			case isRoot && rawEntry.Type == layout.TypeUpcase:
				var ue layout.UpcaseEntry
				if err := layout.Unpack(raw, &ue); err != nil {
					rollback()
					return nil, err
				}
				if ue.Size == 0 || ue.Size%2 != 0 || ue.Size > MaxUpcaseTableBytes {
					rollback()
					return nil, exfat.ErrCorrupted.WithMessagef("invalid upcase table size %d", ue.Size)
				}
				table, err := p.readUpcaseTable(ue)
				if err != nil {
					rollback()
					return nil, err
				}
				result.Upcase = &UpcaseInfo{StartCluster: ue.StartCluster, SizeBytes: ue.Size, Table: table}

			case isRoot && rawEntry.Type == layout.TypeLabel:
				var le layout.LabelEntry
				if err := layout.Unpack(raw, &le); err != nil {
					rollback()
					return nil, err
				}
				if int(le.Length) > layout.ENameMax {
					rollback()
					return nil, exfat.ErrCorrupted.WithMessagef("too long label (%d chars)", le.Length)
				}
				label, err := nameutil.Decode(le.Name[:le.Length])
				if err != nil {
					rollback()
					return nil, err
				}
				result.Label = label
				result.HasLabel = true
				result.LabelOffset = entryOffset
				result.HasLabelEntry = true

			case isRoot && rawEntry.Type == layout.TypeLabelInvalid:
				// explicit "no label" marker, accepted silently (§4.5).
				result.LabelOffset = entryOffset
				result.HasLabelEntry = true

			case layout.IsValid(rawEntry.Type):
				rollback()
				return nil, exfat.ErrCorrupted.WithMessagef("unknown entry type 0x%02x", rawEntry.Type)
			}

		case stateFileOpen:
			if rawEntry.Type != layout.TypeFileInfo {
				rollback()
				return nil, exfat.ErrCorrupted.WithMessage("expected file info entry")
			}
			var info layout.FileInfoEntry
			if err := layout.Unpack(raw, &info); err != nil {
				rollback()
				return nil, err
			}
			cur.info = info
			cur.infoOffset = entryOffset
			cur.checksum = nameutil.AddEntrySetChecksum(cur.checksum, raw)
			cur.nameUnits = make([]uint16, 0, int(info.NameLength))
			state = stateInfoSeen

		case stateInfoSeen:
			if rawEntry.Type != layout.TypeFileName {
				rollback()
				return nil, exfat.ErrCorrupted.WithMessage("expected file name entry")
			}
			var fn layout.FileNameEntry
			if err := layout.Unpack(raw, &fn); err != nil {
				rollback()
				return nil, err
			}
			cur.checksum = nameutil.AddEntrySetChecksum(cur.checksum, raw)
			remaining := int(cur.info.NameLength) - len(cur.nameUnits)
			take := layout.ENameMax
			if remaining < take {
				take = remaining
			}
			cur.nameUnits = append(cur.nameUnits, fn.Name[:take]...)
			cur.continuLeft--

			if cur.continuLeft == 0 {
				child, err := p.emit(cur, &warnings)
				if err != nil {
					rollback()
					return nil, err
				}
				if last != nil {
					last.NextSibling = child
					child.PrevSibling = last
					child.Parent = dir
				} else {
					dir.FirstChild = child
					child.Parent = dir
				}
				last = child
				state = stateIdle
			}
		}

		offsetInCluster += layout.EntrySize
		if uint64(offsetInCluster) == clusterSize {
			next, err := p.engine.NextCluster(dir.IsContiguous(), c)
			if err != nil {
				rollback()
				return nil, err
			}
			if cluster.Invalid(next) {
				rollback()
				return nil, exfat.ErrCorrupted.WithMessage("invalid cluster while reading directory")
			}
			c = next
			absOffset = p.engine.ClusterToOffset(c)
			offsetInCluster = 0
			if err := p.dev.ReadAt(buf, absOffset); err != nil {
				rollback()
				return nil, err
			}
		}
	}
}

// emit builds a Node from a completed File+FileInfo+FileName* entry set,
// validating the name hash, checksum, and directory-size invariants
// (§4.5). A bad checksum or name hash is recoverable: under Repair >= 1 it
// is logged into *warnings and the node is emitted anyway (the next
// FlushNode recomputes both from scratch); under RepairNone it aborts the
// whole scan.
func (p *Parser) emit(b building, warnings **multierror.Error) (*Node, error) {
	wantChecksum := b.file.Checksum
	if b.checksum != wantChecksum {
		msg := fmt.Sprintf("bad entry set checksum: got 0x%04x, want 0x%04x", b.checksum, wantChecksum)
		if p.Repair == exfat.RepairNone {
			return nil, exfat.ErrCorrupted.WithMessage(msg)
		}
		p.warn(warnings, msg)
	}

	if p.upcase != nil {
		gotHash := p.upcase.Hash(b.nameUnits)
		if gotHash != b.info.NameHash {
			msg := fmt.Sprintf("bad name hash: got 0x%04x, want 0x%04x", gotHash, b.info.NameHash)
			if p.Repair == exfat.RepairNone {
				return nil, exfat.ErrCorrupted.WithMessage(msg)
			}
			p.warn(warnings, msg)
		}
	}

	n := NewNode()
	n.Name = b.nameUnits
	n.Attrib = b.file.Attrib
	n.Continuations = b.file.Continuations
	n.Meta1Offset = b.fileOffset
	n.Meta2Offset = b.infoOffset
	n.Size = b.info.Size
	n.ValidSize = b.info.RealSize
	n.Chain.StartCluster = b.info.StartCluster
	n.Chain.Contiguous = b.info.Flag == layout.FlagContiguous
	n.SyncContiguous()

	mtime, err := nameutil.ExfatToUnix(b.file.MDate, b.file.MTime, b.file.MTimeCS, 0)
	if err != nil {
		return nil, exfat.ErrCorrupted.Wrap(err)
	}
	n.MTime = mtime
	atime, err := nameutil.ExfatToUnix(b.file.ADate, b.file.ATime, 0, 0)
	if err != nil {
		return nil, exfat.ErrCorrupted.Wrap(err)
	}
	n.ATime = atime

	clusterSize := p.engine.ClusterSize()
	if n.IsDir() {
		if n.Size%clusterSize != 0 {
			return nil, exfat.ErrCorrupted.WithMessagef("directory size %d is not a multiple of the cluster size", n.Size)
		}
		if n.ValidSize != n.Size {
			return nil, exfat.ErrCorrupted.WithMessage("directory valid_size must equal size")
		}
	}
	if n.ValidSize > n.Size {
		return nil, exfat.ErrCorrupted.WithMessage("valid_size exceeds size")
	}

	return n, nil
}

func (p *Parser) readUpcaseTable(ue layout.UpcaseEntry) (*nameutil.UpcaseTable, error) {
	raw := make([]byte, ue.Size)
	if err := p.readChain(ue.StartCluster, raw); err != nil {
		return nil, err
	}
	got := nameutil.UpcaseTableChecksum(raw)
	if got != ue.Checksum {
		return nil, exfat.ErrCorrupted.WithMessagef("bad upcase table checksum: got 0x%08x, want 0x%08x", got, ue.Checksum)
	}
	units := make([]uint16, len(raw)/2)
	for i := range units {
		units[i] = uint16(raw[i*2]) | uint16(raw[i*2+1])<<8
	}
	return &nameutil.UpcaseTable{Units: units}, nil
}

// readChain reads len(out) bytes starting at the first cluster of a
// (necessarily non-contiguous-or-not, it doesn't matter for a fixed system
// table) chain, following FAT links as needed.
func (p *Parser) readChain(start uint32, out []byte) error {
	clusterSize := p.engine.ClusterSize()
	c := start
	offset := 0
	for offset < len(out) {
		if cluster.Invalid(c) {
			return exfat.ErrCorrupted.WithMessage("cluster chain ended early")
		}
		n := clusterSize
		if uint64(len(out)-offset) < n {
			n = uint64(len(out) - offset)
		}
		if err := p.dev.ReadAt(out[offset:uint64(offset)+n], p.engine.ClusterToOffset(c)); err != nil {
			return err
		}
		offset += int(n)
		if offset >= len(out) {
			break
		}
		next, err := p.engine.NextCluster(false, c)
		if err != nil {
			return err
		}
		c = next
	}
	return nil
}

// ResetCache recursively drops a node's cached children, warning (not
// erroring) about non-zero reference counts it finds during teardown
// (§4.5's reset_cache). Used both at unmount and whenever a stale cache
// must be rebuilt.
func ResetCache(root *Node, logger exfat.Logger) {
	resetCache(root, logger)
}

func resetCache(n *Node, logger exfat.Logger) {
	for child := n.FirstChild; child != nil; {
		next := child.NextSibling
		resetCache(child, logger)
		child.Parent = nil
		child.NextSibling = nil
		child.PrevSibling = nil
		child = next
	}
	if n.references != 0 && logger != nil {
		name, _ := nameutil.Decode(n.Name)
		logger.Warnf("non-zero reference counter (%d) for %q", n.references, name)
	}
	n.FirstChild = nil
	n.clearCached()
}
