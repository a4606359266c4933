// Package node implements the in-core node model exFAT directories and
// files are cached as (§3.2, C6): a tree of Node values mirroring on-disk
// entry sets, reference-counted the way the upstream driver pins nodes for
// the duration of a lookup or an open file handle.
package node

import (
	"time"

	"github.com/relan/exfat"
	"github.com/relan/exfat/bitmap"
)

// Node mirrors one file or directory entry set. Children are linked in
// on-disk order via FirstChild/NextSibling/PrevSibling, the same singly-
// forward/doubly-linked shape upstream's struct exfat_node uses instead of
// a slice, since entries are erased and inserted in place rather than
// appended.
type Node struct {
	Parent      *Node
	FirstChild  *Node
	NextSibling *Node
	PrevSibling *Node

	references int

	// Name is the node's name as UTF-16 code units, at most
	// nameutil.MaxNameUnits long.
	Name []uint16

	// Attrib holds the DOS attribute bits (exfat.AttribReadOnly and
	// friends) exactly as stored on disk.
	Attrib uint16

	// Flags holds the internal bits (exfat.NodeDirty and friends); never
	// written to disk.
	Flags int

	Size      uint64
	ValidSize uint64

	// Chain is the bitmap package's view of this node's cluster chain
	// (start cluster, contiguity, cursor). GrowChain/ShrinkChain take
	// &n.Chain directly; Flags's NodeContiguous bit always mirrors
	// Chain.Contiguous, since the on-disk FileInfo.Flag byte and the
	// in-core attribute word both need to agree at flush time.
	Chain bitmap.ChainState

	MTime time.Time
	ATime time.Time

	// Continuations is the File entry's continuation count: 1 (FileInfo)
	// plus however many FileName entries the name spans.
	Continuations byte

	// Meta1Offset/Meta2Offset are the device byte offsets of the File and
	// FileInfo entries, used by FlushNode to re-read and overwrite them in
	// place.
	Meta1Offset int64
	Meta2Offset int64
}

// NewNode returns an unreferenced, non-cached Node with no children.
func NewNode() *Node {
	return &Node{}
}

// IsDir reports whether the node is a directory, per its DOS attribute
// bit.
func (n *Node) IsDir() bool { return n.Attrib&exfat.AttribDir != 0 }

// IsContiguous reports whether the node's data clusters are known
// consecutive (§3.2's IS_CONTIGUOUS).
func (n *Node) IsContiguous() bool { return n.Chain.Contiguous }

// SyncContiguous copies Chain.Contiguous (the field GrowChain/ShrinkChain
// mutate) into the Flags bit FlushNode and the parser read/write.
func (n *Node) SyncContiguous() {
	if n.Chain.Contiguous {
		n.Flags |= exfat.NodeContiguous
	} else {
		n.Flags &^= exfat.NodeContiguous
	}
}

// Dirty reports whether the node's in-core fields differ from what is on
// disk.
func (n *Node) Dirty() bool { return n.Flags&exfat.NodeDirty != 0 }

// MarkDirty sets the DIRTY bit (§4.6: every mutating operation marks its
// node dirty so Unmount/eviction knows to flush it).
func (n *Node) MarkDirty() { n.Flags |= exfat.NodeDirty }

func (n *Node) clearDirty() { n.Flags &^= exfat.NodeDirty }

// Unlinked reports whether the node's directory entries have already been
// erased on disk; its clusters are reclaimed once references reaches zero.
func (n *Node) Unlinked() bool { return n.Flags&exfat.NodeUnlinked != 0 }

// MarkUnlinked sets the UNLINKED bit.
func (n *Node) MarkUnlinked() { n.Flags |= exfat.NodeUnlinked }

// Cached reports whether a directory node's children have already been
// read from disk into the in-core tree.
func (n *Node) Cached() bool { return n.Flags&exfat.NodeCached != 0 }

func (n *Node) markCached() { n.Flags |= exfat.NodeCached }

func (n *Node) clearCached() { n.Flags &^= exfat.NodeCached }

// References returns the current reference count (§3.2: "while ref > 0 its
// memory is live").
func (n *Node) References() int { return n.references }

// GetNode pins n, incrementing its reference count, and returns n. It
// mirrors upstream's exfat_get_node, which exists mainly so call sites
// read symmetrically with PutNode.
func GetNode(n *Node) *Node {
	n.references++
	return n
}

// PutNode releases one reference to n. It is a bug to drop a node's
// reference count below zero (§3.2's invariant is one-directional: ref
// only reaches zero from above). The caller (fs package) is responsible
// for reclaiming an UNLINKED node's clusters once the count reaches zero.
func PutNode(n *Node) {
	if n.references <= 0 {
		exfat.Bug("node: put_node on a node with %d references", n.references)
	}
	n.references--
}

// detach removes n from its parent's child list, relinking siblings. It is
// used both by unlink (parent still cached) and by reset_cache's teardown.
func (n *Node) Detach() {
	if n.PrevSibling != nil {
		n.PrevSibling.NextSibling = n.NextSibling
	} else if n.Parent != nil {
		n.Parent.FirstChild = n.NextSibling
	}
	if n.NextSibling != nil {
		n.NextSibling.PrevSibling = n.PrevSibling
	}
	n.NextSibling = nil
	n.PrevSibling = nil
}

// appendChild links child as the last entry of dir's child list, matching
// the on-disk insertion order the parser and write_entry both need to
// preserve.
func (dir *Node) AppendChild(child *Node) {
	child.Parent = dir
	if dir.FirstChild == nil {
		dir.FirstChild = child
		return
	}
	last := dir.FirstChild
	for last.NextSibling != nil {
		last = last.NextSibling
	}
	last.NextSibling = child
	child.PrevSibling = last
}
