package exfat

////////////////////////////////////////////////////////////////////////////////
// DOS-style attribute flags (struct exfat_file.attrib, §3.1). Bit values are
// bit-exact to EXFAT_ATTRIB_xxx in original_source/trunk/libexfat/exfatfs.h.

const (
	AttribReadOnly = 0x01
	AttribHidden   = 0x02
	AttribSystem   = 0x04
	AttribVolume   = 0x08
	AttribDir      = 0x10
	AttribArchive  = 0x20
)

// AttribSettableMask is the set of bits `attrib` (§6.3) may set or clear.
const AttribSettableMask = AttribReadOnly | AttribHidden | AttribSystem | AttribArchive

////////////////////////////////////////////////////////////////////////////////
// Internal node flags (§3.2). These never appear on disk; they live only in
// the in-core Node and are kept out of the DOS attrib word so on-disk writes
// never leak them. Modeled on the teacher's flags.go constant-block style
// (S_* / MS_*), but trimmed to exactly what §3.2 names: no symlink/socket/
// fifo bits (Non-goals), no generic mount-propagation flags (single-actor
// model, §5).

const (
	// NodeDirty marks a node whose in-core fields differ from what is on
	// disk and must be written back by FlushNode.
	NodeDirty = 1 << iota
	// NodeUnlinked marks a node whose directory entries have already been
	// erased on disk; its clusters are reclaimed when its reference count
	// reaches zero.
	NodeUnlinked
	// NodeContiguous marks a node whose data clusters are known to be
	// consecutive, so the FAT is never consulted for its chain.
	NodeContiguous
	// NodeCached marks a directory node whose children have already been
	// read from disk into the in-core tree.
	NodeCached
)
