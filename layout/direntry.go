package layout

import (
	"encoding/binary"
	"fmt"

	"github.com/go-restruct/restruct"
)

// EntrySize is the fixed length in bytes of every directory entry.
const EntrySize = 32

// ENameMax is the number of UTF-16 code units a single Label or FileName
// entry can hold (§3.1).
const ENameMax = 15

// Entry type bytes (§3.1), bit-exact to EXFAT_ENTRY_xxx upstream.
const (
	entryValid     = 0x80
	entryContinued = 0x40

	TypeEOD    = 0x00
	TypeBitmap = 0x01 | entryValid
	TypeUpcase = 0x02 | entryValid
	TypeLabel  = 0x03 | entryValid
	TypeFile   = 0x05 | entryValid

	TypeFileInfo = 0x00 | entryValid | entryContinued
	TypeFileName = 0x01 | entryValid | entryContinued

	// TypeLabelInvalid is a Label entry with its valid bit cleared: an
	// explicit "no label" marker rather than an erased entry, per §4.5's
	// "invalid variant is accepted silently".
	TypeLabelInvalid = 0x03
)

// IsValid reports whether the entry's type byte marks it in use.
func IsValid(entryType byte) bool { return entryType&entryValid != 0 }

// IsContinuation reports whether the entry's type byte marks it a
// continuation of a preceding File entry.
func IsContinuation(entryType byte) bool { return entryType&entryContinued != 0 }

// RawEntry is the 32-byte container every directory entry type is decoded
// from and encoded to; unlike the Microsoft-spec struct layouts dsoprea's
// reader favors, the upstream driver (and this layer) treats an entry as an
// opaque type byte plus a fixed data blob, and casts into the specific
// struct only once the type is known. RawEntry mirrors `struct exfat_entry`.
type RawEntry struct {
	Type byte
	Data [31]byte
}

// DecodeRawEntry unpacks a 32-byte slice into a RawEntry.
func DecodeRawEntry(raw []byte) (RawEntry, error) {
	if len(raw) != EntrySize {
		return RawEntry{}, fmt.Errorf("layout: directory entry must be %d bytes, got %d", EntrySize, len(raw))
	}
	var e RawEntry
	if err := restruct.Unpack(raw, binary.LittleEndian, &e); err != nil {
		return RawEntry{}, fmt.Errorf("layout: decoding directory entry: %w", err)
	}
	return e, nil
}

// BitmapEntry locates and sizes the allocation bitmap (type 0x81).
type BitmapEntry struct {
	Type         byte
	Reserved1    [19]byte
	StartCluster uint32
	Size         uint64 // bytes
}

// UpcaseEntry locates, sizes and checksums the upcase table (type 0x82).
type UpcaseEntry struct {
	Type         byte
	Reserved1    [3]byte
	Checksum     uint32
	Reserved2    [12]byte
	StartCluster uint32
	Size         uint64 // bytes
}

// LabelEntry holds the volume label (type 0x83, or 0x03 if invalid/absent).
type LabelEntry struct {
	Type   byte
	Length byte
	Name   [ENameMax]uint16
}

// File entry attribute/flag bits reused from the root package's DOS
// attributes are not duplicated here; layout stays a pure record
// definition with no dependency on the exfat root package.

// FileEntry is the head of a file/directory entry set (type 0x85). It
// carries the checksum of the whole set and the count of continuation
// entries that follow it.
type FileEntry struct {
	Type          byte
	Continuations byte
	Checksum      uint16
	Attrib        uint16
	Reserved1     uint16
	CrTime        uint16
	CrDate        uint16
	MTime         uint16
	MDate         uint16
	ATime         uint16
	ADate         uint16
	CrTimeCS      byte
	MTimeCS       byte
	Reserved2     [10]byte
}

// File info flag values (§3.1, EXFAT_FLAG_xxx upstream).
const (
	FlagFragmented = 1
	FlagContiguous = 3
)

// FileInfoEntry is the second entry of a file/directory set (type 0xC0).
type FileInfoEntry struct {
	Type         byte
	Flag         byte
	Reserved1    byte
	NameLength   byte
	NameHash     uint16
	Reserved2    uint16
	RealSize     uint64
	Reserved3    [4]byte
	StartCluster uint32
	Size         uint64
}

// FileNameEntry carries up to ENameMax UTF-16LE code units of a name
// (type 0xC1); a name longer than that spans multiple FileNameEntry
// records.
type FileNameEntry struct {
	Type      byte
	Reserved1 byte
	Name      [ENameMax]uint16
}

// Pack encodes any of the fixed-layout entry structs back to its 32-byte
// on-disk form.
func Pack(entry interface{}) ([]byte, error) {
	raw, err := restruct.Pack(binary.LittleEndian, entry)
	if err != nil {
		return nil, fmt.Errorf("layout: encoding directory entry: %w", err)
	}
	if len(raw) != EntrySize {
		return nil, fmt.Errorf("layout: packed entry is %d bytes, want %d", len(raw), EntrySize)
	}
	return raw, nil
}

// Unpack decodes a 32-byte slice into one of the fixed-layout entry
// structs, chosen by the caller based on the leading type byte.
func Unpack(raw []byte, entry interface{}) error {
	if len(raw) != EntrySize {
		return fmt.Errorf("layout: directory entry must be %d bytes, got %d", EntrySize, len(raw))
	}
	if err := restruct.Unpack(raw, binary.LittleEndian, entry); err != nil {
		return fmt.Errorf("layout: decoding directory entry: %w", err)
	}
	return nil
}

// ContinuationsForName returns how many continuation entries (1 FileInfo +
// N FileName) a name of the given UTF-16 unit length needs. The whole set
// occupies one entry more than this, for the File entry itself.
func ContinuationsForName(nameUnits int) byte {
	nameEntries := (nameUnits + ENameMax - 1) / ENameMax
	if nameEntries < 1 {
		nameEntries = 1
	}
	return byte(1 + nameEntries)
}
