// Package layout defines the on-disk records of an exFAT volume (§3.1, C2):
// the volume boot sector and the 32-byte directory entry family. Every
// struct here is bit-exact to the corresponding C layout in the upstream
// driver and is packed/unpacked with go-restruct rather than hand-rolled
// byte twiddling, the same idiom the dsoprea/go-exfat reader uses for its
// BootSectorHeader.
package layout

import (
	"encoding/binary"
	"fmt"

	"github.com/go-restruct/restruct"
)

const (
	// RawSize is the length in bytes of the packed BootSector record.
	// The boot sector itself is always 512 bytes regardless of the
	// volume's own sector size (BootSector.SectorSize).
	RawSize = 512

	bootSignature = 0xAA55
)

// BootSector is the main boot sector of the Volume Boot Region (§3.1),
// bit-exact to `struct exfat_super_block` in the upstream driver. Every
// multi-byte field is little-endian on disk; restruct.Unpack/Pack handle
// the byte order via the binary.LittleEndian argument, so the Go fields are
// plain native integers.
type BootSector struct {
	Jump              [3]byte
	OEMName           [8]byte
	Reserved1         [53]byte
	BlockStart        uint64
	BlockCount        uint64
	FATBlockStart     uint32
	FATBlockCount     uint32
	ClusterBlockStart uint32
	ClusterCount      uint32
	RootDirCluster    uint32
	VolumeSerial      uint32
	Version           uint16
	VolumeState       uint16
	BlockBits         uint8
	BPCBits           uint8
	NumberOfFATs      uint8
	DriveSelect       uint8
	AllocatedPercent  uint8
	Reserved2         [397]byte
	BootSignature     uint16
}

// Unpack decodes a BootSector from a raw RawSize-byte sector.
func Unpack(raw []byte) (*BootSector, error) {
	if len(raw) != RawSize {
		return nil, fmt.Errorf("layout: boot sector must be %d bytes, got %d", RawSize, len(raw))
	}
	var sb BootSector
	if err := restruct.Unpack(raw, binary.LittleEndian, &sb); err != nil {
		return nil, fmt.Errorf("layout: decoding boot sector: %w", err)
	}
	return &sb, nil
}

// Pack encodes the boot sector back to its RawSize-byte on-disk form.
func (sb *BootSector) Pack() ([]byte, error) {
	raw, err := restruct.Pack(binary.LittleEndian, sb)
	if err != nil {
		return nil, fmt.Errorf("layout: encoding boot sector: %w", err)
	}
	if len(raw) != RawSize {
		return nil, fmt.Errorf("layout: packed boot sector is %d bytes, want %d", len(raw), RawSize)
	}
	return raw, nil
}

// SectorSize returns the volume's sector size in bytes (2^BlockBits).
func (sb *BootSector) SectorSize() uint32 { return 1 << sb.BlockBits }

// SectorsPerCluster returns the volume's cluster size in sectors
// (2^BPCBits).
func (sb *BootSector) SectorsPerCluster() uint32 { return 1 << sb.BPCBits }

// ClusterSize returns the volume's cluster size in bytes.
func (sb *BootSector) ClusterSize() uint64 {
	return uint64(sb.SectorSize()) * uint64(sb.SectorsPerCluster())
}

// Validate checks the fields the core depends on (§3.1, §4.7 step 1):
// signature, OEM name, version, sector and cluster size bounds, a non-zero
// cluster count, the root directory cluster, a FAT count of 1, and the
// documented reserved value for the unknown4/drive-number byte. It does not
// check the VBR checksum; fs.Mount checks that separately against both the
// VBR and its backup.
func (sb *BootSector) Validate() error {
	if sb.BootSignature != bootSignature {
		return fmt.Errorf("layout: bad boot signature 0x%04x", sb.BootSignature)
	}
	if string(sb.OEMName[:]) != "EXFAT   " {
		return fmt.Errorf("layout: bad OEM name %q", sb.OEMName)
	}
	if sb.Version != 0x0100 {
		return fmt.Errorf("layout: unsupported version 0x%04x, want 1.0", sb.Version)
	}
	if sb.BlockBits < 9 || sb.BlockBits > 12 {
		return fmt.Errorf("layout: implausible sector size 2^%d", sb.BlockBits)
	}
	if sb.BPCBits > 25-sb.BlockBits {
		return fmt.Errorf("layout: implausible cluster size 2^%d sectors", sb.BPCBits)
	}
	if sb.ClusterCount < 1 {
		return fmt.Errorf("layout: zero cluster count")
	}
	if sb.RootDirCluster < 2 {
		return fmt.Errorf("layout: root directory cluster %d below first data cluster", sb.RootDirCluster)
	}
	if sb.NumberOfFATs != 1 {
		return fmt.Errorf("layout: unsupported FAT count %d, want 1", sb.NumberOfFATs)
	}
	if sb.DriveSelect != 0x80 {
		return fmt.Errorf("layout: unexpected drive select byte 0x%02x, want 0x80", sb.DriveSelect)
	}
	return nil
}

// checksumSkip reports whether byte i of the main boot sector must be
// excluded from the VBR checksum: volume_state (0x6A, 0x6B) and
// allocated_percent (0x70) are the dynamic fields the driver updates
// in-place without recomputing the checksum sector, per §4.4.
func checksumSkip(i int) bool {
	return i == 0x6A || i == 0x6B || i == 0x70
}

// StartChecksum begins a VBR checksum over the main boot sector's raw
// bytes, skipping the dynamic fields. RotateSum32 folds each remaining byte
// with the "rotate right by one, add" accumulator every exFAT checksum
// uses (§3.1 entry-set checksum, §4.4 VBR checksum).
func StartChecksum(rawBootSector []byte) uint32 {
	var sum uint32
	for i, b := range rawBootSector {
		if checksumSkip(i) {
			continue
		}
		sum = RotateSum32(sum, b)
	}
	return sum
}

// AddChecksum folds an additional sector (extended boot sectors, the OEM
// parameter sector, the reserved sector) into a running VBR checksum with
// no bytes excluded.
func AddChecksum(sum uint32, sector []byte) uint32 {
	for _, b := range sector {
		sum = RotateSum32(sum, b)
	}
	return sum
}

// RotateSum32 is the 32-bit "rotate right by one, add" accumulator every
// exFAT 32-bit checksum (VBR, upcase table) folds one byte at a time.
func RotateSum32(sum uint32, b byte) uint32 {
	return ((sum << 31) | (sum >> 1)) + uint32(b)
}
