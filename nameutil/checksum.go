package nameutil

import "github.com/relan/exfat/layout"

// RotateSum16 is the 16-bit "rotate right by one, add" accumulator the
// entry-set and name-hash checksums fold one byte at a time (§3.1, §4.4).
func RotateSum16(sum uint16, b byte) uint16 {
	return ((sum << 15) | (sum >> 1)) + uint16(b)
}

// StartEntrySetChecksum begins an entry-set checksum from the raw 32 bytes
// of a File entry, skipping bytes 2 and 3 (the checksum field itself),
// per §3.1's "starts by folding the File entry excluding the checksum
// field".
func StartEntrySetChecksum(fileEntryRaw []byte) uint16 {
	var sum uint16
	for i, b := range fileEntryRaw {
		if i == 2 || i == 3 {
			continue
		}
		sum = RotateSum16(sum, b)
	}
	return sum
}

// AddEntrySetChecksum folds one more 32-byte continuation entry (FileInfo
// or FileName) into a running entry-set checksum, in full.
func AddEntrySetChecksum(sum uint16, continuationRaw []byte) uint16 {
	for _, b := range continuationRaw {
		sum = RotateSum16(sum, b)
	}
	return sum
}

// UpcaseTableChecksum computes the 32-bit checksum an Upcase directory
// entry stores over the raw bytes of the table it points at (§3.1). It
// reuses layout's 32-bit VBR-style accumulator: both checksums fold with
// the same rotate-right-by-one-and-add rule, just over different byte
// ranges.
func UpcaseTableChecksum(rawTable []byte) uint32 {
	var sum uint32
	for _, b := range rawTable {
		sum = layout.RotateSum32(sum, b)
	}
	return sum
}
