package layout_test

import (
	"testing"

	"github.com/relan/exfat/layout"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validBootSector() *layout.BootSector {
	sb := &layout.BootSector{
		OEMName:           [8]byte{'E', 'X', 'F', 'A', 'T', ' ', ' ', ' '},
		BlockStart:        0,
		BlockCount:        1 << 20,
		FATBlockStart:     24,
		FATBlockCount:     8,
		ClusterBlockStart: 40,
		ClusterCount:      1000,
		RootDirCluster:    2,
		VolumeSerial:      0xdeadbeef,
		Version:           0x0100,
		BlockBits:         9,
		BPCBits:           3,
		NumberOfFATs:      1,
		DriveSelect:       0x80,
		BootSignature:     0xAA55,
	}
	copy(sb.Jump[:], []byte{0xEB, 0x76, 0x90})
	return sb
}

func TestBootSectorPackUnpackRoundTrip(t *testing.T) {
	sb := validBootSector()
	raw, err := sb.Pack()
	require.NoError(t, err)
	require.Len(t, raw, layout.RawSize)

	decoded, err := layout.Unpack(raw)
	require.NoError(t, err)
	assert.Equal(t, sb, decoded)
}

func TestBootSectorValidateAccepts(t *testing.T) {
	assert.NoError(t, validBootSector().Validate())
}

func TestBootSectorValidateRejectsBadSignature(t *testing.T) {
	sb := validBootSector()
	sb.BootSignature = 0
	assert.Error(t, sb.Validate())
}

func TestBootSectorValidateRejectsBadOEMName(t *testing.T) {
	sb := validBootSector()
	sb.OEMName = [8]byte{'n', 'o', 'p', 'e', ' ', ' ', ' ', ' '}
	assert.Error(t, sb.Validate())
}

func TestBootSectorValidateRejectsMultipleFATs(t *testing.T) {
	sb := validBootSector()
	sb.NumberOfFATs = 2
	assert.Error(t, sb.Validate())
}

func TestBootSectorSectorAndClusterSize(t *testing.T) {
	sb := validBootSector()
	assert.EqualValues(t, 512, sb.SectorSize())
	assert.EqualValues(t, 8, sb.SectorsPerCluster())
	assert.EqualValues(t, 4096, sb.ClusterSize())
}

func TestChecksumMatchesAcrossEquivalentSectors(t *testing.T) {
	sb := validBootSector()
	raw, err := sb.Pack()
	require.NoError(t, err)

	sum := layout.StartChecksum(raw)

	other := validBootSector()
	other.VolumeState = 0x1234         // excluded byte range, must not affect checksum
	other.AllocatedPercent = 77        // excluded byte, must not affect checksum
	otherRaw, err := other.Pack()
	require.NoError(t, err)

	assert.Equal(t, sum, layout.StartChecksum(otherRaw))
}

func TestChecksumChangesWithCoveredBytes(t *testing.T) {
	sb := validBootSector()
	raw, err := sb.Pack()
	require.NoError(t, err)
	sum := layout.StartChecksum(raw)

	sb.VolumeSerial++
	raw2, err := sb.Pack()
	require.NoError(t, err)

	assert.NotEqual(t, sum, layout.StartChecksum(raw2))
}
