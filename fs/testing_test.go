package fs

import (
	"encoding/binary"
	"testing"

	"github.com/relan/exfat/device"
	"github.com/relan/exfat/layout"
	"github.com/relan/exfat/nameutil"
	"github.com/stretchr/testify/require"
)

// Geometry constants for the synthetic volume buildTestImage assembles: a
// small, fixed layout just large enough to exercise mount, lookup, and the
// read/write/grow/shrink paths without needing the format builder.
const (
	testSectorSize   = 512
	testFATStart     = 24 // sectors
	testFATSectors   = 16
	testDataStart    = testFATStart + testFATSectors // sector 40
	testClusterCount = 64
	testBitmapStart  = 3
	testUpcaseStart  = 4
	testRootCluster  = 2
)

// buildTestImage assembles a minimal valid exFAT volume in memory: VBR +
// backup VBR, a FAT region, and three seed clusters (root directory,
// allocation bitmap, upcase table). It returns the raw image bytes.
func buildTestImage(t *testing.T) []byte {
	t.Helper()

	totalSectors := testDataStart + testClusterCount
	img := make([]byte, totalSectors*testSectorSize)

	sb := &layout.BootSector{
		FATBlockStart:     testFATStart,
		FATBlockCount:     testFATSectors,
		ClusterBlockStart: testDataStart,
		ClusterCount:      testClusterCount,
		RootDirCluster:    testRootCluster,
		VolumeSerial:      0x12345678,
		Version:           0x0100,
		BlockBits:         9, // 2^9 == 512-byte sectors
		BPCBits:           0, // 2^0 == 1 sector per cluster
		NumberOfFATs:      1,
		DriveSelect:       0x80,
		BootSignature:     0xAA55,
	}
	copy(sb.OEMName[:], "EXFAT   ")

	raw, err := sb.Pack()
	require.NoError(t, err)
	copy(img[0:512], raw)

	writeChecksumSector(t, img, 0)
	// backup VBR immediately follows the 12-sector primary VBR.
	copy(img[12*testSectorSize:12*testSectorSize+512], raw)
	writeChecksumSector(t, img, 12*testSectorSize)

	setFATEntry(img, testRootCluster, clusterEnd)
	setFATEntry(img, testBitmapStart, clusterEnd)
	setFATEntry(img, testUpcaseStart, clusterEnd)

	bitmapOff := clusterOffset(testBitmapStart)
	img[bitmapOff] = 0x07 // clusters 2,3,4 (bits 0-2) are in use

	upcase := nameutil.DefaultUpcaseTable()
	upcaseRaw := make([]byte, len(upcase.Units)*2)
	for i, u := range upcase.Units {
		binary.LittleEndian.PutUint16(upcaseRaw[i*2:], u)
	}
	upcaseOff := clusterOffset(testUpcaseStart)
	copy(img[upcaseOff:], upcaseRaw)
	checksum := nameutil.UpcaseTableChecksum(upcaseRaw)

	rootOff := clusterOffset(testRootCluster)
	writeEntry(t, img, rootOff+0*layout.EntrySize, &layout.BitmapEntry{
		Type:         layout.TypeBitmap,
		StartCluster: testBitmapStart,
		Size:         uint64(byteLen(testClusterCount)),
	})
	writeEntry(t, img, rootOff+1*layout.EntrySize, &layout.UpcaseEntry{
		Type:         layout.TypeUpcase,
		Checksum:     checksum,
		StartCluster: testUpcaseStart,
		Size:         uint64(len(upcaseRaw)),
	})
	// rest of the cluster is already zero, i.e. TypeEOD.

	return img
}

func byteLen(n uint32) int { return int((n + 7) / 8) }

func clusterOffset(c uint32) int64 {
	return int64(testDataStart*testSectorSize) + int64(c-2)*testSectorSize
}

const clusterEnd = 0xFFFFFFFF

func setFATEntry(img []byte, c uint32, value uint32) {
	off := testFATStart*testSectorSize + int(c)*4
	binary.LittleEndian.PutUint32(img[off:], value)
}

func writeEntry(t *testing.T, img []byte, offset int64, entry interface{}) {
	t.Helper()
	raw, err := layout.Pack(entry)
	require.NoError(t, err)
	copy(img[offset:], raw)
}

func writeChecksumSector(t *testing.T, img []byte, vbrBase int) {
	t.Helper()
	sum := layout.StartChecksum(img[vbrBase : vbrBase+512])
	for i := 1; i < 11; i++ {
		sum = layout.AddChecksum(sum, img[vbrBase+i*512:vbrBase+(i+1)*512])
	}
	binary.LittleEndian.PutUint32(img[vbrBase+11*512:], sum)
}

// newTestFS mounts buildTestImage's volume against an in-memory device and
// registers cleanup to unmount it.
func newTestFS(t *testing.T) *FileSystem {
	t.Helper()
	img := buildTestImage(t)
	dev, _, err := device.NewMemoryDevice(img, false)
	require.NoError(t, err)

	fsys, err := mountDevice(dev, Options{})
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = Unmount(fsys)
	})
	return fsys
}
