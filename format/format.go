// Package format builds a brand-new exFAT volume (§4.8, C9): it lays out the
// volume boot region, the FAT, the allocation bitmap, the upcase table and
// the root directory exactly the way a freshly mounted volume expects to
// find them, then writes the whole thing to a device in one pass.
//
// The layout math is grounded in the upstream mkfs's init_sb/get_spc_bits
// (mkfs/main.c, mkfs/vbr.c): a 512-byte sector size, a cluster size chosen
// by volume size unless the caller overrides it, a FAT immediately following
// the primary+backup VBR region, and a cluster heap that begins with the
// allocation bitmap, then the upcase table, then the root directory
// (mkfs/rootdir.c's fixed FS_OBJECT write order).
package format

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/noxer/bytewriter"

	"github.com/relan/exfat/cluster"
	"github.com/relan/exfat/device"
	"github.com/relan/exfat/layout"
	"github.com/relan/exfat/nameutil"
)

const (
	sectorSize = 512

	// vbrSectorCount is the length in sectors of one copy of the volume
	// boot region (main boot sector + 8 extended boot sectors + OEM
	// parameter sector + reserved sector + checksum sector). The region
	// is written twice: primary at sector 0, backup at sector
	// vbrSectorCount.
	vbrSectorCount = 12

	// fatBlockStart is fixed rather than computed: the FAT always begins
	// immediately after the primary and backup VBR regions.
	fatBlockStart = 2 * vbrSectorCount

	// maxDataCluster is the last cluster number a 32-bit FAT entry can
	// address before running into the reserved Bad/End range (§3.1).
	maxDataCluster = 0xFFFFFFF5

	// maxBPCBits keeps BootSector.Validate's BPCBits <= 25-BlockBits rule
	// satisfiable at the smallest (512-byte) sector size.
	maxBPCBits = 25 - 9
)

// Options configures a newly formatted volume. The zero value picks
// defaults for every field.
type Options struct {
	// SectorsPerCluster overrides the automatic cluster-size heuristic.
	// Must be a power of two. Zero selects the size automatically from
	// the volume's total byte size (§4.8).
	SectorsPerCluster uint32

	// Label is the initial volume label, UTF-8, at most 15 UTF-16 units
	// once encoded. Empty writes an explicit "no label" entry rather
	// than omitting it (§4.5).
	Label string

	// VolumeSerial seeds the VolumeSerial field. Zero derives one from
	// the current time, the same way mkexfat's get_volume_serial does.
	VolumeSerial uint32

	// FirstSector is the partition's starting sector relative to the
	// whole disk, stored verbatim in BlockStart for informational use
	// by tools that read the VBR directly. Most callers formatting a
	// whole disk image leave this zero.
	FirstSector uint64
}

// Format creates (or truncates) the file at path to size bytes and writes a
// freshly formatted exFAT volume into it.
func Format(path string, size int64, opts Options) error {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o666)
	if err != nil {
		return fmt.Errorf("format: creating %s: %w", path, err)
	}
	if err := f.Truncate(size); err != nil {
		f.Close()
		return fmt.Errorf("format: sizing %s to %d bytes: %w", path, size, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("format: closing %s: %w", path, err)
	}

	dev, err := device.Open(path, device.ModeReadWrite)
	if err != nil {
		return err
	}
	defer dev.Close()

	return formatDevice(dev, opts)
}

// formatDevice performs the actual layout and write, against any device
// (a real file or an in-memory one, for tests). Factored out of Format the
// same way mountDevice is factored out of Mount in the fs package, so the
// layout logic can be exercised without touching the filesystem.
func formatDevice(dev *device.Device, opts Options) error {
	totalSectors := uint64(dev.Size()) / sectorSize
	if uint64(dev.Size())%sectorSize != 0 {
		return fmt.Errorf("format: device size %d is not a multiple of the %d-byte sector size", dev.Size(), sectorSize)
	}

	plan, err := planLayout(totalSectors, opts)
	if err != nil {
		return err
	}

	serial := opts.VolumeSerial
	if serial == 0 {
		serial = deriveSerial()
	}

	sb := &layout.BootSector{
		BlockStart:        opts.FirstSector,
		BlockCount:        totalSectors,
		FATBlockStart:     fatBlockStart,
		FATBlockCount:     uint32(plan.fatSectors),
		ClusterBlockStart: uint32(plan.clusterBlockStart),
		ClusterCount:      uint32(plan.clusterCount),
		RootDirCluster:    plan.rootCluster,
		VolumeSerial:      serial,
		Version:           0x0100,
		BlockBits:         9,
		BPCBits:           uint8(plan.bpcBits),
		NumberOfFATs:      1,
		DriveSelect:       0x80,
		BootSignature:     0xAA55,
	}
	sb.Jump = [3]byte{0xEB, 0x76, 0x90}
	copy(sb.OEMName[:], "EXFAT   ")

	if err := sb.Validate(); err != nil {
		return fmt.Errorf("format: internal layout is invalid: %w", err)
	}

	if err := writeVBRs(dev, sb); err != nil {
		return err
	}
	if err := writeFAT(dev, plan); err != nil {
		return err
	}

	engine := cluster.New(dev, sb)

	upcaseRaw := UpcaseTableBytes()
	if err := dev.WriteAt(upcaseRaw, engine.ClusterToOffset(plan.upcaseCluster)); err != nil {
		return err
	}
	checksum := nameutil.UpcaseTableChecksum(upcaseRaw)

	bitmapRaw := buildBitmap(plan)
	if err := dev.WriteAt(bitmapRaw, engine.ClusterToOffset(plan.bitmapCluster)); err != nil {
		return err
	}

	rootRaw, err := buildRootDirectory(plan, opts.Label, checksum, uint64(len(upcaseRaw)))
	if err != nil {
		return err
	}
	if err := dev.WriteAt(rootRaw, engine.ClusterToOffset(plan.rootCluster)); err != nil {
		return err
	}

	return dev.Flush()
}

// deriveSerial builds a volume serial from the current time, the same
// tv_sec/tv_usec packing mkexfat's get_volume_serial uses.
func deriveSerial() uint32 {
	now := time.Now()
	return uint32(now.Unix())<<20 | uint32(now.Nanosecond()/1000)&0xFFFFF
}

// volumeLayout holds every geometry value derived by planLayout, used by
// the region builders below.
type volumeLayout struct {
	bpcBits           uint32
	sectorsPerCluster uint64
	clusterSize       uint64
	fatSectors        uint64
	clusterBlockStart uint64
	clusterCount      uint64

	bitmapCluster  uint32
	bitmapClusters uint64
	upcaseCluster  uint32
	upcaseClusters uint64
	rootCluster    uint32
	rootClusters   uint64
}

// planLayout derives every geometry value from the volume's total sector
// count: the cluster size (unless overridden), the FAT size, and where the
// bitmap, upcase table and root directory land in the cluster heap.
// Grounded on mkfs/main.c's get_spc_bits and init_sb: when the caller
// doesn't pin a cluster size, this tries 4 KiB, 32 KiB, then 128 KiB
// clusters (doubling further if needed) until the resulting cluster count
// fits the 32-bit FAT; a caller-supplied size is validated against the same
// bound instead of being silently adjusted.
func planLayout(totalSectors uint64, opts Options) (*volumeLayout, error) {
	if totalSectors <= fatBlockStart {
		return nil, fmt.Errorf("format: volume has only %d sectors, too small for the VBR and FAT alone", totalSectors)
	}

	if opts.SectorsPerCluster != 0 {
		bits, ok := log2PowerOfTwo(opts.SectorsPerCluster)
		if !ok {
			return nil, fmt.Errorf("format: sectors-per-cluster %d is not a power of two", opts.SectorsPerCluster)
		}
		return solveLayout(totalSectors, bits)
	}

	for bits := defaultBPCBits(totalSectors * sectorSize); bits <= maxBPCBits; bits++ {
		plan, err := solveLayout(totalSectors, bits)
		if err == nil {
			return plan, nil
		}
	}
	return nil, fmt.Errorf("format: volume has %d sectors, too large to address with a 32-bit FAT", totalSectors)
}

// defaultBPCBits picks the starting cluster-size exponent for a volume of
// the given byte size (mkfs/main.c's get_spc_bits): 4 KiB clusters under
// 256 MiB, 32 KiB under 32 GiB, 128 KiB otherwise.
func defaultBPCBits(sizeBytes uint64) uint32 {
	const (
		mib256 = 256 * 1024 * 1024
		gib32  = 32 * 1024 * 1024 * 1024
	)
	switch {
	case sizeBytes < mib256:
		return 3
	case sizeBytes < gib32:
		return 6
	default:
		return 8
	}
}

// solveLayout computes the FAT size and cluster count for one candidate
// cluster-size exponent, failing if the resulting cluster count would
// overflow the 32-bit FAT or if there isn't enough room left for the
// bitmap, upcase table and root directory.
func solveLayout(totalSectors uint64, bits uint32) (*volumeLayout, error) {
	sectorsPerCluster := uint64(1) << bits
	clusterSize := sectorsPerCluster * sectorSize

	// First approximation of the cluster count, ignoring the FAT's own
	// size, bounds how large the FAT needs to be.
	approxClusters := (totalSectors - fatBlockStart) / sectorsPerCluster
	fatEntries := approxClusters + 2 // entries 0 and 1 are reserved, not addressable clusters
	fatSectorsRaw := ceilDiv(fatEntries*4, sectorSize)
	fatSectors := roundUp(fatSectorsRaw, sectorsPerCluster)

	clusterBlockStart := uint64(fatBlockStart) + fatSectors
	if clusterBlockStart >= totalSectors {
		return nil, fmt.Errorf("format: cluster size 2^%d sectors leaves no room for data clusters", bits)
	}
	clusterCount := (totalSectors - clusterBlockStart) / sectorsPerCluster
	if clusterCount > maxDataCluster {
		return nil, fmt.Errorf("format: cluster size 2^%d sectors yields %d clusters, exceeds the FAT32-bit limit", bits, clusterCount)
	}

	bitmapClusters := ceilDiv(uint64(byteLen(clusterCount)), clusterSize)
	upcaseClusters := ceilDiv(uint64(len(UpcaseTableBytes())), clusterSize)
	rootClusters := uint64(1)

	reserved := bitmapClusters + upcaseClusters + rootClusters
	if clusterCount < reserved+1 { // +1 so the volume isn't born completely full
		return nil, fmt.Errorf("format: only %d data clusters available, need at least %d", clusterCount, reserved+1)
	}

	return &volumeLayout{
		bpcBits:           bits,
		sectorsPerCluster: sectorsPerCluster,
		clusterSize:       clusterSize,
		fatSectors:        fatSectors,
		clusterBlockStart: clusterBlockStart,
		clusterCount:      clusterCount,

		bitmapCluster:  cluster.FirstDataCluster,
		bitmapClusters: bitmapClusters,
		upcaseCluster:  cluster.FirstDataCluster + uint32(bitmapClusters),
		upcaseClusters: upcaseClusters,
		rootCluster:    cluster.FirstDataCluster + uint32(bitmapClusters) + uint32(upcaseClusters),
		rootClusters:   rootClusters,
	}, nil
}

// writeVBRs assembles one copy of the volume boot region (main boot sector,
// 8 extended boot sectors, OEM parameter sector, reserved sector, checksum
// sector) and writes it at both the primary and backup locations.
func writeVBRs(dev *device.Device, sb *layout.BootSector) error {
	mainRaw, err := sb.Pack()
	if err != nil {
		return err
	}

	region := make([]byte, vbrSectorCount*sectorSize)
	var w io.Writer = bytewriter.New(region)
	if _, err := w.Write(mainRaw); err != nil {
		return err
	}

	extended := make([]byte, sectorSize)
	binary.LittleEndian.PutUint32(extended[sectorSize-4:], 0xAA550000)
	for i := 0; i < 8; i++ {
		if _, err := w.Write(extended); err != nil {
			return err
		}
	}

	oemAndReserved := make([]byte, 2*sectorSize)
	if _, err := w.Write(oemAndReserved); err != nil {
		return err
	}

	sum := layout.StartChecksum(region[0:sectorSize])
	for i := 1; i < 11; i++ {
		sum = layout.AddChecksum(sum, region[i*sectorSize:(i+1)*sectorSize])
	}
	checksumSector := make([]byte, sectorSize)
	for i := 0; i < sectorSize; i += 4 {
		binary.LittleEndian.PutUint32(checksumSector[i:], sum)
	}
	if _, err := w.Write(checksumSector); err != nil {
		return err
	}

	if err := dev.WriteAt(region, 0); err != nil {
		return err
	}
	return dev.WriteAt(region, int64(vbrSectorCount)*sectorSize)
}

// writeFAT builds the FAT region: the media descriptor and reserved
// entries at slots 0 and 1, then chains for the bitmap, upcase table and
// root directory clusters in that order, matching mkfs/fat.c's
// fat_write_entries call sequence.
func writeFAT(dev *device.Device, plan *volumeLayout) error {
	fat := make([]byte, plan.fatSectors*sectorSize)
	binary.LittleEndian.PutUint32(fat[0:], 0xFFFFFFF8)
	binary.LittleEndian.PutUint32(fat[4:], 0xFFFFFFFF)

	writeChain(fat, plan.bitmapCluster, plan.bitmapClusters)
	writeChain(fat, plan.upcaseCluster, plan.upcaseClusters)
	writeChain(fat, plan.rootCluster, plan.rootClusters)

	return dev.WriteAt(fat, int64(fatBlockStart)*sectorSize)
}

// writeChain fills in count consecutive FAT entries starting at cluster
// start, each pointing at the next and the last terminating with
// cluster.End.
func writeChain(fat []byte, start uint32, count uint64) {
	for i := uint64(0); i < count; i++ {
		c := start + uint32(i)
		next := c + 1
		if i == count-1 {
			next = cluster.End
		}
		binary.LittleEndian.PutUint32(fat[c*4:], next)
	}
}

// buildBitmap returns the allocation bitmap's initial on-disk content:
// every cluster the format builder itself consumed (bitmap, upcase table,
// root directory) marked allocated, everything else free.
func buildBitmap(plan *volumeLayout) []byte {
	raw := make([]byte, byteLen(plan.clusterCount))
	used := plan.bitmapClusters + plan.upcaseClusters + plan.rootClusters
	for i := uint64(0); i < used; i++ {
		c := plan.bitmapCluster + uint32(i)
		idx := c - cluster.FirstDataCluster
		raw[idx/8] |= 1 << (idx % 8)
	}
	return raw
}

// buildRootDirectory assembles the root directory's first cluster: a Label
// entry (always present, even when there is no label), then Bitmap and
// Upcase entries, then an implicit EOD (the rest of the cluster is already
// zero). The fixed write order matches mkfs/rootdir.c's rootdir_write.
func buildRootDirectory(plan *volumeLayout, label string, upcaseChecksum uint32, upcaseSize uint64) ([]byte, error) {
	raw := make([]byte, plan.rootClusters*plan.clusterSize)
	var w io.Writer = bytewriter.New(raw)

	labelEntry, err := buildLabelEntry(label)
	if err != nil {
		return nil, err
	}
	if err := packAndWrite(w, labelEntry); err != nil {
		return nil, err
	}

	bitmapEntry := &layout.BitmapEntry{
		Type:         layout.TypeBitmap,
		StartCluster: plan.bitmapCluster,
		Size:         uint64(byteLen(plan.clusterCount)),
	}
	if err := packAndWrite(w, bitmapEntry); err != nil {
		return nil, err
	}

	upcaseEntry := &layout.UpcaseEntry{
		Type:         layout.TypeUpcase,
		Checksum:     upcaseChecksum,
		StartCluster: plan.upcaseCluster,
		Size:         upcaseSize,
	}
	if err := packAndWrite(w, upcaseEntry); err != nil {
		return nil, err
	}

	return raw, nil
}

func buildLabelEntry(label string) (*layout.LabelEntry, error) {
	if label == "" {
		return &layout.LabelEntry{Type: layout.TypeLabelInvalid}, nil
	}
	units, err := nameutil.Encode(label)
	if err != nil {
		return nil, fmt.Errorf("format: encoding label %q: %w", label, err)
	}
	if len(units) > layout.ENameMax {
		return nil, fmt.Errorf("format: label %q is %d units, exceeds the %d-unit limit", label, len(units), layout.ENameMax)
	}
	entry := &layout.LabelEntry{Type: layout.TypeLabel, Length: byte(len(units))}
	copy(entry.Name[:], units)
	return entry, nil
}

func packAndWrite(w io.Writer, entry interface{}) error {
	raw, err := layout.Pack(entry)
	if err != nil {
		return err
	}
	_, err = w.Write(raw)
	return err
}

// byteLen returns the number of bytes needed to hold n bits, the same
// rounding the bitmap package's Validate uses.
func byteLen(n uint64) uint64 { return (n + 7) / 8 }

func ceilDiv(a, b uint64) uint64 { return (a + b - 1) / b }

func roundUp(a, multiple uint64) uint64 { return ceilDiv(a, multiple) * multiple }

// log2PowerOfTwo returns log2(n) and true if n is a nonzero power of two.
func log2PowerOfTwo(n uint32) (uint32, bool) {
	if n == 0 || n&(n-1) != 0 {
		return 0, false
	}
	var bits uint32
	for n > 1 {
		n >>= 1
		bits++
	}
	return bits, true
}
