package fs

import (
	"encoding/binary"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/relan/exfat"
	"github.com/relan/exfat/bitmap"
	"github.com/relan/exfat/cluster"
	"github.com/relan/exfat/device"
	"github.com/relan/exfat/layout"
	"github.com/relan/exfat/nameutil"
	"github.com/relan/exfat/node"
)

// vbrSectorCount is the size of the Volume Boot Region in sectors: the main
// boot sector, 8 extended boot sectors, the OEM parameter sector, a
// reserved sector, and the checksum sector (§3.1, §4.7 step 3).
const vbrSectorCount = 12

// Options controls how Mount opens and interprets a volume (§4.7 step 6).
type Options struct {
	Mode   device.OpenMode
	Flags  exfat.MountFlags
	Repair exfat.RepairLevel
	Uid    uint32
	Gid    uint32
	// Umask, Dmask, Fmask follow the upstream convention: dmask/fmask
	// default to umask when not given explicitly.
	Umask  os.FileMode
	Dmask  os.FileMode
	Fmask  os.FileMode
	Logger exfat.Logger
}

// ParseOptions parses a comma-separated option string ("ro,noatime,repair=2,
// umask=022,uid=1000,gid=1000") the way upstream's mount.c's get_option/
// get_int_option pair does, generalized from their umask-only coverage to
// every option §4.7 names.
func ParseOptions(optionString string) (Options, error) {
	var opts Options
	haveUmask := false
	var umask int64

	for _, field := range strings.Split(optionString, ",") {
		field = strings.TrimSpace(field)
		if field == "" {
			continue
		}
		key, value, hasValue := strings.Cut(field, "=")
		switch key {
		case "ro":
			opts.Flags |= exfat.MountReadOnly
		case "noatime":
			opts.Flags |= exfat.MountNoATime
		case "repair":
			level, err := parseIntOption(key, value, hasValue, 10)
			if err != nil {
				return Options{}, err
			}
			opts.Repair = exfat.RepairLevel(level)
		case "umask":
			n, err := parseIntOption(key, value, hasValue, 8)
			if err != nil {
				return Options{}, err
			}
			umask = n
			haveUmask = true
			opts.Umask = os.FileMode(n) & 0777
		case "dmask":
			n, err := parseIntOption(key, value, hasValue, 8)
			if err != nil {
				return Options{}, err
			}
			opts.Dmask = os.FileMode(n) & 0777
		case "fmask":
			n, err := parseIntOption(key, value, hasValue, 8)
			if err != nil {
				return Options{}, err
			}
			opts.Fmask = os.FileMode(n) & 0777
		case "uid":
			n, err := parseIntOption(key, value, hasValue, 10)
			if err != nil {
				return Options{}, err
			}
			opts.Uid = uint32(n)
		case "gid":
			n, err := parseIntOption(key, value, hasValue, 10)
			if err != nil {
				return Options{}, err
			}
			opts.Gid = uint32(n)
		default:
			return Options{}, fmt.Errorf("fs: unknown mount option %q", key)
		}
	}

	if haveUmask {
		if opts.Dmask == 0 {
			opts.Dmask = os.FileMode(umask) & 0777
		}
		if opts.Fmask == 0 {
			opts.Fmask = os.FileMode(umask) & 0777
		}
	}
	return opts, nil
}

func parseIntOption(name, value string, hasValue bool, base int) (int64, error) {
	if !hasValue {
		return 0, fmt.Errorf("fs: option %q requires a value", name)
	}
	n, err := strconv.ParseInt(value, base, 64)
	if err != nil {
		return 0, fmt.Errorf("fs: bad value for option %q: %w", name, err)
	}
	return n, nil
}

// Mount opens path and brings up a FileSystem handle per §4.7.
func Mount(path string, opts Options) (*FileSystem, error) {
	mode := opts.Mode
	if opts.Flags.ReadOnly() {
		mode = device.ModeReadOnly
	}

	dev, err := device.Open(path, mode)
	if err != nil {
		return nil, err
	}

	fsys, err := mountDevice(dev, opts)
	if err != nil {
		dev.Close()
		return nil, err
	}
	return fsys, nil
}

// mountDevice runs the §4.7 mount sequence against an already-open device,
// factored out of Mount so tests can exercise it against an in-memory
// device without touching the filesystem.
func mountDevice(dev *device.Device, opts Options) (*FileSystem, error) {
	sb, err := readSuperblock(dev)
	if err != nil {
		return nil, err
	}
	if err := sb.Validate(); err != nil {
		return nil, exfat.ErrCorrupted.Wrap(err)
	}

	if err := verifyVBRChecksums(dev, sb, opts.Logger); err != nil {
		return nil, err
	}

	engine := cluster.New(dev, sb)

	root := node.NewNode()
	root.Attrib = exfat.AttribDir
	root.Chain.StartCluster = sb.RootDirCluster
	root.Size = rootDirSize(engine, sb.RootDirCluster)
	root.ValidSize = root.Size
	root.MTime = exfat.UndefinedTimestamp
	root.ATime = exfat.UndefinedTimestamp

	parser := node.NewParser(dev, engine, nil)
	parser.Repair = opts.Repair
	parser.Logger = opts.Logger

	result, err := parser.CacheDirectory(root, true)
	if err != nil {
		return nil, err
	}
	if result.Bitmap == nil {
		return nil, exfat.ErrCorrupted.WithMessage("root directory has no allocation bitmap entry")
	}
	if result.Upcase == nil {
		return nil, exfat.ErrCorrupted.WithMessage("root directory has no upcase table entry")
	}
	if err := bitmap.Validate(result.Bitmap.SizeBytes, sb.ClusterCount); err != nil {
		return nil, exfat.ErrCorrupted.Wrap(err)
	}

	bmap, err := bitmap.Load(dev, engine, result.Bitmap.StartCluster, sb.ClusterCount)
	if err != nil {
		return nil, err
	}

	// The upcase table wasn't available during the scan above (it is
	// discovered by that same scan), so re-cache with it wired in to
	// validate any name hashes the first pass skipped.
	root.Flags = 0
	root.FirstChild = nil
	parser.SetUpcase(result.Upcase.Table)
	result, err = parser.CacheDirectory(root, true)
	if err != nil {
		return nil, err
	}

	fsys := &FileSystem{
		dev:         dev,
		sb:          sb,
		engine:      engine,
		bmap:        bmap,
		upcase:      result.Upcase.Table,
		parser:      parser,
		root:        root,
		Options:     opts,
		Logger:      opts.Logger,
		label:       result.Label,
		hasLabel:    result.HasLabel,
		labelOffset: -1,
		zeroCluster: make([]byte, engine.ClusterSize()),
	}
	if result.HasLabelEntry {
		fsys.labelOffset = result.LabelOffset
	}

	node.GetNode(root)
	return fsys, nil
}

// Unmount drops the pinned root reference, flushes every dirty node and the
// bitmap, syncs the device, and closes it (§4.7's Unmount).
func Unmount(fsys *FileSystem) error {
	node.PutNode(fsys.root)

	if err := walkDirty(fsys.root, func(n *node.Node) error {
		return node.FlushNode(fsys.dev, n, fsys.upcase)
	}); err != nil {
		return err
	}

	if err := fsys.bmap.Flush(); err != nil {
		return err
	}

	node.ResetCache(fsys.root, fsys.Logger)

	if err := fsys.dev.Flush(); err != nil {
		return err
	}
	return fsys.dev.Close()
}

func readSuperblock(dev *device.Device) (*layout.BootSector, error) {
	raw := make([]byte, layout.RawSize)
	if err := dev.ReadAt(raw, 0); err != nil {
		return nil, err
	}
	return layout.Unpack(raw)
}

// rootDirSize walks the root directory's own FAT chain to count its
// clusters (§4.7 step 4): the root directory cannot be contiguous, since
// there is no flag to mark it so, matching upstream's rootdir_size.
func rootDirSize(engine *cluster.Engine, rootCluster uint32) uint64 {
	var clusters uint64
	c := rootCluster
	for !cluster.Invalid(c) {
		clusters++
		next, err := engine.NextCluster(false, c)
		if err != nil {
			break
		}
		c = next
	}
	return clusters * engine.ClusterSize()
}

// verifyVBRChecksums validates the primary VBR's checksum sector against
// the other 11 sectors' contents, then does the same for the backup VBR
// that immediately follows it (§4.7 step 3). A mismatch in the primary is a
// hard error; a mismatch confined to the backup is only a warning, since
// the primary is what every other read in this package trusts. The warning
// goes to logger when it is non-nil.
func verifyVBRChecksums(dev *device.Device, sb *layout.BootSector, logger exfat.Logger) error {
	sectorSize := int(sb.SectorSize())

	primary, err := readVBRChecksum(dev, 0, sectorSize)
	if err != nil {
		return err
	}
	primaryOK := primary.computed == primary.stored

	backupOffset := int64(vbrSectorCount * sectorSize)
	backup, err := readVBRChecksum(dev, backupOffset, sectorSize)
	if err != nil {
		return err
	}
	backupOK := backup.computed == backup.stored

	if !primaryOK {
		return exfat.ErrCorrupted.WithMessagef("VBR checksum mismatch: got 0x%08x, want 0x%08x", primary.computed, primary.stored)
	}
	if !backupOK && logger != nil {
		logger.Warnf("backup VBR checksum mismatch: got 0x%08x, want 0x%08x", backup.computed, backup.stored)
	}
	return nil
}

type vbrChecksum struct {
	computed uint32
	stored   uint32
}

func readVBRChecksum(dev *device.Device, base int64, sectorSize int) (vbrChecksum, error) {
	mainSector := make([]byte, sectorSize)
	if err := dev.ReadAt(mainSector[:layout.RawSize], base); err != nil {
		return vbrChecksum{}, err
	}
	// Pad logical sectors larger than the 512-byte boot sector record with
	// the zero bytes the format builder writes there.
	sum := layout.StartChecksum(mainSector[:layout.RawSize])
	if sectorSize > layout.RawSize {
		sum = layout.AddChecksum(sum, mainSector[layout.RawSize:])
	}

	sector := make([]byte, sectorSize)
	for i := 1; i < vbrSectorCount-1; i++ {
		if err := dev.ReadAt(sector, base+int64(i)*int64(sectorSize)); err != nil {
			return vbrChecksum{}, err
		}
		sum = layout.AddChecksum(sum, sector)
	}

	checksumSector := make([]byte, sectorSize)
	if err := dev.ReadAt(checksumSector, base+int64(vbrSectorCount-1)*int64(sectorSize)); err != nil {
		return vbrChecksum{}, err
	}
	stored := binary.LittleEndian.Uint32(checksumSector[:4])

	return vbrChecksum{computed: sum, stored: stored}, nil
}

// SetLabel writes (or clears, with an empty string) the volume label entry
// in the root directory, finding a fresh slot if none existed before
// (§4.5's Label entry, supplemented per original_source's exfatlabel).
func (fsys *FileSystem) SetLabel(label string) error {
	units, err := nameutil.Encode(label)
	if err != nil {
		return err
	}
	if len(units) > layout.ENameMax {
		return exfat.ErrInvalidArgument.WithMessage("label longer than 15 characters")
	}

	var raw [layout.EntrySize]byte
	var le layout.LabelEntry
	if len(units) == 0 {
		le.Type = layout.TypeLabelInvalid
	} else {
		le.Type = layout.TypeLabel
		le.Length = byte(len(units))
		copy(le.Name[:], units)
	}
	packed, err := layout.Pack(&le)
	if err != nil {
		return err
	}
	copy(raw[:], packed)

	if fsys.labelOffset < 0 {
		slot, err := node.FindSlot(fsys.dev, fsys.engine, fsys.root, 1, fsys.growChain(fsys.root))
		if err != nil {
			return err
		}
		fsys.labelOffset = slot.Offset
	}
	if err := fsys.dev.WriteAt(raw[:], fsys.labelOffset); err != nil {
		return err
	}

	fsys.label = label
	fsys.hasLabel = len(units) > 0
	return nil
}
