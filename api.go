package exfat

import (
	"math"
	"os"
	"time"
)

// MountFlags controls how a volume is mounted. Unlike the teacher's
// generic permission-bit scheme (which spans read/write/insert/delete/
// administer for arbitrary file systems), exFAT's own mount options (§4.7)
// are just read-only, no-atime, and the repair level, so the bitmask is
// correspondingly small.
type MountFlags int

const (
	MountReadOnly = MountFlags(1 << iota)
	MountNoATime
)

func (flags MountFlags) ReadOnly() bool { return flags&MountReadOnly != 0 }
func (flags MountFlags) NoATime() bool  { return flags&MountNoATime != 0 }

// RepairLevel controls how the library behaves when it notices recoverable
// on-disk corruption while parsing directory entries (§4.7, §7).
type RepairLevel int

const (
	// RepairNone refuses to write anything to fix corruption; the
	// triggering call fails with ErrCorrupted.
	RepairNone RepairLevel = 0
	// RepairPrompt is handled like RepairAuto by the directory parser: each
	// recoverable problem is reported through the Logger and repaired. The
	// library never prompts.
	RepairPrompt RepairLevel = 1
	// RepairAuto fixes recoverable issues without prompting.
	RepairAuto RepairLevel = 2
)

// FileStat is a platform-independent description of a node's status, built
// from the node's on-disk attributes plus the uid/gid/masks supplied at
// mount time (exFAT itself has no concept of ownership or permission bits;
// see driver.go for where these are synthesized).
type FileStat struct {
	Size         int64
	BlockSize    int64
	NumBlocks    int64
	ModeFlags    os.FileMode
	Uid          uint32
	Gid          uint32
	CreatedAt    time.Time
	LastModified time.Time
	LastAccessed time.Time
}

func (stat *FileStat) IsDir() bool  { return stat.ModeFlags.IsDir() }
func (stat *FileStat) IsFile() bool { return stat.ModeFlags.IsRegular() }

// FSStat is a platform-independent form of statfs(2), filled in the way
// §6.2 describes: exFAT has no inodes, so FilesTotal/FilesFree report
// cluster counts instead, the same fudge the spec asks the FUSE adapter to
// make (f_files/f_favail).
type FSStat struct {
	BlockSize       int64
	TotalBlocks     uint64
	BlocksFree      uint64
	BlocksAvailable uint64
	FilesTotal      uint64
	FilesFree       uint64
	FileSystemID    uint64
	MaxNameLength   int64
	Label           string
}

// UndefinedTimestamp is used in place of a zero time.Time when a timestamp
// genuinely has no value (the root directory has no creation/access time in
// exFAT, per original_source/libexfat/mount.c).
var UndefinedTimestamp = time.UnixMicro(math.MaxInt64)

// Logger receives the ambient warning/debug messages described in §7. The
// default implementation (see logging.go) writes to the standard `log`
// package; callers embedding this library (a FUSE adapter, a CLI tool) may
// supply their own.
type Logger interface {
	Warnf(format string, args ...interface{})
	Debugf(format string, args ...interface{})
}
