//go:build linux

package device

import (
	"os"
	"syscall"
	"unsafe"

	"github.com/relan/exfat"
	"golang.org/x/sys/unix"
)

// checkFDOpen reports an error if fd is not currently a valid open file
// descriptor; ensureStdioBound uses that to decide whether it needs to fill
// the gap with /dev/null before touching the real device.
func checkFDOpen(fd uintptr) error {
	var stat unix.Stat_t
	return unix.Fstat(int(fd), &stat)
}

func rebind(devnull *os.File, fd uintptr) error {
	return syscall.Dup2(int(devnull.Fd()), int(fd))
}

// isForcedReadOnly asks the kernel whether it has marked the block device
// read-only (BLKROGET), the check §4.1 requires before granting RW access.
// Non-block-device files (plain disk images) always report false.
func isForcedReadOnly(f *os.File) bool {
	ro, err := unix.IoctlGetInt(int(f.Fd()), unix.BLKROGET)
	if err != nil {
		return false
	}
	return ro != 0
}

// discardRange issues BLKDISCARD for block devices, passing the range
// exactly as given; it is not aligned to the device's discard granularity. For a
// regular file standing in as a disk image, it falls back to punching a
// hole with fallocate(FALLOC_FL_PUNCH_HOLE), and if neither is supported
// returns exfat.ErrUnsupported, matching §4.1's three-tier fallback.
func discardRange(f *os.File, start, end int64) error {
	rng := [2]uint64{uint64(start), uint64(end - start)}
	_, _, errno := unix.Syscall(
		unix.SYS_IOCTL, f.Fd(), uintptr(unix.BLKDISCARD), uintptr(unsafe.Pointer(&rng[0])))
	if errno == 0 {
		return nil
	}
	if err := unix.Fallocate(int(f.Fd()), unix.FALLOC_FL_PUNCH_HOLE|unix.FALLOC_FL_KEEP_SIZE, start, end-start); err == nil {
		return nil
	}
	return exfat.ErrUnsupported.WithMessage("trim/discard not supported on this device")
}
