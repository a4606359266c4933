//go:build !linux

package device

import (
	"os"

	"github.com/relan/exfat"
)

func checkFDOpen(fd uintptr) error {
	// Best-effort only outside Linux: assume the descriptor is bound.
	return nil
}

func rebind(devnull *os.File, fd uintptr) error {
	return nil
}

func isForcedReadOnly(f *os.File) bool {
	return false
}

func discardRange(f *os.File, start, end int64) error {
	return exfat.ErrUnsupported.WithMessage("trim/discard requires Linux")
}
