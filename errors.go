package exfat

import (
	"fmt"
	"syscall"
)

// DriverError is a wrapper around a POSIX errno code with a customizable
// message and an optional wrapped cause. It is the error type returned by
// every exported operation in this module.
type DriverError struct {
	// Errno identifies the general category of failure, using the same
	// vocabulary a POSIX file system driver would: ENOENT for a missing
	// path, EEXIST for a name collision, ENOSPC for exhausted allocation,
	// and so on.
	Errno syscall.Errno

	message string
	wrapped error
}

// Error implements the `error` interface.
func (e *DriverError) Error() string {
	if e.message != "" {
		return e.message
	}
	return e.Errno.Error()
}

// Unwrap lets errors.Is/errors.As see through to a wrapped cause.
func (e *DriverError) Unwrap() error {
	return e.wrapped
}

// Is reports whether target is a *DriverError with the same Errno, so that
// `errors.Is(err, exfat.ErrNotFound)` works regardless of how much context
// has been appended with WithMessage/Wrap.
func (e *DriverError) Is(target error) bool {
	other, ok := target.(*DriverError)
	if !ok {
		return false
	}
	return e.Errno == other.Errno
}

// WithMessage returns a new DriverError with the same Errno and an appended
// message, leaving the receiver untouched.
func (e *DriverError) WithMessage(message string) *DriverError {
	return &DriverError{
		Errno:   e.Errno,
		message: fmt.Sprintf("%s: %s", e.Error(), message),
		wrapped: e.wrapped,
	}
}

// WithMessagef is WithMessage with printf-style formatting.
func (e *DriverError) WithMessagef(format string, args ...interface{}) *DriverError {
	return e.WithMessage(fmt.Sprintf(format, args...))
}

// Wrap returns a new DriverError with the same Errno that also wraps `err`,
// so both the abstract error kind and the concrete cause survive.
func (e *DriverError) Wrap(err error) *DriverError {
	return &DriverError{
		Errno:   e.Errno,
		message: fmt.Sprintf("%s: %s", e.Error(), err.Error()),
		wrapped: err,
	}
}

// NewDriverError creates a DriverError with a default message derived from
// the errno code.
func NewDriverError(errno syscall.Errno) *DriverError {
	return &DriverError{Errno: errno, message: errno.Error()}
}

// NewDriverErrorWithMessage creates a DriverError from an errno code with a
// custom message.
func NewDriverErrorWithMessage(errno syscall.Errno, message string) *DriverError {
	return &DriverError{Errno: errno, message: fmt.Sprintf("%s: %s", errno.Error(), message)}
}

// Error kind vocabulary, one per §7 of the specification. Each is a
// package-level sentinel so callers can do errors.Is(err, exfat.ErrNotFound).
var (
	ErrNotFound         = NewDriverError(syscall.ENOENT)
	ErrExists           = NewDriverError(syscall.EEXIST)
	ErrNotADirectory    = NewDriverError(syscall.ENOTDIR)
	ErrIsADirectory     = NewDriverError(syscall.EISDIR)
	ErrNotEmpty         = NewDriverError(syscall.ENOTEMPTY)
	ErrNameTooLong      = NewDriverError(syscall.ENAMETOOLONG)
	ErrInvalidName      = NewDriverErrorWithMessage(syscall.EINVAL, "invalid name")
	ErrInvalidArgument  = NewDriverError(syscall.EINVAL)
	ErrNoSpace          = NewDriverError(syscall.ENOSPC)
	ErrReadOnly         = NewDriverError(syscall.EROFS)
	ErrPermissionDenied = NewDriverError(syscall.EACCES)
	ErrIO               = NewDriverError(syscall.EIO)
	// ErrCorrupted is used for parser/VBR consistency failures. EUCLEAN
	// ("Structure needs cleaning") is the closest POSIX errno for on-disk
	// corruption, the same code fsck-family tools traditionally return.
	ErrCorrupted   = NewDriverErrorWithMessage(syscall.EUCLEAN, "file system is corrupted")
	ErrOutOfMemory = NewDriverError(syscall.ENOMEM)
	ErrUnsupported = NewDriverError(syscall.ENOTSUP)
)

// BugError indicates an invariant violation inside this library itself
// (e.g. a negative node reference count, or a bitmap free() call on a
// cluster number outside the valid range). These are not recoverable and
// are not returned as errors: like exfat_bug() in the original C
// implementation, the caller is meant to see a crash, not a quiet fallback.
type BugError struct {
	message string
}

func (e *BugError) Error() string { return "exfat: bug: " + e.message }

// Bug panics with a BugError built from a printf-style message.
func Bug(format string, args ...interface{}) {
	panic(&BugError{message: fmt.Sprintf(format, args...)})
}
