//go:build !embedded

package riscv

import (
	"errors"
	"io"
	"io/fs"
	"os"
)

// NewIOError wraps a host I/O failure. Only hosted builds read program images from the host.
func NewIOError(err error) *Error {
	return &Error{Kind: KindIO, IOKind: ioKind(err), Detail: err.Error(), Err: err}
}

func ioKind(err error) string {
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return "NotFound"
	case errors.Is(err, fs.ErrPermission):
		return "PermissionDenied"
	case errors.Is(err, fs.ErrExist):
		return "AlreadyExists"
	case errors.Is(err, io.ErrUnexpectedEOF), errors.Is(err, io.EOF):
		return "UnexpectedEof"
	case errors.Is(err, os.ErrDeadlineExceeded):
		return "TimedOut"
	default:
		return "Other"
	}
}
