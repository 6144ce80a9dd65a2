package riscv

import (
	"errors"
	"fmt"
	"io/fs"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestErrorKindMatching(t *testing.T) {
	err := fmt.Errorf("failed at step %d: %w", 3, InvalidEcall(1234))
	require.ErrorIs(t, err, ErrInvalidEcall)
	require.NotErrorIs(t, err, ErrInvalidInstruction)

	var vmErr *Error
	require.ErrorAs(t, err, &vmErr)
	require.Equal(t, uint64(1234), vmErr.Number)
	require.Equal(t, "invalid syscall 1234", vmErr.Error())
}

func TestErrorMessages(t *testing.T) {
	require.Equal(t, "invalid instruction pc=0x1000 instruction=0xffffffff", InvalidInstruction(0x1000, 0xffffffff).Error())
	require.Equal(t, "memory error: write on executable page", ErrMemWriteOnExecutablePage.Error())
	require.Equal(t, "cycles error: max cycles exceeded", ErrCyclesExceeded.Error())
	for k := KindAsm; k <= KindUnimplemented; k++ {
		require.NotContains(t, (&Error{Kind: k}).Error(), "unknown error kind")
	}
}

func TestErrorClasses(t *testing.T) {
	require.True(t, KindMemOutOfStack.IsSandboxViolation())
	require.False(t, KindCyclesExceeded.IsSandboxViolation())
	require.True(t, KindCyclesOverflow.IsResourceLimit())
	require.False(t, KindInvalidEcall.IsResourceLimit())
}

func TestIOError(t *testing.T) {
	cause := &fs.PathError{Op: "open", Path: "program.elf", Err: fs.ErrNotExist}
	err := NewIOError(cause)
	require.ErrorIs(t, err, ErrIO)
	require.True(t, errors.Is(err, fs.ErrNotExist), "cause stays reachable")
	require.Equal(t, "NotFound", err.IOKind)
}
