package riscv

import (
	"fmt"
)

// ErrorKind is the closed set of failures the machine can terminate with.
type ErrorKind uint8

const (
	KindAsm ErrorKind = iota + 1
	KindCyclesExceeded
	KindCyclesOverflow
	KindElfBits
	KindElfParse
	KindElfSegmentUnreadable
	KindElfSegmentWritableAndExecutable
	KindElfSegmentAddrOrSize
	KindExternal
	KindInvalidEcall
	KindInvalidInstruction
	KindInvalidOperand
	KindInvalidVersion
	KindIO
	KindMemOutOfBound
	KindMemOutOfStack
	KindMemPageUnalignedAccess
	KindMemWriteOnExecutablePage
	KindMemWriteOnFrozenPage
	KindUnexpected
	KindUnimplemented
)

// Error is a machine error. Only the fields relevant to Kind are set.
// Errors compare equal under errors.Is when their kinds match,
// so the sentinel values below can be used regardless of payload.
type Error struct {
	Kind ErrorKind

	PC          uint64 // InvalidInstruction, InvalidOperand
	Instruction uint32 // InvalidInstruction, InvalidOperand
	Number      uint64 // InvalidEcall: syscall number; Asm: error code
	Operand     uint16 // InvalidOperand: offending field value
	IOKind      string // IO
	Detail      string // ElfParse, External, IO, Unexpected
	Err         error  // underlying cause, if any
}

var (
	ErrCyclesExceeded                  = &Error{Kind: KindCyclesExceeded}
	ErrCyclesOverflow                  = &Error{Kind: KindCyclesOverflow}
	ErrElfBits                         = &Error{Kind: KindElfBits}
	ErrElfParse                        = &Error{Kind: KindElfParse}
	ErrElfSegmentUnreadable            = &Error{Kind: KindElfSegmentUnreadable}
	ErrElfSegmentWritableAndExecutable = &Error{Kind: KindElfSegmentWritableAndExecutable}
	ErrElfSegmentAddrOrSize            = &Error{Kind: KindElfSegmentAddrOrSize}
	ErrInvalidEcall                    = &Error{Kind: KindInvalidEcall}
	ErrInvalidInstruction              = &Error{Kind: KindInvalidInstruction}
	ErrInvalidOperand                  = &Error{Kind: KindInvalidOperand}
	ErrInvalidVersion                  = &Error{Kind: KindInvalidVersion}
	ErrIO                              = &Error{Kind: KindIO}
	ErrMemOutOfBound                   = &Error{Kind: KindMemOutOfBound}
	ErrMemOutOfStack                   = &Error{Kind: KindMemOutOfStack}
	ErrMemPageUnalignedAccess          = &Error{Kind: KindMemPageUnalignedAccess}
	ErrMemWriteOnExecutablePage        = &Error{Kind: KindMemWriteOnExecutablePage}
	ErrMemWriteOnFrozenPage            = &Error{Kind: KindMemWriteOnFrozenPage}
	ErrUnimplemented                   = &Error{Kind: KindUnimplemented}
)

func InvalidEcall(number uint64) *Error {
	return &Error{Kind: KindInvalidEcall, Number: number}
}

func InvalidInstruction(pc uint64, instruction uint32) *Error {
	return &Error{Kind: KindInvalidInstruction, PC: pc, Instruction: instruction}
}

func InvalidOperand(pc uint64, instruction uint32, operand uint16) *Error {
	return &Error{Kind: KindInvalidOperand, PC: pc, Instruction: instruction, Operand: operand}
}

func ElfParseError(err error) *Error {
	return &Error{Kind: KindElfParse, Detail: err.Error(), Err: err}
}

// ExternalError is reserved for tooling around the machine, e.g. debuggers.
func ExternalError(detail string) *Error {
	return &Error{Kind: KindExternal, Detail: detail}
}

func UnexpectedError(detail string) *Error {
	return &Error{Kind: KindUnexpected, Detail: detail}
}

func (e *Error) Error() string {
	switch e.Kind {
	case KindAsm:
		return fmt.Sprintf("asm error: %d", e.Number)
	case KindCyclesExceeded:
		return "cycles error: max cycles exceeded"
	case KindCyclesOverflow:
		return "cycles error: overflow"
	case KindElfBits:
		return "elf error: bits"
	case KindElfParse:
		return fmt.Sprintf("elf error: %s", e.Detail)
	case KindElfSegmentUnreadable:
		return "elf error: segment is unreadable"
	case KindElfSegmentWritableAndExecutable:
		return "elf error: segment is writable and executable"
	case KindElfSegmentAddrOrSize:
		return "elf error: segment addr or size is wrong"
	case KindExternal:
		return fmt.Sprintf("external error: %s", e.Detail)
	case KindInvalidEcall:
		return fmt.Sprintf("invalid syscall %d", e.Number)
	case KindInvalidInstruction:
		return fmt.Sprintf("invalid instruction pc=0x%x instruction=0x%x", e.PC, e.Instruction)
	case KindInvalidOperand:
		return fmt.Sprintf("invalid operand %d", e.Operand)
	case KindInvalidVersion:
		return "invalid version"
	case KindIO:
		return fmt.Sprintf("I/O error: %s %s", e.IOKind, e.Detail)
	case KindMemOutOfBound:
		return "memory error: out of bound"
	case KindMemOutOfStack:
		return "memory error: out of stack"
	case KindMemPageUnalignedAccess:
		return "memory error: unaligned page access"
	case KindMemWriteOnExecutablePage:
		return "memory error: write on executable page"
	case KindMemWriteOnFrozenPage:
		return "memory error: write on frozen page"
	case KindUnexpected:
		return fmt.Sprintf("unexpected error: %s", e.Detail)
	case KindUnimplemented:
		return "unimplemented"
	default:
		return fmt.Sprintf("unknown error kind %d", e.Kind)
	}
}

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsSandboxViolation reports whether the error is caused by the guest breaking the memory contract,
// as opposed to running out of cycles or failing to decode.
func (k ErrorKind) IsSandboxViolation() bool {
	switch k {
	case KindMemOutOfBound, KindMemOutOfStack, KindMemPageUnalignedAccess,
		KindMemWriteOnExecutablePage, KindMemWriteOnFrozenPage:
		return true
	default:
		return false
	}
}

func (k ErrorKind) IsResourceLimit() bool {
	return k == KindCyclesExceeded || k == KindCyclesOverflow
}
