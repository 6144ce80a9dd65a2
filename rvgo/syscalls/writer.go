package syscalls

import (
	"fmt"
	"io"

	"github.com/ethereum-optimism/rvsandbox/rvgo/riscv"
	"github.com/ethereum-optimism/rvsandbox/rvgo/vm"
)

// Writer implements write(fd, buf, count) for stdout and stderr.
// The whole buffer is written in one step, and a0 receives count, or -EBADF for any other fd.
type Writer struct {
	stdout io.Writer
	stderr io.Writer
}

var _ vm.Syscalls = (*Writer)(nil)

// NewWriter creates a Writer. A nil writer discards its output.
func NewWriter(stdout, stderr io.Writer) *Writer {
	if stdout == nil {
		stdout = io.Discard
	}
	if stderr == nil {
		stderr = io.Discard
	}
	return &Writer{stdout: stdout, stderr: stderr}
}

func (w *Writer) Initialize(m vm.Machine) error {
	return nil
}

func (w *Writer) ECall(m vm.Machine) (bool, error) {
	if m.Register(riscv.RegA7) != riscv.SysWrite {
		return false, nil
	}
	fd := m.Register(riscv.RegA0)    // A0 = fd
	addr := m.Register(riscv.RegA1)  // A1 = *buf addr
	count := m.Register(riscv.RegA2) // A2 = count

	var dest io.Writer
	switch fd {
	case riscv.FdStdout:
		dest = w.stdout
	case riscv.FdStderr:
		dest = w.stderr
	default:
		m.SetRegister(riscv.RegA0, m.Width().FromSigned(-riscv.ErrnoBadFd))
		return true, nil
	}
	buf, err := m.Memory().LoadBytes(addr, count)
	if err != nil {
		return false, fmt.Errorf("write of %d bytes at %#x: %w", count, addr, err)
	}
	if _, err := dest.Write(buf); err != nil {
		return false, &riscv.Error{Kind: riscv.KindExternal, Detail: fmt.Sprintf("fd %d: %v", fd, err), Err: err}
	}
	m.SetRegister(riscv.RegA0, count)
	return true, nil
}
