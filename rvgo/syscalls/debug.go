package syscalls

import (
	"bytes"

	"github.com/ethereum/go-ethereum/log"

	"github.com/ethereum-optimism/rvsandbox/rvgo/riscv"
	"github.com/ethereum-optimism/rvsandbox/rvgo/vm"
)

// MaxDebugMessage bounds how far Debug scans for the terminating NUL.
const MaxDebugMessage = 64 << 10

// Debug logs the NUL-terminated string at a0.
type Debug struct {
	// Logger defaults to the machine logger.
	Logger log.Logger
}

var _ vm.Syscalls = (*Debug)(nil)

func (d *Debug) Initialize(m vm.Machine) error {
	if d.Logger == nil {
		d.Logger = m.Logger()
	}
	return nil
}

func (d *Debug) ECall(m vm.Machine) (bool, error) {
	if m.Register(riscv.RegA7) != riscv.SysDebug {
		return false, nil
	}
	msg, err := readCString(m, m.Register(riscv.RegA0))
	if err != nil {
		return false, err
	}
	d.Logger.Info("guest debug", "text", string(msg))
	return true, nil
}

// readCString reads page by page until a NUL byte, without reading past the end of memory.
func readCString(m vm.Machine, addr uint64) ([]byte, error) {
	mem := m.Memory()
	var out []byte
	for len(out) < MaxDebugMessage {
		n := riscv.PageSize - addr&riscv.PageMask
		if end := mem.MemorySize(); addr >= end {
			return nil, riscv.ErrMemOutOfBound
		} else if end-addr < n {
			n = end - addr
		}
		chunk, err := mem.LoadBytes(addr, n)
		if err != nil {
			return nil, err
		}
		if i := bytes.IndexByte(chunk, 0); i >= 0 {
			return append(out, chunk[:i]...), nil
		}
		out = append(out, chunk...)
		addr += n
	}
	return out[:MaxDebugMessage], nil
}
