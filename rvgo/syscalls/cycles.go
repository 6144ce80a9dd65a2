package syscalls

import (
	"github.com/ethereum-optimism/rvsandbox/rvgo/riscv"
	"github.com/ethereum-optimism/rvsandbox/rvgo/vm"
)

// CurrentCycles places the cycles consumed so far, including the ecall itself, in a0.
type CurrentCycles struct{}

var _ vm.Syscalls = CurrentCycles{}

func (CurrentCycles) Initialize(m vm.Machine) error {
	return nil
}

func (CurrentCycles) ECall(m vm.Machine) (bool, error) {
	if m.Register(riscv.RegA7) != riscv.SysCurrentCycles {
		return false, nil
	}
	m.SetRegister(riscv.RegA0, m.Cycles())
	return true, nil
}
