// Package syscalls provides the host capabilities a sandboxed program may use besides exit.
package syscalls

import (
	"io"

	"github.com/ethereum/go-ethereum/log"

	"github.com/ethereum-optimism/rvsandbox/rvgo/vm"
)

// Default returns the built-in handlers in dispatch order.
// Guest debug output goes to logger, or to the machine logger when nil.
func Default(stdout, stderr io.Writer, logger log.Logger) []vm.Syscalls {
	return []vm.Syscalls{
		NewWriter(stdout, stderr),
		&Debug{Logger: logger},
		CurrentCycles{},
	}
}
