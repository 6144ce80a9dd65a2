package vm

// Syscalls is a host capability reachable from the guest through ecall.
// The syscall number is in a7 and arguments in a0..a5.
type Syscalls interface {
	// Initialize is called once before the machine runs.
	Initialize(m Machine) error
	// ECall handles the current ecall, and reports false when it does not recognize the number.
	ECall(m Machine) (bool, error)
}
