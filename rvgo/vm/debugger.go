package vm

// Debugger is notified of ebreak instructions.
type Debugger interface {
	Initialize(m Machine) error
	EBreak(m Machine) error
}
