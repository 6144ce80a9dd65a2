package cmd

import (
	"errors"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/urfave/cli/v2"

	"github.com/ethereum-optimism/rvsandbox/rvgo/memory"
	"github.com/ethereum-optimism/rvsandbox/rvgo/vm"
)

var errStopped = errors.New("stopped at requested step")

// progress is the inspector of the run command: it stops the run at a step,
// periodically logs throughput and aborts when the command is interrupted.
type progress struct {
	ctx    *cli.Context
	log    log.Logger
	meta   *Metadata
	stopAt uint64
	infoAt uint64

	start time.Time
	step  uint64
}

var _ vm.Inspector = (*progress)(nil)

func (p *progress) BeforeStep(m vm.Machine) error {
	step := p.step
	if p.stopAt != 0 && step >= p.stopAt {
		return errStopped
	}
	p.step++
	if step%100 == 0 { // don't do the ctx err check (includes lock) too often
		if err := p.ctx.Context.Err(); err != nil {
			return err
		}
	}
	if p.infoAt != 0 && step%p.infoAt == 0 {
		if p.start.IsZero() {
			p.start = time.Now()
		}
		delta := time.Since(p.start)
		attrs := []any{
			"step", step,
			"pc", HexU64(m.PC()),
			"cycles", m.Cycles(),
			"ips", float64(step)/(float64(delta)/float64(time.Second)),
			"name", p.meta.LookupSymbol(m.PC()),
		}
		if sparse := sparseBacking(m.Memory()); sparse != nil {
			attrs = append(attrs, "pages", sparse.PageCount(), "mem", sparse.Usage())
		}
		p.log.Info("processing", attrs...)
	}
	return nil
}

// sparseBacking returns the sparse memory behind mem, if there is one.
func sparseBacking(mem memory.Memory) *memory.SparseMemory {
	if w, ok := mem.(*memory.WXorXMemory); ok {
		mem = w.Inner()
	}
	sparse, _ := mem.(*memory.SparseMemory)
	return sparse
}
