package vm

import (
	"github.com/ethereum-optimism/rvsandbox/rvgo/memory"
	"github.com/ethereum-optimism/rvsandbox/rvgo/riscv"
)

const decodeCacheSize = 1 << 12

type cachedInstruction struct {
	pc    uint64
	raw   uint32
	raw2  uint32 // second word of a fused pair
	inst  Instruction
	valid bool
}

// Decoder fetches instructions through the execute path of memory and decodes them,
// fusing adjacent pairs into macro ops when enabled.
// Decoded instructions are cached per pc; a cache entry is only used when the raw words
// at pc still match, so code that changes under the cache is decoded again.
type Decoder struct {
	isa   riscv.ISA
	width riscv.Width
	cache [decodeCacheSize]cachedInstruction
}

func NewDecoder(isa riscv.ISA, width riscv.Width) *Decoder {
	return &Decoder{isa: isa, width: width}
}

// Reset drops every cached instruction.
func (d *Decoder) Reset() {
	d.cache = [decodeCacheSize]cachedInstruction{}
}

// fetch reads the instruction word at pc. Instructions are only 2-byte aligned,
// so a 32-bit instruction may cross into the next page: it is then read as two 16-bit halves,
// which requires both pages to be executable, while a compressed instruction at the end of a page
// never touches the next page.
func fetch(mem memory.Memory, pc uint64) (uint32, error) {
	if pc&1 != 0 {
		return 0, riscv.ErrMemPageUnalignedAccess
	}
	if pc&riscv.PageMask <= riscv.PageSize-4 {
		return mem.ExecuteLoad32(pc)
	}
	lo, err := mem.ExecuteLoad16(pc)
	if err != nil {
		return 0, err
	}
	if isCompressed(uint32(lo)) {
		return uint32(lo), nil
	}
	hi, err := mem.ExecuteLoad16(pc + 2)
	if err != nil {
		return 0, err
	}
	return uint32(lo) | uint32(hi)<<16, nil
}

// Decode returns the instruction at pc.
func (d *Decoder) Decode(mem memory.Memory, pc uint64) (Instruction, error) {
	raw, err := fetch(mem, pc)
	if err != nil {
		return Instruction{}, err
	}
	entry := &d.cache[(pc>>1)%decodeCacheSize]
	if entry.valid && entry.pc == pc && entry.raw == raw {
		if !entry.inst.Op.Fused() {
			return entry.inst, nil
		}
		if raw2, err := fetch(mem, pc+4); err == nil && raw2 == entry.raw2 {
			return entry.inst, nil
		}
	}

	inst, err := Decode(raw, pc, d.isa, d.width)
	if err != nil {
		return Instruction{}, err
	}
	var raw2 uint32
	if d.isa.Has(riscv.ISAMOP) && fusible(inst) {
		// a second half that can't be fetched or decoded is reported when execution gets there
		if r, err := fetch(mem, pc+4); err == nil {
			if second, err := Decode(r, pc+4, d.isa, d.width); err == nil {
				if fused, ok := fuse(inst, second, d.width); ok {
					inst, raw2 = fused, r
				}
			}
		}
	}
	*entry = cachedInstruction{pc: pc, raw: raw, raw2: raw2, inst: inst, valid: true}
	return inst, nil
}
