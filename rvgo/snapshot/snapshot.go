// Package snapshot captures a paused machine so that it can be resumed later, possibly in another process.
package snapshot

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/ethereum-optimism/rvsandbox/rvgo/memory"
	"github.com/ethereum-optimism/rvsandbox/rvgo/riscv"
	"github.com/ethereum-optimism/rvsandbox/rvgo/vm"
)

// Machine is what a snapshot reads from and restores into.
// Both *vm.DefaultMachine and *vm.TraceMachine implement it.
type Machine interface {
	vm.Machine
	SetCycles(cycles uint64)
	SetMaxCycles(maxCycles uint64)
	LoadReservation() (uint64, bool)
	SetLoadReservation(addr uint64, ok bool)
}

// stackGuarded is implemented by machines with a stack guard.
type stackGuarded interface {
	StackRegion() (start, size uint64, ok bool)
	SetStackRegion(start, size uint64)
}

var ErrIncompatible = errors.New("snapshot does not match machine")

// Page is a dirty page of memory, with its flags at the time of the snapshot.
type Page struct {
	Index hexutil.Uint64 `json:"index"`
	Flags uint8          `json:"flags"`
	Data  hexutil.Bytes  `json:"data"`
}

type Snapshot struct {
	Version    riscv.Version  `json:"version"`
	ISA        riscv.ISA      `json:"isa"`
	Width      riscv.Width    `json:"width"`
	MemorySize hexutil.Uint64 `json:"memorySize"`

	PC        hexutil.Uint64                      `json:"pc"`
	Registers [riscv.RegisterCount]hexutil.Uint64 `json:"registers"`
	Cycles    hexutil.Uint64                      `json:"cycles"`
	MaxCycles hexutil.Uint64                      `json:"maxCycles"`

	LoadReservation      hexutil.Uint64 `json:"loadReservation"`
	LoadReservationValid bool           `json:"loadReservationValid"`

	StackStart hexutil.Uint64 `json:"stackStart,omitempty"`
	StackSize  hexutil.Uint64 `json:"stackSize,omitempty"`

	Pages []Page `json:"pages"`
}

// Make captures the machine between two steps. Only dirty pages are stored.
func Make(m Machine) (*Snapshot, error) {
	mem := m.Memory()
	s := &Snapshot{
		Version:    m.Version(),
		ISA:        m.ISA(),
		Width:      m.Width(),
		MemorySize: hexutil.Uint64(mem.MemorySize()),
		PC:         hexutil.Uint64(m.PC()),
		Cycles:     hexutil.Uint64(m.Cycles()),
		MaxCycles:  hexutil.Uint64(m.MaxCycles()),
	}
	for i := range s.Registers {
		s.Registers[i] = hexutil.Uint64(m.Register(i))
	}
	addr, ok := m.LoadReservation()
	s.LoadReservation, s.LoadReservationValid = hexutil.Uint64(addr), ok
	if g, isGuarded := m.(stackGuarded); isGuarded {
		if start, size, ok := g.StackRegion(); ok {
			s.StackStart, s.StackSize = hexutil.Uint64(start), hexutil.Uint64(size)
		}
	}

	pages := memory.PageCount(mem.MemorySize())
	for page := uint64(0); page < pages; page++ {
		flag, err := mem.FetchFlag(page)
		if err != nil {
			return nil, fmt.Errorf("failed to read flags of page %d: %w", page, err)
		}
		if flag&memory.FlagDirty == 0 {
			continue
		}
		data, err := mem.LoadBytes(page<<riscv.PageShift, riscv.PageSize)
		if err != nil {
			return nil, fmt.Errorf("failed to read page %d: %w", page, err)
		}
		s.Pages = append(s.Pages, Page{Index: hexutil.Uint64(page), Flags: flag &^ memory.FlagDirty, Data: data})
	}
	return s, nil
}

// Resume restores the snapshot into m. The machine must have been built with the same
// configuration and its memory must not hold frozen pages where the snapshot has data.
func (s *Snapshot) Resume(m Machine) error {
	if s.Version != m.Version() || s.ISA != m.ISA() || s.Width != m.Width() {
		return fmt.Errorf("%w: snapshot of a %s machine (isa %s, version %d), resuming on %s (isa %s, version %d)",
			ErrIncompatible, s.Width, s.ISA, s.Version, m.Width(), m.ISA(), m.Version())
	}
	mem := m.Memory()
	if uint64(s.MemorySize) != mem.MemorySize() {
		return fmt.Errorf("%w: memory size %d, machine has %d", ErrIncompatible, s.MemorySize, mem.MemorySize())
	}
	for _, p := range s.Pages {
		if len(p.Data) != riscv.PageSize {
			return fmt.Errorf("page %d has %d bytes: %w", p.Index, len(p.Data), riscv.ErrMemPageUnalignedAccess)
		}
		if err := mem.InitPages(uint64(p.Index)<<riscv.PageShift, riscv.PageSize, p.Flags, p.Data, 0); err != nil {
			return fmt.Errorf("failed to restore page %d: %w", p.Index, err)
		}
	}
	m.SetPC(uint64(s.PC))
	for i, r := range s.Registers {
		m.SetRegister(i, uint64(r))
	}
	m.SetMaxCycles(uint64(s.MaxCycles))
	m.SetCycles(uint64(s.Cycles))
	m.SetLoadReservation(uint64(s.LoadReservation), s.LoadReservationValid)
	if g, ok := m.(stackGuarded); ok && s.StackSize != 0 {
		g.SetStackRegion(uint64(s.StackStart), uint64(s.StackSize))
	}
	return nil
}

// Encode serializes the snapshot in a fixed big-endian layout.
func (s *Snapshot) Encode() []byte {
	out := make([]byte, 0, 512+len(s.Pages)*(riscv.PageSize+9))
	out = binary.BigEndian.AppendUint32(out, uint32(s.Version))
	out = append(out, uint8(s.ISA), uint8(s.Width))
	out = binary.BigEndian.AppendUint64(out, uint64(s.MemorySize))
	out = binary.BigEndian.AppendUint64(out, uint64(s.PC))
	for _, r := range s.Registers {
		out = binary.BigEndian.AppendUint64(out, uint64(r))
	}
	out = binary.BigEndian.AppendUint64(out, uint64(s.Cycles))
	out = binary.BigEndian.AppendUint64(out, uint64(s.MaxCycles))
	out = binary.BigEndian.AppendUint64(out, uint64(s.LoadReservation))
	if s.LoadReservationValid {
		out = append(out, 1)
	} else {
		out = append(out, 0)
	}
	out = binary.BigEndian.AppendUint64(out, uint64(s.StackStart))
	out = binary.BigEndian.AppendUint64(out, uint64(s.StackSize))
	for _, p := range s.Pages {
		out = binary.BigEndian.AppendUint64(out, uint64(p.Index))
		out = append(out, p.Flags)
		out = append(out, p.Data...)
	}
	return out
}

// StateHash commits to the whole snapshot.
func (s *Snapshot) StateHash() common.Hash {
	return crypto.Keccak256Hash(s.Encode())
}
