package cmd

import (
	"sort"

	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/ethereum-optimism/rvsandbox/rvgo/vm"
)

type Symbol struct {
	Name  string         `json:"name"`
	Start hexutil.Uint64 `json:"start"`
	Size  hexutil.Uint64 `json:"size"`
}

// Metadata keeps the symbols of a program next to its snapshots, which do not carry them.
type Metadata struct {
	Symbols []Symbol `json:"symbols"`
}

func MakeMetadata(symbols vm.SortedSymbols) *Metadata {
	out := &Metadata{Symbols: make([]Symbol, 0, len(symbols))}
	for _, s := range symbols {
		if s.Name == "" {
			continue
		}
		out.Symbols = append(out.Symbols, Symbol{Name: s.Name, Start: hexutil.Uint64(s.Value), Size: hexutil.Uint64(s.Size)})
	}
	return out
}

// LookupSymbol returns the name of the symbol covering addr, or "!unknown".
func (m *Metadata) LookupSymbol(addr uint64) string {
	if m == nil || len(m.Symbols) == 0 {
		return "!unknown"
	}
	// symbols are sorted by start address
	i := sort.Search(len(m.Symbols), func(i int) bool {
		return uint64(m.Symbols[i].Start) > addr
	})
	if i == 0 {
		return "!start"
	}
	s := m.Symbols[i-1]
	if uint64(s.Start)+uint64(s.Size) <= addr {
		return "!gap"
	}
	return s.Name
}
