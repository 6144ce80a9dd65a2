package riscv

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseISA(t *testing.T) {
	for _, isa := range []ISA{ISAIMC, ISAB, ISAMOP, ISAA, ISAB | ISAMOP, ISAB | ISAA | ISAMOP} {
		parsed, err := ParseISA(isa.String())
		require.NoError(t, err)
		require.Equal(t, isa, parsed)
	}
	parsed, err := ParseISA("IMC_MOP_B")
	require.NoError(t, err)
	require.Equal(t, ISAB|ISAMOP, parsed)

	_, err = ParseISA("rv64gc")
	require.ErrorIs(t, err, ErrUnimplemented)
	_, err = ParseISA("imc_v")
	require.ErrorIs(t, err, ErrUnimplemented)
}

func TestRegisterName(t *testing.T) {
	require.Equal(t, "zero", RegisterName(RegZero))
	require.Equal(t, "sp", RegisterName(RegSP))
	require.Equal(t, "a7", RegisterName(RegA7))
}
