package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAccountStringCollapsesZeroSubaccount(t *testing.T) {
	zero := make([]byte, 32)
	a := NewAccount("owner-principal", zero)
	assert.Equal(t, "owner-principal", a.String())
}

func TestAccountStringCollapsesEmptySubaccount(t *testing.T) {
	a := NewAccount("owner-principal", nil)
	assert.Equal(t, "owner-principal", a.String())
}

func TestAccountStringIncludesNonZeroSubaccount(t *testing.T) {
	sub := make([]byte, 32)
	sub[31] = 0x01
	a := NewAccount("owner-principal", sub)
	assert.Equal(t, "owner-principal:"+"0000000000000000000000000000000000000000000000000000000000000001", a.String())
}

func TestParseAccountRoundTrip(t *testing.T) {
	sub := make([]byte, 32)
	sub[0] = 0xab
	original := NewAccount("owner-principal", sub)

	parsed, err := ParseAccount(original.String())
	require.NoError(t, err)
	assert.Equal(t, original.String(), parsed.String())
}

func TestParseAccountBareOwner(t *testing.T) {
	parsed, err := ParseAccount("owner-principal")
	require.NoError(t, err)
	assert.Equal(t, "owner-principal", parsed.String())
	assert.Nil(t, parsed.Subaccount)
}
