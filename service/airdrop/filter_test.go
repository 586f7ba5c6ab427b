package airdrop

import (
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExclusions_MarketplacesAlwaysExcluded(t *testing.T) {
	e := NewExclusions()
	for _, escrow := range marketplaceEscrows {
		assert.True(t, e.Contains(escrow), escrow)
	}
	assert.False(t, e.Contains("11111111111111111111111111111111"))
}

func TestExclusions_ExtraAddresses(t *testing.T) {
	e := NewExclusions("So11111111111111111111111111111111111111112")
	assert.True(t, e.Contains("So11111111111111111111111111111111111111112"))
}

func TestFilterAddresses_PreservesOrder(t *testing.T) {
	e := NewExclusions("bad1", "bad2")
	in := []string{"keep1", "bad1", "keep2", "bad2", "keep3"}

	got := e.FilterAddresses(in)

	assert.Equal(t, []string{"keep1", "keep2", "keep3"}, got)
	for _, a := range got {
		assert.False(t, e.Contains(a))
	}
}

func TestFilterTargets_RemovesMarketplaceWallets(t *testing.T) {
	escrow := solana.MustPublicKeyFromBase58(marketplaceEscrows[0])
	holder := solana.MustPublicKeyFromBase58("11111111111111111111111111111111")
	mint := solana.MustPublicKeyFromBase58("So11111111111111111111111111111111111111112")

	e := NewExclusions()
	targets := []TransferTarget{
		{Wallet: holder, Mint: mint, Amount: 1},
		{Wallet: escrow, Mint: mint, Amount: 2},
		{Wallet: holder, Mint: mint, Amount: 3},
	}

	got := e.FilterTargets(targets)

	require.Len(t, got, 2)
	assert.Equal(t, uint64(1), got[0].Amount)
	assert.Equal(t, uint64(3), got[1].Amount)
}

func TestFilterTargets_EmptyInput(t *testing.T) {
	e := NewExclusions()
	assert.Empty(t, e.FilterTargets(nil))
}
