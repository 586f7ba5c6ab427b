package airdrop

import (
	"fmt"

	"github.com/gagliardetto/solana-go"
)

// TransferTarget is the unit of work: send Amount base units of Mint to
// Wallet. Targets are immutable once built; the orchestrator produces them
// from the various input list shapes and discards them after processing.
type TransferTarget struct {
	Wallet solana.PublicKey
	Mint   solana.PublicKey
	Amount uint64

	// IsNFT marks single-asset transfers so the error ledger can round-trip
	// them through a retry pass.
	IsNFT bool

	// Holdings carries the holder's NFT count for token-per-NFT drops.
	// Zero for plain transfers.
	Holdings uint64
}

// ErrorRecord is the persisted shape of a failed transfer. Every field
// needed to rebuild a TransferTarget is carried so a retry pass needs no
// external context.
type ErrorRecord struct {
	Wallet         string `json:"wallet"`
	Mint           string `json:"mint"`
	TransferAmount uint64 `json:"transferAmount"`
	Holdings       uint64 `json:"holdings,omitempty"`
	IsNFT          bool   `json:"isNFT,omitempty"`
	Message        string `json:"message,omitempty"`
	Error          string `json:"error,omitempty"`
}

// Target rebuilds the transfer target described by the record.
func (r ErrorRecord) Target() (TransferTarget, error) {
	wallet, err := solana.PublicKeyFromBase58(r.Wallet)
	if err != nil {
		return TransferTarget{}, fmt.Errorf("ledger record wallet %q: %w", r.Wallet, err)
	}
	mint, err := solana.PublicKeyFromBase58(r.Mint)
	if err != nil {
		return TransferTarget{}, fmt.Errorf("ledger record mint %q: %w", r.Mint, err)
	}
	return TransferTarget{
		Wallet:   wallet,
		Mint:     mint,
		Amount:   r.TransferAmount,
		IsNFT:    r.IsNFT,
		Holdings: r.Holdings,
	}, nil
}

// HolderAccount is one row of a holder snapshot: a wallet, its aggregate
// balance across the snapshotted mints, and the mints it holds.
type HolderAccount struct {
	WalletID    string   `json:"walletId"`
	TotalAmount uint64   `json:"totalAmount"`
	MintIDs     []string `json:"mintIds"`
}

// PlannedTransfer is what simulate mode returns: the transfer that would
// have been attempted, with no network or file side effects.
type PlannedTransfer struct {
	Wallet         string `json:"wallet"`
	Mint           string `json:"mint"`
	TransferAmount uint64 `json:"transferAmt"`
}

// ExplorerURL builds a block-explorer link for a confirmed signature.
func ExplorerURL(sig solana.Signature, cluster string) string {
	if cluster == "" || cluster == "mainnet-beta" {
		return fmt.Sprintf("https://explorer.solana.com/tx/%s", sig)
	}
	return fmt.Sprintf("https://explorer.solana.com/tx/%s?cluster=%s", sig, cluster)
}
