package airdrop

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/gagliardetto/solana-go"
)

// WalletList is the fixed-amount input shape: one mint and the wallets
// that each receive the same amount.
type WalletList struct {
	Mint    string   `json:"mint"`
	Wallets []string `json:"wallets"`
}

// LoadWalletList reads a wallet-list file.
func LoadWalletList(path string) (WalletList, error) {
	var list WalletList
	if err := readJSONFile(path, &list); err != nil {
		return WalletList{}, err
	}
	if list.Mint == "" {
		return WalletList{}, fmt.Errorf("%s: missing mint", path)
	}
	return list, nil
}

// Targets expands the list into one transfer of amount per wallet.
func (l WalletList) Targets(amount uint64) ([]TransferTarget, error) {
	mint, err := solana.PublicKeyFromBase58(l.Mint)
	if err != nil {
		return nil, fmt.Errorf("wallet list mint %q: %w", l.Mint, err)
	}
	targets := make([]TransferTarget, 0, len(l.Wallets))
	for _, w := range l.Wallets {
		wallet, err := solana.PublicKeyFromBase58(w)
		if err != nil {
			return nil, fmt.Errorf("wallet list entry %q: %w", w, err)
		}
		targets = append(targets, TransferTarget{Wallet: wallet, Mint: mint, Amount: amount})
	}
	return targets, nil
}

// LoadHolderList reads a holder snapshot file, the JSON array that
// get-holders writes.
func LoadHolderList(path string) ([]HolderAccount, error) {
	var holders []HolderAccount
	if err := readJSONFile(path, &holders); err != nil {
		return nil, err
	}
	return holders, nil
}

// HolderTargets expands a holder snapshot into per-NFT transfers: each
// holder receives unitAmount for every NFT they hold.
func HolderTargets(holders []HolderAccount, mint solana.PublicKey, unitAmount uint64) ([]TransferTarget, error) {
	targets := make([]TransferTarget, 0, len(holders))
	for _, h := range holders {
		wallet, err := solana.PublicKeyFromBase58(h.WalletID)
		if err != nil {
			return nil, fmt.Errorf("holder list entry %q: %w", h.WalletID, err)
		}
		holdings := uint64(len(h.MintIDs))
		targets = append(targets, TransferTarget{
			Wallet:   wallet,
			Mint:     mint,
			Amount:   unitAmount * holdings,
			Holdings: holdings,
		})
	}
	return targets, nil
}

// DistributionEntry allocates a number of NFTs from a shared mint list to
// one wallet.
type DistributionEntry struct {
	Wallet        string `json:"wallet"`
	NFTsToAirdrop int    `json:"nFtsToAirdrop"`
}

// DistributionList is the NFT airdrop input shape.
type DistributionList struct {
	DistributionList []DistributionEntry `json:"distributionList"`
}

// LoadDistributionList reads a distribution-list file.
func LoadDistributionList(path string) (DistributionList, error) {
	var list DistributionList
	if err := readJSONFile(path, &list); err != nil {
		return DistributionList{}, err
	}
	return list, nil
}

// LoadMintList reads a JSON array of mint addresses.
func LoadMintList(path string) ([]string, error) {
	var mints []string
	if err := readJSONFile(path, &mints); err != nil {
		return nil, err
	}
	return mints, nil
}

// NFTTargets pairs each distribution entry with the next mints from the
// list, in order, one transfer of a single unit per NFT. The mint list
// must cover every allocation; a shortfall aborts before any transfer
// rather than silently under-delivering the tail of the list.
func (l DistributionList) NFTTargets(mints []string) ([]TransferTarget, error) {
	var total int
	for _, d := range l.DistributionList {
		total += d.NFTsToAirdrop
	}
	if total > len(mints) {
		return nil, fmt.Errorf("distribution list allocates %d NFTs but the mint list has %d", total, len(mints))
	}

	targets := make([]TransferTarget, 0, total)
	next := 0
	for _, d := range l.DistributionList {
		wallet, err := solana.PublicKeyFromBase58(d.Wallet)
		if err != nil {
			return nil, fmt.Errorf("distribution list entry %q: %w", d.Wallet, err)
		}
		for i := 0; i < d.NFTsToAirdrop; i++ {
			mint, err := solana.PublicKeyFromBase58(mints[next])
			if err != nil {
				return nil, fmt.Errorf("mint list entry %q: %w", mints[next], err)
			}
			next++
			targets = append(targets, TransferTarget{Wallet: wallet, Mint: mint, Amount: 1, IsNFT: true})
		}
	}
	return targets, nil
}

// LoadExclusionList reads a JSON array of addresses to exclude on top of
// the built-in marketplace set.
func LoadExclusionList(path string) ([]string, error) {
	var addresses []string
	if err := readJSONFile(path, &addresses); err != nil {
		return nil, err
	}
	return addresses, nil
}

// LoadKeypair reads an operator keypair in the standard solana-keygen
// JSON format.
func LoadKeypair(path string) (solana.PrivateKey, error) {
	key, err := solana.PrivateKeyFromSolanaKeygenFile(path)
	if err != nil {
		return nil, fmt.Errorf("load keypair %s: %w", path, err)
	}
	return key, nil
}

func readJSONFile(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}
