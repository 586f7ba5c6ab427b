// Package snapshot builds holder lists for airdrops, either by scanning
// token accounts on chain or by querying a Helius DAS endpoint.
package snapshot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/brojonat/spldrop/service/airdrop"
	"github.com/brojonat/spldrop/service/metrics"
	"github.com/brojonat/spldrop/service/retry"
	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/token"
	"github.com/gagliardetto/solana-go/rpc"

	solsvc "github.com/brojonat/spldrop/service/solana"
)

var (
	tokenMetadataProgramID  = solana.MustPublicKeyFromBase58("metaqbxxUerdq28cj1RbAWkYQm3ybzjb6a8bt518x1s")
	candyMachineV2ProgramID = solana.MustPublicKeyFromBase58("cndy3Z4yapfJBmL3ShUp5exZKqR3z33thTzeNMm2gRZ")
)

const (
	tokenAccountSize = 165

	// Metadata account layout offsets. The mint sits right after the one
	// byte key and the update authority; the first creator comes after the
	// fixed-size name, uri and symbol fields and the creators vec header.
	metadataMintOffset = 1 + 32
	firstCreatorOffset = 1 + 32 + 32 + 4 + 32 + 4 + 200 + 4 + 10 + 2 + 1 + 4
)

// Config tunes the snapshotter.
type Config struct {
	// BatchSize bounds how many mints are scanned concurrently.
	BatchSize int

	// Attempts and DelayUnit tune the per-call retry.
	Attempts  int
	DelayUnit time.Duration
}

// Snapshotter scans on-chain token accounts into holder lists.
type Snapshotter struct {
	rpc     solsvc.RPCClient
	cfg     Config
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// NewSnapshotter creates a Snapshotter. If m is nil, no metrics are
// recorded.
func NewSnapshotter(rpcClient solsvc.RPCClient, cfg Config, m *metrics.Metrics, logger *slog.Logger) *Snapshotter {
	if cfg.BatchSize < 1 {
		cfg.BatchSize = airdrop.DefaultChunkSize
	}
	if cfg.Attempts < 1 {
		cfg.Attempts = retry.DefaultAttempts
	}
	return &Snapshotter{rpc: rpcClient, cfg: cfg, logger: logger, metrics: m}
}

// Holders scans the token accounts of every mint and aggregates them per
// owner: one HolderAccount per wallet, its balance summed across mints and
// each held mint listed. Owners appear in the order they were first seen.
// Mints within a batch are scanned concurrently; any scan failure fails
// the snapshot, since a partial holder list would silently shortchange an
// airdrop built from it.
func (s *Snapshotter) Holders(ctx context.Context, mintIDs []string) ([]airdrop.HolderAccount, error) {
	var (
		mu      sync.Mutex
		order   []string
		byOwner = map[string]*airdrop.HolderAccount{}
		errs    []error
	)

	for _, chunk := range airdrop.Chunk(mintIDs, s.cfg.BatchSize) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		var wg sync.WaitGroup
		for _, mintID := range chunk {
			wg.Add(1)
			go func(mintID string) {
				defer wg.Done()
				owner, amount, err := s.scanMint(ctx, mintID)
				mu.Lock()
				defer mu.Unlock()
				if err != nil {
					errs = append(errs, fmt.Errorf("mint %s: %w", mintID, err))
					return
				}
				if owner == "" {
					// No funded account; burnt or unminted.
					return
				}
				holder, ok := byOwner[owner]
				if !ok {
					holder = &airdrop.HolderAccount{WalletID: owner}
					byOwner[owner] = holder
					order = append(order, owner)
				}
				holder.TotalAmount += amount
				holder.MintIDs = append(holder.MintIDs, mintID)
			}(mintID)
		}
		wg.Wait()
	}

	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}

	holders := make([]airdrop.HolderAccount, len(order))
	for i, owner := range order {
		holders[i] = *byOwner[owner]
	}
	s.logger.InfoContext(ctx, "holder snapshot complete",
		"mints", len(mintIDs),
		"holders", len(holders),
	)
	return holders, nil
}

// scanMint returns the owner and balance of the mint's funded token
// account, or an empty owner when none exists.
func (s *Snapshotter) scanMint(ctx context.Context, mintID string) (string, uint64, error) {
	mint, err := solana.PublicKeyFromBase58(mintID)
	if err != nil {
		return "", 0, err
	}

	accounts, err := retry.Do(ctx, func(ctx context.Context) (rpc.GetProgramAccountsResult, error) {
		start := time.Now()
		out, err := s.rpc.GetProgramAccounts(ctx, solana.TokenProgramID, &rpc.GetProgramAccountsOpts{
			Filters: []rpc.RPCFilter{
				{Memcmp: &rpc.RPCFilterMemcmp{Offset: 0, Bytes: solana.Base58(mint.Bytes())}},
				{DataSize: tokenAccountSize},
			},
		})
		status := "success"
		if err != nil {
			status = "error"
		}
		s.metrics.RecordRPCCall("GetProgramAccounts", status, time.Since(start).Seconds())
		return out, err
	}, s.cfg.Attempts, s.cfg.DelayUnit)
	if err != nil {
		return "", 0, err
	}

	for _, keyed := range accounts {
		if keyed == nil || keyed.Account == nil {
			continue
		}
		var acc token.Account
		if err := bin.NewBinDecoder(keyed.Account.Data.GetBinary()).Decode(&acc); err != nil {
			return "", 0, fmt.Errorf("decode token account %s: %w", keyed.Pubkey, err)
		}
		if acc.Amount > 0 {
			return acc.Owner.String(), acc.Amount, nil
		}
	}
	return "", 0, nil
}

// CandyMachineMints lists every mint produced by a candy machine by
// scanning metadata accounts whose first verified creator is the
// machine's derived creator address.
func (s *Snapshotter) CandyMachineMints(ctx context.Context, candyMachine solana.PublicKey) ([]string, error) {
	creator, _, err := solana.FindProgramAddress(
		[][]byte{[]byte("candy_machine"), candyMachine.Bytes()},
		candyMachineV2ProgramID,
	)
	if err != nil {
		return nil, fmt.Errorf("derive candy machine creator: %w", err)
	}
	s.logger.InfoContext(ctx, "scanning candy machine mints",
		"candy_machine", candyMachine.String(),
		"creator", creator.String(),
	)
	return s.MintsByCreator(ctx, creator)
}

// MintsByCreator lists the mints of every metadata account whose first
// creator matches. The mint is read straight out of the raw account data
// rather than fully decoding the metadata.
func (s *Snapshotter) MintsByCreator(ctx context.Context, creator solana.PublicKey) ([]string, error) {
	accounts, err := retry.Do(ctx, func(ctx context.Context) (rpc.GetProgramAccountsResult, error) {
		start := time.Now()
		out, err := s.rpc.GetProgramAccounts(ctx, tokenMetadataProgramID, &rpc.GetProgramAccountsOpts{
			Filters: []rpc.RPCFilter{
				{Memcmp: &rpc.RPCFilterMemcmp{Offset: firstCreatorOffset, Bytes: solana.Base58(creator.Bytes())}},
			},
		})
		status := "success"
		if err != nil {
			status = "error"
		}
		s.metrics.RecordRPCCall("GetProgramAccounts", status, time.Since(start).Seconds())
		return out, err
	}, s.cfg.Attempts, s.cfg.DelayUnit)
	if err != nil {
		return nil, err
	}

	mints := make([]string, 0, len(accounts))
	for _, keyed := range accounts {
		if keyed == nil || keyed.Account == nil {
			continue
		}
		data := keyed.Account.Data.GetBinary()
		if len(data) < metadataMintOffset+32 {
			return nil, fmt.Errorf("metadata account %s: truncated data (%d bytes)", keyed.Pubkey, len(data))
		}
		mints = append(mints, solana.PublicKeyFromBytes(data[metadataMintOffset:metadataMintOffset+32]).String())
	}
	return mints, nil
}
