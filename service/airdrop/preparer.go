package airdrop

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/brojonat/spldrop/service/metrics"
	"github.com/brojonat/spldrop/service/retry"
	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
	associatedtokenaccount "github.com/gagliardetto/solana-go/programs/associated-token-account"
	"github.com/gagliardetto/solana-go/programs/token"
	"github.com/gagliardetto/solana-go/rpc"

	solsvc "github.com/brojonat/spldrop/service/solana"
)

// ErrOffCurveOwner means the destination is a program-derived address and
// cannot own a standard associated token account. Retrying can never
// succeed, so this short-circuits the retry primitive.
var ErrOffCurveOwner = errors.New("destination address is off curve; pass allow-off-curve if a PDA destination is intended")

// ErrAlreadyFunded means the destination token account already holds at
// least the transfer amount. The original tooling skips these so a
// re-run of a partially completed list does not double-send.
var ErrAlreadyFunded = errors.New("destination already holds the transfer amount")

// Capability describes how the operator can deliver tokens, decided once
// per run rather than re-checked per destination.
type Capability int

const (
	// CapTransferOnly moves tokens from the operator's funded source
	// account.
	CapTransferOnly Capability = iota
	// CapMintAuthority mints directly to the destination, skipping the
	// need for a funded source account and halving account lookups.
	CapMintAuthority
)

// PreparerConfig tunes transaction preparation.
type PreparerConfig struct {
	// Commitment used for blockhash fetches.
	Commitment rpc.CommitmentType

	// AllowOffCurve permits PDA destinations.
	AllowOffCurve bool

	// MintIfAuthority requests the mint-to shortcut when the operator is
	// the mint authority.
	MintIfAuthority bool

	// OverrideBalanceCheck transfers even when the destination already
	// holds the amount.
	OverrideBalanceCheck bool

	// CloseSourceAccount appends a close-account instruction reclaiming
	// rent from a one-off NFT source account after the transfer.
	CloseSourceAccount bool

	// ResolveAttempts and ResolveDelayUnit tune the account resolution
	// retry.
	ResolveAttempts  int
	ResolveDelayUnit time.Duration
}

// Preparer converts TransferTargets into locally-signed, ready-to-submit
// transactions.
type Preparer struct {
	rpc     solsvc.RPCClient
	signer  solana.PrivateKey
	cfg     PreparerConfig
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// NewPreparer creates a Preparer signing with the operator keypair.
func NewPreparer(rpcClient solsvc.RPCClient, signer solana.PrivateKey, cfg PreparerConfig, m *metrics.Metrics, logger *slog.Logger) *Preparer {
	if cfg.Commitment == "" {
		cfg.Commitment = rpc.CommitmentConfirmed
	}
	if cfg.ResolveAttempts < 1 {
		cfg.ResolveAttempts = retry.DefaultAttempts
	}
	return &Preparer{
		rpc:     rpcClient,
		signer:  signer,
		cfg:     cfg,
		logger:  logger,
		metrics: m,
	}
}

// ResolveCapability fetches the mint and decides once whether this run can
// mint directly. Transfer-only is the answer whenever the shortcut was not
// requested, the mint authority is unset, or it is someone else's key.
func (p *Preparer) ResolveCapability(ctx context.Context, mint solana.PublicKey) (Capability, error) {
	if !p.cfg.MintIfAuthority {
		return CapTransferOnly, nil
	}

	info, err := p.rpc.GetAccountInfo(ctx, mint)
	if err != nil {
		return CapTransferOnly, fmt.Errorf("fetch mint %s: %w", mint, err)
	}
	var m token.Mint
	if err := bin.NewBinDecoder(info.Value.Data.GetBinary()).Decode(&m); err != nil {
		return CapTransferOnly, fmt.Errorf("decode mint %s: %w", mint, err)
	}
	if m.MintAuthority != nil && m.MintAuthority.Equals(p.signer.PublicKey()) {
		p.logger.InfoContext(ctx, "operator is mint authority, minting directly",
			"mint", mint.String(),
		)
		return CapMintAuthority, nil
	}
	return CapTransferOnly, nil
}

type resolvedAccount struct {
	address solana.PublicKey
	exists  bool
	balance uint64
}

// resolveDestination derives the destination's associated token account
// and checks whether it exists, retrying transient RPC failures. Missing
// accounts are a normal answer, not an error: the creation instruction is
// bundled into the transfer transaction so the two are atomic.
func (p *Preparer) resolveDestination(ctx context.Context, owner, mint solana.PublicKey) (resolvedAccount, error) {
	if !owner.IsOnCurve() && !p.cfg.AllowOffCurve {
		return resolvedAccount{}, ErrOffCurveOwner
	}

	address, _, err := solana.FindAssociatedTokenAddress(owner, mint)
	if err != nil {
		return resolvedAccount{}, fmt.Errorf("derive token account for %s: %w", owner, err)
	}

	return retry.Do(ctx, func(ctx context.Context) (resolvedAccount, error) {
		info, err := p.rpc.GetAccountInfo(ctx, address)
		if errors.Is(err, rpc.ErrNotFound) {
			return resolvedAccount{address: address, exists: false}, nil
		}
		if err != nil {
			p.metrics.RecordResolutionRetry("rpc_error")
			return resolvedAccount{}, fmt.Errorf("fetch token account %s: %w", address, err)
		}
		var acc token.Account
		if err := bin.NewBinDecoder(info.Value.Data.GetBinary()).Decode(&acc); err != nil {
			// Account data that does not parse as a token account will not
			// parse next time either.
			return resolvedAccount{}, retry.Permanent(fmt.Errorf("decode token account %s: %w", address, err))
		}
		return resolvedAccount{address: address, exists: true, balance: acc.Amount}, nil
	}, p.cfg.ResolveAttempts, p.cfg.ResolveDelayUnit)
}

// Prepare builds and signs the transaction delivering target.Amount of
// target.Mint to target.Wallet. The blockhash is fetched last so as much
// of its validity window as possible is left for submission.
func (p *Preparer) Prepare(ctx context.Context, target TransferTarget, capability Capability) (*solana.Transaction, error) {
	operator := p.signer.PublicKey()

	dest, err := p.resolveDestination(ctx, target.Wallet, target.Mint)
	if err != nil {
		return nil, fmt.Errorf("resolve destination %s: %w", target.Wallet, err)
	}

	if dest.exists && !p.cfg.OverrideBalanceCheck && dest.balance >= target.Amount {
		return nil, ErrAlreadyFunded
	}

	var instructions []solana.Instruction
	if !dest.exists {
		instructions = append(instructions,
			associatedtokenaccount.NewCreateInstruction(operator, target.Wallet, target.Mint).Build(),
		)
	}

	switch capability {
	case CapMintAuthority:
		instructions = append(instructions,
			token.NewMintToInstruction(target.Amount, target.Mint, dest.address, operator, nil).Build(),
		)
	default:
		source, _, err := solana.FindAssociatedTokenAddress(operator, target.Mint)
		if err != nil {
			return nil, fmt.Errorf("derive source token account: %w", err)
		}
		instructions = append(instructions,
			token.NewTransferInstruction(target.Amount, source, dest.address, operator, nil).Build(),
		)
		if p.cfg.CloseSourceAccount && target.IsNFT {
			// One-off NFT source accounts are empty after the transfer;
			// close them and reclaim the rent.
			instructions = append(instructions,
				token.NewCloseAccountInstruction(source, operator, operator, nil).Build(),
			)
		}
	}

	blockhash, err := retry.Do(ctx, func(ctx context.Context) (solana.Hash, error) {
		out, err := p.rpc.GetLatestBlockhash(ctx, p.cfg.Commitment)
		if err != nil {
			return solana.Hash{}, fmt.Errorf("get latest blockhash: %w", err)
		}
		return out.Value.Blockhash, nil
	}, p.cfg.ResolveAttempts, p.cfg.ResolveDelayUnit)
	if err != nil {
		return nil, err
	}

	tx, err := solana.NewTransaction(instructions, blockhash, solana.TransactionPayer(operator))
	if err != nil {
		return nil, fmt.Errorf("assemble transaction: %w", err)
	}
	if _, err := tx.Sign(func(key solana.PublicKey) *solana.PrivateKey {
		if key.Equals(operator) {
			return &p.signer
		}
		return nil
	}); err != nil {
		return nil, fmt.Errorf("sign transaction: %w", err)
	}
	return tx, nil
}
