package solana

import (
	"context"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
)

// RPCClient is an interface for the Solana RPC operations we need.
// This allows us to mock the RPC layer in tests without hitting real
// Solana nodes.
type RPCClient interface {
	SendRawTransaction(ctx context.Context, raw []byte) (solana.Signature, error)

	GetSignatureStatuses(ctx context.Context, sigs ...solana.Signature) (*rpc.GetSignatureStatusesResult, error)

	GetBlockHeight(ctx context.Context, commitment rpc.CommitmentType) (uint64, error)

	GetLatestBlockhash(ctx context.Context, commitment rpc.CommitmentType) (*rpc.GetLatestBlockhashResult, error)

	GetAccountInfo(ctx context.Context, account solana.PublicKey) (*rpc.GetAccountInfoResult, error)

	SimulateTransaction(ctx context.Context, tx *solana.Transaction) (*rpc.SimulateTransactionResponse, error)

	GetProgramAccounts(ctx context.Context, program solana.PublicKey, opts *rpc.GetProgramAccountsOpts) (rpc.GetProgramAccountsResult, error)
}

// SignatureResult is the payload of a signature status notification,
// decoupled from the websocket client's wire type.
type SignatureResult struct {
	Slot uint64
	// Err is the chain-reported transaction error, nil on success.
	Err any
}

// SignatureSubscription is a live subscription for one signature. Recv
// blocks until the node pushes a status at the subscribed commitment level
// or the context is cancelled. Unsubscribe must be called on every exit
// path; the engine runs one subscription per transfer across potentially
// thousands of transfers.
type SignatureSubscription interface {
	Recv(ctx context.Context) (*SignatureResult, error)
	Unsubscribe()
}

// SignatureWatcher subscribes to push notifications for a signature.
// A nil watcher degrades the engine to poll-only confirmation.
type SignatureWatcher interface {
	WatchSignature(ctx context.Context, sig solana.Signature, commitment rpc.CommitmentType) (SignatureSubscription, error)
}
