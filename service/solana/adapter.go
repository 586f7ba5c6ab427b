package solana

import (
	"context"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/gagliardetto/solana-go/rpc/ws"
)

// realRPCClient adapts the actual solana-go RPC client to our RPCClient
// interface. This adapter allows us to control the interface and makes
// testing easier.
type realRPCClient struct {
	client *rpc.Client
}

// NewRPCClient creates a new RPCClient that wraps the solana-go RPC client.
// For premium RPC endpoints that require API keys, include the key in the
// URL (e.g. https://mainnet.helius-rpc.com/?api-key=YOUR-KEY).
func NewRPCClient(rpcURL string) RPCClient {
	return &realRPCClient{
		client: rpc.New(rpcURL),
	}
}

func (r *realRPCClient) SendRawTransaction(ctx context.Context, raw []byte) (solana.Signature, error) {
	// Preflight is skipped: re-broadcasting already-signed bytes is the
	// delivery mechanism, and preflight would reject duplicates that the
	// cluster de-duplicates for free.
	return r.client.SendRawTransactionWithOpts(ctx, raw, rpc.TransactionOpts{
		SkipPreflight: true,
	})
}

func (r *realRPCClient) GetSignatureStatuses(ctx context.Context, sigs ...solana.Signature) (*rpc.GetSignatureStatusesResult, error) {
	return r.client.GetSignatureStatuses(ctx, true, sigs...)
}

func (r *realRPCClient) GetBlockHeight(ctx context.Context, commitment rpc.CommitmentType) (uint64, error) {
	return r.client.GetBlockHeight(ctx, commitment)
}

func (r *realRPCClient) GetLatestBlockhash(ctx context.Context, commitment rpc.CommitmentType) (*rpc.GetLatestBlockhashResult, error) {
	return r.client.GetLatestBlockhash(ctx, commitment)
}

func (r *realRPCClient) GetAccountInfo(ctx context.Context, account solana.PublicKey) (*rpc.GetAccountInfoResult, error) {
	return r.client.GetAccountInfo(ctx, account)
}

func (r *realRPCClient) SimulateTransaction(ctx context.Context, tx *solana.Transaction) (*rpc.SimulateTransactionResponse, error) {
	return r.client.SimulateTransactionWithOpts(ctx, tx, &rpc.SimulateTransactionOpts{
		ReplaceRecentBlockhash: true,
	})
}

func (r *realRPCClient) GetProgramAccounts(ctx context.Context, program solana.PublicKey, opts *rpc.GetProgramAccountsOpts) (rpc.GetProgramAccountsResult, error) {
	return r.client.GetProgramAccountsWithOpts(ctx, program, opts)
}

// wsWatcher adapts the solana-go websocket client to SignatureWatcher.
type wsWatcher struct {
	client *ws.Client
}

// NewSignatureWatcher connects to the websocket endpoint and returns a
// watcher for signature status notifications.
func NewSignatureWatcher(ctx context.Context, wsURL string) (SignatureWatcher, error) {
	client, err := ws.Connect(ctx, wsURL)
	if err != nil {
		return nil, err
	}
	return &wsWatcher{client: client}, nil
}

func (w *wsWatcher) WatchSignature(ctx context.Context, sig solana.Signature, commitment rpc.CommitmentType) (SignatureSubscription, error) {
	sub, err := w.client.SignatureSubscribe(sig, commitment)
	if err != nil {
		return nil, err
	}
	return &wsSubscription{sub: sub}, nil
}

type wsSubscription struct {
	sub *ws.SignatureSubscription
}

func (s *wsSubscription) Recv(ctx context.Context) (*SignatureResult, error) {
	res, err := s.sub.Recv(ctx)
	if err != nil {
		return nil, err
	}
	return &SignatureResult{
		Slot: res.Context.Slot,
		Err:  res.Value.Err,
	}, nil
}

func (s *wsSubscription) Unsubscribe() {
	s.sub.Unsubscribe()
}
