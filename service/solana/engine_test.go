package solana

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/system"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// engineMockRPC implements RPCClient for engine tests. Behavior-focused:
// we set what it should return, not verify call sequences.
type engineMockRPC struct {
	mu sync.Mutex

	sendErr   error
	sendCount int

	blockHeight    uint64
	blockHeightErr error

	// statusFn returns the status for the nth poll (1-based).
	statusFn  func(call int) *rpc.SignatureStatusesResult
	pollCount int

	simLogs  []string
	simErr   error
	simCount int
}

func (m *engineMockRPC) SendRawTransaction(ctx context.Context, raw []byte) (solana.Signature, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sendCount++
	if m.sendErr != nil {
		return solana.Signature{}, m.sendErr
	}
	return solana.SignatureFromBytes(append(raw[:32:32], make([]byte, 32)...)), nil
}

func (m *engineMockRPC) sends() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sendCount
}

func (m *engineMockRPC) GetSignatureStatuses(ctx context.Context, sigs ...solana.Signature) (*rpc.GetSignatureStatusesResult, error) {
	m.mu.Lock()
	m.pollCount++
	call := m.pollCount
	fn := m.statusFn
	m.mu.Unlock()

	if fn == nil {
		return &rpc.GetSignatureStatusesResult{Value: []*rpc.SignatureStatusesResult{nil}}, nil
	}
	return &rpc.GetSignatureStatusesResult{Value: []*rpc.SignatureStatusesResult{fn(call)}}, nil
}

func (m *engineMockRPC) GetBlockHeight(ctx context.Context, commitment rpc.CommitmentType) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.blockHeightErr != nil {
		return 0, m.blockHeightErr
	}
	return m.blockHeight, nil
}

func (m *engineMockRPC) GetLatestBlockhash(ctx context.Context, commitment rpc.CommitmentType) (*rpc.GetLatestBlockhashResult, error) {
	return &rpc.GetLatestBlockhashResult{
		Value: &rpc.LatestBlockhashResult{
			Blockhash:            solana.Hash{},
			LastValidBlockHeight: 100,
		},
	}, nil
}

func (m *engineMockRPC) GetAccountInfo(ctx context.Context, account solana.PublicKey) (*rpc.GetAccountInfoResult, error) {
	return nil, rpc.ErrNotFound
}

func (m *engineMockRPC) SimulateTransaction(ctx context.Context, tx *solana.Transaction) (*rpc.SimulateTransactionResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.simCount++
	if m.simErr != nil {
		return nil, m.simErr
	}
	return &rpc.SimulateTransactionResponse{
		Value: &rpc.SimulateTransactionResult{Logs: m.simLogs},
	}, nil
}

func (m *engineMockRPC) simulations() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.simCount
}

func (m *engineMockRPC) GetProgramAccounts(ctx context.Context, program solana.PublicKey, opts *rpc.GetProgramAccountsOpts) (rpc.GetProgramAccountsResult, error) {
	return nil, nil
}

// mockWatcher delivers one result after delay.
type mockWatcher struct {
	result *SignatureResult
	delay  time.Duration

	subscribeErr error
	unsubscribed atomic.Bool
}

func (w *mockWatcher) WatchSignature(ctx context.Context, sig solana.Signature, commitment rpc.CommitmentType) (SignatureSubscription, error) {
	if w.subscribeErr != nil {
		return nil, w.subscribeErr
	}
	return &mockSubscription{watcher: w}, nil
}

type mockSubscription struct {
	watcher *mockWatcher
}

func (s *mockSubscription) Recv(ctx context.Context) (*SignatureResult, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(s.watcher.delay):
	}
	if s.watcher.result == nil {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return s.watcher.result, nil
}

func (s *mockSubscription) Unsubscribe() {
	s.watcher.unsubscribed.Store(true)
}

func newTestTx(t *testing.T) *solana.Transaction {
	t.Helper()
	wallet := solana.NewWallet()
	dest := solana.NewWallet().PublicKey()

	tx, err := solana.NewTransaction(
		[]solana.Instruction{
			system.NewTransferInstruction(1, wallet.PublicKey(), dest).Build(),
		},
		solana.Hash{},
		solana.TransactionPayer(wallet.PublicKey()),
	)
	require.NoError(t, err)

	_, err = tx.Sign(func(key solana.PublicKey) *solana.PrivateKey {
		if key.Equals(wallet.PublicKey()) {
			return &wallet.PrivateKey
		}
		return nil
	})
	require.NoError(t, err)
	return tx
}

func newTestEngine(mock *engineMockRPC, watcher SignatureWatcher, cfg EngineConfig) *Engine {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewEngine(mock, watcher, cfg, nil, logger)
}

func TestSendAndConfirm_ConfirmedViaPolling(t *testing.T) {
	mock := &engineMockRPC{
		blockHeight: 1000,
		statusFn: func(call int) *rpc.SignatureStatusesResult {
			if call < 2 {
				return nil
			}
			return &rpc.SignatureStatusesResult{
				Slot:               1234,
				ConfirmationStatus: rpc.ConfirmationStatusConfirmed,
			}
		},
	}
	engine := newTestEngine(mock, nil, EngineConfig{
		Timeout:             time.Second,
		RebroadcastInterval: 5 * time.Millisecond,
		PollInterval:        5 * time.Millisecond,
	})

	conf, err := engine.SendAndConfirm(context.Background(), newTestTx(t))

	require.NoError(t, err)
	assert.Equal(t, uint64(1234), conf.Slot)
	assert.False(t, conf.Signature.IsZero())
}

func TestSendAndConfirm_ConfirmedViaWebsocket(t *testing.T) {
	mock := &engineMockRPC{blockHeight: 1000}
	watcher := &mockWatcher{
		result: &SignatureResult{Slot: 777},
		delay:  10 * time.Millisecond,
	}
	engine := newTestEngine(mock, watcher, EngineConfig{
		Timeout:             time.Second,
		RebroadcastInterval: 5 * time.Millisecond,
		PollInterval:        time.Minute, // poll effectively idle
	})

	conf, err := engine.SendAndConfirm(context.Background(), newTestTx(t))

	require.NoError(t, err)
	assert.Equal(t, uint64(777), conf.Slot)
	assert.True(t, watcher.unsubscribed.Load(), "subscription must be released")
}

func TestSendAndConfirm_PollConfirmsWhenWebsocketIsSilent(t *testing.T) {
	// A watcher that subscribes fine but never delivers anything, while
	// the cluster reports the signature finalized. The poller must settle
	// the outcome; the run must not ride out the full timeout.
	mock := &engineMockRPC{
		blockHeight: 1000,
		statusFn: func(call int) *rpc.SignatureStatusesResult {
			return &rpc.SignatureStatusesResult{
				Slot:               555,
				ConfirmationStatus: rpc.ConfirmationStatusFinalized,
			}
		},
	}
	watcher := &mockWatcher{result: nil}
	engine := newTestEngine(mock, watcher, EngineConfig{
		Timeout:             5 * time.Second,
		RebroadcastInterval: 5 * time.Millisecond,
		PollInterval:        5 * time.Millisecond,
	})

	start := time.Now()
	conf, err := engine.SendAndConfirm(context.Background(), newTestTx(t))

	require.NoError(t, err)
	assert.Equal(t, uint64(555), conf.Slot)
	assert.Less(t, time.Since(start), time.Second)
}

func TestSendAndConfirm_ExactlyOnceWhenBothReportersFire(t *testing.T) {
	// Websocket and poller race with near-simultaneous, conflicting
	// reports. Exactly one outcome must be observable.
	mock := &engineMockRPC{
		blockHeight: 1000,
		statusFn: func(call int) *rpc.SignatureStatusesResult {
			return &rpc.SignatureStatusesResult{
				Slot:               100,
				ConfirmationStatus: rpc.ConfirmationStatusFinalized,
			}
		},
	}
	watcher := &mockWatcher{
		result: &SignatureResult{Slot: 200},
		delay:  0,
	}
	engine := newTestEngine(mock, watcher, EngineConfig{
		Timeout:             time.Second,
		RebroadcastInterval: time.Millisecond,
		PollInterval:        time.Millisecond,
	})

	conf, err := engine.SendAndConfirm(context.Background(), newTestTx(t))

	require.NoError(t, err)
	assert.Contains(t, []uint64{100, 200}, conf.Slot, "outcome must come from exactly one reporter")
	assert.True(t, watcher.unsubscribed.Load())
}

func TestSendAndConfirm_OnChainRejection(t *testing.T) {
	chainErr := map[string]any{"InstructionError": []any{0, "Custom"}}
	mock := &engineMockRPC{
		blockHeight: 1000,
		statusFn: func(call int) *rpc.SignatureStatusesResult {
			return &rpc.SignatureStatusesResult{Slot: 50, Err: chainErr}
		},
		simLogs: []string{"Program log: insufficient funds"},
	}
	engine := newTestEngine(mock, nil, EngineConfig{
		Timeout:             time.Second,
		RebroadcastInterval: 5 * time.Millisecond,
		PollInterval:        5 * time.Millisecond,
	})

	_, err := engine.SendAndConfirm(context.Background(), newTestTx(t))

	var execErr *ExecutionError
	require.ErrorAs(t, err, &execErr)
	assert.Equal(t, chainErr, execErr.TxErr, "chain-reported error payload must be preserved")
	assert.Equal(t, []string{"Program log: insufficient funds"}, execErr.Logs)
}

func TestSendAndConfirm_TimeoutFiresDeterministically(t *testing.T) {
	const timeout = 80 * time.Millisecond
	const pollInterval = 10 * time.Millisecond

	mock := &engineMockRPC{blockHeight: 1000}
	engine := newTestEngine(mock, nil, EngineConfig{
		Timeout:             timeout,
		RebroadcastInterval: 10 * time.Millisecond,
		PollInterval:        pollInterval,
	})

	start := time.Now()
	_, err := engine.SendAndConfirm(context.Background(), newTestTx(t))
	elapsed := time.Since(start)

	var toErr *TimeoutError
	require.ErrorAs(t, err, &toErr)
	assert.False(t, toErr.Signature.IsZero())
	assert.GreaterOrEqual(t, elapsed, timeout, "must not time out early")
	assert.Less(t, elapsed, timeout+pollInterval+100*time.Millisecond, "overshoot must be bounded")
	assert.GreaterOrEqual(t, mock.simulations(), 1, "timeout should trigger a diagnostic simulation")
}

func TestSendAndConfirm_RebroadcastsWhileAwaitingConfirmation(t *testing.T) {
	mock := &engineMockRPC{blockHeight: 1000}
	watcher := &mockWatcher{
		result: &SignatureResult{Slot: 10},
		delay:  60 * time.Millisecond,
	}
	engine := newTestEngine(mock, watcher, EngineConfig{
		Timeout:             time.Second,
		RebroadcastInterval: 5 * time.Millisecond,
		PollInterval:        time.Minute,
	})

	_, err := engine.SendAndConfirm(context.Background(), newTestTx(t))

	require.NoError(t, err)
	assert.Greater(t, mock.sends(), 3, "same signed bytes should be re-broadcast on the interval")
}

func TestSendAndConfirm_SubmitErrorSurfacesImmediately(t *testing.T) {
	sendErr := errors.New("connection refused")
	mock := &engineMockRPC{sendErr: sendErr}
	engine := newTestEngine(mock, nil, EngineConfig{Timeout: time.Second})

	_, err := engine.SendAndConfirm(context.Background(), newTestTx(t))

	require.ErrorIs(t, err, sendErr)
	assert.Equal(t, 1, mock.sends())
}

func TestSendAndConfirm_WebsocketErrorReportPreserved(t *testing.T) {
	chainErr := map[string]any{"InstructionError": []any{0, map[string]any{"Custom": 1}}}
	mock := &engineMockRPC{blockHeight: 1000, simLogs: []string{"Program log: Error"}}
	watcher := &mockWatcher{
		result: &SignatureResult{Slot: 42, Err: chainErr},
	}
	engine := newTestEngine(mock, watcher, EngineConfig{
		Timeout:             time.Second,
		RebroadcastInterval: 5 * time.Millisecond,
		PollInterval:        time.Minute,
	})

	_, err := engine.SendAndConfirm(context.Background(), newTestTx(t))

	var execErr *ExecutionError
	require.ErrorAs(t, err, &execErr)
	assert.Equal(t, chainErr, execErr.TxErr)
	assert.True(t, watcher.unsubscribed.Load())
}
