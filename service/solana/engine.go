package solana

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/brojonat/spldrop/service/metrics"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
)

// EngineConfig tunes the submit-confirm cycle. Zero values fall back to
// the defaults below.
type EngineConfig struct {
	// Commitment is the confirmation tier to wait for.
	Commitment rpc.CommitmentType

	// Timeout is the per-transaction wall-clock ceiling. It always fires,
	// independent of RPC responsiveness, so one transfer can never hang a
	// batch indefinitely.
	Timeout time.Duration

	// RebroadcastInterval is the delay between re-submissions of the same
	// signed bytes while awaiting confirmation.
	RebroadcastInterval time.Duration

	// PollInterval is the delay between GetSignatureStatuses polls.
	PollInterval time.Duration

	// BlockHeightMargin bounds the re-broadcast loop: once the cluster is
	// this many blocks past the submission baseline, the blockhash can no
	// longer land and re-sending stops.
	BlockHeightMargin uint64
}

const (
	defaultTimeout             = 3 * time.Minute
	defaultRebroadcastInterval = 500 * time.Millisecond
	defaultPollInterval        = 2 * time.Second
	defaultBlockHeightMargin   = 150
)

func (c EngineConfig) withDefaults() EngineConfig {
	if c.Commitment == "" {
		c.Commitment = rpc.CommitmentConfirmed
	}
	if c.Timeout <= 0 {
		c.Timeout = defaultTimeout
	}
	if c.RebroadcastInterval <= 0 {
		c.RebroadcastInterval = defaultRebroadcastInterval
	}
	if c.PollInterval <= 0 {
		c.PollInterval = defaultPollInterval
	}
	if c.BlockHeightMargin == 0 {
		c.BlockHeightMargin = defaultBlockHeightMargin
	}
	return c
}

// Engine submits a signed transaction and drives it to a definitive
// outcome: confirmed, rejected on chain, or timed out.
//
// Two independent reporters race for the result: a websocket signature
// subscription and a status poll loop. A re-broadcast goroutine keeps
// resending the same signed bytes on a fixed interval until the result
// settles, the wall clock runs out, or the block-height deadline passes.
// Re-sending identical bytes is idempotent (same signature), so dropped
// transactions are compensated without double-transfers.
type Engine struct {
	rpc     RPCClient
	watcher SignatureWatcher
	cfg     EngineConfig
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// NewEngine creates an Engine. watcher may be nil, in which case
// confirmation is poll-only. If m is nil, no metrics are recorded.
func NewEngine(rpcClient RPCClient, watcher SignatureWatcher, cfg EngineConfig, m *metrics.Metrics, logger *slog.Logger) *Engine {
	cfg = cfg.withDefaults()
	return &Engine{
		rpc:     rpcClient,
		watcher: watcher,
		cfg:     cfg,
		logger:  logger,
		metrics: m,
	}
}

type settledResult struct {
	conf Confirmation
	err  error
}

// SendAndConfirm submits tx and blocks until a definitive outcome.
// Success returns a Confirmation; a definitive on-chain rejection returns
// an *ExecutionError with program logs attached when a diagnostic
// simulation can obtain them; expiry of the wall-clock timeout returns a
// *TimeoutError. The outcome settles exactly once no matter which
// reporter fires first, or whether several fire together.
func (e *Engine) SendAndConfirm(ctx context.Context, tx *solana.Transaction) (Confirmation, error) {
	raw, err := tx.MarshalBinary()
	if err != nil {
		return Confirmation{}, err
	}

	start := time.Now()
	sig, err := e.sendRaw(ctx, raw)
	if err != nil {
		e.metrics.RecordConfirmation("submit_error", time.Since(start).Seconds())
		return Confirmation{}, err
	}

	// Baseline for the block-height deadline. A failed lookup only widens
	// the re-broadcast window; the wall clock still bounds it.
	deadline := uint64(0)
	if base, err := e.rpc.GetBlockHeight(ctx, e.cfg.Commitment); err == nil {
		deadline = base + e.cfg.BlockHeightMargin
	} else {
		e.logger.WarnContext(ctx, "failed to get baseline block height",
			"signature", sig.String(),
			"error", err,
		)
	}

	cctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var once sync.Once
	resCh := make(chan settledResult, 1)
	settle := func(conf Confirmation, err error) {
		once.Do(func() {
			resCh <- settledResult{conf: conf, err: err}
			cancel()
		})
	}

	go e.rebroadcast(cctx, sig, raw, deadline)
	if e.watcher != nil {
		go e.listen(cctx, sig, settle)
	}
	// The poller always runs, watcher or not: a dropped websocket push
	// must not turn a landed transaction into a timeout.
	go e.poll(cctx, sig, settle)

	timer := time.NewTimer(e.cfg.Timeout)
	defer timer.Stop()

	select {
	case res := <-resCh:
		if execErr := asExecutionError(res.err); execErr != nil {
			execErr.Logs = e.diagnose(ctx, tx, sig)
			e.metrics.RecordConfirmation("rejected", time.Since(start).Seconds())
			return Confirmation{}, execErr
		}
		if res.err != nil {
			return Confirmation{}, res.err
		}
		e.logger.DebugContext(ctx, "transaction confirmed",
			"signature", sig.String(),
			"slot", res.conf.Slot,
			"latency", time.Since(start),
		)
		e.metrics.RecordConfirmation("confirmed", time.Since(start).Seconds())
		return res.conf, nil

	case <-timer.C:
		cancel()
		logs := e.diagnose(ctx, tx, sig)
		if len(logs) > 0 {
			e.logger.WarnContext(ctx, "simulation logs for timed out transaction",
				"signature", sig.String(),
				"logs", strings.Join(logs, "\n"),
			)
		}
		e.metrics.RecordConfirmation("timeout", time.Since(start).Seconds())
		return Confirmation{}, &TimeoutError{Signature: sig}

	case <-ctx.Done():
		return Confirmation{}, ctx.Err()
	}
}

func (e *Engine) sendRaw(ctx context.Context, raw []byte) (solana.Signature, error) {
	start := time.Now()
	sig, err := e.rpc.SendRawTransaction(ctx, raw)
	status := "success"
	if err != nil {
		status = "error"
		if strings.Contains(err.Error(), "429") {
			e.metrics.RecordRateLimitHit("SendRawTransaction")
		}
	}
	e.metrics.RecordRPCCall("SendRawTransaction", status, time.Since(start).Seconds())
	return sig, err
}

// rebroadcast re-submits the same signed bytes on a fixed interval until
// the context settles or the cluster passes the block-height deadline.
// A deadline of zero disables the height check.
func (e *Engine) rebroadcast(ctx context.Context, sig solana.Signature, raw []byte, deadline uint64) {
	ticker := time.NewTicker(e.cfg.RebroadcastInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		if _, err := e.rpc.SendRawTransaction(ctx, raw); err != nil {
			if ctx.Err() != nil {
				return
			}
			e.metrics.RecordRebroadcast("error")
			e.logger.DebugContext(ctx, "re-broadcast failed",
				"signature", sig.String(),
				"error", err,
			)
		} else {
			e.metrics.RecordRebroadcast("success")
		}

		if deadline > 0 {
			height, err := e.rpc.GetBlockHeight(ctx, e.cfg.Commitment)
			if err == nil && height >= deadline {
				e.logger.DebugContext(ctx, "block-height deadline passed, stopping re-broadcast",
					"signature", sig.String(),
					"height", height,
					"deadline", deadline,
				)
				return
			}
		}
	}
}

// listen awaits a websocket push for the signature. The subscription is
// released on every exit path.
func (e *Engine) listen(ctx context.Context, sig solana.Signature, settle func(Confirmation, error)) {
	sub, err := e.watcher.WatchSignature(ctx, sig, e.cfg.Commitment)
	if err != nil {
		e.logger.WarnContext(ctx, "signature subscribe failed, relying on polling",
			"signature", sig.String(),
			"error", err,
		)
		return
	}
	defer sub.Unsubscribe()

	res, err := sub.Recv(ctx)
	if err != nil || res == nil {
		// Cancelled or the socket dropped; the poller or the timer decides.
		return
	}
	if res.Err != nil {
		settle(Confirmation{}, &ExecutionError{Signature: sig, TxErr: res.Err})
		return
	}
	settle(Confirmation{Signature: sig, Slot: res.Slot}, nil)
}

// poll queries the signature status on a fixed interval until it reports
// a definitive outcome at the requested commitment.
func (e *Engine) poll(ctx context.Context, sig solana.Signature, settle func(Confirmation, error)) {
	ticker := time.NewTicker(e.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		start := time.Now()
		out, err := e.rpc.GetSignatureStatuses(ctx, sig)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			e.metrics.RecordRPCCall("GetSignatureStatuses", "error", time.Since(start).Seconds())
			e.logger.DebugContext(ctx, "status poll failed",
				"signature", sig.String(),
				"error", err,
			)
			continue
		}
		e.metrics.RecordRPCCall("GetSignatureStatuses", "success", time.Since(start).Seconds())

		if out == nil || len(out.Value) == 0 || out.Value[0] == nil {
			// Not yet visible; keep re-broadcasting and polling.
			continue
		}
		status := out.Value[0]
		if status.Err != nil {
			settle(Confirmation{}, &ExecutionError{Signature: sig, TxErr: status.Err})
			return
		}
		if statusReached(status.ConfirmationStatus, e.cfg.Commitment) {
			settle(Confirmation{Signature: sig, Slot: status.Slot}, nil)
			return
		}
	}
}

// diagnose dry-runs the transaction against current state to capture
// program logs for the error record. Purely informational: a simulation
// failure never overrides the primary outcome.
func (e *Engine) diagnose(ctx context.Context, tx *solana.Transaction, sig solana.Signature) []string {
	dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	res, err := e.rpc.SimulateTransaction(dctx, tx)
	if err != nil {
		e.logger.WarnContext(ctx, "diagnostic simulation failed",
			"signature", sig.String(),
			"error", err,
		)
		return nil
	}
	if res == nil || res.Value == nil {
		return nil
	}
	return res.Value.Logs
}

func asExecutionError(err error) *ExecutionError {
	if err == nil {
		return nil
	}
	if execErr, ok := err.(*ExecutionError); ok {
		return execErr
	}
	return nil
}
