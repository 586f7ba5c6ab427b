package airdrop

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/brojonat/spldrop/service/metrics"
	"github.com/gagliardetto/solana-go"
	"github.com/schollz/progressbar/v3"

	solsvc "github.com/brojonat/spldrop/service/solana"
)

// TransactionPreparer builds a signed transaction for one target.
type TransactionPreparer interface {
	ResolveCapability(ctx context.Context, mint solana.PublicKey) (Capability, error)
	Prepare(ctx context.Context, target TransferTarget, capability Capability) (*solana.Transaction, error)
}

// TransferSender drives one signed transaction to a definitive outcome.
type TransferSender interface {
	SendAndConfirm(ctx context.Context, tx *solana.Transaction) (solsvc.Confirmation, error)
}

// RunConfig configures one orchestrated airdrop run.
type RunConfig struct {
	// Kind labels logs and metrics: "token", "token-per-nft", "nft",
	// "retry".
	Kind string

	// BatchSize bounds concurrency: entries within a chunk run
	// concurrently, chunks run strictly one after another.
	BatchSize int

	// Simulate computes the post-exclusion transfer plan and returns it
	// with zero network calls and zero file writes.
	Simulate bool

	// Mint, when set, is the single mint of the run and enables the
	// once-per-run capability check.
	Mint solana.PublicKey

	// SuccessLogPath receives one human-readable line per confirmed
	// transfer.
	SuccessLogPath string

	// Cluster names the target cluster for explorer links.
	Cluster string

	// ShowProgress renders a terminal progress bar.
	ShowProgress bool
}

// Summary aggregates one run's outcomes. Individual transfer failures are
// recorded in the ledger and counted here; they never fail the run.
type Summary struct {
	Planned   []PlannedTransfer
	Confirmed int
	Failed    int
	Skipped   int
	Elapsed   time.Duration
}

// Orchestrator drives the whole run: filter, chunk, prepare, submit,
// confirm, and route every outcome to the success log or the error
// ledger.
type Orchestrator struct {
	preparer   TransactionPreparer
	sender     TransferSender
	ledger     *Ledger
	exclusions *Exclusions
	cfg        RunConfig
	logger     *slog.Logger
	metrics    *metrics.Metrics

	successMu sync.Mutex
	counterMu sync.Mutex
}

// NewOrchestrator wires the transfer pipeline. ledger receives failed
// transfers; exclusions filters the destination list before any work.
func NewOrchestrator(preparer TransactionPreparer, sender TransferSender, ledger *Ledger, exclusions *Exclusions, cfg RunConfig, m *metrics.Metrics, logger *slog.Logger) *Orchestrator {
	if cfg.BatchSize < 1 {
		cfg.BatchSize = 5
	}
	if exclusions == nil {
		exclusions = NewExclusions()
	}
	return &Orchestrator{
		preparer:   preparer,
		sender:     sender,
		ledger:     ledger,
		exclusions: exclusions,
		cfg:        cfg,
		logger:     logger,
		metrics:    m,
	}
}

// Run processes all targets. It returns a non-nil error only for
// setup-level failures that prevent any processing (or a cancelled
// context); per-entry failures land in the ledger and the summary.
func (o *Orchestrator) Run(ctx context.Context, targets []TransferTarget) (*Summary, error) {
	start := time.Now()
	targets = o.exclusions.FilterTargets(targets)

	if o.cfg.Simulate {
		planned := make([]PlannedTransfer, len(targets))
		for i, t := range targets {
			planned[i] = PlannedTransfer{
				Wallet:         t.Wallet.String(),
				Mint:           t.Mint.String(),
				TransferAmount: t.Amount,
			}
		}
		return &Summary{Planned: planned, Elapsed: time.Since(start)}, nil
	}

	capability := CapTransferOnly
	if !o.cfg.Mint.IsZero() {
		var err error
		capability, err = o.preparer.ResolveCapability(ctx, o.cfg.Mint)
		if err != nil {
			return nil, fmt.Errorf("resolve mint capability: %w", err)
		}
	}

	var bar *progressbar.ProgressBar
	if o.cfg.ShowProgress {
		bar = progressbar.NewOptions(len(targets),
			progressbar.OptionSetWriter(os.Stderr),
			progressbar.OptionSetDescription(o.cfg.Kind),
			progressbar.OptionShowCount(),
		)
	}

	summary := &Summary{}
	for _, chunk := range Chunk(targets, o.cfg.BatchSize) {
		if err := ctx.Err(); err != nil {
			return summary, err
		}

		chunkStart := time.Now()
		var wg sync.WaitGroup
		for _, target := range chunk {
			wg.Add(1)
			go func(target TransferTarget) {
				defer wg.Done()
				o.processOne(ctx, target, capability, summary)
				if bar != nil {
					_ = bar.Add(1)
				}
			}(target)
		}
		wg.Wait()
		o.metrics.RecordBatchDuration(o.cfg.Kind, time.Since(chunkStart).Seconds())
	}

	if bar != nil {
		_ = bar.Finish()
		fmt.Fprintln(os.Stderr)
	}

	summary.Elapsed = time.Since(start)
	o.logger.InfoContext(ctx, "run complete",
		"kind", o.cfg.Kind,
		"confirmed", summary.Confirmed,
		"failed", summary.Failed,
		"skipped", summary.Skipped,
		"elapsed", summary.Elapsed,
	)
	return summary, nil
}

// processOne runs the prepare-submit-confirm pipeline for a single target
// and routes the outcome. Failures are converted to ledger records; they
// never propagate.
func (o *Orchestrator) processOne(ctx context.Context, target TransferTarget, capability Capability, summary *Summary) {
	tx, err := o.preparer.Prepare(ctx, target, capability)
	if errors.Is(err, ErrAlreadyFunded) {
		o.logger.InfoContext(ctx, "destination already funded, skipping",
			"wallet", target.Wallet.String(),
			"mint", target.Mint.String(),
		)
		o.metrics.RecordTransfer(o.cfg.Kind, "skipped")
		o.count(summary, func(s *Summary) { s.Skipped++ })
		return
	}
	if err != nil {
		o.recordFailure(ctx, target, "failed to prepare transfer", err, summary)
		return
	}

	conf, err := o.sender.SendAndConfirm(ctx, tx)
	if err != nil {
		o.recordFailure(ctx, target, failureMessage(err), err, summary)
		return
	}

	line := fmt.Sprintf("Sent %d of %s to %s. Signature %s. %s\n",
		target.Amount, target.Mint, target.Wallet, conf.Signature, ExplorerURL(conf.Signature, o.cfg.Cluster))
	if err := o.appendSuccess(line); err != nil {
		o.logger.ErrorContext(ctx, "failed to append success log",
			"wallet", target.Wallet.String(),
			"error", err,
		)
	}
	o.logger.InfoContext(ctx, "transfer confirmed",
		"wallet", target.Wallet.String(),
		"mint", target.Mint.String(),
		"amount", target.Amount,
		"signature", conf.Signature.String(),
		"slot", conf.Slot,
	)
	o.metrics.RecordTransfer(o.cfg.Kind, "confirmed")
	o.count(summary, func(s *Summary) { s.Confirmed++ })
}

func (o *Orchestrator) recordFailure(ctx context.Context, target TransferTarget, message string, err error, summary *Summary) {
	rec := ErrorRecord{
		Wallet:         target.Wallet.String(),
		Mint:           target.Mint.String(),
		TransferAmount: target.Amount,
		Holdings:       target.Holdings,
		IsNFT:          target.IsNFT,
		Message:        message,
		Error:          errorDetail(err),
	}
	if ledgerErr := o.ledger.Append(rec); ledgerErr != nil {
		o.logger.ErrorContext(ctx, "failed to append error ledger",
			"wallet", rec.Wallet,
			"error", ledgerErr,
		)
	}
	o.logger.ErrorContext(ctx, "transfer failed",
		"wallet", rec.Wallet,
		"mint", rec.Mint,
		"amount", rec.TransferAmount,
		"error", err,
	)
	o.metrics.RecordTransfer(o.cfg.Kind, "failed")
	o.metrics.RecordLedgerWrite(o.cfg.Kind)
	o.count(summary, func(s *Summary) { s.Failed++ })
}

func (o *Orchestrator) appendSuccess(line string) error {
	if o.cfg.SuccessLogPath == "" {
		return nil
	}
	o.successMu.Lock()
	defer o.successMu.Unlock()
	return appendLine(o.cfg.SuccessLogPath, line)
}

func (o *Orchestrator) count(summary *Summary, apply func(*Summary)) {
	o.counterMu.Lock()
	defer o.counterMu.Unlock()
	apply(summary)
}

// failureMessage maps engine outcomes to the ledger's human-readable
// message, keeping ambiguous timeouts distinguishable from definitive
// rejections.
func failureMessage(err error) string {
	var toErr *solsvc.TimeoutError
	if errors.As(err, &toErr) {
		return "timed out awaiting confirmation; transaction may not have landed"
	}
	var execErr *solsvc.ExecutionError
	if errors.As(err, &execErr) {
		return "transaction rejected on chain"
	}
	return "failed to submit transfer"
}

// errorDetail flattens an outcome error for persistence, attaching program
// logs when a rejection carried them.
func errorDetail(err error) string {
	var execErr *solsvc.ExecutionError
	if errors.As(err, &execErr) && len(execErr.Logs) > 0 {
		return fmt.Sprintf("%v; logs: %s", execErr, strings.Join(execErr.Logs, " | "))
	}
	return err.Error()
}

// RetryErrors replays a previously written ledger through the pipeline.
// Renewed failures go to the orchestrator's (retry-specific) ledger, never
// back to the source, so two files cannot ping-pong records forever. The
// source file is left untouched by the pass itself; only when every record
// succeeded is it compacted.
func RetryErrors(ctx context.Context, o *Orchestrator, source *Ledger) (*Summary, error) {
	records, err := source.Read()
	if err != nil {
		return nil, err
	}
	return ReplayRecords(ctx, o, source, records)
}

// ReplayRecords is RetryErrors for records the caller has already read.
// Callers that reset the orchestrator's output ledger must read the
// source first: when --errors-file points at the retry ledger itself,
// the reset would otherwise truncate the records before the pass sees
// them.
func ReplayRecords(ctx context.Context, o *Orchestrator, source *Ledger, records []ErrorRecord) (*Summary, error) {
	targets := make([]TransferTarget, 0, len(records))
	for _, rec := range records {
		target, err := rec.Target()
		if err != nil {
			return nil, err
		}
		targets = append(targets, target)
	}

	summary, err := o.Run(ctx, targets)
	if err != nil {
		return summary, err
	}
	if !o.cfg.Simulate && len(records) > 0 && summary.Failed == 0 {
		if err := source.Compact(); err != nil {
			return summary, err
		}
	}
	return summary, nil
}
