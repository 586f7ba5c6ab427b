package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/gagliardetto/solana-go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/urfave/cli/v2"

	"github.com/brojonat/spldrop/service/airdrop"
	"github.com/brojonat/spldrop/service/config"
	"github.com/brojonat/spldrop/service/metrics"
	solsvc "github.com/brojonat/spldrop/service/solana"
)

func newLogger(c *cli.Context) *slog.Logger {
	level := slog.LevelInfo
	switch c.String("log-level") {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// loadConfig reads the environment configuration and applies flag
// overrides.
func loadConfig(c *cli.Context) (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if v := c.String("cluster"); v != "" {
		cfg.Cluster = v
	}
	if v := c.String("rpc-url"); v != "" {
		cfg.RPCURL = v
	}
	if v := c.String("ws-url"); v != "" {
		cfg.WSURL = v
	}
	if v := c.String("helius-url"); v != "" {
		cfg.HeliusURL = v
	}
	if v := c.String("keypair"); v != "" {
		cfg.KeypairPath = v
	}
	if v := c.String("log-dir"); v != "" {
		cfg.LogDir = v
	}
	if c.IsSet("batch-size") {
		cfg.BatchSize = c.Int("batch-size")
	}
	if v := c.String("metrics-addr"); v != "" {
		cfg.MetricsAddr = v
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// newMetrics starts the optional metrics listener and returns the
// recorder, nil when not configured.
func newMetrics(cfg *config.Config, logger *slog.Logger) *metrics.Metrics {
	if cfg.MetricsAddr == "" {
		return nil
	}
	registry := prometheus.NewRegistry()
	m := metrics.NewMetrics(registry)
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	go func() {
		if err := http.ListenAndServe(cfg.MetricsAddr, mux); err != nil {
			logger.Error("metrics listener failed", "addr", cfg.MetricsAddr, "error", err)
		}
	}()
	logger.Info("serving metrics", "addr", cfg.MetricsAddr)
	return m
}

func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

// pipeline bundles everything one airdrop run needs.
type pipeline struct {
	orch   *airdrop.Orchestrator
	ledger *airdrop.Ledger
	cfg    *config.Config
}

type pipelineOpts struct {
	kind     string
	mint     solana.PublicKey
	retryRun bool
}

// buildPipeline wires preparer, engine and orchestrator from flags.
// Fresh runs reset the error ledger; retry runs write renewed failures to
// the retry ledger instead.
func buildPipeline(ctx context.Context, c *cli.Context, cfg *config.Config, logger *slog.Logger, opts pipelineOpts) (*pipeline, error) {
	signer, err := airdrop.LoadKeypair(cfg.KeypairPath)
	if err != nil {
		return nil, err
	}
	logger.Info("loaded operator keypair", "pubkey", signer.PublicKey().String())

	var extra []string
	if path := c.String("exclusion-list"); path != "" {
		extra, err = airdrop.LoadExclusionList(path)
		if err != nil {
			return nil, err
		}
	}

	simulate := c.Bool("simulate")

	var ledger *airdrop.Ledger
	if opts.retryRun {
		ledger = airdrop.NewLedger(cfg.RetryErrorLogPath(), cfg.RetryErrorLedgerPath())
	} else {
		ledger = airdrop.NewLedger(cfg.ErrorLogPath(), cfg.ErrorLedgerPath())
	}
	if !simulate {
		if err := ledger.Reset(); err != nil {
			return nil, err
		}
	}

	m := newMetrics(cfg, logger)
	rpcClient := solsvc.NewRPCClient(cfg.ResolvedRPCURL())

	var watcher solsvc.SignatureWatcher
	if !simulate {
		watcher, err = solsvc.NewSignatureWatcher(ctx, cfg.ResolvedWSURL())
		if err != nil {
			logger.Warn("websocket connect failed, falling back to polling",
				"url", cfg.ResolvedWSURL(),
				"error", err,
			)
			watcher = nil
		}
	}

	preparer := airdrop.NewPreparer(rpcClient, signer, airdrop.PreparerConfig{
		Commitment:           cfg.Commitment,
		AllowOffCurve:        c.Bool("allow-off-curve"),
		MintIfAuthority:      c.Bool("mint-if-authority"),
		OverrideBalanceCheck: c.Bool("override-balance-check"),
		CloseSourceAccount:   c.Bool("close-source-account"),
	}, m, logger)

	engine := solsvc.NewEngine(rpcClient, watcher, solsvc.EngineConfig{
		Commitment: cfg.Commitment,
		Timeout:    cfg.ConfirmTimeout,
	}, m, logger)

	runCfg := airdrop.RunConfig{
		Kind:           opts.kind,
		BatchSize:      cfg.BatchSize,
		Simulate:       simulate,
		Mint:           opts.mint,
		SuccessLogPath: cfg.SuccessLogPath(opts.kind),
		Cluster:        cfg.Cluster,
		ShowProgress:   !simulate,
	}
	orch := airdrop.NewOrchestrator(preparer, engine, ledger, airdrop.NewExclusions(extra...), runCfg, m, logger)
	return &pipeline{orch: orch, ledger: ledger, cfg: cfg}, nil
}

func printSummary(summary *airdrop.Summary, simulate bool) error {
	if simulate {
		data, err := json.MarshalIndent(summary.Planned, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(data))
		fmt.Fprintf(os.Stderr, "Planned %d transfers (simulation, nothing sent).\n", len(summary.Planned))
		return nil
	}
	color.Green("Confirmed: %d", summary.Confirmed)
	if summary.Skipped > 0 {
		color.Yellow("Skipped (already funded): %d", summary.Skipped)
	}
	if summary.Failed > 0 {
		color.Red("Failed: %d (see the error ledger to retry)", summary.Failed)
	}
	fmt.Printf("Elapsed: %s\n", summary.Elapsed.Round(time.Millisecond))
	return nil
}

func airdropFlags(extra ...cli.Flag) []cli.Flag {
	flags := []cli.Flag{
		&cli.BoolFlag{
			Name:    "simulate",
			Aliases: []string{"s"},
			Usage:   "Print the transfer plan without sending anything",
		},
		&cli.IntFlag{
			Name:    "batch-size",
			Aliases: []string{"b"},
			Usage:   "Number of transfers in flight at once",
			EnvVars: []string{"SPLDROP_BATCH_SIZE"},
		},
		&cli.StringFlag{
			Name:    "exclusion-list",
			Usage:   "JSON array of addresses to exclude on top of the built-in marketplace set",
			EnvVars: []string{"SPLDROP_EXCLUSION_LIST"},
		},
		&cli.BoolFlag{
			Name:  "mint-if-authority",
			Usage: "Mint directly to destinations when the keypair is the mint authority",
		},
		&cli.BoolFlag{
			Name:  "override-balance-check",
			Usage: "Send even to destinations that already hold the amount",
		},
		&cli.BoolFlag{
			Name:  "allow-off-curve",
			Usage: "Permit program-derived (off-curve) destination addresses",
		},
	}
	return append(flags, extra...)
}

func airdropTokenCommand() *cli.Command {
	return &cli.Command{
		Name:  "airdrop-token",
		Usage: "Send a fixed amount of one token to every wallet in a list",
		Flags: airdropFlags(
			&cli.StringFlag{
				Name:     "airdrop-list",
				Aliases:  []string{"al"},
				Usage:    "JSON file with the mint and destination wallets",
				Required: true,
			},
			&cli.Uint64Flag{
				Name:     "amount",
				Aliases:  []string{"am"},
				Usage:    "Amount per wallet, in base units",
				Required: true,
			},
		),
		Action: func(c *cli.Context) error {
			cfg, err := loadConfig(c)
			if err != nil {
				return err
			}
			logger := newLogger(c)

			list, err := airdrop.LoadWalletList(c.String("airdrop-list"))
			if err != nil {
				return err
			}
			targets, err := list.Targets(c.Uint64("amount"))
			if err != nil {
				return err
			}
			mint, err := solana.PublicKeyFromBase58(list.Mint)
			if err != nil {
				return err
			}

			ctx, stop := signalContext(c.Context)
			defer stop()

			p, err := buildPipeline(ctx, c, cfg, logger, pipelineOpts{kind: "token", mint: mint})
			if err != nil {
				return err
			}
			summary, err := p.orch.Run(ctx, targets)
			if err != nil {
				return err
			}
			return printSummary(summary, c.Bool("simulate"))
		},
	}
}

func airdropTokenPerNFTCommand() *cli.Command {
	return &cli.Command{
		Name:  "airdrop-token-per-nft",
		Usage: "Send tokens to NFT holders, scaled by how many they hold",
		Flags: airdropFlags(
			&cli.StringFlag{
				Name:     "holder-list",
				Aliases:  []string{"hl"},
				Usage:    "Holder snapshot JSON (as written by get-holders)",
				Required: true,
			},
			&cli.StringFlag{
				Name:     "mint",
				Aliases:  []string{"m"},
				Usage:    "Mint of the token to distribute",
				Required: true,
			},
			&cli.Uint64Flag{
				Name:     "amount",
				Aliases:  []string{"am"},
				Usage:    "Amount per held NFT, in base units",
				Required: true,
			},
		),
		Action: func(c *cli.Context) error {
			cfg, err := loadConfig(c)
			if err != nil {
				return err
			}
			logger := newLogger(c)

			mint, err := solana.PublicKeyFromBase58(c.String("mint"))
			if err != nil {
				return fmt.Errorf("--mint: %w", err)
			}
			holders, err := airdrop.LoadHolderList(c.String("holder-list"))
			if err != nil {
				return err
			}
			targets, err := airdrop.HolderTargets(holders, mint, c.Uint64("amount"))
			if err != nil {
				return err
			}

			ctx, stop := signalContext(c.Context)
			defer stop()

			p, err := buildPipeline(ctx, c, cfg, logger, pipelineOpts{kind: "token-per-nft", mint: mint})
			if err != nil {
				return err
			}
			summary, err := p.orch.Run(ctx, targets)
			if err != nil {
				return err
			}
			return printSummary(summary, c.Bool("simulate"))
		},
	}
}

func airdropNFTCommand() *cli.Command {
	return &cli.Command{
		Name:  "airdrop-nft",
		Usage: "Distribute NFTs from a mint list across a distribution list",
		Flags: airdropFlags(
			&cli.StringFlag{
				Name:     "distribution-list",
				Aliases:  []string{"dl"},
				Usage:    "JSON file allocating NFT counts per wallet",
				Required: true,
			},
			&cli.StringFlag{
				Name:     "mint-list",
				Aliases:  []string{"ml"},
				Usage:    "JSON array of NFT mints to hand out, consumed in order",
				Required: true,
			},
			&cli.BoolFlag{
				Name:  "close-source-account",
				Usage: "Close the emptied source token account after each transfer and reclaim its rent",
			},
		),
		Action: func(c *cli.Context) error {
			cfg, err := loadConfig(c)
			if err != nil {
				return err
			}
			logger := newLogger(c)

			list, err := airdrop.LoadDistributionList(c.String("distribution-list"))
			if err != nil {
				return err
			}
			mints, err := airdrop.LoadMintList(c.String("mint-list"))
			if err != nil {
				return err
			}
			targets, err := list.NFTTargets(mints)
			if err != nil {
				return err
			}

			ctx, stop := signalContext(c.Context)
			defer stop()

			// Every target has its own mint, so there is no single run
			// mint for a capability check.
			p, err := buildPipeline(ctx, c, cfg, logger, pipelineOpts{kind: "nft"})
			if err != nil {
				return err
			}
			summary, err := p.orch.Run(ctx, targets)
			if err != nil {
				return err
			}
			return printSummary(summary, c.Bool("simulate"))
		},
	}
}

func retryErrorsCommand() *cli.Command {
	return &cli.Command{
		Name:  "retry-errors",
		Usage: "Replay a previous run's error ledger",
		Flags: airdropFlags(
			&cli.StringFlag{
				Name:  "errors-file",
				Usage: "Ledger to replay (defaults to the main error ledger)",
			},
			&cli.BoolFlag{
				Name:  "close-source-account",
				Usage: "Close emptied NFT source accounts after each transfer",
			},
		),
		Action: func(c *cli.Context) error {
			cfg, err := loadConfig(c)
			if err != nil {
				return err
			}
			logger := newLogger(c)

			sourcePath := c.String("errors-file")
			if sourcePath == "" {
				sourcePath = cfg.ErrorLedgerPath()
			}
			source := airdrop.NewLedger(cfg.ErrorLogPath(), sourcePath)

			// Read before the pipeline resets the retry ledger:
			// --errors-file may point at the retry ledger itself.
			records, err := source.Read()
			if err != nil {
				return err
			}

			ctx, stop := signalContext(c.Context)
			defer stop()

			p, err := buildPipeline(ctx, c, cfg, logger, pipelineOpts{kind: "retry", retryRun: true})
			if err != nil {
				return err
			}
			summary, err := airdrop.ReplayRecords(ctx, p.orch, source, records)
			if err != nil {
				return err
			}
			return printSummary(summary, c.Bool("simulate"))
		},
	}
}
