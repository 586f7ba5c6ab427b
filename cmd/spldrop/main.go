package main

import (
	"fmt"
	"log"
	"os"

	"github.com/joho/godotenv"
	"github.com/urfave/cli/v2"
)

var (
	// Version information (set via ldflags during build)
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

func main() {
	// Optional; flags and real env vars win over .env entries.
	_ = godotenv.Load()

	app := &cli.App{
		Name:  "spldrop",
		Usage: "Bulk SPL token and NFT airdrop tool",
		Description: `Send tokens or NFTs to large destination lists with batched,
re-broadcast, confirm-or-record delivery.

Failed transfers land in a JSON error ledger; replay it with retry-errors
until everything has gone through.`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		Commands: []*cli.Command{
			airdropTokenCommand(),
			airdropTokenPerNFTCommand(),
			airdropNFTCommand(),
			retryErrorsCommand(),
			getHoldersCommand(),
			getHoldersCMCommand(),
			searchCollectionsCommand(),
			getAssetCommand(),
		},
		// Global flags available to all commands
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "cluster",
				Usage:   "Target cluster: mainnet-beta, devnet or testnet",
				EnvVars: []string{"SPLDROP_CLUSTER"},
			},
			&cli.StringFlag{
				Name:    "rpc-url",
				Usage:   "RPC endpoint (overrides the cluster's public one)",
				EnvVars: []string{"SPLDROP_RPC_URL"},
			},
			&cli.StringFlag{
				Name:    "ws-url",
				Usage:   "Websocket endpoint for signature subscriptions",
				EnvVars: []string{"SPLDROP_WS_URL"},
			},
			&cli.StringFlag{
				Name:    "helius-url",
				Usage:   "Helius DAS endpoint, including its api-key parameter",
				EnvVars: []string{"SPLDROP_HELIUS_URL"},
			},
			&cli.StringFlag{
				Name:    "keypair",
				Aliases: []string{"k"},
				Usage:   "Operator keypair file (solana-keygen format)",
				EnvVars: []string{"SPLDROP_KEYPAIR"},
			},
			&cli.StringFlag{
				Name:    "log-dir",
				Usage:   "Directory for transfer logs and error ledgers",
				EnvVars: []string{"SPLDROP_LOG_DIR"},
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Diagnostic log level: debug, info, warn, error",
				EnvVars: []string{"SPLDROP_LOG_LEVEL"},
				Value:   "info",
			},
			&cli.StringFlag{
				Name:    "metrics-addr",
				Usage:   "Serve Prometheus metrics on this address during the run",
				EnvVars: []string{"SPLDROP_METRICS_ADDR"},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}
