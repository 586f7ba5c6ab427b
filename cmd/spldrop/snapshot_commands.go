package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/gagliardetto/solana-go"
	"github.com/itchyny/gojq"
	"github.com/urfave/cli/v2"

	"github.com/brojonat/spldrop/service/snapshot"
	solsvc "github.com/brojonat/spldrop/service/solana"
)

func writeJSONOutput(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	if path == "" || path == "-" {
		fmt.Println(string(data))
		return nil
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "Written to %s\n", path)
	return nil
}

// compileJQFilters parses the --must-jq expressions.
func compileJQFilters(filters []string) ([]*gojq.Code, error) {
	compiled := make([]*gojq.Code, len(filters))
	for i, filter := range filters {
		query, err := gojq.Parse(filter)
		if err != nil {
			return nil, fmt.Errorf("failed to parse jq filter %q: %w", filter, err)
		}
		compiled[i], err = gojq.Compile(query)
		if err != nil {
			return nil, fmt.Errorf("failed to compile jq filter %q: %w", filter, err)
		}
	}
	return compiled, nil
}

// matchesJQFilters reports whether every filter evaluates truthy against
// the value's JSON form.
func matchesJQFilters(codes []*gojq.Code, v any) bool {
	if len(codes) == 0 {
		return true
	}
	data, err := json.Marshal(v)
	if err != nil {
		return false
	}
	var plain any
	if err := json.Unmarshal(data, &plain); err != nil {
		return false
	}
	for _, code := range codes {
		iter := code.Run(plain)
		res, ok := iter.Next()
		if !ok {
			return false
		}
		if _, isErr := res.(error); isErr {
			return false
		}
		if !isTruthy(res) {
			return false
		}
	}
	return true
}

// isTruthy follows jq semantics: everything but false and null is true.
func isTruthy(v any) bool {
	switch val := v.(type) {
	case nil:
		return false
	case bool:
		return val
	default:
		return true
	}
}

func newSnapshotter(c *cli.Context) (*snapshot.Snapshotter, error) {
	cfg, err := loadConfig(c)
	if err != nil {
		return nil, err
	}
	logger := newLogger(c)
	rpcClient := solsvc.NewRPCClient(cfg.ResolvedRPCURL())
	return snapshot.NewSnapshotter(rpcClient, snapshot.Config{
		BatchSize: cfg.BatchSize,
	}, newMetrics(cfg, logger), logger), nil
}

func getHoldersCommand() *cli.Command {
	return &cli.Command{
		Name:      "get-holders",
		Usage:     "Snapshot the current holders of a list of mints",
		ArgsUsage: "<mint>...",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "mint-list",
				Usage: "JSON array of mints to snapshot (instead of positional args)",
			},
			&cli.StringFlag{
				Name:    "out",
				Aliases: []string{"o"},
				Usage:   "Output file, or - for stdout",
				Value:   "holders.json",
			},
		},
		Action: func(c *cli.Context) error {
			mintIDs := c.Args().Slice()
			if path := c.String("mint-list"); path != "" {
				loaded, err := loadStringArray(path)
				if err != nil {
					return err
				}
				mintIDs = append(mintIDs, loaded...)
			}
			if len(mintIDs) == 0 {
				return fmt.Errorf("no mints given: pass mint addresses or --mint-list")
			}

			s, err := newSnapshotter(c)
			if err != nil {
				return err
			}
			holders, err := s.Holders(c.Context, mintIDs)
			if err != nil {
				return err
			}
			fmt.Fprintf(os.Stderr, "Found %d holders across %d mints\n", len(holders), len(mintIDs))
			return writeJSONOutput(c.String("out"), holders)
		},
	}
}

func getHoldersCMCommand() *cli.Command {
	return &cli.Command{
		Name:      "get-holders-cm",
		Usage:     "Snapshot the holders of every mint a candy machine produced",
		ArgsUsage: "<candy-machine-id>",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "raw-creator",
				Usage: "Treat the argument as a verbatim first-creator address instead of deriving it",
			},
			&cli.StringFlag{
				Name:    "out",
				Aliases: []string{"o"},
				Usage:   "Output file, or - for stdout",
				Value:   "holdersList.json",
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("expected exactly one candy machine id")
			}
			id, err := solana.PublicKeyFromBase58(c.Args().First())
			if err != nil {
				return fmt.Errorf("candy machine id: %w", err)
			}

			s, err := newSnapshotter(c)
			if err != nil {
				return err
			}

			var mints []string
			if c.Bool("raw-creator") {
				mints, err = s.MintsByCreator(c.Context, id)
			} else {
				mints, err = s.CandyMachineMints(c.Context, id)
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(os.Stderr, "Found %d mints\n", len(mints))

			holders, err := s.Holders(c.Context, mints)
			if err != nil {
				return err
			}
			fmt.Fprintf(os.Stderr, "Found %d holders\n", len(holders))
			return writeJSONOutput(c.String("out"), holders)
		},
	}
}

// lookupAssets resolves a get-asset selection: explicit asset ids first,
// then every asset matching the owner, creator and authority selectors.
func lookupAssets(ctx context.Context, das *snapshot.DASClient, ids []string, owner, creator, authority string) ([]snapshot.Asset, error) {
	var assets []snapshot.Asset
	for _, id := range ids {
		asset, err := das.GetAsset(ctx, id)
		if err != nil {
			return nil, err
		}
		assets = append(assets, *asset)
	}
	if owner != "" {
		more, err := das.AssetsByOwner(ctx, owner)
		if err != nil {
			return nil, err
		}
		assets = append(assets, more...)
	}
	if creator != "" {
		more, err := das.AssetsByCreator(ctx, creator, true)
		if err != nil {
			return nil, err
		}
		assets = append(assets, more...)
	}
	if authority != "" {
		more, err := das.AssetsByAuthority(ctx, authority)
		if err != nil {
			return nil, err
		}
		assets = append(assets, more...)
	}
	return assets, nil
}

func getAssetCommand() *cli.Command {
	return &cli.Command{
		Name:      "get-asset",
		Usage:     "Fetch asset metadata from a Helius DAS endpoint",
		ArgsUsage: "[<asset-id>...]",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "owner",
				Usage: "List every asset this wallet owns",
			},
			&cli.StringFlag{
				Name:  "creator",
				Usage: "List every verified asset of this creator",
			},
			&cli.StringFlag{
				Name:  "authority",
				Usage: "List every asset under this update authority",
			},
			&cli.StringSliceFlag{
				Name:    "must-jq",
				Aliases: []string{"jq"},
				Usage:   "jq filter expression that must evaluate to true (can be specified multiple times, all must match)",
			},
			&cli.StringFlag{
				Name:    "out",
				Aliases: []string{"o"},
				Usage:   "Output file, or - for stdout",
				Value:   "-",
			},
		},
		Action: func(c *cli.Context) error {
			ids := c.Args().Slice()
			owner := c.String("owner")
			creator := c.String("creator")
			authority := c.String("authority")
			if len(ids) == 0 && owner == "" && creator == "" && authority == "" {
				return fmt.Errorf("pass asset ids or one of --owner, --creator, --authority")
			}

			cfg, err := loadConfig(c)
			if err != nil {
				return err
			}
			if cfg.HeliusURL == "" {
				return fmt.Errorf("get-asset needs --helius-url or SPLDROP_HELIUS_URL")
			}
			logger := newLogger(c)

			codes, err := compileJQFilters(c.StringSlice("must-jq"))
			if err != nil {
				return err
			}

			das := snapshot.NewDASClient(cfg.HeliusURL, nil, snapshot.Config{}, newMetrics(cfg, logger), logger)
			assets, err := lookupAssets(c.Context, das, ids, owner, creator, authority)
			if err != nil {
				return err
			}

			out := make([]snapshot.Asset, 0, len(assets))
			for _, asset := range assets {
				if matchesJQFilters(codes, asset) {
					out = append(out, asset)
				}
			}
			fmt.Fprintf(os.Stderr, "Found %d assets\n", len(out))
			return writeJSONOutput(c.String("out"), out)
		},
	}
}

func searchCollectionsCommand() *cli.Command {
	return &cli.Command{
		Name:      "search-collections",
		Usage:     "Summarize collections via a Helius DAS endpoint",
		ArgsUsage: "<collection>...",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "owner",
				Usage: "List this owner's assets in the collections instead of summarizing",
			},
			&cli.StringSliceFlag{
				Name:    "must-jq",
				Aliases: []string{"jq"},
				Usage:   "jq filter expression that must evaluate to true (can be specified multiple times, all must match)",
			},
			&cli.StringFlag{
				Name:    "out",
				Aliases: []string{"o"},
				Usage:   "Output file, or - for stdout",
				Value:   "-",
			},
			&cli.BoolFlag{
				Name:  "holders",
				Usage: "Emit holder accounts (get-holders shape) instead of summaries",
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() == 0 {
				return fmt.Errorf("no collections given")
			}
			cfg, err := loadConfig(c)
			if err != nil {
				return err
			}
			if cfg.HeliusURL == "" {
				return fmt.Errorf("search-collections needs --helius-url or SPLDROP_HELIUS_URL")
			}
			logger := newLogger(c)

			codes, err := compileJQFilters(c.StringSlice("must-jq"))
			if err != nil {
				return err
			}

			das := snapshot.NewDASClient(cfg.HeliusURL, nil, snapshot.Config{}, newMetrics(cfg, logger), logger)

			var out []any
			for _, collection := range c.Args().Slice() {
				switch {
				case c.String("owner") != "":
					assets, err := das.SearchAssets(c.Context, c.String("owner"), collection)
					if err != nil {
						return err
					}
					for _, asset := range assets {
						if matchesJQFilters(codes, asset) {
							out = append(out, asset)
						}
					}
				case c.Bool("holders"):
					holders, err := das.CollectionHolders(c.Context, collection)
					if err != nil {
						return err
					}
					for _, holder := range holders {
						if matchesJQFilters(codes, holder) {
							out = append(out, holder)
						}
					}
				default:
					summary, err := das.SummarizeCollection(c.Context, collection)
					if err != nil {
						return err
					}
					if matchesJQFilters(codes, summary) {
						out = append(out, summary)
					}
				}
			}
			return writeJSONOutput(c.String("out"), out)
		},
	}
}

func loadStringArray(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	var out []string
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return out, nil
}
