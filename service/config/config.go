package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gagliardetto/solana-go/rpc"
)

// Config holds all application configuration loaded from environment
// variables. Command-line flags override these per invocation.
type Config struct {
	// Cluster is the target Solana cluster: mainnet-beta, devnet or
	// testnet.
	Cluster string

	// RPCURL and WSURL override the cluster's public endpoints. Airdrops
	// at any real volume need a dedicated RPC provider; the public
	// endpoints rate-limit almost immediately.
	RPCURL string
	WSURL  string

	// HeliusURL is the DAS endpoint (including its api-key parameter).
	// Only the asset-search commands need it.
	HeliusURL string

	// KeypairPath points at the operator keypair in solana-keygen format.
	KeypairPath string

	// LogLevel and LogDir control diagnostics and the transfer logs.
	LogLevel string
	LogDir   string

	// BatchSize bounds in-flight transfers per chunk.
	BatchSize int

	// Commitment is the confirmation tier transfers wait for.
	Commitment rpc.CommitmentType

	// ConfirmTimeout is the per-transaction wall-clock ceiling.
	ConfirmTimeout time.Duration

	// MetricsAddr, when set, serves Prometheus metrics during a run.
	MetricsAddr string
}

var clusterRPCURLs = map[string]string{
	"mainnet-beta": rpc.MainNetBeta_RPC,
	"devnet":       rpc.DevNet_RPC,
	"testnet":      rpc.TestNet_RPC,
}

// Load reads configuration from environment variables, applies defaults
// and validates. Returns an error if any value is malformed.
func Load() (*Config, error) {
	cfg := &Config{}
	var errs []error

	cfg.Cluster = getEnvOrDefault("SPLDROP_CLUSTER", "devnet")
	cfg.RPCURL = os.Getenv("SPLDROP_RPC_URL")
	cfg.WSURL = os.Getenv("SPLDROP_WS_URL")
	cfg.HeliusURL = os.Getenv("SPLDROP_HELIUS_URL")
	cfg.KeypairPath = os.Getenv("SPLDROP_KEYPAIR")
	cfg.LogLevel = getEnvOrDefault("SPLDROP_LOG_LEVEL", "info")
	cfg.LogDir = getEnvOrDefault("SPLDROP_LOG_DIR", "logs")
	cfg.Commitment = rpc.CommitmentType(getEnvOrDefault("SPLDROP_COMMITMENT", string(rpc.CommitmentConfirmed)))
	cfg.MetricsAddr = os.Getenv("SPLDROP_METRICS_ADDR")

	batchSize, err := parseInt("SPLDROP_BATCH_SIZE", 5)
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.BatchSize = batchSize
	}

	confirmTimeout, err := parseDuration("SPLDROP_CONFIRM_TIMEOUT", "3m")
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.ConfirmTimeout = confirmTimeout
	}

	if err := cfg.Validate(); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return nil, fmt.Errorf("configuration validation failed: %v", errs)
	}
	return cfg, nil
}

// MustLoad is like Load but panics if configuration is invalid.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load configuration: %v", err))
	}
	return cfg
}

// Validate checks if the configuration is valid. This is useful for
// testing configuration without loading from env.
func (c *Config) Validate() error {
	var errs []error

	if _, ok := clusterRPCURLs[c.Cluster]; !ok {
		errs = append(errs, fmt.Errorf("unknown cluster %q", c.Cluster))
	}

	switch c.Commitment {
	case rpc.CommitmentProcessed, rpc.CommitmentConfirmed, rpc.CommitmentFinalized:
	default:
		errs = append(errs, fmt.Errorf("unknown commitment %q", c.Commitment))
	}

	if c.BatchSize < 1 {
		errs = append(errs, fmt.Errorf("BatchSize must be at least 1"))
	}

	if c.ConfirmTimeout < time.Second {
		errs = append(errs, fmt.Errorf("ConfirmTimeout must be at least 1 second"))
	}

	if c.LogDir == "" {
		errs = append(errs, fmt.Errorf("LogDir is required"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %v", errs)
	}
	return nil
}

// ResolvedRPCURL returns the configured RPC endpoint, falling back to the
// cluster's public one.
func (c *Config) ResolvedRPCURL() string {
	if c.RPCURL != "" {
		return c.RPCURL
	}
	return clusterRPCURLs[c.Cluster]
}

// ResolvedWSURL returns the configured websocket endpoint, derived from
// the RPC endpoint when not set explicitly.
func (c *Config) ResolvedWSURL() string {
	if c.WSURL != "" {
		return c.WSURL
	}
	url := c.ResolvedRPCURL()
	switch {
	case strings.HasPrefix(url, "https://"):
		return "wss://" + strings.TrimPrefix(url, "https://")
	case strings.HasPrefix(url, "http://"):
		return "ws://" + strings.TrimPrefix(url, "http://")
	}
	return url
}

// SuccessLogPath returns the per-kind transfer log, e.g.
// logs/tokentransfer.txt.
func (c *Config) SuccessLogPath(kind string) string {
	name := "transfer.txt"
	switch kind {
	case "token":
		name = "tokentransfer.txt"
	case "token-per-nft":
		name = "tokentransfersnft.txt"
	case "nft":
		name = "nfttransfer.txt"
	case "retry":
		name = "retrytransfer.txt"
	}
	return filepath.Join(c.LogDir, name)
}

// ErrorLogPath is the human-readable failure log.
func (c *Config) ErrorLogPath() string {
	return filepath.Join(c.LogDir, "transfer-errors.txt")
}

// ErrorLedgerPath is the machine-readable failure ledger a retry pass
// replays.
func (c *Config) ErrorLedgerPath() string {
	return filepath.Join(c.LogDir, "transfererror.json")
}

// RetryErrorLogPath is the failure log of a retry pass.
func (c *Config) RetryErrorLogPath() string {
	return filepath.Join(c.LogDir, "retry-transfers-error.txt")
}

// RetryErrorLedgerPath is the failure ledger of a retry pass. Kept
// separate from ErrorLedgerPath so a pass can never feed on its own
// output.
func (c *Config) RetryErrorLedgerPath() string {
	return filepath.Join(c.LogDir, "retry-transfers-error.json")
}

// getEnvOrDefault returns the environment variable value or a default if not set.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// parseDuration parses a duration from an environment variable or uses a default.
func parseDuration(key, defaultValue string) (time.Duration, error) {
	value := getEnvOrDefault(key, defaultValue)
	duration, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", key, value, err)
	}
	return duration, nil
}

// parseInt parses an integer from an environment variable or uses a default.
func parseInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	result, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid integer %q: %w", key, value, err)
	}
	return result, nil
}
