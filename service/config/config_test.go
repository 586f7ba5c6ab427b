package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go/rpc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var configEnvVars = []string{
	"SPLDROP_CLUSTER",
	"SPLDROP_RPC_URL",
	"SPLDROP_WS_URL",
	"SPLDROP_HELIUS_URL",
	"SPLDROP_KEYPAIR",
	"SPLDROP_LOG_LEVEL",
	"SPLDROP_LOG_DIR",
	"SPLDROP_COMMITMENT",
	"SPLDROP_BATCH_SIZE",
	"SPLDROP_CONFIRM_TIMEOUT",
	"SPLDROP_METRICS_ADDR",
}

func cleanupEnv() {
	for _, key := range configEnvVars {
		os.Unsetenv(key)
	}
}

func TestLoad_Defaults(t *testing.T) {
	cleanupEnv()

	cfg, err := Load()
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, "devnet", cfg.Cluster)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "logs", cfg.LogDir)
	assert.Equal(t, 5, cfg.BatchSize)
	assert.Equal(t, rpc.CommitmentConfirmed, cfg.Commitment)
	assert.Equal(t, 3*time.Minute, cfg.ConfirmTimeout)
	assert.Equal(t, rpc.DevNet_RPC, cfg.ResolvedRPCURL())
}

func TestLoad_CustomValues(t *testing.T) {
	os.Setenv("SPLDROP_CLUSTER", "mainnet-beta")
	os.Setenv("SPLDROP_RPC_URL", "https://rpc.example.com")
	os.Setenv("SPLDROP_BATCH_SIZE", "10")
	os.Setenv("SPLDROP_COMMITMENT", "finalized")
	os.Setenv("SPLDROP_CONFIRM_TIMEOUT", "90s")
	os.Setenv("SPLDROP_LOG_DIR", "/var/log/spldrop")
	defer cleanupEnv()

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "mainnet-beta", cfg.Cluster)
	assert.Equal(t, "https://rpc.example.com", cfg.ResolvedRPCURL())
	assert.Equal(t, 10, cfg.BatchSize)
	assert.Equal(t, rpc.CommitmentFinalized, cfg.Commitment)
	assert.Equal(t, 90*time.Second, cfg.ConfirmTimeout)
	assert.Equal(t, "/var/log/spldrop", cfg.LogDir)
}

func TestLoad_UnknownCluster(t *testing.T) {
	os.Setenv("SPLDROP_CLUSTER", "localnet")
	defer cleanupEnv()

	cfg, err := Load()
	require.Error(t, err)
	assert.Nil(t, cfg)
	assert.Contains(t, err.Error(), "unknown cluster")
}

func TestLoad_InvalidBatchSize(t *testing.T) {
	os.Setenv("SPLDROP_BATCH_SIZE", "many")
	defer cleanupEnv()

	cfg, err := Load()
	require.Error(t, err)
	assert.Nil(t, cfg)
	assert.Contains(t, err.Error(), "invalid integer")
}

func TestLoad_InvalidTimeout(t *testing.T) {
	os.Setenv("SPLDROP_CONFIRM_TIMEOUT", "soon")
	defer cleanupEnv()

	cfg, err := Load()
	require.Error(t, err)
	assert.Nil(t, cfg)
	assert.Contains(t, err.Error(), "invalid duration")
}

func TestValidate_RejectsBadValues(t *testing.T) {
	cfg := &Config{
		Cluster:        "devnet",
		Commitment:     rpc.CommitmentConfirmed,
		BatchSize:      0,
		ConfirmTimeout: time.Minute,
		LogDir:         "logs",
	}
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "BatchSize")

	cfg.BatchSize = 5
	cfg.Commitment = "pretty-sure"
	err = cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown commitment")

	cfg.Commitment = rpc.CommitmentConfirmed
	require.NoError(t, cfg.Validate())
}

func TestResolvedWSURL(t *testing.T) {
	cfg := &Config{Cluster: "devnet", RPCURL: "https://rpc.example.com/key"}
	assert.Equal(t, "wss://rpc.example.com/key", cfg.ResolvedWSURL())

	cfg.RPCURL = "http://localhost:8899"
	assert.Equal(t, "ws://localhost:8899", cfg.ResolvedWSURL())

	cfg.WSURL = "wss://ws.example.com"
	assert.Equal(t, "wss://ws.example.com", cfg.ResolvedWSURL())
}

func TestLogPaths(t *testing.T) {
	cfg := &Config{LogDir: "logs"}

	assert.Equal(t, filepath.Join("logs", "tokentransfer.txt"), cfg.SuccessLogPath("token"))
	assert.Equal(t, filepath.Join("logs", "tokentransfersnft.txt"), cfg.SuccessLogPath("token-per-nft"))
	assert.Equal(t, filepath.Join("logs", "nfttransfer.txt"), cfg.SuccessLogPath("nft"))
	assert.Equal(t, filepath.Join("logs", "retrytransfer.txt"), cfg.SuccessLogPath("retry"))
	assert.Equal(t, filepath.Join("logs", "transfererror.json"), cfg.ErrorLedgerPath())
	assert.NotEqual(t, cfg.ErrorLedgerPath(), cfg.RetryErrorLedgerPath())
}
