package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const minimalConfig = `
network:
  chain_id: 11155111
  chain_name: Sepolia
  rpc_urls: ["https://rpc.sepolia.org"]
ledger:
  contract_address: "0x5FbDB2315678afecb367f032d93F642f64180aa3"
`

func TestParse_AppliesDefaults(t *testing.T) {
	cfg, err := Parse([]byte(minimalConfig))
	require.NoError(t, err)

	assert.Equal(t, 8095, cfg.Server.Port)
	assert.Equal(t, "keystore", cfg.Wallet.Type)
	assert.Equal(t, 1.2, cfg.Ledger.GasMultiplier)
	assert.Equal(t, 720*time.Hour, cfg.Vault.Retention)
	assert.Equal(t, 2*time.Second, cfg.Connection.ConnectCooldown)
	assert.Equal(t, 3, cfg.Connection.Retry.OverloadCeiling)
	assert.Equal(t, 500*time.Millisecond, cfg.Connection.Retry.BaseDelay)
	assert.Equal(t, "newest", cfg.Engine.DefaultSort)
	assert.Equal(t, int32(18), cfg.Network.Currency.Decimals)
}

func TestParse_FileOverridesDefaults(t *testing.T) {
	cfg, err := Parse([]byte(minimalConfig + `
engine:
  refresh_interval: 10s
  fetch_window: 20
  batch_size: 5
connection:
  retry:
    read_attempts: 4
`))
	require.NoError(t, err)

	assert.Equal(t, 10*time.Second, cfg.Engine.RefreshInterval)
	assert.Equal(t, 20, cfg.Engine.FetchWindow)
	assert.Equal(t, 5, cfg.Engine.BatchSize)
	assert.Equal(t, 4, cfg.Connection.Retry.ReadAttempts)
	assert.Equal(t, 3, cfg.Connection.Retry.EstimateAttempts)
}

func TestParse_ExpandsEnvironment(t *testing.T) {
	t.Setenv("ELEMENTS_WALLET_PASSPHRASE", "hunter2")

	cfg, err := Parse([]byte(minimalConfig + `
wallet:
  passphrase: ${ELEMENTS_WALLET_PASSPHRASE}
`))
	require.NoError(t, err)
	assert.Equal(t, "hunter2", cfg.Wallet.Passphrase)
}

func TestParse_ValidationErrors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"missing chain id", `
network:
  chain_name: x
  rpc_urls: ["http://localhost:8545"]
ledger:
  contract_address: "0x5FbDB2315678afecb367f032d93F642f64180aa3"
`},
		{"bad contract address", `
network:
  chain_id: 1
  chain_name: x
  rpc_urls: ["http://localhost:8545"]
ledger:
  contract_address: "not-an-address"
`},
		{"rpc wallet without url", minimalConfig + `
wallet:
  type: rpc
`},
		{"postgres vault without user", minimalConfig + `
vault:
  backend: postgres
`},
		{"batch larger than window", minimalConfig + `
engine:
  fetch_window: 5
  batch_size: 10
`},
		{"unknown sort", minimalConfig + `
engine:
  default_sort: random
`},
		{"zero refresh interval", minimalConfig + `
engine:
  refresh_interval: 0s
`},
		{"zero balance refresh interval", minimalConfig + `
connection:
  balance_refresh_interval: 0s
`},
		{"zero event poll interval", `
network:
  chain_id: 1
  chain_name: x
  rpc_urls: ["http://localhost:8545"]
ledger:
  contract_address: "0x5FbDB2315678afecb367f032d93F642f64180aa3"
  event_poll_interval: 0s
`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Parse([]byte(tt.yaml)); err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}
}

func TestNetworkConfig_IsAccepted(t *testing.T) {
	n := NetworkConfig{ChainID: 10, AcceptedChainIDs: []int64{11, 12}}

	assert.True(t, n.IsAccepted(10))
	assert.True(t, n.IsAccepted(12))
	assert.False(t, n.IsAccepted(1))
}

func TestNewLogger_InvalidLevel(t *testing.T) {
	if _, err := NewLogger(LoggingConfig{Level: "loud", Format: "json"}); err == nil {
		t.Fatal("expected error for invalid level")
	}
}

func TestNewLogger_FileOutput(t *testing.T) {
	path := t.TempDir() + "/elementsd.log"
	logger, err := NewLogger(LoggingConfig{Level: "debug", Format: "json", OutputPath: path, MaxSizeMB: 1})
	require.NoError(t, err)
	logger.Info("hello")
	_ = logger.Sync()
}
