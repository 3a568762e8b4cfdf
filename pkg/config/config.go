package config

import (
	"fmt"
	"os"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config represents the elementsd configuration
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Logging    LoggingConfig    `yaml:"logging"`
	Monitoring MonitoringConfig `yaml:"monitoring"`
	API        APIConfig        `yaml:"api"`
	Network    NetworkConfig    `yaml:"network"`
	Wallet     WalletConfig     `yaml:"wallet"`
	Ledger     LedgerConfig     `yaml:"ledger"`
	Connection ConnectionConfig `yaml:"connection"`
	Engine     EngineConfig     `yaml:"engine"`
	Vault      VaultConfig      `yaml:"vault"`
	Database   DatabaseConfig   `yaml:"database"`
}

// ServerConfig contains HTTP server settings
type ServerConfig struct {
	Host            string        `yaml:"host" default:"127.0.0.1"`
	Port            int           `yaml:"port" default:"8095" validate:"min=1,max=65535"`
	ReadTimeout     time.Duration `yaml:"read_timeout" default:"15s"`
	WriteTimeout    time.Duration `yaml:"write_timeout" default:"90s"`
	IdleTimeout     time.Duration `yaml:"idle_timeout" default:"60s"`
	RequestTimeout  time.Duration `yaml:"request_timeout" default:"80s"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" default:"30s"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level      string `yaml:"level" default:"info"`
	Format     string `yaml:"format" default:"console" validate:"oneof=json console"`
	OutputPath string `yaml:"output_path" default:"stdout"`
	MaxSizeMB  int    `yaml:"max_size_mb" default:"100"`
	MaxBackups int    `yaml:"max_backups" default:"5"`
	MaxAgeDays int    `yaml:"max_age_days" default:"30"`
	Compress   bool   `yaml:"compress"`
}

// MonitoringConfig contains monitoring and metrics settings
type MonitoringConfig struct {
	Enabled bool `yaml:"enabled" default:"true"`
}

// APIConfig configures the collaborator-facing HTTP API.
// Bearer authentication is enforced only when AuthSecret is set.
type APIConfig struct {
	AuthSecret string `yaml:"auth_secret"`
	AuthIssuer string `yaml:"auth_issuer"`
}

// NetworkConfig describes the network the ledger program lives on.
// The descriptor fields are sent verbatim when the wallet does not know the chain yet.
type NetworkConfig struct {
	ChainID           int64          `yaml:"chain_id" validate:"required,gt=0"`
	AcceptedChainIDs  []int64        `yaml:"accepted_chain_ids"`
	ChainName         string         `yaml:"chain_name" validate:"required"`
	RPCURLs           []string       `yaml:"rpc_urls" validate:"required,min=1,dive,url"`
	BlockExplorerURLs []string       `yaml:"block_explorer_urls" validate:"dive,url"`
	Currency          CurrencyConfig `yaml:"currency"`
}

// CurrencyConfig describes the native token
type CurrencyConfig struct {
	Name     string `yaml:"name" default:"Ether"`
	Symbol   string `yaml:"symbol" default:"ETH"`
	Decimals int32  `yaml:"decimals" default:"18" validate:"min=0,max=36"`
}

// IsAccepted reports whether chainID is one the ledger binding may be used on
func (c *NetworkConfig) IsAccepted(chainID int64) bool {
	if chainID == c.ChainID {
		return true
	}
	for _, id := range c.AcceptedChainIDs {
		if id == chainID {
			return true
		}
	}
	return false
}

// WalletConfig selects and configures the wallet transport
type WalletConfig struct {
	Type string `yaml:"type" default:"keystore" validate:"oneof=keystore rpc"`

	// keystore wallet
	KeystoreDir string `yaml:"keystore_dir" default:"./keystore"`
	Account     string `yaml:"account"`
	Passphrase  string `yaml:"passphrase"`

	// remote wallet
	RPCURL       string        `yaml:"rpc_url"`
	PollInterval time.Duration `yaml:"poll_interval" default:"3s" validate:"gt=0"`
}

// LedgerConfig contains ledger program settings
type LedgerConfig struct {
	ContractAddress   string        `yaml:"contract_address" validate:"required,eth_addr"`
	GasMultiplier     float64       `yaml:"gas_multiplier" default:"1.2" validate:"gte=1"`
	GasMargin         string        `yaml:"gas_margin" default:"0.01"`
	ReceiptTimeout    time.Duration `yaml:"receipt_timeout" default:"2m"`
	EventPollInterval time.Duration `yaml:"event_poll_interval" default:"5s" validate:"gt=0"`
	EventLookback     uint64        `yaml:"event_lookback" default:"100"`
}

// ConnectionConfig contains session resilience settings
type ConnectionConfig struct {
	ConnectCooldown        time.Duration `yaml:"connect_cooldown" default:"2s"`
	BreakerThreshold       int           `yaml:"breaker_threshold" default:"3" validate:"min=1"`
	BreakerLockout         time.Duration `yaml:"breaker_lockout" default:"30s"`
	BalanceRefreshInterval time.Duration `yaml:"balance_refresh_interval" default:"5m" validate:"gt=0"`
	RateLimit              float64       `yaml:"rate_limit" default:"10" validate:"gt=0"`
	RateBurst              int           `yaml:"rate_burst" default:"20" validate:"min=1"`
	Retry                  RetryConfig   `yaml:"retry"`
}

// RetryConfig contains the provider call retry policy
type RetryConfig struct {
	ReadAttempts     int           `yaml:"read_attempts" default:"5" validate:"min=1"`
	EstimateAttempts int           `yaml:"estimate_attempts" default:"3" validate:"min=1"`
	BaseDelay        time.Duration `yaml:"base_delay" default:"500ms"`
	MaxDelay         time.Duration `yaml:"max_delay" default:"10s"`
	Jitter           float64       `yaml:"jitter" default:"0.3" validate:"gte=0,lt=1"`
	OverloadCooldown time.Duration `yaml:"overload_cooldown" default:"2s"`
	OverloadCeiling  int           `yaml:"overload_ceiling" default:"3" validate:"min=1"`
	OverloadLockout  time.Duration `yaml:"overload_lockout" default:"60s"`
}

// EngineConfig contains game engine settings
type EngineConfig struct {
	RefreshInterval time.Duration `yaml:"refresh_interval" default:"30s" validate:"gt=0"`
	FetchWindow     int           `yaml:"fetch_window" default:"60" validate:"min=1"`
	BatchSize       int           `yaml:"batch_size" default:"10" validate:"min=1"`
	CacheSize       int           `yaml:"cache_size" default:"512" validate:"min=1"`
	DefaultSort     string        `yaml:"default_sort" default:"newest" validate:"oneof=newest oldest highest_bet lowest_bet"`
}

// VaultConfig contains secret vault settings
type VaultConfig struct {
	Backend       string        `yaml:"backend" default:"leveldb" validate:"oneof=leveldb postgres memory"`
	Path          string        `yaml:"path" default:"./data/vault"`
	Retention     time.Duration `yaml:"retention" default:"720h"`
	PurgeSchedule string        `yaml:"purge_schedule" default:"@daily"`
	EncryptionKey string        `yaml:"encryption_key" validate:"omitempty,base64"`
}

// DatabaseConfig contains database connection settings
type DatabaseConfig struct {
	Host     string `yaml:"host" default:"localhost"`
	Port     int    `yaml:"port" default:"5432"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database" default:"elements_vault"`
	SSLMode  string `yaml:"ssl_mode" default:"disable"`
}

// Load reads configuration from file
func Load(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes configuration from YAML bytes. Environment references
// (${VAR}) are expanded before decoding.
func Parse(data []byte) (*Config, error) {
	cfg := &Config{}
	if err := defaults.Set(cfg); err != nil {
		return nil, fmt.Errorf("failed to apply defaults: %w", err)
	}

	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func validate(cfg *Config) error {
	if err := validator.New().Struct(cfg); err != nil {
		return err
	}

	switch cfg.Wallet.Type {
	case "rpc":
		if cfg.Wallet.RPCURL == "" {
			return fmt.Errorf("wallet.rpc_url is required for the rpc wallet")
		}
	case "keystore":
		if cfg.Wallet.KeystoreDir == "" {
			return fmt.Errorf("wallet.keystore_dir is required for the keystore wallet")
		}
	}

	if cfg.Vault.Backend == "postgres" && cfg.Database.User == "" {
		return fmt.Errorf("database.user is required for the postgres vault backend")
	}

	if cfg.Engine.BatchSize > cfg.Engine.FetchWindow {
		return fmt.Errorf("engine.batch_size must not exceed engine.fetch_window")
	}

	return nil
}
