package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Config holds the application configuration
type Config struct {
	Backend    BackendConfig    `mapstructure:"backend"`
	Wallet     WalletConfig     `mapstructure:"wallet"`
	Quote      QuoteConfig      `mapstructure:"quote"`
	Execution  ExecutionConfig  `mapstructure:"execution"`
	Settlement SettlementConfig `mapstructure:"settlement"`
	Privacy    PrivacyConfig    `mapstructure:"privacy"`
	Store      StoreConfig      `mapstructure:"store"`
	OneClick   OneClickConfig   `mapstructure:"oneclick"`
	Deposit    DepositConfig    `mapstructure:"deposit"`
	Fees       FeesConfig       `mapstructure:"fees"`

	// Reserves keeps an amount of each gas asset out of the spendable balance
	Reserves map[string]string `mapstructure:"reserves"`
	// Prices overrides the fallback USD price table
	Prices map[string]string `mapstructure:"prices"`
}

type BackendConfig struct {
	URL       string        `mapstructure:"url" validate:"required,url"`
	Token     string        `mapstructure:"token"`
	RateLimit float64       `mapstructure:"rate_limit" validate:"gte=0"`
	Burst     int           `mapstructure:"burst" validate:"gte=0"`
	Timeout   time.Duration `mapstructure:"timeout" validate:"gt=0"`
}

// WalletConfig holds the user's addresses and the Starknet signing relay
type WalletConfig struct {
	StarknetAddress string `mapstructure:"starknet_address"`
	EVMAddress      string `mapstructure:"evm_address"`
	BTCAddress      string `mapstructure:"btc_address"`
	RelayURL        string `mapstructure:"relay_url" validate:"omitempty,url"`
	ProviderHint    string `mapstructure:"provider_hint"`
}

type QuoteConfig struct {
	Debounce              time.Duration `mapstructure:"debounce" validate:"gt=0"`
	CacheTTL              time.Duration `mapstructure:"cache_ttl" validate:"gt=0"`
	CacheSize             int           `mapstructure:"cache_size" validate:"gt=0"`
	RequestTimeout        time.Duration `mapstructure:"request_timeout" validate:"gt=0"`
	ReprojectionThreshold float64       `mapstructure:"reprojection_threshold" validate:"gt=0,lte=1"`
	// StarknetRPCURL prices the destination gas of bridges into Starknet
	StarknetRPCURL string `mapstructure:"starknet_rpc_url" validate:"omitempty,url"`
}

type ExecutionConfig struct {
	Cooldown   time.Duration `mapstructure:"cooldown" validate:"gte=0"`
	AckTimeout time.Duration `mapstructure:"ack_timeout" validate:"gt=0"`
}

type SettlementConfig struct {
	PollInterval time.Duration `mapstructure:"poll_interval" validate:"gt=0"`
	MaxAttempts  int           `mapstructure:"max_attempts" validate:"gt=0"`
}

type PrivacyConfig struct {
	Verifier   string        `mapstructure:"verifier" validate:"oneof=garaga tongo semaphore"`
	Router     string        `mapstructure:"router"`
	MinNoteAge time.Duration `mapstructure:"min_note_age" validate:"gte=0"`
}

type StoreConfig struct {
	Driver string `mapstructure:"driver" validate:"oneof=file leveldb"`
	Path   string `mapstructure:"path"`
}

// OneClickConfig enables 1Click as the bridge provider
type OneClickConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	JWTToken  string `mapstructure:"jwt_token" validate:"required_if=Enabled true"`
	Recipient string `mapstructure:"recipient"`
	RefundTo  string `mapstructure:"refund_to"`
}

// FeesConfig describes the user's reward position
type FeesConfig struct {
	NFTTier     string `mapstructure:"nft_tier"`
	StakedCarel string `mapstructure:"staked_carel" validate:"omitempty,numeric"`
}

// DepositConfig holds the auto-deposit settings for funds-first orders
type DepositConfig struct {
	Enabled bool         `mapstructure:"enabled"`
	EVM     EVMConfig    `mapstructure:"evm"`
	Solana  SolanaConfig `mapstructure:"solana"`
}

// EVMConfig holds the settings of the EVM source chain
type EVMConfig struct {
	RPCURL     string `mapstructure:"rpc_url" validate:"omitempty,url"`
	PrivateKey string `mapstructure:"private_key"`
	ChainID    int64  `mapstructure:"chain_id" validate:"gt=0"`
	GasLimit   uint64 `mapstructure:"gas_limit"`
	// Tokens maps ERC20 symbols to contract addresses
	Tokens map[string]string `mapstructure:"tokens"`
}

// SolanaConfig holds Solana-specific settings
type SolanaConfig struct {
	RPCURL        string `mapstructure:"rpc_url" validate:"omitempty,url"`
	PrivateKey    string `mapstructure:"private_key"` // Base58
	Commitment    string `mapstructure:"commitment" validate:"omitempty,oneof=processed confirmed finalized"`
	SkipPreflight bool   `mapstructure:"skip_preflight"`
	// Mints maps SPL token symbols to mint addresses
	Mints map[string]string `mapstructure:"mints"`
}

// Configured reports whether EVM signing is possible
func (c EVMConfig) Configured() bool {
	return c.RPCURL != "" && c.PrivateKey != ""
}

var globalConfig *Config

func setDefaults(v *viper.Viper) {
	v.SetDefault("backend.url", "http://localhost:8080")
	v.SetDefault("backend.token", "")
	v.SetDefault("backend.rate_limit", 5)
	v.SetDefault("backend.burst", 10)
	v.SetDefault("backend.timeout", 30*time.Second)

	v.SetDefault("wallet.starknet_address", "")
	v.SetDefault("wallet.evm_address", "")
	v.SetDefault("wallet.btc_address", "")
	v.SetDefault("wallet.relay_url", "")
	v.SetDefault("wallet.provider_hint", "")

	v.SetDefault("quote.debounce", 350*time.Millisecond)
	v.SetDefault("quote.cache_ttl", 20*time.Second)
	v.SetDefault("quote.cache_size", 120)
	v.SetDefault("quote.request_timeout", 15*time.Second)
	v.SetDefault("quote.reprojection_threshold", 0.35)

	v.SetDefault("execution.cooldown", 2500*time.Millisecond)
	v.SetDefault("execution.ack_timeout", 45*time.Second)

	v.SetDefault("settlement.poll_interval", 10*time.Second)
	v.SetDefault("settlement.max_attempts", 18)

	v.SetDefault("privacy.verifier", "garaga")
	v.SetDefault("privacy.router", "")
	v.SetDefault("privacy.min_note_age", 10*time.Minute)

	v.SetDefault("store.driver", "file")
	v.SetDefault("store.path", "")

	v.SetDefault("oneclick.enabled", false)
	v.SetDefault("oneclick.jwt_token", "")
	v.SetDefault("oneclick.recipient", "")
	v.SetDefault("oneclick.refund_to", "")

	v.SetDefault("fees.nft_tier", "")
	v.SetDefault("fees.staked_carel", "")

	v.SetDefault("deposit.enabled", false)
	v.SetDefault("deposit.evm.rpc_url", "")
	v.SetDefault("deposit.evm.private_key", "")
	v.SetDefault("deposit.evm.chain_id", 1)
	v.SetDefault("deposit.evm.gas_limit", 0)
	v.SetDefault("deposit.solana.rpc_url", "")
	v.SetDefault("deposit.solana.private_key", "")
	v.SetDefault("deposit.solana.commitment", "confirmed")
	v.SetDefault("deposit.solana.skip_preflight", false)

	v.SetDefault("reserves", map[string]string{
		"ETH":  "0.005",
		"STRK": "2",
		"SOL":  "0.01",
	})
}

// Load reads configuration from defaults, an optional config file and
// TRADEFLOW_ environment variables, in increasing precedence. An empty
// cfgFile searches for .tradeflow.yaml in $HOME and the working directory.
func Load(cfgFile string) (*Config, error) {
	v := viper.New()
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName(".tradeflow")
		v.SetConfigType("yaml")
		v.AddConfigPath("$HOME")
		v.AddConfigPath(".")
	}

	setDefaults(v)

	v.SetEnvPrefix("TRADEFLOW")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		// the config file is optional unless given explicitly
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok || cfgFile != "" {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	globalConfig = cfg
	return cfg, nil
}

// Validate checks the decoded configuration
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// Get returns the global configuration
func Get() *Config {
	if globalConfig == nil {
		cfg, err := Load("")
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error loading configuration: %v\n", err)
			os.Exit(1)
		}
		return cfg
	}
	return globalConfig
}

// Set updates the global configuration
func Set(cfg *Config) {
	globalConfig = cfg
}
