package config

import (
	"fmt"
	"math/big"
	"os"
	"strconv"
	"strings"
	"time"
)

// Chain modes
const (
	ChainModeLive      = "live"
	ChainModeSimulated = "simulated"
)

// Storage backends
const (
	StoragePostgres = "postgres"
	StorageMemory   = "memory"
)

// Reveal modes
const (
	RevealAuto   = "auto"
	RevealManual = "manual"
)

// Config holds all configuration for the service
type Config struct {
	Env       string
	ChainMode string
	Storage   string
	Server    ServerConfig
	Database  DatabaseConfig
	EVM       EVMChainConfig
	Cosmos    CosmosChainConfig
	Operator  OperatorConfig
	Fee       FeeConfig
	Swap      SwapConfig
	Quote     QuoteConfig
	Assets    map[string]AssetConfig // keyed by symbol
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port int
}

// DatabaseConfig holds PostgreSQL configuration
type DatabaseConfig struct {
	Host          string
	Port          int
	User          string
	Password      string
	DBName        string
	SSLMode       string
	MigrationPath string
}

// EVMChainConfig holds configuration for the account-based chain
type EVMChainConfig struct {
	ChainID             string
	Name                string
	RPCEndpoint         string
	HTLCContractAddress string // CrossChainSwap HTLC contract
	CounterpartyAddress string // receives source escrows locked on this chain
	StartBlock          uint64 // 0 = latest at startup
	LogBlockRange       uint64 // max blocks per log query
}

// CosmosChainConfig holds configuration for the Cosmos-SDK chain
type CosmosChainConfig struct {
	ChainID               string
	RPCEndpoint           string
	RESTEndpoint          string // REST/LCD API endpoint for queries
	EscrowContractAddress string // CosmWasm escrow contract
	CounterpartyAddress   string // receives source escrows locked on this chain
	Bech32Prefix          string
	CoinType              uint32
	FeeDenom              string
	GasPrice              float64
	GasLimit              uint64
}

// OperatorConfig holds operator wallet configuration
type OperatorConfig struct {
	EVMPrivateKey  string // For signing EVM transactions
	CosmosMnemonic string // For signing Cosmos transactions
}

// FeeConfig holds the flat protocol fee charged per swap
type FeeConfig struct {
	ChainID   string // chain whose leg creation carries the fee
	Denom     string
	Amount    *big.Int // smallest unit
	Recipient string
}

// SwapConfig holds swap timing and retry parameters
type SwapConfig struct {
	MinTimelock         time.Duration
	MaxTimelock         time.Duration
	SafetyMargin        time.Duration // source expiry minus destination expiry
	MinClaimWindow      time.Duration // destination time left required when creating it
	TxTimeout           time.Duration
	ReceiptPollInterval time.Duration
	PollInterval        time.Duration // chain watcher polling
	RetryInitial        time.Duration
	RetryMax            time.Duration
	ReconcileInterval   time.Duration
	RevealMode          string
}

// QuoteConfig holds the advisory quote service configuration
type QuoteConfig struct {
	Endpoint string
	Timeout  time.Duration
}

// AssetConfig describes a swappable asset on one chain
type AssetConfig struct {
	Symbol   string
	ChainID  string
	Denom    string // native denom, or ERC20 contract address
	Decimals int32
	Native   bool
}

// LoadConfig loads configuration from environment variables, then applies
// the optional YAML file named by CONFIG_FILE
func LoadConfig() (*Config, error) {
	feeAmount, ok := new(big.Int).SetString(getEnv("FEE_AMOUNT", "1000000000000000"), 10)
	if !ok {
		return nil, fmt.Errorf("invalid FEE_AMOUNT")
	}

	cfg := &Config{
		Env:       getEnv("ENV", "development"),
		ChainMode: getEnv("CHAIN_MODE", ChainModeLive),
		Storage:   getEnv("STORAGE", StoragePostgres),
		Server: ServerConfig{
			Port: getEnvInt("SERVER_PORT", 8080),
		},
		Database: DatabaseConfig{
			Host:          getEnv("DB_HOST", "localhost"),
			Port:          getEnvInt("DB_PORT", 5432),
			User:          getEnv("DB_USER", "postgres"),
			Password:      getEnv("DB_PASSWORD", "postgres"),
			DBName:        getEnv("DB_NAME", "atomic_swap"),
			SSLMode:       getEnv("DB_SSL_MODE", "disable"),
			MigrationPath: getEnv("DB_MIGRATION_PATH", "internal/database/migrations/001_schema.sql"),
		},
		EVM: EVMChainConfig{
			ChainID:             getEnv("EVM_CHAIN_ID", "11155111"),
			Name:                getEnv("EVM_CHAIN_NAME", "Sepolia"),
			RPCEndpoint:         getEnv("EVM_RPC_ENDPOINT", ""),
			HTLCContractAddress: getEnv("EVM_HTLC_CONTRACT", ""),
			CounterpartyAddress: getEnv("EVM_COUNTERPARTY_ADDRESS", ""),
			StartBlock:          uint64(getEnvInt("EVM_START_BLOCK", 0)),
			LogBlockRange:       uint64(getEnvInt("EVM_LOG_BLOCK_RANGE", 2000)),
		},
		Cosmos: CosmosChainConfig{
			ChainID:               getEnv("COSMOS_CHAIN_ID", "theta-testnet-001"),
			RPCEndpoint:           getEnv("COSMOS_RPC_ENDPOINT", ""),
			RESTEndpoint:          getEnv("COSMOS_REST_ENDPOINT", ""),
			EscrowContractAddress: getEnv("COSMOS_ESCROW_CONTRACT", ""),
			CounterpartyAddress:   getEnv("COSMOS_COUNTERPARTY_ADDRESS", ""),
			Bech32Prefix:          getEnv("COSMOS_BECH32_PREFIX", "cosmos"),
			CoinType:              uint32(getEnvInt("COSMOS_COIN_TYPE", 118)),
			FeeDenom:              getEnv("COSMOS_FEE_DENOM", "uatom"),
			GasPrice:              getEnvFloat("COSMOS_GAS_PRICE", 0.025),
			GasLimit:              uint64(getEnvInt("COSMOS_GAS_LIMIT", 500000)),
		},
		Operator: OperatorConfig{
			EVMPrivateKey:  getEnv("OPERATOR_EVM_PRIVATE_KEY", ""),
			CosmosMnemonic: getEnv("OPERATOR_COSMOS_MNEMONIC", ""),
		},
		Fee: FeeConfig{
			ChainID:   getEnv("FEE_CHAIN_ID", ""),
			Denom:     getEnv("FEE_DENOM", "ETH"),
			Amount:    feeAmount,
			Recipient: getEnv("FEE_RECIPIENT", ""),
		},
		Swap: SwapConfig{
			MinTimelock:         getEnvDuration("SWAP_MIN_TIMELOCK", 30*time.Minute),
			MaxTimelock:         getEnvDuration("SWAP_MAX_TIMELOCK", 48*time.Hour),
			SafetyMargin:        getEnvDuration("SWAP_SAFETY_MARGIN", 30*time.Minute),
			MinClaimWindow:      getEnvDuration("SWAP_MIN_CLAIM_WINDOW", 10*time.Minute),
			TxTimeout:           getEnvDuration("SWAP_TX_TIMEOUT", 2*time.Minute),
			ReceiptPollInterval: getEnvDuration("SWAP_RECEIPT_POLL_INTERVAL", 2*time.Second),
			PollInterval:        getEnvDuration("SWAP_POLL_INTERVAL", 5*time.Second),
			RetryInitial:        getEnvDuration("SWAP_RETRY_INITIAL", 5*time.Second),
			RetryMax:            getEnvDuration("SWAP_RETRY_MAX", 5*time.Minute),
			ReconcileInterval:   getEnvDuration("SWAP_RECONCILE_INTERVAL", time.Minute),
			RevealMode:          getEnv("SWAP_REVEAL_MODE", RevealAuto),
		},
		Quote: QuoteConfig{
			Endpoint: getEnv("QUOTE_API_ENDPOINT", ""),
			Timeout:  getEnvDuration("QUOTE_API_TIMEOUT", 10*time.Second),
		},
		Assets: make(map[string]AssetConfig),
	}

	if cfg.Fee.ChainID == "" {
		cfg.Fee.ChainID = cfg.EVM.ChainID
	}

	loadDefaultAssets(cfg)

	if path := getEnv("CONFIG_FILE", ""); path != "" {
		if err := ApplyFile(cfg, path); err != nil {
			return nil, err
		}
	}
	restrictAssets(cfg, splitAndTrim(getEnv("ENABLED_ASSETS", ""), ","))

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// loadDefaultAssets registers the native assets of both chains
func loadDefaultAssets(cfg *Config) {
	cfg.Assets["ETH"] = AssetConfig{
		Symbol:   "ETH",
		ChainID:  cfg.EVM.ChainID,
		Denom:    "ETH",
		Decimals: 18,
		Native:   true,
	}
	cfg.Assets["ATOM"] = AssetConfig{
		Symbol:   "ATOM",
		ChainID:  cfg.Cosmos.ChainID,
		Denom:    getEnv("COSMOS_NATIVE_DENOM", "uatom"),
		Decimals: 6,
		Native:   true,
	}
	if usdc := getEnv("EVM_USDC_ADDRESS", ""); usdc != "" {
		cfg.Assets["USDC"] = AssetConfig{
			Symbol:   "USDC",
			ChainID:  cfg.EVM.ChainID,
			Denom:    usdc,
			Decimals: 6,
		}
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	switch c.Storage {
	case StoragePostgres:
		if c.Database.Host == "" {
			return fmt.Errorf("database host is required")
		}
	case StorageMemory:
	default:
		return fmt.Errorf("unknown storage backend: %s", c.Storage)
	}

	if c.EVM.ChainID == "" || c.Cosmos.ChainID == "" {
		return fmt.Errorf("both chain IDs are required")
	}
	if c.EVM.ChainID == c.Cosmos.ChainID {
		return fmt.Errorf("chain IDs must differ: %s", c.EVM.ChainID)
	}

	switch c.ChainMode {
	case ChainModeLive:
		if c.EVM.RPCEndpoint == "" {
			return fmt.Errorf("EVM_RPC_ENDPOINT is required")
		}
		if c.EVM.HTLCContractAddress == "" {
			return fmt.Errorf("EVM_HTLC_CONTRACT is required")
		}
		if c.Cosmos.RPCEndpoint == "" {
			return fmt.Errorf("COSMOS_RPC_ENDPOINT is required")
		}
		if c.Cosmos.EscrowContractAddress == "" {
			return fmt.Errorf("COSMOS_ESCROW_CONTRACT is required")
		}
		if c.Operator.EVMPrivateKey == "" {
			return fmt.Errorf("operator EVM private key is required")
		}
		if c.Operator.CosmosMnemonic == "" {
			return fmt.Errorf("operator Cosmos mnemonic is required")
		}
		if c.Fee.Recipient == "" {
			return fmt.Errorf("FEE_RECIPIENT is required")
		}
	case ChainModeSimulated:
	default:
		return fmt.Errorf("unknown chain mode: %s", c.ChainMode)
	}

	if c.Fee.ChainID != c.EVM.ChainID && c.Fee.ChainID != c.Cosmos.ChainID {
		return fmt.Errorf("fee chain %s is not configured", c.Fee.ChainID)
	}
	if c.Fee.Amount == nil || c.Fee.Amount.Sign() < 0 {
		return fmt.Errorf("fee amount must not be negative")
	}

	if c.Swap.MinTimelock <= 0 {
		return fmt.Errorf("minimum timelock must be positive")
	}
	if c.Swap.SafetyMargin <= 0 {
		return fmt.Errorf("safety margin must be positive")
	}
	if c.Swap.MinClaimWindow < 0 || c.Swap.MinClaimWindow >= c.Swap.MinTimelock {
		return fmt.Errorf("minimum claim window %s must be below the minimum timelock %s",
			c.Swap.MinClaimWindow, c.Swap.MinTimelock)
	}
	if c.Swap.MaxTimelock < c.Swap.MinTimelock+c.Swap.SafetyMargin {
		return fmt.Errorf("maximum timelock %s is below minimum plus safety margin", c.Swap.MaxTimelock)
	}
	if c.Swap.RevealMode != RevealAuto && c.Swap.RevealMode != RevealManual {
		return fmt.Errorf("unknown reveal mode: %s", c.Swap.RevealMode)
	}

	if len(c.Assets) == 0 {
		return fmt.Errorf("at least one asset must be configured")
	}
	for symbol, asset := range c.Assets {
		if asset.ChainID != c.EVM.ChainID && asset.ChainID != c.Cosmos.ChainID {
			return fmt.Errorf("asset %s references unknown chain %s", symbol, asset.ChainID)
		}
		if asset.Decimals < 0 || asset.Decimals > 36 {
			return fmt.Errorf("asset %s has invalid decimals %d", symbol, asset.Decimals)
		}
	}

	return nil
}

// ChainKind returns "evm" or "cosmos" for a configured chain ID
func (c *Config) ChainKind(chainID string) (string, bool) {
	switch chainID {
	case c.EVM.ChainID:
		return "evm", true
	case c.Cosmos.ChainID:
		return "cosmos", true
	}
	return "", false
}

// CounterpartyAddress returns the address receiving source escrows on chainID
func (c *Config) CounterpartyAddress(chainID string) string {
	switch chainID {
	case c.EVM.ChainID:
		return c.EVM.CounterpartyAddress
	case c.Cosmos.ChainID:
		return c.Cosmos.CounterpartyAddress
	}
	return ""
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

// splitAndTrim splits a separated string and drops empty parts
func splitAndTrim(s, sep string) []string {
	if s == "" {
		return nil
	}
	parts := make([]string, 0)
	for _, part := range strings.Split(s, sep) {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			parts = append(parts, trimmed)
		}
	}
	return parts
}
