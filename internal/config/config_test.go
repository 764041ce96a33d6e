package config

import (
	"math/big"
	"strings"
	"testing"
	"time"
)

func validConfig() *Config {
	cfg := &Config{
		ChainMode: ChainModeSimulated,
		Storage:   StorageMemory,
		Server:    ServerConfig{Port: 8080},
		EVM:       EVMChainConfig{ChainID: "evm-sim"},
		Cosmos:    CosmosChainConfig{ChainID: "cosmos-sim"},
		Fee:       FeeConfig{ChainID: "evm-sim", Denom: "ETH", Amount: big.NewInt(1000)},
		Swap: SwapConfig{
			MinTimelock:  30 * time.Minute,
			MaxTimelock:  48 * time.Hour,
			SafetyMargin: 30 * time.Minute,
			RevealMode:   RevealAuto,
		},
		Assets: make(map[string]AssetConfig),
	}
	loadDefaultAssets(cfg)
	return cfg
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"valid", func(c *Config) {}, ""},
		{"bad port", func(c *Config) { c.Server.Port = 0 }, "invalid server port"},
		{"same chain ids", func(c *Config) { c.Cosmos.ChainID = "evm-sim" }, "chain IDs must differ"},
		{"unknown fee chain", func(c *Config) { c.Fee.ChainID = "other" }, "fee chain"},
		{"max below min plus margin", func(c *Config) { c.Swap.MaxTimelock = 45 * time.Minute }, "maximum timelock"},
		{"claim window equals min timelock", func(c *Config) { c.Swap.MinClaimWindow = 30 * time.Minute }, "minimum claim window"},
		{"claim window above min timelock", func(c *Config) { c.Swap.MinClaimWindow = time.Hour }, "minimum claim window"},
		{"claim window below min timelock", func(c *Config) { c.Swap.MinClaimWindow = 10 * time.Minute }, ""},
		{"bad reveal mode", func(c *Config) { c.Swap.RevealMode = "sometimes" }, "reveal mode"},
		{"live mode needs endpoints", func(c *Config) { c.ChainMode = ChainModeLive }, "EVM_RPC_ENDPOINT"},
		{"postgres needs host", func(c *Config) { c.Storage = StoragePostgres }, "database host"},
		{"asset on unknown chain", func(c *Config) {
			c.Assets["DOGE"] = AssetConfig{Symbol: "DOGE", ChainID: "dogechain"}
		}, "unknown chain"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()

			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoadConfigFromEnv(t *testing.T) {
	t.Setenv("CHAIN_MODE", ChainModeSimulated)
	t.Setenv("STORAGE", StorageMemory)
	t.Setenv("EVM_CHAIN_ID", "evm-sim")
	t.Setenv("COSMOS_CHAIN_ID", "cosmos-sim")
	t.Setenv("SWAP_SAFETY_MARGIN", "45m")
	t.Setenv("FEE_AMOUNT", "5000")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}

	if cfg.Swap.SafetyMargin != 45*time.Minute {
		t.Errorf("SafetyMargin = %s, want 45m", cfg.Swap.SafetyMargin)
	}
	if cfg.Fee.ChainID != "evm-sim" {
		t.Errorf("Fee.ChainID = %s, want evm-sim", cfg.Fee.ChainID)
	}
	if cfg.Fee.Amount.Int64() != 5000 {
		t.Errorf("Fee.Amount = %s, want 5000", cfg.Fee.Amount)
	}
	if cfg.Assets["ATOM"].ChainID != "cosmos-sim" {
		t.Errorf("ATOM chain = %s", cfg.Assets["ATOM"].ChainID)
	}
	if kind, _ := cfg.ChainKind("cosmos-sim"); kind != "cosmos" {
		t.Errorf("ChainKind() = %s", kind)
	}
}

func TestApplyYAML(t *testing.T) {
	cfg := validConfig()
	data := []byte(`
assets:
  - symbol: usdc
    chain: evm
    denom: "0x1c7D4B196Cb0C7B01d743Fbc6116a902379C7238"
    decimals: 6
swap:
  safety_margin: 1h
  reveal_mode: manual
fee:
  chain: cosmos
  denom: uatom
  amount: "2500"
enabled_assets: [ETH, USDC, ATOM]
`)

	if err := applyYAML(cfg, data); err != nil {
		t.Fatalf("applyYAML() error = %v", err)
	}

	usdc, ok := cfg.Assets["USDC"]
	if !ok {
		t.Fatal("USDC not registered")
	}
	if usdc.ChainID != "evm-sim" || usdc.Decimals != 6 || usdc.Native {
		t.Errorf("unexpected USDC config: %+v", usdc)
	}
	if cfg.Swap.SafetyMargin != time.Hour {
		t.Errorf("SafetyMargin = %s", cfg.Swap.SafetyMargin)
	}
	if cfg.Swap.RevealMode != RevealManual {
		t.Errorf("RevealMode = %s", cfg.Swap.RevealMode)
	}
	if cfg.Fee.ChainID != "cosmos-sim" || cfg.Fee.Amount.Int64() != 2500 {
		t.Errorf("unexpected fee config: %+v", cfg.Fee)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}
}

func TestApplyYAMLRejectsUnknownKeys(t *testing.T) {
	cfg := validConfig()
	if err := applyYAML(cfg, []byte("swapp:\n  min_timelock: 1m\n")); err == nil {
		t.Error("expected error for unknown key")
	}
}

func TestRestrictAssets(t *testing.T) {
	cfg := validConfig()
	restrictAssets(cfg, []string{"eth"})
	if len(cfg.Assets) != 1 {
		t.Errorf("expected 1 asset, got %d", len(cfg.Assets))
	}
	if _, ok := cfg.Assets["ETH"]; !ok {
		t.Error("ETH should be kept")
	}
}

func TestSplitAndTrim(t *testing.T) {
	got := splitAndTrim(" a, b ,,c ", ",")
	if strings.Join(got, "|") != "a|b|c" {
		t.Errorf("splitAndTrim() = %v", got)
	}
	if splitAndTrim("", ",") != nil {
		t.Error("expected nil for empty input")
	}
}
