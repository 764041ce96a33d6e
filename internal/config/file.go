package config

import (
	"fmt"
	"math/big"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v2"
)

// fileConfig is the YAML overlay layout
type fileConfig struct {
	Assets []struct {
		Symbol   string `yaml:"symbol"`
		Chain    string `yaml:"chain"` // "evm", "cosmos" or a chain ID
		Denom    string `yaml:"denom"`
		Decimals int32  `yaml:"decimals"`
		Native   bool   `yaml:"native"`
	} `yaml:"assets"`
	Swap struct {
		MinTimelock       string `yaml:"min_timelock"`
		MaxTimelock       string `yaml:"max_timelock"`
		SafetyMargin      string `yaml:"safety_margin"`
		MinClaimWindow    string `yaml:"min_claim_window"`
		ReconcileInterval string `yaml:"reconcile_interval"`
		RevealMode        string `yaml:"reveal_mode"`
	} `yaml:"swap"`
	Fee struct {
		Chain     string `yaml:"chain"`
		Denom     string `yaml:"denom"`
		Amount    string `yaml:"amount"`
		Recipient string `yaml:"recipient"`
	} `yaml:"fee"`
	EnabledAssets []string `yaml:"enabled_assets"`
}

// ApplyFile overlays settings from a YAML file onto cfg
func ApplyFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	return applyYAML(cfg, data)
}

func applyYAML(cfg *Config, data []byte) error {
	var fc fileConfig
	if err := yaml.UnmarshalStrict(data, &fc); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	for _, a := range fc.Assets {
		if a.Symbol == "" {
			return fmt.Errorf("asset entry without symbol")
		}
		chainID := resolveChain(cfg, a.Chain)
		cfg.Assets[strings.ToUpper(a.Symbol)] = AssetConfig{
			Symbol:   strings.ToUpper(a.Symbol),
			ChainID:  chainID,
			Denom:    a.Denom,
			Decimals: a.Decimals,
			Native:   a.Native,
		}
	}

	durations := []struct {
		raw string
		dst *time.Duration
	}{
		{fc.Swap.MinTimelock, &cfg.Swap.MinTimelock},
		{fc.Swap.MaxTimelock, &cfg.Swap.MaxTimelock},
		{fc.Swap.SafetyMargin, &cfg.Swap.SafetyMargin},
		{fc.Swap.MinClaimWindow, &cfg.Swap.MinClaimWindow},
		{fc.Swap.ReconcileInterval, &cfg.Swap.ReconcileInterval},
	}
	for _, d := range durations {
		if d.raw == "" {
			continue
		}
		parsed, err := time.ParseDuration(d.raw)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", d.raw, err)
		}
		*d.dst = parsed
	}
	if fc.Swap.RevealMode != "" {
		cfg.Swap.RevealMode = fc.Swap.RevealMode
	}

	if fc.Fee.Chain != "" {
		cfg.Fee.ChainID = resolveChain(cfg, fc.Fee.Chain)
	}
	if fc.Fee.Denom != "" {
		cfg.Fee.Denom = fc.Fee.Denom
	}
	if fc.Fee.Recipient != "" {
		cfg.Fee.Recipient = fc.Fee.Recipient
	}
	if fc.Fee.Amount != "" {
		amount, ok := new(big.Int).SetString(fc.Fee.Amount, 10)
		if !ok {
			return fmt.Errorf("invalid fee amount %q", fc.Fee.Amount)
		}
		cfg.Fee.Amount = amount
	}

	restrictAssets(cfg, fc.EnabledAssets)

	return nil
}

// restrictAssets drops every asset not named in enabled; an empty list keeps all
func restrictAssets(cfg *Config, enabled []string) {
	if len(enabled) == 0 {
		return
	}
	keep := make(map[string]bool, len(enabled))
	for _, s := range enabled {
		keep[strings.ToUpper(s)] = true
	}
	for symbol := range cfg.Assets {
		if !keep[symbol] {
			delete(cfg.Assets, symbol)
		}
	}
}

func resolveChain(cfg *Config, chain string) string {
	switch strings.ToLower(chain) {
	case "evm":
		return cfg.EVM.ChainID
	case "cosmos":
		return cfg.Cosmos.ChainID
	}
	return chain
}
