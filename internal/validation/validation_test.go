package validation

import (
	"bytes"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/btcsuite/btcutil/bech32"

	"atomicswap/internal/config"
	"atomicswap/internal/swaperr"
)

const (
	evmOperator     = "0x1111111111111111111111111111111111111111"
	evmCounterparty = "0x2222222222222222222222222222222222222222"
)

func bech32Addr(t *testing.T, prefix string, fill byte) string {
	t.Helper()
	conv, err := bech32.ConvertBits(bytes.Repeat([]byte{fill}, 20), 8, 5, true)
	if err != nil {
		t.Fatalf("ConvertBits: %v", err)
	}
	addr, err := bech32.Encode(prefix, conv)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	return addr
}

func testConfig() *config.Config {
	return &config.Config{
		EVM:    config.EVMChainConfig{ChainID: "evm-1", CounterpartyAddress: evmCounterparty},
		Cosmos: config.CosmosChainConfig{ChainID: "cosmos-1", Bech32Prefix: "cosmos"},
		Swap: config.SwapConfig{
			MinTimelock:  30 * time.Minute,
			MaxTimelock:  24 * time.Hour,
			SafetyMargin: 30 * time.Minute,
		},
		Assets: map[string]config.AssetConfig{
			"ETH":  {Symbol: "ETH", ChainID: "evm-1", Denom: "ETH", Decimals: 18, Native: true},
			"USDC": {Symbol: "USDC", ChainID: "evm-1", Denom: "0x1c7D4B196Cb0C7B01d743Fbc6116a902379C7238", Decimals: 6},
			"ATOM": {Symbol: "ATOM", ChainID: "cosmos-1", Denom: "uatom", Decimals: 6, Native: true},
		},
	}
}

func isCode(err error, code string) bool {
	return errors.Is(err, &swaperr.Error{Kind: swaperr.KindInvalidParameters, Code: code})
}

func TestValidateAddress(t *testing.T) {
	v := NewValidator(testConfig())
	good := bech32Addr(t, "cosmos", 7)

	tests := []struct {
		name    string
		chainID string
		addr    string
		code    string
	}{
		{"valid evm", "evm-1", evmOperator, ""},
		{"empty evm", "evm-1", "", swaperr.CodeZeroAddress},
		{"zero evm", "evm-1", "0x0000000000000000000000000000000000000000", swaperr.CodeZeroAddress},
		{"short evm", "evm-1", "0x1234", swaperr.CodeMalformedAddress},
		{"valid cosmos", "cosmos-1", good, ""},
		{"wrong prefix", "cosmos-1", bech32Addr(t, "osmo", 7), swaperr.CodeMalformedAddress},
		{"zero cosmos", "cosmos-1", bech32Addr(t, "cosmos", 0), swaperr.CodeZeroAddress},
		{"garbage cosmos", "cosmos-1", "cosmos1notanaddress", swaperr.CodeMalformedAddress},
		{"evm address on cosmos", "cosmos-1", evmOperator, swaperr.CodeMalformedAddress},
		{"unknown chain", "other", evmOperator, swaperr.CodeMalformedAddress},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.ValidateAddress(tt.chainID, tt.addr)
			if tt.code == "" {
				if err != nil {
					t.Errorf("unexpected error: %v", err)
				}
				return
			}
			if !isCode(err, tt.code) {
				t.Errorf("ValidateAddress() error = %v, want code %s", err, tt.code)
			}
		})
	}
}

func TestValidateTimelock(t *testing.T) {
	v := NewValidator(testConfig())

	tests := []struct {
		name string
		d    time.Duration
		code string
	}{
		{"minimum", 30 * time.Minute, ""},
		{"just below minimum", 30*time.Minute - time.Second, swaperr.CodeTimelockTooShort},
		{"maximum with margin", 23*time.Hour + 30*time.Minute, ""},
		{"over maximum", 24 * time.Hour, swaperr.CodeTimelockTooLong},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.ValidateTimelock(tt.d)
			if tt.code == "" {
				if err != nil {
					t.Errorf("unexpected error: %v", err)
				}
				return
			}
			if !isCode(err, tt.code) {
				t.Errorf("ValidateTimelock() error = %v, want code %s", err, tt.code)
			}
		})
	}
}

func TestValidateSwap(t *testing.T) {
	v := NewValidator(testConfig())
	operatorCosmos := bech32Addr(t, "cosmos", 1)
	recipient := bech32Addr(t, "cosmos", 9)
	initiators := map[string]string{"evm-1": evmOperator, "cosmos-1": operatorCosmos}

	valid := SwapRequest{
		FromAsset:        "eth",
		ToAsset:          "ATOM",
		Amount:           big.NewInt(1_000),
		ToAmount:         big.NewInt(2_000),
		Recipient:        recipient,
		TimelockDuration: time.Hour,
	}

	if err := v.ValidateSwap(valid, initiators); err != nil {
		t.Fatalf("valid request rejected: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(r *SwapRequest)
		codes  []string
	}{
		{"unknown asset", func(r *SwapRequest) { r.ToAsset = "DOGE" }, []string{swaperr.CodeUnknownAsset}},
		{"same chain", func(r *SwapRequest) { r.ToAsset = "USDC" }, []string{swaperr.CodeSameChain}},
		{"self swap", func(r *SwapRequest) { r.Recipient = operatorCosmos }, []string{swaperr.CodeSelfSwap}},
		{"zero amount and short timelock", func(r *SwapRequest) {
			r.Amount = big.NewInt(0)
			r.TimelockDuration = time.Minute
		}, []string{swaperr.CodeNonPositiveAmount, swaperr.CodeTimelockTooShort}},
		{"missing destination amount", func(r *SwapRequest) { r.ToAmount = nil }, []string{swaperr.CodeNonPositiveAmount}},
		{"malformed recipient", func(r *SwapRequest) { r.Recipient = "cosmos1xyz" }, []string{swaperr.CodeMalformedAddress}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := valid
			tt.mutate(&req)
			err := v.ValidateSwap(req, initiators)
			if err == nil {
				t.Fatal("expected error")
			}
			if !errors.Is(err, swaperr.ErrInvalidParameters) {
				t.Errorf("expected InvalidParameters kind, got %v", err)
			}
			for _, code := range tt.codes {
				if !isCode(err, code) {
					t.Errorf("error %v does not carry code %s", err, code)
				}
			}
		})
	}
}

func TestValidateSwapCounterpartyIsInitiator(t *testing.T) {
	cfg := testConfig()
	cfg.EVM.CounterpartyAddress = evmOperator
	v := NewValidator(cfg)

	req := SwapRequest{
		FromAsset:        "ETH",
		ToAsset:          "ATOM",
		Amount:           big.NewInt(1),
		ToAmount:         big.NewInt(1),
		Recipient:        bech32Addr(t, "cosmos", 9),
		TimelockDuration: time.Hour,
	}
	err := v.ValidateSwap(req, map[string]string{"evm-1": evmOperator, "cosmos-1": bech32Addr(t, "cosmos", 1)})
	if !isCode(err, swaperr.CodeSelfSwap) {
		t.Errorf("expected self swap error, got %v", err)
	}
}
