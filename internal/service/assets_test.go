package service

import (
	"math/big"
	"testing"

	"github.com/shopspring/decimal"

	"atomicswap/internal/config"
)

var (
	testETH  = config.AssetConfig{Symbol: "ETH", Decimals: 18}
	testATOM = config.AssetConfig{Symbol: "ATOM", Decimals: 6}
)

func TestToBaseUnits(t *testing.T) {
	tests := []struct {
		name    string
		asset   config.AssetConfig
		amount  string
		want    string
		wantErr bool
	}{
		{"whole", testATOM, "2", "2000000", false},
		{"fraction", testATOM, "1.5", "1500000", false},
		{"smallest unit", testATOM, "0.000001", "1", false},
		{"too precise", testATOM, "0.0000001", "", true},
		{"eth", testETH, "0.01", "10000000000000000", false},
		{"garbage", testETH, "abc", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ToBaseUnits(tt.asset, tt.amount)
			if tt.wantErr {
				if err == nil {
					t.Errorf("expected error, got %s", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got.String() != tt.want {
				t.Errorf("ToBaseUnits() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestFromBaseUnits(t *testing.T) {
	if got := FromBaseUnits(testATOM, big.NewInt(1_500_000)); got != "1.5" {
		t.Errorf("FromBaseUnits() = %s, want 1.5", got)
	}
	if got := FromBaseUnits(testATOM, nil); got != "0" {
		t.Errorf("FromBaseUnits(nil) = %s, want 0", got)
	}
}

func TestConvertAmount(t *testing.T) {
	// 0.01 ETH at 250 ATOM/ETH = 2.5 ATOM
	amount, _ := new(big.Int).SetString("10000000000000000", 10)
	got := ConvertAmount(testETH, testATOM, amount, decimal.RequireFromString("250"))
	if got.String() != "2500000" {
		t.Errorf("ConvertAmount() = %s, want 2500000", got)
	}

	// truncates below the smallest unit
	got = ConvertAmount(testATOM, testATOM, big.NewInt(1), decimal.RequireFromString("0.5"))
	if got.Sign() != 0 {
		t.Errorf("ConvertAmount() = %s, want 0", got)
	}
}
