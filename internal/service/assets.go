package service

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/shopspring/decimal"

	"atomicswap/internal/config"
)

func normalizeSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

// ToBaseUnits converts a human amount ("1.5") into the asset's smallest unit
func ToBaseUnits(asset config.AssetConfig, amount string) (*big.Int, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(amount))
	if err != nil {
		return nil, fmt.Errorf("invalid amount %q: %w", amount, err)
	}
	scaled := d.Shift(asset.Decimals)
	if !scaled.IsInteger() {
		return nil, fmt.Errorf("amount %s has more than %d decimals for %s", amount, asset.Decimals, asset.Symbol)
	}
	return scaled.BigInt(), nil
}

// FromBaseUnits formats a smallest-unit amount as a human decimal string
func FromBaseUnits(asset config.AssetConfig, amount *big.Int) string {
	if amount == nil {
		return "0"
	}
	return decimal.NewFromBigInt(amount, -asset.Decimals).String()
}

// ConvertAmount sizes the destination amount for a source amount at rate,
// where rate is destination units per source unit in human terms. The result
// is truncated to the destination's smallest unit.
func ConvertAmount(from, to config.AssetConfig, amount *big.Int, rate decimal.Decimal) *big.Int {
	human := decimal.NewFromBigInt(amount, -from.Decimals)
	return human.Mul(rate).Shift(to.Decimals).Truncate(0).BigInt()
}
