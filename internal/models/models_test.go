package models

import (
	"encoding/json"
	"math/big"
	"testing"
)

func TestSwapStatusTransitions(t *testing.T) {
	tests := []struct {
		from SwapStatus
		to   SwapStatus
		want bool
	}{
		{SwapStatusInitiated, SwapStatusSourceLocked, true},
		{SwapStatusInitiated, SwapStatusBothLocked, false},
		{SwapStatusInitiated, SwapStatusFailed, true},
		{SwapStatusSourceLocked, SwapStatusBothLocked, true},
		{SwapStatusSourceLocked, SwapStatusRefunding, true},
		{SwapStatusBothLocked, SwapStatusSecretRevealed, true},
		{SwapStatusBothLocked, SwapStatusRefunding, true},
		{SwapStatusBothLocked, SwapStatusSourceLocked, false},
		{SwapStatusSecretRevealed, SwapStatusCompleted, true},
		{SwapStatusSecretRevealed, SwapStatusRefunding, false},
		{SwapStatusRefunding, SwapStatusRefunded, true},
		{SwapStatusRefunding, SwapStatusCompleted, false},
		{SwapStatusCompleted, SwapStatusFailed, false},
		{SwapStatusRefunded, SwapStatusRefunding, false},
		{SwapStatusFailed, SwapStatusInitiated, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			if got := tt.from.CanTransitionTo(tt.to); got != tt.want {
				t.Errorf("CanTransitionTo() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNonTerminalStatuses(t *testing.T) {
	for _, s := range NonTerminalStatuses() {
		if s.IsTerminal() {
			t.Errorf("%s listed as non-terminal", s)
		}
		if !s.IsValid() {
			t.Errorf("%s is not valid", s)
		}
	}
}

func TestSwapClone(t *testing.T) {
	swap := &Swap{
		ID:     "s1",
		Secret: StringPtr("aa"),
		Source: EscrowRef{Role: LegSource, Amount: BigIntFromInt64(100)},
	}

	clone := swap.Clone()
	*clone.Secret = "bb"
	clone.Source.Amount.SetInt64(5)

	if *swap.Secret != "aa" {
		t.Error("clone shares secret pointer")
	}
	if swap.Source.Amount.Int64() != 100 {
		t.Error("clone shares amount")
	}
}

func TestLegByEscrow(t *testing.T) {
	swap := &Swap{
		Source:      EscrowRef{Role: LegSource, ChainID: "evm", EscrowID: "0x01"},
		Destination: EscrowRef{Role: LegDestination, ChainID: "cosmos"},
	}

	if leg := swap.LegByEscrow("evm", "0x01"); leg == nil || leg.Role != LegSource {
		t.Error("expected source leg")
	}
	if leg := swap.LegByEscrow("cosmos", ""); leg != nil {
		t.Error("unset escrow id must not match")
	}
}

func TestBigIntJSONAndScan(t *testing.T) {
	v := NewBigInt(new(big.Int).Exp(big.NewInt(10), big.NewInt(30), nil))

	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	if string(data) != `"1000000000000000000000000000000"` {
		t.Errorf("Marshal() = %s", data)
	}

	var scanned BigInt
	if err := scanned.Scan([]byte("1000000000000000000000000000000")); err != nil {
		t.Fatalf("Scan() error = %v", err)
	}
	if scanned.Cmp(v.Int) != 0 {
		t.Errorf("Scan() = %s", scanned)
	}

	if err := scanned.Scan("not-a-number"); err == nil {
		t.Error("expected error for invalid NUMERIC")
	}

	var zero BigInt
	if zero.IsPositive() {
		t.Error("unset amount must not be positive")
	}
	if zero.String() != "0" {
		t.Errorf("String() = %s", zero.String())
	}
}
