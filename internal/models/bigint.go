package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"math/big"
)

// BigInt is an arbitrary-precision amount in an asset's smallest unit.
// It is stored as NUMERIC and encoded as a decimal JSON string.
type BigInt struct {
	*big.Int
}

// NewBigInt wraps i
func NewBigInt(i *big.Int) BigInt {
	return BigInt{Int: i}
}

// BigIntFromInt64 wraps an int64
func BigIntFromInt64(v int64) BigInt {
	return BigInt{Int: big.NewInt(v)}
}

// ParseBigInt parses a base-10 integer
func ParseBigInt(s string) (BigInt, error) {
	i, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return BigInt{}, fmt.Errorf("invalid integer: %q", s)
	}
	return BigInt{Int: i}, nil
}

// IsPositive reports whether the amount is set and greater than zero
func (b BigInt) IsPositive() bool {
	return b.Int != nil && b.Int.Sign() > 0
}

// Copy returns an independent copy
func (b BigInt) Copy() BigInt {
	if b.Int == nil {
		return BigInt{}
	}
	return BigInt{Int: new(big.Int).Set(b.Int)}
}

// OrZero returns the wrapped value, or zero when unset
func (b BigInt) OrZero() *big.Int {
	if b.Int == nil {
		return new(big.Int)
	}
	return b.Int
}

func (b BigInt) String() string {
	if b.Int == nil {
		return "0"
	}
	return b.Int.String()
}

// Value implements driver.Valuer
func (b BigInt) Value() (driver.Value, error) {
	if b.Int == nil {
		return "0", nil
	}
	return b.Int.String(), nil
}

// Scan implements sql.Scanner
func (b *BigInt) Scan(src interface{}) error {
	var s string
	switch v := src.(type) {
	case nil:
		b.Int = nil
		return nil
	case []byte:
		s = string(v)
	case string:
		s = v
	case int64:
		b.Int = big.NewInt(v)
		return nil
	default:
		return fmt.Errorf("cannot scan %T into BigInt", src)
	}
	i, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return fmt.Errorf("invalid NUMERIC value: %q", s)
	}
	b.Int = i
	return nil
}

func (b BigInt) MarshalJSON() ([]byte, error) {
	return json.Marshal(b.String())
}

func (b *BigInt) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("amount must be a string: %w", err)
	}
	parsed, err := ParseBigInt(s)
	if err != nil {
		return err
	}
	*b = parsed
	return nil
}
