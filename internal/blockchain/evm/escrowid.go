package evm

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"

	"atomicswap/internal/hashlock"
)

// ComputeSwapID derives the id the HTLC contract assigns to a new swap
//
// swapId = keccak256(contract ++ initiator ++ participant ++ hashlock ++ uint256(timelock))
//
// The contract address is part of the preimage so ids never collide across
// deployments. Hashlocks are single-use per contract, so the id is unique
// for the contract's lifetime.
func ComputeSwapID(
	contract common.Address,
	initiator common.Address,
	participant common.Address,
	hl hashlock.Hash,
	timelock int64,
) (common.Hash, error) {
	if contract == (common.Address{}) {
		return common.Hash{}, fmt.Errorf("contract address cannot be zero")
	}
	if initiator == (common.Address{}) || participant == (common.Address{}) {
		return common.Hash{}, fmt.Errorf("initiator and participant cannot be zero")
	}
	if hl.IsZero() {
		return common.Hash{}, fmt.Errorf("hashlock cannot be empty")
	}
	if timelock <= 0 {
		return common.Hash{}, fmt.Errorf("timelock must be positive")
	}

	// 20 + 20 + 20 + 32 + 32 bytes
	data := make([]byte, 0, 124)
	data = append(data, contract.Bytes()...)
	data = append(data, initiator.Bytes()...)
	data = append(data, participant.Bytes()...)
	data = append(data, hl[:]...)
	data = append(data, common.LeftPadBytes(big.NewInt(timelock).Bytes(), 32)...)

	return crypto.Keccak256Hash(data), nil
}

// VerifySwapID reports whether id matches the terms it claims to commit to
func VerifySwapID(
	id common.Hash,
	contract common.Address,
	initiator common.Address,
	participant common.Address,
	hl hashlock.Hash,
	timelock int64,
) (bool, error) {
	computed, err := ComputeSwapID(contract, initiator, participant, hl, timelock)
	if err != nil {
		return false, err
	}
	return id == computed, nil
}

// parseSwapID decodes a 0x-prefixed 32-byte swap id
func parseSwapID(s string) (common.Hash, error) {
	b, err := hexutil.Decode("0x" + strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X"))
	if err != nil || len(b) != common.HashLength {
		return common.Hash{}, fmt.Errorf("invalid swap id %q", s)
	}
	return common.BytesToHash(b), nil
}
