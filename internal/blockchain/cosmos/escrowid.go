package cosmos

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"

	"github.com/btcsuite/btcutil/bech32"

	"atomicswap/internal/hashlock"
)

// escrowIDDomain separates escrow ids from other sha256 preimages
const escrowIDDomain = "htlc_swap"

// ComputeEscrowID derives the id under which the operator creates an escrow
// in the CosmWasm contract. The contract takes caller-chosen ids, so the id
// is derived from the swap terms and can be recomputed after a restart.
//
// id = hex(sha256("htlc_swap" ++ contract_canonical ++ creator_canonical ++ hashlock ++ timelock))
//
// The timelock is encoded as a big-endian uint64.
func ComputeEscrowID(
	contractAddress string,
	creatorAddress string,
	hl hashlock.Hash,
	timelock int64,
) (string, error) {
	if contractAddress == "" {
		return "", fmt.Errorf("contract address cannot be empty")
	}
	if creatorAddress == "" {
		return "", fmt.Errorf("creator address cannot be empty")
	}
	if hl.IsZero() {
		return "", fmt.Errorf("hashlock cannot be empty")
	}
	if timelock <= 0 {
		return "", fmt.Errorf("timelock must be positive")
	}

	contractCanonical, err := canonicalAddress(contractAddress)
	if err != nil {
		return "", fmt.Errorf("failed to decode contract address: %w", err)
	}
	creatorCanonical, err := canonicalAddress(creatorAddress)
	if err != nil {
		return "", fmt.Errorf("failed to decode creator address: %w", err)
	}

	data := []byte(escrowIDDomain)
	data = append(data, contractCanonical...)
	data = append(data, creatorCanonical...)
	data = append(data, hl[:]...)

	timelockBytes := make([]byte, 8)
	binary.BigEndian.PutUint64(timelockBytes, uint64(timelock))
	data = append(data, timelockBytes...)

	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// VerifyEscrowID verifies that an id matches the terms it claims to commit to
func VerifyEscrowID(
	escrowID string,
	contractAddress string,
	creatorAddress string,
	hl hashlock.Hash,
	timelock int64,
) (bool, error) {
	computed, err := ComputeEscrowID(contractAddress, creatorAddress, hl, timelock)
	if err != nil {
		return false, err
	}
	return escrowID == computed, nil
}

// canonicalAddress returns the raw bytes behind a bech32 address
func canonicalAddress(address string) ([]byte, error) {
	_, data5bit, err := bech32.Decode(address)
	if err != nil {
		return nil, err
	}
	return bech32.ConvertBits(data5bit, 5, 8, false)
}

// encodeAddress renders raw address bytes as bech32 with prefix
func encodeAddress(prefix string, raw []byte) (string, error) {
	data5bit, err := bech32.ConvertBits(raw, 8, 5, true)
	if err != nil {
		return "", fmt.Errorf("failed to convert address bits: %w", err)
	}
	return bech32.Encode(prefix, data5bit)
}
