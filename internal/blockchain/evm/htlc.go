package evm

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"atomicswap/internal/chain"
	"atomicswap/internal/escrow"
	"atomicswap/internal/hashlock"
)

// NativeDenom is the denom of the chain's native currency. Any other denom
// is an ERC20 contract address.
const NativeDenom = "ETH"

// HTLCABI is the ABI of the CrossChainSwap HTLC contract. Hashlocks are
// SHA-256 digests of a 32-byte secret. The fee is paid in native currency
// to feeRecipient within the initiating call.
const HTLCABI = `[
	{
		"inputs": [
			{"internalType": "address", "name": "participant", "type": "address"},
			{"internalType": "address", "name": "token", "type": "address"},
			{"internalType": "uint256", "name": "amount", "type": "uint256"},
			{"internalType": "bytes32", "name": "hashlock", "type": "bytes32"},
			{"internalType": "uint256", "name": "timelock", "type": "uint256"},
			{"internalType": "string", "name": "cosmosRecipient", "type": "string"},
			{"internalType": "address", "name": "feeRecipient", "type": "address"},
			{"internalType": "uint256", "name": "fee", "type": "uint256"}
		],
		"name": "initiateCrossChainSwap",
		"outputs": [{"internalType": "bytes32", "name": "swapId", "type": "bytes32"}],
		"stateMutability": "payable",
		"type": "function"
	},
	{
		"inputs": [
			{"internalType": "bytes32", "name": "swapId", "type": "bytes32"},
			{"internalType": "bytes32", "name": "secret", "type": "bytes32"}
		],
		"name": "claimSwap",
		"outputs": [],
		"stateMutability": "nonpayable",
		"type": "function"
	},
	{
		"inputs": [{"internalType": "bytes32", "name": "swapId", "type": "bytes32"}],
		"name": "refundSwap",
		"outputs": [],
		"stateMutability": "nonpayable",
		"type": "function"
	},
	{
		"inputs": [{"internalType": "bytes32", "name": "swapId", "type": "bytes32"}],
		"name": "getSwap",
		"outputs": [
			{"internalType": "address", "name": "initiator", "type": "address"},
			{"internalType": "address", "name": "participant", "type": "address"},
			{"internalType": "address", "name": "token", "type": "address"},
			{"internalType": "uint256", "name": "amount", "type": "uint256"},
			{"internalType": "bytes32", "name": "hashlock", "type": "bytes32"},
			{"internalType": "uint256", "name": "timelock", "type": "uint256"},
			{"internalType": "uint8", "name": "state", "type": "uint8"},
			{"internalType": "bytes32", "name": "secret", "type": "bytes32"},
			{"internalType": "string", "name": "cosmosRecipient", "type": "string"}
		],
		"stateMutability": "view",
		"type": "function"
	},
	{
		"anonymous": false,
		"inputs": [
			{"indexed": true, "internalType": "bytes32", "name": "swapId", "type": "bytes32"},
			{"indexed": true, "internalType": "address", "name": "initiator", "type": "address"},
			{"indexed": true, "internalType": "address", "name": "participant", "type": "address"},
			{"indexed": false, "internalType": "address", "name": "token", "type": "address"},
			{"indexed": false, "internalType": "uint256", "name": "amount", "type": "uint256"},
			{"indexed": false, "internalType": "bytes32", "name": "hashlock", "type": "bytes32"},
			{"indexed": false, "internalType": "uint256", "name": "timelock", "type": "uint256"},
			{"indexed": false, "internalType": "string", "name": "cosmosRecipient", "type": "string"}
		],
		"name": "SwapInitiated",
		"type": "event"
	},
	{
		"anonymous": false,
		"inputs": [
			{"indexed": true, "internalType": "bytes32", "name": "swapId", "type": "bytes32"},
			{"indexed": true, "internalType": "address", "name": "claimer", "type": "address"},
			{"indexed": false, "internalType": "bytes32", "name": "secret", "type": "bytes32"}
		],
		"name": "SwapClaimed",
		"type": "event"
	},
	{
		"anonymous": false,
		"inputs": [
			{"indexed": true, "internalType": "bytes32", "name": "swapId", "type": "bytes32"},
			{"indexed": true, "internalType": "address", "name": "initiator", "type": "address"}
		],
		"name": "SwapRefunded",
		"type": "event"
	}
]`

// Event names of the HTLC contract
const (
	EventSwapInitiated = "SwapInitiated"
	EventSwapClaimed   = "SwapClaimed"
	EventSwapRefunded  = "SwapRefunded"
)

// HTLC encodes calls to and decodes logs of the CrossChainSwap contract
type HTLC struct {
	address common.Address
	abi     abi.ABI
}

// NewHTLC parses the contract ABI
func NewHTLC(address common.Address) (*HTLC, error) {
	parsedABI, err := abi.JSON(strings.NewReader(HTLCABI))
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTLC ABI: %w", err)
	}
	return &HTLC{address: address, abi: parsedABI}, nil
}

// Address returns the contract address
func (h *HTLC) Address() common.Address {
	return h.address
}

// InitiateParams holds the arguments of initiateCrossChainSwap
type InitiateParams struct {
	Participant     common.Address
	Token           common.Address // zero for the native currency
	Amount          *big.Int
	Hashlock        [32]byte
	Timelock        *big.Int
	CosmosRecipient string
	FeeRecipient    common.Address
	Fee             *big.Int
}

// Value returns the native amount sent with the initiating call
func (p InitiateParams) Value() *big.Int {
	value := new(big.Int)
	if p.Fee != nil {
		value.Add(value, p.Fee)
	}
	if p.Token == (common.Address{}) {
		value.Add(value, p.Amount)
	}
	return value
}

// PackInitiate encodes an initiateCrossChainSwap call
func (h *HTLC) PackInitiate(p InitiateParams) ([]byte, error) {
	fee := p.Fee
	if fee == nil {
		fee = new(big.Int)
	}
	data, err := h.abi.Pack("initiateCrossChainSwap",
		p.Participant, p.Token, p.Amount, p.Hashlock, p.Timelock, p.CosmosRecipient, p.FeeRecipient, fee)
	if err != nil {
		return nil, fmt.Errorf("failed to pack initiateCrossChainSwap call: %w", err)
	}
	return data, nil
}

// PackClaim encodes a claimSwap call
func (h *HTLC) PackClaim(swapID common.Hash, secret hashlock.Secret) ([]byte, error) {
	data, err := h.abi.Pack("claimSwap", [32]byte(swapID), [32]byte(secret))
	if err != nil {
		return nil, fmt.Errorf("failed to pack claimSwap call: %w", err)
	}
	return data, nil
}

// PackRefund encodes a refundSwap call
func (h *HTLC) PackRefund(swapID common.Hash) ([]byte, error) {
	data, err := h.abi.Pack("refundSwap", [32]byte(swapID))
	if err != nil {
		return nil, fmt.Errorf("failed to pack refundSwap call: %w", err)
	}
	return data, nil
}

// PackGetSwap encodes a getSwap query
func (h *HTLC) PackGetSwap(swapID common.Hash) ([]byte, error) {
	data, err := h.abi.Pack("getSwap", [32]byte(swapID))
	if err != nil {
		return nil, fmt.Errorf("failed to pack getSwap call: %w", err)
	}
	return data, nil
}

// swapView mirrors the getSwap outputs
type swapView struct {
	Initiator       common.Address
	Participant     common.Address
	Token           common.Address
	Amount          *big.Int
	Hashlock        [32]byte
	Timelock        *big.Int
	State           uint8
	Secret          [32]byte
	CosmosRecipient string
}

// UnpackSwap decodes a getSwap result. It returns nil when the contract
// reports no swap under the id.
func (h *HTLC) UnpackSwap(swapID common.Hash, result []byte) (*chain.EscrowInfo, error) {
	var view swapView
	if err := h.abi.UnpackIntoInterface(&view, "getSwap", result); err != nil {
		return nil, fmt.Errorf("failed to unpack getSwap result: %w", err)
	}
	if view.Initiator == (common.Address{}) {
		return nil, nil
	}

	state, ok := escrow.StateFromCode(view.State)
	if !ok {
		return nil, fmt.Errorf("unknown escrow state %d", view.State)
	}

	return &chain.EscrowInfo{
		EscrowID:            swapID.Hex(),
		Initiator:           view.Initiator.Hex(),
		Participant:         view.Participant.Hex(),
		CrossChainRecipient: view.CosmosRecipient,
		Denom:               denomOf(view.Token),
		Amount:              view.Amount,
		Hashlock:            hashlock.Hash(view.Hashlock),
		TimelockExpiry:      view.Timelock.Int64(),
		State:               state,
		Secret:              hashlock.Secret(view.Secret),
	}, nil
}

// Topics returns the event signatures to filter logs by
func (h *HTLC) Topics() []common.Hash {
	return []common.Hash{
		h.abi.Events[EventSwapInitiated].ID,
		h.abi.Events[EventSwapClaimed].ID,
		h.abi.Events[EventSwapRefunded].ID,
	}
}

// ParseLog converts a contract log into a chain event. Logs of other
// contracts or events yield ok=false.
func (h *HTLC) ParseLog(log types.Log) (chain.Event, bool, error) {
	if log.Address != h.address || len(log.Topics) < 2 {
		return chain.Event{}, false, nil
	}

	ev := chain.Event{
		EscrowID:    log.Topics[1].Hex(),
		TxHash:      log.TxHash.Hex(),
		BlockHeight: int64(log.BlockNumber),
	}

	switch log.Topics[0] {
	case h.abi.Events[EventSwapInitiated].ID:
		var data struct {
			Token           common.Address
			Amount          *big.Int
			Hashlock        [32]byte
			Timelock        *big.Int
			CosmosRecipient string
		}
		if err := h.abi.UnpackIntoInterface(&data, EventSwapInitiated, log.Data); err != nil {
			return chain.Event{}, false, fmt.Errorf("failed to unpack %s: %w", EventSwapInitiated, err)
		}
		ev.Type = chain.EventEscrowCreated
		ev.Hashlock = hashlock.Hash(data.Hashlock)

	case h.abi.Events[EventSwapClaimed].ID:
		var data struct {
			Secret [32]byte
		}
		if err := h.abi.UnpackIntoInterface(&data, EventSwapClaimed, log.Data); err != nil {
			return chain.Event{}, false, fmt.Errorf("failed to unpack %s: %w", EventSwapClaimed, err)
		}
		ev.Type = chain.EventEscrowClaimed
		ev.Secret = hashlock.Secret(data.Secret)
		ev.Hashlock = hashlock.Digest(ev.Secret)

	case h.abi.Events[EventSwapRefunded].ID:
		ev.Type = chain.EventEscrowRefunded

	default:
		return chain.Event{}, false, nil
	}

	return ev, true, nil
}

// EscrowIDFromReceipt returns the swap id touched by a mined transaction
func (h *HTLC) EscrowIDFromReceipt(receipt *types.Receipt) string {
	for _, log := range receipt.Logs {
		if log == nil {
			continue
		}
		if ev, ok, err := h.ParseLog(*log); err == nil && ok {
			return ev.EscrowID
		}
	}
	return ""
}

// tokenAddress maps a denom to the token argument of the contract
func tokenAddress(denom string) (common.Address, error) {
	if denom == "" || strings.EqualFold(denom, NativeDenom) {
		return common.Address{}, nil
	}
	if !common.IsHexAddress(denom) {
		return common.Address{}, fmt.Errorf("denom %q is neither %s nor a token address", denom, NativeDenom)
	}
	return common.HexToAddress(denom), nil
}

func denomOf(token common.Address) string {
	if token == (common.Address{}) {
		return NativeDenom
	}
	return token.Hex()
}
