package cosmos

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"strings"

	abci "github.com/cometbft/cometbft/abci/types"

	"atomicswap/internal/chain"
	"atomicswap/internal/hashlock"
	"atomicswap/internal/models"
)

// Contract methods as reported in the wasm event "method" attribute
const (
	MethodCreateSwap = "create_swap"
	MethodClaimSwap  = "claim_swap"
	MethodRefundSwap = "refund_swap"
)

// Swap statuses reported by the contract
const (
	ContractStatusOpen     = "open"
	ContractStatusClaimed  = "claimed"
	ContractStatusRefunded = "refunded"
	ContractStatusExpired  = "expired"
)

// ContractQuerier runs smart queries against a CosmWasm contract
type ContractQuerier interface {
	QueryContract(ctx context.Context, contractAddr string, queryMsg interface{}) ([]byte, error)
}

// EscrowContract speaks the message format of the CosmWasm HTLC escrow
type EscrowContract struct {
	querier ContractQuerier
	address string
}

// NewEscrowContract creates a binding to the escrow contract at address
func NewEscrowContract(querier ContractQuerier, address string) *EscrowContract {
	return &EscrowContract{querier: querier, address: address}
}

// Address returns the contract address
func (e *EscrowContract) Address() string {
	return e.address
}

// ==================== Message Types ====================

type CreateSwapMsg struct {
	CreateSwap CreateSwapParams `json:"create_swap"`
}

type CreateSwapParams struct {
	ID           string  `json:"id"`
	Recipient    string  `json:"recipient"`
	Hashlock     string  `json:"hashlock"`
	Timelock     uint64  `json:"timelock"`
	EthRecipient *string `json:"eth_recipient,omitempty"`
}

type ClaimSwapMsg struct {
	ClaimSwap struct {
		ID     string `json:"id"`
		Secret string `json:"secret"`
	} `json:"claim_swap"`
}

type RefundSwapMsg struct {
	RefundSwap struct {
		ID string `json:"id"`
	} `json:"refund_swap"`
}

// QueryMsg types
type GetSwapQuery struct {
	GetSwap struct {
		ID string `json:"id"`
	} `json:"get_swap"`
}

type ValidateSecretQuery struct {
	ValidateSecret struct {
		ID     string `json:"id"`
		Secret string `json:"secret"`
	} `json:"validate_secret"`
}

// Response types
type SwapResponse struct {
	ID           string  `json:"id"`
	Sender       string  `json:"sender"`
	Recipient    string  `json:"recipient"`
	Amount       CoinMsg `json:"amount"`
	Hashlock     string  `json:"hashlock"`
	Timelock     uint64  `json:"timelock"`
	Status       string  `json:"status"`
	CreatedAt    string  `json:"created_at"`
	EthRecipient *string `json:"eth_recipient"`
	Secret       *string `json:"secret"`
}

type ValidateSecretResponse struct {
	Valid bool `json:"valid"`
}

type CoinMsg struct {
	Denom  string `json:"denom"`
	Amount string `json:"amount"`
}

// ==================== Builders ====================

// NewCreateSwapMsg builds the create_swap execute message
func NewCreateSwapMsg(id, recipient string, hl hashlock.Hash, timelock int64, crossChainRecipient string) CreateSwapMsg {
	msg := CreateSwapMsg{CreateSwap: CreateSwapParams{
		ID:        id,
		Recipient: recipient,
		Hashlock:  hl.Hex(),
		Timelock:  uint64(timelock),
	}}
	if crossChainRecipient != "" {
		msg.CreateSwap.EthRecipient = &crossChainRecipient
	}
	return msg
}

// NewClaimSwapMsg builds the claim_swap execute message. The secret goes
// on chain in hex; this is the only place it leaves the process.
func NewClaimSwapMsg(id string, secret hashlock.Secret) ClaimSwapMsg {
	var msg ClaimSwapMsg
	msg.ClaimSwap.ID = id
	msg.ClaimSwap.Secret = secret.Hex()
	return msg
}

// NewRefundSwapMsg builds the refund_swap execute message
func NewRefundSwapMsg(id string) RefundSwapMsg {
	var msg RefundSwapMsg
	msg.RefundSwap.ID = id
	return msg
}

// ==================== Query Functions ====================

// GetSwap returns the escrow under id, or nil, nil when the contract has none
func (e *EscrowContract) GetSwap(ctx context.Context, id string) (*chain.EscrowInfo, error) {
	var query GetSwapQuery
	query.GetSwap.ID = id

	resultBytes, err := e.querier.QueryContract(ctx, e.address, query)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query swap: %w", err)
	}

	var response SwapResponse
	if err := json.Unmarshal(resultBytes, &response); err != nil {
		return nil, fmt.Errorf("failed to unmarshal swap response: %w", err)
	}
	return response.EscrowInfo()
}

// ValidateSecret asks the contract whether secret opens escrow id
func (e *EscrowContract) ValidateSecret(ctx context.Context, id string, secret hashlock.Secret) (bool, error) {
	var query ValidateSecretQuery
	query.ValidateSecret.ID = id
	query.ValidateSecret.Secret = secret.Hex()

	resultBytes, err := e.querier.QueryContract(ctx, e.address, query)
	if err != nil {
		return false, fmt.Errorf("failed to validate secret: %w", err)
	}

	var response ValidateSecretResponse
	if err := json.Unmarshal(resultBytes, &response); err != nil {
		return false, fmt.Errorf("failed to unmarshal validate_secret response: %w", err)
	}
	return response.Valid, nil
}

// EscrowInfo converts the contract view into the chain-neutral form
func (r SwapResponse) EscrowInfo() (*chain.EscrowInfo, error) {
	hl, err := hashlock.ParseHash(r.Hashlock)
	if err != nil {
		return nil, err
	}
	amount, ok := new(big.Int).SetString(r.Amount.Amount, 10)
	if !ok {
		return nil, fmt.Errorf("invalid swap amount %q", r.Amount.Amount)
	}
	state, err := contractState(r.Status)
	if err != nil {
		return nil, err
	}

	info := &chain.EscrowInfo{
		EscrowID:       r.ID,
		Initiator:      r.Sender,
		Participant:    r.Recipient,
		Denom:          r.Amount.Denom,
		Amount:         amount,
		Hashlock:       hl,
		TimelockExpiry: int64(r.Timelock),
		State:          state,
	}
	if r.EthRecipient != nil {
		info.CrossChainRecipient = *r.EthRecipient
	}
	if r.Secret != nil && *r.Secret != "" {
		secret, err := hashlock.ParseSecret(*r.Secret)
		if err != nil {
			return nil, err
		}
		info.Secret = secret
	}
	return info, nil
}

// contractState maps contract statuses onto escrow states. An expired swap
// is still open until someone refunds it.
func contractState(status string) (models.EscrowState, error) {
	switch strings.ToLower(status) {
	case ContractStatusOpen, ContractStatusExpired:
		return models.EscrowStateOpen, nil
	case ContractStatusClaimed:
		return models.EscrowStateClaimed, nil
	case ContractStatusRefunded:
		return models.EscrowStateRefunded, nil
	}
	return "", fmt.Errorf("unknown swap status %q", status)
}

// ==================== Events ====================

// ParseEvents extracts escrow events emitted by this contract from a
// committed transaction
func (e *EscrowContract) ParseEvents(height int64, txHash string, events []abci.Event) []chain.Event {
	var out []chain.Event
	for _, event := range events {
		if event.Type != "wasm" {
			continue
		}
		attrs := make(map[string]string, len(event.Attributes))
		for _, attr := range event.Attributes {
			attrs[attr.Key] = attr.Value
		}
		if attrs["_contract_address"] != e.address {
			continue
		}

		ev := chain.Event{
			EscrowID:    attrs["swap_id"],
			TxHash:      txHash,
			BlockHeight: height,
		}
		switch attrs["method"] {
		case MethodCreateSwap:
			ev.Type = chain.EventEscrowCreated
			if hl, err := hashlock.ParseHash(attrs["hashlock"]); err == nil {
				ev.Hashlock = hl
			}
		case MethodClaimSwap:
			ev.Type = chain.EventEscrowClaimed
			secret, err := hashlock.ParseSecret(attrs["secret"])
			if err != nil {
				continue
			}
			ev.Secret = secret
			ev.Hashlock = hashlock.Digest(secret)
		case MethodRefundSwap:
			ev.Type = chain.EventEscrowRefunded
		default:
			continue
		}
		out = append(out, ev)
	}
	return out
}

// escrowIDFromEvents returns the swap id touched by a transaction
func (e *EscrowContract) escrowIDFromEvents(events []abci.Event) string {
	for _, ev := range e.ParseEvents(0, "", events) {
		if ev.EscrowID != "" {
			return ev.EscrowID
		}
	}
	return ""
}

// heightQuery selects this contract's transactions within [from, to]
func (e *EscrowContract) heightQuery(from, to int64) string {
	return "wasm._contract_address='" + e.address + "' AND tx.height>=" +
		strconv.FormatInt(from, 10) + " AND tx.height<=" + strconv.FormatInt(to, 10)
}
