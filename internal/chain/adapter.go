package chain

import (
	"context"
	"math/big"
	"time"

	"atomicswap/internal/hashlock"
	"atomicswap/internal/models"
)

// Kind identifies the chain family behind an adapter
type Kind string

const (
	KindEVM    Kind = "evm"
	KindCosmos Kind = "cosmos"
	KindMemory Kind = "memory"
)

// Action is the escrow operation carried by a Tx
type Action string

const (
	ActionCreate Action = "create"
	ActionClaim  Action = "claim"
	ActionRefund Action = "refund"
)

// Fee is a protocol fee moved in the same transaction as an escrow creation
type Fee struct {
	Recipient string
	Denom     string
	Amount    *big.Int
}

// Tx is a state-changing escrow transaction
type Tx struct {
	Action Action

	// ActionCreate
	EscrowID            string // optional; adapters that derive ids client-side fill it
	Participant         string
	CrossChainRecipient string
	Denom               string
	Amount              *big.Int
	Hashlock            hashlock.Hash
	TimelockExpiry      int64
	Fee                 *Fee

	// ActionClaim and ActionRefund
	TargetEscrowID string
	Secret         hashlock.Secret // ActionClaim only
}

// Receipt is the outcome of a submitted transaction
type Receipt struct {
	TxHash      string
	Confirmed   bool
	Success     bool
	BlockHeight int64
	EscrowID    string // escrow touched by the transaction
	FailReason  string
}

// EventType classifies escrow events observed on chain
type EventType string

const (
	EventEscrowCreated  EventType = "escrow_created"
	EventEscrowClaimed  EventType = "escrow_claimed"
	EventEscrowRefunded EventType = "escrow_refunded"
	EventNewBlock       EventType = "new_block" // carries chain time only
)

// Event is a typed escrow or block event from one chain
type Event struct {
	Type        EventType
	ChainID     string
	EscrowID    string
	Hashlock    hashlock.Hash
	Secret      hashlock.Secret // EventEscrowClaimed only
	TxHash      string
	BlockHeight int64
	Time        time.Time // block time
}

// EventFilter narrows a watch subscription
type EventFilter struct {
	FromHeight int64 // 0 means the current head
}

// EscrowInfo is the on-chain view of an escrow
type EscrowInfo struct {
	EscrowID            string
	Initiator           string
	Participant         string
	CrossChainRecipient string
	Denom               string
	Amount              *big.Int
	Hashlock            hashlock.Hash
	TimelockExpiry      int64
	State               models.EscrowState
	Secret              hashlock.Secret
}

// Adapter is the per-chain boundary used by the coordinator
type Adapter interface {
	ChainID() string
	Kind() Kind
	// OperatorAddress is the account this adapter signs with
	OperatorAddress() string

	// Submit signs and broadcasts tx and returns its hash without waiting for inclusion
	Submit(ctx context.Context, tx Tx) (string, error)
	// GetReceipt returns the receipt, with Confirmed=false while the tx is unknown or pending
	GetReceipt(ctx context.Context, txHash string) (*Receipt, error)
	// WatchEvents streams escrow events and block ticks until ctx is cancelled
	WatchEvents(ctx context.Context, filter EventFilter) (<-chan Event, error)
	// Now returns the chain-observed time of the latest block
	Now(ctx context.Context) (time.Time, error)

	// GetEscrow returns nil, nil when the escrow does not exist
	GetEscrow(ctx context.Context, escrowID string) (*EscrowInfo, error)
	// FindEscrow looks up the escrow the operator created with the create
	// terms of tx, returning nil, nil when there is none
	FindEscrow(ctx context.Context, tx Tx) (*EscrowInfo, error)
	IsClaimable(ctx context.Context, escrowID string, secret hashlock.Secret) (bool, error)
	IsRefundable(ctx context.Context, escrowID string) (bool, error)

	Close() error
}
