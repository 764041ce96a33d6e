package models

import (
	"time"
)

// SwapStatus represents the lifecycle state of a cross-chain swap
type SwapStatus string

const (
	SwapStatusInitiated      SwapStatus = "INITIATED"
	SwapStatusSourceLocked   SwapStatus = "SOURCE_LOCKED"
	SwapStatusBothLocked     SwapStatus = "BOTH_LOCKED"
	SwapStatusSecretRevealed SwapStatus = "SECRET_REVEALED"
	SwapStatusCompleted      SwapStatus = "COMPLETED"
	SwapStatusRefunding      SwapStatus = "REFUNDING"
	SwapStatusRefunded       SwapStatus = "REFUNDED"
	SwapStatusFailed         SwapStatus = "FAILED"
)

// transitions lists the forward edges of the swap lifecycle. FAILED is
// reachable from every non-terminal status.
var transitions = map[SwapStatus][]SwapStatus{
	SwapStatusInitiated:      {SwapStatusSourceLocked},
	SwapStatusSourceLocked:   {SwapStatusBothLocked, SwapStatusRefunding},
	SwapStatusBothLocked:     {SwapStatusSecretRevealed, SwapStatusRefunding},
	SwapStatusSecretRevealed: {SwapStatusCompleted},
	SwapStatusRefunding:      {SwapStatusRefunded},
}

// IsTerminal reports whether no further transitions are possible
func (s SwapStatus) IsTerminal() bool {
	switch s {
	case SwapStatusCompleted, SwapStatusRefunded, SwapStatusFailed:
		return true
	}
	return false
}

// IsValid reports whether s is a known status
func (s SwapStatus) IsValid() bool {
	switch s {
	case SwapStatusInitiated, SwapStatusSourceLocked, SwapStatusBothLocked,
		SwapStatusSecretRevealed, SwapStatusCompleted, SwapStatusRefunding,
		SwapStatusRefunded, SwapStatusFailed:
		return true
	}
	return false
}

// CanTransitionTo reports whether next is a forward edge from s
func (s SwapStatus) CanTransitionTo(next SwapStatus) bool {
	if s.IsTerminal() {
		return false
	}
	if next == SwapStatusFailed {
		return true
	}
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// NonTerminalStatuses lists every status a running swap can be in
func NonTerminalStatuses() []SwapStatus {
	return []SwapStatus{
		SwapStatusInitiated,
		SwapStatusSourceLocked,
		SwapStatusBothLocked,
		SwapStatusSecretRevealed,
		SwapStatusRefunding,
	}
}

// EscrowState represents the on-chain state of one escrow leg
type EscrowState string

const (
	EscrowStatePending  EscrowState = "PENDING" // not yet created on chain
	EscrowStateOpen     EscrowState = "OPEN"
	EscrowStateClaimed  EscrowState = "CLAIMED"
	EscrowStateRefunded EscrowState = "REFUNDED"
)

// IsFinal reports whether the escrow can no longer change
func (s EscrowState) IsFinal() bool {
	return s == EscrowStateClaimed || s == EscrowStateRefunded
}

// LegRole identifies which side of the swap an escrow belongs to
type LegRole string

const (
	LegSource      LegRole = "source"
	LegDestination LegRole = "destination"
)

// PendingAction is the state-changing transaction outstanding on a leg
type PendingAction string

const (
	PendingNone   PendingAction = ""
	PendingCreate PendingAction = "create"
	PendingClaim  PendingAction = "claim"
	PendingRefund PendingAction = "refund"
)

// EscrowRef is the coordinator's view of one escrow
type EscrowRef struct {
	SwapID              string        `db:"swap_id" json:"-"`
	Role                LegRole       `db:"role" json:"role"`
	ChainID             string        `db:"chain_id" json:"chain_id"`
	EscrowID            string        `db:"escrow_id" json:"escrow_id,omitempty"`
	Initiator           string        `db:"initiator" json:"initiator"`
	Participant         string        `db:"participant" json:"participant"`
	CrossChainRecipient string        `db:"cross_chain_recipient" json:"cross_chain_recipient,omitempty"`
	Asset               string        `db:"asset" json:"asset"`
	Amount              BigInt        `db:"amount" json:"amount"`
	Hashlock            string        `db:"hashlock" json:"hashlock"`
	TimelockExpiry      int64         `db:"timelock_expiry" json:"timelock_expiry"` // unix seconds
	State               EscrowState   `db:"state" json:"state"`
	CreateTxHash        *string       `db:"create_tx_hash" json:"create_tx_hash,omitempty"`
	ClaimTxHash         *string       `db:"claim_tx_hash" json:"claim_tx_hash,omitempty"`
	RefundTxHash        *string       `db:"refund_tx_hash" json:"refund_tx_hash,omitempty"`
	PendingTxHash       *string       `db:"pending_tx_hash" json:"pending_tx_hash,omitempty"`
	PendingAction       PendingAction `db:"pending_action" json:"pending_action,omitempty"`
}

// Expiry returns the timelock as a time.Time
func (e *EscrowRef) Expiry() time.Time {
	return time.Unix(e.TimelockExpiry, 0).UTC()
}

// FeeReceipt records the protocol fee charged for a swap
type FeeReceipt struct {
	FeeAmount    BigInt  `db:"fee_amount" json:"amount"`
	FeeDenom     string  `db:"fee_denom" json:"denom"`
	FeeChainID   string  `db:"fee_chain_id" json:"chain_id"`
	FeeRecipient string  `db:"fee_recipient" json:"recipient"`
	FeeTxHash    *string `db:"fee_tx_hash" json:"tx_hash,omitempty"`
}

// Swap represents one cross-chain atomic swap
type Swap struct {
	ID                  string     `db:"id" json:"swap_id"`
	FromAsset           string     `db:"from_asset" json:"from_asset"`
	ToAsset             string     `db:"to_asset" json:"to_asset"`
	Hashlock            string     `db:"hashlock" json:"hashlock"`
	Secret              *string    `db:"secret" json:"-"` // hex, set once observed on-chain
	Status              SwapStatus `db:"status" json:"status"`
	CrossChainRecipient string     `db:"cross_chain_recipient" json:"recipient"`
	FeeReceipt          `json:"fee"`
	ErrorKind           *string   `db:"error_kind" json:"error_kind,omitempty"`
	ErrorMessage        *string   `db:"error_message" json:"error,omitempty"`
	RetryCount          int       `db:"retry_count" json:"retry_count"`
	CreatedAt           time.Time `db:"created_at" json:"created_at"`
	UpdatedAt           time.Time `db:"updated_at" json:"updated_at"`

	Source      EscrowRef `db:"-" json:"source"`
	Destination EscrowRef `db:"-" json:"destination"`
}

// Leg returns the escrow for the given role
func (s *Swap) Leg(role LegRole) *EscrowRef {
	if role == LegSource {
		return &s.Source
	}
	return &s.Destination
}

// Counterpart returns the other leg
func (s *Swap) Counterpart(role LegRole) *EscrowRef {
	if role == LegSource {
		return &s.Destination
	}
	return &s.Source
}

// LegByEscrow finds the leg matching a chain and escrow id
func (s *Swap) LegByEscrow(chainID, escrowID string) *EscrowRef {
	for _, leg := range []*EscrowRef{&s.Source, &s.Destination} {
		if leg.ChainID == chainID && leg.EscrowID != "" && leg.EscrowID == escrowID {
			return leg
		}
	}
	return nil
}

// SecretRevealed reports whether the secret is known from the chain
func (s *Swap) SecretRevealed() bool {
	return s.Secret != nil && *s.Secret != ""
}

// Clone returns a deep copy safe to hand to another goroutine
func (s *Swap) Clone() *Swap {
	c := *s
	c.Secret = cloneString(s.Secret)
	c.ErrorKind = cloneString(s.ErrorKind)
	c.ErrorMessage = cloneString(s.ErrorMessage)
	c.FeeAmount = s.FeeAmount.Copy()
	c.FeeTxHash = cloneString(s.FeeTxHash)
	c.Source = s.Source.clone()
	c.Destination = s.Destination.clone()
	return &c
}

func (e EscrowRef) clone() EscrowRef {
	e.Amount = e.Amount.Copy()
	e.CreateTxHash = cloneString(e.CreateTxHash)
	e.ClaimTxHash = cloneString(e.ClaimTxHash)
	e.RefundTxHash = cloneString(e.RefundTxHash)
	e.PendingTxHash = cloneString(e.PendingTxHash)
	return e
}

// SwapEventType classifies audit log entries
type SwapEventType string

const (
	EventStatusChanged SwapEventType = "status_changed"
	EventLegUpdated    SwapEventType = "leg_updated"
	EventError         SwapEventType = "error"
)

// SwapEvent is one entry of the per-swap audit log, also pushed to live subscribers
type SwapEvent struct {
	ID         int64         `db:"id" json:"id"`
	SwapID     string        `db:"swap_id" json:"swap_id"`
	Type       SwapEventType `db:"event_type" json:"type"`
	FromStatus SwapStatus    `db:"from_status" json:"from_status,omitempty"`
	ToStatus   SwapStatus    `db:"to_status" json:"to_status"`
	Leg        LegRole       `db:"leg" json:"leg,omitempty"`
	TxHash     string        `db:"tx_hash" json:"tx_hash,omitempty"`
	Detail     string        `db:"detail" json:"detail,omitempty"`
	CreatedAt  time.Time     `db:"created_at" json:"created_at"`
}

// StringPtr returns a pointer to s
func StringPtr(s string) *string {
	return &s
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}
