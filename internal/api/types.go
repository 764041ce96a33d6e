package api

import (
	"time"

	"atomicswap/internal/models"
	"atomicswap/internal/worker"
)

// ==================== Swaps ====================

// CreateSwapRequest represents a request to start a swap. Amounts are in the
// asset's smallest unit.
type CreateSwapRequest struct {
	FromAsset        string `json:"from_asset"`
	ToAsset          string `json:"to_asset"`
	Amount           string `json:"amount"`
	ToAmount         string `json:"to_amount,omitempty"` // sized from a quote when empty
	Recipient        string `json:"recipient"`
	TimelockDuration string `json:"timelock_duration"` // "2h", or seconds
}

// CreateSwapResponse represents the response to a created swap
type CreateSwapResponse struct {
	SwapID              string            `json:"swap_id"`
	Status              models.SwapStatus `json:"status"`
	Hashlock            string            `json:"hashlock"`
	SourceTimelock      int64             `json:"source_timelock"`
	DestinationTimelock int64             `json:"destination_timelock"`
}

// ListSwapsResponse represents a page of swaps
type ListSwapsResponse struct {
	Swaps []models.Swap `json:"swaps"`
}

// ListEventsResponse represents the audit log of a swap
type ListEventsResponse struct {
	SwapID string             `json:"swap_id"`
	Events []models.SwapEvent `json:"events"`
}

// RevealResponse acknowledges a manual secret release
type RevealResponse struct {
	SwapID string `json:"swap_id"`
	Status string `json:"status"`
}

// ==================== Fee Calculation ====================

// CalculateFeeRequest represents request to calculate the swap fee
type CalculateFeeRequest struct {
	FromAsset string `json:"from_asset"`
	ToAsset   string `json:"to_asset"`
	Amount    string `json:"amount"` // smallest unit of from_asset
}

// CalculateFeeResponse represents response with calculated fees
type CalculateFeeResponse struct {
	FeeAmount   string         `json:"fee_amount"`
	FeeDenom    string         `json:"fee_denom"`
	FeeChainID  string         `json:"fee_chain_id"`
	ChargedLeg  models.LegRole `json:"charged_leg"`
	TotalSource string         `json:"total_source"`
}

// ==================== Error Response ====================

// ErrorResponse represents an API error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
	Kind    string `json:"kind,omitempty"`
	Code    string `json:"code,omitempty"`
}

// ==================== Health Check ====================

// HealthResponse represents health check response
type HealthResponse struct {
	Status      string               `json:"status"`
	Version     string               `json:"version,omitempty"`
	Database    string               `json:"database"`
	ActiveSwaps int                  `json:"active_swaps"`
	Chains      []worker.ChainHealth `json:"chains"`
	CheckedAt   time.Time            `json:"checked_at"`
}
