package database

import (
	"context"
	"errors"

	"atomicswap/internal/hashlock"
	"atomicswap/internal/models"
)

// ErrHashlockExists is returned when a new swap reuses the hashlock of another swap
var ErrHashlockExists = errors.New("hashlock already used by another swap")

// ListFilter narrows ListSwaps
type ListFilter struct {
	Status models.SwapStatus // empty matches every status
	Limit  int
	Offset int
}

// Store persists swaps, their escrow legs and the audit log
type Store interface {
	// UpsertSwap inserts or updates the swap row and both legs atomically
	UpsertSwap(ctx context.Context, swap *models.Swap) error
	// GetSwap returns nil, nil when the swap does not exist
	GetSwap(ctx context.Context, id string) (*models.Swap, error)
	ListSwaps(ctx context.Context, filter ListFilter) ([]models.Swap, error)
	ListSwapsByStatus(ctx context.Context, statuses ...models.SwapStatus) ([]models.Swap, error)

	AppendEvent(ctx context.Context, event *models.SwapEvent) error
	ListEvents(ctx context.Context, swapID string) ([]models.SwapEvent, error)

	SecretVault

	Ping(ctx context.Context) error
	Close() error
}

// SecretVault holds swap secrets generated by this coordinator. Secrets are
// kept apart from swap rows so that API reads never see them.
type SecretVault interface {
	SaveSecret(ctx context.Context, swapID string, secret hashlock.Secret) error
	// LoadSecret returns nil, nil when no secret is stored for the swap
	LoadSecret(ctx context.Context, swapID string) (*hashlock.Secret, error)
}

const defaultListLimit = 50

func normalizeLimit(limit int) int {
	if limit <= 0 || limit > 500 {
		return defaultListLimit
	}
	return limit
}
