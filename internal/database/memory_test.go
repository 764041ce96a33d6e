package database

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"atomicswap/internal/hashlock"
	"atomicswap/internal/models"
)

func newSwap(id, hashlock string, status models.SwapStatus, created time.Time) *models.Swap {
	return &models.Swap{
		ID:        id,
		FromAsset: "ETH",
		ToAsset:   "ATOM",
		Hashlock:  hashlock,
		Status:    status,
		CreatedAt: created,
		UpdatedAt: created,
		Source: models.EscrowRef{
			Role:    models.LegSource,
			ChainID: "evm-1",
			Amount:  models.BigIntFromInt64(100),
			State:   models.EscrowStatePending,
		},
		Destination: models.EscrowRef{
			Role:    models.LegDestination,
			ChainID: "cosmos-1",
			Amount:  models.BigIntFromInt64(200),
			State:   models.EscrowStatePending,
		},
	}
}

func TestMemoryStoreSaveAndGet(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	swap := newSwap("s1", "aa", models.SwapStatusInitiated, time.Now())
	require.NoError(t, store.UpsertSwap(ctx, swap))

	got, err := store.GetSwap(ctx, "s1")
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, "s1", got.Source.SwapID)
	require.Equal(t, "200", got.Destination.Amount.String())

	// Returned copies are independent of the stored row
	got.Status = models.SwapStatusFailed
	got.Source.Amount.SetInt64(1)
	again, err := store.GetSwap(ctx, "s1")
	require.NoError(t, err)
	require.Equal(t, models.SwapStatusInitiated, again.Status)
	require.Equal(t, "100", again.Source.Amount.String())

	missing, err := store.GetSwap(ctx, "nope")
	require.NoError(t, err)
	require.Nil(t, missing)
}

func TestMemoryStoreRejectsReusedHashlock(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	require.NoError(t, store.UpsertSwap(ctx, newSwap("s1", "aa", models.SwapStatusInitiated, time.Now())))
	require.ErrorIs(t, store.UpsertSwap(ctx, newSwap("s2", "aa", models.SwapStatusInitiated, time.Now())), ErrHashlockExists)

	// Updating the same swap is fine
	update := newSwap("s1", "aa", models.SwapStatusSourceLocked, time.Now())
	require.NoError(t, store.UpsertSwap(ctx, update))
}

func TestMemoryStoreList(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	base := time.Now()

	for i := 0; i < 5; i++ {
		status := models.SwapStatusInitiated
		if i%2 == 0 {
			status = models.SwapStatusCompleted
		}
		swap := newSwap(fmt.Sprintf("s%d", i), fmt.Sprintf("h%d", i), status, base.Add(time.Duration(i)*time.Second))
		require.NoError(t, store.UpsertSwap(ctx, swap))
	}

	all, err := store.ListSwaps(ctx, ListFilter{})
	require.NoError(t, err)
	require.Len(t, all, 5)
	require.Equal(t, "s4", all[0].ID, "newest first")

	page, err := store.ListSwaps(ctx, ListFilter{Limit: 2, Offset: 1})
	require.NoError(t, err)
	require.Len(t, page, 2)
	require.Equal(t, "s3", page[0].ID)

	completed, err := store.ListSwaps(ctx, ListFilter{Status: models.SwapStatusCompleted})
	require.NoError(t, err)
	require.Len(t, completed, 3)

	beyond, err := store.ListSwaps(ctx, ListFilter{Offset: 10})
	require.NoError(t, err)
	require.Empty(t, beyond)

	active, err := store.ListSwapsByStatus(ctx, models.NonTerminalStatuses()...)
	require.NoError(t, err)
	require.Len(t, active, 2)
	require.Equal(t, "s1", active[0].ID, "oldest first")
}

func TestMemoryStoreEvents(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	for _, to := range []models.SwapStatus{models.SwapStatusSourceLocked, models.SwapStatusBothLocked} {
		ev := &models.SwapEvent{SwapID: "s1", Type: models.EventStatusChanged, ToStatus: to}
		require.NoError(t, store.AppendEvent(ctx, ev))
		require.NotZero(t, ev.ID)
		require.False(t, ev.CreatedAt.IsZero())
	}

	events, err := store.ListEvents(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, events, 2)
	require.Less(t, events[0].ID, events[1].ID)
	require.Equal(t, models.SwapStatusBothLocked, events[1].ToStatus)

	none, err := store.ListEvents(ctx, "s2")
	require.NoError(t, err)
	require.Empty(t, none)
}

func TestMemoryStoreSecrets(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	missing, err := store.LoadSecret(ctx, "s1")
	require.NoError(t, err)
	require.Nil(t, missing)

	first, _, err := hashlock.Generate()
	require.NoError(t, err)
	second, _, err := hashlock.Generate()
	require.NoError(t, err)

	require.NoError(t, store.SaveSecret(ctx, "s1", first))
	require.NoError(t, store.SaveSecret(ctx, "s1", second))

	got, err := store.LoadSecret(ctx, "s1")
	require.NoError(t, err)
	require.Equal(t, first, *got, "first secret is kept")
}

func TestNormalizeLimit(t *testing.T) {
	require.Equal(t, defaultListLimit, normalizeLimit(0))
	require.Equal(t, defaultListLimit, normalizeLimit(1000))
	require.Equal(t, 10, normalizeLimit(10))
}
