package memchain

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"atomicswap/internal/chain"
	"atomicswap/internal/escrow"
	"atomicswap/internal/hashlock"
	"atomicswap/internal/models"
	"atomicswap/internal/swaperr"
)

func newTestAdapter(t *testing.T) *Adapter {
	t.Helper()
	ledger := escrow.NewLedger("mem-1", time.Unix(1_700_000_000, 0), 30*time.Minute)
	ledger.Mint("operator", "uatom", big.NewInt(1_000_000))
	return NewAdapter(ledger, "operator", zap.NewNop())
}

func TestSubmitAndWatch(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a := newTestAdapter(t)
	events, err := a.WatchEvents(ctx, chain.EventFilter{})
	require.NoError(t, err)

	secret, hl, err := hashlock.Generate()
	require.NoError(t, err)
	now, err := a.Now(ctx)
	require.NoError(t, err)

	txHash, err := a.Submit(ctx, chain.Tx{
		Action:         chain.ActionCreate,
		Participant:    "recipient",
		Denom:          "uatom",
		Amount:         big.NewInt(500),
		Hashlock:       hl,
		TimelockExpiry: now.Add(time.Hour).Unix(),
	})
	require.NoError(t, err)

	receipt, err := chain.WaitForReceipt(ctx, a, txHash, time.Second, 10*time.Millisecond)
	require.NoError(t, err)
	require.True(t, receipt.Success)
	require.NotEmpty(t, receipt.EscrowID)

	ev := <-events
	require.Equal(t, chain.EventEscrowCreated, ev.Type)
	require.Equal(t, receipt.EscrowID, ev.EscrowID)

	// another signer on the same ledger claims
	claimer := a.WithSigner("recipient")
	_, err = claimer.Submit(ctx, chain.Tx{Action: chain.ActionClaim, TargetEscrowID: receipt.EscrowID, Secret: secret})
	require.NoError(t, err)

	ev = <-events
	require.Equal(t, chain.EventEscrowClaimed, ev.Type)
	require.Equal(t, secret, ev.Secret)

	info, err := a.GetEscrow(ctx, receipt.EscrowID)
	require.NoError(t, err)
	require.Equal(t, models.EscrowStateClaimed, info.State)

	a.Ledger().Advance(time.Minute)
	ev = <-events
	require.Equal(t, chain.EventNewBlock, ev.Type)
}

func TestUnavailableIsTransient(t *testing.T) {
	ctx := context.Background()
	a := newTestAdapter(t)
	a.SetAvailable(false)

	_, err := a.Now(ctx)
	require.True(t, swaperr.IsRetryable(err))

	_, err = a.Submit(ctx, chain.Tx{Action: chain.ActionRefund, TargetEscrowID: "x"})
	require.ErrorIs(t, err, swaperr.ErrTransient)

	a.SetAvailable(true)
	_, err = a.Now(ctx)
	require.NoError(t, err)
}

func TestFailNext(t *testing.T) {
	ctx := context.Background()
	a := newTestAdapter(t)
	boom := errors.New("boom")
	a.FailNext(chain.ActionRefund, boom)

	_, err := a.Submit(ctx, chain.Tx{Action: chain.ActionRefund, TargetEscrowID: "x"})
	require.ErrorIs(t, err, boom)

	_, err = a.Submit(ctx, chain.Tx{Action: chain.ActionRefund, TargetEscrowID: "x"})
	require.ErrorIs(t, err, swaperr.ErrNotFound)

	info, err := a.GetEscrow(ctx, "x")
	require.NoError(t, err)
	require.Nil(t, info)
}
