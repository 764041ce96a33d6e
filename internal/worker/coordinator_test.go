package worker

import (
	"bytes"
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/btcsuite/btcutil/bech32"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"atomicswap/internal/blockchain/memchain"
	"atomicswap/internal/chain"
	"atomicswap/internal/config"
	"atomicswap/internal/database"
	"atomicswap/internal/escrow"
	"atomicswap/internal/hashlock"
	"atomicswap/internal/models"
	"atomicswap/internal/service"
	"atomicswap/internal/swaperr"
)

const (
	evmOperator     = "0x1111111111111111111111111111111111111111"
	evmCounterparty = "0x2222222222222222222222222222222222222222"
	feeRecipient    = "0x3333333333333333333333333333333333333333"

	testFee      = 1_000
	swapAmount   = 10_000
	swapToAmount = 5_000
	swapDuration = 20 * time.Minute
	safetyMargin = 10 * time.Minute
)

var genesis = time.Unix(1_700_000_000, 0).UTC()

func cosmosAddr(t *testing.T, fill byte) string {
	t.Helper()
	conv, err := bech32.ConvertBits(bytes.Repeat([]byte{fill}, 20), 8, 5, true)
	require.NoError(t, err)
	addr, err := bech32.Encode("cosmos", conv)
	require.NoError(t, err)
	return addr
}

type harness struct {
	t   *testing.T
	ctx context.Context

	cfg     *config.Config
	store   *database.MemoryStore
	manager *WorkerManager
	swaps   *service.SwapService

	src, dst    *memchain.Adapter
	srcLedger   *escrow.Ledger
	dstLedger   *escrow.Ledger
	recipient   string
	dstOperator string
}

type harnessOption func(h *harness)

func withRevealMode(mode string) harnessOption {
	return func(h *harness) { h.cfg.Swap.RevealMode = mode }
}

// withoutFunds leaves the operator of chainID unfunded
func withoutFunds(chainID string) harnessOption {
	return func(h *harness) {
		switch chainID {
		case h.srcLedger.ChainID():
			h.srcLedger = escrow.NewLedger(chainID, genesis, time.Minute)
		case h.dstLedger.ChainID():
			h.dstLedger = escrow.NewLedger(chainID, genesis, time.Minute)
		}
	}
}

func newHarness(t *testing.T, opts ...harnessOption) *harness {
	t.Helper()

	h := &harness{
		t:           t,
		ctx:         context.Background(),
		store:       database.NewMemoryStore(),
		recipient:   cosmosAddr(t, 0x05),
		dstOperator: cosmosAddr(t, 0x01),
		srcLedger:   escrow.NewLedger("evm-1", genesis, time.Minute),
		dstLedger:   escrow.NewLedger("cosmos-1", genesis, time.Minute),
	}
	h.srcLedger.Mint(evmOperator, "ETH", big.NewInt(1_000_000))
	h.dstLedger.Mint(h.dstOperator, "uatom", big.NewInt(1_000_000))

	h.cfg = &config.Config{
		ChainMode: config.ChainModeSimulated,
		Storage:   config.StorageMemory,
		EVM:       config.EVMChainConfig{ChainID: "evm-1", CounterpartyAddress: evmCounterparty},
		Cosmos: config.CosmosChainConfig{
			ChainID:             "cosmos-1",
			Bech32Prefix:        "cosmos",
			CounterpartyAddress: cosmosAddr(t, 0x02),
		},
		Fee: config.FeeConfig{
			ChainID:   "evm-1",
			Denom:     "ETH",
			Amount:    big.NewInt(testFee),
			Recipient: feeRecipient,
		},
		Swap: config.SwapConfig{
			MinTimelock:       10 * time.Minute,
			MaxTimelock:       48 * time.Hour,
			SafetyMargin:      safetyMargin,
			MinClaimWindow:    2 * time.Minute,
			TxTimeout:         5 * time.Second,
			PollInterval:      10 * time.Millisecond,
			RetryInitial:      10 * time.Millisecond,
			RetryMax:          50 * time.Millisecond,
			ReconcileInterval: time.Hour,
			RevealMode:        config.RevealAuto,
		},
		Assets: map[string]config.AssetConfig{
			"ETH":  {Symbol: "ETH", ChainID: "evm-1", Denom: "ETH", Decimals: 18, Native: true},
			"ATOM": {Symbol: "ATOM", ChainID: "cosmos-1", Denom: "uatom", Decimals: 6, Native: true},
		},
	}

	for _, opt := range opts {
		opt(h)
	}

	logger := zap.NewNop()
	h.src = memchain.NewAdapter(h.srcLedger, evmOperator, logger)
	h.dst = memchain.NewAdapter(h.dstLedger, h.dstOperator, logger)

	fees := service.NewFeeLedger(h.cfg, logger)
	wm, err := NewWorkerManager(h.store, h.cfg, []chain.Adapter{h.src, h.dst}, fees, logger)
	require.NoError(t, err)
	h.manager = wm
	h.swaps = service.NewSwapService(h.store, wm, fees, nil, h.cfg, logger)

	require.NoError(t, wm.Start())
	t.Cleanup(func() {
		require.NoError(t, wm.Shutdown(5*time.Second))
	})
	return h
}

func (h *harness) createSwap() *models.Swap {
	h.t.Helper()
	swap, err := h.swaps.CreateSwap(h.ctx, service.CreateSwapInput{
		FromAsset:        "ETH",
		ToAsset:          "ATOM",
		Amount:           big.NewInt(swapAmount),
		ToAmount:         big.NewInt(swapToAmount),
		Recipient:        h.recipient,
		TimelockDuration: swapDuration,
	})
	require.NoError(h.t, err)
	return swap
}

func (h *harness) waitStatus(id string, want models.SwapStatus) *models.Swap {
	h.t.Helper()
	var last *models.Swap
	require.Eventually(h.t, func() bool {
		swap, err := h.store.GetSwap(h.ctx, id)
		if err != nil || swap == nil {
			return false
		}
		last = swap
		return swap.Status == want
	}, 5*time.Second, 10*time.Millisecond, "swap %s never reached %s", id, want)
	return last
}

func (h *harness) advance(d time.Duration) {
	h.srcLedger.Advance(d)
	h.dstLedger.Advance(d)
}

func requireBalance(t *testing.T, l *escrow.Ledger, account, asset string, want int64) {
	t.Helper()
	require.Equal(t, big.NewInt(want).String(), l.Balance(account, asset).String(),
		"balance of %s %s on %s", account, asset, l.ChainID())
}

func TestSwapCompletesWithAutoReveal(t *testing.T) {
	h := newHarness(t)

	created := h.createSwap()
	require.Equal(t, models.SwapStatusInitiated, created.Status)
	require.Equal(t, int64(safetyMargin/time.Second), created.Source.TimelockExpiry-created.Destination.TimelockExpiry)

	swap := h.waitStatus(created.ID, models.SwapStatusCompleted)

	require.Equal(t, models.EscrowStateClaimed, swap.Source.State)
	require.Equal(t, models.EscrowStateClaimed, swap.Destination.State)
	require.NotNil(t, swap.Secret)
	require.NotNil(t, swap.FeeTxHash)
	require.Equal(t, *swap.Source.CreateTxHash, *swap.FeeTxHash)

	requireBalance(t, h.dstLedger, h.recipient, "uatom", swapToAmount)
	requireBalance(t, h.srcLedger, evmCounterparty, "ETH", swapAmount)
	requireBalance(t, h.srcLedger, feeRecipient, "ETH", testFee)
	requireBalance(t, h.srcLedger, evmOperator, "ETH", 1_000_000-swapAmount-testFee)
	require.Zero(t, h.srcLedger.Custody("ETH").Sign())
	require.Zero(t, h.dstLedger.Custody("uatom").Sign())

	events, err := h.store.ListEvents(h.ctx, created.ID)
	require.NoError(t, err)
	var statuses []models.SwapStatus
	for _, ev := range events {
		if ev.Type == models.EventStatusChanged {
			statuses = append(statuses, ev.ToStatus)
		}
	}
	require.Equal(t, []models.SwapStatus{
		models.SwapStatusInitiated,
		models.SwapStatusSourceLocked,
		models.SwapStatusBothLocked,
		models.SwapStatusSecretRevealed,
		models.SwapStatusCompleted,
	}, statuses)
}

func TestSwapRefundsWhenSecretNeverRevealed(t *testing.T) {
	h := newHarness(t, withRevealMode(config.RevealManual))

	created := h.createSwap()
	h.waitStatus(created.ID, models.SwapStatusBothLocked)

	// Past the destination timelock only
	h.advance(swapDuration + time.Second)
	swap := h.waitStatus(created.ID, models.SwapStatusRefunding)
	require.Equal(t, models.EscrowStateRefunded, swap.Destination.State)
	require.Equal(t, models.EscrowStateOpen, swap.Source.State)

	h.advance(safetyMargin)
	swap = h.waitStatus(created.ID, models.SwapStatusRefunded)
	require.Equal(t, models.EscrowStateRefunded, swap.Source.State)
	require.Nil(t, swap.Secret)

	// Principal comes back, the fee does not
	requireBalance(t, h.srcLedger, evmOperator, "ETH", 1_000_000-testFee)
	requireBalance(t, h.dstLedger, h.dstOperator, "uatom", 1_000_000)
	requireBalance(t, h.dstLedger, h.recipient, "uatom", 0)
}

func TestSwapCompletesAfterExternalClaim(t *testing.T) {
	h := newHarness(t, withRevealMode(config.RevealManual))

	created := h.createSwap()
	swap := h.waitStatus(created.ID, models.SwapStatusBothLocked)

	secret, err := h.store.LoadSecret(h.ctx, created.ID)
	require.NoError(t, err)
	require.NotNil(t, secret)

	// The recipient claims the destination escrow with its own signer
	claimer := h.dst.WithSigner(h.recipient)
	_, err = claimer.Submit(h.ctx, chain.Tx{
		Action:         chain.ActionClaim,
		TargetEscrowID: swap.Destination.EscrowID,
		Secret:         *secret,
	})
	require.NoError(t, err)

	swap = h.waitStatus(created.ID, models.SwapStatusCompleted)
	require.Equal(t, secret.Hex(), *swap.Secret)
	requireBalance(t, h.dstLedger, h.recipient, "uatom", swapToAmount)
	requireBalance(t, h.srcLedger, evmCounterparty, "ETH", swapAmount)
}

func TestSwapCompletesAfterManualReveal(t *testing.T) {
	h := newHarness(t, withRevealMode(config.RevealManual))

	created := h.createSwap()
	h.waitStatus(created.ID, models.SwapStatusBothLocked)

	// Nothing is claimed until the reveal is requested
	time.Sleep(50 * time.Millisecond)
	swap, err := h.store.GetSwap(h.ctx, created.ID)
	require.NoError(t, err)
	require.Equal(t, models.SwapStatusBothLocked, swap.Status)

	require.NoError(t, h.swaps.RevealSecret(h.ctx, created.ID))
	h.waitStatus(created.ID, models.SwapStatusCompleted)
}

func TestSwapRetriesTransientFailures(t *testing.T) {
	h := newHarness(t)

	outage := swaperr.Transient("submit", errors.New("connection refused"))
	h.src.FailNext(chain.ActionCreate, outage, outage)
	h.dst.FailNext(chain.ActionClaim, outage)

	created := h.createSwap()
	swap := h.waitStatus(created.ID, models.SwapStatusCompleted)

	require.GreaterOrEqual(t, swap.RetryCount, 3)
	require.NotNil(t, swap.ErrorKind)
	require.Equal(t, string(swaperr.KindTransient), *swap.ErrorKind)
	requireBalance(t, h.dstLedger, h.recipient, "uatom", swapToAmount)
}

func TestSwapSurvivesChainOutage(t *testing.T) {
	h := newHarness(t, withRevealMode(config.RevealManual))

	created := h.createSwap()
	h.waitStatus(created.ID, models.SwapStatusBothLocked)

	h.dst.SetAvailable(false)
	require.NoError(t, h.swaps.RevealSecret(h.ctx, created.ID))
	time.Sleep(50 * time.Millisecond)

	swap, err := h.store.GetSwap(h.ctx, created.ID)
	require.NoError(t, err)
	require.Equal(t, models.SwapStatusBothLocked, swap.Status)

	h.dst.SetAvailable(true)
	h.waitStatus(created.ID, models.SwapStatusCompleted)
}

func TestSourceCreationFailureFailsSwap(t *testing.T) {
	h := newHarness(t, withoutFunds("evm-1"))

	created := h.createSwap()
	swap := h.waitStatus(created.ID, models.SwapStatusFailed)

	require.Equal(t, models.EscrowStatePending, swap.Source.State)
	require.Equal(t, models.EscrowStatePending, swap.Destination.State)
	require.NotNil(t, swap.ErrorKind)
	require.Equal(t, string(swaperr.KindInvalidParameters), *swap.ErrorKind)
	require.Zero(t, h.srcLedger.Custody("ETH").Sign())
}

func TestDestinationCreationFailureRefundsSource(t *testing.T) {
	h := newHarness(t, withoutFunds("cosmos-1"))

	created := h.createSwap()
	swap := h.waitStatus(created.ID, models.SwapStatusRefunding)
	require.Equal(t, models.EscrowStateOpen, swap.Source.State)
	require.Equal(t, models.EscrowStatePending, swap.Destination.State)

	h.advance(swapDuration + safetyMargin)
	swap = h.waitStatus(created.ID, models.SwapStatusRefunded)
	require.Equal(t, models.EscrowStateRefunded, swap.Source.State)
	requireBalance(t, h.srcLedger, evmOperator, "ETH", 1_000_000-testFee)
}

func TestRevealUnknownSwap(t *testing.T) {
	h := newHarness(t)

	err := h.swaps.RevealSecret(h.ctx, "00000000-0000-0000-0000-000000000000")
	require.Error(t, err)
	require.Equal(t, swaperr.KindNotFound, swaperr.KindOf(err))
}

// untracked hides newly created swaps from the coordinator
type untracked struct {
	*WorkerManager
}

func (untracked) Track(ctx context.Context, swap *models.Swap) error {
	return nil
}

// storeSwap persists a new swap without starting its task, as left behind
// by a previous process
func (h *harness) storeSwap() *models.Swap {
	h.t.Helper()
	swaps := service.NewSwapService(h.store, untracked{h.manager},
		service.NewFeeLedger(h.cfg, zap.NewNop()), nil, h.cfg, zap.NewNop())
	created, err := swaps.CreateSwap(h.ctx, service.CreateSwapInput{
		FromAsset:        "ETH",
		ToAsset:          "ATOM",
		Amount:           big.NewInt(swapAmount),
		ToAmount:         big.NewInt(swapToAmount),
		Recipient:        h.recipient,
		TimelockDuration: swapDuration,
	})
	require.NoError(h.t, err)
	return created
}

func TestReconcilerResumesStoredSwaps(t *testing.T) {
	h := newHarness(t)

	created := h.storeSwap()

	h.manager.reconcile(h.ctx)
	h.waitStatus(created.ID, models.SwapStatusCompleted)

	// Terminal swaps are not resumed
	h.manager.reconcile(h.ctx)
	require.Eventually(t, func() bool { return h.manager.ActiveSwaps() == 0 }, time.Second, 10*time.Millisecond)
}

func TestResumedSwapAdoptsSourceEscrowCreatedBeforeRestart(t *testing.T) {
	tests := []struct {
		name    string
		landed  bool
		pending models.PendingAction
	}{
		{"create landed, nothing recorded", true, models.PendingNone},
		{"create landed, marked in flight", true, models.PendingCreate},
		{"create marked in flight, never sent", false, models.PendingCreate},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			created := h.storeSwap()

			var escrowID string
			if tt.landed {
				hl, err := hashlock.ParseHash(created.Hashlock)
				require.NoError(t, err)
				txHash, err := h.src.Submit(h.ctx, chain.Tx{
					Action:              chain.ActionCreate,
					Participant:         created.Source.Participant,
					CrossChainRecipient: created.Source.CrossChainRecipient,
					Denom:               created.Source.Asset,
					Amount:              created.Source.Amount.OrZero(),
					Hashlock:            hl,
					TimelockExpiry:      created.Source.TimelockExpiry,
					Fee:                 &chain.Fee{Recipient: feeRecipient, Denom: "ETH", Amount: big.NewInt(testFee)},
				})
				require.NoError(t, err)
				receipt, err := h.src.GetReceipt(h.ctx, txHash)
				require.NoError(t, err)
				escrowID = receipt.EscrowID
			}
			if tt.pending != models.PendingNone {
				created.Source.PendingAction = tt.pending
				require.NoError(t, h.store.UpsertSwap(h.ctx, created))
			}

			h.manager.reconcile(h.ctx)
			swap := h.waitStatus(created.ID, models.SwapStatusCompleted)

			if tt.landed {
				require.Equal(t, escrowID, swap.Source.EscrowID)
			}
			// One escrow and one fee, whatever the restart point
			requireBalance(t, h.srcLedger, evmOperator, "ETH", 1_000_000-swapAmount-testFee)
			requireBalance(t, h.srcLedger, feeRecipient, "ETH", testFee)
			requireBalance(t, h.srcLedger, evmCounterparty, "ETH", swapAmount)
			require.Zero(t, h.srcLedger.Custody("ETH").Sign())
		})
	}
}

func TestSourceLegRefundsWhenClaimMissesDeadline(t *testing.T) {
	h := newHarness(t, withRevealMode(config.RevealManual))

	created := h.createSwap()
	swap := h.waitStatus(created.ID, models.SwapStatusBothLocked)

	// Every source claim attempt fails transiently
	outage := swaperr.Transient("submit", errors.New("connection refused"))
	failures := make([]error, 10_000)
	for i := range failures {
		failures[i] = outage
	}
	h.src.FailNext(chain.ActionClaim, failures...)

	secret, err := h.store.LoadSecret(h.ctx, created.ID)
	require.NoError(t, err)
	require.NotNil(t, secret)
	_, err = h.dst.WithSigner(h.recipient).Submit(h.ctx, chain.Tx{
		Action:         chain.ActionClaim,
		TargetEscrowID: swap.Destination.EscrowID,
		Secret:         *secret,
	})
	require.NoError(t, err)

	h.waitStatus(created.ID, models.SwapStatusSecretRevealed)
	require.Eventually(t, func() bool {
		s, err := h.store.GetSwap(h.ctx, created.ID)
		return err == nil && s.RetryCount > 0
	}, 5*time.Second, 10*time.Millisecond)

	h.srcLedger.Advance(swapDuration + safetyMargin + time.Second)
	h.waitStatus(created.ID, models.SwapStatusFailed)

	swap, err = h.swaps.GetSwap(h.ctx, created.ID)
	require.NoError(t, err)
	require.Equal(t, models.SwapStatusFailed, swap.Status)
	require.Equal(t, models.EscrowStateRefunded, swap.Source.State)
	require.Equal(t, models.EscrowStateClaimed, swap.Destination.State)
	require.NotNil(t, swap.ErrorKind)
	require.Equal(t, string(swaperr.KindDeadlineExceeded), *swap.ErrorKind)

	requireBalance(t, h.srcLedger, evmOperator, "ETH", 1_000_000-testFee)
	requireBalance(t, h.dstLedger, h.recipient, "uatom", swapToAmount)
}

func TestSwapOnUnknownChainFails(t *testing.T) {
	h := newHarness(t)

	created := h.storeSwap()
	created.Destination.ChainID = "osmosis-1"
	require.NoError(t, h.store.UpsertSwap(h.ctx, created))

	h.manager.reconcile(h.ctx)
	swap := h.waitStatus(created.ID, models.SwapStatusFailed)
	require.NotNil(t, swap.ErrorKind)
	require.Equal(t, string(swaperr.KindInvalidParameters), *swap.ErrorKind)
	require.Contains(t, *swap.ErrorMessage, "osmosis-1")

	// Terminal now, so later sweeps leave it alone
	h.manager.reconcile(h.ctx)
	require.Eventually(t, func() bool { return h.manager.ActiveSwaps() == 0 }, time.Second, 10*time.Millisecond)
}
