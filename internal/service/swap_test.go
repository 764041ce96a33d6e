package service

import (
	"bytes"
	"context"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/btcsuite/btcutil/bech32"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"atomicswap/internal/config"
	"atomicswap/internal/database"
	"atomicswap/internal/hashlock"
	"atomicswap/internal/models"
	"atomicswap/internal/swaperr"
)

const (
	testEVMOperator     = "0x1111111111111111111111111111111111111111"
	testEVMCounterparty = "0x2222222222222222222222222222222222222222"
)

var (
	testCosmosOperator  = mustBech32("cosmos", 0x01)
	testCosmosRecipient = mustBech32("cosmos", 0x05)
)

func mustBech32(prefix string, fill byte) string {
	conv, err := bech32.ConvertBits(bytes.Repeat([]byte{fill}, 20), 8, 5, true)
	if err != nil {
		panic(err)
	}
	addr, err := bech32.Encode(prefix, conv)
	if err != nil {
		panic(err)
	}
	return addr
}

type fakeCoordinator struct {
	now      time.Time
	tracked  []*models.Swap
	revealed []string
	trackErr error
}

func (f *fakeCoordinator) OperatorAddress(chainID string) (string, bool) {
	switch chainID {
	case "evm-1":
		return testEVMOperator, true
	case "cosmos-1":
		return testCosmosOperator, true
	}
	return "", false
}

func (f *fakeCoordinator) ChainTime(ctx context.Context, chainID string) (time.Time, error) {
	if chainID == "cosmos-1" {
		return f.now.Add(30 * time.Second), nil
	}
	return f.now, nil
}

func (f *fakeCoordinator) Track(ctx context.Context, swap *models.Swap) error {
	f.tracked = append(f.tracked, swap)
	return f.trackErr
}

func (f *fakeCoordinator) Reveal(ctx context.Context, swapID string) error {
	f.revealed = append(f.revealed, swapID)
	return nil
}

func swapTestConfig() *config.Config {
	cfg := feeTestConfig("evm-1", "ETH", 1_000)
	cfg.EVM.CounterpartyAddress = testEVMCounterparty
	cfg.Cosmos.Bech32Prefix = "cosmos"
	cfg.Swap = config.SwapConfig{
		MinTimelock:  30 * time.Minute,
		MaxTimelock:  48 * time.Hour,
		SafetyMargin: 30 * time.Minute,
	}
	return cfg
}

func newTestSwapService(t *testing.T, quotes *QuoteClient) (*SwapService, *fakeCoordinator, *database.MemoryStore) {
	t.Helper()
	cfg := swapTestConfig()
	coord := &fakeCoordinator{now: time.Unix(1_700_000_000, 0).UTC()}
	store := database.NewMemoryStore()
	svc := NewSwapService(store, coord, NewFeeLedger(cfg, zap.NewNop()), quotes, cfg, zap.NewNop())
	return svc, coord, store
}

func TestCreateSwap(t *testing.T) {
	svc, coord, store := newTestSwapService(t, nil)
	ctx := context.Background()

	swap, err := svc.CreateSwap(ctx, CreateSwapInput{
		FromAsset:        "eth",
		ToAsset:          "ATOM",
		Amount:           big.NewInt(5_000),
		ToAmount:         big.NewInt(2_000),
		Recipient:        testCosmosRecipient,
		TimelockDuration: time.Hour,
	})
	require.NoError(t, err)
	require.Len(t, coord.tracked, 1)

	require.Equal(t, models.SwapStatusInitiated, swap.Status)
	require.Equal(t, "ETH", swap.FromAsset)
	require.Equal(t, "ATOM", swap.ToAsset)
	require.Nil(t, swap.Secret)

	// Source: operator -> counterparty on the EVM chain
	require.Equal(t, "evm-1", swap.Source.ChainID)
	require.Equal(t, testEVMOperator, swap.Source.Initiator)
	require.Equal(t, testEVMCounterparty, swap.Source.Participant)
	require.Equal(t, testCosmosRecipient, swap.Source.CrossChainRecipient)
	require.Equal(t, "ETH", swap.Source.Asset)

	// Destination: operator -> recipient on the Cosmos chain
	require.Equal(t, "cosmos-1", swap.Destination.ChainID)
	require.Equal(t, testCosmosOperator, swap.Destination.Initiator)
	require.Equal(t, testCosmosRecipient, swap.Destination.Participant)
	require.Equal(t, "uatom", swap.Destination.Asset)
	require.Equal(t, "2000", swap.Destination.Amount.String())

	// Timelocks count from the later chain clock
	base := coord.now.Add(30 * time.Second)
	require.Equal(t, base.Add(time.Hour).Unix(), swap.Destination.TimelockExpiry)
	require.Equal(t, swap.Destination.TimelockExpiry+int64((30*time.Minute)/time.Second), swap.Source.TimelockExpiry)

	require.Equal(t, swap.Hashlock, swap.Source.Hashlock)
	require.Equal(t, swap.Hashlock, swap.Destination.Hashlock)
	require.Equal(t, "1000", swap.FeeAmount.String())
	require.Equal(t, "evm-1", swap.FeeChainID)

	// The secret is in the vault and matches the hashlock
	secret, err := store.LoadSecret(ctx, swap.ID)
	require.NoError(t, err)
	require.NotNil(t, secret)
	hash, err := hashlock.ParseHash(swap.Hashlock)
	require.NoError(t, err)
	require.True(t, hashlock.Verify(secret[:], hash))

	stored, err := svc.GetSwap(ctx, swap.ID)
	require.NoError(t, err)
	require.Equal(t, swap.ID, stored.ID)

	events, err := svc.ListEvents(ctx, swap.ID)
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, models.SwapStatusInitiated, events[0].ToStatus)
}

func TestCreateSwapRejectsInvalidInput(t *testing.T) {
	svc, coord, store := newTestSwapService(t, nil)
	ctx := context.Background()

	_, err := svc.CreateSwap(ctx, CreateSwapInput{
		FromAsset:        "ETH",
		ToAsset:          "ATOM",
		Amount:           big.NewInt(0),
		ToAmount:         big.NewInt(10),
		Recipient:        testCosmosOperator, // the destination initiator itself
		TimelockDuration: time.Minute,
	})
	require.Error(t, err)
	require.Equal(t, swaperr.KindInvalidParameters, swaperr.KindOf(err))
	require.True(t, errors.Is(err, &swaperr.Error{Kind: swaperr.KindInvalidParameters, Code: swaperr.CodeSelfSwap}))
	require.True(t, errors.Is(err, &swaperr.Error{Kind: swaperr.KindInvalidParameters, Code: swaperr.CodeTimelockTooShort}))
	require.True(t, errors.Is(err, &swaperr.Error{Kind: swaperr.KindInvalidParameters, Code: swaperr.CodeNonPositiveAmount}))

	require.Empty(t, coord.tracked)
	swaps, err := store.ListSwaps(ctx, database.ListFilter{})
	require.NoError(t, err)
	require.Empty(t, swaps)
}

func TestCreateSwapRequiresToAmountWithoutQuotes(t *testing.T) {
	svc, _, _ := newTestSwapService(t, nil)

	_, err := svc.CreateSwap(context.Background(), CreateSwapInput{
		FromAsset:        "ETH",
		ToAsset:          "ATOM",
		Amount:           big.NewInt(1_000),
		Recipient:        testCosmosRecipient,
		TimelockDuration: time.Hour,
	})
	require.Error(t, err)
	require.Equal(t, swaperr.KindInvalidParameters, swaperr.KindOf(err))
}

func TestCreateSwapSizesToAmountFromQuote(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "ETH", r.URL.Query().Get("from"))
		require.Equal(t, "ATOM", r.URL.Query().Get("to"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"rate":"250.5"}`))
	}))
	defer server.Close()

	quotes, err := NewQuoteClient(server.URL, time.Second)
	require.NoError(t, err)
	svc, _, _ := newTestSwapService(t, quotes)

	// 0.01 ETH at 250.5 ATOM/ETH is 2.505 ATOM
	amount, ok := new(big.Int).SetString("10000000000000000", 10)
	require.True(t, ok)
	swap, err := svc.CreateSwap(context.Background(), CreateSwapInput{
		FromAsset:        "ETH",
		ToAsset:          "ATOM",
		Amount:           amount,
		Recipient:        testCosmosRecipient,
		TimelockDuration: time.Hour,
	})
	require.NoError(t, err)
	require.Equal(t, "2505000", swap.Destination.Amount.String())

	quote, err := svc.GetQuote(context.Background(), "eth", "atom", decimal.RequireFromString("2"))
	require.NoError(t, err)
	require.Equal(t, "501", quote.ToAmount.String())
}

func TestSwapQueries(t *testing.T) {
	svc, coord, _ := newTestSwapService(t, nil)
	ctx := context.Background()

	_, err := svc.GetSwap(ctx, "missing")
	require.Equal(t, swaperr.KindNotFound, swaperr.KindOf(err))

	_, err = svc.ListEvents(ctx, "missing")
	require.Equal(t, swaperr.KindNotFound, swaperr.KindOf(err))

	_, err = svc.ListSwaps(ctx, database.ListFilter{Status: "BOGUS"})
	require.True(t, errors.Is(err, &swaperr.Error{Kind: swaperr.KindInvalidParameters, Code: swaperr.CodeUnknownStatus}))

	require.Equal(t, swaperr.KindNotFound, swaperr.KindOf(svc.RevealSecret(ctx, "missing")))

	swap, err := svc.CreateSwap(ctx, CreateSwapInput{
		FromAsset:        "ETH",
		ToAsset:          "ATOM",
		Amount:           big.NewInt(5_000),
		ToAmount:         big.NewInt(2_000),
		Recipient:        testCosmosRecipient,
		TimelockDuration: time.Hour,
	})
	require.NoError(t, err)

	require.NoError(t, svc.RevealSecret(ctx, swap.ID))
	require.Equal(t, []string{swap.ID}, coord.revealed)

	swaps, err := svc.ListSwaps(ctx, database.ListFilter{Status: models.SwapStatusInitiated})
	require.NoError(t, err)
	require.Len(t, swaps, 1)

	_, err = svc.GetQuote(ctx, "ETH", "ATOM", decimal.NewFromInt(1))
	require.Equal(t, swaperr.KindNotFound, swaperr.KindOf(err))
}
