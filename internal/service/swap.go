package service

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"atomicswap/internal/config"
	"atomicswap/internal/database"
	"atomicswap/internal/escrow"
	"atomicswap/internal/hashlock"
	"atomicswap/internal/models"
	"atomicswap/internal/swaperr"
	"atomicswap/internal/validation"
)

// Coordinator is the part of the worker manager the swap service drives
type Coordinator interface {
	OperatorAddress(chainID string) (string, bool)
	ChainTime(ctx context.Context, chainID string) (time.Time, error)
	Track(ctx context.Context, swap *models.Swap) error
	Reveal(ctx context.Context, swapID string) error
}

// CreateSwapInput is a validated-at-the-edge swap request
type CreateSwapInput struct {
	FromAsset        string
	ToAsset          string
	Amount           *big.Int // source amount, smallest unit
	ToAmount         *big.Int // optional; sized from a quote when nil
	Recipient        string
	TimelockDuration time.Duration
}

// SwapService creates swaps and answers queries about them
type SwapService struct {
	store       database.Store
	coordinator Coordinator
	validator   *validation.Validator
	fees        *FeeLedger
	quotes      *QuoteClient // nil when no quote service is configured
	cfg         *config.Config
	logger      *zap.Logger
}

// NewSwapService creates a new swap service
func NewSwapService(
	store database.Store,
	coordinator Coordinator,
	fees *FeeLedger,
	quotes *QuoteClient,
	cfg *config.Config,
	logger *zap.Logger,
) *SwapService {
	return &SwapService{
		store:       store,
		coordinator: coordinator,
		validator:   validation.NewValidator(cfg),
		fees:        fees,
		quotes:      quotes,
		cfg:         cfg,
		logger:      logger.Named("swaps"),
	}
}

// CreateSwap validates the request, fixes hashlock, timelocks and fee,
// persists the swap and hands it to the coordinator
func (s *SwapService) CreateSwap(ctx context.Context, in CreateSwapInput) (*models.Swap, error) {
	if in.ToAmount == nil && in.Amount != nil && in.Amount.Sign() > 0 {
		toAmount, err := s.quoteToAmount(ctx, in.FromAsset, in.ToAsset, in.Amount)
		if err != nil {
			return nil, err
		}
		in.ToAmount = toAmount
	}

	initiators := make(map[string]string, 2)
	for _, chainID := range []string{s.cfg.EVM.ChainID, s.cfg.Cosmos.ChainID} {
		if addr, ok := s.coordinator.OperatorAddress(chainID); ok {
			initiators[chainID] = addr
		}
	}

	req := validation.SwapRequest{
		FromAsset:        in.FromAsset,
		ToAsset:          in.ToAsset,
		Amount:           in.Amount,
		ToAmount:         in.ToAmount,
		Recipient:        in.Recipient,
		TimelockDuration: in.TimelockDuration,
	}
	if err := s.validator.ValidateSwap(req, initiators); err != nil {
		return nil, err
	}
	fromAsset, toAsset, _ := s.validator.ValidateAssetPair(in.FromAsset, in.ToAsset)

	sourceNow, err := s.coordinator.ChainTime(ctx, fromAsset.ChainID)
	if err != nil {
		return nil, swaperr.Transient("chain_time", fmt.Errorf("failed to read %s time: %w", fromAsset.ChainID, err))
	}
	destNow, err := s.coordinator.ChainTime(ctx, toAsset.ChainID)
	if err != nil {
		return nil, swaperr.Transient("chain_time", fmt.Errorf("failed to read %s time: %w", toAsset.ChainID, err))
	}
	locks, err := escrow.ComputeTimelocks(sourceNow, destNow, in.TimelockDuration, s.cfg.Swap.SafetyMargin)
	if err != nil {
		return nil, swaperr.New(swaperr.KindInvalidParameters, "timelock", err)
	}

	secret, hash, err := hashlock.Generate()
	if err != nil {
		return nil, fmt.Errorf("failed to generate secret: %w", err)
	}

	swapID := uuid.New().String()
	receipt, err := s.fees.ChargeFee(swapID, s.fees.FlatFee())
	if err != nil {
		return nil, fmt.Errorf("failed to charge fee: %w", err)
	}

	now := time.Now().UTC()
	swap := &models.Swap{
		ID:                  swapID,
		FromAsset:           fromAsset.Symbol,
		ToAsset:             toAsset.Symbol,
		Hashlock:            hash.Hex(),
		Status:              models.SwapStatusInitiated,
		CrossChainRecipient: in.Recipient,
		FeeReceipt:          *receipt,
		CreatedAt:           now,
		UpdatedAt:           now,
		Source: models.EscrowRef{
			Role:                models.LegSource,
			ChainID:             fromAsset.ChainID,
			Initiator:           initiators[fromAsset.ChainID],
			Participant:         s.cfg.CounterpartyAddress(fromAsset.ChainID),
			CrossChainRecipient: in.Recipient,
			Asset:               fromAsset.Denom,
			Amount:              models.NewBigInt(new(big.Int).Set(in.Amount)),
			Hashlock:            hash.Hex(),
			TimelockExpiry:      locks.Source,
			State:               models.EscrowStatePending,
		},
		Destination: models.EscrowRef{
			Role:           models.LegDestination,
			ChainID:        toAsset.ChainID,
			Initiator:      initiators[toAsset.ChainID],
			Participant:    in.Recipient,
			Asset:          toAsset.Denom,
			Amount:         models.NewBigInt(new(big.Int).Set(in.ToAmount)),
			Hashlock:       hash.Hex(),
			TimelockExpiry: locks.Destination,
			State:          models.EscrowStatePending,
		},
	}

	// The secret is stored before the swap so a resumed task always finds it
	if err := s.store.SaveSecret(ctx, swapID, secret); err != nil {
		return nil, fmt.Errorf("failed to store secret: %w", err)
	}
	if err := s.store.UpsertSwap(ctx, swap); err != nil {
		if errors.Is(err, database.ErrHashlockExists) {
			return nil, swaperr.Invalid(swaperr.CodeHashlockInUse, "hashlock collision, retry the request")
		}
		return nil, fmt.Errorf("failed to save swap: %w", err)
	}

	event := models.SwapEvent{
		SwapID:   swapID,
		Type:     models.EventStatusChanged,
		ToStatus: models.SwapStatusInitiated,
		Detail:   "swap created",
	}
	if err := s.store.AppendEvent(ctx, &event); err != nil {
		s.logger.Warn("Failed to record swap creation", zap.String("swap_id", swapID), zap.Error(err))
	}

	s.logger.Info("Swap created",
		zap.String("swap_id", swapID),
		zap.String("from_asset", swap.FromAsset),
		zap.String("to_asset", swap.ToAsset),
		zap.String("amount", in.Amount.String()),
		zap.String("to_amount", in.ToAmount.String()),
		zap.String("hashlock", swap.Hashlock),
		zap.Int64("source_expiry", locks.Source),
		zap.Int64("destination_expiry", locks.Destination))

	if err := s.coordinator.Track(ctx, swap); err != nil {
		// The reconciler picks the swap up on its next sweep
		s.logger.Error("Failed to start swap task", zap.String("swap_id", swapID), zap.Error(err))
	}

	return swap, nil
}

// quoteToAmount sizes the destination amount from the quote service
func (s *SwapService) quoteToAmount(ctx context.Context, from, to string, amount *big.Int) (*big.Int, error) {
	fromAsset, toAsset, err := s.validator.ValidateAssetPair(from, to)
	if err != nil {
		return nil, err
	}
	if s.quotes == nil {
		return nil, swaperr.Invalid(swaperr.CodeNonPositiveAmount, "to_amount is required when no quote service is configured")
	}

	quote, err := s.quotes.GetQuote(ctx, fromAsset.Symbol, toAsset.Symbol, decimal.NewFromBigInt(amount, -fromAsset.Decimals))
	if err != nil {
		return nil, swaperr.Transient("quote", err)
	}
	return ConvertAmount(fromAsset, toAsset, amount, quote.Rate), nil
}

// GetSwap returns the swap, or a NotFound error
func (s *SwapService) GetSwap(ctx context.Context, id string) (*models.Swap, error) {
	swap, err := s.store.GetSwap(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get swap: %w", err)
	}
	if swap == nil {
		return nil, swaperr.Newf(swaperr.KindNotFound, "get_swap", "swap %s not found", id)
	}
	return swap, nil
}

// ListSwaps returns swaps newest first, optionally filtered by status
func (s *SwapService) ListSwaps(ctx context.Context, filter database.ListFilter) ([]models.Swap, error) {
	if filter.Status != "" && !filter.Status.IsValid() {
		return nil, swaperr.Invalid(swaperr.CodeUnknownStatus, "unknown status %q", filter.Status)
	}
	swaps, err := s.store.ListSwaps(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to list swaps: %w", err)
	}
	return swaps, nil
}

// ListEvents returns the audit log of a swap
func (s *SwapService) ListEvents(ctx context.Context, id string) ([]models.SwapEvent, error) {
	if _, err := s.GetSwap(ctx, id); err != nil {
		return nil, err
	}
	events, err := s.store.ListEvents(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}
	return events, nil
}

// RevealSecret releases the secret of a swap by claiming its destination leg
func (s *SwapService) RevealSecret(ctx context.Context, id string) error {
	swap, err := s.GetSwap(ctx, id)
	if err != nil {
		return err
	}
	if swap.Status.IsTerminal() {
		return swaperr.Newf(swaperr.KindNotOpen, "reveal", "swap %s is %s", id, swap.Status)
	}
	if err := s.coordinator.Reveal(ctx, id); err != nil {
		return err
	}
	s.logger.Info("Secret release requested", zap.String("swap_id", id))
	return nil
}

// CalculateFee returns the fee for a prospective swap
func (s *SwapService) CalculateFee(fromAsset, toAsset string, amount *big.Int) (*FeeCalculation, error) {
	return s.fees.CalculateFee(fromAsset, toAsset, amount)
}

// GetQuote returns an advisory quote for a human-denominated amount
func (s *SwapService) GetQuote(ctx context.Context, from, to string, amount decimal.Decimal) (*Quote, error) {
	if s.quotes == nil {
		return nil, swaperr.Newf(swaperr.KindNotFound, "quote", "no quote service configured")
	}
	if _, _, err := s.validator.ValidateAssetPair(from, to); err != nil {
		return nil, err
	}
	if !amount.IsPositive() {
		return nil, swaperr.Invalid(swaperr.CodeNonPositiveAmount, "amount must be greater than 0")
	}
	return s.quotes.GetQuote(ctx, normalizeSymbol(from), normalizeSymbol(to), amount)
}
