package service

import (
	"fmt"
	"math/big"

	"go.uber.org/zap"

	"atomicswap/internal/config"
	"atomicswap/internal/models"
	"atomicswap/internal/swaperr"
)

// FeeLedger charges the flat protocol fee. The fee moves in the same
// transaction that creates the leg living on the fee chain.
type FeeLedger struct {
	cfg    *config.Config
	logger *zap.Logger
}

// NewFeeLedger creates a new fee ledger
func NewFeeLedger(cfg *config.Config, logger *zap.Logger) *FeeLedger {
	return &FeeLedger{
		cfg:    cfg,
		logger: logger.Named("fees"),
	}
}

// FeeCalculation holds calculated fee information for a prospective swap
type FeeCalculation struct {
	FeeAmount   *big.Int // smallest unit of FeeDenom
	FeeDenom    string
	FeeChainID  string
	ChargedLeg  models.LegRole // leg whose creation carries the fee
	Amount      *big.Int       // principal of the source leg
	TotalSource *big.Int       // principal plus fee when both are debited in the source denom
}

// FlatFee returns the configured fee amount
func (l *FeeLedger) FlatFee() *big.Int {
	if l.cfg.Fee.Amount == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(l.cfg.Fee.Amount)
}

// ChargedLeg returns the leg whose chain carries the fee for a swap from sourceChainID
func (l *FeeLedger) ChargedLeg(sourceChainID string) models.LegRole {
	if l.cfg.Fee.ChainID == sourceChainID {
		return models.LegSource
	}
	return models.LegDestination
}

// CalculateFee computes the fee for swapping amount of fromAsset into toAsset
func (l *FeeLedger) CalculateFee(fromAsset, toAsset string, amount *big.Int) (*FeeCalculation, error) {
	from, ok := l.cfg.Assets[normalizeSymbol(fromAsset)]
	if !ok {
		return nil, swaperr.Invalid(swaperr.CodeUnknownAsset, "asset %q is not supported", fromAsset)
	}
	to, ok := l.cfg.Assets[normalizeSymbol(toAsset)]
	if !ok {
		return nil, swaperr.Invalid(swaperr.CodeUnknownAsset, "asset %q is not supported", toAsset)
	}
	if from.ChainID == to.ChainID {
		return nil, swaperr.Invalid(swaperr.CodeSameChain, "%s and %s are both on chain %s", fromAsset, toAsset, from.ChainID)
	}
	if amount == nil || amount.Sign() <= 0 {
		return nil, swaperr.Invalid(swaperr.CodeNonPositiveAmount, "amount must be greater than 0")
	}

	fee := l.FlatFee()
	leg := l.ChargedLeg(from.ChainID)

	total := new(big.Int).Set(amount)
	if leg == models.LegSource && l.cfg.Fee.Denom == from.Denom {
		total.Add(total, fee)
	}

	l.logger.Debug("Calculated swap fee",
		zap.String("from_asset", from.Symbol),
		zap.String("to_asset", to.Symbol),
		zap.String("amount", amount.String()),
		zap.String("fee", fee.String()),
		zap.String("charged_leg", string(leg)))

	return &FeeCalculation{
		FeeAmount:   fee,
		FeeDenom:    l.cfg.Fee.Denom,
		FeeChainID:  l.cfg.Fee.ChainID,
		ChargedLeg:  leg,
		Amount:      new(big.Int).Set(amount),
		TotalSource: total,
	}, nil
}

// ChargeFee fixes the fee for a swap and returns the receipt that accompanies
// the leg creation on the fee chain. The amount must equal the flat fee.
func (l *FeeLedger) ChargeFee(swapID string, amount *big.Int) (*models.FeeReceipt, error) {
	if amount == nil || amount.Sign() < 0 {
		return nil, swaperr.Invalid(swaperr.CodeFeeMismatch, "fee amount must not be negative")
	}
	if amount.Cmp(l.FlatFee()) != 0 {
		return nil, swaperr.Invalid(swaperr.CodeFeeMismatch,
			"fee %s does not match configured fee %s", amount, l.FlatFee())
	}
	if amount.Sign() > 0 && l.cfg.Fee.Recipient == "" {
		return nil, fmt.Errorf("fee recipient is not configured")
	}

	l.logger.Info("Fee charged",
		zap.String("swap_id", swapID),
		zap.String("fee_amount", amount.String()),
		zap.String("fee_denom", l.cfg.Fee.Denom),
		zap.String("fee_chain_id", l.cfg.Fee.ChainID))

	return &models.FeeReceipt{
		FeeAmount:    models.NewBigInt(new(big.Int).Set(amount)),
		FeeDenom:     l.cfg.Fee.Denom,
		FeeChainID:   l.cfg.Fee.ChainID,
		FeeRecipient: l.cfg.Fee.Recipient,
	}, nil
}
