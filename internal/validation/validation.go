package validation

import (
	"math/big"
	"strings"
	"time"

	"github.com/btcsuite/btcutil/bech32"
	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/multierr"

	"atomicswap/internal/config"
	"atomicswap/internal/swaperr"
)

// SwapRequest is the input checked before any transaction is built
type SwapRequest struct {
	FromAsset        string
	ToAsset          string
	Amount           *big.Int // source amount, smallest unit
	ToAmount         *big.Int // destination amount, smallest unit
	Recipient        string   // participant of the destination escrow
	TimelockDuration time.Duration
}

// Validator checks swap inputs against the configured chains and assets
type Validator struct {
	cfg *config.Config
}

// NewValidator creates a validator
func NewValidator(cfg *config.Config) *Validator {
	return &Validator{cfg: cfg}
}

// Asset looks up a registered asset by symbol
func (v *Validator) Asset(symbol string) (config.AssetConfig, error) {
	asset, ok := v.cfg.Assets[strings.ToUpper(symbol)]
	if !ok {
		return config.AssetConfig{}, swaperr.Invalid(swaperr.CodeUnknownAsset, "asset %q is not supported", symbol)
	}
	return asset, nil
}

// ValidateAssetPair checks both assets exist and live on different chains
func (v *Validator) ValidateAssetPair(from, to string) (config.AssetConfig, config.AssetConfig, error) {
	fromAsset, err := v.Asset(from)
	if err != nil {
		return config.AssetConfig{}, config.AssetConfig{}, err
	}
	toAsset, err := v.Asset(to)
	if err != nil {
		return config.AssetConfig{}, config.AssetConfig{}, err
	}
	if fromAsset.ChainID == toAsset.ChainID {
		return config.AssetConfig{}, config.AssetConfig{},
			swaperr.Invalid(swaperr.CodeSameChain, "%s and %s are both on chain %s", from, to, fromAsset.ChainID)
	}
	return fromAsset, toAsset, nil
}

// ValidateAmount requires a strictly positive amount
func (v *Validator) ValidateAmount(field string, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return swaperr.Invalid(swaperr.CodeNonPositiveAmount, "%s must be greater than 0", field)
	}
	return nil
}

// ValidateTimelock requires min <= d and d + safety margin <= max
func (v *Validator) ValidateTimelock(d time.Duration) error {
	if d < v.cfg.Swap.MinTimelock {
		return swaperr.Invalid(swaperr.CodeTimelockTooShort,
			"timelock duration %s is below minimum %s", d, v.cfg.Swap.MinTimelock)
	}
	if d+v.cfg.Swap.SafetyMargin > v.cfg.Swap.MaxTimelock {
		return swaperr.Invalid(swaperr.CodeTimelockTooLong,
			"timelock duration %s plus safety margin %s exceeds maximum %s",
			d, v.cfg.Swap.SafetyMargin, v.cfg.Swap.MaxTimelock)
	}
	return nil
}

// ValidateAddress checks addr is non-zero and well-formed for chainID
func (v *Validator) ValidateAddress(chainID, addr string) error {
	if strings.TrimSpace(addr) == "" {
		return swaperr.Invalid(swaperr.CodeZeroAddress, "address on %s is empty", chainID)
	}

	kind, ok := v.cfg.ChainKind(chainID)
	if !ok {
		return swaperr.Invalid(swaperr.CodeMalformedAddress, "chain %s is not configured", chainID)
	}

	switch kind {
	case "evm":
		return ValidateEVMAddress(addr)
	default:
		return ValidateBech32Address(addr, v.cfg.Cosmos.Bech32Prefix)
	}
}

// ValidateParticipant checks the participant address and that it differs from the initiator
func (v *Validator) ValidateParticipant(chainID, participant, initiator string) error {
	if err := v.ValidateAddress(chainID, participant); err != nil {
		return err
	}
	if sameAddress(participant, initiator) {
		return swaperr.Invalid(swaperr.CodeSelfSwap, "participant %s equals initiator on %s", participant, chainID)
	}
	return nil
}

// ValidateSwap runs every check and reports all violations together.
// initiators maps chain ID to the account that will create the escrow there.
func (v *Validator) ValidateSwap(req SwapRequest, initiators map[string]string) error {
	var errs error

	fromAsset, toAsset, err := v.ValidateAssetPair(req.FromAsset, req.ToAsset)
	errs = multierr.Append(errs, err)
	errs = multierr.Append(errs, v.ValidateAmount("amount", req.Amount))
	errs = multierr.Append(errs, v.ValidateAmount("to_amount", req.ToAmount))
	errs = multierr.Append(errs, v.ValidateTimelock(req.TimelockDuration))

	if err == nil {
		errs = multierr.Append(errs,
			v.ValidateParticipant(toAsset.ChainID, req.Recipient, initiators[toAsset.ChainID]))

		counterparty := v.cfg.CounterpartyAddress(fromAsset.ChainID)
		if cpErr := v.ValidateParticipant(fromAsset.ChainID, counterparty, initiators[fromAsset.ChainID]); cpErr != nil {
			errs = multierr.Append(errs, swaperr.New(swaperr.KindInvalidParameters, "counterparty", cpErr))
		}
	}

	return errs
}

// ValidateEVMAddress checks a 0x-prefixed 20-byte hex address that is not zero
func ValidateEVMAddress(addr string) error {
	if !common.IsHexAddress(addr) {
		return swaperr.Invalid(swaperr.CodeMalformedAddress, "%q is not a hex address", addr)
	}
	if common.HexToAddress(addr) == (common.Address{}) {
		return swaperr.Invalid(swaperr.CodeZeroAddress, "zero address is not allowed")
	}
	return nil
}

// ValidateBech32Address checks a bech32 address with the given prefix and a non-zero payload
func ValidateBech32Address(addr, prefix string) error {
	hrp, data, err := bech32.Decode(addr)
	if err != nil {
		return swaperr.Invalid(swaperr.CodeMalformedAddress, "%q is not bech32: %v", addr, err)
	}
	if hrp != prefix {
		return swaperr.Invalid(swaperr.CodeMalformedAddress, "address prefix %q, want %q", hrp, prefix)
	}
	raw, err := bech32.ConvertBits(data, 5, 8, false)
	if err != nil {
		return swaperr.Invalid(swaperr.CodeMalformedAddress, "invalid bech32 payload: %v", err)
	}
	if len(raw) != 20 && len(raw) != 32 {
		return swaperr.Invalid(swaperr.CodeMalformedAddress, "address payload is %d bytes", len(raw))
	}
	for _, b := range raw {
		if b != 0 {
			return nil
		}
	}
	return swaperr.Invalid(swaperr.CodeZeroAddress, "zero address is not allowed")
}

func sameAddress(a, b string) bool {
	if strings.HasPrefix(a, "0x") || strings.HasPrefix(a, "0X") {
		return strings.EqualFold(a, b)
	}
	return a == b
}
