package cosmos

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cosmossdk.io/math"
	sdk "github.com/cosmos/cosmos-sdk/types"
	"go.uber.org/zap"

	"atomicswap/internal/chain"
	"atomicswap/internal/config"
	"atomicswap/internal/hashlock"
	"atomicswap/internal/models"
	"atomicswap/internal/swaperr"
)

// Adapter implements chain.Adapter on top of the CosmWasm escrow contract
type Adapter struct {
	client   *Client
	contract *EscrowContract
	cfg      *config.CosmosChainConfig
	swapCfg  config.SwapConfig
	logger   *zap.Logger
}

// NewAdapter creates an adapter signing with the client's operator key
func NewAdapter(client *Client, cfg *config.CosmosChainConfig, swapCfg config.SwapConfig, logger *zap.Logger) (*Adapter, error) {
	if _, err := canonicalAddress(cfg.EscrowContractAddress); err != nil {
		return nil, fmt.Errorf("invalid escrow contract address %q: %w", cfg.EscrowContractAddress, err)
	}
	return &Adapter{
		client:   client,
		contract: NewEscrowContract(client.REST(), cfg.EscrowContractAddress),
		cfg:      cfg,
		swapCfg:  swapCfg,
		logger:   logger.Named("cosmos_adapter").With(zap.String("chain_id", cfg.ChainID)),
	}, nil
}

func (a *Adapter) ChainID() string {
	return a.cfg.ChainID
}

func (a *Adapter) Kind() chain.Kind {
	return chain.KindCosmos
}

func (a *Adapter) OperatorAddress() string {
	return a.client.OperatorAddress().String()
}

// Submit signs and broadcasts an escrow transaction
func (a *Adapter) Submit(ctx context.Context, tx chain.Tx) (string, error) {
	switch tx.Action {
	case chain.ActionCreate:
		return a.submitCreate(ctx, tx)
	case chain.ActionClaim:
		return a.submitClaim(ctx, tx)
	case chain.ActionRefund:
		return a.submitRefund(ctx, tx)
	}
	return "", swaperr.Newf(swaperr.KindInvalidParameters, "submit", "unknown action %q", tx.Action)
}

func (a *Adapter) submitCreate(ctx context.Context, tx chain.Tx) (string, error) {
	if _, err := sdk.AccAddressFromBech32(tx.Participant); err != nil {
		return "", swaperr.Invalid(swaperr.CodeMalformedAddress, "participant %q: %v", tx.Participant, err)
	}
	if tx.Amount == nil || tx.Amount.Sign() <= 0 {
		return "", swaperr.Invalid(swaperr.CodeNonPositiveAmount, "amount must be positive")
	}
	if err := sdk.ValidateDenom(tx.Denom); err != nil {
		return "", swaperr.Invalid(swaperr.CodeUnknownAsset, "denom %q: %v", tx.Denom, err)
	}

	escrowID := tx.EscrowID
	if escrowID == "" {
		id, err := ComputeEscrowID(a.contract.Address(), a.OperatorAddress(), tx.Hashlock, tx.TimelockExpiry)
		if err != nil {
			return "", swaperr.New(swaperr.KindInvalidParameters, "create", err)
		}
		escrowID = id
	}

	principal := sdk.NewCoin(tx.Denom, math.NewIntFromBigInt(tx.Amount))
	required := sdk.NewCoins(principal)

	executeMsg, err := a.client.ExecuteContract(a.contract.Address(),
		NewCreateSwapMsg(escrowID, tx.Participant, tx.Hashlock, tx.TimelockExpiry, tx.CrossChainRecipient),
		sdk.NewCoins(principal))
	if err != nil {
		return "", swaperr.New(swaperr.KindInvalidParameters, "create", err)
	}
	msgs := []sdk.Msg{executeMsg}

	// The fee transfer rides in the same transaction as the escrow
	if tx.Fee != nil && tx.Fee.Amount != nil && tx.Fee.Amount.Sign() > 0 {
		if err := sdk.ValidateDenom(tx.Fee.Denom); err != nil {
			return "", swaperr.Invalid(swaperr.CodeFeeMismatch, "fee denom %q: %v", tx.Fee.Denom, err)
		}
		fee := sdk.NewCoin(tx.Fee.Denom, math.NewIntFromBigInt(tx.Fee.Amount))
		feeMsg, err := a.client.BankSend(tx.Fee.Recipient, sdk.NewCoins(fee))
		if err != nil {
			return "", swaperr.Invalid(swaperr.CodeMalformedAddress, "fee recipient: %v", err)
		}
		msgs = append(msgs, feeMsg)
		required = required.Add(fee)
	}

	if err := a.ensureFunds(ctx, required); err != nil {
		return "", err
	}

	txHash, err := a.client.SignAndBroadcast(ctx, msgs...)
	if err != nil {
		return "", classifyBroadcastError("create", err)
	}

	a.logger.Info("Escrow creation sent",
		zap.String("tx_hash", txHash),
		zap.String("escrow_id", escrowID),
		zap.String("amount", principal.String()),
		zap.Int("msgs", len(msgs)))
	return txHash, nil
}

// ensureFunds checks the operator holds every coin the transaction moves
func (a *Adapter) ensureFunds(ctx context.Context, required sdk.Coins) error {
	for _, coin := range required {
		balance, err := a.client.REST().GetBalance(ctx, a.OperatorAddress(), coin.Denom)
		if err != nil {
			return swaperr.Transient("balance", err)
		}
		if balance.Amount.LT(coin.Amount) {
			return swaperr.Invalid(swaperr.CodeInsufficientFunds,
				"operator holds %s, needs %s", balance, coin)
		}
	}
	return nil
}

func (a *Adapter) submitClaim(ctx context.Context, tx chain.Tx) (string, error) {
	info, err := a.openEscrow(ctx, "claim", tx.TargetEscrowID)
	if err != nil {
		return "", err
	}
	if !hashlock.Verify(tx.Secret[:], info.Hashlock) {
		return "", swaperr.Newf(swaperr.KindSecretMismatch, "claim", "secret does not open escrow %s", tx.TargetEscrowID)
	}
	now, err := a.Now(ctx)
	if err != nil {
		return "", err
	}
	if now.Unix() >= info.TimelockExpiry {
		return "", swaperr.Newf(swaperr.KindTimelockViolation, "claim", "escrow %s expired at %d", tx.TargetEscrowID, info.TimelockExpiry)
	}

	msg, err := a.client.ExecuteContract(a.contract.Address(), NewClaimSwapMsg(tx.TargetEscrowID, tx.Secret), nil)
	if err != nil {
		return "", swaperr.New(swaperr.KindInvalidParameters, "claim", err)
	}
	txHash, err := a.client.SignAndBroadcast(ctx, msg)
	if err != nil {
		return "", classifyBroadcastError("claim", err)
	}

	a.logger.Info("Escrow claim sent",
		zap.String("tx_hash", txHash),
		zap.String("escrow_id", tx.TargetEscrowID))
	return txHash, nil
}

func (a *Adapter) submitRefund(ctx context.Context, tx chain.Tx) (string, error) {
	info, err := a.openEscrow(ctx, "refund", tx.TargetEscrowID)
	if err != nil {
		return "", err
	}
	now, err := a.Now(ctx)
	if err != nil {
		return "", err
	}
	if now.Unix() < info.TimelockExpiry {
		return "", swaperr.Newf(swaperr.KindTimelockViolation, "refund", "escrow %s locked until %d", tx.TargetEscrowID, info.TimelockExpiry)
	}

	msg, err := a.client.ExecuteContract(a.contract.Address(), NewRefundSwapMsg(tx.TargetEscrowID), nil)
	if err != nil {
		return "", swaperr.New(swaperr.KindInvalidParameters, "refund", err)
	}
	txHash, err := a.client.SignAndBroadcast(ctx, msg)
	if err != nil {
		return "", classifyBroadcastError("refund", err)
	}

	a.logger.Info("Escrow refund sent",
		zap.String("tx_hash", txHash),
		zap.String("escrow_id", tx.TargetEscrowID))
	return txHash, nil
}

func (a *Adapter) openEscrow(ctx context.Context, op, escrowID string) (*chain.EscrowInfo, error) {
	info, err := a.contract.GetSwap(ctx, escrowID)
	if err != nil {
		return nil, swaperr.Transient(op, err)
	}
	if info == nil {
		return nil, swaperr.Newf(swaperr.KindNotFound, op, "escrow %s does not exist", escrowID)
	}
	if info.State != models.EscrowStateOpen {
		return nil, swaperr.Newf(swaperr.KindNotOpen, op, "escrow %s is %s", escrowID, info.State)
	}
	return info, nil
}

// GetReceipt returns the result of a committed transaction
func (a *Adapter) GetReceipt(ctx context.Context, txHash string) (*chain.Receipt, error) {
	result, err := a.client.GetTx(ctx, txHash)
	if err != nil {
		return nil, swaperr.Transient("get_receipt", err)
	}
	if result == nil {
		return &chain.Receipt{TxHash: txHash}, nil
	}

	receipt := &chain.Receipt{
		TxHash:      txHash,
		Confirmed:   true,
		Success:     result.TxResult.Code == 0,
		BlockHeight: result.Height,
	}
	if receipt.Success {
		receipt.EscrowID = a.contract.escrowIDFromEvents(result.TxResult.Events)
	} else {
		receipt.FailReason = result.TxResult.Log
	}
	return receipt, nil
}

// Now returns the time of the latest block
func (a *Adapter) Now(ctx context.Context) (time.Time, error) {
	_, t, err := a.client.LatestBlock(ctx)
	if err != nil {
		return time.Time{}, swaperr.Transient("now", err)
	}
	return t, nil
}

func (a *Adapter) GetEscrow(ctx context.Context, escrowID string) (*chain.EscrowInfo, error) {
	info, err := a.contract.GetSwap(ctx, escrowID)
	if err != nil {
		return nil, swaperr.Transient("get_escrow", err)
	}
	return info, nil
}

// FindEscrow recomputes the escrow id the operator creates for the terms
func (a *Adapter) FindEscrow(ctx context.Context, tx chain.Tx) (*chain.EscrowInfo, error) {
	escrowID := tx.EscrowID
	if escrowID == "" {
		id, err := ComputeEscrowID(a.contract.Address(), a.OperatorAddress(), tx.Hashlock, tx.TimelockExpiry)
		if err != nil {
			return nil, nil
		}
		escrowID = id
	}
	return a.GetEscrow(ctx, escrowID)
}

// IsClaimable asks the contract to validate the secret and checks the escrow
// is open and unexpired
func (a *Adapter) IsClaimable(ctx context.Context, escrowID string, secret hashlock.Secret) (bool, error) {
	info, err := a.GetEscrow(ctx, escrowID)
	if err != nil || info == nil {
		return false, err
	}
	if info.State != models.EscrowStateOpen {
		return false, nil
	}
	now, err := a.Now(ctx)
	if err != nil {
		return false, err
	}
	if now.Unix() >= info.TimelockExpiry {
		return false, nil
	}
	valid, err := a.contract.ValidateSecret(ctx, escrowID, secret)
	if err != nil {
		return false, swaperr.Transient("is_claimable", err)
	}
	return valid, nil
}

func (a *Adapter) IsRefundable(ctx context.Context, escrowID string) (bool, error) {
	info, err := a.GetEscrow(ctx, escrowID)
	if err != nil || info == nil {
		return false, err
	}
	now, err := a.Now(ctx)
	if err != nil {
		return false, err
	}
	return info.State == models.EscrowStateOpen && now.Unix() >= info.TimelockExpiry, nil
}

func (a *Adapter) Close() error {
	return a.client.Close()
}

func (a *Adapter) pollInterval() time.Duration {
	if a.swapCfg.PollInterval > 0 {
		return a.swapCfg.PollInterval
	}
	return 5 * time.Second
}

// classifyBroadcastError maps CheckTx rejections onto error kinds
func classifyBroadcastError(op string, err error) error {
	var classified *swaperr.Error
	if errors.As(err, &classified) {
		return err
	}
	var rejected *BroadcastError
	if errors.As(err, &rejected) {
		msg := strings.ToLower(rejected.Log)
		switch {
		case strings.Contains(msg, "insufficient funds"):
			return &swaperr.Error{Kind: swaperr.KindInvalidParameters, Code: swaperr.CodeInsufficientFunds, Op: op, Err: err}
		case strings.Contains(msg, "invalid address"):
			return &swaperr.Error{Kind: swaperr.KindInvalidParameters, Code: swaperr.CodeMalformedAddress, Op: op, Err: err}
		case strings.Contains(msg, "already exists"):
			return &swaperr.Error{Kind: swaperr.KindInvalidParameters, Code: swaperr.CodeHashlockInUse, Op: op, Err: err}
		}
	}
	return swaperr.Transient(op, err)
}

var _ chain.Adapter = (*Adapter)(nil)
