package evm

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	"atomicswap/internal/chain"
	"atomicswap/internal/config"
	"atomicswap/internal/hashlock"
	"atomicswap/internal/models"
	"atomicswap/internal/swaperr"
)

// Adapter implements chain.Adapter on top of the CrossChainSwap HTLC contract
type Adapter struct {
	client  *Client
	htlc    *HTLC
	cfg     *config.EVMChainConfig
	swapCfg config.SwapConfig
	logger  *zap.Logger
}

// NewAdapter creates an adapter signing with the client's operator key
func NewAdapter(client *Client, cfg *config.EVMChainConfig, swapCfg config.SwapConfig, logger *zap.Logger) (*Adapter, error) {
	if !common.IsHexAddress(cfg.HTLCContractAddress) {
		return nil, fmt.Errorf("invalid HTLC contract address: %q", cfg.HTLCContractAddress)
	}
	htlc, err := NewHTLC(common.HexToAddress(cfg.HTLCContractAddress))
	if err != nil {
		return nil, err
	}
	return &Adapter{
		client:  client,
		htlc:    htlc,
		cfg:     cfg,
		swapCfg: swapCfg,
		logger:  logger.Named("evm_adapter").With(zap.String("chain_id", cfg.ChainID)),
	}, nil
}

func (a *Adapter) ChainID() string {
	return a.cfg.ChainID
}

func (a *Adapter) Kind() chain.Kind {
	return chain.KindEVM
}

func (a *Adapter) OperatorAddress() string {
	return a.client.OperatorAddress().Hex()
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
	if !common.IsHexAddress(tx.Participant) {
		return "", swaperr.Invalid(swaperr.CodeMalformedAddress, "participant %q is not an EVM address", tx.Participant)
	}
	token, err := tokenAddress(tx.Denom)
	if err != nil {
		return "", swaperr.Invalid(swaperr.CodeUnknownAsset, "%v", err)
	}
	if tx.Amount == nil || tx.Amount.Sign() <= 0 {
		return "", swaperr.Invalid(swaperr.CodeNonPositiveAmount, "amount must be positive")
	}

	params := InitiateParams{
		Participant:     common.HexToAddress(tx.Participant),
		Token:           token,
		Amount:          tx.Amount,
		Hashlock:        tx.Hashlock,
		Timelock:        big.NewInt(tx.TimelockExpiry),
		CosmosRecipient: tx.CrossChainRecipient,
	}
	if tx.Fee != nil && tx.Fee.Amount != nil && tx.Fee.Amount.Sign() > 0 {
		if tx.Fee.Denom != "" && !strings.EqualFold(tx.Fee.Denom, NativeDenom) {
			return "", swaperr.Invalid(swaperr.CodeFeeMismatch, "fee denom %s is not the native currency", tx.Fee.Denom)
		}
		if !common.IsHexAddress(tx.Fee.Recipient) {
			return "", swaperr.Invalid(swaperr.CodeMalformedAddress, "fee recipient %q is not an EVM address", tx.Fee.Recipient)
		}
		params.FeeRecipient = common.HexToAddress(tx.Fee.Recipient)
		params.Fee = tx.Fee.Amount
	}

	if err := a.ensureFunds(ctx, params); err != nil {
		return "", err
	}

	data, err := a.htlc.PackInitiate(params)
	if err != nil {
		return "", swaperr.New(swaperr.KindInvalidParameters, "create", err)
	}

	txHash, err := a.client.SignAndSendTransaction(ctx, a.htlc.Address(), data, params.Value())
	if err != nil {
		return "", classifySendError("create", err)
	}

	if id, err := ComputeSwapID(a.htlc.Address(), a.client.OperatorAddress(), params.Participant, tx.Hashlock, tx.TimelockExpiry); err == nil {
		a.logger.Info("Escrow creation sent",
			zap.String("tx_hash", txHash.Hex()),
			zap.String("expected_escrow_id", id.Hex()),
			zap.String("denom", denomOf(token)),
			zap.String("amount", tx.Amount.String()))
	}

	return txHash.Hex(), nil
}

// ensureFunds checks the operator balance and, for tokens, the HTLC allowance.
// A missing allowance is granted and awaited before the escrow is created.
func (a *Adapter) ensureFunds(ctx context.Context, params InitiateParams) error {
	operator := a.client.OperatorAddress()

	native, err := a.client.GetETHBalance(ctx, operator)
	if err != nil {
		return swaperr.Transient("balance", err)
	}
	if native.Cmp(params.Value()) < 0 {
		return swaperr.Invalid(swaperr.CodeInsufficientFunds,
			"operator holds %s wei, needs %s", native, params.Value())
	}

	if params.Token == (common.Address{}) {
		return nil
	}

	balance, err := a.client.GetTokenBalance(ctx, params.Token, operator)
	if err != nil {
		return swaperr.Transient("balance", err)
	}
	if balance.Cmp(params.Amount) < 0 {
		return swaperr.Invalid(swaperr.CodeInsufficientFunds,
			"operator holds %s of %s, needs %s", balance, params.Token.Hex(), params.Amount)
	}

	allowance, err := a.client.GetAllowance(ctx, params.Token, a.htlc.Address())
	if err != nil {
		return swaperr.Transient("allowance", err)
	}
	if allowance.Cmp(params.Amount) >= 0 {
		return nil
	}

	a.logger.Info("Approving HTLC contract",
		zap.String("token", params.Token.Hex()),
		zap.String("amount", params.Amount.String()))

	approveHash, err := a.client.Approve(ctx, params.Token, a.htlc.Address(), params.Amount)
	if err != nil {
		return classifySendError("approve", err)
	}
	if _, err := a.client.WaitForTransaction(ctx, approveHash, a.txTimeout()); err != nil {
		return swaperr.Transient("approve", err)
	}
	return nil
}

func (a *Adapter) submitClaim(ctx context.Context, tx chain.Tx) (string, error) {
	id, info, err := a.openEscrow(ctx, "claim", tx.TargetEscrowID)
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

	data, err := a.htlc.PackClaim(id, tx.Secret)
	if err != nil {
		return "", swaperr.New(swaperr.KindInvalidParameters, "claim", err)
	}
	txHash, err := a.client.SignAndSendTransaction(ctx, a.htlc.Address(), data, big.NewInt(0))
	if err != nil {
		return "", classifySendError("claim", err)
	}

	a.logger.Info("Escrow claim sent",
		zap.String("tx_hash", txHash.Hex()),
		zap.String("escrow_id", tx.TargetEscrowID))
	return txHash.Hex(), nil
}

func (a *Adapter) submitRefund(ctx context.Context, tx chain.Tx) (string, error) {
	id, info, err := a.openEscrow(ctx, "refund", tx.TargetEscrowID)
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

	data, err := a.htlc.PackRefund(id)
	if err != nil {
		return "", swaperr.New(swaperr.KindInvalidParameters, "refund", err)
	}
	txHash, err := a.client.SignAndSendTransaction(ctx, a.htlc.Address(), data, big.NewInt(0))
	if err != nil {
		return "", classifySendError("refund", err)
	}

	a.logger.Info("Escrow refund sent",
		zap.String("tx_hash", txHash.Hex()),
		zap.String("escrow_id", tx.TargetEscrowID))
	return txHash.Hex(), nil
}

// openEscrow loads an escrow that must exist and be open
func (a *Adapter) openEscrow(ctx context.Context, op, escrowID string) (common.Hash, *chain.EscrowInfo, error) {
	id, err := parseSwapID(escrowID)
	if err != nil {
		return common.Hash{}, nil, swaperr.New(swaperr.KindNotFound, op, err)
	}
	info, err := a.getSwap(ctx, id)
	if err != nil {
		return common.Hash{}, nil, swaperr.Transient(op, err)
	}
	if info == nil {
		return common.Hash{}, nil, swaperr.Newf(swaperr.KindNotFound, op, "escrow %s does not exist", escrowID)
	}
	if info.State != models.EscrowStateOpen {
		return common.Hash{}, nil, swaperr.Newf(swaperr.KindNotOpen, op, "escrow %s is %s", escrowID, info.State)
	}
	return id, info, nil
}

// GetReceipt returns the receipt of a mined transaction
func (a *Adapter) GetReceipt(ctx context.Context, txHash string) (*chain.Receipt, error) {
	hash := common.HexToHash(txHash)
	receipt, err := a.client.GetTransactionReceipt(ctx, hash)
	if err != nil {
		return nil, swaperr.Transient("get_receipt", err)
	}
	if receipt == nil {
		return &chain.Receipt{TxHash: txHash}, nil
	}
	return a.toReceipt(txHash, receipt), nil
}

func (a *Adapter) toReceipt(txHash string, receipt *types.Receipt) *chain.Receipt {
	out := &chain.Receipt{
		TxHash:    txHash,
		Confirmed: true,
		Success:   receipt.Status == types.ReceiptStatusSuccessful,
		EscrowID:  a.htlc.EscrowIDFromReceipt(receipt),
	}
	if receipt.BlockNumber != nil {
		out.BlockHeight = receipt.BlockNumber.Int64()
	}
	if !out.Success {
		out.FailReason = "execution reverted"
	}
	return out
}

// Now returns the timestamp of the latest block
func (a *Adapter) Now(ctx context.Context) (time.Time, error) {
	header, err := a.client.LatestHeader(ctx)
	if err != nil {
		return time.Time{}, swaperr.Transient("now", err)
	}
	return time.Unix(int64(header.Time), 0).UTC(), nil
}

func (a *Adapter) GetEscrow(ctx context.Context, escrowID string) (*chain.EscrowInfo, error) {
	id, err := parseSwapID(escrowID)
	if err != nil {
		return nil, nil
	}
	info, err := a.getSwap(ctx, id)
	if err != nil {
		return nil, swaperr.Transient("get_escrow", err)
	}
	return info, nil
}

// FindEscrow recomputes the contract's swap id from the create terms
func (a *Adapter) FindEscrow(ctx context.Context, tx chain.Tx) (*chain.EscrowInfo, error) {
	if !common.IsHexAddress(tx.Participant) {
		return nil, nil
	}
	id, err := ComputeSwapID(a.htlc.Address(), a.client.OperatorAddress(),
		common.HexToAddress(tx.Participant), tx.Hashlock, tx.TimelockExpiry)
	if err != nil {
		return nil, nil
	}
	info, err := a.getSwap(ctx, id)
	if err != nil {
		return nil, swaperr.Transient("find_escrow", err)
	}
	return info, nil
}

func (a *Adapter) getSwap(ctx context.Context, id common.Hash) (*chain.EscrowInfo, error) {
	data, err := a.htlc.PackGetSwap(id)
	if err != nil {
		return nil, err
	}
	result, err := a.client.CallContract(ctx, a.htlc.Address(), data)
	if err != nil {
		return nil, fmt.Errorf("failed to call getSwap: %w", err)
	}
	return a.htlc.UnpackSwap(id, result)
}

func (a *Adapter) IsClaimable(ctx context.Context, escrowID string, secret hashlock.Secret) (bool, error) {
	info, err := a.GetEscrow(ctx, escrowID)
	if err != nil || info == nil {
		return false, err
	}
	now, err := a.Now(ctx)
	if err != nil {
		return false, err
	}
	return info.State == models.EscrowStateOpen &&
		now.Unix() < info.TimelockExpiry &&
		hashlock.Verify(secret[:], info.Hashlock), nil
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
	a.client.Close()
	return nil
}

func (a *Adapter) txTimeout() time.Duration {
	if a.swapCfg.TxTimeout > 0 {
		return a.swapCfg.TxTimeout
	}
	return 2 * time.Minute
}

func (a *Adapter) pollInterval() time.Duration {
	if a.swapCfg.PollInterval > 0 {
		return a.swapCfg.PollInterval
	}
	return 5 * time.Second
}

// classifySendError maps node rejections onto error kinds. Reverts that
// survived the pre-flight checks are treated as races and retried.
func classifySendError(op string, err error) error {
	var classified *swaperr.Error
	if errors.As(err, &classified) {
		return err
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "insufficient funds"):
		return &swaperr.Error{Kind: swaperr.KindInvalidParameters, Code: swaperr.CodeInsufficientFunds, Op: op, Err: err}
	case strings.Contains(msg, "hashlock already used"), strings.Contains(msg, "swap already exists"):
		return &swaperr.Error{Kind: swaperr.KindInvalidParameters, Code: swaperr.CodeHashlockInUse, Op: op, Err: err}
	}
	return swaperr.Transient(op, err)
}

var _ chain.Adapter = (*Adapter)(nil)
