package evm

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"go.uber.org/zap"

	"atomicswap/internal/config"
)

// Client wraps Ethereum client functionality for interacting with EVM chains
type Client struct {
	ethClient   *ethclient.Client
	chainConfig *config.EVMChainConfig
	privateKey  *ecdsa.PrivateKey
	fromAddress common.Address
	logger      *zap.Logger

	// sendMu serializes nonce assignment for the operator account
	sendMu sync.Mutex
}

// NewClient creates a new EVM client for the specified chain
func NewClient(chainCfg *config.EVMChainConfig, operatorPrivateKey string, logger *zap.Logger) (*Client, error) {
	// Connect to RPC endpoint
	ethClient, err := ethclient.Dial(chainCfg.RPCEndpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RPC endpoint %s: %w", chainCfg.RPCEndpoint, err)
	}

	// Parse private key (remove 0x prefix if present)
	privateKeyHex := strings.TrimPrefix(operatorPrivateKey, "0x")
	privateKey, err := crypto.HexToECDSA(privateKeyHex)
	if err != nil {
		ethClient.Close()
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}

	publicKeyECDSA, ok := privateKey.Public().(*ecdsa.PublicKey)
	if !ok {
		ethClient.Close()
		return nil, fmt.Errorf("failed to cast public key to ECDSA")
	}
	fromAddress := crypto.PubkeyToAddress(*publicKeyECDSA)

	logger = logger.Named("evm")
	logger.Info("EVM client initialized",
		zap.String("chain_id", chainCfg.ChainID),
		zap.String("chain_name", chainCfg.Name),
		zap.String("operator_address", fromAddress.Hex()))

	return &Client{
		ethClient:   ethClient,
		chainConfig: chainCfg,
		privateKey:  privateKey,
		fromAddress: fromAddress,
		logger:      logger,
	}, nil
}

// Close closes the underlying RPC connection
func (c *Client) Close() {
	c.ethClient.Close()
}

// ChainID returns the configured chain ID
func (c *Client) ChainID() string {
	return c.chainConfig.ChainID
}

// OperatorAddress returns the operator's address
func (c *Client) OperatorAddress() common.Address {
	return c.fromAddress
}

// GetETHBalance returns the native balance of an address
func (c *Client) GetETHBalance(ctx context.Context, address common.Address) (*big.Int, error) {
	return c.ethClient.BalanceAt(ctx, address, nil)
}

// GetTokenBalance returns the ERC20 balance of an address
func (c *Client) GetTokenBalance(ctx context.Context, token, address common.Address) (*big.Int, error) {
	// ERC20 balanceOf(address) selector: 0x70a08231
	data := append(
		common.Hex2Bytes("70a08231"),
		common.LeftPadBytes(address.Bytes(), 32)...,
	)
	return c.callUint256(ctx, token, data, "balanceOf")
}

// GetAllowance returns how much of token spender may move on behalf of the operator
func (c *Client) GetAllowance(ctx context.Context, token, spender common.Address) (*big.Int, error) {
	// ERC20 allowance(address,address) selector: 0xdd62ed3e
	data := append(common.Hex2Bytes("dd62ed3e"), common.LeftPadBytes(c.fromAddress.Bytes(), 32)...)
	data = append(data, common.LeftPadBytes(spender.Bytes(), 32)...)
	return c.callUint256(ctx, token, data, "allowance")
}

// Approve sends an ERC20 approve(spender, amount) transaction
func (c *Client) Approve(ctx context.Context, token, spender common.Address, amount *big.Int) (common.Hash, error) {
	// ERC20 approve(address,uint256) selector: 0x095ea7b3
	data := append(common.Hex2Bytes("095ea7b3"), common.LeftPadBytes(spender.Bytes(), 32)...)
	data = append(data, common.LeftPadBytes(amount.Bytes(), 32)...)
	return c.SignAndSendTransaction(ctx, token, data, big.NewInt(0))
}

func (c *Client) callUint256(ctx context.Context, to common.Address, data []byte, method string) (*big.Int, error) {
	result, err := c.ethClient.CallContract(ctx, ethereum.CallMsg{
		To:   &to,
		Data: data,
	}, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to call %s: %w", method, err)
	}
	if len(result) < 32 {
		return nil, fmt.Errorf("invalid %s response length: %d", method, len(result))
	}
	return new(big.Int).SetBytes(result[:32]), nil
}

// CallContract executes a read-only call against the latest block
func (c *Client) CallContract(ctx context.Context, to common.Address, data []byte) ([]byte, error) {
	return c.ethClient.CallContract(ctx, ethereum.CallMsg{
		From: c.fromAddress,
		To:   &to,
		Data: data,
	}, nil)
}

// LatestHeader returns the header of the latest block
func (c *Client) LatestHeader(ctx context.Context) (*types.Header, error) {
	return c.ethClient.HeaderByNumber(ctx, nil)
}

// HeaderByNumber returns the header of a specific block
func (c *Client) HeaderByNumber(ctx context.Context, number uint64) (*types.Header, error) {
	return c.ethClient.HeaderByNumber(ctx, new(big.Int).SetUint64(number))
}

// FilterLogs returns the logs matching query
func (c *Client) FilterLogs(ctx context.Context, query ethereum.FilterQuery) ([]types.Log, error) {
	return c.ethClient.FilterLogs(ctx, query)
}

// GetChainIDFromNetwork returns the chain ID reported by the node
func (c *Client) GetChainIDFromNetwork(ctx context.Context) (*big.Int, error) {
	return c.ethClient.ChainID(ctx)
}

// WaitForTransaction waits for a transaction to be mined
func (c *Client) WaitForTransaction(ctx context.Context, txHash common.Hash, timeout time.Duration) (*types.Receipt, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("timeout waiting for transaction %s", txHash.Hex())
		case <-ticker.C:
			receipt, err := c.ethClient.TransactionReceipt(ctx, txHash)
			if err == nil && receipt != nil {
				if receipt.Status == types.ReceiptStatusFailed {
					return receipt, fmt.Errorf("transaction failed: %s", txHash.Hex())
				}
				return receipt, nil
			}
			// Transaction not yet mined, continue waiting
		}
	}
}

// GetTransactionReceipt gets the receipt for a transaction. It returns nil, nil
// while the transaction is not mined.
func (c *Client) GetTransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	receipt, err := c.ethClient.TransactionReceipt(ctx, txHash)
	if err == ethereum.NotFound {
		return nil, nil
	}
	return receipt, err
}

// EstimateGas estimates gas for a call from the operator
func (c *Client) EstimateGas(ctx context.Context, to common.Address, data []byte, value *big.Int) (uint64, error) {
	return c.ethClient.EstimateGas(ctx, ethereum.CallMsg{
		From:  c.fromAddress,
		To:    &to,
		Data:  data,
		Value: value,
	})
}

// SignAndSendTransaction creates, signs, and sends a transaction
func (c *Client) SignAndSendTransaction(
	ctx context.Context,
	to common.Address,
	data []byte,
	value *big.Int,
) (common.Hash, error) {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	chainID, err := c.GetChainIDFromNetwork(ctx)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to get chain ID: %w", err)
	}

	nonce, err := c.ethClient.PendingNonceAt(ctx, c.fromAddress)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to get nonce: %w", err)
	}

	gasPrice, err := c.ethClient.SuggestGasPrice(ctx)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to suggest gas price: %w", err)
	}

	// Estimation also surfaces contract reverts before anything is broadcast
	gasLimit, err := c.EstimateGas(ctx, to, data, value)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to estimate gas: %w", err)
	}

	// Add 20% buffer
	gasLimit = gasLimit * 120 / 100

	tx := types.NewTransaction(nonce, to, value, gasLimit, gasPrice, data)

	signedTx, err := types.SignTx(tx, types.NewEIP155Signer(chainID), c.privateKey)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to sign transaction: %w", err)
	}

	if err := c.ethClient.SendTransaction(ctx, signedTx); err != nil {
		return common.Hash{}, fmt.Errorf("failed to send transaction: %w", err)
	}

	c.logger.Info("Transaction sent",
		zap.String("tx_hash", signedTx.Hash().Hex()),
		zap.String("to", to.Hex()),
		zap.Uint64("nonce", nonce),
		zap.Uint64("gas_limit", gasLimit))

	return signedTx.Hash(), nil
}
