package cosmos

import (
	"context"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"cosmossdk.io/math"
	rpchttp "github.com/cometbft/cometbft/rpc/client/http"
	coretypes "github.com/cometbft/cometbft/rpc/core/types"
	"github.com/cosmos/cosmos-sdk/client"
	"github.com/cosmos/cosmos-sdk/codec"
	codectypes "github.com/cosmos/cosmos-sdk/codec/types"
	cryptocodec "github.com/cosmos/cosmos-sdk/crypto/codec"
	"github.com/cosmos/cosmos-sdk/crypto/hd"
	"github.com/cosmos/cosmos-sdk/crypto/keyring"
	cryptotypes "github.com/cosmos/cosmos-sdk/crypto/types"
	sdk "github.com/cosmos/cosmos-sdk/types"
	"github.com/cosmos/cosmos-sdk/types/tx/signing"
	authsigning "github.com/cosmos/cosmos-sdk/x/auth/signing"
	authtx "github.com/cosmos/cosmos-sdk/x/auth/tx"
	authtypes "github.com/cosmos/cosmos-sdk/x/auth/types"
	banktypes "github.com/cosmos/cosmos-sdk/x/bank/types"
	"go.uber.org/zap"

	wasmtypes "github.com/CosmWasm/wasmd/x/wasm/types"

	"atomicswap/internal/config"
)

const (
	DefaultGasLimit = 500000
	DefaultFeeDenom = "uatom"
	DefaultGasPrice = 0.025

	operatorKey = "operator"
)

// ErrNotFound is returned by REST queries for missing accounts or contract state
var ErrNotFound = errors.New("not found")

// Client wraps Cosmos SDK client functionality for the escrow chain
type Client struct {
	rpcClient    *rpchttp.HTTP
	rest         *RESTClient
	cdc          codec.Codec
	txConfig     client.TxConfig
	keyring      keyring.Keyring
	operatorAddr sdk.AccAddress
	pubKey       cryptotypes.PubKey
	chainID      string
	cfg          *config.CosmosChainConfig
	logger       *zap.Logger

	// broadcastMu serializes sequence assignment for the operator account
	broadcastMu sync.Mutex
}

// NewClient creates a new Cosmos client
func NewClient(cfg *config.CosmosChainConfig, operatorMnemonic string, logger *zap.Logger) (*Client, error) {
	prefix := cfg.Bech32Prefix
	sdkConfig := sdk.GetConfig()
	sdkConfig.SetBech32PrefixForAccount(prefix, prefix+"pub")
	sdkConfig.SetBech32PrefixForValidator(prefix+"valoper", prefix+"valoperpub")
	sdkConfig.SetBech32PrefixForConsensusNode(prefix+"valcons", prefix+"valconspub")

	rpcClient, err := rpchttp.New(cfg.RPCEndpoint, "/websocket")
	if err != nil {
		return nil, fmt.Errorf("failed to create RPC client: %w", err)
	}

	status, err := rpcClient.Status(context.Background())
	if err != nil {
		return nil, fmt.Errorf("failed to get chain status: %w", err)
	}
	chainID := status.NodeInfo.Network
	if cfg.ChainID != "" && cfg.ChainID != chainID {
		return nil, fmt.Errorf("node reports chain %s, configured %s", chainID, cfg.ChainID)
	}

	interfaceRegistry := codectypes.NewInterfaceRegistry()
	cryptocodec.RegisterInterfaces(interfaceRegistry)
	authtypes.RegisterInterfaces(interfaceRegistry)
	banktypes.RegisterInterfaces(interfaceRegistry)
	wasmtypes.RegisterInterfaces(interfaceRegistry)
	cdc := codec.NewProtoCodec(interfaceRegistry)

	txConfig := authtx.NewTxConfig(cdc, authtx.DefaultSignModes)

	kr := keyring.NewInMemory(cdc)

	hdPath := hd.CreateHDPath(cfg.CoinType, 0, 0).String()
	record, err := kr.NewAccount(operatorKey, operatorMnemonic, "", hdPath, hd.Secp256k1)
	if err != nil {
		return nil, fmt.Errorf("failed to create key from mnemonic: %w", err)
	}

	pubKey, err := record.GetPubKey()
	if err != nil {
		return nil, fmt.Errorf("failed to get public key: %w", err)
	}
	operatorAddr := sdk.AccAddress(pubKey.Address())

	// Use configured REST endpoint, or derive from RPC endpoint as fallback
	restEndpoint := cfg.RESTEndpoint
	if restEndpoint == "" {
		restEndpoint = strings.Replace(cfg.RPCEndpoint, ":26657", ":1317", 1)
	}

	logger = logger.Named("cosmos")
	logger.Info("Cosmos client initialized",
		zap.String("chain_id", chainID),
		zap.String("rpc_endpoint", cfg.RPCEndpoint),
		zap.String("operator_address", operatorAddr.String()))

	return &Client{
		rpcClient:    rpcClient,
		rest:         NewRESTClient(restEndpoint, 15*time.Second),
		cdc:          cdc,
		txConfig:     txConfig,
		keyring:      kr,
		operatorAddr: operatorAddr,
		pubKey:       pubKey,
		chainID:      chainID,
		cfg:          cfg,
		logger:       logger,
	}, nil
}

// Close closes the RPC client connection
func (c *Client) Close() error {
	if !c.rpcClient.IsRunning() {
		return nil
	}
	return c.rpcClient.Stop()
}

// OperatorAddress returns the operator's address
func (c *Client) OperatorAddress() sdk.AccAddress {
	return c.operatorAddr
}

// ChainID returns the chain ID
func (c *Client) ChainID() string {
	return c.chainID
}

// REST returns the LCD client used for queries
func (c *Client) REST() *RESTClient {
	return c.rest
}

// ExecuteContract builds a MsgExecuteContract from the operator
func (c *Client) ExecuteContract(contractAddr string, executeMsg interface{}, funds sdk.Coins) (sdk.Msg, error) {
	executeMsgBytes, err := json.Marshal(executeMsg)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal execute message: %w", err)
	}

	return &wasmtypes.MsgExecuteContract{
		Sender:   c.operatorAddr.String(),
		Contract: contractAddr,
		Msg:      executeMsgBytes,
		Funds:    funds,
	}, nil
}

// BankSend builds a MsgSend from the operator
func (c *Client) BankSend(toAddress string, amount sdk.Coins) (sdk.Msg, error) {
	to, err := sdk.AccAddressFromBech32(toAddress)
	if err != nil {
		return nil, fmt.Errorf("invalid recipient %q: %w", toAddress, err)
	}
	return banktypes.NewMsgSend(c.operatorAddr, to, amount), nil
}

// SignAndBroadcast signs all msgs into one transaction and broadcasts it.
// The messages execute atomically.
func (c *Client) SignAndBroadcast(ctx context.Context, msgs ...sdk.Msg) (string, error) {
	c.broadcastMu.Lock()
	defer c.broadcastMu.Unlock()

	accountNum, sequence, err := c.rest.GetAccountInfo(ctx, c.operatorAddr.String())
	if err != nil {
		return "", fmt.Errorf("failed to get account info: %w", err)
	}

	txBuilder := c.txConfig.NewTxBuilder()

	if err := txBuilder.SetMsgs(msgs...); err != nil {
		return "", fmt.Errorf("failed to set messages: %w", err)
	}

	gasLimit := c.cfg.GasLimit
	if gasLimit == 0 {
		gasLimit = DefaultGasLimit
	}
	gasPrice := c.cfg.GasPrice
	if gasPrice <= 0 {
		gasPrice = DefaultGasPrice
	}
	feeDenom := c.cfg.FeeDenom
	if feeDenom == "" {
		feeDenom = DefaultFeeDenom
	}
	feeAmount := int64(float64(gasLimit) * gasPrice)

	txBuilder.SetGasLimit(gasLimit)
	txBuilder.SetFeeAmount(sdk.NewCoins(sdk.NewCoin(feeDenom, math.NewInt(feeAmount))))
	txBuilder.SetMemo("")

	// Placeholder signature to obtain the sign bytes
	sigV2 := signing.SignatureV2{
		PubKey: c.pubKey,
		Data: &signing.SingleSignatureData{
			SignMode:  signing.SignMode_SIGN_MODE_DIRECT,
			Signature: nil,
		},
		Sequence: sequence,
	}
	if err := txBuilder.SetSignatures(sigV2); err != nil {
		return "", fmt.Errorf("failed to set signature placeholder: %w", err)
	}

	signerData := authsigning.SignerData{
		ChainID:       c.chainID,
		AccountNumber: accountNum,
		Sequence:      sequence,
	}

	signBytes, err := authsigning.GetSignBytesAdapter(
		ctx,
		c.txConfig.SignModeHandler(),
		signing.SignMode_SIGN_MODE_DIRECT,
		signerData,
		txBuilder.GetTx(),
	)
	if err != nil {
		return "", fmt.Errorf("failed to get sign bytes: %w", err)
	}

	sigBytes, _, err := c.keyring.Sign(operatorKey, signBytes, signing.SignMode_SIGN_MODE_DIRECT)
	if err != nil {
		return "", fmt.Errorf("failed to sign transaction: %w", err)
	}

	sigV2.Data = &signing.SingleSignatureData{
		SignMode:  signing.SignMode_SIGN_MODE_DIRECT,
		Signature: sigBytes,
	}
	if err := txBuilder.SetSignatures(sigV2); err != nil {
		return "", fmt.Errorf("failed to set final signature: %w", err)
	}

	txBytes, err := c.txConfig.TxEncoder()(txBuilder.GetTx())
	if err != nil {
		return "", fmt.Errorf("failed to encode transaction: %w", err)
	}

	resp, err := c.rpcClient.BroadcastTxSync(ctx, txBytes)
	if err != nil {
		return "", fmt.Errorf("failed to broadcast transaction: %w", err)
	}

	if resp.Code != 0 {
		return "", &BroadcastError{Code: resp.Code, Log: resp.Log}
	}

	txHash := strings.ToUpper(hex.EncodeToString(resp.Hash))
	c.logger.Info("Transaction broadcast successfully",
		zap.String("tx_hash", txHash),
		zap.Int("msgs", len(msgs)),
		zap.Uint64("sequence", sequence))

	return txHash, nil
}

// BroadcastError is a CheckTx rejection
type BroadcastError struct {
	Code uint32
	Log  string
}

func (e *BroadcastError) Error() string {
	return fmt.Sprintf("transaction failed with code %d: %s", e.Code, e.Log)
}

// GetTx returns a committed transaction, or nil, nil while it is unknown
func (c *Client) GetTx(ctx context.Context, txHash string) (*coretypes.ResultTx, error) {
	hashBytes, err := hex.DecodeString(txHash)
	if err != nil {
		return nil, fmt.Errorf("invalid tx hash: %w", err)
	}

	result, err := c.rpcClient.Tx(ctx, hashBytes, false)
	if err != nil {
		if strings.Contains(err.Error(), "not found") {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get transaction: %w", err)
	}
	return result, nil
}

// LatestBlock returns the height and time of the latest block
func (c *Client) LatestBlock(ctx context.Context) (int64, time.Time, error) {
	status, err := c.rpcClient.Status(ctx)
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("failed to get chain status: %w", err)
	}
	return status.SyncInfo.LatestBlockHeight, status.SyncInfo.LatestBlockTime.UTC(), nil
}

// BlockTime returns the header time of the block at height
func (c *Client) BlockTime(ctx context.Context, height int64) (time.Time, error) {
	block, err := c.rpcClient.Block(ctx, &height)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to get block %d: %w", height, err)
	}
	return block.Block.Header.Time.UTC(), nil
}

// SearchTxs returns committed transactions matching query, oldest first
func (c *Client) SearchTxs(ctx context.Context, query string, perPage int) ([]*coretypes.ResultTx, error) {
	var out []*coretypes.ResultTx
	for page := 1; ; page++ {
		p := page
		pp := perPage
		result, err := c.rpcClient.TxSearch(ctx, query, false, &p, &pp, "asc")
		if err != nil {
			return nil, fmt.Errorf("failed to search transactions: %w", err)
		}
		out = append(out, result.Txs...)
		if len(result.Txs) == 0 || len(out) >= result.TotalCount {
			return out, nil
		}
	}
}

// ==================== REST ====================

// RESTClient queries the LCD endpoint of a Cosmos chain
type RESTClient struct {
	endpoint   string
	httpClient *http.Client
}

// NewRESTClient creates a REST client with the given request timeout
func NewRESTClient(endpoint string, timeout time.Duration) *RESTClient {
	return &RESTClient{
		endpoint:   strings.TrimRight(endpoint, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (r *RESTClient) get(ctx context.Context, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.endpoint+path, nil)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to query %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		if resp.StatusCode == http.StatusNotFound || strings.Contains(string(body), "not found") {
			return fmt.Errorf("%w: %s", ErrNotFound, string(body))
		}
		return fmt.Errorf("query failed with status %d: %s", resp.StatusCode, string(body))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// GetBalance returns the balance of a specific denom for an address
func (r *RESTClient) GetBalance(ctx context.Context, address string, denom string) (sdk.Coin, error) {
	var result struct {
		Balance struct {
			Denom  string `json:"denom"`
			Amount string `json:"amount"`
		} `json:"balance"`
	}

	path := fmt.Sprintf("/cosmos/bank/v1beta1/balances/%s/by_denom?denom=%s", address, denom)
	if err := r.get(ctx, path, &result); err != nil {
		return sdk.Coin{}, fmt.Errorf("failed to query balance: %w", err)
	}

	amount, ok := math.NewIntFromString(result.Balance.Amount)
	if !ok {
		return sdk.NewCoin(denom, math.ZeroInt()), nil
	}
	return sdk.NewCoin(denom, amount), nil
}

// GetAccountInfo returns account number and sequence for transaction signing
func (r *RESTClient) GetAccountInfo(ctx context.Context, address string) (uint64, uint64, error) {
	var result struct {
		Account struct {
			AccountNumber string `json:"account_number"`
			Sequence      string `json:"sequence"`
		} `json:"account"`
	}

	if err := r.get(ctx, "/cosmos/auth/v1beta1/accounts/"+address, &result); err != nil {
		return 0, 0, fmt.Errorf("failed to query account: %w", err)
	}

	accountNum, err := strconv.ParseUint(result.Account.AccountNumber, 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid account number %q: %w", result.Account.AccountNumber, err)
	}
	sequence, err := strconv.ParseUint(result.Account.Sequence, 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid sequence %q: %w", result.Account.Sequence, err)
	}
	return accountNum, sequence, nil
}

// QueryContract runs a smart query against a CosmWasm contract
func (r *RESTClient) QueryContract(ctx context.Context, contractAddr string, queryMsg interface{}) ([]byte, error) {
	queryMsgBytes, err := json.Marshal(queryMsg)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal query message: %w", err)
	}

	queryBase64 := base64.StdEncoding.EncodeToString(queryMsgBytes)

	var result struct {
		Data json.RawMessage `json:"data"`
	}
	path := fmt.Sprintf("/cosmwasm/wasm/v1/contract/%s/smart/%s", contractAddr, queryBase64)
	if err := r.get(ctx, path, &result); err != nil {
		return nil, fmt.Errorf("failed to query contract: %w", err)
	}
	return result.Data, nil
}
