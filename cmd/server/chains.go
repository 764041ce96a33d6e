package main

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/btcsuite/btcutil/bech32"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"atomicswap/internal/blockchain/cosmos"
	"atomicswap/internal/blockchain/evm"
	"atomicswap/internal/blockchain/memchain"
	"atomicswap/internal/chain"
	"atomicswap/internal/config"
	"atomicswap/internal/escrow"
)

const (
	simulatedClockInterval = time.Second
	chainCheckTimeout      = 10 * time.Second
)

// newLiveAdapters dials both chains and signs with the operator keys
func newLiveAdapters(cfg *config.Config, logger *zap.Logger) ([]chain.Adapter, error) {
	evmClient, err := evm.NewClient(&cfg.EVM, cfg.Operator.EVMPrivateKey, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create EVM client: %w", err)
	}
	if err := verifyEVMChainID(evmClient, cfg.EVM.ChainID); err != nil {
		evmClient.Close()
		return nil, err
	}
	evmAdapter, err := evm.NewAdapter(evmClient, &cfg.EVM, cfg.Swap, logger)
	if err != nil {
		evmClient.Close()
		return nil, fmt.Errorf("failed to create EVM adapter: %w", err)
	}

	cosmosClient, err := cosmos.NewClient(&cfg.Cosmos, cfg.Operator.CosmosMnemonic, logger)
	if err != nil {
		return nil, multierr.Append(fmt.Errorf("failed to create Cosmos client: %w", err), evmAdapter.Close())
	}
	cosmosAdapter, err := cosmos.NewAdapter(cosmosClient, &cfg.Cosmos, cfg.Swap, logger)
	if err != nil {
		return nil, multierr.Combine(fmt.Errorf("failed to create Cosmos adapter: %w", err), cosmosClient.Close(), evmAdapter.Close())
	}

	logger.Info("Live chain adapters ready",
		zap.String("evm_chain_id", cfg.EVM.ChainID),
		zap.String("evm_operator", evmAdapter.OperatorAddress()),
		zap.String("cosmos_chain_id", cfg.Cosmos.ChainID),
		zap.String("cosmos_operator", cosmosAdapter.OperatorAddress()))

	return []chain.Adapter{evmAdapter, cosmosAdapter}, nil
}

// verifyEVMChainID refuses a node serving a different chain than configured,
// since transactions are signed for the configured chain ID
func verifyEVMChainID(client *evm.Client, configured string) error {
	ctx, cancel := context.WithTimeout(context.Background(), chainCheckTimeout)
	defer cancel()

	networkID, err := client.GetChainIDFromNetwork(ctx)
	if err != nil {
		return fmt.Errorf("failed to get EVM chain ID: %w", err)
	}
	if networkID.String() != configured {
		return fmt.Errorf("EVM node reports chain %s, configured %s", networkID, configured)
	}
	return nil
}

// newSimulatedAdapters runs both chains in memory on wall-clock time. Missing
// counterparty and fee recipient addresses are filled with simulated accounts.
func newSimulatedAdapters(ctx context.Context, cfg *config.Config, logger *zap.Logger) ([]chain.Adapter, error) {
	evmOperator, err := simulatedEVMAddress(cfg.Operator.EVMPrivateKey, 0x01)
	if err != nil {
		return nil, err
	}
	cosmosOperator, err := simulatedCosmosAddress(cfg.Cosmos.Bech32Prefix, 0x01)
	if err != nil {
		return nil, err
	}

	if cfg.EVM.CounterpartyAddress == "" {
		addr, _ := simulatedEVMAddress("", 0x02)
		cfg.EVM.CounterpartyAddress = addr
	}
	if cfg.Cosmos.CounterpartyAddress == "" {
		addr, err := simulatedCosmosAddress(cfg.Cosmos.Bech32Prefix, 0x02)
		if err != nil {
			return nil, err
		}
		cfg.Cosmos.CounterpartyAddress = addr
	}
	if cfg.Fee.Recipient == "" {
		if kind, _ := cfg.ChainKind(cfg.Fee.ChainID); kind == string(chain.KindCosmos) {
			cfg.Fee.Recipient, err = simulatedCosmosAddress(cfg.Cosmos.Bech32Prefix, 0x03)
		} else {
			cfg.Fee.Recipient, err = simulatedEVMAddress("", 0x03)
		}
		if err != nil {
			return nil, err
		}
	}

	now := time.Now()
	evmChain := memchain.NewAdapter(escrow.NewLedger(cfg.EVM.ChainID, now, cfg.Swap.MinTimelock), evmOperator, logger)
	cosmosChain := memchain.NewAdapter(escrow.NewLedger(cfg.Cosmos.ChainID, now, cfg.Swap.MinTimelock), cosmosOperator, logger)
	go evmChain.RunClock(ctx, simulatedClockInterval)
	go cosmosChain.RunClock(ctx, simulatedClockInterval)

	logger.Warn("Running on simulated chains",
		zap.String("evm_chain_id", cfg.EVM.ChainID),
		zap.String("evm_operator", evmOperator),
		zap.String("cosmos_chain_id", cfg.Cosmos.ChainID),
		zap.String("cosmos_operator", cosmosOperator))

	return []chain.Adapter{evmChain, cosmosChain}, nil
}

// simulatedEVMAddress derives the address of privateKey, or a fixed address
// filled with fill when no key is given
func simulatedEVMAddress(privateKey string, fill byte) (string, error) {
	if privateKey == "" {
		return common.BytesToAddress(bytes.Repeat([]byte{fill}, common.AddressLength)).Hex(), nil
	}
	key, err := crypto.HexToECDSA(strings.TrimPrefix(privateKey, "0x"))
	if err != nil {
		return "", fmt.Errorf("invalid private key: %w", err)
	}
	return crypto.PubkeyToAddress(key.PublicKey).Hex(), nil
}

func simulatedCosmosAddress(prefix string, fill byte) (string, error) {
	conv, err := bech32.ConvertBits(bytes.Repeat([]byte{fill}, 20), 8, 5, true)
	if err != nil {
		return "", fmt.Errorf("failed to convert address bits: %w", err)
	}
	addr, err := bech32.Encode(prefix, conv)
	if err != nil {
		return "", fmt.Errorf("failed to encode address: %w", err)
	}
	return addr, nil
}
