package main

import (
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"atomicswap/internal/blockchain/evm"
	"atomicswap/internal/config"
)

// newChainIDServer answers eth_chainId with chainID (hex quantity)
func newChainIDServer(t *testing.T, chainID string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ID     json.RawMessage `json:"id"`
			Method string          `json:"method"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		if req.Method != "eth_chainId" {
			json.NewEncoder(w).Encode(map[string]interface{}{
				"jsonrpc": "2.0",
				"id":      req.ID,
				"error":   map[string]interface{}{"code": -32601, "message": "method not found"},
			})
			return
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"jsonrpc": "2.0",
			"id":      req.ID,
			"result":  chainID,
		})
	}))
}

func TestVerifyEVMChainID(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	privateKey := hex.EncodeToString(crypto.FromECDSA(key))

	tests := []struct {
		name       string
		network    string
		configured string
		wantErr    string
	}{
		{"matching chain", "0xaa36a7", "11155111", ""},
		{"different chain", "0x1", "11155111", "reports chain 1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := newChainIDServer(t, tt.network)
			defer server.Close()

			client, err := evm.NewClient(&config.EVMChainConfig{
				ChainID:     tt.configured,
				RPCEndpoint: server.URL,
			}, privateKey, zap.NewNop())
			require.NoError(t, err)
			defer client.Close()

			err = verifyEVMChainID(client, tt.configured)
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			require.True(t, strings.Contains(err.Error(), tt.wantErr), "got %v", err)
		})
	}
}

func TestSimulatedAddresses(t *testing.T) {
	addr, err := simulatedEVMAddress("", 0x02)
	require.NoError(t, err)
	require.Equal(t, "0x0202020202020202020202020202020202020202", addr)

	cosmosAddr, err := simulatedCosmosAddress("cosmos", 0x01)
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(cosmosAddr, "cosmos1"))
}
