package chain

import (
	"context"
	"fmt"
	"time"

	"atomicswap/internal/swaperr"
)

// DefaultReceiptPollInterval is how often WaitForReceipt polls
const DefaultReceiptPollInterval = 2 * time.Second

// WaitForReceipt polls the adapter until txHash is confirmed or timeout elapses.
// A confirmed but failed transaction is returned together with an error.
func WaitForReceipt(ctx context.Context, a Adapter, txHash string, timeout, interval time.Duration) (*Receipt, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if interval <= 0 {
		interval = DefaultReceiptPollInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		receipt, err := a.GetReceipt(ctx, txHash)
		if err == nil && receipt != nil && receipt.Confirmed {
			if !receipt.Success {
				return receipt, fmt.Errorf("transaction %s failed on %s: %s", txHash, a.ChainID(), receipt.FailReason)
			}
			return receipt, nil
		}

		select {
		case <-ctx.Done():
			return nil, swaperr.Transient("wait_receipt",
				fmt.Errorf("timeout waiting for transaction %s on %s", txHash, a.ChainID()))
		case <-ticker.C:
		}
	}
}
