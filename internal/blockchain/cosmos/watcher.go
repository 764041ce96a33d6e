package cosmos

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"atomicswap/internal/chain"
)

const txSearchPageSize = 100

// WatchEvents polls the escrow contract's transactions with TxSearch over
// height ranges. The channel is closed on the first RPC failure; callers
// resubscribe from the last height.
func (a *Adapter) WatchEvents(ctx context.Context, filter chain.EventFilter) (<-chan chain.Event, error) {
	next, _, err := a.client.LatestBlock(ctx)
	if err != nil {
		return nil, err
	}
	if filter.FromHeight > 0 {
		next = filter.FromHeight
	}

	out := make(chan chain.Event, 64)
	go func() {
		defer close(out)

		ticker := time.NewTicker(a.pollInterval())
		defer ticker.Stop()

		for {
			var err error
			next, err = a.pollTxs(ctx, next, out)
			if err != nil {
				if ctx.Err() == nil {
					a.logger.Warn("Transaction polling failed", zap.Int64("from_height", next), zap.Error(err))
				}
				return
			}

			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()
	return out, nil
}

// pollTxs emits escrow events committed in [from, latest], then a new_block
// tick with the latest block time. It returns the next height to scan.
func (a *Adapter) pollTxs(ctx context.Context, from int64, out chan<- chain.Event) (int64, error) {
	latest, latestTime, err := a.client.LatestBlock(ctx)
	if err != nil {
		return from, err
	}

	if from <= latest {
		txs, err := a.client.SearchTxs(ctx, a.contract.heightQuery(from, latest), txSearchPageSize)
		if err != nil {
			return from, err
		}

		blockTimes := map[int64]time.Time{latest: latestTime}
		for _, tx := range txs {
			if tx.TxResult.Code != 0 {
				continue
			}
			events := a.contract.ParseEvents(tx.Height, tx.Hash.String(), tx.TxResult.Events)
			if len(events) == 0 {
				continue
			}

			t, ok := blockTimes[tx.Height]
			if !ok {
				t, err = a.client.BlockTime(ctx, tx.Height)
				if err != nil {
					return from, fmt.Errorf("failed to get block time: %w", err)
				}
				blockTimes[tx.Height] = t
			}

			for _, ev := range events {
				ev.ChainID = a.cfg.ChainID
				ev.Time = t
				select {
				case out <- ev:
				case <-ctx.Done():
					return from, ctx.Err()
				}
			}
		}
		from = latest + 1
	}

	tick := chain.Event{
		Type:        chain.EventNewBlock,
		ChainID:     a.cfg.ChainID,
		BlockHeight: latest,
		Time:        latestTime,
	}
	select {
	case out <- tick:
	case <-ctx.Done():
		return from, ctx.Err()
	}
	return from, nil
}
