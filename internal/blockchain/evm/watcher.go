package evm

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"atomicswap/internal/chain"
)

const defaultLogBlockRange = 2000

// WatchEvents polls HTLC logs block range by block range. The channel is
// closed on the first RPC failure; callers resubscribe from the last height.
func (a *Adapter) WatchEvents(ctx context.Context, filter chain.EventFilter) (<-chan chain.Event, error) {
	head, err := a.client.LatestHeader(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get latest header: %w", err)
	}

	next := head.Number.Uint64()
	switch {
	case filter.FromHeight > 0:
		next = uint64(filter.FromHeight)
	case a.cfg.StartBlock > 0:
		next = a.cfg.StartBlock
	}

	out := make(chan chain.Event, 64)
	go func() {
		defer close(out)

		ticker := time.NewTicker(a.pollInterval())
		defer ticker.Stop()

		for {
			var err error
			next, err = a.pollLogs(ctx, next, out)
			if err != nil {
				if ctx.Err() == nil {
					a.logger.Warn("Log polling failed", zap.Uint64("from_block", next), zap.Error(err))
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

// pollLogs emits contract events from block from up to the head, then a
// new_block tick carrying the head's timestamp. It returns the next block
// to scan.
func (a *Adapter) pollLogs(ctx context.Context, from uint64, out chan<- chain.Event) (uint64, error) {
	head, err := a.client.LatestHeader(ctx)
	if err != nil {
		return from, err
	}
	headNum := head.Number.Uint64()

	span := a.cfg.LogBlockRange
	if span == 0 {
		span = defaultLogBlockRange
	}

	blockTimes := make(map[uint64]time.Time)
	blockTimes[headNum] = time.Unix(int64(head.Time), 0).UTC()

	for from <= headNum {
		to := from + span - 1
		if to > headNum {
			to = headNum
		}

		logs, err := a.client.FilterLogs(ctx, ethereum.FilterQuery{
			FromBlock: new(big.Int).SetUint64(from),
			ToBlock:   new(big.Int).SetUint64(to),
			Addresses: []common.Address{a.htlc.Address()},
			Topics:    [][]common.Hash{a.htlc.Topics()},
		})
		if err != nil {
			return from, fmt.Errorf("failed to filter logs %d-%d: %w", from, to, err)
		}

		for _, log := range logs {
			if log.Removed {
				continue
			}
			ev, ok, err := a.htlc.ParseLog(log)
			if err != nil {
				a.logger.Warn("Skipping malformed HTLC log",
					zap.String("tx_hash", log.TxHash.Hex()),
					zap.Error(err))
				continue
			}
			if !ok {
				continue
			}
			ev.ChainID = a.cfg.ChainID
			ev.Time, err = a.blockTime(ctx, blockTimes, log.BlockNumber)
			if err != nil {
				return from, err
			}

			select {
			case out <- ev:
			case <-ctx.Done():
				return from, ctx.Err()
			}
		}

		from = to + 1
	}

	tick := chain.Event{
		Type:        chain.EventNewBlock,
		ChainID:     a.cfg.ChainID,
		BlockHeight: int64(headNum),
		Time:        blockTimes[headNum],
	}
	select {
	case out <- tick:
	case <-ctx.Done():
		return from, ctx.Err()
	}

	return from, nil
}

func (a *Adapter) blockTime(ctx context.Context, cache map[uint64]time.Time, number uint64) (time.Time, error) {
	if t, ok := cache[number]; ok {
		return t, nil
	}
	header, err := a.client.HeaderByNumber(ctx, number)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to get header %d: %w", number, err)
	}
	t := time.Unix(int64(header.Time), 0).UTC()
	cache[number] = t
	return t, nil
}
