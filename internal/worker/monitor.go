package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"atomicswap/internal/chain"
	"atomicswap/internal/hashlock"
)

type escrowKey struct {
	chainID  string
	escrowID string
}

// Monitor runs one watcher per chain adapter and routes escrow events to the
// task owning the escrow. Block ticks wake every task so that timelock
// decisions follow chain time.
type Monitor struct {
	manager *WorkerManager
	logger  *zap.Logger

	mu         sync.RWMutex
	byHashlock map[hashlock.Hash]*swapTask
	byEscrow   map[escrowKey]*swapTask
	chainTimes map[string]time.Time
}

// NewMonitor creates a new chain monitor
func NewMonitor(manager *WorkerManager) *Monitor {
	return &Monitor{
		manager:    manager,
		logger:     manager.logger.Named("monitor"),
		byHashlock: make(map[hashlock.Hash]*swapTask),
		byEscrow:   make(map[escrowKey]*swapTask),
		chainTimes: make(map[string]time.Time),
	}
}

// Start launches one watcher goroutine per adapter
func (m *Monitor) Start(ctx context.Context, wg *sync.WaitGroup) {
	for _, a := range m.manager.adapters {
		a := a
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.watch(ctx, a)
		}()
	}
}

// watch keeps an event subscription open on one chain, resubscribing with
// backoff from the last seen height whenever the stream breaks
func (m *Monitor) watch(ctx context.Context, a chain.Adapter) {
	logger := m.logger.With(zap.String("chain_id", a.ChainID()))
	logger.Info("Chain watcher started")

	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = 0

	var lastHeight int64
	subscribe := func() error {
		events, err := a.WatchEvents(ctx, chain.EventFilter{FromHeight: lastHeight})
		if err != nil {
			return fmt.Errorf("failed to subscribe: %w", err)
		}

		for ev := range events {
			b.Reset()
			if ev.BlockHeight > lastHeight {
				lastHeight = ev.BlockHeight
			}
			m.dispatch(ev)
		}

		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		return fmt.Errorf("event stream closed at height %d", lastHeight)
	}

	notify := func(err error, next time.Duration) {
		logger.Warn("Chain watcher interrupted",
			zap.Error(err),
			zap.Duration("retry_in", next))
	}

	err := backoff.RetryNotify(subscribe, backoff.WithContext(b, ctx), notify)
	if err != nil && ctx.Err() == nil {
		logger.Error("Chain watcher stopped", zap.Error(err))
		return
	}
	logger.Info("Chain watcher stopping")
}

// dispatch routes one chain event
func (m *Monitor) dispatch(ev chain.Event) {
	if !ev.Time.IsZero() {
		m.mu.Lock()
		if ev.Time.After(m.chainTimes[ev.ChainID]) {
			m.chainTimes[ev.ChainID] = ev.Time
		}
		m.mu.Unlock()
	}

	if ev.Type == chain.EventNewBlock {
		m.wakeAll()
		return
	}

	// Claim events carry the secret; its digest identifies the swap
	if ev.Hashlock.IsZero() && ev.Type == chain.EventEscrowClaimed && !ev.Secret.IsZero() {
		ev.Hashlock = hashlock.Digest(ev.Secret)
	}

	task := m.lookup(ev)
	if task == nil {
		m.logger.Debug("Ignoring event for unknown escrow",
			zap.String("chain_id", ev.ChainID),
			zap.String("escrow_id", ev.EscrowID),
			zap.String("type", string(ev.Type)))
		return
	}
	task.deliver(ev)
}

func (m *Monitor) lookup(ev chain.Event) *swapTask {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if ev.EscrowID != "" {
		if task, ok := m.byEscrow[escrowKey{ev.ChainID, ev.EscrowID}]; ok {
			return task
		}
	}
	if !ev.Hashlock.IsZero() {
		return m.byHashlock[ev.Hashlock]
	}
	return nil
}

func (m *Monitor) wakeAll() {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, task := range m.byHashlock {
		task.poke()
	}
}

// chainTime returns the latest block time seen on chainID
func (m *Monitor) chainTime(chainID string) (time.Time, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.chainTimes[chainID]
	return t, ok
}

func (m *Monitor) register(task *swapTask) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.byHashlock[task.hash] = task
	for _, leg := range task.legRefs() {
		if leg.EscrowID != "" {
			m.byEscrow[escrowKey{leg.ChainID, leg.EscrowID}] = task
		}
	}
}

// bindEscrow routes events of a newly created escrow to task
func (m *Monitor) bindEscrow(task *swapTask, chainID, escrowID string) {
	if escrowID == "" {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byEscrow[escrowKey{chainID, escrowID}] = task
}

func (m *Monitor) unregister(task *swapTask) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.byHashlock[task.hash] == task {
		delete(m.byHashlock, task.hash)
	}
	for key, t := range m.byEscrow {
		if t == task {
			delete(m.byEscrow, key)
		}
	}
}
