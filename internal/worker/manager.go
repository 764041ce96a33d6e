package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-co-op/gocron"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"atomicswap/internal/chain"
	"atomicswap/internal/config"
	"atomicswap/internal/database"
	"atomicswap/internal/models"
	"atomicswap/internal/service"
	"atomicswap/internal/swaperr"
)

// Constants for worker configuration
const (
	DefaultPollInterval = 5 * time.Second
	MonitorTimeout      = 30 * time.Second
	HealthTimeout       = 5 * time.Second
	taskEventBuffer     = 64
)

// WorkerManager coordinates swaps across the configured chains. Each active
// swap is driven by exactly one swapTask goroutine; chain observation runs in
// the Monitor, one watcher per adapter.
type WorkerManager struct {
	store  database.Store
	cfg    *config.Config
	fees   *service.FeeLedger
	logger *zap.Logger

	adapters map[string]chain.Adapter // chainID -> adapter

	monitor   *Monitor
	events    *Broadcaster
	scheduler *gocron.Scheduler

	tasksMu sync.Mutex
	tasks   map[string]*swapTask // swapID -> task

	// Control
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewWorkerManager creates a new worker manager with all required dependencies
func NewWorkerManager(
	store database.Store,
	cfg *config.Config,
	adapters []chain.Adapter,
	fees *service.FeeLedger,
	logger *zap.Logger,
) (*WorkerManager, error) {
	logger = logger.Named("worker")

	byChain := make(map[string]chain.Adapter, len(adapters))
	for _, a := range adapters {
		if _, dup := byChain[a.ChainID()]; dup {
			return nil, fmt.Errorf("duplicate adapter for chain %s", a.ChainID())
		}
		byChain[a.ChainID()] = a
		logger.Info("Chain adapter registered",
			zap.String("chain_id", a.ChainID()),
			zap.String("kind", string(a.Kind())),
			zap.String("operator", a.OperatorAddress()))
	}
	for _, chainID := range []string{cfg.EVM.ChainID, cfg.Cosmos.ChainID} {
		if _, ok := byChain[chainID]; !ok {
			return nil, fmt.Errorf("no adapter for configured chain %s", chainID)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())

	wm := &WorkerManager{
		store:     store,
		cfg:       cfg,
		fees:      fees,
		logger:    logger,
		adapters:  byChain,
		events:    NewBroadcaster(),
		scheduler: gocron.NewScheduler(time.UTC),
		tasks:     make(map[string]*swapTask),
		ctx:       ctx,
		cancel:    cancel,
	}
	wm.monitor = NewMonitor(wm)

	return wm, nil
}

// Start starts the chain watchers and the reconciliation sweep, which also
// resumes every non-terminal swap found in the store
func (wm *WorkerManager) Start() error {
	wm.logger.Info("Starting worker manager",
		zap.Int("num_chains", len(wm.adapters)),
		zap.Duration("reconcile_interval", wm.cfg.Swap.ReconcileInterval),
		zap.String("reveal_mode", wm.cfg.Swap.RevealMode))

	wm.monitor.Start(wm.ctx, &wm.wg)

	if err := wm.startReconciler(); err != nil {
		return fmt.Errorf("failed to start reconciler: %w", err)
	}

	wm.logger.Info("Worker manager started")
	return nil
}

// Shutdown gracefully stops all workers and closes the chain adapters
func (wm *WorkerManager) Shutdown(timeout time.Duration) error {
	wm.logger.Info("Shutting down worker manager")

	wm.scheduler.Stop()
	wm.cancel()

	done := make(chan struct{})
	go func() {
		wm.wg.Wait()
		close(done)
	}()

	var errs error
	select {
	case <-done:
		wm.logger.Info("Workers stopped gracefully")
	case <-time.After(timeout):
		wm.logger.Warn("Worker shutdown timed out")
		errs = multierr.Append(errs, fmt.Errorf("worker shutdown timed out after %s", timeout))
	}

	for chainID, a := range wm.adapters {
		if err := a.Close(); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("failed to close adapter %s: %w", chainID, err))
			continue
		}
		wm.logger.Debug("Closed chain adapter", zap.String("chain_id", chainID))
	}

	wm.logger.Info("Worker manager shutdown complete")
	return errs
}

// ==================== Coordinator API ====================

// OperatorAddress returns the signing account of the adapter for chainID
func (wm *WorkerManager) OperatorAddress(chainID string) (string, bool) {
	a, ok := wm.adapters[chainID]
	if !ok {
		return "", false
	}
	return a.OperatorAddress(), true
}

// ChainTime returns the chain-observed time of chainID
func (wm *WorkerManager) ChainTime(ctx context.Context, chainID string) (time.Time, error) {
	a, ok := wm.adapters[chainID]
	if !ok {
		return time.Time{}, fmt.Errorf("no adapter for chain %s", chainID)
	}
	return a.Now(ctx)
}

// Track starts driving a swap that has just been persisted
func (wm *WorkerManager) Track(ctx context.Context, swap *models.Swap) error {
	if swap.Status.IsTerminal() {
		return fmt.Errorf("swap %s is already %s", swap.ID, swap.Status)
	}
	wm.startTask(swap)
	return nil
}

// Reveal asks the task of swapID to release the secret by claiming the
// destination leg. It is a no-op in auto reveal mode.
func (wm *WorkerManager) Reveal(ctx context.Context, swapID string) error {
	wm.tasksMu.Lock()
	task, ok := wm.tasks[swapID]
	wm.tasksMu.Unlock()

	if !ok {
		swap, err := wm.store.GetSwap(ctx, swapID)
		if err != nil {
			return fmt.Errorf("failed to get swap: %w", err)
		}
		if swap == nil {
			return swaperr.Newf(swaperr.KindNotFound, "reveal", "swap %s not found", swapID)
		}
		if swap.Status.IsTerminal() {
			return swaperr.Newf(swaperr.KindNotOpen, "reveal", "swap %s is %s", swapID, swap.Status)
		}
		task = wm.startTask(swap)
	}

	task.requestReveal()
	return nil
}

// Subscribe returns a stream of swap events and a function to stop it
func (wm *WorkerManager) Subscribe() (<-chan models.SwapEvent, func()) {
	return wm.events.Subscribe()
}

// ActiveSwaps returns the number of swaps with a running task
func (wm *WorkerManager) ActiveSwaps() int {
	wm.tasksMu.Lock()
	defer wm.tasksMu.Unlock()
	return len(wm.tasks)
}

// ==================== Task registry ====================

// startTask returns the running task for swap, starting one if needed
func (wm *WorkerManager) startTask(swap *models.Swap) *swapTask {
	wm.tasksMu.Lock()
	defer wm.tasksMu.Unlock()

	if task, ok := wm.tasks[swap.ID]; ok {
		return task
	}

	task := newSwapTask(wm, swap.Clone())
	wm.tasks[swap.ID] = task
	wm.monitor.register(task)

	wm.wg.Add(1)
	go func() {
		defer wm.wg.Done()
		defer wm.finishTask(task)
		task.run(wm.ctx)
	}()

	wm.logger.Info("Swap task started",
		zap.String("swap_id", swap.ID),
		zap.String("status", string(swap.Status)))

	return task
}

func (wm *WorkerManager) finishTask(task *swapTask) {
	wm.monitor.unregister(task)

	wm.tasksMu.Lock()
	delete(wm.tasks, task.id)
	wm.tasksMu.Unlock()
}

// adapterFor returns the adapter of a leg's chain
func (wm *WorkerManager) adapterFor(chainID string) (chain.Adapter, error) {
	a, ok := wm.adapters[chainID]
	if !ok {
		return nil, fmt.Errorf("no adapter for chain %s", chainID)
	}
	return a, nil
}
