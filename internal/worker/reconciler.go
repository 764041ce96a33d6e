package worker

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"atomicswap/internal/models"
)

const defaultReconcileInterval = time.Minute

// startReconciler schedules the periodic sweep over non-terminal swaps. The
// first run happens immediately, which resumes swaps left over from a
// previous process.
func (wm *WorkerManager) startReconciler() error {
	interval := wm.cfg.Swap.ReconcileInterval
	if interval <= 0 {
		interval = defaultReconcileInterval
	}

	wm.scheduler.SingletonModeAll()
	if _, err := wm.scheduler.Every(interval).Do(func() {
		wm.reconcile(wm.ctx)
	}); err != nil {
		return fmt.Errorf("failed to schedule reconciliation: %w", err)
	}
	wm.scheduler.StartAsync()
	return nil
}

// reconcile starts a task for every non-terminal swap without one and asks
// running tasks to re-read their escrows from chain
func (wm *WorkerManager) reconcile(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}

	swaps, err := wm.store.ListSwapsByStatus(ctx, models.NonTerminalStatuses()...)
	if err != nil {
		wm.logger.Error("Failed to list active swaps", zap.Error(err))
		return
	}

	resumed := 0
	for _, swap := range swaps {
		wm.tasksMu.Lock()
		task, running := wm.tasks[swap.ID]
		wm.tasksMu.Unlock()

		if running {
			task.resync.Store(true)
			task.poke()
			continue
		}
		// A task may have finished since the listing
		current, err := wm.store.GetSwap(ctx, swap.ID)
		if err != nil || current == nil || current.Status.IsTerminal() {
			continue
		}
		wm.startTask(current)
		resumed++
	}

	if resumed > 0 || len(swaps) > 0 {
		wm.logger.Info("Reconciled active swaps",
			zap.Int("active", len(swaps)),
			zap.Int("resumed", resumed))
	}
}
