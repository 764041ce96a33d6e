package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"atomicswap/internal/chain"
	"atomicswap/internal/config"
	"atomicswap/internal/models"
	"atomicswap/internal/swaperr"
)

var errTxDropped = errors.New("transaction dropped")

// legWriter is the only component allowed to submit transactions for one
// escrow leg. It tracks the single outstanding transaction and spaces out
// retries with exponential backoff.
type legWriter struct {
	mu          sync.Mutex
	role        models.LegRole
	adapter     chain.Adapter
	backoff     *backoff.ExponentialBackOff
	notBefore   time.Time
	submittedAt time.Time
	txTimeout   time.Duration
	blocked     map[chain.Action]error
}

func newLegWriter(role models.LegRole, adapter chain.Adapter, cfg config.SwapConfig) *legWriter {
	b := backoff.NewExponentialBackOff()
	if cfg.RetryInitial > 0 {
		b.InitialInterval = cfg.RetryInitial
	}
	if cfg.RetryMax > 0 {
		b.MaxInterval = cfg.RetryMax
	}
	// Retries stop at the leg's timelock, not after a fixed elapsed time
	b.MaxElapsedTime = 0
	b.Reset()

	txTimeout := cfg.TxTimeout
	if txTimeout <= 0 {
		txTimeout = 2 * time.Minute
	}

	return &legWriter{
		role:      role,
		adapter:   adapter,
		backoff:   b,
		txTimeout: txTimeout,
		blocked:   make(map[chain.Action]error),
	}
}

// ready reports whether a new action may be sent for leg at wall time now
func (w *legWriter) ready(leg *models.EscrowRef, action chain.Action, now time.Time) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	if leg.PendingAction != models.PendingNone {
		return false
	}
	if w.blocked[action] != nil {
		return false
	}
	return !now.Before(w.notBefore)
}

// blockedErr returns the permanent failure recorded for action, if any
func (w *legWriter) blockedErr(action chain.Action) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.blocked[action]
}

// begin marks action as in flight on leg before its transaction exists
func (w *legWriter) begin(leg *models.EscrowRef, action chain.Action) {
	w.mu.Lock()
	defer w.mu.Unlock()
	leg.PendingAction = pendingFor(action)
	leg.PendingTxHash = nil
}

// send submits tx and records it as the leg's outstanding transaction
func (w *legWriter) send(ctx context.Context, leg *models.EscrowRef, tx chain.Tx) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, w.txTimeout)
	defer cancel()

	txHash, err := w.adapter.Submit(ctx, tx)
	if err != nil {
		return "", classify(tx.Action, err)
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	leg.PendingTxHash = models.StringPtr(txHash)
	leg.PendingAction = pendingFor(tx.Action)
	w.submittedAt = time.Now()
	return txHash, nil
}

// poll checks the outstanding transaction of leg. It returns a nil receipt
// while the transaction is still pending, and errTxDropped once it has been
// unconfirmed for longer than the transaction timeout.
func (w *legWriter) poll(ctx context.Context, leg *models.EscrowRef) (*chain.Receipt, error) {
	if leg.PendingTxHash == nil {
		return nil, nil
	}

	ctx, cancel := context.WithTimeout(ctx, MonitorTimeout)
	defer cancel()

	receipt, err := w.adapter.GetReceipt(ctx, *leg.PendingTxHash)
	if err != nil {
		return nil, swaperr.Transient("get_receipt", err)
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if receipt == nil || !receipt.Confirmed {
		// Restarted with a persisted pending transaction
		if w.submittedAt.IsZero() {
			w.submittedAt = time.Now()
		}
		if time.Since(w.submittedAt) > w.txTimeout {
			return nil, swaperr.Transient("get_receipt",
				fmt.Errorf("%w: %s unconfirmed after %s", errTxDropped, *leg.PendingTxHash, w.txTimeout))
		}
		return nil, nil
	}
	return receipt, nil
}

// clearPending forgets the outstanding transaction of leg
func (w *legWriter) clearPending(leg *models.EscrowRef) {
	w.mu.Lock()
	defer w.mu.Unlock()
	leg.PendingTxHash = nil
	leg.PendingAction = models.PendingNone
	w.submittedAt = time.Time{}
}

// fail records a failed attempt. Permanent failures block the action for
// good; transient ones schedule the next attempt. It returns the delay, or
// zero for a permanent failure.
func (w *legWriter) fail(action chain.Action, err error, now time.Time) time.Duration {
	w.mu.Lock()
	defer w.mu.Unlock()

	var perm *backoff.PermanentError
	if errors.As(err, &perm) {
		w.blocked[action] = perm.Err
		return 0
	}

	delay := w.backoff.NextBackOff()
	if delay == backoff.Stop {
		delay = w.backoff.MaxInterval
	}
	w.notBefore = now.Add(delay)
	return delay
}

// succeed resets the retry schedule after a confirmed transaction
func (w *legWriter) succeed() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.backoff.Reset()
	w.notBefore = time.Time{}
}

// unblock lifts a permanent block, used after the leg was re-read from chain
func (w *legWriter) unblock(action chain.Action) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.blocked, action)
}

// classify marks errors that must not be retried as backoff.Permanent.
// Refunds rejected as premature stay retryable.
func classify(action chain.Action, err error) error {
	if swaperr.IsRetryable(err) {
		return err
	}
	if action == chain.ActionRefund && errors.Is(err, swaperr.ErrTimelockViolation) {
		return err
	}
	return backoff.Permanent(err)
}

func pendingFor(action chain.Action) models.PendingAction {
	switch action {
	case chain.ActionCreate:
		return models.PendingCreate
	case chain.ActionClaim:
		return models.PendingClaim
	case chain.ActionRefund:
		return models.PendingRefund
	}
	return models.PendingNone
}

func unwrapPermanent(err error) error {
	var perm *backoff.PermanentError
	if errors.As(err, &perm) {
		return perm.Err
	}
	return err
}
