package memchain

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"atomicswap/internal/chain"
	"atomicswap/internal/escrow"
	"atomicswap/internal/hashlock"
	"atomicswap/internal/swaperr"
)

const defaultWatchInterval = 20 * time.Millisecond

// Adapter is a chain.Adapter backed by an in-memory escrow.Ledger.
// Several adapters may share one ledger, each signing as a different account.
type Adapter struct {
	ledger   *escrow.Ledger
	operator string
	logger   *zap.Logger

	mu          sync.Mutex
	unavailable bool
	failures    map[chain.Action][]error
	receipts    map[string]*chain.Receipt

	watchInterval time.Duration
}

// NewAdapter creates an adapter that signs as operator
func NewAdapter(ledger *escrow.Ledger, operator string, logger *zap.Logger) *Adapter {
	return &Adapter{
		ledger:        ledger,
		operator:      operator,
		logger:        logger.Named("memchain").With(zap.String("chain_id", ledger.ChainID())),
		failures:      make(map[chain.Action][]error),
		receipts:      make(map[string]*chain.Receipt),
		watchInterval: defaultWatchInterval,
	}
}

// WithSigner returns an adapter on the same ledger signing as another account
func (a *Adapter) WithSigner(operator string) *Adapter {
	return NewAdapter(a.ledger, operator, a.logger)
}

// Ledger exposes the backing ledger
func (a *Adapter) Ledger() *escrow.Ledger {
	return a.ledger
}

// SetAvailable toggles simulated connectivity; while unavailable every call fails transiently
func (a *Adapter) SetAvailable(available bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.unavailable = !available
}

// FailNext makes the next Submit calls for action return the given errors in order
func (a *Adapter) FailNext(action chain.Action, errs ...error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.failures[action] = append(a.failures[action], errs...)
}

func (a *Adapter) ChainID() string {
	return a.ledger.ChainID()
}

func (a *Adapter) Kind() chain.Kind {
	return chain.KindMemory
}

func (a *Adapter) OperatorAddress() string {
	return a.operator
}

func (a *Adapter) checkAvailable(op string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.unavailable {
		return swaperr.Transient(op, fmt.Errorf("chain %s unavailable", a.ledger.ChainID()))
	}
	return nil
}

func (a *Adapter) injectedFailure(action chain.Action) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	queue := a.failures[action]
	if len(queue) == 0 {
		return nil
	}
	err := queue[0]
	a.failures[action] = queue[1:]
	return err
}

// Submit executes the transaction on the ledger immediately
func (a *Adapter) Submit(ctx context.Context, tx chain.Tx) (string, error) {
	if err := a.checkAvailable("submit"); err != nil {
		return "", err
	}
	if err := a.injectedFailure(tx.Action); err != nil {
		return "", err
	}

	var (
		rcpt *escrow.Receipt
		err  error
	)
	switch tx.Action {
	case chain.ActionCreate:
		params := escrow.CreateParams{
			ID:                  tx.EscrowID,
			Caller:              a.operator,
			Participant:         tx.Participant,
			CrossChainRecipient: tx.CrossChainRecipient,
			Asset:               tx.Denom,
			Amount:              tx.Amount,
			Hashlock:            tx.Hashlock,
			Expiry:              tx.TimelockExpiry,
		}
		if tx.Fee != nil {
			params.Fee = &escrow.FeeTransfer{Recipient: tx.Fee.Recipient, Asset: tx.Fee.Denom, Amount: tx.Fee.Amount}
		}
		rcpt, err = a.ledger.Create(params)
	case chain.ActionClaim:
		rcpt, err = a.ledger.Claim(tx.TargetEscrowID, tx.Secret[:])
	case chain.ActionRefund:
		rcpt, err = a.ledger.Refund(tx.TargetEscrowID)
	default:
		return "", swaperr.Newf(swaperr.KindInvalidParameters, "submit", "unknown action %q", tx.Action)
	}
	if err != nil {
		return "", err
	}

	a.mu.Lock()
	a.receipts[rcpt.TxHash] = &chain.Receipt{
		TxHash:      rcpt.TxHash,
		Confirmed:   true,
		Success:     true,
		BlockHeight: rcpt.Height,
		EscrowID:    rcpt.EscrowID,
	}
	a.mu.Unlock()

	a.logger.Debug("Transaction applied",
		zap.String("action", string(tx.Action)),
		zap.String("tx_hash", rcpt.TxHash),
		zap.String("escrow_id", rcpt.EscrowID))

	return rcpt.TxHash, nil
}

// GetReceipt returns the receipt of a transaction applied by any adapter on the ledger
func (a *Adapter) GetReceipt(ctx context.Context, txHash string) (*chain.Receipt, error) {
	if err := a.checkAvailable("get_receipt"); err != nil {
		return nil, err
	}
	a.mu.Lock()
	r, ok := a.receipts[txHash]
	a.mu.Unlock()
	if ok {
		c := *r
		return &c, nil
	}
	if ev, ok := a.ledger.TxResult(txHash); ok {
		return &chain.Receipt{
			TxHash:      txHash,
			Confirmed:   true,
			Success:     true,
			BlockHeight: ev.Height,
			EscrowID:    ev.EscrowID,
		}, nil
	}
	return &chain.Receipt{TxHash: txHash}, nil
}

// WatchEvents streams ledger events converted to chain events
func (a *Adapter) WatchEvents(ctx context.Context, filter chain.EventFilter) (<-chan chain.Event, error) {
	_, cursor, _ := a.ledger.EventsSince(1 << 30)
	if filter.FromHeight > 0 {
		cursor = 0
	}

	out := make(chan chain.Event, 64)
	go func() {
		defer close(out)
		for {
			if a.checkAvailable("watch") != nil {
				select {
				case <-ctx.Done():
					return
				case <-time.After(a.watchInterval):
					continue
				}
			}

			events, next, notify := a.ledger.EventsSince(cursor)
			cursor = next
			for _, ev := range events {
				if ev.Height < filter.FromHeight {
					continue
				}
				select {
				case out <- a.convert(ev):
				case <-ctx.Done():
					return
				}
			}

			select {
			case <-ctx.Done():
				return
			case <-notify:
			case <-time.After(a.watchInterval):
			}
		}
	}()
	return out, nil
}

func (a *Adapter) convert(ev escrow.Event) chain.Event {
	out := chain.Event{
		ChainID:     a.ledger.ChainID(),
		EscrowID:    ev.EscrowID,
		Hashlock:    ev.Hashlock,
		TxHash:      ev.TxHash,
		BlockHeight: ev.Height,
		Time:        ev.Time,
	}
	switch ev.Type {
	case escrow.EventCreated:
		out.Type = chain.EventEscrowCreated
	case escrow.EventClaimed:
		out.Type = chain.EventEscrowClaimed
		out.Secret = ev.Secret
	case escrow.EventRefunded:
		out.Type = chain.EventEscrowRefunded
	default:
		out.Type = chain.EventNewBlock
	}
	return out
}

func (a *Adapter) Now(ctx context.Context) (time.Time, error) {
	if err := a.checkAvailable("now"); err != nil {
		return time.Time{}, err
	}
	return a.ledger.Now(), nil
}

func (a *Adapter) GetEscrow(ctx context.Context, escrowID string) (*chain.EscrowInfo, error) {
	if err := a.checkAvailable("get_escrow"); err != nil {
		return nil, err
	}
	return escrowInfo(a.ledger.Get(escrowID)), nil
}

// FindEscrow searches the ledger by the operator and hashlock of tx
func (a *Adapter) FindEscrow(ctx context.Context, tx chain.Tx) (*chain.EscrowInfo, error) {
	if err := a.checkAvailable("find_escrow"); err != nil {
		return nil, err
	}
	if tx.EscrowID != "" {
		return escrowInfo(a.ledger.Get(tx.EscrowID)), nil
	}
	return escrowInfo(a.ledger.FindByHashlock(a.operator, tx.Hashlock)), nil
}

func escrowInfo(e *escrow.Escrow) *chain.EscrowInfo {
	if e == nil {
		return nil
	}
	return &chain.EscrowInfo{
		EscrowID:            e.ID,
		Initiator:           e.Initiator,
		Participant:         e.Participant,
		CrossChainRecipient: e.CrossChainRecipient,
		Denom:               e.Asset,
		Amount:              e.Amount,
		Hashlock:            e.Hashlock,
		TimelockExpiry:      e.Expiry,
		State:               e.State,
		Secret:              e.Secret,
	}
}

func (a *Adapter) IsClaimable(ctx context.Context, escrowID string, secret hashlock.Secret) (bool, error) {
	if err := a.checkAvailable("is_claimable"); err != nil {
		return false, err
	}
	return a.ledger.IsClaimable(escrowID, secret[:]), nil
}

func (a *Adapter) IsRefundable(ctx context.Context, escrowID string) (bool, error) {
	if err := a.checkAvailable("is_refundable"); err != nil {
		return false, err
	}
	return a.ledger.IsRefundable(escrowID), nil
}

func (a *Adapter) Close() error {
	return nil
}

// RunClock advances the ledger to wall-clock time every interval until ctx is done
func (a *Adapter) RunClock(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case t := <-ticker.C:
			a.ledger.AdvanceTo(t)
		}
	}
}

var _ chain.Adapter = (*Adapter)(nil)
