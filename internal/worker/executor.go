package worker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"atomicswap/internal/chain"
	"atomicswap/internal/config"
	"atomicswap/internal/hashlock"
	"atomicswap/internal/models"
	"atomicswap/internal/swaperr"
)

// maxCascade bounds the status transitions taken in one decision cycle
const maxCascade = 6

// swapTask drives one swap to a terminal status. All mutations of the swap
// happen on the task goroutine; other goroutines talk to it through
// deliver, poke and requestReveal.
type swapTask struct {
	id     string
	m      *WorkerManager
	logger *zap.Logger

	swap   *models.Swap
	hash   hashlock.Hash
	secret *hashlock.Secret // generated secret, from the vault
	legs   map[models.LegRole]*legWriter

	events chan chain.Event
	wake   chan struct{}
	reveal chan struct{}
	resync atomic.Bool

	revealRequested bool
	deadlineNoted   map[models.LegRole]bool
	dirty           bool
}

func newSwapTask(m *WorkerManager, swap *models.Swap) *swapTask {
	hash, err := hashlock.ParseHash(swap.Hashlock)
	if err != nil {
		m.logger.Error("Swap has malformed hashlock", zap.String("swap_id", swap.ID), zap.Error(err))
	}

	t := &swapTask{
		id:            swap.ID,
		m:             m,
		logger:        m.logger.Named("executor").With(zap.String("swap_id", swap.ID)),
		swap:          swap,
		hash:          hash,
		legs:          make(map[models.LegRole]*legWriter, 2),
		events:        make(chan chain.Event, taskEventBuffer),
		wake:          make(chan struct{}, 1),
		reveal:        make(chan struct{}, 1),
		deadlineNoted: make(map[models.LegRole]bool),
	}
	for _, leg := range t.legRefs() {
		if a, ok := m.adapters[leg.ChainID]; ok {
			t.legs[leg.Role] = newLegWriter(leg.Role, a, m.cfg.Swap)
		}
	}
	return t
}

func (t *swapTask) legRefs() []*models.EscrowRef {
	return []*models.EscrowRef{&t.swap.Source, &t.swap.Destination}
}

// deliver hands a chain event to the task without blocking the monitor.
// When the buffer is full the task re-reads both legs from chain instead.
func (t *swapTask) deliver(ev chain.Event) {
	select {
	case t.events <- ev:
	default:
		t.resync.Store(true)
		t.poke()
	}
}

// poke schedules a decision cycle
func (t *swapTask) poke() {
	select {
	case t.wake <- struct{}{}:
	default:
	}
}

func (t *swapTask) requestReveal() {
	select {
	case t.reveal <- struct{}{}:
	default:
	}
}

// run is the task loop: one decision cycle per wake-up until the swap is
// terminal and persisted
func (t *swapTask) run(ctx context.Context) {
	if len(t.legs) != 2 {
		t.logger.Error("Swap references an unknown chain",
			zap.String("source_chain", t.swap.Source.ChainID),
			zap.String("destination_chain", t.swap.Destination.ChainID))
		t.fail(ctx, swaperr.Newf(swaperr.KindInvalidParameters, "resume",
			"no adapter configured for chain %s or %s", t.swap.Source.ChainID, t.swap.Destination.ChainID),
			"swap references an unknown chain")
		return
	}

	interval := t.m.cfg.Swap.PollInterval
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	t.resync.Store(true)

	for {
		t.step(ctx)
		if t.swap.Status.IsTerminal() && !t.dirty {
			t.logger.Info("Swap task finished", zap.String("status", string(t.swap.Status)))
			return
		}

		select {
		case <-ctx.Done():
			t.logger.Debug("Swap task stopping")
			return
		case ev := <-t.events:
			t.handleEvent(ctx, ev)
		case <-t.reveal:
			t.revealRequested = true
			t.logger.Info("Secret release requested")
		case <-t.wake:
		case <-ticker.C:
		}
	}
}

// step is one decision cycle
func (t *swapTask) step(ctx context.Context) {
	if t.secret == nil {
		t.loadSecret(ctx)
	}
	if t.resync.Swap(false) {
		t.syncLegs(ctx)
	}
	for _, leg := range t.legRefs() {
		t.pollLeg(ctx, leg.Role)
	}

	if !t.swap.Status.IsTerminal() {
		for i := 0; i < maxCascade; i++ {
			before := t.swap.Status
			t.advance(ctx)
			if t.swap.Status == before {
				break
			}
		}
	}

	if t.dirty {
		t.save(ctx)
	}
}

// advance applies the transition rules for the current status
func (t *swapTask) advance(ctx context.Context) {
	src, dst := &t.swap.Source, &t.swap.Destination
	srcNow, srcOK := t.chainNow(ctx, src.ChainID)
	dstNow, dstOK := t.chainNow(ctx, dst.ChainID)
	claimWindow := int64(t.m.cfg.Swap.MinClaimWindow / time.Second)

	// Claim propagation is decided before any refund
	if t.swap.SecretRevealed() && t.swap.Status == models.SwapStatusBothLocked {
		t.transition(ctx, models.SwapStatusSecretRevealed, "secret observed on chain")
		return
	}

	switch t.swap.Status {
	case models.SwapStatusInitiated:
		switch {
		case src.State == models.EscrowStateOpen:
			t.transition(ctx, models.SwapStatusSourceLocked, "source escrow created")
		case t.legs[models.LegSource].blockedErr(chain.ActionCreate) != nil:
			t.fail(ctx, t.legs[models.LegSource].blockedErr(chain.ActionCreate), "source escrow creation failed")
		case src.PendingAction == models.PendingNone && srcOK && srcNow.Unix() >= dst.TimelockExpiry-claimWindow:
			t.fail(ctx, swaperr.Newf(swaperr.KindDeadlineExceeded, "create_source",
				"source escrow not created before %s", time.Unix(dst.TimelockExpiry-claimWindow, 0).UTC()),
				"source escrow creation deadline passed")
		default:
			t.driveCreate(ctx, models.LegSource)
		}

	case models.SwapStatusSourceLocked:
		switch {
		case dst.State == models.EscrowStateOpen:
			t.transition(ctx, models.SwapStatusBothLocked, "destination escrow created")
		case t.legs[models.LegDestination].blockedErr(chain.ActionCreate) != nil:
			t.setError(t.legs[models.LegDestination].blockedErr(chain.ActionCreate))
			t.transition(ctx, models.SwapStatusRefunding, "destination escrow creation failed")
		case dst.PendingAction == models.PendingNone && dstOK && dstNow.Unix() >= dst.TimelockExpiry-claimWindow:
			t.setError(swaperr.Newf(swaperr.KindDeadlineExceeded, "create_destination",
				"destination escrow not created before %s", time.Unix(dst.TimelockExpiry-claimWindow, 0).UTC()))
			t.transition(ctx, models.SwapStatusRefunding, "destination escrow creation deadline passed")
		default:
			t.driveCreate(ctx, models.LegDestination)
		}

	case models.SwapStatusBothLocked:
		if dst.State == models.EscrowStateRefunded {
			t.transition(ctx, models.SwapStatusRefunding, "destination escrow refunded")
			return
		}
		if dst.State != models.EscrowStateOpen || !dstOK {
			return
		}
		if dstNow.Unix() < dst.TimelockExpiry {
			if t.shouldReveal() {
				t.driveClaim(ctx, models.LegDestination, *t.secret)
			}
			return
		}
		if dst.PendingAction != models.PendingClaim {
			t.driveRefund(ctx, models.LegDestination)
		}

	case models.SwapStatusSecretRevealed:
		t.advanceRevealed(ctx, srcNow, srcOK, dstNow, dstOK)

	case models.SwapStatusRefunding:
		t.advanceRefunding(ctx, srcNow, srcOK, dstNow, dstOK)
	}
}

// advanceRevealed claims every leg still open with the revealed secret, or
// refunds it once its claim window is gone
func (t *swapTask) advanceRevealed(ctx context.Context, srcNow time.Time, srcOK bool, dstNow time.Time, dstOK bool) {
	secret, ok := t.revealedSecret()
	if !ok {
		return
	}

	nows := map[models.LegRole]time.Time{models.LegSource: srcNow, models.LegDestination: dstNow}
	oks := map[models.LegRole]bool{models.LegSource: srcOK, models.LegDestination: dstOK}

	open := false
	for _, leg := range t.legRefs() {
		if leg.State != models.EscrowStateOpen {
			continue
		}
		open = true
		if !oks[leg.Role] {
			continue
		}

		if nows[leg.Role].Unix() < leg.TimelockExpiry {
			t.driveClaim(ctx, leg.Role, secret)
			continue
		}
		if leg.PendingAction == models.PendingClaim {
			continue
		}
		if !t.deadlineNoted[leg.Role] {
			t.deadlineNoted[leg.Role] = true
			t.setError(swaperr.Newf(swaperr.KindDeadlineExceeded, "claim_"+string(leg.Role),
				"%s escrow %s expired before it could be claimed", leg.Role, leg.EscrowID))
			t.logger.Error("Claim deadline passed, refunding leg",
				zap.String("leg", string(leg.Role)),
				zap.String("escrow_id", leg.EscrowID))
		}
		t.driveRefund(ctx, leg.Role)
	}
	if open {
		return
	}

	if t.swap.Source.State == models.EscrowStateClaimed && t.swap.Destination.State == models.EscrowStateClaimed {
		t.transition(ctx, models.SwapStatusCompleted, "both escrows claimed")
		return
	}
	t.fail(ctx, swaperr.Newf(swaperr.KindDeadlineExceeded, "settle",
		"swap settled unevenly: source %s, destination %s", t.swap.Source.State, t.swap.Destination.State),
		"claim deadline exceeded")
}

// advanceRefunding refunds open legs as their timelocks pass, destination first
func (t *swapTask) advanceRefunding(ctx context.Context, srcNow time.Time, srcOK bool, dstNow time.Time, dstOK bool) {
	dst, src := &t.swap.Destination, &t.swap.Source

	open := false
	if dst.State == models.EscrowStateOpen {
		open = true
		if dstOK && dstNow.Unix() >= dst.TimelockExpiry && dst.PendingAction == models.PendingNone {
			t.driveRefund(ctx, models.LegDestination)
		}
	}
	if src.State == models.EscrowStateOpen {
		open = true
		if srcOK && srcNow.Unix() >= src.TimelockExpiry && src.PendingAction == models.PendingNone {
			t.driveRefund(ctx, models.LegSource)
		}
	}
	if open || dst.PendingAction != models.PendingNone || src.PendingAction != models.PendingNone {
		return
	}

	if src.State == models.EscrowStateClaimed || dst.State == models.EscrowStateClaimed {
		t.fail(ctx, swaperr.Newf(swaperr.KindNotOpen, "refund",
			"escrow claimed during refund: source %s, destination %s", src.State, dst.State),
			"refund incomplete")
		return
	}
	t.transition(ctx, models.SwapStatusRefunded, "all escrows refunded")
}

func (t *swapTask) shouldReveal() bool {
	if t.secret == nil {
		return false
	}
	return t.m.cfg.Swap.RevealMode == config.RevealAuto || t.revealRequested
}

// revealedSecret returns the secret observed on chain, falling back to the
// generated one once a claim of ours confirmed
func (t *swapTask) revealedSecret() (hashlock.Secret, bool) {
	if t.swap.SecretRevealed() {
		s, err := hashlock.ParseSecret(*t.swap.Secret)
		if err == nil {
			return s, true
		}
		t.logger.Error("Stored secret is malformed", zap.Error(err))
	}
	if t.secret != nil {
		return *t.secret, true
	}
	return hashlock.Secret{}, false
}

// ==================== Transactions ====================

func (t *swapTask) driveCreate(ctx context.Context, role models.LegRole) {
	leg := t.swap.Leg(role)
	if leg.State != models.EscrowStatePending || !t.legs[role].ready(leg, chain.ActionCreate, time.Now()) {
		return
	}
	t.sendTx(ctx, role, t.createTx(leg))
}

func (t *swapTask) createTx(leg *models.EscrowRef) chain.Tx {
	tx := chain.Tx{
		Action:              chain.ActionCreate,
		Participant:         leg.Participant,
		CrossChainRecipient: leg.CrossChainRecipient,
		Denom:               leg.Asset,
		Amount:              leg.Amount.OrZero(),
		Hashlock:            t.hash,
		TimelockExpiry:      leg.TimelockExpiry,
	}
	if t.chargesFee(leg) {
		tx.Fee = &chain.Fee{
			Recipient: t.swap.FeeRecipient,
			Denom:     t.swap.FeeDenom,
			Amount:    t.swap.FeeAmount.OrZero(),
		}
	}
	return tx
}

func (t *swapTask) driveClaim(ctx context.Context, role models.LegRole, secret hashlock.Secret) {
	leg := t.swap.Leg(role)
	if leg.State != models.EscrowStateOpen || !t.legs[role].ready(leg, chain.ActionClaim, time.Now()) {
		return
	}
	t.sendTx(ctx, role, chain.Tx{
		Action:         chain.ActionClaim,
		TargetEscrowID: leg.EscrowID,
		Secret:         secret,
	})
}

func (t *swapTask) driveRefund(ctx context.Context, role models.LegRole) {
	leg := t.swap.Leg(role)
	if leg.State != models.EscrowStateOpen || !t.legs[role].ready(leg, chain.ActionRefund, time.Now()) {
		return
	}
	t.sendTx(ctx, role, chain.Tx{
		Action:         chain.ActionRefund,
		TargetEscrowID: leg.EscrowID,
	})
}

func (t *swapTask) chargesFee(leg *models.EscrowRef) bool {
	return t.swap.FeeChainID == leg.ChainID && t.swap.FeeAmount.IsPositive()
}

// sendTx submits tx through the leg writer, persists the pending hash and
// checks for an immediate receipt
func (t *swapTask) sendTx(ctx context.Context, role models.LegRole, tx chain.Tx) {
	leg := t.swap.Leg(role)
	w := t.legs[role]

	// A create is marked in flight before it is sent so that a restart looks
	// for the escrow instead of creating it twice
	if tx.Action == chain.ActionCreate {
		w.begin(leg, tx.Action)
		t.dirty = true
		t.save(ctx)
		if t.dirty {
			w.clearPending(leg)
			return
		}
	}

	txHash, err := w.send(ctx, leg, tx)
	if err != nil {
		if tx.Action == chain.ActionCreate {
			w.clearPending(leg)
			t.dirty = true
			if hashlockInUse(err) {
				found, lookupErr := t.recoverCreate(ctx, role, tx)
				if found {
					return
				}
				if lookupErr != nil {
					err = lookupErr
				}
			}
		}
		t.onFailure(role, tx.Action, err)
		return
	}

	t.logger.Info("Transaction submitted",
		zap.String("leg", string(role)),
		zap.String("action", string(tx.Action)),
		zap.String("chain_id", leg.ChainID),
		zap.String("tx_hash", txHash))

	t.dirty = true
	t.save(ctx)
	t.pollLeg(ctx, role)
}

// pollLeg resolves the outstanding transaction of a leg, if any
func (t *swapTask) pollLeg(ctx context.Context, role models.LegRole) {
	leg := t.swap.Leg(role)
	if leg.PendingAction == models.PendingNone {
		return
	}
	w := t.legs[role]
	action := actionFor(leg.PendingAction)

	if leg.PendingTxHash == nil {
		if action == chain.ActionCreate {
			t.resumeCreate(ctx, role)
			return
		}
		w.clearPending(leg)
		t.dirty = true
		return
	}

	receipt, err := w.poll(ctx, leg)
	if err != nil {
		if errors.Is(err, errTxDropped) {
			t.logger.Warn("Pending transaction dropped",
				zap.String("leg", string(role)),
				zap.String("action", string(action)),
				zap.Error(err))
			w.clearPending(leg)
			t.resync.Store(true)
			t.onFailure(role, action, err)
			return
		}
		t.logger.Debug("Receipt not available", zap.String("leg", string(role)), zap.Error(err))
		return
	}
	if receipt == nil {
		return
	}

	txHash := *leg.PendingTxHash
	if !receipt.Success {
		w.clearPending(leg)
		t.resync.Store(true)
		t.onFailure(role, action, swaperr.Transient(string(action),
			fmt.Errorf("transaction %s failed: %s", txHash, receipt.FailReason)))
		return
	}

	w.succeed()
	switch action {
	case chain.ActionCreate:
		t.applyCreate(ctx, role, receipt.EscrowID, txHash)
	case chain.ActionClaim:
		secret, ok := t.revealedSecret()
		if !ok {
			t.logger.Error("Claim confirmed without a known secret", zap.String("leg", string(role)))
			w.clearPending(leg)
			t.resync.Store(true)
			return
		}
		t.applyClaim(ctx, role, secret, txHash)
	case chain.ActionRefund:
		t.applyRefund(ctx, role, txHash)
	}
	w.clearPending(leg)
	t.dirty = true
}

// resumeCreate settles a create that was marked in flight but never got a
// transaction hash. The escrow is adopted if it landed, otherwise the create
// is released for another attempt.
func (t *swapTask) resumeCreate(ctx context.Context, role models.LegRole) {
	leg := t.swap.Leg(role)
	found, err := t.recoverCreate(ctx, role, t.createTx(leg))
	if err != nil || found {
		return
	}
	t.legs[role].clearPending(leg)
	t.dirty = true
}

// recoverCreate looks up an escrow already created for the leg's terms and
// adopts it
func (t *swapTask) recoverCreate(ctx context.Context, role models.LegRole, tx chain.Tx) (bool, error) {
	leg := t.swap.Leg(role)

	qctx, cancel := context.WithTimeout(ctx, MonitorTimeout)
	info, err := t.legs[role].adapter.FindEscrow(qctx, tx)
	cancel()
	if err != nil {
		t.logger.Warn("Failed to look up existing escrow", zap.String("leg", string(role)), zap.Error(err))
		return false, swaperr.Transient("find_escrow", err)
	}
	if info == nil {
		return false, nil
	}
	if info.Hashlock != t.hash || !matchesLeg(leg, info) {
		t.logger.Warn("Escrow with our hashlock does not match leg terms",
			zap.String("chain_id", leg.ChainID),
			zap.String("escrow_id", info.EscrowID))
		return false, nil
	}

	t.logger.Info("Adopting existing escrow",
		zap.String("leg", string(role)),
		zap.String("escrow_id", info.EscrowID),
		zap.String("state", string(info.State)))
	t.applyCreate(ctx, role, info.EscrowID, "")
	if info.State != models.EscrowStateOpen {
		t.resync.Store(true)
	}
	return true, nil
}

// onFailure records a failed submission and schedules its retry
func (t *swapTask) onFailure(role models.LegRole, action chain.Action, err error) {
	delay := t.legs[role].fail(action, err, time.Now())
	t.swap.RetryCount++
	t.setError(unwrapPermanent(err))
	t.dirty = true

	fields := []zap.Field{
		zap.String("leg", string(role)),
		zap.String("action", string(action)),
		zap.String("error_kind", string(swaperr.KindOf(err))),
		zap.Error(unwrapPermanent(err)),
	}
	if delay == 0 {
		t.logger.Error("Transaction failed permanently", fields...)
		if errors.Is(err, swaperr.ErrNotOpen) {
			t.resync.Store(true)
		}
		return
	}
	t.logger.Warn("Transaction failed, will retry", append(fields, zap.Duration("retry_in", delay))...)
}

// ==================== Chain observations ====================

func (t *swapTask) handleEvent(ctx context.Context, ev chain.Event) {
	leg := t.swap.LegByEscrow(ev.ChainID, ev.EscrowID)

	switch ev.Type {
	case chain.EventEscrowCreated:
		if leg != nil {
			t.applyCreate(ctx, leg.Role, ev.EscrowID, ev.TxHash)
			return
		}
		t.adoptEscrow(ctx, ev)
	case chain.EventEscrowClaimed:
		if leg == nil {
			return
		}
		t.applyClaim(ctx, leg.Role, ev.Secret, ev.TxHash)
	case chain.EventEscrowRefunded:
		if leg == nil {
			return
		}
		t.applyRefund(ctx, leg.Role, ev.TxHash)
	}
}

// adoptEscrow attaches an escrow created with our hashlock to a leg that
// has no escrow id yet, after checking it matches the leg's terms
func (t *swapTask) adoptEscrow(ctx context.Context, ev chain.Event) {
	var leg *models.EscrowRef
	for _, l := range t.legRefs() {
		if l.ChainID == ev.ChainID && l.State == models.EscrowStatePending {
			leg = l
		}
	}
	if leg == nil || ev.Hashlock != t.hash {
		return
	}

	a, err := t.m.adapterFor(leg.ChainID)
	if err != nil {
		return
	}
	info, err := a.GetEscrow(ctx, ev.EscrowID)
	if err != nil || info == nil {
		t.resync.Store(true)
		return
	}
	if !matchesLeg(leg, info) {
		t.logger.Warn("Escrow with our hashlock does not match leg terms",
			zap.String("chain_id", ev.ChainID),
			zap.String("escrow_id", ev.EscrowID))
		return
	}
	t.applyCreate(ctx, leg.Role, ev.EscrowID, ev.TxHash)
}

func (t *swapTask) applyCreate(ctx context.Context, role models.LegRole, escrowID, txHash string) {
	leg := t.swap.Leg(role)
	if leg.State != models.EscrowStatePending || escrowID == "" {
		return
	}

	leg.EscrowID = escrowID
	leg.State = models.EscrowStateOpen
	if txHash != "" {
		leg.CreateTxHash = models.StringPtr(txHash)
		if t.chargesFee(leg) {
			t.swap.FeeTxHash = models.StringPtr(txHash)
		}
	}
	if leg.PendingAction == models.PendingCreate {
		t.legs[role].clearPending(leg)
	}
	t.m.monitor.bindEscrow(t, leg.ChainID, escrowID)
	t.dirty = true

	t.logger.Info("Escrow created",
		zap.String("leg", string(role)),
		zap.String("chain_id", leg.ChainID),
		zap.String("escrow_id", escrowID),
		zap.Int64("timelock_expiry", leg.TimelockExpiry))
	t.recordLeg(ctx, role, "escrow created", txHash)
}

func (t *swapTask) applyClaim(ctx context.Context, role models.LegRole, secret hashlock.Secret, txHash string) {
	leg := t.swap.Leg(role)
	if leg.State.IsFinal() {
		return
	}
	if !hashlock.Verify(secret[:], t.hash) {
		t.logger.Error("Claimed secret does not match hashlock",
			zap.String("leg", string(role)),
			zap.String("escrow_id", leg.EscrowID),
			zap.String("tx_hash", txHash))
		return
	}

	leg.State = models.EscrowStateClaimed
	if txHash != "" {
		leg.ClaimTxHash = models.StringPtr(txHash)
	}
	if leg.PendingAction != models.PendingNone {
		t.legs[role].clearPending(leg)
	}
	if !t.swap.SecretRevealed() {
		t.swap.Secret = models.StringPtr(secret.Hex())
	}
	t.dirty = true

	t.logger.Info("Escrow claimed",
		zap.String("leg", string(role)),
		zap.String("escrow_id", leg.EscrowID),
		zap.String("tx_hash", txHash))
	t.recordLeg(ctx, role, "escrow claimed", txHash)
}

func (t *swapTask) applyRefund(ctx context.Context, role models.LegRole, txHash string) {
	leg := t.swap.Leg(role)
	if leg.State.IsFinal() {
		return
	}

	leg.State = models.EscrowStateRefunded
	if txHash != "" {
		leg.RefundTxHash = models.StringPtr(txHash)
	}
	if leg.PendingAction != models.PendingNone {
		t.legs[role].clearPending(leg)
	}
	t.dirty = true

	t.logger.Info("Escrow refunded",
		zap.String("leg", string(role)),
		zap.String("escrow_id", leg.EscrowID),
		zap.String("tx_hash", txHash))
	t.recordLeg(ctx, role, "escrow refunded", txHash)
}

// syncLegs re-reads both escrows from chain and applies any state change
// that was missed
func (t *swapTask) syncLegs(ctx context.Context) {
	for _, leg := range t.legRefs() {
		if leg.EscrowID == "" || leg.State.IsFinal() {
			continue
		}
		a, err := t.m.adapterFor(leg.ChainID)
		if err != nil {
			continue
		}

		qctx, cancel := context.WithTimeout(ctx, MonitorTimeout)
		info, err := a.GetEscrow(qctx, leg.EscrowID)
		cancel()
		if err != nil {
			t.logger.Debug("Failed to read escrow", zap.String("leg", string(leg.Role)), zap.Error(err))
			t.resync.Store(true)
			continue
		}
		if info == nil {
			continue
		}

		switch info.State {
		case models.EscrowStateOpen:
			if leg.State == models.EscrowStatePending {
				t.applyCreate(ctx, leg.Role, leg.EscrowID, "")
			}
		case models.EscrowStateClaimed:
			t.applyClaim(ctx, leg.Role, info.Secret, "")
		case models.EscrowStateRefunded:
			t.applyRefund(ctx, leg.Role, "")
		}
		if leg.State.IsFinal() {
			t.legs[leg.Role].unblock(chain.ActionClaim)
			t.legs[leg.Role].unblock(chain.ActionRefund)
		}
	}
}

// chainNow returns the chain-observed time, preferring a fresh adapter read
// over the monitor's last block time
func (t *swapTask) chainNow(ctx context.Context, chainID string) (time.Time, bool) {
	if a, err := t.m.adapterFor(chainID); err == nil {
		qctx, cancel := context.WithTimeout(ctx, MonitorTimeout)
		now, err := a.Now(qctx)
		cancel()
		if err == nil {
			return now, true
		}
	}
	return t.m.monitor.chainTime(chainID)
}

// ==================== Persistence ====================

func (t *swapTask) loadSecret(ctx context.Context) {
	secret, err := t.m.store.LoadSecret(ctx, t.id)
	if err != nil {
		t.logger.Warn("Failed to load swap secret", zap.Error(err))
		return
	}
	if secret == nil {
		return
	}
	if !hashlock.Verify(secret[:], t.hash) {
		t.logger.Error("Stored secret does not match hashlock")
		return
	}
	t.secret = secret
}

func (t *swapTask) transition(ctx context.Context, to models.SwapStatus, detail string) {
	from := t.swap.Status
	if !from.CanTransitionTo(to) {
		t.logger.Warn("Ignoring invalid status transition",
			zap.String("from", string(from)),
			zap.String("to", string(to)))
		return
	}

	t.swap.Status = to
	t.dirty = true
	t.save(ctx)

	t.logger.Info("Swap status changed",
		zap.String("from", string(from)),
		zap.String("to", string(to)),
		zap.String("detail", detail))

	t.appendEvent(ctx, models.SwapEvent{
		SwapID:     t.id,
		Type:       models.EventStatusChanged,
		FromStatus: from,
		ToStatus:   to,
		Detail:     detail,
	})
}

func (t *swapTask) fail(ctx context.Context, err error, detail string) {
	t.setError(err)
	t.transition(ctx, models.SwapStatusFailed, detail)
}

func (t *swapTask) setError(err error) {
	if err == nil {
		return
	}
	kind := string(swaperr.KindOf(err))
	t.swap.ErrorKind = &kind
	t.swap.ErrorMessage = models.StringPtr(err.Error())
	t.dirty = true
}

func (t *swapTask) recordLeg(ctx context.Context, role models.LegRole, detail, txHash string) {
	t.appendEvent(ctx, models.SwapEvent{
		SwapID:   t.id,
		Type:     models.EventLegUpdated,
		ToStatus: t.swap.Status,
		Leg:      role,
		TxHash:   txHash,
		Detail:   detail,
	})
}

func (t *swapTask) appendEvent(ctx context.Context, ev models.SwapEvent) {
	if err := t.m.store.AppendEvent(ctx, &ev); err != nil {
		t.logger.Error("Failed to append swap event", zap.Error(err))
		ev.CreatedAt = time.Now().UTC()
	}
	t.m.events.Publish(ev)
}

func (t *swapTask) save(ctx context.Context) {
	t.swap.UpdatedAt = time.Now().UTC()
	if err := t.m.store.UpsertSwap(ctx, t.swap); err != nil {
		t.logger.Error("Failed to persist swap", zap.Error(err))
		return
	}
	t.dirty = false
}

func actionFor(p models.PendingAction) chain.Action {
	switch p {
	case models.PendingCreate:
		return chain.ActionCreate
	case models.PendingClaim:
		return chain.ActionClaim
	default:
		return chain.ActionRefund
	}
}

// matchesLeg reports whether an on-chain escrow carries the leg's terms
func matchesLeg(leg *models.EscrowRef, info *chain.EscrowInfo) bool {
	return sameAddress(info.Initiator, leg.Initiator) &&
		sameAddress(info.Participant, leg.Participant) &&
		info.TimelockExpiry == leg.TimelockExpiry &&
		info.Amount != nil && info.Amount.Cmp(leg.Amount.OrZero()) == 0
}

func hashlockInUse(err error) bool {
	return errors.Is(unwrapPermanent(err), &swaperr.Error{Kind: swaperr.KindInvalidParameters, Code: swaperr.CodeHashlockInUse})
}

// sameAddress compares addresses case-insensitively, which covers both
// checksummed hex and bech32
func sameAddress(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}
