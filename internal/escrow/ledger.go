package escrow

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"math/big"
	"sync"
	"time"

	"atomicswap/internal/hashlock"
	"atomicswap/internal/models"
	"atomicswap/internal/swaperr"
)

// EventType classifies ledger log entries
type EventType string

const (
	EventCreated  EventType = "created"
	EventClaimed  EventType = "claimed"
	EventRefunded EventType = "refunded"
	EventBlock    EventType = "block"
)

// Event is one entry of the ledger's append-only log
type Event struct {
	Type     EventType
	EscrowID string
	Hashlock hashlock.Hash
	Secret   hashlock.Secret
	TxHash   string
	Height   int64
	Time     time.Time
}

// FeeTransfer moves a fee from the caller to a recipient in the same step as creation
type FeeTransfer struct {
	Recipient string
	Asset     string
	Amount    *big.Int
}

// CreateParams describes a new escrow
type CreateParams struct {
	ID                  string // optional, derived when empty
	Caller              string
	Participant         string
	CrossChainRecipient string
	Asset               string
	Amount              *big.Int
	Hashlock            hashlock.Hash
	Expiry              int64
	Fee                 *FeeTransfer
}

// Receipt is the result of one state-changing ledger operation
type Receipt struct {
	TxHash   string
	EscrowID string
	Height   int64
}

// Ledger is an in-memory chain holding many escrows keyed by id, with
// account balances, a controllable clock and an event log.
type Ledger struct {
	mu          sync.Mutex
	chainID     string
	minTimelock time.Duration
	now         time.Time
	height      int64
	nonce       uint64

	escrows  map[string]*Escrow
	balances map[string]map[string]*big.Int // account -> asset -> amount
	custody  map[string]*big.Int            // asset -> locked amount

	log    []Event
	notify chan struct{}
}

// NewLedger creates an empty ledger whose clock starts at start
func NewLedger(chainID string, start time.Time, minTimelock time.Duration) *Ledger {
	if minTimelock <= 0 {
		minTimelock = DefaultMinTimelock
	}
	return &Ledger{
		chainID:     chainID,
		minTimelock: minTimelock,
		now:         start.UTC(),
		height:      1,
		escrows:     make(map[string]*Escrow),
		balances:    make(map[string]map[string]*big.Int),
		custody:     make(map[string]*big.Int),
		notify:      make(chan struct{}),
	}
}

// ChainID returns the ledger's chain identifier
func (l *Ledger) ChainID() string {
	return l.chainID
}

// Now returns the ledger's current block time
func (l *Ledger) Now() time.Time {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.now
}

// Height returns the current block height
func (l *Ledger) Height() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.height
}

// Advance moves the clock forward by d and produces a new block
func (l *Ledger) Advance(d time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.advanceLocked(l.now.Add(d))
}

// AdvanceTo moves the clock to t if t is later than the current time
func (l *Ledger) AdvanceTo(t time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !t.After(l.now) {
		return
	}
	l.advanceLocked(t.UTC())
}

func (l *Ledger) advanceLocked(t time.Time) {
	l.now = t
	l.height++
	l.appendLocked(Event{Type: EventBlock})
}

// Mint credits an account, used to fund test and dev accounts
func (l *Ledger) Mint(account, asset string, amount *big.Int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.balanceLocked(account, asset).Add(l.balanceLocked(account, asset), amount)
}

// Balance returns an account's balance of asset
func (l *Ledger) Balance(account, asset string) *big.Int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return new(big.Int).Set(l.balanceLocked(account, asset))
}

// Custody returns the total amount of asset locked in open escrows
func (l *Ledger) Custody(asset string) *big.Int {
	l.mu.Lock()
	defer l.mu.Unlock()
	if c, ok := l.custody[asset]; ok {
		return new(big.Int).Set(c)
	}
	return new(big.Int)
}

// Create locks funds from the caller into a new escrow
func (l *Ledger) Create(p CreateParams) (*Receipt, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if p.Participant == "" {
		return nil, swaperr.Invalid(swaperr.CodeZeroAddress, "participant address is empty")
	}
	if p.Participant == p.Caller {
		return nil, swaperr.Invalid(swaperr.CodeSelfSwap, "cannot swap with yourself")
	}
	if p.Amount == nil || p.Amount.Sign() <= 0 {
		return nil, swaperr.Invalid(swaperr.CodeNonPositiveAmount, "amount must be greater than 0")
	}
	if time.Unix(p.Expiry, 0).Sub(l.now) < l.minTimelock {
		return nil, swaperr.Invalid(swaperr.CodeTimelockTooShort,
			"timelock %d is less than %s after %d", p.Expiry, l.minTimelock, l.now.Unix())
	}
	for _, e := range l.escrows {
		if e.State == models.EscrowStateOpen && e.Initiator == p.Caller && e.Hashlock == p.Hashlock {
			return nil, swaperr.Invalid(swaperr.CodeHashlockInUse, "hashlock already used by open escrow %s", e.ID)
		}
	}

	id := p.ID
	if id == "" {
		id = l.deriveIDLocked(p.Caller, p.Hashlock)
	}
	if _, exists := l.escrows[id]; exists {
		return nil, swaperr.Invalid(swaperr.CodeHashlockInUse, "escrow %s already exists", id)
	}

	// Principal and fee are debited together or not at all
	need := map[string]*big.Int{p.Asset: new(big.Int).Set(p.Amount)}
	if p.Fee != nil && p.Fee.Amount != nil && p.Fee.Amount.Sign() > 0 {
		if cur, ok := need[p.Fee.Asset]; ok {
			cur.Add(cur, p.Fee.Amount)
		} else {
			need[p.Fee.Asset] = new(big.Int).Set(p.Fee.Amount)
		}
	}
	for asset, amt := range need {
		if l.balanceLocked(p.Caller, asset).Cmp(amt) < 0 {
			return nil, swaperr.Invalid(swaperr.CodeInsufficientFunds,
				"balance of %s for %s is below %s", asset, p.Caller, amt)
		}
	}

	bal := l.balanceLocked(p.Caller, p.Asset)
	bal.Sub(bal, p.Amount)
	l.custodyLocked(p.Asset).Add(l.custodyLocked(p.Asset), p.Amount)
	if p.Fee != nil && p.Fee.Amount != nil && p.Fee.Amount.Sign() > 0 {
		feeBal := l.balanceLocked(p.Caller, p.Fee.Asset)
		feeBal.Sub(feeBal, p.Fee.Amount)
		rcpt := l.balanceLocked(p.Fee.Recipient, p.Fee.Asset)
		rcpt.Add(rcpt, p.Fee.Amount)
	}

	l.escrows[id] = &Escrow{
		ID:                  id,
		Initiator:           p.Caller,
		Participant:         p.Participant,
		CrossChainRecipient: p.CrossChainRecipient,
		Asset:               p.Asset,
		Amount:              new(big.Int).Set(p.Amount),
		Hashlock:            p.Hashlock,
		Expiry:              p.Expiry,
		State:               models.EscrowStateOpen,
		CreatedAt:           l.now.Unix(),
	}

	ev := l.appendLocked(Event{Type: EventCreated, EscrowID: id, Hashlock: p.Hashlock})
	return &Receipt{TxHash: ev.TxHash, EscrowID: id, Height: ev.Height}, nil
}

// Claim releases the escrow to its participant when the secret matches
func (l *Ledger) Claim(id string, secret []byte) (*Receipt, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.escrows[id]
	if !ok {
		return nil, swaperr.Newf(swaperr.KindNotFound, "claim", "escrow %s not found", id)
	}
	if err := e.CanClaim(l.now, secret); err != nil {
		return nil, err
	}

	l.custodyLocked(e.Asset).Sub(l.custodyLocked(e.Asset), e.Amount)
	bal := l.balanceLocked(e.Participant, e.Asset)
	bal.Add(bal, e.Amount)
	e.State = models.EscrowStateClaimed
	copy(e.Secret[:], secret)

	ev := l.appendLocked(Event{Type: EventClaimed, EscrowID: id, Hashlock: e.Hashlock, Secret: e.Secret})
	return &Receipt{TxHash: ev.TxHash, EscrowID: id, Height: ev.Height}, nil
}

// Refund returns the escrow to its initiator once expired
func (l *Ledger) Refund(id string) (*Receipt, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.escrows[id]
	if !ok {
		return nil, swaperr.Newf(swaperr.KindNotFound, "refund", "escrow %s not found", id)
	}
	if err := e.CanRefund(l.now); err != nil {
		return nil, err
	}

	l.custodyLocked(e.Asset).Sub(l.custodyLocked(e.Asset), e.Amount)
	bal := l.balanceLocked(e.Initiator, e.Asset)
	bal.Add(bal, e.Amount)
	e.State = models.EscrowStateRefunded

	ev := l.appendLocked(Event{Type: EventRefunded, EscrowID: id, Hashlock: e.Hashlock})
	return &Receipt{TxHash: ev.TxHash, EscrowID: id, Height: ev.Height}, nil
}

// Get returns a copy of the escrow, or nil if unknown
func (l *Ledger) Get(id string) *Escrow {
	l.mu.Lock()
	defer l.mu.Unlock()
	if e, ok := l.escrows[id]; ok {
		return e.clone()
	}
	return nil
}

// FindByHashlock returns a copy of the escrow caller created with hl,
// preferring an open one, or nil if there is none
func (l *Ledger) FindByHashlock(caller string, hl hashlock.Hash) *Escrow {
	l.mu.Lock()
	defer l.mu.Unlock()

	var found *Escrow
	for _, e := range l.escrows {
		if e.Initiator != caller || e.Hashlock != hl {
			continue
		}
		if found == nil || e.State == models.EscrowStateOpen {
			found = e
		}
	}
	if found == nil {
		return nil
	}
	return found.clone()
}

// IsClaimable reports whether Claim(id, secret) would succeed now
func (l *Ledger) IsClaimable(id string, secret []byte) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.escrows[id]
	return ok && e.CanClaim(l.now, secret) == nil
}

// IsRefundable reports whether Refund(id) would succeed now
func (l *Ledger) IsRefundable(id string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.escrows[id]
	return ok && e.CanRefund(l.now) == nil
}

// EventsSince returns log entries from cursor on, the next cursor, and a
// channel closed when more entries are appended.
func (l *Ledger) EventsSince(cursor int) ([]Event, int, <-chan struct{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if cursor < 0 {
		cursor = 0
	}
	if cursor > len(l.log) {
		cursor = len(l.log)
	}
	out := make([]Event, len(l.log)-cursor)
	copy(out, l.log[cursor:])
	return out, len(l.log), l.notify
}

// TxResult looks up the log entry produced by a transaction
func (l *Ledger) TxResult(txHash string) (Event, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i := len(l.log) - 1; i >= 0; i-- {
		if l.log[i].TxHash == txHash {
			return l.log[i], true
		}
	}
	return Event{}, false
}

func (l *Ledger) appendLocked(ev Event) Event {
	l.nonce++
	ev.Height = l.height
	ev.Time = l.now
	if ev.Type != EventBlock {
		ev.TxHash = l.txHashLocked(ev)
	}
	l.log = append(l.log, ev)
	close(l.notify)
	l.notify = make(chan struct{})
	return ev
}

func (l *Ledger) txHashLocked(ev Event) string {
	h := sha256.New()
	h.Write([]byte(l.chainID))
	h.Write([]byte(ev.Type))
	h.Write([]byte(ev.EscrowID))
	var n [8]byte
	binary.BigEndian.PutUint64(n[:], l.nonce)
	h.Write(n[:])
	return "0x" + hex.EncodeToString(h.Sum(nil))
}

func (l *Ledger) deriveIDLocked(caller string, hl hashlock.Hash) string {
	h := sha256.New()
	h.Write([]byte(l.chainID))
	h.Write([]byte(caller))
	h.Write(hl[:])
	var n [8]byte
	binary.BigEndian.PutUint64(n[:], l.nonce)
	h.Write(n[:])
	return "0x" + hex.EncodeToString(h.Sum(nil))
}

func (l *Ledger) balanceLocked(account, asset string) *big.Int {
	byAsset, ok := l.balances[account]
	if !ok {
		byAsset = make(map[string]*big.Int)
		l.balances[account] = byAsset
	}
	bal, ok := byAsset[asset]
	if !ok {
		bal = new(big.Int)
		byAsset[asset] = bal
	}
	return bal
}

func (l *Ledger) custodyLocked(asset string) *big.Int {
	c, ok := l.custody[asset]
	if !ok {
		c = new(big.Int)
		l.custody[asset] = c
	}
	return c
}
