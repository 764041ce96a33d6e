package escrow

import (
	"math/big"
	"time"

	"atomicswap/internal/hashlock"
	"atomicswap/internal/models"
	"atomicswap/internal/swaperr"
)

// DefaultMinTimelock is the shortest lock duration accepted at creation
const DefaultMinTimelock = 30 * time.Minute

// Escrow is a single hashed-timelock lock on one chain.
// State moves OPEN -> CLAIMED or OPEN -> REFUNDED and never back.
type Escrow struct {
	ID                  string
	Initiator           string
	Participant         string
	CrossChainRecipient string
	Asset               string
	Amount              *big.Int
	Hashlock            hashlock.Hash
	Expiry              int64 // unix seconds
	State               models.EscrowState
	Secret              hashlock.Secret // set on claim
	CreatedAt           int64
}

// CanClaim returns nil iff the escrow is open, now is before expiry and
// secret hashes to the hashlock.
func (e *Escrow) CanClaim(now time.Time, secret []byte) error {
	if e.State != models.EscrowStateOpen {
		return swaperr.Newf(swaperr.KindNotOpen, "claim", "escrow %s is %s", e.ID, e.State)
	}
	if now.Unix() >= e.Expiry {
		return swaperr.Newf(swaperr.KindTimelockViolation, "claim",
			"escrow %s expired at %d, now %d", e.ID, e.Expiry, now.Unix())
	}
	if !hashlock.Verify(secret, e.Hashlock) {
		return swaperr.Newf(swaperr.KindSecretMismatch, "claim", "secret does not match hashlock of escrow %s", e.ID)
	}
	return nil
}

// CanRefund returns nil iff the escrow is open and its timelock has passed
func (e *Escrow) CanRefund(now time.Time) error {
	if e.State != models.EscrowStateOpen {
		return swaperr.Newf(swaperr.KindNotOpen, "refund", "escrow %s is %s", e.ID, e.State)
	}
	if now.Unix() < e.Expiry {
		return swaperr.Newf(swaperr.KindTimelockViolation, "refund",
			"escrow %s locked until %d, now %d", e.ID, e.Expiry, now.Unix())
	}
	return nil
}

// IsExpired reports whether the refund window is open
func (e *Escrow) IsExpired(now time.Time) bool {
	return now.Unix() >= e.Expiry
}

func (e *Escrow) clone() *Escrow {
	c := *e
	c.Amount = new(big.Int).Set(e.Amount)
	return &c
}

// StateFromCode maps the numeric state used by EVM HTLC contracts
func StateFromCode(code uint8) (models.EscrowState, bool) {
	switch code {
	case 1:
		return models.EscrowStateOpen, true
	case 2:
		return models.EscrowStateClaimed, true
	case 3:
		return models.EscrowStateRefunded, true
	}
	return "", false
}
