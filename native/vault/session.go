package vault

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// sessionState is the single mutable lock record for a vault instance. It is
// alive only for the duration of one top-level operation: acquire zeroes the
// running balances, release refuses to close while either is non-zero.
type sessionState struct {
	locked bool
	caller common.Address
	// borrowedBalance and collateralBalance are the two scoped running
	// balances that must net to zero by the end of an operation.
	borrowedBalance   *big.Int
	collateralBalance *big.Int
}

func newSessionState() *sessionState {
	return &sessionState{
		borrowedBalance:   big.NewInt(0),
		collateralBalance: big.NewInt(0),
	}
}

func (s *sessionState) acquire(caller common.Address) error {
	if s.locked {
		return ErrSessionLocked
	}
	s.locked = true
	s.caller = caller
	s.borrowedBalance = big.NewInt(0)
	s.collateralBalance = big.NewInt(0)
	return nil
}

func (s *sessionState) release() error {
	if !s.locked {
		return ErrSessionNotLocked
	}
	if s.borrowedBalance.Sign() != 0 || s.collateralBalance.Sign() != 0 {
		return ErrSessionBalanceNonZero
	}
	s.locked = false
	s.caller = common.Address{}
	return nil
}

// abort force-unlocks after a failed operation. The journal revert restores
// collaborator state; this clears the lock record itself.
func (s *sessionState) abort() {
	s.locked = false
	s.caller = common.Address{}
	s.borrowedBalance = big.NewInt(0)
	s.collateralBalance = big.NewInt(0)
}

// requireOpen gates every primitive action: the session must be locked and the
// invoking identity must match the operation initiator.
func (s *sessionState) requireOpen(invoker common.Address) error {
	if !s.locked {
		return ErrSessionNotLocked
	}
	if invoker != s.caller {
		return ErrNotSessionCaller
	}
	return nil
}

func (s *sessionState) creditBorrowed(amount *big.Int) {
	s.borrowedBalance = new(big.Int).Add(s.borrowedBalance, amount)
}

func (s *sessionState) debitBorrowed(amount *big.Int) error {
	if s.borrowedBalance.Cmp(amount) < 0 {
		return ErrInsufficientSessionBalance
	}
	s.borrowedBalance = new(big.Int).Sub(s.borrowedBalance, amount)
	return nil
}

func (s *sessionState) creditCollateral(amount *big.Int) {
	s.collateralBalance = new(big.Int).Add(s.collateralBalance, amount)
}

func (s *sessionState) debitCollateral(amount *big.Int) error {
	if s.collateralBalance.Cmp(amount) < 0 {
		return ErrInsufficientSessionBalance
	}
	s.collateralBalance = new(big.Int).Sub(s.collateralBalance, amount)
	return nil
}

// SessionHandle is the capability a callback receives to invoke primitive
// actions. It binds the invoking identity so a handle leaked to another party
// fails the caller check rather than acting on the open session.
type SessionHandle struct {
	engine  *Engine
	invoker common.Address
}

// Invoker returns the identity this handle acts as.
func (h *SessionHandle) Invoker() common.Address {
	return h.invoker
}

// BorrowedBalance returns the session's running borrowed-asset balance.
func (h *SessionHandle) BorrowedBalance() *big.Int {
	return clone(h.engine.session.borrowedBalance)
}

// CollateralBalance returns the session's running collateral-asset balance.
func (h *SessionHandle) CollateralBalance() *big.Int {
	return clone(h.engine.session.collateralBalance)
}
