package vault

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Primitive actions. Each one requires an open session owned by the handle's
// invoker, updates exactly one running balance, and immediately performs the
// corresponding collaborator call. Ordering and count are entirely the
// callback's responsibility; the release-time zero-balance check is what makes
// an arbitrary sequence safe.

// Stake converts borrowed-asset session balance into collateral-asset session
// balance through the staking pool.
func (h *SessionHandle) Stake(amount *big.Int) (*big.Int, error) {
	e := h.engine
	if err := e.session.requireOpen(h.invoker); err != nil {
		return nil, err
	}
	if amount == nil || amount.Sign() <= 0 {
		return nil, ErrZeroAmount
	}
	if e.minStake != nil && amount.Cmp(e.minStake) < 0 {
		return nil, ErrAmountBelowMinimum
	}
	if err := e.session.debitBorrowed(amount); err != nil {
		return nil, err
	}
	received, err := e.staking.Stake(amount)
	if err != nil {
		return nil, fmt.Errorf("stake: %w", err)
	}
	e.session.creditCollateral(received)
	return received, nil
}

// SupplyCollateral moves collateral from the session balance into the lending
// market position.
func (h *SessionHandle) SupplyCollateral(amount *big.Int) error {
	e := h.engine
	if err := e.session.requireOpen(h.invoker); err != nil {
		return err
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrZeroAmount
	}
	if err := e.session.debitCollateral(amount); err != nil {
		return err
	}
	if err := e.market.Supply(e.collateralAsset, amount); err != nil {
		return fmt.Errorf("supply collateral: %w", err)
	}
	return nil
}

// WithdrawCollateral moves collateral from the lending market position into
// the session balance. The market reports the amount actually released.
func (h *SessionHandle) WithdrawCollateral(amount *big.Int) (*big.Int, error) {
	e := h.engine
	if err := e.session.requireOpen(h.invoker); err != nil {
		return nil, err
	}
	if amount == nil || amount.Sign() <= 0 {
		return nil, ErrZeroAmount
	}
	actual, err := e.market.Withdraw(e.collateralAsset, amount)
	if err != nil {
		return nil, fmt.Errorf("withdraw collateral: %w", err)
	}
	e.session.creditCollateral(actual)
	return actual, nil
}

// Borrow draws the borrowed asset from the lending market into the session
// balance.
func (h *SessionHandle) Borrow(amount *big.Int) error {
	e := h.engine
	if err := e.session.requireOpen(h.invoker); err != nil {
		return err
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrZeroAmount
	}
	if err := e.market.Borrow(e.borrowedAsset, amount); err != nil {
		return fmt.Errorf("borrow: %w", err)
	}
	e.session.creditBorrowed(amount)
	return nil
}

// Repay returns borrowed-asset session balance to the lending market debt
// position. Any portion the market does not accept is credited back.
func (h *SessionHandle) Repay(amount *big.Int) (*big.Int, error) {
	e := h.engine
	if err := e.session.requireOpen(h.invoker); err != nil {
		return nil, err
	}
	if amount == nil || amount.Sign() <= 0 {
		return nil, ErrZeroAmount
	}
	if err := e.session.debitBorrowed(amount); err != nil {
		return nil, err
	}
	actual, err := e.market.Repay(e.borrowedAsset, amount)
	if err != nil {
		return nil, fmt.Errorf("repay: %w", err)
	}
	if actual.Cmp(amount) < 0 {
		e.session.creditBorrowed(new(big.Int).Sub(amount, actual))
	}
	return actual, nil
}

// Send transfers session-held assets to an external holder.
func (h *SessionHandle) Send(asset, to common.Address, amount *big.Int) error {
	e := h.engine
	if err := e.session.requireOpen(h.invoker); err != nil {
		return err
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrZeroAmount
	}
	if to == (common.Address{}) {
		return ErrZeroAddress
	}
	switch asset {
	case e.borrowedAsset:
		if err := e.session.debitBorrowed(amount); err != nil {
			return err
		}
	case e.collateralAsset:
		if err := e.session.debitCollateral(amount); err != nil {
			return err
		}
	default:
		return ErrUnsupportedAsset
	}
	if err := e.ledger.Transfer(asset, to, amount); err != nil {
		return fmt.Errorf("send: %w", err)
	}
	return nil
}

// Pull transfers assets from an external holder into the session balance.
func (h *SessionHandle) Pull(asset, from common.Address, amount *big.Int) error {
	e := h.engine
	if err := e.session.requireOpen(h.invoker); err != nil {
		return err
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrZeroAmount
	}
	if from == (common.Address{}) {
		return ErrZeroAddress
	}
	if asset != e.borrowedAsset && asset != e.collateralAsset {
		return ErrUnsupportedAsset
	}
	if err := e.ledger.TransferFrom(asset, from, e.vaultAddress, amount); err != nil {
		return fmt.Errorf("pull: %w", err)
	}
	if asset == e.borrowedAsset {
		e.session.creditBorrowed(amount)
	} else {
		e.session.creditCollateral(amount)
	}
	return nil
}
