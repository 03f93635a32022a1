package vault

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Read surface. Position state is transiently inconsistent while a session is
// open, so every getter that needs a consistent view refuses to run under the
// lock instead of returning mid-operation garbage.

func (e *Engine) requireUnlocked() error {
	if e == nil || e.session == nil {
		return ErrNilState
	}
	if e.session.locked {
		return ErrSessionLocked
	}
	return nil
}

// Nav returns collateral value minus debt value from a fresh snapshot.
func (e *Engine) Nav() (*big.Int, error) {
	if err := e.requireUnlocked(); err != nil {
		return nil, err
	}
	snapshot, err := e.takeSnapshot()
	if err != nil {
		return nil, err
	}
	return snapshot.Nav(), nil
}

// Rate returns the wad NAV per fully diluted share, 1.0 while the vault is
// empty.
func (e *Engine) Rate() (*big.Int, error) {
	if err := e.requireUnlocked(); err != nil {
		return nil, err
	}
	snapshot, err := e.takeSnapshot()
	if err != nil {
		return nil, err
	}
	return exchangeRate(snapshot.Nav(), snapshot.TotalShares), nil
}

// TotalShares returns the fully diluted supply including unminted fee shares.
func (e *Engine) TotalShares() (*big.Int, error) {
	if err := e.requireUnlocked(); err != nil {
		return nil, err
	}
	snapshot, err := e.takeSnapshot()
	if err != nil {
		return nil, err
	}
	return clone(snapshot.TotalShares), nil
}

// SharesOf returns the minted share balance of a holder.
func (e *Engine) SharesOf(holder common.Address) (*big.Int, error) {
	if err := e.requireUnlocked(); err != nil {
		return nil, err
	}
	if e.state == nil {
		return nil, ErrNilState
	}
	account, err := e.state.GetShareAccount(holder)
	if err != nil {
		return nil, err
	}
	if account == nil {
		return big.NewInt(0), nil
	}
	return clone(account.Shares), nil
}

// ConvertToShares values assets in shares at the current rate. Identity when
// the vault is empty; a deficit position fails loudly.
func (e *Engine) ConvertToShares(assets *big.Int) (*big.Int, error) {
	if err := e.requireUnlocked(); err != nil {
		return nil, err
	}
	snapshot, err := e.takeSnapshot()
	if err != nil {
		return nil, err
	}
	nav := snapshot.Nav()
	if nav.Sign() == 0 || snapshot.TotalShares.Sign() == 0 {
		return clone(assets), nil
	}
	if nav.Sign() < 0 {
		return nil, ErrNavDeficit
	}
	return mulDiv(zeroIfNil(assets), snapshot.TotalShares, nav, RoundDown), nil
}

// ConvertToAssets values shares in assets at the current rate. Identity when
// the vault is empty; a deficit position fails loudly.
func (e *Engine) ConvertToAssets(shares *big.Int) (*big.Int, error) {
	if err := e.requireUnlocked(); err != nil {
		return nil, err
	}
	snapshot, err := e.takeSnapshot()
	if err != nil {
		return nil, err
	}
	nav := snapshot.Nav()
	if nav.Sign() == 0 || snapshot.TotalShares.Sign() == 0 {
		return clone(shares), nil
	}
	if nav.Sign() < 0 {
		return nil, ErrNavDeficit
	}
	return mulDiv(zeroIfNil(shares), nav, snapshot.TotalShares, RoundDown), nil
}

// Snapshot exposes a fresh position snapshot to read-only callers.
func (e *Engine) Snapshot() (*PositionSnapshot, error) {
	if err := e.requireUnlocked(); err != nil {
		return nil, err
	}
	return e.takeSnapshot()
}

// SuggestBorrow sizes the borrow that drives the health factor to target,
// using the configured safety buffer. Zero when already at or below target.
func (e *Engine) SuggestBorrow(buffer *big.Int) (*big.Int, error) {
	if err := e.requireUnlocked(); err != nil {
		return nil, err
	}
	data, err := e.market.PositionData(e.vaultAddress)
	if err != nil {
		return nil, err
	}
	return BorrowSizing(data, e.policy.TargetHealthFactor, buffer), nil
}
