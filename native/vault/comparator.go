package vault

import (
	"math/big"
)

// ComparisonContext pairs the before/after snapshots of one operation plus
// the share amount involved (withdraw only). It is stateless and used once.
type ComparisonContext struct {
	Before *PositionSnapshot
	After  *PositionSnapshot
	// Shares is the burned amount on the withdraw path, nil otherwise.
	Shares *big.Int
}

// NavDelta returns after-NAV minus before-NAV. Negative when the operation
// destroyed value.
func (c *ComparisonContext) NavDelta() *big.Int {
	return new(big.Int).Sub(c.After.Nav(), c.Before.Nav())
}

// checkRateStable asserts the reference rate seen at session-open equals the
// one at session-close. A mid-session oracle refresh would otherwise be
// misattributed to the operation's own economic effect.
func (c *ComparisonContext) checkRateStable() error {
	if c.Before.Rate.Cmp(c.After.Rate) != 0 {
		return ErrRateChanged
	}
	return nil
}

// DepositPolicy is the configurable acceptance band around the target health
// factor. The band is asymmetric: tight below target, slightly looser above,
// sized to the staking pool's minimum-deposit granularity.
type DepositPolicy struct {
	// TargetHealthFactor is wad fixed point.
	TargetHealthFactor *big.Int
	// ToleranceBelowBps and ToleranceAboveBps bound the post-operation health
	// factor to [target*(1-below), target*(1+above)].
	ToleranceBelowBps uint64
	ToleranceAboveBps uint64
	// MinNavIncrease rejects dust and no-op deposits.
	MinNavIncrease *big.Int
}

func (p DepositPolicy) bandLow() *big.Int {
	margin := mulDiv(p.TargetHealthFactor, new(big.Int).SetUint64(p.ToleranceBelowBps), basisPoints, RoundUp)
	return new(big.Int).Sub(p.TargetHealthFactor, margin)
}

func (p DepositPolicy) bandHigh() *big.Int {
	margin := mulDiv(p.TargetHealthFactor, new(big.Int).SetUint64(p.ToleranceAboveBps), basisPoints, RoundDown)
	return new(big.Int).Add(p.TargetHealthFactor, margin)
}

// checkDeposit accepts a deposit only when it moved the position toward the
// target health factor without overshooting the band and created at least the
// minimum NAV. Returns the NAV delta for share minting.
func (c *ComparisonContext) checkDeposit(policy DepositPolicy) (*big.Int, error) {
	hf0 := zeroIfNil(c.Before.HealthFactor)
	hf1 := zeroIfNil(c.After.HealthFactor)
	target := policy.TargetHealthFactor

	if hf0.Cmp(target) < 0 {
		// Under-levered start: the deposit must not worsen health and must
		// not leapfrog past the band.
		if hf1.Cmp(hf0) < 0 || hf1.Cmp(policy.bandHigh()) > 0 {
			return nil, ErrHealthFactorOutOfRange
		}
	} else {
		if hf1.Cmp(policy.bandLow()) < 0 || hf1.Cmp(policy.bandHigh()) > 0 {
			return nil, ErrHealthFactorOutOfRange
		}
	}

	delta := c.NavDelta()
	if delta.Cmp(zeroIfNil(policy.MinNavIncrease)) < 0 {
		return nil, ErrNavIncreaseBelowMin
	}
	return delta, nil
}

// checkWithdraw verifies the proportional reduction invariant: for s shares
// out of T, debt shrinks by ceil(debt*s/T) and collateral by
// floor(collateral*s/T), rounding always in the vault's favor. A single unit
// of deviation in the favorable direction is tolerated to absorb the lending
// market's own internal rounding.
func (c *ComparisonContext) checkWithdraw() error {
	shares := zeroIfNil(c.Shares)
	total := zeroIfNil(c.Before.TotalShares)
	if total.Sign() == 0 {
		return ErrInsufficientShares
	}

	debtCut := mulDiv(c.Before.DebtValue, shares, total, RoundUp)
	expectedDebt := new(big.Int).Sub(c.Before.DebtValue, debtCut)
	debtDiff := new(big.Int).Sub(expectedDebt, c.After.DebtValue)
	if debtDiff.Sign() < 0 || debtDiff.Cmp(one) > 0 {
		return ErrDebtAfterWithdraw
	}

	collateralCut := mulDiv(c.Before.CollateralAmount, shares, total, RoundDown)
	expectedCollateral := new(big.Int).Sub(c.Before.CollateralAmount, collateralCut)
	collateralDiff := new(big.Int).Sub(c.After.CollateralAmount, expectedCollateral)
	if collateralDiff.Sign() < 0 || collateralDiff.Cmp(one) > 0 {
		return ErrCollateralAfterWithdraw
	}
	return nil
}

// checkUnwind requires the externally-sold collateral slice to have returned
// at least its redemption value less the configured slippage tolerance. The
// redemption value is computed at the staking pool's exact rate so oracle lag
// in the lending market is never attributed to the operator.
func (c *ComparisonContext) checkUnwind(proceeds, redemptionValue *big.Int, slippageToleranceBps uint64) error {
	haircut := mulDiv(redemptionValue, new(big.Int).SetUint64(slippageToleranceBps), basisPoints, RoundDown)
	minimum := new(big.Int).Sub(zeroIfNil(redemptionValue), haircut)
	if zeroIfNil(proceeds).Cmp(minimum) < 0 {
		return ErrInsufficientProceeds
	}
	return nil
}

// checkInitializeBefore rejects initialization of a vault that already has
// shares or collateral.
func checkInitializeBefore(before *PositionSnapshot) error {
	if before.TotalShares.Sign() != 0 {
		return ErrAlreadyInitialized
	}
	if before.CollateralAmount.Sign() != 0 {
		return ErrCollateralNonZero
	}
	return nil
}

// checkInitializeAfter requires the bootstrap sequence to end with zero debt.
func checkInitializeAfter(after *PositionSnapshot) error {
	if after.DebtValue.Sign() != 0 {
		return ErrDebtAfterInit
	}
	return nil
}

// BorrowSizing solves for the borrow amount that, once staked and
// re-supplied as collateral, drives the health factor to the target. D is the
// current debt, A the LTV headroom; buffer (wad) shaves A for oracle
// precision. Returns zero when the position is already at or below target.
func BorrowSizing(data PositionData, target, buffer *big.Int) *big.Int {
	hf := zeroIfNil(data.HealthFactor)
	available := zeroIfNil(data.AvailableBorrow)
	if hf.Cmp(target) < 0 || available.Sign() == 0 {
		return big.NewInt(0)
	}
	trimmed := wadMul(available, new(big.Int).Sub(wad, zeroIfNil(buffer)), RoundDown)
	debt := zeroIfNil(data.DebtValue)
	if debt.Sign() == 0 {
		return trimmed
	}
	denom := new(big.Int).Sub(target, bpsToWad(data.LiquidationThreshold))
	if denom.Sign() <= 0 {
		return big.NewInt(0)
	}
	excess := new(big.Int).Sub(hf, target)
	targetAmount := mulDiv(excess, debt, denom, RoundDown)
	if targetAmount.Cmp(trimmed) < 0 {
		return targetAmount
	}
	return trimmed
}
