package vault

import (
	"fmt"
	"math/big"
)

// takeSnapshot builds an immutable point-in-time view of the position from
// the lending market and the rate-cap collaborator. Every read constructs a
// fresh snapshot; nothing here is cached or mutated afterwards.
func (e *Engine) takeSnapshot() (*PositionSnapshot, error) {
	if e.market == nil {
		return nil, ErrNilMarket
	}
	if e.rateCap == nil {
		return nil, ErrNilRateCap
	}

	data, err := e.market.PositionData(e.vaultAddress)
	if err != nil {
		return nil, fmt.Errorf("position data: %w", err)
	}
	scaledCollateral, err := e.market.ScaledCollateral(e.vaultAddress)
	if err != nil {
		return nil, fmt.Errorf("scaled collateral: %w", err)
	}
	collateralIndex, err := e.market.CollateralIndex()
	if err != nil {
		return nil, fmt.Errorf("collateral index: %w", err)
	}
	scaledDebt, err := e.market.ScaledDebt(e.vaultAddress)
	if err != nil {
		return nil, fmt.Errorf("scaled debt: %w", err)
	}
	debtIndex, err := e.market.DebtIndex()
	if err != nil {
		return nil, fmt.Errorf("debt index: %w", err)
	}
	rate, err := e.rateCap.CurrentRate()
	if err != nil {
		return nil, fmt.Errorf("reference rate: %w", err)
	}

	snapshot := &PositionSnapshot{
		CollateralAmount:     mulDiv(zeroIfNil(scaledCollateral), zeroIfNil(collateralIndex), wad, RoundDown),
		CollateralValue:      clone(data.CollateralValue),
		DebtValue:            clone(data.DebtValue),
		AvailableBorrow:      clone(data.AvailableBorrow),
		Ltv:                  bpsToWad(data.Ltv),
		LiquidationThreshold: bpsToWad(data.LiquidationThreshold),
		HealthFactor:         clone(data.HealthFactor),
		ScaledCollateral:     clone(scaledCollateral),
		CollateralIndex:      clone(collateralIndex),
		ScaledDebt:           clone(scaledDebt),
		DebtIndex:            clone(debtIndex),
		Rate:                 clone(rate),
	}

	totalShares, err := e.totalSupplyWithPendingFees(snapshot)
	if err != nil {
		return nil, err
	}
	snapshot.TotalShares = totalShares
	return snapshot, nil
}

// totalSupplyWithPendingFees returns the minted supply plus the fee shares the
// high-water-mark accrual would mint at the snapshot's exchange rate. The
// withdraw predicate needs the fully diluted figure so fee shares cannot be
// skipped by withdrawing before an accrual.
func (e *Engine) totalSupplyWithPendingFees(snapshot *PositionSnapshot) (*big.Int, error) {
	if e.state == nil {
		return nil, ErrNilState
	}
	supply, err := e.state.GetShareSupply()
	if err != nil {
		return nil, err
	}
	supply = clone(supply)
	fees, err := e.state.GetFeeState()
	if err != nil {
		return nil, err
	}
	pending := previewFeeShares(fees, exchangeRate(snapshot.Nav(), supply), supply)
	return supply.Add(supply, pending), nil
}
