package vault

import (
	"math/big"
)

// exchangeRate is the wad NAV per share used by the fee accrual. By
// convention it is 1.0 when the vault is empty on either side, and 0 when the
// position is in deficit so a drawdown can never accrue fees.
func exchangeRate(nav, supply *big.Int) *big.Int {
	if nav == nil || supply == nil || nav.Sign() == 0 || supply.Sign() == 0 {
		return clone(wad)
	}
	if nav.Sign() < 0 {
		return big.NewInt(0)
	}
	return wadDiv(nav, supply, RoundDown)
}

// previewFeeShares computes the dilutive share issuance the high-water-mark
// fee would mint at the given rate, without mutating anything.
func previewFeeShares(fees *FeeState, rate, supply *big.Int) *big.Int {
	if fees == nil || fees.FeeRate == nil || fees.FeeRate.Sign() == 0 {
		return big.NewInt(0)
	}
	if supply == nil || supply.Sign() == 0 {
		return big.NewInt(0)
	}
	high := zeroIfNil(fees.AllTimeHighRate)
	if rate == nil || rate.Cmp(high) <= 0 {
		return big.NewInt(0)
	}
	growth := new(big.Int).Sub(rate, high)
	// ownershipFraction = growth * feeRate / rate, as a wad fraction of the
	// post-mint supply owned by the fee recipient.
	fraction := mulDiv(growth, fees.FeeRate, rate, RoundDown)
	remainder := new(big.Int).Sub(wad, fraction)
	if remainder.Sign() <= 0 {
		return big.NewInt(0)
	}
	return mulDiv(supply, fraction, remainder, RoundDown)
}

// accrueFees realises rate growth above the all-time high as fee shares
// minted to the recipient. Fees accrue only on new growth, never on recovery
// of a prior drawdown; the high-water mark is advanced to the rate computed
// over the post-mint supply so the same growth cannot be charged twice.
func (e *Engine) accrueFees() (*big.Int, error) {
	if e.state == nil {
		return nil, ErrNilState
	}
	snapshot, err := e.takeSnapshot()
	if err != nil {
		return nil, err
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
	if fees == nil {
		fees = &FeeState{FeeRate: big.NewInt(0), AllTimeHighRate: clone(wad)}
	} else {
		fees = fees.Clone()
	}

	nav := snapshot.Nav()
	rate := exchangeRate(nav, supply)
	if rate.Cmp(zeroIfNil(fees.AllTimeHighRate)) <= 0 {
		return big.NewInt(0), nil
	}

	feeShares := previewFeeShares(fees, rate, supply)
	if feeShares.Sign() > 0 {
		if fees.Recipient == zeroAddress {
			return nil, ErrNilFeeRecipient
		}
		recipient, err := e.state.GetShareAccount(fees.Recipient)
		if err != nil {
			return nil, err
		}
		if recipient == nil {
			recipient = &ShareAccount{Address: fees.Recipient, Shares: big.NewInt(0)}
		}
		recipient.Shares = new(big.Int).Add(zeroIfNil(recipient.Shares), feeShares)
		if err := e.state.PutShareAccount(recipient); err != nil {
			return nil, err
		}
		supply = new(big.Int).Add(supply, feeShares)
		if err := e.state.PutShareSupply(supply); err != nil {
			return nil, err
		}
	}

	// Advance the mark even when the fee rate is zero: enabling fees later
	// must not retroactively charge growth that predates the switch.
	fees.AllTimeHighRate = exchangeRate(nav, supply)
	if err := e.state.PutFeeState(fees); err != nil {
		return nil, err
	}
	return feeShares, nil
}
