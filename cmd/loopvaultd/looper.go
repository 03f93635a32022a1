package main

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"loopvault/native/vault"
	"loopvault/native/vault/sim"
)

// looper builds the callback strategies that drive the loop position. This is
// router glue: the engine treats these callbacks as untrusted and judges them
// purely by their before/after effect.
type looper struct {
	market          *sim.Market
	staking         *sim.StakingPool
	state           *sim.State
	vaultAddr       common.Address
	borrowedAsset   common.Address
	collateralAsset common.Address
	target          *big.Int
	buffer          *big.Int
	// minLoop stops the leverage loop once the sized borrow drops below it.
	minLoop *big.Int
}

const maxLoopIterations = 32

// initialize seeds the position: pull, stake, supply, no debt.
func (l *looper) initialize(caller common.Address, amount *big.Int) vault.Callback {
	return vault.CallbackFunc(func(ctx context.Context, h *vault.SessionHandle, _ []byte) (*big.Int, error) {
		if err := h.Pull(l.borrowedAsset, caller, amount); err != nil {
			return nil, err
		}
		received, err := h.Stake(amount)
		if err != nil {
			return nil, err
		}
		return nil, h.SupplyCollateral(received)
	})
}

// deposit pulls new assets and loops borrow→stake→supply until the sized
// borrow falls below the loop floor, which leaves the health factor at the
// target.
func (l *looper) deposit(caller common.Address, amount *big.Int) vault.Callback {
	return vault.CallbackFunc(func(ctx context.Context, h *vault.SessionHandle, _ []byte) (*big.Int, error) {
		if err := h.Pull(l.borrowedAsset, caller, amount); err != nil {
			return nil, err
		}
		for i := 0; i < maxLoopIterations; i++ {
			if balance := h.BorrowedBalance(); balance.Sign() > 0 {
				if _, err := h.Stake(balance); err != nil {
					return nil, err
				}
			}
			if balance := h.CollateralBalance(); balance.Sign() > 0 {
				if err := h.SupplyCollateral(balance); err != nil {
					return nil, err
				}
			}
			data, err := l.market.PositionData(l.vaultAddr)
			if err != nil {
				return nil, err
			}
			borrow := vault.BorrowSizing(data, l.target, l.buffer)
			if borrow.Sign() == 0 || borrow.Cmp(l.minLoop) < 0 {
				break
			}
			if err := h.Borrow(borrow); err != nil {
				return nil, err
			}
		}
		return nil, nil
	})
}

// withdraw repays the proportional debt cut from the caller's wallet,
// releases the proportional collateral cut and sends it to the caller.
func (l *looper) withdraw(caller common.Address, shares *big.Int) vault.Callback {
	return vault.CallbackFunc(func(ctx context.Context, h *vault.SessionHandle, _ []byte) (*big.Int, error) {
		// Shares were burned before this callback ran; reconstruct the
		// pre-burn supply for the proportional math.
		supply, err := l.state.GetShareSupply()
		if err != nil {
			return nil, err
		}
		total := new(big.Int).Add(supply, shares)
		if total.Sign() == 0 {
			return nil, fmt.Errorf("withdraw callback: zero supply")
		}

		data, err := l.market.PositionData(l.vaultAddr)
		if err != nil {
			return nil, err
		}
		scaled, err := l.market.ScaledCollateral(l.vaultAddr)
		if err != nil {
			return nil, err
		}
		index, err := l.market.CollateralIndex()
		if err != nil {
			return nil, err
		}
		collateral := new(big.Int).Mul(scaled, index)
		collateral.Quo(collateral, wadUnit)

		debtCut := ceilDiv(new(big.Int).Mul(data.DebtValue, shares), total)
		collateralCut := new(big.Int).Mul(collateral, shares)
		collateralCut.Quo(collateralCut, total)

		if debtCut.Sign() > 0 {
			if err := h.Pull(l.borrowedAsset, caller, debtCut); err != nil {
				return nil, err
			}
			if _, err := h.Repay(debtCut); err != nil {
				return nil, err
			}
		}
		if collateralCut.Sign() > 0 {
			actual, err := h.WithdrawCollateral(collateralCut)
			if err != nil {
				return nil, err
			}
			if err := h.Send(l.collateralAsset, caller, actual); err != nil {
				return nil, err
			}
		}
		return nil, nil
	})
}

// unwind sells a slice of collateral to the operator at the staking pool's
// exact redemption rate and retires debt with the proceeds.
func (l *looper) unwind(operator common.Address, collateralAmount *big.Int) vault.Callback {
	return vault.CallbackFunc(func(ctx context.Context, h *vault.SessionHandle, _ []byte) (*big.Int, error) {
		actual, err := h.WithdrawCollateral(collateralAmount)
		if err != nil {
			return nil, err
		}
		proceeds, err := l.staking.ConvertToAssets(actual)
		if err != nil {
			return nil, err
		}
		if err := h.Send(l.collateralAsset, operator, actual); err != nil {
			return nil, err
		}
		if err := h.Pull(l.borrowedAsset, operator, proceeds); err != nil {
			return nil, err
		}
		repaid, err := h.Repay(proceeds)
		if err != nil {
			return nil, err
		}
		if leftover := new(big.Int).Sub(proceeds, repaid); leftover.Sign() > 0 {
			if err := h.Send(l.borrowedAsset, operator, leftover); err != nil {
				return nil, err
			}
		}
		return proceeds, nil
	})
}

// donate pulls assets and folds them into collateral without minting shares.
func (l *looper) donate(caller common.Address, amount *big.Int) vault.Callback {
	return vault.CallbackFunc(func(ctx context.Context, h *vault.SessionHandle, _ []byte) (*big.Int, error) {
		if err := h.Pull(l.borrowedAsset, caller, amount); err != nil {
			return nil, err
		}
		received, err := h.Stake(amount)
		if err != nil {
			return nil, err
		}
		return nil, h.SupplyCollateral(received)
	})
}

var wadUnit = func() *big.Int {
	v, _ := new(big.Int).SetString("1000000000000000000", 10)
	return v
}()

func ceilDiv(num, den *big.Int) *big.Int {
	if den.Sign() == 0 {
		return big.NewInt(0)
	}
	quo, rem := new(big.Int).QuoRem(num, den, new(big.Int))
	if rem.Sign() != 0 {
		quo.Add(quo, big.NewInt(1))
	}
	return quo
}
