package vault_test

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	nativecommon "loopvault/native/common"
	"loopvault/native/vault"
	"loopvault/native/vault/sim"
)

var (
	vaultAddr       = makeAddr(0xAA)
	caller          = makeAddr(0x01)
	operator        = makeAddr(0x02)
	feeRecipient    = makeAddr(0x03)
	borrowedAsset   = makeAddr(0xB0)
	collateralAsset = makeAddr(0xC0)
)

func makeAddr(suffix byte) common.Address {
	var addr common.Address
	addr[len(addr)-1] = suffix
	return addr
}

func inWad(units int64) *big.Int {
	wad, _ := new(big.Int).SetString("1000000000000000000", 10)
	return wad.Mul(wad, big.NewInt(units))
}

func ceilDiv(num, den *big.Int) *big.Int {
	quo, rem := new(big.Int).QuoRem(num, den, new(big.Int))
	if rem.Sign() != 0 {
		quo.Add(quo, big.NewInt(1))
	}
	return quo
}

type testWorld struct {
	engine  *vault.Engine
	state   *sim.State
	market  *sim.Market
	staking *sim.StakingPool
	rates   *sim.RateCap
	ledger  *sim.Ledger
	journal *sim.Journal
}

func newTestWorld(t *testing.T, cfg vault.Config) *testWorld {
	t.Helper()

	staking := sim.NewStakingPool(inWad(1))
	rates := sim.NewRateCap(staking, inWad(4))
	market := sim.NewMarket(rates, 9_000, 9_500)
	state := sim.NewState()
	ledger := sim.NewLedger()

	ledger.Mint(borrowedAsset, caller, inWad(1_000_000))
	ledger.Mint(borrowedAsset, operator, inWad(1_000_000))

	journal := sim.NewWorldJournal(state, market, staking, rates, ledger)
	engine := vault.NewEngine(vaultAddr, borrowedAsset, collateralAsset, cfg)
	engine.SetState(state)
	engine.SetMarket(market)
	engine.SetStakingPool(staking)
	engine.SetRateCap(rates)
	engine.SetTokenLedger(ledger)
	engine.SetJournal(journal)

	return &testWorld{engine: engine, state: state, market: market, staking: staking, rates: rates, ledger: ledger, journal: journal}
}

// seedCallback pulls funds, stakes them and supplies the result without
// taking on any debt.
func (w *testWorld) seedCallback(from common.Address, amount *big.Int) vault.CallbackFunc {
	return func(_ context.Context, s *vault.SessionHandle, _ []byte) (*big.Int, error) {
		if err := s.Pull(borrowedAsset, from, amount); err != nil {
			return nil, err
		}
		staked, err := s.Stake(amount)
		if err != nil {
			return nil, err
		}
		return nil, s.SupplyCollateral(staked)
	}
}

// leverCallback seeds the pulled amount and then loops borrow/stake/supply
// until the sized borrow becomes negligible, driving the health factor to the
// policy target.
func (w *testWorld) leverCallback(from common.Address, amount *big.Int) vault.CallbackFunc {
	target := w.engine.Policy().TargetHealthFactor
	minLoop := big.NewInt(1_000_000_000)
	return func(_ context.Context, s *vault.SessionHandle, _ []byte) (*big.Int, error) {
		if err := s.Pull(borrowedAsset, from, amount); err != nil {
			return nil, err
		}
		staked, err := s.Stake(amount)
		if err != nil {
			return nil, err
		}
		if err := s.SupplyCollateral(staked); err != nil {
			return nil, err
		}
		for i := 0; i < 32; i++ {
			data, err := w.market.PositionData(vaultAddr)
			if err != nil {
				return nil, err
			}
			borrow := vault.BorrowSizing(data, target, big.NewInt(0))
			if borrow.Cmp(minLoop) < 0 {
				break
			}
			if err := s.Borrow(borrow); err != nil {
				return nil, err
			}
			staked, err := s.Stake(borrow)
			if err != nil {
				return nil, err
			}
			if err := s.SupplyCollateral(staked); err != nil {
				return nil, err
			}
		}
		return nil, nil
	}
}

// withdrawCallback repays the proportional debt cut out of the caller's funds
// and hands the proportional collateral cut back to them.
func (w *testWorld) withdrawCallback(from common.Address, debtCut, collateralCut *big.Int) vault.CallbackFunc {
	return func(_ context.Context, s *vault.SessionHandle, _ []byte) (*big.Int, error) {
		if debtCut.Sign() > 0 {
			if err := s.Pull(borrowedAsset, from, debtCut); err != nil {
				return nil, err
			}
			if _, err := s.Repay(debtCut); err != nil {
				return nil, err
			}
		}
		if collateralCut.Sign() > 0 {
			released, err := s.WithdrawCollateral(collateralCut)
			if err != nil {
				return nil, err
			}
			if err := s.Send(collateralAsset, from, released); err != nil {
				return nil, err
			}
		}
		return nil, nil
	}
}

// unwindCallback sells a collateral slice to the operator at the given price
// and repays the proceeds.
func (w *testWorld) unwindCallback(slice, pay *big.Int) vault.CallbackFunc {
	return func(_ context.Context, s *vault.SessionHandle, _ []byte) (*big.Int, error) {
		released, err := s.WithdrawCollateral(slice)
		if err != nil {
			return nil, err
		}
		if err := s.Send(collateralAsset, operator, released); err != nil {
			return nil, err
		}
		if err := s.Pull(borrowedAsset, operator, pay); err != nil {
			return nil, err
		}
		if _, err := s.Repay(pay); err != nil {
			return nil, err
		}
		return pay, nil
	}
}

func (w *testWorld) initialize(t *testing.T, amount *big.Int) {
	t.Helper()
	minted, err := w.engine.Initialize(context.Background(), caller, w.seedCallback(caller, amount), nil)
	require.NoError(t, err)
	require.Equal(t, 0, minted.Cmp(amount))
}

func TestInitializeMintsNavShares(t *testing.T) {
	w := newTestWorld(t, vault.Config{})
	before, err := w.ledger.BalanceOf(borrowedAsset, caller)
	require.NoError(t, err)

	w.initialize(t, inWad(100))

	shares, err := w.engine.SharesOf(caller)
	require.NoError(t, err)
	require.Equal(t, 0, shares.Cmp(inWad(100)))

	nav, err := w.engine.Nav()
	require.NoError(t, err)
	require.Equal(t, 0, nav.Cmp(inWad(100)))

	after, err := w.ledger.BalanceOf(borrowedAsset, caller)
	require.NoError(t, err)
	require.Equal(t, 0, new(big.Int).Sub(before, after).Cmp(inWad(100)))

	_, err = w.engine.Initialize(context.Background(), caller, w.seedCallback(caller, inWad(1)), nil)
	require.ErrorIs(t, err, vault.ErrAlreadyInitialized)
}

func TestDepositLeversToTargetBand(t *testing.T) {
	w := newTestWorld(t, vault.Config{})
	w.initialize(t, inWad(100))

	minted, err := w.engine.Deposit(context.Background(), caller, caller, w.leverCallback(caller, inWad(10)), nil)
	require.NoError(t, err)
	require.Equal(t, 0, minted.Cmp(inWad(10)))

	snap, err := w.engine.Snapshot()
	require.NoError(t, err)
	require.Positive(t, snap.DebtValue.Sign())

	target := w.engine.Policy().TargetHealthFactor
	bandLow := new(big.Int).Mul(target, big.NewInt(9_990))
	bandLow.Quo(bandLow, big.NewInt(10_000))
	bandHigh := new(big.Int).Mul(target, big.NewInt(10_050))
	bandHigh.Quo(bandHigh, big.NewInt(10_000))
	require.True(t, snap.HealthFactor.Cmp(bandLow) >= 0, "health factor %s below band", snap.HealthFactor)
	require.True(t, snap.HealthFactor.Cmp(bandHigh) <= 0, "health factor %s above band", snap.HealthFactor)

	// Leverage must not change NAV: loop legs net to zero value.
	nav, err := w.engine.Nav()
	require.NoError(t, err)
	require.Equal(t, 0, nav.Cmp(inWad(110)))
}

func TestDepositWithoutLeverageRejected(t *testing.T) {
	w := newTestWorld(t, vault.Config{})
	w.initialize(t, inWad(100))
	balanceBefore, err := w.ledger.BalanceOf(borrowedAsset, caller)
	require.NoError(t, err)

	_, err = w.engine.Deposit(context.Background(), caller, caller, w.seedCallback(caller, inWad(10)), nil)
	require.ErrorIs(t, err, vault.ErrHealthFactorOutOfRange)

	// The journal revert leaves no trace of the attempt.
	nav, err := w.engine.Nav()
	require.NoError(t, err)
	require.Equal(t, 0, nav.Cmp(inWad(100)))
	supply, err := w.engine.TotalShares()
	require.NoError(t, err)
	require.Equal(t, 0, supply.Cmp(inWad(100)))
	balanceAfter, err := w.ledger.BalanceOf(borrowedAsset, caller)
	require.NoError(t, err)
	require.Equal(t, 0, balanceBefore.Cmp(balanceAfter))
}

func TestDepositRejectsZeroReceiver(t *testing.T) {
	w := newTestWorld(t, vault.Config{})
	_, err := w.engine.Deposit(context.Background(), caller, common.Address{}, w.seedCallback(caller, inWad(1)), nil)
	require.ErrorIs(t, err, vault.ErrZeroAddress)
}

func TestWithdrawProportionalReduction(t *testing.T) {
	w := newTestWorld(t, vault.Config{})
	w.initialize(t, inWad(100))
	_, err := w.engine.Deposit(context.Background(), caller, caller, w.leverCallback(caller, inWad(10)), nil)
	require.NoError(t, err)

	total, err := w.engine.TotalShares()
	require.NoError(t, err)
	snap, err := w.engine.Snapshot()
	require.NoError(t, err)

	shares := inWad(11)
	debtCut := ceilDiv(new(big.Int).Mul(snap.DebtValue, shares), total)
	collateralCut := new(big.Int).Mul(snap.CollateralAmount, shares)
	collateralCut.Quo(collateralCut, total)

	err = w.engine.Withdraw(context.Background(), caller, shares, w.withdrawCallback(caller, debtCut, collateralCut), nil)
	require.NoError(t, err)

	held, err := w.engine.SharesOf(caller)
	require.NoError(t, err)
	require.Equal(t, 0, held.Cmp(inWad(99)))

	after, err := w.engine.Snapshot()
	require.NoError(t, err)
	wantDebt := new(big.Int).Sub(snap.DebtValue, debtCut)
	require.Equal(t, 0, after.DebtValue.Cmp(wantDebt))

	received, err := w.ledger.BalanceOf(collateralAsset, caller)
	require.NoError(t, err)
	require.Equal(t, 0, received.Cmp(collateralCut))
}

func TestWithdrawRejectsExcessShares(t *testing.T) {
	w := newTestWorld(t, vault.Config{})
	w.initialize(t, inWad(100))

	err := w.engine.Withdraw(context.Background(), caller, inWad(101), w.withdrawCallback(caller, big.NewInt(0), big.NewInt(0)), nil)
	require.ErrorIs(t, err, vault.ErrInsufficientShares)
}

func TestDonateRaisesNavWithoutShares(t *testing.T) {
	w := newTestWorld(t, vault.Config{})
	w.initialize(t, inWad(100))

	err := w.engine.Donate(context.Background(), caller, w.seedCallback(caller, inWad(5)), nil)
	require.NoError(t, err)

	nav, err := w.engine.Nav()
	require.NoError(t, err)
	require.Equal(t, 0, nav.Cmp(inWad(105)))
	supply, err := w.engine.TotalShares()
	require.NoError(t, err)
	require.Equal(t, 0, supply.Cmp(inWad(100)))
}

func TestDanglingSessionBalanceAborts(t *testing.T) {
	w := newTestWorld(t, vault.Config{})
	w.initialize(t, inWad(100))
	balanceBefore, err := w.ledger.BalanceOf(borrowedAsset, caller)
	require.NoError(t, err)

	// The callback pulls funds and walks away with the session balance open.
	err = w.engine.Donate(context.Background(), caller,
		vault.CallbackFunc(func(_ context.Context, s *vault.SessionHandle, _ []byte) (*big.Int, error) {
			return nil, s.Pull(borrowedAsset, caller, inWad(5))
		}), nil)
	require.ErrorIs(t, err, vault.ErrSessionBalanceNonZero)

	balanceAfter, err := w.ledger.BalanceOf(borrowedAsset, caller)
	require.NoError(t, err)
	require.Equal(t, 0, balanceBefore.Cmp(balanceAfter))
}

func TestRateChangeMidSessionAborts(t *testing.T) {
	w := newTestWorld(t, vault.Config{})
	w.initialize(t, inWad(100))

	err := w.engine.Donate(context.Background(), caller,
		vault.CallbackFunc(func(_ context.Context, _ *vault.SessionHandle, _ []byte) (*big.Int, error) {
			w.staking.SetRate(inWad(2))
			return nil, nil
		}), nil)
	require.ErrorIs(t, err, vault.ErrRateChanged)

	rate, err := w.staking.CurrentRate()
	require.NoError(t, err)
	require.Equal(t, 0, rate.Cmp(inWad(1)))
}

func TestUnwindEnforcesSlippageFloor(t *testing.T) {
	w := newTestWorld(t, vault.Config{SlippageToleranceBps: 50})
	w.initialize(t, inWad(100))
	_, err := w.engine.Deposit(context.Background(), caller, caller, w.leverCallback(caller, inWad(10)), nil)
	require.NoError(t, err)
	snap, err := w.engine.Snapshot()
	require.NoError(t, err)

	// Underpaying beyond the tolerance is rejected and fully reverted.
	short := new(big.Int).Sub(inWad(20), inWad(1))
	_, err = w.engine.Unwind(context.Background(), operator, w.unwindCallback(inWad(20), short), nil)
	require.ErrorIs(t, err, vault.ErrInsufficientProceeds)
	reverted, err := w.engine.Snapshot()
	require.NoError(t, err)
	require.Equal(t, 0, reverted.DebtValue.Cmp(snap.DebtValue))

	// Paying the full redemption value passes and keeps NAV intact.
	proceeds, err := w.engine.Unwind(context.Background(), operator, w.unwindCallback(inWad(20), inWad(20)), nil)
	require.NoError(t, err)
	require.Equal(t, 0, proceeds.Cmp(inWad(20)))
	nav, err := w.engine.Nav()
	require.NoError(t, err)
	require.Equal(t, 0, nav.Cmp(inWad(110)))
	after, err := w.engine.Snapshot()
	require.NoError(t, err)
	require.Equal(t, 0, new(big.Int).Sub(snap.DebtValue, after.DebtValue).Cmp(inWad(20)))
}

func TestFeeAccrualDilutesHolders(t *testing.T) {
	w := newTestWorld(t, vault.Config{})
	require.NoError(t, w.state.PutFeeState(&vault.FeeState{
		FeeRate:         new(big.Int).Quo(inWad(1), big.NewInt(5)),
		AllTimeHighRate: inWad(1),
		Recipient:       feeRecipient,
	}))
	w.initialize(t, inWad(100))

	// 10% yield on the staked collateral.
	w.staking.SetRate(new(big.Int).Quo(inWad(11), big.NewInt(10)))

	diluted, err := w.engine.TotalShares()
	require.NoError(t, err)
	require.Positive(t, diluted.Cmp(inWad(100)), "supply must reflect pending fee shares")

	withdrawSome := func(units int64) {
		total, err := w.engine.TotalShares()
		require.NoError(t, err)
		snap, err := w.engine.Snapshot()
		require.NoError(t, err)
		shares := inWad(units)
		cut := new(big.Int).Mul(snap.CollateralAmount, shares)
		cut.Quo(cut, total)
		err = w.engine.Withdraw(context.Background(), caller, shares, w.withdrawCallback(caller, big.NewInt(0), cut), nil)
		require.NoError(t, err)
	}
	withdrawSome(10)

	feeShares, err := w.engine.SharesOf(feeRecipient)
	require.NoError(t, err)
	require.Positive(t, feeShares.Sign())

	// The recipient's stake is worth 20% of the 10-unit growth.
	value, err := w.engine.ConvertToAssets(feeShares)
	require.NoError(t, err)
	deviation := new(big.Int).Sub(inWad(2), value)
	require.True(t, deviation.CmpAbs(big.NewInt(1_000_000)) <= 0, "fee value %s deviates from 2 units", value)

	// Without further growth the high-water mark blocks a second charge.
	withdrawSome(1)
	again, err := w.engine.SharesOf(feeRecipient)
	require.NoError(t, err)
	require.Equal(t, 0, feeShares.Cmp(again))
}

func TestQuotaThrottlesOperations(t *testing.T) {
	w := newTestWorld(t, vault.Config{})
	w.engine.SetQuota(nativecommon.Quota{MaxOperationsPerEpoch: 1, EpochSeconds: 3_600})
	w.initialize(t, inWad(100))

	err := w.engine.Donate(context.Background(), caller, w.seedCallback(caller, inWad(1)), nil)
	require.ErrorIs(t, err, nativecommon.ErrQuotaOperationsExceeded)
}

type pauseAll struct{}

func (pauseAll) IsPaused(string) bool { return true }

func TestPauseGuardBlocksOperations(t *testing.T) {
	w := newTestWorld(t, vault.Config{})
	w.engine.SetPauses(pauseAll{})

	_, err := w.engine.Initialize(context.Background(), caller, w.seedCallback(caller, inWad(1)), nil)
	require.ErrorIs(t, err, nativecommon.ErrModulePaused)
}

func TestReentrantOperationLeavesOuterSessionIntact(t *testing.T) {
	w := newTestWorld(t, vault.Config{})
	w.initialize(t, inWad(100))

	// Two nested attempts from inside the callback: the second proves the
	// first rejection did not force the outer lock open, and the handle must
	// keep working for the outer operation to commit.
	var nested []error
	err := w.engine.Donate(context.Background(), caller,
		vault.CallbackFunc(func(ctx context.Context, s *vault.SessionHandle, data []byte) (*big.Int, error) {
			nested = append(nested, w.engine.Donate(ctx, operator, w.seedCallback(operator, inWad(1)), nil))
			nested = append(nested, w.engine.Donate(ctx, operator, w.seedCallback(operator, inWad(1)), nil))
			return w.seedCallback(caller, inWad(5))(ctx, s, data)
		}), nil)
	require.NoError(t, err)

	require.Len(t, nested, 2)
	for _, nestedErr := range nested {
		require.ErrorIs(t, nestedErr, vault.ErrSessionLocked)
	}

	// Only the outer donation landed.
	nav, err := w.engine.Nav()
	require.NoError(t, err)
	require.Equal(t, 0, nav.Cmp(inWad(105)))
	supply, err := w.engine.TotalShares()
	require.NoError(t, err)
	require.Equal(t, 0, supply.Cmp(inWad(100)))
}

func TestStakeFloorRejectsDust(t *testing.T) {
	w := newTestWorld(t, vault.Config{MinStakeWei: inWad(1)})
	w.initialize(t, inWad(100))

	below := big.NewInt(1_000_000_000)
	err := w.engine.Donate(context.Background(), caller,
		vault.CallbackFunc(func(_ context.Context, s *vault.SessionHandle, _ []byte) (*big.Int, error) {
			if err := s.Pull(borrowedAsset, caller, below); err != nil {
				return nil, err
			}
			_, err := s.Stake(below)
			return nil, err
		}), nil)
	require.ErrorIs(t, err, vault.ErrAmountBelowMinimum)

	// The floor binds per stake, not per operation.
	err = w.engine.Donate(context.Background(), caller, w.seedCallback(caller, inWad(2)), nil)
	require.NoError(t, err)
}

func TestJournalDrainsAcrossOperations(t *testing.T) {
	w := newTestWorld(t, vault.Config{})
	w.initialize(t, inWad(100))
	require.Equal(t, 0, w.journal.Depth())

	for i := 0; i < 3; i++ {
		err := w.engine.Donate(context.Background(), caller, w.seedCallback(caller, inWad(1)), nil)
		require.NoError(t, err)
	}
	require.Equal(t, 0, w.journal.Depth())

	err := w.engine.Donate(context.Background(), caller,
		vault.CallbackFunc(func(_ context.Context, s *vault.SessionHandle, _ []byte) (*big.Int, error) {
			return nil, s.Pull(borrowedAsset, caller, inWad(1))
		}), nil)
	require.ErrorIs(t, err, vault.ErrSessionBalanceNonZero)
	require.Equal(t, 0, w.journal.Depth())
}
