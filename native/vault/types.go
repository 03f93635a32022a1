package vault

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

var zeroAddress = common.Address{}

// PositionData is the lending market's view of the vault's account, queried
// in one shot so the fields are mutually consistent.
type PositionData struct {
	// CollateralValue is the pledged collateral expressed in the reference
	// currency.
	CollateralValue *big.Int
	// DebtValue is the outstanding debt expressed in the reference currency.
	DebtValue *big.Int
	// AvailableBorrow is the remaining borrow headroom under the LTV limit.
	AvailableBorrow *big.Int
	// LiquidationThreshold is expressed in basis points.
	LiquidationThreshold uint64
	// Ltv is the maximum loan-to-value ratio in basis points.
	Ltv uint64
	// HealthFactor is wad fixed point; a position with no debt reports the
	// market's sentinel maximum.
	HealthFactor *big.Int
}

// LendingMarket is the narrow surface the engine requires of the lending
// protocol. Scaled balances follow monotonic index accounting: balance =
// scaled * index / wad.
type LendingMarket interface {
	Supply(asset common.Address, amount *big.Int) error
	Withdraw(asset common.Address, amount *big.Int) (*big.Int, error)
	Borrow(asset common.Address, amount *big.Int) error
	Repay(asset common.Address, amount *big.Int) (*big.Int, error)
	PositionData(owner common.Address) (PositionData, error)
	ScaledCollateral(owner common.Address) (*big.Int, error)
	CollateralIndex() (*big.Int, error)
	ScaledDebt(owner common.Address) (*big.Int, error)
	DebtIndex() (*big.Int, error)
}

// StakingPool converts the borrowed asset into the yield-bearing collateral
// asset and exposes its redemption rate.
type StakingPool interface {
	Stake(amount *big.Int) (*big.Int, error)
	ConvertToAssets(shares *big.Int) (*big.Int, error)
	ConvertToShares(assets *big.Int) (*big.Int, error)
	CurrentRate() (*big.Int, error)
}

// RateCap supplies the reference rate used to value collateral independently
// of the lending market's own price feed, together with the capped-maximum
// inputs.
type RateCap interface {
	CurrentRate() (*big.Int, error)
	IsCapped() (bool, error)
	MaxRate() (*big.Int, error)
}

// TokenLedger moves asset balances between the vault and external holders.
// It is the ERC20 boundary and is assumed correct.
type TokenLedger interface {
	Transfer(asset, to common.Address, amount *big.Int) error
	TransferFrom(asset, from, to common.Address, amount *big.Int) error
	BalanceOf(asset, holder common.Address) (*big.Int, error)
}

// Journal snapshots and restores the collaborators' mutable state so a failed
// operation leaves no partial effects. Mirrors the geth StateDB revision
// model.
type Journal interface {
	Snapshot() int
	RevertToSnapshot(revision int)
	// DiscardSnapshot releases a revision after a successful commit so held
	// captures do not accumulate across operations.
	DiscardSnapshot(revision int)
}

// Callback is the caller-supplied strategy dispatched mid-operation. It may
// invoke any number of primitive actions through the handle and must leave
// both session balances at zero. The returned amount is only consulted on the
// unwind path, where it reports sale proceeds in the borrowed asset.
type Callback interface {
	Run(ctx context.Context, session *SessionHandle, data []byte) (*big.Int, error)
}

// CallbackFunc adapts a plain function to the Callback interface.
type CallbackFunc func(ctx context.Context, session *SessionHandle, data []byte) (*big.Int, error)

func (f CallbackFunc) Run(ctx context.Context, session *SessionHandle, data []byte) (*big.Int, error) {
	return f(ctx, session, data)
}

// PositionSnapshot is an immutable point-in-time view of the position. A new
// one is built for every read; nothing mutates it afterwards.
type PositionSnapshot struct {
	// CollateralAmount is denominated in native collateral-token units.
	CollateralAmount *big.Int
	// CollateralValue and DebtValue are in the reference currency.
	CollateralValue *big.Int
	DebtValue       *big.Int
	AvailableBorrow *big.Int
	// Ltv and LiquidationThreshold are wad ratios widened from basis points.
	Ltv                  *big.Int
	LiquidationThreshold *big.Int
	HealthFactor         *big.Int
	// TotalShares includes fee shares accrued but not yet minted.
	TotalShares *big.Int
	// Scaled balances and indices from the lending market.
	ScaledCollateral *big.Int
	CollateralIndex  *big.Int
	ScaledDebt       *big.Int
	DebtIndex        *big.Int
	// Rate is the reference rate from the rate-cap collaborator, captured so
	// rate stability across a session is an equality check.
	Rate *big.Int
}

// Nav returns collateral value minus debt value. The result may be negative;
// callers that cannot tolerate a deficit must check and fail loudly.
func (s *PositionSnapshot) Nav() *big.Int {
	return new(big.Int).Sub(zeroIfNil(s.CollateralValue), zeroIfNil(s.DebtValue))
}

// ShareAccount records one holder's vault shares.
type ShareAccount struct {
	Address common.Address
	Shares  *big.Int
}

// Clone returns a deep copy so callers cannot mutate shared pointers.
func (a *ShareAccount) Clone() *ShareAccount {
	if a == nil {
		return nil
	}
	cloned := &ShareAccount{Address: a.Address}
	if a.Shares != nil {
		cloned.Shares = new(big.Int).Set(a.Shares)
	}
	return cloned
}

// FeeState tracks the high-water-mark performance fee accrual.
type FeeState struct {
	// FeeRate is a wad fraction of rate growth taken as fees.
	FeeRate *big.Int
	// AllTimeHighRate is the wad exchange rate high-water mark. It never
	// decreases outside an explicit rate-provider swap.
	AllTimeHighRate *big.Int
	Recipient       common.Address
}

// Clone returns a deep copy of the fee state.
func (f *FeeState) Clone() *FeeState {
	if f == nil {
		return nil
	}
	cloned := &FeeState{Recipient: f.Recipient}
	if f.FeeRate != nil {
		cloned.FeeRate = new(big.Int).Set(f.FeeRate)
	}
	if f.AllTimeHighRate != nil {
		cloned.AllTimeHighRate = new(big.Int).Set(f.AllTimeHighRate)
	}
	return cloned
}

// engineState abstracts the persistence the engine needs for share accounting
// and fee accrual.
type engineState interface {
	GetShareAccount(addr common.Address) (*ShareAccount, error)
	PutShareAccount(account *ShareAccount) error
	GetShareSupply() (*big.Int, error)
	PutShareSupply(supply *big.Int) error
	GetFeeState() (*FeeState, error)
	PutFeeState(fees *FeeState) error
}

// OperationKind labels the top-level protocols for records and metrics.
type OperationKind string

const (
	OpInitialize OperationKind = "initialize"
	OpDeposit    OperationKind = "deposit"
	OpWithdraw   OperationKind = "withdraw"
	OpUnwind     OperationKind = "unwind"
	OpDonate     OperationKind = "donate"
)

// OperationRecord carries the economically relevant deltas of one committed
// top-level operation. Emission is observability only, never load-bearing.
type OperationRecord struct {
	ID           string
	Kind         OperationKind
	Caller       common.Address
	SharesMinted *big.Int
	SharesBurned *big.Int
	NavDelta     *big.Int
	Nav          *big.Int
	Collateral   *big.Int
	Debt         *big.Int
	TotalShares  *big.Int
	FeeShares    *big.Int
}

// Emitter receives operation records. A nil emitter drops them.
type Emitter interface {
	EmitOperation(record OperationRecord)
}
