package vault

import "errors"

// Session discipline errors. Every one of these aborts the operation that
// triggered it; the session lock guarantees no partial effects survive.
var (
	ErrSessionLocked              = errors.New("vault engine: session already locked")
	ErrSessionNotLocked           = errors.New("vault engine: session not locked")
	ErrNotSessionCaller           = errors.New("vault engine: caller does not own the session")
	ErrSessionBalanceNonZero      = errors.New("vault engine: session balance non-zero at close")
	ErrRateChanged                = errors.New("vault engine: reference rate changed during session")
	ErrInsufficientSessionBalance = errors.New("vault engine: insufficient session balance")
)

// Input validation errors.
var (
	ErrZeroAmount         = errors.New("vault engine: amount must be positive")
	ErrZeroAddress        = errors.New("vault engine: zero address")
	ErrAmountBelowMinimum = errors.New("vault engine: amount below configured minimum")
	ErrInsufficientShares = errors.New("vault engine: share amount exceeds balance")
	ErrUnsupportedAsset   = errors.New("vault engine: asset not tracked by session")
)

// Invariant violation errors raised by the snapshot comparator.
var (
	ErrHealthFactorOutOfRange  = errors.New("vault engine: health factor outside target band")
	ErrNavIncreaseBelowMin     = errors.New("vault engine: nav increase below minimum")
	ErrNavDecrease             = errors.New("vault engine: nav decreased")
	ErrDebtAfterWithdraw       = errors.New("vault engine: debt mismatch after withdraw")
	ErrCollateralAfterWithdraw = errors.New("vault engine: collateral mismatch after withdraw")
	ErrInsufficientProceeds    = errors.New("vault engine: unwind proceeds below redemption value")
	ErrAlreadyInitialized      = errors.New("vault engine: vault already initialized")
	ErrCollateralNonZero       = errors.New("vault engine: collateral non-zero before initialize")
	ErrDebtAfterInit           = errors.New("vault engine: debt non-zero after initialize")
	ErrNavDeficit              = errors.New("vault engine: debt exceeds collateral value")
)

// Wiring errors.
var (
	ErrNilState        = errors.New("vault engine: state not configured")
	ErrNilMarket       = errors.New("vault engine: lending market not configured")
	ErrNilStakingPool  = errors.New("vault engine: staking pool not configured")
	ErrNilRateCap      = errors.New("vault engine: rate cap not configured")
	ErrNilTokenLedger  = errors.New("vault engine: token ledger not configured")
	ErrNilCallback     = errors.New("vault engine: callback not configured")
	ErrNilFeeRecipient = errors.New("vault engine: fee recipient not configured")
)
