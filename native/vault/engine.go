package vault

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	nativecommon "loopvault/native/common"
	"loopvault/observability"
)

const moduleName = "vault"

// Engine orchestrates the five top-level protocols over the position. All
// mutating entry points follow the same shape: pause guard, fee accrual where
// applicable, session acquire, before snapshot, callback dispatch, after
// snapshot, comparator predicate, share-supply update, session release. Any
// failure reverts the journal so the operation is indistinguishable from
// never having started.
type Engine struct {
	state   engineState
	market  LendingMarket
	staking StakingPool
	rateCap RateCap
	ledger  TokenLedger
	journal Journal
	emitter Emitter
	pauses  nativecommon.PauseView

	session *sessionState

	vaultAddress    common.Address
	borrowedAsset   common.Address
	collateralAsset common.Address

	policy               DepositPolicy
	minStake             *big.Int
	slippageToleranceBps uint64

	quota      nativecommon.Quota
	quotaUsage map[common.Address]nativecommon.QuotaNow
	nowFn      func() time.Time

	logger *slog.Logger
	tracer trace.Tracer
}

// NewEngine constructs a vault engine bound to its own account address and
// the two session-tracked assets.
func NewEngine(vaultAddr, borrowedAsset, collateralAsset common.Address, cfg Config) *Engine {
	cfg.EnsureDefaults()
	return &Engine{
		session:              newSessionState(),
		vaultAddress:         vaultAddr,
		borrowedAsset:        borrowedAsset,
		collateralAsset:      collateralAsset,
		policy:               cfg.DepositPolicy(),
		minStake:             clone(cfg.MinStakeWei),
		slippageToleranceBps: cfg.SlippageToleranceBps,
		quotaUsage:           make(map[common.Address]nativecommon.QuotaNow),
		nowFn:                time.Now,
		logger:               slog.Default().With("component", moduleName),
		tracer:               otel.Tracer("loopvault/native/vault"),
	}
}

// SetQuota configures the per-caller operation throttle. A zero quota
// disables throttling.
func (e *Engine) SetQuota(q nativecommon.Quota) {
	if e == nil {
		return
	}
	e.quota = q
}

func (e *Engine) checkQuota(caller common.Address) error {
	if !e.quota.Enabled() {
		return nil
	}
	next, err := e.quota.Check(e.nowFn(), e.quotaUsage[caller], 1, 0)
	if err != nil {
		return err
	}
	e.quotaUsage[caller] = next
	return nil
}

// Policy returns a copy of the deposit acceptance policy.
func (e *Engine) Policy() DepositPolicy {
	p := e.policy
	p.TargetHealthFactor = clone(e.policy.TargetHealthFactor)
	p.MinNavIncrease = clone(e.policy.MinNavIncrease)
	return p
}

// VaultAddress returns the engine's own account identity.
func (e *Engine) VaultAddress() common.Address { return e.vaultAddress }

// SetState wires the engine to the share-accounting persistence layer.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetMarket wires the lending-market collaborator.
func (e *Engine) SetMarket(market LendingMarket) { e.market = market }

// SetStakingPool wires the liquid-staking collaborator.
func (e *Engine) SetStakingPool(pool StakingPool) { e.staking = pool }

// SetRateCap wires the capped reference-rate collaborator.
func (e *Engine) SetRateCap(cap RateCap) { e.rateCap = cap }

// SetTokenLedger wires the asset-transfer boundary used by Send/Pull.
func (e *Engine) SetTokenLedger(ledger TokenLedger) { e.ledger = ledger }

// SetJournal wires the revision journal that makes operations all-or-nothing.
func (e *Engine) SetJournal(journal Journal) { e.journal = journal }

// SetEmitter wires the operation-record sink. Optional.
func (e *Engine) SetEmitter(emitter Emitter) { e.emitter = emitter }

// SetPauses wires the operational kill switch.
func (e *Engine) SetPauses(p nativecommon.PauseView) {
	if e == nil {
		return
	}
	e.pauses = p
}

// SetLogger replaces the engine logger.
func (e *Engine) SetLogger(logger *slog.Logger) {
	if logger != nil {
		e.logger = logger.With("component", moduleName)
	}
}

func (e *Engine) checkWiring() error {
	if e == nil || e.state == nil {
		return ErrNilState
	}
	if e.market == nil {
		return ErrNilMarket
	}
	if e.staking == nil {
		return ErrNilStakingPool
	}
	if e.rateCap == nil {
		return ErrNilRateCap
	}
	if e.ledger == nil {
		return ErrNilTokenLedger
	}
	return nil
}

// Initialize bootstraps an empty vault. The callback seeds the position; the
// sequence must end with zero debt and both session balances at zero. Shares
// equal to the resulting NAV are minted to the caller.
func (e *Engine) Initialize(ctx context.Context, caller common.Address, callback Callback, data []byte) (*big.Int, error) {
	op, err := e.beginOperation(ctx, OpInitialize, caller, callback, true)
	if err != nil {
		return nil, err
	}
	defer op.end()

	before, err := e.takeSnapshot()
	if err != nil {
		return nil, op.fail(err)
	}
	if err := checkInitializeBefore(before); err != nil {
		return nil, op.fail(err)
	}

	if _, err := callback.Run(op.ctx, op.handle, data); err != nil {
		return nil, op.fail(fmt.Errorf("callback: %w", err))
	}

	after, err := e.takeSnapshot()
	if err != nil {
		return nil, op.fail(err)
	}
	cmp := &ComparisonContext{Before: before, After: after}
	if err := cmp.checkRateStable(); err != nil {
		return nil, op.fail(err)
	}
	if err := checkInitializeAfter(after); err != nil {
		return nil, op.fail(err)
	}

	minted := after.Nav()
	if minted.Cmp(e.policy.MinNavIncrease) < 0 {
		return nil, op.fail(ErrNavIncreaseBelowMin)
	}
	if err := e.mintShares(caller, minted); err != nil {
		return nil, op.fail(err)
	}

	if err := e.commit(op, &OperationRecord{
		Kind:         OpInitialize,
		Caller:       caller,
		SharesMinted: minted,
		NavDelta:     cmp.NavDelta(),
		Collateral:   after.CollateralValue,
		Debt:         after.DebtValue,
	}); err != nil {
		return nil, err
	}
	return minted, nil
}

// Deposit grows the position. Shares are minted to the receiver in proportion
// to the NAV the callback created: supply * navDelta / navBefore, floored.
func (e *Engine) Deposit(ctx context.Context, caller, receiver common.Address, callback Callback, data []byte) (*big.Int, error) {
	if receiver == zeroAddress {
		return nil, ErrZeroAddress
	}
	op, err := e.beginOperation(ctx, OpDeposit, caller, callback, true)
	if err != nil {
		return nil, err
	}
	defer op.end()

	before, err := e.takeSnapshot()
	if err != nil {
		return nil, op.fail(err)
	}
	if _, err := callback.Run(op.ctx, op.handle, data); err != nil {
		return nil, op.fail(fmt.Errorf("callback: %w", err))
	}
	after, err := e.takeSnapshot()
	if err != nil {
		return nil, op.fail(err)
	}

	cmp := &ComparisonContext{Before: before, After: after}
	if err := cmp.checkRateStable(); err != nil {
		return nil, op.fail(err)
	}
	navDelta, err := cmp.checkDeposit(e.policy)
	if err != nil {
		return nil, op.fail(err)
	}

	navBefore := before.Nav()
	if navBefore.Sign() <= 0 {
		return nil, op.fail(ErrNavDeficit)
	}
	minted := mulDiv(before.TotalShares, navDelta, navBefore, RoundDown)
	if err := e.mintShares(receiver, minted); err != nil {
		return nil, op.fail(err)
	}

	if err := e.commit(op, &OperationRecord{
		Kind:         OpDeposit,
		Caller:       caller,
		SharesMinted: minted,
		NavDelta:     navDelta,
		Collateral:   after.CollateralValue,
		Debt:         after.DebtValue,
	}); err != nil {
		return nil, err
	}
	return minted, nil
}

// Withdraw burns the caller's shares before dispatching the callback, then
// requires debt and collateral to have shrunk by the exact proportional
// amounts (ceiling on debt owed, floor on collateral released).
func (e *Engine) Withdraw(ctx context.Context, caller common.Address, shares *big.Int, callback Callback, data []byte) error {
	if shares == nil || shares.Sign() <= 0 {
		return ErrZeroAmount
	}
	op, err := e.beginOperation(ctx, OpWithdraw, caller, callback, true)
	if err != nil {
		return err
	}
	defer op.end()

	before, err := e.takeSnapshot()
	if err != nil {
		return op.fail(err)
	}
	if err := e.burnShares(caller, shares); err != nil {
		return op.fail(err)
	}

	if _, err := callback.Run(op.ctx, op.handle, data); err != nil {
		return op.fail(fmt.Errorf("callback: %w", err))
	}

	after, err := e.takeSnapshot()
	if err != nil {
		return op.fail(err)
	}
	cmp := &ComparisonContext{Before: before, After: after, Shares: shares}
	if err := cmp.checkRateStable(); err != nil {
		return op.fail(err)
	}
	if err := cmp.checkWithdraw(); err != nil {
		return op.fail(err)
	}

	return e.commit(op, &OperationRecord{
		Kind:         OpWithdraw,
		Caller:       caller,
		SharesBurned: clone(shares),
		NavDelta:     cmp.NavDelta(),
		Collateral:   after.CollateralValue,
		Debt:         after.DebtValue,
	})
}

// Unwind deleverages by letting the operator sell a slice of collateral
// externally. The callback reports sale proceeds, which must cover the
// slice's redemption value at the staking pool's exact rate less the slippage
// tolerance.
func (e *Engine) Unwind(ctx context.Context, operator common.Address, callback Callback, data []byte) (*big.Int, error) {
	op, err := e.beginOperation(ctx, OpUnwind, operator, callback, false)
	if err != nil {
		return nil, err
	}
	defer op.end()

	before, err := e.takeSnapshot()
	if err != nil {
		return nil, op.fail(err)
	}
	proceeds, err := callback.Run(op.ctx, op.handle, data)
	if err != nil {
		return nil, op.fail(fmt.Errorf("callback: %w", err))
	}
	after, err := e.takeSnapshot()
	if err != nil {
		return nil, op.fail(err)
	}

	cmp := &ComparisonContext{Before: before, After: after}
	if err := cmp.checkRateStable(); err != nil {
		return nil, op.fail(err)
	}

	sold := new(big.Int).Sub(before.CollateralAmount, after.CollateralAmount)
	redemption := big.NewInt(0)
	if sold.Sign() > 0 {
		redemption, err = e.staking.ConvertToAssets(sold)
		if err != nil {
			return nil, op.fail(fmt.Errorf("redemption value: %w", err))
		}
	}
	if err := cmp.checkUnwind(proceeds, redemption, e.slippageToleranceBps); err != nil {
		return nil, op.fail(err)
	}

	if err := e.commit(op, &OperationRecord{
		Kind:       OpUnwind,
		Caller:     operator,
		NavDelta:   cmp.NavDelta(),
		Collateral: after.CollateralValue,
		Debt:       after.DebtValue,
	}); err != nil {
		return nil, err
	}
	return proceeds, nil
}

// Donate lets anyone add value to the position without minting shares. The
// only acceptance rule is that NAV must not decrease.
func (e *Engine) Donate(ctx context.Context, caller common.Address, callback Callback, data []byte) error {
	op, err := e.beginOperation(ctx, OpDonate, caller, callback, false)
	if err != nil {
		return err
	}
	defer op.end()

	before, err := e.takeSnapshot()
	if err != nil {
		return op.fail(err)
	}
	if _, err := callback.Run(op.ctx, op.handle, data); err != nil {
		return op.fail(fmt.Errorf("callback: %w", err))
	}
	after, err := e.takeSnapshot()
	if err != nil {
		return op.fail(err)
	}

	cmp := &ComparisonContext{Before: before, After: after}
	if err := cmp.checkRateStable(); err != nil {
		return op.fail(err)
	}
	if cmp.NavDelta().Sign() < 0 {
		return op.fail(ErrNavDecrease)
	}

	return e.commit(op, &OperationRecord{
		Kind:       OpDonate,
		Caller:     caller,
		NavDelta:   cmp.NavDelta(),
		Collateral: after.CollateralValue,
		Debt:       after.DebtValue,
	})
}

// operation carries the per-operation bookkeeping shared by the five
// protocols.
type operation struct {
	engine    *Engine
	ctx       context.Context
	span      trace.Span
	kind      OperationKind
	caller    common.Address
	handle    *SessionHandle
	revision  int
	feeShares *big.Int
	started   time.Time
	outcome   string
	acquired  bool
}

func (e *Engine) beginOperation(ctx context.Context, kind OperationKind, caller common.Address, callback Callback, accrue bool) (*operation, error) {
	if err := e.checkWiring(); err != nil {
		return nil, err
	}
	if callback == nil {
		return nil, ErrNilCallback
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return nil, err
	}
	if err := e.checkQuota(caller); err != nil {
		return nil, err
	}

	opCtx, span := e.tracer.Start(ctx, "vault."+string(kind),
		trace.WithAttributes(attribute.String("vault.caller", caller.Hex())))

	op := &operation{
		engine:    e,
		ctx:       opCtx,
		span:      span,
		kind:      kind,
		caller:    caller,
		started:   time.Now(),
		outcome:   "error",
		feeShares: big.NewInt(0),
	}
	if e.journal != nil {
		op.revision = e.journal.Snapshot()
	}

	if accrue {
		feeShares, err := e.accrueFees()
		if err != nil {
			err = op.fail(err)
			op.end()
			return nil, err
		}
		op.feeShares = feeShares
	}

	if err := e.session.acquire(caller); err != nil {
		err = op.fail(err)
		op.end()
		return nil, err
	}
	op.acquired = true
	op.handle = &SessionHandle{engine: e, invoker: caller}
	return op, nil
}

// fail reverts the journal, clears the session and annotates the span. The
// reverted state is indistinguishable from the operation never having run.
// The session is only aborted when this operation holds it; a failed acquire
// must leave the in-flight owner's lock and balances untouched.
func (op *operation) fail(err error) error {
	if op.acquired {
		op.engine.session.abort()
	}
	if op.engine.journal != nil {
		op.engine.journal.RevertToSnapshot(op.revision)
	}
	op.span.RecordError(err)
	observability.Vault().RecordRejection(string(op.kind), err.Error())
	op.engine.logger.Warn("operation rejected",
		"kind", string(op.kind), "caller", op.caller.Hex(), "error", err)
	return err
}

func (op *operation) end() {
	observability.Vault().ObserveOperation(string(op.kind), op.outcome, time.Since(op.started))
	op.span.End()
}

// commit closes the session (rejecting any non-zero running balance) and
// emits the operation record.
func (e *Engine) commit(op *operation, record *OperationRecord) error {
	if err := e.session.release(); err != nil {
		return op.fail(err)
	}
	op.outcome = "ok"

	supply, err := e.state.GetShareSupply()
	if err != nil {
		return op.fail(err)
	}
	record.ID = uuid.NewString()
	record.TotalShares = clone(supply)
	record.FeeShares = op.feeShares
	record.SharesMinted = zeroIfNil(record.SharesMinted)
	record.SharesBurned = zeroIfNil(record.SharesBurned)
	record.Nav = new(big.Int).Sub(zeroIfNil(record.Collateral), zeroIfNil(record.Debt))
	observability.Events().RecordOperation(string(record.Kind))
	observability.Vault().RecordFeeShares(op.feeShares)
	observability.Vault().SetNav(record.Nav)
	if e.emitter != nil {
		e.emitter.EmitOperation(*record)
	}
	e.logger.Info("operation committed",
		"kind", string(record.Kind),
		"id", record.ID,
		"nav_delta", record.NavDelta.String(),
		"shares_minted", record.SharesMinted.String(),
		"shares_burned", record.SharesBurned.String(),
		"supply", record.TotalShares.String())
	if e.journal != nil {
		e.journal.DiscardSnapshot(op.revision)
	}
	return nil
}

func (e *Engine) mintShares(to common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return ErrZeroAmount
	}
	account, err := e.state.GetShareAccount(to)
	if err != nil {
		return err
	}
	if account == nil {
		account = &ShareAccount{Address: to, Shares: big.NewInt(0)}
	}
	account.Shares = new(big.Int).Add(zeroIfNil(account.Shares), amount)
	if err := e.state.PutShareAccount(account); err != nil {
		return err
	}
	supply, err := e.state.GetShareSupply()
	if err != nil {
		return err
	}
	return e.state.PutShareSupply(new(big.Int).Add(zeroIfNil(supply), amount))
}

func (e *Engine) burnShares(from common.Address, amount *big.Int) error {
	account, err := e.state.GetShareAccount(from)
	if err != nil {
		return err
	}
	if account == nil || zeroIfNil(account.Shares).Cmp(amount) < 0 {
		return ErrInsufficientShares
	}
	account.Shares = new(big.Int).Sub(account.Shares, amount)
	if err := e.state.PutShareAccount(account); err != nil {
		return err
	}
	supply, err := e.state.GetShareSupply()
	if err != nil {
		return err
	}
	if zeroIfNil(supply).Cmp(amount) < 0 {
		return ErrInsufficientShares
	}
	return e.state.PutShareSupply(new(big.Int).Sub(supply, amount))
}
