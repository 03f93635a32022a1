// Package sim provides deterministic in-memory collaborators for the vault
// engine: a lending market with scaled-balance accounting, a staking pool
// with a settable redemption rate, a capped rate adapter, a token ledger and
// a revision journal. The daemon and the engine's integration tests share
// these implementations.
package sim

import (
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"loopvault/native/vault"
)

var (
	ErrInsufficientBalance   = errors.New("sim: insufficient balance")
	ErrInsufficientLiquidity = errors.New("sim: insufficient liquidity")
)

var (
	wad = mustBigInt("1000000000000000000")
	bps = big.NewInt(10_000)
	// maxHealthFactor is the sentinel a debt-free position reports.
	maxHealthFactor = new(big.Int).Lsh(big.NewInt(1), 160)
)

func mustBigInt(value string) *big.Int {
	v, ok := new(big.Int).SetString(value, 10)
	if !ok {
		panic("invalid big integer constant")
	}
	return v
}

func clone(x *big.Int) *big.Int {
	if x == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(x)
}

// snapshotter is implemented by every sim component so the Journal can
// capture and restore the whole world atomically.
type snapshotter interface {
	capture() any
	restore(state any)
}

// State is the in-memory share-accounting store behind the engine.
type State struct {
	accounts map[common.Address]*vault.ShareAccount
	supply   *big.Int
	fees     *vault.FeeState
}

func NewState() *State {
	return &State{
		accounts: make(map[common.Address]*vault.ShareAccount),
		supply:   big.NewInt(0),
	}
}

func (s *State) GetShareAccount(addr common.Address) (*vault.ShareAccount, error) {
	return s.accounts[addr].Clone(), nil
}

func (s *State) PutShareAccount(account *vault.ShareAccount) error {
	if account == nil {
		return nil
	}
	s.accounts[account.Address] = account.Clone()
	return nil
}

func (s *State) GetShareSupply() (*big.Int, error) {
	return clone(s.supply), nil
}

func (s *State) PutShareSupply(supply *big.Int) error {
	s.supply = clone(supply)
	return nil
}

func (s *State) GetFeeState() (*vault.FeeState, error) {
	return s.fees.Clone(), nil
}

func (s *State) PutFeeState(fees *vault.FeeState) error {
	s.fees = fees.Clone()
	return nil
}

type stateMemento struct {
	accounts map[common.Address]*vault.ShareAccount
	supply   *big.Int
	fees     *vault.FeeState
}

func (s *State) capture() any {
	accounts := make(map[common.Address]*vault.ShareAccount, len(s.accounts))
	for addr, account := range s.accounts {
		accounts[addr] = account.Clone()
	}
	return stateMemento{accounts: accounts, supply: clone(s.supply), fees: s.fees.Clone()}
}

func (s *State) restore(state any) {
	m := state.(stateMemento)
	s.accounts = make(map[common.Address]*vault.ShareAccount, len(m.accounts))
	for addr, account := range m.accounts {
		s.accounts[addr] = account.Clone()
	}
	s.supply = clone(m.supply)
	s.fees = m.fees.Clone()
}

// StakingPool models the liquid-staking token: staking converts the borrowed
// asset into collateral shares at the redemption rate (wad collateral value
// per share).
type StakingPool struct {
	rate *big.Int
}

func NewStakingPool(rate *big.Int) *StakingPool {
	return &StakingPool{rate: clone(rate)}
}

// SetRate simulates yield accrual (or a slashing event) on the staked asset.
func (p *StakingPool) SetRate(rate *big.Int) { p.rate = clone(rate) }

func (p *StakingPool) Stake(amount *big.Int) (*big.Int, error) {
	return p.ConvertToShares(amount)
}

func (p *StakingPool) ConvertToAssets(shares *big.Int) (*big.Int, error) {
	out := new(big.Int).Mul(clone(shares), p.rate)
	return out.Quo(out, wad), nil
}

func (p *StakingPool) ConvertToShares(assets *big.Int) (*big.Int, error) {
	out := new(big.Int).Mul(clone(assets), wad)
	return out.Quo(out, p.rate), nil
}

func (p *StakingPool) CurrentRate() (*big.Int, error) {
	return clone(p.rate), nil
}

func (p *StakingPool) capture() any      { return clone(p.rate) }
func (p *StakingPool) restore(state any) { p.rate = clone(state.(*big.Int)) }

// RateCap caps the staking rate at a configurable maximum so a compromised
// rate provider cannot inflate collateral value.
type RateCap struct {
	pool    *StakingPool
	maxRate *big.Int
}

func NewRateCap(pool *StakingPool, maxRate *big.Int) *RateCap {
	return &RateCap{pool: pool, maxRate: clone(maxRate)}
}

func (r *RateCap) CurrentRate() (*big.Int, error) {
	rate, err := r.pool.CurrentRate()
	if err != nil {
		return nil, err
	}
	if r.maxRate.Sign() > 0 && rate.Cmp(r.maxRate) > 0 {
		return clone(r.maxRate), nil
	}
	return rate, nil
}

func (r *RateCap) IsCapped() (bool, error) {
	rate, err := r.pool.CurrentRate()
	if err != nil {
		return false, err
	}
	return r.maxRate.Sign() > 0 && rate.Cmp(r.maxRate) > 0, nil
}

func (r *RateCap) MaxRate() (*big.Int, error) {
	return clone(r.maxRate), nil
}

func (r *RateCap) capture() any      { return clone(r.maxRate) }
func (r *RateCap) restore(state any) { r.maxRate = clone(state.(*big.Int)) }

// Market is a single-position lending market with monotonic scaled-balance
// accounting. Collateral is valued at the capped reference rate so the sim's
// economics agree with the engine's snapshots.
type Market struct {
	rates *RateCap

	scaledCollateral *big.Int
	collateralIndex  *big.Int
	scaledDebt       *big.Int
	debtIndex        *big.Int

	ltvBps          uint64
	liqThresholdBps uint64
}

func NewMarket(rates *RateCap, ltvBps, liqThresholdBps uint64) *Market {
	return &Market{
		rates:            rates,
		scaledCollateral: big.NewInt(0),
		collateralIndex:  clone(wad),
		scaledDebt:       big.NewInt(0),
		debtIndex:        clone(wad),
		ltvBps:           ltvBps,
		liqThresholdBps:  liqThresholdBps,
	}
}

func (m *Market) collateralAmount() *big.Int {
	out := new(big.Int).Mul(m.scaledCollateral, m.collateralIndex)
	return out.Quo(out, wad)
}

func (m *Market) debtValue() *big.Int {
	out := new(big.Int).Mul(m.scaledDebt, m.debtIndex)
	return out.Quo(out, wad)
}

func (m *Market) collateralValue() (*big.Int, error) {
	rate, err := m.rates.CurrentRate()
	if err != nil {
		return nil, err
	}
	out := new(big.Int).Mul(m.collateralAmount(), rate)
	return out.Quo(out, wad), nil
}

func (m *Market) Supply(_ common.Address, amount *big.Int) error {
	scaled := new(big.Int).Mul(clone(amount), wad)
	scaled.Quo(scaled, m.collateralIndex)
	m.scaledCollateral = new(big.Int).Add(m.scaledCollateral, scaled)
	return nil
}

func (m *Market) Withdraw(_ common.Address, amount *big.Int) (*big.Int, error) {
	actual := clone(amount)
	if held := m.collateralAmount(); actual.Cmp(held) > 0 {
		actual = held
	}
	scaled := new(big.Int).Mul(actual, wad)
	scaled.Quo(scaled, m.collateralIndex)
	if scaled.Cmp(m.scaledCollateral) > 0 {
		scaled = clone(m.scaledCollateral)
	}
	m.scaledCollateral = new(big.Int).Sub(m.scaledCollateral, scaled)
	return actual, nil
}

func (m *Market) Borrow(_ common.Address, amount *big.Int) error {
	value, err := m.collateralValue()
	if err != nil {
		return err
	}
	headroom := new(big.Int).Mul(value, new(big.Int).SetUint64(m.ltvBps))
	headroom.Quo(headroom, bps)
	projected := new(big.Int).Add(m.debtValue(), amount)
	if projected.Cmp(headroom) > 0 {
		return ErrInsufficientLiquidity
	}
	scaled := new(big.Int).Mul(clone(amount), wad)
	scaled.Quo(scaled, m.debtIndex)
	m.scaledDebt = new(big.Int).Add(m.scaledDebt, scaled)
	return nil
}

func (m *Market) Repay(_ common.Address, amount *big.Int) (*big.Int, error) {
	actual := clone(amount)
	if debt := m.debtValue(); actual.Cmp(debt) > 0 {
		actual = debt
	}
	scaled := new(big.Int).Mul(actual, wad)
	// Ceiling so a full repayment clears the last scaled unit.
	scaled.Add(scaled, new(big.Int).Sub(m.debtIndex, big.NewInt(1)))
	scaled.Quo(scaled, m.debtIndex)
	if scaled.Cmp(m.scaledDebt) > 0 {
		scaled = clone(m.scaledDebt)
	}
	m.scaledDebt = new(big.Int).Sub(m.scaledDebt, scaled)
	return actual, nil
}

func (m *Market) PositionData(common.Address) (vault.PositionData, error) {
	value, err := m.collateralValue()
	if err != nil {
		return vault.PositionData{}, err
	}
	debt := m.debtValue()

	headroom := new(big.Int).Mul(value, new(big.Int).SetUint64(m.ltvBps))
	headroom.Quo(headroom, bps)
	headroom.Sub(headroom, debt)
	if headroom.Sign() < 0 {
		headroom = big.NewInt(0)
	}

	health := clone(maxHealthFactor)
	if debt.Sign() > 0 {
		health = new(big.Int).Mul(value, new(big.Int).SetUint64(m.liqThresholdBps))
		health.Mul(health, wad)
		health.Quo(health, new(big.Int).Mul(debt, bps))
	}

	return vault.PositionData{
		CollateralValue:      value,
		DebtValue:            debt,
		AvailableBorrow:      headroom,
		LiquidationThreshold: m.liqThresholdBps,
		Ltv:                  m.ltvBps,
		HealthFactor:         health,
	}, nil
}

func (m *Market) ScaledCollateral(common.Address) (*big.Int, error) {
	return clone(m.scaledCollateral), nil
}

func (m *Market) CollateralIndex() (*big.Int, error) {
	return clone(m.collateralIndex), nil
}

func (m *Market) ScaledDebt(common.Address) (*big.Int, error) {
	return clone(m.scaledDebt), nil
}

func (m *Market) DebtIndex() (*big.Int, error) {
	return clone(m.debtIndex), nil
}

// AccrueDebt grows the debt index by the given basis points, simulating
// borrow interest between operations.
func (m *Market) AccrueDebt(growthBps uint64) {
	factor := new(big.Int).Add(bps, new(big.Int).SetUint64(growthBps))
	m.debtIndex = new(big.Int).Mul(m.debtIndex, factor)
	m.debtIndex.Quo(m.debtIndex, bps)
}

type marketMemento struct {
	scaledCollateral, collateralIndex, scaledDebt, debtIndex *big.Int
}

func (m *Market) capture() any {
	return marketMemento{
		scaledCollateral: clone(m.scaledCollateral),
		collateralIndex:  clone(m.collateralIndex),
		scaledDebt:       clone(m.scaledDebt),
		debtIndex:        clone(m.debtIndex),
	}
}

func (m *Market) restore(state any) {
	memento := state.(marketMemento)
	m.scaledCollateral = clone(memento.scaledCollateral)
	m.collateralIndex = clone(memento.collateralIndex)
	m.scaledDebt = clone(memento.scaledDebt)
	m.debtIndex = clone(memento.debtIndex)
}

// Ledger is the in-memory token boundary for Send/Pull.
type Ledger struct {
	balances map[common.Address]map[common.Address]*big.Int
}

func NewLedger() *Ledger {
	return &Ledger{balances: make(map[common.Address]map[common.Address]*big.Int)}
}

// Mint credits a holder out of thin air; test and bootstrap helper.
func (l *Ledger) Mint(asset, holder common.Address, amount *big.Int) {
	l.credit(asset, holder, clone(amount))
}

func (l *Ledger) credit(asset, holder common.Address, amount *big.Int) {
	book, ok := l.balances[asset]
	if !ok {
		book = make(map[common.Address]*big.Int)
		l.balances[asset] = book
	}
	current, ok := book[holder]
	if !ok {
		current = big.NewInt(0)
	}
	book[holder] = new(big.Int).Add(current, amount)
}

func (l *Ledger) debit(asset, holder common.Address, amount *big.Int) error {
	book := l.balances[asset]
	current := book[holder]
	if current == nil || current.Cmp(amount) < 0 {
		return ErrInsufficientBalance
	}
	book[holder] = new(big.Int).Sub(current, amount)
	return nil
}

func (l *Ledger) Transfer(asset, to common.Address, amount *big.Int) error {
	// Transfers out of the vault are backed by the session balance the
	// engine already debited; only the recipient side is booked here.
	l.credit(asset, to, clone(amount))
	return nil
}

func (l *Ledger) TransferFrom(asset, from, to common.Address, amount *big.Int) error {
	if err := l.debit(asset, from, clone(amount)); err != nil {
		return err
	}
	l.credit(asset, to, clone(amount))
	return nil
}

func (l *Ledger) BalanceOf(asset, holder common.Address) (*big.Int, error) {
	book := l.balances[asset]
	if book == nil || book[holder] == nil {
		return big.NewInt(0), nil
	}
	return clone(book[holder]), nil
}

func (l *Ledger) capture() any {
	balances := make(map[common.Address]map[common.Address]*big.Int, len(l.balances))
	for asset, book := range l.balances {
		copied := make(map[common.Address]*big.Int, len(book))
		for holder, amount := range book {
			copied[holder] = clone(amount)
		}
		balances[asset] = copied
	}
	return balances
}

func (l *Ledger) restore(state any) {
	l.balances = state.(map[common.Address]map[common.Address]*big.Int)
}

// Journal captures and restores every registered component, standing in for
// the transactional platform the engine assumes.
type Journal struct {
	components []snapshotter
	revisions  [][]any
}

func NewJournal(components ...snapshotter) *Journal {
	return &Journal{components: components}
}

// NewWorldJournal registers the usual full set of sim components.
func NewWorldJournal(state *State, market *Market, pool *StakingPool, rates *RateCap, ledger *Ledger) *Journal {
	return NewJournal(state, market, pool, rates, ledger)
}

func (j *Journal) Snapshot() int {
	revision := make([]any, len(j.components))
	for i, component := range j.components {
		revision[i] = component.capture()
	}
	j.revisions = append(j.revisions, revision)
	return len(j.revisions) - 1
}

func (j *Journal) RevertToSnapshot(revision int) {
	if revision < 0 || revision >= len(j.revisions) {
		return
	}
	saved := j.revisions[revision]
	for i, component := range j.components {
		component.restore(saved[i])
	}
	j.revisions = j.revisions[:revision]
}

// DiscardSnapshot drops the revision and everything above it without
// restoring; the committed state stays in place.
func (j *Journal) DiscardSnapshot(revision int) {
	if revision < 0 || revision >= len(j.revisions) {
		return
	}
	j.revisions = j.revisions[:revision]
}

// Depth reports how many revisions the journal currently holds.
func (j *Journal) Depth() int { return len(j.revisions) }
