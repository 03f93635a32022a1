package vault

import "math/big"

// Config captures the runtime policy for the vault engine. Amount fields are
// wei-denominated big integers; ratios are basis points for deterministic
// accounting.
type Config struct {
	TargetHealthFactorBps uint64   `toml:"TargetHealthFactorBps"`
	ToleranceBelowBps     uint64   `toml:"ToleranceBelowBps"`
	ToleranceAboveBps     uint64   `toml:"ToleranceAboveBps"`
	MinNavIncreaseWei     *big.Int `toml:"MinNavIncreaseWei"`
	MinStakeWei           *big.Int `toml:"MinStakeWei"`
	SlippageToleranceBps  uint64   `toml:"SlippageToleranceBps"`
	BorrowBufferBps       uint64   `toml:"BorrowBufferBps"`
	FeeRateBps            uint64   `toml:"FeeRateBps"`
	FeeRecipient          string   `toml:"FeeRecipient"`
}

// EnsureDefaults populates nil big.Int fields and fills in the policy bands
// when a config file omits them. The band magnitudes are tuning, not
// load-bearing constants.
func (c *Config) EnsureDefaults() {
	if c.TargetHealthFactorBps == 0 {
		c.TargetHealthFactorBps = 13_000
	}
	if c.ToleranceBelowBps == 0 {
		c.ToleranceBelowBps = 10
	}
	if c.ToleranceAboveBps == 0 {
		c.ToleranceAboveBps = 50
	}
	if c.MinNavIncreaseWei == nil {
		c.MinNavIncreaseWei = big.NewInt(0)
	}
	if c.MinStakeWei == nil {
		c.MinStakeWei = big.NewInt(0)
	}
}

// DepositPolicy derives the comparator policy from the configured bands.
func (c *Config) DepositPolicy() DepositPolicy {
	return DepositPolicy{
		TargetHealthFactor: bpsToWad(c.TargetHealthFactorBps),
		ToleranceBelowBps:  c.ToleranceBelowBps,
		ToleranceAboveBps:  c.ToleranceAboveBps,
		MinNavIncrease:     clone(c.MinNavIncreaseWei),
	}
}

// BorrowBuffer returns the wad safety buffer applied to borrow headroom.
func (c *Config) BorrowBuffer() *big.Int {
	return bpsToWad(c.BorrowBufferBps)
}
