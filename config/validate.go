package config

import (
	"fmt"
	"strings"
)

// Validate rejects configurations the engine cannot run with. The policy
// bands are free tuning within sane bounds; everything else is structural.
func (c *Config) Validate() error {
	v := c.Vault
	if v.TargetHealthFactorBps <= 10_000 {
		return fmt.Errorf("config: TargetHealthFactorBps must exceed 10000, got %d", v.TargetHealthFactorBps)
	}
	if v.ToleranceBelowBps >= 10_000 || v.ToleranceAboveBps >= 10_000 {
		return fmt.Errorf("config: tolerance bands must be below 10000 bps")
	}
	if v.SlippageToleranceBps >= 10_000 {
		return fmt.Errorf("config: SlippageToleranceBps must be below 10000, got %d", v.SlippageToleranceBps)
	}
	if v.BorrowBufferBps >= 10_000 {
		return fmt.Errorf("config: BorrowBufferBps must be below 10000, got %d", v.BorrowBufferBps)
	}
	if v.FeeRateBps > 10_000 {
		return fmt.Errorf("config: FeeRateBps must not exceed 10000, got %d", v.FeeRateBps)
	}
	if v.FeeRateBps > 0 && strings.TrimSpace(v.FeeRecipient) == "" {
		return fmt.Errorf("config: FeeRecipient required when FeeRateBps is set")
	}
	return nil
}
