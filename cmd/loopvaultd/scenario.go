package main

import (
	"fmt"
	"math/big"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Scenario is the scripted operation sequence the daemon replays against the
// simulated collaborators.
type Scenario struct {
	Steps []Step `yaml:"steps"`
}

// Step describes one scripted action. Exactly one of the operation kinds
// applies per step; amounts are decimal wei strings.
type Step struct {
	Op            string `yaml:"op"`
	AmountWei     string `yaml:"amount_wei"`
	SharePct      uint64 `yaml:"share_pct"`
	CollateralPct uint64 `yaml:"collateral_pct"`
	RateGrowthBps uint64 `yaml:"rate_growth_bps"`
	DebtGrowthBps uint64 `yaml:"debt_growth_bps"`
}

// Amount parses the step's wei amount.
func (s Step) Amount() (*big.Int, error) {
	raw := strings.TrimSpace(s.AmountWei)
	if raw == "" {
		return big.NewInt(0), nil
	}
	value, ok := new(big.Int).SetString(raw, 10)
	if !ok {
		return nil, fmt.Errorf("scenario: invalid amount %q", s.AmountWei)
	}
	return value, nil
}

// LoadScenario reads a YAML scenario file.
func LoadScenario(path string) (*Scenario, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenario: %w", err)
	}
	scenario := &Scenario{}
	if err := yaml.Unmarshal(raw, scenario); err != nil {
		return nil, fmt.Errorf("parse scenario: %w", err)
	}
	if len(scenario.Steps) == 0 {
		return nil, fmt.Errorf("scenario: no steps")
	}
	return scenario, nil
}

// DefaultScenario exercises every operation kind once: bootstrap, a levered
// deposit, staking yield, a half withdraw, a partial unwind and a donation.
func DefaultScenario() *Scenario {
	return &Scenario{Steps: []Step{
		{Op: "initialize", AmountWei: "1000000000000000000"},
		{Op: "deposit", AmountWei: "10000000000000000000"},
		{Op: "accrue", RateGrowthBps: 120},
		{Op: "withdraw", SharePct: 50},
		{Op: "unwind", CollateralPct: 10},
		{Op: "donate", AmountWei: "250000000000000000"},
	}}
}
