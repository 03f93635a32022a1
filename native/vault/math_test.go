package vault

import (
	"math/big"
	"testing"
)

func TestMulDivRounding(t *testing.T) {
	a := big.NewInt(7)
	b := big.NewInt(3)
	den := big.NewInt(2)

	if got := mulDiv(a, b, den, RoundDown); got.Cmp(big.NewInt(10)) != 0 {
		t.Fatalf("unexpected floor quotient: %s", got)
	}
	if got := mulDiv(a, b, den, RoundUp); got.Cmp(big.NewInt(11)) != 0 {
		t.Fatalf("unexpected ceiling quotient: %s", got)
	}
	// Exact division must not be bumped by the ceiling mode.
	if got := mulDiv(big.NewInt(4), b, den, RoundUp); got.Cmp(big.NewInt(6)) != 0 {
		t.Fatalf("unexpected exact quotient: %s", got)
	}
}

func TestMulDivZeroDenominator(t *testing.T) {
	if got := mulDiv(big.NewInt(5), big.NewInt(5), big.NewInt(0), RoundUp); got.Sign() != 0 {
		t.Fatalf("expected zero for zero denominator, got %s", got)
	}
	if got := mulDiv(nil, big.NewInt(5), big.NewInt(5), RoundDown); got.Sign() != 0 {
		t.Fatalf("expected zero for nil operand, got %s", got)
	}
}

func TestBpsToWad(t *testing.T) {
	if got := bpsToWad(10_000); got.Cmp(wad) != 0 {
		t.Fatalf("10000 bps should widen to one wad, got %s", got)
	}
	half := new(big.Int).Quo(wad, big.NewInt(2))
	if got := bpsToWad(5_000); got.Cmp(half) != 0 {
		t.Fatalf("5000 bps should widen to half a wad, got %s", got)
	}
}

func TestWadDiv(t *testing.T) {
	// 110 / 100 = 1.1 in wad.
	want, _ := new(big.Int).SetString("1100000000000000000", 10)
	if got := wadDiv(big.NewInt(110), big.NewInt(100), RoundDown); got.Cmp(want) != 0 {
		t.Fatalf("unexpected wad quotient: %s", got)
	}
}
