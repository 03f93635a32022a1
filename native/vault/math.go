package vault

import "math/big"

var (
	basisPoints = big.NewInt(10_000)
	wad         = mustBigInt("1000000000000000000") // 1e18 precision
	one         = big.NewInt(1)
)

func mustBigInt(value string) *big.Int {
	v, ok := new(big.Int).SetString(value, 10)
	if !ok {
		panic("invalid big integer constant")
	}
	return v
}

// Rounding selects the direction fixed-point divisions truncate toward.
// Debt owed rounds up, collateral released rounds down; callers must pick
// explicitly rather than relying on Quo truncation.
type Rounding int

const (
	RoundDown Rounding = iota
	RoundUp
)

// mulDiv computes a*b/den with the requested rounding. A nil or zero
// denominator yields zero so callers can fail on their own terms.
func mulDiv(a, b, den *big.Int, rounding Rounding) *big.Int {
	if a == nil || b == nil || den == nil || den.Sign() == 0 {
		return big.NewInt(0)
	}
	num := new(big.Int).Mul(a, b)
	quo, rem := new(big.Int).QuoRem(num, den, new(big.Int))
	if rounding == RoundUp && rem.Sign() != 0 {
		quo.Add(quo, one)
	}
	return quo
}

func wadMul(a, b *big.Int, rounding Rounding) *big.Int {
	return mulDiv(a, b, wad, rounding)
}

func wadDiv(a, b *big.Int, rounding Rounding) *big.Int {
	return mulDiv(a, wad, b, rounding)
}

// bpsToWad widens a basis-point ratio to wad fixed point.
func bpsToWad(bps uint64) *big.Int {
	return mulDiv(new(big.Int).SetUint64(bps), wad, basisPoints, RoundDown)
}

func clone(x *big.Int) *big.Int {
	if x == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(x)
}

func zeroIfNil(x *big.Int) *big.Int {
	if x == nil {
		return big.NewInt(0)
	}
	return x
}
