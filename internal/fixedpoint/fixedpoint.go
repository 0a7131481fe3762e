package fixedpoint

import (
	"fmt"

	sdkmath "cosmossdk.io/math"
)

// Scale is the fixed-point scale used for ratios: 1e18 == 1x.
const Scale = 18

var one = sdkmath.NewIntWithDecimal(1, Scale)

// One returns the fixed-point representation of 1.0.
func One() sdkmath.Int {
	return one
}

// Ratio parses a decimal string (e.g. "5.5") into a 1e18 fixed-point ratio.
func Ratio(s string) (sdkmath.Int, error) {
	dec, err := sdkmath.LegacyNewDecFromStr(s)
	if err != nil {
		return sdkmath.ZeroInt(), fmt.Errorf("invalid ratio %q: %w", s, err)
	}
	if dec.IsNegative() {
		return sdkmath.ZeroInt(), fmt.Errorf("ratio %q must not be negative", s)
	}
	return dec.MulInt(one).TruncateInt(), nil
}

// MustRatio is Ratio for constants known to parse.
func MustRatio(s string) sdkmath.Int {
	r, err := Ratio(s)
	if err != nil {
		panic(err)
	}
	return r
}

// Pow10 returns 10^exp as an integer. exp must be non-negative.
func Pow10(exp int) sdkmath.Int {
	if exp < 0 {
		panic(fmt.Sprintf("fixedpoint: negative exponent %d", exp))
	}
	return sdkmath.NewIntWithDecimal(1, exp)
}

// MulDivFloor computes a*b/c rounded toward zero. Callers pick the rounding
// direction explicitly; there is no default-division helper on purpose.
func MulDivFloor(a, b, c sdkmath.Int) sdkmath.Int {
	if c.IsZero() {
		return sdkmath.ZeroInt()
	}
	return a.Mul(b).Quo(c)
}

// MulDivCeil computes a*b/c rounded away from zero for non-negative inputs.
func MulDivCeil(a, b, c sdkmath.Int) sdkmath.Int {
	if c.IsZero() {
		return sdkmath.ZeroInt()
	}
	num := a.Mul(b)
	out := num.Quo(c)
	if !num.Mod(c).IsZero() {
		out = out.Add(sdkmath.OneInt())
	}
	return out
}

// SaturatingSub returns a-b floored at zero, and whether the subtraction
// underflowed. Oracle drift makes small underflows routine; they must never
// wrap or panic.
func SaturatingSub(a, b sdkmath.Int) (sdkmath.Int, bool) {
	if b.GT(a) {
		return sdkmath.ZeroInt(), true
	}
	return a.Sub(b), false
}

// Min returns the smaller of a and b.
func Min(a, b sdkmath.Int) sdkmath.Int {
	if a.LT(b) {
		return a
	}
	return b
}

// Clamp bounds v to [lo, hi]. A zero hi means unbounded above.
func Clamp(v, lo, hi sdkmath.Int) sdkmath.Int {
	if v.LT(lo) {
		return lo
	}
	if !hi.IsZero() && v.GT(hi) {
		return hi
	}
	return v
}
