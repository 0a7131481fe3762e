package fixedpoint

import (
	"testing"

	sdkmath "cosmossdk.io/math"
)

func TestRatio(t *testing.T) {
	r, err := Ratio("5")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r.String() != "5000000000000000000" {
		t.Fatalf("expected 5e18, got %s", r)
	}
	r, err = Ratio("0.25")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r.String() != "250000000000000000" {
		t.Fatalf("expected 2.5e17, got %s", r)
	}
	if _, err := Ratio("-1"); err == nil {
		t.Fatalf("expected error for negative ratio")
	}
	if _, err := Ratio("abc"); err == nil {
		t.Fatalf("expected error for malformed ratio")
	}
}

func TestMulDivRounding(t *testing.T) {
	a := sdkmath.NewInt(1200)
	five := sdkmath.NewInt(5)
	six := sdkmath.NewInt(6)
	if got := MulDivFloor(a, five, six); !got.Equal(sdkmath.NewInt(1000)) {
		t.Fatalf("floor: expected 1000, got %s", got)
	}
	// 1201*1/6 = 200.1666 -> ceil 201
	if got := MulDivCeil(sdkmath.NewInt(1201), sdkmath.OneInt(), six); !got.Equal(sdkmath.NewInt(201)) {
		t.Fatalf("ceil: expected 201, got %s", got)
	}
	// exact division must not round up
	if got := MulDivCeil(a, sdkmath.OneInt(), six); !got.Equal(sdkmath.NewInt(200)) {
		t.Fatalf("ceil exact: expected 200, got %s", got)
	}
	if got := MulDivFloor(a, five, sdkmath.ZeroInt()); !got.IsZero() {
		t.Fatalf("zero denominator must yield zero, got %s", got)
	}
}

func TestSaturatingSub(t *testing.T) {
	res, under := SaturatingSub(sdkmath.NewInt(10), sdkmath.NewInt(4))
	if under || !res.Equal(sdkmath.NewInt(6)) {
		t.Fatalf("expected 6 without underflow, got %s (%t)", res, under)
	}
	res, under = SaturatingSub(sdkmath.NewInt(4), sdkmath.NewInt(10))
	if !under || !res.IsZero() {
		t.Fatalf("expected zero with underflow, got %s (%t)", res, under)
	}
}

func TestClamp(t *testing.T) {
	lo := sdkmath.NewInt(5)
	hi := sdkmath.NewInt(10)
	if got := Clamp(sdkmath.NewInt(3), lo, hi); !got.Equal(lo) {
		t.Fatalf("expected clamp to lo, got %s", got)
	}
	if got := Clamp(sdkmath.NewInt(30), lo, hi); !got.Equal(hi) {
		t.Fatalf("expected clamp to hi, got %s", got)
	}
	if got := Clamp(sdkmath.NewInt(30), lo, sdkmath.ZeroInt()); !got.Equal(sdkmath.NewInt(30)) {
		t.Fatalf("zero hi must be unbounded, got %s", got)
	}
}
