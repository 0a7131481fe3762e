package oracle

import (
	"errors"
	"testing"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"
)

var (
	usdc = common.HexToAddress("0x01")
	weth = common.HexToAddress("0x02")
)

// feed answers in 1e8 (chainlink style); multiplier 1e10 brings them to 1e18.
var feedMultiplier = sdkmath.NewIntWithDecimal(1, 10)

func newTestRegistry(t *testing.T, usdcFeed, wethFeed Feed) *Registry {
	t.Helper()
	r := NewRegistry()
	if err := r.Register(usdc, usdcFeed, feedMultiplier, time.Hour, 6); err != nil {
		t.Fatalf("register usdc: %v", err)
	}
	if err := r.Register(weth, wethFeed, feedMultiplier, time.Hour, 18); err != nil {
		t.Fatalf("register weth: %v", err)
	}
	return r
}

func TestGetAssetPrice(t *testing.T) {
	r := newTestRegistry(t, NewStaticFeed(sdkmath.NewInt(1_0000_0000)), NewStaticFeed(sdkmath.NewInt(2000_0000_0000)))
	price, err := r.GetAssetPrice(weth)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if price.String() != "2000000000000000000000" {
		t.Fatalf("expected 2000e18, got %s", price)
	}
}

func TestGetAssetPriceRejectsUnconfigured(t *testing.T) {
	r := NewRegistry()
	if _, err := r.GetAssetPrice(usdc); !errors.Is(err, ErrFeedNotConfigured) {
		t.Fatalf("expected ErrFeedNotConfigured, got %v", err)
	}
}

func TestGetAssetPriceRejectsZeroAnswer(t *testing.T) {
	r := newTestRegistry(t, NewStaticFeed(sdkmath.ZeroInt()), NewStaticFeed(sdkmath.NewInt(1)))
	if _, err := r.GetAssetPrice(usdc); !errors.Is(err, ErrInvalidFeedPrice) {
		t.Fatalf("expected ErrInvalidFeedPrice, got %v", err)
	}
}

func TestGetAssetPriceRejectsStale(t *testing.T) {
	stale := NewStaticFeed(sdkmath.NewInt(1_0000_0000))
	stale.updatedAt = time.Now().Add(-2 * time.Hour)
	r := newTestRegistry(t, stale, NewStaticFeed(sdkmath.NewInt(1)))
	if _, err := r.GetAssetPrice(usdc); !errors.Is(err, ErrFeedNotUpdated) {
		t.Fatalf("expected ErrFeedNotUpdated, got %v", err)
	}
}

func TestRegisterRejectsEmptyMultiplier(t *testing.T) {
	r := NewRegistry()
	err := r.Register(usdc, NewStaticFeed(sdkmath.NewInt(1)), sdkmath.ZeroInt(), time.Hour, 6)
	if !errors.Is(err, ErrEmptyMultiplier) {
		t.Fatalf("expected ErrEmptyMultiplier, got %v", err)
	}
}

func TestConvertTokenAmount(t *testing.T) {
	// USDC $1, WETH $2000.
	r := newTestRegistry(t, NewStaticFeed(sdkmath.NewInt(1_0000_0000)), NewStaticFeed(sdkmath.NewInt(2000_0000_0000)))

	// 2000 USDC (1e6) -> 1 WETH (1e18)
	out, err := r.ConvertTokenAmount(usdc, weth, sdkmath.NewInt(2000_000000))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.String() != "1000000000000000000" {
		t.Fatalf("expected 1e18, got %s", out)
	}

	// 0.5 WETH -> 1000 USDC
	out, err = r.ConvertTokenAmount(weth, usdc, sdkmath.NewIntWithDecimal(5, 17))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.String() != "1000000000" {
		t.Fatalf("expected 1000e6, got %s", out)
	}

	out, err = r.ConvertTokenAmount(usdc, weth, sdkmath.ZeroInt())
	if err != nil || !out.IsZero() {
		t.Fatalf("zero amount must convert to zero, got %s (%v)", out, err)
	}
}
