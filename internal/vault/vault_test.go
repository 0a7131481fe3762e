package vault

import (
	"context"
	"errors"
	"testing"

	sdkmath "cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
)

var (
	vaultAddr    = common.HexToAddress("0x10")
	strategyAddr = common.HexToAddress("0x11")
	assetAddr    = common.HexToAddress("0x12")
	alice        = common.HexToAddress("0xa0")
	bob          = common.HexToAddress("0xb0")
)

// stubStrategy reports a fixed total-assets figure and records pipeline calls.
type stubStrategy struct {
	total         sdkmath.Int
	assetsToClaim sdkmath.Int
	requests      []sdkmath.Int
	processed     []sdkmath.Int
	instant       bool
}

func (s *stubStrategy) TotalAssets(context.Context) (sdkmath.Int, error) {
	return s.total, nil
}

func (s *stubStrategy) AssetsToClaim() sdkmath.Int {
	if s.assetsToClaim.IsNil() {
		return sdkmath.ZeroInt()
	}
	return s.assetsToClaim
}

func (s *stubStrategy) RequestWithdraw(_ context.Context, _, _ common.Address, assets sdkmath.Int) (common.Hash, bool, error) {
	s.requests = append(s.requests, assets)
	if s.instant {
		return common.Hash{}, true, nil
	}
	return common.HexToHash("0x01"), false, nil
}

func (s *stubStrategy) ProcessPendingWithdrawRequests(_ context.Context, _ common.Address, assets sdkmath.Int) (sdkmath.Int, sdkmath.Int, error) {
	s.processed = append(s.processed, assets)
	return sdkmath.ZeroInt(), assets, nil
}

func newTestVault(strategy *stubStrategy) *Vault {
	v := New(vaultAddr, assetAddr, zap.NewNop())
	v.BindStrategy(strategyAddr, strategy)
	return v
}

func TestDepositMintsAndRoutesThroughPipeline(t *testing.T) {
	strategy := &stubStrategy{total: sdkmath.ZeroInt()}
	v := newTestVault(strategy)
	shares, err := v.Deposit(context.Background(), alice, sdkmath.NewInt(1000))
	if err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if !shares.Equal(sdkmath.NewInt(1000)) {
		t.Fatalf("first deposit must mint 1:1, got %s", shares)
	}
	if len(strategy.processed) != 1 || !strategy.processed[0].Equal(sdkmath.NewInt(1000)) {
		t.Fatalf("deposit did not route assets through the pipeline: %v", strategy.processed)
	}
	if !v.BalanceOf(alice).Equal(sdkmath.NewInt(1000)) {
		t.Fatalf("share balance mismatch: %s", v.BalanceOf(alice))
	}
}

func TestPreviewDepositFloorBias(t *testing.T) {
	// totalAssets 1500 vs supply 1000: 100 assets -> 66.6 shares.
	strategy := &stubStrategy{total: sdkmath.NewInt(1500)}
	v := newTestVault(strategy)
	if _, err := v.Deposit(context.Background(), alice, sdkmath.NewInt(1000)); err != nil {
		t.Fatalf("seed deposit: %v", err)
	}
	strategy.total = sdkmath.NewInt(1500)

	quoted, err := v.PreviewDeposit(context.Background(), sdkmath.NewInt(100))
	if err != nil {
		t.Fatalf("previewDeposit: %v", err)
	}
	minted, err := v.Deposit(context.Background(), bob, sdkmath.NewInt(100))
	if err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if minted.GT(quoted) {
		t.Fatalf("deposit minted %s > previewed %s", minted, quoted)
	}
	if !minted.Equal(sdkmath.NewInt(66)) {
		t.Fatalf("expected floor to 66 shares, got %s", minted)
	}
}

func TestPreviewMintCeilBias(t *testing.T) {
	strategy := &stubStrategy{total: sdkmath.NewInt(1500)}
	v := newTestVault(strategy)
	if _, err := v.Deposit(context.Background(), alice, sdkmath.NewInt(1000)); err != nil {
		t.Fatalf("seed deposit: %v", err)
	}
	strategy.total = sdkmath.NewInt(1500)

	// 67 shares cost ceil(67*1500/1000) = 101 assets (100.5 rounded up).
	assets, err := v.PreviewMint(context.Background(), sdkmath.NewInt(67))
	if err != nil {
		t.Fatalf("previewMint: %v", err)
	}
	if !assets.Equal(sdkmath.NewInt(101)) {
		t.Fatalf("expected ceil to 101 assets, got %s", assets)
	}
}

func TestWithdrawBurnsCeilSharesAndDelegates(t *testing.T) {
	strategy := &stubStrategy{total: sdkmath.NewInt(1500)}
	v := newTestVault(strategy)
	if _, err := v.Deposit(context.Background(), alice, sdkmath.NewInt(1000)); err != nil {
		t.Fatalf("seed deposit: %v", err)
	}
	strategy.total = sdkmath.NewInt(1500)

	key, shares, err := v.Withdraw(context.Background(), alice, alice, sdkmath.NewInt(100))
	if err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	// ceil(100*1000/1500) = 67
	if !shares.Equal(sdkmath.NewInt(67)) {
		t.Fatalf("expected 67 shares burned, got %s", shares)
	}
	if key == (common.Hash{}) {
		t.Fatalf("expected queued withdraw key")
	}
	if len(strategy.requests) != 1 || !strategy.requests[0].Equal(sdkmath.NewInt(100)) {
		t.Fatalf("strategy did not receive the withdraw request: %v", strategy.requests)
	}
}

func TestWithdrawInstantReturnsZeroKey(t *testing.T) {
	strategy := &stubStrategy{total: sdkmath.ZeroInt(), instant: true}
	v := newTestVault(strategy)
	if _, err := v.Deposit(context.Background(), alice, sdkmath.NewInt(1000)); err != nil {
		t.Fatalf("seed deposit: %v", err)
	}
	strategy.total = sdkmath.NewInt(1000)
	key, _, err := v.Withdraw(context.Background(), alice, alice, sdkmath.NewInt(100))
	if err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if key != (common.Hash{}) {
		t.Fatalf("instant withdraw must not create a request, got %s", key)
	}
}

func TestBurnRejectsInsufficientShares(t *testing.T) {
	strategy := &stubStrategy{total: sdkmath.ZeroInt()}
	v := newTestVault(strategy)
	if _, err := v.Deposit(context.Background(), alice, sdkmath.NewInt(10)); err != nil {
		t.Fatalf("seed deposit: %v", err)
	}
	strategy.total = sdkmath.NewInt(10)
	if _, _, err := v.Withdraw(context.Background(), bob, bob, sdkmath.NewInt(5)); !errors.Is(err, ErrInsufficientShares) {
		t.Fatalf("expected ErrInsufficientShares, got %v", err)
	}
}

func TestIdleAssetsNetsOutClaims(t *testing.T) {
	strategy := &stubStrategy{total: sdkmath.ZeroInt()}
	v := newTestVault(strategy)
	if _, err := v.Deposit(context.Background(), alice, sdkmath.NewInt(1000)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	strategy.assetsToClaim = sdkmath.NewInt(300)
	if !v.IdleAssets().Equal(sdkmath.NewInt(700)) {
		t.Fatalf("expected 700 idle, got %s", v.IdleAssets())
	}
	strategy.assetsToClaim = sdkmath.NewInt(5000)
	if !v.IdleAssets().IsZero() {
		t.Fatalf("idle must saturate at zero, got %s", v.IdleAssets())
	}
}

func TestBalanceMutationsAreStrategyGated(t *testing.T) {
	strategy := &stubStrategy{total: sdkmath.ZeroInt()}
	v := newTestVault(strategy)
	if _, err := v.Deposit(context.Background(), alice, sdkmath.NewInt(1000)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if err := v.DebitAssets(alice, sdkmath.NewInt(10)); !errors.Is(err, ErrUnauthorizedCaller) {
		t.Fatalf("expected ErrUnauthorizedCaller, got %v", err)
	}
	if err := v.DebitAssets(strategyAddr, sdkmath.NewInt(10)); err != nil {
		t.Fatalf("strategy debit: %v", err)
	}
	if err := v.CreditAssets(strategyAddr, sdkmath.NewInt(4)); err != nil {
		t.Fatalf("strategy credit: %v", err)
	}
	if !v.AssetBalance().Equal(sdkmath.NewInt(994)) {
		t.Fatalf("expected balance 994, got %s", v.AssetBalance())
	}
	if err := v.TransferOut(strategyAddr, bob, sdkmath.NewInt(2000)); err == nil {
		t.Fatalf("expected overdraw rejection")
	}
}
