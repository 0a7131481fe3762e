package strategy

import (
	"context"
	"testing"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"basis-vault/internal/metrics"
	"basis-vault/internal/oracle"
	"basis-vault/internal/position"
	"basis-vault/internal/swap"
)

var (
	strategyAddr = common.HexToAddress("0x100")
	ownerAddr    = common.HexToAddress("0x101")
	operatorAddr = common.HexToAddress("0x102")
	forwarder    = common.HexToAddress("0x103")
	vaultAddr    = common.HexToAddress("0x104")
	managerAddr  = common.HexToAddress("0x105")
	assetAddr    = common.HexToAddress("0x106")
	productAddr  = common.HexToAddress("0x107")
	poolAddr     = common.HexToAddress("0x108")
	alice        = common.HexToAddress("0x1a0")
	bob          = common.HexToAddress("0x1b0")
)

type stubVault struct {
	balance sdkmath.Int
	supply  sdkmath.Int
	payouts map[common.Address]sdkmath.Int
}

func newStubVault(balance int64) *stubVault {
	return &stubVault{
		balance: sdkmath.NewInt(balance),
		supply:  sdkmath.NewInt(1),
		payouts: make(map[common.Address]sdkmath.Int),
	}
}

func (v *stubVault) AssetBalance() sdkmath.Int { return v.balance }
func (v *stubVault) TotalSupply() sdkmath.Int  { return v.supply }

func (v *stubVault) DebitAssets(_ common.Address, amount sdkmath.Int) error {
	v.balance = v.balance.Sub(amount)
	return nil
}

func (v *stubVault) CreditAssets(_ common.Address, amount sdkmath.Int) error {
	v.balance = v.balance.Add(amount)
	return nil
}

func (v *stubVault) TransferOut(_, receiver common.Address, amount sdkmath.Int) error {
	v.balance = v.balance.Sub(amount)
	prev, ok := v.payouts[receiver]
	if !ok {
		prev = sdkmath.ZeroInt()
	}
	v.payouts[receiver] = prev.Add(amount)
	return nil
}

type stubManager struct {
	netBalance sdkmath.Int
	leverage   sdkmath.Int
	sizeTokens sdkmath.Int
	needKeep   bool
	kept       int
	adjustErr  error
	requests   []position.AdjustRequest

	increaseSize       position.Bounds
	decreaseSize       position.Bounds
	increaseCollateral position.Bounds
	decreaseCollateral position.Bounds
	limitDecrease      sdkmath.Int
}

func newStubManager() *stubManager {
	zero := sdkmath.ZeroInt()
	bounds := position.Bounds{Min: zero, Max: zero}
	return &stubManager{
		netBalance:         zero,
		leverage:           zero,
		sizeTokens:         zero,
		increaseSize:       bounds,
		decreaseSize:       bounds,
		increaseCollateral: bounds,
		decreaseCollateral: bounds,
		limitDecrease:      zero,
	}
}

func (m *stubManager) AdjustPosition(_ context.Context, req position.AdjustRequest) error {
	if m.adjustErr != nil {
		return m.adjustErr
	}
	m.requests = append(m.requests, req)
	return nil
}

func (m *stubManager) PositionNetBalance(context.Context) (sdkmath.Int, error) {
	return m.netBalance, nil
}

func (m *stubManager) CurrentLeverage(context.Context) (sdkmath.Int, error) {
	return m.leverage, nil
}

func (m *stubManager) PositionSizeInTokens(context.Context) (sdkmath.Int, error) {
	return m.sizeTokens, nil
}

func (m *stubManager) IncreaseSizeMinMax(context.Context) (position.Bounds, error) {
	return m.increaseSize, nil
}

func (m *stubManager) DecreaseSizeMinMax(context.Context) (position.Bounds, error) {
	return m.decreaseSize, nil
}

func (m *stubManager) IncreaseCollateralMinMax(context.Context) (position.Bounds, error) {
	return m.increaseCollateral, nil
}

func (m *stubManager) DecreaseCollateralMinMax(context.Context) (position.Bounds, error) {
	return m.decreaseCollateral, nil
}

func (m *stubManager) NeedKeep(context.Context) (bool, error) {
	return m.needKeep, nil
}

func (m *stubManager) Keep(context.Context) error {
	m.kept++
	return nil
}

func (m *stubManager) LimitDecreaseCollateral(context.Context) (sdkmath.Int, error) {
	return m.limitDecrease, nil
}

// stubSwapper swaps 1:1 and records amounts; fail turns every swap into a
// reported failure.
type stubSwapper struct {
	fail  bool
	swaps []sdkmath.Int
}

func (s *stubSwapper) Swap(_ context.Context, amount sdkmath.Int, _ swap.Path) (sdkmath.Int, error) {
	if s.fail {
		return sdkmath.ZeroInt(), swap.ErrZeroAmountOut
	}
	s.swaps = append(s.swaps, amount)
	return amount, nil
}

func (s *stubSwapper) TrySwap(ctx context.Context, amount sdkmath.Int, path swap.Path) (sdkmath.Int, bool) {
	out, err := s.Swap(ctx, amount, path)
	if err != nil {
		return sdkmath.ZeroInt(), false
	}
	return out, true
}

type countingCounter struct {
	n int
}

func (c *countingCounter) Inc() { c.n++ }

type harness struct {
	engine     *Engine
	vault      *stubVault
	manager    *stubManager
	swapper    *stubSwapper
	deviations *countingCounter
}

func testConfig() Config {
	return Config{
		TargetLeverage:             sdkmath.NewIntWithDecimal(6, 18),
		MinLeverage:                sdkmath.NewIntWithDecimal(3, 18),
		MaxLeverage:                sdkmath.NewIntWithDecimal(11, 18),
		SafeMarginLeverage:         sdkmath.NewIntWithDecimal(15, 18),
		HedgeDeviationThreshold:    sdkmath.NewIntWithDecimal(1, 16),
		ResponseDeviationThreshold: sdkmath.NewIntWithDecimal(1, 16),
		MinDecreaseCollateral:      sdkmath.NewInt(50),
	}
}

func testAddresses() Addresses {
	return Addresses{
		Strategy:        strategyAddr,
		Owner:           ownerAddr,
		Operator:        operatorAddr,
		Forwarder:       forwarder,
		Vault:           vaultAddr,
		PositionManager: managerAddr,
		Asset:           assetAddr,
		Product:         productAddr,
	}
}

// testOracle prices both tokens identically so conversions are 1:1.
func testOracle(t *testing.T) *oracle.Registry {
	t.Helper()
	reg := oracle.NewRegistry()
	feed := oracle.NewStaticFeed(sdkmath.NewIntWithDecimal(1, 8))
	multiplier := sdkmath.NewIntWithDecimal(1, 10)
	for _, token := range []common.Address{assetAddr, productAddr} {
		if err := reg.Register(token, feed, multiplier, time.Hour, 6); err != nil {
			t.Fatalf("register feed: %v", err)
		}
	}
	return reg
}

func newHarness(t *testing.T, cfg Config, vaultBalance int64) *harness {
	t.Helper()
	v := newStubVault(vaultBalance)
	m := newStubManager()
	s := &stubSwapper{}
	devs := &countingCounter{}
	mt := metrics.NewNoop()
	mt.ResponseDeviations = devs
	engine, err := New(cfg, testAddresses(), Deps{
		Oracle:         testOracle(t),
		Swapper:        s,
		Manager:        m,
		Vault:          v,
		AssetToProduct: swap.Path{assetAddr, poolAddr, productAddr},
		ProductToAsset: swap.Path{productAddr, poolAddr, assetAddr},
		Log:            zap.NewNop(),
		Metrics:        mt,
	})
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	return &harness{engine: engine, vault: v, manager: m, swapper: s, deviations: devs}
}

func mustRestore(t *testing.T, e *Engine, snap Snapshot) {
	t.Helper()
	if err := e.RestoreSnapshot(snap); err != nil {
		t.Fatalf("restore snapshot: %v", err)
	}
}

func intEq(t *testing.T, got sdkmath.Int, want int64, label string) {
	t.Helper()
	if !got.Equal(sdkmath.NewInt(want)) {
		t.Fatalf("%s: got %s, want %d", label, got, want)
	}
}
