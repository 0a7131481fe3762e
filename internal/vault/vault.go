package vault

import (
	"context"
	"errors"
	"fmt"
	"sync"

	sdkmath "cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"basis-vault/internal/fixedpoint"
)

var (
	ErrZeroShares         = errors.New("deposit resolves to zero shares")
	ErrZeroAssets         = errors.New("asset amount is zero")
	ErrInsufficientShares = errors.New("insufficient share balance")
	ErrStrategyNotBound   = errors.New("strategy not bound")
	ErrUnauthorizedCaller = errors.New("unauthorized caller")
)

// Strategy is the slice of the engine surface the vault depends on.
type Strategy interface {
	TotalAssets(ctx context.Context) (sdkmath.Int, error)
	AssetsToClaim() sdkmath.Int
	RequestWithdraw(ctx context.Context, caller, receiver common.Address, assets sdkmath.Int) (common.Hash, bool, error)
	ProcessPendingWithdrawRequests(ctx context.Context, caller common.Address, assets sdkmath.Int) (sdkmath.Int, sdkmath.Int, error)
}

// Vault holds idle assets and share accounting; utilization decisions are
// delegated to the bound strategy.
type Vault struct {
	addr         common.Address
	asset        common.Address
	strategyAddr common.Address
	log          *zap.Logger

	mu           sync.Mutex
	assetBalance sdkmath.Int
	totalSupply  sdkmath.Int
	shares       map[common.Address]sdkmath.Int

	strategy Strategy
}

func New(addr, asset common.Address, log *zap.Logger) *Vault {
	return &Vault{
		addr:         addr,
		asset:        asset,
		log:          log,
		assetBalance: sdkmath.ZeroInt(),
		totalSupply:  sdkmath.ZeroInt(),
		shares:       make(map[common.Address]sdkmath.Int),
	}
}

// BindStrategy wires the strategy after construction (the two reference each
// other).
func (v *Vault) BindStrategy(strategyAddr common.Address, s Strategy) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.strategyAddr = strategyAddr
	v.strategy = s
}

func (v *Vault) Address() common.Address { return v.addr }
func (v *Vault) Asset() common.Address   { return v.asset }

func (v *Vault) TotalSupply() sdkmath.Int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.totalSupply
}

func (v *Vault) BalanceOf(owner common.Address) sdkmath.Int {
	v.mu.Lock()
	defer v.mu.Unlock()
	bal, ok := v.shares[owner]
	if !ok {
		return sdkmath.ZeroInt()
	}
	return bal
}

// AssetBalance is the raw asset balance held by the vault, including amounts
// earmarked for unclaimed withdrawals.
func (v *Vault) AssetBalance() sdkmath.Int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.assetBalance
}

// IdleAssets is the balance net of earmarked claims.
func (v *Vault) IdleAssets() sdkmath.Int {
	if v.strategy == nil {
		return v.AssetBalance()
	}
	idle, _ := fixedpoint.SaturatingSub(v.AssetBalance(), v.strategy.AssetsToClaim())
	return idle
}

func (v *Vault) totalAssets(ctx context.Context) (sdkmath.Int, error) {
	if v.strategy == nil {
		return sdkmath.ZeroInt(), ErrStrategyNotBound
	}
	return v.strategy.TotalAssets(ctx)
}

func (v *Vault) convertToShares(ctx context.Context, assets sdkmath.Int, ceil bool) (sdkmath.Int, error) {
	supply := v.TotalSupply()
	if supply.IsZero() {
		return assets, nil
	}
	total, err := v.totalAssets(ctx)
	if err != nil {
		return sdkmath.ZeroInt(), err
	}
	if total.IsZero() {
		return assets, nil
	}
	if ceil {
		return fixedpoint.MulDivCeil(assets, supply, total), nil
	}
	return fixedpoint.MulDivFloor(assets, supply, total), nil
}

func (v *Vault) convertToAssets(ctx context.Context, shares sdkmath.Int, ceil bool) (sdkmath.Int, error) {
	supply := v.TotalSupply()
	if supply.IsZero() {
		return shares, nil
	}
	total, err := v.totalAssets(ctx)
	if err != nil {
		return sdkmath.ZeroInt(), err
	}
	if ceil {
		return fixedpoint.MulDivCeil(shares, total, supply), nil
	}
	return fixedpoint.MulDivFloor(shares, total, supply), nil
}

// PreviewDeposit floors: depositors never receive more shares than quoted.
func (v *Vault) PreviewDeposit(ctx context.Context, assets sdkmath.Int) (sdkmath.Int, error) {
	return v.convertToShares(ctx, assets, false)
}

// PreviewMint ceils the asset cost of the requested shares.
func (v *Vault) PreviewMint(ctx context.Context, shares sdkmath.Int) (sdkmath.Int, error) {
	return v.convertToAssets(ctx, shares, true)
}

// PreviewWithdraw ceils the shares burned for an exact asset amount.
func (v *Vault) PreviewWithdraw(ctx context.Context, assets sdkmath.Int) (sdkmath.Int, error) {
	return v.convertToShares(ctx, assets, true)
}

// PreviewRedeem floors the assets released for the given shares.
func (v *Vault) PreviewRedeem(ctx context.Context, shares sdkmath.Int) (sdkmath.Int, error) {
	return v.convertToAssets(ctx, shares, false)
}

// Deposit mints shares for assets and routes the fresh assets through the
// strategy's pending-withdraw pipeline before they become idle.
func (v *Vault) Deposit(ctx context.Context, receiver common.Address, assets sdkmath.Int) (sdkmath.Int, error) {
	if assets.IsNil() || assets.IsZero() {
		return sdkmath.ZeroInt(), ErrZeroAssets
	}
	shares, err := v.PreviewDeposit(ctx, assets)
	if err != nil {
		return sdkmath.ZeroInt(), err
	}
	if shares.IsZero() {
		return sdkmath.ZeroInt(), ErrZeroShares
	}
	if err := v.credit(receiver, assets, shares); err != nil {
		return sdkmath.ZeroInt(), err
	}
	if v.strategy != nil {
		if _, _, err := v.strategy.ProcessPendingWithdrawRequests(ctx, v.addr, assets); err != nil {
			return sdkmath.ZeroInt(), err
		}
	}
	return shares, nil
}

// Mint is Deposit quoted in shares; the asset cost rounds up.
func (v *Vault) Mint(ctx context.Context, receiver common.Address, shares sdkmath.Int) (sdkmath.Int, error) {
	if shares.IsNil() || shares.IsZero() {
		return sdkmath.ZeroInt(), ErrZeroShares
	}
	assets, err := v.PreviewMint(ctx, shares)
	if err != nil {
		return sdkmath.ZeroInt(), err
	}
	if assets.IsZero() {
		return sdkmath.ZeroInt(), ErrZeroAssets
	}
	if err := v.credit(receiver, assets, shares); err != nil {
		return sdkmath.ZeroInt(), err
	}
	if v.strategy != nil {
		if _, _, err := v.strategy.ProcessPendingWithdrawRequests(ctx, v.addr, assets); err != nil {
			return sdkmath.ZeroInt(), err
		}
	}
	return assets, nil
}

// Withdraw burns the ceiling share cost of assets and hands the payout to the
// strategy withdraw pipeline. The returned key is zero when the withdrawal was
// paid instantly from idle.
func (v *Vault) Withdraw(ctx context.Context, owner, receiver common.Address, assets sdkmath.Int) (common.Hash, sdkmath.Int, error) {
	if assets.IsNil() || assets.IsZero() {
		return common.Hash{}, sdkmath.ZeroInt(), ErrZeroAssets
	}
	shares, err := v.PreviewWithdraw(ctx, assets)
	if err != nil {
		return common.Hash{}, sdkmath.ZeroInt(), err
	}
	if err := v.burn(owner, shares); err != nil {
		return common.Hash{}, sdkmath.ZeroInt(), err
	}
	key, err := v.requestWithdraw(ctx, receiver, assets)
	return key, shares, err
}

// Redeem burns shares and withdraws their floored asset value.
func (v *Vault) Redeem(ctx context.Context, owner, receiver common.Address, shares sdkmath.Int) (common.Hash, sdkmath.Int, error) {
	if shares.IsNil() || shares.IsZero() {
		return common.Hash{}, sdkmath.ZeroInt(), ErrZeroShares
	}
	assets, err := v.PreviewRedeem(ctx, shares)
	if err != nil {
		return common.Hash{}, sdkmath.ZeroInt(), err
	}
	if assets.IsZero() {
		return common.Hash{}, sdkmath.ZeroInt(), ErrZeroAssets
	}
	if err := v.burn(owner, shares); err != nil {
		return common.Hash{}, sdkmath.ZeroInt(), err
	}
	key, err := v.requestWithdraw(ctx, receiver, assets)
	return key, assets, err
}

func (v *Vault) requestWithdraw(ctx context.Context, receiver common.Address, assets sdkmath.Int) (common.Hash, error) {
	if v.strategy == nil {
		return common.Hash{}, ErrStrategyNotBound
	}
	key, instant, err := v.strategy.RequestWithdraw(ctx, v.addr, receiver, assets)
	if err != nil {
		return common.Hash{}, err
	}
	if instant {
		return common.Hash{}, nil
	}
	return key, nil
}

func (v *Vault) credit(receiver common.Address, assets, shares sdkmath.Int) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.assetBalance = v.assetBalance.Add(assets)
	v.totalSupply = v.totalSupply.Add(shares)
	prev, ok := v.shares[receiver]
	if !ok {
		prev = sdkmath.ZeroInt()
	}
	v.shares[receiver] = prev.Add(shares)
	return nil
}

func (v *Vault) burn(owner common.Address, shares sdkmath.Int) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	bal, ok := v.shares[owner]
	if !ok || bal.LT(shares) {
		return fmt.Errorf("%w: owner %s", ErrInsufficientShares, owner.Hex())
	}
	v.shares[owner] = bal.Sub(shares)
	v.totalSupply = v.totalSupply.Sub(shares)
	return nil
}

// DebitAssets moves vault assets out to the strategy legs. Strategy only.
func (v *Vault) DebitAssets(caller common.Address, amount sdkmath.Int) error {
	if caller != v.strategyAddr {
		return fmt.Errorf("%w: %s", ErrUnauthorizedCaller, caller.Hex())
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.assetBalance.LT(amount) {
		return fmt.Errorf("debit %s exceeds balance %s", amount, v.assetBalance)
	}
	v.assetBalance = v.assetBalance.Sub(amount)
	return nil
}

// CreditAssets returns assets from the strategy legs. Strategy only.
func (v *Vault) CreditAssets(caller common.Address, amount sdkmath.Int) error {
	if caller != v.strategyAddr {
		return fmt.Errorf("%w: %s", ErrUnauthorizedCaller, caller.Hex())
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	v.assetBalance = v.assetBalance.Add(amount)
	return nil
}

// TransferOut pays assets to a receiver (instant withdraw or claim).
// Strategy only.
func (v *Vault) TransferOut(caller, receiver common.Address, amount sdkmath.Int) error {
	if caller != v.strategyAddr {
		return fmt.Errorf("%w: %s", ErrUnauthorizedCaller, caller.Hex())
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.assetBalance.LT(amount) {
		return fmt.Errorf("payout %s exceeds balance %s", amount, v.assetBalance)
	}
	v.assetBalance = v.assetBalance.Sub(amount)
	if v.log != nil {
		v.log.Debug("vault payout", zap.String("receiver", receiver.Hex()), zap.String("amount", amount.String()))
	}
	return nil
}
