package strategy

import (
	"context"

	sdkmath "cosmossdk.io/math"

	"basis-vault/internal/fixedpoint"
)

// idleAssetsLocked is the vault balance net of amounts earmarked for claims.
// Computed here rather than asked of the vault so the engine never re-enters
// itself through the vault while holding the mutex.
func (e *Engine) idleAssetsLocked() sdkmath.Int {
	idle, _ := fixedpoint.SaturatingSub(e.vault.AssetBalance(), e.assetsToClaim)
	return idle
}

func (e *Engine) IdleAssets() sdkmath.Int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.idleAssetsLocked()
}

// ProductValue prices the spot inventory in asset terms.
func (e *Engine) ProductValue(ctx context.Context) (sdkmath.Int, error) {
	e.mu.Lock()
	balance := e.productBalance
	e.mu.Unlock()
	if balance.IsZero() {
		return sdkmath.ZeroInt(), nil
	}
	return e.oracle.ConvertTokenAmount(e.addrs.Product, e.addrs.Asset, balance)
}

// UtilizedAssets is the asset value of both legs: spot inventory plus the
// hedge position's net balance.
func (e *Engine) UtilizedAssets(ctx context.Context) (sdkmath.Int, error) {
	productValue, err := e.ProductValue(ctx)
	if err != nil {
		return sdkmath.ZeroInt(), err
	}
	netBalance, err := e.manager.PositionNetBalance(ctx)
	if err != nil {
		return sdkmath.ZeroInt(), err
	}
	return productValue.Add(netBalance), nil
}

// TotalAssets includes swapped deutilization proceeds held while the position
// decrease is in flight: the spot leg has already shrunk but the vault is not
// yet credited, and share pricing must not dip during that window. Saturates
// at zero: oracle drift can momentarily price the legs below the outstanding
// withdraw gap.
func (e *Engine) TotalAssets(ctx context.Context) (sdkmath.Int, error) {
	utilized, err := e.UtilizedAssets(ctx)
	if err != nil {
		return sdkmath.ZeroInt(), err
	}
	e.mu.Lock()
	gap := e.withdrawGapLocked()
	held := e.pendingDeutilizedAssets
	balance := e.vault.AssetBalance()
	e.mu.Unlock()
	total, _ := fixedpoint.SaturatingSub(utilized.Add(balance).Add(held), gap)
	return total, nil
}

// withdrawGapLocked is the requested-but-unprocessed withdraw amount.
func (e *Engine) withdrawGapLocked() sdkmath.Int {
	gap, _ := fixedpoint.SaturatingSub(e.accRequestedWithdrawAssets, e.processedWithdrawAssets)
	return gap
}

func (e *Engine) pendingUtilizationLocked() sdkmath.Int {
	if e.processingRebalance {
		return sdkmath.ZeroInt()
	}
	idle := e.idleAssetsLocked()
	denom := fixedpoint.One().Add(e.cfg.TargetLeverage)
	return fixedpoint.MulDivFloor(idle, e.cfg.TargetLeverage, denom)
}

// PendingUtilization is the idle slice that may be swapped into product at
// target leverage. Zero while a rebalance is in flight.
func (e *Engine) PendingUtilization() sdkmath.Int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.pendingUtilizationLocked()
}

func (e *Engine) pendingIncreaseCollateralLocked() sdkmath.Int {
	idle := e.idleAssetsLocked()
	denom := fixedpoint.One().Add(e.cfg.TargetLeverage)
	// Ceiling: collateral rounds up so the hedge is never under-margined.
	return fixedpoint.MulDivCeil(idle, fixedpoint.One(), denom)
}

// PendingIncreaseCollateral is the idle slice reserved as hedge margin.
func (e *Engine) PendingIncreaseCollateral() sdkmath.Int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.pendingIncreaseCollateralLocked()
}

// PendingDeutilization sizes, in product tokens, the unwind that covers the
// outstanding withdraw demand. While a rebalance above target is in flight it
// instead sizes the pure deleveraging unwind.
func (e *Engine) PendingDeutilization(ctx context.Context) (sdkmath.Int, error) {
	sizeTokens, err := e.manager.PositionSizeInTokens(ctx)
	if err != nil {
		return sdkmath.ZeroInt(), err
	}
	if sizeTokens.IsZero() {
		return sdkmath.ZeroInt(), nil
	}

	e.mu.Lock()
	rebalancing := e.processingRebalance
	gap := e.withdrawGapLocked()
	pdc := e.pendingDecreaseCollateral
	productBalance := e.productBalance
	e.mu.Unlock()

	if rebalancing {
		leverage, err := e.manager.CurrentLeverage(ctx)
		if err != nil {
			return sdkmath.ZeroInt(), err
		}
		if leverage.LTE(e.cfg.TargetLeverage) {
			return sdkmath.ZeroInt(), nil
		}
		excess := leverage.Sub(e.cfg.TargetLeverage)
		d := fixedpoint.MulDivFloor(sizeTokens, excess, leverage)
		return fixedpoint.Min(d, productBalance), nil
	}

	demand, underflow := fixedpoint.SaturatingSub(gap, pdc)
	if underflow || demand.IsZero() {
		return sdkmath.ZeroInt(), nil
	}
	sizeAssets, err := e.oracle.ConvertTokenAmount(e.addrs.Product, e.addrs.Asset, sizeTokens)
	if err != nil {
		return sdkmath.ZeroInt(), err
	}
	netBalance, err := e.manager.PositionNetBalance(ctx)
	if err != nil {
		return sdkmath.ZeroInt(), err
	}
	denom, underflow := fixedpoint.SaturatingSub(sizeAssets.Add(netBalance), pdc)
	if underflow || denom.IsZero() {
		return sdkmath.ZeroInt(), nil
	}
	d := fixedpoint.MulDivFloor(sizeTokens, demand, denom)
	return fixedpoint.Min(d, productBalance), nil
}
