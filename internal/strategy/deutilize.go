package strategy

import (
	"context"
	"fmt"

	sdkmath "cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"basis-vault/internal/fixedpoint"
	"basis-vault/internal/position"
)

// Deutilize unwinds product back into asset and shrinks the hedge. Operator
// only, IDLE only. Proceeds are held as pendingDeutilizedAssets until the
// position manager confirms the decrease; collateral is either requested in
// full (final exit) or accrued for a later batched decrease.
func (e *Engine) Deutilize(ctx context.Context, caller common.Address, amount sdkmath.Int) (sdkmath.Int, error) {
	if err := e.requireOperator(caller); err != nil {
		return sdkmath.ZeroInt(), err
	}

	e.mu.Lock()
	if err := e.beginLocked(StatusDeutilizing); err != nil {
		e.mu.Unlock()
		return sdkmath.ZeroInt(), err
	}
	e.mu.Unlock()

	pending, err := e.PendingDeutilization(ctx)
	if err != nil {
		e.resetIdle()
		return sdkmath.ZeroInt(), err
	}
	amount = fixedpoint.Min(amount, pending)

	bounds, err := e.decreaseSizeBoundsInTokens(ctx)
	if err != nil {
		e.resetIdle()
		return sdkmath.ZeroInt(), err
	}
	amount = fixedpoint.Clamp(amount, bounds.Min, bounds.Max)

	sizeTokens, err := e.manager.PositionSizeInTokens(ctx)
	if err != nil {
		e.resetIdle()
		return sdkmath.ZeroInt(), err
	}
	netBalance, err := e.manager.PositionNetBalance(ctx)
	if err != nil {
		e.resetIdle()
		return sdkmath.ZeroInt(), err
	}

	e.mu.Lock()
	amount = fixedpoint.Min(amount, e.productBalance)
	if amount.IsNil() || amount.IsZero() {
		e.setStatusLocked(StatusIdle)
		e.mu.Unlock()
		return sdkmath.ZeroInt(), ErrZeroAmount
	}
	gap := e.withdrawGapLocked()
	e.mu.Unlock()

	proceeds, ok := e.swapper.TrySwap(ctx, amount, e.productToAsset)
	if !ok {
		e.metrics.SwapFailures.Inc()
		e.log.Warn("deutilize swap failed, resetting",
			zap.String("amount", amount.String()))
		e.resetIdle()
		return sdkmath.ZeroInt(), nil
	}

	// Final exit closes the hedge outright; partial unwinds accrue their
	// collateral share so many small decreases batch into one request.
	collateralDelta := sdkmath.ZeroInt()
	fullExit := amount.GTE(pending) && e.vault.TotalSupply().IsZero()
	if fullExit {
		collateralDelta = gap
	}

	e.mu.Lock()
	e.productBalance, _ = fixedpoint.SaturatingSub(e.productBalance, amount)
	e.pendingDeutilizedAssets = e.pendingDeutilizedAssets.Add(proceeds)
	if !fullExit && !sizeTokens.IsZero() {
		share := fixedpoint.MulDivFloor(netBalance, amount, sizeTokens)
		e.pendingDecreaseCollateral = e.pendingDecreaseCollateral.Add(share)
	}
	req := position.AdjustRequest{
		SizeDeltaInTokens:     amount,
		CollateralDeltaAmount: collateralDelta,
		IsIncrease:            false,
	}
	e.outstanding = &req
	e.mu.Unlock()

	if err := e.manager.AdjustPosition(ctx, req); err != nil {
		e.revertDeutilize(ctx, amount, proceeds, fullExit, netBalance, sizeTokens)
		return sdkmath.ZeroInt(), fmt.Errorf("adjust position: %w", err)
	}

	e.metrics.Deutilizations.Inc()
	e.log.Info("deutilize submitted",
		zap.String("product_in", amount.String()),
		zap.String("proceeds", proceeds.String()),
		zap.String("collateral_delta", collateralDelta.String()),
		zap.Bool("full_exit", fullExit))
	return amount, nil
}

func (e *Engine) revertDeutilize(ctx context.Context, amount, proceeds sdkmath.Int, fullExit bool, netBalance, sizeTokens sdkmath.Int) {
	back, ok := e.swapper.TrySwap(ctx, proceeds, e.assetToProduct)
	if !ok {
		e.metrics.SwapFailures.Inc()
		e.log.Error("revert swap failed, proceeds held as pending",
			zap.String("proceeds", proceeds.String()))
	}
	e.mu.Lock()
	if ok {
		e.productBalance = e.productBalance.Add(back)
		e.pendingDeutilizedAssets, _ = fixedpoint.SaturatingSub(e.pendingDeutilizedAssets, proceeds)
	}
	if !fullExit && !sizeTokens.IsZero() {
		share := fixedpoint.MulDivFloor(netBalance, amount, sizeTokens)
		e.pendingDecreaseCollateral, _ = fixedpoint.SaturatingSub(e.pendingDecreaseCollateral, share)
	}
	e.outstanding = nil
	e.setStatusLocked(StatusIdle)
	e.mu.Unlock()
}

// decreaseSizeBoundsInTokens converts the venue's asset-denominated decrease
// bounds into product tokens.
func (e *Engine) decreaseSizeBoundsInTokens(ctx context.Context) (position.Bounds, error) {
	bounds, err := e.manager.DecreaseSizeMinMax(ctx)
	if err != nil {
		return position.Bounds{}, err
	}
	out := position.Bounds{Min: sdkmath.ZeroInt(), Max: sdkmath.ZeroInt()}
	if !bounds.Min.IsNil() && !bounds.Min.IsZero() {
		out.Min, err = e.oracle.ConvertTokenAmount(e.addrs.Asset, e.addrs.Product, bounds.Min)
		if err != nil {
			return position.Bounds{}, err
		}
	}
	if !bounds.Max.IsNil() && !bounds.Max.IsZero() {
		out.Max, err = e.oracle.ConvertTokenAmount(e.addrs.Asset, e.addrs.Product, bounds.Max)
		if err != nil {
			return position.Bounds{}, err
		}
	}
	return out, nil
}
