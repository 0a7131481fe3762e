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

// Utilize swaps idle asset into product and opens the matching hedge
// increase. Operator only, IDLE only. The returned amount is what was
// actually utilized after clamping; a failed swap resets to IDLE and returns
// zero without error so the operator can retry.
func (e *Engine) Utilize(ctx context.Context, caller common.Address, amount sdkmath.Int) (sdkmath.Int, error) {
	if err := e.requireOperator(caller); err != nil {
		return sdkmath.ZeroInt(), err
	}

	e.mu.Lock()
	if err := e.beginLocked(StatusUtilizing); err != nil {
		e.mu.Unlock()
		return sdkmath.ZeroInt(), err
	}
	idle := e.idleAssetsLocked()
	pending := e.pendingUtilizationLocked()
	collateralBudget := e.pendingIncreaseCollateralLocked()
	if pending.IsZero() {
		e.setStatusLocked(StatusIdle)
		e.mu.Unlock()
		return sdkmath.ZeroInt(), ErrZeroPendingUtilization
	}
	amount = fixedpoint.Min(fixedpoint.Min(amount, pending), idle)
	if amount.IsNil() || amount.IsZero() {
		e.setStatusLocked(StatusIdle)
		e.mu.Unlock()
		return sdkmath.ZeroInt(), ErrZeroAmount
	}
	// Collateral scales with the utilized fraction, rounded up, and never
	// exceeds what idle leaves after the swap leg.
	collateral := fixedpoint.MulDivCeil(collateralBudget, amount, pending)
	remaining, _ := fixedpoint.SaturatingSub(idle, amount)
	collateral = fixedpoint.Min(collateral, remaining)
	e.mu.Unlock()

	if err := e.vault.DebitAssets(e.addrs.Strategy, amount.Add(collateral)); err != nil {
		e.resetIdle()
		return sdkmath.ZeroInt(), err
	}

	out, ok := e.swapper.TrySwap(ctx, amount, e.assetToProduct)
	if !ok {
		e.metrics.SwapFailures.Inc()
		e.log.Warn("utilize swap failed, resetting",
			zap.String("amount", amount.String()))
		if err := e.vault.CreditAssets(e.addrs.Strategy, amount.Add(collateral)); err != nil {
			e.log.Error("refund after failed swap", zap.Error(err))
		}
		e.resetIdle()
		return sdkmath.ZeroInt(), nil
	}

	req := position.AdjustRequest{
		SizeDeltaInTokens:     out,
		CollateralDeltaAmount: collateral,
		IsIncrease:            true,
	}
	e.mu.Lock()
	e.productBalance = e.productBalance.Add(out)
	e.outstanding = &req
	e.mu.Unlock()

	if err := e.manager.AdjustPosition(ctx, req); err != nil {
		e.revertUtilize(ctx, out, collateral)
		return sdkmath.ZeroInt(), fmt.Errorf("adjust position: %w", err)
	}

	e.metrics.Utilizations.Inc()
	e.log.Info("utilize submitted",
		zap.String("assets_in", amount.String()),
		zap.String("product_out", out.String()),
		zap.String("collateral", collateral.String()))
	return amount, nil
}

// revertUtilize unwinds a swap whose position increase could not be
// submitted. Best effort: a failed revert swap leaves the product with the
// strategy and is surfaced in the log.
func (e *Engine) revertUtilize(ctx context.Context, productOut, collateral sdkmath.Int) {
	proceeds, ok := e.swapper.TrySwap(ctx, productOut, e.productToAsset)
	if !ok {
		e.metrics.SwapFailures.Inc()
		e.log.Error("revert swap failed, product stranded",
			zap.String("product", productOut.String()))
		proceeds = sdkmath.ZeroInt()
	}
	e.mu.Lock()
	if ok {
		e.productBalance, _ = fixedpoint.SaturatingSub(e.productBalance, productOut)
	}
	e.outstanding = nil
	e.setStatusLocked(StatusIdle)
	e.mu.Unlock()
	if err := e.vault.CreditAssets(e.addrs.Strategy, proceeds.Add(collateral)); err != nil {
		e.log.Error("refund after revert swap", zap.Error(err))
	}
}

func (e *Engine) resetIdle() {
	e.mu.Lock()
	e.outstanding = nil
	e.setStatusLocked(StatusIdle)
	e.mu.Unlock()
}
