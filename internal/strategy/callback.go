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

// AfterAdjustPosition is the single reconciliation point for asynchronous
// position responses. It compares the response against the stored request,
// compensates material under-fills, routes released assets through the
// withdraw pipeline and always returns the engine to IDLE.
func (e *Engine) AfterAdjustPosition(ctx context.Context, caller common.Address, resp position.AdjustResponse) error {
	if caller != e.addrs.PositionManager {
		return fmt.Errorf("%w: %s", ErrCallerNotPositionManager, caller.Hex())
	}

	e.mu.Lock()
	status := e.status
	req := e.outstanding
	if req == nil || (status != StatusUtilizing && status != StatusDeutilizing && status != StatusKeeping) {
		e.mu.Unlock()
		return fmt.Errorf("%w: status %s", ErrCallbackNotAllowed, status)
	}
	e.outstanding = nil
	e.mu.Unlock()

	if req.IsIncrease {
		e.reconcileIncrease(ctx, status, *req, resp)
	} else {
		e.reconcileDecrease(ctx, *req, resp)
	}

	e.finishCallback(ctx)
	return nil
}

// reconcileIncrease checks fills on utilize and rebalance-down requests.
// A utilize under-fill is swapped back to asset; a keeper-driven anomaly has
// no swap to unwind and pauses the engine instead.
func (e *Engine) reconcileIncrease(ctx context.Context, status Status, req position.AdjustRequest, resp position.AdjustResponse) {
	if e.deviates(req.SizeDeltaInTokens, resp.SizeDeltaInTokens) ||
		e.deviates(req.CollateralDeltaAmount, resp.CollateralDeltaAmount) {
		e.metrics.ResponseDeviations.Inc()
		if status == StatusKeeping {
			e.mu.Lock()
			e.setStatusLocked(StatusPause)
			e.mu.Unlock()
			e.log.Error("keeper adjustment deviated, pausing",
				zap.String("requested_collateral", req.CollateralDeltaAmount.String()),
				zap.String("filled_collateral", resp.CollateralDeltaAmount.String()))
			return
		}
		shortfall, _ := fixedpoint.SaturatingSub(req.SizeDeltaInTokens, resp.SizeDeltaInTokens)
		if !shortfall.IsZero() {
			e.revertShortfall(ctx, shortfall)
		}
	}
}

// revertShortfall swaps the unhedged spot slice back to asset and routes the
// proceeds through the withdraw pipeline.
func (e *Engine) revertShortfall(ctx context.Context, shortfall sdkmath.Int) {
	proceeds, ok := e.swapper.TrySwap(ctx, shortfall, e.productToAsset)
	if !ok {
		e.metrics.SwapFailures.Inc()
		e.log.Error("shortfall revert swap failed",
			zap.String("shortfall", shortfall.String()))
		return
	}
	e.mu.Lock()
	e.productBalance, _ = fixedpoint.SaturatingSub(e.productBalance, shortfall)
	e.applyInflowLocked(proceeds)
	e.mu.Unlock()
	if err := e.vault.CreditAssets(e.addrs.Strategy, proceeds); err != nil {
		e.log.Error("crediting shortfall proceeds", zap.Error(err))
	}
	e.log.Warn("reverted under-filled increase",
		zap.String("shortfall", shortfall.String()),
		zap.String("proceeds", proceeds.String()))
}

// reconcileDecrease settles released collateral and held deutilization
// proceeds. Returned collateral first offsets the accrued pending decrease,
// then everything flows through the withdraw pipeline before reaching idle.
func (e *Engine) reconcileDecrease(ctx context.Context, req position.AdjustRequest, resp position.AdjustResponse) {
	// An under-filled decrease leaves the hedge oversized relative to spot.
	// There is nothing to swap back here; the drift check picks up the
	// residual on the next keeper cycle.
	if e.deviates(req.SizeDeltaInTokens, resp.SizeDeltaInTokens) ||
		e.deviates(req.CollateralDeltaAmount, resp.CollateralDeltaAmount) {
		e.metrics.ResponseDeviations.Inc()
		e.log.Warn("decrease under-filled, hedge realignment deferred to keeper",
			zap.String("requested_size", req.SizeDeltaInTokens.String()),
			zap.String("filled_size", resp.SizeDeltaInTokens.String()),
			zap.String("requested_collateral", req.CollateralDeltaAmount.String()),
			zap.String("filled_collateral", resp.CollateralDeltaAmount.String()))
	}

	returned := resp.ReturnedCollateral
	if returned.IsNil() {
		returned = sdkmath.ZeroInt()
	}

	e.mu.Lock()
	offset := fixedpoint.Min(returned, e.pendingDecreaseCollateral)
	e.pendingDecreaseCollateral = e.pendingDecreaseCollateral.Sub(offset)

	inflow := returned.Add(e.pendingDeutilizedAssets)
	e.pendingDeutilizedAssets = sdkmath.ZeroInt()

	applied := e.applyInflowLocked(inflow)

	// Final exit: with no shares and no spot left, whatever came back is all
	// there will ever be. Mark the remaining gap processed so the last
	// request becomes claimable.
	if e.vault.TotalSupply().IsZero() && e.productBalance.IsZero() {
		e.processedWithdrawAssets = e.accRequestedWithdrawAssets
	}
	e.mu.Unlock()

	if !inflow.IsZero() {
		if err := e.vault.CreditAssets(e.addrs.Strategy, inflow); err != nil {
			e.log.Error("crediting decrease inflow", zap.Error(err))
		}
	}
	e.log.Info("decrease reconciled",
		zap.String("returned_collateral", returned.String()),
		zap.String("inflow", inflow.String()),
		zap.String("applied_to_withdraws", applied.String()))
}

// applyInflowLocked books new assets against the withdraw gap first, and
// returns the applied portion. The overflow implicitly becomes idle once the
// assets are credited to the vault.
func (e *Engine) applyInflowLocked(assets sdkmath.Int) sdkmath.Int {
	gap := e.withdrawGapLocked()
	applied := fixedpoint.Min(assets, gap)
	if applied.IsZero() {
		return sdkmath.ZeroInt()
	}
	e.processedWithdrawAssets = e.processedWithdrawAssets.Add(applied)
	e.assetsToClaim = e.assetsToClaim.Add(applied)
	return applied
}

// finishCallback restores IDLE (unless paused) and re-evaluates the sticky
// rebalance flag against live leverage.
func (e *Engine) finishCallback(ctx context.Context) {
	e.mu.Lock()
	if e.status != StatusPause {
		e.setStatusLocked(StatusIdle)
	}
	rebalancing := e.processingRebalance
	e.mu.Unlock()
	if !rebalancing {
		return
	}
	leverage, err := e.manager.CurrentLeverage(ctx)
	if err != nil {
		e.log.Warn("leverage read failed, keeping rebalance flag", zap.Error(err))
		return
	}
	converged := leverage.IsZero() ||
		(leverage.GTE(e.cfg.MinLeverage) && leverage.LTE(e.cfg.MaxLeverage))
	if converged {
		e.mu.Lock()
		e.processingRebalance = false
		e.mu.Unlock()
		e.log.Info("rebalance converged", zap.String("leverage", leverage.String()))
	}
}

// deviates reports whether actual under-fills requested beyond the response
// deviation threshold.
func (e *Engine) deviates(requested, actual sdkmath.Int) bool {
	if requested.IsNil() || requested.IsZero() {
		return false
	}
	if actual.IsNil() {
		actual = sdkmath.ZeroInt()
	}
	shortfall, _ := fixedpoint.SaturatingSub(requested, actual)
	if shortfall.IsZero() {
		return false
	}
	rel := fixedpoint.MulDivFloor(shortfall, fixedpoint.One(), requested)
	return rel.GT(e.cfg.ResponseDeviationThreshold)
}
