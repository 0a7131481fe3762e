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

// CheckUpkeep reports which keeper actions are currently due. Read-only; a
// non-IDLE engine reports nothing since no action could fire anyway.
func (e *Engine) CheckUpkeep(ctx context.Context) (Upkeep, error) {
	e.mu.Lock()
	idle := e.status == StatusIdle
	pdc := e.pendingDecreaseCollateral
	productBalance := e.productBalance
	e.mu.Unlock()
	if !idle {
		return Upkeep{}, nil
	}

	var report Upkeep

	sizeTokens, err := e.manager.PositionSizeInTokens(ctx)
	if err != nil {
		return Upkeep{}, err
	}
	if !sizeTokens.IsZero() {
		leverage, err := e.manager.CurrentLeverage(ctx)
		if err != nil {
			return Upkeep{}, err
		}
		report.RebalanceUpNeeded = leverage.IsPositive() && leverage.LT(e.cfg.MinLeverage)
		report.DeleverageNeeded = leverage.GT(e.cfg.SafeMarginLeverage)
		report.RebalanceDownNeeded = leverage.GT(e.cfg.MaxLeverage) && !report.DeleverageNeeded

		if productBalance.IsZero() {
			// A hedge with no spot backing is pure drift, e.g. an
			// under-filled full deutilization.
			report.HedgeDeviationNeeded = true
		} else {
			drift, _ := fixedpoint.SaturatingSub(productBalance, sizeTokens)
			if drift.IsZero() {
				drift, _ = fixedpoint.SaturatingSub(sizeTokens, productBalance)
			}
			rel := fixedpoint.MulDivFloor(drift, fixedpoint.One(), productBalance)
			report.HedgeDeviationNeeded = rel.GT(e.cfg.HedgeDeviationThreshold)
		}
	}

	needKeep, err := e.manager.NeedKeep(ctx)
	if err != nil {
		return Upkeep{}, err
	}
	report.PositionKeepNeeded = needKeep

	report.CollateralFlushNeeded = pdc.IsPositive() && pdc.GTE(e.cfg.MinDecreaseCollateral)

	return report, nil
}

// PerformUpkeep executes exactly one due action, in priority order, and
// returns which one it fired. Forwarder only, IDLE only.
func (e *Engine) PerformUpkeep(ctx context.Context, caller common.Address) (Action, error) {
	if err := e.requireForwarder(caller); err != nil {
		return ActionNone, err
	}

	e.mu.Lock()
	if e.status != StatusIdle {
		status := e.status
		e.mu.Unlock()
		return ActionNone, fmt.Errorf("%w: %s", ErrStatusNotIdle, status)
	}
	e.mu.Unlock()

	report, err := e.CheckUpkeep(ctx)
	if err != nil {
		return ActionNone, err
	}
	if !report.Needed() {
		return ActionNone, ErrNoUpkeepNeeded
	}

	e.mu.Lock()
	if err := e.beginLocked(StatusKeeping); err != nil {
		e.mu.Unlock()
		return ActionNone, err
	}
	e.mu.Unlock()

	action := report.Action()
	switch action {
	case ActionRebalanceUp:
		err = e.rebalanceUp(ctx)
	case ActionDeleverage:
		err = e.deleverage(ctx)
	case ActionRebalanceDown:
		err = e.rebalanceDown(ctx)
	case ActionHedgeAdjust:
		err = e.adjustHedgeSize(ctx)
	case ActionPositionKeep:
		err = e.delegateKeep(ctx)
	default:
		err = e.flushDecreaseCollateral(ctx)
	}
	if err != nil {
		e.resetIdle()
		return ActionNone, err
	}
	e.metrics.KeeperActions.Inc()
	return action, nil
}

// rebalanceUp pulls excess collateral out of an under-leveraged hedge.
func (e *Engine) rebalanceUp(ctx context.Context) error {
	notional, netBalance, err := e.positionNotional(ctx)
	if err != nil {
		return err
	}
	target := fixedpoint.MulDivFloor(notional, fixedpoint.One(), e.cfg.TargetLeverage)
	delta, _ := fixedpoint.SaturatingSub(netBalance, target)
	delta, err = e.clampDecreaseCollateral(ctx, delta)
	if err != nil {
		return err
	}
	if delta.IsZero() {
		return ErrZeroAmount
	}
	e.mu.Lock()
	e.processingRebalance = true
	req := position.AdjustRequest{
		SizeDeltaInTokens:     sdkmath.ZeroInt(),
		CollateralDeltaAmount: delta,
		IsIncrease:            false,
	}
	e.outstanding = &req
	e.mu.Unlock()
	e.log.Info("rebalance up: decreasing collateral", zap.String("delta", delta.String()))
	return e.manager.AdjustPosition(ctx, req)
}

// rebalanceDown tops up collateral on an over-leveraged hedge from idle.
func (e *Engine) rebalanceDown(ctx context.Context) error {
	notional, netBalance, err := e.positionNotional(ctx)
	if err != nil {
		return err
	}
	target := fixedpoint.MulDivCeil(notional, fixedpoint.One(), e.cfg.TargetLeverage)
	needed, _ := fixedpoint.SaturatingSub(target, netBalance)

	e.mu.Lock()
	needed = fixedpoint.Min(needed, e.idleAssetsLocked())
	e.mu.Unlock()

	bounds, err := e.manager.IncreaseCollateralMinMax(ctx)
	if err != nil {
		return err
	}
	needed = fixedpoint.Clamp(needed, bounds.Min, bounds.Max)
	if needed.IsZero() {
		return ErrZeroAmount
	}
	if err := e.vault.DebitAssets(e.addrs.Strategy, needed); err != nil {
		return err
	}
	e.mu.Lock()
	e.processingRebalance = true
	req := position.AdjustRequest{
		SizeDeltaInTokens:     sdkmath.ZeroInt(),
		CollateralDeltaAmount: needed,
		IsIncrease:            true,
	}
	e.outstanding = &req
	e.mu.Unlock()
	e.log.Info("rebalance down: increasing collateral", zap.String("delta", needed.String()))
	return e.manager.AdjustPosition(ctx, req)
}

// deleverage shrinks the hedge size directly. Used above the safe margin,
// where waiting for a collateral top-up risks liquidation.
func (e *Engine) deleverage(ctx context.Context) error {
	sizeTokens, err := e.manager.PositionSizeInTokens(ctx)
	if err != nil {
		return err
	}
	leverage, err := e.manager.CurrentLeverage(ctx)
	if err != nil {
		return err
	}
	if leverage.LTE(e.cfg.TargetLeverage) {
		return ErrZeroAmount
	}
	excess := leverage.Sub(e.cfg.TargetLeverage)
	delta := fixedpoint.MulDivFloor(sizeTokens, excess, leverage)
	bounds, err := e.decreaseSizeBoundsInTokens(ctx)
	if err != nil {
		return err
	}
	delta = fixedpoint.Clamp(delta, bounds.Min, bounds.Max)
	delta = fixedpoint.Min(delta, sizeTokens)
	if delta.IsZero() {
		return ErrZeroAmount
	}
	e.mu.Lock()
	e.processingRebalance = true
	req := position.AdjustRequest{
		SizeDeltaInTokens:     delta,
		CollateralDeltaAmount: sdkmath.ZeroInt(),
		IsIncrease:            false,
	}
	e.outstanding = &req
	e.mu.Unlock()
	e.log.Warn("deleveraging above safe margin",
		zap.String("leverage", leverage.String()),
		zap.String("size_delta", delta.String()))
	return e.manager.AdjustPosition(ctx, req)
}

// adjustHedgeSize realigns hedge size with spot inventory, size only.
func (e *Engine) adjustHedgeSize(ctx context.Context) error {
	sizeTokens, err := e.manager.PositionSizeInTokens(ctx)
	if err != nil {
		return err
	}
	e.mu.Lock()
	productBalance := e.productBalance
	e.mu.Unlock()

	var req position.AdjustRequest
	if sizeTokens.LT(productBalance) {
		delta := productBalance.Sub(sizeTokens)
		bounds, err := e.manager.IncreaseSizeMinMax(ctx)
		if err != nil {
			return err
		}
		delta = fixedpoint.Clamp(delta, bounds.Min, bounds.Max)
		req = position.AdjustRequest{
			SizeDeltaInTokens:     delta,
			CollateralDeltaAmount: sdkmath.ZeroInt(),
			IsIncrease:            true,
		}
	} else {
		delta := sizeTokens.Sub(productBalance)
		bounds, err := e.decreaseSizeBoundsInTokens(ctx)
		if err != nil {
			return err
		}
		delta = fixedpoint.Clamp(delta, bounds.Min, bounds.Max)
		req = position.AdjustRequest{
			SizeDeltaInTokens:     delta,
			CollateralDeltaAmount: sdkmath.ZeroInt(),
			IsIncrease:            false,
		}
	}
	if req.SizeDeltaInTokens.IsZero() {
		return ErrZeroAmount
	}
	e.mu.Lock()
	e.outstanding = &req
	e.mu.Unlock()
	e.log.Info("hedge size adjustment",
		zap.String("size_delta", req.SizeDeltaInTokens.String()),
		zap.Bool("increase", req.IsIncrease))
	return e.manager.AdjustPosition(ctx, req)
}

// delegateKeep runs the venue's own maintenance. Synchronous: no callback
// follows, so the status is restored here.
func (e *Engine) delegateKeep(ctx context.Context) error {
	err := e.manager.Keep(ctx)
	e.resetIdle()
	if err != nil {
		return fmt.Errorf("position keep: %w", err)
	}
	e.log.Info("position keep delegated")
	return nil
}

// flushDecreaseCollateral turns the accrued pending decrease into one
// batched collateral request.
func (e *Engine) flushDecreaseCollateral(ctx context.Context) error {
	e.mu.Lock()
	delta := e.pendingDecreaseCollateral
	e.mu.Unlock()
	delta, err := e.clampDecreaseCollateral(ctx, delta)
	if err != nil {
		return err
	}
	if delta.IsZero() {
		return ErrZeroAmount
	}
	req := position.AdjustRequest{
		SizeDeltaInTokens:     sdkmath.ZeroInt(),
		CollateralDeltaAmount: delta,
		IsIncrease:            false,
	}
	e.mu.Lock()
	e.outstanding = &req
	e.mu.Unlock()
	e.log.Info("flushing pending collateral decrease", zap.String("delta", delta.String()))
	return e.manager.AdjustPosition(ctx, req)
}

func (e *Engine) positionNotional(ctx context.Context) (notional, netBalance sdkmath.Int, err error) {
	sizeTokens, err := e.manager.PositionSizeInTokens(ctx)
	if err != nil {
		return sdkmath.ZeroInt(), sdkmath.ZeroInt(), err
	}
	notional, err = e.oracle.ConvertTokenAmount(e.addrs.Product, e.addrs.Asset, sizeTokens)
	if err != nil {
		return sdkmath.ZeroInt(), sdkmath.ZeroInt(), err
	}
	netBalance, err = e.manager.PositionNetBalance(ctx)
	if err != nil {
		return sdkmath.ZeroInt(), sdkmath.ZeroInt(), err
	}
	return notional, netBalance, nil
}

func (e *Engine) clampDecreaseCollateral(ctx context.Context, delta sdkmath.Int) (sdkmath.Int, error) {
	bounds, err := e.manager.DecreaseCollateralMinMax(ctx)
	if err != nil {
		return sdkmath.ZeroInt(), err
	}
	limit, err := e.manager.LimitDecreaseCollateral(ctx)
	if err != nil {
		return sdkmath.ZeroInt(), err
	}
	if !limit.IsZero() {
		delta = fixedpoint.Min(delta, limit)
	}
	if delta.LT(bounds.Min) {
		return sdkmath.ZeroInt(), nil
	}
	return fixedpoint.Clamp(delta, bounds.Min, bounds.Max), nil
}
