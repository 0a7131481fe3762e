package app

import (
	"context"
	"math/big"
	"time"

	sdkmath "cosmossdk.io/math"

	"basis-vault/internal/fixedpoint"
	"basis-vault/internal/timescale"
)

// recordSnapshot updates gauges and pushes one accounting row to the
// timescale writer. Network reads that fail leave their column at zero
// rather than dropping the row.
func (a *App) recordSnapshot(ctx context.Context) {
	a.updateGauges(ctx)
	if a.ts == nil {
		return
	}
	snap := timescale.AccountingSnapshot{
		Time:                      time.Now().UTC(),
		Status:                    string(a.engine.Status()),
		ProcessingRebalance:       a.engine.ProcessingRebalance(),
		IdleAssets:                a.engine.IdleAssets().String(),
		ProductBalance:            a.engine.ProductBalance().String(),
		PendingUtilization:        a.engine.PendingUtilization().String(),
		PendingDecreaseCollateral: a.engine.PendingDecreaseCollateral().String(),
		AccRequestedWithdraw:      a.engine.AccRequestedWithdrawAssets().String(),
		ProcessedWithdraw:         a.engine.ProcessedWithdrawAssets().String(),
		AssetsToClaim:             a.engine.AssetsToClaim().String(),
		UtilizedAssets:            intOrZero(a.engine.UtilizedAssets(ctx)),
		TotalAssets:               intOrZero(a.engine.TotalAssets(ctx)),
		PositionNetBalance:        intOrZero(a.agent.PositionNetBalance(ctx)),
		CurrentLeverage:           intOrZero(a.agent.CurrentLeverage(ctx)),
	}
	a.ts.EnqueueSnapshot(snap)
}

func (a *App) updateGauges(ctx context.Context) {
	if lev, err := a.agent.CurrentLeverage(ctx); err == nil {
		a.metrics.CurrentLeverage.Set(ratioFloat(lev))
	}
	if total, err := a.engine.TotalAssets(ctx); err == nil {
		a.metrics.TotalAssets.Set(intFloat(total))
	}
	gap, _ := fixedpoint.SaturatingSub(a.engine.AccRequestedWithdrawAssets(), a.engine.ProcessedWithdrawAssets())
	a.metrics.WithdrawGap.Set(intFloat(gap))
}

// ratioFloat converts a 1e18 fixed-point ratio to a float for gauges.
func ratioFloat(v sdkmath.Int) float64 {
	if v.IsNil() {
		return 0
	}
	num := new(big.Float).SetInt(v.BigInt())
	den := new(big.Float).SetInt(fixedpoint.One().BigInt())
	out, _ := new(big.Float).Quo(num, den).Float64()
	return out
}

func intFloat(v sdkmath.Int) float64 {
	if v.IsNil() {
		return 0
	}
	out, _ := new(big.Float).SetInt(v.BigInt()).Float64()
	return out
}

func intOrZero(value sdkmath.Int, err error) string {
	if err != nil || value.IsNil() {
		return "0"
	}
	return value.String()
}
