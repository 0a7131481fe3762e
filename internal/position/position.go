package position

import (
	"context"

	sdkmath "cosmossdk.io/math"
)

// AdjustRequest asks the venue to change the hedge position. Size deltas are
// product tokens; collateral deltas are asset units.
type AdjustRequest struct {
	SizeDeltaInTokens     sdkmath.Int
	CollateralDeltaAmount sdkmath.Int
	IsIncrease            bool
}

// AdjustResponse reports what the venue actually executed. On decreases,
// ReturnedCollateral is the asset amount released back to the strategy.
type AdjustResponse struct {
	SizeDeltaInTokens     sdkmath.Int
	CollateralDeltaAmount sdkmath.Int
	IsIncrease            bool
	ReturnedCollateral    sdkmath.Int
}

// Bounds is a min/max pair for a single adjustment.
type Bounds struct {
	Min sdkmath.Int
	Max sdkmath.Int
}

// Manager is the hedge venue capability contract. AdjustPosition is
// asynchronous: the venue executes later and delivers an AdjustResponse to the
// strategy's AfterAdjustPosition entry point.
type Manager interface {
	AdjustPosition(ctx context.Context, req AdjustRequest) error
	PositionNetBalance(ctx context.Context) (sdkmath.Int, error)
	CurrentLeverage(ctx context.Context) (sdkmath.Int, error)
	PositionSizeInTokens(ctx context.Context) (sdkmath.Int, error)
	// Size bounds for increases are product-token denominated; decrease
	// bounds are asset denominated (venue convention) and must be
	// oracle-converted by the caller.
	IncreaseSizeMinMax(ctx context.Context) (Bounds, error)
	DecreaseSizeMinMax(ctx context.Context) (Bounds, error)
	IncreaseCollateralMinMax(ctx context.Context) (Bounds, error)
	DecreaseCollateralMinMax(ctx context.Context) (Bounds, error)
	NeedKeep(ctx context.Context) (bool, error)
	Keep(ctx context.Context) error
	LimitDecreaseCollateral(ctx context.Context) (sdkmath.Int, error)
}

// Callback receives asynchronous adjustment results.
type Callback interface {
	AfterAdjustPosition(ctx context.Context, resp AdjustResponse) error
}
