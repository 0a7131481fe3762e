package strategy

import (
	"errors"
	"fmt"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"
)

// Status is the single state-machine register. Only IDLE accepts new operator
// or keeper actions; PAUSE is cleared exclusively by the owner.
type Status string

const (
	StatusIdle        Status = "IDLE"
	StatusKeeping     Status = "KEEPING"
	StatusUtilizing   Status = "UTILIZING"
	StatusDeutilizing Status = "DEUTILIZING"
	StatusPause       Status = "PAUSE"
)

// Config carries the leverage band and engine thresholds. Leverage values are
// 1e18 fixed-point ratios (1e18 == 1x).
type Config struct {
	TargetLeverage     sdkmath.Int
	MinLeverage        sdkmath.Int
	MaxLeverage        sdkmath.Int
	SafeMarginLeverage sdkmath.Int

	// HedgeDeviationThreshold is the relative spot/hedge drift (1e18) that
	// triggers a size-only keeper adjustment.
	HedgeDeviationThreshold sdkmath.Int
	// ResponseDeviationThreshold is the relative under-fill (1e18) tolerated
	// on a position-manager response before compensation kicks in.
	ResponseDeviationThreshold sdkmath.Int
	// MinDecreaseCollateral batches small collateral decreases: accrued
	// pending amounts below it are not flushed.
	MinDecreaseCollateral sdkmath.Int
}

func (c Config) Validate() error {
	for name, v := range map[string]sdkmath.Int{
		"target_leverage":      c.TargetLeverage,
		"min_leverage":         c.MinLeverage,
		"max_leverage":         c.MaxLeverage,
		"safe_margin_leverage": c.SafeMarginLeverage,
	} {
		if v.IsNil() || !v.IsPositive() {
			return fmt.Errorf("%s must be positive", name)
		}
	}
	if !(c.MinLeverage.LT(c.TargetLeverage) && c.TargetLeverage.LT(c.MaxLeverage) && c.MaxLeverage.LT(c.SafeMarginLeverage)) {
		return errors.New("leverage ordering must hold: min < target < max < safe margin")
	}
	if c.HedgeDeviationThreshold.IsNil() || c.ResponseDeviationThreshold.IsNil() || c.MinDecreaseCollateral.IsNil() {
		return errors.New("thresholds must be set")
	}
	return nil
}

// Addresses are the gated principals of every external entry point.
type Addresses struct {
	Strategy        common.Address
	Owner           common.Address
	Operator        common.Address
	Forwarder       common.Address
	Vault           common.Address
	PositionManager common.Address
	Asset           common.Address
	Product         common.Address
}

func (a Addresses) Validate() error {
	for name, addr := range map[string]common.Address{
		"strategy":         a.Strategy,
		"owner":            a.Owner,
		"operator":         a.Operator,
		"forwarder":        a.Forwarder,
		"vault":            a.Vault,
		"position_manager": a.PositionManager,
		"asset":            a.Asset,
		"product":          a.Product,
	} {
		if addr == (common.Address{}) {
			return fmt.Errorf("%s address is required", name)
		}
	}
	if a.Asset == a.Product {
		return errors.New("asset and product must differ")
	}
	return nil
}

// WithdrawRequest is created when a withdrawal cannot be paid from idle.
// Execution order is FIFO by accumulated-total snapshot, not by key.
type WithdrawRequest struct {
	Requested sdkmath.Int
	Snapshot  sdkmath.Int
	Timestamp time.Time
	Receiver  common.Address
	Claimed   bool
}

// Upkeep reports which keeper actions are due, in priority order.
type Upkeep struct {
	RebalanceUpNeeded     bool
	RebalanceDownNeeded   bool
	DeleverageNeeded      bool
	HedgeDeviationNeeded  bool
	PositionKeepNeeded    bool
	CollateralFlushNeeded bool
}

func (u Upkeep) Needed() bool {
	return u.RebalanceUpNeeded || u.RebalanceDownNeeded || u.DeleverageNeeded ||
		u.HedgeDeviationNeeded || u.PositionKeepNeeded || u.CollateralFlushNeeded
}

// Action names a keeper action. PerformUpkeep returns the action it actually
// fired so callers log and record the real one, not a re-derived guess.
type Action string

const (
	ActionNone            Action = "none"
	ActionRebalanceUp     Action = "rebalance_up"
	ActionDeleverage      Action = "deleverage"
	ActionRebalanceDown   Action = "rebalance_down"
	ActionHedgeAdjust     Action = "hedge_adjust"
	ActionPositionKeep    Action = "position_keep"
	ActionCollateralFlush Action = "collateral_flush"
)

// Action resolves the highest-priority due action.
func (u Upkeep) Action() Action {
	switch {
	case u.RebalanceUpNeeded:
		return ActionRebalanceUp
	case u.DeleverageNeeded:
		return ActionDeleverage
	case u.RebalanceDownNeeded:
		return ActionRebalanceDown
	case u.HedgeDeviationNeeded:
		return ActionHedgeAdjust
	case u.PositionKeepNeeded:
		return ActionPositionKeep
	case u.CollateralFlushNeeded:
		return ActionCollateralFlush
	default:
		return ActionNone
	}
}
