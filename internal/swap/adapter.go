package swap

import (
	"context"
	"errors"
	"fmt"

	sdkmath "cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"
)

var (
	ErrZeroSwapAmount = errors.New("swap amount is zero")
	ErrZeroAmountOut  = errors.New("swap produced zero output")
)

// Adapter executes an exchange along a validated path.
type Adapter interface {
	Swap(ctx context.Context, amount sdkmath.Int, path Path) (sdkmath.Int, error)
}

// PoolSwapper is the venue port a manual-path adapter walks hop by hop.
type PoolSwapper interface {
	SwapExact(ctx context.Context, pool, tokenIn, tokenOut common.Address, amountIn sdkmath.Int) (sdkmath.Int, error)
}

// ManualAdapter swaps along an explicit pool path.
type ManualAdapter struct {
	pools PoolSwapper
}

func NewManual(pools PoolSwapper) *ManualAdapter {
	return &ManualAdapter{pools: pools}
}

func (m *ManualAdapter) Swap(ctx context.Context, amount sdkmath.Int, path Path) (sdkmath.Int, error) {
	if amount.IsNil() || amount.IsZero() {
		return sdkmath.ZeroInt(), ErrZeroSwapAmount
	}
	if len(path) < 3 {
		return sdkmath.ZeroInt(), fmt.Errorf("%w: length %d", ErrPathLength, len(path))
	}
	out := amount
	for _, hop := range path.Hops() {
		var err error
		out, err = m.pools.SwapExact(ctx, hop[1], hop[0], hop[2], out)
		if err != nil {
			return sdkmath.ZeroInt(), fmt.Errorf("hop %s: %w", hop[1].Hex(), err)
		}
		if out.IsZero() {
			return sdkmath.ZeroInt(), fmt.Errorf("hop %s: %w", hop[1].Hex(), ErrZeroAmountOut)
		}
	}
	return out, nil
}

// TrySwap reports failure as a false flag instead of an error, matching the
// aggregator adapter so callers can treat both variants uniformly.
func (m *ManualAdapter) TrySwap(ctx context.Context, amount sdkmath.Int, path Path) (sdkmath.Int, bool) {
	out, err := m.Swap(ctx, amount, path)
	if err != nil {
		return sdkmath.ZeroInt(), false
	}
	return out, true
}
