package strategy

import (
	"context"
	"encoding/binary"
	"fmt"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"go.uber.org/zap"

	"basis-vault/internal/fixedpoint"
)

// RequestWithdraw pays the receiver immediately when idle covers the amount.
// Otherwise the idle part is earmarked, the shortfall accrues into the
// running withdraw total and a request keyed by (strategy, counter) is
// queued. Vault only.
func (e *Engine) RequestWithdraw(ctx context.Context, caller, receiver common.Address, assets sdkmath.Int) (common.Hash, bool, error) {
	if err := e.requireVault(caller); err != nil {
		return common.Hash{}, false, err
	}
	if assets.IsNil() || assets.IsZero() {
		return common.Hash{}, false, ErrZeroAmount
	}

	e.mu.Lock()
	idle := e.idleAssetsLocked()
	if idle.GTE(assets) {
		e.mu.Unlock()
		if err := e.vault.TransferOut(e.addrs.Strategy, receiver, assets); err != nil {
			return common.Hash{}, false, err
		}
		e.log.Info("instant withdraw",
			zap.String("receiver", receiver.Hex()),
			zap.String("assets", assets.String()))
		return common.Hash{}, true, nil
	}

	// Earmark the idle part now so a later utilize cannot spend it; the
	// deutilized part is earmarked as it is processed.
	shortfall := assets.Sub(idle)
	e.assetsToClaim = e.assetsToClaim.Add(idle)
	e.accRequestedWithdrawAssets = e.accRequestedWithdrawAssets.Add(shortfall)
	e.requestCounter++
	key := withdrawKey(e.addrs.Strategy, e.requestCounter)
	e.requests[key] = &WithdrawRequest{
		Requested: assets,
		Snapshot:  e.accRequestedWithdrawAssets,
		Timestamp: time.Now(),
		Receiver:  receiver,
	}
	e.mu.Unlock()

	e.metrics.WithdrawsQueued.Inc()
	e.log.Info("withdraw queued",
		zap.String("key", key.Hex()),
		zap.String("receiver", receiver.Hex()),
		zap.String("assets", assets.String()),
		zap.String("shortfall", shortfall.String()))
	return key, false, nil
}

// ProcessPendingWithdrawRequests applies newly arrived assets against the
// outstanding withdraw gap; the overflow stays idle. Vault only (the engine
// routes its own inflows internally).
func (e *Engine) ProcessPendingWithdrawRequests(ctx context.Context, caller common.Address, assets sdkmath.Int) (sdkmath.Int, sdkmath.Int, error) {
	if err := e.requireVault(caller); err != nil {
		return sdkmath.ZeroInt(), sdkmath.ZeroInt(), err
	}
	if assets.IsNil() || assets.IsZero() {
		return sdkmath.ZeroInt(), sdkmath.ZeroInt(), nil
	}
	e.mu.Lock()
	applied := e.applyInflowLocked(assets)
	e.mu.Unlock()
	remaining := assets.Sub(applied)
	if !applied.IsZero() {
		e.log.Info("withdraw gap serviced",
			zap.String("applied", applied.String()),
			zap.String("remaining", remaining.String()))
	}
	return applied, remaining, nil
}

// Claim releases an executed withdraw request to its receiver. A request is
// executed once the running processed total reaches its snapshot; the last
// request of a full exit is additionally held until the spot leg is fully
// unwound. Exactly one claim per key.
func (e *Engine) Claim(ctx context.Context, claimer common.Address, key common.Hash) (sdkmath.Int, error) {
	e.mu.Lock()
	req, ok := e.requests[key]
	if !ok {
		e.mu.Unlock()
		return sdkmath.ZeroInt(), ErrRequestNotFound
	}
	if req.Claimed {
		e.mu.Unlock()
		return sdkmath.ZeroInt(), ErrRequestAlreadyClaimed
	}
	if claimer != req.Receiver {
		e.mu.Unlock()
		return sdkmath.ZeroInt(), fmt.Errorf("%w: %s", ErrUnauthorizedClaimer, claimer.Hex())
	}
	executed := req.Snapshot.LTE(e.processedWithdrawAssets)
	if executed && req.Snapshot.Equal(e.accRequestedWithdrawAssets) && e.vault.TotalSupply().IsZero() {
		// Last request of a full exit: hold until the spot leg is gone so
		// the payout reflects the final unwind.
		executed = e.productBalance.IsZero()
	}
	if !executed {
		e.mu.Unlock()
		return sdkmath.ZeroInt(), ErrRequestNotExecuted
	}
	payout := fixedpoint.Min(req.Requested, e.assetsToClaim)
	req.Claimed = true
	e.assetsToClaim, _ = fixedpoint.SaturatingSub(e.assetsToClaim, payout)
	e.mu.Unlock()

	if err := e.vault.TransferOut(e.addrs.Strategy, claimer, payout); err != nil {
		// Roll back so the claim can be retried.
		e.mu.Lock()
		req.Claimed = false
		e.assetsToClaim = e.assetsToClaim.Add(payout)
		e.mu.Unlock()
		return sdkmath.ZeroInt(), err
	}

	e.metrics.WithdrawsClaimed.Inc()
	e.log.Info("withdraw claimed",
		zap.String("key", key.Hex()),
		zap.String("receiver", claimer.Hex()),
		zap.String("payout", payout.String()))
	return payout, nil
}

// withdrawKey derives the request id from the strategy address and the
// monotonic counter. Never reused.
func withdrawKey(strategy common.Address, counter uint64) common.Hash {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], counter)
	return crypto.Keccak256Hash(strategy.Bytes(), buf[:])
}
