package strategy

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"

	"basis-vault/internal/state"
)

const snapshotKey = "strategy:last_snapshot"

// Snapshot is the persisted engine state, written after every state-changing
// operation so a restarted keeper resumes where it left off. Amounts are
// decimal strings to survive JSON round-trips losslessly.
type Snapshot struct {
	Status              string                     `json:"status"`
	ProcessingRebalance bool                       `json:"processing_rebalance"`
	ProductBalance      string                     `json:"product_balance"`
	PendingDecrease     string                     `json:"pending_decrease_collateral"`
	PendingDeutilized   string                     `json:"pending_deutilized_assets"`
	AccRequested        string                     `json:"acc_requested_withdraw_assets"`
	Processed           string                     `json:"processed_withdraw_assets"`
	AssetsToClaim       string                     `json:"assets_to_claim"`
	RequestCounter      uint64                     `json:"request_counter"`
	Requests            map[string]requestSnapshot `json:"requests"`
	UpdatedAtMS         int64                      `json:"updated_at_ms"`
}

type requestSnapshot struct {
	Requested   string `json:"requested"`
	Snapshot    string `json:"snapshot"`
	TimestampMS int64  `json:"timestamp_ms"`
	Receiver    string `json:"receiver"`
	Claimed     bool   `json:"claimed"`
}

// ExportSnapshot captures the current engine state.
func (e *Engine) ExportSnapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	snap := Snapshot{
		Status:              string(e.status),
		ProcessingRebalance: e.processingRebalance,
		ProductBalance:      e.productBalance.String(),
		PendingDecrease:     e.pendingDecreaseCollateral.String(),
		PendingDeutilized:   e.pendingDeutilizedAssets.String(),
		AccRequested:        e.accRequestedWithdrawAssets.String(),
		Processed:           e.processedWithdrawAssets.String(),
		AssetsToClaim:       e.assetsToClaim.String(),
		RequestCounter:      e.requestCounter,
		Requests:            make(map[string]requestSnapshot, len(e.requests)),
		UpdatedAtMS:         time.Now().UnixMilli(),
	}
	for key, req := range e.requests {
		snap.Requests[key.Hex()] = requestSnapshot{
			Requested:   req.Requested.String(),
			Snapshot:    req.Snapshot.String(),
			TimestampMS: req.Timestamp.UnixMilli(),
			Receiver:    req.Receiver.Hex(),
			Claimed:     req.Claimed,
		}
	}
	return snap
}

// RestoreSnapshot loads a previously exported snapshot into the engine.
// Only valid before the engine starts serving calls.
func (e *Engine) RestoreSnapshot(snap Snapshot) error {
	productBalance, err := parseAmount(snap.ProductBalance, "product_balance")
	if err != nil {
		return err
	}
	pendingDecrease, err := parseAmount(snap.PendingDecrease, "pending_decrease_collateral")
	if err != nil {
		return err
	}
	pendingDeutilized, err := parseAmount(snap.PendingDeutilized, "pending_deutilized_assets")
	if err != nil {
		return err
	}
	accRequested, err := parseAmount(snap.AccRequested, "acc_requested_withdraw_assets")
	if err != nil {
		return err
	}
	processed, err := parseAmount(snap.Processed, "processed_withdraw_assets")
	if err != nil {
		return err
	}
	assetsToClaim, err := parseAmount(snap.AssetsToClaim, "assets_to_claim")
	if err != nil {
		return err
	}
	if processed.GT(accRequested) {
		return fmt.Errorf("snapshot processed %s exceeds requested %s", processed, accRequested)
	}
	requests := make(map[common.Hash]*WithdrawRequest, len(snap.Requests))
	for keyHex, rs := range snap.Requests {
		requested, err := parseAmount(rs.Requested, "request amount")
		if err != nil {
			return err
		}
		reqSnapshot, err := parseAmount(rs.Snapshot, "request snapshot")
		if err != nil {
			return err
		}
		requests[common.HexToHash(keyHex)] = &WithdrawRequest{
			Requested: requested,
			Snapshot:  reqSnapshot,
			Timestamp: time.UnixMilli(rs.TimestampMS),
			Receiver:  common.HexToAddress(rs.Receiver),
			Claimed:   rs.Claimed,
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if snap.Status != "" {
		e.status = Status(snap.Status)
	}
	e.statusSince = time.Now()
	e.processingRebalance = snap.ProcessingRebalance
	e.productBalance = productBalance
	e.pendingDecreaseCollateral = pendingDecrease
	e.pendingDeutilizedAssets = pendingDeutilized
	e.accRequestedWithdrawAssets = accRequested
	e.processedWithdrawAssets = processed
	e.assetsToClaim = assetsToClaim
	e.requestCounter = snap.RequestCounter
	e.requests = requests
	return nil
}

func parseAmount(s, field string) (sdkmath.Int, error) {
	if strings.TrimSpace(s) == "" {
		return sdkmath.ZeroInt(), nil
	}
	v, ok := sdkmath.NewIntFromString(s)
	if !ok {
		return sdkmath.ZeroInt(), fmt.Errorf("invalid %s %q in snapshot", field, s)
	}
	return v, nil
}

// SaveSnapshot persists the engine state to the store.
func SaveSnapshot(ctx context.Context, store state.Store, e *Engine) error {
	if store == nil {
		return nil
	}
	payload, err := json.Marshal(e.ExportSnapshot())
	if err != nil {
		return err
	}
	return store.Set(ctx, snapshotKey, string(payload))
}

// LoadSnapshot reads the persisted snapshot, reporting whether one existed.
func LoadSnapshot(ctx context.Context, store state.Store) (Snapshot, bool, error) {
	if store == nil {
		return Snapshot{}, false, nil
	}
	raw, ok, err := store.Get(ctx, snapshotKey)
	if err != nil {
		return Snapshot{}, false, err
	}
	if !ok || strings.TrimSpace(raw) == "" {
		return Snapshot{}, false, nil
	}
	var snap Snapshot
	if err := json.Unmarshal([]byte(raw), &snap); err != nil {
		return Snapshot{}, false, err
	}
	return snap, true, nil
}
