package strategy

import (
	"context"
	"fmt"
	"sync"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"basis-vault/internal/metrics"
	"basis-vault/internal/oracle"
	"basis-vault/internal/position"
	"basis-vault/internal/swap"
)

// Vault is the slice of the vault surface the engine depends on. Asset
// balances live in the vault; the engine moves them through these gated calls.
type Vault interface {
	AssetBalance() sdkmath.Int
	TotalSupply() sdkmath.Int
	DebitAssets(caller common.Address, amount sdkmath.Int) error
	CreditAssets(caller common.Address, amount sdkmath.Int) error
	TransferOut(caller, receiver common.Address, amount sdkmath.Int) error
}

// Swapper covers both the manual-path and aggregator adapters. TrySwap is the
// revert-free variant used where a failed swap must not abort the operation.
type Swapper interface {
	Swap(ctx context.Context, amount sdkmath.Int, path swap.Path) (sdkmath.Int, error)
	TrySwap(ctx context.Context, amount sdkmath.Int, path swap.Path) (sdkmath.Int, bool)
}

// Deps are the engine collaborators, wired once at construction.
type Deps struct {
	Oracle  oracle.Oracle
	Swapper Swapper
	Manager position.Manager
	Vault   Vault

	AssetToProduct swap.Path
	ProductToAsset swap.Path

	Log     *zap.Logger
	Metrics *metrics.Metrics
}

// Engine is the strategy state machine. One instance owns all strategy state;
// the mutex serializes entry points while the status register serializes the
// longer request/callback spans that a lock cannot cover.
type Engine struct {
	cfg   Config
	addrs Addresses

	oracle  oracle.Oracle
	swapper Swapper
	manager position.Manager
	vault   Vault
	log     *zap.Logger
	metrics *metrics.Metrics

	assetToProduct swap.Path
	productToAsset swap.Path

	mu          sync.Mutex
	status      Status
	statusSince time.Time
	outstanding *position.AdjustRequest

	processingRebalance bool

	productBalance             sdkmath.Int
	pendingDecreaseCollateral  sdkmath.Int
	pendingDeutilizedAssets    sdkmath.Int
	accRequestedWithdrawAssets sdkmath.Int
	processedWithdrawAssets    sdkmath.Int
	assetsToClaim              sdkmath.Int

	requestCounter uint64
	requests       map[common.Hash]*WithdrawRequest
}

func New(cfg Config, addrs Addresses, deps Deps) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if err := addrs.Validate(); err != nil {
		return nil, fmt.Errorf("addresses: %w", err)
	}
	if deps.Oracle == nil || deps.Swapper == nil || deps.Manager == nil || deps.Vault == nil {
		return nil, fmt.Errorf("oracle, swapper, manager and vault are required")
	}
	if err := deps.AssetToProduct.Validate(addrs.Asset, addrs.Product); err != nil {
		return nil, fmt.Errorf("asset to product path: %w", err)
	}
	if err := deps.ProductToAsset.Validate(addrs.Product, addrs.Asset); err != nil {
		return nil, fmt.Errorf("product to asset path: %w", err)
	}
	// A zero or unconfigured feed must fail here, not on the first swap.
	if _, err := deps.Oracle.GetAssetPrice(addrs.Asset); err != nil {
		return nil, fmt.Errorf("asset feed: %w", err)
	}
	if _, err := deps.Oracle.GetAssetPrice(addrs.Product); err != nil {
		return nil, fmt.Errorf("product feed: %w", err)
	}
	if deps.Log == nil {
		deps.Log = zap.NewNop()
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.NewNoop()
	}
	return &Engine{
		cfg:                        cfg,
		addrs:                      addrs,
		oracle:                     deps.Oracle,
		swapper:                    deps.Swapper,
		manager:                    deps.Manager,
		vault:                      deps.Vault,
		log:                        deps.Log,
		metrics:                    deps.Metrics,
		assetToProduct:             deps.AssetToProduct,
		productToAsset:             deps.ProductToAsset,
		status:                     StatusIdle,
		statusSince:                time.Now(),
		productBalance:             sdkmath.ZeroInt(),
		pendingDecreaseCollateral:  sdkmath.ZeroInt(),
		pendingDeutilizedAssets:    sdkmath.ZeroInt(),
		accRequestedWithdrawAssets: sdkmath.ZeroInt(),
		processedWithdrawAssets:    sdkmath.ZeroInt(),
		assetsToClaim:              sdkmath.ZeroInt(),
		requests:                   make(map[common.Hash]*WithdrawRequest),
	}, nil
}

func (e *Engine) Address() common.Address { return e.addrs.Strategy }

func (e *Engine) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.status
}

// StatusSince reports when the current status was entered. The keeper loop
// uses it to warn about a stuck outstanding adjustment; nothing mutates state
// on that path.
func (e *Engine) StatusSince() time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.statusSince
}

func (e *Engine) ProcessingRebalance() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.processingRebalance
}

func (e *Engine) ProductBalance() sdkmath.Int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.productBalance
}

func (e *Engine) PendingDecreaseCollateral() sdkmath.Int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.pendingDecreaseCollateral
}

func (e *Engine) PendingDeutilizedAssets() sdkmath.Int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.pendingDeutilizedAssets
}

func (e *Engine) AccRequestedWithdrawAssets() sdkmath.Int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.accRequestedWithdrawAssets
}

func (e *Engine) ProcessedWithdrawAssets() sdkmath.Int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.processedWithdrawAssets
}

func (e *Engine) AssetsToClaim() sdkmath.Int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.assetsToClaim
}

// Request returns a copy of the withdraw request stored under key.
func (e *Engine) Request(key common.Hash) (WithdrawRequest, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	req, ok := e.requests[key]
	if !ok {
		return WithdrawRequest{}, false
	}
	return *req, true
}

func (e *Engine) setStatusLocked(s Status) {
	e.status = s
	e.statusSince = time.Now()
}

// beginLocked claims the status register for a new operation. The caller must
// hold the mutex.
func (e *Engine) beginLocked(next Status) error {
	if e.status != StatusIdle {
		return fmt.Errorf("%w: %s", ErrStatusNotIdle, e.status)
	}
	e.setStatusLocked(next)
	return nil
}

func (e *Engine) requireOperator(caller common.Address) error {
	if caller != e.addrs.Operator {
		return fmt.Errorf("%w: %s", ErrCallerNotOperator, caller.Hex())
	}
	return nil
}

func (e *Engine) requireVault(caller common.Address) error {
	if caller != e.addrs.Vault {
		return fmt.Errorf("%w: %s", ErrCallerNotVault, caller.Hex())
	}
	return nil
}

func (e *Engine) requireForwarder(caller common.Address) error {
	if caller != e.addrs.Forwarder {
		return fmt.Errorf("%w: %s", ErrUnauthorizedForwarder, caller.Hex())
	}
	return nil
}

func (e *Engine) requireOwner(caller common.Address) error {
	if caller != e.addrs.Owner {
		return fmt.Errorf("%w: %s", ErrCallerNotOwner, caller.Hex())
	}
	return nil
}

// Pause halts the engine. Owner only, from IDLE.
func (e *Engine) Pause(caller common.Address) error {
	if err := e.requireOwner(caller); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.beginLocked(StatusPause); err != nil {
		return err
	}
	e.log.Warn("engine paused by owner")
	return nil
}

// Unpause clears PAUSE back to IDLE. Owner only.
func (e *Engine) Unpause(caller common.Address) error {
	if err := e.requireOwner(caller); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.status != StatusPause {
		return fmt.Errorf("%w: %s", ErrStatusNotPaused, e.status)
	}
	e.setStatusLocked(StatusIdle)
	e.log.Info("engine unpaused")
	return nil
}

// Callback returns the adapter delivering position-manager completions into
// the engine with the manager's identity attached.
func (e *Engine) Callback() position.Callback {
	return managerCallback{e}
}

type managerCallback struct {
	e *Engine
}

func (c managerCallback) AfterAdjustPosition(ctx context.Context, resp position.AdjustResponse) error {
	return c.e.AfterAdjustPosition(ctx, c.e.addrs.PositionManager, resp)
}
