package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"basis-vault/internal/alerts"
	"basis-vault/internal/config"
	"basis-vault/internal/fixedpoint"
	"basis-vault/internal/metrics"
	"basis-vault/internal/oracle"
	"basis-vault/internal/position/agent"
	"basis-vault/internal/state/sqlite"
	"basis-vault/internal/strategy"
	"basis-vault/internal/swap"
	"basis-vault/internal/timescale"
	"basis-vault/internal/vault"
)

// App wires the vault, strategy engine, agent and supporting services into
// the keeper daemon.
type App struct {
	cfg     *config.Config
	log     *zap.Logger
	store   *sqlite.Store
	agent   *agent.Client
	oracle  *oracle.Registry
	feeds   []*feedSource
	vault   *vault.Vault
	engine  *strategy.Engine
	addrs   strategy.Addresses
	metrics *metrics.Metrics
	prom    *metrics.Prometheus
	alerts  *alerts.Telegram
	ts      *timescale.Writer

	stuckWarned bool
}

func New(cfg *config.Config, log *zap.Logger) (*App, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.State.SQLitePath), 0o755); err != nil {
		return nil, err
	}
	store, err := sqlite.New(cfg.State.SQLitePath)
	if err != nil {
		return nil, err
	}

	addrs, err := parseAddresses(cfg.Strategy)
	if err != nil {
		return nil, err
	}
	engineCfg, err := parseEngineConfig(cfg.Strategy)
	if err != nil {
		return nil, err
	}

	agentClient := agent.New(cfg.Agent.URL, cfg.Agent.ReconnectDelay, log)

	registry, feeds, err := buildOracle(cfg.Oracle)
	if err != nil {
		return nil, err
	}
	// Prices must exist before the engine validates its feeds.
	primeCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	for _, feed := range feeds {
		if err := feed.refresh(primeCtx); err != nil {
			return nil, fmt.Errorf("priming feed %s: %w", feed.token.Hex(), err)
		}
	}

	assetToProduct, err := parsePath(cfg.Swap.AssetToProduct)
	if err != nil {
		return nil, fmt.Errorf("swap.asset_to_product: %w", err)
	}
	productToAsset, err := parsePath(cfg.Swap.ProductToAsset)
	if err != nil {
		return nil, fmt.Errorf("swap.product_to_asset: %w", err)
	}

	var swapper strategy.Swapper
	switch cfg.Swap.Mode {
	case "manual":
		swapper = swap.NewManual(agentClient)
	default:
		apiKey := strings.TrimSpace(os.Getenv("SWAP_API_KEY"))
		if apiKey == "" {
			apiKey = cfg.Swap.APIKey
		}
		client := swap.NewAggregatorClient(cfg.Swap.BaseURL, apiKey, addrs.Strategy, cfg.Swap.Slippage, cfg.Swap.Timeout, log)
		swapper = swap.NewAggregator(client, agentClient, log)
	}

	var m *metrics.Metrics
	var prom *metrics.Prometheus
	if cfg.Metrics.Enabled {
		prom = metrics.NewPrometheus()
		m = prom.Metrics
	} else {
		m = metrics.NewNoop()
	}

	v := vault.New(addrs.Vault, addrs.Asset, log)
	engine, err := strategy.New(engineCfg, addrs, strategy.Deps{
		Oracle:         registry,
		Swapper:        swapper,
		Manager:        agentClient,
		Vault:          v,
		AssetToProduct: assetToProduct,
		ProductToAsset: productToAsset,
		Log:            log,
		Metrics:        m,
	})
	if err != nil {
		return nil, err
	}
	v.BindStrategy(addrs.Strategy, engine)
	agentClient.Bind(engine.Callback())

	tsWriter, err := timescale.New(cfg.Timescale, log)
	if err != nil {
		return nil, err
	}

	return &App{
		cfg:     cfg,
		log:     log,
		store:   store,
		agent:   agentClient,
		oracle:  registry,
		feeds:   feeds,
		vault:   v,
		engine:  engine,
		addrs:   addrs,
		metrics: m,
		prom:    prom,
		alerts:  alerts.NewTelegram(cfg.Telegram, log),
		ts:      tsWriter,
	}, nil
}

func (a *App) Run(ctx context.Context) error {
	defer a.store.Close()
	defer a.ts.Close()

	if snap, ok, err := strategy.LoadSnapshot(ctx, a.store); err != nil {
		a.log.Warn("snapshot load failed", zap.Error(err))
	} else if ok {
		if err := a.engine.RestoreSnapshot(snap); err != nil {
			return fmt.Errorf("restoring snapshot: %w", err)
		}
		a.log.Info("engine state restored",
			zap.String("status", string(a.engine.Status())),
			zap.String("assets_to_claim", a.engine.AssetsToClaim().String()))
	}

	agentDone := make(chan error, 1)
	go func() {
		agentDone <- a.agent.Run(ctx)
	}()

	a.ts.Start(ctx)
	a.startMetricsServer(ctx)
	a.startOperator(ctx)

	ticker := time.NewTicker(a.cfg.Keeper.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-agentDone:
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("agent connection terminated: %w", err)
		case <-ticker.C:
			a.keeperCycle(ctx)
		}
	}
}

// keeperCycle runs one upkeep evaluation plus the ambient bookkeeping that
// rides along with it.
func (a *App) keeperCycle(ctx context.Context) {
	a.refreshFeeds(ctx)
	a.warnIfStuck(ctx)

	if a.engine.Status() == strategy.StatusIdle {
		action, err := a.engine.PerformUpkeep(ctx, a.addrs.Forwarder)
		switch {
		case err == nil:
			a.log.Info("upkeep performed", zap.String("action", string(action)))
			a.ts.EnqueueAction(timescale.KeeperAction{
				Time:     time.Now().UTC(),
				Action:   string(action),
				Detail:   string(a.engine.Status()),
				Leverage: intOrZero(a.agent.CurrentLeverage(ctx)),
			})
		case errors.Is(err, strategy.ErrNoUpkeepNeeded):
		default:
			a.log.Warn("upkeep failed", zap.Error(err))
		}
	}

	a.recordSnapshot(ctx)
	if err := strategy.SaveSnapshot(ctx, a.store, a.engine); err != nil {
		a.log.Warn("snapshot save failed", zap.Error(err))
	}
}

// warnIfStuck alerts when an asynchronous adjustment has been outstanding
// for too long. State is never mutated here; recovery is the operator's call.
func (a *App) warnIfStuck(ctx context.Context) {
	status := a.engine.Status()
	if status == strategy.StatusIdle || status == strategy.StatusPause {
		a.stuckWarned = false
		return
	}
	elapsed := time.Since(a.engine.StatusSince())
	if elapsed < a.cfg.Keeper.StuckWarnAfter {
		return
	}
	if a.stuckWarned {
		return
	}
	a.stuckWarned = true
	a.log.Warn("adjustment outstanding for too long",
		zap.String("status", string(status)),
		zap.Duration("elapsed", elapsed))
	msg := fmt.Sprintf("strategy stuck in %s for %s, awaiting position manager", status, elapsed.Round(time.Second))
	if err := a.alerts.Send(ctx, msg); err != nil {
		a.log.Warn("stuck alert failed", zap.Error(err))
	}
}

func (a *App) refreshFeeds(ctx context.Context) {
	for _, feed := range a.feeds {
		if err := feed.refresh(ctx); err != nil {
			a.log.Warn("feed refresh failed",
				zap.String("token", feed.token.Hex()),
				zap.Error(err))
		}
	}
}

func (a *App) startMetricsServer(ctx context.Context) {
	if a.prom == nil {
		return
	}
	server := &http.Server{Addr: a.cfg.Metrics.Listen, Handler: a.prom.Handler()}
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.log.Warn("metrics server stopped", zap.Error(err))
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()
}

func parseAddresses(cfg config.StrategyConfig) (strategy.Addresses, error) {
	fields := map[string]struct {
		value string
		out   *common.Address
	}{}
	addrs := strategy.Addresses{}
	fields["strategy.address"] = struct {
		value string
		out   *common.Address
	}{cfg.Address, &addrs.Strategy}
	fields["strategy.owner"] = struct {
		value string
		out   *common.Address
	}{cfg.Owner, &addrs.Owner}
	fields["strategy.operator"] = struct {
		value string
		out   *common.Address
	}{cfg.Operator, &addrs.Operator}
	fields["strategy.forwarder"] = struct {
		value string
		out   *common.Address
	}{cfg.Forwarder, &addrs.Forwarder}
	fields["strategy.vault"] = struct {
		value string
		out   *common.Address
	}{cfg.Vault, &addrs.Vault}
	fields["strategy.position_manager"] = struct {
		value string
		out   *common.Address
	}{cfg.PositionManager, &addrs.PositionManager}
	fields["strategy.asset"] = struct {
		value string
		out   *common.Address
	}{cfg.Asset, &addrs.Asset}
	fields["strategy.product"] = struct {
		value string
		out   *common.Address
	}{cfg.Product, &addrs.Product}
	for name, field := range fields {
		if !common.IsHexAddress(field.value) {
			return strategy.Addresses{}, fmt.Errorf("%s: invalid address %q", name, field.value)
		}
		*field.out = common.HexToAddress(field.value)
	}
	return addrs, nil
}

func parseEngineConfig(cfg config.StrategyConfig) (strategy.Config, error) {
	out := strategy.Config{}
	for name, field := range map[string]struct {
		value string
		out   *sdkmath.Int
	}{
		"strategy.target_leverage":      {cfg.TargetLeverage, &out.TargetLeverage},
		"strategy.min_leverage":         {cfg.MinLeverage, &out.MinLeverage},
		"strategy.max_leverage":         {cfg.MaxLeverage, &out.MaxLeverage},
		"strategy.safe_margin_leverage": {cfg.SafeMarginLeverage, &out.SafeMarginLeverage},
	} {
		ratio, err := fixedpoint.Ratio(field.value)
		if err != nil {
			return strategy.Config{}, fmt.Errorf("%s: %w", name, err)
		}
		*field.out = ratio
	}
	var err error
	if out.HedgeDeviationThreshold, err = ratioOrDefault(cfg.HedgeDeviation, "0.01"); err != nil {
		return strategy.Config{}, fmt.Errorf("strategy.hedge_deviation: %w", err)
	}
	if out.ResponseDeviationThreshold, err = ratioOrDefault(cfg.ResponseDeviation, "0.01"); err != nil {
		return strategy.Config{}, fmt.Errorf("strategy.response_deviation: %w", err)
	}
	out.MinDecreaseCollateral = sdkmath.ZeroInt()
	if cfg.MinDecreaseCollateral != "" {
		v, ok := sdkmath.NewIntFromString(cfg.MinDecreaseCollateral)
		if !ok {
			return strategy.Config{}, fmt.Errorf("strategy.min_decrease_collateral: invalid amount %q", cfg.MinDecreaseCollateral)
		}
		out.MinDecreaseCollateral = v
	}
	return out, nil
}

func ratioOrDefault(value, fallback string) (sdkmath.Int, error) {
	if value == "" {
		value = fallback
	}
	return fixedpoint.Ratio(value)
}

func parsePath(raw []string) (swap.Path, error) {
	path := make(swap.Path, 0, len(raw))
	for _, entry := range raw {
		if !common.IsHexAddress(entry) {
			return nil, fmt.Errorf("invalid address %q", entry)
		}
		path = append(path, common.HexToAddress(entry))
	}
	return path, nil
}
