package timescale

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"basis-vault/internal/config"

	_ "github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"
)

const writeTimeout = 3 * time.Second

// AccountingSnapshot is one keeper-cycle view of the vault accounting.
// Amounts are decimal strings so raw token units survive unmodified.
type AccountingSnapshot struct {
	Time                      time.Time
	Status                    string
	ProcessingRebalance       bool
	IdleAssets                string
	UtilizedAssets            string
	TotalAssets               string
	ProductBalance            string
	PositionNetBalance        string
	CurrentLeverage           string
	PendingUtilization        string
	PendingDecreaseCollateral string
	AccRequestedWithdraw      string
	ProcessedWithdraw         string
	AssetsToClaim             string
}

// KeeperAction records one performed upkeep action.
type KeeperAction struct {
	Time     time.Time
	Action   string
	Detail   string
	Leverage string
}

type Writer struct {
	db         *sql.DB
	log        *zap.Logger
	schema     string
	snapshots  chan AccountingSnapshot
	actions    chan KeeperAction
	started    atomic.Bool
	dropSnap   atomic.Uint64
	dropAction atomic.Uint64
}

func New(cfg config.TimescaleConfig, log *zap.Logger) (*Writer, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return nil, errors.New("timescale dsn is required")
	}
	schema := strings.TrimSpace(cfg.Schema)
	if schema == "" {
		schema = "public"
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = 256
	}
	writer := &Writer{
		db:        db,
		log:       log,
		schema:    schema,
		snapshots: make(chan AccountingSnapshot, queueSize),
		actions:   make(chan KeeperAction, queueSize),
	}
	if err := writer.ensureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return writer, nil
}

func (w *Writer) Start(ctx context.Context) {
	if w == nil {
		return
	}
	if !w.started.CompareAndSwap(false, true) {
		return
	}
	go w.run(ctx)
}

func (w *Writer) Close() error {
	if w == nil || w.db == nil {
		return nil
	}
	return w.db.Close()
}

func (w *Writer) EnqueueSnapshot(snapshot AccountingSnapshot) {
	if w == nil {
		return
	}
	select {
	case w.snapshots <- snapshot:
		return
	default:
		if w.dropSnap.Add(1) == 1 && w.log != nil {
			w.log.Warn("timescale snapshot queue full")
		}
	}
}

func (w *Writer) EnqueueAction(action KeeperAction) {
	if w == nil {
		return
	}
	select {
	case w.actions <- action:
		return
	default:
		if w.dropAction.Add(1) == 1 && w.log != nil {
			w.log.Warn("timescale action queue full")
		}
	}
}

func (w *Writer) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case snap := <-w.snapshots:
			w.writeSnapshot(ctx, snap)
		case action := <-w.actions:
			w.writeAction(ctx, action)
		}
	}
}

func (w *Writer) ensureSchema(ctx context.Context) error {
	if w.db == nil {
		return errors.New("timescale db not initialized")
	}
	if w.schema != "public" {
		if err := w.exec(ctx, fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", w.schema)); err != nil {
			return err
		}
	}
	if err := w.exec(ctx, fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		ts TIMESTAMPTZ NOT NULL,
		status TEXT NOT NULL,
		processing_rebalance BOOLEAN NOT NULL,
		idle_assets NUMERIC NOT NULL,
		utilized_assets NUMERIC NOT NULL,
		total_assets NUMERIC NOT NULL,
		product_balance NUMERIC NOT NULL,
		position_net_balance NUMERIC NOT NULL,
		current_leverage NUMERIC NOT NULL,
		pending_utilization NUMERIC NOT NULL,
		pending_decrease_collateral NUMERIC NOT NULL,
		acc_requested_withdraw NUMERIC NOT NULL,
		processed_withdraw NUMERIC NOT NULL,
		assets_to_claim NUMERIC NOT NULL
	)`, w.table("accounting_snapshots"))); err != nil {
		return err
	}
	if err := w.exec(ctx, fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		ts TIMESTAMPTZ NOT NULL,
		action TEXT NOT NULL,
		detail TEXT NOT NULL,
		leverage NUMERIC NOT NULL
	)`, w.table("keeper_actions"))); err != nil {
		return err
	}
	if err := w.exec(ctx, "CREATE EXTENSION IF NOT EXISTS timescaledb"); err != nil {
		if w.log != nil {
			w.log.Warn("timescale extension ensure failed", zap.Error(err))
		}
		return nil
	}
	if err := w.exec(ctx, fmt.Sprintf("SELECT create_hypertable('%s', 'ts', if_not_exists => TRUE)", w.table("accounting_snapshots"))); err != nil && w.log != nil {
		w.log.Warn("timescale accounting_snapshots hypertable create failed", zap.Error(err))
	}
	if err := w.exec(ctx, fmt.Sprintf("SELECT create_hypertable('%s', 'ts', if_not_exists => TRUE)", w.table("keeper_actions"))); err != nil && w.log != nil {
		w.log.Warn("timescale keeper_actions hypertable create failed", zap.Error(err))
	}
	return nil
}

func (w *Writer) writeSnapshot(ctx context.Context, snap AccountingSnapshot) {
	if w.db == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	query := fmt.Sprintf(`INSERT INTO %s (
		ts, status, processing_rebalance, idle_assets, utilized_assets, total_assets,
		product_balance, position_net_balance, current_leverage, pending_utilization,
		pending_decrease_collateral, acc_requested_withdraw, processed_withdraw, assets_to_claim
	) VALUES (
		$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14
	)`, w.table("accounting_snapshots"))
	if _, err := w.db.ExecContext(ctx, query,
		snap.Time,
		snap.Status,
		snap.ProcessingRebalance,
		snap.IdleAssets,
		snap.UtilizedAssets,
		snap.TotalAssets,
		snap.ProductBalance,
		snap.PositionNetBalance,
		snap.CurrentLeverage,
		snap.PendingUtilization,
		snap.PendingDecreaseCollateral,
		snap.AccRequestedWithdraw,
		snap.ProcessedWithdraw,
		snap.AssetsToClaim,
	); err != nil && w.log != nil {
		w.log.Warn("timescale snapshot insert failed", zap.Error(err))
	}
}

func (w *Writer) writeAction(ctx context.Context, action KeeperAction) {
	if w.db == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	query := fmt.Sprintf(`INSERT INTO %s (
		ts, action, detail, leverage
	) VALUES (
		$1,$2,$3,$4
	)`, w.table("keeper_actions"))
	if _, err := w.db.ExecContext(ctx, query,
		action.Time,
		action.Action,
		action.Detail,
		action.Leverage,
	); err != nil && w.log != nil {
		w.log.Warn("timescale action insert failed", zap.Error(err))
	}
}

func (w *Writer) exec(ctx context.Context, query string) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	_, err := w.db.ExecContext(ctx, query)
	return err
}

func (w *Writer) table(name string) string {
	return w.schema + "." + name
}
