package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Log       LoggingConfig   `yaml:"log"`
	Agent     AgentConfig     `yaml:"agent"`
	Swap      SwapConfig      `yaml:"swap"`
	Oracle    OracleConfig    `yaml:"oracle"`
	Strategy  StrategyConfig  `yaml:"strategy"`
	Keeper    KeeperConfig    `yaml:"keeper"`
	State     StateConfig     `yaml:"state"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Timescale TimescaleConfig `yaml:"timescale"`
	Telegram  TelegramConfig  `yaml:"telegram"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
}

// AgentConfig points at the off-chain position manager agent.
type AgentConfig struct {
	URL            string        `yaml:"url"`
	ReconnectDelay time.Duration `yaml:"reconnect_delay"`
}

type SwapConfig struct {
	// Mode selects the adapter: "aggregator" or "manual".
	Mode     string        `yaml:"mode"`
	BaseURL  string        `yaml:"base_url"`
	APIKey   string        `yaml:"api_key"`
	Slippage float64       `yaml:"slippage"`
	Timeout  time.Duration `yaml:"timeout"`

	// Alternating token/pool address paths.
	AssetToProduct []string `yaml:"asset_to_product"`
	ProductToAsset []string `yaml:"product_to_asset"`
}

type OracleConfig struct {
	PollInterval time.Duration `yaml:"poll_interval"`
	Feeds        []FeedConfig  `yaml:"feeds"`
}

type FeedConfig struct {
	Token      string        `yaml:"token"`
	Endpoint   string        `yaml:"endpoint"`
	Decimals   int           `yaml:"decimals"`
	Multiplier string        `yaml:"multiplier"`
	Heartbeat  time.Duration `yaml:"heartbeat"`
}

type StrategyConfig struct {
	Address         string `yaml:"address"`
	Owner           string `yaml:"owner"`
	Operator        string `yaml:"operator"`
	Forwarder       string `yaml:"forwarder"`
	Vault           string `yaml:"vault"`
	PositionManager string `yaml:"position_manager"`
	Asset           string `yaml:"asset"`
	Product         string `yaml:"product"`

	// Leverage ratios as decimal strings, e.g. "6.0".
	TargetLeverage     string `yaml:"target_leverage"`
	MinLeverage        string `yaml:"min_leverage"`
	MaxLeverage        string `yaml:"max_leverage"`
	SafeMarginLeverage string `yaml:"safe_margin_leverage"`

	HedgeDeviation        string `yaml:"hedge_deviation"`
	ResponseDeviation     string `yaml:"response_deviation"`
	MinDecreaseCollateral string `yaml:"min_decrease_collateral"`
}

type KeeperConfig struct {
	Interval       time.Duration `yaml:"interval"`
	StuckWarnAfter time.Duration `yaml:"stuck_warn_after"`
}

type StateConfig struct {
	SQLitePath string `yaml:"sqlite_path"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
}

type TimescaleConfig struct {
	Enabled         bool          `yaml:"enabled"`
	DSN             string        `yaml:"dsn"`
	Schema          string        `yaml:"schema"`
	QueueSize       int           `yaml:"queue_size"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

type TelegramConfig struct {
	Enabled bool   `yaml:"enabled"`
	Token   string `yaml:"token"`
	ChatID  string `yaml:"chat_id"`

	OperatorEnabled        bool          `yaml:"operator_enabled"`
	OperatorPollInterval   time.Duration `yaml:"operator_poll_interval"`
	OperatorAllowedUserIDs []int64       `yaml:"operator_allowed_user_ids"`
}

func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is required")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	applyDefaults(&cfg)
	return &cfg, validate(&cfg)
}

func applyDefaults(cfg *Config) {
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Agent.ReconnectDelay == 0 {
		cfg.Agent.ReconnectDelay = 3 * time.Second
	}
	if cfg.Swap.Mode == "" {
		cfg.Swap.Mode = "aggregator"
	}
	if cfg.Swap.Slippage == 0 {
		cfg.Swap.Slippage = 1
	}
	if cfg.Swap.Timeout == 0 {
		cfg.Swap.Timeout = 10 * time.Second
	}
	if cfg.Oracle.PollInterval == 0 {
		cfg.Oracle.PollInterval = 15 * time.Second
	}
	for i := range cfg.Oracle.Feeds {
		if cfg.Oracle.Feeds[i].Heartbeat == 0 {
			cfg.Oracle.Feeds[i].Heartbeat = 5 * time.Minute
		}
		if cfg.Oracle.Feeds[i].Multiplier == "" {
			cfg.Oracle.Feeds[i].Multiplier = "1"
		}
	}
	if cfg.Keeper.Interval == 0 {
		cfg.Keeper.Interval = 30 * time.Second
	}
	if cfg.Keeper.StuckWarnAfter == 0 {
		cfg.Keeper.StuckWarnAfter = 10 * time.Minute
	}
	if cfg.State.SQLitePath == "" {
		cfg.State.SQLitePath = "data/basis-vault.db"
	}
	if cfg.Metrics.Listen == "" {
		cfg.Metrics.Listen = ":9090"
	}
}

func validate(cfg *Config) error {
	if cfg.Agent.URL == "" {
		return errors.New("agent.url is required")
	}
	if cfg.Swap.Mode != "aggregator" && cfg.Swap.Mode != "manual" {
		return fmt.Errorf("swap.mode %q must be aggregator or manual", cfg.Swap.Mode)
	}
	if cfg.Swap.Mode == "aggregator" && cfg.Swap.BaseURL == "" {
		return errors.New("swap.base_url is required in aggregator mode")
	}
	for name, path := range map[string][]string{
		"swap.asset_to_product": cfg.Swap.AssetToProduct,
		"swap.product_to_asset": cfg.Swap.ProductToAsset,
	} {
		if len(path) < 3 || len(path)%2 == 0 {
			return fmt.Errorf("%s must alternate token/pool addresses (odd length >= 3)", name)
		}
	}
	for name, value := range map[string]string{
		"strategy.address":              cfg.Strategy.Address,
		"strategy.owner":                cfg.Strategy.Owner,
		"strategy.operator":             cfg.Strategy.Operator,
		"strategy.forwarder":            cfg.Strategy.Forwarder,
		"strategy.vault":                cfg.Strategy.Vault,
		"strategy.position_manager":     cfg.Strategy.PositionManager,
		"strategy.asset":                cfg.Strategy.Asset,
		"strategy.product":              cfg.Strategy.Product,
		"strategy.target_leverage":      cfg.Strategy.TargetLeverage,
		"strategy.min_leverage":         cfg.Strategy.MinLeverage,
		"strategy.max_leverage":         cfg.Strategy.MaxLeverage,
		"strategy.safe_margin_leverage": cfg.Strategy.SafeMarginLeverage,
	} {
		if value == "" {
			return fmt.Errorf("%s is required", name)
		}
	}
	if len(cfg.Oracle.Feeds) < 2 {
		return errors.New("oracle.feeds must cover both asset and product")
	}
	for _, feed := range cfg.Oracle.Feeds {
		if feed.Token == "" || feed.Endpoint == "" {
			return errors.New("oracle feed token and endpoint are required")
		}
	}
	return nil
}
