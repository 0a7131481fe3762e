package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const validYAML = `
log:
  level: debug
agent:
  url: wss://agent.example.com/ws
swap:
  mode: aggregator
  base_url: https://aggregator.example.com
  asset_to_product: ["0x01", "0x02", "0x03"]
  product_to_asset: ["0x03", "0x02", "0x01"]
oracle:
  feeds:
    - token: "0x01"
      endpoint: https://feeds.example.com/usdc
      decimals: 6
    - token: "0x03"
      endpoint: https://feeds.example.com/weth
      decimals: 18
      multiplier: "10000000000"
strategy:
  address: "0x100"
  owner: "0x101"
  operator: "0x102"
  forwarder: "0x103"
  vault: "0x104"
  position_manager: "0x105"
  asset: "0x01"
  product: "0x03"
  target_leverage: "6.0"
  min_leverage: "3.0"
  max_leverage: "11.0"
  safe_margin_leverage: "15.0"
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, validYAML))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Log.Level != "debug" {
		t.Fatalf("unexpected log level %q", cfg.Log.Level)
	}
	if cfg.Agent.ReconnectDelay != 3*time.Second {
		t.Fatalf("expected reconnect delay default, got %s", cfg.Agent.ReconnectDelay)
	}
	if cfg.Swap.Timeout != 10*time.Second {
		t.Fatalf("expected swap timeout default, got %s", cfg.Swap.Timeout)
	}
	if cfg.Keeper.Interval != 30*time.Second || cfg.Keeper.StuckWarnAfter != 10*time.Minute {
		t.Fatalf("expected keeper defaults, got %+v", cfg.Keeper)
	}
	if cfg.State.SQLitePath != "data/basis-vault.db" {
		t.Fatalf("expected sqlite default, got %q", cfg.State.SQLitePath)
	}
	if cfg.Oracle.Feeds[0].Heartbeat != 5*time.Minute {
		t.Fatalf("expected feed heartbeat default, got %s", cfg.Oracle.Feeds[0].Heartbeat)
	}
	if cfg.Oracle.Feeds[0].Multiplier != "1" {
		t.Fatalf("expected multiplier default, got %q", cfg.Oracle.Feeds[0].Multiplier)
	}
}

func TestLoadRejectsMissingAgentURL(t *testing.T) {
	body := strings.Replace(validYAML, "url: wss://agent.example.com/ws", "url: \"\"", 1)
	if _, err := Load(writeConfig(t, body)); err == nil {
		t.Fatalf("expected agent.url error")
	}
}

func TestLoadRejectsBadSwapMode(t *testing.T) {
	body := strings.Replace(validYAML, "mode: aggregator", "mode: magic", 1)
	if _, err := Load(writeConfig(t, body)); err == nil {
		t.Fatalf("expected swap.mode error")
	}
}

func TestLoadRejectsEvenLengthPath(t *testing.T) {
	body := strings.Replace(validYAML, `asset_to_product: ["0x01", "0x02", "0x03"]`, `asset_to_product: ["0x01", "0x02"]`, 1)
	if _, err := Load(writeConfig(t, body)); err == nil {
		t.Fatalf("expected path length error")
	}
}

func TestLoadRejectsMissingLeverage(t *testing.T) {
	body := strings.Replace(validYAML, `target_leverage: "6.0"`, `target_leverage: ""`, 1)
	if _, err := Load(writeConfig(t, body)); err == nil {
		t.Fatalf("expected target_leverage error")
	}
}

func TestLoadRejectsSingleFeed(t *testing.T) {
	idx := strings.Index(validYAML, "    - token: \"0x03\"")
	body := validYAML[:idx] + "strategy:" + strings.SplitN(validYAML, "strategy:", 2)[1]
	if _, err := Load(writeConfig(t, body)); err == nil {
		t.Fatalf("expected feeds coverage error")
	}
}
