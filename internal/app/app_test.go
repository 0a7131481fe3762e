package app

import (
	"encoding/json"
	"testing"

	sdkmath "cosmossdk.io/math"

	"basis-vault/internal/config"
)

func validStrategyConfig() config.StrategyConfig {
	return config.StrategyConfig{
		Address:            "0x0000000000000000000000000000000000000100",
		Owner:              "0x0000000000000000000000000000000000000110",
		Operator:           "0x0000000000000000000000000000000000000120",
		Forwarder:          "0x0000000000000000000000000000000000000130",
		Vault:              "0x0000000000000000000000000000000000000140",
		PositionManager:    "0x0000000000000000000000000000000000000150",
		Asset:              "0x0000000000000000000000000000000000000160",
		Product:            "0x0000000000000000000000000000000000000170",
		TargetLeverage:     "6.0",
		MinLeverage:        "3.0",
		MaxLeverage:        "11.0",
		SafeMarginLeverage: "15.0",
	}
}

func TestParseAddresses(t *testing.T) {
	addrs, err := parseAddresses(validStrategyConfig())
	if err != nil {
		t.Fatalf("parseAddresses: %v", err)
	}
	if addrs.Strategy.Hex() != "0x0000000000000000000000000000000000000100" {
		t.Fatalf("unexpected strategy address %s", addrs.Strategy.Hex())
	}
	if addrs.Product.Hex() != "0x0000000000000000000000000000000000000170" {
		t.Fatalf("unexpected product address %s", addrs.Product.Hex())
	}
}

func TestParseAddressesRejectsBadHex(t *testing.T) {
	cfg := validStrategyConfig()
	cfg.Operator = "not-an-address"
	if _, err := parseAddresses(cfg); err == nil {
		t.Fatalf("expected error for malformed operator address")
	}
}

func TestParseEngineConfig(t *testing.T) {
	cfg := validStrategyConfig()
	cfg.HedgeDeviation = "0.02"
	cfg.MinDecreaseCollateral = "50"
	out, err := parseEngineConfig(cfg)
	if err != nil {
		t.Fatalf("parseEngineConfig: %v", err)
	}
	if !out.TargetLeverage.Equal(sdkmath.NewIntWithDecimal(6, 18)) {
		t.Fatalf("target leverage = %s", out.TargetLeverage)
	}
	if !out.HedgeDeviationThreshold.Equal(sdkmath.NewIntWithDecimal(2, 16)) {
		t.Fatalf("hedge deviation = %s", out.HedgeDeviationThreshold)
	}
	// response deviation falls back to 1%
	if !out.ResponseDeviationThreshold.Equal(sdkmath.NewIntWithDecimal(1, 16)) {
		t.Fatalf("response deviation = %s", out.ResponseDeviationThreshold)
	}
	if !out.MinDecreaseCollateral.Equal(sdkmath.NewInt(50)) {
		t.Fatalf("min decrease collateral = %s", out.MinDecreaseCollateral)
	}
}

func TestParseEngineConfigRejectsBadRatio(t *testing.T) {
	cfg := validStrategyConfig()
	cfg.MaxLeverage = "eleven"
	if _, err := parseEngineConfig(cfg); err == nil {
		t.Fatalf("expected error for malformed leverage")
	}
}

func TestParsePath(t *testing.T) {
	path, err := parsePath([]string{
		"0x0000000000000000000000000000000000000160",
		"0x0000000000000000000000000000000000000180",
		"0x0000000000000000000000000000000000000170",
	})
	if err != nil {
		t.Fatalf("parsePath: %v", err)
	}
	if len(path) != 3 {
		t.Fatalf("expected 3 hops, got %d", len(path))
	}
	if _, err := parsePath([]string{"0xzz"}); err == nil {
		t.Fatalf("expected error for malformed hop")
	}
}

func TestParseFeedPrice(t *testing.T) {
	cases := []struct {
		raw  string
		want sdkmath.Int
	}{
		{`"1.25"`, sdkmath.NewIntWithDecimal(125, 16)},
		{`1.25`, sdkmath.NewIntWithDecimal(125, 16)},
		{`"3000"`, sdkmath.NewIntWithDecimal(3, 21)},
	}
	for _, tc := range cases {
		got, err := parseFeedPrice(json.RawMessage(tc.raw))
		if err != nil {
			t.Fatalf("parseFeedPrice(%s): %v", tc.raw, err)
		}
		if !got.Equal(tc.want) {
			t.Fatalf("parseFeedPrice(%s) = %s, want %s", tc.raw, got, tc.want)
		}
	}
	for _, raw := range []string{`null`, `""`, `"0"`, `"-1"`, `"abc"`} {
		if _, err := parseFeedPrice(json.RawMessage(raw)); err == nil {
			t.Fatalf("expected error for %s", raw)
		}
	}
}
