package engine

import (
	"testing"

	"polymarket-arb/internal/config"
	"polymarket-arb/pkg/types"
)

func TestParseMode(t *testing.T) {
	cases := map[string]types.TradingMode{
		"live":    types.ModeLive,
		"paper":   types.ModePaper,
		"dry_run": types.ModeDryRun,
		"":        types.ModeDryRun,
		"bogus":   types.ModeDryRun,
	}
	for in, want := range cases {
		if got := parseMode(in); got != want {
			t.Errorf("parseMode(%q) = %s, want %s", in, got, want)
		}
	}
}

func TestExposureSoftLimitsFrom_CopiesFields(t *testing.T) {
	cfg := config.ExposureConfig{
		MaxTotalExposure:      1000,
		MaxMarketExposure:     200,
		MaxPositionSize:       50,
		MaxOpenPositions:      10,
		MaxPositionsPerMarket: 2,
	}
	got := exposureSoftLimitsFrom(cfg)
	if got.MaxTotalExposure != 1000 || got.MaxMarketExposure != 200 || got.MaxPositionSize != 50 {
		t.Errorf("unexpected soft limits: %+v", got)
	}
}

func TestKillswitchConfigFrom_FallsBackToDefaultsWhenUnset(t *testing.T) {
	cfg := killswitchConfigFrom(config.Config{})
	def := cfg
	if def.DailyLossLimit <= 0 || def.MaxExposure <= 0 || def.MaxConnectivityFailures <= 0 {
		t.Errorf("expected zero-value risk/exposure config to fall back to conservative defaults, got %+v", cfg)
	}
}

func TestKillswitchConfigFrom_UsesConfiguredThresholds(t *testing.T) {
	cfg := killswitchConfigFrom(config.Config{
		Risk:     config.RiskConfig{MaxDailyLoss: 75, MaxConnectivityIssues: 5},
		Exposure: config.ExposureConfig{MaxTotalExposure: 500},
	})
	if cfg.DailyLossLimit != 75 {
		t.Errorf("expected configured daily loss limit 75, got %f", cfg.DailyLossLimit)
	}
	if cfg.MaxExposure != 500 {
		t.Errorf("expected configured max exposure 500, got %f", cfg.MaxExposure)
	}
	if cfg.MaxConnectivityFailures != 5 {
		t.Errorf("expected configured connectivity failure limit 5, got %d", cfg.MaxConnectivityFailures)
	}
}

func TestFillFromWSEvent_ParsesNumericFields(t *testing.T) {
	evt := types.WSTradeEvent{
		ID:      "t1",
		Market:  "mkt-1",
		AssetID: "yes-tok",
		Side:    "SELL",
		Size:    "12.5",
		Price:   "0.63",
	}
	fill, err := fillFromWSEvent(evt)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if fill.Side != types.SELL {
		t.Errorf("expected SELL side, got %s", fill.Side)
	}
	if fill.Price != 0.63 || fill.Size != 12.5 {
		t.Errorf("expected price=0.63 size=12.5, got price=%f size=%f", fill.Price, fill.Size)
	}
	if fill.MarketID != "mkt-1" || fill.TokenID != "yes-tok" {
		t.Errorf("expected market/token ids to round-trip, got market=%s token=%s", fill.MarketID, fill.TokenID)
	}
}

func TestFillFromWSEvent_RejectsMalformedPrice(t *testing.T) {
	evt := types.WSTradeEvent{Price: "not-a-number", Size: "1"}
	if _, err := fillFromWSEvent(evt); err == nil {
		t.Error("expected an error parsing a malformed price")
	}
}
