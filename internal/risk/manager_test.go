package risk

import (
	"log/slog"
	"os"
	"testing"
	"time"

	"polymarket-arb/internal/config"
	"polymarket-arb/pkg/types"
)

type fakeKillswitch struct {
	active    bool
	activated []string
}

func (f *fakeKillswitch) Activate(reason, detail string) {
	f.active = true
	f.activated = append(f.activated, reason)
}
func (f *fakeKillswitch) IsActive() bool { return f.active }

func testRiskConfig() config.RiskConfig {
	return config.RiskConfig{
		MaxPositionPerMarket:  100,
		MaxDailyLoss:          50,
		MaxOrdersPerWindow:    5,
		OrderRateWindowSec:    1,
		MaxConnectivityIssues: 3,
	}
}

func newTestManager() *Manager {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	return NewManager(testRiskConfig(), 1000, &fakeKillswitch{}, logger)
}

func TestCheckOrder_AllowsUnderLimits(t *testing.T) {
	rm := newTestManager()
	result := rm.CheckOrder(types.Signal{MarketID: "m1"}, 50)
	if !result.Allowed {
		t.Errorf("expected order under limits to be allowed, got denied: %s", result.Reason)
	}
}

func TestCheckOrder_DeniesWhenKillSwitchActive(t *testing.T) {
	kill := &fakeKillswitch{active: true}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	rm := NewManager(testRiskConfig(), 1000, kill, logger)

	result := rm.CheckOrder(types.Signal{MarketID: "m1"}, 10)
	if result.Allowed {
		t.Error("expected order to be denied while kill switch is active")
	}
}

func TestCheckOrder_DeniesOverPositionLimit(t *testing.T) {
	rm := newTestManager()
	rm.RecordFill(types.Fill{MarketID: "m1", Side: types.BUY, Price: 0.50, Size: 300})

	result := rm.CheckPositionLimit("m1")
	if result.Allowed {
		t.Error("expected per-market position limit to be breached")
	}
}

func TestCheckOrder_DeniesInsufficientBalance(t *testing.T) {
	rm := newTestManager()
	result := rm.CheckOrder(types.Signal{MarketID: "m1"}, 5000)
	if result.Allowed {
		t.Error("expected order notional exceeding balance to be denied")
	}
}

func TestRecordFill_TracksExposureBySide(t *testing.T) {
	rm := newTestManager()
	rm.RecordFill(types.Fill{MarketID: "m1", Side: types.BUY, Price: 0.50, Size: 100})
	if got := rm.ExposureForMarket("m1"); got != 50 {
		t.Errorf("expected exposure 50 after a 100-unit buy at 0.50, got %f", got)
	}

	rm.RecordFill(types.Fill{MarketID: "m1", Side: types.SELL, Price: 0.50, Size: 40})
	if got := rm.ExposureForMarket("m1"); got != 30 {
		t.Errorf("expected exposure 30 after a partial sell, got %f", got)
	}
}

func TestRecordPnL_TripsKillSwitchOnDailyLossBreach(t *testing.T) {
	kill := &fakeKillswitch{}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	rm := NewManager(testRiskConfig(), 1000, kill, logger)

	rm.RecordPnL(-60)
	if !kill.active {
		t.Error("expected kill switch to activate once daily loss exceeds the limit")
	}
}

func TestRecordPnL_NoTripUnderLimit(t *testing.T) {
	kill := &fakeKillswitch{}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	rm := NewManager(testRiskConfig(), 1000, kill, logger)

	rm.RecordPnL(-20)
	if kill.active {
		t.Error("expected kill switch to stay inactive under the daily loss limit")
	}
}

func TestDailyLossRemaining(t *testing.T) {
	rm := newTestManager()
	rm.RecordPnL(-30)
	if got := rm.DailyLossRemaining(); got != 20 {
		t.Errorf("expected 20 remaining after a -30 pnl against a 50 limit, got %f", got)
	}
}

func TestAvailableBalance_ReflectsExposure(t *testing.T) {
	rm := newTestManager()
	rm.RecordFill(types.Fill{MarketID: "m1", Side: types.BUY, Price: 0.50, Size: 200})
	if got := rm.AvailableBalance(); got != 900 {
		t.Errorf("expected 1000-100=900 available, got %f", got)
	}
}

func TestCanPlaceOrder_RespectsRateWindow(t *testing.T) {
	rm := newTestManager()
	for i := 0; i < 5; i++ {
		if !rm.CanPlaceOrder() {
			t.Fatalf("expected order %d to be allowed within the rate window", i)
		}
		rm.RecordOrderPlaced()
	}
	if rm.CanPlaceOrder() {
		t.Error("expected the 6th order within the window to be rate-limited")
	}
}

func TestShouldHaltTrading_ClearsAfterQuietPeriod(t *testing.T) {
	rm := newTestManager()
	for i := 0; i < 3; i++ {
		rm.RecordConnectivityIssue()
	}
	if !rm.ShouldHaltTrading() {
		t.Error("expected trading halt after hitting the connectivity issue threshold")
	}

	rm.lastConnIssue = time.Now().Add(-2 * time.Minute)
	if rm.ShouldHaltTrading() {
		t.Error("expected the halt to clear once the issue window passed")
	}
}

func TestAverageSlippage_MeanOfWindow(t *testing.T) {
	rm := newTestManager()
	rm.RecordSlippage(10)
	rm.RecordSlippage(20)
	if got := rm.AverageSlippage(); got != 15 {
		t.Errorf("expected average slippage 15, got %f", got)
	}
}

func TestResetDailyCounters(t *testing.T) {
	rm := newTestManager()
	rm.RecordPnL(-10)
	rm.ResetDailyCounters()
	if got := rm.DailyPnL(); got != 0 {
		t.Errorf("expected daily pnl reset to 0, got %f", got)
	}
}
