package execution

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	"polymarket-arb/internal/config"
	"polymarket-arb/internal/risk"
	"polymarket-arb/pkg/types"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newDryRunEngine() *ExecutionEngine {
	rm := risk.NewManager(config.RiskConfig{
		MaxPositionPerMarket: 1000,
		MaxDailyLoss:         1000,
		MaxOrdersPerWindow:   100,
		OrderRateWindowSec:   60,
	}, 10000, nil, testLogger())
	return New(types.ModeDryRun, nil, nil, rm, nil, config.ExecutionConfig{}, testLogger())
}

func testSignal(tokenID string, side types.Side) types.Signal {
	return types.Signal{MarketID: "mkt-1", TokenID: tokenID, Side: side, Price: 0.45, Size: 10}
}

func TestSubmitOrder_DryRunFillsImmediately(t *testing.T) {
	e := newDryRunEngine()
	result := e.SubmitOrder(context.Background(), "underpricing", testSignal("yes-tok", types.BUY), types.OrderTypeIOC)
	if !result.Success {
		t.Fatalf("expected dry-run submission to succeed, got error: %s", result.Error)
	}
	if result.Order.State != types.OrderFilled {
		t.Errorf("expected immediate FILLED in dry-run, got %s", result.Order.State)
	}
	if stats := e.Stats(); stats.TotalFilled != 1 {
		t.Errorf("expected 1 filled order tracked, got %d", stats.TotalFilled)
	}
}

func TestSubmitOrder_DeniedByRiskCheck(t *testing.T) {
	rm := risk.NewManager(config.RiskConfig{MaxPositionPerMarket: 1000, MaxDailyLoss: 1000, MaxOrdersPerWindow: 100, OrderRateWindowSec: 60}, 1, nil, testLogger())
	e := New(types.ModeDryRun, nil, nil, rm, nil, config.ExecutionConfig{}, testLogger())

	result := e.SubmitOrder(context.Background(), "underpricing", testSignal("yes-tok", types.BUY), types.OrderTypeIOC)
	if result.Success {
		t.Error("expected submission to be denied when notional exceeds available balance")
	}
}

func TestSubmitPairedOrder_DryRunComputesPnL(t *testing.T) {
	e := newDryRunEngine()
	yes := testSignal("yes-tok", types.BUY)
	yes.ExpectedEdge = 0.01
	no := testSignal("no-tok", types.BUY)
	no.ExpectedEdge = 0.01

	result := e.SubmitPairedOrder(context.Background(), "underpricing", yes, no)
	if !result.Success {
		t.Fatalf("expected dry-run paired submission to succeed, got: %s", result.Error)
	}
	want := yes.ExpectedEdge * yes.Size
	if result.RealizedPnL < want-1e-9 || result.RealizedPnL > want+1e-9 {
		t.Errorf("expected realized pnl %f, got %f", want, result.RealizedPnL)
	}
}

func TestGetOrder_RoundTrips(t *testing.T) {
	e := newDryRunEngine()
	result := e.SubmitOrder(context.Background(), "underpricing", testSignal("yes-tok", types.BUY), types.OrderTypeIOC)

	got, ok := e.GetOrder(result.Order.ClientOrderID)
	if !ok {
		t.Fatal("expected to find the submitted order by client id")
	}
	if got.TokenID != "yes-tok" {
		t.Errorf("expected round-tripped order to keep its token id, got %s", got.TokenID)
	}
}

func TestGetOrdersForMarket_Filters(t *testing.T) {
	e := newDryRunEngine()
	e.SubmitOrder(context.Background(), "underpricing", testSignal("yes-tok", types.BUY), types.OrderTypeIOC)
	other := testSignal("yes-tok", types.BUY)
	other.MarketID = "mkt-2"
	e.SubmitOrder(context.Background(), "underpricing", other, types.OrderTypeIOC)

	orders := e.GetOrdersForMarket("mkt-1")
	if len(orders) != 1 {
		t.Fatalf("expected 1 order for mkt-1, got %d", len(orders))
	}
}

func TestSubmitPaper_QueuesAndSimulatesFill(t *testing.T) {
	rm := risk.NewManager(config.RiskConfig{MaxPositionPerMarket: 1000, MaxDailyLoss: 1000, MaxOrdersPerWindow: 100, OrderRateWindowSec: 60}, 10000, nil, testLogger())
	cfg := config.ExecutionConfig{PaperFillProbability: 1.0, PaperSimulatedFeeBps: 10}
	e := New(types.ModePaper, nil, nil, rm, nil, cfg, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	e.Start(ctx)

	result := e.SubmitOrder(ctx, "underpricing", testSignal("yes-tok", types.BUY), types.OrderTypeIOC)
	if !result.Success {
		t.Fatalf("expected paper submission to queue successfully, got: %s", result.Error)
	}

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if o, ok := e.GetOrder(result.Order.ClientOrderID); ok && o.IsTerminal() {
			if o.State != types.OrderFilled {
				t.Errorf("expected paper order to fill at 100%% fill probability, got %s", o.State)
			}
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("paper order never reached a terminal state")
}

func TestProcessFill_UnknownOrderIsIgnored(t *testing.T) {
	e := newDryRunEngine()
	e.ProcessFill("does-not-exist", types.Fill{Size: 1})
}
