package execution

import (
	"context"
	"testing"

	"polymarket-arb/internal/config"
	"polymarket-arb/pkg/types"
)

func TestPairState_String(t *testing.T) {
	cases := map[PairState]string{
		PairCreated:     "CREATED",
		PairLeg1Pending: "LEG1_PENDING",
		PairFullyFilled: "FULLY_FILLED",
		PairUnwound:     "UNWOUND",
		PairState(999):  "UNKNOWN",
	}
	for state, want := range cases {
		if got := state.String(); got != want {
			t.Errorf("PairState(%d).String() = %q, want %q", state, got, want)
		}
	}
}

func TestPairedOrder_IsHedgedAndNeedsUnwind(t *testing.T) {
	fullyFilled := PairedOrder{State: PairFullyFilled}
	if !fullyFilled.IsHedged() {
		t.Error("expected FULLY_FILLED to be hedged")
	}
	if fullyFilled.NeedsUnwind() {
		t.Error("expected FULLY_FILLED to not need an unwind")
	}

	leg2Failed := PairedOrder{State: PairLeg2Failed}
	if leg2Failed.IsHedged() {
		t.Error("expected LEG2_FAILED to be unhedged")
	}
	if !leg2Failed.NeedsUnwind() {
		t.Error("expected LEG2_FAILED to need an unwind")
	}

	partial := PairedOrder{State: PairPartialFill}
	if !partial.NeedsUnwind() {
		t.Error("expected PARTIAL_FILL to need an unwind")
	}
}

func TestPairedOrder_UnhedgedExposure(t *testing.T) {
	pair := PairedOrder{
		State: PairLeg2Failed,
		Leg1:  Leg{FilledSize: 100, AvgFillPrice: 0.40},
		Leg2:  Leg{FilledSize: 0, AvgFillPrice: 0},
	}
	got := pair.UnhedgedExposure()
	want := 40.0
	if got < want-1e-9 || got > want+1e-9 {
		t.Errorf("expected unhedged exposure 40, got %f", got)
	}
}

func TestPairedOrder_UnhedgedExposure_ZeroWhenHedged(t *testing.T) {
	pair := PairedOrder{
		State: PairFullyFilled,
		Leg1:  Leg{FilledSize: 100, AvgFillPrice: 0.40},
		Leg2:  Leg{FilledSize: 100, AvgFillPrice: 0.55},
	}
	if got := pair.UnhedgedExposure(); got != 0 {
		t.Errorf("expected 0 exposure once hedged, got %f", got)
	}
}

func TestPairedOrder_IsTerminal(t *testing.T) {
	terminal := []PairState{PairFullyFilled, PairUnwound, PairAbandoned, PairCanceled, PairLeg1Failed}
	for _, s := range terminal {
		p := PairedOrder{State: s}
		if !p.IsTerminal() {
			t.Errorf("expected %s to be terminal", s)
		}
	}
	nonTerminal := []PairState{PairCreated, PairLeg1Pending, PairLeg2Pending, PairPartialFill, PairUnwindPending}
	for _, s := range nonTerminal {
		p := PairedOrder{State: s}
		if p.IsTerminal() {
			t.Errorf("expected %s to not be terminal", s)
		}
	}
}

func newTestExecutor(cfg config.ExecutionConfig) *PairedExecutor {
	return &PairedExecutor{cfg: cfg, pairs: make(map[string]PairedOrder)}
}

func TestCalculateAdjustedPrice_WorsensByRetryCount(t *testing.T) {
	e := newTestExecutor(config.ExecutionConfig{RetryBpsPerAttempt: 10}) // 10bps = 0.1%

	buyPrice := e.calculateAdjustedPrice(0.50, types.BUY, 2)
	wantBuy := 0.50 * (1 + 2*0.0010)
	if buyPrice < wantBuy-1e-9 || buyPrice > wantBuy+1e-9 {
		t.Errorf("expected buy price to worsen upward to %f, got %f", wantBuy, buyPrice)
	}

	sellPrice := e.calculateAdjustedPrice(0.50, types.SELL, 2)
	wantSell := 0.50 * (1 - 2*0.0010)
	if sellPrice < wantSell-1e-9 || sellPrice > wantSell+1e-9 {
		t.Errorf("expected sell price to worsen downward to %f, got %f", wantSell, sellPrice)
	}
}

func TestCalculateUnwindPrice_DiscountsOrPremiumByEntrySide(t *testing.T) {
	e := newTestExecutor(config.ExecutionConfig{UnwindWorsenBps: 100}) // 100bps = 1%

	// Bought at 0.50, must sell to unwind -> price should be below entry.
	unwindSell := e.calculateUnwindPrice(0.50, types.BUY)
	if unwindSell >= 0.50 {
		t.Errorf("expected unwind price below entry for a bought position, got %f", unwindSell)
	}

	// Sold at 0.50, must buy back to unwind -> price should be above entry.
	unwindBuy := e.calculateUnwindPrice(0.50, types.SELL)
	if unwindBuy <= 0.50 {
		t.Errorf("expected unwind price above entry for a sold position, got %f", unwindBuy)
	}
}

func TestParseOrderState(t *testing.T) {
	cases := map[string]types.OrderState{
		"live":     types.OrderAcknowledged,
		"matched":  types.OrderAcknowledged,
		"canceled": types.OrderCanceled,
		"rejected": types.OrderRejected,
		"expired":  types.OrderExpired,
		"unknown":  types.OrderSent,
	}
	for status, want := range cases {
		if got := parseOrderState(status); got != want {
			t.Errorf("parseOrderState(%q) = %s, want %s", status, got, want)
		}
	}
}

func TestRetryLeg_GivesUpWhenAdjustmentExceedsCap(t *testing.T) {
	e := newTestExecutor(config.ExecutionConfig{
		RetryBpsPerAttempt:      500, // 5% per attempt, deliberately huge
		MaxPriceAdjustmentBps:   10,
		MinEdgeAfterAdjustment:  0,
	})
	pair := &PairedOrder{PairID: "p1"}
	leg := &Leg{Price: 0.50, Size: 100, Side: types.BUY}

	ok := e.retryLeg(context.Background(), pair, leg, 0.05)
	if ok {
		t.Error("expected retry to give up once the adjustment exceeds the bps cap")
	}
}

func TestRetryLeg_GivesUpWhenEdgeTooSmall(t *testing.T) {
	e := newTestExecutor(config.ExecutionConfig{
		RetryBpsPerAttempt:     50,
		MaxPriceAdjustmentBps:  1000,
		MinEdgeAfterAdjustment: 100, // 100 cents required, impossible to clear
	})
	pair := &PairedOrder{PairID: "p1"}
	leg := &Leg{Price: 0.50, Size: 100, Side: types.BUY}

	ok := e.retryLeg(context.Background(), pair, leg, 0.01)
	if ok {
		t.Error("expected retry to give up once remaining edge is too small")
	}
}
