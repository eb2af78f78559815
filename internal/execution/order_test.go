package execution

import (
	"testing"
	"time"

	"polymarket-arb/pkg/types"
)

func testOrderSignal() types.Signal {
	return types.Signal{
		MarketID: "mkt-1",
		TokenID:  "tok-yes",
		Side:     types.BUY,
		Price:    0.45,
		Size:     100,
	}
}

func TestNewOrder_StartsPending(t *testing.T) {
	o := NewOrder("underpricing", testOrderSignal(), types.OrderTypeIOC)
	if o.State != types.OrderPending {
		t.Errorf("expected PENDING, got %s", o.State)
	}
	if o.RemainingSize != 100 {
		t.Errorf("expected remaining size 100, got %f", o.RemainingSize)
	}
	if o.ClientOrderID == "" {
		t.Error("expected a generated client order id")
	}
}

func TestGenerateOrderID_Unique(t *testing.T) {
	a := GenerateOrderID()
	b := GenerateOrderID()
	if a == b {
		t.Errorf("expected unique order ids, got %s twice", a)
	}
}

func TestMarkPartialFill_AccumulatesAndCompletes(t *testing.T) {
	o := NewOrder("underpricing", testOrderSignal(), types.OrderTypeIOC)
	o.MarkSent()
	o.MarkAcknowledged("EX-1", 10*time.Millisecond)

	o.MarkPartialFill(types.Fill{Price: 0.45, Size: 40, Fee: 0.1, Timestamp: time.Now()})
	if o.State != types.OrderPartial {
		t.Errorf("expected PARTIAL after 40/100, got %s", o.State)
	}
	if o.FilledSize != 40 || o.RemainingSize != 60 {
		t.Errorf("expected filled=40 remaining=60, got filled=%f remaining=%f", o.FilledSize, o.RemainingSize)
	}

	o.MarkPartialFill(types.Fill{Price: 0.46, Size: 60, Fee: 0.15, Timestamp: time.Now()})
	if o.State != types.OrderFilled {
		t.Errorf("expected FILLED once fully matched, got %s", o.State)
	}
	if !o.IsTerminal() {
		t.Error("expected FILLED to be terminal")
	}
}

func TestAverageFillPrice_SizeWeighted(t *testing.T) {
	o := NewOrder("underpricing", testOrderSignal(), types.OrderTypeIOC)
	o.MarkPartialFill(types.Fill{Price: 0.40, Size: 50, Timestamp: time.Now()})
	o.MarkPartialFill(types.Fill{Price: 0.50, Size: 50, Timestamp: time.Now()})

	got := o.AverageFillPrice()
	want := 0.45
	if got < want-1e-9 || got > want+1e-9 {
		t.Errorf("expected size-weighted average 0.45, got %f", got)
	}
}

func TestAverageFillPrice_ZeroBeforeAnyFill(t *testing.T) {
	o := NewOrder("underpricing", testOrderSignal(), types.OrderTypeIOC)
	if got := o.AverageFillPrice(); got != 0 {
		t.Errorf("expected 0 before any fill, got %f", got)
	}
}

func TestMarkRejected_SetsReasonAndTerminal(t *testing.T) {
	o := NewOrder("underpricing", testOrderSignal(), types.OrderTypeIOC)
	o.MarkRejected("insufficient balance")
	if o.RejectReason != "insufficient balance" {
		t.Errorf("expected reject reason recorded, got %q", o.RejectReason)
	}
	if !o.IsTerminal() {
		t.Error("expected REJECTED to be terminal")
	}
}

func TestTimeToAckAndFill_ZeroUntilSet(t *testing.T) {
	o := NewOrder("underpricing", testOrderSignal(), types.OrderTypeIOC)
	if o.TimeToAck() != 0 {
		t.Error("expected zero time-to-ack before acknowledgment")
	}
	if o.TimeToFill() != 0 {
		t.Error("expected zero time-to-fill before any fill")
	}
}
