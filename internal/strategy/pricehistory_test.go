package strategy

import (
	"testing"
	"time"
)

func TestPriceHistory_EvictsOutsideWindow(t *testing.T) {
	h := NewPriceHistory(100*time.Millisecond, 100)
	base := time.Now().Add(-time.Second)

	h.Add(100, base)
	h.Add(101, base.Add(500*time.Millisecond))
	h.Add(102, time.Now())

	if h.Len() == 0 {
		t.Fatal("expected at least the most recent sample to survive")
	}
	latest, ok := h.Latest()
	if !ok || latest != 102 {
		t.Errorf("expected latest price 102, got %f (ok=%v)", latest, ok)
	}
}

func TestPriceHistory_CapsAtMaxLen(t *testing.T) {
	h := NewPriceHistory(time.Hour, 5)
	now := time.Now()
	for i := 0; i < 20; i++ {
		h.Add(float64(i), now.Add(time.Duration(i)*time.Millisecond))
	}
	if h.Len() != 5 {
		t.Errorf("expected length capped at 5, got %d", h.Len())
	}
	latest, ok := h.Latest()
	if !ok || latest != 19 {
		t.Errorf("expected latest sample to be the most recently added, got %f", latest)
	}
}

func TestPriceHistory_MoveBps(t *testing.T) {
	h := NewPriceHistory(time.Hour, 100)
	now := time.Now()
	h.Add(100000, now.Add(-2*time.Second))
	h.Add(100500, now)

	move, ok := h.MoveBps(5 * time.Second)
	if !ok {
		t.Fatal("expected a move to be computable")
	}
	if move <= 0 {
		t.Errorf("expected a positive bps move, got %f", move)
	}
}

func TestPriceHistory_LogReturns(t *testing.T) {
	h := NewPriceHistory(time.Hour, 100)
	now := time.Now()
	h.Add(100, now.Add(-2*time.Second))
	h.Add(110, now.Add(-time.Second))
	h.Add(100, now)

	returns := h.LogReturns()
	if len(returns) != 2 {
		t.Fatalf("expected 2 log returns from 3 samples, got %d", len(returns))
	}
}

func TestPriceHistory_EmptyHistoryHasNoMove(t *testing.T) {
	h := NewPriceHistory(time.Hour, 100)
	if _, ok := h.MoveBps(time.Second); ok {
		t.Error("expected no move computable with no samples")
	}
	if returns := h.LogReturns(); returns != nil {
		t.Error("expected no log returns with no samples")
	}
}
