package strategy

import (
	"testing"
	"time"

	"polymarket-arb/internal/config"
	"polymarket-arb/pkg/types"
)

func TestStaleOddsStrategy_NoSignalWithoutHistory(t *testing.T) {
	cfg := config.StaleOddsConfig{
		Enabled: true, HistoryWindow: time.Minute, MoveWindow: time.Second,
		StaleBpsMove: 20, StaleWindow: 10 * time.Second, MinProbabilityGap: 0.05, MaxSize: 50,
	}
	s := NewStaleOddsStrategy(cfg)
	book := newTestBook(0.50, 100, 0.50, 100)

	signals := s.Evaluate(book, types.ReferencePrice{Mid: 100000}, time.Now(), SizingInputs{AvailableHeadroom: 100})
	if signals != nil {
		t.Errorf("expected no signal with only one sample, got %+v", signals)
	}
}

func TestStaleOddsStrategy_EmitsOnStaleMarketAfterLargeMove(t *testing.T) {
	cfg := config.StaleOddsConfig{
		Enabled: true, HistoryWindow: time.Minute, MoveWindow: 5 * time.Second,
		StaleBpsMove: 20, StaleWindow: time.Millisecond, MinProbabilityGap: 0.01, KellyFraction: 0.25, MaxSize: 1000,
	}
	s := NewStaleOddsStrategy(cfg)
	book := newTestBook(0.50, 1000, 0.50, 1000)

	now := time.Now()
	s.history.Add(100000, now.Add(-4*time.Second))
	time.Sleep(2 * time.Millisecond) // ensure book.IsStale(1ms) trips

	signals := s.Evaluate(book, types.ReferencePrice{Mid: 103000}, now, SizingInputs{AvailableHeadroom: 1000})
	if len(signals) != 1 {
		t.Fatalf("expected a single favored-side signal, got %d", len(signals))
	}
	if signals[0].TokenID != "yes-token" {
		t.Errorf("expected the up-move to favor YES, got token %s", signals[0].TokenID)
	}
}

func TestStaleOddsStrategy_NoSignalWhenBookIsFresh(t *testing.T) {
	cfg := config.StaleOddsConfig{
		Enabled: true, HistoryWindow: time.Minute, MoveWindow: 5 * time.Second,
		StaleBpsMove: 20, StaleWindow: time.Hour, MinProbabilityGap: 0.01, MaxSize: 1000,
	}
	s := NewStaleOddsStrategy(cfg)
	book := newTestBook(0.50, 1000, 0.50, 1000)

	now := time.Now()
	s.history.Add(100000, now.Add(-4*time.Second))
	signals := s.Evaluate(book, types.ReferencePrice{Mid: 103000}, now, SizingInputs{AvailableHeadroom: 1000})
	if signals != nil {
		t.Errorf("expected no signal while the book is still fresh, got %+v", signals)
	}
}

func TestKellySize_BoundedByMax(t *testing.T) {
	size := kellySize(0.5, 0.6, 1.0, 10)
	if size > 10 {
		t.Errorf("expected kelly size capped at max 10, got %f", size)
	}
}

func TestKellySize_BelowMinimumReturnsZero(t *testing.T) {
	size := kellySize(0.001, 0.5, 0.1, 1000)
	if size != 0 {
		t.Errorf("expected negligible edge to size to zero, got %f", size)
	}
}
