package strategy

import (
	"testing"
	"time"

	"polymarket-arb/internal/config"
	"polymarket-arb/internal/marketdata"
)

func TestCalculateEdgeCents_ZeroFee(t *testing.T) {
	edge := calculateEdgeCents(0.46, 0.48, 0)
	want := 6.0
	if diff := edge - want; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("expected edge %.4f, got %.4f", want, edge)
	}
}

func TestCalculateEdgeCents_WithFee(t *testing.T) {
	// yes_ask=0.46, no_ask=0.48, fee=2% -> net payout 0.98
	edge := calculateEdgeCents(0.46, 0.48, 200)
	want := 4.0
	if diff := edge - want; diff > 1e-6 || diff < -1e-6 {
		t.Errorf("expected edge %.4f, got %.4f", want, edge)
	}
}

func TestIsProfitable_StrictInequalityAtThreshold(t *testing.T) {
	if isProfitable(2.0, 2.0) {
		t.Error("edge exactly at threshold must not be profitable (strict inequality)")
	}
	if !isProfitable(2.01, 2.0) {
		t.Error("edge above threshold must be profitable")
	}
}

func newTestBook(yesAsk, yesAskSize, noAsk, noAskSize float64) *marketdata.BinaryMarketBook {
	book := marketdata.NewBinaryMarketBook("market1", "yes-token", "no-token", 10)
	book.Yes().UpdateBid(yesAsk-0.01, 100)
	book.Yes().UpdateAsk(yesAsk, yesAskSize)
	book.No().UpdateBid(noAsk-0.01, 100)
	book.No().UpdateAsk(noAsk, noAskSize)
	return book
}

func TestUnderpricingStrategy_EmitsPairedSignals(t *testing.T) {
	cfg := config.UnderpricingConfig{Enabled: true, MinEdge: 1.0, FeeRateBps: 200, MaxSize: 50}
	s := NewUnderpricingStrategy(cfg)
	book := newTestBook(0.46, 100, 0.48, 100)

	signals := s.Evaluate(book, time.Now(), SizingInputs{AvailableBalance: 100, AvailableHeadroom: 100}, 0)

	if len(signals) != 2 {
		t.Fatalf("expected 2 paired signals, got %d", len(signals))
	}
	if signals[0].TokenID != "yes-token" || signals[1].TokenID != "no-token" {
		t.Errorf("unexpected token ids: %+v", signals)
	}
	if signals[0].PairTokenID != "no-token" || signals[1].PairTokenID != "yes-token" {
		t.Errorf("expected cross-referenced pair token ids: %+v", signals)
	}
	if signals[0].Size <= 0 || signals[0].Size != signals[1].Size {
		t.Errorf("expected equal positive sizes on both legs, got %+v", signals)
	}
}

func TestUnderpricingStrategy_NoSignalWhenNotUnderpriced(t *testing.T) {
	cfg := config.UnderpricingConfig{Enabled: true, MinEdge: 1.0, FeeRateBps: 200, MaxSize: 50}
	s := NewUnderpricingStrategy(cfg)
	book := newTestBook(0.50, 100, 0.51, 100)

	signals := s.Evaluate(book, time.Now(), SizingInputs{AvailableBalance: 100, AvailableHeadroom: 100}, 0)
	if signals != nil {
		t.Errorf("expected no signal for a fairly priced book, got %+v", signals)
	}
}

func TestUnderpricingStrategy_DisabledProducesNothing(t *testing.T) {
	cfg := config.UnderpricingConfig{Enabled: false, MinEdge: 1.0, FeeRateBps: 200, MaxSize: 50}
	s := NewUnderpricingStrategy(cfg)
	book := newTestBook(0.40, 100, 0.40, 100)

	signals := s.Evaluate(book, time.Now(), SizingInputs{AvailableBalance: 100, AvailableHeadroom: 100}, 0)
	if signals != nil {
		t.Error("expected disabled strategy to emit nothing")
	}
}

func TestUnderpricingStrategy_ZeroHeadroomBlocksSignal(t *testing.T) {
	cfg := config.UnderpricingConfig{Enabled: true, MinEdge: 1.0, FeeRateBps: 200, MaxSize: 50}
	s := NewUnderpricingStrategy(cfg)
	book := newTestBook(0.46, 100, 0.48, 100)

	signals := s.Evaluate(book, time.Now(), SizingInputs{AvailableBalance: 100, AvailableHeadroom: 0}, 0)
	if signals != nil {
		t.Error("expected no signal when headroom is exhausted")
	}
}
