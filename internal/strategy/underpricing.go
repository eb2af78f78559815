package strategy

import (
	"fmt"
	"math"
	"time"

	"polymarket-arb/internal/config"
	"polymarket-arb/internal/marketdata"
	"polymarket-arb/pkg/types"
)

// SizingInputs carries the portfolio state a strategy needs to size a
// signal without reaching into shared state itself — evaluate stays a
// pure function of its arguments plus its own rolling history.
type SizingInputs struct {
	AvailableBalance  float64
	AvailableHeadroom float64 // remaining notional before hitting an exposure cap
}

// UnderpricingStrategy detects a two-outcome arbitrage: the YES and NO
// asks summing to less than what the venue pays out after fees. Edge is
// expressed in cents: (1-fee)*100 - (yes_ask+no_ask)*100.
type UnderpricingStrategy struct {
	cfg config.UnderpricingConfig
}

// NewUnderpricingStrategy builds an underpricing detector from config.
func NewUnderpricingStrategy(cfg config.UnderpricingConfig) *UnderpricingStrategy {
	return &UnderpricingStrategy{cfg: cfg}
}

// calculateEdgeCents returns the edge, in cents, of buying both legs at
// the given asks: (1 - fee_rate)*100 - (yesAsk+noAsk)*100.
func calculateEdgeCents(yesAsk, noAsk float64, feeBps float64) float64 {
	netPayout := 1.0 * (1.0 - feeBps/10000.0)
	return (netPayout - (yesAsk + noAsk)) * 100.0
}

// isProfitable reports whether edgeCents clears minEdgeCents. Strict
// inequality: a signal priced exactly at the threshold does not trade.
func isProfitable(edgeCents, minEdgeCents float64) bool {
	return edgeCents > minEdgeCents
}

// Evaluate inspects the book for an underpriced pair and, if profitable,
// returns two paired BUY signals (one per outcome). Returns nil otherwise.
func (s *UnderpricingStrategy) Evaluate(book *marketdata.BinaryMarketBook, now time.Time, sizing SizingInputs, maxSpreadBps float64) []types.Signal {
	if !s.cfg.Enabled {
		return nil
	}
	if !book.HasLiquidity() {
		return nil
	}
	if maxSpreadBps > 0 {
		if book.Yes().SpreadBps() > maxSpreadBps || book.No().SpreadBps() > maxSpreadBps {
			return nil
		}
	}

	yesAsk, ok := book.Yes().BestAsk()
	if !ok {
		return nil
	}
	noAsk, ok := book.No().BestAsk()
	if !ok {
		return nil
	}

	feeBps := float64(s.cfg.FeeRateBps)
	edgeCents := calculateEdgeCents(yesAsk.Price, noAsk.Price, feeBps)
	if !isProfitable(edgeCents, s.cfg.MinEdge) {
		return nil
	}

	size := math.Min(sizing.AvailableBalance/2, s.cfg.MaxSize)
	size = math.Min(size, sizing.AvailableHeadroom)
	size = math.Min(size, math.Min(yesAsk.Size, noAsk.Size))
	if size <= 0 {
		return nil
	}

	expectedEdge := (1.0 - feeBps/10000.0) - (yesAsk.Price + noAsk.Price)
	reason := fmt.Sprintf("underpriced pair: yes_ask=%.4f no_ask=%.4f edge=%.2fc", yesAsk.Price, noAsk.Price, edgeCents)

	yesSignal := types.Signal{
		Strategy:     "underpricing",
		MarketID:     book.MarketID(),
		TokenID:      book.Yes().Symbol(),
		Side:         types.BUY,
		Price:        yesAsk.Price,
		Size:         size,
		ExpectedEdge: expectedEdge,
		Confidence:   1.0,
		GeneratedAt:  now,
		Reason:       reason,
		PairTokenID:  book.No().Symbol(),
		PairSide:     types.BUY,
		PairPrice:    noAsk.Price,
	}
	noSignal := types.Signal{
		Strategy:     "underpricing",
		MarketID:     book.MarketID(),
		TokenID:      book.No().Symbol(),
		Side:         types.BUY,
		Price:        noAsk.Price,
		Size:         size,
		ExpectedEdge: expectedEdge,
		Confidence:   1.0,
		GeneratedAt:  now,
		Reason:       reason,
		PairTokenID:  book.Yes().Symbol(),
		PairSide:     types.BUY,
		PairPrice:    yesAsk.Price,
	}

	return []types.Signal{yesSignal, noSignal}
}
