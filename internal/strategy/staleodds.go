package strategy

import (
	"fmt"
	"math"
	"time"

	"polymarket-arb/internal/config"
	"polymarket-arb/internal/marketdata"
	"polymarket-arb/pkg/types"
)

// StaleOddsStrategy watches the reference price for a sharp move the
// market hasn't repriced yet, trading the gap between the book's implied
// probability and the probability implied by the reference move.
type StaleOddsStrategy struct {
	cfg     config.StaleOddsConfig
	history *PriceHistory
}

// NewStaleOddsStrategy builds a stale-odds detector from config.
func NewStaleOddsStrategy(cfg config.StaleOddsConfig) *StaleOddsStrategy {
	window := cfg.HistoryWindow
	if window <= 0 {
		window = 5 * time.Minute
	}
	return &StaleOddsStrategy{
		cfg:     cfg,
		history: NewPriceHistory(window, 100),
	}
}

// detectMoveBps returns the signed reference move, in basis points, over
// the configured move window.
func (s *StaleOddsStrategy) detectMoveBps() (float64, bool) {
	window := s.cfg.MoveWindow
	if window <= 0 {
		window = time.Second
	}
	return s.history.MoveBps(window)
}

// impliedProbability returns the market's current implied probability of
// YES, its mid price.
func impliedProbability(book *marketdata.BinaryMarketBook) float64 {
	return book.YesImpliedProbability()
}

// expectedProbability estimates where the YES probability should sit
// given a signed reference move: a move up raises the probability of a
// "BTC above X" YES outcome, scaled by a fixed sensitivity so a 100bps
// move shifts the estimate by 0.10 of probability, clamped to [0,1].
func expectedProbability(currentProb float64, moveBps float64) float64 {
	const sensitivity = 0.0010 // probability shift per bps of reference move
	shifted := currentProb + moveBps*sensitivity
	if shifted > 1 {
		shifted = 1
	}
	if shifted < 0 {
		shifted = 0
	}
	return shifted
}

// Evaluate records the latest reference tick and, if the market hasn't
// repriced after a sufficiently large reference move, emits a single BUY
// signal on the favored side.
func (s *StaleOddsStrategy) Evaluate(book *marketdata.BinaryMarketBook, ref types.ReferencePrice, now time.Time, sizing SizingInputs) []types.Signal {
	if !s.cfg.Enabled {
		return nil
	}
	s.history.Add(ref.Mid, now)

	if !book.HasLiquidity() {
		return nil
	}

	moveBps, ok := s.detectMoveBps()
	if !ok || math.Abs(moveBps) < s.cfg.StaleBpsMove {
		return nil
	}

	staleWindow := s.cfg.StaleWindow
	if staleWindow <= 0 {
		staleWindow = 10 * time.Second
	}
	if !book.IsStale(staleWindow) {
		return nil
	}

	marketProb := impliedProbability(book)
	expectedProb := expectedProbability(marketProb, moveBps)
	gap := expectedProb - marketProb
	minGap := s.cfg.MinProbabilityGap
	if minGap <= 0 {
		minGap = 0.01
	}
	if math.Abs(gap) < minGap {
		return nil
	}

	favorYes := gap > 0
	var ob *marketdata.OrderBook
	var tokenID string
	if favorYes {
		ob = book.Yes()
		tokenID = book.Yes().Symbol()
	} else {
		ob = book.No()
		tokenID = book.No().Symbol()
	}
	ask, ok := ob.BestAsk()
	if !ok {
		return nil
	}

	edge := math.Abs(gap)
	probability := expectedProb
	if !favorYes {
		probability = 1 - expectedProb
	}
	kelly := s.cfg.KellyFraction
	if kelly <= 0 {
		kelly = 0.25
	}
	maxSize := math.Min(sizing.AvailableHeadroom, s.cfg.MaxSize)
	size := kellySize(edge, probability, kelly, maxSize)
	if size <= 0 {
		return nil
	}
	size = math.Min(size, ask.Size)
	if size <= 0 {
		return nil
	}

	side := "NO"
	if favorYes {
		side = "YES"
	}
	reason := fmt.Sprintf("stale odds: ref_move=%.1fbps market_prob=%.3f expected_prob=%.3f favoring %s",
		moveBps, marketProb, expectedProb, side)

	return []types.Signal{{
		Strategy:     "stale_odds",
		MarketID:     book.MarketID(),
		TokenID:      tokenID,
		Side:         types.BUY,
		Price:        ask.Price,
		Size:         size,
		ExpectedEdge: edge,
		Confidence:   math.Min(1.0, edge/minGap),
		GeneratedAt:  now,
		Reason:       reason,
	}}
}

// kellySize applies a fractional Kelly criterion (f* = edge/(1-probability),
// scaled down by fraction) bounded by maxSize. Shared with the volatility
// strategy.
func kellySize(edge, probability, fraction, maxSize float64) float64 {
	q := 1.0 - probability
	if q <= 0.01 {
		q = 0.01
	}
	kellyFull := edge / q
	kellyAdjusted := kellyFull * fraction
	size := math.Min(kellyAdjusted*maxSize, maxSize)
	if size < 1.0 {
		return 0
	}
	return size
}
