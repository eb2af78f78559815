package strategy

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"polymarket-arb/internal/config"
	"polymarket-arb/internal/marketdata"
	"polymarket-arb/pkg/types"
)

// strikeRegex extracts a dollar-denominated strike from a market question,
// e.g. "Will BTC be above $100,000 on Jan 31?".
var strikeRegex = regexp.MustCompile(`\$([0-9,]+(?:\.[0-9]+)?)`)

// VolatilityStrategy prices a "BTC above/below strike" binary market with
// a Black-Scholes digital-call probability driven by realized BTC
// volatility, and compares it to the market's own implied probability.
type VolatilityStrategy struct {
	cfg     config.VolatilityConfig
	history *PriceHistory
}

// NewVolatilityStrategy builds a volatility-fair-value strategy from
// config.
func NewVolatilityStrategy(cfg config.VolatilityConfig) *VolatilityStrategy {
	lookback := cfg.LookbackPeriods
	if lookback <= 0 {
		lookback = 24
	}
	interval := cfg.SampleInterval
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	maxSamples := int(time.Duration(lookback) * time.Hour / interval)
	if maxSamples <= 0 {
		maxSamples = 288
	}
	return &VolatilityStrategy{
		cfg:     cfg,
		history: NewPriceHistory(time.Duration(lookback)*time.Hour, maxSamples),
	}
}

// FairValueResult is the outcome of one fair-value calculation, reported
// back to the caller for logging/telemetry even when not tradeable.
type FairValueResult struct {
	FairProbability  float64
	MarketProbability float64
	ProbabilityEdge  float64
	ImpliedVol       float64
	RealizedVol      float64
	IsTradeable      bool
	Reason           string
}

// realizedVolatility annualizes the standard deviation of log returns
// over the retained price history.
func (s *VolatilityStrategy) realizedVolatility() float64 {
	returns := s.history.LogReturns()
	if len(returns) < 9 {
		return s.defaultVol()
	}
	var mean float64
	for _, r := range returns {
		mean += r
	}
	mean /= float64(len(returns))

	var sqSum float64
	for _, r := range returns {
		sqSum += (r - mean) * (r - mean)
	}
	stdev := math.Sqrt(sqSum / float64(len(returns)))

	interval := s.cfg.SampleInterval
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	samplesPerYear := (365.25 * 24 * 3600) / interval.Seconds()
	return stdev * math.Sqrt(samplesPerYear)
}

func (s *VolatilityStrategy) defaultVol() float64 {
	if s.cfg.DefaultAnnualizedVol > 0 {
		return s.cfg.DefaultAnnualizedVol
	}
	return 0.50
}

func normalCDF(x float64) float64 {
	return 0.5 * (1.0 + math.Erf(x/math.Sqrt2))
}

func normalPDF(x float64) float64 {
	return math.Exp(-0.5*x*x) / math.Sqrt(2*math.Pi)
}

func bsD1(spot, strike, ttx, rate, sigma float64) float64 {
	if ttx <= 0 || sigma <= 0 {
		return 0
	}
	return (math.Log(spot/strike) + (rate+0.5*sigma*sigma)*ttx) / (sigma * math.Sqrt(ttx))
}

func bsD2(d1, sigma, ttx float64) float64 {
	return d1 - sigma*math.Sqrt(ttx)
}

// bsProbability is the Black-Scholes digital-call probability N(d2): the
// risk-neutral probability that spot finishes above strike at expiry.
func bsProbability(spot, strike, ttx, rate, sigma float64) float64 {
	if ttx <= 0 {
		if spot >= strike {
			return 1.0
		}
		return 0.0
	}
	d1 := bsD1(spot, strike, ttx, rate, sigma)
	d2 := bsD2(d1, sigma, ttx)
	return normalCDF(d2)
}

// impliedVolatilityFromPrice solves for the sigma that reproduces
// marketProb via Newton-Raphson against the Black-Scholes probability,
// bounded to [1%, 300%].
func impliedVolatilityFromPrice(marketProb, spot, strike, ttx, defaultVol float64) float64 {
	sigma := defaultVol
	const rate = 0.0
	for i := 0; i < 20; i++ {
		calc := bsProbability(spot, strike, ttx, rate, sigma)
		errVal := calc - marketProb
		if math.Abs(errVal) < 0.001 {
			break
		}
		d1 := bsD1(spot, strike, ttx, rate, sigma)
		vega := normalPDF(d1) * math.Sqrt(ttx)
		if vega < 0.001 {
			break
		}
		sigma -= errVal / vega
		sigma = math.Max(0.01, math.Min(3.0, sigma))
	}
	return sigma
}

// parseStrike extracts a dollar strike from a market question.
func parseStrike(question string) float64 {
	match := strikeRegex.FindStringSubmatch(question)
	if match == nil {
		return 0
	}
	cleaned := strings.ReplaceAll(match[1], ",", "")
	v, err := strconv.ParseFloat(cleaned, 64)
	if err != nil {
		return 0
	}
	return v
}

// timeToExpiryYears converts a market end date into a year fraction,
// returning 0 for an already-expired market.
func timeToExpiryYears(endDate, now time.Time) float64 {
	seconds := endDate.Sub(now).Seconds()
	if seconds <= 0 {
		return 0
	}
	return seconds / (365.25 * 24 * 3600)
}

// extractMarketProbability reads the market's implied YES probability as
// the YES mid price.
func extractMarketProbability(book *marketdata.BinaryMarketBook) float64 {
	mid := book.Yes().Mid()
	if mid == 0 {
		return 0.5
	}
	return mid
}

// isMarketTradeable checks liquidity and spread bounds before any fair
// value math runs.
func (s *VolatilityStrategy) isMarketTradeable(book *marketdata.BinaryMarketBook) bool {
	if !book.HasLiquidity() {
		return false
	}
	yesAsk, ok := book.Yes().BestAsk()
	if !ok {
		return false
	}
	maxSpread := s.cfg.MaxSpreadPercent
	if maxSpread <= 0 {
		maxSpread = 0.05
	}
	if spread := book.Yes().SpreadBps() / 10000; spread > maxSpread {
		return false
	}
	minLiquidity := s.cfg.MinLiquidityUSD
	if minLiquidity <= 0 {
		minLiquidity = 10.0
	}
	if yesAsk.Size*yesAsk.Price < minLiquidity {
		return false
	}
	return true
}

// CalculateFairValue computes the Black-Scholes digital-call fair value
// and compares it to the market's implied probability.
func (s *VolatilityStrategy) CalculateFairValue(book *marketdata.BinaryMarketBook, spot, strike, ttx float64) FairValueResult {
	result := FairValueResult{RealizedVol: s.realizedVolatility()}
	result.FairProbability = bsProbability(spot, strike, ttx, 0.0, result.RealizedVol)
	result.MarketProbability = extractMarketProbability(book)
	result.ImpliedVol = impliedVolatilityFromPrice(result.MarketProbability, spot, strike, ttx, s.defaultVol())
	result.ProbabilityEdge = result.FairProbability - result.MarketProbability

	maxProb := s.cfg.MaxProbability
	if maxProb <= 0 {
		maxProb = 0.95
	}
	minProb := s.cfg.MinProbability
	if minProb <= 0 {
		minProb = 0.05
	}
	if result.FairProbability > maxProb || result.FairProbability < minProb {
		result.Reason = fmt.Sprintf("fair probability %.1f%% outside bounds", result.FairProbability*100)
		return result
	}
	if result.MarketProbability > maxProb || result.MarketProbability < minProb {
		result.Reason = fmt.Sprintf("market probability %.1f%% outside bounds", result.MarketProbability*100)
		return result
	}
	result.IsTradeable = true
	return result
}

// Evaluate updates the BTC price history, prices the market, and emits a
// signal when the fair-value edge clears both the probability and cents
// thresholds.
func (s *VolatilityStrategy) Evaluate(market types.Market, book *marketdata.BinaryMarketBook, ref types.ReferencePrice, now time.Time, sizing SizingInputs) []types.Signal {
	if !s.cfg.Enabled {
		return nil
	}
	s.history.Add(ref.Mid, now)

	if !s.isMarketTradeable(book) {
		return nil
	}

	strike := parseStrike(market.Question)
	if strike <= 0 {
		return nil
	}
	ttx := timeToExpiryYears(market.EndDate, now)
	if ttx <= 0 {
		return nil
	}

	fv := s.CalculateFairValue(book, ref.Mid, strike, ttx)
	if !fv.IsTradeable {
		return nil
	}

	yesAsk, ok := book.Yes().BestAsk()
	if !ok {
		return nil
	}
	noAsk, ok := book.No().BestAsk()
	if !ok {
		return nil
	}

	minProbEdge := s.cfg.MinProbabilityEdge
	if minProbEdge <= 0 {
		minProbEdge = 0.03
	}
	if math.Abs(fv.ProbabilityEdge) < minProbEdge {
		return nil
	}
	centsEdge := math.Abs(fv.ProbabilityEdge) * 100
	minCentsEdge := s.cfg.MinCentsEdge
	if minCentsEdge <= 0 {
		minCentsEdge = 1.5
	}
	if centsEdge < minCentsEdge {
		return nil
	}

	buyYes := fv.FairProbability > fv.MarketProbability
	edge := math.Abs(fv.ProbabilityEdge)
	probability := fv.FairProbability
	ask := yesAsk
	tokenID := book.Yes().Symbol()
	side := "YES"
	if !buyYes {
		probability = 1.0 - fv.FairProbability
		ask = noAsk
		tokenID = book.No().Symbol()
		side = "NO"
	}

	kelly := s.cfg.KellyFraction
	if kelly <= 0 {
		kelly = 0.25
	}
	maxSize := math.Min(sizing.AvailableHeadroom, ask.Size*ask.Price)
	size := kellySize(edge, probability, kelly, maxSize)
	if size <= 0 {
		return nil
	}

	reason := fmt.Sprintf(
		"vol-adj fair value: fair_prob=%.1f%% market_prob=%.1f%% edge=%.1f%% realized_vol=%.1f%% implied_vol=%.1f%% favoring %s",
		fv.FairProbability*100, fv.MarketProbability*100, fv.ProbabilityEdge*100, fv.RealizedVol*100, fv.ImpliedVol*100, side,
	)

	return []types.Signal{{
		Strategy:     "volatility_fair_value",
		MarketID:     book.MarketID(),
		TokenID:      tokenID,
		Side:         types.BUY,
		Price:        ask.Price,
		Size:         size,
		ExpectedEdge: edge,
		Confidence:   math.Min(1.0, edge/minProbEdge),
		GeneratedAt:  now,
		Reason:       reason,
	}}
}
