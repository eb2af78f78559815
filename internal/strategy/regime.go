package strategy

import (
	"fmt"
	"math"
	"time"

	"polymarket-arb/internal/marketdata"
)

// MarketRegime classifies how favorable current conditions are for taking
// new positions.
type MarketRegime int

const (
	RegimeFavorable MarketRegime = iota
	RegimeNeutral
	RegimeUnfavorable
	RegimeDangerous
)

func (r MarketRegime) String() string {
	switch r {
	case RegimeFavorable:
		return "FAVORABLE"
	case RegimeNeutral:
		return "NEUTRAL"
	case RegimeUnfavorable:
		return "UNFAVORABLE"
	case RegimeDangerous:
		return "DANGEROUS"
	default:
		return "UNKNOWN"
	}
}

// RegimeAdjustment scales order size and required edge for one regime.
type RegimeAdjustment struct {
	SizeMult float64
	EdgeMult float64
}

// RegimeConfig holds the thresholds and per-component weights used to
// score conditions, plus the size/edge adjustment applied at each regime.
type RegimeConfig struct {
	FavorableVol   float64
	NeutralVol     float64
	UnfavorableVol float64

	FavorableSpreadBps   float64
	NeutralSpreadBps     float64
	UnfavorableSpreadBps float64

	FavorableLiquidity   float64
	NeutralLiquidity     float64
	UnfavorableLiquidity float64

	FavorableHours   float64
	NeutralHours     float64
	UnfavorableHours float64

	FavorableMomentum   float64
	UnfavorableMomentum float64

	VolWeight       float64
	LiquidityWeight float64
	SpreadWeight    float64
	TimeWeight      float64
	MomentumWeight  float64

	Adjustments map[MarketRegime]RegimeAdjustment
}

// DefaultRegimeConfig returns thresholds tuned for hourly BTC volatility
// and typical Polymarket binary-market spreads and depth.
func DefaultRegimeConfig() RegimeConfig {
	return RegimeConfig{
		FavorableVol:   0.005,
		NeutralVol:     0.01,
		UnfavorableVol: 0.02,

		FavorableSpreadBps:   20.0,
		NeutralSpreadBps:     50.0,
		UnfavorableSpreadBps: 100.0,

		FavorableLiquidity:   100.0,
		NeutralLiquidity:     50.0,
		UnfavorableLiquidity: 20.0,

		FavorableHours:   4.0,
		NeutralHours:     1.0,
		UnfavorableHours: 0.25,

		FavorableMomentum:   0.005,
		UnfavorableMomentum: 0.02,

		VolWeight:       0.30,
		LiquidityWeight: 0.25,
		SpreadWeight:    0.20,
		TimeWeight:      0.15,
		MomentumWeight:  0.10,

		Adjustments: map[MarketRegime]RegimeAdjustment{
			RegimeFavorable:   {SizeMult: 1.5, EdgeMult: 0.8},
			RegimeNeutral:     {SizeMult: 1.0, EdgeMult: 1.0},
			RegimeUnfavorable: {SizeMult: 0.5, EdgeMult: 1.5},
			RegimeDangerous:   {SizeMult: 0.0, EdgeMult: 999.0},
		},
	}
}

// RegimeAssessment is the scored breakdown behind a regime classification.
type RegimeAssessment struct {
	Overall MarketRegime

	VolatilityScore float64
	LiquidityScore  float64
	SpreadScore     float64
	TimeScore       float64
	MomentumScore   float64
	OverallScore    float64

	HourlyVolatility float64
	SpreadBps        float64
	LiquidityUSD     float64
	HoursToExpiry    float64
	Momentum         float64

	SizeMultiplier float64
	EdgeMultiplier float64
	Warnings       []string
}

func (a RegimeAssessment) Summary() string {
	return fmt.Sprintf("%s (score=%.2f vol=%.4f spread=%.1fbps liq=$%.0f expiry=%.2fh momentum=%.4f)",
		a.Overall, a.OverallScore, a.HourlyVolatility, a.SpreadBps, a.LiquidityUSD, a.HoursToExpiry, a.Momentum)
}

// RegimeFilter scores current market conditions (volatility, spread,
// liquidity, time-to-expiry, momentum) and recommends a size and edge
// multiplier, so strategies trade smaller and demand more edge when
// conditions are unfavorable and refuse to trade at all when dangerous.
type RegimeFilter struct {
	cfg RegimeConfig

	history *PriceHistory
}

// NewRegimeFilter creates a filter backed by history for volatility and
// momentum scoring.
func NewRegimeFilter(cfg RegimeConfig, history *PriceHistory) *RegimeFilter {
	return &RegimeFilter{cfg: cfg, history: history}
}

// Assess scores the given market against the current reference-price
// history and returns a full breakdown.
func (f *RegimeFilter) Assess(book *marketdata.BinaryMarketBook, expiry time.Time, now time.Time) RegimeAssessment {
	vol := f.hourlyVolatility()
	spreadBps := maxOf(book.Yes().SpreadBps(), book.No().SpreadBps())
	// Ask depth only: both legs of a signal are taker buys into the ask side.
	liquidity := book.Yes().AskDepth(5) + book.No().AskDepth(5)
	hoursToExpiry := f.cfg.FavorableHours
	if !expiry.IsZero() {
		hoursToExpiry = math.Max(0, expiry.Sub(now).Hours())
	}
	momentum := f.momentum()

	volScore := f.scoreDescending(vol, f.cfg.FavorableVol, f.cfg.NeutralVol, f.cfg.UnfavorableVol)
	spreadScore := f.scoreDescending(spreadBps, f.cfg.FavorableSpreadBps, f.cfg.NeutralSpreadBps, f.cfg.UnfavorableSpreadBps)
	liquidityScore := f.scoreAscending(liquidity, f.cfg.FavorableLiquidity, f.cfg.NeutralLiquidity, f.cfg.UnfavorableLiquidity)
	timeScore := f.scoreAscending(hoursToExpiry, f.cfg.FavorableHours, f.cfg.NeutralHours, f.cfg.UnfavorableHours)
	momentumScore := f.scoreDescending(math.Abs(momentum), f.cfg.FavorableMomentum, (f.cfg.FavorableMomentum+f.cfg.UnfavorableMomentum)/2, f.cfg.UnfavorableMomentum)

	overall := volScore*f.cfg.VolWeight + liquidityScore*f.cfg.LiquidityWeight +
		spreadScore*f.cfg.SpreadWeight + timeScore*f.cfg.TimeWeight + momentumScore*f.cfg.MomentumWeight

	regime := f.regimeFromScore(overall)
	if !book.HasLiquidity() {
		// No weighted average rescues a book with nothing to trade against.
		regime = RegimeDangerous
	}
	adj := f.cfg.Adjustments[regime]

	var warnings []string
	if !book.HasLiquidity() {
		warnings = append(warnings, "one or both sides have no quoted liquidity")
	}
	if hoursToExpiry < f.cfg.UnfavorableHours {
		warnings = append(warnings, "market is near expiry")
	}
	if vol > f.cfg.UnfavorableVol {
		warnings = append(warnings, "reference price volatility is elevated")
	}

	return RegimeAssessment{
		Overall:          regime,
		VolatilityScore:  volScore,
		LiquidityScore:   liquidityScore,
		SpreadScore:      spreadScore,
		TimeScore:        timeScore,
		MomentumScore:    momentumScore,
		OverallScore:     overall,
		HourlyVolatility: vol,
		SpreadBps:        spreadBps,
		LiquidityUSD:     liquidity,
		HoursToExpiry:    hoursToExpiry,
		Momentum:         momentum,
		SizeMultiplier:   adj.SizeMult,
		EdgeMultiplier:   adj.EdgeMult,
		Warnings:         warnings,
	}
}

// Apply adjusts a base size and minimum-edge requirement for the assessed
// regime, returning whether trading should proceed at all.
func (f *RegimeFilter) Apply(baseSize, minEdge float64, book *marketdata.BinaryMarketBook, expiry, now time.Time) (shouldTrade bool, adjustedSize, adjustedMinEdge float64, reason string) {
	a := f.Assess(book, expiry, now)
	if a.Overall == RegimeDangerous {
		return false, 0, minEdge, "regime DANGEROUS: " + a.Summary()
	}
	return true, baseSize * a.SizeMultiplier, minEdge * a.EdgeMultiplier, a.Summary()
}

// hourlyVolatility estimates realized volatility from recent log returns,
// annualizing down to an hourly figure assuming ~1 sample per second.
func (f *RegimeFilter) hourlyVolatility() float64 {
	if f.history == nil {
		return 0
	}
	returns := f.history.LogReturns()
	if len(returns) < 2 {
		return 0
	}
	var mean float64
	for _, r := range returns {
		mean += r
	}
	mean /= float64(len(returns))

	var variance float64
	for _, r := range returns {
		d := r - mean
		variance += d * d
	}
	variance /= float64(len(returns) - 1)

	return math.Sqrt(variance * 3600)
}

// momentum is the fractional price move over the trailing 15 minutes.
func (f *RegimeFilter) momentum() float64 {
	if f.history == nil {
		return 0
	}
	moveBps, ok := f.history.MoveBps(15 * time.Minute)
	if !ok {
		return 0
	}
	return moveBps / 10000
}

// scoreDescending maps a metric where LOWER is better (vol, spread) to a
// 0..1 score.
func (f *RegimeFilter) scoreDescending(value, favorable, neutral, unfavorable float64) float64 {
	switch {
	case value <= favorable:
		return 1.0
	case value <= neutral:
		return 1.0 - 0.33*(value-favorable)/(neutral-favorable)
	case value <= unfavorable:
		return 0.67 - 0.34*(value-neutral)/(unfavorable-neutral)
	default:
		return math.Max(0, 0.33-0.33*(value-unfavorable)/unfavorable)
	}
}

// scoreAscending maps a metric where HIGHER is better (liquidity, time to
// expiry) to a 0..1 score.
func (f *RegimeFilter) scoreAscending(value, favorable, neutral, unfavorable float64) float64 {
	switch {
	case value >= favorable:
		return 1.0
	case value >= neutral:
		return 0.67 + 0.33*(value-neutral)/(favorable-neutral)
	case value >= unfavorable:
		return 0.33 + 0.34*(value-unfavorable)/(neutral-unfavorable)
	default:
		if unfavorable <= 0 {
			return 0
		}
		return math.Max(0, 0.33*value/unfavorable)
	}
}

func (f *RegimeFilter) regimeFromScore(score float64) MarketRegime {
	switch {
	case score >= 0.75:
		return RegimeFavorable
	case score >= 0.5:
		return RegimeNeutral
	case score >= 0.25:
		return RegimeUnfavorable
	default:
		return RegimeDangerous
	}
}

func maxOf(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}
