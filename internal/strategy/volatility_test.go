package strategy

import (
	"math"
	"testing"
	"time"

	"polymarket-arb/internal/config"
	"polymarket-arb/pkg/types"
)

func TestNormalCDF_Midpoint(t *testing.T) {
	if got := normalCDF(0); math.Abs(got-0.5) > 1e-9 {
		t.Errorf("expected N(0)=0.5, got %f", got)
	}
}

func TestBsProbability_AtTheMoneyIsAboutHalf(t *testing.T) {
	p := bsProbability(100, 100, 1.0, 0, 0.5)
	if p >= 0.5 || p <= 0.0 {
		t.Errorf("expected at-the-money digital-call probability slightly below 0.5 (N(d2) with d2 = -sigma*sqrt(T)/2), got %f", p)
	}
}

func TestBsProbability_ExpiredMarketIsBinary(t *testing.T) {
	if got := bsProbability(110, 100, 0, 0, 0.5); got != 1.0 {
		t.Errorf("expected probability 1.0 when spot above strike at expiry, got %f", got)
	}
	if got := bsProbability(90, 100, 0, 0, 0.5); got != 0.0 {
		t.Errorf("expected probability 0.0 when spot below strike at expiry, got %f", got)
	}
}

func TestParseStrike(t *testing.T) {
	cases := map[string]float64{
		"Will BTC be above $100,000 on Jan 31?": 100000,
		"BTC 15m: Above $98,500?":                98500,
		"No dollar amount here":                  0,
	}
	for question, want := range cases {
		if got := parseStrike(question); got != want {
			t.Errorf("parseStrike(%q) = %f, want %f", question, got, want)
		}
	}
}

func TestTimeToExpiryYears(t *testing.T) {
	now := time.Now()
	if got := timeToExpiryYears(now.Add(-time.Hour), now); got != 0 {
		t.Errorf("expected 0 for an expired market, got %f", got)
	}
	got := timeToExpiryYears(now.Add(365*24*time.Hour), now)
	if math.Abs(got-1.0) > 0.01 {
		t.Errorf("expected ~1 year, got %f", got)
	}
}

func TestVolatilityStrategy_NoSignalWithoutParsableStrike(t *testing.T) {
	cfg := config.VolatilityConfig{Enabled: true, MinProbabilityEdge: 0.03, MinCentsEdge: 1.5}
	s := NewVolatilityStrategy(cfg)
	book := newTestBook(0.50, 100, 0.50, 100)
	market := types.Market{Question: "No strike here", EndDate: time.Now().Add(24 * time.Hour)}

	signals := s.Evaluate(market, book, types.ReferencePrice{Mid: 100000}, time.Now(), SizingInputs{AvailableHeadroom: 1000})
	if signals != nil {
		t.Errorf("expected no signal when the strike can't be parsed, got %+v", signals)
	}
}

func TestVolatilityStrategy_NoSignalOnIlliquidBook(t *testing.T) {
	cfg := config.VolatilityConfig{Enabled: true, MinLiquidityUSD: 1000}
	s := NewVolatilityStrategy(cfg)
	book := newTestBook(0.50, 1, 0.50, 1) // tiny size, fails liquidity check
	market := types.Market{Question: "BTC above $100,000?", EndDate: time.Now().Add(24 * time.Hour)}

	signals := s.Evaluate(market, book, types.ReferencePrice{Mid: 100000}, time.Now(), SizingInputs{AvailableHeadroom: 1000})
	if signals != nil {
		t.Errorf("expected no signal on an illiquid book, got %+v", signals)
	}
}

func TestVolatilityStrategy_Disabled(t *testing.T) {
	cfg := config.VolatilityConfig{Enabled: false}
	s := NewVolatilityStrategy(cfg)
	book := newTestBook(0.30, 1000, 0.70, 1000)
	market := types.Market{Question: "BTC above $100,000?", EndDate: time.Now().Add(24 * time.Hour)}

	signals := s.Evaluate(market, book, types.ReferencePrice{Mid: 150000}, time.Now(), SizingInputs{AvailableHeadroom: 1000})
	if signals != nil {
		t.Error("expected disabled strategy to emit nothing")
	}
}
