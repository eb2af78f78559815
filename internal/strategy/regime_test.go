package strategy

import (
	"testing"
	"time"
)

func TestRegimeFilter_FavorableWithNoHistoryAndGoodBook(t *testing.T) {
	book := newTestBook(0.49, 1000, 0.49, 1000)
	f := NewRegimeFilter(DefaultRegimeConfig(), NewPriceHistory(time.Hour, 100))

	now := time.Now()
	a := f.Assess(book, now.Add(6*time.Hour), now)

	if a.Overall == RegimeDangerous {
		t.Errorf("expected a tight, liquid, far-from-expiry book not to be DANGEROUS, got %s (%s)", a.Overall, a.Summary())
	}
}

func TestRegimeFilter_UnfavorableOrWorseNearExpiryWithThinBook(t *testing.T) {
	book := newTestBook(0.49, 1, 0.49, 1)
	f := NewRegimeFilter(DefaultRegimeConfig(), NewPriceHistory(time.Hour, 100))

	now := time.Now()
	a := f.Assess(book, now.Add(30*time.Second), now)

	if a.TimeScore > 0.1 {
		t.Errorf("expected a near-zero time score seconds from expiry, got %f", a.TimeScore)
	}
	if a.Overall != RegimeDangerous && a.Overall != RegimeUnfavorable {
		t.Errorf("expected thin, about-to-expire book to be at least UNFAVORABLE, got %s", a.Overall)
	}
}

func TestRegimeFilter_ApplyRejectsDangerousRegime(t *testing.T) {
	book := newTestBook(0.49, 0, 0.49, 0)
	cfg := DefaultRegimeConfig()
	f := NewRegimeFilter(cfg, NewPriceHistory(time.Hour, 100))

	now := time.Now()
	shouldTrade, _, _, reason := f.Apply(100, 1.0, book, now.Add(time.Second), now)

	if shouldTrade {
		t.Errorf("expected an empty book seconds from expiry to be rejected, reason: %s", reason)
	}
}

func TestRegimeFilter_ApplyScalesSizeAndEdgeForTradeableRegime(t *testing.T) {
	book := newTestBook(0.49, 60, 0.49, 60)
	cfg := DefaultRegimeConfig()
	f := NewRegimeFilter(cfg, NewPriceHistory(time.Hour, 100))

	now := time.Now()
	shouldTrade, size, minEdge, _ := f.Apply(100, 1.0, book, now.Add(2*time.Hour), now)

	if !shouldTrade {
		t.Fatal("expected a moderately liquid book to be tradeable")
	}
	if size <= 0 {
		t.Errorf("expected a positive adjusted size, got %f", size)
	}
	if minEdge <= 0 {
		t.Errorf("expected a positive adjusted min edge, got %f", minEdge)
	}
}

func TestRegimeFilter_HighVolatilityLowersScore(t *testing.T) {
	book := newTestBook(0.49, 1000, 0.49, 1000)
	cfg := DefaultRegimeConfig()

	calm := NewPriceHistory(time.Hour, 1000)
	volatile := NewPriceHistory(time.Hour, 1000)

	now := time.Now()
	for i := 0; i < 50; i++ {
		t := now.Add(time.Duration(i) * time.Second)
		calm.Add(100000+float64(i%2), t)
		if i%2 == 0 {
			volatile.Add(95000, t)
		} else {
			volatile.Add(105000, t)
		}
	}

	calmFilter := NewRegimeFilter(cfg, calm)
	volatileFilter := NewRegimeFilter(cfg, volatile)

	calmAssessment := calmFilter.Assess(book, now.Add(4*time.Hour), now)
	volatileAssessment := volatileFilter.Assess(book, now.Add(4*time.Hour), now)

	if volatileAssessment.VolatilityScore >= calmAssessment.VolatilityScore {
		t.Errorf("expected volatile history to score worse than calm history: volatile=%f calm=%f",
			volatileAssessment.VolatilityScore, calmAssessment.VolatilityScore)
	}
}
