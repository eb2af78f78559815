// Package marketdata maintains local order books and reference-price state
// fed from the venue's WebSocket and REST surfaces, and owns the signed
// REST client used to place/cancel orders.
//
// OrderBook mirrors a single token's sorted price ladders. BinaryMarketBook
// pairs a YES book and a NO book under one market id and exposes the
// derived quantities the strategy layer reads (sum of best asks, implied
// probability, liquidity, staleness). Both types are exclusively owned by
// the feed registry (Registry, in registry.go) — strategies borrow a
// reference for the duration of one evaluation tick and never store it.
package marketdata

import (
	"sort"
	"sync"
	"time"
)

// defaultMaxLevels caps how many price levels per side an OrderBook keeps.
const defaultMaxLevels = 10

// level is a resolved (float) price/size pair, used for sorted output.
type level struct {
	Price float64
	Size  float64
}

// OrderBook is a thread-safe sorted price ladder for one token.
// Bids are sorted descending (best first), asks ascending (best first).
type OrderBook struct {
	mu        sync.RWMutex
	symbol    string
	maxLevels int
	sequence  uint64
	lastUpdate time.Time

	bids map[float64]float64 // price -> size
	asks map[float64]float64
}

// NewOrderBook creates an order book for the given symbol (token id).
// maxLevels <= 0 uses defaultMaxLevels.
func NewOrderBook(symbol string, maxLevels int) *OrderBook {
	if maxLevels <= 0 {
		maxLevels = defaultMaxLevels
	}
	return &OrderBook{
		symbol:    symbol,
		maxLevels: maxLevels,
		bids:      make(map[float64]float64),
		asks:      make(map[float64]float64),
	}
}

// Symbol returns the token id this book belongs to.
func (b *OrderBook) Symbol() string { return b.symbol }

// UpdateBid inserts, updates, or removes (size == 0) a bid level.
func (b *OrderBook) UpdateBid(price, size float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.setLevel(b.bids, price, size)
	b.trimLocked(b.bids, true)
	b.touchLocked()
}

// UpdateAsk inserts, updates, or removes (size == 0) an ask level.
func (b *OrderBook) UpdateAsk(price, size float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.setLevel(b.asks, price, size)
	b.trimLocked(b.asks, false)
	b.touchLocked()
}

func (b *OrderBook) setLevel(side map[float64]float64, price, size float64) {
	if size <= 0 {
		delete(side, price)
		return
	}
	side[price] = size
}

// ApplySnapshot atomically replaces all levels on both sides.
func (b *OrderBook) ApplySnapshot(bids, asks []PriceLevel) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.bids = make(map[float64]float64, len(bids))
	for _, l := range bids {
		if l.Size > 0 {
			b.bids[l.Price] = l.Size
		}
	}
	b.asks = make(map[float64]float64, len(asks))
	for _, l := range asks {
		if l.Size > 0 {
			b.asks[l.Price] = l.Size
		}
	}
	b.trimLocked(b.bids, true)
	b.trimLocked(b.asks, false)
	b.touchLocked()
}

// Clear removes all levels from both sides.
func (b *OrderBook) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.bids = make(map[float64]float64)
	b.asks = make(map[float64]float64)
	b.touchLocked()
}

func (b *OrderBook) touchLocked() {
	b.sequence++
	b.lastUpdate = time.Now()
}

// trimLocked drops worst-priced levels beyond maxLevels. desc selects bid
// ordering (highest kept) vs ask ordering (lowest kept).
func (b *OrderBook) trimLocked(side map[float64]float64, desc bool) {
	if len(side) <= b.maxLevels {
		return
	}
	prices := sortedPrices(side, desc)
	for _, p := range prices[b.maxLevels:] {
		delete(side, p)
	}
}

func sortedPrices(side map[float64]float64, desc bool) []float64 {
	prices := make([]float64, 0, len(side))
	for p := range side {
		prices = append(prices, p)
	}
	if desc {
		sort.Sort(sort.Reverse(sort.Float64Slice(prices)))
	} else {
		sort.Float64s(prices)
	}
	return prices
}

// PriceLevel is a resolved price/size pair used by OrderBook's API
// (distinct from the wire-level types.PriceLevel, whose fields are
// strings).
type PriceLevel struct {
	Price float64
	Size  float64
}

// BestBid returns the top bid level, or ok=false if the book is empty.
func (b *OrderBook) BestBid() (PriceLevel, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return bestOf(b.bids, true)
}

// BestAsk returns the top ask level, or ok=false if the book is empty.
func (b *OrderBook) BestAsk() (PriceLevel, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return bestOf(b.asks, false)
}

func bestOf(side map[float64]float64, desc bool) (PriceLevel, bool) {
	if len(side) == 0 {
		return PriceLevel{}, false
	}
	prices := sortedPrices(side, desc)
	p := prices[0]
	return PriceLevel{Price: p, Size: side[p]}, true
}

// Mid returns (bestBid+bestAsk)/2, or 0 if either side is empty.
func (b *OrderBook) Mid() float64 {
	bid, bidOk := b.BestBid()
	ask, askOk := b.BestAsk()
	if !bidOk || !askOk {
		return 0
	}
	return (bid.Price + ask.Price) / 2
}

// Spread returns bestAsk - bestBid, or 0 if either side is empty.
func (b *OrderBook) Spread() float64 {
	bid, bidOk := b.BestBid()
	ask, askOk := b.BestAsk()
	if !bidOk || !askOk {
		return 0
	}
	return ask.Price - bid.Price
}

// SpreadBps returns the spread in basis points of mid price, or 0 if mid
// is zero or either side is empty.
func (b *OrderBook) SpreadBps() float64 {
	mid := b.Mid()
	if mid == 0 {
		return 0
	}
	return (b.Spread() / mid) * 10000
}

// TopBids returns up to n bid levels, best first.
func (b *OrderBook) TopBids(n int) []PriceLevel {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return topOf(b.bids, true, n)
}

// TopAsks returns up to n ask levels, best first.
func (b *OrderBook) TopAsks(n int) []PriceLevel {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return topOf(b.asks, false, n)
}

func topOf(side map[float64]float64, desc bool, n int) []PriceLevel {
	prices := sortedPrices(side, desc)
	if n > len(prices) {
		n = len(prices)
	}
	out := make([]PriceLevel, 0, n)
	for _, p := range prices[:n] {
		out = append(out, PriceLevel{Price: p, Size: side[p]})
	}
	return out
}

// BidDepth sums size across the top `levels` bid levels.
func (b *OrderBook) BidDepth(levels int) float64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return depthOf(b.bids, true, levels)
}

// AskDepth sums size across the top `levels` ask levels.
func (b *OrderBook) AskDepth(levels int) float64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return depthOf(b.asks, false, levels)
}

// TotalDepth sums bid and ask depth across `levels` levels per side.
func (b *OrderBook) TotalDepth(levels int) float64 {
	return b.BidDepth(levels) + b.AskDepth(levels)
}

func depthOf(side map[float64]float64, desc bool, levels int) float64 {
	prices := sortedPrices(side, desc)
	if levels > len(prices) {
		levels = len(prices)
	}
	var total float64
	for _, p := range prices[:levels] {
		total += side[p]
	}
	return total
}

// LastUpdateTime returns when any level last changed.
func (b *OrderBook) LastUpdateTime() time.Time {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.lastUpdate
}

// IsStale reports whether the book hasn't changed within threshold.
func (b *OrderBook) IsStale(threshold time.Duration) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.lastUpdate.IsZero() {
		return true
	}
	return time.Since(b.lastUpdate) > threshold
}

// Sequence returns the monotonic update counter.
func (b *OrderBook) Sequence() uint64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.sequence
}

// ————————————————————————————————————————————————————————————————————————
// Binary market book
// ————————————————————————————————————————————————————————————————————————

// BinaryMarketBook pairs the YES and NO order books for one market and
// exposes the aggregate quantities strategies read.
type BinaryMarketBook struct {
	marketID string
	yes      *OrderBook
	no       *OrderBook
}

// NewBinaryMarketBook creates a paired book for a market.
func NewBinaryMarketBook(marketID, yesTokenID, noTokenID string, maxLevels int) *BinaryMarketBook {
	return &BinaryMarketBook{
		marketID: marketID,
		yes:      NewOrderBook(yesTokenID, maxLevels),
		no:       NewOrderBook(noTokenID, maxLevels),
	}
}

// MarketID returns the condition id this pair belongs to.
func (m *BinaryMarketBook) MarketID() string { return m.marketID }

// Yes returns the YES-token order book.
func (m *BinaryMarketBook) Yes() *OrderBook { return m.yes }

// No returns the NO-token order book.
func (m *BinaryMarketBook) No() *OrderBook { return m.no }

// BookFor returns the order book for the given token id, or nil.
func (m *BinaryMarketBook) BookFor(tokenID string) *OrderBook {
	switch tokenID {
	case m.yes.Symbol():
		return m.yes
	case m.no.Symbol():
		return m.no
	default:
		return nil
	}
}

// SumOfBestAsks returns yes.bestAsk + no.bestAsk, or 0 if either is empty.
// Used by the underpricing strategy.
func (m *BinaryMarketBook) SumOfBestAsks() (float64, bool) {
	ya, ok1 := m.yes.BestAsk()
	na, ok2 := m.no.BestAsk()
	if !ok1 || !ok2 {
		return 0, false
	}
	return ya.Price + na.Price, true
}

// SumOfBestBids returns yes.bestBid + no.bestBid, or 0 if either is empty.
func (m *BinaryMarketBook) SumOfBestBids() (float64, bool) {
	yb, ok1 := m.yes.BestBid()
	nb, ok2 := m.no.BestBid()
	if !ok1 || !ok2 {
		return 0, false
	}
	return yb.Price + nb.Price, true
}

// YesImpliedProbability returns the YES token's mid price, the market's
// implied probability of the YES outcome.
func (m *BinaryMarketBook) YesImpliedProbability() float64 {
	return m.yes.Mid()
}

// HasLiquidity reports whether both sides of both books are non-empty.
func (m *BinaryMarketBook) HasLiquidity() bool {
	_, yb := m.yes.BestBid()
	_, ya := m.yes.BestAsk()
	_, nb := m.no.BestBid()
	_, na := m.no.BestAsk()
	return yb && ya && nb && na
}

// IsStale reports whether either side's last update exceeds threshold.
func (m *BinaryMarketBook) IsStale(threshold time.Duration) bool {
	return m.yes.IsStale(threshold) || m.no.IsStale(threshold)
}
