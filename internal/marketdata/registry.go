package marketdata

import (
	"strconv"
	"sync"

	"polymarket-arb/pkg/types"
)

// Registry is the exclusive owner of every BinaryMarketBook in the process.
// Strategies and the execution layer borrow a *BinaryMarketBook reference
// for the duration of one evaluation tick; they never store it, so the
// registry can safely replace or drop markets underneath them between
// ticks without any reference-counting scheme.
type Registry struct {
	mu       sync.RWMutex
	books    map[string]*BinaryMarketBook // marketID -> pair
	tokenMap map[string]string            // tokenID -> marketID
}

// NewRegistry creates an empty book registry.
func NewRegistry() *Registry {
	return &Registry{
		books:    make(map[string]*BinaryMarketBook),
		tokenMap: make(map[string]string),
	}
}

// Register creates (or replaces) the book pair for a market and indexes
// both token ids so incoming feed events route to it.
func (r *Registry) Register(marketID, yesTokenID, noTokenID string, maxLevels int) *BinaryMarketBook {
	r.mu.Lock()
	defer r.mu.Unlock()

	book := NewBinaryMarketBook(marketID, yesTokenID, noTokenID, maxLevels)
	r.books[marketID] = book
	r.tokenMap[yesTokenID] = marketID
	r.tokenMap[noTokenID] = marketID
	return book
}

// Unregister drops a market's book and its token index entries.
func (r *Registry) Unregister(marketID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	book, ok := r.books[marketID]
	if !ok {
		return
	}
	delete(r.tokenMap, book.Yes().Symbol())
	delete(r.tokenMap, book.No().Symbol())
	delete(r.books, marketID)
}

// Book returns the pair for a market id, or nil.
func (r *Registry) Book(marketID string) *BinaryMarketBook {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.books[marketID]
}

// BookForToken resolves a token id to its market's pair, or nil if unknown.
func (r *Registry) BookForToken(tokenID string) *BinaryMarketBook {
	r.mu.RLock()
	marketID, ok := r.tokenMap[tokenID]
	r.mu.RUnlock()
	if !ok {
		return nil
	}
	return r.Book(marketID)
}

// MarketIDForToken returns the market id a token belongs to, and whether it
// is known. The reconciler treats an unknown token as a critical
// discrepancy rather than guessing via first-match, per the explicit
// decision recorded in DESIGN.md.
func (r *Registry) MarketIDForToken(tokenID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	marketID, ok := r.tokenMap[tokenID]
	return marketID, ok
}

// Markets returns all currently registered market ids.
func (r *Registry) Markets() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.books))
	for id := range r.books {
		out = append(out, id)
	}
	return out
}

// ApplyBookSnapshot routes a full book snapshot to the right side of the
// right market's pair.
func (r *Registry) ApplyBookSnapshot(tokenID string, bids, asks []types.PriceLevel) {
	book := r.BookForToken(tokenID)
	if book == nil {
		return
	}
	side := book.BookFor(tokenID)
	if side == nil {
		return
	}
	side.ApplySnapshot(parseWireLevels(bids), parseWireLevels(asks))
}

// ApplyPriceChange routes an incremental level update to the right side.
func (r *Registry) ApplyPriceChange(tokenID, side, priceStr, sizeStr string) {
	book := r.BookForToken(tokenID)
	if book == nil {
		return
	}
	ob := book.BookFor(tokenID)
	if ob == nil {
		return
	}
	price, err := strconv.ParseFloat(priceStr, 64)
	if err != nil {
		return
	}
	size, err := strconv.ParseFloat(sizeStr, 64)
	if err != nil {
		return
	}
	if side == string(types.BUY) {
		ob.UpdateBid(price, size)
	} else {
		ob.UpdateAsk(price, size)
	}
}

func parseWireLevels(raw []types.PriceLevel) []PriceLevel {
	out := make([]PriceLevel, 0, len(raw))
	for _, l := range raw {
		p, err := strconv.ParseFloat(l.Price, 64)
		if err != nil {
			continue
		}
		s, err := strconv.ParseFloat(l.Size, 64)
		if err != nil {
			continue
		}
		out = append(out, PriceLevel{Price: p, Size: s})
	}
	return out
}
