// Package position tracks per-token holdings, realized/unrealized PnL,
// and settlement, independent of any one market or strategy.
//
// Tracks an arbitrary number of tokens across arbitrary markets, since
// this bot can hold positions in many unrelated markets concurrently
// rather than a single book.
package position

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"polymarket-arb/pkg/types"
)

const openThreshold = 0.0001

// Position is the current holding in a single token.
type Position struct {
	TokenID      string
	MarketID     string
	OutcomeName  string
	Size         float64 // positive = long
	AvgEntry     float64
	CostBasis    float64
	RealizedPnL  float64
	TotalFees    float64
	LastMark     float64
	UnrealizedPL float64
	FirstEntry   time.Time
	LastUpdate   time.Time
}

// IsOpen reports whether the position carries non-zero size.
func (p Position) IsOpen() bool {
	return math.Abs(p.Size) > openThreshold
}

// TotalPnL is realized plus unrealized.
func (p Position) TotalPnL() float64 { return p.RealizedPnL + p.UnrealizedPL }

// MarketValue is size times the last mark price.
func (p Position) MarketValue() float64 { return p.Size * p.LastMark }

// Snapshot is the persisted form of all positions, using decimal.Decimal
// for money fields per the ledger's fixed-point requirement — the hot-path
// struct above stays float64 for per-tick mark-to-market speed.
type Snapshot struct {
	Positions   []PositionRecord `json:"positions"`
	RealizedPnL decimal.Decimal  `json:"realized_pnl"`
	TotalFees   decimal.Decimal  `json:"total_fees"`
	Timestamp   time.Time        `json:"timestamp"`
}

// PositionRecord is one position within a Snapshot.
type PositionRecord struct {
	TokenID     string          `json:"token_id"`
	MarketID    string          `json:"market_id"`
	OutcomeName string          `json:"outcome_name"`
	Size        decimal.Decimal `json:"size"`
	AvgEntry    decimal.Decimal `json:"avg_entry"`
	RealizedPnL decimal.Decimal `json:"realized_pnl"`
	TotalFees   decimal.Decimal `json:"total_fees"`
}

// Manager tracks all positions and aggregate PnL. Thread-safe.
type Manager struct {
	mu        sync.RWMutex
	positions map[string]*Position // keyed by token id

	totalRealizedPnL float64
	dailyRealizedPnL float64
	totalFees        float64
}

// NewManager creates an empty position manager.
func NewManager() *Manager {
	return &Manager{positions: make(map[string]*Position)}
}

// RecordFill applies a fill to the relevant token's position, creating it
// if this is the first fill seen for that token.
func (m *Manager) RecordFill(fill types.Fill) {
	m.mu.Lock()
	defer m.mu.Unlock()

	pos, ok := m.positions[fill.TokenID]
	if !ok {
		pos = &Position{
			TokenID:    fill.TokenID,
			MarketID:   fill.MarketID,
			FirstEntry: fill.Timestamp,
		}
		m.positions[fill.TokenID] = pos
	}

	m.applyFillToPosition(pos, fill)
	m.totalFees += fill.Fee
}

// applyFillToPosition implements the same-sign-extension vs.
// opposing-reduction rule: a fill that extends the position updates the
// average entry price and cost basis; a fill that reduces or flips it
// realizes PnL on the reduced portion first.
func (m *Manager) applyFillToPosition(pos *Position, fill types.Fill) {
	signedSize := fill.Size
	if fill.Side == types.SELL {
		signedSize = -fill.Size
	}
	fillNotional := fill.Price * fill.Size

	extending := (pos.Size >= 0 && fill.Side == types.BUY) || (pos.Size <= 0 && fill.Side == types.SELL)

	if extending {
		newSize := pos.Size + signedSize
		if math.Abs(newSize) > openThreshold {
			pos.AvgEntry = (pos.CostBasis + fillNotional) / math.Abs(newSize)
		}
		pos.CostBasis += fillNotional
		pos.Size = newSize
	} else {
		reduction := math.Min(math.Abs(signedSize), math.Abs(pos.Size))
		realized := reduction * (fill.Price - pos.AvgEntry)
		if fill.Side == types.SELL {
			realized = -realized
		}

		pos.RealizedPnL += realized - fill.Fee
		m.totalRealizedPnL += realized - fill.Fee
		m.dailyRealizedPnL += realized - fill.Fee

		pos.Size += signedSize
		pos.CostBasis = math.Abs(pos.Size) * pos.AvgEntry
	}

	pos.TotalFees += fill.Fee
	pos.LastUpdate = fill.Timestamp
}

// MarkToMarket updates a token's unrealized PnL against a fresh mark
// price (typically the book mid at evaluation time).
func (m *Manager) MarkToMarket(tokenID string, markPrice float64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	pos, ok := m.positions[tokenID]
	if !ok {
		return
	}
	pos.LastMark = markPrice
	if math.Abs(pos.Size) > openThreshold {
		pos.UnrealizedPL = pos.Size * (markPrice - pos.AvgEntry)
	} else {
		pos.UnrealizedPL = 0
	}
}

// GetPosition returns a copy of the position for a token, or false if none
// exists.
func (m *Manager) GetPosition(tokenID string) (Position, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	pos, ok := m.positions[tokenID]
	if !ok {
		return Position{}, false
	}
	return *pos, true
}

// AllPositions returns a snapshot copy of every tracked position.
func (m *Manager) AllPositions() []Position {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Position, 0, len(m.positions))
	for _, pos := range m.positions {
		out = append(out, *pos)
	}
	return out
}

// OpenPositions returns only positions with non-zero size.
func (m *Manager) OpenPositions() []Position {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Position, 0)
	for _, pos := range m.positions {
		if pos.IsOpen() {
			out = append(out, *pos)
		}
	}
	return out
}

// PositionsForMarket returns every position tied to a market id, i.e. the
// YES and NO legs of one binary market.
func (m *Manager) PositionsForMarket(marketID string) []Position {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Position, 0, 2)
	for _, pos := range m.positions {
		if pos.MarketID == marketID {
			out = append(out, *pos)
		}
	}
	return out
}

// TotalRealizedPnL returns cumulative realized PnL across all positions.
func (m *Manager) TotalRealizedPnL() float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.totalRealizedPnL
}

// DailyRealizedPnL returns realized PnL since the last ResetDailyPnL.
func (m *Manager) DailyRealizedPnL() float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.dailyRealizedPnL
}

// TotalUnrealizedPnL sums unrealized PnL across all positions.
func (m *Manager) TotalUnrealizedPnL() float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var total float64
	for _, pos := range m.positions {
		total += pos.UnrealizedPL
	}
	return total
}

// TotalPnL is realized plus unrealized.
func (m *Manager) TotalPnL() float64 {
	return m.TotalRealizedPnL() + m.TotalUnrealizedPnL()
}

// TotalFees returns cumulative fees paid.
func (m *Manager) TotalFees() float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.totalFees
}

// GrossExposure sums the absolute market value of all positions.
func (m *Manager) GrossExposure() float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var total float64
	for _, pos := range m.positions {
		total += math.Abs(pos.MarketValue())
	}
	return total
}

// NetExposure sums the signed market value of all positions.
func (m *Manager) NetExposure() float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var total float64
	for _, pos := range m.positions {
		total += pos.MarketValue()
	}
	return total
}

// RecordSettlement closes out every position in a resolved market: the
// winning token settles to $1/share, every other token in the market
// settles to $0, per the venue's binary-outcome payout rule.
func (m *Manager) RecordSettlement(marketID, winningTokenID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for tokenID, pos := range m.positions {
		if pos.MarketID != marketID {
			continue
		}

		var pnl float64
		if tokenID == winningTokenID {
			pnl = pos.Size*(1.0-pos.AvgEntry) - pos.TotalFees
		} else {
			pnl = -pos.CostBasis - pos.TotalFees
		}
		pos.RealizedPnL += pnl
		m.totalRealizedPnL += pnl
		m.dailyRealizedPnL += pnl

		pos.Size = 0
		pos.CostBasis = 0
		pos.UnrealizedPL = 0
		pos.LastUpdate = time.Now()
	}
}

// ResetDailyPnL zeroes the daily realized-PnL counter, called at the
// configured daily reset boundary.
func (m *Manager) ResetDailyPnL() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dailyRealizedPnL = 0
}

// CreateSnapshot produces a decimal-precision persistence snapshot.
func (m *Manager) CreateSnapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	snap := Snapshot{
		Positions:   make([]PositionRecord, 0, len(m.positions)),
		RealizedPnL: decimal.NewFromFloat(m.totalRealizedPnL),
		TotalFees:   decimal.NewFromFloat(m.totalFees),
		Timestamp:   time.Now(),
	}
	for _, pos := range m.positions {
		snap.Positions = append(snap.Positions, PositionRecord{
			TokenID:     pos.TokenID,
			MarketID:    pos.MarketID,
			OutcomeName: pos.OutcomeName,
			Size:        decimal.NewFromFloat(pos.Size),
			AvgEntry:    decimal.NewFromFloat(pos.AvgEntry),
			RealizedPnL: decimal.NewFromFloat(pos.RealizedPnL),
			TotalFees:   decimal.NewFromFloat(pos.TotalFees),
		})
	}
	return snap
}

// RestoreFromSnapshot replaces all positions with those in snap.
func (m *Manager) RestoreFromSnapshot(snap Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	positions := make(map[string]*Position, len(snap.Positions))
	for _, rec := range snap.Positions {
		size, _ := rec.Size.Float64()
		avgEntry, _ := rec.AvgEntry.Float64()
		realizedPnL, _ := rec.RealizedPnL.Float64()
		totalFees, _ := rec.TotalFees.Float64()

		positions[rec.TokenID] = &Position{
			TokenID:     rec.TokenID,
			MarketID:    rec.MarketID,
			OutcomeName: rec.OutcomeName,
			Size:        size,
			AvgEntry:    avgEntry,
			CostBasis:   math.Abs(size) * avgEntry,
			RealizedPnL: realizedPnL,
			TotalFees:   totalFees,
			LastUpdate:  snap.Timestamp,
		}
	}

	realizedPnL, _ := snap.RealizedPnL.Float64()
	totalFees, _ := snap.TotalFees.Float64()

	m.positions = positions
	m.totalRealizedPnL = realizedPnL
	m.totalFees = totalFees

	return nil
}

// String renders a position for logging.
func (p Position) String() string {
	return fmt.Sprintf("%s size=%.2f avg=%.4f pnl=%.2f", p.TokenID, p.Size, p.AvgEntry, p.TotalPnL())
}
