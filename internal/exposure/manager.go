// Package exposure enforces position-size limits before an order is ever
// sent to the venue.
//
// Two tiers of limit apply: hard limits are unconditional constants that
// no configuration can raise, and soft limits come from config but are
// always clamped down to the hard ceiling.
package exposure

import (
	"fmt"
	"sync"
)

// Hard limits. These are not configurable — raising them requires a code
// change, which is the point: a bad config file can never blow through
// these numbers.
const (
	HardMaxTotalExposure      = 10000.0
	HardMaxMarketExposure     = 2000.0
	HardMaxPositionSize       = 1000.0
	HardMaxOpenPositions      = 20
	HardMaxPositionsPerMarket = 4
)

// SoftLimits are the configured, tighter-than-hard limits normal operation
// runs under.
type SoftLimits struct {
	MaxTotalExposure      float64
	MaxMarketExposure     float64
	MaxPositionSize       float64
	MaxOpenPositions      int
	MaxPositionsPerMarket int
}

// DefaultSoftLimits returns conservative defaults.
func DefaultSoftLimits() SoftLimits {
	return SoftLimits{
		MaxTotalExposure:      100.0,
		MaxMarketExposure:     50.0,
		MaxPositionSize:       10.0,
		MaxOpenPositions:      5,
		MaxPositionsPerMarket: 2,
	}
}

// ClampToHardLimits reduces any soft limit that exceeds its hard ceiling.
func (s *SoftLimits) ClampToHardLimits() {
	if s.MaxTotalExposure > HardMaxTotalExposure {
		s.MaxTotalExposure = HardMaxTotalExposure
	}
	if s.MaxMarketExposure > HardMaxMarketExposure {
		s.MaxMarketExposure = HardMaxMarketExposure
	}
	if s.MaxPositionSize > HardMaxPositionSize {
		s.MaxPositionSize = HardMaxPositionSize
	}
	if s.MaxOpenPositions > HardMaxOpenPositions {
		s.MaxOpenPositions = HardMaxOpenPositions
	}
	if s.MaxPositionsPerMarket > HardMaxPositionsPerMarket {
		s.MaxPositionsPerMarket = HardMaxPositionsPerMarket
	}
}

// CheckResult is the outcome of a pre-trade exposure check.
type CheckResult struct {
	Allowed         bool
	RejectionReason string
	CurrentExposure float64
	Limit           float64
	Headroom        float64
}

// Manager enforces hard and soft exposure limits. Thread-safe.
type Manager struct {
	mu   sync.Mutex
	soft SoftLimits

	totalExposure        float64
	openPositions        int
	marketExposures      map[string]float64
	positionExposures    map[string]float64
	marketPositionCounts map[string]int
	tokenToMarket        map[string]string
}

// NewManager creates a manager with the given soft limits, clamped to
// hard limits.
func NewManager(soft SoftLimits) *Manager {
	soft.ClampToHardLimits()
	return &Manager{
		soft:                 soft,
		marketExposures:      make(map[string]float64),
		positionExposures:    make(map[string]float64),
		marketPositionCounts: make(map[string]int),
		tokenToMarket:        make(map[string]string),
	}
}

// CanOpenPosition checks whether a new position of the given notional can
// be opened in a market.
func (m *Manager) CanOpenPosition(marketID string, notional float64) CheckResult {
	m.mu.Lock()
	defer m.mu.Unlock()

	newTotal := m.totalExposure + notional
	newMarket := m.marketExposures[marketID] + notional
	newCount := m.openPositions + 1
	newMarketCount := m.marketPositionCounts[marketID] + 1

	if reason, ok := m.checkHardLimits(newTotal, newMarket, notional, newCount, newMarketCount); !ok {
		return CheckResult{Allowed: false, RejectionReason: reason, CurrentExposure: m.totalExposure, Limit: HardMaxTotalExposure}
	}
	if reason, ok := m.checkSoftLimits(newTotal, newMarket, notional, newCount, newMarketCount); !ok {
		return CheckResult{Allowed: false, RejectionReason: reason, CurrentExposure: m.totalExposure, Limit: m.soft.MaxTotalExposure,
			Headroom: m.soft.MaxTotalExposure - m.totalExposure}
	}

	return CheckResult{Allowed: true, CurrentExposure: m.totalExposure, Limit: m.soft.MaxTotalExposure,
		Headroom: m.soft.MaxTotalExposure - m.totalExposure}
}

// CanIncreasePosition checks whether an existing position can grow by
// additionalNotional.
func (m *Manager) CanIncreasePosition(marketID, tokenID string, additionalNotional float64) CheckResult {
	m.mu.Lock()
	defer m.mu.Unlock()

	newTotal := m.totalExposure + additionalNotional
	newMarket := m.marketExposures[marketID] + additionalNotional
	newPosition := m.positionExposures[tokenID] + additionalNotional

	if reason, ok := m.checkHardLimits(newTotal, newMarket, newPosition, m.openPositions, m.marketPositionCounts[marketID]); !ok {
		return CheckResult{Allowed: false, RejectionReason: reason, CurrentExposure: m.positionExposures[tokenID], Limit: HardMaxPositionSize}
	}
	if newTotal > m.soft.MaxTotalExposure {
		return CheckResult{Allowed: false, RejectionReason: "soft total exposure limit", CurrentExposure: m.totalExposure, Limit: m.soft.MaxTotalExposure}
	}
	if newMarket > m.soft.MaxMarketExposure {
		return CheckResult{Allowed: false, RejectionReason: "soft market exposure limit", CurrentExposure: m.marketExposures[marketID], Limit: m.soft.MaxMarketExposure}
	}
	if newPosition > m.soft.MaxPositionSize {
		return CheckResult{Allowed: false, RejectionReason: "soft position size limit", CurrentExposure: m.positionExposures[tokenID], Limit: m.soft.MaxPositionSize}
	}

	return CheckResult{Allowed: true, CurrentExposure: m.positionExposures[tokenID], Limit: m.soft.MaxPositionSize,
		Headroom: m.soft.MaxPositionSize - m.positionExposures[tokenID]}
}

func (m *Manager) checkHardLimits(newTotal, newMarket, positionSize float64, newCount, newMarketCount int) (string, bool) {
	if newTotal > HardMaxTotalExposure {
		return "hard total exposure limit", false
	}
	if newMarket > HardMaxMarketExposure {
		return "hard market exposure limit", false
	}
	if positionSize > HardMaxPositionSize {
		return "hard position size limit", false
	}
	if newCount > HardMaxOpenPositions {
		return "hard open position count limit", false
	}
	if newMarketCount > HardMaxPositionsPerMarket {
		return "hard positions-per-market limit", false
	}
	return "", true
}

func (m *Manager) checkSoftLimits(newTotal, newMarket, positionSize float64, newCount, newMarketCount int) (string, bool) {
	if newTotal > m.soft.MaxTotalExposure {
		return "soft total exposure limit", false
	}
	if newMarket > m.soft.MaxMarketExposure {
		return "soft market exposure limit", false
	}
	if positionSize > m.soft.MaxPositionSize {
		return "soft position size limit", false
	}
	if newCount > m.soft.MaxOpenPositions {
		return "soft open position count limit", false
	}
	if newMarketCount > m.soft.MaxPositionsPerMarket {
		return "soft positions-per-market limit", false
	}
	return "", true
}

// RecordPositionOpened records a brand-new position.
func (m *Manager) RecordPositionOpened(marketID, tokenID string, notional float64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.totalExposure += notional
	m.marketExposures[marketID] += notional
	m.positionExposures[tokenID] = notional
	m.marketPositionCounts[marketID]++
	m.tokenToMarket[tokenID] = marketID
	m.openPositions++
}

// RecordPositionIncreased adds notional to an existing position.
func (m *Manager) RecordPositionIncreased(marketID, tokenID string, additionalNotional float64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.totalExposure += additionalNotional
	m.marketExposures[marketID] += additionalNotional
	m.positionExposures[tokenID] += additionalNotional
}

// RecordPositionDecreased removes notional from an existing position.
func (m *Manager) RecordPositionDecreased(marketID, tokenID string, reducedNotional float64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.totalExposure -= reducedNotional
	m.marketExposures[marketID] -= reducedNotional
	m.positionExposures[tokenID] -= reducedNotional
}

// RecordPositionClosed removes a position entirely, decrementing counts.
func (m *Manager) RecordPositionClosed(marketID, tokenID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.totalExposure -= m.positionExposures[tokenID]
	m.marketExposures[marketID] -= m.positionExposures[tokenID]
	delete(m.positionExposures, tokenID)
	delete(m.tokenToMarket, tokenID)
	if m.marketPositionCounts[marketID] > 0 {
		m.marketPositionCounts[marketID]--
	}
	if m.openPositions > 0 {
		m.openPositions--
	}
}

// TotalExposure returns current total exposure across all markets.
func (m *Manager) TotalExposure() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.totalExposure
}

// MarketExposure returns current exposure in one market.
func (m *Manager) MarketExposure(marketID string) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.marketExposures[marketID]
}

// PositionExposure returns current exposure for one token, 0 if the token
// has no open position. Lets callers outside this package tell an open
// from an increase without reaching into position.Manager.
func (m *Manager) PositionExposure(tokenID string) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.positionExposures[tokenID]
}

// OpenPositionCount returns the number of positions currently tracked.
func (m *Manager) OpenPositionCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.openPositions
}

// TotalUtilization is total exposure as a fraction of the soft limit.
func (m *Manager) TotalUtilization() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.soft.MaxTotalExposure == 0 {
		return 0
	}
	return m.totalExposure / m.soft.MaxTotalExposure
}

// Reset clears all tracked exposure.
func (m *Manager) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.totalExposure = 0
	m.openPositions = 0
	m.marketExposures = make(map[string]float64)
	m.positionExposures = make(map[string]float64)
	m.marketPositionCounts = make(map[string]int)
	m.tokenToMarket = make(map[string]string)
}

// Reserve creates a Reservation that has already recorded the exposure
// increase. If the subsequent order attempt fails, the caller must call
// Release to undo it; on success, call Commit. This replaces the C++
// RAII ExposureReservation guard — Go has no destructors, so the caller
// is required to defer one of Commit/Release explicitly.
func (m *Manager) Reserve(marketID, tokenID string, notional float64) *Reservation {
	m.RecordPositionOpened(marketID, tokenID, notional)
	return &Reservation{
		manager:  m,
		marketID: marketID,
		tokenID:  tokenID,
		notional: notional,
	}
}

// Reservation tracks one pending exposure reservation. Commit keeps it
// and Release undoes it; once either has been called, a later Release is
// a no-op, so a caller can defer Release and call Commit on success.
type Reservation struct {
	manager  *Manager
	marketID string
	tokenID  string
	notional float64
	resolved bool
}

// Commit keeps the reservation — the order succeeded.
func (r *Reservation) Commit() {
	r.resolved = true
}

// Release undoes the reservation — the order failed or was never sent.
func (r *Reservation) Release() {
	if r.resolved {
		return
	}
	r.resolved = true
	r.manager.RecordPositionClosed(r.marketID, r.tokenID)
}

func (r CheckResult) String() string {
	if r.Allowed {
		return fmt.Sprintf("allowed (exposure=%.2f limit=%.2f headroom=%.2f)", r.CurrentExposure, r.Limit, r.Headroom)
	}
	return fmt.Sprintf("rejected: %s (exposure=%.2f limit=%.2f)", r.RejectionReason, r.CurrentExposure, r.Limit)
}
