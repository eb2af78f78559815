// Package risk enforces portfolio-level trading constraints: exposure
// limits, daily loss limits, order-rate limiting, slippage tracking, and
// available-balance accounting.
//
// The kill switch itself lives in the standalone killswitch package, so
// this manager calls out to a Killswitch interface instead of holding its
// own atomic bool — one kill-switch implementation shared by every
// trigger source, not one embedded per risk check.
package risk

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"polymarket-arb/internal/config"
	"polymarket-arb/pkg/types"
)

const maxSlippageSamples = 50

// Killswitch is the subset of internal/killswitch.Switch this package
// needs, kept as an interface so tests can fake it without importing the
// real implementation.
type Killswitch interface {
	Activate(reason, detail string)
	IsActive() bool
}

// CheckResult is the outcome of a pre-trade risk check.
type CheckResult struct {
	Allowed bool
	Reason  string
}

func allow() CheckResult        { return CheckResult{Allowed: true} }
func deny(reason string) CheckResult { return CheckResult{Allowed: false, Reason: reason} }

type slippageSample struct {
	at   time.Time
	bps  float64
}

// Manager enforces risk limits. Thread-safe.
type Manager struct {
	cfg     config.RiskConfig
	kill    Killswitch
	logger  *slog.Logger

	mu               sync.Mutex
	startingBalance  float64
	currentBalance   float64
	dailyPnL         float64
	marketExposure   map[string]float64
	openPositions    int

	slippageMu     sync.Mutex
	recentSlippage []slippageSample

	connectivityMu     sync.Mutex
	connectivityIssues int
	lastConnIssue      time.Time

	rateMu         sync.Mutex
	orderTimestamps []time.Time
}

// NewManager creates a risk manager seeded with a starting balance.
func NewManager(cfg config.RiskConfig, startingBalance float64, kill Killswitch, logger *slog.Logger) *Manager {
	return &Manager{
		cfg:             cfg,
		kill:            kill,
		logger:          logger.With("component", "risk"),
		startingBalance: startingBalance,
		currentBalance:  startingBalance,
		marketExposure:  make(map[string]float64),
	}
}

// Run starts the periodic maintenance loop: every 30 seconds it drops
// slippage samples older than ten minutes from the rolling window.
func (rm *Manager) Run(ctx context.Context) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rm.trimSlippageWindow()
		}
	}
}

// CheckOrder runs every pre-trade check for a signal sized at notional.
func (rm *Manager) CheckOrder(signal types.Signal, notional float64) CheckResult {
	if rm.kill != nil && rm.kill.IsActive() {
		return deny("kill switch active")
	}
	if result := rm.CheckDailyLoss(); !result.Allowed {
		return result
	}
	if result := rm.CheckPositionLimit(signal.MarketID); !result.Allowed {
		return result
	}
	if !rm.CanPlaceOrder() {
		return deny("order rate limit exceeded")
	}
	if notional > rm.AvailableBalance() {
		return deny("insufficient available balance")
	}
	return allow()
}

// CheckPositionLimit checks whether a market's exposure is within the
// configured per-market limit.
func (rm *Manager) CheckPositionLimit(marketID string) CheckResult {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	if rm.marketExposure[marketID] > rm.cfg.MaxPositionPerMarket {
		return deny("per-market position limit breached")
	}
	return allow()
}

// CheckDailyLoss checks whether the daily loss limit has been breached.
func (rm *Manager) CheckDailyLoss() CheckResult {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	if rm.dailyPnL < -rm.cfg.MaxDailyLoss {
		return deny("max daily loss breached")
	}
	return allow()
}

// RecordFill updates tracked market exposure after a fill.
func (rm *Manager) RecordFill(fill types.Fill) {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	notional := fill.Price * fill.Size
	if fill.Side == types.SELL {
		notional = -notional
	}
	rm.marketExposure[fill.MarketID] += notional
}

// RecordPnL adds to the running daily realized-PnL counter.
func (rm *Manager) RecordPnL(realizedPnL float64) {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	rm.dailyPnL += realizedPnL
	rm.currentBalance += realizedPnL

	if rm.dailyPnL < -rm.cfg.MaxDailyLoss && rm.kill != nil {
		rm.kill.Activate("daily_loss_limit", fmt.Sprintf("daily pnl %.2f breached limit %.2f", rm.dailyPnL, rm.cfg.MaxDailyLoss))
	}
}

// CurrentExposure returns total exposure summed across all markets.
func (rm *Manager) CurrentExposure() float64 {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	var total float64
	for _, exp := range rm.marketExposure {
		total += exp
	}
	return total
}

// ExposureForMarket returns tracked exposure for one market.
func (rm *Manager) ExposureForMarket(marketID string) float64 {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	return rm.marketExposure[marketID]
}

// DailyPnL returns the running daily realized PnL.
func (rm *Manager) DailyPnL() float64 {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	return rm.dailyPnL
}

// DailyLossRemaining returns how much more daily loss is tolerated before
// the limit triggers.
func (rm *Manager) DailyLossRemaining() float64 {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	remaining := rm.cfg.MaxDailyLoss + rm.dailyPnL
	if remaining < 0 {
		return 0
	}
	return remaining
}

// RecordSlippage appends a slippage sample (in bps) to the rolling window.
func (rm *Manager) RecordSlippage(slippageBps float64) {
	rm.slippageMu.Lock()
	defer rm.slippageMu.Unlock()

	rm.recentSlippage = append(rm.recentSlippage, slippageSample{at: time.Now(), bps: slippageBps})
	if len(rm.recentSlippage) > maxSlippageSamples {
		rm.recentSlippage = rm.recentSlippage[len(rm.recentSlippage)-maxSlippageSamples:]
	}
}

// AverageSlippage returns the mean of the tracked slippage window, 0 if
// empty.
func (rm *Manager) AverageSlippage() float64 {
	rm.slippageMu.Lock()
	defer rm.slippageMu.Unlock()

	if len(rm.recentSlippage) == 0 {
		return 0
	}
	var sum float64
	for _, s := range rm.recentSlippage {
		sum += s.bps
	}
	return sum / float64(len(rm.recentSlippage))
}

func (rm *Manager) trimSlippageWindow() {
	rm.slippageMu.Lock()
	defer rm.slippageMu.Unlock()

	cutoff := time.Now().Add(-10 * time.Minute)
	kept := rm.recentSlippage[:0]
	for _, s := range rm.recentSlippage {
		if s.at.After(cutoff) {
			kept = append(kept, s)
		}
	}
	rm.recentSlippage = kept
}

// RecordConnectivityIssue tracks a feed/venue connectivity failure.
func (rm *Manager) RecordConnectivityIssue() {
	rm.connectivityMu.Lock()
	defer rm.connectivityMu.Unlock()
	rm.connectivityIssues++
	rm.lastConnIssue = time.Now()
}

// ShouldHaltTrading reports whether repeated connectivity issues warrant
// pausing new orders (independent of the kill switch, which is binary and
// sticky — this is a softer, self-clearing signal).
func (rm *Manager) ShouldHaltTrading() bool {
	rm.connectivityMu.Lock()
	defer rm.connectivityMu.Unlock()

	if rm.connectivityIssues == 0 {
		return false
	}
	if time.Since(rm.lastConnIssue) > time.Minute {
		rm.connectivityIssues = 0
		return false
	}
	return rm.connectivityIssues >= rm.cfg.MaxConnectivityIssues
}

// CanPlaceOrder checks the sliding-window order rate limit and, if
// allowed, does NOT itself record the attempt — call RecordOrderPlaced
// after the order is actually sent.
func (rm *Manager) CanPlaceOrder() bool {
	rm.rateMu.Lock()
	defer rm.rateMu.Unlock()

	rm.pruneOrderTimestampsLocked()
	return len(rm.orderTimestamps) < rm.cfg.MaxOrdersPerWindow
}

// RecordOrderPlaced records an order attempt against the sliding window.
func (rm *Manager) RecordOrderPlaced() {
	rm.rateMu.Lock()
	defer rm.rateMu.Unlock()

	rm.pruneOrderTimestampsLocked()
	rm.orderTimestamps = append(rm.orderTimestamps, time.Now())
}

func (rm *Manager) pruneOrderTimestampsLocked() {
	window := time.Duration(rm.cfg.OrderRateWindowSec) * time.Second
	cutoff := time.Now().Add(-window)
	kept := rm.orderTimestamps[:0]
	for _, t := range rm.orderTimestamps {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	rm.orderTimestamps = kept
}

// ResetDailyCounters zeroes daily PnL, called at the configured daily
// reset boundary.
func (rm *Manager) ResetDailyCounters() {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	rm.dailyPnL = 0
	rm.logger.Info("daily risk counters reset")
}

// CurrentBalance returns the account balance this manager is tracking,
// before netting out committed exposure.
func (rm *Manager) CurrentBalance() float64 {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	return rm.currentBalance
}

// ConnectivityIssues returns the current consecutive-failure count (reset
// automatically once a minute passes without a new one).
func (rm *Manager) ConnectivityIssues() int {
	rm.connectivityMu.Lock()
	defer rm.connectivityMu.Unlock()
	if time.Since(rm.lastConnIssue) > time.Minute {
		return 0
	}
	return rm.connectivityIssues
}

// AvailableBalance is current balance minus currently-committed exposure.
func (rm *Manager) AvailableBalance() float64 {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	var exposure float64
	for _, exp := range rm.marketExposure {
		exposure += exp
	}
	available := rm.currentBalance - exposure
	if available < 0 {
		return 0
	}
	return available
}

// UpdateBalance overwrites the current balance, typically from a fresh
// GET /balance reconciliation read.
func (rm *Manager) UpdateBalance(newBalance float64) {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	rm.currentBalance = newBalance
}

// Config returns the risk configuration this manager was built with.
func (rm *Manager) Config() config.RiskConfig { return rm.cfg }
