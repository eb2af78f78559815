// Package degradation implements a graceful-degradation state machine:
// as connection health, drawdown, volatility, or error counts worsen, the
// bot steps down through progressively more restrictive operating modes
// instead of failing open or hard-crashing.
package degradation

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"polymarket-arb/internal/config"
	"polymarket-arb/internal/health"
)

// Mode is the system operating mode, ordered best to worst.
type Mode int

const (
	ModeNormal Mode = iota
	ModeReduced
	ModeMinimal
	ModeMaintenance
	ModeHalted
)

func (m Mode) String() string {
	switch m {
	case ModeNormal:
		return "NORMAL"
	case ModeReduced:
		return "REDUCED"
	case ModeMinimal:
		return "MINIMAL"
	case ModeMaintenance:
		return "MAINTENANCE"
	case ModeHalted:
		return "HALTED"
	default:
		return "UNKNOWN"
	}
}

// worseThan reports whether m is strictly more restrictive than other.
func (m Mode) worseThan(other Mode) bool { return m > other }

// Restrictions describes the trading behavior allowed in a given mode.
type Restrictions struct {
	AllowNewPositions     bool
	AllowPositionIncrease bool
	AllowAggressiveOrders bool
	AllowPassiveOrders    bool

	MaxPositionSizeMultiplier float64
	MinEdgeMultiplier         float64
	MaxExposureMultiplier     float64

	MaxConcurrentOrders int
	MinOrderInterval    time.Duration
}

// RestrictionsForMode returns the fixed restriction set for a mode.
func RestrictionsForMode(mode Mode) Restrictions {
	switch mode {
	case ModeReduced:
		return Restrictions{
			AllowNewPositions: true, AllowPositionIncrease: true,
			AllowAggressiveOrders: true, AllowPassiveOrders: true,
			MaxPositionSizeMultiplier: 0.5, MinEdgeMultiplier: 1.5, MaxExposureMultiplier: 0.75,
			MaxConcurrentOrders: 5, MinOrderInterval: 100 * time.Millisecond,
		}
	case ModeMinimal:
		return Restrictions{
			AllowNewPositions: false, AllowPositionIncrease: true,
			AllowAggressiveOrders: false, AllowPassiveOrders: true,
			MaxPositionSizeMultiplier: 0.25, MinEdgeMultiplier: 2.0, MaxExposureMultiplier: 0.5,
			MaxConcurrentOrders: 2, MinOrderInterval: 500 * time.Millisecond,
		}
	case ModeMaintenance:
		return Restrictions{
			AllowNewPositions: false, AllowPositionIncrease: false,
			AllowAggressiveOrders: false, AllowPassiveOrders: false,
			MaxPositionSizeMultiplier: 0, MaxConcurrentOrders: 0,
		}
	case ModeHalted:
		return Restrictions{
			AllowNewPositions: false, AllowPositionIncrease: false,
			AllowAggressiveOrders: false, AllowPassiveOrders: false,
			MaxPositionSizeMultiplier: 0, MaxConcurrentOrders: 0,
		}
	default: // ModeNormal
		return Restrictions{
			AllowNewPositions: true, AllowPositionIncrease: true,
			AllowAggressiveOrders: true, AllowPassiveOrders: true,
			MaxPositionSizeMultiplier: 1.0, MinEdgeMultiplier: 1.0, MaxExposureMultiplier: 1.0,
			MaxConcurrentOrders: 10,
		}
	}
}

// Event records one mode transition for audit.
type Event struct {
	Timestamp time.Time
	FromMode  Mode
	ToMode    Mode
	Reason    string
	Triggers  []string
}

// ModeChangeCallback fires after a mode transition commits.
type ModeChangeCallback func(from, to Mode, reason string)

type errorSample struct {
	at      time.Time
	errType string
}

// Manager evaluates health/PnL/volatility/error signals and drives the
// operating-mode state machine. Thread-safe.
type Manager struct {
	health         *health.Monitor
	startingBalance float64
	cfg            config.DegradationConfig
	logger         *slog.Logger

	mode Mode

	mu                      sync.Mutex
	currentBalance          float64
	dailyPnL                float64
	referenceVolatility     float64
	recentErrors            []errorSample
	consecutiveHealthyCheck int
	lastModeChange          time.Time

	historyMu sync.Mutex
	history   []Event

	callbackMu sync.Mutex
	onChange   ModeChangeCallback
}

// New creates a manager starting in NORMAL mode.
func New(healthMonitor *health.Monitor, startingBalance float64, cfg config.DegradationConfig, logger *slog.Logger) *Manager {
	return &Manager{
		health:          healthMonitor,
		startingBalance: startingBalance,
		cfg:             cfg,
		logger:          logger.With("component", "degradation"),
		currentBalance:  startingBalance,
		lastModeChange:  time.Now(),
	}
}

// SetModeChangeCallback installs the callback fired on mode transitions.
func (m *Manager) SetModeChangeCallback(cb ModeChangeCallback) {
	m.callbackMu.Lock()
	defer m.callbackMu.Unlock()
	m.onChange = cb
}

// UpdateBalance feeds a fresh account balance into the loss-threshold
// check.
func (m *Manager) UpdateBalance(balance float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.currentBalance = balance
}

// UpdateDailyPnL feeds the running daily realized PnL.
func (m *Manager) UpdateDailyPnL(pnl float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dailyPnL = pnl
}

// UpdateReferenceVolatility feeds the recent reference-price move, as a
// fraction (e.g. 0.02 for a 2% move), into the volatility check.
func (m *Manager) UpdateReferenceVolatility(movePercent float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if movePercent < 0 {
		movePercent = -movePercent
	}
	m.referenceVolatility = movePercent
}

// RecordError logs an operational error (order rejection, feed drop,
// parse failure) and resets the healthy-check streak.
func (m *Manager) RecordError(errType string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recentErrors = append(m.recentErrors, errorSample{at: time.Now(), errType: errType})
	m.cleanupOldErrorsLocked()
	m.consecutiveHealthyCheck = 0
}

// RecordSuccess extends the healthy-check streak used to gate upgrades.
func (m *Manager) RecordSuccess() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.consecutiveHealthyCheck++
}

// Evaluate recomputes the target mode and transitions if warranted.
// Upgrades (moving to a better mode) are gated by cooldown and
// consecutive-healthy-check requirements; downgrades apply immediately.
func (m *Manager) Evaluate() {
	m.mu.Lock()
	m.cleanupOldErrorsLocked()
	current := m.mode
	target := m.determineModeLocked()
	triggers := m.degradationTriggersLocked()
	m.mu.Unlock()

	if target == current {
		return
	}

	if target.worseThan(current) {
		m.transitionMode(target, "automatic", triggers)
		return
	}

	if !m.canUpgrade() {
		return
	}
	m.transitionMode(target, "automatic", triggers)
}

// CurrentMode returns the current operating mode.
func (m *Manager) CurrentMode() Mode {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.mode
}

// CurrentRestrictions returns the restriction set for the current mode.
func (m *Manager) CurrentRestrictions() Restrictions {
	return RestrictionsForMode(m.CurrentMode())
}

// CanOpenPosition reports whether new positions are allowed right now.
func (m *Manager) CanOpenPosition() bool {
	return m.CurrentRestrictions().AllowNewPositions
}

// CanPlaceOrder reports whether any order type (aggressive or passive) is
// allowed right now.
func (m *Manager) CanPlaceOrder() bool {
	r := m.CurrentRestrictions()
	return r.AllowAggressiveOrders || r.AllowPassiveOrders
}

// AdjustedMaxSize scales a base position size by the current mode's
// multiplier.
func (m *Manager) AdjustedMaxSize(baseSize float64) float64 {
	return baseSize * m.CurrentRestrictions().MaxPositionSizeMultiplier
}

// AdjustedMinEdge scales a base minimum-edge requirement by the current
// mode's multiplier.
func (m *Manager) AdjustedMinEdge(baseEdge float64) float64 {
	return baseEdge * m.CurrentRestrictions().MinEdgeMultiplier
}

// SetMode forces a manual mode transition, bypassing automatic evaluation.
func (m *Manager) SetMode(mode Mode, reason string) {
	m.transitionMode(mode, "manual: "+reason, []string{"manual_override"})
}

// UpgradeMode attempts to move one step toward NORMAL, subject to the
// cooldown and healthy-check gate. Returns true if already at NORMAL or
// the upgrade was applied.
func (m *Manager) UpgradeMode() bool {
	current := m.CurrentMode()
	if current == ModeNormal {
		return true
	}
	if !m.canUpgrade() {
		return false
	}

	var target Mode
	switch current {
	case ModeHalted:
		target = ModeMaintenance
	case ModeMaintenance:
		target = ModeMinimal
	case ModeMinimal:
		target = ModeReduced
	case ModeReduced:
		target = ModeNormal
	default:
		return true
	}

	m.transitionMode(target, "conditions improved", []string{"recovery"})
	return true
}

// DowngradeMode forces one step toward HALTED. Returns true if already at
// HALTED or the downgrade was applied.
func (m *Manager) DowngradeMode(reason string) bool {
	current := m.CurrentMode()
	if current == ModeHalted {
		return true
	}

	var target Mode
	switch current {
	case ModeNormal:
		target = ModeReduced
	case ModeReduced:
		target = ModeMinimal
	case ModeMinimal:
		target = ModeMaintenance
	case ModeMaintenance:
		target = ModeHalted
	default:
		return true
	}

	m.transitionMode(target, reason, []string{"manual_downgrade"})
	return true
}

// EventHistory returns a copy of the bounded transition audit trail.
func (m *Manager) EventHistory() []Event {
	m.historyMu.Lock()
	defer m.historyMu.Unlock()
	out := make([]Event, len(m.history))
	copy(out, m.history)
	return out
}

// StatusSummary renders a one-line status for logging.
func (m *Manager) StatusSummary() string {
	mode := m.CurrentMode()
	r := RestrictionsForMode(mode)
	m.mu.Lock()
	errCount := len(m.recentErrors)
	m.mu.Unlock()

	return fmt.Sprintf("mode: %s | new positions: %t | size mult: %.2fx | edge mult: %.2fx | errors: %d",
		mode, r.AllowNewPositions, r.MaxPositionSizeMultiplier, r.MinEdgeMultiplier, errCount)
}

func (m *Manager) determineModeLocked() Mode {
	if m.health != nil {
		sys := m.health.SystemHealth()

		if sys.OverallStatus == health.StatusDisconnected {
			return ModeHalted
		}
		if sys.OverallStatus == health.StatusUnhealthy {
			return ModeMaintenance
		}

		if s, ok := sys.Connections["market_feed"]; ok {
			if s.Status == health.StatusDisconnected {
				return ModeHalted
			}
		}
		if s, ok := sys.Connections["reference_feed"]; ok {
			if s.Status == health.StatusDisconnected {
				return ModeMaintenance
			}
		}
	}

	var lossPercent float64
	if m.startingBalance > 0 {
		lossPercent = (m.startingBalance - m.currentBalance) / m.startingBalance
	}

	if lossPercent >= m.cfg.LossPercentForMinimal {
		return ModeMinimal
	}
	if lossPercent >= m.cfg.LossPercentForReduced {
		return ModeReduced
	}

	if m.referenceVolatility >= m.cfg.VolatilityForReduced {
		return ModeReduced
	}

	errCount := len(m.recentErrors)
	if errCount >= m.cfg.ErrorCountForReduced {
		return ModeReduced
	}

	return ModeNormal
}

func (m *Manager) degradationTriggersLocked() []string {
	var triggers []string

	if m.health != nil {
		sys := m.health.SystemHealth()
		for _, name := range sys.UnhealthyConnections() {
			triggers = append(triggers, "unhealthy_connection:"+name)
		}
	}

	var lossPercent float64
	if m.startingBalance > 0 {
		lossPercent = (m.startingBalance - m.currentBalance) / m.startingBalance
	}
	if lossPercent > 0 {
		triggers = append(triggers, fmt.Sprintf("loss:%.1f%%", lossPercent*100))
	}

	if m.referenceVolatility > m.cfg.VolatilityForReduced {
		triggers = append(triggers, fmt.Sprintf("volatility:%.1f%%", m.referenceVolatility*100))
	}

	if errCount := len(m.recentErrors); errCount > 0 {
		triggers = append(triggers, fmt.Sprintf("errors:%d", errCount))
	}

	return triggers
}

func (m *Manager) canUpgrade() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if time.Since(m.lastModeChange) < m.cfg.UpgradeCooldown {
		return false
	}
	return m.consecutiveHealthyCheck >= m.cfg.ConsecutiveHealthyForUpgrade
}

func (m *Manager) transitionMode(newMode Mode, reason string, triggers []string) {
	m.mu.Lock()
	oldMode := m.mode
	if oldMode == newMode {
		m.mu.Unlock()
		return
	}
	m.mode = newMode
	m.lastModeChange = time.Now()
	m.consecutiveHealthyCheck = 0
	m.mu.Unlock()

	event := Event{Timestamp: time.Now(), FromMode: oldMode, ToMode: newMode, Reason: reason, Triggers: triggers}
	m.historyMu.Lock()
	m.history = append(m.history, event)
	if len(m.history) > 1000 {
		m.history = append([]Event(nil), m.history[500:]...)
	}
	m.historyMu.Unlock()

	m.logger.Warn("operating mode changed", "from", oldMode, "to", newMode, "reason", reason)
	for _, t := range triggers {
		m.logger.Info("degradation trigger", "trigger", t)
	}

	m.callbackMu.Lock()
	cb := m.onChange
	m.callbackMu.Unlock()
	if cb == nil {
		return
	}
	func() {
		defer func() {
			if r := recover(); r != nil {
				m.logger.Error("mode change callback panicked", "error", r)
			}
		}()
		cb(oldMode, newMode, reason)
	}()
}

const errorWindow = 5 * time.Minute

func (m *Manager) cleanupOldErrorsLocked() {
	cutoff := time.Now().Add(-errorWindow)
	kept := m.recentErrors[:0]
	for _, e := range m.recentErrors {
		if e.at.After(cutoff) {
			kept = append(kept, e)
		}
	}
	m.recentErrors = kept
}
