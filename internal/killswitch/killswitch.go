// Package killswitch implements a single, process-wide kill switch: once
// tripped, no new orders go out until an operator explicitly clears it.
//
// Activation is compare-and-swap idempotent — the first trigger wins and
// every later one is a no-op log line, never a second activation — and
// every activation/deactivation is appended to a bounded audit trail.
package killswitch

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Absolute limits. These cannot be configured away — see the hard-limit
// checks in CheckTotalLoss/CheckExposure/CheckPositionCount.
const (
	AbsoluteMaxLossPercent   = 0.25
	AbsoluteMaxExposure      = 10000.0
	AbsoluteMaxOpenPositions = 20
	MaxRateLimitBreaches     = 5

	maxHistorySize     = 1000
	historyTrimToSize  = 500
)

// Reason identifies why the kill switch tripped, ordered by severity
// (most code should only ever compare by equality, not ordering, but the
// ordering is kept meaningful for logs and dashboards).
type Reason int

const (
	ReasonUnknown Reason = iota
	ReasonManual
	ReasonDailyLossLimit
	ReasonTotalLossLimit
	ReasonExposureBreach
	ReasonConnectivityLoss
	ReasonHighSlippage
	ReasonReconciliationFail
	ReasonUnhedgedPosition
	ReasonRateLimitBreach
	ReasonSystemError
)

func (r Reason) String() string {
	switch r {
	case ReasonManual:
		return "MANUAL"
	case ReasonDailyLossLimit:
		return "DAILY_LOSS_LIMIT"
	case ReasonTotalLossLimit:
		return "TOTAL_LOSS_LIMIT"
	case ReasonExposureBreach:
		return "EXPOSURE_BREACH"
	case ReasonConnectivityLoss:
		return "CONNECTIVITY_LOSS"
	case ReasonHighSlippage:
		return "HIGH_SLIPPAGE"
	case ReasonReconciliationFail:
		return "RECONCILIATION_FAIL"
	case ReasonUnhedgedPosition:
		return "UNHEDGED_POSITION"
	case ReasonRateLimitBreach:
		return "RATE_LIMIT_BREACH"
	case ReasonSystemError:
		return "SYSTEM_ERROR"
	default:
		return "UNKNOWN"
	}
}

// Event is one entry in the kill switch's audit trail.
type Event struct {
	Timestamp    time.Time
	Reason       Reason
	Details      string
	IsActivation bool
}

// Config holds the soft, configurable thresholds. CheckTotalLoss and
// CheckExposure also enforce a hard, unconfigurable limit regardless of
// Config; the daily-loss, connectivity and slippage checks use Config alone.
type Config struct {
	DailyLossLimit        float64
	TotalLossLimitPercent float64
	MaxExposure           float64
	MaxConnectivityFailures int
	HighSlippageBps       float64
	MaxSlippageEvents     int
	SlippageWindow        time.Duration
}

// DefaultConfig returns conservative soft thresholds.
func DefaultConfig() Config {
	return Config{
		DailyLossLimit:          5.0,
		TotalLossLimitPercent:   0.10,
		MaxExposure:             100.0,
		MaxConnectivityFailures: 10,
		HighSlippageBps:         100.0,
		MaxSlippageEvents:       3,
		SlippageWindow:          5 * time.Minute,
	}
}

// Callback is invoked whenever the switch activates.
type Callback func(reason Reason, details string)

type slippageEvent struct {
	at  time.Time
	bps float64
}

// Switch is the process-wide kill switch. Safe for concurrent use.
type Switch struct {
	active          atomic.Bool
	startingBalance float64
	cfg             Config
	logger          *slog.Logger

	stateMu          sync.Mutex
	currentReason    Reason
	currentDetails   string
	activationTime   time.Time

	historyMu sync.Mutex
	history   []Event

	slippageMu sync.Mutex
	slippage   []slippageEvent

	rateLimitBreaches atomic.Int32

	callbackMu sync.Mutex
	callback   Callback
}

// New creates a kill switch seeded with the account's starting balance.
func New(startingBalance float64, cfg Config, logger *slog.Logger) *Switch {
	logger.Info("kill switch initialized", "starting_balance", startingBalance, "daily_limit", cfg.DailyLossLimit)
	return &Switch{
		startingBalance: startingBalance,
		cfg:             cfg,
		logger:          logger.With("component", "killswitch"),
	}
}

// IsActive reports whether the kill switch is currently tripped.
func (k *Switch) IsActive() bool { return k.active.Load() }

// Reason returns the reason the switch most recently tripped (or
// ReasonUnknown if it's never tripped, or was cleared).
func (k *Switch) Reason() Reason {
	k.stateMu.Lock()
	defer k.stateMu.Unlock()
	return k.currentReason
}

// Details returns the free-text details of the current/last activation.
func (k *Switch) Details() string {
	k.stateMu.Lock()
	defer k.stateMu.Unlock()
	return k.currentDetails
}

// SetCallback registers a callback invoked on every activation. Only one
// callback is supported; a later call replaces the prior one.
func (k *Switch) SetCallback(cb Callback) {
	k.callbackMu.Lock()
	defer k.callbackMu.Unlock()
	k.callback = cb
}

// Activate trips the switch. Idempotent: if already active, this only
// logs and returns. Satisfies the risk.Killswitch interface.
func (k *Switch) Activate(reasonStr, details string) {
	k.activate(parseReason(reasonStr), details)
}

func (k *Switch) activate(reason Reason, details string) {
	if !k.active.CompareAndSwap(false, true) {
		k.logger.Debug("kill switch already active, ignoring activation", "details", details)
		return
	}

	k.stateMu.Lock()
	k.currentReason = reason
	k.currentDetails = details
	k.activationTime = time.Now()
	k.stateMu.Unlock()

	k.recordEvent(reason, details, true)
	k.logger.Error("KILL SWITCH ACTIVATED", "reason", reason, "details", details)
	k.invokeCallback(reason, details)
}

// ActivateManual trips the switch for an operator-initiated reason.
func (k *Switch) ActivateManual(operatorNote string) {
	if operatorNote == "" {
		operatorNote = "manual activation"
	}
	k.activate(ReasonManual, operatorNote)
}

// Deactivate clears the switch. Requires an explicit operator note; fails
// if the switch isn't currently active.
func (k *Switch) Deactivate(operatorNote string) bool {
	if !k.active.CompareAndSwap(true, false) {
		k.logger.Warn("kill switch deactivation requested but not active")
		return false
	}

	k.stateMu.Lock()
	prevReason := k.currentReason
	k.currentReason = ReasonUnknown
	k.currentDetails = ""
	k.stateMu.Unlock()

	k.recordEvent(prevReason, operatorNote, false)
	k.logger.Warn("KILL SWITCH DEACTIVATED by operator", "note", operatorNote)
	k.rateLimitBreaches.Store(0)
	return true
}

// CheckDailyLoss trips the switch if daily PnL has breached the soft
// daily-loss limit. Returns true if this call activated it.
func (k *Switch) CheckDailyLoss(currentDailyPnL float64) bool {
	if k.IsActive() {
		return false
	}
	if currentDailyPnL <= -k.cfg.DailyLossLimit {
		k.activate(ReasonDailyLossLimit, fmt.Sprintf("daily loss $%.2f exceeded limit $%.2f", -currentDailyPnL, k.cfg.DailyLossLimit))
		return true
	}
	return false
}

// CheckTotalLoss trips the switch if the account has lost more than the
// hard 25% (unconditional) or soft configured percentage of its starting
// balance.
func (k *Switch) CheckTotalLoss(currentBalance float64) bool {
	if k.IsActive() {
		return false
	}
	lossPercent := (k.startingBalance - currentBalance) / k.startingBalance

	if lossPercent >= AbsoluteMaxLossPercent {
		k.activate(ReasonTotalLossLimit, fmt.Sprintf("HARD LIMIT: lost %.1f%% of starting balance (limit %.1f%%)", lossPercent*100, AbsoluteMaxLossPercent*100))
		return true
	}
	if lossPercent >= k.cfg.TotalLossLimitPercent {
		k.activate(ReasonTotalLossLimit, fmt.Sprintf("lost %.1f%% of starting balance (limit %.1f%%)", lossPercent*100, k.cfg.TotalLossLimitPercent*100))
		return true
	}
	return false
}

// CheckExposure trips the switch if total exposure breaches the hard
// $10,000 ceiling or the soft configured ceiling.
func (k *Switch) CheckExposure(currentExposure float64) bool {
	if k.IsActive() {
		return false
	}
	if currentExposure >= AbsoluteMaxExposure {
		k.activate(ReasonExposureBreach, fmt.Sprintf("HARD LIMIT: exposure $%.2f exceeded absolute max $%.2f", currentExposure, AbsoluteMaxExposure))
		return true
	}
	if currentExposure >= k.cfg.MaxExposure {
		k.activate(ReasonExposureBreach, fmt.Sprintf("exposure $%.2f exceeded limit $%.2f", currentExposure, k.cfg.MaxExposure))
		return true
	}
	return false
}

// CheckPositionCount trips the switch if open positions hit the hard cap
// of 20.
func (k *Switch) CheckPositionCount(openPositions int) bool {
	if k.IsActive() {
		return false
	}
	if openPositions >= AbsoluteMaxOpenPositions {
		k.activate(ReasonExposureBreach, fmt.Sprintf("HARD LIMIT: %d positions exceeded max %d", openPositions, AbsoluteMaxOpenPositions))
		return true
	}
	return false
}

// CheckConnectivity trips the switch after too many consecutive
// connection failures.
func (k *Switch) CheckConnectivity(consecutiveFailures int) bool {
	if k.IsActive() {
		return false
	}
	if consecutiveFailures >= k.cfg.MaxConnectivityFailures {
		k.activate(ReasonConnectivityLoss, fmt.Sprintf("%d consecutive connection failures", consecutiveFailures))
		return true
	}
	return false
}

// CheckSlippage records a high-slippage event if above threshold, and
// trips the switch once too many accumulate within the slippage window.
func (k *Switch) CheckSlippage(slippageBps float64) bool {
	if k.IsActive() {
		return false
	}
	if slippageBps < k.cfg.HighSlippageBps {
		return false
	}

	k.slippageMu.Lock()
	k.slippage = append(k.slippage, slippageEvent{at: time.Now(), bps: slippageBps})
	k.cleanupOldSlippageEventsLocked()
	count := len(k.slippage)
	k.slippageMu.Unlock()

	if count >= k.cfg.MaxSlippageEvents {
		k.activate(ReasonHighSlippage, fmt.Sprintf("%d high-slippage events (>%.0fbps) in %s", count, k.cfg.HighSlippageBps, k.cfg.SlippageWindow))
		return true
	}

	k.logger.Warn("high slippage detected", "bps", slippageBps)
	return false
}

// CheckRateLimitBreach trips the switch after too many rate-limit
// breaches; the count is reset when the switch is deactivated.
func (k *Switch) CheckRateLimitBreach() bool {
	if k.IsActive() {
		return false
	}
	breaches := k.rateLimitBreaches.Add(1)
	if int(breaches) >= MaxRateLimitBreaches {
		k.activate(ReasonRateLimitBreach, fmt.Sprintf("%d rate limit breaches", breaches))
		return true
	}
	k.logger.Warn("rate limit breach", "count", breaches)
	return false
}

// WouldBreachAbsoluteLimits checks the hard limits without mutating any
// state — used by the exposure manager and execution engine to pre-flight
// a decision before committing to it.
func WouldBreachAbsoluteLimits(currentBalance, startingBalance, exposure float64, positions int) bool {
	lossPercent := (startingBalance - currentBalance) / startingBalance
	if lossPercent >= AbsoluteMaxLossPercent {
		return true
	}
	if exposure >= AbsoluteMaxExposure {
		return true
	}
	if positions >= AbsoluteMaxOpenPositions {
		return true
	}
	return false
}

// History returns a copy of the audit trail.
func (k *Switch) History() []Event {
	k.historyMu.Lock()
	defer k.historyMu.Unlock()
	out := make([]Event, len(k.history))
	copy(out, k.history)
	return out
}

// ClearHistory empties the audit trail.
func (k *Switch) ClearHistory() {
	k.historyMu.Lock()
	defer k.historyMu.Unlock()
	k.history = nil
}

func (k *Switch) recordEvent(reason Reason, details string, isActivation bool) {
	k.historyMu.Lock()
	defer k.historyMu.Unlock()

	k.history = append(k.history, Event{
		Timestamp:    time.Now(),
		Reason:       reason,
		Details:      details,
		IsActivation: isActivation,
	})

	if len(k.history) > maxHistorySize {
		k.history = append([]Event(nil), k.history[len(k.history)-historyTrimToSize:]...)
	}
}

func (k *Switch) invokeCallback(reason Reason, details string) {
	k.callbackMu.Lock()
	cb := k.callback
	k.callbackMu.Unlock()
	if cb == nil {
		return
	}

	defer func() {
		if r := recover(); r != nil {
			k.logger.Error("kill switch callback panicked", "panic", r)
		}
	}()
	cb(reason, details)
}

func (k *Switch) cleanupOldSlippageEventsLocked() {
	cutoff := time.Now().Add(-k.cfg.SlippageWindow)
	kept := k.slippage[:0]
	for _, e := range k.slippage {
		if e.at.After(cutoff) {
			kept = append(kept, e)
		}
	}
	k.slippage = kept
}

func parseReason(s string) Reason {
	switch s {
	case "manual":
		return ReasonManual
	case "daily_loss_limit":
		return ReasonDailyLossLimit
	case "total_loss_limit":
		return ReasonTotalLossLimit
	case "exposure_breach":
		return ReasonExposureBreach
	case "connectivity_loss":
		return ReasonConnectivityLoss
	case "high_slippage":
		return ReasonHighSlippage
	case "reconciliation_fail":
		return ReasonReconciliationFail
	case "unhedged_position":
		return ReasonUnhedgedPosition
	case "rate_limit_breach":
		return ReasonRateLimitBreach
	case "system_error":
		return ReasonSystemError
	default:
		return ReasonUnknown
	}
}
