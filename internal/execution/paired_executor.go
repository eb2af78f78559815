package execution

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"polymarket-arb/internal/config"
	"polymarket-arb/internal/killswitch"
	"polymarket-arb/internal/marketdata"
	"polymarket-arb/pkg/types"
)

// PairState is the paired-order state machine.
type PairState int

const (
	PairCreated PairState = iota
	PairLeg1Pending
	PairLeg1Filled
	PairLeg2Pending
	PairFullyFilled
	PairPartialFill
	PairLeg1Failed
	PairLeg2Failed
	PairUnwindPending
	PairUnwound
	PairAbandoned
	PairCanceled
)

func (s PairState) String() string {
	switch s {
	case PairCreated:
		return "CREATED"
	case PairLeg1Pending:
		return "LEG1_PENDING"
	case PairLeg1Filled:
		return "LEG1_FILLED"
	case PairLeg2Pending:
		return "LEG2_PENDING"
	case PairFullyFilled:
		return "FULLY_FILLED"
	case PairPartialFill:
		return "PARTIAL_FILL"
	case PairLeg1Failed:
		return "LEG1_FAILED"
	case PairLeg2Failed:
		return "LEG2_FAILED"
	case PairUnwindPending:
		return "UNWIND_PENDING"
	case PairUnwound:
		return "UNWOUND"
	case PairAbandoned:
		return "ABANDONED"
	case PairCanceled:
		return "CANCELED"
	default:
		return "UNKNOWN"
	}
}

// Leg is one side (YES or NO) of a paired order.
type Leg struct {
	OrderID      string
	TokenID      string
	Outcome      string // "YES" or "NO"
	Side         types.Side
	Price        float64
	Size         float64
	FilledSize   float64
	AvgFillPrice float64
	State        types.OrderState
	RetryCount   int
	SubmitTime   time.Time
	FillTime     time.Time
}

// PairedOrder tracks both legs of a two-outcome arbitrage trade.
type PairedOrder struct {
	PairID   string
	MarketID string

	Leg1 Leg
	Leg2 Leg

	State         PairState
	ExpectedEdge  float64
	RealizedEdge  float64
	RealizedPnL   float64
	CreatedAt     time.Time
	LastUpdate    time.Time
	FailureReason string
}

// IsTerminal reports whether the pair can never change state again.
func (p *PairedOrder) IsTerminal() bool {
	switch p.State {
	case PairFullyFilled, PairUnwound, PairAbandoned, PairCanceled, PairLeg1Failed:
		return true
	default:
		return false
	}
}

// IsHedged reports whether the pair currently carries no unhedged
// exposure (either both legs matched, nothing was submitted, or any
// exposure has been unwound).
func (p *PairedOrder) IsHedged() bool {
	switch p.State {
	case PairFullyFilled, PairCreated, PairCanceled, PairLeg1Failed, PairUnwound:
		return true
	default:
		return false
	}
}

// NeedsUnwind reports whether the pair has one-sided exposure that must
// be unwound.
func (p *PairedOrder) NeedsUnwind() bool {
	return p.State == PairLeg2Failed || p.State == PairPartialFill
}

// UnhedgedExposure returns the dollar mismatch between the two legs'
// filled notional, 0 if the pair is hedged.
func (p *PairedOrder) UnhedgedExposure() float64 {
	if p.IsHedged() {
		return 0
	}
	leg1Exposure := p.Leg1.FilledSize * p.Leg1.AvgFillPrice
	leg2Exposure := p.Leg2.FilledSize * p.Leg2.AvgFillPrice
	return math.Abs(leg1Exposure - leg2Exposure)
}

// PairedExecutionResult is the outcome of one Execute call.
type PairedExecutionResult struct {
	Success      bool
	PairID       string
	FinalState   PairState
	RealizedPnL  float64
	Error        string
	Leg1Filled   bool
	Leg2Filled   bool
	Leg1FillPrice float64
	Leg2FillPrice float64
	Leg1FillSize  float64
	Leg2FillSize  float64
}

// FillCallback is invoked whenever a leg fills.
type FillCallback func(pair PairedOrder, fill types.Fill)

// UnwindCallback is invoked after an unwind attempt completes.
type UnwindCallback func(pair PairedOrder, success bool)

// PairedExecutor manages atomic YES+NO order pairs: submits leg1, waits
// for its fill, submits leg2 with retries on an adjusted price, and
// unwinds leg1 if leg2 can't be hedged.
type PairedExecutor struct {
	client     *marketdata.Client
	killSwitch *killswitch.Switch
	cfg        config.ExecutionConfig
	logger     *slog.Logger

	mu    sync.Mutex
	pairs map[string]PairedOrder

	onFill   FillCallback
	onUnwind UnwindCallback

	totalPairs     atomic.Int64
	successfulPairs atomic.Int64
	failedPairs    atomic.Int64
	unwindAttempts atomic.Int64

	pairSeq atomic.Int64
}

// NewPairedExecutor builds a paired executor.
func NewPairedExecutor(client *marketdata.Client, killSwitch *killswitch.Switch, cfg config.ExecutionConfig, logger *slog.Logger) *PairedExecutor {
	return &PairedExecutor{
		client:     client,
		killSwitch: killSwitch,
		cfg:        cfg,
		logger:     logger.With("component", "paired_executor"),
		pairs:      make(map[string]PairedOrder),
	}
}

// SetFillCallback registers the per-leg fill callback.
func (e *PairedExecutor) SetFillCallback(cb FillCallback) { e.onFill = cb }

// SetUnwindCallback registers the unwind-outcome callback.
func (e *PairedExecutor) SetUnwindCallback(cb UnwindCallback) { e.onUnwind = cb }

func (e *PairedExecutor) generatePairID() string {
	return fmt.Sprintf("PAIR-%d-%d", time.Now().UnixMilli(), e.pairSeq.Add(1))
}

// Execute submits a paired YES+NO order and drives it to a terminal
// state, blocking for up to leg1_timeout + leg2_timeout + retries +
// unwind_timeout.
func (e *PairedExecutor) Execute(ctx context.Context, yesSignal, noSignal types.Signal) PairedExecutionResult {
	result := PairedExecutionResult{}

	pair := PairedOrder{
		PairID:       e.generatePairID(),
		MarketID:     yesSignal.MarketID,
		CreatedAt:    time.Now(),
		ExpectedEdge: yesSignal.ExpectedEdge,
		State:        PairCreated,
	}
	pair.Leg1 = Leg{TokenID: yesSignal.TokenID, Outcome: "YES", Side: yesSignal.Side, Price: yesSignal.Price, Size: yesSignal.Size}
	pair.Leg2 = Leg{TokenID: noSignal.TokenID, Outcome: "NO", Side: noSignal.Side, Price: noSignal.Price, Size: noSignal.Size}

	result.PairID = pair.PairID
	e.totalPairs.Add(1)

	e.logger.Info("executing paired order",
		"pair_id", pair.PairID,
		"yes_price", pair.Leg1.Price, "yes_size", pair.Leg1.Size,
		"no_price", pair.Leg2.Price, "no_size", pair.Leg2.Size,
		"expected_edge_cents", pair.ExpectedEdge*100,
	)

	e.storePair(pair)

	e.updatePairState(&pair, PairLeg1Pending)
	if !e.submitLeg(ctx, &pair, &pair.Leg1, true) {
		e.updatePairState(&pair, PairLeg1Failed)
		result.Error = "leg 1 submission failed"
		e.failedPairs.Add(1)
		result.FinalState = pair.State
		return result
	}

	leg1Timeout := e.cfg.Leg1Timeout
	if leg1Timeout <= 0 {
		leg1Timeout = 5 * time.Second
	}
	if !e.waitForFill(ctx, &pair, &pair.Leg1, leg1Timeout) {
		if _, err := e.client.CancelOrder(ctx, pair.Leg1.OrderID); err == nil {
			e.updatePairState(&pair, PairCanceled)
			result.Error = "leg 1 timeout, canceled"
		} else {
			filled, ok := e.findOpenOrder(ctx, pair.Leg1.OrderID)
			if ok && filled.FilledSize > 0 {
				pair.Leg1.FilledSize = filled.FilledSize
				pair.Leg1.AvgFillPrice = filled.AvgFillPrice
				pair.Leg1.State = types.OrderFilled
				e.updatePairState(&pair, PairLeg1Filled)
			} else {
				e.updatePairState(&pair, PairLeg1Failed)
				result.Error = "leg 1 timeout, cancel failed"
				e.failedPairs.Add(1)
				result.FinalState = pair.State
				return result
			}
		}
	} else {
		e.updatePairState(&pair, PairLeg1Filled)
	}

	result.Leg1Filled = pair.Leg1.FilledSize > 0
	result.Leg1FillPrice = pair.Leg1.AvgFillPrice
	result.Leg1FillSize = pair.Leg1.FilledSize

	if pair.State == PairCanceled {
		result.FinalState = pair.State
		return result
	}

	e.updatePairState(&pair, PairLeg2Pending)
	if !e.submitLeg(ctx, &pair, &pair.Leg2, false) {
		e.logger.Error("CRITICAL: leg 2 submission failed, unhedged exposure", "pair_id", pair.PairID)
		e.updatePairState(&pair, PairLeg2Failed)

		if e.cfg.AutoUnwind {
			if e.attemptUnwind(ctx, &pair) {
				result.Error = "leg 2 failed, unwound successfully"
			} else {
				result.Error = "leg 2 failed, unwind FAILED - MANUAL INTERVENTION NEEDED"
				e.checkKillSwitchTrigger(&pair)
			}
		} else {
			result.Error = "leg 2 failed, auto-unwind disabled"
			e.checkKillSwitchTrigger(&pair)
		}

		e.failedPairs.Add(1)
		result.FinalState = pair.State
		return result
	}

	leg2Timeout := e.cfg.Leg2Timeout
	if leg2Timeout <= 0 {
		leg2Timeout = 5 * time.Second
	}
	maxRetries := e.cfg.MaxRetries
	retries := 0
	currentEdge := pair.ExpectedEdge
	for !e.waitForFill(ctx, &pair, &pair.Leg2, leg2Timeout) && retries < maxRetries {
		e.logger.Warn("leg 2 not filled, retrying", "pair_id", pair.PairID, "attempt", retries+1, "max_retries", maxRetries)
		_, _ = e.client.CancelOrder(ctx, pair.Leg2.OrderID)

		if e.retryLeg(ctx, &pair, &pair.Leg2, currentEdge) {
			retries++
		} else {
			break
		}
	}

	threshold := e.cfg.Leg1FillThresholdPct
	if threshold <= 0 {
		threshold = 0.99
	}
	if pair.Leg2.FilledSize >= pair.Leg2.Size*threshold {
		e.updatePairState(&pair, PairFullyFilled)
		result.Success = true
		e.successfulPairs.Add(1)

		pair.RealizedPnL = (pair.Leg1.FilledSize*pair.Leg1.AvgFillPrice + pair.Leg2.FilledSize*pair.Leg2.AvgFillPrice) -
			(pair.Leg1.Size*pair.Leg1.Price + pair.Leg2.Size*pair.Leg2.Price)

		e.logger.Info("paired order filled", "pair_id", pair.PairID, "realized_pnl", pair.RealizedPnL)
	} else {
		e.logger.Error("leg 2 failed after retries, attempting unwind", "pair_id", pair.PairID, "retries", retries)
		e.updatePairState(&pair, PairLeg2Failed)

		if e.cfg.AutoUnwind && e.attemptUnwind(ctx, &pair) {
			result.Error = "leg 2 failed, unwound successfully"
		} else {
			result.Error = "leg 2 failed, unwind FAILED"
			e.checkKillSwitchTrigger(&pair)
		}
		e.failedPairs.Add(1)
	}

	result.Leg2Filled = pair.Leg2.FilledSize > 0
	result.Leg2FillPrice = pair.Leg2.AvgFillPrice
	result.Leg2FillSize = pair.Leg2.FilledSize
	result.FinalState = pair.State
	result.RealizedPnL = pair.RealizedPnL

	e.storePair(pair)
	return result
}

func (e *PairedExecutor) submitLeg(ctx context.Context, pair *PairedOrder, leg *Leg, isLeg1 bool) bool {
	order := types.UserOrder{
		TokenID:   leg.TokenID,
		Price:     leg.Price,
		Size:      leg.Size,
		Side:      leg.Side,
		OrderType: types.OrderTypeIOC,
		TickSize:  types.Tick001,
	}

	resp, err := e.client.PostOrder(ctx, order)
	if err != nil || !resp.Success {
		reason := ""
		if err != nil {
			reason = err.Error()
		} else {
			reason = resp.ErrorMsg
		}
		legName := "leg2"
		if isLeg1 {
			legName = "leg1"
		}
		e.logger.Error("failed to submit leg", "leg", legName, "error", reason)
		return false
	}

	leg.OrderID = resp.OrderID
	leg.SubmitTime = time.Now()
	leg.State = types.OrderSent
	return true
}

// waitForFill polls the venue's open orders until the leg fills past
// threshold, reaches a terminal non-fill state, or timeout elapses.
func (e *PairedExecutor) waitForFill(ctx context.Context, pair *PairedOrder, leg *Leg, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	threshold := e.cfg.Leg1FillThresholdPct
	if threshold <= 0 {
		threshold = 0.99
	}

	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return false
		case <-ticker.C:
		}

		state, ok := e.findOpenOrder(ctx, leg.OrderID)
		if !ok {
			continue
		}
		if state.FilledSize >= leg.Size*threshold {
			leg.FilledSize = state.FilledSize
			leg.AvgFillPrice = state.AvgFillPrice
			leg.State = types.OrderFilled
			leg.FillTime = time.Now()

			if e.onFill != nil {
				e.onFill(*pair, types.Fill{
					OrderID:   leg.OrderID,
					MarketID:  pair.MarketID,
					TokenID:   leg.TokenID,
					Side:      leg.Side,
					Price:     leg.AvgFillPrice,
					Size:      leg.FilledSize,
					Timestamp: leg.FillTime,
				})
			}
			return true
		}
		if state.State == types.OrderCanceled || state.State == types.OrderRejected || state.State == types.OrderExpired {
			leg.State = state.State
			return false
		}
	}
	return false
}

// openOrderState is the resolved view of an OpenOrder used by
// waitForFill/findOpenOrder.
type openOrderState struct {
	FilledSize   float64
	AvgFillPrice float64
	State        types.OrderState
}

// findOpenOrder looks up one order by id in the venue's open-order list.
// A miss (or a failed query) returns ok=false: waitForFill keeps polling
// on a miss, and Execute treats a miss after a failed leg-1 cancel as a
// leg-1 failure.
func (e *PairedExecutor) findOpenOrder(ctx context.Context, orderID string) (openOrderState, bool) {
	orders, err := e.client.GetOpenOrders(ctx)
	if err != nil {
		return openOrderState{}, false
	}
	for _, o := range orders {
		if o.ID != orderID {
			continue
		}
		size, _ := strconv.ParseFloat(o.SizeMatched, 64)
		price, _ := strconv.ParseFloat(o.Price, 64)
		return openOrderState{FilledSize: size, AvgFillPrice: price, State: parseOrderState(o.Status)}, true
	}
	return openOrderState{}, false
}

func parseOrderState(status string) types.OrderState {
	switch status {
	case "live", "matched":
		return types.OrderAcknowledged
	case "canceled":
		return types.OrderCanceled
	case "rejected":
		return types.OrderRejected
	case "expired":
		return types.OrderExpired
	default:
		return types.OrderSent
	}
}

// retryLeg resubmits a leg at a worsened price, giving up if the
// remaining edge after adjustment is too small or the adjustment exceeds
// the configured bps cap.
func (e *PairedExecutor) retryLeg(ctx context.Context, pair *PairedOrder, leg *Leg, currentEdge float64) bool {
	leg.RetryCount++

	adjustedPrice := e.calculateAdjustedPrice(leg.Price, leg.Side, leg.RetryCount)

	priceDiff := math.Abs(adjustedPrice - leg.Price)
	remainingEdge := currentEdge - priceDiff

	minEdge := e.cfg.MinEdgeAfterAdjustment / 100.0
	if remainingEdge < minEdge {
		e.logger.Warn("edge too small after adjustment, giving up", "pair_id", pair.PairID, "remaining_edge", remainingEdge)
		return false
	}

	adjustmentBps := (priceDiff / leg.Price) * 10000
	maxAdjustment := e.cfg.MaxPriceAdjustmentBps
	if maxAdjustment <= 0 {
		maxAdjustment = 50.0
	}
	if adjustmentBps > maxAdjustment {
		e.logger.Warn("max price adjustment exceeded, giving up", "pair_id", pair.PairID, "adjustment_bps", adjustmentBps)
		return false
	}

	leg.Price = adjustedPrice
	return e.submitLeg(ctx, pair, leg, false)
}

// attemptUnwind closes out a one-sided fill at a worsened price to flatten
// unhedged exposure.
func (e *PairedExecutor) attemptUnwind(ctx context.Context, pair *PairedOrder) bool {
	e.unwindAttempts.Add(1)
	e.logger.Warn("attempting to unwind pair", "pair_id", pair.PairID)
	e.updatePairState(pair, PairUnwindPending)

	filledLeg := &pair.Leg2
	if pair.Leg1.FilledSize > 0 {
		filledLeg = &pair.Leg1
	}

	unwindSide := filledLeg.Side.Opposite()
	unwindPrice := e.calculateUnwindPrice(filledLeg.AvgFillPrice, filledLeg.Side)

	order := types.UserOrder{
		TokenID:   filledLeg.TokenID,
		Price:     unwindPrice,
		Size:      filledLeg.FilledSize,
		Side:      unwindSide,
		OrderType: types.OrderTypeIOC,
		TickSize:  types.Tick001,
	}

	resp, err := e.client.PostOrder(ctx, order)
	if err != nil || !resp.Success {
		e.logger.Error("failed to submit unwind order", "pair_id", pair.PairID)
		e.updatePairState(pair, PairAbandoned)
		if e.onUnwind != nil {
			e.onUnwind(*pair, false)
		}
		return false
	}

	unwindTimeout := e.cfg.UnwindTimeout
	if unwindTimeout <= 0 {
		unwindTimeout = 10 * time.Second
	}
	fillThreshold := e.cfg.UnwindFillThresholdPct
	if fillThreshold <= 0 {
		fillThreshold = 0.95
	}

	deadline := time.Now().Add(unwindTimeout)
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			break
		case <-ticker.C:
		}

		state, ok := e.findOpenOrder(ctx, resp.OrderID)
		if !ok {
			continue
		}
		if state.FilledSize >= order.Size*fillThreshold {
			e.updatePairState(pair, PairUnwound)

			sign := -1.0
			if filledLeg.Side == types.SELL {
				sign = 1.0
			}
			pair.RealizedPnL = (state.AvgFillPrice - filledLeg.AvgFillPrice) * filledLeg.FilledSize * sign

			e.logger.Info("unwind successful", "pair_id", pair.PairID, "realized_pnl", pair.RealizedPnL)
			if e.onUnwind != nil {
				e.onUnwind(*pair, true)
			}
			return true
		}
	}

	e.logger.Error("unwind timeout", "pair_id", pair.PairID)
	e.updatePairState(pair, PairAbandoned)
	if e.onUnwind != nil {
		e.onUnwind(*pair, false)
	}
	return false
}

// calculateAdjustedPrice worsens the price by retry_price_adjustment_bps
// per retry, more aggressive on each attempt: higher for BUY, lower for
// SELL.
func (e *PairedExecutor) calculateAdjustedPrice(originalPrice float64, side types.Side, retryCount int) float64 {
	adjustment := originalPrice * (e.cfg.RetryBpsPerAttempt / 10000.0) * float64(retryCount)
	if side == types.BUY {
		return originalPrice + adjustment
	}
	return originalPrice - adjustment
}

// calculateUnwindPrice accepts slippage to flatten a one-sided fill: sell
// below entry if we bought, buy above entry if we sold.
func (e *PairedExecutor) calculateUnwindPrice(entryPrice float64, entrySide types.Side) float64 {
	discount := entryPrice * (e.cfg.UnwindWorsenBps / 10000.0)
	if entrySide == types.BUY {
		return entryPrice - discount
	}
	return entryPrice + discount
}

func (e *PairedExecutor) updatePairState(pair *PairedOrder, newState PairState) {
	pair.State = newState
	pair.LastUpdate = time.Now()
	e.logger.Debug("pair state transition", "pair_id", pair.PairID, "state", newState.String())
	e.storePair(*pair)
}

func (e *PairedExecutor) storePair(pair PairedOrder) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.pairs[pair.PairID] = pair
}

func (e *PairedExecutor) checkKillSwitchTrigger(pair *PairedOrder) {
	if e.killSwitch == nil {
		return
	}
	unhedged := pair.UnhedgedExposure()
	if unhedged > 0 {
		e.logger.Error("UNHEDGED EXPOSURE", "amount", unhedged, "pair_id", pair.PairID)
		e.killSwitch.Activate("unhedged_position", fmt.Sprintf("unhedged exposure $%.2f from pair %s", unhedged, pair.PairID))
	}
}

// GetPair returns a snapshot of a tracked pair by id.
func (e *PairedExecutor) GetPair(pairID string) (PairedOrder, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	p, ok := e.pairs[pairID]
	return p, ok
}

// CancelPair cancels both legs of a non-terminal pair.
func (e *PairedExecutor) CancelPair(ctx context.Context, pairID string) bool {
	e.mu.Lock()
	pair, ok := e.pairs[pairID]
	e.mu.Unlock()
	if !ok || pair.IsTerminal() {
		return false
	}

	canceled := false
	if pair.Leg1.OrderID != "" && pair.Leg1.State != types.OrderFilled {
		if _, err := e.client.CancelOrder(ctx, pair.Leg1.OrderID); err == nil {
			canceled = true
		}
	}
	if pair.Leg2.OrderID != "" && pair.Leg2.State != types.OrderFilled {
		if _, err := e.client.CancelOrder(ctx, pair.Leg2.OrderID); err == nil {
			canceled = true
		}
	}
	if canceled {
		pair.State = PairCanceled
		e.storePair(pair)
	}
	return canceled
}

// ForceUnwind manually triggers an unwind attempt for a pair.
func (e *PairedExecutor) ForceUnwind(ctx context.Context, pairID string) bool {
	e.mu.Lock()
	pair, ok := e.pairs[pairID]
	e.mu.Unlock()
	if !ok {
		return false
	}
	return e.attemptUnwind(ctx, &pair)
}

// TotalUnhedgedExposure sums unhedged exposure across all tracked pairs.
func (e *PairedExecutor) TotalUnhedgedExposure() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	var total float64
	for _, p := range e.pairs {
		total += p.UnhedgedExposure()
	}
	return total
}

// ActivePairs returns all non-terminal pairs.
func (e *PairedExecutor) ActivePairs() []PairedOrder {
	e.mu.Lock()
	defer e.mu.Unlock()
	var active []PairedOrder
	for _, p := range e.pairs {
		if !p.IsTerminal() {
			active = append(active, p)
		}
	}
	return active
}

// PairsNeedingUnwind returns all pairs with unresolved one-sided exposure.
func (e *PairedExecutor) PairsNeedingUnwind() []PairedOrder {
	e.mu.Lock()
	defer e.mu.Unlock()
	var need []PairedOrder
	for _, p := range e.pairs {
		if p.NeedsUnwind() {
			need = append(need, p)
		}
	}
	return need
}

// Stats returns the executor's lifetime counters.
type Stats struct {
	TotalPairs      int64
	SuccessfulPairs int64
	FailedPairs     int64
	UnwindAttempts  int64
}

// Stats returns the executor's lifetime counters.
func (e *PairedExecutor) Stats() Stats {
	return Stats{
		TotalPairs:      e.totalPairs.Load(),
		SuccessfulPairs: e.successfulPairs.Load(),
		FailedPairs:     e.failedPairs.Load(),
		UnwindAttempts:  e.unwindAttempts.Load(),
	}
}
