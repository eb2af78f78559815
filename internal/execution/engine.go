package execution

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"polymarket-arb/internal/config"
	"polymarket-arb/internal/exposure"
	"polymarket-arb/internal/marketdata"
	"polymarket-arb/internal/risk"
	"polymarket-arb/pkg/types"
)

// SubmitResult is the outcome of a single- or paired-order submission.
type SubmitResult struct {
	Success     bool
	Order       *Order
	PairID      string
	RealizedPnL float64
	Error       string
}

// EngineFillCallback is invoked whenever an order routed through this
// engine fills; LIVE paired legs bypass it and are reported through
// PairedExecutor's FillCallback instead.
type EngineFillCallback func(order Order)

// OrderUpdateCallback is invoked on every state transition.
type OrderUpdateCallback func(order Order)

// EngineStats are the engine's lifetime counters.
type EngineStats struct {
	TotalSubmitted int64
	TotalFilled    int64
	TotalRejected  int64
	TotalCanceled  int64
}

// ExecutionEngine is the mode-parameterized front door for order
// submission: DRY_RUN never calls the venue, PAPER simulates
// acknowledgment and fill on a worker goroutine, LIVE calls the real
// REST client (and delegates paired orders to PairedExecutor). The mode
// dispatch checks the mode first and synthesizes a response without ever
// touching the rate limiter or REST path in DRY_RUN/PAPER.
type ExecutionEngine struct {
	mode           types.TradingMode
	client         *marketdata.Client
	pairedExecutor *PairedExecutor
	risk           *risk.Manager
	exposure       *exposure.Manager
	cfg            config.ExecutionConfig
	logger         *slog.Logger

	mu     sync.Mutex
	orders map[string]*Order

	onFill        EngineFillCallback
	onOrderUpdate OrderUpdateCallback

	paperQueue chan *Order

	ackLatencies []time.Duration

	totalSubmitted atomic.Int64
	totalFilled    atomic.Int64
	totalRejected  atomic.Int64
	totalCanceled  atomic.Int64
}

// New builds an execution engine for the given mode.
func New(mode types.TradingMode, client *marketdata.Client, pairedExecutor *PairedExecutor, riskMgr *risk.Manager, exposureMgr *exposure.Manager, cfg config.ExecutionConfig, logger *slog.Logger) *ExecutionEngine {
	return &ExecutionEngine{
		mode:           mode,
		client:         client,
		pairedExecutor: pairedExecutor,
		risk:           riskMgr,
		exposure:       exposureMgr,
		cfg:            cfg,
		logger:         logger.With("component", "execution_engine", "mode", string(mode)),
		orders:         make(map[string]*Order),
		paperQueue:     make(chan *Order, 256),
	}
}

// reservation is the commit/release contract shared by a brand-new-position
// exposure.Reservation and the increaseReservation fallback below — letting
// submission code release a failed order's exposure without caring which
// case it was.
type reservation interface {
	Commit()
	Release()
}

// increaseReservation mirrors exposure.Reservation for the "add to an
// already-open position" case, which Reserve cannot be used for since
// RecordPositionOpened overwrites rather than adds to tracked exposure.
type increaseReservation struct {
	mgr      *exposure.Manager
	marketID string
	tokenID  string
	notional float64
	resolved bool
}

func (r *increaseReservation) Commit() { r.resolved = true }

func (r *increaseReservation) Release() {
	if r.resolved {
		return
	}
	r.resolved = true
	r.mgr.RecordPositionDecreased(r.marketID, r.tokenID, r.notional)
}

// reserveExposure checks and provisionally records notional against a
// token's exposure before an order is submitted. The returned reservation
// must be Committed on success or Released on failure/rejection so exposure
// never lingers for an order that never filled.
func (e *ExecutionEngine) reserveExposure(marketID, tokenID string, notional float64) (reservation, bool, string) {
	if e.exposure == nil {
		return nil, true, ""
	}

	if e.exposure.PositionExposure(tokenID) > 0 {
		check := e.exposure.CanIncreasePosition(marketID, tokenID, notional)
		if !check.Allowed {
			return nil, false, check.RejectionReason
		}
		e.exposure.RecordPositionIncreased(marketID, tokenID, notional)
		return &increaseReservation{mgr: e.exposure, marketID: marketID, tokenID: tokenID, notional: notional}, true, ""
	}

	check := e.exposure.CanOpenPosition(marketID, notional)
	if !check.Allowed {
		return nil, false, check.RejectionReason
	}
	return e.exposure.Reserve(marketID, tokenID, notional), true, ""
}

func resolveReservation(r reservation, success bool) {
	if r == nil {
		return
	}
	if success {
		r.Commit()
	} else {
		r.Release()
	}
}

// SetFillCallback registers the order-fill callback.
func (e *ExecutionEngine) SetFillCallback(cb EngineFillCallback) { e.onFill = cb }

// SetOrderUpdateCallback registers the state-transition callback.
func (e *ExecutionEngine) SetOrderUpdateCallback(cb OrderUpdateCallback) { e.onOrderUpdate = cb }

// Start launches the PAPER-mode fill simulation worker. No-op in
// DRY_RUN/LIVE. Uses a paper_simulation_loop-style worker
// thread, adapted to a context-cancellable goroutine.
func (e *ExecutionEngine) Start(ctx context.Context) {
	if e.mode != types.ModePaper {
		return
	}
	go e.paperSimulationLoop(ctx)
}

func (e *ExecutionEngine) paperSimulationLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case order := <-e.paperQueue:
			e.simulateFill(order)
		}
	}
}

func (e *ExecutionEngine) simulateFill(order *Order) {
	delay := e.cfg.PaperFillDelay
	if delay > 0 {
		time.Sleep(delay)
	}

	order.MarkAcknowledged("paper-"+order.ClientOrderID, delay)
	e.notifyUpdate(order)

	fillProb := e.cfg.PaperFillProbability
	if fillProb <= 0 {
		fillProb = 0.9
	}
	if rand.Float64() > fillProb {
		order.MarkRejected("paper: simulated no-fill")
		e.totalRejected.Add(1)
		e.notifyUpdate(order)
		return
	}

	feeBps := e.cfg.PaperSimulatedFeeBps
	fee := order.OriginalSize * order.Price * (feeBps / 10000.0)

	order.MarkPartialFill(types.Fill{
		OrderID:   order.ClientOrderID,
		MarketID:  order.MarketID,
		TokenID:   order.TokenID,
		Side:      order.Side,
		Price:     order.Price,
		Size:      order.OriginalSize,
		Fee:       fee,
		Timestamp: time.Now(),
	})
	e.totalFilled.Add(1)
	e.notifyFill(order)
}

// SubmitOrder dispatches a single order according to the engine's mode.
func (e *ExecutionEngine) SubmitOrder(ctx context.Context, strategy string, signal types.Signal, orderType types.OrderType) SubmitResult {
	notional := signal.Price * signal.Size
	if e.risk != nil {
		if check := e.risk.CheckOrder(signal, notional); !check.Allowed {
			return SubmitResult{Success: false, Error: check.Reason}
		}
	}

	resv, allowed, reason := e.reserveExposure(signal.MarketID, signal.TokenID, notional)
	if !allowed {
		return SubmitResult{Success: false, Error: reason}
	}

	order := NewOrder(strategy, signal, orderType)
	e.storeOrder(order)
	e.totalSubmitted.Add(1)
	if e.risk != nil {
		e.risk.RecordOrderPlaced()
	}

	var result SubmitResult
	switch e.mode {
	case types.ModeDryRun:
		result = e.submitDryRun(order)
	case types.ModePaper:
		result = e.submitPaper(order)
	case types.ModeLive:
		result = e.submitLive(ctx, order)
	default:
		order.MarkRejected(fmt.Sprintf("unknown trading mode %q", e.mode))
		result = SubmitResult{Success: false, Order: order, Error: order.RejectReason}
	}

	resolveReservation(resv, result.Success)
	return result
}

func (e *ExecutionEngine) submitDryRun(order *Order) SubmitResult {
	order.MarkSent()
	order.MarkAcknowledged("dry-run-"+order.ClientOrderID, 0)
	order.MarkPartialFill(types.Fill{
		OrderID:   order.ClientOrderID,
		MarketID:  order.MarketID,
		TokenID:   order.TokenID,
		Side:      order.Side,
		Price:     order.Price,
		Size:      order.OriginalSize,
		Timestamp: time.Now(),
	})
	e.logger.Info("DRY-RUN: order filled", "client_order_id", order.ClientOrderID, "token", order.TokenID)
	e.totalFilled.Add(1)
	e.notifyFill(order)
	return SubmitResult{Success: true, Order: order}
}

func (e *ExecutionEngine) submitPaper(order *Order) SubmitResult {
	order.MarkSent()
	select {
	case e.paperQueue <- order:
	default:
		order.MarkRejected("paper queue full")
		e.totalRejected.Add(1)
		return SubmitResult{Success: false, Order: order, Error: order.RejectReason}
	}
	return SubmitResult{Success: true, Order: order}
}

func (e *ExecutionEngine) submitLive(ctx context.Context, order *Order) SubmitResult {
	sentAt := time.Now()
	order.MarkSent()

	userOrder := types.UserOrder{
		TokenID:   order.TokenID,
		Price:     order.Price,
		Size:      order.OriginalSize,
		Side:      order.Side,
		OrderType: order.Type,
		TickSize:  types.Tick001,
	}

	resp, err := e.client.PostOrder(ctx, userOrder)
	if err != nil {
		order.MarkRejected(err.Error())
		e.totalRejected.Add(1)
		e.notifyUpdate(order)
		return SubmitResult{Success: false, Order: order, Error: err.Error()}
	}
	if !resp.Success {
		order.MarkRejected(resp.ErrorMsg)
		e.totalRejected.Add(1)
		e.notifyUpdate(order)
		return SubmitResult{Success: false, Order: order, Error: resp.ErrorMsg}
	}

	ackLatency := time.Since(sentAt)
	order.MarkAcknowledged(resp.OrderID, ackLatency)
	e.recordLatency(ackLatency)
	e.notifyUpdate(order)
	return SubmitResult{Success: true, Order: order}
}

// SubmitPairedOrder dispatches a two-leg YES+NO arbitrage trade.
// DRY_RUN synthesizes both fills immediately; PAPER simulates both legs
// back-to-back with the configured fill probability; LIVE delegates to
// PairedExecutor's full submit/retry/unwind protocol.
func (e *ExecutionEngine) SubmitPairedOrder(ctx context.Context, strategy string, yesSignal, noSignal types.Signal) SubmitResult {
	notional := yesSignal.Price*yesSignal.Size + noSignal.Price*noSignal.Size
	if e.risk != nil {
		if check := e.risk.CheckOrder(yesSignal, notional); !check.Allowed {
			return SubmitResult{Success: false, Error: check.Reason}
		}
		e.risk.RecordOrderPlaced()
	}

	yesResv, allowed, reason := e.reserveExposure(yesSignal.MarketID, yesSignal.TokenID, yesSignal.Price*yesSignal.Size)
	if !allowed {
		return SubmitResult{Success: false, Error: reason}
	}
	noResv, allowed, reason := e.reserveExposure(noSignal.MarketID, noSignal.TokenID, noSignal.Price*noSignal.Size)
	if !allowed {
		resolveReservation(yesResv, false)
		return SubmitResult{Success: false, Error: reason}
	}

	var result SubmitResult
	switch e.mode {
	case types.ModeDryRun:
		result = e.submitPairedDryRun(strategy, yesSignal, noSignal)
	case types.ModePaper:
		result = e.submitPairedPaper(strategy, yesSignal, noSignal)
	case types.ModeLive:
		if e.pairedExecutor == nil {
			result = SubmitResult{Success: false, Error: "no paired executor configured for LIVE mode"}
			break
		}
		pairResult := e.pairedExecutor.Execute(ctx, yesSignal, noSignal)
		if e.risk != nil {
			e.risk.RecordPnL(pairResult.RealizedPnL)
		}
		result = SubmitResult{
			Success:     pairResult.Success,
			PairID:      pairResult.PairID,
			RealizedPnL: pairResult.RealizedPnL,
			Error:       pairResult.Error,
		}
	default:
		result = SubmitResult{Success: false, Error: fmt.Sprintf("unknown trading mode %q", e.mode)}
	}

	resolveReservation(yesResv, result.Success)
	resolveReservation(noResv, result.Success)
	return result
}

func (e *ExecutionEngine) submitPairedDryRun(strategy string, yesSignal, noSignal types.Signal) SubmitResult {
	yesResult := e.submitDryRun(NewOrder(strategy, yesSignal, types.OrderTypeIOC))
	noResult := e.submitDryRun(NewOrder(strategy, noSignal, types.OrderTypeIOC))
	e.storeOrder(yesResult.Order)
	e.storeOrder(noResult.Order)

	pnl := yesSignal.ExpectedEdge * yesSignal.Size
	if e.risk != nil {
		e.risk.RecordPnL(pnl)
	}
	return SubmitResult{Success: true, RealizedPnL: pnl}
}

func (e *ExecutionEngine) submitPairedPaper(strategy string, yesSignal, noSignal types.Signal) SubmitResult {
	fillProb := e.cfg.PaperFillProbability
	if fillProb <= 0 {
		fillProb = 0.9
	}

	yesOrder := NewOrder(strategy, yesSignal, types.OrderTypeIOC)
	noOrder := NewOrder(strategy, noSignal, types.OrderTypeIOC)
	e.storeOrder(yesOrder)
	e.storeOrder(noOrder)

	yesFilled := rand.Float64() <= fillProb
	noFilled := rand.Float64() <= fillProb

	if !yesFilled || !noFilled {
		if yesFilled {
			e.simulateFill(yesOrder)
		} else {
			yesOrder.MarkRejected("paper: simulated no-fill")
		}
		if noFilled {
			e.simulateFill(noOrder)
		} else {
			noOrder.MarkRejected("paper: simulated no-fill")
		}
		return SubmitResult{Success: false, Error: "paired paper simulation: one leg missed"}
	}

	e.simulateFill(yesOrder)
	e.simulateFill(noOrder)

	pnl := yesSignal.ExpectedEdge * yesSignal.Size
	if e.risk != nil {
		e.risk.RecordPnL(pnl)
	}
	return SubmitResult{Success: true, RealizedPnL: pnl}
}

// ProcessFill records an out-of-band fill notification (e.g. from a
// LIVE-mode user-channel websocket feed) against a previously submitted
// order.
func (e *ExecutionEngine) ProcessFill(clientOrderID string, fill types.Fill) {
	e.mu.Lock()
	order, ok := e.orders[clientOrderID]
	e.mu.Unlock()
	if !ok {
		e.logger.Warn("fill for unknown order", "client_order_id", clientOrderID)
		return
	}
	order.MarkPartialFill(fill)
	if order.State == types.OrderFilled {
		e.totalFilled.Add(1)
		e.notifyFill(order)
	} else {
		e.notifyUpdate(order)
	}
}

// CancelOrder cancels a resting order by client id.
func (e *ExecutionEngine) CancelOrder(ctx context.Context, clientOrderID string) error {
	e.mu.Lock()
	order, ok := e.orders[clientOrderID]
	e.mu.Unlock()
	if !ok {
		return fmt.Errorf("unknown order %s", clientOrderID)
	}
	if order.IsTerminal() {
		return nil
	}

	if e.mode == types.ModeLive {
		if _, err := e.client.CancelOrder(ctx, order.ExchangeOrderID); err != nil {
			return fmt.Errorf("cancel order: %w", err)
		}
	}
	order.MarkCanceled()
	e.totalCanceled.Add(1)
	e.notifyUpdate(order)
	return nil
}

// CancelAll cancels every non-terminal order this engine has submitted.
func (e *ExecutionEngine) CancelAll(ctx context.Context) error {
	if e.mode == types.ModeLive {
		if _, err := e.client.CancelAll(ctx); err != nil {
			return fmt.Errorf("cancel all: %w", err)
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	for _, order := range e.orders {
		if !order.IsTerminal() {
			order.MarkCanceled()
			e.totalCanceled.Add(1)
		}
	}
	return nil
}

// GetOrder looks up a tracked order by client id.
func (e *ExecutionEngine) GetOrder(clientOrderID string) (*Order, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	o, ok := e.orders[clientOrderID]
	return o, ok
}

// GetOpenOrders returns every tracked order not yet in a terminal state.
func (e *ExecutionEngine) GetOpenOrders() []*Order {
	e.mu.Lock()
	defer e.mu.Unlock()
	var open []*Order
	for _, o := range e.orders {
		if !o.IsTerminal() {
			open = append(open, o)
		}
	}
	return open
}

// GetOrdersForMarket returns every tracked order for a given market.
func (e *ExecutionEngine) GetOrdersForMarket(marketID string) []*Order {
	e.mu.Lock()
	defer e.mu.Unlock()
	var matched []*Order
	for _, o := range e.orders {
		if o.MarketID == marketID {
			matched = append(matched, o)
		}
	}
	return matched
}

// Stats returns the engine's lifetime counters.
func (e *ExecutionEngine) Stats() EngineStats {
	return EngineStats{
		TotalSubmitted: e.totalSubmitted.Load(),
		TotalFilled:    e.totalFilled.Load(),
		TotalRejected:  e.totalRejected.Load(),
		TotalCanceled:  e.totalCanceled.Load(),
	}
}

// GetLatencyMetrics summarizes acknowledgment latency for LIVE orders.
func (e *ExecutionEngine) GetLatencyMetrics() types.LatencyMetrics {
	e.mu.Lock()
	samples := append([]time.Duration(nil), e.ackLatencies...)
	e.mu.Unlock()

	if len(samples) == 0 {
		return types.LatencyMetrics{}
	}
	sorted := append([]time.Duration(nil), samples...)
	for i := 1; i < len(sorted); i++ {
		for j := i; j > 0 && sorted[j] < sorted[j-1]; j-- {
			sorted[j], sorted[j-1] = sorted[j-1], sorted[j]
		}
	}
	p50 := sorted[len(sorted)*50/100]
	p95 := sorted[min(len(sorted)*95/100, len(sorted)-1)]
	max := sorted[len(sorted)-1]
	return types.LatencyMetrics{Samples: len(sorted), P50: p50, P95: p95, Max: max}
}

func (e *ExecutionEngine) recordLatency(d time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.ackLatencies = append(e.ackLatencies, d)
	if len(e.ackLatencies) > 1000 {
		e.ackLatencies = e.ackLatencies[len(e.ackLatencies)-1000:]
	}
}

func (e *ExecutionEngine) storeOrder(order *Order) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.orders[order.ClientOrderID] = order
}

func (e *ExecutionEngine) notifyFill(order *Order) {
	if e.risk != nil && len(order.Fills) > 0 {
		fill := order.Fills[len(order.Fills)-1]
		e.risk.RecordFill(fill)
		if order.Price > 0 {
			slippageBps := math.Abs(fill.Price-order.Price) / order.Price * 10000
			e.risk.RecordSlippage(slippageBps)
		}
	}
	if e.onFill != nil {
		e.onFill(*order)
	}
	e.notifyUpdate(order)
}

func (e *ExecutionEngine) notifyUpdate(order *Order) {
	if e.onOrderUpdate != nil {
		e.onOrderUpdate(*order)
	}
}
