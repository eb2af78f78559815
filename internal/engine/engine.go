// Package engine is the central orchestrator of the arbitrage bot.
//
// It wires together all subsystems:
//
//  1. A reference price feed (BTC) and two venue WebSocket feeds (prediction
//     market books, user fills/order events) maintain local state.
//  2. A fixed set of configured binary markets, each evaluated on a tick by
//     the three arbitrage strategies (underpricing, stale odds, volatility
//     fair value).
//  3. Signals flow through the risk manager's pre-trade gate into the
//     execution engine, which dispatches single or paired orders depending
//     on trading mode.
//  4. Health, degradation, exposure, position, state and ledger subsystems
//     observe fills and connection events and adjust the bot's operating
//     envelope.
//
// Lifecycle: New() → Start() → [runs until ctx is canceled] → Stop()
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"polymarket-arb/internal/config"
	"polymarket-arb/internal/degradation"
	"polymarket-arb/internal/execution"
	"polymarket-arb/internal/exposure"
	"polymarket-arb/internal/health"
	"polymarket-arb/internal/killswitch"
	"polymarket-arb/internal/ledger"
	"polymarket-arb/internal/marketdata"
	"polymarket-arb/internal/position"
	"polymarket-arb/internal/reconcile"
	"polymarket-arb/internal/risk"
	"polymarket-arb/internal/state"
	"polymarket-arb/internal/strategy"
	"polymarket-arb/pkg/types"
)

// evalInterval is how often each configured market is re-evaluated against
// the strategies. Not config-driven; the venue's book and reference feeds
// push far more often than this and there is no benefit to reacting faster
// than the execution engine can submit orders.
const evalInterval = 250 * time.Millisecond

// monitorInterval drives the health/degradation evaluation loop.
const monitorInterval = 2 * time.Second

const (
	connMarketFeed = "market_feed"
	connUserFeed   = "user_feed"
	connRefFeed    = "reference_feed"
)

// Engine orchestrates every component of the arbitrage bot and owns the
// lifecycle of all its background goroutines.
type Engine struct {
	cfg    config.Config
	logger *slog.Logger
	mode   types.TradingMode

	auth     *marketdata.Auth
	client   *marketdata.Client
	registry *marketdata.Registry
	refFeed  *marketdata.ReferencePriceFeed
	mktFeed  *marketdata.PredictionMarketFeed
	usrFeed  *marketdata.UserFeed

	markets []types.Market

	underpricing *strategy.UnderpricingStrategy
	staleOdds    *strategy.StaleOddsStrategy
	volatility   *strategy.VolatilityStrategy
	regimeHist   *strategy.PriceHistory
	regime       *strategy.RegimeFilter

	killSwitch     *killswitch.Switch
	riskMgr        *risk.Manager
	posMgr         *position.Manager
	expMgr         *exposure.Manager
	healthMon      *health.Monitor
	degradeMgr     *degradation.Manager
	stateMgr       *state.Manager
	reconciler     *reconcile.Reconciler
	ledger         *ledger.Ledger
	pairedExecutor *execution.PairedExecutor
	execEngine     *execution.ExecutionEngine

	cancel context.CancelFunc
}

// New wires every subsystem from cfg. If L2 API credentials aren't
// configured, it derives them via L1 (EIP-712) auth before returning.
func New(cfg config.Config, logger *slog.Logger) (*Engine, error) {
	auth, err := marketdata.NewAuth(cfg)
	if err != nil {
		return nil, fmt.Errorf("build auth: %w", err)
	}

	client := marketdata.NewClient(cfg, auth, logger)

	if !auth.HasL2Credentials() {
		logger.Info("no L2 credentials configured, deriving API key via L1 auth")
		creds, err := client.DeriveAPIKey(context.Background())
		if err != nil {
			return nil, fmt.Errorf("derive api key: %w", err)
		}
		auth.SetCredentials(*creds)
	}

	registry := marketdata.NewRegistry()
	markets := make([]types.Market, 0, len(cfg.Markets))
	for _, mc := range cfg.Markets {
		registry.Register(mc.ConditionID, mc.YesTokenID, mc.NoTokenID, 0)
		var endDate time.Time
		if mc.EndDate != "" {
			if t, err := time.Parse(time.RFC3339, mc.EndDate); err == nil {
				endDate = t
			} else {
				logger.Warn("could not parse market end_date, regime filter will treat it as unknown", "market", mc.ConditionID, "end_date", mc.EndDate, "error", err)
			}
		}
		markets = append(markets, types.Market{
			ConditionID: mc.ConditionID,
			FeeRateBps:  mc.FeeRateBps,
			TickSize:    types.TickSize(mc.TickSize),
			EndDate:     endDate,
			Yes:         types.Outcome{Name: "Yes", TokenID: mc.YesTokenID},
			No:          types.Outcome{Name: "No", TokenID: mc.NoTokenID},
		})
	}

	refFeed := marketdata.NewReferencePriceFeed(cfg.Reference.WSURL, cfg.Reference.Symbol, logger)
	mktFeed := marketdata.NewPredictionMarketFeed(cfg.API.WSMarketURL, registry, logger)
	usrFeed := marketdata.NewUserFeed(cfg.API.WSUserURL, auth, logger)

	startingBalance, err := client.GetBalance(context.Background())
	if err != nil {
		logger.Warn("could not fetch starting balance, defaulting to 0", "error", err)
		startingBalance = 0
	}

	kill := killswitch.New(startingBalance, killswitchConfigFrom(cfg), logger)
	riskMgr := risk.NewManager(cfg.Risk, startingBalance, kill, logger)
	posMgr := position.NewManager()
	expMgr := exposure.NewManager(exposureSoftLimitsFrom(cfg.Exposure))

	healthMon := health.New(cfg.Health, health.Required{
		Required: []string{connMarketFeed, connRefFeed},
		Optional: []string{connUserFeed},
	}, logger)

	degradeMgr := degradation.New(healthMon, startingBalance, cfg.Degradation, logger)

	stateMgr, err := state.New(cfg.State)
	if err != nil {
		return nil, fmt.Errorf("open state store: %w", err)
	}
	stateMgr.Initialize(startingBalance, uuid.NewString())

	reconciler := reconcile.New(client, stateMgr, cfg.Reconcile, logger)

	led, err := ledger.Open(cfg.Ledger, logger)
	if err != nil {
		return nil, fmt.Errorf("open ledger: %w", err)
	}

	regimeHist := strategy.NewPriceHistory(time.Hour, 1000)
	regimeFilter := strategy.NewRegimeFilter(strategy.DefaultRegimeConfig(), regimeHist)

	mode := parseMode(cfg.Mode)
	pairedExecutor := execution.NewPairedExecutor(client, kill, cfg.Execution, logger)
	execEngine := execution.New(mode, client, pairedExecutor, riskMgr, expMgr, cfg.Execution, logger)

	e := &Engine{
		cfg:            cfg,
		logger:         logger.With("component", "engine"),
		mode:           mode,
		auth:           auth,
		client:         client,
		registry:       registry,
		refFeed:        refFeed,
		mktFeed:        mktFeed,
		usrFeed:        usrFeed,
		markets:        markets,
		underpricing:   strategy.NewUnderpricingStrategy(cfg.Strategy.Underpricing),
		staleOdds:      strategy.NewStaleOddsStrategy(cfg.Strategy.StaleOdds),
		volatility:     strategy.NewVolatilityStrategy(cfg.Strategy.Volatility),
		regimeHist:     regimeHist,
		regime:         regimeFilter,
		killSwitch:     kill,
		riskMgr:        riskMgr,
		posMgr:         posMgr,
		expMgr:         expMgr,
		healthMon:      healthMon,
		degradeMgr:     degradeMgr,
		stateMgr:       stateMgr,
		reconciler:     reconciler,
		ledger:         led,
		pairedExecutor: pairedExecutor,
		execEngine:     execEngine,
	}

	execEngine.SetFillCallback(e.onFill)
	execEngine.SetOrderUpdateCallback(e.onOrderUpdate)
	pairedExecutor.SetFillCallback(e.onPairedFill)
	pairedExecutor.SetUnwindCallback(e.onPairedUnwind)

	return e, nil
}

// parseMode maps the config's lowercase mode string onto types.TradingMode,
// defaulting to the safest option when unset or unrecognized.
func parseMode(mode string) types.TradingMode {
	switch mode {
	case "live":
		return types.ModeLive
	case "paper":
		return types.ModePaper
	default:
		return types.ModeDryRun
	}
}

// exposureSoftLimitsFrom maps the configurable soft exposure limits;
// exposure.NewManager clamps them to its package's hard limits.
func exposureSoftLimitsFrom(cfg config.ExposureConfig) exposure.SoftLimits {
	return exposure.SoftLimits{
		MaxTotalExposure:      cfg.MaxTotalExposure,
		MaxMarketExposure:     cfg.MaxMarketExposure,
		MaxPositionSize:       cfg.MaxPositionSize,
		MaxOpenPositions:      cfg.MaxOpenPositions,
		MaxPositionsPerMarket: cfg.MaxPositionsPerMarket,
	}
}

// killswitchConfigFrom derives the kill switch's soft thresholds from the
// risk and exposure config sections, since operators tune those rather
// than duplicating the same numbers under a separate killswitch block.
func killswitchConfigFrom(cfg config.Config) killswitch.Config {
	def := killswitch.DefaultConfig()
	out := killswitch.Config{
		DailyLossLimit:          cfg.Risk.MaxDailyLoss,
		TotalLossLimitPercent:   def.TotalLossLimitPercent,
		MaxExposure:             cfg.Exposure.MaxTotalExposure,
		MaxConnectivityFailures: cfg.Risk.MaxConnectivityIssues,
		HighSlippageBps:         def.HighSlippageBps,
		MaxSlippageEvents:       def.MaxSlippageEvents,
		SlippageWindow:          def.SlippageWindow,
	}
	if out.DailyLossLimit <= 0 {
		out.DailyLossLimit = def.DailyLossLimit
	}
	if out.MaxExposure <= 0 {
		out.MaxExposure = def.MaxExposure
	}
	if out.MaxConnectivityFailures <= 0 {
		out.MaxConnectivityFailures = def.MaxConnectivityFailures
	}
	return out
}

// Start launches every background goroutine (feeds, evaluation loop,
// monitor loop, execution engine) and blocks until ctx is canceled or one
// of them returns a non-nil error. Use Stop for an explicit, ordered
// shutdown from a signal handler; canceling ctx has the same effect.
func (e *Engine) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	e.cancel = cancel

	e.healthMon.Register(connMarketFeed, true)
	e.healthMon.Register(connRefFeed, true)
	e.healthMon.Register(connUserFeed, false)

	if e.cfg.Reconcile.Enabled {
		result := e.reconciler.Reconcile(ctx)
		if result.HasCriticalDiscrepancies() && e.cfg.Reconcile.FailOnCritical {
			cancel()
			return fmt.Errorf("startup reconciliation found critical discrepancies: %s", result.Summary())
		}
		e.logger.Info("startup reconciliation complete", "summary", result.Summary())
	}

	e.execEngine.Start(ctx)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return e.runFeed(gctx, connRefFeed, e.refFeed.Run) })
	g.Go(func() error { return e.runFeed(gctx, connMarketFeed, e.subscribeAndRunMarketFeed) })
	g.Go(func() error { return e.runFeed(gctx, connUserFeed, e.subscribeAndRunUserFeed) })
	g.Go(func() error { e.dispatchUserEvents(gctx); return nil })
	g.Go(func() error { e.evaluationLoop(gctx); return nil })
	g.Go(func() error { e.monitorLoop(gctx); return nil })
	g.Go(func() error { e.autosaveLoop(gctx); return nil })
	g.Go(func() error { e.riskMgr.Run(gctx); return nil })

	return g.Wait()
}

// runFeed runs one WS feed's Run method, recording connection health
// transitions before and after. A feed returning a non-nil error while the
// context is still live is treated as a real failure and propagated so the
// errgroup tears everything else down.
func (e *Engine) runFeed(ctx context.Context, name string, run func(context.Context) error) error {
	e.healthMon.RecordConnected(name)
	err := run(ctx)
	if ctx.Err() != nil {
		return nil
	}
	e.healthMon.RecordDisconnected(name)
	e.degradeMgr.RecordError("feed_disconnect")
	if err != nil {
		e.logger.Error("feed exited with error", "feed", name, "error", err)
	}
	return err
}

func (e *Engine) subscribeAndRunMarketFeed(ctx context.Context) error {
	tokenIDs := make([]string, 0, len(e.markets)*2)
	for _, m := range e.markets {
		tokenIDs = append(tokenIDs, m.Yes.TokenID, m.No.TokenID)
	}
	if err := e.mktFeed.Subscribe(tokenIDs); err != nil {
		return fmt.Errorf("subscribe market feed: %w", err)
	}
	return e.mktFeed.Run(ctx)
}

func (e *Engine) subscribeAndRunUserFeed(ctx context.Context) error {
	marketIDs := make([]string, 0, len(e.markets))
	for _, m := range e.markets {
		marketIDs = append(marketIDs, m.ConditionID)
	}
	if err := e.usrFeed.Subscribe(marketIDs); err != nil {
		return fmt.Errorf("subscribe user feed: %w", err)
	}
	return e.usrFeed.Run(ctx)
}

// dispatchUserEvents drains fill/order notifications from the user feed
// and folds them into position/state bookkeeping. In LIVE mode these are
// the only source of truth for fills placed outside PairedExecutor's
// polling path (single-leg IOC orders the engine doesn't itself wait on).
func (e *Engine) dispatchUserEvents(ctx context.Context) {
	trades := e.usrFeed.TradeEvents()
	orders := e.usrFeed.OrderEvents()
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-trades:
			if !ok {
				return
			}
			e.handleTradeEvent(evt)
		case evt, ok := <-orders:
			if !ok {
				return
			}
			e.handleOrderEvent(evt)
		}
	}
}

func (e *Engine) handleTradeEvent(evt types.WSTradeEvent) {
	fill, err := fillFromWSEvent(evt)
	if err != nil {
		e.logger.Warn("dropping malformed trade event", "error", err)
		return
	}
	e.ledger.RecordFill(fill)
	e.posMgr.RecordFill(fill)
	e.stateMgr.RecordFill(0, fill.Price*fill.Size)
}

func (e *Engine) handleOrderEvent(evt types.WSOrderEvent) {
	e.ledger.RecordEvent("user_order_event", evt)
}

// evaluationLoop re-evaluates every configured market against the three
// strategies on a fixed tick and dispatches whatever signals survive the
// risk gate.
func (e *Engine) evaluationLoop(ctx context.Context) {
	ticker := time.NewTicker(evalInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if e.killSwitch.IsActive() || e.riskMgr.ShouldHaltTrading() || !e.degradeMgr.CanPlaceOrder() {
				continue
			}
			for _, mkt := range e.markets {
				e.evaluateMarket(ctx, mkt)
			}
		}
	}
}

func (e *Engine) evaluateMarket(ctx context.Context, mkt types.Market) {
	book := e.registry.Book(mkt.ConditionID)
	if book == nil {
		return
	}
	ref := e.refFeed.Latest()

	now := time.Now()
	headroom := e.cfg.Exposure.MaxMarketExposure - e.expMgr.MarketExposure(mkt.ConditionID)
	if headroom < 0 {
		headroom = 0
	}

	if ref != nil {
		e.regimeHist.Add(ref.Mid, now)
	}
	assessment := e.regime.Assess(book, mkt.EndDate, now)
	if assessment.Overall == strategy.RegimeDangerous {
		e.logger.Debug("skipping market, regime dangerous", "market", mkt.ConditionID, "assessment", assessment.Summary())
		return
	}

	sizing := strategy.SizingInputs{
		AvailableBalance:  e.degradeMgr.AdjustedMaxSize(e.riskMgr.AvailableBalance()) * assessment.SizeMultiplier,
		AvailableHeadroom: headroom * assessment.SizeMultiplier,
	}

	var signals []types.Signal
	signals = append(signals, e.underpricing.Evaluate(book, now, sizing, e.cfg.Strategy.Underpricing.MaxSpreadBps)...)
	if ref != nil {
		signals = append(signals, e.staleOdds.Evaluate(book, *ref, now, sizing)...)
		signals = append(signals, e.volatility.Evaluate(mkt, book, *ref, now, sizing)...)
	}

	signals = e.filterByEdge(signals, assessment.EdgeMultiplier)

	e.dispatchSignals(ctx, signals)
}

// filterByEdge drops signals that no longer clear their strategy's
// configured minimum edge once scaled by the regime's edge multiplier.
// Underpricing's two signals are kept or dropped together, since a paired
// YES+NO signal can't be submitted one-legged.
func (e *Engine) filterByEdge(signals []types.Signal, edgeMult float64) []types.Signal {
	if edgeMult <= 1.0 || len(signals) == 0 {
		return signals
	}

	paired := len(signals) == 2 && signals[0].PairTokenID == signals[1].TokenID
	if paired {
		// MinEdge is in cents; ExpectedEdge is in dollars per unit.
		required := e.cfg.Strategy.Underpricing.MinEdge * edgeMult
		if signals[0].ExpectedEdge*100 < required {
			return nil
		}
		return signals
	}

	kept := make([]types.Signal, 0, len(signals))
	for _, s := range signals {
		var required float64
		switch s.Strategy {
		case "stale_odds":
			required = e.cfg.Strategy.StaleOdds.MinProbabilityGap * edgeMult
		case "volatility_fair_value":
			required = e.cfg.Strategy.Volatility.MinProbabilityEdge * edgeMult
		default:
			required = 0
		}
		if s.ExpectedEdge >= required {
			kept = append(kept, s)
		}
	}
	return kept
}

// dispatchSignals routes underpricing's two-leg paired signal through
// SubmitPairedOrder and every other single-leg signal through SubmitOrder.
func (e *Engine) dispatchSignals(ctx context.Context, signals []types.Signal) {
	if len(signals) == 0 {
		return
	}
	if len(signals) == 2 && signals[0].PairTokenID == signals[1].TokenID {
		e.ledger.RecordSignal(signals[0])
		e.ledger.RecordSignal(signals[1])
		result := e.execEngine.SubmitPairedOrder(ctx, signals[0].Strategy, signals[0], signals[1])
		if !result.Success {
			e.recordRejection(result.Error)
			e.logger.Warn("paired signal rejected", "reason", result.Error)
		}
		return
	}
	for _, sig := range signals {
		e.ledger.RecordSignal(sig)
		result := e.execEngine.SubmitOrder(ctx, sig.Strategy, sig, types.OrderTypeIOC)
		if !result.Success {
			e.recordRejection(result.Error)
			e.logger.Warn("signal rejected", "strategy", sig.Strategy, "reason", result.Error)
		}
	}
}

// recordRejection drives the kill switch's rate-limit-breach counter when
// a rejection was caused by the risk manager's order-rate limiter, the one
// kill-switch trigger that fires from a rejection reason rather than a
// sampled metric.
func (e *Engine) recordRejection(reason string) {
	if reason == "order rate limit exceeded" {
		e.killSwitch.CheckRateLimitBreach()
	}
}

// onFill is the execution engine's fill callback: it folds the order's
// most recent fill into position tracking, the ledger, and persisted
// state. Exposure for an extending fill was already committed at submit
// time by ExecutionEngine's reservation; this only has to walk it back
// down when the fill reduces or closes out an existing position.
func (e *Engine) onFill(order execution.Order) {
	if len(order.Fills) == 0 {
		return
	}
	fill := order.Fills[len(order.Fills)-1]

	prevPos, hadPosition := e.posMgr.GetPosition(order.TokenID)
	e.posMgr.RecordFill(fill)
	e.ledger.RecordFill(fill)
	e.stateMgr.RecordFill(fill.Fee, fill.Price*fill.Size)

	if hadPosition && isReducingFill(prevPos.Size, fill) {
		if newPos, ok := e.posMgr.GetPosition(order.TokenID); ok && newPos.IsOpen() {
			e.expMgr.RecordPositionDecreased(order.MarketID, order.TokenID, fill.Price*fill.Size)
		} else {
			e.expMgr.RecordPositionClosed(order.MarketID, order.TokenID)
		}
	}

	e.degradeMgr.UpdateBalance(e.riskMgr.CurrentBalance())
	e.degradeMgr.UpdateDailyPnL(e.riskMgr.DailyPnL())
}

// isReducingFill mirrors position.Manager's own extending-vs-reducing test:
// a fill on the same side as the existing position extends it (exposure
// already reserved at submit time), anything else reduces or flips it.
func isReducingFill(prevSize float64, fill types.Fill) bool {
	if prevSize == 0 {
		return false
	}
	extending := (prevSize >= 0 && fill.Side == types.BUY) || (prevSize <= 0 && fill.Side == types.SELL)
	return !extending
}

// onPairedFill is the paired executor's per-leg fill callback: LIVE paired
// orders bypass ExecutionEngine.notifyFill entirely, so this is the only
// place their fills reach position tracking, the ledger, and risk.
func (e *Engine) onPairedFill(pair execution.PairedOrder, fill types.Fill) {
	e.posMgr.RecordFill(fill)
	e.ledger.RecordFill(fill)
	e.stateMgr.RecordFill(fill.Fee, fill.Price*fill.Size)
	e.riskMgr.RecordFill(fill)

	leg := pair.Leg2
	if fill.TokenID == pair.Leg1.TokenID {
		leg = pair.Leg1
	}
	if leg.Price > 0 {
		slippageBps := math.Abs(fill.Price-leg.Price) / leg.Price * 10000
		e.riskMgr.RecordSlippage(slippageBps)
	}

	e.degradeMgr.UpdateBalance(e.riskMgr.CurrentBalance())
	e.degradeMgr.UpdateDailyPnL(e.riskMgr.DailyPnL())
}

// onPairedUnwind releases or flags the exposure reserved for a pair's
// filled leg once an unwind attempt resolves, so exposure returns to zero
// on success instead of lingering against a position that no longer
// exists.
func (e *Engine) onPairedUnwind(pair execution.PairedOrder, success bool) {
	filledLeg := pair.Leg2
	if pair.Leg1.FilledSize > 0 {
		filledLeg = pair.Leg1
	}
	if filledLeg.FilledSize == 0 {
		return
	}

	if success {
		e.expMgr.RecordPositionClosed(pair.MarketID, filledLeg.TokenID)
		return
	}
	e.logger.Error("unwind failed, exposure left open for manual intervention",
		"pair_id", pair.PairID, "token", filledLeg.TokenID)
}

// onOrderUpdate is the execution engine's state-transition callback: it
// keeps persisted state in sync with every order's lifecycle.
func (e *Engine) onOrderUpdate(order execution.Order) {
	e.stateMgr.UpdateOrder(state.PersistedOrder{
		OrderID:       order.ExchangeOrderID,
		ClientOrderID: order.ClientOrderID,
		MarketID:      order.MarketID,
		TokenID:       order.TokenID,
		Side:          string(order.Side),
		OrderType:     string(order.Type),
		State:         string(order.State),
		Price:         order.Price,
		Size:          order.OriginalSize,
		FilledSize:    order.FilledSize,
		CreatedAt:     order.CreatedAt,
		LastUpdate:    time.Now(),
	})
	if order.IsTerminal() {
		e.stateMgr.RemoveOrder(order.ClientOrderID)
	}
}

// monitorLoop periodically evaluates connection health and the
// degradation state machine, halting strategies automatically when the
// bot drops below minimal operating health.
func (e *Engine) monitorLoop(ctx context.Context) {
	ticker := time.NewTicker(monitorInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.healthMon.CheckHeartbeats()
			e.healthMon.Evaluate()
			e.degradeMgr.Evaluate()
			if !e.healthMon.IsTradingReady() {
				e.riskMgr.RecordConnectivityIssue()
			}

			e.killSwitch.CheckTotalLoss(e.riskMgr.CurrentBalance())
			e.killSwitch.CheckExposure(e.expMgr.TotalExposure())
			e.killSwitch.CheckPositionCount(e.expMgr.OpenPositionCount())
			e.killSwitch.CheckConnectivity(e.riskMgr.ConnectivityIssues())
			e.killSwitch.CheckSlippage(e.riskMgr.AverageSlippage())
		}
	}
}

// autosaveLoop persists system state on the configured interval so a
// restart can resume from a recent snapshot rather than an empty one.
func (e *Engine) autosaveLoop(ctx context.Context) {
	interval := e.cfg.State.SaveInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := e.stateMgr.SaveIfNeeded(); err != nil {
				e.logger.Error("autosave failed", "error", err)
			}
		}
	}
}

// Stop performs an ordered shutdown: cancels every background goroutine,
// sends a best-effort cancel-all to the venue as a safety net, persists a
// final state snapshot, and closes the ledger.
func (e *Engine) Stop() {
	e.logger.Info("shutting down")
	if e.cancel != nil {
		e.cancel()
	}

	cancelCtx, cancelDone := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelDone()
	if _, err := e.client.CancelAll(cancelCtx); err != nil {
		e.logger.Error("failed to cancel all orders on shutdown", "error", err)
	}

	if err := e.stateMgr.Save(); err != nil {
		e.logger.Error("failed to save final state", "error", err)
	}
	if err := e.ledger.Close(); err != nil {
		e.logger.Error("failed to close ledger", "error", err)
	}

	e.mktFeed.Close()
	e.usrFeed.Close()
	e.refFeed.Close()

	e.logger.Info("shutdown complete")
}

// fillFromWSEvent parses a trade event off the user WebSocket feed, whose
// numeric fields arrive as strings, into a types.Fill.
func fillFromWSEvent(evt types.WSTradeEvent) (types.Fill, error) {
	price, err := strconv.ParseFloat(evt.Price, 64)
	if err != nil {
		return types.Fill{}, fmt.Errorf("parse price: %w", err)
	}
	size, err := strconv.ParseFloat(evt.Size, 64)
	if err != nil {
		return types.Fill{}, fmt.Errorf("parse size: %w", err)
	}
	side := types.BUY
	if evt.Side == string(types.SELL) {
		side = types.SELL
	}
	return types.Fill{
		TradeID:   evt.ID,
		MarketID:  evt.Market,
		TokenID:   evt.AssetID,
		Side:      side,
		Price:     price,
		Size:      size,
		Timestamp: time.Now(),
	}, nil
}
