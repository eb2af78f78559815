// Package reconcile synchronizes persisted local state with exchange
// truth at startup, before any order is placed, and flags anything that
// looks dangerous enough to require operator sign-off.
package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"math"

	"polymarket-arb/internal/config"
	"polymarket-arb/internal/marketdata"
	"polymarket-arb/internal/state"
)

// DiscrepancyType classifies a mismatch found during reconciliation.
type DiscrepancyType int

const (
	DiscrepancyMissingLocalOrder DiscrepancyType = iota
	DiscrepancyMissingRemoteOrder
	DiscrepancyOrderStateMismatch
	DiscrepancyPositionSizeMismatch
	DiscrepancyBalanceMismatch
	DiscrepancyUnknownPosition
)

func (d DiscrepancyType) String() string {
	switch d {
	case DiscrepancyMissingLocalOrder:
		return "MISSING_LOCAL_ORDER"
	case DiscrepancyMissingRemoteOrder:
		return "MISSING_REMOTE_ORDER"
	case DiscrepancyOrderStateMismatch:
		return "ORDER_STATE_MISMATCH"
	case DiscrepancyPositionSizeMismatch:
		return "POSITION_SIZE_MISMATCH"
	case DiscrepancyBalanceMismatch:
		return "BALANCE_MISMATCH"
	case DiscrepancyUnknownPosition:
		return "UNKNOWN_POSITION"
	default:
		return "UNKNOWN"
	}
}

// Discrepancy is a single mismatch between local and exchange state.
type Discrepancy struct {
	Type        DiscrepancyType
	Identifier  string // order id, token id, or "balance"
	LocalValue  string
	RemoteValue string
	Details     string
	IsCritical  bool
}

// ResolutionStrategy controls how discrepancies are resolved.
type ResolutionStrategy int

const (
	StrategyTrustExchange ResolutionStrategy = iota
	StrategyTrustLocal
	StrategyManual
	StrategyCancelOrphans
)

// ApprovalCallback asks an operator whether to proceed despite critical
// discrepancies. Returning false aborts reconciliation.
type ApprovalCallback func(discrepancies []Discrepancy) bool

// Result is the outcome of one reconciliation pass.
type Result struct {
	Success      bool
	IsConsistent bool
	Discrepancies []Discrepancy

	ResolvedState *state.SystemState

	OrdersSynced    int
	PositionsSynced int
	OrdersCanceled  int

	ErrorMessage string
}

// HasCriticalDiscrepancies reports whether any discrepancy is flagged
// critical.
func (r Result) HasCriticalDiscrepancies() bool {
	for _, d := range r.Discrepancies {
		if d.IsCritical {
			return true
		}
	}
	return false
}

// Summary renders a one-line result for logging.
func (r Result) Summary() string {
	status := "FAILED"
	if r.Success {
		status = "SUCCESS"
	}
	s := fmt.Sprintf("reconciliation %s: %d discrepancies, %d orders synced, %d positions synced, %d orders canceled",
		status, len(r.Discrepancies), r.OrdersSynced, r.PositionsSynced, r.OrdersCanceled)
	if r.ErrorMessage != "" {
		s += fmt.Sprintf(" [error: %s]", r.ErrorMessage)
	}
	return s
}

// exchangeState is the exchange's view of orders/positions/balance,
// fetched fresh at the start of each reconciliation pass.
type exchangeState struct {
	openOrders []state.PersistedOrder
	positions  []state.PersistedPosition
	balance    float64
	valid      bool
	err        string
}

// Reconciler runs the startup reconciliation pass. Not safe for use after
// trading has begun — it is a one-shot gate, not a continuous process.
type Reconciler struct {
	client *marketdata.Client
	states *state.Manager
	cfg    config.ReconcileConfig
	logger *slog.Logger

	approval ApprovalCallback
}

// New creates a reconciler.
func New(client *marketdata.Client, states *state.Manager, cfg config.ReconcileConfig, logger *slog.Logger) *Reconciler {
	return &Reconciler{client: client, states: states, cfg: cfg, logger: logger.With("component", "reconcile")}
}

// SetApprovalCallback installs the callback consulted when critical
// discrepancies are found.
func (rc *Reconciler) SetApprovalCallback(cb ApprovalCallback) { rc.approval = cb }

// Reconcile loads the best available local snapshot and reconciles it
// against exchange truth.
func (rc *Reconciler) Reconcile(ctx context.Context) Result {
	rc.logger.Info("starting reconciliation")

	local, err := rc.states.LoadBestAvailable()
	var localState state.SystemState
	if err == nil && local != nil {
		localState = *local
		rc.logger.Info("loaded local state", "orders", len(localState.OpenOrders), "positions", len(localState.Positions), "balance", localState.Balance)
	} else {
		rc.logger.Warn("no local state found, starting fresh")
	}

	return rc.ReconcileWithState(ctx, localState)
}

// ReconcileWithState reconciles an explicit local state against exchange
// truth — exposed separately so tests can supply a fixed local state.
func (rc *Reconciler) ReconcileWithState(ctx context.Context, local state.SystemState) Result {
	var result Result

	exch, err := rc.fetchExchangeState(ctx)
	if err != nil || !exch.valid {
		result.Success = false
		result.ErrorMessage = exch.err
		rc.logger.Error("failed to fetch exchange state", "error", exch.err)
		return result
	}

	rc.logger.Info("fetched exchange state", "orders", len(exch.openOrders), "positions", len(exch.positions), "balance", exch.balance)

	result.Discrepancies = append(result.Discrepancies, compareOrders(local.OpenOrders, exch.openOrders)...)
	result.Discrepancies = append(result.Discrepancies, comparePositions(local.Positions, exch.positions)...)
	if d, ok := rc.compareBalance(local.Balance, exch.balance); ok {
		result.Discrepancies = append(result.Discrepancies, d)
	}

	if len(result.Discrepancies) > 0 {
		rc.logger.Warn("found discrepancies during reconciliation", "count", len(result.Discrepancies))
		for _, d := range result.Discrepancies {
			rc.logger.Warn("discrepancy", "type", d.Type, "id", d.Identifier, "local", d.LocalValue, "remote", d.RemoteValue, "critical", d.IsCritical)
		}
	}

	if result.HasCriticalDiscrepancies() && rc.cfg.RequireApprovalForCritical {
		if rc.approval != nil {
			if !rc.approval(result.Discrepancies) {
				result.Success = false
				result.ErrorMessage = "operator did not approve critical discrepancies"
				return result
			}
		} else {
			rc.logger.Warn("critical discrepancies found but no approval callback set")
		}
	}

	strategy := rc.defaultStrategy()
	switch strategy {
	case StrategyTrustExchange, StrategyCancelOrphans:
		resolved := resolveToExchange(exch, local)
		result.ResolvedState = &resolved
		result.OrdersSynced = len(exch.openOrders)
		result.PositionsSynced = len(exch.positions)

		if strategy == StrategyCancelOrphans {
			for _, d := range result.Discrepancies {
				if d.Type == DiscrepancyMissingLocalOrder {
					if rc.cancelOrphanOrder(ctx, d.Identifier) {
						result.OrdersCanceled++
					}
				}
			}
		}

	case StrategyTrustLocal:
		resolved := local
		result.ResolvedState = &resolved
		rc.logger.Warn("using trust-local strategy, exchange state ignored")

	case StrategyManual:
		if len(result.Discrepancies) > 0 {
			result.Success = false
			result.ErrorMessage = "manual resolution required for discrepancies"
			return result
		}
		resolved := local
		result.ResolvedState = &resolved
	}

	if result.ResolvedState != nil {
		rc.states.UpdateBalance(result.ResolvedState.Balance)
		rc.states.UpdateDailyPnL(result.ResolvedState.DailyPnL)
		if err := rc.states.Save(); err != nil {
			rc.logger.Error("failed to save resolved state", "error", err)
		}
	}

	result.Success = true
	result.IsConsistent = len(result.Discrepancies) == 0
	rc.logger.Info("reconciliation complete", "summary", result.Summary())
	return result
}

func (rc *Reconciler) defaultStrategy() ResolutionStrategy {
	switch rc.cfg.DefaultStrategy {
	case "trust_local":
		return StrategyTrustLocal
	case "manual":
		return StrategyManual
	case "cancel_orphans":
		return StrategyCancelOrphans
	default:
		return StrategyTrustExchange
	}
}

func (rc *Reconciler) fetchExchangeState(ctx context.Context) (exchangeState, error) {
	var es exchangeState

	openOrders, err := rc.client.GetOpenOrders(ctx)
	if err != nil {
		es.err = fmt.Sprintf("failed to fetch open orders: %v", err)
		return es, err
	}
	for _, o := range openOrders {
		var price, origSize, filled float64
		fmt.Sscanf(o.Price, "%f", &price)
		fmt.Sscanf(o.OriginalSize, "%f", &origSize)
		fmt.Sscanf(o.SizeMatched, "%f", &filled)

		es.openOrders = append(es.openOrders, state.PersistedOrder{
			OrderID:    o.ID,
			MarketID:   o.Market,
			TokenID:    o.AssetID,
			Side:       o.Side,
			State:      o.Status,
			Price:      price,
			Size:       origSize,
			FilledSize: filled,
		})
	}

	positions, err := rc.client.GetPositions(ctx)
	if err != nil {
		es.err = fmt.Sprintf("failed to fetch positions: %v", err)
		return es, err
	}
	for _, p := range positions {
		var size, avgPrice float64
		fmt.Sscanf(p.Size, "%f", &size)
		fmt.Sscanf(p.AvgPrice, "%f", &avgPrice)

		es.positions = append(es.positions, state.PersistedPosition{
			MarketID:   p.MarketID,
			TokenID:    p.TokenID,
			Size:       size,
			EntryPrice: avgPrice,
			CostBasis:  size * avgPrice,
		})
	}

	balance, err := rc.client.GetBalance(ctx)
	if err != nil {
		es.err = fmt.Sprintf("failed to fetch balance: %v", err)
		return es, err
	}
	es.balance = balance
	es.valid = true
	return es, nil
}

func compareOrders(local, remote []state.PersistedOrder) []Discrepancy {
	var out []Discrepancy

	localMap := make(map[string]state.PersistedOrder, len(local))
	for _, o := range local {
		localMap[o.OrderID] = o
	}
	remoteMap := make(map[string]state.PersistedOrder, len(remote))
	for _, o := range remote {
		remoteMap[o.OrderID] = o
	}

	for id, o := range remoteMap {
		if _, ok := localMap[id]; !ok {
			out = append(out, Discrepancy{
				Type: DiscrepancyMissingLocalOrder, Identifier: id,
				LocalValue:  "not present",
				RemoteValue: fmt.Sprintf("%s@%.4f x %.2f", o.Side, o.Price, o.Size),
				Details:     "order exists on exchange but not in local state",
				IsCritical:  true,
			})
		}
	}

	for id, o := range localMap {
		if _, ok := remoteMap[id]; ok {
			continue
		}
		switch o.State {
		case "SENT", "ACKNOWLEDGED", "PARTIAL":
			out = append(out, Discrepancy{
				Type: DiscrepancyMissingRemoteOrder, Identifier: id,
				LocalValue:  fmt.Sprintf("%s@%.4f x %.2f (%s)", o.Side, o.Price, o.Size, o.State),
				RemoteValue: "not present",
				Details:     "order in local state not found on exchange, may have filled or been canceled",
				IsCritical:  true,
			})
		}
	}

	for id, lo := range localMap {
		ro, ok := remoteMap[id]
		if !ok {
			continue
		}
		if !ordersMatch(lo, ro) {
			out = append(out, Discrepancy{
				Type: DiscrepancyOrderStateMismatch, Identifier: id,
				LocalValue:  fmt.Sprintf("%s filled=%.2f", lo.State, lo.FilledSize),
				RemoteValue: fmt.Sprintf("%s filled=%.2f", ro.State, ro.FilledSize),
				Details:     "order state differs between local and exchange",
				IsCritical:  lo.FilledSize != ro.FilledSize,
			})
		}
	}

	return out
}

func comparePositions(local, remote []state.PersistedPosition) []Discrepancy {
	var out []Discrepancy

	localMap := make(map[string]state.PersistedPosition, len(local))
	for _, p := range local {
		localMap[p.TokenID] = p
	}
	remoteMap := make(map[string]state.PersistedPosition, len(remote))
	for _, p := range remote {
		remoteMap[p.TokenID] = p
	}

	for tokenID, p := range remoteMap {
		if _, ok := localMap[tokenID]; !ok && p.Size > 0.001 {
			out = append(out, Discrepancy{
				Type: DiscrepancyUnknownPosition, Identifier: tokenID,
				LocalValue:  "0",
				RemoteValue: fmt.Sprintf("%.4f", p.Size),
				Details:     "position exists on exchange but not tracked locally",
				IsCritical:  true,
			})
		}
	}

	for tokenID, lp := range localMap {
		rp, ok := remoteMap[tokenID]
		remoteSize := 0.0
		if ok {
			remoteSize = rp.Size
		}
		if !positionsMatch(lp, rp) {
			out = append(out, Discrepancy{
				Type: DiscrepancyPositionSizeMismatch, Identifier: tokenID,
				LocalValue:  fmt.Sprintf("%.4f", lp.Size),
				RemoteValue: fmt.Sprintf("%.4f", remoteSize),
				Details:     "position size differs between local and exchange",
				IsCritical:  math.Abs(lp.Size-remoteSize) > 0.01,
			})
		}
	}

	return out
}

func (rc *Reconciler) compareBalance(local, remote float64) (Discrepancy, bool) {
	diff := math.Abs(local - remote)
	tolerance := remote * rc.cfg.BalanceTolerance
	if diff <= tolerance || diff <= 0.01 {
		return Discrepancy{}, false
	}

	var pct float64
	if remote != 0 {
		pct = diff / remote
	}

	return Discrepancy{
		Type: DiscrepancyBalanceMismatch, Identifier: "balance",
		LocalValue:  fmt.Sprintf("%.2f", local),
		RemoteValue: fmt.Sprintf("%.2f", remote),
		Details:     fmt.Sprintf("balance differs by $%.2f (%.1f%%)", diff, pct*100),
		IsCritical:  pct > 0.05,
	}, true
}

func resolveToExchange(exch exchangeState, local state.SystemState) state.SystemState {
	resolved := local
	resolved.OpenOrders = exch.openOrders
	resolved.Positions = exch.positions
	resolved.Balance = exch.balance

	var exposure float64
	for _, p := range resolved.Positions {
		exposure += p.Size * p.EntryPrice
	}
	resolved.TotalExposure = exposure

	return resolved
}

func (rc *Reconciler) cancelOrphanOrder(ctx context.Context, orderID string) bool {
	rc.logger.Warn("canceling orphan order", "order_id", orderID)
	if _, err := rc.client.CancelOrder(ctx, orderID); err != nil {
		rc.logger.Error("failed to cancel orphan order", "order_id", orderID, "error", err)
		return false
	}
	rc.logger.Info("canceled orphan order", "order_id", orderID)
	return true
}

func ordersMatch(a, b state.PersistedOrder) bool {
	return a.OrderID == b.OrderID && a.State == b.State && math.Abs(a.FilledSize-b.FilledSize) < 0.0001
}

func positionsMatch(a, b state.PersistedPosition) bool {
	return math.Abs(a.Size-b.Size) < 0.0001
}
