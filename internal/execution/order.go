// Package execution owns the order lifecycle: single-order submission
// through the mode-parameterized engine (dry-run/paper/live), and the
// paired YES+NO executor that drives the underpricing strategy's two-leg
// signals to a hedged fill.
package execution

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"polymarket-arb/pkg/types"
)

var orderSeq atomic.Int64

// GenerateOrderID returns a unique client order id.
func GenerateOrderID() string {
	return fmt.Sprintf("ORD-%d-%s", orderSeq.Add(1), uuid.NewString()[:8])
}

// Order tracks one order's full lifecycle.
type Order struct {
	ClientOrderID   string
	ExchangeOrderID string
	StrategyName    string

	MarketID      string
	TokenID       string
	Side          types.Side
	Type          types.OrderType
	Price         float64
	OriginalSize  float64
	FilledSize    float64
	RemainingSize float64

	State types.OrderState

	CreatedAt       time.Time
	SentAt          time.Time
	AckedAt         time.Time
	LastFillAt      time.Time
	CompletedAt     time.Time
	ExchangeAckTime time.Duration

	Fills []types.Fill

	TotalFees float64

	RejectReason string
	RetryCount   int
}

// NewOrder constructs an order in PENDING state, ready to be dispatched.
func NewOrder(strategy string, signal types.Signal, orderType types.OrderType) *Order {
	return &Order{
		ClientOrderID: GenerateOrderID(),
		StrategyName:  strategy,
		MarketID:      signal.MarketID,
		TokenID:       signal.TokenID,
		Side:          signal.Side,
		Type:          orderType,
		Price:         signal.Price,
		OriginalSize:  signal.Size,
		RemainingSize: signal.Size,
		State:         types.OrderPending,
		CreatedAt:     time.Now(),
	}
}

// AverageFillPrice returns the size-weighted average fill price, or 0 if
// nothing has filled yet.
func (o *Order) AverageFillPrice() float64 {
	if o.FilledSize <= 0 {
		return 0
	}
	var notional float64
	for _, f := range o.Fills {
		notional += f.Price * f.Size
	}
	return notional / o.FilledSize
}

// FilledNotional returns filled_size * average_fill_price.
func (o *Order) FilledNotional() float64 {
	return o.FilledSize * o.AverageFillPrice()
}

// IsTerminal reports whether the order can never change state again.
func (o *Order) IsTerminal() bool {
	return o.State.IsTerminal()
}

// TimeToAck returns the decision-to-acknowledgment latency, or 0 if not
// yet acknowledged.
func (o *Order) TimeToAck() time.Duration {
	if o.AckedAt.IsZero() {
		return 0
	}
	return o.AckedAt.Sub(o.CreatedAt)
}

// TimeToFill returns the decision-to-fill latency, or 0 if not yet filled.
func (o *Order) TimeToFill() time.Duration {
	if o.LastFillAt.IsZero() {
		return 0
	}
	return o.LastFillAt.Sub(o.CreatedAt)
}

// MarkSent transitions the order to SENT.
func (o *Order) MarkSent() {
	o.State = types.OrderSent
	o.SentAt = time.Now()
}

// MarkAcknowledged transitions the order to ACKNOWLEDGED with the
// exchange-assigned id.
func (o *Order) MarkAcknowledged(exchangeID string, ackLatency time.Duration) {
	o.ExchangeOrderID = exchangeID
	o.ExchangeAckTime = ackLatency
	o.State = types.OrderAcknowledged
	o.AckedAt = time.Now()
}

// MarkPartialFill records a fill and transitions to PARTIAL (or FILLED if
// it completes the order).
func (o *Order) MarkPartialFill(fill types.Fill) {
	o.Fills = append(o.Fills, fill)
	o.FilledSize += fill.Size
	o.RemainingSize = o.OriginalSize - o.FilledSize
	o.TotalFees += fill.Fee
	o.LastFillAt = fill.Timestamp
	if o.FilledSize >= o.OriginalSize {
		o.MarkFilled()
		return
	}
	o.State = types.OrderPartial
}

// MarkFilled transitions the order to its terminal FILLED state.
func (o *Order) MarkFilled() {
	o.State = types.OrderFilled
	o.CompletedAt = time.Now()
}

// MarkCanceled transitions the order to its terminal CANCELED state.
func (o *Order) MarkCanceled() {
	o.State = types.OrderCanceled
	o.CompletedAt = time.Now()
}

// MarkRejected transitions the order to its terminal REJECTED state.
func (o *Order) MarkRejected(reason string) {
	o.State = types.OrderRejected
	o.RejectReason = reason
	o.CompletedAt = time.Now()
}
