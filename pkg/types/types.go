// Package types defines shared data structures used across all packages.
//
// This package is the common vocabulary for the bot — prices, order and
// signal shapes, order-book wire payloads, and WebSocket event envelopes.
// It has no dependencies on internal packages, so it can be imported by any
// layer.
package types

import (
	"math/big"
	"time"
)

// ————————————————————————————————————————————————————————————————————————
// Core enums
// ————————————————————————————————————————————————————————————————————————

// Side represents the direction of an order: BUY or SELL.
type Side string

const (
	BUY  Side = "BUY"
	SELL Side = "SELL"
)

// Opposite returns the other side.
func (s Side) Opposite() Side {
	if s == BUY {
		return SELL
	}
	return BUY
}

// OrderType enumerates the supported order lifecycles.
type OrderType string

const (
	OrderTypeLimit  OrderType = "LIMIT"
	OrderTypeMarket OrderType = "MARKET"
	OrderTypeIOC    OrderType = "IOC" // immediate-or-cancel: fill what's available now, cancel the rest
	OrderTypeFOK    OrderType = "FOK" // fill-or-kill: fill completely now or cancel entirely
	OrderTypeGTC    OrderType = "GTC" // good-til-cancelled: stays on book until filled or cancelled
)

// OrderState is the order lifecycle state machine. Once a terminal state
// (FILLED, CANCELED, REJECTED, EXPIRED) is entered it never changes.
type OrderState string

const (
	OrderPending      OrderState = "PENDING"
	OrderSent         OrderState = "SENT"
	OrderAcknowledged OrderState = "ACKNOWLEDGED"
	OrderPartial      OrderState = "PARTIAL"
	OrderFilled       OrderState = "FILLED"
	OrderCanceled     OrderState = "CANCELED"
	OrderRejected     OrderState = "REJECTED"
	OrderExpired      OrderState = "EXPIRED"
)

// IsTerminal reports whether the state can never change again.
func (s OrderState) IsTerminal() bool {
	switch s {
	case OrderFilled, OrderCanceled, OrderRejected, OrderExpired:
		return true
	default:
		return false
	}
}

// TradingMode selects how the execution engine dispatches orders.
type TradingMode string

const (
	ModeDryRun TradingMode = "DRY_RUN" // record as if submitted, no venue call
	ModePaper  TradingMode = "PAPER"   // simulate acknowledgment + fill
	ModeLive   TradingMode = "LIVE"    // real venue calls
)

// ConnectionStatus is the ladder a single feed/connection occupies.
type ConnectionStatus string

const (
	ConnHealthy      ConnectionStatus = "HEALTHY"
	ConnDegraded     ConnectionStatus = "DEGRADED"
	ConnUnhealthy    ConnectionStatus = "UNHEALTHY"
	ConnDisconnected ConnectionStatus = "DISCONNECTED"
	ConnUnknown      ConnectionStatus = "UNKNOWN"
)

// SignatureType identifies the signing scheme for the CTF exchange contract.
type SignatureType int

const (
	SigEOA        SignatureType = 0 // externally-owned account (standard wallet)
	SigProxy      SignatureType = 1 // Polymarket proxy / Magic wallet
	SigGnosisSafe SignatureType = 2 // Gnosis Safe multisig
)

// TickSize represents the price granularity for a market. Polymarket supports
// four tick sizes; each market has a fixed tick size that determines the
// minimum price increment and USDC amount rounding precision.
type TickSize string

const (
	Tick01    TickSize = "0.1"    // 1 decimal  — coarse markets
	Tick001   TickSize = "0.01"   // 2 decimals — standard markets (most common)
	Tick0001  TickSize = "0.001"  // 3 decimals — fine-grained markets
	Tick00001 TickSize = "0.0001" // 4 decimals — ultra-precise markets
)

// Decimals returns the number of decimal places for a tick size.
func (t TickSize) Decimals() int {
	switch t {
	case Tick01:
		return 1
	case Tick001:
		return 2
	case Tick0001:
		return 3
	case Tick00001:
		return 4
	default:
		return 2
	}
}

// AmountDecimals returns the rounding precision for USDC amounts.
func (t TickSize) AmountDecimals() int {
	switch t {
	case Tick01:
		return 3
	case Tick001:
		return 4
	case Tick0001:
		return 5
	case Tick00001:
		return 6
	default:
		return 4
	}
}

// ————————————————————————————————————————————————————————————————————————
// Market & reference-price metadata
// ————————————————————————————————————————————————————————————————————————

// Outcome is one side (YES or NO) of a binary market.
type Outcome struct {
	Name    string // "Yes" or "No"
	TokenID string // CLOB token ID
	BestBid float64
	BestAsk float64
}

// Market describes a single binary prediction market.
type Market struct {
	ConditionID string
	Question    string
	Slug        string
	FeeRateBps  int
	EndDate     time.Time
	TickSize    TickSize
	NegRisk     bool
	Yes         Outcome
	No          Outcome
}

// ReferencePrice is a tick from the external spot reference feed (BTC).
type ReferencePrice struct {
	Symbol       string
	Bid          float64
	Ask          float64
	Mid          float64
	Last         float64
	RecvTime     time.Time // when our process observed it
	ExchangeTime time.Time // exchange-reported time, zero if not provided
}

// ————————————————————————————————————————————————————————————————————————
// Signals & fills
// ————————————————————————————————————————————————————————————————————————

// Signal is a strategy's recommendation to trade. Strategies are pure
// functions of (book, reference price, now) — a Signal carries everything
// the execution layer needs and nothing it must look up again.
type Signal struct {
	Strategy     string
	MarketID     string // condition ID
	TokenID      string
	Side         Side
	Price        float64
	Size         float64
	ExpectedEdge float64 // expected profit per unit, in probability units (dollars per $1 payout)
	Confidence   float64 // [0,1]
	GeneratedAt  time.Time
	Reason       string

	// PairTokenID/PairSide/PairPrice are set only for the underpricing
	// strategy's paired signals, letting the caller recover the second leg
	// without a second lookup.
	PairTokenID string
	PairSide    Side
	PairPrice   float64
}

// Fill records a single execution against an order.
type Fill struct {
	TradeID   string
	OrderID   string
	MarketID  string
	TokenID   string
	Side      Side
	Price     float64
	Size      float64
	Fee       float64
	Timestamp time.Time
}

// LatencyMetrics summarizes a rolling sample of durations as percentiles.
type LatencyMetrics struct {
	Samples int
	P50     time.Duration
	P95     time.Duration
	Max     time.Duration
}

// ————————————————————————————————————————————————————————————————————————
// Orders (wire-facing DTOs; execution.Order is the internal lifecycle type)
// ————————————————————————————————————————————————————————————————————————

// UserOrder is the high-level order representation produced by the
// execution layer. The REST client converts it to a SignedOrder.
type UserOrder struct {
	TokenID    string
	Price      float64
	Size       float64
	Side       Side
	OrderType  OrderType
	TickSize   TickSize
	Expiration int64 // unix timestamp, 0 = no expiry
	FeeRateBps int
}

// SignedOrder is the on-chain order format the CLOB API expects.
// MakerAmount and TakerAmount are in 6-decimal USDC units (1e6 = $1).
//
// For BUY:  maker gives MakerAmount USDC, receives TakerAmount tokens
// For SELL: maker gives MakerAmount tokens, receives TakerAmount USDC
type SignedOrder struct {
	Salt          string        `json:"salt"`
	Maker         string        `json:"maker"`
	Signer        string        `json:"signer"`
	Taker         string        `json:"taker"`
	TokenID       string        `json:"tokenId"`
	MakerAmount   *big.Int      `json:"makerAmount"`
	TakerAmount   *big.Int      `json:"takerAmount"`
	Side          Side          `json:"side"`
	Expiration    string        `json:"expiration"`
	Nonce         string        `json:"nonce"`
	FeeRateBps    string        `json:"feeRateBps"`
	SignatureType SignatureType `json:"signatureType"`
	Signature     string        `json:"signature"`
}

// OrderPayload is the REST API request body for POST /order.
type OrderPayload struct {
	Order     SignedOrder `json:"order"`
	Owner     string      `json:"owner"`
	OrderType OrderType   `json:"orderType"`
	PostOnly  bool        `json:"postOnly,omitempty"`
}

// OrderResponse is the REST API response to an order submission.
type OrderResponse struct {
	Success  bool   `json:"success"`
	ErrorMsg string `json:"errorMsg"`
	OrderID  string `json:"orderID"`
	Status   string `json:"status"` // e.g. "live", "matched"
}

// OpenOrder represents a live resting order on the CLOB, as returned by
// GET /orders.
type OpenOrder struct {
	ID           string `json:"id"`
	Status       string `json:"status"`
	Market       string `json:"market"`
	AssetID      string `json:"asset_id"`
	Side         string `json:"side"`
	OriginalSize string `json:"original_size"`
	SizeMatched  string `json:"size_matched"`
	Price        string `json:"price"`
}

// CancelResponse is returned by DELETE /order/{id} and cancel-all.
type CancelResponse struct {
	Canceled []string `json:"canceled"`
}

// BalanceResponse is returned by GET /balance.
type BalanceResponse struct {
	Balance string `json:"balance"`
}

// PositionDTO is returned by GET /positions — the exchange's view of a
// held position, used by the reconciler to compare against local state.
type PositionDTO struct {
	MarketID string `json:"market"`
	TokenID  string `json:"asset_id"`
	Size     string `json:"size"`
	AvgPrice string `json:"avg_price"`
}

// MarketDTO mirrors the Gamma/CLOB market list response shape (the same
// shape github.com/GoPolymarket/polymarket-go-sdk exposes for /markets),
// decoded directly instead of through map[string]any.
type MarketDTO struct {
	ConditionID     string  `json:"condition_id"`
	Question        string  `json:"question"`
	Slug            string  `json:"slug"`
	Active          bool    `json:"active"`
	Closed          bool    `json:"closed"`
	AcceptingOrders bool    `json:"accepting_orders"`
	EndDateISO      string  `json:"end_date_iso"`
	FeeRateBps      int     `json:"fee_rate_bps"`
	NegRisk         bool    `json:"neg_risk"`
	TickSize        string  `json:"tick_size"`
	Liquidity       float64 `json:"liquidity_num,string"`
	Volume24h       float64 `json:"volume_24hr,string"`
	Tokens          []struct {
		TokenID string `json:"token_id"`
		Outcome string `json:"outcome"`
	} `json:"tokens"`
}

// ————————————————————————————————————————————————————————————————————————
// Order book wire payloads
// ————————————————————————————————————————————————————————————————————————

// PriceLevel is a single bid or ask level. Price and Size are strings
// because the CLOB API returns them as strings to preserve precision.
type PriceLevel struct {
	Price string `json:"price"`
	Size  string `json:"size"`
}

// BookResponse is the REST response from GET /book for a single token.
type BookResponse struct {
	Market       string       `json:"market"`
	AssetID      string       `json:"asset_id"`
	Bids         []PriceLevel `json:"bids"`
	Asks         []PriceLevel `json:"asks"`
	Hash         string       `json:"hash"`
	Timestamp    string       `json:"timestamp"`
	MinOrderSize string       `json:"min_order_size"`
	TickSize     string       `json:"tick_size"`
	NegRisk      bool         `json:"neg_risk"`
}

// ————————————————————————————————————————————————————————————————————————
// WebSocket events — prediction-market channel
// ————————————————————————————————————————————————————————————————————————

// WSBookEvent is a full order book snapshot. Replaces the entire local
// book for the given asset.
type WSBookEvent struct {
	EventType string       `json:"event_type"` // always "book"
	AssetID   string       `json:"asset_id"`
	Market    string       `json:"market"`
	Timestamp string       `json:"timestamp"`
	Hash      string       `json:"hash"`
	Buys      []PriceLevel `json:"buys"`
	Sells     []PriceLevel `json:"sells"`
}

// WSPriceChange is a single price level update within a price_change event.
type WSPriceChange struct {
	AssetID string `json:"asset_id"`
	Price   string `json:"price"`
	Size    string `json:"size"` // new size at that level (0 = removed)
	Side    string `json:"side"`
	Hash    string `json:"hash"`
	BestBid string `json:"best_bid"`
	BestAsk string `json:"best_ask"`
}

// WSPriceChangeEvent is an incremental order book update — one or more
// level changes applied atomically.
type WSPriceChangeEvent struct {
	EventType    string          `json:"event_type"` // always "price_change"
	Market       string          `json:"market"`
	Timestamp    string          `json:"timestamp"`
	PriceChanges []WSPriceChange `json:"price_changes"`
}

// WSTradeEvent is a fill notification from the user channel.
type WSTradeEvent struct {
	EventType string `json:"event_type"` // always "trade"
	ID        string `json:"id"`
	Market    string `json:"market"`
	AssetID   string `json:"asset_id"`
	Side      string `json:"side"`
	Size      string `json:"size"`
	Price     string `json:"price"`
	Outcome   string `json:"outcome"`
	Timestamp string `json:"timestamp"`
}

// WSOrderEvent is an order lifecycle notification from the user channel.
type WSOrderEvent struct {
	EventType       string   `json:"event_type"` // always "order"
	ID              string   `json:"id"`
	Market          string   `json:"market"`
	AssetID         string   `json:"asset_id"`
	Side            string   `json:"side"`
	Price           string   `json:"price"`
	OriginalSize    string   `json:"original_size"`
	SizeMatched     string   `json:"size_matched"`
	Outcome         string   `json:"outcome"`
	Owner           string   `json:"owner"`
	Timestamp       string   `json:"timestamp"`
	Type            string   `json:"type"` // "PLACEMENT", "UPDATE", "CANCELLATION"
	AssociateTrades []string `json:"associate_trades"`
}

// WSSubscribeMsg is the initial subscription message sent on connect.
// For user channels, Auth must be provided.
type WSSubscribeMsg struct {
	Auth     *WSAuth  `json:"auth,omitempty"`
	Type     string   `json:"type"` // "market" or "user"
	Markets  []string `json:"markets,omitempty"`
	AssetIDs []string `json:"assets_ids,omitempty"`
}

// WSAuth contains the L2 API credentials for authenticating the user
// WebSocket channel.
type WSAuth struct {
	ApiKey     string `json:"apiKey"`
	Secret     string `json:"secret"`
	Passphrase string `json:"passphrase"`
}

// WSUpdateMsg dynamically subscribes/unsubscribes after the initial
// connection is established.
type WSUpdateMsg struct {
	AssetIDs  []string `json:"assets_ids,omitempty"`
	Markets   []string `json:"markets,omitempty"`
	Operation string   `json:"operation"` // "subscribe" or "unsubscribe"
}

// ————————————————————————————————————————————————————————————————————————
// WebSocket events — reference-price channel
// ————————————————————————————————————————————————————————————————————————

// WSReferenceTick is a best bid/ask update from the reference-price feed.
type WSReferenceTick struct {
	Symbol    string `json:"symbol"`
	BidPrice  string `json:"bid_price"`
	AskPrice  string `json:"ask_price"`
	LastPrice string `json:"last_price"`
	EventTime int64  `json:"event_time"` // exchange-reported epoch ms, 0 if absent
}
