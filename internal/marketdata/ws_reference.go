// ws_reference.go implements the external spot reference-price feed.
//
// The strategies compare implied probability against an external BTC
// reference price, so the bot needs a feed independent of the venue's own
// WebSocket — a standard exchange book-ticker stream (bid/ask/last per
// tick). It shares the same reconnect-with-backoff idiom as
// ws_prediction.go (without its ping loop) rather than introducing a new
// connection pattern.
package marketdata

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"polymarket-arb/pkg/types"
)

// ReferencePriceFeed maintains a single spot reference price (e.g. BTC/USDT)
// from an external exchange WebSocket. The latest tick is stored
// atomically; readers never block on the feed goroutine.
type ReferencePriceFeed struct {
	url    string
	symbol string

	conn   *websocket.Conn
	connMu sync.Mutex

	latest atomic.Pointer[types.ReferencePrice]

	logger *slog.Logger
}

// NewReferencePriceFeed creates a feed for the given symbol (e.g. "BTCUSDT").
func NewReferencePriceFeed(wsURL, symbol string, logger *slog.Logger) *ReferencePriceFeed {
	return &ReferencePriceFeed{
		url:    wsURL,
		symbol: symbol,
		logger: logger.With("component", "ws_reference", "symbol", symbol),
	}
}

// Latest returns the most recent reference price, or nil if none has
// arrived yet.
func (f *ReferencePriceFeed) Latest() *types.ReferencePrice {
	return f.latest.Load()
}

// Run connects and maintains the connection with auto-reconnect. Blocks
// until ctx is cancelled.
func (f *ReferencePriceFeed) Run(ctx context.Context) error {
	backoff := time.Second

	for {
		err := f.connectAndRead(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		f.logger.Warn("reference feed disconnected, reconnecting", "error", err, "backoff", backoff)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}

		backoff *= 2
		if backoff > maxReconnectWait {
			backoff = maxReconnectWait
		}
	}
}

// Close closes the underlying connection.
func (f *ReferencePriceFeed) Close() error {
	f.connMu.Lock()
	defer f.connMu.Unlock()
	if f.conn != nil {
		return f.conn.Close()
	}
	return nil
}

func (f *ReferencePriceFeed) connectAndRead(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, f.url, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}

	f.connMu.Lock()
	f.conn = conn
	f.connMu.Unlock()
	defer func() {
		f.connMu.Lock()
		conn.Close()
		f.conn = nil
		f.connMu.Unlock()
	}()

	f.logger.Info("reference feed connected")

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		conn.SetReadDeadline(time.Now().Add(readTimeout))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}
		f.handleTick(msg)
	}
}

func (f *ReferencePriceFeed) handleTick(data []byte) {
	var tick types.WSReferenceTick
	if err := json.Unmarshal(data, &tick); err != nil {
		f.logger.Debug("ignoring unparseable reference tick", "data", string(data))
		return
	}

	bid, err := strconv.ParseFloat(tick.BidPrice, 64)
	if err != nil {
		return
	}
	ask, err := strconv.ParseFloat(tick.AskPrice, 64)
	if err != nil {
		return
	}
	last, _ := strconv.ParseFloat(tick.LastPrice, 64)

	exchangeTime := time.Time{}
	if tick.EventTime > 0 {
		exchangeTime = time.UnixMilli(tick.EventTime)
	}

	price := &types.ReferencePrice{
		Symbol:       f.symbol,
		Bid:          bid,
		Ask:          ask,
		Mid:          (bid + ask) / 2,
		Last:         last,
		RecvTime:     time.Now(),
		ExchangeTime: exchangeTime,
	}
	f.latest.Store(price)
}
