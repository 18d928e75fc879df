package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/quantfall/arbengine/types"
)

const (
	wsHandshakeTimeout = 10 * time.Second
	wsWriteTimeout     = 10 * time.Second
	wsPingInterval     = 30 * time.Second
	wsReconnectDelay   = time.Second
	wsMaxReconnect     = 30 * time.Second
	wsBufferSize       = 256
)

// wsFeed maintains a WebSocket subscription for market snapshot updates and
// reconnects with backoff until the context is canceled.
type wsFeed struct {
	endpoint string
	markets  []types.Address
	updates  chan *types.MarketSnapshot
	logger   *zap.Logger
}

// marketNotification is the wire form of one snapshot update.
type marketNotification struct {
	Method string `json:"method"`
	Params struct {
		Result struct {
			Venue        string  `json:"venue"`
			Market       string  `json:"market"`
			BaseToken    string  `json:"baseToken"`
			QuoteToken   string  `json:"quoteToken"`
			BestBid      float64 `json:"bestBid"`
			BestAsk      float64 `json:"bestAsk"`
			BaseReserve  uint64  `json:"baseReserve"`
			QuoteReserve uint64  `json:"quoteReserve"`
			FeeRate      float64 `json:"feeRate"`
			Version      uint64  `json:"version"`
			Timestamp    int64   `json:"timestamp"`
			Pending      *struct {
				Side     string  `json:"side"`
				Size     uint64  `json:"size"`
				Price    float64 `json:"price"`
				Deadline int64   `json:"deadline"`
			} `json:"pending"`
		} `json:"result"`
	} `json:"params"`
}

func newWSFeed(ctx context.Context, endpoint string, markets []types.Address, logger *zap.Logger) (*wsFeed, error) {
	f := &wsFeed{
		endpoint: endpoint,
		markets:  markets,
		updates:  make(chan *types.MarketSnapshot, wsBufferSize),
		logger:   logger,
	}

	conn, err := f.dial(ctx)
	if err != nil {
		return nil, err
	}

	go f.run(ctx, conn)
	return f, nil
}

func (f *wsFeed) dial(ctx context.Context) (*websocket.Conn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: wsHandshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, f.endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("websocket dial: %w", err)
	}
	if err := f.subscribe(conn); err != nil {
		conn.Close()
		return nil, err
	}
	return conn, nil
}

func (f *wsFeed) subscribe(conn *websocket.Conn) error {
	addrs := make([]string, len(f.markets))
	for i, m := range f.markets {
		addrs[i] = m.String()
	}
	req := map[string]any{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  "marketSubscribe",
		"params":  []any{addrs},
	}
	conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	if err := conn.WriteJSON(req); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	return nil
}

// run reads notifications until the context ends, reconnecting on failure.
// The updates channel closes only on shutdown.
func (f *wsFeed) run(ctx context.Context, conn *websocket.Conn) {
	defer close(f.updates)

	delay := wsReconnectDelay
	for {
		err := f.consume(ctx, conn)
		if ctx.Err() != nil {
			return
		}
		f.logger.Warn("market feed read failed, reconnecting", zap.Error(err))

		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
		delay *= 2
		if delay > wsMaxReconnect {
			delay = wsMaxReconnect
		}

		next, dialErr := f.dial(ctx)
		if dialErr != nil {
			f.logger.Warn("market feed reconnect failed", zap.Error(dialErr))
			continue
		}
		conn = next
		delay = wsReconnectDelay
	}
}

// consume reads one connection until it fails. The ping writer is tied to
// this connection only; it stops before consume returns, so reconnects never
// share a conn across goroutines.
func (f *wsFeed) consume(ctx context.Context, conn *websocket.Conn) error {
	defer conn.Close()

	done := make(chan struct{})
	defer close(done)

	go func() {
		ping := time.NewTicker(wsPingInterval)
		defer ping.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				conn.Close()
				return
			case <-ping.C:
				conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
				_ = conn.WriteMessage(websocket.PingMessage, nil)
			}
		}
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return err
		}

		snap, ok := f.decode(raw)
		if !ok {
			continue
		}

		select {
		case f.updates <- snap:
		case <-ctx.Done():
			return ctx.Err()
		default:
			// Feed consumer is behind; the aggregator only needs the
			// latest value per market, so dropping here is safe.
			f.logger.Debug("market update dropped, consumer behind",
				zap.String("venue", snap.Venue),
				zap.Uint64("version", snap.Version))
		}
	}
}

func (f *wsFeed) decode(raw []byte) (*types.MarketSnapshot, bool) {
	var note marketNotification
	if err := json.Unmarshal(raw, &note); err != nil || note.Method != "marketNotification" {
		return nil, false
	}

	r := note.Params.Result
	market, err := types.ParseAddress(r.Market)
	if err != nil {
		f.logger.Warn("market notification with bad market address", zap.Error(err))
		return nil, false
	}
	base, err := types.ParseAddress(r.BaseToken)
	if err != nil {
		return nil, false
	}
	quote, err := types.ParseAddress(r.QuoteToken)
	if err != nil {
		return nil, false
	}

	snap := &types.MarketSnapshot{
		Venue:        r.Venue,
		Market:       market,
		Pair:         types.TokenPair{Base: base, Quote: quote},
		BestBid:      r.BestBid,
		BestAsk:      r.BestAsk,
		BaseReserve:  r.BaseReserve,
		QuoteReserve: r.QuoteReserve,
		FeeRate:      r.FeeRate,
		Version:      r.Version,
		Timestamp:    time.UnixMilli(r.Timestamp),
	}
	if p := r.Pending; p != nil {
		side := types.SideBuy
		if p.Side == "sell" {
			side = types.SideSell
		}
		snap.Pending = &types.PendingOrder{
			Side:     side,
			Size:     p.Size,
			Price:    p.Price,
			Deadline: time.UnixMilli(p.Deadline),
		}
	}
	return snap, true
}
