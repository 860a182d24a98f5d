// Package event carries normalized domain updates across processes via
// topic exchanges on a message broker.
package event

import (
	"fmt"
	"time"

	"github.com/bytedance/sonic"

	"tradecore/internal/model"
)

// Default topic exchanges declared on every connect.
const (
	ExchangeOrder      = "order"
	ExchangePosition   = "position"
	ExchangeAsset      = "asset"
	ExchangeKline      = "kline"
	ExchangeKline5Min  = "kline.5min"
	ExchangeKline15Min = "kline.15min"
	ExchangeTicker     = "ticker"
	ExchangeOrderbook  = "orderbook"
	ExchangeConfig     = "config"
	ExchangeHeartbeat  = "heartbeat"
)

// Event is the transport wrapper for any domain update published on the
// bus. Exchange, Queue, RoutingKey and PrefetchCount are transport
// metadata set by the publisher/subscriber; only Name and Data travel
// in the serialized payload.
type Event struct {
	Exchange      string
	Queue         string
	RoutingKey    string
	PrefetchCount int

	Name string
	Data any
}

type envelope struct {
	Name string `json:"n"`
	Data any    `json:"d"`
}

// Dumps serializes the event payload as {"n": name, "d": data}.
func (e *Event) Dumps() ([]byte, error) {
	return sonic.Marshal(envelope{Name: e.Name, Data: e.Data})
}

// Loads fills Name and Data from a serialized payload. Lossless with
// Dumps for any JSON-serializable Data.
func (e *Event) Loads(payload []byte) error {
	var env envelope
	if err := sonic.Unmarshal(payload, &env); err != nil {
		return err
	}
	e.Name = env.Name
	e.Data = env.Data
	return nil
}

func (e *Event) String() string {
	return fmt.Sprintf("EVENT: exchange=%s, queue=%s, routing_key=%s, name=%s", e.Exchange, e.Queue, e.RoutingKey, e.Name)
}

// NewOrderEvent wraps an order update, routed {platform}.{symbol}.
func NewOrderEvent(o *model.Order) *Event {
	return &Event{
		Exchange:      ExchangeOrder,
		RoutingKey:    fmt.Sprintf("%s.%s", o.Platform, o.Symbol),
		PrefetchCount: 1,
		Name:          "EVENT_ORDER",
		Data: map[string]any{
			"platform":   o.Platform,
			"account":    o.Account,
			"strategy":   o.Strategy,
			"order_no":   o.OrderNo,
			"symbol":     o.Symbol,
			"action":     o.Action.String(),
			"order_type": o.OrderType.String(),
			"price":      o.Price.String(),
			"quantity":   o.Quantity.String(),
			"remain":     o.Remain.String(),
			"avg_price":  o.AvgPrice.String(),
			"status":     o.Status.String(),
			"timestamp":  o.Utime,
		},
	}
}

// NewPositionEvent wraps a position refresh, routed {platform}.{symbol}.
func NewPositionEvent(p *model.Position) *Event {
	return &Event{
		Exchange:      ExchangePosition,
		RoutingKey:    fmt.Sprintf("%s.%s", p.Platform, p.Symbol),
		PrefetchCount: 1,
		Name:          "EVENT_POSITION",
		Data: map[string]any{
			"platform":        p.Platform,
			"account":         p.Account,
			"strategy":        p.Strategy,
			"symbol":          p.Symbol,
			"long_quantity":   p.LongQuantity.String(),
			"long_avg_price":  p.LongAvgPrice.String(),
			"short_quantity":  p.ShortQuantity.String(),
			"short_avg_price": p.ShortAvgPrice.String(),
			"liquid_price":    p.LiquidPrice.String(),
			"timestamp":       p.Utime,
		},
	}
}

// NewAssetEvent wraps an account balance snapshot, routed
// {platform}.{account}.
func NewAssetEvent(platform, account string, assets map[string]any, timestamp int64) *Event {
	return &Event{
		Exchange:      ExchangeAsset,
		RoutingKey:    fmt.Sprintf("%s.%s", platform, account),
		PrefetchCount: 1,
		Name:          "EVENT_ASSET",
		Data: map[string]any{
			"platform":  platform,
			"account":   account,
			"assets":    assets,
			"timestamp": timestamp,
		},
	}
}

// NewKlineEvent wraps a candle, routed {platform}.{symbol}. Klines push
// in bursts, so subscribers get a wider prefetch window.
func NewKlineEvent(platform, symbol string, open, high, low, close, volume string, timestamp int64) *Event {
	return &Event{
		Exchange:      ExchangeKline,
		RoutingKey:    fmt.Sprintf("%s.%s", platform, symbol),
		PrefetchCount: 20,
		Name:          "EVENT_KLINE",
		Data:          []any{platform, symbol, open, high, low, close, volume, timestamp},
	}
}

// NewKline5MinEvent wraps a 5-minute candle, routed {platform}.{symbol}.
func NewKline5MinEvent(platform, symbol string, open, high, low, close, volume string, timestamp int64) *Event {
	return &Event{
		Exchange:      ExchangeKline5Min,
		RoutingKey:    fmt.Sprintf("%s.%s", platform, symbol),
		PrefetchCount: 20,
		Name:          "EVENT_KLINE_5MIN",
		Data:          []any{platform, symbol, open, high, low, close, volume, timestamp},
	}
}

// NewKline15MinEvent wraps a 15-minute candle, routed {platform}.{symbol}.
func NewKline15MinEvent(platform, symbol string, open, high, low, close, volume string, timestamp int64) *Event {
	return &Event{
		Exchange:      ExchangeKline15Min,
		RoutingKey:    fmt.Sprintf("%s.%s", platform, symbol),
		PrefetchCount: 20,
		Name:          "EVENT_KLINE_15MIN",
		Data:          []any{platform, symbol, open, high, low, close, volume, timestamp},
	}
}

// NewTickerEvent wraps a best bid/ask update, routed {platform}.{symbol}.
func NewTickerEvent(platform, symbol string, ask, askQuantity, bid, bidQuantity string, timestamp int64) *Event {
	return &Event{
		Exchange:      ExchangeTicker,
		RoutingKey:    fmt.Sprintf("%s.%s", platform, symbol),
		PrefetchCount: 20,
		Name:          "EVENT_TICKER",
		Data:          []any{platform, symbol, ask, askQuantity, bid, bidQuantity, timestamp},
	}
}

// NewOrderbookEvent wraps a depth snapshot, routed {platform}.{symbol}.
func NewOrderbookEvent(platform, symbol string, asks, bids [][]string, timestamp int64) *Event {
	return &Event{
		Exchange:      ExchangeOrderbook,
		RoutingKey:    fmt.Sprintf("%s.%s", platform, symbol),
		PrefetchCount: 1,
		Name:          "EVENT_ORDERBOOK",
		Data:          []any{platform, symbol, asks, bids, timestamp},
	}
}

// NewConfigEvent carries a runtime parameter update for one server.
func NewConfigEvent(serverID string, params map[string]any) *Event {
	return &Event{
		Exchange:      ExchangeConfig,
		RoutingKey:    serverID,
		PrefetchCount: 1,
		Name:          "EVENT_CONFIG",
		Data: map[string]any{
			"server_id": serverID,
			"params":    params,
		},
	}
}

// NewHeartbeatEvent reports process liveness to the monitoring side.
func NewHeartbeatEvent(serverID string, count int64) *Event {
	return &Event{
		Exchange:      ExchangeHeartbeat,
		RoutingKey:    serverID,
		PrefetchCount: 1,
		Name:          "EVENT_HEARTBEAT",
		Data: map[string]any{
			"server_id": serverID,
			"count":     count,
			"timestamp": time.Now().UnixMilli(),
		},
	}
}
