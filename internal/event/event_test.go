package event

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradecore/internal/model"
)

func TestEnvelopeRoundTrip(t *testing.T) {
	cases := []struct {
		name string
		data any
	}{
		{"EVENT_CONFIG", map[string]any{"server_id": "s-1", "params": map[string]any{"spread": "0.002", "depth": float64(5)}}},
		{"EVENT_KLINE", []any{"binance", "ETH/USDT", "187.2", "188.1", "186.9", "187.7", "1024.5", float64(1590000000000)}},
		{"EVENT_HEARTBEAT", map[string]any{"server_id": "s-1", "count": float64(42), "nested": []any{[]any{"a", "b"}, map[string]any{"k": nil}}}},
	}
	for _, tc := range cases {
		src := &Event{Exchange: "config", RoutingKey: "s-1", Name: tc.name, Data: tc.data}
		payload, err := src.Dumps()
		require.NoError(t, err)

		dst := &Event{}
		require.NoError(t, dst.Loads(payload))
		assert.Equal(t, tc.name, dst.Name)
		assert.Equal(t, tc.data, dst.Data)
	}
}

func TestEnvelopeCarriesNoTransportMetadata(t *testing.T) {
	src := &Event{
		Exchange:      "order",
		Queue:         "orders.q",
		RoutingKey:    "binance.ETH/USDT",
		PrefetchCount: 20,
		Name:          "EVENT_ORDER",
		Data:          map[string]any{"order_no": "1001_abc"},
	}
	payload, err := src.Dumps()
	require.NoError(t, err)

	dst := &Event{}
	require.NoError(t, dst.Loads(payload))
	assert.Empty(t, dst.Exchange)
	assert.Empty(t, dst.RoutingKey)
	assert.Zero(t, dst.PrefetchCount)
	assert.Equal(t, src.Name, dst.Name)
}

func TestEnvelopeLoadsRejectsGarbage(t *testing.T) {
	ev := &Event{}
	assert.Error(t, ev.Loads([]byte(`{"n": "x"`)))
}

func TestNewOrderEventRouting(t *testing.T) {
	o := model.NewOrder("binance", "acct", "grid", "ETH/USDT", "1001_abc")
	o.Action = model.OrderActionBuy
	o.Price = decimal.RequireFromString("187.2")
	o.Quantity = decimal.RequireFromString("1.5")

	ev := NewOrderEvent(o)
	assert.Equal(t, ExchangeOrder, ev.Exchange)
	assert.Equal(t, "binance.ETH/USDT", ev.RoutingKey)

	data := ev.Data.(map[string]any)
	assert.Equal(t, "1001_abc", data["order_no"])
	assert.Equal(t, "187.2", data["price"])
	assert.Equal(t, "BUY", data["action"])
}

func TestNewPositionEventRouting(t *testing.T) {
	p := model.NewPosition("okex_future", "acct", "hedge", "BTC-USD-200626")
	p.LongQuantity = decimal.RequireFromString("12")

	ev := NewPositionEvent(p)
	assert.Equal(t, ExchangePosition, ev.Exchange)
	assert.Equal(t, "okex_future.BTC-USD-200626", ev.RoutingKey)
	assert.Equal(t, "12", ev.Data.(map[string]any)["long_quantity"])
}

func TestNewAssetEventRouting(t *testing.T) {
	ev := NewAssetEvent("binance", "acct@mail.com", map[string]any{
		"ETH": map[string]any{"free": "3.5", "locked": "0.5"},
	}, 1590000000000)
	assert.Equal(t, ExchangeAsset, ev.Exchange)
	assert.Equal(t, "binance.acct@mail.com", ev.RoutingKey)
	assert.Equal(t, "EVENT_ASSET", ev.Name)

	data := ev.Data.(map[string]any)
	assert.Equal(t, "binance", data["platform"])
	assert.Equal(t, int64(1590000000000), data["timestamp"])
}

func TestNewIntervalKlineEvents(t *testing.T) {
	five := NewKline5MinEvent("okex", "ETH/USDT", "187.2", "188.1", "186.9", "187.7", "1024.5", 1590000000000)
	assert.Equal(t, ExchangeKline5Min, five.Exchange)
	assert.Equal(t, "okex.ETH/USDT", five.RoutingKey)
	assert.Equal(t, "EVENT_KLINE_5MIN", five.Name)
	assert.Equal(t, 20, five.PrefetchCount)

	fifteen := NewKline15MinEvent("okex", "ETH/USDT", "187.2", "188.1", "186.9", "187.7", "1024.5", 1590000000000)
	assert.Equal(t, ExchangeKline15Min, fifteen.Exchange)
	assert.Equal(t, "EVENT_KLINE_15MIN", fifteen.Name)
}

func TestNewConfigEventRouting(t *testing.T) {
	ev := NewConfigEvent("server-7", map[string]any{"spread": "0.002"})
	assert.Equal(t, ExchangeConfig, ev.Exchange)
	assert.Equal(t, "server-7", ev.RoutingKey)
}
