package okex

import (
	"bytes"
	"compress/flate"
	"context"
	"sync"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradecore/internal/exchange"
	"tradecore/internal/model"
	ws "tradecore/pkg/websocket"
)

type frame struct {
	messageType int
	payload     []byte
}

type fakeConn struct {
	mu     sync.Mutex
	frames chan frame
	writes [][]byte
	closed bool
}

func newFakeConn() *fakeConn {
	return &fakeConn{frames: make(chan frame, 16)}
}

func (c *fakeConn) ReadMessage() (int, []byte, error) {
	f, ok := <-c.frames
	if !ok {
		return 0, nil, websocket.ErrCloseSent
	}
	return f.messageType, f.payload, nil
}

func (c *fakeConn) WriteMessage(_ int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	copied := append([]byte(nil), data...)
	c.writes = append(c.writes, copied)
	return nil
}

func (c *fakeConn) WriteControl(int, []byte, time.Time) error { return nil }
func (c *fakeConn) SetReadDeadline(time.Time) error           { return nil }
func (c *fakeConn) SetPongHandler(func(string) error)         {}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.frames)
	}
	return nil
}

func (c *fakeConn) feedText(payload string) {
	c.frames <- frame{messageType: websocket.TextMessage, payload: []byte(payload)}
}

// feedDeflated pushes a raw-deflate binary frame, the venue wire format.
func (c *fakeConn) feedDeflated(t *testing.T, payload string) {
	t.Helper()
	var buf bytes.Buffer
	w, err := flate.NewWriter(&buf, flate.DefaultCompression)
	require.NoError(t, err)
	_, err = w.Write([]byte(payload))
	require.NoError(t, err)
	require.NoError(t, w.Close())
	c.frames <- frame{messageType: websocket.BinaryMessage, payload: buf.Bytes()}
}

func (c *fakeConn) sentOps(t *testing.T) []string {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	var ops []string
	for _, payload := range c.writes {
		var msg struct {
			Op string `json:"op"`
		}
		if sonic.Unmarshal(payload, &msg) == nil && msg.Op != "" {
			ops = append(ops, msg.Op)
		}
	}
	return ops
}

type fakeDialer struct {
	mu    sync.Mutex
	conns []*fakeConn
}

func (d *fakeDialer) Dial(context.Context, string) (ws.Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	conn := newFakeConn()
	d.conns = append(d.conns, conn)
	return conn, nil
}

func (d *fakeDialer) conn(t *testing.T) *fakeConn {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		d.mu.Lock()
		if len(d.conns) > 0 {
			conn := d.conns[len(d.conns)-1]
			d.mu.Unlock()
			return conn
		}
		d.mu.Unlock()
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("no connection dialed in time")
	return nil
}

type orderCollector struct {
	ch chan *model.Order
}

func newOrderCollector() *orderCollector {
	return &orderCollector{ch: make(chan *model.Order, 16)}
}

func (c *orderCollector) callback(order *model.Order) { c.ch <- order }

func (c *orderCollector) next(t *testing.T) *model.Order {
	t.Helper()
	select {
	case order := <-c.ch:
		return order
	case <-time.After(2 * time.Second):
		t.Fatal("no order callback in time")
		return nil
	}
}

func newTestTrade(t *testing.T, doer *routeDoer) (*Trade, *fakeDialer, *orderCollector) {
	t.Helper()
	if _, ok := doer.routes["GET /api/spot/v3/orders_pending"]; !ok {
		doer.route("GET", "/api/spot/v3/orders_pending", `[]`)
	}
	dialer := &fakeDialer{}
	col := newOrderCollector()
	trade, err := newTrade(exchange.Config{
		Platform:   exchange.PlatformOkex,
		Account:    "test@okex.com",
		Strategy:   "grid",
		Symbol:     "ETH/USDT",
		AccessKey:  "ak",
		SecretKey:  "sk",
		Passphrase: "pp",
		OnOrder:    col.callback,
	}, doer, dialer)
	require.NoError(t, err)
	t.Cleanup(trade.Close)
	return trade, dialer, col
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}

func TestLoginThenSubscribe(t *testing.T) {
	_, dialer, _ := newTestTrade(t, newRouteDoer())
	conn := dialer.conn(t)

	// Login op goes out on connect.
	waitFor(t, func() bool { return len(conn.sentOps(t)) >= 1 })
	assert.Equal(t, []string{"login"}, conn.sentOps(t))

	// Successful login triggers the channel subscription.
	conn.feedDeflated(t, `{"event": "login", "success": true}`)
	waitFor(t, func() bool { return len(conn.sentOps(t)) == 2 })
	assert.Equal(t, "subscribe", conn.sentOps(t)[1])

	conn.mu.Lock()
	subscribe := string(conn.writes[len(conn.writes)-1])
	conn.mu.Unlock()
	assert.Contains(t, subscribe, "spot/order:ETH-USDT")
}

func TestPongFrameIgnored(t *testing.T) {
	trade, dialer, _ := newTestTrade(t, newRouteDoer())
	conn := dialer.conn(t)
	conn.feedDeflated(t, "pong")
	conn.feedText("pong")
	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, trade.Orders())
}

func TestOrderChannelLifecycle(t *testing.T) {
	trade, dialer, col := newTestTrade(t, newRouteDoer())
	conn := dialer.conn(t)

	push := func(state, filled, lastFill string) {
		conn.feedDeflated(t, `{"table": "spot/order", "data": [{
			"order_id": "2511109", "state": "`+state+`", "side": "buy", "type": "limit",
			"price": "120.5", "size": "2", "filled_size": "`+filled+`",
			"timestamp": "2019-03-05T09:30:45.123Z", "last_fill_time": "`+lastFill+`"}]}`)
	}

	push("0", "0", "2019-03-05T09:30:45.123Z")
	order := col.next(t)
	assert.Equal(t, model.OrderStatusSubmitted, order.Status)
	assert.Equal(t, "2511109", order.OrderNo)
	assert.Equal(t, model.OrderActionBuy, order.Action)
	// no fills yet, so no fill-weighted average to report
	assert.True(t, order.AvgPrice.IsZero())

	push("1", "0.5", "2019-03-05T09:30:46.000Z")
	order = col.next(t)
	assert.Equal(t, model.OrderStatusPartialFilled, order.Status)
	assert.True(t, order.Remain.Equal(decimal.RequireFromString("1.5")))

	push("2", "2", "2019-03-05T09:30:47.000Z")
	order = col.next(t)
	assert.Equal(t, model.OrderStatusFilled, order.Status)
	waitFor(t, func() bool { return len(trade.Orders()) == 0 })
}

func TestReconciliationFromPendingOrders(t *testing.T) {
	doer := newRouteDoer()
	doer.route("GET", "/api/spot/v3/orders_pending", `[{
		"order_id": "777", "state": "1", "side": "sell", "type": "limit",
		"price": "130", "size": "3", "filled_size": "1",
		"created_at": "2019-03-05T09:00:00.000Z", "timestamp": "2019-03-05T09:30:45.123Z"}]`)
	trade, _, col := newTestTrade(t, doer)

	order := col.next(t)
	assert.Equal(t, "777", order.OrderNo)
	assert.Equal(t, model.OrderStatusPartialFilled, order.Status)
	assert.Equal(t, model.OrderActionSell, order.Action)
	assert.True(t, order.Remain.Equal(decimal.NewFromInt(2)))
	assert.Len(t, trade.Orders(), 1)
}

func TestRevokeOrderSplit(t *testing.T) {
	doer := newRouteDoer()
	doer.route("POST", "/api/spot/v3/cancel_orders/10", `{"result": true}`)
	doer.route("POST", "/api/spot/v3/cancel_orders/11", `{"result": false, "error_message": "not found"}`)
	trade, _, _ := newTestTrade(t, doer)

	success, failed, err := trade.RevokeOrder(context.Background(), "10", "11")
	require.NoError(t, err)
	assert.Equal(t, []string{"10"}, success)
	assert.Equal(t, []string{"11"}, failed)
}

func TestCreateOrderMarketBuyUsesNotional(t *testing.T) {
	doer := newRouteDoer()
	doer.route("POST", "/api/spot/v3/orders", `{"result": true, "order_id": "55"}`)
	trade, _, _ := newTestTrade(t, doer)

	orderNo, err := trade.CreateOrder(context.Background(), model.OrderActionBuy,
		decimal.Zero, decimal.NewFromInt(100), exchange.WithOrderType(model.OrderTypeMarket))
	require.NoError(t, err)
	assert.Equal(t, "55", orderNo)

	_, body := doer.last(t)
	var sent CreateOrderBody
	require.NoError(t, sonic.Unmarshal([]byte(body), &sent))
	assert.Equal(t, "market", sent.Type)
	assert.Equal(t, "100", sent.Notional)
	assert.Empty(t, sent.Size)
}
