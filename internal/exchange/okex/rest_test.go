package okex

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradecore/pkg/exception"
)

type routeDoer struct {
	mu       sync.Mutex
	requests []*http.Request
	bodies   []string
	routes   map[string]string // "METHOD path" -> body
	statuses map[string]int
}

func newRouteDoer() *routeDoer {
	return &routeDoer{routes: map[string]string{}, statuses: map[string]int{}}
}

func (d *routeDoer) route(method, path, body string) { d.routes[method+" "+path] = body }

func (d *routeDoer) Do(req *http.Request) (*http.Response, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.requests = append(d.requests, req)
	sent := ""
	if req.Body != nil {
		payload, _ := io.ReadAll(req.Body)
		sent = string(payload)
	}
	d.bodies = append(d.bodies, sent)
	key := req.Method + " " + req.URL.Path
	body, ok := d.routes[key]
	if !ok {
		return &http.Response{StatusCode: 404, Body: io.NopCloser(bytes.NewReader(nil))}, nil
	}
	status := d.statuses[key]
	if status == 0 {
		status = 200
	}
	return &http.Response{StatusCode: status, Body: io.NopCloser(bytes.NewReader([]byte(body)))}, nil
}

func (d *routeDoer) last(t *testing.T) (*http.Request, string) {
	t.Helper()
	d.mu.Lock()
	defer d.mu.Unlock()
	require.NotEmpty(t, d.requests)
	return d.requests[len(d.requests)-1], d.bodies[len(d.bodies)-1]
}

func fixedClock() time.Time { return time.UnixMilli(1551778245123) } // 2019-03-05T09:30:45.123Z

func TestTimestamp(t *testing.T) {
	client := NewRestClient("", "ak", "sk", "pp", newRouteDoer())
	client.now = fixedClock
	assert.Equal(t, "1551778245.123", client.Timestamp())
}

func TestSign(t *testing.T) {
	client := NewRestClient("", "access-key", "secret-key", "passphrase", newRouteDoer())
	got := client.Sign("2019-03-05T09:30:45.123Z", "GET", "/api/spot/v3/orders_pending?instrument_id=ETH-USDT", "")
	assert.Equal(t, "i5cvq9j7TmqV7dUsujlmqEWN1GA1XCOdncYT0nZJErU=", got)
}

func TestSignedRequestHeaders(t *testing.T) {
	doer := newRouteDoer()
	doer.route("GET", "/api/spot/v3/orders_pending", `[]`)
	client := NewRestClient("", "access-key", "secret-key", "passphrase", doer)
	client.now = fixedClock

	_, err := client.PendingOrders(context.Background(), "ETH-USDT")
	require.NoError(t, err)

	req, _ := doer.last(t)
	assert.Equal(t, "access-key", req.Header.Get("OK-ACCESS-KEY"))
	assert.Equal(t, "passphrase", req.Header.Get("OK-ACCESS-PASSPHRASE"))
	timestamp := req.Header.Get("OK-ACCESS-TIMESTAMP")
	assert.Equal(t, "1551778245.123", timestamp)
	assert.Equal(t,
		client.Sign(timestamp, "GET", "/api/spot/v3/orders_pending?instrument_id=ETH-USDT", ""),
		req.Header.Get("OK-ACCESS-SIGN"))
}

func TestCreateOrderResultFlag(t *testing.T) {
	doer := newRouteDoer()
	doer.route("POST", "/api/spot/v3/orders", `{"result": true, "order_id": "2510789768709120"}`)
	client := NewRestClient("", "ak", "sk", "pp", doer)

	result, err := client.CreateOrder(context.Background(), CreateOrderBody{
		Side: "buy", InstrumentID: "ETH-USDT", MarginTrading: 1,
		Type: "limit", Price: "120.5", Size: "2",
	})
	require.NoError(t, err)
	assert.Equal(t, "2510789768709120", result.OrderID)

	_, body := doer.last(t)
	var sent CreateOrderBody
	require.NoError(t, sonic.Unmarshal([]byte(body), &sent))
	assert.Equal(t, "limit", sent.Type)
	assert.Equal(t, "120.5", sent.Price)

	doer.route("POST", "/api/spot/v3/orders", `{"result": false, "error_message": "balance not enough"}`)
	_, err = client.CreateOrder(context.Background(), CreateOrderBody{Side: "buy", InstrumentID: "ETH-USDT"})
	require.ErrorIs(t, err, exception.ErrRestResponseError)
	assert.Contains(t, err.Error(), "balance not enough")
}

func TestCancelBatchOrdersCaps(t *testing.T) {
	doer := newRouteDoer()
	doer.route("POST", "/api/spot/v3/cancel_batch_orders", `[]`)
	client := NewRestClient("", "ak", "sk", "pp", doer)

	nos := []string{"1", "2", "3", "4", "5", "6"}
	require.NoError(t, client.CancelBatchOrders(context.Background(), "ETH-USDT", nos))

	_, body := doer.last(t)
	var sent []struct {
		InstrumentID string   `json:"instrument_id"`
		OrderIDs     []string `json:"order_ids"`
	}
	require.NoError(t, sonic.Unmarshal([]byte(body), &sent))
	require.Len(t, sent, 1)
	assert.Equal(t, []string{"1", "2", "3", "4"}, sent[0].OrderIDs)
}

func TestParseTime(t *testing.T) {
	assert.Equal(t, int64(1551778245123), ParseTime("2019-03-05T09:30:45.123Z"))
	assert.Zero(t, ParseTime(""))
	assert.Zero(t, ParseTime("garbage"))
}
