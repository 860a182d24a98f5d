package okex

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/bytedance/sonic"
	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"

	"tradecore/internal/exchange"
	"tradecore/pkg/exception"
)

const (
	defaultRestHost = "https://www.okex.com"
	defaultWssHost  = "wss://real.okex.com:10442/ws/v3"

	// batchCancelLimit is the venue cap per batch cancel call.
	batchCancelLimit = 4
)

// RestClient is the signed okex v3 REST surface, shared by the spot and
// futures venues.
type RestClient struct {
	host       string
	accessKey  string
	secretKey  string
	passphrase string
	client     exchange.Doer

	now func() time.Time
}

// NewRestClient builds a client against host, defaulting to production.
func NewRestClient(host, accessKey, secretKey, passphrase string, client exchange.Doer) *RestClient {
	if host == "" {
		host = defaultRestHost
	}
	if client == nil {
		client = exchange.NewHTTPClient()
	}
	return &RestClient{
		host:       host,
		accessKey:  accessKey,
		secretKey:  secretKey,
		passphrase: passphrase,
		client:     client,
		now:        time.Now,
	}
}

// Timestamp formats the venue timestamp, epoch seconds with
// millisecond precision.
func (c *RestClient) Timestamp() string {
	now := c.now()
	return fmt.Sprintf("%d.%03d", now.Unix(), now.UnixMilli()%1000)
}

// Sign computes the base64 HMAC-SHA256 over the v3 prehash
// timestamp + UPPER(method) + requestPath + body.
func (c *RestClient) Sign(timestamp, method, requestPath, body string) string {
	mac := hmac.New(sha256.New, []byte(c.secretKey))
	mac.Write([]byte(timestamp + method + requestPath + body))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// LoginArgs builds the websocket login op arguments: the signature is
// over the fixed verify path.
func (c *RestClient) LoginArgs() []string {
	timestamp := c.Timestamp()
	return []string{c.accessKey, c.passphrase, timestamp, c.Sign(timestamp, "GET", "/users/self/verify", "")}
}

// Request signs and issues one call. The query rides inside the signed
// request path; body is JSON-encoded when non-nil.
func (c *RestClient) Request(ctx context.Context, method, path string, params url.Values, body any, auth bool, out any) error {
	requestPath := path
	if len(params) > 0 {
		requestPath += "?" + exchange.SortedQuery(params)
	}

	var payload []byte
	if body != nil {
		encoded, err := sonic.Marshal(body)
		if err != nil {
			return errors.Wrap(err, "encode request body")
		}
		payload = encoded
	}

	header := http.Header{}
	if auth {
		timestamp := c.Timestamp()
		header.Set("Content-Type", "application/json")
		header.Set("OK-ACCESS-KEY", c.accessKey)
		header.Set("OK-ACCESS-SIGN", c.Sign(timestamp, method, requestPath, string(payload)))
		header.Set("OK-ACCESS-TIMESTAMP", timestamp)
		header.Set("OK-ACCESS-PASSPHRASE", c.passphrase)
	}

	return exchange.DoRest(ctx, c.client, exchange.RestRequest{
		Method: method,
		URL:    c.host + requestPath,
		Body:   payload,
		Header: header,
	}, out)
}

func (c *RestClient) Accounts(ctx context.Context) ([]map[string]any, error) {
	var out []map[string]any
	if err := c.Request(ctx, http.MethodGet, "/api/spot/v3/accounts", nil, nil, true, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// CreateOrderResult carries the venue-side outcome flag with the id.
type CreateOrderResult struct {
	Result       bool   `json:"result"`
	OrderID      string `json:"order_id"`
	ErrorMessage string `json:"error_message"`
}

// CreateOrderBody is the spot order submission shape. Market buys fill
// Notional instead of Size.
type CreateOrderBody struct {
	Side          string `json:"side"`
	InstrumentID  string `json:"instrument_id"`
	MarginTrading int    `json:"margin_trading"`
	Type          string `json:"type"`
	Price         string `json:"price,omitempty"`
	Size          string `json:"size,omitempty"`
	Notional      string `json:"notional,omitempty"`
}

func (c *RestClient) CreateOrder(ctx context.Context, body CreateOrderBody) (*CreateOrderResult, error) {
	out := &CreateOrderResult{}
	if err := c.Request(ctx, http.MethodPost, "/api/spot/v3/orders", nil, body, true, out); err != nil {
		return nil, err
	}
	if !out.Result {
		return nil, errors.Wrapf(exception.ErrRestResponseError, "message: %s", out.ErrorMessage)
	}
	return out, nil
}

func (c *RestClient) CancelOrder(ctx context.Context, symbol, orderNo string) error {
	body := map[string]any{"instrument_id": symbol}
	out := &CreateOrderResult{}
	path := "/api/spot/v3/cancel_orders/" + orderNo
	if err := c.Request(ctx, http.MethodPost, path, nil, body, true, out); err != nil {
		return err
	}
	if !out.Result {
		return errors.Wrapf(exception.ErrRestResponseError, "order_no: %s, message: %s", orderNo, out.ErrorMessage)
	}
	return nil
}

// CancelBatchOrders cancels up to four orders in one call; extras are
// dropped with a warning.
func (c *RestClient) CancelBatchOrders(ctx context.Context, symbol string, orderNos []string) error {
	if len(orderNos) > batchCancelLimit {
		logs.Warnf("okex batch cancel capped at %d orders, got: %d", batchCancelLimit, len(orderNos))
		orderNos = orderNos[:batchCancelLimit]
	}
	body := []map[string]any{{
		"instrument_id": symbol,
		"order_ids":     orderNos,
	}}
	return c.Request(ctx, http.MethodPost, "/api/spot/v3/cancel_batch_orders", nil, body, true, nil)
}

// OrderInfo is one spot order record. Times are RFC3339 UTC strings.
type OrderInfo struct {
	OrderID      string `json:"order_id"`
	State        string `json:"state"`
	Side         string `json:"side"`
	Type         string `json:"type"`
	Price        string `json:"price"`
	Size         string `json:"size"`
	FilledSize   string `json:"filled_size"`
	CreatedAt    string `json:"created_at"`
	Timestamp    string `json:"timestamp"`
	LastFillTime string `json:"last_fill_time"`
}

func (c *RestClient) PendingOrders(ctx context.Context, symbol string) ([]OrderInfo, error) {
	params := url.Values{}
	params.Set("instrument_id", symbol)
	var out []OrderInfo
	if err := c.Request(ctx, http.MethodGet, "/api/spot/v3/orders_pending", params, nil, true, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *RestClient) OrderStatus(ctx context.Context, symbol, orderNo string) (*OrderInfo, error) {
	params := url.Values{}
	params.Set("instrument_id", symbol)
	out := &OrderInfo{}
	if err := c.Request(ctx, http.MethodGet, "/api/spot/v3/orders/"+orderNo, params, nil, true, out); err != nil {
		return nil, err
	}
	return out, nil
}
