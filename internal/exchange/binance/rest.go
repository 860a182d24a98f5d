package binance

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"tradecore/internal/exchange"
)

const (
	defaultRestHost = "https://api.binance.com"
	defaultWssHost  = "wss://stream.binance.com:9443"
)

// RestClient is the signed binance REST surface.
// https://github.com/binance-exchange/binance-official-api-docs
type RestClient struct {
	host      string
	accessKey string
	secretKey string
	client    exchange.Doer

	now func() time.Time
}

// NewRestClient builds a client against host, defaulting to the
// production endpoint.
func NewRestClient(host, accessKey, secretKey string, client exchange.Doer) *RestClient {
	if host == "" {
		host = defaultRestHost
	}
	if client == nil {
		client = exchange.NewHTTPClient()
	}
	return &RestClient{
		host:      host,
		accessKey: accessKey,
		secretKey: secretKey,
		client:    client,
		now:       time.Now,
	}
}

// Sign returns the lowercase hex HMAC-SHA256 of the canonical query.
func (c *RestClient) Sign(query string) string {
	mac := hmac.New(sha256.New, []byte(c.secretKey))
	mac.Write([]byte(query))
	return hex.EncodeToString(mac.Sum(nil))
}

// ServerTimeResult is the venue clock reading.
type ServerTimeResult struct {
	ServerTime int64 `json:"serverTime"`
}

func (c *RestClient) ServerTime(ctx context.Context) (*ServerTimeResult, error) {
	out := &ServerTimeResult{}
	if err := c.request(ctx, http.MethodGet, "/api/v1/time", nil, false, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *RestClient) ExchangeInfo(ctx context.Context) (map[string]any, error) {
	out := map[string]any{}
	if err := c.request(ctx, http.MethodGet, "/api/v1/exchangeInfo", nil, false, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *RestClient) Account(ctx context.Context) (map[string]any, error) {
	out := map[string]any{}
	if err := c.request(ctx, http.MethodGet, "/api/v3/account", url.Values{}, true, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// OrderResult is the subset of an order record both the create response
// and the open-orders listing share.
type OrderResult struct {
	Symbol        string `json:"symbol"`
	OrderID       int64  `json:"orderId"`
	ClientOrderID string `json:"clientOrderId"`
	Price         string `json:"price"`
	OrigQty       string `json:"origQty"`
	ExecutedQty   string `json:"executedQty"`
	Status        string `json:"status"`
	Side          string `json:"side"`
	Type          string `json:"type"`
	Time          int64  `json:"time"`
	UpdateTime    int64  `json:"updateTime"`
}

// CreateOrder submits a GTC limit order.
func (c *RestClient) CreateOrder(ctx context.Context, symbol, side, price, quantity string) (*OrderResult, error) {
	query := url.Values{}
	query.Set("symbol", symbol)
	query.Set("side", side)
	query.Set("type", "LIMIT")
	query.Set("timeInForce", "GTC")
	query.Set("quantity", quantity)
	query.Set("price", price)
	query.Set("recvWindow", "5000")
	query.Set("newOrderRespType", "FULL")
	out := &OrderResult{}
	if err := c.request(ctx, http.MethodPost, "/api/v3/order", query, true, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *RestClient) CancelOrder(ctx context.Context, symbol string, orderID int64, clientOrderID string) error {
	query := url.Values{}
	query.Set("symbol", symbol)
	query.Set("orderId", strconv.FormatInt(orderID, 10))
	query.Set("origClientOrderId", clientOrderID)
	return c.request(ctx, http.MethodDelete, "/api/v3/order", query, true, nil)
}

func (c *RestClient) OrderStatus(ctx context.Context, symbol string, orderID int64, clientOrderID string) (*OrderResult, error) {
	query := url.Values{}
	query.Set("symbol", symbol)
	query.Set("orderId", strconv.FormatInt(orderID, 10))
	query.Set("origClientOrderId", clientOrderID)
	out := &OrderResult{}
	if err := c.request(ctx, http.MethodGet, "/api/v3/order", query, true, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *RestClient) OpenOrders(ctx context.Context, symbol string) ([]OrderResult, error) {
	query := url.Values{}
	query.Set("symbol", symbol)
	var out []OrderResult
	if err := c.request(ctx, http.MethodGet, "/api/v3/openOrders", query, true, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *RestClient) AllOrders(ctx context.Context, symbol string) ([]OrderResult, error) {
	query := url.Values{}
	query.Set("symbol", symbol)
	var out []OrderResult
	if err := c.request(ctx, http.MethodGet, "/api/v3/allOrders", query, true, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ListenKeyResult is the user-data stream token.
type ListenKeyResult struct {
	ListenKey string `json:"listenKey"`
}

func (c *RestClient) CreateListenKey(ctx context.Context) (*ListenKeyResult, error) {
	out := &ListenKeyResult{}
	if err := c.request(ctx, http.MethodPost, "/api/v1/userDataStream", nil, false, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *RestClient) KeepaliveListenKey(ctx context.Context, listenKey string) error {
	query := url.Values{}
	query.Set("listenKey", listenKey)
	return c.request(ctx, http.MethodPut, "/api/v1/userDataStream", query, false, nil)
}

func (c *RestClient) DeleteListenKey(ctx context.Context, listenKey string) error {
	query := url.Values{}
	query.Set("listenKey", listenKey)
	return c.request(ctx, http.MethodDelete, "/api/v1/userDataStream", query, false, nil)
}

// request builds the full URL, signing auth calls over the canonical
// sorted query with the signature appended last, exactly as sent.
func (c *RestClient) request(ctx context.Context, method, path string, query url.Values, auth bool, out any) error {
	target := c.host + path
	raw := ""
	if auth {
		if query == nil {
			query = url.Values{}
		}
		query.Set("timestamp", strconv.FormatInt(c.now().UnixMilli(), 10))
	}
	if len(query) > 0 {
		raw = exchange.SortedQuery(query)
	}
	if auth {
		raw += "&signature=" + c.Sign(raw)
	}
	if raw != "" {
		target += "?" + raw
	}
	header := http.Header{}
	header.Set("X-MBX-APIKEY", c.accessKey)
	return exchange.DoRest(ctx, c.client, exchange.RestRequest{
		Method: method,
		URL:    target,
		Header: header,
	}, out)
}
