package okexfuture

import (
	"context"
	"net/http"
	"net/url"

	"github.com/yanun0323/errors"

	"tradecore/internal/exchange"
	"tradecore/internal/exchange/okex"
	"tradecore/pkg/exception"
)

const (
	defaultWssHost = "wss://real.okex.com:10442/ws/v3"

	// statusIncomplete is the venue filter for waiting plus partially
	// filled orders.
	statusIncomplete = "6"

	defaultLeverage = 20
)

// RestClient layers the futures v3 endpoints over the shared okex
// signing scheme.
type RestClient struct {
	*okex.RestClient
}

// NewRestClient builds a futures client against host, defaulting to
// production.
func NewRestClient(host, accessKey, secretKey, passphrase string, client exchange.Doer) *RestClient {
	return &RestClient{RestClient: okex.NewRestClient(host, accessKey, secretKey, passphrase, client)}
}

func (c *RestClient) Accounts(ctx context.Context) (map[string]any, error) {
	out := map[string]any{}
	if err := c.Request(ctx, http.MethodGet, "/api/futures/v3/accounts", nil, nil, true, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// PositionInfo is one venue holding record.
type PositionInfo struct {
	LongQty          string `json:"long_qty"`
	LongAvgCost      string `json:"long_avg_cost"`
	ShortQty         string `json:"short_qty"`
	ShortAvgCost     string `json:"short_avg_cost"`
	LiquidationPrice string `json:"liquidation_price"`
	UpdatedAt        string `json:"updated_at"`
}

// PositionResult wraps the holding list for one instrument.
type PositionResult struct {
	Holding []PositionInfo `json:"holding"`
}

func (c *RestClient) Position(ctx context.Context, instrumentID string) (*PositionResult, error) {
	out := &PositionResult{}
	path := "/api/futures/v3/" + instrumentID + "/position"
	if err := c.Request(ctx, http.MethodGet, path, nil, nil, true, out); err != nil {
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

// CreateOrder submits one contract order. tradeType is the venue code:
// 1 open long, 2 open short, 3 close long, 4 close short.
func (c *RestClient) CreateOrder(ctx context.Context, instrumentID, tradeType, price, size string) (*CreateOrderResult, error) {
	body := map[string]any{
		"instrument_id": instrumentID,
		"type":          tradeType,
		"price":         price,
		"size":          size,
		"match_price":   0,
		"leverage":      defaultLeverage,
	}
	out := &CreateOrderResult{}
	if err := c.Request(ctx, http.MethodPost, "/api/futures/v3/order", nil, body, true, out); err != nil {
		return nil, err
	}
	if !out.Result {
		return nil, errors.Wrapf(exception.ErrRestResponseError, "message: %s", out.ErrorMessage)
	}
	return out, nil
}

func (c *RestClient) CancelOrder(ctx context.Context, instrumentID, orderNo string) error {
	out := &CreateOrderResult{}
	path := "/api/futures/v3/cancel_order/" + instrumentID + "/" + orderNo
	if err := c.Request(ctx, http.MethodPost, path, nil, nil, true, out); err != nil {
		return err
	}
	if !out.Result {
		return errors.Wrapf(exception.ErrRestResponseError, "order_no: %s, message: %s", orderNo, out.ErrorMessage)
	}
	return nil
}

func (c *RestClient) CancelBatchOrders(ctx context.Context, instrumentID string, orderNos []string) error {
	body := map[string]any{"order_ids": orderNos}
	path := "/api/futures/v3/cancel_batch_orders/" + instrumentID
	out := &CreateOrderResult{}
	if err := c.Request(ctx, http.MethodPost, path, nil, body, true, out); err != nil {
		return err
	}
	if !out.Result {
		return errors.Wrapf(exception.ErrRestResponseError, "message: %s", out.ErrorMessage)
	}
	return nil
}

// OrderInfo is one futures order record.
type OrderInfo struct {
	OrderID   string `json:"order_id"`
	State     string `json:"state"`
	Type      string `json:"type"`
	Price     string `json:"price"`
	PriceAvg  string `json:"price_avg"`
	Size      string `json:"size"`
	FilledQty string `json:"filled_qty"`
	Timestamp string `json:"timestamp"`
}

func (c *RestClient) OrderInfo(ctx context.Context, instrumentID, orderNo string) (*OrderInfo, error) {
	out := &OrderInfo{}
	path := "/api/futures/v3/orders/" + instrumentID + "/" + orderNo
	if err := c.Request(ctx, http.MethodGet, path, nil, nil, true, out); err != nil {
		return nil, err
	}
	return out, nil
}

// OrderListResult wraps one page of filtered orders.
type OrderListResult struct {
	OrderInfo []OrderInfo `json:"order_info"`
}

// OrderList fetches up to 100 orders matching the status filter.
func (c *RestClient) OrderList(ctx context.Context, instrumentID, status string) (*OrderListResult, error) {
	params := url.Values{}
	params.Set("status", status)
	params.Set("from", "1")
	params.Set("to", "100")
	params.Set("limit", "100")
	out := &OrderListResult{}
	path := "/api/futures/v3/orders/" + instrumentID
	if err := c.Request(ctx, http.MethodGet, path, params, nil, true, out); err != nil {
		return nil, err
	}
	return out, nil
}
