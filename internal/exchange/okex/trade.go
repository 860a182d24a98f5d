package okex

import (
	"context"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/shopspring/decimal"
	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"

	"tradecore/internal/exchange"
	"tradecore/internal/model"
	"tradecore/pkg/exception"
	"tradecore/pkg/locker"
	"tradecore/pkg/websocket"
)

const heartbeatInterval = 5 * time.Second

func init() {
	exchange.Register(exchange.PlatformOkex, func(cfg exchange.Config) (exchange.Trader, error) {
		return NewTrade(cfg)
	})
}

// Trade streams the okex spot order channel. Frames arrive raw-deflate
// compressed; the session inflates them before Process sees the bytes.
type Trade struct {
	cfg       exchange.Config
	rawSymbol string
	rest      *RestClient
	locks     *locker.Registry

	session *websocket.Session
	orders  map[string]*model.Order
}

// NewTrade builds the adapter and starts its session.
func NewTrade(cfg exchange.Config) (*Trade, error) {
	return newTrade(cfg, nil, nil)
}

func newTrade(cfg exchange.Config, doer exchange.Doer, dialer websocket.Dialer) (*Trade, error) {
	wss := cfg.WssHost
	if wss == "" {
		wss = defaultWssHost
	}
	t := &Trade{
		cfg:       cfg,
		rawSymbol: strings.ReplaceAll(cfg.Symbol, "/", "-"),
		rest:      NewRestClient(cfg.RestHost, cfg.AccessKey, cfg.SecretKey, cfg.Passphrase, doer),
		locks:     cfg.LockRegistry(),
		orders:    make(map[string]*model.Order),
	}

	session, err := websocket.New(websocket.Option{
		URL:          wss,
		Dialer:       dialer,
		Handler:      t,
		PingInterval: heartbeatInterval,
		PingText:     "ping",
	})
	if err != nil {
		return nil, err
	}
	t.session = session
	t.session.Start(context.Background())
	return t, nil
}

// OnConnected sends the login op and reconciles the table from REST.
// The channel subscription waits for the login event in Process.
func (t *Trade) OnConnected(ctx context.Context, session *websocket.Session) error {
	if err := session.SendJSON(map[string]any{
		"op":   "login",
		"args": t.rest.LoginArgs(),
	}); err != nil {
		return errors.Wrap(err, "send login op")
	}

	infos, err := t.rest.PendingOrders(ctx, t.rawSymbol)
	if err != nil {
		return errors.Wrap(err, "reconcile pending orders")
	}
	for i := range infos {
		t.applyInfo(infos[i], infos[i].CreatedAt, infos[i].Timestamp)
	}
	return nil
}

// wsMessage is the inflated v3 frame shape.
type wsMessage struct {
	Event     string      `json:"event"`
	Success   bool        `json:"success"`
	Message   string      `json:"message"`
	ErrorCode string      `json:"errorCode"`
	Table     string      `json:"table"`
	Data      []OrderInfo `json:"data"`
}

// Process handles one inflated frame.
func (t *Trade) Process(_ context.Context, payload []byte) error {
	if string(payload) == "pong" {
		return nil
	}
	var msg wsMessage
	if err := sonic.Unmarshal(payload, &msg); err != nil {
		return errors.Wrapf(exception.ErrWebSocketProtocol, "body: %s", payload)
	}

	switch {
	case msg.Event == "login":
		if !msg.Success {
			logs.Errorf("okex websocket login failed, message: %s", msg.Message)
			return exception.ErrWebSocketAuthFailed
		}
		logs.Info("okex websocket connection authorized")
		return t.session.SendJSON(map[string]any{
			"op":   "subscribe",
			"args": []string{"spot/order:" + t.rawSymbol},
		})
	case msg.Event == "error":
		logs.Errorf("okex websocket error event, code: %s, message: %s", msg.ErrorCode, msg.Message)
		return nil
	case msg.Table == "spot/order":
		for i := range msg.Data {
			t.applyInfo(msg.Data[i], msg.Data[i].Timestamp, msg.Data[i].LastFillTime)
		}
		return nil
	default:
		return nil
	}
}

// applyInfo merges one order record into the table, using the given
// fields as creation and update stamps; the REST listing and the stream
// disagree on which field carries which.
func (t *Trade) applyInfo(info OrderInfo, ctimeRaw, utimeRaw string) {
	status, err := ParseState(info.State)
	if err != nil {
		logs.Warnf("okex unknown order state, state: %s, order_id: %s", info.State, info.OrderID)
		return
	}
	size, _ := decimal.NewFromString(info.Size)
	filled, _ := decimal.NewFromString(info.FilledSize)
	price, _ := decimal.NewFromString(info.Price)
	utime := ParseTime(utimeRaw)

	var snapshot *model.Order
	t.locks.Do("okex.orders", func() {
		order, ok := t.orders[info.OrderID]
		if !ok {
			order = model.NewOrder(t.cfg.Platform, t.cfg.Account, t.cfg.Strategy, t.cfg.Symbol, info.OrderID)
			if info.Side == "sell" {
				order.Action = model.OrderActionSell
			} else {
				order.Action = model.OrderActionBuy
			}
			if info.Type == "market" {
				order.OrderType = model.OrderTypeMarket
			} else {
				order.OrderType = model.OrderTypeLimit
			}
			order.Quantity = size
			if ctime := ParseTime(ctimeRaw); ctime > 0 {
				order.Ctime = ctime
			}
			t.orders[info.OrderID] = order
		}
		if !order.Newer(utime) {
			return
		}
		order.Price = price
		order.Update(status, size.Sub(filled), utime)
		if status.Terminal() {
			delete(t.orders, info.OrderID)
		}
		copied := *order
		snapshot = &copied
	})
	if snapshot != nil && t.cfg.OnOrder != nil {
		go t.cfg.OnOrder(snapshot)
	}
}

// CreateOrder submits the order and returns the venue order id.
func (t *Trade) CreateOrder(ctx context.Context, action model.OrderAction, price, quantity decimal.Decimal, opts ...exchange.OrderOption) (string, error) {
	if !action.IsAvailable() {
		return "", errors.Wrapf(exception.ErrOrderUnsupportedAction, "action: %d", action)
	}
	req := exchange.ResolveOrderRequest(opts...)

	body := CreateOrderBody{
		InstrumentID:  t.rawSymbol,
		MarginTrading: 1,
	}
	if action == model.OrderActionSell {
		body.Side = "sell"
	} else {
		body.Side = "buy"
	}
	switch req.OrderType {
	case model.OrderTypeLimit:
		body.Type = "limit"
		body.Price = price.String()
		body.Size = quantity.String()
	case model.OrderTypeMarket:
		body.Type = "market"
		if action == model.OrderActionBuy {
			// Market buys spend notional, not size.
			body.Notional = quantity.String()
		} else {
			body.Size = quantity.String()
		}
	default:
		return "", errors.Wrapf(exception.ErrOrderUnsupportedType, "order_type: %s", req.OrderType)
	}

	result, err := t.rest.CreateOrder(ctx, body)
	if err != nil {
		return "", err
	}
	return result.OrderID, nil
}

// RevokeOrder cancels the given orders, or everything open when called
// with none.
func (t *Trade) RevokeOrder(ctx context.Context, orderNos ...string) (success, failed []string, err error) {
	if len(orderNos) == 0 {
		nos, err := t.OpenOrderNos(ctx)
		if err != nil {
			return nil, nil, err
		}
		orderNos = nos
	}
	for _, orderNo := range orderNos {
		if cancelErr := t.rest.CancelOrder(ctx, t.rawSymbol, orderNo); cancelErr != nil {
			logs.Errorf("okex cancel order failed, order_no: %s, err: %+v", orderNo, cancelErr)
			failed = append(failed, orderNo)
			continue
		}
		success = append(success, orderNo)
	}
	return success, failed, nil
}

// OpenOrderNos lists the venue-side pending order ids.
func (t *Trade) OpenOrderNos(ctx context.Context) ([]string, error) {
	infos, err := t.rest.PendingOrders(ctx, t.rawSymbol)
	if err != nil {
		return nil, err
	}
	nos := make([]string, 0, len(infos))
	for _, info := range infos {
		nos = append(nos, info.OrderID)
	}
	return nos, nil
}

// Orders snapshots the live table.
func (t *Trade) Orders() map[string]*model.Order {
	out := make(map[string]*model.Order)
	t.locks.Do("okex.orders", func() {
		for orderNo, order := range t.orders {
			copied := *order
			out[orderNo] = &copied
		}
	})
	return out
}

// Position is always flat on a spot venue.
func (t *Trade) Position() *model.Position {
	return model.NewPosition(t.cfg.Platform, t.cfg.Account, t.cfg.Strategy, t.cfg.Symbol)
}

// Close stops the session.
func (t *Trade) Close() {
	t.session.Close()
}

// ParseState maps the okex numeric order state to the normalized
// status: -2 failed, -1 canceled, 0 submitted, 1 partial, 2 filled.
func ParseState(state string) (model.OrderStatus, error) {
	switch state {
	case "-2":
		return model.OrderStatusFailed, nil
	case "-1":
		return model.OrderStatusCanceled, nil
	case "0":
		return model.OrderStatusSubmitted, nil
	case "1":
		return model.OrderStatusPartialFilled, nil
	case "2":
		return model.OrderStatusFilled, nil
	default:
		return model.OrderStatusNone, exception.ErrOrderUnknownStatus
	}
}

// ParseTime converts the venue RFC3339 UTC stamp to epoch ms; empty or
// malformed stamps read as zero.
func ParseTime(s string) int64 {
	if s == "" {
		return 0
	}
	parsed, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return 0
	}
	return parsed.UnixMilli()
}
