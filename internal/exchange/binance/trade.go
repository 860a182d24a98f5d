package binance

import (
	"context"
	"fmt"
	"strconv"
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

const listenKeyKeepalive = 30 * time.Minute

func init() {
	exchange.Register(exchange.PlatformBinance, func(cfg exchange.Config) (exchange.Trader, error) {
		return NewTrade(cfg)
	})
}

// Trade streams the binance user-data channel and keeps a live order
// table for one spot symbol.
type Trade struct {
	cfg       exchange.Config
	rawSymbol string
	rest      *RestClient
	locks     *locker.Registry

	session *websocket.Session
	orders  map[string]*model.Order

	listenKey string

	cancel context.CancelFunc
}

// NewTrade builds the adapter and starts its user-data session plus the
// listen-key keepalive loop.
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
		rawSymbol: strings.ReplaceAll(cfg.Symbol, "/", ""),
		rest:      NewRestClient(cfg.RestHost, cfg.AccessKey, cfg.SecretKey, doer),
		locks:     cfg.LockRegistry(),
		orders:    make(map[string]*model.Order),
	}

	session, err := websocket.New(websocket.Option{
		URLFunc: func(ctx context.Context) (string, error) {
			result, err := t.rest.CreateListenKey(ctx)
			if err != nil {
				return "", errors.Wrap(err, "create listen key")
			}
			t.locks.Do("binance.listen_key", func() { t.listenKey = result.ListenKey })
			return wss + "/ws/" + result.ListenKey, nil
		},
		Dialer:  dialer,
		Handler: t,
	})
	if err != nil {
		return nil, err
	}
	t.session = session

	ctx, cancel := context.WithCancel(context.Background())
	t.cancel = cancel
	t.session.Start(ctx)
	go t.keepaliveLoop(ctx)
	return t, nil
}

func (t *Trade) keepaliveLoop(ctx context.Context) {
	ticker := time.NewTicker(listenKeyKeepalive)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			var key string
			t.locks.Do("binance.listen_key", func() { key = t.listenKey })
			if key == "" {
				logs.Warn("binance listen key not initialized, skipping keepalive")
				continue
			}
			if err := t.rest.KeepaliveListenKey(ctx, key); err != nil {
				logs.Errorf("binance keepalive listen key failed, err: %+v", err)
				continue
			}
			logs.Info("binance listen key refreshed")
		}
	}
}

// OnConnected reconciles the table against the venue before streaming
// frames are trusted.
func (t *Trade) OnConnected(ctx context.Context, _ *websocket.Session) error {
	infos, err := t.rest.OpenOrders(ctx, t.rawSymbol)
	if err != nil {
		return errors.Wrap(err, "reconcile open orders")
	}
	for i := range infos {
		info := infos[i]
		status, err := parseStatus(info.Status)
		if err != nil {
			logs.Warnf("binance unknown order status, status: %s, order_id: %d", info.Status, info.OrderID)
			continue
		}
		orderNo := fmt.Sprintf("%d_%s", info.OrderID, info.ClientOrderID)
		price, _ := decimal.NewFromString(info.Price)
		quantity, _ := decimal.NewFromString(info.OrigQty)
		executed, _ := decimal.NewFromString(info.ExecutedQty)
		t.apply(orderUpdate{
			orderNo:  orderNo,
			side:     info.Side,
			typ:      info.Type,
			price:    price,
			quantity: quantity,
			remain:   quantity.Sub(executed),
			status:   status,
			ctime:    info.Time,
			utime:    info.UpdateTime,
		})
	}
	return nil
}

// executionReport is the user-data order update frame.
type executionReport struct {
	EventType     string `json:"e"`
	OrderID       int64  `json:"i"`
	ClientOrderID string `json:"c"`
	Side          string `json:"S"`
	OrderType     string `json:"o"`
	Price         string `json:"p"`
	Quantity      string `json:"q"`
	FilledQty     string `json:"z"`
	Status        string `json:"X"`
	Ctime         int64  `json:"O"`
	Utime         int64  `json:"T"`
}

// Process handles one user-data frame. Runs on the session read loop,
// so frames apply in arrival order.
func (t *Trade) Process(_ context.Context, payload []byte) error {
	var report executionReport
	if err := sonic.Unmarshal(payload, &report); err != nil {
		return errors.Wrapf(exception.ErrWebSocketProtocol, "body: %s", payload)
	}
	if report.EventType != "executionReport" {
		return nil
	}
	status, err := parseStatus(report.Status)
	if err != nil {
		logs.Warnf("binance unknown order status, status: %s, order_id: %d", report.Status, report.OrderID)
		return nil
	}
	price, _ := decimal.NewFromString(report.Price)
	quantity, _ := decimal.NewFromString(report.Quantity)
	filled, _ := decimal.NewFromString(report.FilledQty)
	t.apply(orderUpdate{
		orderNo:  fmt.Sprintf("%d_%s", report.OrderID, report.ClientOrderID),
		side:     report.Side,
		typ:      report.OrderType,
		price:    price,
		quantity: quantity,
		remain:   quantity.Sub(filled),
		status:   status,
		ctime:    report.Ctime,
		utime:    report.Utime,
	})
	return nil
}

type orderUpdate struct {
	orderNo  string
	side     string
	typ      string
	price    decimal.Decimal
	quantity decimal.Decimal
	remain   decimal.Decimal
	status   model.OrderStatus
	ctime    int64
	utime    int64
}

// apply merges one update into the table and fires the callback with a
// copy. Terminal orders leave the table; the copy keeps the final state
// visible to the callback.
func (t *Trade) apply(u orderUpdate) {
	var snapshot *model.Order
	t.locks.Do("binance.orders", func() {
		order, ok := t.orders[u.orderNo]
		if !ok {
			order = model.NewOrder(t.cfg.Platform, t.cfg.Account, t.cfg.Strategy, t.cfg.Symbol, u.orderNo)
			order.Action = parseAction(u.side)
			order.OrderType = parseOrderType(u.typ)
			order.Price = u.price
			order.Quantity = u.quantity
			if u.ctime > 0 {
				order.Ctime = u.ctime
			}
			t.orders[u.orderNo] = order
		}
		if !order.Newer(u.utime) {
			return
		}
		order.Update(u.status, u.remain, u.utime)
		if u.status.Terminal() {
			delete(t.orders, u.orderNo)
		}
		copied := *order
		snapshot = &copied
	})
	if snapshot != nil && t.cfg.OnOrder != nil {
		go t.cfg.OnOrder(snapshot)
	}
}

// CreateOrder submits the order and returns "{orderId}_{clientOrderId}".
func (t *Trade) CreateOrder(ctx context.Context, action model.OrderAction, price, quantity decimal.Decimal, opts ...exchange.OrderOption) (string, error) {
	if !action.IsAvailable() {
		return "", errors.Wrapf(exception.ErrOrderUnsupportedAction, "action: %d", action)
	}
	req := exchange.ResolveOrderRequest(opts...)
	if req.OrderType != model.OrderTypeLimit {
		return "", errors.Wrapf(exception.ErrOrderUnsupportedType, "order_type: %s", req.OrderType)
	}
	result, err := t.rest.CreateOrder(ctx, t.rawSymbol, action.String(), price.String(), quantity.String())
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%d_%s", result.OrderID, result.ClientOrderID), nil
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
		orderID, clientOrderID, splitErr := splitOrderNo(orderNo)
		if splitErr != nil {
			failed = append(failed, orderNo)
			continue
		}
		if cancelErr := t.rest.CancelOrder(ctx, t.rawSymbol, orderID, clientOrderID); cancelErr != nil {
			logs.Errorf("binance cancel order failed, order_no: %s, err: %+v", orderNo, cancelErr)
			failed = append(failed, orderNo)
			continue
		}
		success = append(success, orderNo)
	}
	return success, failed, nil
}

// OpenOrderNos lists the venue-side open order nos for the symbol.
func (t *Trade) OpenOrderNos(ctx context.Context) ([]string, error) {
	infos, err := t.rest.OpenOrders(ctx, t.rawSymbol)
	if err != nil {
		return nil, err
	}
	nos := make([]string, 0, len(infos))
	for _, info := range infos {
		nos = append(nos, fmt.Sprintf("%d_%s", info.OrderID, info.ClientOrderID))
	}
	return nos, nil
}

// Orders snapshots the live table.
func (t *Trade) Orders() map[string]*model.Order {
	out := make(map[string]*model.Order)
	t.locks.Do("binance.orders", func() {
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

// Close stops the session and the keepalive loop.
func (t *Trade) Close() {
	if t.cancel != nil {
		t.cancel()
	}
	t.session.Close()
}

func splitOrderNo(orderNo string) (int64, string, error) {
	parts := strings.SplitN(orderNo, "_", 2)
	if len(parts) != 2 {
		return 0, "", errors.Wrapf(exception.ErrOrderInvalidOrderNo, "order_no: %s", orderNo)
	}
	orderID, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return 0, "", errors.Wrapf(exception.ErrOrderInvalidOrderNo, "order_no: %s", orderNo)
	}
	return orderID, parts[1], nil
}

func parseStatus(s string) (model.OrderStatus, error) {
	switch s {
	case "NEW":
		return model.OrderStatusSubmitted, nil
	case "PARTIALLY_FILLED":
		return model.OrderStatusPartialFilled, nil
	case "FILLED":
		return model.OrderStatusFilled, nil
	case "CANCELED":
		return model.OrderStatusCanceled, nil
	case "REJECTED", "EXPIRED":
		return model.OrderStatusFailed, nil
	default:
		return model.OrderStatusNone, exception.ErrOrderUnknownStatus
	}
}

func parseAction(side string) model.OrderAction {
	if side == "SELL" {
		return model.OrderActionSell
	}
	return model.OrderActionBuy
}

func parseOrderType(typ string) model.OrderType {
	if typ == "MARKET" {
		return model.OrderTypeMarket
	}
	return model.OrderTypeLimit
}
