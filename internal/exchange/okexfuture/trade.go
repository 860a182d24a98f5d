package okexfuture

import (
	"context"
	"time"

	"github.com/bytedance/sonic"
	"github.com/shopspring/decimal"
	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"

	"tradecore/internal/exchange"
	"tradecore/internal/exchange/okex"
	"tradecore/internal/model"
	"tradecore/pkg/exception"
	"tradecore/pkg/locker"
	"tradecore/pkg/websocket"
)

const heartbeatInterval = 5 * time.Second

func init() {
	exchange.Register(exchange.PlatformOkexFuture, func(cfg exchange.Config) (exchange.Trader, error) {
		return NewTrade(cfg)
	})
}

// Trade streams the okex futures order and position channels. The
// symbol is the venue instrument id, e.g. BTC-USD-190329.
type Trade struct {
	cfg   exchange.Config
	rest  *RestClient
	locks *locker.Registry

	session  *websocket.Session
	orders   map[string]*model.Order
	position *model.Position
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
		cfg:      cfg,
		rest:     NewRestClient(cfg.RestHost, cfg.AccessKey, cfg.SecretKey, cfg.Passphrase, doer),
		locks:    cfg.LockRegistry(),
		orders:   make(map[string]*model.Order),
		position: model.NewPosition(cfg.Platform, cfg.Account, cfg.Strategy, cfg.Symbol),
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

// OnConnected sends the login op, then reconciles open orders and the
// position from REST before the channel subscription goes out.
func (t *Trade) OnConnected(ctx context.Context, session *websocket.Session) error {
	if err := session.SendJSON(map[string]any{
		"op":   "login",
		"args": t.rest.LoginArgs(),
	}); err != nil {
		return errors.Wrap(err, "send login op")
	}

	list, err := t.rest.OrderList(ctx, t.cfg.Symbol, statusIncomplete)
	if err != nil {
		return errors.Wrap(err, "reconcile open orders")
	}
	for i := range list.OrderInfo {
		t.applyOrder(list.OrderInfo[i])
	}

	position, err := t.rest.Position(ctx, t.cfg.Symbol)
	if err != nil {
		return errors.Wrap(err, "reconcile position")
	}
	if len(position.Holding) > 0 {
		t.applyPosition(position.Holding[0])
	}
	return nil
}

type wsMessage struct {
	Event   string `json:"event"`
	Success bool   `json:"success"`
	Message string `json:"message"`
	Table   string `json:"table"`
	Data    []struct {
		OrderInfo
		PositionInfo
	} `json:"data"`
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
			logs.Errorf("okex futures websocket login failed, message: %s", msg.Message)
			return exception.ErrWebSocketAuthFailed
		}
		logs.Info("okex futures websocket connection authorized")
		return t.session.SendJSON(map[string]any{
			"op": "subscribe",
			"args": []string{
				"futures/order:" + t.cfg.Symbol,
				"futures/position:" + t.cfg.Symbol,
			},
		})
	case msg.Table == "futures/order":
		for i := range msg.Data {
			t.applyOrder(msg.Data[i].OrderInfo)
		}
		return nil
	case msg.Table == "futures/position":
		for i := range msg.Data {
			t.applyPosition(msg.Data[i].PositionInfo)
		}
		return nil
	default:
		return nil
	}
}

// applyOrder merges one order record into the table. Futures records
// carry a single timestamp, used for both stamps.
func (t *Trade) applyOrder(info OrderInfo) {
	status, err := okex.ParseState(info.State)
	if err != nil {
		logs.Warnf("okex futures unknown order state, state: %s, order_id: %s", info.State, info.OrderID)
		return
	}
	size, _ := decimal.NewFromString(info.Size)
	filled, _ := decimal.NewFromString(info.FilledQty)
	price, _ := decimal.NewFromString(info.Price)
	avgPrice, _ := decimal.NewFromString(info.PriceAvg)
	utime := okex.ParseTime(info.Timestamp)

	var snapshot *model.Order
	t.locks.Do("okex_future.orders", func() {
		order, ok := t.orders[info.OrderID]
		if !ok {
			order = model.NewOrder(t.cfg.Platform, t.cfg.Account, t.cfg.Strategy, t.cfg.Symbol, info.OrderID)
			order.TradeType = parseTradeType(info.Type)
			order.Action = tradeAction(order.TradeType)
			order.Price = price
			order.Quantity = size
			if utime > 0 {
				order.Ctime = utime
			}
			t.orders[info.OrderID] = order
		}
		if !order.Newer(utime) {
			return
		}
		order.AvgPrice = avgPrice
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

// applyPosition refreshes the exposure and fires the callback only when
// something actually changed. The very first snapshot always fires so
// subscribers learn the starting exposure even when it is flat.
func (t *Trade) applyPosition(info PositionInfo) {
	longQty, _ := decimal.NewFromString(info.LongQty)
	longAvg, _ := decimal.NewFromString(info.LongAvgCost)
	shortQty, _ := decimal.NewFromString(info.ShortQty)
	shortAvg, _ := decimal.NewFromString(info.ShortAvgCost)
	liquid, _ := decimal.NewFromString(info.LiquidationPrice)

	var snapshot *model.Position
	t.locks.Do("okex_future.position", func() {
		previous := *t.position
		t.position.Update(model.PositionSnapshot{
			LongQuantity:  longQty,
			LongAvgPrice:  longAvg,
			ShortQuantity: shortQty,
			ShortAvgPrice: shortAvg,
			LiquidPrice:   liquid,
			Utime:         okex.ParseTime(info.UpdatedAt),
		})
		if previous.Utime != 0 && t.position.Equal(&previous) {
			return
		}
		copied := *t.position
		snapshot = &copied
	})
	if snapshot != nil && t.cfg.OnPosition != nil {
		go t.cfg.OnPosition(snapshot)
	}
}

// CreateOrder submits one contract order. Without an explicit trade
// type the quantity sign decides: positive buys open long and sells
// close long, negative buys close short and sells open short.
func (t *Trade) CreateOrder(ctx context.Context, action model.OrderAction, price, quantity decimal.Decimal, opts ...exchange.OrderOption) (string, error) {
	if !action.IsAvailable() {
		return "", errors.Wrapf(exception.ErrOrderUnsupportedAction, "action: %d", action)
	}
	req := exchange.ResolveOrderRequest(opts...)
	tradeType := req.TradeType
	if tradeType == model.TradeTypeNone {
		if quantity.IsNegative() {
			if action == model.OrderActionBuy {
				tradeType = model.TradeTypeBuyClose
			} else {
				tradeType = model.TradeTypeSellOpen
			}
		} else {
			if action == model.OrderActionBuy {
				tradeType = model.TradeTypeBuyOpen
			} else {
				tradeType = model.TradeTypeSellClose
			}
		}
	}
	result, err := t.rest.CreateOrder(ctx, t.cfg.Symbol, tradeTypeCode(tradeType), price.String(), quantity.Abs().String())
	if err != nil {
		return "", err
	}
	return result.OrderID, nil
}

// RevokeOrder cancels the given orders, or everything incomplete when
// called with none.
func (t *Trade) RevokeOrder(ctx context.Context, orderNos ...string) (success, failed []string, err error) {
	if len(orderNos) == 0 {
		nos, err := t.OpenOrderNos(ctx)
		if err != nil {
			return nil, nil, err
		}
		orderNos = nos
	}
	for _, orderNo := range orderNos {
		if cancelErr := t.rest.CancelOrder(ctx, t.cfg.Symbol, orderNo); cancelErr != nil {
			logs.Errorf("okex futures cancel order failed, order_no: %s, err: %+v", orderNo, cancelErr)
			failed = append(failed, orderNo)
			continue
		}
		success = append(success, orderNo)
	}
	return success, failed, nil
}

// OpenOrderNos lists the venue-side incomplete order ids.
func (t *Trade) OpenOrderNos(ctx context.Context) ([]string, error) {
	list, err := t.rest.OrderList(ctx, t.cfg.Symbol, statusIncomplete)
	if err != nil {
		return nil, err
	}
	nos := make([]string, 0, len(list.OrderInfo))
	for _, info := range list.OrderInfo {
		nos = append(nos, info.OrderID)
	}
	return nos, nil
}

// Orders snapshots the live table.
func (t *Trade) Orders() map[string]*model.Order {
	out := make(map[string]*model.Order)
	t.locks.Do("okex_future.orders", func() {
		for orderNo, order := range t.orders {
			copied := *order
			out[orderNo] = &copied
		}
	})
	return out
}

// Position snapshots the current exposure.
func (t *Trade) Position() *model.Position {
	var copied model.Position
	t.locks.Do("okex_future.position", func() { copied = *t.position })
	return &copied
}

// Close stops the session.
func (t *Trade) Close() {
	t.session.Close()
}

// Venue trade type codes: 1 open long, 2 open short, 3 close long,
// 4 close short.
func parseTradeType(code string) model.TradeType {
	switch code {
	case "1":
		return model.TradeTypeBuyOpen
	case "2":
		return model.TradeTypeSellOpen
	case "3":
		return model.TradeTypeSellClose
	case "4":
		return model.TradeTypeBuyClose
	default:
		return model.TradeTypeNone
	}
}

func tradeTypeCode(t model.TradeType) string {
	switch t {
	case model.TradeTypeBuyOpen:
		return "1"
	case model.TradeTypeSellOpen:
		return "2"
	case model.TradeTypeSellClose:
		return "3"
	case model.TradeTypeBuyClose:
		return "4"
	default:
		return "0"
	}
}

// tradeAction derives buy/sell from the open/close direction: opening
// long and closing short are buys.
func tradeAction(t model.TradeType) model.OrderAction {
	if t == model.TradeTypeBuyOpen || t == model.TradeTypeBuyClose {
		return model.OrderActionBuy
	}
	return model.OrderActionSell
}
