package deribit

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
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

const (
	defaultWssHost = "wss://www.deribit.com/ws/api/v2"

	// rpcTimeout bounds one request/response round trip.
	rpcTimeout = 10 * time.Second

	authInterval     = time.Hour
	positionInterval = time.Second
)

func init() {
	exchange.Register(exchange.PlatformDeribit, func(cfg exchange.Config) (exchange.Trader, error) {
		return NewTrade(cfg)
	})
}

// Trade speaks deribit JSON-RPC v2 over one websocket. Requests are
// correlated to responses by id; order updates arrive as subscription
// notifications on the raw user-orders channel.
type Trade struct {
	cfg   exchange.Config
	locks *locker.Registry

	session      *websocket.Session
	orderChannel string

	orders   map[string]*model.Order
	position *model.Position

	queryID atomic.Uint64
	pending map[uint64]chan rpcOutcome
	mu      sync.Mutex

	authed atomic.Bool
	cancel context.CancelFunc
}

// NewTrade builds the adapter and starts its session plus the re-auth
// and position polling loops.
func NewTrade(cfg exchange.Config) (*Trade, error) {
	return newTrade(cfg, nil)
}

func newTrade(cfg exchange.Config, dialer websocket.Dialer) (*Trade, error) {
	wss := cfg.WssHost
	if wss == "" {
		wss = defaultWssHost
	}
	t := &Trade{
		cfg:          cfg,
		locks:        cfg.LockRegistry(),
		orderChannel: "user.orders." + cfg.Symbol + ".raw",
		orders:       make(map[string]*model.Order),
		position:     model.NewPosition(cfg.Platform, cfg.Account, cfg.Strategy, cfg.Symbol),
		pending:      make(map[uint64]chan rpcOutcome),
	}

	session, err := websocket.New(websocket.Option{
		URL:     wss,
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
	go t.authLoop(ctx)
	go t.positionLoop(ctx)
	return t, nil
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcOutcome struct {
	result json.RawMessage
	err    *rpcError
}

// call issues one JSON-RPC request and waits for the correlated
// response.
func (t *Trade) call(ctx context.Context, method string, params any, out any) error {
	id := t.queryID.Add(1)
	ch := make(chan rpcOutcome, 1)
	t.mu.Lock()
	t.pending[id] = ch
	t.mu.Unlock()
	defer func() {
		t.mu.Lock()
		delete(t.pending, id)
		t.mu.Unlock()
	}()

	if err := t.session.SendJSON(map[string]any{
		"jsonrpc": "2.0",
		"id":      id,
		"method":  method,
		"params":  params,
	}); err != nil {
		return errors.Wrapf(err, "send rpc request, method: %s", method)
	}

	ctx, cancelWait := context.WithTimeout(ctx, rpcTimeout)
	defer cancelWait()
	select {
	case <-ctx.Done():
		return errors.Wrapf(ctx.Err(), "rpc request timed out, method: %s", method)
	case outcome := <-ch:
		if outcome.err != nil {
			return errors.Wrapf(exception.ErrRestResponseError, "method: %s, code: %d, message: %s",
				method, outcome.err.Code, outcome.err.Message)
		}
		if out == nil {
			return nil
		}
		if err := sonic.Unmarshal(outcome.result, out); err != nil {
			return errors.Wrapf(exception.ErrRestBodyNotJSON, "method: %s, body: %s", method, outcome.result)
		}
		return nil
	}
}

type authResult struct {
	AccessToken string `json:"access_token"`
}

func (t *Trade) auth(ctx context.Context) error {
	result := &authResult{}
	err := t.call(ctx, "public/auth", map[string]any{
		"grant_type":    "client_credentials",
		"client_id":     t.cfg.AccessKey,
		"client_secret": t.cfg.SecretKey,
	}, result)
	if err != nil {
		return err
	}
	if result.AccessToken == "" {
		return exception.ErrWebSocketAuthFailed
	}
	t.authed.Store(true)
	return nil
}

// OnConnected authenticates, reconciles orders and position, then
// subscribes the raw user-orders channel.
func (t *Trade) OnConnected(ctx context.Context, _ *websocket.Session) error {
	if err := t.auth(ctx); err != nil {
		return errors.Wrap(err, "authenticate")
	}

	var infos []orderInfo
	if err := t.call(ctx, "private/get_open_orders_by_instrument",
		map[string]any{"instrument_name": t.cfg.Symbol}, &infos); err != nil {
		return errors.Wrap(err, "reconcile open orders")
	}
	for i := range infos {
		t.applyOrder(infos[i])
	}

	if err := t.refreshPosition(ctx); err != nil {
		return errors.Wrap(err, "reconcile position")
	}

	return t.call(ctx, "private/subscribe", map[string]any{
		"channels": []string{t.orderChannel},
	}, nil)
}

// rpcMessage is the inbound frame shape: either a correlated response
// or a subscription notification.
type rpcMessage struct {
	ID     uint64          `json:"id"`
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
	Method string          `json:"method"`
	Params struct {
		Channel string          `json:"channel"`
		Data    json.RawMessage `json:"data"`
	} `json:"params"`
}

// Process dispatches one frame.
func (t *Trade) Process(_ context.Context, payload []byte) error {
	var msg rpcMessage
	if err := sonic.Unmarshal(payload, &msg); err != nil {
		return errors.Wrapf(exception.ErrWebSocketProtocol, "body: %s", payload)
	}

	if msg.ID > 0 {
		t.mu.Lock()
		ch, ok := t.pending[msg.ID]
		t.mu.Unlock()
		if ok {
			ch <- rpcOutcome{result: msg.Result, err: msg.Error}
		}
		return nil
	}

	if msg.Method == "subscription" && msg.Params.Channel == t.orderChannel {
		var info orderInfo
		if err := sonic.Unmarshal(msg.Params.Data, &info); err != nil {
			return errors.Wrapf(exception.ErrWebSocketProtocol, "body: %s", msg.Params.Data)
		}
		t.applyOrder(info)
	}
	return nil
}

func (t *Trade) authLoop(ctx context.Context) {
	ticker := time.NewTicker(authInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := t.auth(ctx); err != nil {
				logs.Errorf("deribit re-auth failed, err: %+v", err)
			}
		}
	}
}

func (t *Trade) positionLoop(ctx context.Context) {
	ticker := time.NewTicker(positionInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !t.authed.Load() {
				continue
			}
			if err := t.refreshPosition(ctx); err != nil {
				logs.Warnf("deribit position poll failed, err: %+v", err)
			}
		}
	}
}

type positionResult struct {
	Size                      decimal.Decimal `json:"size"`
	AveragePrice              decimal.Decimal `json:"average_price"`
	EstimatedLiquidationPrice decimal.Decimal `json:"estimated_liquidation_price"`
}

// refreshPosition polls the exposure; the callback fires only on
// change. A positive size is a long, negative a short.
func (t *Trade) refreshPosition(ctx context.Context) error {
	result := &positionResult{}
	err := t.call(ctx, "private/get_position", map[string]any{"instrument_name": t.cfg.Symbol}, result)
	if err != nil {
		return err
	}

	snapshot := model.PositionSnapshot{Utime: time.Now().UnixMilli()}
	switch {
	case result.Size.IsPositive():
		snapshot.LongQuantity = result.Size
		snapshot.LongAvgPrice = result.AveragePrice
		snapshot.LiquidPrice = result.EstimatedLiquidationPrice
	case result.Size.IsNegative():
		snapshot.ShortQuantity = result.Size.Abs()
		snapshot.ShortAvgPrice = result.AveragePrice
		snapshot.LiquidPrice = result.EstimatedLiquidationPrice
	}

	var updated *model.Position
	t.locks.Do("deribit.position", func() {
		previous := *t.position
		t.position.Update(snapshot)
		if previous.Utime != 0 && t.position.Equal(&previous) {
			return
		}
		copied := *t.position
		updated = &copied
	})
	if updated != nil && t.cfg.OnPosition != nil {
		go t.cfg.OnPosition(updated)
	}
	return nil
}

// orderInfo is one deribit order record. The label round-trips the
// trade type code the order was created with.
type orderInfo struct {
	OrderID             string          `json:"order_id"`
	Direction           string          `json:"direction"`
	Amount              decimal.Decimal `json:"amount"`
	FilledAmount        decimal.Decimal `json:"filled_amount"`
	Price               decimal.Decimal `json:"price"`
	AveragePrice        decimal.Decimal `json:"average_price"`
	OrderState          string          `json:"order_state"`
	OrderType           string          `json:"order_type"`
	Label               string          `json:"label"`
	CreationTimestamp   int64           `json:"creation_timestamp"`
	LastUpdateTimestamp int64           `json:"last_update_timestamp"`
}

// applyOrder merges one order record into the table. An open order
// with fills reads as partially filled; unknown states read as failed,
// covering the venue's rejected/untriggered family.
func (t *Trade) applyOrder(info orderInfo) {
	var status model.OrderStatus
	switch info.OrderState {
	case "open":
		status = model.OrderStatusSubmitted
		if info.FilledAmount.IsPositive() {
			status = model.OrderStatusPartialFilled
		}
	case "filled":
		status = model.OrderStatusFilled
	case "cancelled":
		status = model.OrderStatusCanceled
	default:
		status = model.OrderStatusFailed
	}

	var snapshot *model.Order
	t.locks.Do("deribit.orders", func() {
		order, ok := t.orders[info.OrderID]
		if !ok {
			order = model.NewOrder(t.cfg.Platform, t.cfg.Account, t.cfg.Strategy, t.cfg.Symbol, info.OrderID)
			if info.Direction == "sell" {
				order.Action = model.OrderActionSell
			} else {
				order.Action = model.OrderActionBuy
			}
			if info.OrderType == "market" {
				order.OrderType = model.OrderTypeMarket
			}
			order.TradeType = parseTradeType(info.Label)
			order.Price = info.Price
			order.Quantity = info.Amount
			if info.CreationTimestamp > 0 {
				order.Ctime = info.CreationTimestamp
			}
			t.orders[info.OrderID] = order
		}
		if !order.Newer(info.LastUpdateTimestamp) {
			return
		}
		order.AvgPrice = info.AveragePrice
		order.Update(status, info.Amount.Sub(info.FilledAmount), info.LastUpdateTimestamp)
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

// CreateOrder submits one contract order. The quantity sign decides
// open/close when no trade type is given: positive buys open long and
// sells close long, negative buys close short and sells open short.
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

	method := "private/buy"
	if action == model.OrderActionSell {
		method = "private/sell"
	}
	orderType := "limit"
	if req.OrderType == model.OrderTypeMarket {
		orderType = "market"
	}

	var result struct {
		Order orderInfo `json:"order"`
	}
	err := t.call(ctx, method, map[string]any{
		"instrument_name": t.cfg.Symbol,
		"price":           price,
		"amount":          quantity.Abs(),
		"type":            orderType,
		"label":           tradeTypeCode(tradeType),
	}, &result)
	if err != nil {
		return "", err
	}
	return result.Order.OrderID, nil
}

// RevokeOrder cancels the given orders, or everything on the
// instrument when called with none.
func (t *Trade) RevokeOrder(ctx context.Context, orderNos ...string) (success, failed []string, err error) {
	if len(orderNos) == 0 {
		err := t.call(ctx, "private/cancel_all_by_instrument",
			map[string]any{"instrument_name": t.cfg.Symbol}, nil)
		if err != nil {
			return nil, nil, err
		}
		return nil, nil, nil
	}
	for _, orderNo := range orderNos {
		cancelErr := t.call(ctx, "private/cancel", map[string]any{"order_id": orderNo}, nil)
		if cancelErr != nil {
			logs.Errorf("deribit cancel order failed, order_no: %s, err: %+v", orderNo, cancelErr)
			failed = append(failed, orderNo)
			continue
		}
		success = append(success, orderNo)
	}
	return success, failed, nil
}

// OpenOrderNos lists the venue-side open order ids.
func (t *Trade) OpenOrderNos(ctx context.Context) ([]string, error) {
	var infos []orderInfo
	err := t.call(ctx, "private/get_open_orders_by_instrument",
		map[string]any{"instrument_name": t.cfg.Symbol}, &infos)
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
	t.locks.Do("deribit.orders", func() {
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
	t.locks.Do("deribit.position", func() { copied = *t.position })
	return &copied
}

// Close stops the session and the loops.
func (t *Trade) Close() {
	if t.cancel != nil {
		t.cancel()
	}
	t.session.Close()
}

// Trade type codes match the futures venue: 1 open long, 2 open short,
// 3 close long, 4 close short.
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
