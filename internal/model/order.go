package model

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Order is one outstanding or historical exchange order, normalized
// across venues. Quantities and prices stay decimal end to end;
// venues report them as strings and rounding drift is unacceptable.
type Order struct {
	Platform string
	Account  string
	Strategy string
	Symbol   string
	OrderNo  string

	Action    OrderAction
	OrderType OrderType
	TradeType TradeType

	Price    decimal.Decimal
	Quantity decimal.Decimal
	Remain   decimal.Decimal
	AvgPrice decimal.Decimal

	Status OrderStatus

	Ctime int64 // creation, ms since epoch
	Utime int64 // last venue-reported update, ms since epoch
}

// NewOrder builds an order in the pre-submission state.
func NewOrder(platform, account, strategy, symbol, orderNo string) *Order {
	return &Order{
		Platform: platform,
		Account:  account,
		Strategy: strategy,
		Symbol:   symbol,
		OrderNo:  orderNo,
		Status:   OrderStatusNone,
		Ctime:    time.Now().UnixMilli(),
	}
}

// Update applies a new status/remain pair reported by the venue.
func (o *Order) Update(status OrderStatus, remain decimal.Decimal, utime int64) {
	o.Status = status
	o.Remain = remain
	o.Utime = utime
}

// Newer reports whether a record timestamped utime supersedes the
// current state. Equal timestamps favor the incoming record; streaming
// pushes are assumed at least as fresh as a REST snapshot.
func (o *Order) Newer(utime int64) bool {
	return utime >= o.Utime
}

func (o *Order) String() string {
	return fmt.Sprintf(
		"[platform: %s, account: %s, strategy: %s, order_no: %s, action: %s, symbol: %s, price: %s, quantity: %s, remain: %s, status: %s, avg_price: %s, order_type: %s, trade_type: %s, ctime: %d, utime: %d]",
		o.Platform, o.Account, o.Strategy, o.OrderNo, o.Action, o.Symbol,
		o.Price, o.Quantity, o.Remain, o.Status, o.AvgPrice, o.OrderType,
		o.TradeType, o.Ctime, o.Utime,
	)
}
