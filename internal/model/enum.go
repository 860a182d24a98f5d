package model

import "tradecore/pkg/exception"

// OrderAction buy, sell
type OrderAction uint8

const (
	_order_action_beg OrderAction = iota
	OrderActionBuy
	OrderActionSell
	_order_action_end
)

func (a OrderAction) IsAvailable() bool {
	return a > _order_action_beg && a < _order_action_end
}

func (a OrderAction) String() string {
	switch a {
	case OrderActionBuy:
		return "BUY"
	case OrderActionSell:
		return "SELL"
	default:
		return ""
	}
}

// OrderType limit, market
type OrderType uint8

const (
	_order_type_beg OrderType = iota
	OrderTypeLimit
	OrderTypeMarket
	_order_type_end
)

func (t OrderType) IsAvailable() bool {
	return t > _order_type_beg && t < _order_type_end
}

func (t OrderType) String() string {
	switch t {
	case OrderTypeLimit:
		return "LIMIT"
	case OrderTypeMarket:
		return "MARKET"
	default:
		return ""
	}
}

// OrderStatus none, submitted, partial filled, filled, canceled, failed
type OrderStatus uint8

const (
	OrderStatusNone OrderStatus = iota
	OrderStatusSubmitted
	OrderStatusPartialFilled
	OrderStatusFilled
	OrderStatusCanceled
	OrderStatusFailed
	_order_status_end
)

func (s OrderStatus) IsAvailable() bool {
	return s < _order_status_end
}

// Terminal reports whether the order can never change again. Terminal
// orders are evicted from the adapter's live table.
func (s OrderStatus) Terminal() bool {
	switch s {
	case OrderStatusFilled, OrderStatusCanceled, OrderStatusFailed:
		return true
	default:
		return false
	}
}

func (s OrderStatus) String() string {
	switch s {
	case OrderStatusNone:
		return "NONE"
	case OrderStatusSubmitted:
		return "SUBMITTED"
	case OrderStatusPartialFilled:
		return "PARTIAL-FILLED"
	case OrderStatusFilled:
		return "FILLED"
	case OrderStatusCanceled:
		return "CANCELED"
	case OrderStatusFailed:
		return "FAILED"
	default:
		return ""
	}
}

// ParseOrderStatus converts the bus wire vocabulary back to the enum.
func ParseOrderStatus(s string) (OrderStatus, error) {
	switch s {
	case "NONE":
		return OrderStatusNone, nil
	case "SUBMITTED":
		return OrderStatusSubmitted, nil
	case "PARTIAL-FILLED":
		return OrderStatusPartialFilled, nil
	case "FILLED":
		return OrderStatusFilled, nil
	case "CANCELED":
		return OrderStatusCanceled, nil
	case "FAILED":
		return OrderStatusFailed, nil
	default:
		return OrderStatusNone, exception.ErrOrderUnknownStatus
	}
}

// TradeType derivatives open/close direction. Buy/sell alone is
// ambiguous once a position can be shorted.
type TradeType uint8

const (
	TradeTypeNone TradeType = iota
	TradeTypeBuyOpen
	TradeTypeSellOpen
	TradeTypeSellClose
	TradeTypeBuyClose
	_trade_type_end
)

func (t TradeType) IsAvailable() bool {
	return t < _trade_type_end
}

func (t TradeType) String() string {
	switch t {
	case TradeTypeBuyOpen:
		return "BUY_OPEN"
	case TradeTypeSellOpen:
		return "SELL_OPEN"
	case TradeTypeSellClose:
		return "SELL_CLOSE"
	case TradeTypeBuyClose:
		return "BUY_CLOSE"
	default:
		return "NONE"
	}
}
