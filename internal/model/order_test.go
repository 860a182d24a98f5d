package model

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestOrderStatusTerminal(t *testing.T) {
	terminal := map[OrderStatus]bool{
		OrderStatusNone:          false,
		OrderStatusSubmitted:     false,
		OrderStatusPartialFilled: false,
		OrderStatusFilled:        true,
		OrderStatusCanceled:      true,
		OrderStatusFailed:        true,
	}
	for status, want := range terminal {
		if got := status.Terminal(); got != want {
			t.Fatalf("%s terminal mismatch: got %v want %v", status, got, want)
		}
	}
}

func TestParseOrderStatusRoundTrip(t *testing.T) {
	for s := OrderStatusNone; s < _order_status_end; s++ {
		parsed, err := ParseOrderStatus(s.String())
		if err != nil {
			t.Fatalf("parse %q: %v", s.String(), err)
		}
		if parsed != s {
			t.Fatalf("round-trip mismatch: got %v want %v", parsed, s)
		}
	}
	if _, err := ParseOrderStatus("HALF-BAKED"); err == nil {
		t.Fatal("expected error for unknown status")
	}
}

func TestOrderUpdate(t *testing.T) {
	o := NewOrder("binance", "acct", "grid", "ETH/USDT", "1001_abc")
	if o.Status != OrderStatusNone {
		t.Fatalf("new order status: %v", o.Status)
	}
	o.Quantity = decimal.RequireFromString("1.0")

	o.Update(OrderStatusSubmitted, decimal.RequireFromString("1.0"), 100)
	o.Update(OrderStatusPartialFilled, decimal.RequireFromString("0.4"), 200)
	if o.Remain.String() != "0.4" || o.Status != OrderStatusPartialFilled {
		t.Fatalf("partial update mismatch: %s", o)
	}
	if o.Remain.IsNegative() || o.Remain.GreaterThan(o.Quantity) {
		t.Fatalf("remain out of range: %s", o.Remain)
	}
}

func TestOrderNewerTieBreak(t *testing.T) {
	o := NewOrder("okex", "acct", "grid", "BTC-USDT", "42")
	o.Utime = 500

	if o.Newer(499) {
		t.Fatal("older record must not win")
	}
	if !o.Newer(500) {
		t.Fatal("equal timestamps favor the incoming record")
	}
	if !o.Newer(501) {
		t.Fatal("newer record must win")
	}
}
