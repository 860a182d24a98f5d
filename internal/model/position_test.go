package model

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestPositionUpdate(t *testing.T) {
	p := NewPosition("okex_future", "acct", "hedge", "BTC-USD-200626")
	assert.True(t, p.Flat())

	snap := PositionSnapshot{
		LongQuantity:  decimal.RequireFromString("12"),
		LongAvgPrice:  decimal.RequireFromString("9431.5"),
		ShortQuantity: decimal.Zero,
		ShortAvgPrice: decimal.Zero,
		LiquidPrice:   decimal.RequireFromString("8120.2"),
		Utime:         1590000000000,
	}
	p.Update(snap)

	assert.False(t, p.Flat())
	assert.Equal(t, "12", p.LongQuantity.String())
	assert.Equal(t, int64(1590000000000), p.Utime)
}

func TestPositionEqualIgnoresUtime(t *testing.T) {
	a := NewPosition("okex_future", "acct", "hedge", "BTC-USD-200626")
	b := NewPosition("okex_future", "acct", "hedge", "BTC-USD-200626")
	a.Utime = 1
	b.Utime = 2
	assert.True(t, a.Equal(b))

	b.ShortQuantity = decimal.RequireFromString("3")
	assert.False(t, a.Equal(b))
	assert.False(t, a.Equal(nil))
}
