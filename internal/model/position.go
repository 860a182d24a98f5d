package model

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Position is the current derivatives exposure for one
// (platform, account, strategy, symbol). Created empty at adapter
// construction and refreshed from venue snapshots; never destroyed
// while the adapter lives.
type Position struct {
	Platform string
	Account  string
	Strategy string
	Symbol   string

	LongQuantity  decimal.Decimal
	LongAvgPrice  decimal.Decimal
	ShortQuantity decimal.Decimal
	ShortAvgPrice decimal.Decimal
	LiquidPrice   decimal.Decimal

	Utime int64
}

// NewPosition builds a flat position.
func NewPosition(platform, account, strategy, symbol string) *Position {
	return &Position{
		Platform: platform,
		Account:  account,
		Strategy: strategy,
		Symbol:   symbol,
	}
}

// PositionSnapshot is one venue-reported holding record.
type PositionSnapshot struct {
	LongQuantity  decimal.Decimal
	LongAvgPrice  decimal.Decimal
	ShortQuantity decimal.Decimal
	ShortAvgPrice decimal.Decimal
	LiquidPrice   decimal.Decimal
	Utime         int64
}

// Update replaces the exposure with a venue snapshot.
func (p *Position) Update(s PositionSnapshot) {
	p.LongQuantity = s.LongQuantity
	p.LongAvgPrice = s.LongAvgPrice
	p.ShortQuantity = s.ShortQuantity
	p.ShortAvgPrice = s.ShortAvgPrice
	p.LiquidPrice = s.LiquidPrice
	p.Utime = s.Utime
}

// Flat reports whether both sides hold nothing.
func (p *Position) Flat() bool {
	return p.LongQuantity.IsZero() && p.ShortQuantity.IsZero()
}

// Equal compares the exposure fields, ignoring Utime. Used to decide
// whether a refreshed snapshot is worth a callback.
func (p *Position) Equal(other *Position) bool {
	if other == nil {
		return false
	}
	return p.LongQuantity.Equal(other.LongQuantity) &&
		p.LongAvgPrice.Equal(other.LongAvgPrice) &&
		p.ShortQuantity.Equal(other.ShortQuantity) &&
		p.ShortAvgPrice.Equal(other.ShortAvgPrice) &&
		p.LiquidPrice.Equal(other.LiquidPrice)
}

func (p *Position) String() string {
	return fmt.Sprintf(
		"[platform: %s, account: %s, strategy: %s, symbol: %s, long_quantity: %s, long_avg_price: %s, short_quantity: %s, short_avg_price: %s, liquid_price: %s]",
		p.Platform, p.Account, p.Strategy, p.Symbol,
		p.LongQuantity, p.LongAvgPrice, p.ShortQuantity, p.ShortAvgPrice, p.LiquidPrice,
	)
}
