package model

import (
	"github.com/shopspring/decimal"
	"github.com/yanun0323/errors"

	"tradecore/pkg/exception"
)

// Ticker is one best bid/ask update from a venue.
type Ticker struct {
	Platform    string
	Symbol      string
	Ask         decimal.Decimal
	AskQuantity decimal.Decimal
	Bid         decimal.Decimal
	BidQuantity decimal.Decimal
	Utime       int64
}

// Kline is one closed candle.
type Kline struct {
	Platform string
	Symbol   string
	Open     decimal.Decimal
	High     decimal.Decimal
	Low      decimal.Decimal
	Close    decimal.Decimal
	Volume   decimal.Decimal
	Utime    int64
}

// Orderbook is one depth snapshot. Levels are [price, quantity] string
// pairs, best first.
type Orderbook struct {
	Platform string
	Symbol   string
	Asks     [][]string
	Bids     [][]string
	Utime    int64
}

// ParseTicker decodes the bus payload
// [platform, symbol, ask, ask_quantity, bid, bid_quantity, timestamp].
func ParseTicker(data any) (*Ticker, error) {
	fields, err := payloadFields(data, 7)
	if err != nil {
		return nil, err
	}
	t := &Ticker{}
	t.Platform, err = stringField(fields, 0, err)
	t.Symbol, err = stringField(fields, 1, err)
	t.Ask, err = decimalField(fields, 2, err)
	t.AskQuantity, err = decimalField(fields, 3, err)
	t.Bid, err = decimalField(fields, 4, err)
	t.BidQuantity, err = decimalField(fields, 5, err)
	t.Utime, err = timestampField(fields, 6, err)
	if err != nil {
		return nil, err
	}
	return t, nil
}

// ParseKline decodes the bus payload
// [platform, symbol, open, high, low, close, volume, timestamp].
func ParseKline(data any) (*Kline, error) {
	fields, err := payloadFields(data, 8)
	if err != nil {
		return nil, err
	}
	k := &Kline{}
	k.Platform, err = stringField(fields, 0, err)
	k.Symbol, err = stringField(fields, 1, err)
	k.Open, err = decimalField(fields, 2, err)
	k.High, err = decimalField(fields, 3, err)
	k.Low, err = decimalField(fields, 4, err)
	k.Close, err = decimalField(fields, 5, err)
	k.Volume, err = decimalField(fields, 6, err)
	k.Utime, err = timestampField(fields, 7, err)
	if err != nil {
		return nil, err
	}
	return k, nil
}

// ParseOrderbook decodes the bus payload
// [platform, symbol, asks, bids, timestamp].
func ParseOrderbook(data any) (*Orderbook, error) {
	fields, err := payloadFields(data, 5)
	if err != nil {
		return nil, err
	}
	b := &Orderbook{}
	b.Platform, err = stringField(fields, 0, err)
	b.Symbol, err = stringField(fields, 1, err)
	b.Asks, err = levelsField(fields, 2, err)
	b.Bids, err = levelsField(fields, 3, err)
	b.Utime, err = timestampField(fields, 4, err)
	if err != nil {
		return nil, err
	}
	return b, nil
}

func payloadFields(data any, want int) ([]any, error) {
	fields, ok := data.([]any)
	if !ok || len(fields) != want {
		return nil, errors.Wrapf(exception.ErrEventFormat, "want %d fields, data: %v", want, data)
	}
	return fields, nil
}

func stringField(fields []any, i int, err error) (string, error) {
	if err != nil {
		return "", err
	}
	s, ok := fields[i].(string)
	if !ok {
		return "", errors.Wrapf(exception.ErrEventFormat, "field %d not a string: %v", i, fields[i])
	}
	return s, nil
}

func decimalField(fields []any, i int, err error) (decimal.Decimal, error) {
	if err != nil {
		return decimal.Zero, err
	}
	s, ok := fields[i].(string)
	if !ok {
		return decimal.Zero, errors.Wrapf(exception.ErrEventFormat, "field %d not a string: %v", i, fields[i])
	}
	d, parseErr := decimal.NewFromString(s)
	if parseErr != nil {
		return decimal.Zero, errors.Wrapf(exception.ErrEventFormat, "field %d not a decimal: %s", i, s)
	}
	return d, nil
}

// timestampField accepts float64 because generic JSON decoding hands
// numbers back that way.
func timestampField(fields []any, i int, err error) (int64, error) {
	if err != nil {
		return 0, err
	}
	switch v := fields[i].(type) {
	case float64:
		return int64(v), nil
	case int64:
		return v, nil
	default:
		return 0, errors.Wrapf(exception.ErrEventFormat, "field %d not a timestamp: %v", i, fields[i])
	}
}

func levelsField(fields []any, i int, err error) ([][]string, error) {
	if err != nil {
		return nil, err
	}
	// already typed when the event never crossed the wire
	if levels, ok := fields[i].([][]string); ok {
		return levels, nil
	}
	raw, ok := fields[i].([]any)
	if !ok {
		return nil, errors.Wrapf(exception.ErrEventFormat, "field %d not depth levels: %v", i, fields[i])
	}
	levels := make([][]string, 0, len(raw))
	for _, rawLevel := range raw {
		pair, ok := rawLevel.([]any)
		if !ok || len(pair) != 2 {
			return nil, errors.Wrapf(exception.ErrEventFormat, "field %d level malformed: %v", i, rawLevel)
		}
		price, pok := pair[0].(string)
		quantity, qok := pair[1].(string)
		if !pok || !qok {
			return nil, errors.Wrapf(exception.ErrEventFormat, "field %d level malformed: %v", i, rawLevel)
		}
		levels = append(levels, []string{price, quantity})
	}
	return levels, nil
}
