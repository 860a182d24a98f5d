// Package market persists bus market data into the document store.
// Ticker, kline and orderbook events fan in from gateway processes;
// the recorder is the durable sink on this side.
package market

import (
	"context"

	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"tradecore/internal/event"
	"tradecore/internal/model"
	"tradecore/internal/storage"
)

const orderbookCollection = "orderbook"

// Subscriber is the bus side the recorder consumes from.
type Subscriber interface {
	Subscribe(ev *event.Event, callback event.Callback, multi bool) error
}

// inserter is the store slice the recorder writes through.
type inserter interface {
	Insert(ctx context.Context, docs ...bson.M) ([]string, error)
}

// Recorder subscribes one (platform, symbol) market data stream and
// writes every update to its per-symbol collections.
type Recorder struct {
	platform string
	symbol   string

	// stores is built once at construction and only read afterwards;
	// callbacks run on their own goroutines.
	stores map[string]inserter
}

// NewRecorder wires a recorder onto the store. The collection set is
// known up front, so the stores are built eagerly.
func NewRecorder(db *mongo.Database, platform, symbol string) *Recorder {
	stores := map[string]inserter{}
	for _, collection := range []string{
		storage.TickerCollection(symbol),
		storage.KlineCollection(symbol),
		orderbookCollection,
	} {
		stores[collection] = storage.NewStore(db, collection)
	}
	return &Recorder{
		platform: platform,
		symbol:   symbol,
		stores:   stores,
	}
}

// Subscribe binds the ticker, kline and orderbook topics for this
// recorder's routing key. Multi-consume: every recorder replica keeps
// its own full copy.
func (r *Recorder) Subscribe(sub Subscriber) error {
	routingKey := r.platform + "." + r.symbol
	topics := []struct {
		exchange string
		prefetch int
		handler  event.Callback
	}{
		{event.ExchangeTicker, 20, r.onTicker},
		{event.ExchangeKline, 20, r.onKline},
		{event.ExchangeOrderbook, 1, r.onOrderbook},
	}
	for _, topic := range topics {
		err := sub.Subscribe(&event.Event{
			Exchange:      topic.exchange,
			RoutingKey:    routingKey,
			PrefetchCount: topic.prefetch,
		}, topic.handler, true)
		if err != nil {
			return errors.Wrapf(err, "subscribe %s %s", topic.exchange, routingKey)
		}
	}
	return nil
}

func (r *Recorder) onTicker(ev *event.Event) {
	ticker, err := model.ParseTicker(ev.Data)
	if err != nil {
		logs.Warnf("drop malformed ticker, err: %+v", err)
		return
	}
	r.record(storage.TickerCollection(ticker.Symbol), bson.M{
		"platform":     ticker.Platform,
		"symbol":       ticker.Symbol,
		"ask":          ticker.Ask.String(),
		"ask_quantity": ticker.AskQuantity.String(),
		"bid":          ticker.Bid.String(),
		"bid_quantity": ticker.BidQuantity.String(),
		"timestamp":    ticker.Utime,
	})
}

func (r *Recorder) onKline(ev *event.Event) {
	kline, err := model.ParseKline(ev.Data)
	if err != nil {
		logs.Warnf("drop malformed kline, err: %+v", err)
		return
	}
	r.record(storage.KlineCollection(kline.Symbol), bson.M{
		"platform":  kline.Platform,
		"symbol":    kline.Symbol,
		"open":      kline.Open.String(),
		"high":      kline.High.String(),
		"low":       kline.Low.String(),
		"close":     kline.Close.String(),
		"volume":    kline.Volume.String(),
		"timestamp": kline.Utime,
	})
}

func (r *Recorder) onOrderbook(ev *event.Event) {
	book, err := model.ParseOrderbook(ev.Data)
	if err != nil {
		logs.Warnf("drop malformed orderbook, err: %+v", err)
		return
	}
	r.record(orderbookCollection, bson.M{
		"platform":  book.Platform,
		"symbol":    book.Symbol,
		"asks":      book.Asks,
		"bids":      book.Bids,
		"timestamp": book.Utime,
	})
}

func (r *Recorder) record(collection string, doc bson.M) {
	store, ok := r.stores[collection]
	if !ok {
		// a delivery whose symbol is outside this recorder's binding
		logs.Warnf("drop market data for unbound collection: %s", collection)
		return
	}
	if _, err := store.Insert(context.Background(), doc); err != nil {
		logs.Errorf("record market data failed, collection: %s, err: %+v", collection, err)
	}
}
