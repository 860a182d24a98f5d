package market

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"

	"tradecore/internal/event"
)

type fakeBus struct {
	subs []*event.Event
	cbs  map[string]event.Callback
}

func (b *fakeBus) Subscribe(ev *event.Event, callback event.Callback, multi bool) error {
	if b.cbs == nil {
		b.cbs = map[string]event.Callback{}
	}
	b.subs = append(b.subs, ev)
	b.cbs[ev.Exchange] = callback
	return nil
}

// roundTrip pushes an event through the wire format so the payload
// types match what a broker delivery carries.
func roundTrip(t *testing.T, src *event.Event) *event.Event {
	t.Helper()
	payload, err := src.Dumps()
	require.NoError(t, err)
	received := &event.Event{}
	require.NoError(t, received.Loads(payload))
	return received
}

// deliver invokes the bound handler with a wire-shaped copy.
func (b *fakeBus) deliver(t *testing.T, src *event.Event) {
	t.Helper()
	callback, ok := b.cbs[src.Exchange]
	require.True(t, ok)
	callback(roundTrip(t, src))
}

// fakeStore records inserts; guarded because callbacks run on their
// own goroutines.
type fakeStore struct {
	mu   sync.Mutex
	docs []bson.M
}

func (f *fakeStore) Insert(_ context.Context, docs ...bson.M) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.docs = append(f.docs, docs...)
	return nil, nil
}

func (f *fakeStore) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.docs)
}

func (f *fakeStore) last(t *testing.T) bson.M {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.docs)
	return f.docs[len(f.docs)-1]
}

func newTestRecorder() (*Recorder, map[string]*fakeStore) {
	fakes := map[string]*fakeStore{
		"ticker_eth_usdt": {},
		"kline_eth_usdt":  {},
		"orderbook":       {},
	}
	stores := map[string]inserter{}
	for collection, fake := range fakes {
		stores[collection] = fake
	}
	r := &Recorder{
		platform: "binance",
		symbol:   "ETH/USDT",
		stores:   stores,
	}
	return r, fakes
}

func TestSubscribeBindsMarketTopics(t *testing.T) {
	r, _ := newTestRecorder()
	bus := &fakeBus{}
	require.NoError(t, r.Subscribe(bus))

	require.Len(t, bus.subs, 3)
	exchanges := make([]string, 0, 3)
	for _, sub := range bus.subs {
		exchanges = append(exchanges, sub.Exchange)
		assert.Equal(t, "binance.ETH/USDT", sub.RoutingKey)
	}
	assert.ElementsMatch(t, []string{event.ExchangeTicker, event.ExchangeKline, event.ExchangeOrderbook}, exchanges)
}

func TestTickerPersistsToSymbolCollection(t *testing.T) {
	r, fakes := newTestRecorder()
	bus := &fakeBus{}
	require.NoError(t, r.Subscribe(bus))

	bus.deliver(t, event.NewTickerEvent("binance", "ETH/USDT", "3500.5", "2", "3500.1", "1.5", 1551778245123))

	doc := fakes["ticker_eth_usdt"].last(t)
	assert.Equal(t, "3500.5", doc["ask"])
	assert.Equal(t, "1.5", doc["bid_quantity"])
	assert.Equal(t, int64(1551778245123), doc["timestamp"])
}

func TestKlinePersistsToSymbolCollection(t *testing.T) {
	r, fakes := newTestRecorder()
	bus := &fakeBus{}
	require.NoError(t, r.Subscribe(bus))

	bus.deliver(t, event.NewKlineEvent("binance", "ETH/USDT", "4000", "4100", "3900", "4050", "12.5", 1551778245123))

	doc := fakes["kline_eth_usdt"].last(t)
	assert.Equal(t, "4050", doc["close"])
}

func TestOrderbookPersists(t *testing.T) {
	r, fakes := newTestRecorder()
	bus := &fakeBus{}
	require.NoError(t, r.Subscribe(bus))

	bus.deliver(t, event.NewOrderbookEvent("binance", "ETH/USDT",
		[][]string{{"4001", "10"}}, [][]string{{"4000", "7"}}, 1551778245123))

	doc := fakes["orderbook"].last(t)
	assert.Equal(t, [][]string{{"4001", "10"}}, doc["asks"])
}

func TestMalformedPayloadDropped(t *testing.T) {
	r, fakes := newTestRecorder()
	bus := &fakeBus{}
	require.NoError(t, r.Subscribe(bus))

	broken := &event.Event{Exchange: event.ExchangeTicker, Name: "EVENT_TICKER", Data: []any{"binance"}}
	bus.deliver(t, broken)
	assert.Zero(t, fakes["ticker_eth_usdt"].count())
}

func TestUnboundSymbolDropped(t *testing.T) {
	r, fakes := newTestRecorder()
	bus := &fakeBus{}
	require.NoError(t, r.Subscribe(bus))

	bus.deliver(t, event.NewTickerEvent("binance", "BTC/USDT", "4000", "1", "3999", "1", 1))
	assert.Zero(t, fakes["ticker_eth_usdt"].count())
}

// Deliveries dispatch on independent goroutines, so handlers must
// share the store table without mutation.
func TestConcurrentDeliveries(t *testing.T) {
	r, fakes := newTestRecorder()
	bus := &fakeBus{}
	require.NoError(t, r.Subscribe(bus))

	ticker := roundTrip(t, event.NewTickerEvent("binance", "ETH/USDT", "3500.5", "2", "3500.1", "1.5", 1))
	kline := roundTrip(t, event.NewKlineEvent("binance", "ETH/USDT", "4000", "4100", "3900", "4050", "12.5", 1))

	const n = 50
	var wg sync.WaitGroup
	wg.Add(2 * n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			r.onTicker(ticker)
		}()
		go func() {
			defer wg.Done()
			r.onKline(kline)
		}()
	}
	wg.Wait()

	assert.Equal(t, n, fakes["ticker_eth_usdt"].count())
	assert.Equal(t, n, fakes["kline_eth_usdt"].count())
}
