package event

import (
	"context"
	"sync"
	"time"

	"github.com/yanun0323/logs"

	"tradecore/pkg/exception"
	"tradecore/pkg/locker"
)

// Callback handles one delivered event. Each callback runs on its own
// goroutine so a slow handler never blocks acknowledgment for the rest.
type Callback func(*Event)

// HandlerKey identifies the callback list for one binding.
type HandlerKey struct {
	Exchange   string
	RoutingKey string
}

type subscriber struct {
	event    *Event
	callback Callback
	multi    bool
}

var defaultExchanges = []string{
	ExchangeOrder, ExchangePosition, ExchangeAsset,
	ExchangeKline, ExchangeKline5Min, ExchangeKline15Min,
	ExchangeTicker, ExchangeOrderbook, ExchangeConfig, ExchangeHeartbeat,
}

// Center decouples publishers and subscribers of domain events across
// processes. On reconnect it rebuilds every queue/binding from the
// subscriber list, so subscription handlers must be idempotent.
type Center struct {
	broker Broker
	locks  *locker.Registry

	mu          sync.Mutex
	channel     Channel
	connected   bool
	subscribers []subscriber
	handlers    map[HandlerKey][]Callback

	// firstBindDelay holds back the first bind-and-consume pass so
	// every module registers before the first message could be lost.
	firstBindDelay time.Duration
	healthInterval time.Duration
}

// NewCenter builds a disconnected center. Call Start to connect and
// run the health-check loop.
func NewCenter(broker Broker, locks *locker.Registry) (*Center, error) {
	if broker == nil || locks == nil {
		return nil, exception.ErrNilInstance
	}
	return &Center{
		broker:         broker,
		locks:          locks,
		handlers:       make(map[HandlerKey][]Callback),
		firstBindDelay: 5 * time.Second,
		healthInterval: 10 * time.Second,
	}, nil
}

// Subscribe records the subscription locally. Binding is deferred until
// the transport connection is confirmed ready. multi subscriptions use
// wildcard routing keys and consume without acknowledgment.
func (c *Center) Subscribe(ev *Event, callback Callback, multi bool) error {
	if ev == nil || callback == nil {
		return exception.ErrEventNilCallback
	}
	if ev.Exchange == "" {
		return exception.ErrEventEmptyExchange
	}
	c.locks.Do("event.center.subscribe", func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		c.subscribers = append(c.subscribers, subscriber{event: ev, callback: callback, multi: multi})
	})
	logs.Infof("event subscribed, exchange: %s, routing_key: %s, multi: %t", ev.Exchange, ev.RoutingKey, multi)
	return nil
}

// Publish serializes the event and sends it on its exchange/routing
// key. A publish while disconnected is dropped and logged; there is no
// local queueing, by contract.
func (c *Center) Publish(ctx context.Context, ev *Event) error {
	c.mu.Lock()
	channel, connected := c.channel, c.connected
	c.mu.Unlock()
	if !connected || channel == nil {
		logs.Warnf("event broker not ready, dropping publish, exchange: %s, routing_key: %s", ev.Exchange, ev.RoutingKey)
		return exception.ErrEventNotConnected
	}
	body, err := ev.Dumps()
	if err != nil {
		return err
	}
	return channel.Publish(ctx, ev.Exchange, ev.RoutingKey, body)
}

// Start connects and runs the periodic health check until the context
// is canceled. A channel found closed forces a fresh connection with
// every binding rebuilt.
func (c *Center) Start(ctx context.Context) {
	if err := c.connect(ctx, false); err != nil {
		logs.Errorf("event broker initial connect failed, err: %+v", err)
	}
	go c.healthLoop(ctx)
}

func (c *Center) healthLoop(ctx context.Context) {
	ticker := time.NewTicker(c.healthInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			c.mu.Lock()
			if c.channel != nil {
				_ = c.channel.Close()
			}
			c.mu.Unlock()
			return
		case <-ticker.C:
			c.checkConnection(ctx)
		}
	}
}

func (c *Center) checkConnection(ctx context.Context) {
	c.mu.Lock()
	healthy := c.connected && c.channel != nil && c.channel.IsOpen()
	c.mu.Unlock()
	if healthy {
		return
	}
	logs.Error("event broker connection lost, reconnecting now")
	c.mu.Lock()
	c.connected = false
	c.channel = nil
	// Reconnect is behaviorally a fresh start: the callback index is
	// rebuilt from the subscriber list during bind.
	c.handlers = make(map[HandlerKey][]Callback)
	c.mu.Unlock()
	if err := c.connect(ctx, true); err != nil {
		logs.Errorf("event broker reconnect failed, err: %+v", err)
	}
}

func (c *Center) connect(ctx context.Context, reconnect bool) error {
	c.mu.Lock()
	if c.connected {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	channel, err := c.broker.Connect(ctx)
	if err != nil {
		return err
	}
	for _, name := range defaultExchanges {
		if err := channel.ExchangeDeclare(name); err != nil {
			_ = channel.Close()
			return err
		}
	}

	c.mu.Lock()
	if c.connected {
		// A concurrent attempt won; keep the established channel.
		c.mu.Unlock()
		_ = channel.Close()
		return nil
	}
	c.channel = channel
	c.connected = true
	c.mu.Unlock()
	logs.Info("event broker connected, default exchanges declared")

	if reconnect {
		c.bindAndConsume(ctx)
	} else {
		time.AfterFunc(c.firstBindDelay, func() { c.bindAndConsume(ctx) })
	}
	return nil
}

func (c *Center) bindAndConsume(ctx context.Context) {
	c.mu.Lock()
	channel := c.channel
	subs := append([]subscriber(nil), c.subscribers...)
	c.mu.Unlock()
	if channel == nil {
		return
	}
	for _, sub := range subs {
		if err := c.bindOne(channel, sub); err != nil {
			logs.Errorf("event bind failed, exchange: %s, routing_key: %s, err: %+v", sub.event.Exchange, sub.event.RoutingKey, err)
		}
	}
	_ = ctx
}

func (c *Center) bindOne(channel Channel, sub subscriber) error {
	queue, err := channel.QueueDeclare(sub.event.Queue)
	if err != nil {
		return err
	}
	if err := channel.QueueBind(queue, sub.event.Exchange, sub.event.RoutingKey); err != nil {
		return err
	}
	if err := channel.Qos(sub.event.PrefetchCount); err != nil {
		return err
	}

	if sub.multi {
		// Wildcard match: consume without ack, trading delivery
		// guarantees for throughput.
		callback := sub.callback
		return channel.Consume(queue, true, func(d Delivery) {
			ev := &Event{Exchange: d.Exchange, RoutingKey: d.RoutingKey}
			if err := ev.Loads(d.Body); err != nil {
				logs.Errorf("event format error, body: %s", d.Body)
				return
			}
			go callback(ev)
		})
	}

	c.addHandler(HandlerKey{Exchange: sub.event.Exchange, RoutingKey: sub.event.RoutingKey}, sub.callback)
	return channel.Consume(queue, false, func(d Delivery) {
		c.onDelivery(channel, d)
	})
}

func (c *Center) addHandler(key HandlerKey, callback Callback) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[key] = append(c.handlers[key], callback)
}

func (c *Center) onDelivery(channel Channel, d Delivery) {
	ev := &Event{Exchange: d.Exchange, RoutingKey: d.RoutingKey}
	if err := ev.Loads(d.Body); err != nil {
		logs.Errorf("event format error, body: %s", d.Body)
		return
	}

	c.mu.Lock()
	callbacks := append([]Callback(nil), c.handlers[HandlerKey{Exchange: d.Exchange, RoutingKey: d.RoutingKey}]...)
	c.mu.Unlock()
	if len(callbacks) == 0 {
		logs.Errorf("event handler not found, exchange: %s, routing_key: %s", d.Exchange, d.RoutingKey)
		return
	}

	for _, callback := range callbacks {
		go callback(ev)
	}
	// Ack once the handlers are scheduled; at-least-once delivery with
	// idempotent reconciliation downstream.
	if err := channel.Ack(d.Tag); err != nil {
		logs.Errorf("event ack failed, tag: %d, err: %+v", d.Tag, err)
	}
}
