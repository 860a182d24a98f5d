// Command traded runs the trading connectivity daemon: one adapter per
// configured venue account, republishing order and position updates
// onto the event bus.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/yanun0323/logs"

	"tradecore/internal/config"
	"tradecore/internal/event"
	"tradecore/internal/exchange"
	"tradecore/internal/market"
	"tradecore/internal/model"
	"tradecore/internal/storage"
	"tradecore/pkg/locker"

	_ "tradecore/internal/exchange/binance"
	_ "tradecore/internal/exchange/deribit"
	_ "tradecore/internal/exchange/okex"
	_ "tradecore/internal/exchange/okexfuture"
)

const (
	defaultHeartbeatInterval = 10 * time.Second

	// guardTTL bounds how long a dead process can block a restart.
	guardTTL = 30 * time.Second
)

func main() {
	configPath := flag.String("config", "config.json", "Path to JSON config")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("config load failed: %+v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Redis.Addr != "" {
		guard, err := acquireServerGuard(ctx, cfg)
		if err != nil {
			log.Fatalf("server guard failed: %+v", err)
		}
		defer func() {
			if err := guard.Release(context.Background()); err != nil {
				logs.Warnf("release server guard failed, err: %+v", err)
			}
		}()
		go refreshGuardLoop(ctx, guard)
	}

	locks := locker.NewRegistry()
	center, err := event.NewCenter(event.NewAMQPBroker(cfg.RabbitMQ.URI()), locks)
	if err != nil {
		log.Fatalf("event center failed: %+v", err)
	}

	if cfg.RunTimeUpdate {
		if err := subscribeConfigUpdates(center, cfg.ServerID); err != nil {
			log.Fatalf("config subscription failed: %+v", err)
		}
	}
	if cfg.MongoDB.Host != "" {
		if err := startRecorders(ctx, center, cfg); err != nil {
			log.Fatalf("market recorders failed: %+v", err)
		}
	}

	center.Start(ctx)

	traders, err := startTraders(ctx, center, locks, cfg)
	if err != nil {
		log.Fatalf("traders failed: %+v", err)
	}
	defer func() {
		for _, trader := range traders {
			trader.Close()
		}
	}()

	go heartbeatLoop(ctx, center, cfg)

	logs.Infof("traded up, server_id: %s, platforms: %d", cfg.ServerID, len(cfg.Platforms))
	<-ctx.Done()
	logs.Info("traded shutting down")
}

// startTraders builds one adapter per configured platform. Order and
// position callbacks republish onto the bus.
func startTraders(ctx context.Context, center *event.Center, locks *locker.Registry, cfg *config.Config) ([]exchange.Trader, error) {
	traders := make([]exchange.Trader, 0, len(cfg.Platforms))
	for _, p := range cfg.Platforms {
		trader, err := exchange.New(exchange.Config{
			Platform:   p.Platform,
			Locks:      locks,
			Account:    p.Account,
			Strategy:   p.Strategy,
			Symbol:     p.Symbol,
			AccessKey:  p.AccessKey,
			SecretKey:  p.SecretKey,
			Passphrase: p.Passphrase,
			RestHost:   p.RestHost,
			WssHost:    p.WssHost,
			OnOrder: func(o *model.Order) {
				if err := center.Publish(ctx, event.NewOrderEvent(o)); err != nil {
					logs.Errorf("publish order event failed, order: %s, err: %+v", o, err)
				}
			},
			OnPosition: func(pos *model.Position) {
				if err := center.Publish(ctx, event.NewPositionEvent(pos)); err != nil {
					logs.Errorf("publish position event failed, position: %s, err: %+v", pos, err)
				}
			},
		})
		if err != nil {
			for _, started := range traders {
				started.Close()
			}
			return nil, err
		}
		traders = append(traders, trader)
	}
	return traders, nil
}

// startRecorders persists bus market data for every configured
// (platform, symbol).
func startRecorders(ctx context.Context, center *event.Center, cfg *config.Config) error {
	db, err := storage.Connect(ctx, cfg.MongoDB)
	if err != nil {
		return err
	}
	for _, p := range cfg.Platforms {
		recorder := market.NewRecorder(db, p.Platform, p.Symbol)
		if err := recorder.Subscribe(center); err != nil {
			return err
		}
	}
	return nil
}

// subscribeConfigUpdates listens for runtime parameter pushes keyed by
// this server id.
func subscribeConfigUpdates(center *event.Center, serverID string) error {
	return center.Subscribe(&event.Event{
		Exchange:      event.ExchangeConfig,
		RoutingKey:    serverID,
		PrefetchCount: 1,
	}, func(ev *event.Event) {
		logs.Infof("config update received, server_id: %s, params: %v", serverID, ev.Data)
	}, false)
}

// acquireServerGuard takes a redis lock keyed by server id so two
// daemons with the same identity never trade concurrently.
func acquireServerGuard(ctx context.Context, cfg *config.Config) (*locker.RedisLock, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	token := fmt.Sprintf("%s-%d", cfg.ServerID, os.Getpid())
	guard, err := locker.NewRedisLock(client, "traded:"+cfg.ServerID, token, guardTTL)
	if err != nil {
		return nil, err
	}
	if err := guard.Acquire(ctx); err != nil {
		return nil, err
	}
	return guard, nil
}

func refreshGuardLoop(ctx context.Context, guard *locker.RedisLock) {
	ticker := time.NewTicker(guardTTL / 3)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := guard.Refresh(ctx); err != nil {
				logs.Errorf("refresh server guard failed, err: %+v", err)
			}
		}
	}
}

func heartbeatLoop(ctx context.Context, center *event.Center, cfg *config.Config) {
	interval := defaultHeartbeatInterval
	if cfg.Heartbeat.IntervalSeconds > 0 {
		interval = time.Duration(cfg.Heartbeat.IntervalSeconds) * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	var count int64
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			count++
			if err := center.Publish(ctx, event.NewHeartbeatEvent(cfg.ServerID, count)); err != nil {
				logs.Warnf("publish heartbeat failed, err: %+v", err)
			}
		}
	}
}
