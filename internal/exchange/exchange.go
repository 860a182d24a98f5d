package exchange

import (
	"context"
	"sort"

	"github.com/shopspring/decimal"
	"github.com/yanun0323/errors"

	"tradecore/internal/model"
	"tradecore/pkg/exception"
	"tradecore/pkg/locker"
)

// Platform names accepted by the registry.
const (
	PlatformBinance    = "binance"
	PlatformOkex       = "okex"
	PlatformOkexFuture = "okex_future"
	PlatformDeribit    = "deribit"
)

// OrderCallback receives a copy of an order after every state change.
type OrderCallback func(*model.Order)

// PositionCallback receives a copy of the exposure after it changed.
type PositionCallback func(*model.Position)

// Config carries everything an adapter needs to trade one symbol on one
// venue account.
type Config struct {
	Platform string
	Account  string
	Strategy string
	Symbol   string

	AccessKey  string
	SecretKey  string
	Passphrase string

	RestHost string
	WssHost  string

	// Locks serializes adapter table access. Shared across adapters so
	// lock names stay one flat namespace; nil gets a private registry.
	Locks *locker.Registry

	OnOrder    OrderCallback
	OnPosition PositionCallback
}

// LockRegistry returns the injected registry, or a private one.
func (c Config) LockRegistry() *locker.Registry {
	if c.Locks != nil {
		return c.Locks
	}
	return locker.NewRegistry()
}

func (c Config) validate() error {
	if c.Account == "" || c.Strategy == "" || c.Symbol == "" {
		return errors.Wrap(exception.ErrInvalidArgument, "account, strategy and symbol are required")
	}
	if c.AccessKey == "" || c.SecretKey == "" {
		return errors.Wrapf(exception.ErrMissingCredential, "platform: %s, account: %s", c.Platform, c.Account)
	}
	return nil
}

// Trader is the venue-neutral trading surface. One Trader instance
// manages one (account, strategy, symbol) tuple.
type Trader interface {
	// CreateOrder submits an order and returns the venue order no.
	CreateOrder(ctx context.Context, action model.OrderAction, price, quantity decimal.Decimal, opts ...OrderOption) (string, error)
	// RevokeOrder cancels the given orders, or every open order when
	// called with none. Partial failure splits the order nos into the
	// two returned lists.
	RevokeOrder(ctx context.Context, orderNos ...string) (success, failed []string, err error)
	// OpenOrderNos fetches the venue-side open order nos.
	OpenOrderNos(ctx context.Context) ([]string, error)
	// Orders returns a copy of the live order table keyed by order no.
	Orders() map[string]*model.Order
	// Position returns a copy of the current exposure.
	Position() *model.Position
	// Close stops the adapter's sessions and loops.
	Close()
}

// OrderOption adjusts order submission beyond the common fields.
type OrderOption func(*OrderRequest)

// OrderRequest is the resolved submission shape adapters consume.
type OrderRequest struct {
	OrderType model.OrderType
	TradeType model.TradeType
}

// WithOrderType overrides the default limit order type.
func WithOrderType(t model.OrderType) OrderOption {
	return func(r *OrderRequest) { r.OrderType = t }
}

// WithTradeType sets the derivatives open/close direction.
func WithTradeType(t model.TradeType) OrderOption {
	return func(r *OrderRequest) { r.TradeType = t }
}

// ResolveOrderRequest applies opts over the limit-order default.
func ResolveOrderRequest(opts ...OrderOption) OrderRequest {
	req := OrderRequest{OrderType: model.OrderTypeLimit}
	for _, opt := range opts {
		opt(&req)
	}
	return req
}

// Builder constructs an adapter from its config.
type Builder func(Config) (Trader, error)

var builders = map[string]Builder{}

// Register installs a venue builder. Adapters register themselves from
// their package init.
func Register(platform string, builder Builder) {
	builders[platform] = builder
}

// New builds the adapter for the configured platform. Unknown platforms
// and missing credentials fail construction; the caller treats that as
// fatal at bootstrap.
func New(cfg Config) (Trader, error) {
	builder, ok := builders[cfg.Platform]
	if !ok {
		return nil, errors.Wrapf(exception.ErrOrderUnsupportedPlatform, "platform: %s", cfg.Platform)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return builder(cfg)
}

// Platforms lists the registered platform names, sorted.
func Platforms() []string {
	names := make([]string, 0, len(builders))
	for name := range builders {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
