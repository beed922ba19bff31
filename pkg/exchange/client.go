package exchange

import (
	"context"
	"fmt"
	"sync"
)

// Client abstracts a trading venue. All calls may fail with NetworkError or
// ExchangeError (transient) or RejectionError (permanent).
type Client interface {
	LoadMarkets(ctx context.Context) error
	CreateOrder(ctx context.Context, symbol string, side Side, amount, price float64) (Order, error)
	CancelOrder(ctx context.Context, id, symbol string) error
	FetchOrder(ctx context.Context, id, symbol string) (Order, error)
	FetchOpenOrders(ctx context.Context, symbol string) ([]Order, error)
	FetchTickers(ctx context.Context, symbols []string) (map[string]Ticker, error)
	FetchOHLCV(ctx context.Context, symbol, timeframe string, limit int) ([]Candle, error)
	Close() error
}

// Factory builds a Client from account credentials.
type Factory func(creds Credentials) (Client, error)

var (
	registryMu sync.RWMutex
	registry   = make(map[string]Factory)
)

// Register makes a venue constructor available under name. Later
// registrations replace earlier ones.
func Register(name string, factory Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[name] = factory
}

// New builds a client for the venue named in creds.Exchange.
func New(creds Credentials) (Client, error) {
	registryMu.RLock()
	factory, ok := registry[creds.Exchange]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown exchange %q", creds.Exchange)
	}
	return factory(creds)
}
