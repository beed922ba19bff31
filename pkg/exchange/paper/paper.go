// Package paper implements a simulated venue backed by in-memory state.
// Orders rest until MovePrice crosses their limit, then fill. Useful for dry
// runs and tests.
package paper

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"strconv"
	"sync"
	"time"

	"ladderbot/pkg/exchange"
)

// maxHistory bounds the recorded price walk per symbol.
const maxHistory = 512

// Venue is a shared simulated exchange. Multiple clients created from the
// same Venue see the same order book and prices.
type Venue struct {
	mu     sync.RWMutex
	nextID int64
	prices map[string]float64
	orders map[string]*exchange.Order

	// Self-pricing mode. basePrice seeds unseen symbols, rng drives the
	// walk and history backs the synthesized candle windows.
	simulate  bool
	basePrice float64
	rng       *rand.Rand
	history   map[string][]float64
}

// NewVenue builds an empty simulated venue. Prices only move when a test
// calls SetPrice or MovePrice.
func NewVenue() *Venue {
	return &Venue{
		prices: make(map[string]float64),
		orders: make(map[string]*exchange.Order),
	}
}

// NewSimVenue builds a venue that prices itself: unseen symbols are seeded at
// basePrice on first fetch and random-walk on every ticker refresh, crossing
// resting orders the same way MovePrice does. A dry run trades against it
// without any external market data.
func NewSimVenue(basePrice float64) *Venue {
	v := NewVenue()
	v.simulate = true
	v.basePrice = basePrice
	v.rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	v.history = make(map[string][]float64)
	return v
}

// SetPrice sets the last price for a symbol without filling anything.
func (v *Venue) SetPrice(symbol string, price float64) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.prices[symbol] = price
	v.recordLocked(symbol, price)
}

// MovePrice updates the last price and fills any resting order whose limit is
// crossed: buys at or above the new price, sells at or below it.
func (v *Venue) MovePrice(symbol string, price float64) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.prices[symbol] = price
	v.recordLocked(symbol, price)
	v.fillCrossedLocked(symbol, price)
}

// fillCrossedLocked fills resting orders crossed by price. Callers hold mu.
func (v *Venue) fillCrossedLocked(symbol string, price float64) {
	for _, o := range v.orders {
		if o.Symbol != symbol || o.Status != exchange.StatusOpen {
			continue
		}
		switch o.Side {
		case exchange.SideBuy:
			if price <= o.Price {
				o.Status = exchange.StatusClosed
			}
		case exchange.SideSell:
			if price >= o.Price {
				o.Status = exchange.StatusClosed
			}
		}
	}
}

func (v *Venue) recordLocked(symbol string, price float64) {
	if v.history == nil {
		return
	}
	h := append(v.history[symbol], price)
	if len(h) > maxHistory {
		h = h[len(h)-maxHistory:]
	}
	v.history[symbol] = h
}

// stepLocked advances the walk for one symbol: seed at basePrice, then move
// up to 0.2% per tick. Callers hold mu.
func (v *Venue) stepLocked(symbol string) float64 {
	p, ok := v.prices[symbol]
	if !ok {
		p = v.basePrice
	} else {
		p *= 1 + (v.rng.Float64()-0.5)*0.004
	}
	v.prices[symbol] = p
	v.recordLocked(symbol, p)
	v.fillCrossedLocked(symbol, p)
	return p
}

// FillOrder marks one resting order filled regardless of price.
func (v *Venue) FillOrder(id string) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	o, ok := v.orders[id]
	if !ok || o.Status != exchange.StatusOpen {
		return false
	}
	o.Status = exchange.StatusClosed
	return true
}

// Client returns an exchange.Client view of the venue.
func (v *Venue) Client() exchange.Client { return &client{venue: v} }

type client struct {
	venue *Venue
}

func (c *client) LoadMarkets(ctx context.Context) error { return nil }

func (c *client) CreateOrder(ctx context.Context, symbol string, side exchange.Side, amount, price float64) (exchange.Order, error) {
	if amount <= 0 || price <= 0 {
		return exchange.Order{}, &exchange.RejectionError{Op: "createOrder", Msg: "amount and price must be positive"}
	}
	v := c.venue
	v.mu.Lock()
	defer v.mu.Unlock()
	v.nextID++
	o := &exchange.Order{
		ID:        strconv.FormatInt(v.nextID, 10),
		Symbol:    symbol,
		Side:      side,
		Amount:    amount,
		Price:     price,
		Status:    exchange.StatusOpen,
		CreatedAt: time.Now(),
	}
	v.orders[o.ID] = o
	return *o, nil
}

func (c *client) CancelOrder(ctx context.Context, id, symbol string) error {
	v := c.venue
	v.mu.Lock()
	defer v.mu.Unlock()
	o, ok := v.orders[id]
	if !ok {
		return &exchange.RejectionError{Op: "cancelOrder", Msg: fmt.Sprintf("order %s not found", id)}
	}
	if o.Status == exchange.StatusOpen {
		o.Status = exchange.StatusCanceled
	}
	return nil
}

func (c *client) FetchOrder(ctx context.Context, id, symbol string) (exchange.Order, error) {
	v := c.venue
	v.mu.RLock()
	defer v.mu.RUnlock()
	o, ok := v.orders[id]
	if !ok {
		return exchange.Order{}, &exchange.RejectionError{Op: "fetchOrder", Msg: fmt.Sprintf("order %s not found", id)}
	}
	return *o, nil
}

func (c *client) FetchOpenOrders(ctx context.Context, symbol string) ([]exchange.Order, error) {
	v := c.venue
	v.mu.RLock()
	defer v.mu.RUnlock()
	var out []exchange.Order
	for _, o := range v.orders {
		if o.Symbol == symbol && o.Status == exchange.StatusOpen {
			out = append(out, *o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (c *client) FetchTickers(ctx context.Context, symbols []string) (map[string]exchange.Ticker, error) {
	v := c.venue
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make(map[string]exchange.Ticker, len(symbols))
	for _, s := range symbols {
		if v.simulate {
			out[s] = exchange.Ticker{Symbol: s, Last: v.stepLocked(s)}
			continue
		}
		if p, ok := v.prices[s]; ok {
			out[s] = exchange.Ticker{Symbol: s, Last: p}
		}
	}
	return out, nil
}

func (c *client) FetchOHLCV(ctx context.Context, symbol, timeframe string, limit int) ([]exchange.Candle, error) {
	v := c.venue
	if limit <= 0 {
		limit = 25
	}

	v.mu.Lock()
	if v.simulate && len(v.history[symbol]) == 0 {
		v.stepLocked(symbol)
	}
	closes := append([]float64(nil), v.history[symbol]...)
	last, ok := v.prices[symbol]
	v.mu.Unlock()
	if !ok {
		return nil, nil
	}

	// Replay the recorded walk; a plain venue without history gets a flat
	// window at the last price.
	if len(closes) == 0 {
		closes = []float64{last}
	}
	if len(closes) > limit {
		closes = closes[len(closes)-limit:]
	}
	for len(closes) < limit {
		closes = append([]float64{closes[0]}, closes...)
	}

	now := time.Now()
	candles := make([]exchange.Candle, limit)
	for i, cl := range closes {
		candles[i] = exchange.Candle{
			OpenTime: now.Add(-time.Duration(limit-i) * time.Hour),
			Open:     cl,
			High:     cl,
			Low:      cl,
			Close:    cl,
			Volume:   1,
		}
	}
	return candles, nil
}

func (c *client) Close() error { return nil }

func init() {
	// Factory-built venues price themselves so a dry run can trade with no
	// market data source. Each credential set gets an isolated venue.
	exchange.Register("paper", func(creds exchange.Credentials) (exchange.Client, error) {
		return NewSimVenue(100).Client(), nil
	})
}
