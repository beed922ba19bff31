package exchange

import "time"

// Side is the order side.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// OrderStatus reflects the lifecycle state reported by the venue.
type OrderStatus string

const (
	StatusOpen     OrderStatus = "open"
	StatusClosed   OrderStatus = "closed"
	StatusCanceled OrderStatus = "canceled"
	StatusUnknown  OrderStatus = "unknown"
)

// Order is a limit order as tracked by the engine.
type Order struct {
	ID        string
	Symbol    string
	Side      Side
	Amount    float64
	Price     float64
	Status    OrderStatus
	CreatedAt time.Time
}

// Ticker is the latest traded price snapshot for a symbol.
type Ticker struct {
	Symbol string
	Last   float64
}

// Candle is a single OHLCV row.
type Candle struct {
	OpenTime time.Time
	Open     float64
	High     float64
	Low      float64
	Close    float64
	Volume   float64
}

// Credentials identifies a venue account.
type Credentials struct {
	Exchange  string // registry key, e.g. "binance"
	APIKey    string
	APISecret string
	Password  string
	Testnet   bool
}
