// Package ledger tracks per-pair order state: resting buys, pending sells
// and the trade history. All collections are bounded so a runaway loop can
// never grow memory without limit.
package ledger

import (
	"fmt"
	"sync"
	"time"

	"ladderbot/pkg/exchange"
)

const (
	// MaxOpenBuys bounds resting buy orders tracked per pair.
	MaxOpenBuys = 100
	// MaxPendingSells bounds unsold fills tracked per pair.
	MaxPendingSells = 100
	// MaxTrades bounds the in-memory trade history per pair.
	MaxTrades = 1000
)

// Trade kinds. A "place" row records an order submission, a "fill" row an
// observed execution, a "cancel" row a cancellation.
const (
	KindPlace  = "place"
	KindFill   = "fill"
	KindCancel = "cancel"
)

// OpenBuy is a resting buy order awaiting fill or expiry.
type OpenBuy struct {
	Order    exchange.Order
	PlacedAt time.Time
}

// PendingSell is a filled buy awaiting its take-profit sell.
type PendingSell struct {
	BuyOrderID    string
	BuyPrice      float64
	Amount        float64
	HighWaterMark float64 // highest price seen since the fill
	FilledAt      time.Time
}

// TradeRecord is one row of the pair's trade history.
type TradeRecord struct {
	Account string
	Symbol  string
	OrderID string
	RefID   string // for sells, the buy order being realized
	Side    exchange.Side
	Kind    string
	Price   float64
	Amount  float64
	At      time.Time
}

// PairBook holds the mutable state of one account/symbol pair.
type PairBook struct {
	Account string
	Symbol  string

	mu           sync.RWMutex
	active       bool
	reason       string
	lastPrice    float64
	priceAt      time.Time
	reactivateAt float64 // operator hint after a daily-loss trip, 0 when unset
	buys         *ring[OpenBuy]
	sells        *ring[PendingSell]
	trades       *ring[TradeRecord]
}

func newPairBook(account, symbol string) *PairBook {
	return &PairBook{
		Account: account,
		Symbol:  symbol,
		active:  true,
		buys:    newRing[OpenBuy](MaxOpenBuys),
		sells:   newRing[PendingSell](MaxPendingSells),
		trades:  newRing[TradeRecord](MaxTrades),
	}
}

// Key returns the registry key for an account/symbol pair.
func Key(account, symbol string) string { return account + ":" + symbol }

// SetLastPrice records the most recent ticker price.
func (b *PairBook) SetLastPrice(price float64, at time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lastPrice = price
	b.priceAt = at
}

// LastPrice returns the most recent price and its timestamp. Zero price means
// no ticker has arrived yet.
func (b *PairBook) LastPrice() (float64, time.Time) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.lastPrice, b.priceAt
}

// Active reports whether the pair may place new buys.
func (b *PairBook) Active() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.active
}

// StatusReason returns the cause of the last activation flip.
func (b *PairBook) StatusReason() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.reason
}

// SetActive flips the activity flag and returns true if the value changed.
func (b *PairBook) SetActive(active bool, reason string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.active == active {
		return false
	}
	b.active = active
	b.reason = reason
	return true
}

// SetReactivateAt records the price hint shown to operators after a
// daily-loss deactivation. Zero clears it.
func (b *PairBook) SetReactivateAt(price float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.reactivateAt = price
}

// ReactivateAt returns the operator reactivation hint, 0 when unset.
func (b *PairBook) ReactivateAt() float64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.reactivateAt
}

// SeedOpenBuy restores a resting buy discovered at connect time. No trade
// row is written: the placement predates this process. Seeding the same
// order twice is a no-op so reconnects do not duplicate the book.
func (b *PairBook) SeedOpenBuy(o exchange.Order) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.buys.any(func(ob OpenBuy) bool { return ob.Order.ID == o.ID }) {
		return
	}
	b.buys.push(OpenBuy{Order: o, PlacedAt: o.CreatedAt})
}

// SeedPendingSell restores a resting sell discovered at connect time. The
// originating buy is unknown, so the sell's own id and price stand in.
// Idempotent per order id, like SeedOpenBuy.
func (b *PairBook) SeedPendingSell(o exchange.Order) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.sells.any(func(ps PendingSell) bool { return ps.BuyOrderID == o.ID }) {
		return
	}
	b.sells.push(PendingSell{
		BuyOrderID:    o.ID,
		BuyPrice:      o.Price,
		Amount:        o.Amount,
		HighWaterMark: o.Price,
		FilledAt:      o.CreatedAt,
	})
}

// RecordBuyPlaced adds a resting buy and its trade row.
func (b *PairBook) RecordBuyPlaced(o exchange.Order) TradeRecord {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buys.push(OpenBuy{Order: o, PlacedAt: o.CreatedAt})
	return b.appendTradeLocked(TradeRecord{
		OrderID: o.ID,
		Side:    exchange.SideBuy,
		Kind:    KindPlace,
		Price:   o.Price,
		Amount:  o.Amount,
	})
}

// MarkBuyFilled moves a resting buy into pending-sells exactly once: the buy
// leaves open-orders and one pending sell enters carrying the fill price.
// Later calls for the same order return false.
func (b *PairBook) MarkBuyFilled(orderID string) (PendingSell, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	var filled OpenBuy
	ok := b.buys.removeFirst(func(ob OpenBuy) bool {
		if ob.Order.ID == orderID {
			filled = ob
			return true
		}
		return false
	})
	if !ok {
		return PendingSell{}, false
	}
	ps := PendingSell{
		BuyOrderID:    orderID,
		BuyPrice:      filled.Order.Price,
		Amount:        filled.Order.Amount,
		HighWaterMark: filled.Order.Price,
		FilledAt:      time.Now(),
	}
	b.sells.push(ps)
	b.appendTradeLocked(TradeRecord{
		OrderID: orderID,
		Side:    exchange.SideBuy,
		Kind:    KindFill,
		Price:   filled.Order.Price,
		Amount:  filled.Order.Amount,
	})
	return ps, true
}

// RemoveBuy drops a resting buy from the book, with an optional cancel row.
func (b *PairBook) RemoveBuy(orderID string, recordCancel bool) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	var removed OpenBuy
	ok := b.buys.removeFirst(func(ob OpenBuy) bool {
		if ob.Order.ID == orderID {
			removed = ob
			return true
		}
		return false
	})
	if ok && recordCancel {
		b.appendTradeLocked(TradeRecord{
			OrderID: orderID,
			Side:    exchange.SideBuy,
			Kind:    KindCancel,
			Price:   removed.Order.Price,
			Amount:  removed.Order.Amount,
		})
	}
	return ok
}

// RecordSellPlaced removes the pending sell realized by a placed sell order
// and appends the trade row linking the two. Returns false when no pending
// sell matches buyOrderID.
func (b *PairBook) RecordSellPlaced(sell exchange.Order, buyOrderID string) (TradeRecord, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	ok := b.sells.removeFirst(func(ps PendingSell) bool {
		return ps.BuyOrderID == buyOrderID
	})
	if !ok {
		return TradeRecord{}, false
	}
	rec := b.appendTradeLocked(TradeRecord{
		OrderID: sell.ID,
		RefID:   buyOrderID,
		Side:    exchange.SideSell,
		Kind:    KindPlace,
		Price:   sell.Price,
		Amount:  sell.Amount,
	})
	return rec, true
}

// UpdateHighWater raises each pending sell's high-water mark to price if it
// is higher.
func (b *PairBook) UpdateHighWater(price float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sells.each(func(ps *PendingSell) {
		if price > ps.HighWaterMark {
			ps.HighWaterMark = price
		}
	})
}

// AppendTrade adds a raw trade row to the history without touching the
// open-buy or pending-sell books.
func (b *PairBook) AppendTrade(rec TradeRecord) TradeRecord {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.appendTradeLocked(rec)
}

func (b *PairBook) appendTradeLocked(rec TradeRecord) TradeRecord {
	rec.Account = b.Account
	rec.Symbol = b.Symbol
	if rec.At.IsZero() {
		rec.At = time.Now()
	}
	b.trades.push(rec)
	return rec
}

// OpenBuys returns resting buys, oldest first.
func (b *PairBook) OpenBuys() []OpenBuy {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.buys.items()
}

// PendingSells returns pending sells, oldest first.
func (b *PairBook) PendingSells() []PendingSell {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.sells.items()
}

// PendingSellCount returns the number of pending sells.
func (b *PairBook) PendingSellCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.sells.len()
}

// OpenBuyCount returns the number of resting buys.
func (b *PairBook) OpenBuyCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.buys.len()
}

// Trades returns the trade history, oldest first.
func (b *PairBook) Trades() []TradeRecord {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.trades.items()
}

// Snapshot is a read-only copy of a pair's state for the API layer.
type Snapshot struct {
	Account      string        `json:"account"`
	Symbol       string        `json:"symbol"`
	Active       bool          `json:"active"`
	Reason       string        `json:"reason,omitempty"`
	LastPrice    float64       `json:"last_price"`
	PriceAt      time.Time     `json:"price_at"`
	ReactivateAt float64       `json:"reactivate_at,omitempty"`
	OpenBuys     []OpenBuy     `json:"open_buys"`
	PendingSells []PendingSell `json:"pending_sells"`
	TradeCount   int           `json:"trade_count"`
}

// Snapshot copies the pair state under one lock acquisition.
func (b *PairBook) Snapshot() Snapshot {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return Snapshot{
		Account:      b.Account,
		Symbol:       b.Symbol,
		Active:       b.active,
		Reason:       b.reason,
		LastPrice:    b.lastPrice,
		PriceAt:      b.priceAt,
		ReactivateAt: b.reactivateAt,
		OpenBuys:     b.buys.items(),
		PendingSells: b.sells.items(),
		TradeCount:   b.trades.len(),
	}
}

// Ledger is the registry of pair books.
type Ledger struct {
	mu    sync.RWMutex
	books map[string]*PairBook
}

// New creates an empty ledger.
func New() *Ledger {
	return &Ledger{books: make(map[string]*PairBook)}
}

// Book returns the pair book for account/symbol, creating it if needed.
func (l *Ledger) Book(account, symbol string) *PairBook {
	key := Key(account, symbol)
	l.mu.RLock()
	b, ok := l.books[key]
	l.mu.RUnlock()
	if ok {
		return b
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if b, ok = l.books[key]; ok {
		return b
	}
	b = newPairBook(account, symbol)
	l.books[key] = b
	return b
}

// Lookup returns an existing book without creating one.
func (l *Ledger) Lookup(account, symbol string) (*PairBook, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	b, ok := l.books[Key(account, symbol)]
	if !ok {
		return nil, fmt.Errorf("no pair book for %s", Key(account, symbol))
	}
	return b, nil
}

// Books returns every registered pair book.
func (l *Ledger) Books() []*PairBook {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]*PairBook, 0, len(l.books))
	for _, b := range l.books {
		out = append(out, b)
	}
	return out
}

// AccountBooks returns the books belonging to one account.
func (l *Ledger) AccountBooks(account string) []*PairBook {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var out []*PairBook
	for _, b := range l.books {
		if b.Account == account {
			out = append(out, b)
		}
	}
	return out
}
