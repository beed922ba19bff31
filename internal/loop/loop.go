// Package loop runs the per account/symbol trading cycle: price fetch,
// prediction, buy ladder, order lifecycle, take-profit sells and risk checks.
package loop

import (
	"context"
	"fmt"
	"log"
	"time"

	"ladderbot/internal/conn"
	"ladderbot/internal/events"
	"ladderbot/internal/feed"
	"ladderbot/internal/ledger"
	"ladderbot/internal/monitor"
	"ladderbot/internal/predict"
	"ladderbot/internal/risk"
	"ladderbot/pkg/config"
	"ladderbot/pkg/exchange"
)

// Options tunes one trading loop beyond its symbol config.
type Options struct {
	Timeframe      string        // OHLCV timeframe for prediction
	CandleLimit    int           // OHLCV window length
	PlacementPause time.Duration // pause between ladder placements
	InactiveSleep  time.Duration // sleep while the pair is deactivated
	ErrorSleep     time.Duration // cooldown after a failed cycle

	// Metrics, when set, records cycle and order counters.
	Metrics *monitor.Metrics
}

// DefaultOptions mirrors production settings.
func DefaultOptions() Options {
	return Options{
		Timeframe:      "1h",
		CandleLimit:    25,
		PlacementPause: time.Second,
		InactiveSleep:  10 * time.Second,
		ErrorSleep:     5 * time.Second,
	}
}

// Loop drives one account/symbol pair.
type Loop struct {
	account   string
	symbol    config.SymbolConfig
	opts      Options
	book      *ledger.PairBook
	feed      *feed.Feed
	conns     *conn.Supervisor
	risk      *risk.Control
	predictor predict.Predictor
	bus       *events.Bus
}

// New builds a trading loop. bus may be nil in tests.
func New(account string, symbol config.SymbolConfig, opts Options, book *ledger.PairBook,
	f *feed.Feed, conns *conn.Supervisor, rc *risk.Control, p predict.Predictor, bus *events.Bus) *Loop {
	if opts.Timeframe == "" {
		opts.Timeframe = "1h"
	}
	if opts.CandleLimit <= 0 {
		opts.CandleLimit = 25
	}
	if opts.InactiveSleep <= 0 {
		opts.InactiveSleep = 10 * time.Second
	}
	if opts.ErrorSleep <= 0 {
		opts.ErrorSleep = 5 * time.Second
	}
	return &Loop{
		account:   account,
		symbol:    symbol,
		opts:      opts,
		book:      book,
		feed:      f,
		conns:     conns,
		risk:      rc,
		predictor: p,
		bus:       bus,
	}
}

// Run cycles until ctx is canceled. A failing cycle is logged and followed
// by a cooldown; the loop itself never exits on error.
func (l *Loop) Run(ctx context.Context) {
	log.Printf("[loop] %s:%s started", l.account, l.symbol.Symbol)
	defer log.Printf("[loop] %s:%s stopped", l.account, l.symbol.Symbol)
	for {
		if ctx.Err() != nil {
			return
		}
		if err := l.cycle(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Printf("[loop] %s:%s cycle failed: %v", l.account, l.symbol.Symbol, err)
			if l.opts.Metrics != nil {
				l.opts.Metrics.IncrementErrors()
			}
			l.sleep(ctx, l.opts.ErrorSleep)
			continue
		}
		if l.opts.Metrics != nil {
			l.opts.Metrics.IncrementCycles()
		}
		l.sleep(ctx, l.symbol.LoopInterval)
	}
}

// cycle is one pass of the state machine. Panics are contained here so a
// single bad cycle cannot take the process down.
func (l *Loop) cycle(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("unexpected state: %v", r)
		}
	}()

	l.risk.DeactivateIfNeeded(l.book)
	if !l.book.Active() {
		l.sleep(ctx, l.opts.InactiveSleep)
		l.risk.ReactivateIfNeeded(l.book)
		return nil
	}

	client, err := l.conns.Client(l.account)
	if err != nil {
		return err
	}

	tickers, err := l.feed.FetchTickers(ctx, client, l.account, []string{l.symbol.Symbol})
	if err != nil {
		return fmt.Errorf("fetch price: %w", err)
	}
	price := tickers[l.symbol.Symbol].Last
	if price <= 0 {
		return fmt.Errorf("no price for %s", l.symbol.Symbol)
	}
	l.book.UpdateHighWater(price)

	candles, err := l.feed.FetchOHLCV(ctx, client, l.symbol.Symbol, l.opts.Timeframe, l.opts.CandleLimit)
	if err != nil {
		return fmt.Errorf("fetch candles: %w", err)
	}
	if len(candles) == 0 {
		return fmt.Errorf("empty candle window for %s", l.symbol.Symbol)
	}

	predicted, err := l.predictor.Predict(ctx, l.symbol.Symbol, candles)
	if err != nil {
		return fmt.Errorf("predict: %w", err)
	}

	if predicted > price {
		l.placeLadder(ctx, client, price)
	}

	l.cancelExpiredBuys(ctx, client)
	l.placeSells(ctx, client, price)

	if l.risk.CheckDailyLoss(l.book, l.symbol.MaxDailyLoss, price) {
		l.sleep(ctx, l.risk.Cooldown())
	}
	return nil
}

// placeLadder fills the free buy slots with orders stepped below the market
// price. Placements are serialized with a pause so bursts never hit the
// venue.
func (l *Loop) placeLadder(ctx context.Context, client exchange.Client, price float64) {
	slots := l.symbol.MaxOrders - l.book.OpenBuyCount()
	for i := 0; i < slots; i++ {
		if ctx.Err() != nil {
			return
		}
		target := price * (1 - l.symbol.Spread*float64(i+1))
		order, ok := l.placeOrder(ctx, client, exchange.SideBuy, l.symbol.TradeAmount, target)
		if ok {
			rec := l.book.RecordBuyPlaced(order)
			l.publishOrder(events.EventOrderPlaced, order)
			l.publishTrade(rec)
		}
		if i < slots-1 {
			l.sleep(ctx, l.opts.PlacementPause)
		}
	}
}

// cancelExpiredBuys inspects each resting buy's live status: fills move to
// pending-sells, opens older than the timeout are canceled. Never both for
// one order.
func (l *Loop) cancelExpiredBuys(ctx context.Context, client exchange.Client) {
	for _, ob := range l.book.OpenBuys() {
		if ctx.Err() != nil {
			return
		}
		var live exchange.Order
		err := l.feed.Do(ctx, "fetchOrder", func(ctx context.Context) error {
			var err error
			live, err = client.FetchOrder(ctx, ob.Order.ID, l.symbol.Symbol)
			return err
		})
		if err != nil {
			log.Printf("[loop] %s:%s fetch order %s: %v", l.account, l.symbol.Symbol, ob.Order.ID, err)
			continue
		}

		switch live.Status {
		case exchange.StatusClosed:
			if _, ok := l.book.MarkBuyFilled(ob.Order.ID); ok {
				if l.opts.Metrics != nil {
					l.opts.Metrics.IncrementFilled()
				}
				l.publishOrder(events.EventOrderFilled, ob.Order)
				l.publishTrade(ledger.TradeRecord{
					Account: l.account, Symbol: l.symbol.Symbol,
					OrderID: ob.Order.ID, Side: exchange.SideBuy, Kind: ledger.KindFill,
					Price: ob.Order.Price, Amount: ob.Order.Amount, At: time.Now(),
				})
			}
		case exchange.StatusCanceled:
			l.book.RemoveBuy(ob.Order.ID, true)
			if l.opts.Metrics != nil {
				l.opts.Metrics.IncrementCanceled()
			}
			l.publishOrder(events.EventOrderCanceled, ob.Order)
		case exchange.StatusOpen:
			if time.Since(ob.PlacedAt) <= l.symbol.OrderTimeout {
				continue
			}
			err := l.feed.Do(ctx, "cancelOrder", func(ctx context.Context) error {
				return client.CancelOrder(ctx, ob.Order.ID, l.symbol.Symbol)
			})
			if err != nil {
				log.Printf("[loop] %s:%s cancel order %s: %v", l.account, l.symbol.Symbol, ob.Order.ID, err)
				continue
			}
			l.book.RemoveBuy(ob.Order.ID, true)
			if l.opts.Metrics != nil {
				l.opts.Metrics.IncrementCanceled()
			}
			l.publishOrder(events.EventOrderCanceled, ob.Order)
		}
	}
}

// placeSells walks the pending sells. Take profit places a limit sell at the
// target price. A configured trailing stop fires an immediate sell at the
// current price once the high-water mark armed it and price fell back to the
// floor.
func (l *Loop) placeSells(ctx context.Context, client exchange.Client, price float64) {
	for _, ps := range l.book.PendingSells() {
		if ctx.Err() != nil {
			return
		}
		target := ps.BuyPrice * (1 + l.symbol.TakeProfit)
		floor := ps.BuyPrice * (1 + l.symbol.TrailingStopDistance)

		var sellPrice float64
		switch {
		case l.symbol.TrailingStopDistance > 0 && ps.HighWaterMark > floor && price <= floor:
			sellPrice = price
		case price >= target:
			sellPrice = target
		default:
			continue
		}

		order, ok := l.placeOrder(ctx, client, exchange.SideSell, ps.Amount, sellPrice)
		if !ok {
			continue
		}
		if rec, ok := l.book.RecordSellPlaced(order, ps.BuyOrderID); ok {
			l.publishOrder(events.EventOrderPlaced, order)
			l.publishTrade(rec)
		}
	}
}

// placeOrder submits one order through the feed's retry policy. Exhausted
// retries and rejections mean "not placed this cycle", never a loop failure.
func (l *Loop) placeOrder(ctx context.Context, client exchange.Client, side exchange.Side, amount, price float64) (exchange.Order, bool) {
	var order exchange.Order
	start := time.Now()
	err := l.feed.Do(ctx, "createOrder", func(ctx context.Context) error {
		var err error
		order, err = client.CreateOrder(ctx, l.symbol.Symbol, side, amount, price)
		return err
	})
	if err != nil {
		log.Printf("[loop] %s:%s place %s %.8f @ %.8f failed: %v",
			l.account, l.symbol.Symbol, side, amount, price, err)
		return exchange.Order{}, false
	}
	if l.opts.Metrics != nil {
		l.opts.Metrics.OrderLatency.RecordDuration(time.Since(start))
		l.opts.Metrics.IncrementPlaced()
	}
	return order, true
}

func (l *Loop) publishOrder(e events.Event, o exchange.Order) {
	if l.bus == nil {
		return
	}
	l.bus.Publish(e, events.OrderEvent{
		Account: l.account,
		Symbol:  l.symbol.Symbol,
		OrderID: o.ID,
		Side:    string(o.Side),
		Price:   o.Price,
		Amount:  o.Amount,
		At:      time.Now(),
	})
}

func (l *Loop) publishTrade(rec ledger.TradeRecord) {
	if l.bus == nil {
		return
	}
	l.bus.Publish(events.EventTradeRecorded, events.TradeRecorded{
		Account: rec.Account,
		Symbol:  rec.Symbol,
		OrderID: rec.OrderID,
		RefID:   rec.RefID,
		Side:    string(rec.Side),
		Kind:    rec.Kind,
		Price:   rec.Price,
		Amount:  rec.Amount,
		At:      rec.At,
	})
}

func (l *Loop) sleep(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	select {
	case <-time.After(d):
	case <-ctx.Done():
	}
}
