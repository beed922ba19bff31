package paper

import (
	"context"
	"errors"
	"testing"

	"ladderbot/pkg/exchange"
)

func TestMovePriceFillsCrossedOrders(t *testing.T) {
	venue := NewVenue()
	venue.SetPrice("BTC/USDT", 100)
	c := venue.Client()
	ctx := context.Background()

	buy, err := c.CreateOrder(ctx, "BTC/USDT", exchange.SideBuy, 1, 95)
	if err != nil {
		t.Fatalf("CreateOrder buy: %v", err)
	}
	sell, err := c.CreateOrder(ctx, "BTC/USDT", exchange.SideSell, 1, 105)
	if err != nil {
		t.Fatalf("CreateOrder sell: %v", err)
	}

	venue.MovePrice("BTC/USDT", 96)
	got, _ := c.FetchOrder(ctx, buy.ID, "BTC/USDT")
	if got.Status != exchange.StatusOpen {
		t.Errorf("buy at 95 filled at price 96, status = %v", got.Status)
	}

	venue.MovePrice("BTC/USDT", 94)
	got, _ = c.FetchOrder(ctx, buy.ID, "BTC/USDT")
	if got.Status != exchange.StatusClosed {
		t.Errorf("buy status = %v, want closed after cross", got.Status)
	}

	venue.MovePrice("BTC/USDT", 106)
	got, _ = c.FetchOrder(ctx, sell.ID, "BTC/USDT")
	if got.Status != exchange.StatusClosed {
		t.Errorf("sell status = %v, want closed after cross", got.Status)
	}
}

func TestCancelAndOpenOrders(t *testing.T) {
	venue := NewVenue()
	venue.SetPrice("BTC/USDT", 100)
	c := venue.Client()
	ctx := context.Background()

	a, _ := c.CreateOrder(ctx, "BTC/USDT", exchange.SideBuy, 1, 90)
	b, _ := c.CreateOrder(ctx, "BTC/USDT", exchange.SideBuy, 1, 91)

	if err := c.CancelOrder(ctx, a.ID, "BTC/USDT"); err != nil {
		t.Fatalf("CancelOrder: %v", err)
	}
	open, err := c.FetchOpenOrders(ctx, "BTC/USDT")
	if err != nil {
		t.Fatalf("FetchOpenOrders: %v", err)
	}
	if len(open) != 1 || open[0].ID != b.ID {
		t.Errorf("open = %+v, want only order %s", open, b.ID)
	}

	var rej *exchange.RejectionError
	if err := c.CancelOrder(ctx, "999", "BTC/USDT"); !errors.As(err, &rej) {
		t.Errorf("cancel missing order err = %v, want RejectionError", err)
	}
}

func TestCreateOrderRejectsBadInput(t *testing.T) {
	c := NewVenue().Client()
	ctx := context.Background()

	var rej *exchange.RejectionError
	if _, err := c.CreateOrder(ctx, "BTC/USDT", exchange.SideBuy, 0, 100); !errors.As(err, &rej) {
		t.Errorf("zero amount err = %v, want RejectionError", err)
	}
	if _, err := c.CreateOrder(ctx, "BTC/USDT", exchange.SideSell, 1, -5); !errors.As(err, &rej) {
		t.Errorf("negative price err = %v, want RejectionError", err)
	}
	if exchange.IsTransient(rej) {
		t.Error("rejection classified transient")
	}
}

func TestFetchTickersAndSyntheticCandles(t *testing.T) {
	venue := NewVenue()
	venue.SetPrice("BTC/USDT", 123.45)
	c := venue.Client()
	ctx := context.Background()

	tickers, err := c.FetchTickers(ctx, []string{"BTC/USDT", "ETH/USDT"})
	if err != nil {
		t.Fatalf("FetchTickers: %v", err)
	}
	if len(tickers) != 1 || tickers["BTC/USDT"].Last != 123.45 {
		t.Errorf("tickers = %+v", tickers)
	}

	candles, err := c.FetchOHLCV(ctx, "BTC/USDT", "1h", 10)
	if err != nil {
		t.Fatalf("FetchOHLCV: %v", err)
	}
	if len(candles) != 10 || candles[9].Close != 123.45 {
		t.Errorf("candles = %d long, last close %v", len(candles), candles[len(candles)-1].Close)
	}
}

func TestSimVenueSelfPrices(t *testing.T) {
	// The factory path used when accounts are rerouted to the paper venue.
	c, err := exchange.New(exchange.Credentials{Exchange: "paper"})
	if err != nil {
		t.Fatalf("exchange.New: %v", err)
	}
	ctx := context.Background()

	tickers, err := c.FetchTickers(ctx, []string{"BTC/USDT"})
	if err != nil {
		t.Fatalf("FetchTickers: %v", err)
	}
	first := tickers["BTC/USDT"].Last
	if first <= 0 {
		t.Fatalf("unseen symbol priced at %v, want > 0", first)
	}

	// The walk moves and every tick stays strictly positive.
	moved := false
	last := first
	for i := 0; i < 20; i++ {
		tickers, err = c.FetchTickers(ctx, []string{"BTC/USDT"})
		if err != nil {
			t.Fatalf("FetchTickers tick %d: %v", i, err)
		}
		p := tickers["BTC/USDT"].Last
		if p <= 0 {
			t.Fatalf("tick %d priced at %v", i, p)
		}
		if p != last {
			moved = true
		}
		last = p
	}
	if !moved {
		t.Error("price never moved across 20 ticks")
	}

	candles, err := c.FetchOHLCV(ctx, "BTC/USDT", "1h", 25)
	if err != nil {
		t.Fatalf("FetchOHLCV: %v", err)
	}
	if len(candles) != 25 {
		t.Fatalf("candles = %d, want 25", len(candles))
	}
	if got := candles[len(candles)-1].Close; got != last {
		t.Errorf("last close = %v, want last tick %v", got, last)
	}
}

func TestSimVenueFillsCrossedOrders(t *testing.T) {
	venue := NewSimVenue(100)
	c := venue.Client()
	ctx := context.Background()

	tickers, err := c.FetchTickers(ctx, []string{"BTC/USDT"})
	if err != nil {
		t.Fatalf("FetchTickers: %v", err)
	}
	// A buy above the market crosses on the next tick regardless of the
	// walk's direction (steps are at most 0.2%).
	price := tickers["BTC/USDT"].Last
	o, err := c.CreateOrder(ctx, "BTC/USDT", exchange.SideBuy, 1, price*1.01)
	if err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}
	if _, err := c.FetchTickers(ctx, []string{"BTC/USDT"}); err != nil {
		t.Fatalf("tick: %v", err)
	}
	got, err := c.FetchOrder(ctx, o.ID, "BTC/USDT")
	if err != nil {
		t.Fatalf("FetchOrder: %v", err)
	}
	if got.Status != exchange.StatusClosed {
		t.Errorf("status = %s, want closed after the walk crossed the limit", got.Status)
	}
}
