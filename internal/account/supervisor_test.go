package account

import (
	"context"
	"fmt"
	"testing"
	"time"

	"ladderbot/internal/conn"
	"ladderbot/internal/feed"
	"ladderbot/internal/ledger"
	"ladderbot/internal/loop"
	"ladderbot/internal/predict"
	"ladderbot/internal/risk"
	"ladderbot/pkg/config"
	"ladderbot/pkg/exchange"
	"ladderbot/pkg/exchange/paper"
)

var venueSeq int

func testSymbol() config.SymbolConfig {
	return config.SymbolConfig{
		Symbol:       "BTC/USDT",
		Spread:       0.002,
		TakeProfit:   0.02,
		TradeAmount:  0.5,
		MaxOrders:    3,
		MaxDailyLoss: 0.5,
		OrderTimeout: time.Hour,
		LoopInterval: time.Millisecond,
	}
}

func newSupervisor(t *testing.T, accounts ...string) (*Supervisor, *paper.Venue, *ledger.Ledger) {
	t.Helper()
	venueSeq++
	name := fmt.Sprintf("account-test-%d", venueSeq)
	venue := paper.NewVenue()
	venue.SetPrice("BTC/USDT", 100)
	exchange.Register(name, func(creds exchange.Credentials) (exchange.Client, error) {
		return venue.Client(), nil
	})

	led := ledger.New()
	rc, err := risk.NewControl(risk.DefaultConfig(), nil)
	if err != nil {
		t.Fatalf("NewControl: %v", err)
	}
	f := feed.New(feed.Config{Permits: 4, MaxRetries: 2, BackoffBase: time.Millisecond}, led, nil)
	conns := conn.NewSupervisor(led, rc, nil)
	for _, id := range accounts {
		conns.Register(config.AccountConfig{ID: id, Exchange: name}, []string{"BTC/USDT"})
	}

	opts := loop.DefaultOptions()
	opts.PlacementPause = 0
	opts.InactiveSleep = time.Millisecond
	opts.ErrorSleep = time.Millisecond

	sup := NewSupervisor(context.Background(), conns, led, f, rc, predict.NewLocal(), nil,
		opts, []config.SymbolConfig{testSymbol()})
	return sup, venue, led
}

func TestStartStopIdempotent(t *testing.T) {
	sup, _, _ := newSupervisor(t, "acct-1")
	ctx := context.Background()

	if err := sup.Start(ctx, "acct-1"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if !sup.Running("acct-1") {
		t.Fatal("account not running after Start")
	}
	if err := sup.Start(ctx, "acct-1"); err != nil {
		t.Errorf("second Start: %v", err)
	}

	if err := sup.Stop(ctx, "acct-1"); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if sup.Running("acct-1") {
		t.Fatal("account still running after Stop")
	}
	if err := sup.Stop(ctx, "acct-1"); err != nil {
		t.Errorf("second Stop: %v", err)
	}
}

func TestStopCancelsRestingBuys(t *testing.T) {
	sup, venue, led := newSupervisor(t, "acct-1")
	ctx := context.Background()

	if err := sup.Start(ctx, "acct-1"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	// Let the loop place its ladder (flat prediction may place nothing, so
	// seed a resting buy directly through the venue and the book).
	client := venue.Client()
	o, err := client.CreateOrder(ctx, "BTC/USDT", exchange.SideBuy, 0.5, 99)
	if err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}
	led.Book("acct-1", "BTC/USDT").RecordBuyPlaced(o)

	if err := sup.Stop(ctx, "acct-1"); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	got, err := client.FetchOrder(ctx, o.ID, "BTC/USDT")
	if err != nil {
		t.Fatalf("FetchOrder: %v", err)
	}
	if got.Status != exchange.StatusCanceled {
		t.Errorf("order status = %s, want canceled after Stop", got.Status)
	}
	if n := led.Book("acct-1", "BTC/USDT").OpenBuyCount(); n != 0 {
		t.Errorf("open buys = %d, want 0 after Stop", n)
	}
}

func TestStopCancelsBuysAfterDisconnect(t *testing.T) {
	sup, venue, led := newSupervisor(t, "acct-1")
	ctx := context.Background()

	if err := sup.Start(ctx, "acct-1"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	client := venue.Client()
	o, err := client.CreateOrder(ctx, "BTC/USDT", exchange.SideBuy, 0.5, 99)
	if err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}
	led.Book("acct-1", "BTC/USDT").RecordBuyPlaced(o)

	// Drop the connection before Stop. Stop must reconnect once rather than
	// strand the resting buy on the venue.
	if err := sup.conns.Close("acct-1"); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := sup.Stop(ctx, "acct-1"); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	got, err := client.FetchOrder(ctx, o.ID, "BTC/USDT")
	if err != nil {
		t.Fatalf("FetchOrder: %v", err)
	}
	if got.Status != exchange.StatusCanceled {
		t.Errorf("order status = %s, want canceled after Stop", got.Status)
	}
	if n := led.Book("acct-1", "BTC/USDT").OpenBuyCount(); n != 0 {
		t.Errorf("open buys = %d, want 0 after Stop", n)
	}
}

func TestStoppingOneAccountLeavesOthersRunning(t *testing.T) {
	sup, _, _ := newSupervisor(t, "acct-1", "acct-2")
	ctx := context.Background()

	if err := sup.Start(ctx, "acct-1"); err != nil {
		t.Fatalf("Start acct-1: %v", err)
	}
	if err := sup.Start(ctx, "acct-2"); err != nil {
		t.Fatalf("Start acct-2: %v", err)
	}

	if err := sup.Stop(ctx, "acct-1"); err != nil {
		t.Fatalf("Stop acct-1: %v", err)
	}
	if sup.Running("acct-1") {
		t.Error("acct-1 still running")
	}
	if !sup.Running("acct-2") {
		t.Error("stopping acct-1 also stopped acct-2")
	}

	sup.StopAll(ctx)
	if len(sup.RunningAccounts()) != 0 {
		t.Error("accounts still running after StopAll")
	}
}

func TestStartUnknownAccountFails(t *testing.T) {
	sup, _, _ := newSupervisor(t, "acct-1")
	if err := sup.Start(context.Background(), "acct-9"); err == nil {
		t.Error("Start succeeded for unregistered account")
	}
}
