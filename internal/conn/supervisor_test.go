package conn

import (
	"context"
	"errors"
	"testing"
	"time"

	"ladderbot/internal/ledger"
	"ladderbot/internal/risk"
	"ladderbot/pkg/config"
	"ladderbot/pkg/exchange"
	"ladderbot/pkg/exchange/paper"
)

func registerVenue(t *testing.T, name string, venue *paper.Venue) {
	t.Helper()
	exchange.Register(name, func(creds exchange.Credentials) (exchange.Client, error) {
		return venue.Client(), nil
	})
}

func testControl(t *testing.T) *risk.Control {
	t.Helper()
	c, err := risk.NewControl(risk.DefaultConfig(), nil)
	if err != nil {
		t.Fatalf("NewControl: %v", err)
	}
	return c
}

func TestInitializeTransitionsAndSeedsLedger(t *testing.T) {
	venue := paper.NewVenue()
	venue.SetPrice("BTC/USDT", 100)
	seed := venue.Client()
	if _, err := seed.CreateOrder(context.Background(), "BTC/USDT", exchange.SideBuy, 1, 99); err != nil {
		t.Fatalf("seed buy: %v", err)
	}
	if _, err := seed.CreateOrder(context.Background(), "BTC/USDT", exchange.SideSell, 1, 105); err != nil {
		t.Fatalf("seed sell: %v", err)
	}
	registerVenue(t, "conn-test-seed", venue)

	led := ledger.New()
	s := NewSupervisor(led, testControl(t), nil)
	s.Register(config.AccountConfig{ID: "acct-1", Exchange: "conn-test-seed"}, []string{"BTC/USDT"})

	if got := s.State("acct-1"); got != StateDisconnected {
		t.Fatalf("initial state = %s, want disconnected", got)
	}
	if err := s.Initialize(context.Background(), "acct-1"); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if got := s.State("acct-1"); got != StateConnected {
		t.Fatalf("state = %s, want connected", got)
	}

	book := led.Book("acct-1", "BTC/USDT")
	if n := book.OpenBuyCount(); n != 1 {
		t.Errorf("open buys = %d, want 1", n)
	}
	sells := book.PendingSells()
	if len(sells) != 1 {
		t.Fatalf("pending sells = %d, want 1", len(sells))
	}
	if sells[0].BuyPrice != 105 {
		t.Errorf("seeded sell buy price = %g, want the sell's own price 105", sells[0].BuyPrice)
	}
	// Seeding must not fabricate trade history.
	if n := len(book.Trades()); n != 0 {
		t.Errorf("trades = %d, want 0 after seeding", n)
	}

	if _, err := s.Client("acct-1"); err != nil {
		t.Errorf("Client after connect: %v", err)
	}
}

func TestInitializeFailureLeavesDisconnected(t *testing.T) {
	exchange.Register("conn-test-broken", func(creds exchange.Credentials) (exchange.Client, error) {
		return nil, errors.New("bad credentials")
	})

	s := NewSupervisor(ledger.New(), nil, nil)
	s.Register(config.AccountConfig{ID: "acct-1", Exchange: "conn-test-broken"}, []string{"BTC/USDT"})

	if err := s.Initialize(context.Background(), "acct-1"); err == nil {
		t.Fatal("Initialize succeeded with broken factory")
	}
	if got := s.State("acct-1"); got != StateDisconnected {
		t.Errorf("state = %s, want disconnected after failure", got)
	}
	if _, err := s.Client("acct-1"); err == nil {
		t.Error("Client returned a handle while disconnected")
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	venue := paper.NewVenue()
	registerVenue(t, "conn-test-close", venue)

	s := NewSupervisor(ledger.New(), nil, nil)
	s.Register(config.AccountConfig{ID: "acct-1", Exchange: "conn-test-close"}, nil)

	if err := s.Initialize(context.Background(), "acct-1"); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if err := s.Close("acct-1"); err != nil {
		t.Fatalf("Close: %v", err)
	}
	// Closing a never-connected or already-closed account must not error.
	if err := s.Close("acct-1"); err != nil {
		t.Errorf("second Close: %v", err)
	}
	if got := s.State("acct-1"); got != StateDisconnected {
		t.Errorf("state = %s, want disconnected", got)
	}
}

func TestSweepReconnectsWantedAccounts(t *testing.T) {
	venue := paper.NewVenue()
	registerVenue(t, "conn-test-sweep", venue)

	s := NewSupervisor(ledger.New(), nil, nil)
	s.Register(config.AccountConfig{ID: "acct-1", Exchange: "conn-test-sweep"}, nil)
	s.Register(config.AccountConfig{ID: "acct-2", Exchange: "conn-test-sweep"}, nil)
	s.SetWantRunning("acct-1", true)
	// acct-2 is not wanted and must stay down.

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.RunSweep(ctx, 5*time.Millisecond)

	deadline := time.After(time.Second)
	for s.State("acct-1") != StateConnected {
		select {
		case <-deadline:
			t.Fatal("sweep never reconnected acct-1")
		case <-time.After(5 * time.Millisecond):
		}
	}
	if got := s.State("acct-2"); got != StateDisconnected {
		t.Errorf("acct-2 state = %s, want disconnected", got)
	}
}
