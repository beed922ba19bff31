package feed

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"ladderbot/internal/ledger"
	"ladderbot/pkg/exchange"
	"ladderbot/pkg/exchange/paper"
)

func testConfig() Config {
	return Config{
		Permits:        2,
		MaxRetries:     5,
		BackoffBase:    time.Millisecond,
		RequestsPerSec: 0,
	}
}

func TestDoRetriesExactlyMaxRetries(t *testing.T) {
	f := New(testConfig(), nil, nil)

	var calls int32
	err := f.Do(context.Background(), "fetchTickers", func(context.Context) error {
		atomic.AddInt32(&calls, 1)
		return &exchange.NetworkError{Op: "fetchTickers", Err: errors.New("conn reset")}
	})
	if err == nil {
		t.Fatal("expected failure after retries exhausted")
	}
	if got := atomic.LoadInt32(&calls); got != 5 {
		t.Errorf("attempts = %d, want exactly 5", got)
	}
}

func TestDoStopsOnPermanentError(t *testing.T) {
	f := New(testConfig(), nil, nil)

	var calls int32
	err := f.Do(context.Background(), "createOrder", func(context.Context) error {
		atomic.AddInt32(&calls, 1)
		return &exchange.RejectionError{Op: "createOrder", Msg: "insufficient funds"}
	})
	var rejection *exchange.RejectionError
	if !errors.As(err, &rejection) {
		t.Fatalf("err = %v, want RejectionError", err)
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Errorf("attempts = %d, want 1 (no retry on rejection)", got)
	}
}

func TestDoSucceedsAfterTransientFailures(t *testing.T) {
	f := New(testConfig(), nil, nil)

	var calls int32
	err := f.Do(context.Background(), "fetchOHLCV", func(context.Context) error {
		if atomic.AddInt32(&calls, 1) < 3 {
			return &exchange.ExchangeError{Op: "fetchOHLCV", Code: -1001, Msg: "internal error"}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("err = %v, want success on third attempt", err)
	}
	if got := atomic.LoadInt32(&calls); got != 3 {
		t.Errorf("attempts = %d, want 3", got)
	}
}

func TestPermitBoundsConcurrency(t *testing.T) {
	cfg := testConfig()
	cfg.Permits = 2
	f := New(cfg, nil, nil)

	var (
		mu      sync.Mutex
		current int
		peak    int
	)
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = f.Do(context.Background(), "op", func(context.Context) error {
				mu.Lock()
				current++
				if current > peak {
					peak = current
				}
				mu.Unlock()
				time.Sleep(5 * time.Millisecond)
				mu.Lock()
				current--
				mu.Unlock()
				return nil
			})
		}()
	}
	wg.Wait()
	if peak > 2 {
		t.Errorf("peak concurrency = %d, want at most 2", peak)
	}
}

func TestDoHonorsContextCancel(t *testing.T) {
	cfg := testConfig()
	cfg.BackoffBase = time.Hour // retry delay would block forever
	f := New(cfg, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- f.Do(ctx, "op", func(context.Context) error {
			return &exchange.NetworkError{Op: "op", Err: errors.New("down")}
		})
	}()
	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("err = %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Do did not return after cancellation")
	}
}

func TestFetchTickersUpdatesLedger(t *testing.T) {
	venue := paper.NewVenue()
	venue.SetPrice("BTC/USDT", 100.5)
	client := venue.Client()

	led := ledger.New()
	f := New(testConfig(), led, nil)

	tickers, err := f.FetchTickers(context.Background(), client, "acct-1", []string{"BTC/USDT"})
	if err != nil {
		t.Fatalf("FetchTickers: %v", err)
	}
	if tickers["BTC/USDT"].Last != 100.5 {
		t.Errorf("ticker = %+v", tickers["BTC/USDT"])
	}
	price, at := led.Book("acct-1", "BTC/USDT").LastPrice()
	if price != 100.5 {
		t.Errorf("ledger price = %g, want 100.5", price)
	}
	if at.IsZero() {
		t.Error("ledger price timestamp not set")
	}
}

func TestFetchOHLCVUsesCache(t *testing.T) {
	venue := paper.NewVenue()
	venue.SetPrice("BTC/USDT", 100)
	client := venue.Client()

	cfg := testConfig()
	cfg.CandleTTL = time.Minute
	f := New(cfg, nil, nil)

	ctx := context.Background()
	first, err := f.FetchOHLCV(ctx, client, "BTC/USDT", "1h", 5)
	if err != nil {
		t.Fatalf("FetchOHLCV: %v", err)
	}
	if len(first) != 5 || first[4].Close != 100 {
		t.Fatalf("first window = %v", first)
	}

	// The venue moves but the cached window is served until the TTL lapses.
	venue.SetPrice("BTC/USDT", 200)
	cached, err := f.FetchOHLCV(ctx, client, "BTC/USDT", "1h", 5)
	if err != nil {
		t.Fatalf("FetchOHLCV cached: %v", err)
	}
	if cached[4].Close != 100 {
		t.Errorf("cached close = %g, want 100", cached[4].Close)
	}

	// Without a cache every call hits the venue.
	uncached := New(testConfig(), nil, nil)
	fresh, err := uncached.FetchOHLCV(ctx, client, "BTC/USDT", "1h", 5)
	if err != nil {
		t.Fatalf("FetchOHLCV uncached: %v", err)
	}
	if fresh[4].Close != 200 {
		t.Errorf("fresh close = %g, want 200", fresh[4].Close)
	}
}
