// Package feed wraps exchange market-data calls with a process-wide
// concurrency permit, request pacing and bounded retry on transient errors.
package feed

import (
	"context"
	"fmt"
	"log"
	"time"

	"golang.org/x/time/rate"

	"ladderbot/internal/events"
	"ladderbot/internal/ledger"
	"ladderbot/internal/monitor"
	"ladderbot/pkg/cache"
	"ladderbot/pkg/exchange"
)

// Config tunes the feed.
type Config struct {
	// Permits bounds concurrent in-flight exchange calls process-wide.
	Permits int
	// MaxRetries is the total number of attempts for a transient failure.
	MaxRetries int
	// BackoffBase is the delay after the first failed attempt; it doubles
	// per attempt (base, 2*base, 4*base, ...).
	BackoffBase time.Duration
	// RequestsPerSec paces outgoing calls globally. Zero disables pacing.
	RequestsPerSec float64
	// CandleTTL caches OHLCV windows for this long. Zero disables caching.
	CandleTTL time.Duration
	// Metrics, when set, records call latency and tick counters.
	Metrics *monitor.Metrics
}

// DefaultConfig mirrors production settings.
func DefaultConfig() Config {
	return Config{
		Permits:        10,
		MaxRetries:     5,
		BackoffBase:    time.Second,
		RequestsPerSec: 10,
	}
}

// Feed is the shared market-data access layer.
type Feed struct {
	cfg     Config
	permits chan struct{}
	pacer   *rate.Limiter
	ledger  *ledger.Ledger
	bus     *events.Bus
	candles *cache.ShardedCandleCache
}

// New builds a Feed. ledger and bus may be nil in tests.
func New(cfg Config, led *ledger.Ledger, bus *events.Bus) *Feed {
	if cfg.Permits < 1 {
		cfg.Permits = 1
	}
	if cfg.MaxRetries < 1 {
		cfg.MaxRetries = 1
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = time.Second
	}
	var pacer *rate.Limiter
	if cfg.RequestsPerSec > 0 {
		pacer = rate.NewLimiter(rate.Limit(cfg.RequestsPerSec), cfg.Permits)
	}
	var candles *cache.ShardedCandleCache
	if cfg.CandleTTL > 0 {
		candles = cache.NewShardedCandleCache(cfg.CandleTTL)
	}
	return &Feed{
		cfg:     cfg,
		permits: make(chan struct{}, cfg.Permits),
		pacer:   pacer,
		ledger:  led,
		bus:     bus,
		candles: candles,
	}
}

// FetchTickers pulls last prices for symbols and records them on the
// account's pair books.
func (f *Feed) FetchTickers(ctx context.Context, client exchange.Client, account string, symbols []string) (map[string]exchange.Ticker, error) {
	var tickers map[string]exchange.Ticker
	err := f.do(ctx, "fetchTickers", func(ctx context.Context) error {
		var err error
		tickers, err = client.FetchTickers(ctx, symbols)
		return err
	})
	if err != nil {
		return nil, err
	}

	now := time.Now()
	for symbol, t := range tickers {
		if t.Last <= 0 {
			continue
		}
		if f.ledger != nil {
			f.ledger.Book(account, symbol).SetLastPrice(t.Last, now)
		}
		if f.cfg.Metrics != nil {
			f.cfg.Metrics.IncrementTicks()
		}
		if f.bus != nil {
			f.bus.Publish(events.EventPriceTick, events.PriceTick{
				Account: account,
				Symbol:  symbol,
				Price:   t.Last,
				At:      now,
			})
		}
	}
	return tickers, nil
}

// FetchOHLCV pulls a candle window for prediction, serving repeated requests
// within the cache TTL from memory.
func (f *Feed) FetchOHLCV(ctx context.Context, client exchange.Client, symbol, timeframe string, limit int) ([]exchange.Candle, error) {
	key := cache.Key(symbol, timeframe)
	if f.candles != nil {
		if cached, ok := f.candles.Get(key); ok && len(cached) >= limit {
			return cached[len(cached)-limit:], nil
		}
	}

	var candles []exchange.Candle
	err := f.do(ctx, "fetchOHLCV", func(ctx context.Context) error {
		var err error
		candles, err = client.FetchOHLCV(ctx, symbol, timeframe, limit)
		return err
	})
	if err != nil {
		return nil, err
	}
	if f.candles != nil {
		f.candles.Set(key, candles)
	}
	return candles, nil
}

// Do runs an arbitrary exchange call under the feed's permit, pacing and
// retry policy. Used by the trading loop for order placement.
func (f *Feed) Do(ctx context.Context, op string, fn func(context.Context) error) error {
	return f.do(ctx, op, fn)
}

// do acquires a permit, paces the call, and retries transient failures with
// exponential backoff. Exactly MaxRetries attempts are made before the last
// error surfaces. Non-transient errors propagate immediately.
func (f *Feed) do(ctx context.Context, op string, fn func(context.Context) error) error {
	select {
	case f.permits <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-f.permits }()

	var lastErr error
	for attempt := 0; attempt < f.cfg.MaxRetries; attempt++ {
		if f.pacer != nil {
			if err := f.pacer.Wait(ctx); err != nil {
				return err
			}
		}
		start := time.Now()
		lastErr = fn(ctx)
		if f.cfg.Metrics != nil {
			f.cfg.Metrics.FeedLatency.RecordDuration(time.Since(start))
		}
		if lastErr == nil {
			return nil
		}
		if !exchange.IsTransient(lastErr) {
			return lastErr
		}
		if attempt == f.cfg.MaxRetries-1 {
			break
		}
		delay := f.cfg.BackoffBase << attempt
		log.Printf("[feed] %s attempt %d/%d failed: %v (retrying in %s)",
			op, attempt+1, f.cfg.MaxRetries, lastErr, delay)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return fmt.Errorf("%s failed after %d attempts: %w", op, f.cfg.MaxRetries, lastErr)
}
