// Package account spawns and stops the trading loops belonging to each
// account. Stopping one account never touches another's loops.
package account

import (
	"context"
	"fmt"
	"log"
	"sync"

	"ladderbot/internal/conn"
	"ladderbot/internal/events"
	"ladderbot/internal/feed"
	"ladderbot/internal/ledger"
	"ladderbot/internal/loop"
	"ladderbot/internal/predict"
	"ladderbot/internal/risk"
	"ladderbot/pkg/config"
	"ladderbot/pkg/exchange"
)

type runningAccount struct {
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Supervisor owns account lifecycles.
type Supervisor struct {
	baseCtx   context.Context
	conns     *conn.Supervisor
	ledger    *ledger.Ledger
	feed      *feed.Feed
	risk      *risk.Control
	predictor predict.Predictor
	bus       *events.Bus
	opts      loop.Options
	symbols   map[string]config.SymbolConfig

	mu      sync.Mutex
	running map[string]*runningAccount
}

// NewSupervisor builds the supervisor. baseCtx bounds every spawned loop so
// process shutdown cancels them all.
func NewSupervisor(baseCtx context.Context, conns *conn.Supervisor, led *ledger.Ledger,
	f *feed.Feed, rc *risk.Control, p predict.Predictor, bus *events.Bus,
	opts loop.Options, symbols []config.SymbolConfig) *Supervisor {
	byName := make(map[string]config.SymbolConfig, len(symbols))
	for _, sc := range symbols {
		byName[sc.Symbol] = sc
	}
	return &Supervisor{
		baseCtx:   baseCtx,
		conns:     conns,
		ledger:    led,
		feed:      f,
		risk:      rc,
		predictor: p,
		bus:       bus,
		opts:      opts,
		symbols:   byName,
		running:   make(map[string]*runningAccount),
	}
}

// Start connects an account and spawns one trading loop per assigned symbol.
// Idempotent: starting a running account is a no-op. A failed connect does
// not block the start; loops idle on connection errors until the sweep
// restores the account.
func (s *Supervisor) Start(ctx context.Context, accountID string) error {
	s.mu.Lock()
	if _, ok := s.running[accountID]; ok {
		s.mu.Unlock()
		return nil
	}
	symbols := s.conns.Symbols(accountID)
	if len(symbols) == 0 {
		s.mu.Unlock()
		return fmt.Errorf("account %s has no assigned symbols", accountID)
	}
	loopCtx, cancel := context.WithCancel(s.baseCtx)
	ra := &runningAccount{cancel: cancel}
	s.running[accountID] = ra
	s.mu.Unlock()

	s.conns.SetWantRunning(accountID, true)
	if err := s.conns.Initialize(ctx, accountID); err != nil {
		log.Printf("[account] %s connect failed, sweep will retry: %v", accountID, err)
	}

	for _, symbol := range symbols {
		sc, ok := s.symbols[symbol]
		if !ok {
			log.Printf("[account] %s skips unconfigured symbol %s", accountID, symbol)
			continue
		}
		book := s.ledger.Book(accountID, symbol)
		l := loop.New(accountID, sc, s.opts, book, s.feed, s.conns, s.risk, s.predictor, s.bus)
		ra.wg.Add(1)
		go func() {
			defer ra.wg.Done()
			l.Run(loopCtx)
		}()
	}
	log.Printf("[account] %s started with %d symbols", accountID, len(symbols))
	return nil
}

// Stop cancels an account's loops, cancels its resting buys best-effort and
// closes the connection. Idempotent.
func (s *Supervisor) Stop(ctx context.Context, accountID string) error {
	s.mu.Lock()
	ra, ok := s.running[accountID]
	if !ok {
		s.mu.Unlock()
		return nil
	}
	delete(s.running, accountID)
	s.mu.Unlock()

	s.conns.SetWantRunning(accountID, false)
	ra.cancel()
	ra.wg.Wait()

	s.cancelRestingBuys(ctx, accountID)

	if err := s.conns.Close(accountID); err != nil {
		log.Printf("[account] %s close connection: %v", accountID, err)
	}
	log.Printf("[account] %s stopped", accountID)
	return nil
}

// cancelRestingBuys cancels every open buy concurrently. Failures are logged
// and skipped; shutdown never blocks on a broken venue.
func (s *Supervisor) cancelRestingBuys(ctx context.Context, accountID string) {
	client, err := s.conns.Client(accountID)
	if err != nil {
		// One reconnect attempt so a blip during Stop does not strand orders.
		if rerr := s.conns.Initialize(ctx, accountID); rerr != nil {
			log.Printf("[account] %s not connected, leaving resting orders: %v", accountID, rerr)
			return
		}
		if client, err = s.conns.Client(accountID); err != nil {
			log.Printf("[account] %s not connected, leaving resting orders: %v", accountID, err)
			return
		}
	}

	var wg sync.WaitGroup
	for _, book := range s.ledger.AccountBooks(accountID) {
		for _, ob := range book.OpenBuys() {
			wg.Add(1)
			go func(book *ledger.PairBook, ob ledger.OpenBuy) {
				defer wg.Done()
				if err := client.CancelOrder(ctx, ob.Order.ID, book.Symbol); err != nil {
					log.Printf("[account] %s cancel %s on %s: %v", accountID, ob.Order.ID, book.Symbol, err)
					return
				}
				book.RemoveBuy(ob.Order.ID, true)
				if s.bus != nil {
					s.bus.Publish(events.EventOrderCanceled, events.OrderEvent{
						Account: accountID,
						Symbol:  book.Symbol,
						OrderID: ob.Order.ID,
						Side:    string(exchange.SideBuy),
						Price:   ob.Order.Price,
						Amount:  ob.Order.Amount,
					})
				}
			}(book, ob)
		}
	}
	wg.Wait()
}

// StopAll stops every running account. Used during shutdown.
func (s *Supervisor) StopAll(ctx context.Context) {
	for _, id := range s.RunningAccounts() {
		if err := s.Stop(ctx, id); err != nil {
			log.Printf("[account] stop %s: %v", id, err)
		}
	}
}

// Running reports whether an account has active loops.
func (s *Supervisor) Running(accountID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.running[accountID]
	return ok
}

// RunningAccounts returns the ids of accounts with active loops.
func (s *Supervisor) RunningAccounts() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.running))
	for id := range s.running {
		out = append(out, id)
	}
	return out
}
