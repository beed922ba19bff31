// Package conn owns account connection lifecycles. An account moves
// Disconnected -> Connecting -> Connected on initialize and falls back to
// Disconnected on any failure or explicit close. A periodic sweep is the
// only reconnection path.
package conn

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"ladderbot/internal/events"
	"ladderbot/internal/ledger"
	"ladderbot/internal/risk"
	"ladderbot/pkg/config"
	"ladderbot/pkg/exchange"
)

// State is an account's connection state.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
)

type entry struct {
	cfg         config.AccountConfig
	symbols     []string
	state       State
	client      exchange.Client
	wantRunning bool
}

// Supervisor tracks one connection per account.
type Supervisor struct {
	mu       sync.RWMutex
	accounts map[string]*entry

	ledger *ledger.Ledger
	risk   *risk.Control
	bus    *events.Bus
}

// NewSupervisor builds a supervisor over the shared ledger. risk and bus may
// be nil in tests.
func NewSupervisor(led *ledger.Ledger, rc *risk.Control, bus *events.Bus) *Supervisor {
	return &Supervisor{
		accounts: make(map[string]*entry),
		ledger:   led,
		risk:     rc,
		bus:      bus,
	}
}

// Register adds an account and the symbols it trades. Must be called before
// Initialize.
func (s *Supervisor) Register(cfg config.AccountConfig, symbols []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accounts[cfg.ID] = &entry{
		cfg:     cfg,
		symbols: symbols,
		state:   StateDisconnected,
	}
}

// SetWantRunning marks whether the sweep should keep this account connected.
func (s *Supervisor) SetWantRunning(accountID string, want bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.accounts[accountID]; ok {
		e.wantRunning = want
	}
}

// Initialize connects an account: builds the client, loads market metadata
// and seeds the ledger with currently-resting orders. Any failure leaves the
// account Disconnected for the sweep to retry.
func (s *Supervisor) Initialize(ctx context.Context, accountID string) error {
	s.mu.Lock()
	e, ok := s.accounts[accountID]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("unknown account %q", accountID)
	}
	if e.state == StateConnected {
		s.mu.Unlock()
		return nil
	}
	e.state = StateConnecting
	cfg := e.cfg
	symbols := e.symbols
	s.mu.Unlock()
	s.publishState(accountID, StateConnecting)

	client, err := exchange.New(cfg.Credentials())
	if err != nil {
		s.setDisconnected(accountID, nil)
		return fmt.Errorf("build client for %s: %w", accountID, err)
	}
	if err := client.LoadMarkets(ctx); err != nil {
		client.Close()
		s.setDisconnected(accountID, nil)
		return fmt.Errorf("load markets for %s: %w", accountID, err)
	}

	if err := s.seedLedger(ctx, client, accountID, symbols); err != nil {
		client.Close()
		s.setDisconnected(accountID, nil)
		return fmt.Errorf("seed ledger for %s: %w", accountID, err)
	}

	s.mu.Lock()
	e.client = client
	e.state = StateConnected
	s.mu.Unlock()
	s.publishState(accountID, StateConnected)
	log.Printf("[conn] account %s connected (%d symbols)", accountID, len(symbols))
	return nil
}

// seedLedger classifies resting orders by side: buys into open-orders, sells
// into pending-sells.
func (s *Supervisor) seedLedger(ctx context.Context, client exchange.Client, accountID string, symbols []string) error {
	if s.ledger == nil {
		return nil
	}
	for _, symbol := range symbols {
		orders, err := client.FetchOpenOrders(ctx, symbol)
		if err != nil {
			return fmt.Errorf("fetch open orders %s: %w", symbol, err)
		}
		book := s.ledger.Book(accountID, symbol)
		for _, o := range orders {
			switch o.Side {
			case exchange.SideBuy:
				book.SeedOpenBuy(o)
			case exchange.SideSell:
				book.SeedPendingSell(o)
			}
		}
		if s.risk != nil {
			s.risk.DeactivateIfNeeded(book)
		}
		if len(orders) > 0 {
			log.Printf("[conn] %s:%s restored %d resting orders", accountID, symbol, len(orders))
		}
	}
	return nil
}

// Close disconnects an account. Safe to call in any state; always invoked
// during shutdown even when initialize never succeeded.
func (s *Supervisor) Close(accountID string) error {
	s.mu.Lock()
	e, ok := s.accounts[accountID]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("unknown account %q", accountID)
	}
	client := e.client
	e.client = nil
	alreadyDown := e.state == StateDisconnected
	e.state = StateDisconnected
	s.mu.Unlock()

	if !alreadyDown {
		s.publishState(accountID, StateDisconnected)
	}
	if client != nil {
		if err := client.Close(); err != nil {
			return fmt.Errorf("close client for %s: %w", accountID, err)
		}
	}
	return nil
}

// Client returns the connected client for an account.
func (s *Supervisor) Client(accountID string) (exchange.Client, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.accounts[accountID]
	if !ok {
		return nil, fmt.Errorf("unknown account %q", accountID)
	}
	if e.state != StateConnected || e.client == nil {
		return nil, fmt.Errorf("account %s is %s", accountID, e.state)
	}
	return e.client, nil
}

// State returns an account's connection state.
func (s *Supervisor) State(accountID string) State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if e, ok := s.accounts[accountID]; ok {
		return e.state
	}
	return StateDisconnected
}

// States returns a copy of every account's state.
func (s *Supervisor) States() map[string]State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]State, len(s.accounts))
	for id, e := range s.accounts {
		out[id] = e.state
	}
	return out
}

// Symbols returns the symbols assigned to an account.
func (s *Supervisor) Symbols(accountID string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if e, ok := s.accounts[accountID]; ok {
		out := make([]string, len(e.symbols))
		copy(out, e.symbols)
		return out
	}
	return nil
}

// AccountIDs returns every registered account id.
func (s *Supervisor) AccountIDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.accounts))
	for id := range s.accounts {
		out = append(out, id)
	}
	return out
}

// RunSweep re-attempts initialize for accounts that should be running but
// are Disconnected. Blocks until ctx is done.
func (s *Supervisor) RunSweep(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, id := range s.sweepTargets() {
				if err := s.Initialize(ctx, id); err != nil {
					log.Printf("[conn] reconnect %s failed: %v", id, err)
				}
			}
		}
	}
}

func (s *Supervisor) sweepTargets() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []string
	for id, e := range s.accounts {
		if e.wantRunning && e.state == StateDisconnected {
			out = append(out, id)
		}
	}
	return out
}

func (s *Supervisor) setDisconnected(accountID string, client exchange.Client) {
	s.mu.Lock()
	if e, ok := s.accounts[accountID]; ok {
		e.state = StateDisconnected
		e.client = client
	}
	s.mu.Unlock()
	s.publishState(accountID, StateDisconnected)
}

func (s *Supervisor) publishState(accountID string, state State) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(events.EventConnState, events.ConnStateChange{
		Account: accountID,
		State:   string(state),
		At:      time.Now(),
	})
}
