// Package risk toggles per-pair activity based on pending-sell backlog and
// realized daily loss. Deactivation and reactivation use independent
// thresholds so the flag cannot oscillate within one evaluation.
package risk

import (
	"fmt"
	"log"
	"time"

	"ladderbot/internal/events"
	"ladderbot/internal/ledger"
	"ladderbot/pkg/exchange"
)

// Config defines the hysteresis thresholds and loss handling.
type Config struct {
	// DeactivateAt pauses a pair once pending sells reach this count.
	DeactivateAt int
	// ReactivateBelow resumes a pair once pending sells drop under this
	// count. Must not exceed DeactivateAt.
	ReactivateBelow int
	// Cooldown is how long a pair sleeps after a daily-loss trip.
	Cooldown time.Duration
	// ReactivateMarkup sets the operator price hint after a loss trip:
	// hint = market price * (1 + ReactivateMarkup).
	ReactivateMarkup float64
}

// DefaultConfig mirrors production thresholds.
func DefaultConfig() Config {
	return Config{
		DeactivateAt:     4,
		ReactivateBelow:  4,
		Cooldown:         time.Hour,
		ReactivateMarkup: 0.05,
	}
}

// Validate reports the first invalid field.
func (c Config) Validate() error {
	if c.DeactivateAt < 1 {
		return fmt.Errorf("deactivate threshold must be at least 1, got %d", c.DeactivateAt)
	}
	if c.ReactivateBelow < 1 {
		return fmt.Errorf("reactivate threshold must be at least 1, got %d", c.ReactivateBelow)
	}
	if c.ReactivateBelow > c.DeactivateAt {
		return fmt.Errorf("reactivate threshold %d exceeds deactivate threshold %d", c.ReactivateBelow, c.DeactivateAt)
	}
	return nil
}

// Control evaluates risk rules against pair books.
type Control struct {
	cfg Config
	bus *events.Bus
}

// NewControl builds a Control. bus may be nil in tests.
func NewControl(cfg Config, bus *events.Bus) (*Control, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("risk config: %w", err)
	}
	return &Control{cfg: cfg, bus: bus}, nil
}

// Config returns the thresholds in use.
func (c *Control) Config() Config { return c.cfg }

// Cooldown returns the post-trip sleep interval.
func (c *Control) Cooldown() time.Duration { return c.cfg.Cooldown }

// DeactivateIfNeeded pauses the pair when the pending-sell backlog has
// reached the deactivation threshold. Idempotent: repeated calls with an
// unchanged backlog change nothing.
func (c *Control) DeactivateIfNeeded(book *ledger.PairBook) bool {
	n := book.PendingSellCount()
	if n < c.cfg.DeactivateAt {
		return false
	}
	reason := fmt.Sprintf("pending sells %d reached limit %d", n, c.cfg.DeactivateAt)
	if !book.SetActive(false, reason) {
		return false
	}
	log.Printf("[risk] %s:%s deactivated: %s", book.Account, book.Symbol, reason)
	c.publishStatus(book, false, reason)
	return true
}

// ReactivateIfNeeded resumes the pair when the backlog has drained below the
// reactivation threshold.
func (c *Control) ReactivateIfNeeded(book *ledger.PairBook) bool {
	n := book.PendingSellCount()
	if n >= c.cfg.ReactivateBelow {
		return false
	}
	reason := fmt.Sprintf("pending sells %d below limit %d", n, c.cfg.ReactivateBelow)
	if !book.SetActive(true, reason) {
		return false
	}
	book.SetReactivateAt(0)
	log.Printf("[risk] %s:%s reactivated: %s", book.Account, book.Symbol, reason)
	c.publishStatus(book, true, reason)
	return true
}

// DailyLoss returns the pair's realized loss for the current UTC day as a
// fraction of invested notional. Sell placements are matched to buy fills
// through their RefID; profitable pairs contribute zero loss.
func (c *Control) DailyLoss(book *ledger.PairBook) float64 {
	dayStart := time.Now().UTC().Truncate(24 * time.Hour)

	buyFills := make(map[string]ledger.TradeRecord)
	var sells []ledger.TradeRecord
	for _, rec := range book.Trades() {
		if rec.At.Before(dayStart) {
			continue
		}
		switch {
		case rec.Side == exchange.SideBuy && rec.Kind == ledger.KindFill:
			buyFills[rec.OrderID] = rec
		case rec.Side == exchange.SideSell && rec.Kind == ledger.KindPlace && rec.RefID != "":
			sells = append(sells, rec)
		}
	}

	var lossNotional, invested float64
	for _, sell := range sells {
		buy, ok := buyFills[sell.RefID]
		if !ok {
			continue
		}
		invested += buy.Price * buy.Amount
		if diff := buy.Price - sell.Price; diff > 0 {
			lossNotional += diff * sell.Amount
		}
	}
	if invested == 0 {
		return 0
	}
	return lossNotional / invested
}

// CheckDailyLoss recomputes the daily loss and trips the pair when it
// exceeds maxDailyLoss (a fraction). On a trip the pair is deactivated and a
// reactivation price hint is recorded from the current market price.
func (c *Control) CheckDailyLoss(book *ledger.PairBook, maxDailyLoss, marketPrice float64) bool {
	if maxDailyLoss <= 0 {
		return false
	}
	loss := c.DailyLoss(book)
	if loss <= maxDailyLoss {
		return false
	}
	hint := marketPrice * (1 + c.cfg.ReactivateMarkup)
	book.SetReactivateAt(hint)
	reason := fmt.Sprintf("daily loss %.4f exceeds cap %.4f", loss, maxDailyLoss)
	book.SetActive(false, reason)
	log.Printf("[risk] %s:%s halted: %s (watch for price above %.4f)",
		book.Account, book.Symbol, reason, hint)
	c.publishStatus(book, false, reason)
	if c.bus != nil {
		c.bus.Publish(events.EventRiskAlert, events.RiskAlert{
			Account: book.Account,
			Symbol:  book.Symbol,
			Rule:    "max_daily_loss",
			Detail:  reason,
			At:      time.Now(),
		})
	}
	return true
}

func (c *Control) publishStatus(book *ledger.PairBook, active bool, reason string) {
	if c.bus == nil {
		return
	}
	c.bus.Publish(events.EventPairStatus, events.PairStatusChange{
		Account: book.Account,
		Symbol:  book.Symbol,
		Active:  active,
		Reason:  reason,
		At:      time.Now(),
	})
}
