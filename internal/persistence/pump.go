package persistence

import (
	"context"
	"log"

	"ladderbot/internal/events"
	"ladderbot/internal/ledger"
	"ladderbot/pkg/db"
)

// StatusStore persists pair activation flips.
type StatusStore interface {
	UpsertPairStatus(ctx context.Context, p db.PairStatusRow) error
}

// StatusLister reads back persisted pair activation flags.
type StatusLister interface {
	ListPairStatus(ctx context.Context) ([]db.PairStatusRow, error)
}

// RunPump subscribes to trade records and pair status flips on the bus and
// forwards them to storage until ctx is done. statuses may be nil. Blocks;
// run it in its own goroutine.
func RunPump(ctx context.Context, bus *events.Bus, sink Sink, statuses StatusStore) {
	trades, unsubTrades := bus.Subscribe(events.EventTradeRecorded, 256)
	defer unsubTrades()
	flips, unsubFlips := bus.Subscribe(events.EventPairStatus, 64)
	defer unsubFlips()

	for {
		select {
		case <-ctx.Done():
			return
		case payload, ok := <-trades:
			if !ok {
				return
			}
			rec, ok := payload.(events.TradeRecorded)
			if !ok {
				continue
			}
			if err := sink.Append(rec); err != nil {
				log.Printf("[persistence] append trade %s: %v", rec.OrderID, err)
			}
		case payload, ok := <-flips:
			if !ok {
				return
			}
			change, ok := payload.(events.PairStatusChange)
			if !ok || statuses == nil {
				continue
			}
			err := statuses.UpsertPairStatus(ctx, db.PairStatusRow{
				Account:   change.Account,
				Symbol:    change.Symbol,
				Active:    change.Active,
				Reason:    change.Reason,
				UpdatedAt: change.At,
			})
			if err != nil {
				log.Printf("[persistence] record pair status %s:%s: %v", change.Account, change.Symbol, err)
			}
		}
	}
}

// RestorePairStatus reapplies persisted deactivations to the ledger so a
// restart does not silently resume a tripped pair. Returns how many pairs
// came back inactive.
func RestorePairStatus(ctx context.Context, store StatusLister, led *ledger.Ledger) (int, error) {
	rows, err := store.ListPairStatus(ctx)
	if err != nil {
		return 0, err
	}
	restored := 0
	for _, row := range rows {
		if row.Active {
			continue
		}
		led.Book(row.Account, row.Symbol).SetActive(false, row.Reason)
		restored++
	}
	return restored, nil
}
