package persistence

import (
	"context"
	"sync"
	"time"

	"ladderbot/internal/events"
	"ladderbot/pkg/db"
)

// DBSink buffers trade records and flushes them to SQLite in batches. SQLite
// has a single writer, so batching keeps the trading loops off the disk.
type DBSink struct {
	database *db.Database
	maxSize  int
	interval time.Duration

	mu     sync.Mutex
	buffer []db.TradeRow

	done chan struct{}
	wg   sync.WaitGroup
}

// NewDBSink starts the background flusher. maxSize rows or interval elapsed
// triggers a flush, whichever comes first.
func NewDBSink(database *db.Database, maxSize int, interval time.Duration) *DBSink {
	if maxSize <= 0 {
		maxSize = 50
	}
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	s := &DBSink{
		database: database,
		maxSize:  maxSize,
		interval: interval,
		buffer:   make([]db.TradeRow, 0, maxSize),
		done:     make(chan struct{}),
	}
	s.wg.Add(1)
	go s.backgroundFlush()
	return s
}

// Append buffers one record.
func (s *DBSink) Append(rec events.TradeRecorded) error {
	s.mu.Lock()
	s.buffer = append(s.buffer, db.TradeRow{
		Account:    rec.Account,
		Symbol:     rec.Symbol,
		OrderID:    rec.OrderID,
		RefID:      rec.RefID,
		Side:       rec.Side,
		Kind:       rec.Kind,
		Price:      rec.Price,
		Amount:     rec.Amount,
		RecordedAt: rec.At,
	})
	full := len(s.buffer) >= s.maxSize
	s.mu.Unlock()

	if full {
		return s.Flush()
	}
	return nil
}

// Flush writes all buffered rows in one transaction.
func (s *DBSink) Flush() error {
	s.mu.Lock()
	if len(s.buffer) == 0 {
		s.mu.Unlock()
		return nil
	}
	rows := s.buffer
	s.buffer = make([]db.TradeRow, 0, s.maxSize)
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.database.InsertTrades(ctx, rows)
}

func (s *DBSink) backgroundFlush() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.Flush()
		case <-s.done:
			s.Flush()
			return
		}
	}
}

// Close stops the flusher after a final flush. The DB handle itself is owned
// by the caller.
func (s *DBSink) Close() error {
	close(s.done)
	s.wg.Wait()
	return nil
}
