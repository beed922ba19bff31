// Package persistence exports every trade record produced by the trading
// loops to append-only storage: CSV files per account and the SQLite trade
// store.
package persistence

import (
	"log"

	"ladderbot/internal/events"
)

// Sink receives trade records as they are produced.
type Sink interface {
	Append(rec events.TradeRecorded) error
	Close() error
}

// MultiSink fans one record out to several sinks. A failing sink is logged
// and skipped; one broken target must not stall the others.
type MultiSink struct {
	sinks []Sink
}

// NewMultiSink combines sinks. Nil entries are ignored.
func NewMultiSink(sinks ...Sink) *MultiSink {
	out := make([]Sink, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			out = append(out, s)
		}
	}
	return &MultiSink{sinks: out}
}

// Append writes the record to every sink.
func (m *MultiSink) Append(rec events.TradeRecorded) error {
	for _, s := range m.sinks {
		if err := s.Append(rec); err != nil {
			log.Printf("[persistence] sink append: %v", err)
		}
	}
	return nil
}

// Close closes every sink, returning the first error.
func (m *MultiSink) Close() error {
	var first error
	for _, s := range m.sinks {
		if err := s.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
