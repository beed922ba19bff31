package persistence

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"ladderbot/internal/events"
)

var csvHeader = []string{"timestamp", "account", "symbol", "order_id", "ref_id", "side", "kind", "price", "amount"}

// CSVSink appends trade records to one CSV file per account.
type CSVSink struct {
	dir string

	mu    sync.Mutex
	files map[string]*csvFile
}

type csvFile struct {
	f *os.File
	w *csv.Writer
}

// NewCSVSink writes account files under dir, creating it if needed.
func NewCSVSink(dir string) (*CSVSink, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create csv directory: %w", err)
	}
	return &CSVSink{
		dir:   dir,
		files: make(map[string]*csvFile),
	}, nil
}

// Append writes one row to the account's file, flushing immediately so rows
// survive a crash.
func (c *CSVSink) Append(rec events.TradeRecorded) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	cf, err := c.fileFor(rec.Account)
	if err != nil {
		return err
	}
	row := []string{
		rec.At.UTC().Format(time.RFC3339),
		rec.Account,
		rec.Symbol,
		rec.OrderID,
		rec.RefID,
		rec.Side,
		rec.Kind,
		strconv.FormatFloat(rec.Price, 'f', -1, 64),
		strconv.FormatFloat(rec.Amount, 'f', -1, 64),
	}
	if err := cf.w.Write(row); err != nil {
		return fmt.Errorf("write csv row for %s: %w", rec.Account, err)
	}
	cf.w.Flush()
	return cf.w.Error()
}

// fileFor opens (or reuses) the account's CSV file, writing the header on
// first creation.
func (c *CSVSink) fileFor(account string) (*csvFile, error) {
	if cf, ok := c.files[account]; ok {
		return cf, nil
	}
	path := filepath.Join(c.dir, fmt.Sprintf("trades_%s.csv", account))
	info, statErr := os.Stat(path)
	fresh := statErr != nil || info.Size() == 0

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open csv for %s: %w", account, err)
	}
	cf := &csvFile{f: f, w: csv.NewWriter(f)}
	if fresh {
		if err := cf.w.Write(csvHeader); err != nil {
			f.Close()
			return nil, fmt.Errorf("write csv header for %s: %w", account, err)
		}
		cf.w.Flush()
	}
	c.files[account] = cf
	return cf, nil
}

// Close flushes and closes every open file.
func (c *CSVSink) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	var first error
	for account, cf := range c.files {
		cf.w.Flush()
		if err := cf.f.Close(); err != nil && first == nil {
			first = err
		}
		delete(c.files, account)
	}
	return first
}
