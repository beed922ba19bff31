package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeSymbols(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "symbols.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write symbols: %v", err)
	}
	return path
}

func TestLoadSymbols(t *testing.T) {
	path := writeSymbols(t, `
symbols:
  - symbol: BTC/USDT
    spread: 0.002
    take_profit: 0.02
    trailing_stop_distance: 0.01
    trade_amount: 0.001
    max_orders: 5
    max_daily_loss: 0.05
    order_timeout: 10m
    loop_interval: 3s
    accounts: [main, second]
  - symbol: ETH/USDT
    spread: 0.003
    take_profit: 0.025
    trade_amount: 0.01
    max_daily_loss: 0.05
    accounts: [main]
`)
	symbols, err := LoadSymbols(path)
	if err != nil {
		t.Fatalf("LoadSymbols: %v", err)
	}
	if len(symbols) != 2 {
		t.Fatalf("symbols = %d, want 2", len(symbols))
	}

	btc := symbols[0]
	if btc.Symbol != "BTC/USDT" || btc.MaxOrders != 5 {
		t.Errorf("btc = %+v", btc)
	}
	if btc.OrderTimeout != 10*time.Minute || btc.LoopInterval != 3*time.Second {
		t.Errorf("btc durations = %v, %v", btc.OrderTimeout, btc.LoopInterval)
	}
	if len(btc.Accounts) != 2 {
		t.Errorf("btc accounts = %v", btc.Accounts)
	}

	// Defaults fill unset fields.
	eth := symbols[1]
	if eth.MaxOrders != 3 || eth.OrderTimeout != 5*time.Minute || eth.LoopInterval != 5*time.Second {
		t.Errorf("eth defaults = %+v", eth)
	}
}

func TestLoadSymbolsRejectsBadConfig(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"empty file", "symbols: []"},
		{"duplicate symbol", `
symbols:
  - {symbol: BTC/USDT, spread: 0.01, take_profit: 0.02, trade_amount: 1, max_daily_loss: 0.1, accounts: [a]}
  - {symbol: BTC/USDT, spread: 0.01, take_profit: 0.02, trade_amount: 1, max_daily_loss: 0.1, accounts: [a]}
`},
		{"zero spread", `
symbols:
  - {symbol: BTC/USDT, spread: 0, take_profit: 0.02, trade_amount: 1, max_daily_loss: 0.1, accounts: [a]}
`},
		{"take profit above one", `
symbols:
  - {symbol: BTC/USDT, spread: 0.01, take_profit: 1.5, trade_amount: 1, max_daily_loss: 0.1, accounts: [a]}
`},
		{"no accounts", `
symbols:
  - {symbol: BTC/USDT, spread: 0.01, take_profit: 0.02, trade_amount: 1, max_daily_loss: 0.1}
`},
		{"bad duration", `
symbols:
  - {symbol: BTC/USDT, spread: 0.01, take_profit: 0.02, trade_amount: 1, max_daily_loss: 0.1, order_timeout: soon, accounts: [a]}
`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := LoadSymbols(writeSymbols(t, tt.content)); err == nil {
				t.Error("expected error, got nil")
			}
		})
	}
}

func TestLoadSymbolsMissingFile(t *testing.T) {
	if _, err := LoadSymbols(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}
