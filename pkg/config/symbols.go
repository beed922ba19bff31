package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// SymbolConfig defines the trading parameters for one symbol and the
// accounts that trade it.
type SymbolConfig struct {
	Symbol               string        `yaml:"symbol"`
	Spread               float64       `yaml:"spread"`                 // ladder step, fraction of market price
	TakeProfit           float64       `yaml:"take_profit"`            // sell premium over buy price, fraction
	TrailingStopDistance float64       `yaml:"trailing_stop_distance"` // arming distance, fraction of buy price
	TradeAmount          float64       `yaml:"trade_amount"`           // base asset units per order
	MaxOrders            int           `yaml:"max_orders"`             // ladder depth
	MaxDailyLoss         float64       `yaml:"max_daily_loss"`         // realized loss fraction that halts the pair
	OrderTimeout         time.Duration `yaml:"order_timeout"`          // resting buy lifetime
	LoopInterval         time.Duration `yaml:"loop_interval"`          // pause between cycles
	Accounts             []string      `yaml:"accounts"`               // account IDs trading this symbol
}

// UnmarshalYAML accepts durations as strings ("5m", "30s") since the yaml
// package cannot decode those into time.Duration directly.
func (sc *SymbolConfig) UnmarshalYAML(node *yaml.Node) error {
	type raw struct {
		Symbol               string   `yaml:"symbol"`
		Spread               float64  `yaml:"spread"`
		TakeProfit           float64  `yaml:"take_profit"`
		TrailingStopDistance float64  `yaml:"trailing_stop_distance"`
		TradeAmount          float64  `yaml:"trade_amount"`
		MaxOrders            int      `yaml:"max_orders"`
		MaxDailyLoss         float64  `yaml:"max_daily_loss"`
		OrderTimeout         string   `yaml:"order_timeout"`
		LoopInterval         string   `yaml:"loop_interval"`
		Accounts             []string `yaml:"accounts"`
	}
	var r raw
	if err := node.Decode(&r); err != nil {
		return err
	}
	sc.Symbol = r.Symbol
	sc.Spread = r.Spread
	sc.TakeProfit = r.TakeProfit
	sc.TrailingStopDistance = r.TrailingStopDistance
	sc.TradeAmount = r.TradeAmount
	sc.MaxOrders = r.MaxOrders
	sc.MaxDailyLoss = r.MaxDailyLoss
	sc.Accounts = r.Accounts

	var err error
	if sc.OrderTimeout, err = parseOptionalDuration(r.OrderTimeout); err != nil {
		return fmt.Errorf("order_timeout: %w", err)
	}
	if sc.LoopInterval, err = parseOptionalDuration(r.LoopInterval); err != nil {
		return fmt.Errorf("loop_interval: %w", err)
	}
	return nil
}

func parseOptionalDuration(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	return time.ParseDuration(s)
}

// SymbolsFile is the top-level YAML document.
type SymbolsFile struct {
	Symbols []SymbolConfig `yaml:"symbols"`
}

// LoadSymbols reads and validates the YAML pair definitions.
func LoadSymbols(path string) ([]SymbolConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read symbols file: %w", err)
	}
	var file SymbolsFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse symbols file: %w", err)
	}
	if len(file.Symbols) == 0 {
		return nil, fmt.Errorf("symbols file %s defines no symbols", path)
	}
	seen := make(map[string]struct{}, len(file.Symbols))
	for i := range file.Symbols {
		sc := &file.Symbols[i]
		applySymbolDefaults(sc)
		if err := sc.Validate(); err != nil {
			return nil, fmt.Errorf("symbol %q: %w", sc.Symbol, err)
		}
		if _, dup := seen[sc.Symbol]; dup {
			return nil, fmt.Errorf("symbol %q defined twice", sc.Symbol)
		}
		seen[sc.Symbol] = struct{}{}
	}
	return file.Symbols, nil
}

func applySymbolDefaults(sc *SymbolConfig) {
	if sc.MaxOrders == 0 {
		sc.MaxOrders = 3
	}
	if sc.OrderTimeout == 0 {
		sc.OrderTimeout = 5 * time.Minute
	}
	if sc.LoopInterval == 0 {
		sc.LoopInterval = 5 * time.Second
	}
}

// Validate reports the first configuration error, if any.
func (sc SymbolConfig) Validate() error {
	switch {
	case sc.Symbol == "":
		return fmt.Errorf("symbol name is required")
	case sc.Spread <= 0 || sc.Spread >= 1:
		return fmt.Errorf("spread must be in (0, 1), got %g", sc.Spread)
	case sc.TakeProfit <= 0 || sc.TakeProfit >= 1:
		return fmt.Errorf("take_profit must be in (0, 1), got %g", sc.TakeProfit)
	case sc.TrailingStopDistance < 0 || sc.TrailingStopDistance >= 1:
		return fmt.Errorf("trailing_stop_distance must be in [0, 1), got %g", sc.TrailingStopDistance)
	case sc.TradeAmount <= 0:
		return fmt.Errorf("trade_amount must be positive, got %g", sc.TradeAmount)
	case sc.MaxOrders < 1:
		return fmt.Errorf("max_orders must be at least 1, got %d", sc.MaxOrders)
	case sc.MaxDailyLoss <= 0 || sc.MaxDailyLoss >= 1:
		return fmt.Errorf("max_daily_loss must be in (0, 1), got %g", sc.MaxDailyLoss)
	case sc.OrderTimeout < 0:
		return fmt.Errorf("order_timeout must not be negative")
	case len(sc.Accounts) == 0:
		return fmt.Errorf("at least one account is required")
	}
	return nil
}
