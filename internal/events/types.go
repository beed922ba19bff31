package events

import "time"

// Event enumerates high-level topics inside the engine.
type Event string

const (
	EventPriceTick     Event = "price_tick"
	EventOrderPlaced   Event = "order.placed"
	EventOrderFilled   Event = "order.filled"
	EventOrderCanceled Event = "order.canceled"
	EventTradeRecorded Event = "trade.recorded"
	EventPairStatus    Event = "pair.status"
	EventRiskAlert     Event = "risk.alert"
	EventConnState     Event = "conn.state"
)

// PriceTick is published for every successful ticker refresh.
type PriceTick struct {
	Account string    `json:"account"`
	Symbol  string    `json:"symbol"`
	Price   float64   `json:"price"`
	At      time.Time `json:"at"`
}

// OrderEvent accompanies order lifecycle topics.
type OrderEvent struct {
	Account string    `json:"account"`
	Symbol  string    `json:"symbol"`
	OrderID string    `json:"order_id"`
	Side    string    `json:"side"`
	Price   float64   `json:"price"`
	Amount  float64   `json:"amount"`
	At      time.Time `json:"at"`
}

// TradeRecorded mirrors the row appended to the ledger's trade history.
type TradeRecorded struct {
	Account string    `json:"account"`
	Symbol  string    `json:"symbol"`
	OrderID string    `json:"order_id"`
	RefID   string    `json:"ref_id,omitempty"`
	Side    string    `json:"side"`
	Kind    string    `json:"kind"`
	Price   float64   `json:"price"`
	Amount  float64   `json:"amount"`
	At      time.Time `json:"at"`
}

// PairStatusChange reports activation flips with their cause.
type PairStatusChange struct {
	Account string    `json:"account"`
	Symbol  string    `json:"symbol"`
	Active  bool      `json:"active"`
	Reason  string    `json:"reason"`
	At      time.Time `json:"at"`
}

// RiskAlert reports a tripped risk rule.
type RiskAlert struct {
	Account string    `json:"account"`
	Symbol  string    `json:"symbol"`
	Rule    string    `json:"rule"`
	Detail  string    `json:"detail"`
	At      time.Time `json:"at"`
}

// ConnStateChange reports account connection transitions.
type ConnStateChange struct {
	Account string    `json:"account"`
	State   string    `json:"state"`
	At      time.Time `json:"at"`
}
