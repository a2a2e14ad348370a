// Package models defines the shared data types of the backtesting framework:
// market bars, orders, fills, account state, agent decisions, and result
// reports. All prices are float64, quantities are int, timestamps are time.Time.
package models

import "time"

// Bar represents a single OHLCV candle within a backtest series.
type Bar struct {
	Symbol   string    `json:"symbol"`
	Datetime time.Time `json:"datetime"`
	Open     float64   `json:"open"`
	High     float64   `json:"high"`
	Low      float64   `json:"low"`
	Close    float64   `json:"close"`
	Volume   float64   `json:"volume"`
	Index    int       `json:"index"` // position within the series, 0-based
}

// MarketSnapshot is the engine's view of one symbol at the current bar.
type MarketSnapshot struct {
	Datetime time.Time `json:"datetime"`
	BarIndex int       `json:"bar_index"`
	Symbol   string    `json:"symbol"`
	Open     float64   `json:"open"`
	High     float64   `json:"high"`
	Low      float64   `json:"low"`
	Close    float64   `json:"close"`
	Volume   float64   `json:"volume"`
}

// AccountSnapshot is the engine's view of cash, equity, and open positions.
// Equity is cash plus the mark-to-market value of every position.
type AccountSnapshot struct {
	Cash      float64             `json:"cash"`
	Equity    float64             `json:"equity"`
	Positions map[string]Position `json:"positions"`
}

// EventType classifies engine events surfaced to the agent between bars.
type EventType string

const (
	EventFill      EventType = "fill"
	EventExpired   EventType = "expired"
	EventCancelled EventType = "cancelled"
)

// EngineEvent records something that happened to an order during matching:
// a fill, an expiry, or an OCO/explicit cancellation.
type EngineEvent struct {
	Type     EventType      `json:"type"`
	OrderID  string         `json:"order_id"`
	Symbol   string         `json:"symbol"`
	BarIndex int            `json:"bar_index"`
	Datetime time.Time      `json:"datetime"`
	Detail   map[string]any `json:"detail"` // fill: price/quantity/side; expired/cancelled: empty
}
