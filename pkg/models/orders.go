package models

import "time"

// Side represents the direction of an order.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// Opposite returns the other side.
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// OrdType represents the matching semantics of an order.
type OrdType string

const (
	OrdMarket OrdType = "market"
	OrdLimit  OrdType = "limit"
	OrdStop   OrdType = "stop"
)

// Order is a pending instruction in the engine's book. LimitPrice is consulted
// for limit orders, StopPrice for stop orders. ValidBars 0 means good till
// cancelled; N > 0 expires the order once the current bar is more than N bars
// past BarIndex.
type Order struct {
	ID         string  `json:"order_id"`
	Symbol     string  `json:"symbol"`
	Side       Side    `json:"side"`
	Type       OrdType `json:"order_type"`
	Quantity   int     `json:"quantity"`
	LimitPrice float64 `json:"limit_price,omitempty"`
	StopPrice  float64 `json:"stop_price,omitempty"`
	ValidBars  int     `json:"valid_bars,omitempty"`
	BarIndex   int     `json:"bar_index"` // bar on which the order was submitted
}

// RejectedOrder pairs a refused order with the gate that refused it.
type RejectedOrder struct {
	Order  Order  `json:"order"`
	Reason string `json:"reason"`
}

// Fill records an execution against a bar.
type Fill struct {
	OrderID    string    `json:"order_id"`
	Symbol     string    `json:"symbol"`
	Side       Side      `json:"side"`
	Quantity   int       `json:"quantity"`
	Price      float64   `json:"price"`
	Commission float64   `json:"commission"`
	Datetime   time.Time `json:"datetime"`
	BarIndex   int       `json:"bar_index"`
}

// Position is an open holding. Size is signed: positive long, negative short.
// Positions are removed from the account once Size returns to zero.
type Position struct {
	Symbol        string  `json:"symbol"`
	Size          int     `json:"size"`
	AvgPrice      float64 `json:"avg_price"`
	RealizedPnl   float64 `json:"realized_pnl"`
	UnrealizedPnl float64 `json:"unrealized_pnl"`
}

// UpdateUnrealized recomputes the mark-to-market P&L against a price.
func (p *Position) UpdateUnrealized(price float64) {
	p.UnrealizedPnl = (price - p.AvgPrice) * float64(p.Size)
}

// TradeLogEntry records a realized (position-reducing) trade. BuyPrice is the
// average entry price rounded to 4 decimals, SellPrice the exit fill price.
type TradeLogEntry struct {
	Symbol     string    `json:"symbol"`
	Quantity   int       `json:"quantity"`
	BuyPrice   float64   `json:"buy_price"`
	SellPrice  float64   `json:"sell_price"`
	Pnl        float64   `json:"pnl"`
	Commission float64   `json:"commission"`
	Datetime   time.Time `json:"datetime"`
	BarIndex   int       `json:"bar_index"`
}
