// Package frame provides the in-memory market data window handed to sandbox
// code. A Frame wraps the bars visible up to the current index and exposes
// its numeric columns as Series values with elementwise, rolling, and
// shifting operations. Missing values are IEEE NaN throughout.
package frame

import (
	"errors"
	"time"

	"github.com/lyeka/agentic-bt/pkg/models"
)

var (
	// ErrIndexOutOfRange is returned by positional access past either end.
	ErrIndexOutOfRange = errors.New("index out of range")
	// ErrLengthMismatch is returned by elementwise operations on series of
	// different lengths.
	ErrLengthMismatch = errors.New("series length mismatch")
)

// ColumnNames lists the frame columns in presentation order.
var ColumnNames = []string{"date", "open", "high", "low", "close", "volume"}

// Frame is a read-only window over a bar history.
type Frame struct {
	symbol string
	bars   []models.Bar
}

// New builds a frame over the given bars. The slice is retained, not copied.
func New(symbol string, bars []models.Bar) *Frame {
	return &Frame{symbol: symbol, bars: bars}
}

// Symbol returns the instrument the frame covers.
func (f *Frame) Symbol() string { return f.symbol }

// Len returns the number of rows.
func (f *Frame) Len() int { return len(f.bars) }

// Bars returns the underlying bar slice.
func (f *Frame) Bars() []models.Bar { return f.bars }

// Columns returns the column names, date first.
func (f *Frame) Columns() []string {
	out := make([]string, len(ColumnNames))
	copy(out, ColumnNames)
	return out
}

// Dates returns the date column.
func (f *Frame) Dates() []time.Time {
	out := make([]time.Time, len(f.bars))
	for i, b := range f.bars {
		out[i] = b.Datetime
	}
	return out
}

// Column returns the named numeric column. The date column is not numeric;
// use Dates. ok is false for any other name.
func (f *Frame) Column(name string) (*Series, bool) {
	pick := func(get func(models.Bar) float64) *Series {
		vals := make([]float64, len(f.bars))
		for i, b := range f.bars {
			vals[i] = get(b)
		}
		return &Series{name: name, vals: vals}
	}
	switch name {
	case "open":
		return pick(func(b models.Bar) float64 { return b.Open }), true
	case "high":
		return pick(func(b models.Bar) float64 { return b.High }), true
	case "low":
		return pick(func(b models.Bar) float64 { return b.Low }), true
	case "close":
		return pick(func(b models.Bar) float64 { return b.Close }), true
	case "volume":
		return pick(func(b models.Bar) float64 { return b.Volume }), true
	default:
		return nil, false
	}
}

// Tail returns a frame over the last n rows, clamped to the available data.
func (f *Frame) Tail(n int) *Frame {
	if n < 0 {
		n = 0
	}
	if n > len(f.bars) {
		n = len(f.bars)
	}
	return &Frame{symbol: f.symbol, bars: f.bars[len(f.bars)-n:]}
}
