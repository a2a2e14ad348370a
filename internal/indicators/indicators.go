// Package indicators implements the technical indicators exposed through the
// indicator_calc tool: RSI, SMA, EMA, ATR, MACD, BBANDS. Every function
// returns the latest value over the supplied window together with an ok flag;
// insufficient data yields ok=false, never an error and never NaN.
package indicators

import (
	"fmt"
	"math"
	"strings"

	"github.com/lyeka/agentic-bt/pkg/models"
)

// RSI calculates the latest Relative Strength Index using Wilder's smoothing.
// Needs period+1 closes.
func RSI(closes []float64, period int) (float64, bool) {
	if period <= 0 {
		period = 14
	}
	n := len(closes)
	if n < period+1 {
		return 0, false
	}

	var avgGain, avgLoss float64
	for i := 1; i <= period; i++ {
		change := closes[i] - closes[i-1]
		if change > 0 {
			avgGain += change
		} else {
			avgLoss += -change
		}
	}
	avgGain /= float64(period)
	avgLoss /= float64(period)

	for i := period + 1; i < n; i++ {
		change := closes[i] - closes[i-1]
		gain, loss := 0.0, 0.0
		if change > 0 {
			gain = change
		} else {
			loss = -change
		}
		avgGain = (avgGain*float64(period-1) + gain) / float64(period)
		avgLoss = (avgLoss*float64(period-1) + loss) / float64(period)
	}

	if avgLoss == 0 {
		return 100, true
	}
	rs := avgGain / avgLoss
	return 100 - (100 / (1 + rs)), true
}

// SMA calculates the latest simple moving average.
func SMA(closes []float64, period int) (float64, bool) {
	if period <= 0 {
		period = 20
	}
	if len(closes) < period {
		return 0, false
	}
	sum := 0.0
	for _, c := range closes[len(closes)-period:] {
		sum += c
	}
	return sum / float64(period), true
}

// EMA calculates the latest exponential moving average, seeded with the SMA of
// the first period values, k = 2/(period+1).
func EMA(closes []float64, period int) (float64, bool) {
	if period <= 0 {
		period = 20
	}
	series := emaSeries(closes, period)
	if series == nil {
		return 0, false
	}
	return series[len(series)-1], true
}

// ATR calculates the latest Average True Range with Wilder's smoothing. The
// first ATR is the simple average of the first period true ranges.
func ATR(bars []models.Bar, period int) (float64, bool) {
	if period <= 0 {
		period = 14
	}
	n := len(bars)
	if n < period+1 {
		return 0, false
	}

	tr := make([]float64, n)
	tr[0] = bars[0].High - bars[0].Low
	for i := 1; i < n; i++ {
		hl := bars[i].High - bars[i].Low
		hc := math.Abs(bars[i].High - bars[i-1].Close)
		lc := math.Abs(bars[i].Low - bars[i-1].Close)
		tr[i] = math.Max(hl, math.Max(hc, lc))
	}

	sum := 0.0
	for i := 0; i < period; i++ {
		sum += tr[i]
	}
	atr := sum / float64(period)
	for i := period; i < n; i++ {
		atr = (atr*float64(period-1) + tr[i]) / float64(period)
	}
	return atr, true
}

// MACDValue holds one MACD reading.
type MACDValue struct {
	MACD      float64
	Signal    float64
	Histogram float64
}

// MACD calculates the latest MACD line, signal line, and histogram.
// Needs slow+signal-1 closes.
func MACD(closes []float64, fast, slow, signal int) (MACDValue, bool) {
	if fast <= 0 {
		fast = 12
	}
	if slow <= 0 {
		slow = 26
	}
	if signal <= 0 {
		signal = 9
	}
	n := len(closes)
	if n < slow+signal-1 {
		return MACDValue{}, false
	}

	fastEMA := emaSeries(closes, fast)
	slowEMA := emaSeries(closes, slow)
	macdLine := make([]float64, n)
	for i := 0; i < n; i++ {
		macdLine[i] = fastEMA[i] - slowEMA[i]
	}
	// The MACD line is meaningful from index slow-1 on; seed the signal there.
	signalLine := emaSeries(macdLine[slow-1:], signal)
	if signalLine == nil {
		return MACDValue{}, false
	}

	m := macdLine[n-1]
	s := signalLine[len(signalLine)-1]
	return MACDValue{MACD: m, Signal: s, Histogram: m - s}, true
}

// BollingerValue holds one Bollinger Bands reading.
type BollingerValue struct {
	Upper  float64
	Middle float64
	Lower  float64
}

// Bollinger calculates the latest Bollinger Bands with a population standard
// deviation over the window.
func Bollinger(closes []float64, period int, mult float64) (BollingerValue, bool) {
	if period <= 0 {
		period = 20
	}
	if mult <= 0 {
		mult = 2.0
	}
	if len(closes) < period {
		return BollingerValue{}, false
	}
	window := closes[len(closes)-period:]
	mean := 0.0
	for _, v := range window {
		mean += v
	}
	mean /= float64(period)
	sumSq := 0.0
	for _, v := range window {
		d := v - mean
		sumSq += d * d
	}
	sd := math.Sqrt(sumSq / float64(period))
	return BollingerValue{
		Upper:  mean + mult*sd,
		Middle: mean,
		Lower:  mean - mult*sd,
	}, true
}

// Closes extracts the close series from a bar window.
func Closes(bars []models.Bar) []float64 {
	out := make([]float64, len(bars))
	for i, b := range bars {
		out[i] = b.Close
	}
	return out
}

// Latest dispatches an indicator_calc request by name and renders the result
// the way the toolkit returns it to the model. Unknown names come back as an
// error payload; insufficient data comes back as nil values.
func Latest(name string, bars []models.Bar, period int) map[string]any {
	closes := Closes(bars)
	switch strings.ToUpper(name) {
	case "RSI":
		if v, ok := RSI(closes, period); ok {
			return map[string]any{"value": round4(v)}
		}
		return map[string]any{"value": nil}
	case "SMA":
		if v, ok := SMA(closes, period); ok {
			return map[string]any{"value": round4(v)}
		}
		return map[string]any{"value": nil}
	case "EMA":
		if v, ok := EMA(closes, period); ok {
			return map[string]any{"value": round4(v)}
		}
		return map[string]any{"value": nil}
	case "ATR":
		if v, ok := ATR(bars, period); ok {
			return map[string]any{"value": round4(v)}
		}
		return map[string]any{"value": nil}
	case "MACD":
		if v, ok := MACD(closes, 0, 0, 0); ok {
			return map[string]any{
				"macd":      round4(v.MACD),
				"signal":    round4(v.Signal),
				"histogram": round4(v.Histogram),
			}
		}
		return map[string]any{"macd": nil, "signal": nil, "histogram": nil}
	case "BBANDS":
		p := period
		if p <= 0 {
			p = 20
		}
		if v, ok := Bollinger(closes, p, 2.0); ok {
			return map[string]any{
				"upper": round4(v.Upper),
				"mid":   round4(v.Middle),
				"lower": round4(v.Lower),
			}
		}
		return map[string]any{"upper": nil, "mid": nil, "lower": nil}
	default:
		return map[string]any{
			"error": fmt.Sprintf("未知指标: %s，可用: RSI/SMA/EMA/ATR/MACD/BBANDS", strings.ToUpper(name)),
		}
	}
}

// emaSeries computes the full EMA series, nil when data is shorter than period.
func emaSeries(data []float64, period int) []float64 {
	n := len(data)
	if n < period || period <= 0 {
		return nil
	}
	ema := make([]float64, n)
	k := 2.0 / float64(period+1)
	sum := 0.0
	for i := 0; i < period; i++ {
		sum += data[i]
	}
	ema[period-1] = sum / float64(period)
	for i := 0; i < period-1; i++ {
		ema[i] = ema[period-1]
	}
	for i := period; i < n; i++ {
		ema[i] = data[i]*k + ema[i-1]*(1-k)
	}
	return ema
}

func round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}
