package indicators

import "math"

// Series variants of the indicator functions. Outputs are aligned with the
// input index and carry NaN until enough data has accumulated, so the sandbox
// and the indicator_calc tool agree wherever both are defined.

// RSISeries computes the full RSI series. Values start at index period.
func RSISeries(closes []float64, period int) []float64 {
	if period <= 0 {
		period = 14
	}
	n := len(closes)
	out := nanSlice(n)
	if n < period+1 {
		return out
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
	out[period] = rsiFrom(avgGain, avgLoss)

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
		out[i] = rsiFrom(avgGain, avgLoss)
	}
	return out
}

// SMASeries computes the full simple moving average series. Values start at
// index period-1.
func SMASeries(data []float64, period int) []float64 {
	if period <= 0 {
		period = 20
	}
	n := len(data)
	out := nanSlice(n)
	if n < period {
		return out
	}
	sum := 0.0
	for i := 0; i < n; i++ {
		sum += data[i]
		if i >= period {
			sum -= data[i-period]
		}
		if i >= period-1 {
			out[i] = sum / float64(period)
		}
	}
	return out
}

// EMASeries computes the full exponential moving average series, SMA-seeded.
// Values start at index period-1.
func EMASeries(data []float64, period int) []float64 {
	if period <= 0 {
		period = 20
	}
	n := len(data)
	out := nanSlice(n)
	if n < period {
		return out
	}
	k := 2.0 / float64(period+1)
	sum := 0.0
	for i := 0; i < period; i++ {
		sum += data[i]
	}
	out[period-1] = sum / float64(period)
	for i := period; i < n; i++ {
		out[i] = data[i]*k + out[i-1]*(1-k)
	}
	return out
}

// ATRSeries computes the full ATR series over parallel high/low/close slices.
// The first true range is high-low; values start at index period-1.
func ATRSeries(highs, lows, closes []float64, period int) []float64 {
	if period <= 0 {
		period = 14
	}
	n := len(closes)
	out := nanSlice(n)
	if n < period || len(highs) != n || len(lows) != n {
		return out
	}

	tr := make([]float64, n)
	tr[0] = highs[0] - lows[0]
	for i := 1; i < n; i++ {
		hl := highs[i] - lows[i]
		hc := math.Abs(highs[i] - closes[i-1])
		lc := math.Abs(lows[i] - closes[i-1])
		tr[i] = math.Max(hl, math.Max(hc, lc))
	}

	sum := 0.0
	for i := 0; i < period; i++ {
		sum += tr[i]
	}
	out[period-1] = sum / float64(period)
	for i := period; i < n; i++ {
		out[i] = (out[i-1]*float64(period-1) + tr[i]) / float64(period)
	}
	return out
}

// MACDSeries computes the full MACD, signal, and histogram series. The MACD
// line starts at index slow-1, the signal and histogram at slow+signal-2.
func MACDSeries(closes []float64, fast, slow, signal int) (macd, sig, hist []float64) {
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
	macd = nanSlice(n)
	sig = nanSlice(n)
	hist = nanSlice(n)
	if n < slow {
		return macd, sig, hist
	}

	fastEMA := emaSeries(closes, fast)
	slowEMA := emaSeries(closes, slow)
	for i := slow - 1; i < n; i++ {
		macd[i] = fastEMA[i] - slowEMA[i]
	}
	sigPart := EMASeries(macd[slow-1:], signal)
	for i, v := range sigPart {
		sig[slow-1+i] = v
		if !math.IsNaN(v) {
			hist[slow-1+i] = macd[slow-1+i] - v
		}
	}
	return macd, sig, hist
}

// BollingerSeries computes the full Bollinger Bands series with a population
// standard deviation. Values start at index period-1.
func BollingerSeries(closes []float64, period int, mult float64) (upper, middle, lower []float64) {
	if period <= 0 {
		period = 20
	}
	if mult <= 0 {
		mult = 2.0
	}
	n := len(closes)
	upper = nanSlice(n)
	middle = nanSlice(n)
	lower = nanSlice(n)
	if n < period {
		return upper, middle, lower
	}
	for i := period - 1; i < n; i++ {
		window := closes[i-period+1 : i+1]
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
		middle[i] = mean
		upper[i] = mean + mult*sd
		lower[i] = mean - mult*sd
	}
	return upper, middle, lower
}

func rsiFrom(avgGain, avgLoss float64) float64 {
	if avgLoss == 0 {
		return 100
	}
	rs := avgGain / avgLoss
	return 100 - (100 / (1 + rs))
}

func nanSlice(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = math.NaN()
	}
	return out
}
