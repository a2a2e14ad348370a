package indicators

import (
	"math"
	"strings"
	"testing"
	"time"

	"github.com/lyeka/agentic-bt/pkg/models"
)

// ════════════════════════════════════════════════════════════
// Helpers
// ════════════════════════════════════════════════════════════

func barsFromCloses(closes ...float64) []models.Bar {
	start := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	bars := make([]models.Bar, len(closes))
	for i, c := range closes {
		bars[i] = models.Bar{
			Symbol:   "TEST",
			Datetime: start.AddDate(0, 0, i),
			Open:     c,
			High:     c + 1,
			Low:      c - 1,
			Close:    c,
			Volume:   1_000_000,
			Index:    i,
		}
	}
	return bars
}

func constantCloses(value float64, n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = value
	}
	return out
}

// ════════════════════════════════════════════════════════════
// RSI
// ════════════════════════════════════════════════════════════

func TestRSIAllGains(t *testing.T) {
	closes := []float64{100, 101, 102, 103, 104, 105, 106, 107, 108, 109, 110, 111, 112, 113, 114}
	rsi, ok := RSI(closes, 14)
	if !ok {
		t.Fatal("expected RSI to be computable with 15 closes")
	}
	if rsi != 100 {
		t.Errorf("expected RSI 100 for pure uptrend, got %v", rsi)
	}
}

func TestRSIKnownSequence(t *testing.T) {
	closes := []float64{
		44.00, 44.34, 44.09, 44.15, 43.61, 44.33, 44.83, 45.10,
		45.42, 45.84, 46.08, 45.89, 46.03, 45.61, 46.28,
	}
	rsi, ok := RSI(closes, 14)
	if !ok {
		t.Fatal("expected RSI to be computable")
	}
	// gains sum 3.68, losses sum 1.40 over the first 14 changes
	want := 100 - 100/(1+3.68/1.40)
	if math.Abs(rsi-want) > 0.01 {
		t.Errorf("expected RSI near %.4f, got %.4f", want, rsi)
	}
}

func TestRSIInsufficientData(t *testing.T) {
	closes := []float64{100, 101, 102}
	if _, ok := RSI(closes, 14); ok {
		t.Error("expected ok=false with 3 closes and period 14")
	}
}

func TestRSIDefaultPeriod(t *testing.T) {
	closes := make([]float64, 20)
	for i := range closes {
		closes[i] = 100 + float64(i)
	}
	rsi, ok := RSI(closes, 0)
	if !ok {
		t.Fatal("expected default period 14 to apply")
	}
	if rsi != 100 {
		t.Errorf("expected RSI 100, got %v", rsi)
	}
}

// ════════════════════════════════════════════════════════════
// SMA / EMA
// ════════════════════════════════════════════════════════════

func TestSMALatestWindow(t *testing.T) {
	closes := []float64{1, 2, 3, 4, 5}
	sma, ok := SMA(closes, 3)
	if !ok {
		t.Fatal("expected SMA to be computable")
	}
	if math.Abs(sma-4) > 1e-9 {
		t.Errorf("expected SMA 4, got %v", sma)
	}
}

func TestSMAInsufficientData(t *testing.T) {
	if _, ok := SMA([]float64{1, 2}, 5); ok {
		t.Error("expected ok=false with 2 closes and period 5")
	}
}

func TestEMASeededWithSMA(t *testing.T) {
	closes := []float64{1, 2, 3, 4, 5}
	ema, ok := EMA(closes, 3)
	if !ok {
		t.Fatal("expected EMA to be computable")
	}
	// seed (1+2+3)/3 = 2, k = 0.5: then 4*0.5+2*0.5 = 3, then 5*0.5+3*0.5 = 4
	if math.Abs(ema-4) > 1e-9 {
		t.Errorf("expected EMA 4, got %v", ema)
	}
}

func TestEMAConstantSeries(t *testing.T) {
	ema, ok := EMA(constantCloses(50, 30), 10)
	if !ok {
		t.Fatal("expected EMA to be computable")
	}
	if math.Abs(ema-50) > 1e-9 {
		t.Errorf("expected EMA 50 on constant series, got %v", ema)
	}
}

// ════════════════════════════════════════════════════════════
// ATR
// ════════════════════════════════════════════════════════════

func TestATRConstantRange(t *testing.T) {
	bars := barsFromCloses(constantCloses(100, 20)...)
	atr, ok := ATR(bars, 14)
	if !ok {
		t.Fatal("expected ATR to be computable with 20 bars")
	}
	// every bar spans high 101 low 99 with no gaps, so TR is always 2
	if math.Abs(atr-2) > 1e-9 {
		t.Errorf("expected ATR 2, got %v", atr)
	}
}

func TestATRGapUp(t *testing.T) {
	bars := barsFromCloses(100, 100, 100)
	bars = append(bars, models.Bar{
		Symbol: "TEST", Datetime: bars[2].Datetime.AddDate(0, 0, 1),
		Open: 110, High: 111, Low: 109, Close: 110, Volume: 1_000_000, Index: 3,
	})
	atr, ok := ATR(bars, 3)
	if !ok {
		t.Fatal("expected ATR to be computable")
	}
	// TRs: 2, 2, 2, then max(2, |111-100|, |109-100|) = 11
	// seed (2+2+2)/3 = 2, then (2*2+11)/3 = 5
	if math.Abs(atr-5) > 1e-9 {
		t.Errorf("expected ATR 5 after gap up, got %v", atr)
	}
}

func TestATRInsufficientData(t *testing.T) {
	if _, ok := ATR(barsFromCloses(100, 101), 14); ok {
		t.Error("expected ok=false with 2 bars and period 14")
	}
}

// ════════════════════════════════════════════════════════════
// MACD
// ════════════════════════════════════════════════════════════

func TestMACDConstantSeries(t *testing.T) {
	v, ok := MACD(constantCloses(100, 40), 12, 26, 9)
	if !ok {
		t.Fatal("expected MACD to be computable with 40 closes")
	}
	if math.Abs(v.MACD) > 1e-9 || math.Abs(v.Signal) > 1e-9 || math.Abs(v.Histogram) > 1e-9 {
		t.Errorf("expected zero MACD on constant series, got %+v", v)
	}
}

func TestMACDUptrendPositive(t *testing.T) {
	closes := make([]float64, 60)
	for i := range closes {
		closes[i] = 100 + float64(i)
	}
	v, ok := MACD(closes, 12, 26, 9)
	if !ok {
		t.Fatal("expected MACD to be computable")
	}
	if v.MACD <= 0 {
		t.Errorf("expected positive MACD in steady uptrend, got %v", v.MACD)
	}
}

func TestMACDInsufficientData(t *testing.T) {
	if _, ok := MACD(constantCloses(100, 33), 12, 26, 9); ok {
		t.Error("expected ok=false with 33 closes, minimum is 34")
	}
}

// ════════════════════════════════════════════════════════════
// Bollinger Bands
// ════════════════════════════════════════════════════════════

func TestBollingerPopulationStddev(t *testing.T) {
	closes := []float64{2, 4, 4, 4, 5, 5, 7, 9}
	v, ok := Bollinger(closes, 8, 2.0)
	if !ok {
		t.Fatal("expected bands to be computable")
	}
	// mean 5, population stddev 2
	if math.Abs(v.Middle-5) > 1e-9 {
		t.Errorf("expected middle 5, got %v", v.Middle)
	}
	if math.Abs(v.Upper-9) > 1e-9 {
		t.Errorf("expected upper 9, got %v", v.Upper)
	}
	if math.Abs(v.Lower-1) > 1e-9 {
		t.Errorf("expected lower 1, got %v", v.Lower)
	}
}

func TestBollingerConstantSeries(t *testing.T) {
	v, ok := Bollinger(constantCloses(80, 25), 20, 2.0)
	if !ok {
		t.Fatal("expected bands to be computable")
	}
	if v.Upper != 80 || v.Middle != 80 || v.Lower != 80 {
		t.Errorf("expected collapsed bands at 80, got %+v", v)
	}
}

// ════════════════════════════════════════════════════════════
// Latest dispatcher
// ════════════════════════════════════════════════════════════

func TestLatestUnknownIndicator(t *testing.T) {
	out := Latest("VWAP", barsFromCloses(100, 101, 102), 14)
	errMsg, ok := out["error"].(string)
	if !ok {
		t.Fatalf("expected error payload, got %v", out)
	}
	if !strings.Contains(errMsg, "未知指标") {
		t.Errorf("expected 未知指标 in error, got %q", errMsg)
	}
	if !strings.Contains(errMsg, "VWAP") {
		t.Errorf("expected indicator name in error, got %q", errMsg)
	}
}

func TestLatestCaseInsensitive(t *testing.T) {
	bars := barsFromCloses(constantCloses(100, 30)...)
	out := Latest("rsi", bars, 14)
	if _, hasErr := out["error"]; hasErr {
		t.Fatalf("expected lowercase name to dispatch, got %v", out)
	}
	if _, hasValue := out["value"]; !hasValue {
		t.Errorf("expected value key, got %v", out)
	}
}

func TestLatestInsufficientDataNilValue(t *testing.T) {
	out := Latest("RSI", barsFromCloses(100, 101), 14)
	v, present := out["value"]
	if !present {
		t.Fatalf("expected value key, got %v", out)
	}
	if v != nil {
		t.Errorf("expected nil value with insufficient data, got %v", v)
	}
}

func TestLatestMACDShape(t *testing.T) {
	bars := barsFromCloses(constantCloses(100, 40)...)
	out := Latest("MACD", bars, 0)
	for _, key := range []string{"macd", "signal", "histogram"} {
		if _, present := out[key]; !present {
			t.Errorf("expected key %q in MACD payload, got %v", key, out)
		}
	}
}

func TestLatestBollingerShape(t *testing.T) {
	bars := barsFromCloses(constantCloses(100, 25)...)
	out := Latest("BBANDS", bars, 20)
	for _, key := range []string{"upper", "mid", "lower"} {
		v, present := out[key]
		if !present {
			t.Fatalf("expected key %q in BBANDS payload, got %v", key, out)
		}
		if math.Abs(v.(float64)-100) > 1e-9 {
			t.Errorf("expected %q = 100, got %v", key, v)
		}
	}
}

func TestLatestRoundsToFourDecimals(t *testing.T) {
	closes := []float64{1, 2, 2, 3, 3, 3, 4}
	bars := barsFromCloses(closes...)
	out := Latest("SMA", bars, 3)
	got := out["value"].(float64)
	want := math.Round((3+3+4)/3.0*10000) / 10000
	if got != want {
		t.Errorf("expected %v, got %v", want, got)
	}
}
