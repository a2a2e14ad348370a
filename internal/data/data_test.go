package data

import (
	"context"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/lyeka/agentic-bt/pkg/models"
)

// ════════════════════════════════════════════════════════════
// Helpers
// ════════════════════════════════════════════════════════════

func writeCSV(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "bars.csv")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func pctChangeStd(bars []models.Bar) float64 {
	var returns []float64
	for i := 1; i < len(bars); i++ {
		returns = append(returns, bars[i].Close/bars[i-1].Close-1)
	}
	var sum float64
	for _, r := range returns {
		sum += r
	}
	mean := sum / float64(len(returns))
	var sq float64
	for _, r := range returns {
		sq += (r - mean) * (r - mean)
	}
	return math.Sqrt(sq / float64(len(returns)))
}

func avgClose(bars []models.Bar) float64 {
	var sum float64
	for _, b := range bars {
		sum += b.Close
	}
	return sum / float64(len(bars))
}

// ════════════════════════════════════════════════════════════
// LoadCSV
// ════════════════════════════════════════════════════════════

func TestLoadCSVYahooDialect(t *testing.T) {
	path := writeCSV(t, strings.Join([]string{
		"Date,Open,High,Low,Close,Adj Close,Volume",
		"2024-01-03,102,106,101,105,105,1200000",
		"2024-01-02,100,104,99,103,103,1000000",
	}, "\n"))

	bars, err := LoadCSV(path, "AAPL")
	if err != nil {
		t.Fatal(err)
	}
	if len(bars) != 2 {
		t.Fatalf("expected 2 bars, got %d", len(bars))
	}
	// Sorted ascending even though the file was reversed.
	if !bars[0].Datetime.Before(bars[1].Datetime) {
		t.Errorf("bars not sorted by date: %v, %v", bars[0].Datetime, bars[1].Datetime)
	}
	if bars[0].Close != 103 || bars[1].Close != 105 {
		t.Errorf("close prices wrong after sort: %v, %v", bars[0].Close, bars[1].Close)
	}
	if bars[0].Index != 0 || bars[1].Index != 1 {
		t.Errorf("indices not restamped after sort: %d, %d", bars[0].Index, bars[1].Index)
	}
	for _, b := range bars {
		if b.Symbol != "AAPL" {
			t.Errorf("symbol not stamped: %q", b.Symbol)
		}
	}
}

func TestLoadCSVMissingColumns(t *testing.T) {
	path := writeCSV(t, "Date,Open,High,Low\n2024-01-02,100,104,99\n")

	_, err := LoadCSV(path, "AAPL")
	if err == nil {
		t.Fatal("expected error for missing close/volume columns")
	}
	if !strings.Contains(err.Error(), "CSV 缺少必要列") {
		t.Errorf("error = %v, want 缺少必要列 message", err)
	}
	if !strings.Contains(err.Error(), "close") || !strings.Contains(err.Error(), "volume") {
		t.Errorf("error should name the missing columns: %v", err)
	}
}

func TestLoadCSVDateAutoDetect(t *testing.T) {
	// No direct alias, but trade_date contains "date".
	path := writeCSV(t, strings.Join([]string{
		"trade_date,open,high,low,close,volume",
		"20240103,102,106,101,105,1200000",
		"20240102,100,104,99,103,1000000",
	}, "\n"))

	bars, err := LoadCSV(path, "000001.SZ")
	if err != nil {
		t.Fatal(err)
	}
	want := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	if !bars[0].Datetime.Equal(want) {
		t.Errorf("first bar date = %v, want %v", bars[0].Datetime, want)
	}
}

func TestLoadCSVNoDateColumn(t *testing.T) {
	path := writeCSV(t, "open,high,low,close,volume\n100,104,99,103,1000000\n")

	bars, err := LoadCSV(path, "X")
	if err != nil {
		t.Fatal(err)
	}
	if !bars[0].Datetime.IsZero() {
		t.Errorf("expected zero datetime without a date column, got %v", bars[0].Datetime)
	}
}

func TestLoadCSVCoercesBadNumbers(t *testing.T) {
	path := writeCSV(t, "date,open,high,low,close,volume\n2024-01-02,100,104,99,n/a,1000000\n")

	bars, err := LoadCSV(path, "X")
	if err != nil {
		t.Fatal(err)
	}
	if !math.IsNaN(bars[0].Close) {
		t.Errorf("unparseable close should coerce to NaN, got %v", bars[0].Close)
	}
}

func TestLoadCSVBadDateFails(t *testing.T) {
	path := writeCSV(t, "date,open,high,low,close,volume\nnot-a-date,100,104,99,103,1000000\n")

	if _, err := LoadCSV(path, "X"); err == nil {
		t.Fatal("expected error for unparseable date")
	}
}

func TestWriteCSVRoundTrip(t *testing.T) {
	bars, err := MakeSampleData(SampleConfig{Symbol: "600519.SH", Periods: 20, Seed: 7})
	if err != nil {
		t.Fatal(err)
	}

	path := filepath.Join(t.TempDir(), "out.csv")
	if err := WriteCSV(path, bars); err != nil {
		t.Fatal(err)
	}

	loaded, err := LoadCSV(path, "600519.SH")
	if err != nil {
		t.Fatal(err)
	}
	if len(loaded) != len(bars) {
		t.Fatalf("round trip lost bars: wrote %d, read %d", len(bars), len(loaded))
	}
	for i, b := range bars {
		got := loaded[i]
		if !got.Datetime.Equal(b.Datetime) {
			t.Errorf("bar %d date = %v, want %v", i, got.Datetime, b.Datetime)
		}
		if got.Open != b.Open || got.High != b.High || got.Low != b.Low || got.Close != b.Close {
			t.Errorf("bar %d prices changed: %+v vs %+v", i, got, b)
		}
		if got.Volume != b.Volume {
			t.Errorf("bar %d volume = %v, want %v", i, got.Volume, b.Volume)
		}
	}
}

// ════════════════════════════════════════════════════════════
// MakeSampleData — regimes
// ════════════════════════════════════════════════════════════

func TestSampleDefaults(t *testing.T) {
	bars, err := MakeSampleData(SampleConfig{})
	if err != nil {
		t.Fatal(err)
	}
	if len(bars) != 252 {
		t.Fatalf("expected 252 bars, got %d", len(bars))
	}
	if bars[0].Symbol != "AAPL" {
		t.Errorf("default symbol = %q, want AAPL", bars[0].Symbol)
	}
	// 2023-01-01 is a Sunday; the first business day is Monday the 2nd.
	want := time.Date(2023, 1, 2, 0, 0, 0, 0, time.UTC)
	if !bars[0].Datetime.Equal(want) {
		t.Errorf("first bar date = %v, want %v", bars[0].Datetime, want)
	}
	for i, b := range bars {
		if wd := b.Datetime.Weekday(); wd == time.Saturday || wd == time.Sunday {
			t.Fatalf("bar %d falls on a weekend: %v", i, b.Datetime)
		}
		if b.Index != i {
			t.Fatalf("bar %d has index %d", i, b.Index)
		}
	}
}

func TestSampleDeterminism(t *testing.T) {
	cfg := SampleConfig{Periods: 60, Seed: 7, Regime: RegimeTrending}
	a, err := MakeSampleData(cfg)
	if err != nil {
		t.Fatal(err)
	}
	b, err := MakeSampleData(cfg)
	if err != nil {
		t.Fatal(err)
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("bar %d differs between identical configs: %+v vs %+v", i, a[i], b[i])
		}
	}
}

func TestSamplePricesAreSane(t *testing.T) {
	for _, regime := range []string{RegimeRandom, RegimeTrending, RegimeMeanReverting, RegimeVolatile, RegimeBullBear} {
		bars, err := MakeSampleData(SampleConfig{Periods: 100, Regime: regime})
		if err != nil {
			t.Fatalf("%s: %v", regime, err)
		}
		for i, b := range bars {
			if b.Open <= 0 || b.High <= 0 || b.Low <= 0 || b.Close <= 0 {
				t.Fatalf("%s bar %d has non-positive price: %+v", regime, i, b)
			}
			if b.High < b.Close || b.High < b.Open || b.Low > b.Close || b.Low > b.Open {
				t.Fatalf("%s bar %d has inconsistent OHLC: %+v", regime, i, b)
			}
			if b.Volume <= 0 {
				t.Fatalf("%s bar %d has non-positive volume: %+v", regime, i, b)
			}
		}
	}
}

func TestSampleTrendingRises(t *testing.T) {
	bars, err := MakeSampleData(SampleConfig{Periods: 100, Regime: RegimeTrending})
	if err != nil {
		t.Fatal(err)
	}
	first := avgClose(bars[:10])
	last := avgClose(bars[len(bars)-10:])
	if last <= first {
		t.Errorf("trending regime should rise: first-10 avg %.2f, last-10 avg %.2f", first, last)
	}
}

func TestSampleMeanRevertingMoreVolatileThanTrending(t *testing.T) {
	mr, err := MakeSampleData(SampleConfig{Periods: 252, Regime: RegimeMeanReverting})
	if err != nil {
		t.Fatal(err)
	}
	trend, err := MakeSampleData(SampleConfig{Periods: 252, Regime: RegimeTrending})
	if err != nil {
		t.Fatal(err)
	}
	if pctChangeStd(mr) <= pctChangeStd(trend) {
		t.Errorf("mean_reverting std %.4f should exceed trending std %.4f",
			pctChangeStd(mr), pctChangeStd(trend))
	}
}

func TestSampleVolatileRegime(t *testing.T) {
	bars, err := MakeSampleData(SampleConfig{Periods: 252, Regime: RegimeVolatile})
	if err != nil {
		t.Fatal(err)
	}
	if std := pctChangeStd(bars); std <= 0.02 {
		t.Errorf("volatile regime std = %.4f, want > 0.02", std)
	}
}

func TestSampleBullBear(t *testing.T) {
	bars, err := MakeSampleData(SampleConfig{Periods: 252, Regime: RegimeBullBear})
	if err != nil {
		t.Fatal(err)
	}
	mid := len(bars) / 2
	if bars[mid-1].Close <= bars[0].Close {
		t.Errorf("bull phase should rise: start %.2f, mid %.2f", bars[0].Close, bars[mid-1].Close)
	}
	if bars[len(bars)-1].Close >= bars[mid-1].Close {
		t.Errorf("bear phase should fall: mid %.2f, end %.2f", bars[mid-1].Close, bars[len(bars)-1].Close)
	}
}

func TestSampleUnknownRegime(t *testing.T) {
	_, err := MakeSampleData(SampleConfig{Regime: "sideways"})
	if err == nil {
		t.Fatal("expected error for unknown regime")
	}
	if !strings.Contains(err.Error(), "未知行情模式") {
		t.Errorf("error = %v, want 未知行情模式 message", err)
	}
}

func TestSampleExplicitRandomMatchesDefault(t *testing.T) {
	def, err := MakeSampleData(SampleConfig{Seed: 42})
	if err != nil {
		t.Fatal(err)
	}
	explicit, err := MakeSampleData(SampleConfig{Seed: 42, Regime: RegimeRandom})
	if err != nil {
		t.Fatal(err)
	}
	for i := range def {
		if def[i] != explicit[i] {
			t.Fatalf("bar %d differs between default and explicit random regime", i)
		}
	}
}

// ════════════════════════════════════════════════════════════
// MakeSampleSet
// ════════════════════════════════════════════════════════════

func TestSampleSetMultiSymbol(t *testing.T) {
	set, err := MakeSampleSet(context.Background(),
		SampleConfig{Symbol: "AAPL", Periods: 80, Regime: RegimeBullBear},
		SampleConfig{Symbol: "GOOGL", Periods: 80, Regime: RegimeBullBear, Seed: 401},
	)
	if err != nil {
		t.Fatal(err)
	}
	if len(set) != 2 {
		t.Fatalf("expected 2 symbols, got %d", len(set))
	}
	if len(set["AAPL"]) != 80 || len(set["GOOGL"]) != 80 {
		t.Errorf("series lengths: AAPL=%d GOOGL=%d", len(set["AAPL"]), len(set["GOOGL"]))
	}
	if set["AAPL"][0].Close == set["GOOGL"][0].Close {
		t.Error("different seeds should produce different series")
	}
}

func TestSampleSetPropagatesError(t *testing.T) {
	_, err := MakeSampleSet(context.Background(),
		SampleConfig{Symbol: "A"},
		SampleConfig{Symbol: "B", Regime: "bogus"},
	)
	if err == nil {
		t.Fatal("expected unknown-regime error to surface")
	}
}
