// Package data turns external CSVs and simulated price series into the bar
// slices the engine consumes. LoadCSV normalizes the column dialects of
// common vendors (Yahoo Finance, AKShare, Tushare exports); MakeSampleData
// generates seeded geometric-Brownian series for tests and demos.
package data

import (
	"context"
	"encoding/csv"
	"fmt"
	"math"
	"math/rand"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/lyeka/agentic-bt/pkg/models"
)

// ════════════════════════════════════════════════════════════════════
// CSV loading
// ════════════════════════════════════════════════════════════════════

// columnAliases maps vendor column names onto the standard ones.
var columnAliases = map[string]string{
	"Open": "open", "High": "high", "Low": "low",
	"Close": "close", "Adj Close": "close", "adj_close": "close",
	"Volume": "volume", "Vol": "volume",
	"Date": "date", "Datetime": "date", "datetime": "date",
	"timestamp": "date", "Timestamp": "date", "time": "date",
}

var requiredColumns = []string{"open", "high", "low", "close", "volume"}

var dateLayouts = []string{
	"2006-01-02",
	"2006-01-02 15:04:05",
	"2006/01/02",
	"20060102",
	time.RFC3339,
}

// LoadCSV reads an OHLCV CSV and returns bars stamped with symbol, sorted by
// date ascending. Column names are normalized through the alias table; a date
// column is auto-detected when none maps directly. Unparseable numeric cells
// coerce to NaN rather than failing the whole file.
func LoadCSV(path, symbol string) ([]models.Bar, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("打开 CSV 失败: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true

	rows, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("读取 CSV 失败: %w", err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("CSV 为空: %s", path)
	}

	header := normalizeHeader(rows[0])
	cols := make(map[string]int, len(header))
	for i, name := range header {
		if _, seen := cols[name]; !seen {
			cols[name] = i
		}
	}

	var missing []string
	for _, want := range requiredColumns {
		if _, ok := cols[want]; !ok {
			missing = append(missing, want)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("CSV 缺少必要列: %s。现有列: %s",
			strings.Join(missing, ", "), strings.Join(header, ", "))
	}

	dateIdx, hasDate := cols["date"]

	bars := make([]models.Bar, 0, len(rows)-1)
	for lineNo, row := range rows[1:] {
		bar := models.Bar{
			Symbol: symbol,
			Open:   toFloat(field(row, cols["open"])),
			High:   toFloat(field(row, cols["high"])),
			Low:    toFloat(field(row, cols["low"])),
			Close:  toFloat(field(row, cols["close"])),
			Volume: toFloat(field(row, cols["volume"])),
		}
		if hasDate {
			raw := strings.TrimSpace(field(row, dateIdx))
			ts, err := parseDate(raw)
			if err != nil {
				return nil, fmt.Errorf("第 %d 行日期无法解析: %q", lineNo+2, raw)
			}
			bar.Datetime = ts
		}
		bars = append(bars, bar)
	}

	if hasDate {
		sort.SliceStable(bars, func(i, j int) bool {
			return bars[i].Datetime.Before(bars[j].Datetime)
		})
	}
	for i := range bars {
		bars[i].Index = i
	}
	return bars, nil
}

// normalizeHeader applies the alias table; unmapped names pass through as-is.
func normalizeHeader(raw []string) []string {
	out := make([]string, len(raw))
	for i, name := range raw {
		name = strings.TrimSpace(name)
		if std, ok := columnAliases[name]; ok {
			out[i] = std
			continue
		}
		out[i] = name
	}
	// No direct date mapping: take the first column that smells like one.
	for _, name := range out {
		if name == "date" {
			return out
		}
	}
	for i, name := range out {
		lower := strings.ToLower(name)
		if strings.Contains(lower, "date") || strings.Contains(lower, "time") {
			out[i] = "date"
			break
		}
	}
	return out
}

func field(row []string, idx int) string {
	if idx < 0 || idx >= len(row) {
		return ""
	}
	return row[idx]
}

func toFloat(s string) float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return math.NaN()
	}
	return v
}

func parseDate(s string) (time.Time, error) {
	for _, layout := range dateLayouts {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts, nil
		}
	}
	return time.Time{}, fmt.Errorf("无法识别日期格式: %q", s)
}

// WriteCSV saves bars in the date,open,high,low,close,volume dialect that
// LoadCSV reads back without any alias mapping.
func WriteCSV(path string, bars []models.Bar) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("创建 CSV 失败: %w", err)
	}

	w := csv.NewWriter(f)
	rows := [][]string{{"date", "open", "high", "low", "close", "volume"}}
	for _, bar := range bars {
		rows = append(rows, []string{
			bar.Datetime.Format("2006-01-02"),
			formatFloat(bar.Open),
			formatFloat(bar.High),
			formatFloat(bar.Low),
			formatFloat(bar.Close),
			strconv.FormatFloat(bar.Volume, 'f', 0, 64),
		})
	}
	if err := w.WriteAll(rows); err != nil {
		f.Close()
		return fmt.Errorf("写入 CSV 失败: %w", err)
	}
	return f.Close()
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// ════════════════════════════════════════════════════════════════════
// Sample data generation
// ════════════════════════════════════════════════════════════════════

// Market regimes for MakeSampleData.
const (
	RegimeRandom        = "random"         // μ=0.0003 σ=0.015, baseline GBM
	RegimeTrending      = "trending"       // strong positive drift, low volatility
	RegimeMeanReverting = "mean_reverting" // zero drift, pulls back toward the initial price
	RegimeVolatile      = "volatile"       // daily σ well above 2%
	RegimeBullBear      = "bull_bear"      // positive drift first half, negative second half
)

var regimeNames = []string{RegimeRandom, RegimeTrending, RegimeMeanReverting, RegimeVolatile, RegimeBullBear}

// SampleConfig parameterizes one simulated series. Zero values take the
// defaults of the classic demo series: AAPL, 252 business days from
// 2023-01-01, initial price 150, seed 42, random regime.
type SampleConfig struct {
	Symbol       string
	Start        time.Time
	Periods      int
	InitialPrice float64
	Seed         int64
	Regime       string
}

func (c *SampleConfig) applyDefaults() {
	if c.Symbol == "" {
		c.Symbol = "AAPL"
	}
	if c.Start.IsZero() {
		c.Start = time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)
	}
	if c.Periods == 0 {
		c.Periods = 252
	}
	if c.InitialPrice == 0 {
		c.InitialPrice = 150.0
	}
	if c.Seed == 0 {
		c.Seed = 42
	}
	if c.Regime == "" {
		c.Regime = RegimeRandom
	}
}

// regimeParams returns drift and volatility per bar index. Mean reversion is
// expressed as a pull on the log price toward its starting level.
type regimeParams struct {
	mu        func(i, periods int) float64
	sigma     float64
	reversion float64
}

func paramsFor(regime string) (regimeParams, error) {
	switch regime {
	case RegimeRandom:
		return regimeParams{mu: constMu(0.0003), sigma: 0.015}, nil
	case RegimeTrending:
		return regimeParams{mu: constMu(0.0025), sigma: 0.008}, nil
	case RegimeMeanReverting:
		return regimeParams{mu: constMu(0), sigma: 0.012, reversion: 0.05}, nil
	case RegimeVolatile:
		return regimeParams{mu: constMu(0), sigma: 0.03}, nil
	case RegimeBullBear:
		return regimeParams{
			mu: func(i, periods int) float64 {
				if i < periods/2 {
					return 0.0035
				}
				return -0.0035
			},
			sigma: 0.012,
		}, nil
	default:
		return regimeParams{}, fmt.Errorf("未知行情模式: %s（可选: %s）", regime, strings.Join(regimeNames, ", "))
	}
}

func constMu(mu float64) func(int, int) float64 {
	return func(int, int) float64 { return mu }
}

// MakeSampleData generates a seeded OHLCV series via geometric Brownian
// motion, stamped on business days only. Identical configs always yield
// identical bars.
func MakeSampleData(cfg SampleConfig) ([]models.Bar, error) {
	cfg.applyDefaults()
	if cfg.Periods < 0 {
		return nil, fmt.Errorf("periods 必须为正数: %d", cfg.Periods)
	}
	params, err := paramsFor(cfg.Regime)
	if err != nil {
		return nil, err
	}

	rng := rand.New(rand.NewSource(cfg.Seed))
	anchor := math.Log(cfg.InitialPrice)

	// Log-price walk. Reversion regimes pull the level back toward the
	// anchor before adding noise.
	returns := make([]float64, cfg.Periods)
	closes := make([]float64, cfg.Periods)
	level := anchor
	for i := 0; i < cfg.Periods; i++ {
		r := params.mu(i, cfg.Periods) + params.sigma*rng.NormFloat64()
		if params.reversion > 0 {
			r += params.reversion * (anchor - level)
		}
		returns[i] = r
		level += r
		closes[i] = math.Exp(level)
	}

	bars := make([]models.Bar, cfg.Periods)
	day := cfg.Start
	for i := 0; i < cfg.Periods; i++ {
		day = nextBusinessDay(day, i > 0)

		c := closes[i]
		dailyRange := c * uniform(rng, 0.005, 0.025)
		open := c * math.Exp(rng.NormFloat64()*0.003)
		high := math.Max(c, open) + dailyRange*uniform(rng, 0.3, 1.0)
		low := math.Min(c, open) - dailyRange*uniform(rng, 0.3, 1.0)
		low = math.Max(low, c*0.5) // keeps a gap day from going negative

		volume := float64(5_000_000 + rng.Int63n(45_000_000))
		volume *= 1 + math.Abs(returns[i])*20

		bars[i] = models.Bar{
			Symbol:   cfg.Symbol,
			Datetime: day,
			Open:     round2(open),
			High:     round2(high),
			Low:      round2(low),
			Close:    round2(c),
			Volume:   math.Round(volume),
			Index:    i,
		}
	}
	return bars, nil
}

// nextBusinessDay returns from itself when it is a weekday and advance is
// false; otherwise it walks forward to the next weekday.
func nextBusinessDay(from time.Time, advance bool) time.Time {
	d := from
	if advance {
		d = d.AddDate(0, 0, 1)
	}
	for d.Weekday() == time.Saturday || d.Weekday() == time.Sunday {
		d = d.AddDate(0, 0, 1)
	}
	return d
}

func uniform(rng *rand.Rand, lo, hi float64) float64 {
	return lo + rng.Float64()*(hi-lo)
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// ────────────────────────────────────────────────────────────────────
// Multi-symbol build
// ────────────────────────────────────────────────────────────────────

// MakeSampleSet generates several series concurrently and keys them by
// symbol. Each series is independently seeded, so the result does not depend
// on scheduling order.
func MakeSampleSet(ctx context.Context, configs ...SampleConfig) (map[string][]models.Bar, error) {
	out := make(map[string][]models.Bar, len(configs))
	var mu sync.Mutex

	g, _ := errgroup.WithContext(ctx)
	for _, cfg := range configs {
		cfg := cfg
		cfg.applyDefaults()
		g.Go(func() error {
			bars, err := MakeSampleData(cfg)
			if err != nil {
				return err
			}
			mu.Lock()
			out[cfg.Symbol] = bars
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}
