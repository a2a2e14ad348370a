// Package eval computes performance and compliance reports from a finished
// run. Inputs are plain data (equity curve, trade log, decisions); nothing
// here touches the engine or the LLM.
package eval

import (
	"math"

	"github.com/lyeka/agentic-bt/pkg/models"
)

// ════════════════════════════════════════════════════════════════════
// Performance
// ════════════════════════════════════════════════════════════════════

// Performance evaluates an equity curve (one point per bar, marked at close)
// together with the realized trade log. A curve shorter than two points
// yields the zero report, since no return can be computed from it.
func Performance(curve []float64, trades []models.TradeLogEntry) models.PerformanceReport {
	report := models.PerformanceReport{
		EquityCurve: append([]float64(nil), curve...),
	}
	if len(curve) < 2 {
		return report
	}

	initial := curve[0]
	final := curve[len(curve)-1]
	if initial != 0 {
		report.TotalReturn = roundTo((final-initial)/initial, 6)
	}

	report.MaxDrawdown, report.MaxDDDuration = maxDrawdown(curve)
	report.MaxDrawdown = roundTo(report.MaxDrawdown, 6)

	returns := barReturns(curve)
	report.SharpeRatio = roundTo(sharpe(returns), 4)
	report.SortinoRatio = roundTo(sortino(returns), 4)
	report.Volatility = roundTo(stddevPop(returns)*math.Sqrt(252), 4)
	report.CAGR = roundTo(cagr(initial, final, len(returns)), 4)
	if report.MaxDrawdown != 0 {
		report.CalmarRatio = roundTo(report.TotalReturn/report.MaxDrawdown, 4)
	}

	tradeStats(&report, trades)
	return report
}

// ────────────────────────────────────────────────────────────────────
// Compliance
// ────────────────────────────────────────────────────────────────────

// Compliance summarizes agent behavior independent of P&L: how actions were
// distributed and how many decisions consulted at least one indicator.
func Compliance(decisions []models.Decision) models.ComplianceReport {
	report := models.ComplianceReport{
		TotalDecisions:     len(decisions),
		ActionDistribution: make(map[string]int),
	}
	for _, d := range decisions {
		report.ActionDistribution[string(d.Action)]++
		if len(d.IndicatorsUsed) > 0 {
			report.DecisionsWithIndicators++
		}
	}
	return report
}

// ────────────────────────────────────────────────────────────────────
// Drawdown
// ────────────────────────────────────────────────────────────────────

// maxDrawdown walks the curve against its running peak. Duration is the
// longest run of bars spent below a peak before a new one is set.
func maxDrawdown(curve []float64) (float64, int) {
	peak := curve[0]
	maxDD := 0.0
	maxDur, cur := 0, 0

	for _, v := range curve[1:] {
		if v > peak {
			peak = v
			cur = 0
			continue
		}
		cur++
		if cur > maxDur {
			maxDur = cur
		}
		if peak != 0 {
			if dd := (peak - v) / peak; dd > maxDD {
				maxDD = dd
			}
		}
	}
	return maxDD, maxDur
}

// ────────────────────────────────────────────────────────────────────
// Ratio metrics (annualized with sqrt(252))
// ────────────────────────────────────────────────────────────────────

func sharpe(returns []float64) float64 {
	sd := stddevPop(returns)
	if sd == 0 {
		return 0
	}
	return meanOf(returns) / sd * math.Sqrt(252)
}

// sortino penalizes downside deviation only; the denominator averages
// min(r,0)^2 over all returns, not just the losing ones.
func sortino(returns []float64) float64 {
	if len(returns) == 0 {
		return 0
	}
	var downSq float64
	for _, r := range returns {
		if r < 0 {
			downSq += r * r
		}
	}
	downside := math.Sqrt(downSq / float64(len(returns)))
	if downside == 0 {
		return 0
	}
	return meanOf(returns) / downside * math.Sqrt(252)
}

func cagr(initial, final float64, bars int) float64 {
	if initial <= 0 || final <= 0 || bars <= 0 {
		return 0
	}
	years := float64(bars) / 252
	return math.Pow(final/initial, 1/years) - 1
}

// ────────────────────────────────────────────────────────────────────
// Trade statistics
// ────────────────────────────────────────────────────────────────────

func tradeStats(report *models.PerformanceReport, trades []models.TradeLogEntry) {
	report.TotalTrades = len(trades)
	if report.TotalTrades == 0 {
		return
	}

	var wins int
	var grossProfit, grossLoss, total float64
	best := math.Inf(-1)
	worst := math.Inf(1)

	for _, t := range trades {
		total += t.Pnl
		if t.Pnl > best {
			best = t.Pnl
		}
		if t.Pnl < worst {
			worst = t.Pnl
		}
		switch {
		case t.Pnl > 0:
			wins++
			grossProfit += t.Pnl
		case t.Pnl < 0:
			grossLoss += -t.Pnl
		}
	}

	report.WinRate = roundTo(float64(wins)/float64(report.TotalTrades), 3)
	if grossLoss > 0 {
		report.ProfitFactor = roundTo(grossProfit/grossLoss, 3)
	} else {
		report.ProfitFactor = math.Inf(1)
	}
	report.AvgTradeReturn = roundTo(total/float64(report.TotalTrades), 4)
	report.BestTrade = best
	report.WorstTrade = worst
}

// ════════════════════════════════════════════════════════════════════
// Helpers
// ════════════════════════════════════════════════════════════════════

// barReturns computes simple per-bar returns, skipping division by a zero
// equity point.
func barReturns(curve []float64) []float64 {
	if len(curve) < 2 {
		return nil
	}
	returns := make([]float64, 0, len(curve)-1)
	for i := 1; i < len(curve); i++ {
		if curve[i-1] == 0 {
			returns = append(returns, 0)
			continue
		}
		returns = append(returns, curve[i]/curve[i-1]-1)
	}
	return returns
}

func meanOf(data []float64) float64 {
	if len(data) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range data {
		sum += v
	}
	return sum / float64(len(data))
}

// stddevPop is the population standard deviation; runs of identical equity
// points therefore zero it out instead of dividing by n-1.
func stddevPop(data []float64) float64 {
	if len(data) == 0 {
		return 0
	}
	m := meanOf(data)
	sumSq := 0.0
	for _, v := range data {
		d := v - m
		sumSq += d * d
	}
	return math.Sqrt(sumSq / float64(len(data)))
}

func roundTo(v float64, digits int) float64 {
	if math.IsInf(v, 0) || math.IsNaN(v) {
		return v
	}
	pow := math.Pow(10, float64(digits))
	return math.Round(v*pow) / pow
}
