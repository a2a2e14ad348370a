// Package report renders backtest results for the terminal: a per-run
// report with performance, compliance, and decision blocks, plus a
// strategy comparison table for multi-strategy runs.
package report

import (
	"fmt"
	"io"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"

	"github.com/lyeka/agentic-bt/pkg/models"
	"github.com/lyeka/agentic-bt/pkg/utils"
)

const (
	reportWidth     = 55
	reasoningSample = 50 // runes of reasoning shown per decision row
)

// ════════════════════════════════════════════════════════════════════
// Single-run report
// ════════════════════════════════════════════════════════════════════

// Render formats a backtest result as a terminal report. The strategy
// name is optional and lands in the header when present.
func Render(result *models.BacktestResult, strategyName string) string {
	var sb strings.Builder
	line := strings.Repeat("═", reportWidth)
	thinLine := strings.Repeat("─", reportWidth)

	header := "  AgenticBT 回测报告"
	if strategyName != "" {
		header += fmt.Sprintf("  [%s]", strategyName)
	}

	sb.WriteString("\n" + line + "\n")
	sb.WriteString(header + "\n")
	sb.WriteString(line + "\n")

	writePerformance(&sb, thinLine, result.Performance)
	writeCompliance(&sb, thinLine, result.Compliance)
	writeMeta(&sb, thinLine, result)
	writeDecisions(&sb, thinLine, result.Decisions)

	sb.WriteString("\n" + line + "\n\n")
	return sb.String()
}

func writePerformance(sb *strings.Builder, thinLine string, p models.PerformanceReport) {
	initial, final := 100_000.0, 100_000.0
	if n := len(p.EquityCurve); n > 0 {
		initial = p.EquityCurve[0]
		final = p.EquityCurve[n-1]
	}

	sb.WriteString("\n【绩效指标】\n")
	sb.WriteString(thinLine + "\n")
	fmt.Fprintf(sb, "  总收益率      %s\n", utils.FormatPct(p.TotalReturn*100))
	fmt.Fprintf(sb, "  初始权益      %s\n", utils.FormatAmount(initial))
	fmt.Fprintf(sb, "  最终权益      %s   (%s)\n", utils.FormatAmount(final), utils.FormatSignedAmount(final-initial))
	fmt.Fprintf(sb, "  最大回撤      %.2f%%\n", p.MaxDrawdown*100)
	fmt.Fprintf(sb, "  回撤持续      %d bar\n", p.MaxDDDuration)
	fmt.Fprintf(sb, "  夏普比率      %.3f  (年化)\n", p.SharpeRatio)
	fmt.Fprintf(sb, "  索提诺比率    %.3f\n", p.SortinoRatio)
	fmt.Fprintf(sb, "  年化波动率    %.2f%%\n", p.Volatility*100)
	fmt.Fprintf(sb, "  CAGR          %s\n", utils.FormatPct(p.CAGR*100))
	fmt.Fprintf(sb, "  总交易次数    %d\n", p.TotalTrades)

	if p.TotalTrades > 0 {
		fmt.Fprintf(sb, "  胜率          %.1f%%\n", p.WinRate*100)
		if math.IsInf(p.ProfitFactor, 1) {
			sb.WriteString("  盈亏比        ∞ (无亏损)\n")
		} else {
			fmt.Fprintf(sb, "  盈亏比        %.2f\n", p.ProfitFactor)
		}
		fmt.Fprintf(sb, "  平均单笔      %s\n", utils.FormatSignedF2(p.AvgTradeReturn))
		fmt.Fprintf(sb, "  最佳单笔      %s\n", utils.FormatSignedF2(p.BestTrade))
		fmt.Fprintf(sb, "  最差单笔      %s\n", utils.FormatSignedF2(p.WorstTrade))
	}
}

func writeCompliance(sb *strings.Builder, thinLine string, c models.ComplianceReport) {
	sb.WriteString("\n【遵循度报告】\n")
	sb.WriteString(thinLine + "\n")
	fmt.Fprintf(sb, "  总决策次数    %d\n", c.TotalDecisions)

	actions := make([]string, 0, len(c.ActionDistribution))
	for action := range c.ActionDistribution {
		actions = append(actions, action)
	}
	sort.Strings(actions)
	for _, action := range actions {
		cnt := c.ActionDistribution[action]
		pct := float64(cnt) / float64(c.TotalDecisions) * 100
		fmt.Fprintf(sb, "  %-10s    %4d 次  (%.0f%%)\n", action, cnt, pct)
	}
	fmt.Fprintf(sb, "  使用指标次数  %d / %d\n", c.DecisionsWithIndicators, c.TotalDecisions)
}

func writeMeta(sb *strings.Builder, thinLine string, result *models.BacktestResult) {
	sb.WriteString("\n【回测元信息】\n")
	sb.WriteString(thinLine + "\n")
	fmt.Fprintf(sb, "  耗时          %s\n", FormatDuration(result.Duration))
	fmt.Fprintf(sb, "  LLM 调用次数  %d\n", result.TotalLLMCalls)
	fmt.Fprintf(sb, "  Token 消耗    %s\n", utils.FormatCount(result.TotalTokens))
	fmt.Fprintf(sb, "  工作空间      %s\n", result.WorkspacePath)
}

func writeDecisions(sb *strings.Builder, thinLine string, decisions []models.Decision) {
	fmt.Fprintf(sb, "\n【决策日志（共 %d 条）】\n", len(decisions))
	sb.WriteString(thinLine + "\n")

	writeRow := func(d models.Decision) {
		fmt.Fprintf(sb, "  %s  %s  %s\n",
			d.Datetime.Format("2006-01-02"), actionTag(d.Action), truncateRunes(d.Reasoning, reasoningSample))
	}

	// Long logs collapse to the first and last three decisions.
	if len(decisions) <= 6 {
		for _, d := range decisions {
			writeRow(d)
		}
		return
	}
	for _, d := range decisions[:3] {
		writeRow(d)
	}
	sb.WriteString("  ...\n")
	for _, d := range decisions[len(decisions)-3:] {
		writeRow(d)
	}
}

func actionTag(a models.Action) string {
	switch a {
	case models.ActionBuy:
		return "🔼 买"
	case models.ActionSell:
		return "🔽 卖"
	case models.ActionClose:
		return "⬛ 平"
	case models.ActionHold:
		return "⏸ 观"
	default:
		return string(a)
	}
}

func truncateRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}

// ════════════════════════════════════════════════════════════════════
// Strategy comparison
// ════════════════════════════════════════════════════════════════════

// ComparisonEntry pairs a strategy name with its finished run.
type ComparisonEntry struct {
	Name   string
	Result *models.BacktestResult
}

// WriteComparison prints a summary table across strategies.
func WriteComparison(w io.Writer, entries []ComparisonEntry) {
	line := strings.Repeat("═", 86)
	fmt.Fprintf(w, "\n%s\n", line)
	fmt.Fprintln(w, "  策略对比摘要")
	fmt.Fprintf(w, "%s\n", line)

	tbl := tablewriter.NewWriter(w)
	tbl.Header("策略", "收益率", "回撤", "夏普", "索提诺", "波动率", "交易", "胜率")
	for _, e := range entries {
		p := e.Result.Performance
		winRate := "N/A"
		if p.TotalTrades > 0 {
			winRate = fmt.Sprintf("%.0f%%", p.WinRate*100)
		}
		tbl.Append(
			e.Name,
			utils.FormatPct(p.TotalReturn*100),
			fmt.Sprintf("%.2f%%", p.MaxDrawdown*100),
			fmt.Sprintf("%.3f", p.SharpeRatio),
			fmt.Sprintf("%.3f", p.SortinoRatio),
			fmt.Sprintf("%.2f%%", p.Volatility*100),
			strconv.Itoa(p.TotalTrades),
			winRate,
		)
	}
	tbl.Render()
	fmt.Fprintf(w, "%s\n\n", line)
}

// FormatDuration formats a duration for display.
func FormatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	if d < time.Hour {
		return fmt.Sprintf("%.1fm", d.Minutes())
	}
	return fmt.Sprintf("%.1fh", d.Hours())
}
