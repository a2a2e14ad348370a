package report

import (
	"bytes"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/lyeka/agentic-bt/pkg/models"
)

func sampleResult() *models.BacktestResult {
	decisions := make([]models.Decision, 8)
	for i := range decisions {
		action := models.ActionHold
		if i%4 == 2 {
			action = models.ActionBuy
		}
		decisions[i] = models.Decision{
			Datetime:  time.Date(2023, 1, i+2, 0, 0, 0, 0, time.UTC),
			BarIndex:  i + 14,
			Action:    action,
			Reasoning: "RSI 低位，分批建仓观察",
		}
	}

	return &models.BacktestResult{
		Performance: models.PerformanceReport{
			TotalReturn:    0.0234,
			MaxDrawdown:    0.0812,
			MaxDDDuration:  9,
			SharpeRatio:    1.234,
			SortinoRatio:   1.876,
			Volatility:     0.1845,
			CAGR:           0.0456,
			TotalTrades:    4,
			WinRate:        0.75,
			ProfitFactor:   2.5,
			AvgTradeReturn: 123.45,
			BestTrade:      1500.5,
			WorstTrade:     -320.25,
			EquityCurve:    []float64{100_000, 101_000, 102_340},
		},
		Compliance: models.ComplianceReport{
			TotalDecisions:          8,
			ActionDistribution:      map[string]int{"hold": 6, "buy": 2},
			DecisionsWithIndicators: 5,
		},
		Decisions:     decisions,
		TotalLLMCalls: 8,
		TotalTokens:   48_213,
		WorkspacePath: "/tmp/ws/bt_20230101_120000",
		Duration:      2500 * time.Millisecond,
	}
}

func TestRenderPerformanceBlock(t *testing.T) {
	out := Render(sampleResult(), "rsi")

	for _, want := range []string{
		"AgenticBT 回测报告  [rsi]",
		"【绩效指标】",
		"总收益率      +2.34%",
		"初始权益      100,000",
		"最终权益      102,340   (+2,340)",
		"最大回撤      8.12%",
		"回撤持续      9 bar",
		"夏普比率      1.234  (年化)",
		"索提诺比率    1.876",
		"年化波动率    18.45%",
		"CAGR          +4.56%",
		"总交易次数    4",
		"胜率          75.0%",
		"盈亏比        2.50",
		"平均单笔      +123.45",
		"最佳单笔      +1,500.50",
		"最差单笔      -320.25",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("report missing %q\n%s", want, out)
		}
	}
}

func TestRenderComplianceAndMeta(t *testing.T) {
	out := Render(sampleResult(), "")

	for _, want := range []string{
		"【遵循度报告】",
		"总决策次数    8",
		"2 次  (25%)",
		"6 次  (75%)",
		"使用指标次数  5 / 8",
		"【回测元信息】",
		"耗时          2.5s",
		"LLM 调用次数  8",
		"Token 消耗    48,213",
		"工作空间      /tmp/ws/bt_20230101_120000",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("report missing %q\n%s", want, out)
		}
	}

	// Actions are listed alphabetically.
	if strings.Index(out, "buy ") > strings.Index(out, "hold ") {
		t.Error("actions out of order")
	}
	// No strategy name, no bracket suffix.
	if strings.Contains(out, "回测报告  [") {
		t.Error("header carries an empty strategy tag")
	}
}

func TestRenderDecisionSample(t *testing.T) {
	out := Render(sampleResult(), "")

	if !strings.Contains(out, "【决策日志（共 8 条）】") {
		t.Errorf("missing decision header\n%s", out)
	}
	// First three and last three with an ellipsis between.
	for _, want := range []string{"2023-01-02", "2023-01-04", "  ...", "2023-01-07", "2023-01-09"} {
		if !strings.Contains(out, want) {
			t.Errorf("decision sample missing %q", want)
		}
	}
	if strings.Contains(out, "2023-01-05") || strings.Contains(out, "2023-01-06") {
		t.Error("middle decisions should be elided")
	}
	// Buy rows carry the buy tag.
	if !strings.Contains(out, "2023-01-04  🔼 买") {
		t.Errorf("buy tag missing\n%s", out)
	}
}

func TestRenderShortLogPrintsAll(t *testing.T) {
	result := sampleResult()
	result.Decisions = result.Decisions[:5]

	out := Render(result, "")
	if strings.Contains(out, "  ...") {
		t.Error("short log should not be elided")
	}
	for d := 2; d <= 6; d++ {
		if !strings.Contains(out, time.Date(2023, 1, d, 0, 0, 0, 0, time.UTC).Format("2006-01-02")) {
			t.Errorf("missing decision for Jan %d", d)
		}
	}
}

func TestRenderNoTrades(t *testing.T) {
	result := sampleResult()
	result.Performance.TotalTrades = 0

	out := Render(result, "")
	if strings.Contains(out, "胜率") || strings.Contains(out, "盈亏比") {
		t.Error("trade stats should be hidden when nothing traded")
	}
}

func TestRenderInfiniteProfitFactor(t *testing.T) {
	result := sampleResult()
	result.Performance.ProfitFactor = math.Inf(1)

	out := Render(result, "")
	if !strings.Contains(out, "盈亏比        ∞ (无亏损)") {
		t.Errorf("missing infinite profit factor line\n%s", out)
	}
}

func TestRenderLongReasoningTruncated(t *testing.T) {
	result := sampleResult()
	long := strings.Repeat("涨", 80)
	result.Decisions[0].Reasoning = long

	out := Render(result, "")
	if strings.Contains(out, long) {
		t.Error("reasoning should be truncated to 50 runes")
	}
	if !strings.Contains(out, strings.Repeat("涨", 50)) {
		t.Error("truncated reasoning missing")
	}
}

func TestActionTag(t *testing.T) {
	tests := []struct {
		action models.Action
		want   string
	}{
		{models.ActionBuy, "🔼 买"},
		{models.ActionSell, "🔽 卖"},
		{models.ActionClose, "⬛ 平"},
		{models.ActionHold, "⏸ 观"},
		{models.Action("noop"), "noop"},
	}
	for _, tt := range tests {
		if got := actionTag(tt.action); got != tt.want {
			t.Errorf("actionTag(%s) = %s, want %s", tt.action, got, tt.want)
		}
	}
}

func TestWriteComparison(t *testing.T) {
	flat := sampleResult()
	flat.Performance.TotalTrades = 0

	var buf bytes.Buffer
	WriteComparison(&buf, []ComparisonEntry{
		{Name: "rsi", Result: sampleResult()},
		{Name: "bracket_atr", Result: flat},
	})

	out := buf.String()
	for _, want := range []string{"策略对比摘要", "rsi", "bracket_atr", "+2.34%", "N/A"} {
		if !strings.Contains(out, want) {
			t.Errorf("comparison missing %q\n%s", want, out)
		}
	}
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{2500 * time.Millisecond, "2.5s"},
		{90 * time.Second, "1.5m"},
		{2 * time.Hour, "2.0h"},
	}
	for _, tt := range tests {
		if got := FormatDuration(tt.d); got != tt.want {
			t.Errorf("FormatDuration(%v) = %s, want %s", tt.d, got, tt.want)
		}
	}
}
