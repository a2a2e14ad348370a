package trace

import (
	"bufio"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/olekukonko/tablewriter"
)

// ════════════════════════════════════════════════════════════════════
// Trace analysis — tool-call statistics from a finished run
// ════════════════════════════════════════════════════════════════════

// helperNames are the sandbox helpers whose usage the analyzer counts in
// compute code.
var helperNames = []string{"bbands", "macd", "latest", "prev", "crossover", "crossunder", "above", "below"}

var helperPatterns = func() map[string]*regexp.Regexp {
	m := make(map[string]*regexp.Regexp, len(helperNames))
	for _, h := range helperNames {
		m[h] = regexp.MustCompile(`\b` + h + `\s*\(`)
	}
	return m
}()

// errorPatterns classify compute errors; the first match wins.
var errorPatterns = []struct {
	re       *regexp.Regexp
	category string
}{
	{regexp.MustCompile(`KeyError:.*BB[UML]_`), "BBands KeyError"},
	{regexp.MustCompile(`KeyError:.*MACD`), "MACD KeyError"},
	{regexp.MustCompile(`NameError`), "Cross-call NameError"},
	{regexp.MustCompile(`TypeError.*NoneType`), "None comparison TypeError"},
	{regexp.MustCompile(`TypeError`), "TypeError"},
	{regexp.MustCompile(`SyntaxError`), "SyntaxError"},
	{regexp.MustCompile(`IndexError`), "IndexError"},
	{regexp.MustCompile(`计算超时`), "Timeout"},
}

// DefaultThreshold is the compute error rate (%) above which a run fails.
const DefaultThreshold = 50.0

// Options tunes an analysis run.
type Options struct {
	Strategy  string  // strategy label for the overview; "unknown" when empty
	Threshold float64 // compute error rate ceiling in percent; 0 means DefaultThreshold
}

// Analysis is the full result, serialized as analysis.json.
type Analysis struct {
	Overview     Overview      `json:"overview"`
	ToolSummary  []ToolStat    `json:"tool_summary"`
	PerBar       []BarStat     `json:"per_bar"`
	Compute      ComputeStats  `json:"compute"`
	ErrorSamples []ErrorSample `json:"error_samples"`
	Verdict      Verdict       `json:"verdict"`
}

// Overview summarizes the run.
type Overview struct {
	Strategy       string `json:"strategy"`
	Symbol         string `json:"symbol"`
	Model          string `json:"model"`
	TotalBars      int    `json:"total_bars"`
	DecisionBars   int    `json:"decision_bars"`
	TotalRounds    int    `json:"total_rounds"`
	TotalToolCalls int    `json:"total_tool_calls"`
}

// ToolStat aggregates one tool's calls.
type ToolStat struct {
	Tool        string  `json:"tool"`
	Calls       int     `json:"calls"`
	OK          int     `json:"ok"`
	Errors      int     `json:"errors"`
	SuccessRate float64 `json:"success_rate"`
	AvgMs       float64 `json:"avg_duration_ms"`
}

// BarStat is one decision bar's activity.
type BarStat struct {
	BarIndex      int    `json:"bar_index"`
	Date          string `json:"date"`
	Rounds        int    `json:"rounds"`
	ToolCalls     int    `json:"tool_calls"`
	ComputeCalls  int    `json:"compute_calls"`
	ComputeErrors int    `json:"compute_errors"`
	Action        string `json:"action"`
}

// ComputeStats breaks down the compute tool's error behavior.
type ComputeStats struct {
	Total          int                      `json:"total"`
	Errors         int                      `json:"errors"`
	ErrorRate      float64                  `json:"error_rate"`
	Categories     map[string]ErrorCategory `json:"categories"`
	RepeatPatterns []RepeatPattern          `json:"repeat_patterns"`
	HelperUsage    map[string]int           `json:"helper_usage"`
}

// ErrorCategory counts one class of compute error and the bars it hit.
type ErrorCategory struct {
	Count int     `json:"count"`
	Pct   float64 `json:"pct"`
	Bars  []int   `json:"bars"`
}

// RepeatPattern flags error classes that recur across bars.
type RepeatPattern struct {
	Category     string `json:"category"`
	BarCount     int    `json:"bar_count"`
	TotalBars    int    `json:"total_bars"`
	IsPersistent bool   `json:"is_persistent"`
}

// ErrorSample is the first occurrence of each error category.
type ErrorSample struct {
	Category    string `json:"category"`
	BarIndex    int    `json:"bar_index"`
	Round       int    `json:"round"`
	Error       string `json:"error"`
	CodeSnippet string `json:"code_snippet"`
}

// Verdict is the pass/fail call against the threshold.
type Verdict struct {
	Pass      bool    `json:"pass"`
	ErrorRate float64 `json:"error_rate"`
	Threshold float64 `json:"threshold"`
}

// ────────────────────────────────────────────────────────────────────
// Parsing
// ────────────────────────────────────────────────────────────────────

// ParseTrace reads a trace.jsonl file into raw event maps.
func ParseTrace(path string) ([]map[string]any, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("trace: 打开 %s: %w", path, err)
	}
	defer f.Close()

	var events []map[string]any
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var ev map[string]any
		if err := json.Unmarshal([]byte(line), &ev); err != nil {
			return nil, fmt.Errorf("trace: %s 第 %d 行解析失败: %w", path, lineNo, err)
		}
		events = append(events, ev)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("trace: 读取 %s: %w", path, err)
	}
	return events, nil
}

func classifyError(msg string) string {
	for _, p := range errorPatterns {
		if p.re.MatchString(msg) {
			return p.category
		}
	}
	return "Other"
}

// ────────────────────────────────────────────────────────────────────
// Analysis core
// ────────────────────────────────────────────────────────────────────

type barAgg struct {
	date          string
	rounds        int
	toolCalls     int
	computeCalls  int
	computeErrors int
	action        string
}

// Analyze builds the full report from raw trace events.
func Analyze(events []map[string]any, opts Options) *Analysis {
	threshold := opts.Threshold
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	strategy := opts.Strategy
	if strategy == "" {
		strategy = "unknown"
	}

	bars := make(map[int]*barAgg)
	ensure := func(bi int) *barAgg {
		if b, ok := bars[bi]; ok {
			return b
		}
		b := &barAgg{action: "hold"}
		bars[bi] = b
		return b
	}

	var (
		toolCalls []map[string]any
		model     string
		symbol    string
		maxBar    = -1
	)

	for _, ev := range events {
		bi := intField(ev, "bar_index")
		if bi > maxBar {
			maxBar = bi
		}

		switch strField(ev, "type") {
		case TypeAgentStep:
			ensure(bi).date = strField(ev, "date")
		case TypeContext:
			if symbol == "" {
				if m, ok := ev["market"].(map[string]any); ok {
					symbol = strField(m, "symbol")
				}
			}
		case TypeLLMCall:
			b := ensure(bi)
			if r := intField(ev, "round"); r > b.rounds {
				b.rounds = r
			}
			if model == "" {
				model = strField(ev, "model")
			}
		case TypeToolCall:
			toolCalls = append(toolCalls, ev)
			if b, ok := bars[bi]; ok {
				b.toolCalls++
				if strField(ev, "tool") == "compute" {
					b.computeCalls++
					if hasOutputError(ev) {
						b.computeErrors++
					}
				}
			}
		case TypeDecision:
			if b, ok := bars[bi]; ok {
				if action := strField(ev, "action"); action != "" {
					b.action = action
				}
			}
			if model == "" {
				model = strField(ev, "model")
			}
		}
	}

	a := &Analysis{
		Overview: Overview{
			Strategy:       strategy,
			Symbol:         symbol,
			Model:          model,
			TotalBars:      maxBar + 1,
			DecisionBars:   len(bars),
			TotalToolCalls: len(toolCalls),
		},
	}
	for _, b := range bars {
		a.Overview.TotalRounds += b.rounds
	}

	a.ToolSummary = summarizeTools(toolCalls)
	a.PerBar = flattenBars(bars)
	a.Compute, a.ErrorSamples = analyzeCompute(toolCalls, len(bars))
	a.Verdict = Verdict{
		Pass:      a.Compute.ErrorRate <= threshold,
		ErrorRate: a.Compute.ErrorRate,
		Threshold: threshold,
	}
	return a
}

func summarizeTools(toolCalls []map[string]any) []ToolStat {
	type agg struct {
		calls, ok, errors int
		totalMs           float64
	}
	stats := make(map[string]*agg)
	for _, tc := range toolCalls {
		name := strField(tc, "tool")
		if name == "" {
			name = "unknown"
		}
		s, ok := stats[name]
		if !ok {
			s = &agg{}
			stats[name] = s
		}
		s.calls++
		if hasOutputError(tc) {
			s.errors++
		} else {
			s.ok++
		}
		s.totalMs += numField(tc, "duration_ms")
	}

	out := make([]ToolStat, 0, len(stats))
	for name, s := range stats {
		out = append(out, ToolStat{
			Tool:        name,
			Calls:       s.calls,
			OK:          s.ok,
			Errors:      s.errors,
			SuccessRate: round1(float64(s.ok) / float64(s.calls) * 100),
			AvgMs:       round1(s.totalMs / float64(s.calls)),
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Calls != out[j].Calls {
			return out[i].Calls > out[j].Calls
		}
		return out[i].Tool < out[j].Tool
	})
	return out
}

func flattenBars(bars map[int]*barAgg) []BarStat {
	indices := make([]int, 0, len(bars))
	for bi := range bars {
		indices = append(indices, bi)
	}
	sort.Ints(indices)

	out := make([]BarStat, 0, len(indices))
	for _, bi := range indices {
		b := bars[bi]
		out = append(out, BarStat{
			BarIndex:      bi,
			Date:          b.date,
			Rounds:        b.rounds,
			ToolCalls:     b.toolCalls,
			ComputeCalls:  b.computeCalls,
			ComputeErrors: b.computeErrors,
			Action:        b.action,
		})
	}
	return out
}

func analyzeCompute(toolCalls []map[string]any, decisionBars int) (ComputeStats, []ErrorSample) {
	var computeCalls, computeErrors []map[string]any
	for _, tc := range toolCalls {
		if strField(tc, "tool") != "compute" {
			continue
		}
		computeCalls = append(computeCalls, tc)
		if hasOutputError(tc) {
			computeErrors = append(computeErrors, tc)
		}
	}

	stats := ComputeStats{
		Total:       len(computeCalls),
		Errors:      len(computeErrors),
		Categories:  make(map[string]ErrorCategory),
		HelperUsage: make(map[string]int, len(helperNames)),
	}
	if stats.Total > 0 {
		stats.ErrorRate = round1(float64(stats.Errors) / float64(stats.Total) * 100)
	}

	// Classification, counted per category with the bars it hit.
	type catAgg struct {
		count int
		bars  map[int]bool
	}
	cats := make(map[string]*catAgg)
	for _, tc := range computeErrors {
		cat := classifyError(outputError(tc))
		c, ok := cats[cat]
		if !ok {
			c = &catAgg{bars: make(map[int]bool)}
			cats[cat] = c
		}
		c.count++
		c.bars[intField(tc, "bar_index")] = true
	}
	for cat, c := range cats {
		bars := make([]int, 0, len(c.bars))
		for bi := range c.bars {
			bars = append(bars, bi)
		}
		sort.Ints(bars)
		pct := 0.0
		if stats.Errors > 0 {
			pct = round1(float64(c.count) / float64(stats.Errors) * 100)
		}
		stats.Categories[cat] = ErrorCategory{Count: c.count, Pct: pct, Bars: bars}
	}

	for _, cat := range sortedCategories(stats.Categories) {
		info := stats.Categories[cat]
		stats.RepeatPatterns = append(stats.RepeatPatterns, RepeatPattern{
			Category:     cat,
			BarCount:     len(info.Bars),
			TotalBars:    decisionBars,
			IsPersistent: decisionBars > 0 && float64(len(info.Bars)) > float64(decisionBars)*0.5,
		})
	}

	for _, h := range helperNames {
		stats.HelperUsage[h] = 0
	}
	for _, tc := range computeCalls {
		code := inputCode(tc)
		for _, h := range helperNames {
			stats.HelperUsage[h] += len(helperPatterns[h].FindAllStringIndex(code, -1))
		}
	}

	// First sample per category.
	seen := make(map[string]bool)
	var samples []ErrorSample
	for _, tc := range computeErrors {
		msg := outputError(tc)
		cat := classifyError(msg)
		if seen[cat] {
			continue
		}
		seen[cat] = true
		samples = append(samples, ErrorSample{
			Category:    cat,
			BarIndex:    intField(tc, "bar_index"),
			Round:       intField(tc, "round"),
			Error:       truncate(msg, 200),
			CodeSnippet: snippet(inputCode(tc)),
		})
	}

	return stats, samples
}

// sortedCategories orders category names by count descending, name ascending.
func sortedCategories(cats map[string]ErrorCategory) []string {
	names := make([]string, 0, len(cats))
	for name := range cats {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		if cats[names[i]].Count != cats[names[j]].Count {
			return cats[names[i]].Count > cats[names[j]].Count
		}
		return names[i] < names[j]
	})
	return names
}

// ────────────────────────────────────────────────────────────────────
// Rendering
// ────────────────────────────────────────────────────────────────────

// Render formats the analysis as a terminal report.
func (a *Analysis) Render() string {
	var sb strings.Builder
	line := strings.Repeat("═", 42)
	thinLine := strings.Repeat("─", 42)

	o := a.Overview
	sb.WriteString("\n" + line + "\n")
	sb.WriteString("  AgenticBT Trace Analysis\n")
	sb.WriteString(line + "\n")
	fmt.Fprintf(&sb, "  Strategy: %s | Symbol: %s | Model: %s\n", o.Strategy, o.Symbol, o.Model)
	fmt.Fprintf(&sb, "  Bars: %d (%d decision bars) | Rounds: %d | Tool calls: %d\n",
		o.TotalBars, o.DecisionBars, o.TotalRounds, o.TotalToolCalls)

	sb.WriteString("\n" + thinLine + "\n")
	sb.WriteString("  Tool Call Summary\n")
	sb.WriteString(thinLine + "\n")
	tbl := tablewriter.NewWriter(&sb)
	tbl.Header("Tool", "Calls", "OK", "Err", "Rate", "Avg ms")
	for _, t := range a.ToolSummary {
		tbl.Append(t.Tool,
			strconv.Itoa(t.Calls), strconv.Itoa(t.OK), strconv.Itoa(t.Errors),
			fmt.Sprintf("%.1f%%", t.SuccessRate), fmt.Sprintf("%.1f", t.AvgMs))
	}
	tbl.Render()

	if len(a.PerBar) > 0 {
		sb.WriteString("\n" + thinLine + "\n")
		sb.WriteString("  Per-Bar Breakdown\n")
		sb.WriteString(thinLine + "\n")
		var sumR, sumT, sumC, sumE int
		bt := tablewriter.NewWriter(&sb)
		bt.Header("Bar", "Date", "Rnds", "Tools", "Comp", "Err", "Action")
		for _, b := range a.PerBar {
			bt.Append(strconv.Itoa(b.BarIndex), b.Date,
				strconv.Itoa(b.Rounds), strconv.Itoa(b.ToolCalls),
				strconv.Itoa(b.ComputeCalls), strconv.Itoa(b.ComputeErrors), b.Action)
			sumR += b.Rounds
			sumT += b.ToolCalls
			sumC += b.ComputeCalls
			sumE += b.ComputeErrors
		}
		n := float64(len(a.PerBar))
		bt.Append("Avg", "",
			fmt.Sprintf("%.1f", float64(sumR)/n), fmt.Sprintf("%.1f", float64(sumT)/n),
			fmt.Sprintf("%.1f", float64(sumC)/n), fmt.Sprintf("%.1f", float64(sumE)/n), "")
		bt.Append("Ideal", "", "2-3", "2-4", "1-2", "0", "")
		bt.Render()
	}

	c := a.Compute
	if c.Total > 0 {
		sb.WriteString("\n" + thinLine + "\n")
		sb.WriteString("  Compute Error Analysis\n")
		sb.WriteString(thinLine + "\n")
		fmt.Fprintf(&sb, "  Total: %d calls, %d errors (%.1f%%)\n", c.Total, c.Errors, c.ErrorRate)

		if len(c.Categories) > 0 {
			sb.WriteString("\n  Error Categories:\n")
			for _, cat := range sortedCategories(c.Categories) {
				info := c.Categories[cat]
				barStrs := make([]string, len(info.Bars))
				for i, bi := range info.Bars {
					barStrs[i] = strconv.Itoa(bi)
				}
				fmt.Fprintf(&sb, "    %-30s %3d  (%5.1f%%)  <- bars: %s\n",
					cat, info.Count, info.Pct, strings.Join(barStrs, ","))
			}
		}
		for _, rp := range c.RepeatPatterns {
			if rp.IsPersistent {
				fmt.Fprintf(&sb, "    ! %q on %d/%d bars -- agent never learns\n",
					rp.Category, rp.BarCount, rp.TotalBars)
			}
		}

		usedAny := false
		for _, cnt := range c.HelperUsage {
			if cnt > 0 {
				usedAny = true
				break
			}
		}
		if usedAny || c.Errors > 0 {
			sb.WriteString("\n  Helper Usage:\n")
			for _, h := range helperNames {
				mark := "x"
				if c.HelperUsage[h] > 0 {
					mark = "v"
				}
				fmt.Fprintf(&sb, "    %s(): %d calls %s\n", h, c.HelperUsage[h], mark)
			}
		}
	}

	if len(a.ErrorSamples) > 0 {
		sb.WriteString("\n" + thinLine + "\n")
		sb.WriteString("  Error Samples (first per category)\n")
		sb.WriteString(thinLine + "\n")
		for i, s := range a.ErrorSamples {
			fmt.Fprintf(&sb, "\n  [%d] %s (bar=%d, round=%d)\n", i+1, s.Category, s.BarIndex, s.Round)
			fmt.Fprintf(&sb, "      error: %s\n", s.Error)
			for _, cl := range strings.Split(s.CodeSnippet, "\n") {
				if cl != "" {
					fmt.Fprintf(&sb, "      code:  %s\n", cl)
				}
			}
		}
	}

	v := a.Verdict
	tag := "PASS"
	cmp := "<="
	if !v.Pass {
		tag = "FAIL"
		cmp = ">"
	}
	sb.WriteString("\n" + line + "\n")
	fmt.Fprintf(&sb, "  VERDICT: %s\n", tag)
	fmt.Fprintf(&sb, "  Compute error rate: %.1f%% %s %.1f%% threshold\n", v.ErrorRate, cmp, v.Threshold)
	sb.WriteString(line + "\n")

	return sb.String()
}

// WriteJSON saves the analysis next to the trace it came from.
func (a *Analysis) WriteJSON(path string) error {
	data, err := json.MarshalIndent(a, "", "  ")
	if err != nil {
		return fmt.Errorf("trace: 序列化分析结果: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("trace: 写入 %s: %w", path, err)
	}
	return nil
}

// ────────────────────────────────────────────────────────────────────
// Field access on raw events
// ────────────────────────────────────────────────────────────────────

func strField(ev map[string]any, key string) string {
	s, _ := ev[key].(string)
	return s
}

func numField(ev map[string]any, key string) float64 {
	switch v := ev[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	}
	return 0
}

func intField(ev map[string]any, key string) int {
	return int(numField(ev, key))
}

func hasOutputError(ev map[string]any) bool {
	out, ok := ev["output"].(map[string]any)
	if !ok {
		return false
	}
	_, has := out["error"]
	return has
}

func outputError(ev map[string]any) string {
	out, ok := ev["output"].(map[string]any)
	if !ok {
		return ""
	}
	return strField(out, "error")
}

func inputCode(ev map[string]any) string {
	in, ok := ev["input"].(map[string]any)
	if !ok {
		return ""
	}
	return strField(in, "code")
}

// snippet keeps the first three lines of compute code, capped at 360 chars.
func snippet(code string) string {
	lines := strings.Split(code, "\n")
	if len(lines) > 3 {
		lines = lines[:3]
	}
	s := strings.Join(lines, "\n")
	if len([]rune(s)) > 360 {
		s = truncate(s, 360) + "..."
	}
	return s
}

func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
