package trace

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// ────────────────────────────────────────────────────────────────────
// Synthetic event builders
// ────────────────────────────────────────────────────────────────────

func evStep(bi int, date string) map[string]any {
	return map[string]any{"type": TypeAgentStep, "bar_index": float64(bi), "date": date}
}

func evContext(bi int, symbol string) map[string]any {
	return map[string]any{
		"type": TypeContext, "bar_index": float64(bi),
		"formatted_text": "<market>...</market>",
		"market":         map[string]any{"symbol": symbol},
	}
}

func evLLM(bi, round int, model string) map[string]any {
	return map[string]any{
		"type": TypeLLMCall, "bar_index": float64(bi),
		"round": float64(round), "model": model,
	}
}

func evTool(bi int, name string, out map[string]any, ms float64) map[string]any {
	return map[string]any{
		"type": TypeToolCall, "bar_index": float64(bi), "tool": name,
		"input": map[string]any{}, "output": out, "duration_ms": ms,
	}
}

func evCompute(bi, round int, code string, out map[string]any, ms float64) map[string]any {
	return map[string]any{
		"type": TypeToolCall, "bar_index": float64(bi), "tool": "compute",
		"round": float64(round), "input": map[string]any{"code": code},
		"output": out, "duration_ms": ms,
	}
}

func evDecision(bi int, action string) map[string]any {
	return map[string]any{"type": TypeDecision, "bar_index": float64(bi), "action": action}
}

// sampleRun is three decision bars with a mix of clean and failing compute
// calls, enough to exercise every analysis section.
func sampleRun() []map[string]any {
	okOut := map[string]any{"result": 42.0}
	bbErr := map[string]any{"error": "KeyError: 'BBU_20_2.0'"}
	timeoutErr := map[string]any{"error": "计算超时，请简化代码或减少数据量"}

	return []map[string]any{
		evStep(14, "2023-01-05"),
		evContext(14, "600519.SH"),
		evLLM(14, 1, "gpt-4o-mini"),
		evTool(14, "market_observe", okOut, 25),
		evLLM(14, 2, "gpt-4o-mini"),
		evCompute(14, 2, "v = latest(close)\nbb = bbands(close, 20)", okOut, 10),
		evDecision(14, "buy"),

		evStep(15, "2023-01-06"),
		evContext(15, "600519.SH"),
		evLLM(15, 1, "gpt-4o-mini"),
		evCompute(15, 1, "bb = bbands(close, 20)\nprint(bb['BBU_20_2.0'])", bbErr, 10),
		evLLM(15, 2, "gpt-4o-mini"),
		evCompute(15, 2, "bbands(close, 20)", bbErr, 10),
		evLLM(15, 3, "gpt-4o-mini"),
		evDecision(15, "hold"),

		evStep(16, "2023-01-09"),
		evLLM(16, 1, "gpt-4o-mini"),
		evCompute(16, 1, "m = macd(close)\nbbands(close, 20)", bbErr, 10),
		evLLM(16, 2, "gpt-4o-mini"),
		evCompute(16, 2, "p = prev(close)", timeoutErr, 10),
		evDecision(16, "sell"),
	}
}

// ────────────────────────────────────────────────────────────────────
// Classification
// ────────────────────────────────────────────────────────────────────

func TestClassifyError(t *testing.T) {
	tests := []struct {
		msg      string
		expected string
	}{
		{"KeyError: 'BBU_20_2.0'", "BBands KeyError"},
		{"KeyError: 'BBL_20_2.0'", "BBands KeyError"},
		{"KeyError: 'MACD_12_26_9'", "MACD KeyError"},
		{"NameError: 名称 'bb' 未定义", "Cross-call NameError"},
		{"TypeError: '<' not supported between instances of 'NoneType' and 'float'", "None comparison TypeError"},
		{"TypeError: must be real number, not str", "TypeError"},
		{"SyntaxError: 第 2 行语法错误", "SyntaxError"},
		{"IndexError: 索引超出范围", "IndexError"},
		{"计算超时，请简化代码或减少数据量", "Timeout"},
		{"ZeroDivisionError: 除数为零", "Other"},
	}
	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			if got := classifyError(tt.msg); got != tt.expected {
				t.Errorf("classifyError(%q) = %q, want %q", tt.msg, got, tt.expected)
			}
		})
	}
}

// ────────────────────────────────────────────────────────────────────
// Aggregation
// ────────────────────────────────────────────────────────────────────

func TestAnalyzeOverview(t *testing.T) {
	a := Analyze(sampleRun(), Options{Strategy: "rsi"})

	o := a.Overview
	if o.Strategy != "rsi" {
		t.Errorf("strategy = %q", o.Strategy)
	}
	if o.Symbol != "600519.SH" {
		t.Errorf("symbol = %q", o.Symbol)
	}
	if o.Model != "gpt-4o-mini" {
		t.Errorf("model = %q", o.Model)
	}
	if o.TotalBars != 17 {
		t.Errorf("total bars = %d, want 17", o.TotalBars)
	}
	if o.DecisionBars != 3 {
		t.Errorf("decision bars = %d, want 3", o.DecisionBars)
	}
	if o.TotalRounds != 7 {
		t.Errorf("total rounds = %d, want 7", o.TotalRounds)
	}
	if o.TotalToolCalls != 6 {
		t.Errorf("total tool calls = %d, want 6", o.TotalToolCalls)
	}
}

func TestAnalyzeToolSummary(t *testing.T) {
	a := Analyze(sampleRun(), Options{})

	if len(a.ToolSummary) != 2 {
		t.Fatalf("expected 2 tools, got %v", a.ToolSummary)
	}
	compute := a.ToolSummary[0]
	if compute.Tool != "compute" {
		t.Fatalf("most-called tool should sort first, got %q", compute.Tool)
	}
	if compute.Calls != 5 || compute.OK != 1 || compute.Errors != 4 {
		t.Errorf("compute stats = %+v", compute)
	}
	if compute.SuccessRate != 20.0 {
		t.Errorf("compute success rate = %v, want 20.0", compute.SuccessRate)
	}
	if compute.AvgMs != 10.0 {
		t.Errorf("compute avg ms = %v, want 10.0", compute.AvgMs)
	}

	observe := a.ToolSummary[1]
	if observe.Tool != "market_observe" || observe.Errors != 0 || observe.SuccessRate != 100.0 {
		t.Errorf("market_observe stats = %+v", observe)
	}
}

func TestAnalyzePerBar(t *testing.T) {
	a := Analyze(sampleRun(), Options{})

	if len(a.PerBar) != 3 {
		t.Fatalf("expected 3 bars, got %d", len(a.PerBar))
	}

	tests := []BarStat{
		{BarIndex: 14, Date: "2023-01-05", Rounds: 2, ToolCalls: 2, ComputeCalls: 1, ComputeErrors: 0, Action: "buy"},
		{BarIndex: 15, Date: "2023-01-06", Rounds: 3, ToolCalls: 2, ComputeCalls: 2, ComputeErrors: 2, Action: "hold"},
		{BarIndex: 16, Date: "2023-01-09", Rounds: 2, ToolCalls: 2, ComputeCalls: 2, ComputeErrors: 2, Action: "sell"},
	}
	for i, want := range tests {
		if a.PerBar[i] != want {
			t.Errorf("bar %d = %+v, want %+v", want.BarIndex, a.PerBar[i], want)
		}
	}
}

func TestAnalyzeComputeBreakdown(t *testing.T) {
	a := Analyze(sampleRun(), Options{})

	c := a.Compute
	if c.Total != 5 || c.Errors != 4 {
		t.Fatalf("compute totals = %+v", c)
	}
	if c.ErrorRate != 80.0 {
		t.Errorf("error rate = %v, want 80.0", c.ErrorRate)
	}

	bb, ok := c.Categories["BBands KeyError"]
	if !ok {
		t.Fatalf("missing BBands category: %v", c.Categories)
	}
	if bb.Count != 3 || bb.Pct != 75.0 {
		t.Errorf("BBands category = %+v", bb)
	}
	if len(bb.Bars) != 2 || bb.Bars[0] != 15 || bb.Bars[1] != 16 {
		t.Errorf("BBands bars = %v, want [15 16]", bb.Bars)
	}
	timeout := c.Categories["Timeout"]
	if timeout.Count != 1 || timeout.Pct != 25.0 {
		t.Errorf("Timeout category = %+v", timeout)
	}

	if len(c.RepeatPatterns) != 2 {
		t.Fatalf("repeat patterns = %v", c.RepeatPatterns)
	}
	first := c.RepeatPatterns[0]
	if first.Category != "BBands KeyError" || first.BarCount != 2 || first.TotalBars != 3 {
		t.Errorf("first pattern = %+v", first)
	}
	if !first.IsPersistent {
		t.Error("errors on 2 of 3 bars must count as persistent")
	}
	if c.RepeatPatterns[1].IsPersistent {
		t.Errorf("single-bar pattern flagged persistent: %+v", c.RepeatPatterns[1])
	}

	usage := map[string]int{"bbands": 4, "latest": 1, "macd": 1, "prev": 1, "crossover": 0, "crossunder": 0, "above": 0, "below": 0}
	for h, want := range usage {
		if c.HelperUsage[h] != want {
			t.Errorf("helper %s = %d, want %d", h, c.HelperUsage[h], want)
		}
	}
}

func TestAnalyzeErrorSamples(t *testing.T) {
	a := Analyze(sampleRun(), Options{})

	if len(a.ErrorSamples) != 2 {
		t.Fatalf("expected one sample per category, got %v", a.ErrorSamples)
	}
	first := a.ErrorSamples[0]
	if first.Category != "BBands KeyError" || first.BarIndex != 15 || first.Round != 1 {
		t.Errorf("first sample = %+v", first)
	}
	if !strings.Contains(first.CodeSnippet, "bbands(close, 20)") {
		t.Errorf("snippet lost the code: %q", first.CodeSnippet)
	}
	second := a.ErrorSamples[1]
	if second.Category != "Timeout" || second.BarIndex != 16 {
		t.Errorf("second sample = %+v", second)
	}
}

func TestAnalyzeSampleTruncation(t *testing.T) {
	longMsg := "TypeError: " + strings.Repeat("错", 300)
	longCode := "a = 1\nb = 2\nc = 3\nd = 4\ne = 5"
	events := []map[string]any{
		evStep(5, "2023-02-01"),
		evLLM(5, 1, "m"),
		evCompute(5, 1, longCode, map[string]any{"error": longMsg}, 3),
	}

	a := Analyze(events, Options{})
	if len(a.ErrorSamples) != 1 {
		t.Fatalf("samples = %v", a.ErrorSamples)
	}
	s := a.ErrorSamples[0]
	if got := len([]rune(s.Error)); got != 200 {
		t.Errorf("error message should cap at 200 runes, got %d", got)
	}
	if s.CodeSnippet != "a = 1\nb = 2\nc = 3" {
		t.Errorf("snippet should keep first 3 lines, got %q", s.CodeSnippet)
	}

	wide := strings.Repeat("x", 400)
	a = Analyze([]map[string]any{
		evStep(5, "2023-02-01"),
		evLLM(5, 1, "m"),
		evCompute(5, 1, wide, map[string]any{"error": "IndexError: out of range"}, 3),
	}, Options{})
	if got := a.ErrorSamples[0].CodeSnippet; len(got) != 363 || !strings.HasSuffix(got, "...") {
		t.Errorf("wide snippet should cap at 360 chars plus ellipsis, got %d", len(got))
	}
}

func TestAnalyzeVerdict(t *testing.T) {
	events := sampleRun()

	a := Analyze(events, Options{})
	if a.Verdict.Pass {
		t.Errorf("80%% error rate must fail the default threshold: %+v", a.Verdict)
	}
	if a.Verdict.Threshold != DefaultThreshold {
		t.Errorf("threshold = %v, want %v", a.Verdict.Threshold, DefaultThreshold)
	}

	a = Analyze(events, Options{Threshold: 90})
	if !a.Verdict.Pass {
		t.Errorf("80%% <= 90%% must pass: %+v", a.Verdict)
	}

	if got := Analyze(events, Options{}).Overview.Strategy; got != "unknown" {
		t.Errorf("empty strategy should fall back to unknown, got %q", got)
	}
}

func TestAnalyzeEmptyTrace(t *testing.T) {
	a := Analyze(nil, Options{})
	if a.Overview.TotalBars != 0 || a.Overview.DecisionBars != 0 {
		t.Errorf("empty trace overview = %+v", a.Overview)
	}
	if !a.Verdict.Pass {
		t.Error("no compute calls means nothing to fail on")
	}
	if out := a.Render(); !strings.Contains(out, "VERDICT: PASS") {
		t.Errorf("render on empty trace: %q", out)
	}
}

// ────────────────────────────────────────────────────────────────────
// Rendering and serialization
// ────────────────────────────────────────────────────────────────────

func TestRenderReport(t *testing.T) {
	out := Analyze(sampleRun(), Options{Strategy: "rsi"}).Render()

	for _, want := range []string{
		"AgenticBT Trace Analysis",
		"Strategy: rsi | Symbol: 600519.SH | Model: gpt-4o-mini",
		"Bars: 17 (3 decision bars) | Rounds: 7 | Tool calls: 6",
		"Tool Call Summary",
		"Per-Bar Breakdown",
		"Compute Error Analysis",
		"Total: 5 calls, 4 errors (80.0%)",
		"BBands KeyError",
		"<- bars: 15,16",
		`! "BBands KeyError" on 2/3 bars -- agent never learns`,
		"Helper Usage:",
		"bbands(): 4 calls v",
		"crossover(): 0 calls x",
		"Error Samples (first per category)",
		"VERDICT: FAIL",
		"Compute error rate: 80.0% > 50.0% threshold",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("report missing %q\n%s", want, out)
		}
	}
}

func TestRenderPassVerdict(t *testing.T) {
	out := Analyze(sampleRun(), Options{Threshold: 95}).Render()
	if !strings.Contains(out, "VERDICT: PASS") {
		t.Errorf("expected PASS verdict:\n%s", out)
	}
	if !strings.Contains(out, "80.0% <= 95.0% threshold") {
		t.Errorf("pass verdict should use <=:\n%s", out)
	}
}

func TestWriteJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "analysis.json")
	a := Analyze(sampleRun(), Options{Strategy: "rsi"})
	if err := a.WriteJSON(path); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	var loaded map[string]any
	if err := json.Unmarshal(data, &loaded); err != nil {
		t.Fatalf("analysis.json is not valid JSON: %v", err)
	}
	for _, key := range []string{"overview", "tool_summary", "per_bar", "compute", "error_samples", "verdict"} {
		if _, ok := loaded[key]; !ok {
			t.Errorf("analysis.json missing %q", key)
		}
	}
	verdict := loaded["verdict"].(map[string]any)
	if verdict["pass"] != false || verdict["error_rate"] != 80.0 {
		t.Errorf("verdict = %v", verdict)
	}
}

func TestParseTrace(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "trace.jsonl")
	content := `{"type":"agent_step","bar_index":14,"date":"2023-01-05"}

{"type":"decision","bar_index":14,"action":"buy"}
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	events, err := ParseTrace(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 2 {
		t.Fatalf("blank lines must be skipped, got %d events", len(events))
	}
	if events[1]["action"] != "buy" {
		t.Errorf("events out of order: %v", events)
	}

	bad := filepath.Join(dir, "bad.jsonl")
	os.WriteFile(bad, []byte("{not json}\n"), 0o644)
	if _, err := ParseTrace(bad); err == nil {
		t.Error("malformed line must surface an error")
	}

	if _, err := ParseTrace(filepath.Join(dir, "missing.jsonl")); err == nil {
		t.Error("missing file must surface an error")
	}
}
