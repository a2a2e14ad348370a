package strategy

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeOverlay(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "strategies.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

// ── Built-in catalog ──

func TestBuiltinCatalogOrder(t *testing.T) {
	c := Builtin()
	want := []string{
		"rsi", "bracket_atr", "bollinger_limit", "adaptive_memory",
		"multi_asset", "free_play", "reflective", "quant_compute",
	}
	names := c.Names()
	if len(names) != len(want) {
		t.Fatalf("names = %v", names)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Fatalf("names = %v, want %v", names, want)
		}
	}
}

func TestBuiltinDefinitions(t *testing.T) {
	c := Builtin()

	rsi, err := c.Get("rsi")
	if err != nil {
		t.Fatal(err)
	}
	if rsi.Regime != "mean_reverting" || rsi.Seed != 42 || rsi.Bars != 60 || rsi.DecisionStartBar != 14 {
		t.Errorf("rsi = %+v", rsi)
	}
	if !strings.Contains(rsi.Prompt, "RSI < 50") {
		t.Errorf("rsi prompt = %q", rsi.Prompt)
	}
	if rsi.Script != "rsi" {
		t.Errorf("rsi script = %q", rsi.Script)
	}

	multi, _ := c.Get("multi_asset")
	if multi.Risk.MaxPositionPct != 0.45 || multi.Risk.MaxOpenPositions != 2 {
		t.Errorf("multi_asset risk = %+v", multi.Risk)
	}
	if len(multi.ExtraSymbols) != 1 || multi.ExtraSymbols[0].Symbol != "GOOGL" || multi.ExtraSymbols[0].Seed != 401 {
		t.Errorf("multi_asset extras = %+v", multi.ExtraSymbols)
	}

	freePlay, _ := c.Get("free_play")
	if freePlay.Script != "" || freePlay.MaxRounds != 25 {
		t.Errorf("free_play = %+v", freePlay)
	}
}

func TestGetUnknownListsOptions(t *testing.T) {
	c := Builtin()
	_, err := c.Get("momentum")
	if err == nil {
		t.Fatal("expected an error")
	}
	if !strings.Contains(err.Error(), "未知策略") || !strings.Contains(err.Error(), "rsi") {
		t.Errorf("error = %v", err)
	}
}

// ── Scripted agents ──

func TestScriptedAgents(t *testing.T) {
	c := Builtin()
	for _, def := range c.All() {
		ag, err := def.ScriptedAgent()
		if err != nil {
			t.Errorf("%s: %v", def.Name, err)
			continue
		}
		scripted := def.Script != ""
		if scripted && ag == nil {
			t.Errorf("%s: expected a scripted agent", def.Name)
		}
		if !scripted && ag != nil {
			t.Errorf("%s: expected LLM-only", def.Name)
		}
	}
}

func TestScriptedAgentUnknown(t *testing.T) {
	def := Definition{Name: "x", Script: "teleport"}
	if _, err := def.ScriptedAgent(); err == nil {
		t.Error("unknown script should error")
	}
}

// ── BuildConfig ──

func TestBuildConfigSingleSymbol(t *testing.T) {
	c := Builtin()
	def, _ := c.Get("rsi")

	cfg, err := def.BuildConfig(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(cfg.Data["AAPL"]) != 60 {
		t.Errorf("bars = %d, want 60", len(cfg.Data["AAPL"]))
	}
	if cfg.Symbol != "AAPL" || cfg.DecisionStartBar != 14 {
		t.Errorf("cfg = %+v", cfg)
	}
	if cfg.StrategyPrompt != def.Prompt {
		t.Error("prompt not carried into config")
	}
	// Normalize filled the unset risk fields.
	if cfg.Risk.MaxPositionPct != 0.20 || cfg.Risk.MaxOpenPositions != 10 {
		t.Errorf("risk = %+v", cfg.Risk)
	}
}

func TestBuildConfigMultiAsset(t *testing.T) {
	c := Builtin()
	def, _ := c.Get("multi_asset")

	cfg, err := def.BuildConfig(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(cfg.Data) != 2 {
		t.Fatalf("symbols = %d, want 2", len(cfg.Data))
	}
	if len(cfg.Data["GOOGL"]) != 80 {
		t.Errorf("GOOGL bars = %d, want 80", len(cfg.Data["GOOGL"]))
	}
	// Overrides survive, the rest is normalized in.
	if cfg.Risk.MaxPositionPct != 0.45 || cfg.Risk.MaxOpenPositions != 2 {
		t.Errorf("risk overrides lost: %+v", cfg.Risk)
	}
	if cfg.Risk.MaxPortfolioDrawdown != 0.15 {
		t.Errorf("default drawdown not filled: %+v", cfg.Risk)
	}
}

func TestBuildConfigUnknownRegime(t *testing.T) {
	def := Definition{Name: "x", Symbol: "AAPL", Bars: 10, Regime: "sideways"}
	if _, err := def.BuildConfig(context.Background()); err == nil {
		t.Error("unknown regime should propagate from the generator")
	}
}

// ── YAML overlay ──

func TestMergeFileAddsAndOverrides(t *testing.T) {
	path := writeOverlay(t, `
strategies:
  - name: my_momentum
    description: 动量追涨
    prompt: 追强势股
    regime: trending
    seed: 7
    bars: 120
    symbol: TSLA
    risk:
      max_position_pct: 0.30
    max_rounds: 10
  - name: rsi
    description: 改版 RSI
    prompt: 新的 RSI 玩法
    regime: volatile
    seed: 9
    bars: 40
    decision_start_bar: 0
    script: rsi
`)

	c := Builtin()
	if err := c.MergeFile(path); err != nil {
		t.Fatal(err)
	}

	// Overridden rsi keeps its slot; the new strategy lands at the end.
	names := c.Names()
	if names[0] != "rsi" || names[len(names)-1] != "my_momentum" {
		t.Errorf("names = %v", names)
	}

	rsi, _ := c.Get("rsi")
	if rsi.Description != "改版 RSI" || rsi.Bars != 40 || rsi.Regime != "volatile" {
		t.Errorf("override lost: %+v", rsi)
	}
	if rsi.DecisionStartBar != 0 {
		t.Errorf("explicit zero start bar overridden: %d", rsi.DecisionStartBar)
	}
	if rsi.MaxRounds != DefaultMaxRounds {
		t.Errorf("absent max_rounds should default: %d", rsi.MaxRounds)
	}

	momentum, _ := c.Get("my_momentum")
	if momentum.Symbol != "TSLA" || momentum.MaxRounds != 10 {
		t.Errorf("momentum = %+v", momentum)
	}
	if momentum.Risk.MaxPositionPct != 0.30 {
		t.Errorf("momentum risk = %+v", momentum.Risk)
	}
	if momentum.DecisionStartBar != DefaultDecisionStartBar {
		t.Errorf("absent start bar should default: %d", momentum.DecisionStartBar)
	}
}

func TestMergeFileValidation(t *testing.T) {
	cases := []struct {
		name    string
		content string
		wantErr string
	}{
		{"missing name", "strategies:\n  - description: x\n    bars: 10\n", "缺少 name"},
		{"bad bars", "strategies:\n  - name: x\n    bars: 0\n", "必须为正数"},
		{"unknown script", "strategies:\n  - name: x\n    bars: 10\n    script: warp\n", "未知脚本"},
		{"bad yaml", "strategies: [", "解析策略文件"},
	}
	for _, tc := range cases {
		path := writeOverlay(t, tc.content)
		err := Builtin().MergeFile(path)
		if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
			t.Errorf("%s: error = %v, want %q", tc.name, err, tc.wantErr)
		}
	}
}

func TestMergeFileMissing(t *testing.T) {
	if err := Builtin().MergeFile("/nonexistent/strategies.yaml"); err == nil {
		t.Error("missing file should error")
	}
}
