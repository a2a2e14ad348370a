package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/lyeka/agentic-bt/pkg/models"
)

// clearEnv unsets every variable the loader reads so tests see only what
// they set themselves.
func clearEnv() {
	for _, e := range []string{
		"AGENTICBT_LLM_API_KEY", "OPENAI_API_KEY", "OPENAI_BASE_URL", "OPENAI_MODEL",
		"AGENTICBT_DATASOURCE_TUSHARE_TOKEN", "TUSHARE_TOKEN",
	} {
		os.Unsetenv(e)
	}
}

// ── Load / Defaults ──

func TestLoadReturnsDefaults(t *testing.T) {
	clearEnv()

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	// LLM defaults
	if cfg.LLM.Provider != "openai" {
		t.Errorf("LLM.Provider: got %q, want %q", cfg.LLM.Provider, "openai")
	}
	if cfg.LLM.Temperature != 0.1 {
		t.Errorf("LLM.Temperature: got %f, want 0.1", cfg.LLM.Temperature)
	}
	if cfg.LLM.MaxTokens != 4096 {
		t.Errorf("LLM.MaxTokens: got %d, want 4096", cfg.LLM.MaxTokens)
	}
	if cfg.LLM.MaxRounds != 15 {
		t.Errorf("LLM.MaxRounds: got %d, want 15", cfg.LLM.MaxRounds)
	}
	if cfg.LLM.Model != "" {
		t.Errorf("LLM.Model should default empty (provider default applies), got %q", cfg.LLM.Model)
	}

	// Backtest defaults
	if cfg.Backtest.InitialCash != 100000 {
		t.Errorf("Backtest.InitialCash: got %f, want 100000", cfg.Backtest.InitialCash)
	}
	if cfg.Backtest.WorkspaceRoot != "./workspaces" {
		t.Errorf("Backtest.WorkspaceRoot: got %q", cfg.Backtest.WorkspaceRoot)
	}

	// Risk defaults
	if cfg.Risk.MaxPositionPct != 0.20 {
		t.Errorf("Risk.MaxPositionPct: got %f, want 0.20", cfg.Risk.MaxPositionPct)
	}
	if cfg.Risk.MaxPortfolioDrawdown != 0.15 {
		t.Errorf("Risk.MaxPortfolioDrawdown: got %f, want 0.15", cfg.Risk.MaxPortfolioDrawdown)
	}
	if cfg.Risk.MaxOpenPositions != 10 {
		t.Errorf("Risk.MaxOpenPositions: got %d, want 10", cfg.Risk.MaxOpenPositions)
	}
	if cfg.Risk.MaxDailyLossPct != 0.03 {
		t.Errorf("Risk.MaxDailyLossPct: got %f, want 0.03", cfg.Risk.MaxDailyLossPct)
	}

	// Datasource defaults
	if cfg.Datasource.TushareURL != "http://api.tushare.pro" {
		t.Errorf("Datasource.TushareURL: got %q", cfg.Datasource.TushareURL)
	}
	if cfg.Datasource.RateLimit != 480 {
		t.Errorf("Datasource.RateLimit: got %f, want 480", cfg.Datasource.RateLimit)
	}
	if cfg.Datasource.TimeoutSec != 15 {
		t.Errorf("Datasource.TimeoutSec: got %d, want 15", cfg.Datasource.TimeoutSec)
	}

	// Logging defaults
	if cfg.Logging.Level != "info" {
		t.Errorf("Logging.Level: got %q, want %q", cfg.Logging.Level, "info")
	}
	if cfg.Logging.Format != "text" {
		t.Errorf("Logging.Format: got %q, want %q", cfg.Logging.Format, "text")
	}
}

// ── LoadFromFile ──

func TestLoadFromFile(t *testing.T) {
	clearEnv()

	tmpDir := t.TempDir()
	cfgPath := filepath.Join(tmpDir, "test_config.yaml")
	content := []byte(`
llm:
  provider: "ollama"
  model: "qwen2.5:14b"
  temperature: 0.3
  max_rounds: 25
backtest:
  initial_cash: 250000
  slippage_pct: 0.001
  commission_rate: 0.0005
risk:
  max_position_pct: 0.45
  max_open_positions: 2
datasource:
  tushare_url: "http://mirror.tushare.local"
logging:
  level: "debug"
  format: "json"
`)
	if err := os.WriteFile(cfgPath, content, 0644); err != nil {
		t.Fatalf("write temp config: %v", err)
	}

	cfg, err := LoadFromFile(cfgPath)
	if err != nil {
		t.Fatalf("LoadFromFile() error: %v", err)
	}
	if cfg.LLM.Provider != "ollama" {
		t.Errorf("LLM.Provider: got %q, want %q", cfg.LLM.Provider, "ollama")
	}
	if cfg.LLM.Model != "qwen2.5:14b" {
		t.Errorf("LLM.Model: got %q", cfg.LLM.Model)
	}
	if cfg.LLM.Temperature != 0.3 {
		t.Errorf("LLM.Temperature: got %f, want 0.3", cfg.LLM.Temperature)
	}
	if cfg.LLM.MaxRounds != 25 {
		t.Errorf("LLM.MaxRounds: got %d, want 25", cfg.LLM.MaxRounds)
	}
	if cfg.Backtest.InitialCash != 250000 {
		t.Errorf("Backtest.InitialCash: got %f, want 250000", cfg.Backtest.InitialCash)
	}
	if cfg.Backtest.SlippagePct != 0.001 {
		t.Errorf("Backtest.SlippagePct: got %f, want 0.001", cfg.Backtest.SlippagePct)
	}
	if cfg.Backtest.CommissionRate != 0.0005 {
		t.Errorf("Backtest.CommissionRate: got %f, want 0.0005", cfg.Backtest.CommissionRate)
	}
	if cfg.Risk.MaxPositionPct != 0.45 {
		t.Errorf("Risk.MaxPositionPct: got %f, want 0.45", cfg.Risk.MaxPositionPct)
	}
	if cfg.Risk.MaxOpenPositions != 2 {
		t.Errorf("Risk.MaxOpenPositions: got %d, want 2", cfg.Risk.MaxOpenPositions)
	}
	if cfg.Datasource.TushareURL != "http://mirror.tushare.local" {
		t.Errorf("Datasource.TushareURL: got %q", cfg.Datasource.TushareURL)
	}
	if cfg.Logging.Level != "debug" || cfg.Logging.Format != "json" {
		t.Errorf("Logging: got %q/%q, want debug/json", cfg.Logging.Level, cfg.Logging.Format)
	}

	// Keys the file does not set keep their defaults.
	if cfg.Datasource.TimeoutSec != 15 {
		t.Errorf("Datasource.TimeoutSec should keep default 15, got %d", cfg.Datasource.TimeoutSec)
	}
	if cfg.Risk.MaxDailyLossPct != 0.03 {
		t.Errorf("Risk.MaxDailyLossPct should keep default 0.03, got %f", cfg.Risk.MaxDailyLossPct)
	}
}

func TestLoadFromFileNotFound(t *testing.T) {
	if _, err := LoadFromFile("/nonexistent/path/config.yaml"); err == nil {
		t.Error("LoadFromFile() with nonexistent path should return error")
	}
}

// ── overrideFromEnv ──

func TestOverrideFromEnv(t *testing.T) {
	clearEnv()
	os.Setenv("AGENTICBT_LLM_API_KEY", "sk-prefixed-key-123456")
	os.Setenv("TUSHARE_TOKEN", "ts-token-7890abcdef")
	defer clearEnv()

	cfg := &Config{}
	overrideFromEnv(cfg)

	if cfg.LLM.APIKey != "sk-prefixed-key-123456" {
		t.Errorf("LLM.APIKey: got %q", cfg.LLM.APIKey)
	}
	if cfg.Datasource.TushareToken != "ts-token-7890abcdef" {
		t.Errorf("Datasource.TushareToken: got %q", cfg.Datasource.TushareToken)
	}
}

func TestOverrideFromEnvBareNames(t *testing.T) {
	clearEnv()
	os.Setenv("OPENAI_API_KEY", "sk-bare-key-123456")
	os.Setenv("OPENAI_BASE_URL", "http://localhost:8000/v1")
	os.Setenv("OPENAI_MODEL", "gpt-4o")
	defer clearEnv()

	cfg := &Config{}
	overrideFromEnv(cfg)
	if cfg.LLM.APIKey != "sk-bare-key-123456" {
		t.Errorf("LLM.APIKey from OPENAI_API_KEY: got %q", cfg.LLM.APIKey)
	}
	if cfg.LLM.BaseURL != "http://localhost:8000/v1" {
		t.Errorf("LLM.BaseURL from OPENAI_BASE_URL: got %q", cfg.LLM.BaseURL)
	}
	if cfg.LLM.Model != "gpt-4o" {
		t.Errorf("LLM.Model from OPENAI_MODEL: got %q", cfg.LLM.Model)
	}
}

func TestOverrideFromEnvPrefixedWins(t *testing.T) {
	clearEnv()
	os.Setenv("AGENTICBT_LLM_API_KEY", "sk-prefixed-key-123456")
	os.Setenv("OPENAI_API_KEY", "sk-bare-key-123456")
	defer clearEnv()

	cfg := &Config{}
	overrideFromEnv(cfg)
	if cfg.LLM.APIKey != "sk-prefixed-key-123456" {
		t.Errorf("prefixed env var should win, got %q", cfg.LLM.APIKey)
	}
}

func TestOverrideFromEnvNoEnvSet(t *testing.T) {
	clearEnv()

	cfg := &Config{LLM: LLMConfig{APIKey: "from-config"}}
	overrideFromEnv(cfg)
	if cfg.LLM.APIKey != "from-config" {
		t.Errorf("APIKey should stay as 'from-config' when env is unset, got %q", cfg.LLM.APIKey)
	}
}

// ── Bridges into the engine config ──

func TestRiskLimits(t *testing.T) {
	cfg := &Config{Risk: RiskConfig{
		MaxPositionPct:       0.45,
		MaxPortfolioDrawdown: 0.10,
		MaxOpenPositions:     2,
		MaxDailyLossPct:      0.05,
	}}
	limits := cfg.RiskLimits()
	if limits.MaxPositionPct != 0.45 || limits.MaxOpenPositions != 2 {
		t.Errorf("RiskLimits: got %+v", limits)
	}
	if limits.MaxPortfolioDrawdown != 0.10 || limits.MaxDailyLossPct != 0.05 {
		t.Errorf("RiskLimits: got %+v", limits)
	}
}

func TestApplyBacktestFillsEmptyFields(t *testing.T) {
	cfg := &Config{
		LLM: LLMConfig{MaxRounds: 20},
		Backtest: BacktestConfig{
			InitialCash:    250000,
			SlippagePct:    0.001,
			CommissionRate: 0.0005,
			WorkspaceRoot:  "/tmp/runs",
		},
		Risk: RiskConfig{MaxPositionPct: 0.30, MaxPortfolioDrawdown: 0.15, MaxOpenPositions: 5, MaxDailyLossPct: 0.03},
	}

	var bc models.BacktestConfig
	cfg.ApplyBacktest(&bc)

	if bc.InitialCash != 250000 {
		t.Errorf("InitialCash: got %f", bc.InitialCash)
	}
	if bc.Execution.SlippagePct != 0.001 {
		t.Errorf("SlippagePct: got %f", bc.Execution.SlippagePct)
	}
	if bc.Commission.Rate != 0.0005 {
		t.Errorf("Commission.Rate: got %f", bc.Commission.Rate)
	}
	if bc.WorkspaceRoot != "/tmp/runs" {
		t.Errorf("WorkspaceRoot: got %q", bc.WorkspaceRoot)
	}
	if bc.MaxAgentRounds != 20 {
		t.Errorf("MaxAgentRounds: got %d", bc.MaxAgentRounds)
	}
	if bc.Risk.MaxPositionPct != 0.30 {
		t.Errorf("Risk.MaxPositionPct: got %f", bc.Risk.MaxPositionPct)
	}
}

func TestApplyBacktestKeepsCallerValues(t *testing.T) {
	cfg := &Config{
		LLM:      LLMConfig{MaxRounds: 20},
		Backtest: BacktestConfig{InitialCash: 250000, Slippage: 0.5},
		Risk:     RiskConfig{MaxPositionPct: 0.30},
	}

	bc := models.BacktestConfig{
		InitialCash:    50000,
		MaxAgentRounds: 5,
		Risk:           models.RiskConfig{MaxPositionPct: 0.45, MaxOpenPositions: 2},
	}
	cfg.ApplyBacktest(&bc)

	if bc.InitialCash != 50000 {
		t.Errorf("caller's InitialCash overwritten: got %f", bc.InitialCash)
	}
	if bc.MaxAgentRounds != 5 {
		t.Errorf("caller's MaxAgentRounds overwritten: got %d", bc.MaxAgentRounds)
	}
	if bc.Risk.MaxPositionPct != 0.45 {
		t.Errorf("caller's risk overwritten: got %+v", bc.Risk)
	}
}

// ── maskKey / CheckAPIKeys ──

func TestMaskKeyShort(t *testing.T) {
	// Keys with 8 or fewer characters should be fully masked
	tests := []struct {
		input string
		want  string
	}{
		{"", "***"},
		{"a", "***"},
		{"abcd", "***"},
		{"12345678", "***"},
	}
	for _, tc := range tests {
		if got := maskKey(tc.input); got != tc.want {
			t.Errorf("maskKey(%q): got %q, want %q", tc.input, got, tc.want)
		}
	}
}

func TestMaskKeyLong(t *testing.T) {
	// Keys with more than 8 characters show first 3 + ... + last 3
	tests := []struct {
		input string
		want  string
	}{
		{"123456789", "123...789"},
		{"sk-proj-abcdefgh", "sk-...fgh"},
	}
	for _, tc := range tests {
		if got := maskKey(tc.input); got != tc.want {
			t.Errorf("maskKey(%q): got %q, want %q", tc.input, got, tc.want)
		}
	}
}

func TestCheckAPIKeys(t *testing.T) {
	clearEnv()

	statuses := CheckAPIKeys(&Config{
		LLM: LLMConfig{APIKey: "sk-proj-abcdefgh"},
	})
	if len(statuses) != 2 {
		t.Fatalf("expected 2 key statuses, got %d", len(statuses))
	}

	llmKey := statuses[0]
	if !llmKey.IsSet || llmKey.Source != KeySourceConfig {
		t.Errorf("LLM key status: %+v", llmKey)
	}
	if llmKey.Masked != "sk-...fgh" {
		t.Errorf("LLM key mask: got %q", llmKey.Masked)
	}

	tushare := statuses[1]
	if tushare.IsSet || tushare.Source != KeySourceNone {
		t.Errorf("Tushare key status: %+v", tushare)
	}
}

func TestCheckAPIKeysEnvSource(t *testing.T) {
	clearEnv()
	os.Setenv("OPENAI_API_KEY", "sk-env-key-123456")
	defer clearEnv()

	cfg := &Config{}
	overrideFromEnv(cfg)
	statuses := CheckAPIKeys(cfg)
	if statuses[0].Source != KeySourceEnv {
		t.Errorf("LLM key source: got %q, want env", statuses[0].Source)
	}
}
