package models

import (
	"encoding/json"
	"strings"
	"testing"
	"time"
)

// ── Config Tests ──

func TestNewBacktestConfigDefaults(t *testing.T) {
	bars := []Bar{{Symbol: "600519.SH", Close: 100}}
	cfg := NewBacktestConfig("600519.SH", bars)

	if cfg.Symbol != "600519.SH" {
		t.Errorf("Symbol: got %q", cfg.Symbol)
	}
	if len(cfg.Data["600519.SH"]) != 1 {
		t.Errorf("Data not keyed by symbol: %v", cfg.Data)
	}
	if cfg.InitialCash != 100_000 {
		t.Errorf("InitialCash: got %v", cfg.InitialCash)
	}
	if cfg.MaxAgentRounds != 5 {
		t.Errorf("MaxAgentRounds: got %d", cfg.MaxAgentRounds)
	}
	if cfg.Risk != DefaultRiskConfig() {
		t.Errorf("Risk not defaulted: %+v", cfg.Risk)
	}
	if cfg.Context != DefaultContextConfig() {
		t.Errorf("Context not defaulted: %+v", cfg.Context)
	}
}

func TestNormalizeFillsZeroFields(t *testing.T) {
	cfg := BacktestConfig{Data: map[string][]Bar{"X": nil}}
	cfg.Normalize()

	if cfg.InitialCash != 100_000 {
		t.Errorf("InitialCash: got %v", cfg.InitialCash)
	}
	if cfg.MaxAgentRounds != 5 {
		t.Errorf("MaxAgentRounds: got %d", cfg.MaxAgentRounds)
	}
	if cfg.Risk != DefaultRiskConfig() {
		t.Errorf("Risk: got %+v", cfg.Risk)
	}
	if cfg.Context != DefaultContextConfig() {
		t.Errorf("Context: got %+v", cfg.Context)
	}
}

func TestNormalizeKeepsExplicitValues(t *testing.T) {
	cfg := BacktestConfig{
		InitialCash:    50_000,
		MaxAgentRounds: 3,
		Risk:           RiskConfig{MaxPositionPct: 0.5},
	}
	cfg.Normalize()

	if cfg.InitialCash != 50_000 {
		t.Errorf("InitialCash overwritten: got %v", cfg.InitialCash)
	}
	if cfg.MaxAgentRounds != 3 {
		t.Errorf("MaxAgentRounds overwritten: got %d", cfg.MaxAgentRounds)
	}
	if cfg.Risk.MaxPositionPct != 0.5 {
		t.Errorf("MaxPositionPct overwritten: got %v", cfg.Risk.MaxPositionPct)
	}
	// The untouched limits still pick up defaults.
	if cfg.Risk.MaxOpenPositions != 10 {
		t.Errorf("MaxOpenPositions: got %d", cfg.Risk.MaxOpenPositions)
	}
	if cfg.Risk.MaxDailyLossPct != 0.03 {
		t.Errorf("MaxDailyLossPct: got %v", cfg.Risk.MaxDailyLossPct)
	}
}

func TestNormalizeInfersSymbol(t *testing.T) {
	cfg := BacktestConfig{
		Data: map[string][]Bar{"600519.SH": nil, "000001.SZ": nil},
	}
	cfg.Normalize()

	// Lexicographically smallest key wins, so the choice is deterministic.
	if cfg.Symbol != "000001.SZ" {
		t.Errorf("Symbol: got %q, want 000001.SZ", cfg.Symbol)
	}
}

// ── Order Tests ──

func TestSideOpposite(t *testing.T) {
	if SideBuy.Opposite() != SideSell {
		t.Error("buy.Opposite() != sell")
	}
	if SideSell.Opposite() != SideBuy {
		t.Error("sell.Opposite() != buy")
	}
}

func TestOrderJSONOmitsUnsetPrices(t *testing.T) {
	o := Order{
		ID:       "ord-1",
		Symbol:   "600519.SH",
		Side:     SideBuy,
		Type:     OrdMarket,
		Quantity: 100,
	}
	raw, err := json.Marshal(o)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	s := string(raw)
	for _, field := range []string{"limit_price", "stop_price", "valid_bars"} {
		if strings.Contains(s, field) {
			t.Errorf("market order JSON carries %s: %s", field, s)
		}
	}
	if !strings.Contains(s, `"order_type":"market"`) {
		t.Errorf("order_type missing: %s", s)
	}
}

func TestPositionUpdateUnrealized(t *testing.T) {
	long := Position{Symbol: "X", Size: 100, AvgPrice: 10}
	long.UpdateUnrealized(12)
	if long.UnrealizedPnl != 200 {
		t.Errorf("long unrealized: got %v, want 200", long.UnrealizedPnl)
	}

	short := Position{Symbol: "X", Size: -100, AvgPrice: 10}
	short.UpdateUnrealized(12)
	if short.UnrealizedPnl != -200 {
		t.Errorf("short unrealized: got %v, want -200", short.UnrealizedPnl)
	}
}

// ── Decision Tests ──

func TestToolCallDurationNotSerialized(t *testing.T) {
	d := Decision{
		Datetime: time.Date(2023, 1, 5, 0, 0, 0, 0, time.UTC),
		BarIndex: 14,
		Action:   ActionBuy,
		ToolCalls: []ToolCall{
			{Tool: "compute", Input: map[string]any{"code": "latest(close)"}, DurationMs: 12.5},
		},
	}
	raw, err := json.Marshal(d)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if strings.Contains(string(raw), "12.5") {
		t.Errorf("tool call duration leaked into decision record: %s", raw)
	}
	if !strings.Contains(string(raw), `"action":"buy"`) {
		t.Errorf("action missing: %s", raw)
	}
}

func TestDecisionJSONRoundtrip(t *testing.T) {
	d := Decision{
		Datetime:  time.Date(2023, 1, 5, 0, 0, 0, 0, time.UTC),
		BarIndex:  14,
		Action:    ActionSell,
		Symbol:    "600519.SH",
		Quantity:  200,
		Reasoning: "RSI 超买，兑现利润",
		Rounds:    2,
	}
	raw, err := json.Marshal(d)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var back Decision
	if err := json.Unmarshal(raw, &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if back.Action != ActionSell || back.Quantity != 200 || back.BarIndex != 14 {
		t.Errorf("roundtrip mismatch: %+v", back)
	}
	if back.Reasoning != d.Reasoning {
		t.Errorf("reasoning mismatch: %q", back.Reasoning)
	}
}

// ── Result Tests ──

func TestBacktestResultHidesConfig(t *testing.T) {
	r := BacktestResult{
		Performance: PerformanceReport{TotalReturn: 0.12},
		Config: BacktestConfig{
			Symbol:      "600519.SH",
			InitialCash: 100_000,
			Data:        map[string][]Bar{"600519.SH": {{Close: 1800}}},
		},
	}
	raw, err := json.Marshal(r)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if strings.Contains(string(raw), "initial_cash") {
		t.Errorf("config leaked into result JSON: %s", raw)
	}
	if !strings.Contains(string(raw), `"total_return":0.12`) {
		t.Errorf("performance missing: %s", raw)
	}
}

// ── Event Tests ──

func TestEventTypeConstants(t *testing.T) {
	tests := []struct {
		got      EventType
		expected string
	}{
		{EventFill, "fill"},
		{EventExpired, "expired"},
		{EventCancelled, "cancelled"},
	}
	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			if string(tt.got) != tt.expected {
				t.Errorf("got %q, want %q", tt.got, tt.expected)
			}
		})
	}
}
