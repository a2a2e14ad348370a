package toolkit

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/lyeka/agentic-bt/internal/engine"
	"github.com/lyeka/agentic-bt/internal/memory"
	"github.com/lyeka/agentic-bt/pkg/models"
)

// ════════════════════════════════════════════════════════════════════
// Test Helpers
// ════════════════════════════════════════════════════════════════════

func testBars(symbol string, closes ...float64) []models.Bar {
	bars := make([]models.Bar, len(closes))
	base := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	for i, c := range closes {
		bars[i] = models.Bar{
			Symbol:   symbol,
			Datetime: base.AddDate(0, 0, i),
			Open:     c - 1,
			High:     c + 2,
			Low:      c - 2,
			Close:    c,
			Volume:   1_000_000,
			Index:    i,
		}
	}
	return bars
}

// newToolkit builds a toolkit over a 30-bar single-symbol engine advanced
// to the last bar, with a fresh memory workspace.
func newToolkit(t *testing.T) (*Toolkit, *engine.Engine) {
	t.Helper()
	closes := make([]float64, 30)
	for i := range closes {
		closes[i] = 100 + float64(i)
	}
	cfg := models.NewBacktestConfig("AAPL", testBars("AAPL", closes...))
	cfg.Risk.MaxPositionPct = 1.0
	eng := engine.New(cfg)
	for eng.HasNext() {
		eng.Advance()
	}

	ws, err := memory.NewWorkspace(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	return New(eng, memory.New(ws)), eng
}

func execute(t *testing.T, tk *Toolkit, name string, args map[string]any) map[string]any {
	t.Helper()
	return tk.Execute(context.Background(), name, args)
}

// ════════════════════════════════════════════════════════════════════
// Schemas
// ════════════════════════════════════════════════════════════════════

func TestSchemasFixedSurface(t *testing.T) {
	tk, _ := newToolkit(t)
	tools := tk.Schemas()

	want := []string{
		"market_observe", "market_history", "indicator_calc", "account_status",
		"trade_execute", "order_query", "order_cancel",
		"memory_log", "memory_note", "memory_recall", "compute",
	}
	if len(tools) != len(want) {
		t.Fatalf("expected %d tools, got %d", len(want), len(tools))
	}
	for i, name := range want {
		if tools[i].Name != name {
			t.Errorf("tool %d = %s, want %s", i, tools[i].Name, name)
		}
	}

	trade := -1
	for i := range tools {
		if tools[i].Name == "trade_execute" {
			trade = i
			break
		}
	}
	if trade < 0 {
		t.Fatal("trade_execute missing")
	}
	params := tools[trade].Parameters
	action := params.Properties["action"]
	if len(action.Enum) != 4 || action.Enum[0] != "buy" || action.Enum[3] != "hold" {
		t.Errorf("action enum = %v", action.Enum)
	}
	if len(params.Required) != 1 || params.Required[0] != "action" {
		t.Errorf("required = %v", params.Required)
	}
	orderType := params.Properties["order_type"]
	if orderType.Default != "market" {
		t.Errorf("order_type default = %v", orderType.Default)
	}
}

// ════════════════════════════════════════════════════════════════════
// Read-only tools
// ════════════════════════════════════════════════════════════════════

func TestMarketObserve(t *testing.T) {
	tk, _ := newToolkit(t)
	result := execute(t, tk, "market_observe", nil)
	if result["symbol"] != "AAPL" || result["close"] != 129.0 {
		t.Fatalf("unexpected snapshot: %v", result)
	}
	if result["datetime"] != "2024-01-31T00:00:00" {
		t.Errorf("datetime = %v", result["datetime"])
	}
	if len(tk.CallLog) != 1 || tk.CallLog[0].Tool != "market_observe" {
		t.Errorf("call log not recorded: %v", tk.CallLog)
	}
}

func TestMarketHistory(t *testing.T) {
	tk, _ := newToolkit(t)
	result := execute(t, tk, "market_history", map[string]any{"bars": float64(5)})
	if result["count"] != 5 {
		t.Fatalf("count = %v", result["count"])
	}
	rows := result["bars"].([]map[string]any)
	if rows[4]["close"] != 129.0 || rows[0]["close"] != 125.0 {
		t.Errorf("unexpected rows: %v", rows)
	}
	if rows[4]["date"] != "2024-01-31" {
		t.Errorf("date = %v", rows[4]["date"])
	}
}

func TestMarketHistoryRejectsNonPositive(t *testing.T) {
	tk, _ := newToolkit(t)
	result := execute(t, tk, "market_history", map[string]any{"bars": float64(0)})
	errMsg, _ := result["error"].(string)
	if !strings.HasPrefix(errMsg, "参数错误:") {
		t.Fatalf("expected argument error, got %v", result)
	}
	if result["tool"] != "market_history" || result["remediation"] == "" {
		t.Errorf("error payload incomplete: %v", result)
	}
}

func TestIndicatorCalcRecordsQuery(t *testing.T) {
	tk, _ := newToolkit(t)
	result := execute(t, tk, "indicator_calc", map[string]any{"name": "RSI", "period": float64(14)})
	if _, ok := result["value"]; !ok {
		t.Fatalf("expected value key, got %v", result)
	}
	if _, ok := tk.IndicatorQueries["RSI"]; !ok {
		t.Error("indicator query not recorded")
	}
}

func TestIndicatorCalcUnknownName(t *testing.T) {
	tk, _ := newToolkit(t)
	result := execute(t, tk, "indicator_calc", map[string]any{"name": "VWAP"})
	errMsg, _ := result["error"].(string)
	if !strings.Contains(errMsg, "未知指标") {
		t.Fatalf("expected 未知指标 payload, got %v", result)
	}
	// unknown names come back as a plain payload, not a wrapped failure
	if _, ok := result["remediation"]; ok {
		t.Error("indicator payload should not carry remediation")
	}
}

func TestIndicatorCalcMissingName(t *testing.T) {
	tk, _ := newToolkit(t)
	result := execute(t, tk, "indicator_calc", map[string]any{})
	errMsg, _ := result["error"].(string)
	if !strings.Contains(errMsg, "参数错误") || !strings.Contains(errMsg, "name") {
		t.Fatalf("expected missing-name error, got %v", result)
	}
}

func TestAccountStatus(t *testing.T) {
	tk, _ := newToolkit(t)
	result := execute(t, tk, "account_status", nil)
	if result["cash"] != 100_000.0 || result["equity"] != 100_000.0 {
		t.Fatalf("unexpected account: %v", result)
	}
	positions := result["positions"].(map[string]any)
	if len(positions) != 0 {
		t.Errorf("expected flat account, got %v", positions)
	}
}

// ════════════════════════════════════════════════════════════════════
// trade_execute
// ════════════════════════════════════════════════════════════════════

func TestTradeExecuteHold(t *testing.T) {
	tk, _ := newToolkit(t)
	result := execute(t, tk, "trade_execute", map[string]any{"action": "hold"})
	if result["status"] != "hold" {
		t.Fatalf("unexpected result: %v", result)
	}
	if len(tk.TradeActions) != 0 {
		t.Error("hold must not append a trade action")
	}
	if len(tk.CallLog) != 1 {
		t.Error("hold still belongs in the call log")
	}
}

func TestTradeExecuteMarketBuy(t *testing.T) {
	tk, eng := newToolkit(t)
	result := execute(t, tk, "trade_execute", map[string]any{
		"action": "buy", "quantity": float64(100),
	})
	if result["status"] != "submitted" {
		t.Fatalf("unexpected result: %v", result)
	}
	if len(tk.TradeActions) != 1 {
		t.Fatal("trade action not recorded")
	}
	ta := tk.TradeActions[0]
	if ta.Action != "buy" || ta.Symbol != "AAPL" || ta.Quantity != 100 {
		t.Errorf("unexpected trade action: %+v", ta)
	}
	if ta.Result["status"] != "submitted" {
		t.Errorf("result not attached: %v", ta.Result)
	}
	if len(eng.PendingOrders()) != 1 {
		t.Error("order should be pending in the engine")
	}
}

func TestTradeExecuteLimitOrderMapsPrice(t *testing.T) {
	tk, eng := newToolkit(t)
	execute(t, tk, "trade_execute", map[string]any{
		"action": "buy", "quantity": float64(10),
		"order_type": "limit", "price": 120.0, "valid_bars": float64(3),
	})
	pending := eng.PendingOrders()
	if len(pending) != 1 {
		t.Fatal("expected pending limit order")
	}
	o := pending[0]
	if o.Type != models.OrdLimit || o.LimitPrice != 120.0 || o.StopPrice != 0 || o.ValidBars != 3 {
		t.Errorf("limit order malformed: %+v", o)
	}
}

func TestTradeExecuteBracketWarning(t *testing.T) {
	tk, _ := newToolkit(t)
	result := execute(t, tk, "trade_execute", map[string]any{
		"action": "buy", "quantity": float64(10),
		"stop_loss": 95.0, "take_profit": 140.0,
		"order_type": "limit", "price": 120.0,
	})
	if result["status"] != "submitted" {
		t.Fatalf("unexpected result: %v", result)
	}
	if result["warning"] != "Bracket 模式：order_type/price 参数已忽略" {
		t.Errorf("warning = %v", result["warning"])
	}
}

func TestTradeExecuteBracketNoWarningWhenClean(t *testing.T) {
	tk, _ := newToolkit(t)
	result := execute(t, tk, "trade_execute", map[string]any{
		"action": "buy", "quantity": float64(10),
		"stop_loss": 95.0, "take_profit": 140.0,
	})
	if _, ok := result["warning"]; ok {
		t.Errorf("clean bracket must not warn: %v", result)
	}
}

func TestTradeExecuteBracketZeroStopIsPresent(t *testing.T) {
	tk, eng := newToolkit(t)
	// stop_loss=0 still selects bracket mode: presence, not truthiness
	result := execute(t, tk, "trade_execute", map[string]any{
		"action": "buy", "quantity": float64(10), "stop_loss": 0.0,
	})
	if result["status"] != "submitted" {
		t.Fatalf("unexpected result: %v", result)
	}
	if len(eng.PendingOrders()) != 1 {
		t.Fatal("bracket parent should be pending, children dormant")
	}
}

func TestTradeExecuteClose(t *testing.T) {
	tk, _ := newToolkit(t)
	result := execute(t, tk, "trade_execute", map[string]any{"action": "close"})
	if result["status"] != "rejected" || result["reason"] != "无持仓可平" {
		t.Fatalf("unexpected result: %v", result)
	}
	if len(tk.TradeActions) != 1 || tk.TradeActions[0].Action != "close" {
		t.Error("close must be recorded even when rejected")
	}
}

func TestTradeExecuteUnknownAction(t *testing.T) {
	tk, _ := newToolkit(t)
	result := execute(t, tk, "trade_execute", map[string]any{"action": "short"})
	if result["status"] != "rejected" || result["reason"] != "未知 action: short" {
		t.Fatalf("unexpected result: %v", result)
	}
}

// ════════════════════════════════════════════════════════════════════
// Orders, memory, compute
// ════════════════════════════════════════════════════════════════════

func TestOrderQueryAndCancel(t *testing.T) {
	tk, _ := newToolkit(t)
	submit := execute(t, tk, "trade_execute", map[string]any{
		"action": "buy", "quantity": float64(10), "order_type": "limit", "price": 90.0,
	})
	orderID := submit["order_id"].(string)

	query := execute(t, tk, "order_query", nil)
	orders := query["pending_orders"].([]map[string]any)
	if len(orders) != 1 || orders[0]["order_id"] != orderID || orders[0]["limit_price"] != 90.0 {
		t.Fatalf("unexpected pending orders: %v", orders)
	}

	cancel := execute(t, tk, "order_cancel", map[string]any{"order_id": orderID})
	if cancel["status"] != "cancelled" {
		t.Fatalf("unexpected cancel result: %v", cancel)
	}

	missing := execute(t, tk, "order_cancel", map[string]any{"order_id": "deadbeef"})
	if missing["status"] != "error" || missing["reason"] != "未找到订单: deadbeef" {
		t.Fatalf("unexpected missing-order result: %v", missing)
	}
}

func TestMemoryToolsRoundTrip(t *testing.T) {
	tk, _ := newToolkit(t)

	if r := execute(t, tk, "memory_log", map[string]any{"content": "突破 120 买入"}); r["status"] != "ok" {
		t.Fatalf("memory_log: %v", r)
	}
	if r := execute(t, tk, "memory_note", map[string]any{"key": "regime", "content": "上升趋势"}); r["status"] != "ok" {
		t.Fatalf("memory_note: %v", r)
	}

	recall := execute(t, tk, "memory_recall", map[string]any{"query": "趋势"})
	hits := recall["results"].([]memory.RecallHit)
	if len(hits) != 1 || hits[0].Source != "notes/regime.md" {
		t.Fatalf("unexpected recall hits: %v", hits)
	}
}

func TestMemoryRecallMissingQuery(t *testing.T) {
	tk, _ := newToolkit(t)
	result := execute(t, tk, "memory_recall", map[string]any{})
	errMsg, _ := result["error"].(string)
	if !strings.Contains(errMsg, "参数错误") {
		t.Fatalf("expected argument error, got %v", result)
	}
	if result["remediation"] != remediation["memory_recall"] {
		t.Errorf("remediation hint missing: %v", result)
	}
}

func TestComputeDelegatesToSandbox(t *testing.T) {
	tk, _ := newToolkit(t)
	result := execute(t, tk, "compute", map[string]any{"code": "latest(close)"})
	if result["result"] != 129.0 {
		t.Fatalf("unexpected compute result: %v", result)
	}
	meta := result["_meta"].(map[string]interface{})
	if meta["df_rows"] != 30 {
		t.Errorf("df should hold the full visible window, got %v", meta["df_rows"])
	}
}

func TestComputeErrorsStayInPayload(t *testing.T) {
	tk, _ := newToolkit(t)
	result := execute(t, tk, "compute", map[string]any{"code": "undefined_name"})
	if _, ok := result["error"]; !ok {
		t.Fatalf("expected sandbox error payload, got %v", result)
	}
	// sandbox failures carry their own remediation, not the toolkit's
	if result["tool"] == "compute" {
		t.Error("sandbox payload should pass through unwrapped")
	}
}

func TestUnknownTool(t *testing.T) {
	tk, _ := newToolkit(t)
	result := execute(t, tk, "bash_execute", map[string]any{"cmd": "ls"})
	if result["error"] != "未知工具: bash_execute" {
		t.Fatalf("unexpected result: %v", result)
	}
	if len(tk.CallLog) != 1 {
		t.Error("unknown tools still belong in the call log")
	}
}

func TestCallLogOrderAndTiming(t *testing.T) {
	tk, _ := newToolkit(t)
	execute(t, tk, "market_observe", nil)
	execute(t, tk, "account_status", nil)
	execute(t, tk, "trade_execute", map[string]any{"action": "hold"})

	if len(tk.CallLog) != 3 {
		t.Fatalf("expected 3 calls, got %d", len(tk.CallLog))
	}
	order := []string{"market_observe", "account_status", "trade_execute"}
	for i, want := range order {
		if tk.CallLog[i].Tool != want {
			t.Errorf("call %d = %s, want %s", i, tk.CallLog[i].Tool, want)
		}
		if tk.CallLog[i].DurationMs < 0 {
			t.Errorf("negative duration on call %d", i)
		}
		if tk.CallLog[i].Input == nil {
			t.Errorf("nil input recorded on call %d", i)
		}
	}
}
