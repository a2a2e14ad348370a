// Package toolkit bridges the decision agent to the engine, the memory
// store, the indicator library, and the compute sandbox. One Toolkit is
// created per decision cycle and records everything it dispatches, so the
// agent can reconstruct what the model looked at and what it traded.
package toolkit

import (
	"context"
	"math"
	"time"

	"github.com/lyeka/agentic-bt/internal/engine"
	"github.com/lyeka/agentic-bt/internal/frame"
	"github.com/lyeka/agentic-bt/internal/indicators"
	"github.com/lyeka/agentic-bt/internal/memory"
	"github.com/lyeka/agentic-bt/internal/sandbox"
	"github.com/lyeka/agentic-bt/pkg/models"
)

// TradeAction records one trade_execute invocation and the engine's verdict.
// The last entry of a decision cycle becomes the Decision's action.
type TradeAction struct {
	Action   string         `json:"action"`
	Symbol   string         `json:"symbol"`
	Quantity int            `json:"quantity"`
	Result   map[string]any `json:"result"`
}

// Toolkit exposes the fixed tool surface to the model. Execute never
// returns a Go error: failures become error payloads the model can read
// and react to.
type Toolkit struct {
	engine *engine.Engine
	memory *memory.Memory

	// CallLog holds every dispatched call in order. IndicatorQueries keeps
	// the last result per indicator name. TradeActions collects non-hold
	// trade_execute calls.
	CallLog          []models.ToolCall
	IndicatorQueries map[string]any
	TradeActions     []TradeAction
}

// New builds a toolkit for one decision cycle.
func New(eng *engine.Engine, mem *memory.Memory) *Toolkit {
	return &Toolkit{
		engine:           eng,
		memory:           mem,
		IndicatorQueries: make(map[string]any),
	}
}

// argError marks a missing or malformed tool argument.
type argError struct{ msg string }

func (e *argError) Error() string { return e.msg }

// Execute dispatches one tool call, appends it to the call log, and returns
// a JSON-serializable payload. Failures are folded into the payload as
// {error, tool, remediation}; an exception never escapes to the agent loop.
func (t *Toolkit) Execute(ctx context.Context, name string, args map[string]any) map[string]any {
	if args == nil {
		args = map[string]any{}
	}
	start := time.Now()
	result, err := t.dispatch(ctx, name, args)
	if err != nil {
		kind := "执行错误"
		if _, ok := err.(*argError); ok {
			kind = "参数错误"
		}
		result = map[string]any{
			"error":       kind + ": " + err.Error(),
			"tool":        name,
			"remediation": remediation[name],
		}
	}
	t.CallLog = append(t.CallLog, models.ToolCall{
		Tool:       name,
		Input:      args,
		Output:     result,
		DurationMs: float64(time.Since(start).Microseconds()) / 1000.0,
	})
	return result
}

func (t *Toolkit) dispatch(ctx context.Context, name string, args map[string]any) (map[string]any, error) {
	switch name {
	case "market_observe":
		return t.marketObserve(args)
	case "market_history":
		return t.marketHistory(args)
	case "indicator_calc":
		return t.indicatorCalc(args)
	case "account_status":
		return t.accountStatus(), nil
	case "trade_execute":
		return t.tradeExecute(args)
	case "order_query":
		return t.orderQuery(), nil
	case "order_cancel":
		return t.orderCancel(args)
	case "memory_log":
		return t.memoryLog(args)
	case "memory_note":
		return t.memoryNote(args)
	case "memory_recall":
		return t.memoryRecall(args)
	case "compute":
		return t.compute(ctx, args)
	default:
		return map[string]any{"error": "未知工具: " + name}, nil
	}
}

// ════════════════════════════════════════════════════════════════════
// Handlers
// ════════════════════════════════════════════════════════════════════

func (t *Toolkit) marketObserve(args map[string]any) (map[string]any, error) {
	symbol, _ := stringArg(args, "symbol")
	snap := t.engine.MarketSnapshot(symbol)
	return map[string]any{
		"datetime": snap.Datetime.Format("2006-01-02T15:04:05"),
		"symbol":   snap.Symbol,
		"open":     snap.Open,
		"high":     snap.High,
		"low":      snap.Low,
		"close":    snap.Close,
		"volume":   snap.Volume,
	}, nil
}

func (t *Toolkit) marketHistory(args map[string]any) (map[string]any, error) {
	n := intArg(args, "bars", 20)
	if n <= 0 {
		return nil, &argError{"bars 必须为正整数"}
	}
	symbol, _ := stringArg(args, "symbol")
	bars := t.engine.RecentBars(n, symbol)
	rows := make([]map[string]any, len(bars))
	for i, b := range bars {
		rows[i] = map[string]any{
			"bar_index": b.Index,
			"date":      b.Datetime.Format("2006-01-02"),
			"open":      b.Open,
			"high":      b.High,
			"low":       b.Low,
			"close":     b.Close,
			"volume":    b.Volume,
		}
	}
	sym := symbol
	if sym == "" {
		sym = t.engine.PrimarySymbol()
	}
	return map[string]any{"symbol": sym, "count": len(rows), "bars": rows}, nil
}

func (t *Toolkit) indicatorCalc(args map[string]any) (map[string]any, error) {
	name, ok := stringArg(args, "name")
	if !ok || name == "" {
		return nil, &argError{"缺少 name"}
	}
	period := intArg(args, "period", 14)
	symbol, _ := stringArg(args, "symbol")
	result := indicators.Latest(name, t.engine.Window(symbol), period)
	t.IndicatorQueries[name] = result
	return result, nil
}

func (t *Toolkit) accountStatus() map[string]any {
	snap := t.engine.AccountSnapshot()
	positions := make(map[string]any, len(snap.Positions))
	for sym, pos := range snap.Positions {
		positions[sym] = map[string]any{"size": pos.Size, "avg_price": pos.AvgPrice}
	}
	return map[string]any{
		"cash":      snap.Cash,
		"equity":    snap.Equity,
		"positions": positions,
	}
}

func (t *Toolkit) tradeExecute(args map[string]any) (map[string]any, error) {
	action, _ := stringArg(args, "action")
	if action == "" {
		action = "hold"
	}
	if action == "hold" {
		return map[string]any{"status": "hold"}, nil
	}

	symbol, _ := stringArg(args, "symbol")
	if symbol == "" {
		symbol = t.engine.PrimarySymbol()
	}
	quantity := intArg(args, "quantity", 0)
	orderType, _ := stringArg(args, "order_type")
	if orderType == "" {
		orderType = "market"
	}
	price, hasPrice := floatArg(args, "price")
	stopLoss, hasSL := floatArg(args, "stop_loss")
	takeProfit, hasTP := floatArg(args, "take_profit")

	var result map[string]any
	switch action {
	case "buy", "sell":
		if hasSL || hasTP {
			// Bracket mode. Presence decides, not truthiness: stop_loss=0
			// is a valid (never-triggering) stop. An absent or zero
			// take_profit becomes +Inf, a limit that never fills.
			sl := 0.0
			if hasSL {
				sl = stopLoss
			}
			tp := math.Inf(1)
			if hasTP && takeProfit != 0 {
				tp = takeProfit
			}
			result = t.engine.SubmitBracket(symbol, models.Side(action), quantity, sl, tp)
			if orderType != "market" || hasPrice {
				result["warning"] = "Bracket 模式：order_type/price 参数已忽略"
			}
		} else {
			order := models.Order{
				Symbol:    symbol,
				Side:      models.Side(action),
				Type:      models.OrdType(orderType),
				Quantity:  quantity,
				ValidBars: intArg(args, "valid_bars", 0),
			}
			if orderType == "limit" && hasPrice {
				order.LimitPrice = price
			}
			if orderType == "stop" && hasPrice {
				order.StopPrice = price
			}
			result = t.engine.Submit(order)
		}
	case "close":
		result = t.engine.SubmitClose(symbol)
	default:
		result = map[string]any{"status": "rejected", "reason": "未知 action: " + action}
	}

	t.TradeActions = append(t.TradeActions, TradeAction{
		Action:   action,
		Symbol:   symbol,
		Quantity: quantity,
		Result:   result,
	})
	return result, nil
}

func (t *Toolkit) orderQuery() map[string]any {
	orders := t.engine.PendingOrders()
	out := make([]map[string]any, len(orders))
	for i, o := range orders {
		row := map[string]any{
			"order_id":   o.ID,
			"symbol":     o.Symbol,
			"side":       string(o.Side),
			"order_type": string(o.Type),
			"quantity":   o.Quantity,
			"bar_index":  o.BarIndex,
		}
		if o.LimitPrice != 0 {
			// a bracket take-profit of +Inf never fills; JSON cannot
			// carry the float so it degrades to a string
			if math.IsInf(o.LimitPrice, 1) {
				row["limit_price"] = "inf"
			} else {
				row["limit_price"] = o.LimitPrice
			}
		}
		if o.StopPrice != 0 {
			row["stop_price"] = o.StopPrice
		}
		if o.ValidBars != 0 {
			row["valid_bars"] = o.ValidBars
		}
		out[i] = row
	}
	return map[string]any{"pending_orders": out}
}

func (t *Toolkit) orderCancel(args map[string]any) (map[string]any, error) {
	orderID, ok := stringArg(args, "order_id")
	if !ok || orderID == "" {
		return nil, &argError{"缺少 order_id"}
	}
	return t.engine.CancelOrder(orderID), nil
}

func (t *Toolkit) memoryLog(args map[string]any) (map[string]any, error) {
	content, ok := stringArg(args, "content")
	if !ok || content == "" {
		return nil, &argError{"缺少 content"}
	}
	if err := t.memory.Log(content); err != nil {
		return nil, err
	}
	return map[string]any{"status": "ok"}, nil
}

func (t *Toolkit) memoryNote(args map[string]any) (map[string]any, error) {
	key, ok := stringArg(args, "key")
	if !ok || key == "" {
		return nil, &argError{"缺少 key"}
	}
	content, ok := stringArg(args, "content")
	if !ok || content == "" {
		return nil, &argError{"缺少 content"}
	}
	if err := t.memory.Note(key, content); err != nil {
		return nil, err
	}
	return map[string]any{"status": "ok"}, nil
}

func (t *Toolkit) memoryRecall(args map[string]any) (map[string]any, error) {
	query, ok := stringArg(args, "query")
	if !ok || query == "" {
		return nil, &argError{"缺少 query"}
	}
	return map[string]any{"results": t.memory.Recall(query)}, nil
}

func (t *Toolkit) compute(ctx context.Context, args map[string]any) (map[string]any, error) {
	code, ok := stringArg(args, "code")
	if !ok || code == "" {
		return nil, &argError{"缺少 code"}
	}
	symbol, _ := stringArg(args, "symbol")
	primarySym := symbol
	if primarySym == "" {
		primarySym = t.engine.PrimarySymbol()
	}

	extra := make(map[string]*frame.Frame)
	for _, sym := range t.engine.Symbols() {
		if sym == primarySym {
			continue
		}
		extra[sym] = frame.New(sym, t.engine.Window(sym))
	}

	acc := t.engine.AccountSnapshot()
	view := sandbox.AccountView{
		Cash:      acc.Cash,
		Equity:    acc.Equity,
		Positions: make(map[string]sandbox.PositionView, len(acc.Positions)),
	}
	for sym, pos := range acc.Positions {
		view.Positions[sym] = sandbox.PositionView{Size: pos.Size, AvgPrice: pos.AvgPrice}
	}

	return sandbox.Run(ctx, sandbox.Request{
		Code:    code,
		Primary: frame.New(primarySym, t.engine.Window(primarySym)),
		Extra:   extra,
		Account: view,
	}), nil
}

// ════════════════════════════════════════════════════════════════════
// Argument coercion
// ════════════════════════════════════════════════════════════════════

func stringArg(args map[string]any, key string) (string, bool) {
	v, ok := args[key]
	if !ok || v == nil {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// intArg accepts the numeric shapes a JSON decoder can produce.
func intArg(args map[string]any, key string, def int) int {
	v, ok := args[key]
	if !ok || v == nil {
		return def
	}
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	default:
		return def
	}
}

// floatArg reports presence separately from value: a JSON null or a missing
// key is absent, an explicit 0 is present.
func floatArg(args map[string]any, key string) (float64, bool) {
	v, ok := args[key]
	if !ok || v == nil {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}
