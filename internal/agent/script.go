package agent

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/lyeka/agentic-bt/internal/memory"
	"github.com/lyeka/agentic-bt/internal/toolkit"
	"github.com/lyeka/agentic-bt/pkg/models"
)

// Scripted agents drive the same toolkit surface as the LLM agent but decide
// deterministically. They stand in for the model in demos and tests, and each
// one exercises a different slice of the tool surface: indicators, brackets,
// limit-order lifecycles, memory, multiple assets, and the compute sandbox.

// ════════════════════════════════════════════════════════════════════
// RSI mean reversion
// ════════════════════════════════════════════════════════════════════

// RSIAgent buys when RSI drops below 50 and closes above 55. The simplest
// scripted strategy, used to verify the basic tool chain.
type RSIAgent struct{}

func (RSIAgent) Decide(ctx context.Context, c models.Context, tk *toolkit.Toolkit) (models.Decision, error) {
	market := tk.Execute(ctx, "market_observe", nil)
	rsi, hasRSI := floatField(tk.Execute(ctx, "indicator_calc", map[string]any{"name": "RSI", "period": 14}), "value")
	account := tk.Execute(ctx, "account_status", nil)
	hasPosition := len(positionsOf(account)) > 0

	action, symbol, qty := models.ActionHold, "", 0
	var reasoning string
	close, _ := floatField(market, "close")
	cash, _ := floatField(account, "cash")

	switch {
	case !hasRSI:
		reasoning = "RSI 数据不足"
	case rsi < 50 && !hasPosition:
		qty = shares(cash*0.95, close)
		symbol = primarySymbol(c)
		action = models.ActionBuy
		reasoning = fmt.Sprintf("RSI=%.1f<50 买入%d股@%v", rsi, qty, close)
		tk.Execute(ctx, "trade_execute", map[string]any{"action": "buy", "symbol": symbol, "quantity": qty})
		tk.Execute(ctx, "memory_log", map[string]any{"content": fmt.Sprintf("买入 %s %d股 RSI=%.1f", symbol, qty, rsi)})
	case rsi > 55 && hasPosition:
		symbol = primarySymbol(c)
		action = models.ActionClose
		reasoning = fmt.Sprintf("RSI=%.1f>55 平仓", rsi)
		tk.Execute(ctx, "trade_execute", map[string]any{"action": "close", "symbol": symbol})
		tk.Execute(ctx, "memory_log", map[string]any{"content": fmt.Sprintf("平仓 %s RSI=%.1f", symbol, rsi)})
	default:
		held := "无"
		if hasPosition {
			held = "有"
		}
		reasoning = fmt.Sprintf("RSI=%.1f 无信号 持仓=%s", rsi, held)
	}

	indicators := map[string]any{"RSI": nilOr(rsi, hasRSI)}
	return scriptDecision(c, tk, action, symbol, qty, reasoning, indicators), nil
}

// ════════════════════════════════════════════════════════════════════
// SMA cross with ATR brackets
// ════════════════════════════════════════════════════════════════════

// BracketATRAgent enters on a golden cross and protects the position with an
// ATR-sized bracket: stop at close−2·ATR, target at close+3·ATR.
type BracketATRAgent struct{}

func (BracketATRAgent) Decide(ctx context.Context, c models.Context, tk *toolkit.Toolkit) (models.Decision, error) {
	market := tk.Execute(ctx, "market_observe", nil)
	sma10, ok10 := floatField(tk.Execute(ctx, "indicator_calc", map[string]any{"name": "SMA", "period": 10}), "value")
	sma30, ok30 := floatField(tk.Execute(ctx, "indicator_calc", map[string]any{"name": "SMA", "period": 30}), "value")
	atr, okATR := floatField(tk.Execute(ctx, "indicator_calc", map[string]any{"name": "ATR", "period": 14}), "value")
	account := tk.Execute(ctx, "account_status", nil)
	hasPosition := len(positionsOf(account)) > 0

	action, symbol, qty := models.ActionHold, "", 0
	var reasoning string
	close, _ := floatField(market, "close")
	cash, _ := floatField(account, "cash")
	indicators := map[string]any{"SMA10": nilOr(sma10, ok10), "SMA30": nilOr(sma30, ok30), "ATR": nilOr(atr, okATR)}

	switch {
	case !ok10 || !ok30 || !okATR:
		reasoning = "指标数据不足"
	case sma10 > sma30 && !hasPosition:
		qty = shares(cash*0.90, close)
		symbol = primarySymbol(c)
		stopLoss := round2(close - 2*atr)
		takeProfit := round2(close + 3*atr)
		action = models.ActionBuy
		reasoning = fmt.Sprintf("金叉 SMA10=%.1f>SMA30=%.1f ATR=%.2f bracket SL=%v TP=%v", sma10, sma30, atr, stopLoss, takeProfit)
		tk.Execute(ctx, "trade_execute", map[string]any{
			"action": "buy", "symbol": symbol, "quantity": qty,
			"stop_loss": stopLoss, "take_profit": takeProfit,
		})
		tk.Execute(ctx, "memory_log", map[string]any{"content": fmt.Sprintf("金叉买入 bracket SL=%v TP=%v", stopLoss, takeProfit)})
	case sma10 < sma30 && hasPosition:
		symbol = primarySymbol(c)
		action = models.ActionClose
		reasoning = fmt.Sprintf("死叉 SMA10=%.1f<SMA30=%.1f 平仓", sma10, sma30)
		tk.Execute(ctx, "trade_execute", map[string]any{"action": "close", "symbol": symbol})
	default:
		reasoning = fmt.Sprintf("SMA10=%.1f SMA30=%.1f 无交叉信号", sma10, sma30)
	}

	return scriptDecision(c, tk, action, symbol, qty, reasoning, indicators), nil
}

// ════════════════════════════════════════════════════════════════════
// Bollinger band limit orders
// ════════════════════════════════════════════════════════════════════

// BollingerLimitAgent parks a limit buy near the lower band with a three-bar
// lifetime, closes at the upper band, and cancels stale orders every cycle.
type BollingerLimitAgent struct{}

func (BollingerLimitAgent) Decide(ctx context.Context, c models.Context, tk *toolkit.Toolkit) (models.Decision, error) {
	market := tk.Execute(ctx, "market_observe", nil)
	bb := tk.Execute(ctx, "indicator_calc", map[string]any{"name": "BBANDS", "period": 20})
	account := tk.Execute(ctx, "account_status", nil)
	hasPosition := len(positionsOf(account)) > 0

	// Re-quote each bar: whatever is still pending gets cancelled first.
	pending := tk.Execute(ctx, "order_query", nil)
	if orders, ok := pending["pending_orders"].([]map[string]any); ok {
		for _, order := range orders {
			tk.Execute(ctx, "order_cancel", map[string]any{"order_id": order["order_id"]})
		}
	}

	action, symbol, qty := models.ActionHold, "", 0
	var reasoning string
	close, _ := floatField(market, "close")
	cash, _ := floatField(account, "cash")
	upper, okU := floatField(bb, "upper")
	lower, okL := floatField(bb, "lower")
	indicators := map[string]any{"BB_upper": nilOr(upper, okU), "BB_lower": nilOr(lower, okL)}

	switch {
	case !okU || !okL:
		reasoning = "BBANDS 数据不足"
	case !hasPosition && close <= lower*1.02:
		qty = shares(cash*0.90, lower)
		symbol = primarySymbol(c)
		limitPrice := round2(lower)
		action = models.ActionBuy
		reasoning = fmt.Sprintf("BB下轨=%.2f 挂限价买单@%v valid_bars=3", lower, limitPrice)
		tk.Execute(ctx, "trade_execute", map[string]any{
			"action": "buy", "symbol": symbol, "quantity": qty,
			"order_type": "limit", "price": limitPrice, "valid_bars": 3,
		})
	case hasPosition && close >= upper*0.98:
		symbol = primarySymbol(c)
		action = models.ActionClose
		reasoning = fmt.Sprintf("BB上轨=%.2f 触及 平仓", upper)
		tk.Execute(ctx, "trade_execute", map[string]any{"action": "close", "symbol": symbol})
	default:
		reasoning = fmt.Sprintf("BB [%.2f, %.2f] close=%.2f 无信号", lower, upper, close)
	}

	return scriptDecision(c, tk, action, symbol, qty, reasoning, indicators), nil
}

// ════════════════════════════════════════════════════════════════════
// Memory-driven position sizing
// ════════════════════════════════════════════════════════════════════

// AdaptiveMemoryAgent trades RSI signals but recalls its running win rate
// from the memory store: above 50% it sizes at 90% of cash, below at 45%.
type AdaptiveMemoryAgent struct{}

func (AdaptiveMemoryAgent) Decide(ctx context.Context, c models.Context, tk *toolkit.Toolkit) (models.Decision, error) {
	market := tk.Execute(ctx, "market_observe", nil)
	rsi, hasRSI := floatField(tk.Execute(ctx, "indicator_calc", map[string]any{"name": "RSI", "period": 14}), "value")
	account := tk.Execute(ctx, "account_status", nil)
	hasPosition := len(positionsOf(account)) > 0

	recall := tk.Execute(ctx, "memory_recall", map[string]any{"query": "performance"})
	winRate := parseWinRate(recall)

	positionPct := 0.45
	if winRate > 0.5 {
		positionPct = 0.90
	}

	action, symbol, qty := models.ActionHold, "", 0
	var reasoning string
	close, _ := floatField(market, "close")
	cash, _ := floatField(account, "cash")
	equity, _ := floatField(account, "equity")
	indicators := map[string]any{"RSI": nilOr(rsi, hasRSI), "win_rate": winRate}

	switch {
	case !hasRSI:
		reasoning = "RSI 数据不足"
	case rsi < 45 && !hasPosition:
		qty = shares(cash*positionPct, close)
		symbol = primarySymbol(c)
		action = models.ActionBuy
		reasoning = fmt.Sprintf("RSI=%.1f<45 胜率=%.0f%% 仓位=%.0f%% 买入%d股", rsi, winRate*100, positionPct*100, qty)
		tk.Execute(ctx, "trade_execute", map[string]any{"action": "buy", "symbol": symbol, "quantity": qty})
		tk.Execute(ctx, "memory_log", map[string]any{"content": fmt.Sprintf("买入 RSI=%.1f 仓位=%.0f%%", rsi, positionPct*100)})
	case rsi > 55 && hasPosition:
		symbol = primarySymbol(c)
		action = models.ActionClose
		pnl := equity - 100_000
		wins := int(winRate * 10)
		if pnl > 0 {
			wins++
		}
		total := 10 + 1
		newRate := float64(wins) / float64(total)
		tk.Execute(ctx, "memory_note", map[string]any{
			"key":     "performance",
			"content": fmt.Sprintf("累计胜率: %.2f (wins=%d, total=%d)", newRate, wins, total),
		})
		reasoning = fmt.Sprintf("RSI=%.1f>55 平仓 PnL=%+.0f 更新胜率=%.0f%%", rsi, pnl, newRate*100)
		tk.Execute(ctx, "trade_execute", map[string]any{"action": "close", "symbol": symbol})
	default:
		reasoning = fmt.Sprintf("RSI=%.1f 胜率=%.0f%% 无信号", rsi, winRate*100)
	}

	return scriptDecision(c, tk, action, symbol, qty, reasoning, indicators), nil
}

// parseWinRate extracts the running win rate from recall hits, defaulting
// to 50% before the first note is written.
func parseWinRate(recall map[string]any) float64 {
	hits, ok := recall["results"].([]memory.RecallHit)
	if !ok {
		return 0.5
	}
	for _, hit := range hits {
		_, after, found := strings.Cut(hit.Content, "累计胜率:")
		if !found {
			continue
		}
		fields := strings.Fields(after)
		if len(fields) == 0 {
			continue
		}
		if rate, err := strconv.ParseFloat(fields[0], 64); err == nil {
			return rate
		}
	}
	return 0.5
}

// ════════════════════════════════════════════════════════════════════
// Multi-asset rotation
// ════════════════════════════════════════════════════════════════════

// MultiAssetAgent compares RSI across its symbol set, rotates into the most
// oversold one, and liquidates everything when all symbols are overbought.
type MultiAssetAgent struct {
	Symbols []string
}

// NewMultiAssetAgent defaults to the classic AAPL/GOOGL pair.
func NewMultiAssetAgent(symbols ...string) *MultiAssetAgent {
	if len(symbols) == 0 {
		symbols = []string{"AAPL", "GOOGL"}
	}
	return &MultiAssetAgent{Symbols: symbols}
}

func (a *MultiAssetAgent) Decide(ctx context.Context, c models.Context, tk *toolkit.Toolkit) (models.Decision, error) {
	account := tk.Execute(ctx, "account_status", nil)
	positions := positionsOf(account)

	rsiBySym := make(map[string]float64, len(a.Symbols))
	indicators := make(map[string]any, len(a.Symbols))
	for _, sym := range a.Symbols {
		tk.Execute(ctx, "market_observe", map[string]any{"symbol": sym})
		v, ok := floatField(tk.Execute(ctx, "indicator_calc", map[string]any{"name": "RSI", "period": 14, "symbol": sym}), "value")
		indicators["RSI_"+sym] = nilOr(v, ok)
		if ok {
			rsiBySym[sym] = v
		}
	}

	action, symbol, qty := models.ActionHold, "", 0
	var reasoning string

	// Held symbols in declared order so close chains stay deterministic.
	var held []string
	for _, sym := range a.Symbols {
		if pos, ok := positions[sym].(map[string]any); ok {
			if size, _ := floatField(pos, "size"); size > 0 {
				held = append(held, sym)
			}
		}
	}

	mostOversold, oversoldRSI, found := "", 0.0, false
	for _, sym := range a.Symbols {
		v, ok := rsiBySym[sym]
		if !ok {
			continue
		}
		if !found || v < oversoldRSI {
			mostOversold, oversoldRSI, found = sym, v, true
		}
	}

	switch {
	case !found:
		reasoning = "RSI 数据不足"
	case oversoldRSI < 50 && !contains(held, mostOversold):
		for _, sym := range held {
			if sym != mostOversold {
				tk.Execute(ctx, "trade_execute", map[string]any{"action": "close", "symbol": sym})
			}
		}
		market := tk.Execute(ctx, "market_observe", map[string]any{"symbol": mostOversold})
		close, _ := floatField(market, "close")
		cash, _ := floatField(account, "cash")
		if close > 0 {
			qty = shares(cash*0.40, close)
		}
		if qty > 0 {
			symbol = mostOversold
			action = models.ActionBuy
			reasoning = fmt.Sprintf("轮动: %s RSI=%.1f 最超卖 买入%d股", mostOversold, oversoldRSI, qty)
			tk.Execute(ctx, "trade_execute", map[string]any{"action": "buy", "symbol": symbol, "quantity": qty})
		}
	case len(held) > 0 && allAbove(a.Symbols, rsiBySym, 55):
		for _, sym := range held {
			tk.Execute(ctx, "trade_execute", map[string]any{"action": "close", "symbol": sym})
		}
		symbol = held[0]
		action = models.ActionClose
		reasoning = fmt.Sprintf("全部超买 RSI=%s 清仓", rsiText(a.Symbols, rsiBySym))
	default:
		reasoning = fmt.Sprintf("RSI=%s 无轮动信号", rsiText(a.Symbols, rsiBySym))
	}

	return scriptDecision(c, tk, action, symbol, qty, reasoning, indicators), nil
}

func allAbove(symbols []string, rsi map[string]float64, threshold float64) bool {
	for _, sym := range symbols {
		if v, ok := rsi[sym]; ok && v <= threshold {
			return false
		}
	}
	return len(rsi) > 0
}

func rsiText(symbols []string, rsi map[string]float64) string {
	parts := make([]string, 0, len(rsi))
	for _, sym := range symbols {
		if v, ok := rsi[sym]; ok {
			parts = append(parts, fmt.Sprintf("%s: %.1f", sym, v))
		}
	}
	return "{" + strings.Join(parts, ", ") + "}"
}

func contains(list []string, want string) bool {
	for _, s := range list {
		if s == want {
			return true
		}
	}
	return false
}

// ════════════════════════════════════════════════════════════════════
// Compute-driven quant
// ════════════════════════════════════════════════════════════════════

// ComputeQuantAgent never touches indicator_calc: regime detection, RSI, the
// moving-average cross, and ATR position sizing all run inside the compute
// sandbox.
type ComputeQuantAgent struct{}

func (ComputeQuantAgent) Decide(ctx context.Context, c models.Context, tk *toolkit.Toolkit) (models.Decision, error) {
	account := tk.Execute(ctx, "account_status", nil)
	hasPosition := len(positionsOf(account)) > 0

	regimeR := tk.Execute(ctx, "compute", map[string]any{"code": "vol = latest(df.close.pct_change().rolling(20).std())\n" +
		"trend = df.close.iloc[-1] / df.close.iloc[-min(20, len(df))] - 1\n" +
		"result = {'regime': 'trending' if abs(trend) > 0.05 else 'ranging', 'vol': round(vol, 4) if vol else 0, 'trend': round(trend, 4)}"})

	rsiR := tk.Execute(ctx, "compute", map[string]any{"code": "latest(ta.rsi(df.close, 14))"})
	rsi, hasRSI := floatField(rsiR, "result")

	crossR := tk.Execute(ctx, "compute", map[string]any{"code": "crossover(df.close.rolling(10).mean(), df.close.rolling(30).mean())"})
	goldenCross, _ := crossR["result"].(bool)

	sizeR := tk.Execute(ctx, "compute", map[string]any{"code": "atr_val = latest(ta.atr(df.high, df.low, df.close, 14))\n" +
		"result = max(1, int(equity * 0.02 / atr_val)) if atr_val and atr_val > 0 else 0"})
	positionSizeF, _ := floatField(sizeR, "result")
	positionSize := int(positionSizeF)

	marketRegime := "unknown"
	if info, ok := regimeR["result"].(map[string]any); ok {
		if r, ok := info["regime"].(string); ok {
			marketRegime = r
		}
	}

	action, symbol, qty := models.ActionHold, "", 0
	var reasoning string
	cash, _ := floatField(account, "cash")
	equity, _ := floatField(account, "equity")
	indicators := map[string]any{
		"rsi": nilOr(rsi, hasRSI), "regime": marketRegime,
		"golden_cross": goldenCross, "position_size": positionSize,
	}

	switch {
	case !hasRSI:
		reasoning = "compute: 数据不足"
	case rsi < 45 && !hasPosition && (goldenCross || marketRegime == "trending"):
		if positionSize > 0 && equity > 0 {
			scaled := int(cash * 0.90 / equity * float64(positionSize))
			if scaled < 1 {
				scaled = 1
			}
			qty = positionSize
			if scaled < qty {
				qty = scaled
			}
		}
		if qty > 0 {
			symbol = primarySymbol(c)
			action = models.ActionBuy
			reasoning = fmt.Sprintf("compute量化: regime=%s RSI=%.1f<45 cross=%t 仓位=%d股(ATR)", marketRegime, rsi, goldenCross, qty)
			tk.Execute(ctx, "trade_execute", map[string]any{"action": "buy", "symbol": symbol, "quantity": qty})
			tk.Execute(ctx, "memory_log", map[string]any{"content": fmt.Sprintf("compute买入 %s %d股 RSI=%.1f regime=%s", symbol, qty, rsi, marketRegime)})
		} else {
			reasoning = fmt.Sprintf("compute量化: RSI=%.1f regime=%s cross=%t 无信号", rsi, marketRegime, goldenCross)
		}
	case rsi > 60 && hasPosition:
		symbol = primarySymbol(c)
		action = models.ActionClose
		reasoning = fmt.Sprintf("compute量化: RSI=%.1f>60 regime=%s 平仓", rsi, marketRegime)
		tk.Execute(ctx, "trade_execute", map[string]any{"action": "close", "symbol": symbol})
		tk.Execute(ctx, "memory_log", map[string]any{"content": fmt.Sprintf("compute平仓 %s RSI=%.1f", symbol, rsi)})
	default:
		reasoning = fmt.Sprintf("compute量化: RSI=%.1f regime=%s cross=%t 无信号", rsi, marketRegime, goldenCross)
	}

	return scriptDecision(c, tk, action, symbol, qty, reasoning, indicators), nil
}

// ════════════════════════════════════════════════════════════════════
// Shared plumbing
// ════════════════════════════════════════════════════════════════════

func scriptDecision(c models.Context, tk *toolkit.Toolkit, action models.Action, symbol string, qty int, reasoning string, indicators map[string]any) models.Decision {
	var orderResult map[string]any
	if n := len(tk.TradeActions); n > 0 {
		orderResult = tk.TradeActions[n-1].Result
	}
	return models.Decision{
		Datetime:        c.Datetime,
		BarIndex:        c.BarIndex,
		Action:          action,
		Symbol:          symbol,
		Quantity:        qty,
		Reasoning:       reasoning,
		MarketSnapshot:  c.Market,
		AccountSnapshot: c.Account,
		IndicatorsUsed:  indicators,
		ToolCalls:       tk.CallLog,
		OrderResult:     orderResult,
	}
}

func primarySymbol(c models.Context) string {
	if sym, ok := c.Market["symbol"].(string); ok {
		return sym
	}
	return ""
}

func positionsOf(account map[string]any) map[string]any {
	positions, _ := account["positions"].(map[string]any)
	return positions
}

// floatField reads a numeric payload field, tolerating the int shapes the
// sandbox and indicator layers produce.
func floatField(m map[string]any, key string) (float64, bool) {
	v, ok := m[key]
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

func nilOr(v float64, ok bool) any {
	if !ok {
		return nil
	}
	return v
}

// shares converts a cash budget into a whole-share quantity, at least one.
func shares(budget, price float64) int {
	if price <= 0 {
		return 1
	}
	qty := int(budget / price)
	if qty < 1 {
		return 1
	}
	return qty
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
