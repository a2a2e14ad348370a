package agent

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/lyeka/agentic-bt/internal/engine"
	"github.com/lyeka/agentic-bt/internal/memory"
	"github.com/lyeka/agentic-bt/pkg/models"
)

// Assembler builds the per-bar Context handed to the agent: market and
// account snapshots, risk headroom, recent bars, drained events, pending
// orders, position notes, and a summary of recent decisions, rendered into
// a deterministic XML-tagged text. Identical state produces identical bytes.
type Assembler struct {
	cfg models.ContextConfig
}

// NewAssembler builds an assembler with the given windows. Zero fields fall
// back to the defaults.
func NewAssembler(cfg models.ContextConfig) *Assembler {
	def := models.DefaultContextConfig()
	if cfg.RecentBarsWindow <= 0 {
		cfg.RecentBarsWindow = def.RecentBarsWindow
	}
	if cfg.RecentDecisionsWindow <= 0 {
		cfg.RecentDecisionsWindow = def.RecentDecisionsWindow
	}
	if cfg.ReasoningMaxChars <= 0 {
		cfg.ReasoningMaxChars = def.ReasoningMaxChars
	}
	return &Assembler{cfg: cfg}
}

// Assemble pulls the current state out of the engine and memory and renders
// the formatted text. events are the engine events drained this bar;
// decisions is the full history so far.
func (a *Assembler) Assemble(eng *engine.Engine, mem *memory.Memory, barIndex int, events []models.EngineEvent, decisions []models.Decision) models.Context {
	snap := eng.MarketSnapshot("")
	acc := eng.AccountSnapshot()

	positions := make(map[string]any, len(acc.Positions))
	for sym, pos := range acc.Positions {
		current := eng.MarketSnapshot(sym).Close
		positions[sym] = map[string]any{
			"size":           pos.Size,
			"avg_price":      pos.AvgPrice,
			"unrealized_pnl": (current - pos.AvgPrice) * float64(pos.Size),
		}
	}

	risk := eng.RiskLimits()
	maxBuyQty := 0
	if snap.Close > 0 {
		maxBuyQty = int(acc.Equity * risk.MaxPositionPct / snap.Close)
	}

	recent := decisions
	if len(recent) > a.cfg.RecentDecisionsWindow {
		recent = recent[len(recent)-a.cfg.RecentDecisionsWindow:]
	}
	summaries := make([]models.DecisionSummary, len(recent))
	for i, d := range recent {
		summaries[i] = models.DecisionSummary{
			BarIndex:  d.BarIndex,
			Action:    d.Action,
			Reasoning: truncate(d.Reasoning, a.cfg.ReasoningMaxChars),
		}
	}

	ctx := models.Context{
		Datetime: snap.Datetime,
		BarIndex: barIndex,
		Market: map[string]any{
			"symbol": snap.Symbol,
			"open":   snap.Open,
			"high":   snap.High,
			"low":    snap.Low,
			"close":  snap.Close,
			"volume": snap.Volume,
		},
		Account: map[string]any{
			"cash":      acc.Cash,
			"equity":    acc.Equity,
			"positions": positions,
		},
		RiskSummary: map[string]any{
			"max_position_pct":   risk.MaxPositionPct,
			"max_buy_qty":        maxBuyQty,
			"max_open_positions": risk.MaxOpenPositions,
			"open_positions":     len(acc.Positions),
		},
		Playbook:        mem.Playbook(),
		PositionNotes:   mem.PositionNotes(heldSymbols(acc)),
		RecentBars:      eng.RecentBars(a.cfg.RecentBarsWindow, ""),
		Events:          events,
		PendingOrders:   eng.PendingOrders(),
		RecentDecisions: summaries,
		DecisionCount:   len(decisions),
	}
	ctx.FormattedText = a.formatText(ctx)
	return ctx
}

// formatText renders the XML-tagged sections in fixed order. Empty sections
// are omitted; <task> always comes last.
func (a *Assembler) formatText(ctx models.Context) string {
	var b strings.Builder
	m := ctx.Market
	acc := ctx.Account

	fmt.Fprintf(&b, "<market datetime=%s bar=%d symbol=%s>\n",
		ctx.Datetime.Format("2006-01-02T15:04:05"), ctx.BarIndex, m["symbol"])
	fmt.Fprintf(&b, "open=%.2f high=%.2f low=%.2f close=%.2f volume=%.0f\n",
		m["open"], m["high"], m["low"], m["close"], m["volume"])
	b.WriteString("</market>\n")

	fmt.Fprintf(&b, "<account cash=%.2f equity=%.2f>\n", acc["cash"], acc["equity"])
	b.WriteString(formatPositions(acc["positions"].(map[string]any)))
	b.WriteString("\n</account>\n")

	flat := len(acc["positions"].(map[string]any)) == 0
	maxBuyQty, _ := ctx.RiskSummary["max_buy_qty"].(int)
	if flat && maxBuyQty > 0 {
		b.WriteString("<risk>\n")
		fmt.Fprintf(&b, "max_position_pct=%.2f max_buy_qty=%d max_open_positions=%d open_positions=%d\n",
			ctx.RiskSummary["max_position_pct"], maxBuyQty,
			ctx.RiskSummary["max_open_positions"], ctx.RiskSummary["open_positions"])
		b.WriteString("</risk>\n")
	}

	if len(ctx.RecentBars) > 0 {
		fmt.Fprintf(&b, "<recent_bars count=%d>\n", len(ctx.RecentBars))
		for _, bar := range ctx.RecentBars {
			fmt.Fprintf(&b, "%d  %.2f  %.2f  %.2f  %.2f  %.0f\n",
				bar.Index, bar.Open, bar.High, bar.Low, bar.Close, bar.Volume)
		}
		b.WriteString("</recent_bars>\n")
	}

	if len(ctx.Events) > 0 {
		b.WriteString("<events>\n")
		for _, e := range ctx.Events {
			b.WriteString(formatEvent(e))
			b.WriteByte('\n')
		}
		b.WriteString("</events>\n")
	}

	if len(ctx.PendingOrders) > 0 {
		b.WriteString("<pending_orders>\n")
		for _, o := range ctx.PendingOrders {
			b.WriteString(formatOrder(o))
			b.WriteByte('\n')
		}
		b.WriteString("</pending_orders>\n")
	}

	if len(ctx.PositionNotes) > 0 {
		b.WriteString("<position_notes>\n")
		for _, sym := range sortedKeys(ctx.PositionNotes) {
			fmt.Fprintf(&b, "%s: %s\n", sym, ctx.PositionNotes[sym])
		}
		b.WriteString("</position_notes>\n")
	}

	if len(ctx.RecentDecisions) > 0 {
		b.WriteString("<recent_decisions>\n")
		for _, d := range ctx.RecentDecisions {
			fmt.Fprintf(&b, "[%d] %s: %s\n", d.BarIndex, d.Action, d.Reasoning)
		}
		b.WriteString("</recent_decisions>\n")
	}

	b.WriteString("<task>\n")
	b.WriteString("以上行情与账户数据已是最新快照，无需重复获取。\n")
	fmt.Fprintf(&b, "compute 工具中 df 已包含 %d 行完整 OHLCV 数据，可直接用 df.close 等访问分析。\n", ctx.BarIndex+1)
	b.WriteString("请使用可用工具分析后给出交易决策。\n")
	b.WriteString("</task>")
	return b.String()
}

// formatPositions renders the holdings line of the account section, sorted
// by symbol, or 空仓 when flat.
func formatPositions(positions map[string]any) string {
	if len(positions) == 0 {
		return "空仓"
	}
	parts := make([]string, 0, len(positions))
	for _, sym := range sortedKeys(positions) {
		p := positions[sym].(map[string]any)
		parts = append(parts, fmt.Sprintf("%s %d股@%.2f | 未实现%+.2f",
			sym, p["size"], p["avg_price"], p["unrealized_pnl"]))
	}
	return strings.Join(parts, ", ")
}

func formatEvent(e models.EngineEvent) string {
	switch e.Type {
	case models.EventFill:
		return fmt.Sprintf("成交: %v %s %v股 @ %.2f",
			e.Detail["side"], e.Symbol, e.Detail["quantity"], toFloat(e.Detail["price"]))
	case models.EventExpired:
		return fmt.Sprintf("过期: 订单 %s (%s) 已过期", e.OrderID, e.Symbol)
	case models.EventCancelled:
		return fmt.Sprintf("取消: 订单 %s (%s) 已取消", e.OrderID, e.Symbol)
	default:
		return fmt.Sprintf("%s: %s", e.Type, e.OrderID)
	}
}

func formatOrder(o models.Order) string {
	price := ""
	if o.LimitPrice != 0 {
		if math.IsInf(o.LimitPrice, 1) {
			price = " limit=inf"
		} else {
			price = fmt.Sprintf(" limit=%.2f", o.LimitPrice)
		}
	} else if o.StopPrice != 0 {
		price = fmt.Sprintf(" stop=%.2f", o.StopPrice)
	}
	return fmt.Sprintf("[%s] %s %s %s %d股%s", o.ID, o.Type, o.Side, o.Symbol, o.Quantity, price)
}

// truncate cuts reasoning to max runes, appending an ellipsis when cut.
func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max]) + "…"
}

func heldSymbols(acc models.AccountSnapshot) []string {
	syms := make([]string, 0, len(acc.Positions))
	for sym := range acc.Positions {
		syms = append(syms, sym)
	}
	sort.Strings(syms)
	return syms
}

func sortedKeys[M ~map[string]V, V any](m M) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func toFloat(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	default:
		return 0
	}
}
