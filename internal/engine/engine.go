// Package engine implements the deterministic market simulator at the core
// of every backtest: bar replay, next-bar order matching, position and cash
// accounting, pre-trade risk gates, bracket/OCO linkage, and per-bar event
// emission. The engine states facts about the market and the account; it
// never makes trading decisions.
package engine

import (
	"math"
	"sort"

	"github.com/google/uuid"

	"github.com/lyeka/agentic-bt/pkg/models"
)

// ════════════════════════════════════════════════════════════════════
// Bracket state machine
// ════════════════════════════════════════════════════════════════════

type bracketState int

const (
	// bracketParentPending: parent is in the queue, children are dormant.
	bracketParentPending bracketState = iota
	// bracketChildrenActive: parent filled, both children are matchable.
	bracketChildrenActive
	// bracketDone: one child filled; the sibling is dropped this round.
	bracketDone
)

// bracketGroup tracks one bracket submission through its OCO lifecycle:
// parent pending → children active → one child filled, sibling cancelled.
type bracketGroup struct {
	parentID string
	stop     models.Order
	take     models.Order
	state    bracketState
}

func (g *bracketGroup) siblingOf(childID string) string {
	if childID == g.stop.ID {
		return g.take.ID
	}
	return g.stop.ID
}

// ════════════════════════════════════════════════════════════════════
// Engine
// ════════════════════════════════════════════════════════════════════

// Engine replays per-symbol bar series in lockstep and matches orders one
// bar after submission. All mutation goes through Submit*/CancelOrder/
// MatchOrders/Advance; queries return copies.
type Engine struct {
	data     map[string][]models.Bar
	symbol   string // primary symbol, used when a caller omits one
	barIndex int    // -1 until the first Advance

	cash        float64
	initialCash float64
	positions   map[string]*models.Position

	risk       models.RiskConfig
	commission models.CommissionConfig
	execution  models.ExecutionConfig

	pending  []models.Order
	fills    []models.Fill
	rejected []models.RejectedOrder
	tradeLog []models.TradeLogEntry
	events   []models.EngineEvent

	equityCurve    []float64
	peakEquity     float64
	dayStartEquity float64
	currentDate    string

	// groups indexes every bracket order id (parent and both children)
	// to its group. ocoDropped collects sibling ids cancelled within the
	// current matching round and is cleared when the round ends.
	groups     map[string]*bracketGroup
	ocoDropped map[string]struct{}
}

// New constructs an engine from a backtest config. All bar series in
// cfg.Data must have equal length; they are stepped in lockstep by index.
func New(cfg models.BacktestConfig) *Engine {
	cfg.Normalize()
	data := make(map[string][]models.Bar, len(cfg.Data))
	for sym, bars := range cfg.Data {
		data[sym] = bars
	}
	return &Engine{
		data:           data,
		symbol:         cfg.Symbol,
		barIndex:       -1,
		cash:           cfg.InitialCash,
		initialCash:    cfg.InitialCash,
		positions:      make(map[string]*models.Position),
		risk:           cfg.Risk,
		commission:     cfg.Commission,
		execution:      cfg.Execution,
		peakEquity:     cfg.InitialCash,
		dayStartEquity: cfg.InitialCash,
		groups:         make(map[string]*bracketGroup),
		ocoDropped:     make(map[string]struct{}),
	}
}

// NewFromBars builds a single-symbol engine with default risk, commission,
// and execution settings.
func NewFromBars(symbol string, bars []models.Bar) *Engine {
	return New(models.NewBacktestConfig(symbol, bars))
}

// ════════════════════════════════════════════════════════════════════
// Lifecycle
// ════════════════════════════════════════════════════════════════════

// HasNext reports whether another bar is available on the primary series.
func (e *Engine) HasNext() bool {
	return e.barIndex+1 < len(e.data[e.symbol])
}

// Advance steps to the next bar, refreshes unrealized P&L, appends the
// equity curve, raises the peak, and resets the day-start equity on a
// calendar date change. Callers must check HasNext first.
func (e *Engine) Advance() models.Bar {
	e.barIndex++
	bar := e.currentBar(e.symbol)

	for _, sym := range e.heldSymbols() {
		e.positions[sym].UpdateUnrealized(e.currentBar(sym).Close)
	}
	equity := e.equity()
	e.equityCurve = append(e.equityCurve, equity)

	if equity > e.peakEquity {
		e.peakEquity = equity
	}
	date := bar.Datetime.Format("2006-01-02")
	if date != e.currentDate {
		e.currentDate = date
		e.dayStartEquity = equity
	}
	return bar
}

// BarIndex returns the current bar index, -1 before the first Advance.
func (e *Engine) BarIndex() int { return e.barIndex }

// PrimarySymbol returns the symbol used when a caller omits one.
func (e *Engine) PrimarySymbol() string { return e.symbol }

// RiskLimits returns the risk configuration the gates enforce.
func (e *Engine) RiskLimits() models.RiskConfig { return e.risk }

// Symbols lists every symbol the engine replays, sorted.
func (e *Engine) Symbols() []string {
	syms := make([]string, 0, len(e.data))
	for sym := range e.data {
		syms = append(syms, sym)
	}
	sort.Strings(syms)
	return syms
}

// ════════════════════════════════════════════════════════════════════
// State queries
// ════════════════════════════════════════════════════════════════════

// MarketSnapshot returns the OHLCV view of a symbol at the current bar.
// An empty or unknown symbol resolves to the primary series.
func (e *Engine) MarketSnapshot(symbol string) models.MarketSnapshot {
	sym := symbol
	if sym == "" {
		sym = e.symbol
	}
	bar := e.currentBar(sym)
	return models.MarketSnapshot{
		Datetime: bar.Datetime,
		BarIndex: e.barIndex,
		Symbol:   sym,
		Open:     bar.Open,
		High:     bar.High,
		Low:      bar.Low,
		Close:    bar.Close,
		Volume:   bar.Volume,
	}
}

// AccountSnapshot returns cash, equity, and a copy of the position map.
func (e *Engine) AccountSnapshot() models.AccountSnapshot {
	positions := make(map[string]models.Position, len(e.positions))
	for sym, pos := range e.positions {
		positions[sym] = *pos
	}
	return models.AccountSnapshot{
		Cash:      e.cash,
		Equity:    e.equity(),
		Positions: positions,
	}
}

// EquityCurve returns a copy of the per-bar equity history.
func (e *Engine) EquityCurve() []float64 {
	curve := make([]float64, len(e.equityCurve))
	copy(curve, e.equityCurve)
	return curve
}

// Fills returns a copy of the fill history.
func (e *Engine) Fills() []models.Fill {
	fills := make([]models.Fill, len(e.fills))
	copy(fills, e.fills)
	return fills
}

// TradeLog returns the realized trade records consumed by the evaluator.
func (e *Engine) TradeLog() []models.TradeLogEntry {
	log := make([]models.TradeLogEntry, len(e.tradeLog))
	copy(log, e.tradeLog)
	return log
}

// Rejected returns every order refused by the risk gates.
func (e *Engine) Rejected() []models.RejectedOrder {
	rejected := make([]models.RejectedOrder, len(e.rejected))
	copy(rejected, e.rejected)
	return rejected
}

// PendingOrders returns a copy of the pending queue. Dormant bracket
// children are not included until their parent fills.
func (e *Engine) PendingOrders() []models.Order {
	pending := make([]models.Order, len(e.pending))
	copy(pending, e.pending)
	return pending
}

// RecentBars returns the last n bars up to and including the current one,
// fewer when history is shorter.
func (e *Engine) RecentBars(n int, symbol string) []models.Bar {
	bars := e.series(symbol)
	start := e.barIndex - n + 1
	if start < 0 {
		start = 0
	}
	if e.barIndex < 0 {
		return nil
	}
	out := make([]models.Bar, e.barIndex+1-start)
	copy(out, bars[start:e.barIndex+1])
	return out
}

// Window returns every bar from the start of the series through the current
// one: the slice of history an agent may legitimately see.
func (e *Engine) Window(symbol string) []models.Bar {
	bars := e.series(symbol)
	if e.barIndex < 0 {
		return nil
	}
	out := make([]models.Bar, e.barIndex+1)
	copy(out, bars[:e.barIndex+1])
	return out
}

// DrainEvents returns and clears the event queue. The runner calls this
// once per bar and feeds the result to the context assembler.
func (e *Engine) DrainEvents() []models.EngineEvent {
	events := e.events
	e.events = nil
	return events
}

// ════════════════════════════════════════════════════════════════════
// Order submission
// ════════════════════════════════════════════════════════════════════

// Submit admits an order: the engine assigns the id and submission bar,
// runs the risk gates, and either queues it for next-bar matching or
// rejects it. Returns {status: "submitted", order_id} or
// {status: "rejected", reason, max_allowed_qty?}.
func (e *Engine) Submit(order models.Order) map[string]any {
	order.ID = newOrderID()
	order.BarIndex = e.barIndex

	if reason := e.riskCheck(order); reason != "" {
		e.rejected = append(e.rejected, models.RejectedOrder{Order: order, Reason: reason})
		result := map[string]any{"status": "rejected", "reason": reason}
		if reason == "仓位超限" {
			result["max_allowed_qty"] = e.maxAllowedQty(order.Symbol)
		}
		return result
	}
	e.pending = append(e.pending, order)
	return map[string]any{"status": "submitted", "order_id": order.ID}
}

// SubmitBuy queues a market buy.
func (e *Engine) SubmitBuy(symbol string, quantity int) map[string]any {
	return e.Submit(models.Order{Symbol: symbol, Side: models.SideBuy, Type: models.OrdMarket, Quantity: quantity})
}

// SubmitSell queues a market sell.
func (e *Engine) SubmitSell(symbol string, quantity int) map[string]any {
	return e.Submit(models.Order{Symbol: symbol, Side: models.SideSell, Type: models.OrdMarket, Quantity: quantity})
}

// SubmitClose flattens the position in symbol with a market order on the
// opposite side, or rejects when there is nothing to close.
func (e *Engine) SubmitClose(symbol string) map[string]any {
	pos, ok := e.positions[symbol]
	if !ok || pos.Size == 0 {
		return map[string]any{"status": "rejected", "reason": "无持仓可平"}
	}
	if pos.Size > 0 {
		return e.SubmitSell(symbol, pos.Size)
	}
	return e.SubmitBuy(symbol, -pos.Size)
}

// SubmitBracket queues a market parent plus two dormant opposite-side
// children: a stop at stopLoss and a limit at takeProfit. The children
// activate when the parent fills and are wired one-cancels-other.
func (e *Engine) SubmitBracket(symbol string, side models.Side, quantity int, stopLoss, takeProfit float64) map[string]any {
	parent := models.Order{
		ID:       newOrderID(),
		Symbol:   symbol,
		Side:     side,
		Type:     models.OrdMarket,
		Quantity: quantity,
		BarIndex: e.barIndex,
	}
	if reason := e.riskCheck(parent); reason != "" {
		e.rejected = append(e.rejected, models.RejectedOrder{Order: parent, Reason: reason})
		return map[string]any{"status": "rejected", "reason": reason}
	}

	childSide := side.Opposite()
	group := &bracketGroup{
		parentID: parent.ID,
		stop: models.Order{
			ID:        newOrderID(),
			Symbol:    symbol,
			Side:      childSide,
			Type:      models.OrdStop,
			Quantity:  quantity,
			StopPrice: stopLoss,
			BarIndex:  e.barIndex,
		},
		take: models.Order{
			ID:         newOrderID(),
			Symbol:     symbol,
			Side:       childSide,
			Type:       models.OrdLimit,
			Quantity:   quantity,
			LimitPrice: takeProfit,
			BarIndex:   e.barIndex,
		},
		state: bracketParentPending,
	}

	e.pending = append(e.pending, parent)
	e.groups[parent.ID] = group
	e.groups[group.stop.ID] = group
	e.groups[group.take.ID] = group
	return map[string]any{"status": "submitted", "order_id": parent.ID}
}

// CancelOrder removes an order from the pending queue and emits a
// cancelled event. Cancelling an unfilled bracket parent also drops its
// dormant children, which never become visible.
func (e *Engine) CancelOrder(orderID string) map[string]any {
	for i, order := range e.pending {
		if order.ID != orderID {
			continue
		}
		e.pending = append(e.pending[:i], e.pending[i+1:]...)
		e.emit(models.EventCancelled, order, e.currentBar(e.symbol), nil)

		if group, ok := e.groups[orderID]; ok && group.state == bracketParentPending && group.parentID == orderID {
			delete(e.groups, group.parentID)
			delete(e.groups, group.stop.ID)
			delete(e.groups, group.take.ID)
		}
		return map[string]any{"status": "cancelled", "order_id": orderID}
	}
	return map[string]any{"status": "error", "reason": "未找到订单: " + orderID}
}

// ════════════════════════════════════════════════════════════════════
// Matching
// ════════════════════════════════════════════════════════════════════

// MatchOrders matches every pending order against the given bar, normally
// the bar just returned by Advance. Bracket children activated by a parent
// fill are matchable within the same call, so a parent and one child may
// both fill on the same bar. Partial fills re-queue the residual quantity
// under the same order id for the next bar.
func (e *Engine) MatchOrders(bar models.Bar) []models.Fill {
	queue := e.pending
	e.pending = nil
	var fills []models.Fill
	var remaining []models.Order

	for i := 0; i < len(queue); i++ {
		order := queue[i]
		if _, dropped := e.ocoDropped[order.ID]; dropped {
			continue
		}
		if order.ValidBars > 0 && bar.Index-order.BarIndex > order.ValidBars {
			e.emit(models.EventExpired, order, bar, nil)
			continue
		}

		// Each order matches against its own symbol's current bar;
		// indexes stay aligned because the series step in lockstep.
		orderBar := e.currentBar(order.Symbol)
		fill, ok := e.matchOne(order, orderBar)
		if !ok {
			remaining = append(remaining, order)
			continue
		}

		fills = append(fills, fill)
		e.applyFill(fill)
		e.emit(models.EventFill, order, bar, map[string]any{
			"price":    fill.Price,
			"quantity": fill.Quantity,
			"side":     fill.Side,
		})
		queue = e.onFillBracket(fill, queue)

		if residual := order.Quantity - fill.Quantity; residual > 0 {
			requeued := order
			requeued.Quantity = residual
			e.pending = append(e.pending, requeued)
		}
	}

	kept := remaining[:0]
	for _, order := range remaining {
		if _, dropped := e.ocoDropped[order.ID]; !dropped {
			kept = append(kept, order)
		}
	}
	e.ocoDropped = make(map[string]struct{})
	e.pending = append(kept, e.pending...)
	e.fills = append(e.fills, fills...)
	return fills
}

// matchOne routes an order to its price rule and applies the per-bar
// volume cap to the resulting fill.
func (e *Engine) matchOne(order models.Order, bar models.Bar) (models.Fill, bool) {
	var price float64
	switch order.Type {
	case models.OrdMarket:
		slip := e.execution.Slippage
		if e.execution.SlippagePct > 0 {
			slip = bar.Open * e.execution.SlippagePct
		}
		if order.Side == models.SideBuy {
			price = round4(bar.Open + slip)
		} else {
			price = round4(bar.Open - slip)
		}
	case models.OrdLimit:
		if order.Side == models.SideBuy && bar.Low <= order.LimitPrice {
			price = order.LimitPrice
		} else if order.Side == models.SideSell && bar.High >= order.LimitPrice {
			price = order.LimitPrice
		} else {
			return models.Fill{}, false
		}
	case models.OrdStop:
		if order.Side == models.SideSell && bar.Low <= order.StopPrice {
			price = order.StopPrice
		} else if order.Side == models.SideBuy && bar.High >= order.StopPrice {
			price = order.StopPrice
		} else {
			return models.Fill{}, false
		}
	default:
		return models.Fill{}, false
	}

	quantity := order.Quantity
	if maxQty := int(bar.Volume * e.execution.MaxVolumePct); maxQty > 0 && quantity > maxQty {
		quantity = maxQty
	}
	return e.createFill(order, bar, price, quantity), true
}

func (e *Engine) createFill(order models.Order, bar models.Bar, price float64, quantity int) models.Fill {
	return models.Fill{
		OrderID:    order.ID,
		Symbol:     order.Symbol,
		Side:       order.Side,
		Quantity:   quantity,
		Price:      price,
		Commission: round4(price * float64(quantity) * e.commission.Rate),
		Datetime:   bar.Datetime,
		BarIndex:   bar.Index,
	}
}

// applyFill updates cash and positions. Same-direction fills average the
// entry price; opposite-direction fills realize P&L into the trade log and
// delete the position when it reaches zero.
func (e *Engine) applyFill(fill models.Fill) {
	delta := fill.Quantity
	if fill.Side == models.SideSell {
		delta = -fill.Quantity
	}
	pos := e.positions[fill.Symbol]
	currentSize := 0
	if pos != nil {
		currentSize = pos.Size
	}
	newSize := currentSize + delta

	if currentSize == 0 || (currentSize > 0) == (delta > 0) {
		if pos == nil {
			e.positions[fill.Symbol] = &models.Position{
				Symbol:   fill.Symbol,
				Size:     newSize,
				AvgPrice: fill.Price,
			}
		} else {
			totalCost := pos.AvgPrice*math.Abs(float64(currentSize)) + fill.Price*float64(fill.Quantity)
			pos.Size = newSize
			pos.AvgPrice = totalCost / math.Abs(float64(newSize))
		}
		notional := fill.Price * float64(fill.Quantity)
		if fill.Side == models.SideBuy {
			e.cash -= notional + fill.Commission
		} else {
			e.cash += notional - fill.Commission
		}
		return
	}

	// Opposite direction: realize P&L on the covered quantity.
	var realized float64
	notional := fill.Price * float64(fill.Quantity)
	if pos.Size > 0 {
		realized = (fill.Price-pos.AvgPrice)*float64(fill.Quantity) - fill.Commission
		e.cash += notional - fill.Commission
	} else {
		realized = (pos.AvgPrice-fill.Price)*float64(fill.Quantity) - fill.Commission
		e.cash -= notional + fill.Commission
	}

	pos.RealizedPnl += realized
	pos.Size = newSize
	e.tradeLog = append(e.tradeLog, models.TradeLogEntry{
		Symbol:     fill.Symbol,
		Quantity:   fill.Quantity,
		BuyPrice:   round4(pos.AvgPrice),
		SellPrice:  fill.Price,
		Pnl:        round4(realized),
		Commission: fill.Commission,
		Datetime:   fill.Datetime,
		BarIndex:   fill.BarIndex,
	})
	if pos.Size == 0 {
		delete(e.positions, fill.Symbol)
	}
}

// onFillBracket advances the bracket state machine for a filled order.
// A parent fill appends both children to the live matching queue; a child
// fill marks its sibling for removal within the same round.
func (e *Engine) onFillBracket(fill models.Fill, queue []models.Order) []models.Order {
	group, ok := e.groups[fill.OrderID]
	if !ok {
		return queue
	}
	switch {
	case group.state == bracketParentPending && fill.OrderID == group.parentID:
		group.state = bracketChildrenActive
		queue = append(queue, group.stop, group.take)
	case group.state == bracketChildrenActive && fill.OrderID != group.parentID:
		group.state = bracketDone
		e.ocoDropped[group.siblingOf(fill.OrderID)] = struct{}{}
		delete(e.groups, group.parentID)
		delete(e.groups, group.stop.ID)
		delete(e.groups, group.take.ID)
	}
	return queue
}

// ════════════════════════════════════════════════════════════════════
// Risk gates
// ════════════════════════════════════════════════════════════════════

// riskCheck returns the rejection reason, or "" when the order passes.
// Only buys open exposure, so only buys are gated. Gate order is fixed:
// position size, open position count, portfolio drawdown, daily loss.
func (e *Engine) riskCheck(order models.Order) string {
	if order.Side != models.SideBuy {
		return ""
	}
	equity := e.equity()

	estPrice := e.currentBar(order.Symbol).Close
	currentValue := 0.0
	if pos, ok := e.positions[order.Symbol]; ok {
		currentValue = float64(pos.Size) * estPrice
	}
	if (currentValue+estPrice*float64(order.Quantity))/equity > e.risk.MaxPositionPct {
		return "仓位超限"
	}

	if _, held := e.positions[order.Symbol]; !held && len(e.positions) >= e.risk.MaxOpenPositions {
		return "持仓数量超限"
	}

	if e.peakEquity > 0 {
		if (e.peakEquity-equity)/e.peakEquity > e.risk.MaxPortfolioDrawdown {
			return "组合回撤超限"
		}
	}

	if e.dayStartEquity > 0 {
		if (e.dayStartEquity-equity)/e.dayStartEquity > e.risk.MaxDailyLossPct {
			return "单日亏损超限"
		}
	}
	return ""
}

// maxAllowedQty estimates the largest buy quantity the position gate would
// still admit, at the current close.
func (e *Engine) maxAllowedQty(symbol string) int {
	equity := e.equity()
	estPrice := e.currentBar(symbol).Close
	currentValue := 0.0
	if pos, ok := e.positions[symbol]; ok {
		currentValue = float64(pos.Size) * estPrice
	}
	maxValue := equity*e.risk.MaxPositionPct - currentValue
	qty := int(maxValue / estPrice)
	if qty < 0 {
		return 0
	}
	return qty
}

// ════════════════════════════════════════════════════════════════════
// Internals
// ════════════════════════════════════════════════════════════════════

func (e *Engine) emit(eventType models.EventType, order models.Order, bar models.Bar, detail map[string]any) {
	if detail == nil {
		detail = map[string]any{}
	}
	e.events = append(e.events, models.EngineEvent{
		Type:     eventType,
		OrderID:  order.ID,
		Symbol:   order.Symbol,
		BarIndex: bar.Index,
		Datetime: bar.Datetime,
		Detail:   detail,
	})
}

func (e *Engine) series(symbol string) []models.Bar {
	if symbol == "" {
		symbol = e.symbol
	}
	if bars, ok := e.data[symbol]; ok {
		return bars
	}
	return e.data[e.symbol]
}

func (e *Engine) currentBar(symbol string) models.Bar {
	return e.series(symbol)[e.barIndex]
}

// equity is cash plus mark-to-market position value. Held symbols are
// summed in sorted order so the float result is reproducible.
func (e *Engine) equity() float64 {
	total := e.cash
	for _, sym := range e.heldSymbols() {
		total += float64(e.positions[sym].Size) * e.currentBar(sym).Close
	}
	return total
}

func (e *Engine) heldSymbols() []string {
	syms := make([]string, 0, len(e.positions))
	for sym := range e.positions {
		syms = append(syms, sym)
	}
	sort.Strings(syms)
	return syms
}

func newOrderID() string {
	return uuid.NewString()[:8]
}

func round4(x float64) float64 {
	return math.Round(x*10000) / 10000
}
