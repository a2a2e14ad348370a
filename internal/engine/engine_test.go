package engine

import (
	"math"
	"testing"
	"time"

	"github.com/lyeka/agentic-bt/pkg/models"
)

// ════════════════════════════════════════════════════════════════════
// Test Helpers
// ════════════════════════════════════════════════════════════════════

// makeBars builds a daily series from parallel OHLC slices with a flat
// one-million volume.
func makeBars(symbol string, opens, highs, lows, closes []float64) []models.Bar {
	bars := make([]models.Bar, len(opens))
	base := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	for i := range opens {
		bars[i] = models.Bar{
			Symbol:   symbol,
			Datetime: base.AddDate(0, 0, i),
			Open:     opens[i],
			High:     highs[i],
			Low:      lows[i],
			Close:    closes[i],
			Volume:   1_000_000,
			Index:    i,
		}
	}
	return bars
}

// scenarioBars is the three-bar fixture used by the fill and rejection
// tests: open [100 103.5 107], high [105 108 110], low [99 102 106],
// close [103 107 109].
func scenarioBars() []models.Bar {
	return makeBars("AAPL",
		[]float64{100, 103.5, 107},
		[]float64{105, 108, 110},
		[]float64{99, 102, 106},
		[]float64{103, 107, 109},
	)
}

func newEngine(bars []models.Bar, mutate func(*models.BacktestConfig)) *Engine {
	cfg := models.NewBacktestConfig("AAPL", bars)
	if mutate != nil {
		mutate(&cfg)
	}
	return New(cfg)
}

func wantStatus(t *testing.T, result map[string]any, status string) {
	t.Helper()
	if result["status"] != status {
		t.Fatalf("expected status %q, got %v", status, result)
	}
}

// ════════════════════════════════════════════════════════════════════
// Lifecycle
// ════════════════════════════════════════════════════════════════════

func TestAdvanceTracksEquityCurve(t *testing.T) {
	e := newEngine(scenarioBars(), nil)
	advanced := 0
	for e.HasNext() {
		e.Advance()
		advanced++
	}
	if advanced != 3 {
		t.Fatalf("expected 3 bars, advanced %d", advanced)
	}
	curve := e.EquityCurve()
	if len(curve) != 3 {
		t.Fatalf("equity curve length %d, want 3", len(curve))
	}
	for i, v := range curve {
		if v != 100_000 {
			t.Errorf("flat account should stay at initial cash, curve[%d]=%f", i, v)
		}
	}
}

func TestAdvanceReturnsCurrentBar(t *testing.T) {
	e := newEngine(scenarioBars(), nil)
	bar := e.Advance()
	if bar.Index != 0 || bar.Open != 100 {
		t.Errorf("unexpected first bar: %+v", bar)
	}
	if e.BarIndex() != 0 {
		t.Errorf("bar index should be 0, got %d", e.BarIndex())
	}
}

// ════════════════════════════════════════════════════════════════════
// Matching: market, limit, stop
// ════════════════════════════════════════════════════════════════════

func TestMarketFillAtNextOpenWithSlippage(t *testing.T) {
	e := newEngine(scenarioBars(), func(cfg *models.BacktestConfig) {
		cfg.Risk.MaxPositionPct = 1.0
		cfg.Execution.Slippage = 0.5
	})
	e.Advance() // bar 0

	result := e.SubmitBuy("AAPL", 100)
	wantStatus(t, result, "submitted")

	bar := e.Advance() // bar 1, open 103.5
	fills := e.MatchOrders(bar)
	if len(fills) != 1 {
		t.Fatalf("expected 1 fill, got %d", len(fills))
	}
	if fills[0].Price != 104.0 {
		t.Errorf("fill price = %f, want 104.0", fills[0].Price)
	}

	account := e.AccountSnapshot()
	if account.Cash != 89_600 {
		t.Errorf("cash = %f, want 89600", account.Cash)
	}
	pos, ok := account.Positions["AAPL"]
	if !ok || pos.Size != 100 || pos.AvgPrice != 104 {
		t.Errorf("position = %+v, want 100 @ 104", pos)
	}
}

func TestMarketSellSlippageWorksAgainst(t *testing.T) {
	e := newEngine(scenarioBars(), func(cfg *models.BacktestConfig) {
		cfg.Execution.Slippage = 0.5
	})
	e.Advance()
	wantStatus(t, e.SubmitSell("AAPL", 10), "submitted")
	bar := e.Advance()
	fills := e.MatchOrders(bar)
	if len(fills) != 1 || fills[0].Price != 103.0 {
		t.Fatalf("sell should fill at open-slippage 103.0, got %v", fills)
	}
}

func TestPercentSlippageTakesPrecedence(t *testing.T) {
	e := newEngine(scenarioBars(), func(cfg *models.BacktestConfig) {
		cfg.Risk.MaxPositionPct = 1.0
		cfg.Execution.Slippage = 5.0
		cfg.Execution.SlippagePct = 0.01
	})
	e.Advance()
	wantStatus(t, e.SubmitBuy("AAPL", 10), "submitted")
	bar := e.Advance() // open 103.5, pct slip 1.035
	fills := e.MatchOrders(bar)
	if len(fills) != 1 || fills[0].Price != 104.535 {
		t.Fatalf("expected pct slippage fill 104.535, got %v", fills)
	}
}

func TestLimitBuyFillsOnlyWhenTouched(t *testing.T) {
	e := newEngine(scenarioBars(), func(cfg *models.BacktestConfig) {
		cfg.Risk.MaxPositionPct = 1.0
	})
	e.Advance()
	wantStatus(t, e.Submit(models.Order{
		Symbol: "AAPL", Side: models.SideBuy, Type: models.OrdLimit,
		Quantity: 10, LimitPrice: 101.0,
	}), "submitted")

	bar := e.Advance() // bar 1: low 102 > 101, no touch
	if fills := e.MatchOrders(bar); len(fills) != 0 {
		t.Fatalf("limit should not fill above the limit, got %v", fills)
	}
	if len(e.PendingOrders()) != 1 {
		t.Error("unfilled limit order should stay pending")
	}

	bar = e.Advance() // bar 2: low 106 > 101, still no touch
	if fills := e.MatchOrders(bar); len(fills) != 0 {
		t.Fatalf("limit should persist unfilled, got %v", fills)
	}
}

func TestLimitSellFillsAtLimit(t *testing.T) {
	e := newEngine(scenarioBars(), nil)
	e.Advance()
	wantStatus(t, e.Submit(models.Order{
		Symbol: "AAPL", Side: models.SideSell, Type: models.OrdLimit,
		Quantity: 10, LimitPrice: 107.5,
	}), "submitted")
	bar := e.Advance() // bar 1: high 108 >= 107.5
	fills := e.MatchOrders(bar)
	if len(fills) != 1 || fills[0].Price != 107.5 {
		t.Fatalf("limit sell should fill at 107.5, got %v", fills)
	}
}

func TestStopSellTriggersOnLow(t *testing.T) {
	e := newEngine(scenarioBars(), nil)
	e.Advance()
	wantStatus(t, e.Submit(models.Order{
		Symbol: "AAPL", Side: models.SideSell, Type: models.OrdStop,
		Quantity: 10, StopPrice: 102.5,
	}), "submitted")
	bar := e.Advance() // bar 1: low 102 <= 102.5
	fills := e.MatchOrders(bar)
	if len(fills) != 1 || fills[0].Price != 102.5 {
		t.Fatalf("stop sell should trigger at 102.5, got %v", fills)
	}
}

func TestOrderExpiryAfterValidBars(t *testing.T) {
	e := newEngine(scenarioBars(), func(cfg *models.BacktestConfig) {
		cfg.Risk.MaxPositionPct = 1.0
	})
	e.Advance()
	wantStatus(t, e.Submit(models.Order{
		Symbol: "AAPL", Side: models.SideBuy, Type: models.OrdLimit,
		Quantity: 10, LimitPrice: 50.0, ValidBars: 1,
	}), "submitted")

	bar := e.Advance() // diff 1, still valid, no touch
	e.MatchOrders(bar)
	if len(e.PendingOrders()) != 1 {
		t.Fatal("order should survive within valid_bars")
	}
	e.DrainEvents()

	bar = e.Advance() // diff 2 > 1: expired
	e.MatchOrders(bar)
	if len(e.PendingOrders()) != 0 {
		t.Fatal("order should have expired")
	}
	events := e.DrainEvents()
	if len(events) != 1 || events[0].Type != models.EventExpired {
		t.Fatalf("expected one expired event, got %v", events)
	}
}

func TestPartialFillRequeuesResidual(t *testing.T) {
	bars := makeBars("AAPL",
		[]float64{100, 100, 100},
		[]float64{101, 101, 101},
		[]float64{99, 99, 99},
		[]float64{100, 100, 100},
	)
	// cap fills at 1% of the million-share bar volume... use tiny volume
	for i := range bars {
		bars[i].Volume = 5000
	}
	e := newEngine(bars, func(cfg *models.BacktestConfig) {
		cfg.Risk.MaxPositionPct = 1.0
		cfg.Execution.MaxVolumePct = 0.01 // 50 shares per bar
	})
	e.Advance()
	result := e.SubmitBuy("AAPL", 80)
	wantStatus(t, result, "submitted")
	orderID := result["order_id"].(string)

	bar := e.Advance()
	fills := e.MatchOrders(bar)
	if len(fills) != 1 || fills[0].Quantity != 50 {
		t.Fatalf("expected capped fill of 50, got %v", fills)
	}
	pending := e.PendingOrders()
	if len(pending) != 1 || pending[0].ID != orderID || pending[0].Quantity != 30 {
		t.Fatalf("residual should re-queue under the same id, got %v", pending)
	}

	bar = e.Advance()
	fills = e.MatchOrders(bar)
	if len(fills) != 1 || fills[0].Quantity != 30 {
		t.Fatalf("residual should fill next bar, got %v", fills)
	}
	if pos := e.AccountSnapshot().Positions["AAPL"]; pos.Size != 80 {
		t.Errorf("position size = %d, want 80", pos.Size)
	}
}

// ════════════════════════════════════════════════════════════════════
// Risk gates
// ════════════════════════════════════════════════════════════════════

func TestPositionCapRejectionWithMaxAllowedQty(t *testing.T) {
	e := newEngine(scenarioBars(), nil) // default max_position_pct 0.20
	e.Advance()                         // bar 0, close 103

	result := e.Submit(models.Order{Symbol: "AAPL", Side: models.SideBuy, Type: models.OrdMarket, Quantity: 1000})
	wantStatus(t, result, "rejected")
	if result["reason"] != "仓位超限" {
		t.Errorf("reason = %v, want 仓位超限", result["reason"])
	}
	if result["max_allowed_qty"] != 194 {
		t.Errorf("max_allowed_qty = %v, want 194", result["max_allowed_qty"])
	}
	if len(e.PendingOrders()) != 0 {
		t.Error("rejected order must not enter the queue")
	}
	if len(e.Rejected()) != 1 {
		t.Error("rejection must be recorded")
	}
}

func TestOpenPositionCountGate(t *testing.T) {
	data := map[string][]models.Bar{
		"AAPL":  scenarioBars(),
		"GOOGL": makeBars("GOOGL", []float64{50, 51, 52}, []float64{53, 54, 55}, []float64{49, 50, 51}, []float64{52, 53, 54}),
	}
	cfg := models.BacktestConfig{Data: data, Symbol: "AAPL", InitialCash: 100_000}
	cfg.Risk = models.DefaultRiskConfig()
	cfg.Risk.MaxOpenPositions = 1
	e := New(cfg)

	e.Advance()
	wantStatus(t, e.SubmitBuy("AAPL", 100), "submitted")
	bar := e.Advance()
	e.MatchOrders(bar)

	result := e.SubmitBuy("GOOGL", 10)
	wantStatus(t, result, "rejected")
	if result["reason"] != "持仓数量超限" {
		t.Errorf("reason = %v, want 持仓数量超限", result["reason"])
	}
	// adding to the held symbol is still allowed
	wantStatus(t, e.SubmitBuy("AAPL", 10), "submitted")
}

func TestDrawdownGate(t *testing.T) {
	bars := makeBars("AAPL",
		[]float64{100, 100, 80},
		[]float64{101, 101, 81},
		[]float64{99, 99, 79},
		[]float64{100, 100, 80},
	)
	e := newEngine(bars, func(cfg *models.BacktestConfig) {
		cfg.Risk.MaxPositionPct = 1.0
		cfg.Risk.MaxPortfolioDrawdown = 0.10
		cfg.Risk.MaxDailyLossPct = 1.0
	})
	e.Advance()
	wantStatus(t, e.SubmitBuy("AAPL", 900), "submitted")
	bar := e.Advance()
	e.MatchOrders(bar) // filled at 100, cash 10000

	e.Advance() // close 80: equity 10000 + 72000 = 82000, drawdown 18%
	result := e.SubmitBuy("AAPL", 1)
	wantStatus(t, result, "rejected")
	if result["reason"] != "组合回撤超限" {
		t.Errorf("reason = %v, want 组合回撤超限", result["reason"])
	}
}

func TestDailyLossGate(t *testing.T) {
	base := time.Date(2024, 1, 2, 9, 30, 0, 0, time.UTC)
	bars := makeBars("AAPL",
		[]float64{100, 100, 80},
		[]float64{101, 101, 81},
		[]float64{99, 99, 79},
		[]float64{100, 100, 80},
	)
	// intraday bars on one calendar day so day-start equity never resets
	for i := range bars {
		bars[i].Datetime = base.Add(time.Duration(i) * time.Hour)
	}
	e := newEngine(bars, func(cfg *models.BacktestConfig) {
		cfg.Risk.MaxPositionPct = 1.0
		cfg.Risk.MaxPortfolioDrawdown = 1.0
	})
	e.Advance()
	wantStatus(t, e.SubmitBuy("AAPL", 500), "submitted")
	bar := e.Advance()
	e.MatchOrders(bar) // 500 @ 100, cash 50000

	e.Advance() // close 80: equity 90000, daily loss 10% > default 3%
	result := e.SubmitBuy("AAPL", 1)
	wantStatus(t, result, "rejected")
	if result["reason"] != "单日亏损超限" {
		t.Errorf("reason = %v, want 单日亏损超限", result["reason"])
	}
}

func TestSellSideBypassesRiskGates(t *testing.T) {
	e := newEngine(scenarioBars(), func(cfg *models.BacktestConfig) {
		cfg.Risk.MaxPositionPct = 0.0001
	})
	e.Advance()
	wantStatus(t, e.SubmitSell("AAPL", 10_000), "submitted")
}

// ════════════════════════════════════════════════════════════════════
// Accounting
// ════════════════════════════════════════════════════════════════════

func TestCommissionChargedOnFill(t *testing.T) {
	e := newEngine(scenarioBars(), func(cfg *models.BacktestConfig) {
		cfg.Risk.MaxPositionPct = 1.0
		cfg.Commission.Rate = 0.001
		cfg.Execution.Slippage = 0.5
	})
	e.Advance()
	e.SubmitBuy("AAPL", 100)
	bar := e.Advance()
	fills := e.MatchOrders(bar)
	if fills[0].Commission != 10.4 {
		t.Errorf("commission = %f, want 10.4", fills[0].Commission)
	}
	if cash := e.AccountSnapshot().Cash; cash != 100_000-10_400-10.4 {
		t.Errorf("cash = %f, want 89589.6", cash)
	}
}

func TestCloseLongRealizesPnl(t *testing.T) {
	e := newEngine(scenarioBars(), func(cfg *models.BacktestConfig) {
		cfg.Risk.MaxPositionPct = 1.0
	})
	e.Advance()
	e.SubmitBuy("AAPL", 100)
	bar := e.Advance()
	e.MatchOrders(bar) // long 100 @ 103.5

	wantStatus(t, e.SubmitClose("AAPL"), "submitted")
	bar = e.Advance() // open 107
	e.MatchOrders(bar)

	log := e.TradeLog()
	if len(log) != 1 {
		t.Fatalf("expected 1 trade, got %d", len(log))
	}
	trade := log[0]
	if trade.BuyPrice != 103.5 || trade.SellPrice != 107 {
		t.Errorf("trade prices = %f/%f, want 103.5/107", trade.BuyPrice, trade.SellPrice)
	}
	if trade.Pnl != 350 {
		t.Errorf("pnl = %f, want 350", trade.Pnl)
	}
	if _, held := e.AccountSnapshot().Positions["AAPL"]; held {
		t.Error("closed position must leave the map")
	}
	if cash := e.AccountSnapshot().Cash; cash != 100_350 {
		t.Errorf("cash = %f, want 100350", cash)
	}
}

func TestShortRoundTrip(t *testing.T) {
	bars := makeBars("AAPL",
		[]float64{100, 100, 90},
		[]float64{101, 101, 91},
		[]float64{99, 99, 89},
		[]float64{100, 95, 90},
	)
	e := newEngine(bars, nil)
	e.Advance()
	e.SubmitSell("AAPL", 100)
	bar := e.Advance()
	e.MatchOrders(bar) // short 100 @ 100
	if cash := e.AccountSnapshot().Cash; cash != 110_000 {
		t.Fatalf("short proceeds not credited, cash = %f", cash)
	}

	wantStatus(t, e.SubmitClose("AAPL"), "submitted")
	bar = e.Advance() // open 90
	e.MatchOrders(bar)

	log := e.TradeLog()
	if len(log) != 1 || log[0].Pnl != 1000 {
		t.Fatalf("short cover pnl = %v, want 1000", log)
	}
	if cash := e.AccountSnapshot().Cash; cash != 101_000 {
		t.Errorf("cash = %f, want 101000", cash)
	}
}

func TestWeightedAverageOnAdd(t *testing.T) {
	e := newEngine(scenarioBars(), func(cfg *models.BacktestConfig) {
		cfg.Risk.MaxPositionPct = 1.0
	})
	e.Advance()
	e.SubmitBuy("AAPL", 100)
	bar := e.Advance()
	e.MatchOrders(bar) // 100 @ 103.5
	e.SubmitBuy("AAPL", 100)
	bar = e.Advance()
	e.MatchOrders(bar) // 100 @ 107

	pos := e.AccountSnapshot().Positions["AAPL"]
	if pos.Size != 200 {
		t.Fatalf("size = %d, want 200", pos.Size)
	}
	if math.Abs(pos.AvgPrice-105.25) > 1e-9 {
		t.Errorf("avg price = %f, want 105.25", pos.AvgPrice)
	}
}

func TestSumOfTradePnlMatchesEquityDelta(t *testing.T) {
	// zero commission and slippage: realized pnl must reconcile exactly
	bars := makeBars("AAPL",
		[]float64{100, 102, 104, 101, 99},
		[]float64{103, 105, 107, 104, 102},
		[]float64{98, 100, 102, 99, 97},
		[]float64{102, 104, 106, 100, 98},
	)
	e := newEngine(bars, func(cfg *models.BacktestConfig) {
		cfg.Risk.MaxPositionPct = 1.0
	})
	e.Advance()
	e.SubmitBuy("AAPL", 100)
	bar := e.Advance()
	e.MatchOrders(bar)
	e.SubmitClose("AAPL")
	bar = e.Advance()
	e.MatchOrders(bar)
	e.SubmitBuy("AAPL", 50)
	bar = e.Advance()
	e.MatchOrders(bar)
	e.SubmitClose("AAPL")
	bar = e.Advance()
	e.MatchOrders(bar)

	var pnlSum float64
	for _, trade := range e.TradeLog() {
		pnlSum += trade.Pnl
	}
	finalEquity := e.AccountSnapshot().Equity
	if math.Abs(pnlSum-(finalEquity-100_000)) > 1e-6 {
		t.Errorf("Σpnl %f != equity delta %f", pnlSum, finalEquity-100_000)
	}
}

// ════════════════════════════════════════════════════════════════════
// Bracket / OCO
// ════════════════════════════════════════════════════════════════════

func TestBracketTakeProfitCancelsStop(t *testing.T) {
	bars := makeBars("AAPL",
		[]float64{100, 105, 108},
		[]float64{102, 112, 113},
		[]float64{99, 104, 107},
		[]float64{100, 108, 110},
	)
	e := newEngine(bars, nil)
	e.Advance()
	result := e.SubmitBracket("AAPL", models.SideBuy, 100, 100, 110)
	wantStatus(t, result, "submitted")
	if len(e.PendingOrders()) != 1 {
		t.Fatal("children must stay dormant until the parent fills")
	}

	bar := e.Advance() // open 105, high 112 >= tp 110, low 104 > sl 100
	fills := e.MatchOrders(bar)
	if len(fills) != 2 {
		t.Fatalf("expected parent + take-profit fills, got %d", len(fills))
	}
	if fills[0].Price != 105 || fills[1].Price != 110 {
		t.Errorf("fill prices = %f/%f, want 105/110", fills[0].Price, fills[1].Price)
	}

	log := e.TradeLog()
	if len(log) != 1 || log[0].Pnl != 500 {
		t.Fatalf("expected one trade with pnl 500, got %v", log)
	}
	if len(e.PendingOrders()) != 0 {
		t.Errorf("stop sibling must be removed, pending = %v", e.PendingOrders())
	}
	if _, held := e.AccountSnapshot().Positions["AAPL"]; held {
		t.Error("bracket round trip should leave no position")
	}
}

func TestBracketStopLossWinsWhenBothTouch(t *testing.T) {
	// activation bar touches both children: exactly one may fill
	bars := makeBars("AAPL",
		[]float64{100, 105},
		[]float64{102, 115},
		[]float64{99, 95},
		[]float64{100, 100},
	)
	e := newEngine(bars, nil)
	e.Advance()
	wantStatus(t, e.SubmitBracket("AAPL", models.SideBuy, 100, 100, 110), "submitted")

	bar := e.Advance()
	fills := e.MatchOrders(bar)
	if len(fills) != 2 {
		t.Fatalf("expected parent + stop fills only, got %d", len(fills))
	}
	if fills[1].Price != 100 {
		t.Errorf("stop should fill first at 100, got %f", fills[1].Price)
	}
	log := e.TradeLog()
	if len(log) != 1 || log[0].Pnl != -500 {
		t.Fatalf("expected single stop-out trade pnl -500, got %v", log)
	}
	if len(e.PendingOrders()) != 0 {
		t.Errorf("take-profit sibling must be dropped, pending = %v", e.PendingOrders())
	}
}

func TestBracketChildrenWaitForParent(t *testing.T) {
	bars := makeBars("AAPL",
		[]float64{100, 105, 106},
		[]float64{102, 107, 112},
		[]float64{99, 104, 105},
		[]float64{100, 106, 108},
	)
	e := newEngine(bars, nil)
	e.Advance()
	e.SubmitBracket("AAPL", models.SideBuy, 100, 100, 110)

	bar := e.Advance() // parent fills at 105; tp 110 not touched (high 107)
	fills := e.MatchOrders(bar)
	if len(fills) != 1 {
		t.Fatalf("only parent should fill, got %d", len(fills))
	}
	if len(e.PendingOrders()) != 2 {
		t.Fatalf("both children should now be pending, got %d", len(e.PendingOrders()))
	}

	bar = e.Advance() // high 112 >= 110: take-profit fills
	fills = e.MatchOrders(bar)
	if len(fills) != 1 || fills[0].Price != 110 {
		t.Fatalf("take-profit should fill at 110, got %v", fills)
	}
	if len(e.PendingOrders()) != 0 {
		t.Error("stop sibling must be cancelled after the take-profit fill")
	}
}

func TestCancelBracketParentDropsChildren(t *testing.T) {
	e := newEngine(scenarioBars(), nil)
	e.Advance()
	result := e.SubmitBracket("AAPL", models.SideBuy, 100, 90, 120)
	parentID := result["order_id"].(string)

	cancel := e.CancelOrder(parentID)
	wantStatus(t, cancel, "cancelled")
	if len(e.PendingOrders()) != 0 {
		t.Fatal("cancel should empty the queue")
	}

	bar := e.Advance()
	if fills := e.MatchOrders(bar); len(fills) != 0 {
		t.Fatalf("dormant children must never activate, got %v", fills)
	}
	bar = e.Advance()
	if fills := e.MatchOrders(bar); len(fills) != 0 {
		t.Fatalf("dormant children must never activate, got %v", fills)
	}
}

// ════════════════════════════════════════════════════════════════════
// Cancel, events, queries
// ════════════════════════════════════════════════════════════════════

func TestCancelOrder(t *testing.T) {
	e := newEngine(scenarioBars(), func(cfg *models.BacktestConfig) {
		cfg.Risk.MaxPositionPct = 1.0
	})
	e.Advance()
	result := e.Submit(models.Order{
		Symbol: "AAPL", Side: models.SideBuy, Type: models.OrdLimit,
		Quantity: 10, LimitPrice: 90,
	})
	orderID := result["order_id"].(string)

	cancel := e.CancelOrder(orderID)
	wantStatus(t, cancel, "cancelled")
	if cancel["order_id"] != orderID {
		t.Errorf("cancel should echo the order id, got %v", cancel)
	}

	events := e.DrainEvents()
	if len(events) != 1 || events[0].Type != models.EventCancelled {
		t.Fatalf("expected cancelled event, got %v", events)
	}

	missing := e.CancelOrder("nope1234")
	if missing["status"] != "error" || missing["reason"] != "未找到订单: nope1234" {
		t.Errorf("unexpected missing-order result: %v", missing)
	}
}

func TestFillEventDetail(t *testing.T) {
	e := newEngine(scenarioBars(), func(cfg *models.BacktestConfig) {
		cfg.Risk.MaxPositionPct = 1.0
		cfg.Execution.Slippage = 0.5
	})
	e.Advance()
	e.SubmitBuy("AAPL", 100)
	bar := e.Advance()
	e.MatchOrders(bar)

	events := e.DrainEvents()
	if len(events) != 1 || events[0].Type != models.EventFill {
		t.Fatalf("expected fill event, got %v", events)
	}
	detail := events[0].Detail
	if detail["price"] != 104.0 || detail["quantity"] != 100 || detail["side"] != models.SideBuy {
		t.Errorf("unexpected fill detail: %v", detail)
	}
	if len(e.DrainEvents()) != 0 {
		t.Error("drain must clear the queue")
	}
}

func TestRecentBarsAndWindow(t *testing.T) {
	e := newEngine(scenarioBars(), nil)
	e.Advance()
	e.Advance() // bar 1

	recent := e.RecentBars(5, "")
	if len(recent) != 2 {
		t.Fatalf("expected 2 bars of history, got %d", len(recent))
	}
	if recent[0].Index != 0 || recent[1].Index != 1 {
		t.Errorf("recent bars out of order: %v", recent)
	}

	window := e.Window("")
	if len(window) != 2 {
		t.Errorf("window should include bars 0..current, got %d", len(window))
	}

	one := e.RecentBars(1, "")
	if len(one) != 1 || one[0].Index != 1 {
		t.Errorf("RecentBars(1) should return just the current bar, got %v", one)
	}
}

func TestSubmitCloseWithoutPosition(t *testing.T) {
	e := newEngine(scenarioBars(), nil)
	e.Advance()
	result := e.SubmitClose("AAPL")
	wantStatus(t, result, "rejected")
	if result["reason"] != "无持仓可平" {
		t.Errorf("reason = %v, want 无持仓可平", result["reason"])
	}
}

func TestMultiAssetOrdersMatchOwnSeries(t *testing.T) {
	data := map[string][]models.Bar{
		"AAPL":  scenarioBars(),
		"GOOGL": makeBars("GOOGL", []float64{50, 52, 54}, []float64{53, 55, 57}, []float64{49, 51, 53}, []float64{52, 53, 54}),
	}
	cfg := models.BacktestConfig{Data: data, Symbol: "AAPL", InitialCash: 100_000}
	cfg.Risk.MaxPositionPct = 1.0
	e := New(cfg)

	e.Advance()
	e.SubmitBuy("GOOGL", 10)
	bar := e.Advance()
	fills := e.MatchOrders(bar)
	if len(fills) != 1 || fills[0].Price != 52 {
		t.Fatalf("GOOGL order must fill at GOOGL's open 52, got %v", fills)
	}
	if got := e.Symbols(); len(got) != 2 || got[0] != "AAPL" || got[1] != "GOOGL" {
		t.Errorf("symbols should be sorted, got %v", got)
	}
}
