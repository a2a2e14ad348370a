package models

import "time"

// PerformanceReport summarizes the equity curve and the realized trade log.
// Ratio metrics are annualized with sqrt(252); a curve shorter than two points
// yields the zero report.
type PerformanceReport struct {
	TotalReturn    float64   `json:"total_return"`
	MaxDrawdown    float64   `json:"max_drawdown"`
	MaxDDDuration  int       `json:"max_dd_duration"` // longest bar run between equity peaks
	SharpeRatio    float64   `json:"sharpe_ratio"`
	SortinoRatio   float64   `json:"sortino_ratio"`
	CalmarRatio    float64   `json:"calmar_ratio"`
	Volatility     float64   `json:"volatility"`
	CAGR           float64   `json:"cagr"`
	TotalTrades    int       `json:"total_trades"`
	WinRate        float64   `json:"win_rate"`
	ProfitFactor   float64   `json:"profit_factor"` // +Inf when there are no losing trades
	AvgTradeReturn float64   `json:"avg_trade_return"`
	BestTrade      float64   `json:"best_trade"`
	WorstTrade     float64   `json:"worst_trade"`
	EquityCurve    []float64 `json:"equity_curve"`
}

// ComplianceReport summarizes how the agent behaved, independent of P&L.
type ComplianceReport struct {
	TotalDecisions          int            `json:"total_decisions"`
	ActionDistribution      map[string]int `json:"action_distribution"`
	DecisionsWithIndicators int            `json:"decisions_with_indicators"`
}

// BacktestResult is the top-level output of a run. Config is carried for
// callers but excluded from serialization; it holds the full bar data.
type BacktestResult struct {
	Performance   PerformanceReport `json:"performance"`
	Compliance    ComplianceReport  `json:"compliance"`
	Decisions     []Decision        `json:"decisions"`
	TradeLog      []TradeLogEntry   `json:"trade_log"`
	TotalLLMCalls int               `json:"total_llm_calls"`
	TotalTokens   int               `json:"total_tokens"`
	WorkspacePath string            `json:"workspace_path"`
	Duration      time.Duration     `json:"duration"`
	Config        BacktestConfig    `json:"-"`
}
