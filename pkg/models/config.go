package models

// RiskConfig holds the pre-trade risk gate parameters. Gates apply to the buy
// side only and are checked in a fixed order: position size, open position
// count, portfolio drawdown, daily loss.
type RiskConfig struct {
	MaxPositionPct       float64 `json:"max_position_pct"`       // single-position value / equity ceiling
	MaxPortfolioDrawdown float64 `json:"max_portfolio_drawdown"` // drawdown from peak equity that freezes new buys
	MaxOpenPositions     int     `json:"max_open_positions"`
	MaxDailyLossPct      float64 `json:"max_daily_loss_pct"` // loss from day-start equity that freezes new buys
}

// DefaultRiskConfig returns the standard risk limits.
func DefaultRiskConfig() RiskConfig {
	return RiskConfig{
		MaxPositionPct:       0.20,
		MaxPortfolioDrawdown: 0.15,
		MaxOpenPositions:     10,
		MaxDailyLossPct:      0.03,
	}
}

// CommissionConfig holds the commission schedule. Commission per fill is
// round(price * quantity * Rate, 4).
type CommissionConfig struct {
	Rate float64 `json:"rate"`
}

// ExecutionConfig holds fill friction parameters. SlippagePct takes precedence
// over Slippage when both are set. MaxVolumePct 0 disables the per-bar volume
// cap on fills.
type ExecutionConfig struct {
	Slippage     float64 `json:"slippage"`      // fixed price offset applied to market fills
	SlippagePct  float64 `json:"slippage_pct"`  // offset as a fraction of the open
	MaxVolumePct float64 `json:"max_volume_pct"`
}

// ContextConfig controls how much history the context assembler renders.
type ContextConfig struct {
	RecentBarsWindow      int `json:"recent_bars_window"`
	RecentDecisionsWindow int `json:"recent_decisions_window"`
	ReasoningMaxChars     int `json:"reasoning_max_chars"`
}

// DefaultContextConfig returns the standard context windows.
func DefaultContextConfig() ContextConfig {
	return ContextConfig{
		RecentBarsWindow:      20,
		RecentDecisionsWindow: 3,
		ReasoningMaxChars:     80,
	}
}

// BacktestConfig is the full specification of a run. Data maps each symbol to
// its bar series; all series are stepped in lockstep by index. Symbol names the
// primary instrument used when a tool call omits one.
type BacktestConfig struct {
	Data             map[string][]Bar `json:"-"`
	Symbol           string           `json:"symbol"`
	StrategyPrompt   string           `json:"strategy_prompt"`
	Risk             RiskConfig       `json:"risk"`
	Commission       CommissionConfig `json:"commission"`
	Execution        ExecutionConfig  `json:"execution"`
	Context          ContextConfig    `json:"context"`
	InitialCash      float64          `json:"initial_cash"`
	DecisionStartBar int              `json:"decision_start_bar"`
	MaxAgentRounds   int              `json:"max_agent_rounds"`
	WorkspaceRoot    string           `json:"workspace_root,omitempty"`
}

// NewBacktestConfig builds a single-symbol config around one bar series.
// Multi-symbol runs populate Data directly.
func NewBacktestConfig(symbol string, bars []Bar) BacktestConfig {
	return BacktestConfig{
		Data:           map[string][]Bar{symbol: bars},
		Symbol:         symbol,
		Risk:           DefaultRiskConfig(),
		Context:        DefaultContextConfig(),
		InitialCash:    100_000,
		MaxAgentRounds: 5,
	}
}

// Normalize fills zero-valued fields with defaults, field by field, so a
// hand-built config that sets only one risk limit keeps the standard values
// for the rest. Called by the engine and the runner.
func (c *BacktestConfig) Normalize() {
	if c.InitialCash == 0 {
		c.InitialCash = 100_000
	}
	if c.MaxAgentRounds == 0 {
		c.MaxAgentRounds = 5
	}
	defaults := DefaultRiskConfig()
	if c.Risk.MaxPositionPct == 0 {
		c.Risk.MaxPositionPct = defaults.MaxPositionPct
	}
	if c.Risk.MaxPortfolioDrawdown == 0 {
		c.Risk.MaxPortfolioDrawdown = defaults.MaxPortfolioDrawdown
	}
	if c.Risk.MaxOpenPositions == 0 {
		c.Risk.MaxOpenPositions = defaults.MaxOpenPositions
	}
	if c.Risk.MaxDailyLossPct == 0 {
		c.Risk.MaxDailyLossPct = defaults.MaxDailyLossPct
	}
	ctxDefaults := DefaultContextConfig()
	if c.Context.RecentBarsWindow == 0 {
		c.Context.RecentBarsWindow = ctxDefaults.RecentBarsWindow
	}
	if c.Context.RecentDecisionsWindow == 0 {
		c.Context.RecentDecisionsWindow = ctxDefaults.RecentDecisionsWindow
	}
	if c.Context.ReasoningMaxChars == 0 {
		c.Context.ReasoningMaxChars = ctxDefaults.ReasoningMaxChars
	}
	if c.Symbol == "" {
		for sym := range c.Data {
			if c.Symbol == "" || sym < c.Symbol {
				c.Symbol = sym
			}
		}
	}
}
