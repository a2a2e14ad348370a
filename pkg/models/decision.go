package models

import "time"

// Action is the final verdict of one decision cycle.
type Action string

const (
	ActionBuy   Action = "buy"
	ActionSell  Action = "sell"
	ActionClose Action = "close"
	ActionHold  Action = "hold"
)

// ToolCall records one toolkit invocation made during a decision cycle.
type ToolCall struct {
	Tool   string         `json:"tool"`
	Input  map[string]any `json:"input"`
	Output map[string]any `json:"output"`
	// DurationMs is measured for the trace; the serialized decision record
	// carries only what the call did, so replays stay byte-identical.
	DurationMs float64 `json:"-"`
}

// DecisionSummary is the compressed form of a past decision shown in the
// context: just enough for the model to recall what it did and why.
type DecisionSummary struct {
	BarIndex  int    `json:"bar_index"`
	Action    Action `json:"action"`
	Reasoning string `json:"reasoning"`
}

// Context is the assembled view of the world handed to the agent for one bar.
// FormattedText is the deterministic rendering fed to the LLM; the structured
// fields back the mock agents and the tests.
type Context struct {
	Datetime        time.Time         `json:"datetime"`
	BarIndex        int               `json:"bar_index"`
	Market          map[string]any    `json:"market"`
	Account         map[string]any    `json:"account"`
	RiskSummary     map[string]any    `json:"risk_summary,omitempty"`
	Playbook        string            `json:"playbook"`
	PositionNotes   map[string]string `json:"position_notes,omitempty"`
	RecentBars      []Bar             `json:"recent_bars,omitempty"`
	Events          []EngineEvent     `json:"events,omitempty"`
	PendingOrders   []Order           `json:"pending_orders,omitempty"`
	RecentDecisions []DecisionSummary `json:"recent_decisions,omitempty"`
	DecisionCount   int               `json:"decision_count"`
	FormattedText   string            `json:"formatted_text"`
}

// Decision is the full record of one decision cycle, serialized line by line
// into decisions.jsonl.
type Decision struct {
	Datetime        time.Time      `json:"datetime"`
	BarIndex        int            `json:"bar_index"`
	Action          Action         `json:"action"`
	Symbol          string         `json:"symbol,omitempty"`
	Quantity        int            `json:"quantity,omitempty"`
	Reasoning       string         `json:"reasoning"`
	MarketSnapshot  map[string]any `json:"market_snapshot,omitempty"`
	AccountSnapshot map[string]any `json:"account_snapshot,omitempty"`
	IndicatorsUsed  map[string]any `json:"indicators_used,omitempty"`
	ToolCalls       []ToolCall     `json:"tool_calls,omitempty"`
	OrderResult     map[string]any `json:"order_result,omitempty"`
	TokensUsed      int            `json:"tokens_used"`
	LatencyMs       float64        `json:"latency_ms"`
	Model           string         `json:"model,omitempty"`
	Rounds          int            `json:"rounds"`
}
