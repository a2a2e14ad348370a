// Package runner orchestrates a backtest run: it owns the per-run workspace,
// steps the engine bar by bar, hands each bar to the agent, and persists the
// trace, decision, and result artifacts. Inside the loop no failure escapes;
// every error collapses into a structured payload or a hold decision.
package runner

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/lyeka/agentic-bt/internal/agent"
	"github.com/lyeka/agentic-bt/internal/engine"
	"github.com/lyeka/agentic-bt/internal/eval"
	"github.com/lyeka/agentic-bt/internal/memory"
	"github.com/lyeka/agentic-bt/internal/toolkit"
	"github.com/lyeka/agentic-bt/internal/trace"
	"github.com/lyeka/agentic-bt/pkg/models"
)

// Runner drives the loop advance → match → assemble → decide → record.
type Runner struct {
	log      *slog.Logger
	progress io.Writer
}

// Option configures a Runner.
type Option func(*Runner)

// WithLogger routes run lifecycle logs through the given logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Runner) {
		if l != nil {
			r.log = l
		}
	}
}

// WithProgress writes a one-line per-bar progress report, the way the demo
// shows a run ticking along. Nil keeps the run silent.
func WithProgress(w io.Writer) Option {
	return func(r *Runner) { r.progress = w }
}

// New builds a Runner. Without options it logs through slog.Default and
// prints no per-bar progress.
func New(opts ...Option) *Runner {
	r := &Runner{log: slog.Default()}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// tracerSetter is implemented by agents that emit their own trace events;
// the runner hands them the per-run writer once the workspace exists.
type tracerSetter interface {
	SetTracer(w *trace.Writer)
}

// Run executes one full backtest and returns the aggregated result. Fatal
// conditions (bad config, unusable workspace) fail before the first bar;
// after that the loop always runs to completion or cancellation.
func (r *Runner) Run(ctx context.Context, cfg models.BacktestConfig, ag agent.Agent) (*models.BacktestResult, error) {
	cfg.Normalize()
	if err := validate(cfg); err != nil {
		return nil, err
	}

	ws, err := memory.NewWorkspace(cfg.WorkspaceRoot)
	if err != nil {
		return nil, err
	}
	mem := memory.New(ws)
	if err := mem.InitPlaybook(cfg.StrategyPrompt); err != nil {
		return nil, err
	}

	tracer, err := trace.NewWriter(ws.File("trace.jsonl"))
	if err != nil {
		return nil, err
	}
	defer tracer.Close()
	if t, ok := ag.(tracerSetter); ok {
		t.SetTracer(tracer)
	}

	decisionsFile, err := os.OpenFile(ws.File("decisions.jsonl"), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("runner: open decisions.jsonl: %w", err)
	}
	defer decisionsFile.Close()

	eng := engine.New(cfg)
	assembler := agent.NewAssembler(cfg.Context)

	r.log.Info("回测开始",
		"symbol", cfg.Symbol,
		"bars", len(cfg.Data[cfg.Symbol]),
		"decision_start_bar", cfg.DecisionStartBar,
		"workspace", ws.Path(),
	)

	var (
		decisions     []models.Decision
		pendingEvents []models.EngineEvent
	)
	start := time.Now()

	for eng.HasNext() {
		if ctx.Err() != nil {
			r.log.Warn("回测被取消", "bar_index", eng.BarIndex())
			break
		}

		bar := eng.Advance()
		mem.SetDate(bar.Datetime)

		eng.MatchOrders(bar)
		events := append(eng.DrainEvents(), pendingEvents...)
		pendingEvents = nil

		// Warmup: indicators need history before the first decision, but
		// fills from earlier orders still land in the journal.
		if eng.BarIndex() < cfg.DecisionStartBar {
			r.journalFills(mem, events)
			continue
		}

		tracer.SetBar(eng.BarIndex())
		date := bar.Datetime.Format("2006-01-02")
		tracer.Emit(trace.TypeAgentStep, map[string]any{"date": date})

		c := assembler.Assemble(eng, mem, eng.BarIndex(), events, decisions)
		tracer.Emit(trace.TypeContext, map[string]any{
			"formatted_text": c.FormattedText,
			"market":         c.Market,
			"account":        c.Account,
		})

		tk := toolkit.New(eng, mem)
		if r.progress != nil {
			fmt.Fprintf(r.progress, "  bar %3d %s ... ", eng.BarIndex(), date)
		}
		decision, err := ag.Decide(ctx, c, tk)
		if err != nil {
			// Decide should swallow its own failures; if one leaks the
			// bar still completes as a hold.
			decision = holdDecision(c, tk, err)
		}
		decisions = append(decisions, decision)
		if r.progress != nil {
			fmt.Fprintf(r.progress, "%-5s tokens=%d\n", decision.Action, decision.TokensUsed)
		}

		tracer.Emit(trace.TypeDecision, decisionFields(decision))
		r.journalFills(mem, events)
		r.appendDecision(decisionsFile, decision)

		// Events the agent raised during the decision (cancellations)
		// surface in the next bar's context.
		pendingEvents = eng.DrainEvents()
	}

	duration := time.Since(start)
	totalTokens := 0
	for _, d := range decisions {
		totalTokens += d.TokensUsed
	}

	result := &models.BacktestResult{
		Performance:   eval.Performance(eng.EquityCurve(), eng.TradeLog()),
		Compliance:    eval.Compliance(decisions),
		Decisions:     decisions,
		TradeLog:      eng.TradeLog(),
		TotalLLMCalls: len(decisions),
		TotalTokens:   totalTokens,
		WorkspacePath: ws.Path(),
		Duration:      duration,
		Config:        cfg,
	}
	r.saveResult(ws, result)

	r.log.Info("回测完成",
		"decisions", len(decisions),
		"total_return", result.Performance.TotalReturn,
		"total_trades", result.Performance.TotalTrades,
		"duration", duration.Round(time.Millisecond),
	)
	return result, nil
}

// ════════════════════════════════════════════════════════════════════
// Validation
// ════════════════════════════════════════════════════════════════════

func validate(cfg models.BacktestConfig) error {
	if len(cfg.Data) == 0 {
		return fmt.Errorf("runner: 缺少行情数据")
	}
	if _, ok := cfg.Data[cfg.Symbol]; !ok {
		return fmt.Errorf("runner: 未找到主标的数据: %s", cfg.Symbol)
	}
	if cfg.DecisionStartBar < 0 {
		return fmt.Errorf("runner: decision_start_bar 不能为负数: %d", cfg.DecisionStartBar)
	}
	return nil
}

// ════════════════════════════════════════════════════════════════════
// Persistence
// ════════════════════════════════════════════════════════════════════

// journalFills writes a human-readable journal line for every fill event, so
// the agent can recall its own executions later.
func (r *Runner) journalFills(mem *memory.Memory, events []models.EngineEvent) {
	for _, e := range events {
		if e.Type != models.EventFill {
			continue
		}
		line := fmt.Sprintf("[bar=%d %s] 成交: %v %s %v @ %v",
			e.BarIndex, e.Datetime.Format("2006-01-02"),
			e.Detail["side"], e.Symbol, e.Detail["quantity"], e.Detail["price"])
		if err := mem.Log(line); err != nil {
			r.log.Warn("journal 写入失败", "error", err)
		}
	}
}

func (r *Runner) appendDecision(f *os.File, d models.Decision) {
	line, err := json.Marshal(d)
	if err != nil {
		r.log.Warn("决策序列化失败", "bar_index", d.BarIndex, "error", err)
		return
	}
	if _, err := f.Write(append(line, '\n')); err != nil {
		r.log.Warn("decisions.jsonl 写入失败", "error", err)
	}
}

// resultSummary is the compact result.json payload; the full result stays
// in memory for the caller.
type resultSummary struct {
	TotalReturn   float64 `json:"total_return"`
	MaxDrawdown   float64 `json:"max_drawdown"`
	SharpeRatio   float64 `json:"sharpe_ratio"`
	TotalTrades   int     `json:"total_trades"`
	WorkspacePath string  `json:"workspace_path"`
	Duration      float64 `json:"duration"`
}

func (r *Runner) saveResult(ws *memory.Workspace, result *models.BacktestResult) {
	summary := resultSummary{
		TotalReturn:   result.Performance.TotalReturn,
		MaxDrawdown:   result.Performance.MaxDrawdown,
		SharpeRatio:   result.Performance.SharpeRatio,
		TotalTrades:   result.Performance.TotalTrades,
		WorkspacePath: result.WorkspacePath,
		Duration:      result.Duration.Seconds(),
	}
	data, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		r.log.Warn("result.json 序列化失败", "error", err)
		return
	}
	if err := os.WriteFile(ws.File("result.json"), data, 0o644); err != nil {
		r.log.Warn("result.json 写入失败", "error", err)
	}
}

// ════════════════════════════════════════════════════════════════════
// Decision plumbing
// ════════════════════════════════════════════════════════════════════

func holdDecision(c models.Context, tk *toolkit.Toolkit, err error) models.Decision {
	return models.Decision{
		Datetime:        c.Datetime,
		BarIndex:        c.BarIndex,
		Action:          models.ActionHold,
		Reasoning:       "[agent 异常，强制 hold] " + err.Error(),
		MarketSnapshot:  c.Market,
		AccountSnapshot: c.Account,
		ToolCalls:       tk.CallLog,
	}
}

// decisionFields flattens a decision into trace fields via its JSON form so
// the trace line carries exactly what decisions.jsonl does.
func decisionFields(d models.Decision) map[string]any {
	fields := map[string]any{}
	data, err := json.Marshal(d)
	if err != nil {
		return map[string]any{"action": string(d.Action), "reasoning": d.Reasoning}
	}
	if err := json.Unmarshal(data, &fields); err != nil {
		return map[string]any{"action": string(d.Action), "reasoning": d.Reasoning}
	}
	return fields
}
