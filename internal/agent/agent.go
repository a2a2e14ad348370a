// Package agent implements the per-bar decision layer: the context
// assembler that renders engine and memory state into a prompt, the
// LLM-backed ReAct agent, and scripted rule agents that exercise the same
// tool surface without an API key.
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/lyeka/agentic-bt/internal/agent/prompts"
	"github.com/lyeka/agentic-bt/internal/llm"
	"github.com/lyeka/agentic-bt/internal/toolkit"
	"github.com/lyeka/agentic-bt/internal/trace"
	"github.com/lyeka/agentic-bt/pkg/models"
)

// DefaultMaxRounds bounds the ReAct loop when no override is configured.
const DefaultMaxRounds = 15

// Agent makes one trading decision per bar given the assembled context and
// a fresh toolkit.
type Agent interface {
	Decide(ctx context.Context, c models.Context, tk *toolkit.Toolkit) (models.Decision, error)
}

// LLMAgent runs a bounded ReAct loop against a chat-completion provider:
// tool calls continue the loop, a stop finish ends it, and an exhausted
// round budget forces a hold.
type LLMAgent struct {
	provider     llm.Provider
	maxRounds    int
	systemPrompt string
	tracer       *trace.Writer

	// sleep is swapped out in tests so retry backoff does not stall them.
	sleep func(time.Duration)
}

// LLMOption configures an LLMAgent.
type LLMOption func(*LLMAgent)

// WithMaxRounds overrides the ReAct round budget.
func WithMaxRounds(n int) LLMOption {
	return func(a *LLMAgent) {
		if n > 0 {
			a.maxRounds = n
		}
	}
}

// WithSystemPrompt sets a custom system prompt. A {strategy} placeholder
// inside it is substituted with the run's playbook.
func WithSystemPrompt(prompt string) LLMOption {
	return func(a *LLMAgent) { a.systemPrompt = prompt }
}

// WithTracer wires the run's trace writer into the agent so llm_call and
// tool_call events land in trace.jsonl.
func WithTracer(w *trace.Writer) LLMOption {
	return func(a *LLMAgent) { a.tracer = w }
}

// SetTracer lets the runner attach the per-run trace writer after the agent
// was constructed; the workspace does not exist before the run starts.
func (a *LLMAgent) SetTracer(w *trace.Writer) { a.tracer = w }

// NewLLMAgent builds an agent over the given provider.
func NewLLMAgent(provider llm.Provider, opts ...LLMOption) *LLMAgent {
	a := &LLMAgent{
		provider:  provider,
		maxRounds: DefaultMaxRounds,
		sleep:     time.Sleep,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Decide runs the ReAct loop for one bar and assembles the decision record
// from the toolkit's trade log.
func (a *LLMAgent) Decide(ctx context.Context, c models.Context, tk *toolkit.Toolkit) (models.Decision, error) {
	start := time.Now()
	system := prompts.Build(a.systemPrompt, c.Playbook)
	messages := []llm.Message{
		llm.SystemMessage(system),
		llm.UserMessage(c.FormattedText),
	}

	var (
		finalText     string
		lastReasoning string
		totalTokens   int
		rounds        int
		model         string
		exhausted     = true
	)

	for round := 1; round <= a.maxRounds; round++ {
		resp := a.callLLM(ctx, messages, tk.Schemas())
		if resp == nil {
			finalText = "[LLM 调用失败，强制 hold]"
			if lastReasoning != "" {
				finalText += " " + lastReasoning
			}
			exhausted = false
			break
		}
		rounds = round
		totalTokens += resp.Usage.TotalTokens
		model = resp.Model

		input := messages
		messages = append(messages, llm.Message{
			Role:      llm.RoleAssistant,
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
		})
		if resp.Content != "" {
			lastReasoning = resp.Content
		}
		a.traceLLMCall(round, input, resp)

		if resp.FinishReason == llm.FinishStop {
			finalText = resp.Content
			exhausted = false
			break
		}

		for _, tc := range resp.ToolCalls {
			args := parseArgs(tc.Arguments)
			t0 := time.Now()
			result := tk.Execute(ctx, tc.Name, args)
			elapsed := msSince(t0)
			if a.tracer != nil {
				a.tracer.Emit(trace.TypeToolCall, map[string]any{
					"tool":        tc.Name,
					"round":       round,
					"input":       args,
					"output":      result,
					"duration_ms": elapsed,
				})
			}
			messages = append(messages, llm.ToolResultMessage(tc.ID, tc.Name, encodeResult(result)))
		}
	}

	if exhausted {
		marker := fmt.Sprintf("[max_rounds=%d 耗尽，强制 hold]", a.maxRounds)
		if lastReasoning == "" {
			finalText = marker
		} else {
			finalText = marker + " " + lastReasoning
		}
	}

	d := buildDecision(c, tk, finalText)
	d.TokensUsed = totalTokens
	d.LatencyMs = msSince(start)
	d.Model = model
	d.Rounds = rounds
	return d, nil
}

// callLLM makes up to three attempts with exponential backoff (1s, 2s).
// Each failed attempt leaves an llm_call error event in the trace; all three
// failing returns nil, which collapses the round to a hold.
func (a *LLMAgent) callLLM(ctx context.Context, messages []llm.Message, tools []llm.Tool) *llm.Response {
	for attempt := 0; attempt < 3; attempt++ {
		t0 := time.Now()
		resp, err := a.provider.Chat(ctx, messages, tools)
		if err == nil {
			return resp
		}
		if a.tracer != nil {
			a.tracer.Emit(trace.TypeLLMCall, map[string]any{
				"error":       err.Error(),
				"attempt":     attempt + 1,
				"duration_ms": msSince(t0),
			})
		}
		if attempt == 2 || ctx.Err() != nil {
			return nil
		}
		a.sleep(time.Duration(1<<attempt) * time.Second)
	}
	return nil
}

func (a *LLMAgent) traceLLMCall(round int, input []llm.Message, resp *llm.Response) {
	if a.tracer == nil {
		return
	}
	msgs := make([]map[string]any, len(input))
	for i, m := range input {
		msgs[i] = map[string]any{"role": string(m.Role), "content": m.Content}
	}
	calls := make([]map[string]any, len(resp.ToolCalls))
	for i, tc := range resp.ToolCalls {
		calls[i] = map[string]any{"id": tc.ID, "name": tc.Name, "arguments": string(tc.Arguments)}
	}
	a.tracer.Emit(trace.TypeLLMCall, map[string]any{
		"model":             resp.Model,
		"round":             round,
		"input_messages":    msgs,
		"content":           resp.Content,
		"tool_calls":        calls,
		"finish_reason":     string(resp.FinishReason),
		"prompt_tokens":     resp.Usage.PromptTokens,
		"completion_tokens": resp.Usage.CompletionTokens,
		"total_tokens":      resp.Usage.TotalTokens,
		"duration_ms":       float64(resp.Latency.Microseconds()) / 1000.0,
	})
}

// buildDecision lifts the toolkit's trade log into a Decision: the last
// trade action wins, and multi-trade cycles get the full chain appended to
// the reasoning.
func buildDecision(c models.Context, tk *toolkit.Toolkit, reasoning string) models.Decision {
	action := models.ActionHold
	symbol := ""
	quantity := 0
	var orderResult map[string]any

	if n := len(tk.TradeActions); n > 0 {
		last := tk.TradeActions[n-1]
		action = models.Action(last.Action)
		symbol = last.Symbol
		quantity = last.Quantity
		orderResult = last.Result
		if n > 1 {
			parts := make([]string, n)
			for i, t := range tk.TradeActions {
				parts[i] = fmt.Sprintf("%s %s %d股", t.Action, t.Symbol, t.Quantity)
			}
			reasoning += "\n[全部交易: " + strings.Join(parts, "; ") + "]"
		}
	}

	return models.Decision{
		Datetime:        c.Datetime,
		BarIndex:        c.BarIndex,
		Action:          action,
		Symbol:          symbol,
		Quantity:        quantity,
		Reasoning:       reasoning,
		MarketSnapshot:  c.Market,
		AccountSnapshot: c.Account,
		IndicatorsUsed:  tk.IndicatorQueries,
		ToolCalls:       tk.CallLog,
		OrderResult:     orderResult,
	}
}

// parseArgs decodes tool-call arguments, degrading to an empty map on
// malformed JSON so a single bad call never kills the loop.
func parseArgs(raw json.RawMessage) map[string]any {
	args := map[string]any{}
	if len(raw) == 0 {
		return args
	}
	if err := json.Unmarshal(raw, &args); err != nil {
		return map[string]any{}
	}
	return args
}

// encodeResult serializes a tool result for the conversation. Values JSON
// cannot carry (a +Inf bracket limit inside a sandbox payload) degrade to
// the fmt rendering instead of failing the round.
func encodeResult(result map[string]any) string {
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Sprint(result)
	}
	return string(data)
}

func msSince(t time.Time) float64 {
	return float64(time.Since(t).Microseconds()) / 1000.0
}
