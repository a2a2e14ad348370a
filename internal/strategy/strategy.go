// Package strategy holds the catalog of named strategy definitions: the
// built-in showcase strategies plus user-defined ones merged from a YAML
// file. A definition carries everything a run needs: the playbook prompt,
// the market regime and seed for generated data, risk overrides, and an
// optional scripted agent that exercises the same tool surface without an
// API key.
package strategy

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/lyeka/agentic-bt/internal/agent"
	"github.com/lyeka/agentic-bt/internal/data"
	"github.com/lyeka/agentic-bt/pkg/models"
)

// Default knobs applied when a definition leaves them unset.
const (
	DefaultDecisionStartBar = 14
	DefaultMaxRounds        = 15
	DefaultSymbol           = "AAPL"
)

// ExtraSymbol names an additional instrument for multi-asset runs, with its
// own generator seed.
type ExtraSymbol struct {
	Symbol string `yaml:"symbol"`
	Seed   int64  `yaml:"seed"`
}

// Definition is one catalog entry.
type Definition struct {
	Name             string
	Description      string
	Prompt           string
	Regime           string
	Seed             int64
	Bars             int
	DecisionStartBar int
	MaxRounds        int
	Symbol           string
	Risk             models.RiskConfig
	Features         []string
	ExtraSymbols     []ExtraSymbol

	// Script names the built-in rule agent that can run this strategy
	// without an LLM. Empty means LLM-only.
	Script string
}

// BuildConfig generates the market data for the definition and assembles a
// runnable backtest config around it.
func (d Definition) BuildConfig(ctx context.Context) (models.BacktestConfig, error) {
	configs := []data.SampleConfig{{
		Symbol:  d.Symbol,
		Periods: d.Bars,
		Seed:    d.Seed,
		Regime:  d.Regime,
	}}
	for _, extra := range d.ExtraSymbols {
		configs = append(configs, data.SampleConfig{
			Symbol:  extra.Symbol,
			Periods: d.Bars,
			Seed:    extra.Seed,
			Regime:  d.Regime,
		})
	}

	set, err := data.MakeSampleSet(ctx, configs...)
	if err != nil {
		return models.BacktestConfig{}, fmt.Errorf("strategy: 生成 %s 行情失败: %w", d.Name, err)
	}

	cfg := models.BacktestConfig{
		Data:             set,
		Symbol:           d.Symbol,
		StrategyPrompt:   d.Prompt,
		Risk:             d.Risk,
		DecisionStartBar: d.DecisionStartBar,
		MaxAgentRounds:   d.MaxRounds,
	}
	cfg.Normalize()
	return cfg, nil
}

// ScriptedAgent returns the rule agent for the definition, or nil when the
// strategy is LLM-only. Unknown script names are an error so a typo in a
// YAML overlay does not silently degrade to an LLM run.
func (d Definition) ScriptedAgent() (agent.Agent, error) {
	switch d.Script {
	case "":
		return nil, nil
	case "rsi":
		return agent.RSIAgent{}, nil
	case "bracket_atr":
		return agent.BracketATRAgent{}, nil
	case "bollinger_limit":
		return agent.BollingerLimitAgent{}, nil
	case "adaptive_memory":
		return agent.AdaptiveMemoryAgent{}, nil
	case "multi_asset":
		symbols := []string{d.Symbol}
		for _, extra := range d.ExtraSymbols {
			symbols = append(symbols, extra.Symbol)
		}
		return agent.NewMultiAssetAgent(symbols...), nil
	case "quant_compute":
		return agent.ComputeQuantAgent{}, nil
	default:
		return nil, fmt.Errorf("strategy: 未知脚本 agent: %q", d.Script)
	}
}

// Catalog is an ordered set of definitions.
type Catalog struct {
	defs  map[string]Definition
	order []string
}

// Builtin returns a catalog holding the built-in strategies.
func Builtin() *Catalog {
	c := &Catalog{defs: make(map[string]Definition)}
	for _, def := range builtins() {
		c.put(def)
	}
	return c
}

// put inserts or replaces a definition, keeping first-seen order.
func (c *Catalog) put(def Definition) {
	if _, exists := c.defs[def.Name]; !exists {
		c.order = append(c.order, def.Name)
	}
	c.defs[def.Name] = def
}

// Get returns a definition by name.
func (c *Catalog) Get(name string) (Definition, error) {
	def, ok := c.defs[name]
	if !ok {
		return Definition{}, fmt.Errorf("strategy: 未知策略: %q，可选: %v", name, c.Names())
	}
	return def, nil
}

// Names lists the catalog in registration order.
func (c *Catalog) Names() []string {
	return append([]string(nil), c.order...)
}

// All returns every definition in registration order.
func (c *Catalog) All() []Definition {
	defs := make([]Definition, 0, len(c.order))
	for _, name := range c.order {
		defs = append(defs, c.defs[name])
	}
	return defs
}

// overlayFile is the YAML shape of a user strategy file. Pointer fields
// distinguish "absent" from an explicit zero for the defaulted knobs.
type overlayFile struct {
	Strategies []overlayEntry `yaml:"strategies"`
}

type overlayEntry struct {
	Name             string        `yaml:"name"`
	Description      string        `yaml:"description"`
	Prompt           string        `yaml:"prompt"`
	Regime           string        `yaml:"regime"`
	Seed             int64         `yaml:"seed"`
	Bars             int           `yaml:"bars"`
	DecisionStartBar *int          `yaml:"decision_start_bar"`
	MaxRounds        *int          `yaml:"max_rounds"`
	Symbol           string        `yaml:"symbol"`
	Risk             riskOverlay   `yaml:"risk"`
	Features         []string      `yaml:"features"`
	ExtraSymbols     []ExtraSymbol `yaml:"extra_symbols"`
	Script           string        `yaml:"script"`
}

// riskOverlay mirrors models.RiskConfig with YAML field names. Zero values
// mean "keep the engine default"; Normalize fills them later.
type riskOverlay struct {
	MaxPositionPct       float64 `yaml:"max_position_pct"`
	MaxPortfolioDrawdown float64 `yaml:"max_portfolio_drawdown"`
	MaxOpenPositions     int     `yaml:"max_open_positions"`
	MaxDailyLossPct      float64 `yaml:"max_daily_loss_pct"`
}

func (r riskOverlay) toModel() models.RiskConfig {
	return models.RiskConfig{
		MaxPositionPct:       r.MaxPositionPct,
		MaxPortfolioDrawdown: r.MaxPortfolioDrawdown,
		MaxOpenPositions:     r.MaxOpenPositions,
		MaxDailyLossPct:      r.MaxDailyLossPct,
	}
}

// MergeFile overlays user strategies from a YAML file onto the catalog.
// Entries replace built-ins of the same name and append otherwise.
func (c *Catalog) MergeFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("strategy: 读取策略文件: %w", err)
	}

	var file overlayFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return fmt.Errorf("strategy: 解析策略文件 %s: %w", path, err)
	}

	for i, entry := range file.Strategies {
		if entry.Name == "" {
			return fmt.Errorf("strategy: %s 第 %d 个策略缺少 name", path, i+1)
		}
		if entry.Bars <= 0 {
			return fmt.Errorf("strategy: 策略 %q 的 bars 必须为正数", entry.Name)
		}
		def := Definition{
			Name:             entry.Name,
			Description:      entry.Description,
			Prompt:           entry.Prompt,
			Regime:           entry.Regime,
			Seed:             entry.Seed,
			Bars:             entry.Bars,
			DecisionStartBar: DefaultDecisionStartBar,
			MaxRounds:        DefaultMaxRounds,
			Symbol:           entry.Symbol,
			Risk:             entry.Risk.toModel(),
			Features:         entry.Features,
			ExtraSymbols:     entry.ExtraSymbols,
			Script:           entry.Script,
		}
		if entry.DecisionStartBar != nil {
			def.DecisionStartBar = *entry.DecisionStartBar
		}
		if entry.MaxRounds != nil {
			def.MaxRounds = *entry.MaxRounds
		}
		if def.Symbol == "" {
			def.Symbol = DefaultSymbol
		}
		if _, err := def.ScriptedAgent(); err != nil {
			return err
		}
		c.put(def)
	}
	return nil
}
