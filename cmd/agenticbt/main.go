// AgenticBT — agent-driven deterministic backtesting
//
// Main CLI entrypoint using cobra command framework.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/lyeka/agentic-bt/internal/agent"
	"github.com/lyeka/agentic-bt/internal/config"
	"github.com/lyeka/agentic-bt/internal/data"
	"github.com/lyeka/agentic-bt/internal/datasource"
	"github.com/lyeka/agentic-bt/internal/infra"
	"github.com/lyeka/agentic-bt/internal/llm"
	"github.com/lyeka/agentic-bt/internal/report"
	"github.com/lyeka/agentic-bt/internal/runner"
	"github.com/lyeka/agentic-bt/internal/strategy"
	"github.com/lyeka/agentic-bt/internal/trace"
	"github.com/lyeka/agentic-bt/pkg/models"
	"github.com/lyeka/agentic-bt/pkg/utils"
)

// Build-time variables (set via -ldflags).
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// Global config
var cfg *config.Config

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "agenticbt",
	Short: "AgenticBT — agent-driven deterministic backtesting",
	Long: `AgenticBT (Agentic Backtesting)
A bar-stepped backtesting engine where an LLM agent makes every trading
decision through tools: market observation, indicator queries, a sandboxed
compute environment, order management, and a persistent memory.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// .env first, so keys in it are visible to the config loader.
		_ = godotenv.Load()

		var err error
		configFile, _ := cmd.Flags().GetString("config")
		if configFile != "" {
			cfg, err = config.LoadFromFile(configFile)
		} else {
			cfg, err = config.Load()
		}
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		if level, _ := cmd.Flags().GetString("log-level"); level != "" {
			cfg.Logging.Level = level
		}
		infra.SetDefault(cfg.Logging.Level, cfg.Logging.Format)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "config file path (default: ./config/config.yaml)")
	rootCmd.PersistentFlags().String("log-level", "", "log level override (debug, info, warn, error)")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(sampleCmd)
	rootCmd.AddCommand(traceCmd)
	rootCmd.AddCommand(strategiesCmd)
	rootCmd.AddCommand(statusCmd)
}

// --- Version Command ---

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("AgenticBT %s\n", version)
		fmt.Printf("  commit:  %s\n", commit)
		fmt.Printf("  built:   %s\n", date)
	},
}

// --- Run Command ---

var runCmd = &cobra.Command{
	Use:   "run [strategy]",
	Short: "Run a backtest for a named strategy",
	Long: `Run a backtest for one strategy from the catalog, or "all" to run
every strategy and print a comparison table at the end.

Strategies with a scripted agent run deterministically without an API key;
--llm forces the LLM agent instead. LLM-only strategies (free_play,
reflective) always need a configured provider.

Examples:
  agenticbt run rsi
  agenticbt run quant_compute --llm
  agenticbt run all
  agenticbt run my_momentum --strategies strategies.yaml
  agenticbt run rsi --data bars.csv --symbol 600519.SH`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		catalog := strategy.Builtin()
		if file, _ := cmd.Flags().GetString("strategies"); file != "" {
			if err := catalog.MergeFile(file); err != nil {
				return err
			}
		}

		names := []string{args[0]}
		if args[0] == "all" {
			names = catalog.Names()
		}

		flags := runFlags{}
		flags.forceLLM, _ = cmd.Flags().GetBool("llm")
		flags.dataFile, _ = cmd.Flags().GetString("data")
		flags.symbol, _ = cmd.Flags().GetString("symbol")
		flags.quiet, _ = cmd.Flags().GetBool("quiet")

		var entries []report.ComparisonEntry
		for _, name := range names {
			def, err := catalog.Get(name)
			if err != nil {
				return err
			}
			result, err := runOne(cmd.Context(), def, flags)
			if err != nil {
				return fmt.Errorf("strategy %s: %w", name, err)
			}
			fmt.Print(report.Render(result, name))
			entries = append(entries, report.ComparisonEntry{Name: name, Result: result})
		}

		if len(entries) > 1 {
			report.WriteComparison(os.Stdout, entries)
		}
		return nil
	},
}

func init() {
	runCmd.Flags().Bool("llm", false, "force the LLM agent even when a scripted agent exists")
	runCmd.Flags().String("strategies", "", "YAML file with user-defined strategies")
	runCmd.Flags().String("data", "", "OHLCV CSV to backtest instead of generated data")
	runCmd.Flags().String("symbol", "", "symbol for --data bars (default: the strategy's symbol)")
	runCmd.Flags().Bool("quiet", false, "suppress per-bar progress output")
}

// runFlags carries the run command's flag values into runOne.
type runFlags struct {
	forceLLM bool
	dataFile string
	symbol   string
	quiet    bool
}

func runOne(ctx context.Context, def strategy.Definition, flags runFlags) (*models.BacktestResult, error) {
	bc, err := def.BuildConfig(ctx)
	if err != nil {
		return nil, err
	}
	cfg.ApplyBacktest(&bc)

	if flags.dataFile != "" {
		symbol := flags.symbol
		if symbol == "" {
			symbol = def.Symbol
		}
		bars, err := data.LoadCSV(flags.dataFile, symbol)
		if err != nil {
			return nil, err
		}
		bc.Data = map[string][]models.Bar{symbol: bars}
		bc.Symbol = symbol
	}

	ag, mode, err := buildAgent(def, bc, flags.forceLLM)
	if err != nil {
		return nil, err
	}

	fmt.Printf("🚀 %s — %s\n", def.Name, def.Description)
	fmt.Printf("   agent: %s | bars: %d | symbol: %s\n", mode, len(bc.Data[bc.Symbol]), bc.Symbol)

	opts := []runner.Option{runner.WithLogger(slog.Default())}
	if !flags.quiet {
		opts = append(opts, runner.WithProgress(os.Stdout))
	}
	return runner.New(opts...).Run(ctx, bc, ag)
}

// buildAgent picks the scripted agent when the definition has one, else the
// configured LLM provider. The returned label is for display only.
func buildAgent(def strategy.Definition, bc models.BacktestConfig, forceLLM bool) (agent.Agent, string, error) {
	if !forceLLM {
		scripted, err := def.ScriptedAgent()
		if err != nil {
			return nil, "", err
		}
		if scripted != nil {
			return scripted, "scripted:" + def.Script, nil
		}
	}

	client, err := llm.Resolve(cfg.LLM.Provider, cfg.LLM.Model, cfg.LLM.APIKey, cfg.LLM.BaseURL,
		llm.WithTemperature(cfg.LLM.Temperature),
		llm.WithMaxTokens(cfg.LLM.MaxTokens),
	)
	if err != nil {
		return nil, "", err
	}
	ag := agent.NewLLMAgent(client, agent.WithMaxRounds(bc.MaxAgentRounds))
	return ag, client.Name() + ":" + client.Model(), nil
}

// --- Sample Command ---

var sampleCmd = &cobra.Command{
	Use:   "sample [symbol]",
	Short: "Generate sample OHLCV data or pull real bars from Tushare",
	Long: `Write an OHLCV CSV for the given symbol: a seeded geometric-Brownian
series by default, or real A-share daily bars with --tushare (requires
TUSHARE_TOKEN or datasource.tushare_token in the config).

Examples:
  agenticbt sample AAPL --bars 252 --regime trending
  agenticbt sample 600519 --tushare --start 20230101 --end 20231229`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		symbol := args[0]
		nBars, _ := cmd.Flags().GetInt("bars")

		var (
			bars []models.Bar
			err  error
		)
		if useTushare, _ := cmd.Flags().GetBool("tushare"); useTushare {
			symbol = utils.NormalizeTSCode(symbol)
			start, _ := cmd.Flags().GetString("start")
			end, _ := cmd.Flags().GetString("end")
			if end == "" {
				end = utils.TradeDate(utils.PrevBusinessDay(time.Now()))
			}
			if start == "" {
				start = utils.TradeDate(utils.BusinessDaysAgo(time.Now(), nBars))
			}

			ds := datasource.NewTushare(cfg.Datasource.TushareToken,
				datasource.WithBaseURL(cfg.Datasource.TushareURL),
				datasource.WithRateLimit(cfg.Datasource.RateLimit),
				datasource.WithTimeout(time.Duration(cfg.Datasource.TimeoutSec)*time.Second),
			)
			fmt.Printf("🌐 Pulling %s daily bars %s → %s from %s\n", symbol, start, end, ds.Name())
			bars, err = ds.Daily(cmd.Context(), symbol, start, end)
		} else {
			seed, _ := cmd.Flags().GetInt64("seed")
			regime, _ := cmd.Flags().GetString("regime")
			bars, err = data.MakeSampleData(data.SampleConfig{
				Symbol:  symbol,
				Periods: nBars,
				Seed:    seed,
				Regime:  regime,
			})
		}
		if err != nil {
			return err
		}

		out, _ := cmd.Flags().GetString("out")
		if out == "" {
			out = symbol + ".csv"
		}
		if err := data.WriteCSV(out, bars); err != nil {
			return err
		}
		fmt.Printf("📦 Wrote %d bars → %s\n", len(bars), out)
		return nil
	},
}

func init() {
	sampleCmd.Flags().String("out", "", "output CSV path (default: <symbol>.csv)")
	sampleCmd.Flags().Int("bars", 252, "number of bars to generate or pull")
	sampleCmd.Flags().Int64("seed", 42, "random seed for generated data")
	sampleCmd.Flags().String("regime", "random", "market regime: random, trending, mean_reverting, volatile, bull_bear")
	sampleCmd.Flags().Bool("tushare", false, "pull real daily bars from Tushare Pro")
	sampleCmd.Flags().String("start", "", "start trade date YYYYMMDD (tushare only)")
	sampleCmd.Flags().String("end", "", "end trade date YYYYMMDD (tushare only)")
}

// --- Trace Command ---

var traceCmd = &cobra.Command{
	Use:   "trace [trace.jsonl]",
	Short: "Analyze a run's trace: tool stats, compute errors, verdict",
	Long: `Parse a run's trace.jsonl and report per-tool call statistics, a
per-bar breakdown, compute error classification, and a pass/fail verdict
against the error-rate threshold. The full analysis is also written as
analysis.json next to the trace (override with --json-out).`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		events, err := trace.ParseTrace(args[0])
		if err != nil {
			return err
		}
		if len(events) == 0 {
			return fmt.Errorf("trace 文件为空: %s", args[0])
		}

		threshold, _ := cmd.Flags().GetFloat64("threshold")
		name, _ := cmd.Flags().GetString("strategy")
		analysis := trace.Analyze(events, trace.Options{Strategy: name, Threshold: threshold})

		fmt.Print(analysis.Render())

		jsonOut, _ := cmd.Flags().GetString("json-out")
		if jsonOut == "" {
			jsonOut = filepath.Join(filepath.Dir(args[0]), "analysis.json")
		}
		if err := analysis.WriteJSON(jsonOut); err != nil {
			return err
		}
		fmt.Printf("  JSON saved: %s\n", jsonOut)
		return nil
	},
}

func init() {
	traceCmd.Flags().Float64("threshold", trace.DefaultThreshold, "compute error rate ceiling in percent")
	traceCmd.Flags().String("json-out", "", "analysis JSON output path (default: <trace dir>/analysis.json)")
	traceCmd.Flags().String("strategy", "", "strategy label for the overview")
}

// --- Strategies Command ---

var strategiesCmd = &cobra.Command{
	Use:   "strategies",
	Short: "List the strategy catalog",
	RunE: func(cmd *cobra.Command, args []string) error {
		catalog := strategy.Builtin()
		if file, _ := cmd.Flags().GetString("strategies"); file != "" {
			if err := catalog.MergeFile(file); err != nil {
				return err
			}
		}

		defs := catalog.All()
		fmt.Printf("📚 Strategies (%d):\n\n", len(defs))
		fmt.Printf("  %-16s %-24s %-15s %5s  %s\n", "NAME", "AGENT", "REGIME", "BARS", "DESCRIPTION")
		for _, def := range defs {
			mode := "llm"
			if def.Script != "" {
				mode = "scripted:" + def.Script
			}
			fmt.Printf("  %-16s %-24s %-15s %5d  %s\n", def.Name, mode, def.Regime, def.Bars, def.Description)
		}
		fmt.Println("\nRun one with: agenticbt run <name>")
		return nil
	},
}

func init() {
	strategiesCmd.Flags().String("strategies", "", "YAML file with user-defined strategies")
}

// --- Status Command ---

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show system status and configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		model := cfg.LLM.Model
		if model == "" {
			model = "(provider default)"
		}

		fmt.Println("═══════════════════════════════════════")
		fmt.Println("  AgenticBT — System Status")
		fmt.Println("═══════════════════════════════════════")
		fmt.Printf("  Version:       %s (%s)\n", version, commit)
		fmt.Println()

		// Config summary
		fmt.Println("  Configuration:")
		fmt.Printf("    LLM Provider:   %s (model: %s)\n", cfg.LLM.Provider, model)
		fmt.Printf("    Max Rounds:     %d\n", cfg.LLM.MaxRounds)
		fmt.Printf("    Initial Cash:   %s\n", utils.FormatAmount(cfg.Backtest.InitialCash))
		fmt.Printf("    Workspace Root: %s\n", cfg.Backtest.WorkspaceRoot)
		fmt.Printf("    Tushare URL:    %s\n", cfg.Datasource.TushareURL)
		fmt.Printf("    Log Level:      %s\n", cfg.Logging.Level)
		fmt.Println()

		// API keys status
		fmt.Println("  API Keys:")
		keys := config.CheckAPIKeys(cfg)
		for _, k := range keys {
			status := "❌ not set"
			if k.IsSet {
				status = fmt.Sprintf("✅ set (%s: %s)", k.Source, k.Masked)
			}
			fmt.Printf("    %-25s %s\n", k.Name+":", status)
		}

		fmt.Println("═══════════════════════════════════════")
		return nil
	},
}
