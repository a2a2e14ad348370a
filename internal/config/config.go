// Package config loads the application configuration: YAML file with
// AGENTICBT_-prefixed environment overrides and a defaults layer, so a bare
// checkout runs without any config file at all.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"

	"github.com/lyeka/agentic-bt/pkg/models"
)

// Config is the complete application configuration.
type Config struct {
	LLM        LLMConfig        `mapstructure:"llm"        yaml:"llm"`
	Backtest   BacktestConfig   `mapstructure:"backtest"   yaml:"backtest"`
	Risk       RiskConfig       `mapstructure:"risk"       yaml:"risk"`
	Datasource DatasourceConfig `mapstructure:"datasource" yaml:"datasource"`
	Logging    LoggingConfig    `mapstructure:"logging"    yaml:"logging"`
}

// LLMConfig selects and parameterizes the decision model.
type LLMConfig struct {
	Provider    string  `mapstructure:"provider"    yaml:"provider"` // "openai", "claude", "ollama"
	APIKey      string  `mapstructure:"api_key"     yaml:"api_key"`
	BaseURL     string  `mapstructure:"base_url"    yaml:"base_url"` // empty = provider default
	Model       string  `mapstructure:"model"       yaml:"model"`    // empty = provider default
	Temperature float64 `mapstructure:"temperature" yaml:"temperature"`
	MaxTokens   int     `mapstructure:"max_tokens"  yaml:"max_tokens"`
	MaxRounds   int     `mapstructure:"max_rounds"  yaml:"max_rounds"` // ReAct round budget per bar
}

// BacktestConfig holds the run-level simulation parameters.
type BacktestConfig struct {
	InitialCash    float64 `mapstructure:"initial_cash"    yaml:"initial_cash"`
	Slippage       float64 `mapstructure:"slippage"        yaml:"slippage"`     // fixed price offset on market fills
	SlippagePct    float64 `mapstructure:"slippage_pct"    yaml:"slippage_pct"` // fraction of the open; wins over slippage
	CommissionRate float64 `mapstructure:"commission_rate" yaml:"commission_rate"`
	MaxVolumePct   float64 `mapstructure:"max_volume_pct"  yaml:"max_volume_pct"` // 0 = no per-bar volume cap
	WorkspaceRoot  string  `mapstructure:"workspace_root"  yaml:"workspace_root"`
}

// RiskConfig holds the pre-trade gate limits handed to the engine.
type RiskConfig struct {
	MaxPositionPct       float64 `mapstructure:"max_position_pct"       yaml:"max_position_pct"`
	MaxPortfolioDrawdown float64 `mapstructure:"max_portfolio_drawdown" yaml:"max_portfolio_drawdown"`
	MaxOpenPositions     int     `mapstructure:"max_open_positions"     yaml:"max_open_positions"`
	MaxDailyLossPct      float64 `mapstructure:"max_daily_loss_pct"     yaml:"max_daily_loss_pct"`
}

// DatasourceConfig parameterizes the Tushare daily-bar adapter.
type DatasourceConfig struct {
	TushareToken string  `mapstructure:"tushare_token" yaml:"tushare_token"`
	TushareURL   string  `mapstructure:"tushare_url"   yaml:"tushare_url"`
	RateLimit    float64 `mapstructure:"rate_limit"    yaml:"rate_limit"` // requests per minute
	TimeoutSec   int     `mapstructure:"timeout_sec"   yaml:"timeout_sec"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level"  yaml:"level"`  // "debug", "info", "warn", "error"
	Format string `mapstructure:"format" yaml:"format"` // "text" or "json"
}

// Load reads the configuration from file and environment variables.
// Config file search order:
//  1. ./config/config.yaml (project root)
//  2. ~/.agentic-bt/config.yaml (home directory)
//  3. /etc/agentic-bt/config.yaml (system)
//
// Environment variables override config file values.
// Format: AGENTICBT_<SECTION>_<KEY>, e.g., AGENTICBT_LLM_API_KEY
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("./config")
	v.AddConfigPath(filepath.Join(homeDir(), ".agentic-bt"))
	v.AddConfigPath("/etc/agentic-bt")

	v.SetEnvPrefix("AGENTICBT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// A missing config file is fine: defaults + env vars carry the run.
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("config: read: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	overrideFromEnv(&cfg)
	return &cfg, nil
}

// LoadFromFile reads configuration from a specific file path.
func LoadFromFile(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigFile(path)
	v.SetEnvPrefix("AGENTICBT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	overrideFromEnv(&cfg)
	return &cfg, nil
}

// setDefaults pins a default for every key so Unmarshal always yields a
// usable config.
func setDefaults(v *viper.Viper) {
	// LLM defaults: endpoint and model fall back per provider in llm.Resolve.
	v.SetDefault("llm.provider", "openai")
	v.SetDefault("llm.temperature", 0.1)
	v.SetDefault("llm.max_tokens", 4096)
	v.SetDefault("llm.max_rounds", 15)

	// Backtest defaults
	v.SetDefault("backtest.initial_cash", 100000)
	v.SetDefault("backtest.workspace_root", "./workspaces")

	// Risk defaults match the engine's gate defaults.
	v.SetDefault("risk.max_position_pct", 0.20)
	v.SetDefault("risk.max_portfolio_drawdown", 0.15)
	v.SetDefault("risk.max_open_positions", 10)
	v.SetDefault("risk.max_daily_loss_pct", 0.03)

	// Datasource defaults: Tushare free tier allows ~500 calls/min.
	v.SetDefault("datasource.tushare_url", "http://api.tushare.pro")
	v.SetDefault("datasource.rate_limit", 480)
	v.SetDefault("datasource.timeout_sec", 15)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
}

// overrideFromEnv explicitly reads sensitive keys from environment
// variables, including the bare names the OpenAI SDK conventions use, so a
// shell already set up for other tools just works.
func overrideFromEnv(cfg *Config) {
	if key := os.Getenv("AGENTICBT_LLM_API_KEY"); key != "" {
		cfg.LLM.APIKey = key
	}
	if key := os.Getenv("OPENAI_API_KEY"); key != "" && cfg.LLM.APIKey == "" {
		cfg.LLM.APIKey = key
	}
	if url := os.Getenv("OPENAI_BASE_URL"); url != "" && cfg.LLM.BaseURL == "" {
		cfg.LLM.BaseURL = url
	}
	if model := os.Getenv("OPENAI_MODEL"); model != "" && cfg.LLM.Model == "" {
		cfg.LLM.Model = model
	}
	if token := os.Getenv("AGENTICBT_DATASOURCE_TUSHARE_TOKEN"); token != "" {
		cfg.Datasource.TushareToken = token
	}
	if token := os.Getenv("TUSHARE_TOKEN"); token != "" && cfg.Datasource.TushareToken == "" {
		cfg.Datasource.TushareToken = token
	}
}

// RiskLimits converts the config section into the engine's risk parameters.
func (c *Config) RiskLimits() models.RiskConfig {
	return models.RiskConfig{
		MaxPositionPct:       c.Risk.MaxPositionPct,
		MaxPortfolioDrawdown: c.Risk.MaxPortfolioDrawdown,
		MaxOpenPositions:     c.Risk.MaxOpenPositions,
		MaxDailyLossPct:      c.Risk.MaxDailyLossPct,
	}
}

// ApplyBacktest copies the run-level simulation parameters onto a backtest
// config, leaving fields the caller already set untouched.
func (c *Config) ApplyBacktest(bc *models.BacktestConfig) {
	if bc.InitialCash == 0 {
		bc.InitialCash = c.Backtest.InitialCash
	}
	if bc.Execution.Slippage == 0 && bc.Execution.SlippagePct == 0 {
		bc.Execution.Slippage = c.Backtest.Slippage
		bc.Execution.SlippagePct = c.Backtest.SlippagePct
	}
	if bc.Execution.MaxVolumePct == 0 {
		bc.Execution.MaxVolumePct = c.Backtest.MaxVolumePct
	}
	if bc.Commission.Rate == 0 {
		bc.Commission.Rate = c.Backtest.CommissionRate
	}
	if bc.WorkspaceRoot == "" {
		bc.WorkspaceRoot = c.Backtest.WorkspaceRoot
	}
	if bc.MaxAgentRounds == 0 {
		bc.MaxAgentRounds = c.LLM.MaxRounds
	}
	if bc.Risk == (models.RiskConfig{}) {
		bc.Risk = c.RiskLimits()
	}
}

// homeDir returns the user's home directory.
func homeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return home
}
