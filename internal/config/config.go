package config

import (
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

type Mode string

const (
	ModeDryRun Mode = "dry-run"
	ModePaper  Mode = "paper"
)

const (
	StrategyHodl         = "hodl"
	StrategyMarketMaking = "market-making"
)

type Config struct {
	Mode     Mode
	Strategy string
	Symbol   string
	Stake    string
	Quote    string

	Volume            decimal.Decimal
	MinOrderSize      decimal.Decimal
	MaxNotional       decimal.Decimal
	KillSwitch        bool
	BullPeriods       int
	BullTrend         int
	BearPeriods       int
	BearTrend         int
	TargetedProfitPct decimal.Decimal
	AcceptableLossPct decimal.Decimal
	Timeout           time.Duration
	TickInterval      time.Duration
	EntryKind         string

	MMBaseVolume   decimal.Decimal
	MMSpread       decimal.Decimal
	MMSpreadAdjust decimal.Decimal
	MMSpreadOnLoss decimal.Decimal
	MMMinSpread    decimal.Decimal

	FillProbability float64
	Seed            int64
	StartPrice      decimal.Decimal
	StartBalance    decimal.Decimal

	LogLevel       string
	MetricsAddr    string
	DecisionsPath  string
	CheckpointPath string
	JournalPath    string
	ConfigPath     string
	BaseURL        string
	APIKey         string
	APISecret      string
}

// envKeys maps flags to the environment variables that may set them.
var envKeys = map[string]string{
	"mode":          "HODL_MODE",
	"strategy":      "HODL_STRATEGY",
	"symbol":        "HODL_SYMBOL",
	"volume":        "HODL_VOLUME",
	"log-level":     "HODL_LOG_LEVEL",
	"metrics-addr":  "HODL_METRICS_ADDR",
	"journal-path":  "HODL_JOURNAL_PATH",
	"kill-switch":   "HODL_KILL_SWITCH",
	"config":        "HODL_CONFIG",
	"base-url":      "APCA_API_BASE_URL",
	"api-key":       "APCA_API_KEY_ID",
	"api-secret":    "APCA_API_SECRET_KEY",
	"tick-interval": "HODL_TICK_INTERVAL",
}

// Load reads configuration with precedence CLI > env > config file >
// defaults. A .env file in the working directory only fills variables that
// are not already set.
func Load() (Config, error) {
	loadDotEnvIfPresent(".env")
	return load(flag.CommandLine, os.Args[1:])
}

func load(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	var mode string

	fs.StringVar(&mode, "mode", string(ModeDryRun), "run mode: dry-run or paper")
	fs.StringVar(&cfg.Strategy, "strategy", StrategyHodl, "hodl or market-making")
	fs.StringVar(&cfg.Symbol, "symbol", "BTC/USD", "traded pair, STAKE/QUOTE")
	fs.StringVar(&cfg.Stake, "stake", "", "stake currency (defaults to the symbol base)")
	fs.StringVar(&cfg.Quote, "quote", "", "quote currency (defaults to the symbol quote)")
	decimalVar(fs, &cfg.Volume, "volume", "0.005", "entry volume in stake currency")
	decimalVar(fs, &cfg.MinOrderSize, "min-order-size", "0.0001", "venue minimum order size in stake currency")
	decimalVar(fs, &cfg.MaxNotional, "max-notional", "0", "max quote notional per entry, 0 disables")
	fs.BoolVar(&cfg.KillSwitch, "kill-switch", false, "if true, never place orders")
	fs.IntVar(&cfg.BullPeriods, "bull-periods", 5, "derivatives considered for a bull trend")
	fs.IntVar(&cfg.BullTrend, "bull-trend", 4, "rising derivatives needed for a bull trend")
	fs.IntVar(&cfg.BearPeriods, "bear-periods", 5, "derivatives considered for a bear trend")
	fs.IntVar(&cfg.BearTrend, "bear-trend", 4, "falling derivatives needed for a bear trend")
	decimalVar(fs, &cfg.TargetedProfitPct, "profit-pct", "0.005", "targeted profit as a fraction of the entry price")
	decimalVar(fs, &cfg.AcceptableLossPct, "loss-pct", "0.002", "acceptable loss as a fraction of the entry price")
	fs.DurationVar(&cfg.Timeout, "timeout", 30*time.Second, "force an exit this long after entry")
	fs.DurationVar(&cfg.TickInterval, "tick-interval", time.Second, "time between strategy ticks")
	fs.StringVar(&cfg.EntryKind, "entry-kind", "market", "hodl entry order: market or limit at the midpoint")
	decimalVar(fs, &cfg.MMBaseVolume, "mm-base-volume", "0.005", "market making quote volume in stake currency")
	decimalVar(fs, &cfg.MMSpread, "mm-spread", "0.01", "market making initial spread relative to the midpoint")
	decimalVar(fs, &cfg.MMSpreadAdjust, "mm-spread-adjust", "1", "weight of the volatility change added to the spread")
	decimalVar(fs, &cfg.MMSpreadOnLoss, "mm-spread-on-loss", "2", "spread multiplier when the midpoint escapes the quotes")
	decimalVar(fs, &cfg.MMMinSpread, "mm-min-spread", "0.0001", "lower bound on the market making spread")
	fs.Float64Var(&cfg.FillProbability, "fill-probability", 0.5, "dry run chance an open order fills per tick")
	fs.Int64Var(&cfg.Seed, "seed", 1, "dry run random seed")
	decimalVar(fs, &cfg.StartPrice, "start-price", "60000", "dry run synthetic book start price")
	decimalVar(fs, &cfg.StartBalance, "start-balance", "1000", "dry run quote balance")
	fs.StringVar(&cfg.LogLevel, "log-level", "info", "debug, info, warn or error")
	fs.StringVar(&cfg.MetricsAddr, "metrics-addr", "", "serve prometheus metrics on this address")
	fs.StringVar(&cfg.DecisionsPath, "decisions-path", "decisions.ndjson", "path to decisions log")
	fs.StringVar(&cfg.CheckpointPath, "checkpoint-path", "checkpoint.json", "path to checkpoint file")
	fs.StringVar(&cfg.JournalPath, "journal-path", "", "SQLite order journal, empty disables")
	fs.StringVar(&cfg.ConfigPath, "config", "", "optional YAML config file")
	fs.StringVar(&cfg.BaseURL, "base-url", "https://paper-api.alpaca.markets", "trading API base URL")
	fs.StringVar(&cfg.APIKey, "api-key", "", "API key id")
	fs.StringVar(&cfg.APISecret, "api-secret", "", "API secret key")

	if err := fs.Parse(args); err != nil {
		return cfg, err
	}
	fromCLI := map[string]bool{}
	fs.Visit(func(f *flag.Flag) { fromCLI[f.Name] = true })

	if !fromCLI["config"] {
		if path := os.Getenv(envKeys["config"]); path != "" {
			cfg.ConfigPath = path
		}
	}
	if cfg.ConfigPath != "" {
		if err := applyFile(fs, cfg.ConfigPath, fromCLI); err != nil {
			return cfg, err
		}
	}
	for name, key := range envKeys {
		if fromCLI[name] {
			continue
		}
		if value, ok := os.LookupEnv(key); ok && value != "" {
			if err := fs.Set(name, value); err != nil {
				return cfg, fmt.Errorf("env %s: %w", key, err)
			}
		}
	}

	cfg.Mode = Mode(mode)
	if base, quote, ok := strings.Cut(cfg.Symbol, "/"); ok {
		if cfg.Stake == "" {
			cfg.Stake = base
		}
		if cfg.Quote == "" {
			cfg.Quote = quote
		}
	}

	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// applyFile sets every flag named in the YAML file unless it came from the
// command line.
func applyFile(fs *flag.FlagSet, path string, fromCLI map[string]bool) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	var values map[string]any
	if err := yaml.Unmarshal(data, &values); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	for name, value := range values {
		if fs.Lookup(name) == nil {
			return fmt.Errorf("config file %s: unknown key %q", path, name)
		}
		if fromCLI[name] {
			continue
		}
		if err := fs.Set(name, fmt.Sprint(value)); err != nil {
			return fmt.Errorf("config file %s: %s: %w", path, name, err)
		}
	}
	return nil
}

type decimalValue struct {
	d *decimal.Decimal
}

func decimalVar(fs *flag.FlagSet, d *decimal.Decimal, name, value, usage string) {
	*d = decimal.RequireFromString(value)
	fs.Var(decimalValue{d}, name, usage)
}

func (v decimalValue) String() string {
	if v.d == nil {
		return ""
	}
	return v.d.String()
}

func (v decimalValue) Set(s string) error {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return err
	}
	*v.d = d
	return nil
}

// SlogLevel maps LogLevel onto slog levels.
func (c Config) SlogLevel() slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo
	}
	return level
}

func validate(cfg Config) error {
	if cfg.Mode != ModeDryRun && cfg.Mode != ModePaper {
		return fmt.Errorf("invalid mode: %s", cfg.Mode)
	}
	if cfg.Mode == ModePaper && (cfg.APIKey == "" || cfg.APISecret == "") {
		return errors.New("APCA_API_KEY_ID and APCA_API_SECRET_KEY are required in paper mode")
	}
	if cfg.Stake == "" || cfg.Quote == "" {
		return fmt.Errorf("cannot derive stake and quote from symbol %q", cfg.Symbol)
	}
	if cfg.Strategy != StrategyHodl && cfg.Strategy != StrategyMarketMaking {
		return fmt.Errorf("invalid strategy: %s", cfg.Strategy)
	}
	if cfg.EntryKind != "market" && cfg.EntryKind != "limit" {
		return fmt.Errorf("entry-kind must be market or limit, got %q", cfg.EntryKind)
	}
	if cfg.Strategy == StrategyMarketMaking {
		if cfg.MMBaseVolume.LessThanOrEqual(cfg.MinOrderSize) {
			return fmt.Errorf("mm-base-volume %s must exceed min-order-size %s", cfg.MMBaseVolume, cfg.MinOrderSize)
		}
		if !cfg.MMSpread.IsPositive() || cfg.MMMinSpread.IsNegative() {
			return fmt.Errorf("mm-spread must be > 0 and mm-min-spread >= 0")
		}
		if !cfg.MMSpreadOnLoss.GreaterThan(cfg.MMSpreadAdjust) {
			return fmt.Errorf("mm-spread-on-loss must exceed mm-spread-adjust")
		}
	}
	if cfg.Stake == cfg.Quote {
		return fmt.Errorf("stake and quote must differ, both %s", cfg.Stake)
	}
	if !cfg.Volume.IsPositive() {
		return fmt.Errorf("volume must be > 0")
	}
	if cfg.Volume.LessThanOrEqual(cfg.MinOrderSize) {
		return fmt.Errorf("volume %s must exceed min-order-size %s", cfg.Volume, cfg.MinOrderSize)
	}
	if cfg.MaxNotional.IsNegative() {
		return fmt.Errorf("max-notional must be >= 0")
	}
	if cfg.BullPeriods <= 0 || cfg.BearPeriods <= 0 {
		return fmt.Errorf("bull-periods and bear-periods must be > 0")
	}
	if cfg.BullTrend <= 0 || cfg.BullTrend > cfg.BullPeriods {
		return fmt.Errorf("bull-trend must be in 1..bull-periods")
	}
	if cfg.BearTrend <= 0 || cfg.BearTrend > cfg.BearPeriods {
		return fmt.Errorf("bear-trend must be in 1..bear-periods")
	}
	if !cfg.TargetedProfitPct.IsPositive() {
		return fmt.Errorf("profit-pct must be > 0")
	}
	if !cfg.AcceptableLossPct.IsPositive() || cfg.AcceptableLossPct.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return fmt.Errorf("loss-pct must be in (0, 1)")
	}
	if cfg.Timeout <= 0 {
		return fmt.Errorf("timeout must be > 0")
	}
	if cfg.TickInterval <= 0 {
		return fmt.Errorf("tick-interval must be > 0")
	}
	if cfg.FillProbability <= 0 || cfg.FillProbability > 1 {
		return fmt.Errorf("fill-probability must be in (0, 1]")
	}
	return nil
}
