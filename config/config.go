package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rustyeddy/scalper/broker"
	"github.com/rustyeddy/scalper/execution"
	"github.com/rustyeddy/scalper/indicators"
	"github.com/rustyeddy/scalper/lifecycle"
	"github.com/rustyeddy/scalper/market"
	"github.com/rustyeddy/scalper/risk"
	"github.com/rustyeddy/scalper/signals"
	"gopkg.in/yaml.v3"
)

// Environment variables that override the file.
const (
	EnvOandaToken   = "SCALPER_OANDA_TOKEN"
	EnvOandaAccount = "SCALPER_OANDA_ACCOUNT"
)

// Config is the complete engine configuration.
type Config struct {
	Instrument string   `json:"instrument" yaml:"instrument"`
	Timeframe  string   `json:"timeframe" yaml:"timeframe"`
	Bars       int      `json:"bars" yaml:"bars"`
	Interval   Duration `json:"interval" yaml:"interval"`

	Indicators indicators.Config `json:"indicators" yaml:"indicators"`
	Signal     SignalConfig      `json:"signal" yaml:"signal"`
	Risk       risk.Policy       `json:"risk" yaml:"risk"`
	Entry      EntryConfig       `json:"entry" yaml:"entry"`
	Lifecycle  lifecycle.Config  `json:"lifecycle" yaml:"lifecycle"`
	Startup    StartupConfig     `json:"startup" yaml:"startup"`
	Venue      VenueConfig       `json:"venue" yaml:"venue"`
	Journal    JournalConfig     `json:"journal" yaml:"journal"`
	Logging    LoggingConfig     `json:"logging" yaml:"logging"`
	Metrics    MetricsConfig     `json:"metrics" yaml:"metrics"`
}

type SignalConfig struct {
	Policy string `json:"policy" yaml:"policy"` // "trend" or "crossover"
}

// EntryConfig holds the entry gates and the fields stamped on every request.
type EntryConfig struct {
	Mode           string   `json:"mode" yaml:"mode"` // "market" or "pending_stop"
	SpreadLimit    float64  `json:"spread_limit" yaml:"spread_limit"` // points
	SinglePosition bool     `json:"single_position" yaml:"single_position"`
	FillModes      []string `json:"fill_modes" yaml:"fill_modes"`

	Deviation int    `json:"deviation" yaml:"deviation"`
	Magic     int64  `json:"magic" yaml:"magic"`
	Comment   string `json:"comment" yaml:"comment"`

	PendingOffset         float64 `json:"pending_offset,omitempty" yaml:"pending_offset,omitempty"`
	PlaceholderMultiplier float64 `json:"placeholder_multiplier,omitempty" yaml:"placeholder_multiplier,omitempty"`
}

type StartupConfig struct {
	Attempts int      `json:"attempts" yaml:"attempts"`
	Delay    Duration `json:"delay" yaml:"delay"`
}

// VenueConfig selects and configures the trading venue.
type VenueConfig struct {
	Type  string      `json:"type" yaml:"type"` // "sim" or "oanda"
	Sim   SimConfig   `json:"sim" yaml:"sim"`
	Oanda OandaConfig `json:"oanda" yaml:"oanda"`
}

type SimConfig struct {
	Balance float64 `json:"balance" yaml:"balance"`
	Spread  float64 `json:"spread" yaml:"spread"` // price units
	Seed    int64   `json:"seed" yaml:"seed"`
	Start   float64 `json:"start" yaml:"start"`
	Step    float64 `json:"step" yaml:"step"`
}

type OandaConfig struct {
	BaseURL   string   `json:"base_url" yaml:"base_url"`
	AccountID string   `json:"account_id" yaml:"account_id"`
	Token     string   `json:"token,omitempty" yaml:"token,omitempty"`
	Timeout   Duration `json:"timeout" yaml:"timeout"`
}

type JournalConfig struct {
	Type       string `json:"type" yaml:"type"` // "none", "sqlite" or "csv"
	DBPath     string `json:"db_path,omitempty" yaml:"db_path,omitempty"`
	OrdersFile string `json:"orders_file,omitempty" yaml:"orders_file,omitempty"`
	TradesFile string `json:"trades_file,omitempty" yaml:"trades_file,omitempty"`
}

type LoggingConfig struct {
	Level      string `json:"level" yaml:"level"`   // debug, info, warn, error
	Format     string `json:"format" yaml:"format"` // text or json
	File       string `json:"file,omitempty" yaml:"file,omitempty"`
	MaxSizeMB  int    `json:"max_size_mb,omitempty" yaml:"max_size_mb,omitempty"`
	MaxBackups int    `json:"max_backups,omitempty" yaml:"max_backups,omitempty"`
	MaxAgeDays int    `json:"max_age_days,omitempty" yaml:"max_age_days,omitempty"`
	Compress   bool   `json:"compress,omitempty" yaml:"compress,omitempty"`
}

type MetricsConfig struct {
	Addr string `json:"addr,omitempty" yaml:"addr,omitempty"` // e.g. ":9090"; empty disables
}

// Duration is a time.Duration written as "60s" in YAML and JSON.
type Duration struct {
	time.Duration
}

func (d Duration) MarshalYAML() (any, error) {
	return d.String(), nil
}

func (d *Duration) UnmarshalYAML(n *yaml.Node) error {
	var s string
	if err := n.Decode(&s); err != nil {
		return err
	}
	return d.parse(s)
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	return d.parse(s)
}

func (d *Duration) parse(s string) error {
	if s == "" {
		d.Duration = 0
		return nil
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("duration %q: %w", s, err)
	}
	d.Duration = v
	return nil
}

// LoadFromFile reads a YAML or JSON configuration, applies the lifecycle
// preset and environment overrides, and validates the result. Keys missing
// from the file keep their Default values.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := Default()

	// Try YAML first, fall back to JSON
	if err := yaml.Unmarshal(data, cfg); err != nil {
		cfg = Default()
		if jerr := json.Unmarshal(data, cfg); jerr != nil {
			return nil, fmt.Errorf("parse config (tried YAML and JSON): %w", err)
		}
	}

	if err := cfg.Lifecycle.ApplyPreset(cfg.Lifecycle.Preset); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	sizing, err := risk.ParseSizing(string(cfg.Risk.Sizing))
	if err != nil {
		return nil, fmt.Errorf("invalid config: risk: %w", err)
	}
	cfg.Risk.Sizing = sizing
	cfg.ApplyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// ApplyEnv overrides venue credentials from the environment.
func (c *Config) ApplyEnv() {
	if v := os.Getenv(EnvOandaToken); v != "" {
		c.Venue.Oanda.Token = v
	}
	if v := os.Getenv(EnvOandaAccount); v != "" {
		c.Venue.Oanda.AccountID = v
	}
}

// SaveToFile writes YAML for .yaml/.yml paths and JSON otherwise. The OANDA
// token is never written.
func (c *Config) SaveToFile(path string) error {
	out := *c
	out.Venue.Oanda.Token = ""

	var data []byte
	var err error
	if strings.HasSuffix(path, ".yaml") || strings.HasSuffix(path, ".yml") {
		data, err = yaml.Marshal(&out)
	} else {
		data, err = json.MarshalIndent(&out, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}
	return nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Instrument == "" {
		return fmt.Errorf("instrument is required")
	}
	if _, err := market.ParseTimeframe(c.Timeframe); err != nil {
		return err
	}
	if err := c.Indicators.Validate(); err != nil {
		return fmt.Errorf("indicators: %w", err)
	}
	if c.Bars <= c.Indicators.Warmup() {
		return fmt.Errorf("bars (%d) must exceed the indicator warm-up (%d)", c.Bars, c.Indicators.Warmup())
	}
	if c.Interval.Duration <= 0 {
		return fmt.Errorf("interval must be positive")
	}
	if _, err := signals.PolicyByName(c.Signal.Policy); err != nil {
		return fmt.Errorf("signal: %w", err)
	}
	if err := c.Risk.Validate(); err != nil {
		return fmt.Errorf("risk: %w", err)
	}
	if _, err := c.EntryConfig(); err != nil {
		return fmt.Errorf("entry: %w", err)
	}
	if _, err := c.FillModes(); err != nil {
		return fmt.Errorf("entry: %w", err)
	}
	if c.Entry.SpreadLimit <= 0 {
		return fmt.Errorf("entry.spread_limit must be positive")
	}
	if err := c.Lifecycle.Validate(); err != nil {
		return fmt.Errorf("lifecycle: %w", err)
	}
	if c.Startup.Attempts < 1 {
		return fmt.Errorf("startup.attempts must be at least 1")
	}
	switch c.Venue.Type {
	case "sim":
		if c.Venue.Sim.Balance <= 0 {
			return fmt.Errorf("venue.sim.balance must be positive")
		}
		if c.Venue.Sim.Spread < 0 {
			return fmt.Errorf("venue.sim.spread must not be negative")
		}
	case "oanda":
		if c.Venue.Oanda.AccountID == "" {
			return fmt.Errorf("venue.oanda.account_id is required (or set %s)", EnvOandaAccount)
		}
		if c.Venue.Oanda.Token == "" {
			return fmt.Errorf("venue.oanda.token is required (or set %s)", EnvOandaToken)
		}
	default:
		return fmt.Errorf("venue.type must be 'sim' or 'oanda'")
	}
	switch c.Journal.Type {
	case "", "none":
	case "sqlite":
		if c.Journal.DBPath == "" {
			return fmt.Errorf("journal db_path required for SQLite type")
		}
	case "csv":
		if c.Journal.OrdersFile == "" || c.Journal.TradesFile == "" {
			return fmt.Errorf("journal orders_file and trades_file required for CSV type")
		}
	default:
		return fmt.Errorf("journal.type must be 'none', 'sqlite' or 'csv'")
	}
	switch strings.ToLower(c.Logging.Level) {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level %q is not one of debug, info, warn, error", c.Logging.Level)
	}
	return nil
}

// EntryConfig converts the entry section for the execution package.
func (c *Config) EntryConfig() (execution.EntryConfig, error) {
	mode, err := execution.ParseEntryMode(c.Entry.Mode)
	if err != nil {
		return execution.EntryConfig{}, err
	}
	return execution.EntryConfig{
		Mode:                  mode,
		SpreadLimit:           c.Entry.SpreadLimit,
		SinglePosition:        c.Entry.SinglePosition,
		PendingOffset:         c.Entry.PendingOffset,
		PlaceholderMultiplier: c.Entry.PlaceholderMultiplier,
	}, nil
}

// FillModes parses entry.fill_modes in order. An empty list means the
// default order.
func (c *Config) FillModes() ([]broker.FillMode, error) {
	if len(c.Entry.FillModes) == 0 {
		return broker.DefaultFillModes(), nil
	}
	out := make([]broker.FillMode, 0, len(c.Entry.FillModes))
	for _, s := range c.Entry.FillModes {
		m, err := broker.ParseFillMode(s)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}

// Default mirrors the XAUUSD M1 scalper: EMA 20/50 trend, ATR 14, 1%
// risk, 50 point spread limit, one position at a time.
func Default() *Config {
	return &Config{
		Instrument: "XAUUSD",
		Timeframe:  string(market.M1),
		Bars:       200,
		Interval:   Duration{60 * time.Second},
		Indicators: indicators.DefaultConfig(),
		Signal:     SignalConfig{Policy: "trend"},
		Risk:       risk.DefaultPolicy(),
		Entry: EntryConfig{
			Mode:                  string(execution.EntryMarket),
			SpreadLimit:           50,
			SinglePosition:        true,
			FillModes:             []string{"fok", "ioc", "return"},
			Deviation:             20,
			Magic:                 10001,
			Comment:               "XAUUSD Scalper",
			PendingOffset:         0.5,
			PlaceholderMultiplier: 5,
		},
		Lifecycle: lifecycle.DefaultConfig(),
		Startup: StartupConfig{
			Attempts: 3,
			Delay:    Duration{5 * time.Second},
		},
		Venue: VenueConfig{
			Type: "sim",
			Sim: SimConfig{
				Balance: 10000,
				Spread:  0.2,
				Seed:    1,
				Start:   2000,
				Step:    0.8,
			},
			Oanda: OandaConfig{
				BaseURL: "https://api-fxpractice.oanda.com",
				Timeout: Duration{10 * time.Second},
			},
		},
		Journal: JournalConfig{
			Type:   "none",
			DBPath: "./scalper.db",
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "text",
			MaxSizeMB:  50,
			MaxBackups: 5,
			MaxAgeDays: 30,
		},
	}
}
