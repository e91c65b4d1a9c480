package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the full trader configuration.
type Config struct {
	Trader   TraderConfig   `yaml:"trader"`
	Strategy StrategyConfig `yaml:"strategy"`
	Budget   BudgetConfig   `yaml:"budget"`
	API      APIConfig      `yaml:"api"`
	Ticks    TicksConfig    `yaml:"ticks"`
	Storage  StorageConfig  `yaml:"storage"`
	Log      LogConfig      `yaml:"log"`
}

// TraderConfig controls the engine loop and its operator files.
type TraderConfig struct {
	LoopSeconds     int    `yaml:"loop_seconds"`
	SyncSeconds     int    `yaml:"sync_seconds"`
	StatusPath      string `yaml:"status_path"`
	SnapshotPath    string `yaml:"snapshot_path"`
	ControlFlagPath string `yaml:"control_flag_path"`
	CrashLogPath    string `yaml:"crash_log_path"`
}

// StrategyConfig tunes the market-making strategy.
type StrategyConfig struct {
	Name                string      `yaml:"name"`
	FairWindow          int         `yaml:"fair_window"`
	SpreadWindow        int         `yaml:"spread_window"`
	SpreadMinSamples    int         `yaml:"spread_min_samples"`
	TightnessPercentile float64     `yaml:"tightness_percentile"`
	ActiveHours         []HourRange `yaml:"active_hours"`
	MarginCents         float64     `yaml:"margin_cents"`
	ScalingCents        float64     `yaml:"scaling_cents"`
	MaxNotionalFrac     float64     `yaml:"max_notional_frac"`
	MaxLossFrac         float64     `yaml:"max_loss_frac"`
	InventoryPenaltyK   float64     `yaml:"inventory_penalty_k"`
	OrderTTLSeconds     int         `yaml:"order_ttl_seconds"`
}

// HourRange is an inclusive hour-of-day window.
type HourRange struct {
	From int `yaml:"from"`
	To   int `yaml:"to"`
}

// BudgetConfig controls the daily risk envelope.
type BudgetConfig struct {
	RiskFraction       float64 `yaml:"risk_fraction"`
	ResetHour          int     `yaml:"reset_hour"`
	InventoryPerDollar float64 `yaml:"inventory_per_dollar"`
}

// APIConfig holds the exchange endpoint and credentials.
type APIConfig struct {
	BaseURL        string `yaml:"base_url"`
	KeyID          string `yaml:"key_id"`
	PrivateKeyPath string `yaml:"private_key_path"`
}

// TicksConfig points at the market-data log directory.
type TicksConfig struct {
	Dir string `yaml:"dir"`
}

// StorageConfig controls where trade history is persisted.
type StorageConfig struct {
	DSN string `yaml:"dsn"` // SQLite file path, or ":memory:"
}

// LogConfig controls the logging format and level.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug | info | warn | error
	Format string `yaml:"format"` // text | json
}

// Load reads the YAML config and the .env file if present. Environment
// variables override YAML values for the keys they map to, which keeps
// credentials out of the checked-in config.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config.Load: read %q: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config.Load: parse YAML: %w", err)
	}

	applyEnvOverrides(&cfg)
	setDefaults(&cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoopInterval returns the engine loop pause as a Duration.
func (c *Config) LoopInterval() time.Duration {
	return time.Duration(c.Trader.LoopSeconds) * time.Second
}

// SyncInterval returns the account resync cadence as a Duration.
func (c *Config) SyncInterval() time.Duration {
	return time.Duration(c.Trader.SyncSeconds) * time.Second
}

// OrderTTL returns the resting-order lifetime as a Duration.
func (c *Config) OrderTTL() time.Duration {
	return time.Duration(c.Strategy.OrderTTLSeconds) * time.Second
}

func (c *Config) validate() error {
	if c.API.KeyID == "" {
		return fmt.Errorf("config.Load: missing api.key_id (or KALSHI_KEY_ID)")
	}
	if c.API.PrivateKeyPath == "" {
		return fmt.Errorf("config.Load: missing api.private_key_path (or KALSHI_PRIVATE_KEY_PATH)")
	}
	if c.Budget.RiskFraction <= 0 || c.Budget.RiskFraction > 1 {
		return fmt.Errorf("config.Load: budget.risk_fraction must be in (0,1], got %v", c.Budget.RiskFraction)
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("KALSHI_KEY_ID"); v != "" {
		cfg.API.KeyID = v
	}
	if v := os.Getenv("KALSHI_PRIVATE_KEY_PATH"); v != "" {
		cfg.API.PrivateKeyPath = v
	}
	if v := os.Getenv("KALSHI_BASE_URL"); v != "" {
		cfg.API.BaseURL = v
	}
	if v := os.Getenv("TICKS_DIR"); v != "" {
		cfg.Ticks.Dir = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
}

func setDefaults(cfg *Config) {
	if cfg.Trader.LoopSeconds <= 0 {
		cfg.Trader.LoopSeconds = 1
	}
	if cfg.Trader.SyncSeconds <= 0 {
		cfg.Trader.SyncSeconds = 60
	}
	if cfg.Trader.StatusPath == "" {
		cfg.Trader.StatusPath = "trader_status.json"
	}
	if cfg.Trader.SnapshotPath == "" {
		cfg.Trader.SnapshotPath = "daily_snapshot.json"
	}
	if cfg.Trader.ControlFlagPath == "" {
		cfg.Trader.ControlFlagPath = "trading_enabled.txt"
	}
	if cfg.Trader.CrashLogPath == "" {
		cfg.Trader.CrashLogPath = "crash.log"
	}

	if cfg.Strategy.Name == "" {
		cfg.Strategy.Name = "weather-mm"
	}
	if cfg.Strategy.FairWindow <= 0 {
		cfg.Strategy.FairWindow = 20
	}
	if cfg.Strategy.SpreadWindow <= 0 {
		cfg.Strategy.SpreadWindow = 500
	}
	if cfg.Strategy.SpreadMinSamples <= 0 {
		cfg.Strategy.SpreadMinSamples = 100
	}
	if cfg.Strategy.TightnessPercentile <= 0 {
		cfg.Strategy.TightnessPercentile = 20
	}
	if len(cfg.Strategy.ActiveHours) == 0 {
		cfg.Strategy.ActiveHours = []HourRange{{From: 5, To: 8}, {From: 13, To: 17}, {From: 21, To: 23}}
	}
	if cfg.Strategy.MarginCents <= 0 {
		cfg.Strategy.MarginCents = 0.5
	}
	if cfg.Strategy.ScalingCents <= 0 {
		cfg.Strategy.ScalingCents = 4.0
	}
	if cfg.Strategy.MaxNotionalFrac <= 0 {
		cfg.Strategy.MaxNotionalFrac = 0.25
	}
	if cfg.Strategy.MaxLossFrac <= 0 {
		cfg.Strategy.MaxLossFrac = 0.06
	}
	if cfg.Strategy.InventoryPenaltyK <= 0 {
		cfg.Strategy.InventoryPenaltyK = 200
	}
	if cfg.Strategy.OrderTTLSeconds <= 0 {
		cfg.Strategy.OrderTTLSeconds = 15
	}

	if cfg.Budget.RiskFraction <= 0 {
		cfg.Budget.RiskFraction = 0.5
	}
	if cfg.Budget.ResetHour <= 0 {
		cfg.Budget.ResetHour = 5
	}
	if cfg.Budget.InventoryPerDollar <= 0 {
		cfg.Budget.InventoryPerDollar = 0.5
	}

	if cfg.API.BaseURL == "" {
		cfg.API.BaseURL = "https://api.elections.kalshi.com"
	}
	if cfg.Ticks.Dir == "" {
		cfg.Ticks.Dir = "ticks"
	}
	if cfg.Storage.DSN == "" {
		cfg.Storage.DSN = "kalmaker.db"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}
}
