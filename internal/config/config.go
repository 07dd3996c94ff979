// Package config exposes strongly typed application configuration structs loaded from YAML.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/wherexml/alpha-trade/internal/store"
)

// App captures process-wide runtime settings.
type App struct {
	Name        string `yaml:"name"`
	Env         string `yaml:"env"`
	MetricsAddr string `yaml:"metrics_addr"`
	LogLevel    string `yaml:"log_level"`
	StorePath   string `yaml:"store_path"`
}

// Bridge configures the websocket endpoint the browser companion connects to.
type Bridge struct {
	ListenAddr    string `yaml:"listen_addr"`
	CallTimeoutMs int    `yaml:"call_timeout_ms"`
}

// Trend groups the tick window and scoring thresholds.
type Trend struct {
	WindowMs         int     `yaml:"window_ms"`
	MaxTrades        int     `yaml:"max_trades"`
	UpdateIntervalMs int     `yaml:"update_interval_ms"`
	Threshold        float64 `yaml:"threshold"`
	MinReturn        float64 `yaml:"min_return"`
}

// Policy tunes the signal-history buy/stop rules.
type Policy struct {
	MaxTrendDataCount      int `yaml:"max_trend_data_count"`
	FallingSignalWaitCount int `yaml:"falling_signal_wait_count"`
}

// Order tunes the buy attempt pipeline.
type Order struct {
	SellDiscountRate float64 `yaml:"sell_discount_rate"`
	SafetyBuffer     float64 `yaml:"safety_buffer"`
	ReverseOrder     bool    `yaml:"reverse_order"`
}

// Session tunes the trading loop.
type Session struct {
	BaseAmount     float64 `yaml:"base_amount"`
	MaxTradeCount  int     `yaml:"max_trade_count"`
	DelayMs        int     `yaml:"delay_ms"`
	AttemptRetries int     `yaml:"attempt_retries"`
	SmartMode      bool    `yaml:"smart_mode"`
}

// Config collects every configuration leaf for easy marshaling from YAML.
type Config struct {
	App     App     `yaml:"app"`
	Bridge  Bridge  `yaml:"bridge"`
	Trend   Trend   `yaml:"trend"`
	Policy  Policy  `yaml:"policy"`
	Order   Order   `yaml:"order"`
	Session Session `yaml:"session"`
}

// Load reads a YAML file from disk and hydrates a Config struct.
func Load(path string) (*Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()

	var config Config
	if err := yaml.NewDecoder(file).Decode(&config); err != nil {
		return nil, fmt.Errorf("decode yaml: %w", err)
	}
	config.applyDefaults()
	return &config, nil
}

// Save persists a Config struct to disk as YAML.
func Save(path string, cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("nil config")
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal yaml: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// MergeSettings folds persisted panel settings into the config. Amount,
// count and smart mode back-fill fields the YAML leaves unset; the pacing
// knobs the panel owns (round delay, sell discount) follow the stored
// values.
func (c *Config) MergeSettings(s store.Settings) {
	if c.Session.BaseAmount <= 0 {
		c.Session.BaseAmount = s.Amount
	}
	if c.Session.MaxTradeCount <= 0 {
		c.Session.MaxTradeCount = s.Count
	}
	if !c.Session.SmartMode {
		c.Session.SmartMode = s.SmartTradingMode
	}
	if s.DelayMs > 0 {
		c.Session.DelayMs = s.DelayMs
	}
	if s.SellDiscountRate > 0 {
		c.Order.SellDiscountRate = s.SellDiscountRate
	}
}

func (c *Config) applyDefaults() {
	if c.App.MetricsAddr == "" {
		c.App.MetricsAddr = ":9109"
	}
	if c.App.LogLevel == "" {
		c.App.LogLevel = "info"
	}
	if c.App.StorePath == "" {
		c.App.StorePath = "alpha-trade.db"
	}
	if c.Bridge.ListenAddr == "" {
		c.Bridge.ListenAddr = "127.0.0.1:8790"
	}
	if c.Bridge.CallTimeoutMs <= 0 {
		c.Bridge.CallTimeoutMs = 5000
	}
	if c.Trend.WindowMs <= 0 {
		c.Trend.WindowMs = 45000
	}
	if c.Trend.MaxTrades <= 0 {
		c.Trend.MaxTrades = 300
	}
	if c.Trend.UpdateIntervalMs <= 0 {
		c.Trend.UpdateIntervalMs = 800
	}
	if c.Trend.Threshold <= 0 {
		c.Trend.Threshold = 0.003
	}
	if c.Trend.MinReturn <= 0 {
		c.Trend.MinReturn = 0.0002
	}
	if c.Policy.MaxTrendDataCount <= 0 {
		c.Policy.MaxTrendDataCount = 20
	}
	if c.Policy.FallingSignalWaitCount <= 0 {
		c.Policy.FallingSignalWaitCount = 10
	}
	if c.Order.SellDiscountRate <= 0 {
		c.Order.SellDiscountRate = 0.02
	}
	if c.Order.SafetyBuffer <= 0 {
		c.Order.SafetyBuffer = 0.002
	}
	if c.Session.DelayMs <= 0 {
		c.Session.DelayMs = 500
	}
	if c.Session.AttemptRetries <= 0 {
		c.Session.AttemptRetries = 3
	}
}
