// Package config exposes strongly typed console configuration structs loaded from YAML.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// App captures process-wide runtime settings such as name, environment, metrics, and logging levels.
type App struct {
	Name        string `yaml:"name"`
	Env         string `yaml:"env"`
	MetricsAddr string `yaml:"metrics_addr"`
	LogLevel    string `yaml:"log_level"`
}

// Exchange describes connectivity to the remote exchange gateway the console drives.
type Exchange struct {
	APIBaseURL       string `yaml:"api_base_url"`
	EventsURL        string `yaml:"events_url"`
	Market           string `yaml:"market"`
	RequestTimeoutMs int    `yaml:"request_timeout_ms"`
}

// Gateway tunes the outbound-call budget and retry policy.
type Gateway struct {
	ConcurrencyLimit int `yaml:"concurrency_limit"`
	RetryAttempts    int `yaml:"retry_attempts"`
	RetryBaseMs      int `yaml:"retry_base_ms"`
	RetryMaxMs       int `yaml:"retry_max_ms"`
	HealthTimeoutMs  int `yaml:"health_timeout_ms"`
	HealthIntervalMs int `yaml:"health_interval_ms"`
}

// Console groups interactive-session knobs: pauses, history depth, slippage default.
type Console struct {
	PauseSuccessMs     int  `yaml:"pause_success_ms"`
	PauseErrorMs       int  `yaml:"pause_error_ms"`
	HistoryCapacity    int  `yaml:"history_capacity"`
	DefaultSlippageBps int  `yaml:"default_slippage_bps"`
	Strict             bool `yaml:"strict"`
}

// Config collects every configuration leaf for easy marshaling from YAML.
type Config struct {
	App      App      `yaml:"app"`
	Exchange Exchange `yaml:"exchange"`
	Gateway  Gateway  `yaml:"gateway"`
	Console  Console  `yaml:"console"`
}

// Default returns a Config populated with the documented defaults; a missing
// config file is not an error for the console binaries.
func Default() *Config {
	return &Config{
		App: App{
			Name:        "dexextra-console",
			Env:         "dev",
			MetricsAddr: "",
			LogLevel:    "info",
		},
		Exchange: Exchange{
			APIBaseURL:       "http://127.0.0.1:8899",
			EventsURL:        "",
			Market:           "",
			RequestTimeoutMs: 8000,
		},
		Gateway: Gateway{
			ConcurrencyLimit: 3,
			RetryAttempts:    8,
			RetryBaseMs:      250,
			RetryMaxMs:       5000,
			HealthTimeoutMs:  30000,
			HealthIntervalMs: 1000,
		},
		Console: Console{
			PauseSuccessMs:     3000,
			PauseErrorMs:       5000,
			HistoryCapacity:    50,
			DefaultSlippageBps: 100,
			Strict:             false,
		},
	}
}

// Load reads a YAML file from disk and hydrates a Config struct on top of the defaults.
func Load(path string) (*Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()

	config := Default()
	if err := yaml.NewDecoder(file).Decode(config); err != nil {
		return nil, fmt.Errorf("decode yaml: %w", err)
	}
	config.ApplyEnv()
	return config, nil
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

// ApplyEnv overlays DEXEXTRA_* environment variables on the loaded config.
// A .env file is honored best-effort before reading the environment.
func (c *Config) ApplyEnv() {
	_ = godotenv.Load() // best-effort
	if v := os.Getenv("DEXEXTRA_API_URL"); v != "" {
		c.Exchange.APIBaseURL = v
	}
	if v := os.Getenv("DEXEXTRA_EVENTS_URL"); v != "" {
		c.Exchange.EventsURL = v
	}
	if v := os.Getenv("DEXEXTRA_MARKET"); v != "" {
		c.Exchange.Market = v
	}
	overlayInt(&c.Gateway.ConcurrencyLimit, "DEXEXTRA_CONCURRENCY")
	overlayInt(&c.Gateway.RetryAttempts, "DEXEXTRA_RETRY_ATTEMPTS")
	overlayInt(&c.Gateway.RetryBaseMs, "DEXEXTRA_RETRY_BASE_MS")
	overlayInt(&c.Gateway.RetryMaxMs, "DEXEXTRA_RETRY_MAX_MS")
	overlayInt(&c.Console.PauseSuccessMs, "DEXEXTRA_PAUSE_SUCCESS_MS")
	overlayInt(&c.Console.PauseErrorMs, "DEXEXTRA_PAUSE_ERROR_MS")
}

func overlayInt(dst *int, key string) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	parsed, err := strconv.Atoi(v)
	if err != nil || parsed <= 0 {
		return
	}
	*dst = parsed
}

// RequestTimeout converts the configured millisecond timeout to a duration.
func (e Exchange) RequestTimeout() time.Duration {
	if e.RequestTimeoutMs <= 0 {
		return 8 * time.Second
	}
	return time.Duration(e.RequestTimeoutMs) * time.Millisecond
}
