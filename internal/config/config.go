package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

// Config holds all application configuration.
type Config struct {
	Telegram struct {
		BotToken string `yaml:"bot_token"`
		ChatID   string `yaml:"chat_id"`
	} `yaml:"telegram"`
	DataSource struct {
		Provider string `yaml:"provider"` // vstrader, yahoo or mock
		BaseURL  string `yaml:"base_url"`
		APIKey   string `yaml:"api_key"`
		Symbol   string `yaml:"symbol"`
	} `yaml:"data_source"`
	Schedule struct {
		CoarseCron      string `yaml:"coarse_cron"`
		FineCron        string `yaml:"fine_cron"`
		MaintenanceCron string `yaml:"maintenance_cron"`
	} `yaml:"schedule"`
	Detection struct {
		CoarseLookback int `yaml:"coarse_lookback"`
		FineWindow     int `yaml:"fine_window"`
	} `yaml:"detection"`
	Dispatch struct {
		LedgerFile string `yaml:"ledger_file"`
		Capacity   int    `yaml:"capacity"`
	} `yaml:"dispatch"`
	Database struct {
		SQLitePath string `yaml:"sqlite_path"`
	} `yaml:"database"`
	Log struct {
		Level string `yaml:"level"`
	} `yaml:"log"`
	Metrics struct {
		Addr string `yaml:"addr"`
	} `yaml:"metrics"`
	Proxy string `yaml:"proxy"`
}

// cronParser matches the scheduler's cron.WithSeconds layout.
var cronParser = cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Load reads config from a YAML file, then applies environment variable overrides.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	// Environment variable overrides
	overrides := []struct {
		env string
		dst *string
	}{
		{"TELEGRAM_BOT_TOKEN", &cfg.Telegram.BotToken},
		{"TELEGRAM_CHAT_ID", &cfg.Telegram.ChatID},
		{"DATA_PROVIDER", &cfg.DataSource.Provider},
		{"DATA_BASE_URL", &cfg.DataSource.BaseURL},
		{"DATA_API_KEY", &cfg.DataSource.APIKey},
		{"SYMBOL", &cfg.DataSource.Symbol},
		{"SQLITE_PATH", &cfg.Database.SQLitePath},
		{"LOG_LEVEL", &cfg.Log.Level},
		{"METRICS_ADDR", &cfg.Metrics.Addr},
		{"HTTPS_PROXY", &cfg.Proxy},
		{"CRON_COARSE", &cfg.Schedule.CoarseCron},
		{"CRON_FINE", &cfg.Schedule.FineCron},
	}
	for _, o := range overrides {
		if v := os.Getenv(o.env); v != "" {
			*o.dst = v
		}
	}
	if v := os.Getenv("FINE_WINDOW"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Detection.FineWindow = n
		}
	}

	// Defaults
	if cfg.DataSource.Provider == "" {
		cfg.DataSource.Provider = "vstrader"
	}
	if cfg.DataSource.Symbol == "" {
		cfg.DataSource.Symbol = "BTC-USD"
	}
	if cfg.Schedule.CoarseCron == "" {
		cfg.Schedule.CoarseCron = "0 1 */4 * * *"
	}
	if cfg.Schedule.FineCron == "" {
		cfg.Schedule.FineCron = "30 */5 * * * *"
	}
	if cfg.Schedule.MaintenanceCron == "" {
		cfg.Schedule.MaintenanceCron = "0 0 * * * *"
	}
	if cfg.Detection.CoarseLookback == 0 {
		cfg.Detection.CoarseLookback = 50
	}
	if cfg.Detection.FineWindow == 0 {
		cfg.Detection.FineWindow = 60
	}
	if cfg.Dispatch.LedgerFile == "" {
		cfg.Dispatch.LedgerFile = "data/dispatched.json"
	}
	if cfg.Dispatch.Capacity == 0 {
		cfg.Dispatch.Capacity = 256
	}
	if cfg.Database.SQLitePath == "" {
		cfg.Database.SQLitePath = "data/sweep_sentinel.db"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Metrics.Addr == "" {
		cfg.Metrics.Addr = ":9090"
	}

	return cfg, nil
}

// TelegramEnabled reports whether both Telegram credentials are set.
func (c *Config) TelegramEnabled() bool {
	return c.Telegram.BotToken != "" && c.Telegram.ChatID != ""
}

// Validate checks that all required fields are set.
func (c *Config) Validate() error {
	if (c.Telegram.BotToken == "") != (c.Telegram.ChatID == "") {
		return fmt.Errorf("telegram.bot_token and telegram.chat_id must be set together")
	}
	switch c.DataSource.Provider {
	case "vstrader":
		if c.DataSource.BaseURL == "" {
			return fmt.Errorf("data_source.base_url is required for vstrader")
		}
	case "yahoo", "mock":
	default:
		return fmt.Errorf("data_source.provider %q is not one of vstrader, yahoo, mock", c.DataSource.Provider)
	}
	if c.DataSource.Symbol == "" {
		return fmt.Errorf("data_source.symbol is required")
	}
	for name, spec := range map[string]string{
		"schedule.coarse_cron":      c.Schedule.CoarseCron,
		"schedule.fine_cron":        c.Schedule.FineCron,
		"schedule.maintenance_cron": c.Schedule.MaintenanceCron,
	} {
		if _, err := cronParser.Parse(spec); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	if c.Detection.CoarseLookback < 5 {
		return fmt.Errorf("detection.coarse_lookback must be at least 5")
	}
	if c.Detection.FineWindow < 6 {
		return fmt.Errorf("detection.fine_window must be at least 6")
	}
	if c.Dispatch.Capacity <= 0 {
		return fmt.Errorf("dispatch.capacity must be positive")
	}
	return nil
}
