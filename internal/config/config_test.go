package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

// clearEnv blanks every override so the host environment cannot leak in.
func clearEnv(t *testing.T) {
	for _, k := range []string{"TELEGRAM_BOT_TOKEN", "TELEGRAM_CHAT_ID", "DATA_PROVIDER", "DATA_BASE_URL", "DATA_API_KEY",
		"SYMBOL", "SQLITE_PATH", "LOG_LEVEL", "METRICS_ADDR", "HTTPS_PROXY", "CRON_COARSE", "CRON_FINE", "FINE_WINDOW"} {
		t.Setenv(k, "")
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Schedule.CoarseCron != "0 1 */4 * * *" || cfg.Schedule.FineCron != "30 */5 * * * *" {
		t.Errorf("unexpected cron defaults %+v", cfg.Schedule)
	}
	if cfg.DataSource.Provider != "vstrader" || cfg.DataSource.Symbol != "BTC-USD" {
		t.Errorf("unexpected data source defaults %+v", cfg.DataSource)
	}
	if cfg.Detection.FineWindow != 60 || cfg.Dispatch.Capacity != 256 || cfg.Log.Level != "info" {
		t.Errorf("unexpected defaults %+v %+v %+v", cfg.Detection, cfg.Dispatch, cfg.Log)
	}
}

func TestLoad_FileAndEnv(t *testing.T) {
	path := writeConfig(t, `
telegram:
  bot_token: file-token
  chat_id: "100"
data_source:
  provider: yahoo
  symbol: ETH-USD
schedule:
  fine_cron: "0 */5 * * * *"
detection:
  fine_window: 120
`)
	clearEnv(t)
	t.Setenv("TELEGRAM_BOT_TOKEN", "env-token")
	t.Setenv("CRON_COARSE", "0 5 */4 * * *")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Telegram.BotToken != "env-token" || cfg.Telegram.ChatID != "100" {
		t.Errorf("unexpected telegram %+v", cfg.Telegram)
	}
	if cfg.DataSource.Provider != "yahoo" || cfg.DataSource.Symbol != "ETH-USD" {
		t.Errorf("unexpected data source %+v", cfg.DataSource)
	}
	if cfg.Schedule.CoarseCron != "0 5 */4 * * *" || cfg.Schedule.FineCron != "0 */5 * * * *" {
		t.Errorf("unexpected schedule %+v", cfg.Schedule)
	}
	if cfg.Detection.FineWindow != 120 || cfg.Log.Level != "debug" {
		t.Errorf("unexpected overrides %+v %+v", cfg.Detection, cfg.Log)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("validate: %v", err)
	}
	if !cfg.TelegramEnabled() {
		t.Error("telegram should be enabled")
	}
}

func TestLoad_BadYAML(t *testing.T) {
	if _, err := Load(writeConfig(t, "telegram: [")); err == nil {
		t.Error("expected parse error")
	}
}

func TestValidate(t *testing.T) {
	clearEnv(t)
	base := func() *Config {
		cfg, _ := Load(filepath.Join(t.TempDir(), "none.yaml"))
		cfg.DataSource.BaseURL = "http://localhost"
		return cfg
	}
	if err := base().Validate(); err != nil {
		t.Fatalf("defaults with base url should validate: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"half telegram", func(c *Config) { c.Telegram.BotToken = "x" }, "set together"},
		{"vstrader without url", func(c *Config) { c.DataSource.BaseURL = "" }, "base_url"},
		{"unknown provider", func(c *Config) { c.DataSource.Provider = "binance" }, "provider"},
		{"bad cron", func(c *Config) { c.Schedule.FineCron = "*/5 * * * *" }, "schedule.fine_cron"},
		{"tiny window", func(c *Config) { c.Detection.FineWindow = 3 }, "fine_window"},
	}
	for _, tt := range tests {
		cfg := base()
		tt.mutate(cfg)
		err := cfg.Validate()
		if err == nil || !strings.Contains(err.Error(), tt.want) {
			t.Errorf("%s: expected %q, got %v", tt.name, tt.want, err)
		}
	}
}
