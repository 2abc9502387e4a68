// Package config loads server configuration from the environment.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"
)

// Model providers the server can be wired to.
const (
	ProviderAnthropic = "anthropic"
	ProviderOpenAI    = "openai"
	ProviderMock      = "mock"
)

// Config holds all server settings.
type Config struct {
	Port         int
	DBPath       string
	LogLevel     slog.Level
	ScanInterval time.Duration
	TaskTimeout  time.Duration
	StepBudget   int

	ModelProvider   string
	AnthropicModel  string
	OpenAIModel     string
	AnthropicAPIKey string
	OpenAIAPIKey    string
}

// Load reads configuration from the environment, applying defaults and
// validating the result.
func Load() (*Config, error) {
	cfg := &Config{
		Port:           envInt("PORT", 8080),
		DBPath:         envStr("DB_PATH", "scribeflow.db"),
		LogLevel:       parseLevel(envStr("LOG_LEVEL", "info")),
		ScanInterval:   envDuration("TASK_SCAN_INTERVAL", time.Second),
		TaskTimeout:    envDuration("TASK_TIMEOUT", 5*time.Minute),
		StepBudget:     envInt("AGENT_STEP_BUDGET", 0),
		ModelProvider:  envStr("MODEL_PROVIDER", ProviderMock),
		AnthropicModel: envStr("ANTHROPIC_MODEL", "claude-sonnet-4-20250514"),
		OpenAIModel:    envStr("OPENAI_MODEL", "gpt-4o"),
	}
	cfg.AnthropicAPIKey = os.Getenv("ANTHROPIC_API_KEY")
	cfg.OpenAIAPIKey = os.Getenv("OPENAI_API_KEY")

	if cfg.Port <= 0 || cfg.Port > 65535 {
		return nil, fmt.Errorf("invalid PORT %d", cfg.Port)
	}
	if cfg.ScanInterval <= 0 {
		return nil, fmt.Errorf("TASK_SCAN_INTERVAL must be positive")
	}
	if cfg.TaskTimeout <= 0 {
		return nil, fmt.Errorf("TASK_TIMEOUT must be positive")
	}
	switch cfg.ModelProvider {
	case ProviderAnthropic:
		if cfg.AnthropicAPIKey == "" {
			return nil, fmt.Errorf("MODEL_PROVIDER=anthropic requires ANTHROPIC_API_KEY")
		}
	case ProviderOpenAI:
		if cfg.OpenAIAPIKey == "" {
			return nil, fmt.Errorf("MODEL_PROVIDER=openai requires OPENAI_API_KEY")
		}
	case ProviderMock:
	default:
		return nil, fmt.Errorf("unknown MODEL_PROVIDER %q", cfg.ModelProvider)
	}
	return cfg, nil
}

// Addr is the listen address derived from Port.
func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

func envStr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func parseLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
