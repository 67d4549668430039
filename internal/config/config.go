package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	ProviderGemini = "gemini"
	ProviderGroq   = "groq"

	FallbackCatalog = "catalog"
	FallbackOracle  = "oracle"
)

// Config holds the configuration for the application.
type Config struct {
	DatabasePath string
	LogMode      string

	// Recipe oracle
	OracleProvider string
	GeminiAPIKey   string
	GeminiModel    string
	GroqAPIKey     string
	OracleTimeout  time.Duration

	// Planner
	PlannerFallback    string
	DefaultMealsPerDay int
	WeekConcurrency    int

	// Telegram Config
	TelegramBotToken       string
	TelegramWebhookURL     string
	TelegramAllowedUserIDs []int64
	AdminTelegramID        int64
}

// NewFromEnv creates a new Config object from environment variables.
// A .env file in the working directory is loaded first when present;
// variables already set in the environment win.
func NewFromEnv() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		DatabasePath:       getEnv("DATABASE_PATH", "data/nutriflow.db"),
		LogMode:            getEnv("LOG_MODE", "development"),
		OracleProvider:     strings.ToLower(getEnv("ORACLE_PROVIDER", ProviderGemini)),
		GeminiAPIKey:       os.Getenv("GEMINI_API_KEY"),
		GeminiModel:        getEnv("GEMINI_MODEL", "gemini-1.5-flash"),
		GroqAPIKey:         os.Getenv("GROQ_API_KEY"),
		PlannerFallback:    strings.ToLower(getEnv("PLANNER_FALLBACK", FallbackCatalog)),
		TelegramBotToken:   os.Getenv("TELEGRAM_BOT_TOKEN"),
		TelegramWebhookURL: os.Getenv("TELEGRAM_WEBHOOK_URL"),
	}

	switch cfg.OracleProvider {
	case ProviderGemini:
		if cfg.GeminiAPIKey == "" {
			return nil, fmt.Errorf("GEMINI_API_KEY environment variable not set")
		}
	case ProviderGroq:
		if cfg.GroqAPIKey == "" {
			return nil, fmt.Errorf("GROQ_API_KEY environment variable not set")
		}
	default:
		return nil, fmt.Errorf("unsupported ORACLE_PROVIDER %q", cfg.OracleProvider)
	}

	if cfg.PlannerFallback != FallbackCatalog && cfg.PlannerFallback != FallbackOracle {
		return nil, fmt.Errorf("unsupported PLANNER_FALLBACK %q", cfg.PlannerFallback)
	}

	var err error
	if cfg.OracleTimeout, err = time.ParseDuration(getEnv("ORACLE_TIMEOUT", "45s")); err != nil {
		return nil, fmt.Errorf("invalid ORACLE_TIMEOUT: %w", err)
	}
	if cfg.DefaultMealsPerDay, err = strconv.Atoi(getEnv("DEFAULT_MEALS_PER_DAY", "3")); err != nil {
		return nil, fmt.Errorf("invalid DEFAULT_MEALS_PER_DAY: %w", err)
	}
	if cfg.WeekConcurrency, err = strconv.Atoi(getEnv("WEEK_CONCURRENCY", "4")); err != nil {
		return nil, fmt.Errorf("invalid WEEK_CONCURRENCY: %w", err)
	}

	// Telegram Config (Optional for CLI, required for Bot)
	for _, raw := range strings.Split(os.Getenv("TELEGRAM_ALLOWED_USER_IDS"), ",") {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid TELEGRAM_ALLOWED_USER_IDS entry %q: %w", raw, err)
		}
		cfg.TelegramAllowedUserIDs = append(cfg.TelegramAllowedUserIDs, id)
	}
	if admin := os.Getenv("ADMIN_TELEGRAM_ID"); admin != "" {
		if cfg.AdminTelegramID, err = strconv.ParseInt(admin, 10, 64); err != nil {
			return nil, fmt.Errorf("invalid ADMIN_TELEGRAM_ID: %w", err)
		}
	}

	return cfg, nil
}

// ValidateBot checks the settings only the Telegram bot needs.
func (c *Config) ValidateBot() error {
	if c.TelegramBotToken == "" {
		return fmt.Errorf("TELEGRAM_BOT_TOKEN environment variable not set")
	}
	if c.TelegramWebhookURL == "" {
		return fmt.Errorf("TELEGRAM_WEBHOOK_URL environment variable not set")
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
