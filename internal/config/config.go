// Package config loads runtime settings from the environment and an
// optional .env file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	// Logging
	LogLevel string
	Debug    bool

	// Feeds
	FeedsConfigPath string
	RequestTimeout  time.Duration

	// Polling and routing
	PollInterval       time.Duration
	MaxPerCycle        int
	Concurrency        int
	StoryInterval      time.Duration
	ImmediateThreshold float64
	HourlyThreshold    float64
	DailyThreshold     float64
	QuietStart         int // hour, inclusive
	QuietEnd           int // hour, exclusive
	QuietOverride      float64
	Timezone           string
	VideoThreshold     float64

	// Dedup
	DedupCeiling int
	RedisURL     string // empty keeps fingerprints in memory
	RedisKey     string

	// Retry
	MaxRetries       int
	RetryDelays      []time.Duration
	BreakerThreshold int
	BreakerCooldown  time.Duration

	// Budget (USD)
	DailyLimit        float64
	WeeklyLimit       float64
	MonthlyLimit      float64
	CostPerAPIRequest float64
	CostPerToken      float64
	CostPerVideo      float64
	CostPerUpload     float64

	// Rewrite
	RewriteProvider    string // auto | openai | gemini | none
	OpenAIAPIKey       string
	OpenAIModel        string
	OpenAIBaseURL      string
	GeminiAPIKey       string
	GeminiModel        string
	RewriteStyles      []string
	RewriteLanguage    string
	MaxOpenAIRequests  int // per day, 0 = unlimited
	MaxGeminiRequests  int
	MaxRewriteRequests int
	RewriteCacheTTL    time.Duration

	// Notifications
	SMTPHost          string
	SMTPUser          string
	SMTPPassword      string
	EmailFrom         string
	EmailTo           []string
	DiscordWebhookURL string
	TelegramToken     string
	TelegramChatID    string
	AlertWebhookURL   string
	PauseWebhookURL   string
	ResumeWebhookURL  string

	// Video generation
	VideoEndpoint string
	VideoAPIKey   string

	// Storage
	DataDir     string
	DatabaseURL string // empty keeps the story log in a JSON file
	StoryLogCap int

	// HTTP
	EnableHTTPMonitoring bool
	MonitoringAddr       string
	WebhookSecret        string
}

// Load reads .env (when present) and the environment over the defaults.
func Load() (*Config, error) {
	envFile := getEnvOrDefault("ENV_FILE", ".env")
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load %s: %w", envFile, err)
	}

	cfg := &Config{
		LogLevel:        getEnvOrDefault("LOG_LEVEL", "info"),
		Debug:           getEnvBoolOrDefault("DEBUG", false),
		FeedsConfigPath: getEnvOrDefault("FEEDS_CONFIG_PATH", "configs/feeds.yaml"),
		RequestTimeout:  getEnvDurationOrDefault("REQUEST_TIMEOUT", 30*time.Second),

		PollInterval:       getEnvDurationOrDefault("POLL_INTERVAL", 5*time.Minute),
		MaxPerCycle:        getEnvIntOrDefault("MAX_STORIES_PER_CYCLE", 10),
		Concurrency:        getEnvIntOrDefault("STORY_CONCURRENCY", 3),
		StoryInterval:      getEnvDurationOrDefault("STORY_INTERVAL", 500*time.Millisecond),
		ImmediateThreshold: getEnvFloatOrDefault("IMMEDIATE_THRESHOLD", 8.0),
		HourlyThreshold:    getEnvFloatOrDefault("HOURLY_THRESHOLD", 6.0),
		DailyThreshold:     getEnvFloatOrDefault("DAILY_THRESHOLD", 4.0),
		QuietStart:         getEnvIntOrDefault("QUIET_HOURS_START", 23),
		QuietEnd:           getEnvIntOrDefault("QUIET_HOURS_END", 6),
		QuietOverride:      getEnvFloatOrDefault("QUIET_HOURS_OVERRIDE", 9.0),
		Timezone:           getEnvOrDefault("TIMEZONE", "UTC"),
		VideoThreshold:     getEnvFloatOrDefault("VIDEO_THRESHOLD", 8.5),

		DedupCeiling: getEnvIntOrDefault("DEDUP_CEILING", 10000),
		RedisURL:     os.Getenv("REDIS_URL"),
		RedisKey:     getEnvOrDefault("REDIS_DEDUP_KEY", "sportswire:seen"),

		MaxRetries:       getEnvIntOrDefault("MAX_RETRIES", 3),
		RetryDelays:      getEnvDurationListOrDefault("RETRY_DELAYS", []time.Duration{time.Second, 5 * time.Second, 15 * time.Second}),
		BreakerThreshold: getEnvIntOrDefault("BREAKER_THRESHOLD", 5),
		BreakerCooldown:  getEnvDurationOrDefault("BREAKER_COOLDOWN", 30*time.Second),

		DailyLimit:        getEnvFloatOrDefault("DAILY_BUDGET_LIMIT", 100),
		WeeklyLimit:       getEnvFloatOrDefault("WEEKLY_BUDGET_LIMIT", 500),
		MonthlyLimit:      getEnvFloatOrDefault("MONTHLY_BUDGET_LIMIT", 2000),
		CostPerAPIRequest: getEnvFloatOrDefault("COST_PER_API_REQUEST", 0.001),
		CostPerToken:      getEnvFloatOrDefault("COST_PER_TOKEN", 0.00002),
		CostPerVideo:      getEnvFloatOrDefault("COST_PER_VIDEO", 1.50),
		CostPerUpload:     getEnvFloatOrDefault("COST_PER_UPLOAD", 0),

		RewriteProvider:    strings.ToLower(getEnvOrDefault("REWRITE_PROVIDER", "auto")),
		OpenAIAPIKey:       os.Getenv("OPENAI_API_KEY"),
		OpenAIModel:        getEnvOrDefault("OPENAI_MODEL", "gpt-4o-mini"),
		OpenAIBaseURL:      os.Getenv("OPENAI_BASE_URL"),
		GeminiAPIKey:       os.Getenv("GEMINI_API_KEY"),
		GeminiModel:        getEnvOrDefault("GEMINI_MODEL", "gemini-1.5-flash"),
		RewriteStyles:      getEnvListOrDefault("REWRITE_STYLES", []string{"breaking", "analysis", "quick"}),
		RewriteLanguage:    getEnvOrDefault("REWRITE_LANGUAGE", "English"),
		MaxOpenAIRequests:  getEnvIntOrDefault("MAX_OPENAI_REQUESTS", 0),
		MaxGeminiRequests:  getEnvIntOrDefault("MAX_GEMINI_REQUESTS", 0),
		MaxRewriteRequests: getEnvIntOrDefault("MAX_REWRITE_REQUESTS", 0),
		RewriteCacheTTL:    getEnvDurationOrDefault("REWRITE_CACHE_TTL", 24*time.Hour),

		SMTPHost:          os.Getenv("SMTP_HOST"),
		SMTPUser:          os.Getenv("SMTP_USER"),
		SMTPPassword:      os.Getenv("SMTP_PASSWORD"),
		EmailFrom:         os.Getenv("EMAIL_FROM"),
		EmailTo:           getEnvListOrDefault("EMAIL_TO", nil),
		DiscordWebhookURL: os.Getenv("DISCORD_WEBHOOK_URL"),
		TelegramToken:     os.Getenv("TELEGRAM_TOKEN"),
		TelegramChatID:    os.Getenv("TELEGRAM_CHAT_ID"),
		AlertWebhookURL:   os.Getenv("ALERT_WEBHOOK_URL"),
		PauseWebhookURL:   os.Getenv("PAUSE_WEBHOOK_URL"),
		ResumeWebhookURL:  os.Getenv("RESUME_WEBHOOK_URL"),

		VideoEndpoint: os.Getenv("VIDEO_ENDPOINT"),
		VideoAPIKey:   os.Getenv("VIDEO_API_KEY"),

		DataDir:     getEnvOrDefault("DATA_DIR", "data"),
		DatabaseURL: os.Getenv("DATABASE_URL"),
		StoryLogCap: getEnvIntOrDefault("STORY_LOG_CAP", 1000),

		EnableHTTPMonitoring: getEnvBoolOrDefault("ENABLE_HTTP_MONITORING", true),
		MonitoringAddr:       getEnvOrDefault("MONITORING_ADDR", ":8080"),
		WebhookSecret:        os.Getenv("WEBHOOK_SECRET"),
	}

	return cfg, cfg.Validate()
}

// Location resolves Timezone, falling back to UTC.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvFloatOrDefault(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvBoolOrDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

// getEnvListOrDefault splits a comma-separated value, dropping blanks.
func getEnvListOrDefault(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}

func getEnvDurationListOrDefault(key string, defaultValue []time.Duration) []time.Duration {
	parts := getEnvListOrDefault(key, nil)
	if len(parts) == 0 {
		return defaultValue
	}
	out := make([]time.Duration, 0, len(parts))
	for _, p := range parts {
		d, err := time.ParseDuration(p)
		if err != nil || d < 0 {
			return defaultValue
		}
		out = append(out, d)
	}
	return out
}

func (c *Config) Validate() error {
	if !(c.ImmediateThreshold >= c.HourlyThreshold && c.HourlyThreshold >= c.DailyThreshold) {
		return fmt.Errorf("thresholds must satisfy IMMEDIATE >= HOURLY >= DAILY")
	}
	if c.QuietStart < 0 || c.QuietStart > 23 || c.QuietEnd < 0 || c.QuietEnd > 23 {
		return fmt.Errorf("QUIET_HOURS_START and QUIET_HOURS_END must be hours between 0 and 23")
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("POLL_INTERVAL must be positive")
	}
	if c.MaxPerCycle <= 0 {
		return fmt.Errorf("MAX_STORIES_PER_CYCLE must be positive")
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("MAX_RETRIES must not be negative")
	}
	if c.DailyLimit <= 0 || c.WeeklyLimit <= 0 || c.MonthlyLimit <= 0 {
		return fmt.Errorf("budget limits must be positive")
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return fmt.Errorf("invalid TIMEZONE %q: %w", c.Timezone, err)
	}

	switch c.RewriteProvider {
	case "auto", "none":
	case "openai":
		if c.OpenAIAPIKey == "" {
			return fmt.Errorf("OPENAI_API_KEY is required for REWRITE_PROVIDER=openai")
		}
	case "gemini":
		if c.GeminiAPIKey == "" {
			return fmt.Errorf("GEMINI_API_KEY is required for REWRITE_PROVIDER=gemini")
		}
	default:
		return fmt.Errorf("REWRITE_PROVIDER must be 'auto', 'openai', 'gemini' or 'none'")
	}

	if (c.TelegramToken == "") != (c.TelegramChatID == "") {
		return fmt.Errorf("TELEGRAM_TOKEN and TELEGRAM_CHAT_ID must be set together")
	}
	if c.SMTPHost != "" && (c.EmailFrom == "" || len(c.EmailTo) == 0) {
		return fmt.Errorf("EMAIL_FROM and EMAIL_TO are required when SMTP_HOST is set")
	}
	return nil
}
