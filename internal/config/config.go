package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration values for the application
type Config struct {
	Port           string
	AllowedOrigins []string
	LogLevel       string
	Environment    string

	// Optional backing services. Empty values fall back to in-process stores.
	RedisURL    string
	DatabaseURL string

	RateLimitMax    int
	RateLimitWindow time.Duration

	UnlimitedRegistration bool
	NameRequireTwoWords   bool
	EventsFile            string

	RetryAttempts  int
	RetryBaseDelay time.Duration
	IndexWarmTTL   time.Duration

	// SheetsEndpoint overrides the Sheets API base URL (emulators, tests)
	SheetsEndpoint string
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	return &Config{
		Port:                  getEnv("PORT", "8080"),
		AllowedOrigins:        parseOrigins(getEnv("ALLOWED_ORIGINS", "*")),
		LogLevel:              getEnv("LOG_LEVEL", "info"),
		Environment:           getEnv("ENVIRONMENT", "production"),
		RedisURL:              getEnv("REDIS_URL", ""),
		DatabaseURL:           getEnv("DATABASE_URL", ""),
		RateLimitMax:          getIntEnv("RATE_LIMIT_MAX", 5),
		RateLimitWindow:       getDurationEnv("RATE_LIMIT_WINDOW", time.Minute),
		UnlimitedRegistration: getBoolEnv("UNLIMITED_REGISTRATION", false),
		NameRequireTwoWords:   getBoolEnv("NAME_REQUIRE_TWO_WORDS", true),
		EventsFile:            getEnv("EVENTS_FILE", ""),
		RetryAttempts:         getIntEnv("RETRY_ATTEMPTS", 3),
		RetryBaseDelay:        getDurationEnv("RETRY_BASE_DELAY", 500*time.Millisecond),
		IndexWarmTTL:          getDurationEnv("DUPLICATE_INDEX_TTL", 10*time.Minute),
		SheetsEndpoint:        getEnv("SHEETS_ENDPOINT", ""),
	}, nil
}

// IsDevelopment reports whether the service runs outside production
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development" || c.Environment == "staging"
}

// getEnv gets an environment variable with a fallback value
func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

// parseOrigins parses comma-separated origins into a slice
func parseOrigins(origins string) []string {
	if origins == "" {
		return []string{}
	}

	parts := strings.Split(origins, ",")
	result := make([]string, 0, len(parts))

	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			result = append(result, trimmed)
		}
	}

	return result
}

// getBoolEnv gets a boolean environment variable with a fallback value
func getBoolEnv(key string, fallback bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return fallback
}

// getIntEnv gets a positive integer environment variable with a fallback value
func getIntEnv(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil && parsed > 0 {
			return parsed
		}
	}
	return fallback
}

// getDurationEnv accepts Go durations ("90s") or a bare number of seconds
func getDurationEnv(key string, fallback time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	if d, err := time.ParseDuration(value); err == nil && d > 0 {
		return d
	}
	if secs, err := strconv.Atoi(value); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	return fallback
}
