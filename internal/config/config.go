// Package config loads BotArmy server configuration from the environment.
package config

import (
	"os"
	"strconv"
	"strings"
)

// Config holds all runtime configuration for the server.
type Config struct {
	Port         string
	Environment  string
	DatabasePath string

	// LLM settings
	OpenAIKey   string
	OpenAIModel string

	// Per-IP rate limiting
	RateLimitRPS float64
	RateBurst    int

	// CORS
	AllowedOrigins []string

	// Default project seeded at startup
	SeedProjectID string
}

// Load reads configuration from environment variables with sane defaults.
func Load() *Config {
	return &Config{
		Port:           getEnv("PORT", "8000"),
		Environment:    getEnv("ENVIRONMENT", "development"),
		DatabasePath:   getEnv("DATABASE_PATH", "data/botarmy.db"),
		OpenAIKey:      os.Getenv("OPENAI_API_KEY"),
		OpenAIModel:    getEnv("OPENAI_MODEL", "gpt-4o-mini"),
		RateLimitRPS:   getEnvFloat("RATE_LIMIT_RPS", 50),
		RateBurst:      getEnvInt("RATE_LIMIT_BURST", 100),
		AllowedOrigins: getEnvList("CORS_ALLOWED_ORIGINS", []string{"*"}),
		SeedProjectID:  getEnv("SEED_PROJECT_ID", "proj_49583"),
	}
}

// IsProduction reports whether the server runs in production mode.
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getEnvList(key string, fallback []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}
