package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{
		"PORT", "ENVIRONMENT", "DATABASE_PATH", "OPENAI_MODEL",
		"RATE_LIMIT_RPS", "RATE_LIMIT_BURST", "CORS_ALLOWED_ORIGINS", "SEED_PROJECT_ID",
	} {
		t.Setenv(key, "")
	}

	cfg := Load()

	assert.Equal(t, "8000", cfg.Port)
	assert.Equal(t, "development", cfg.Environment)
	assert.Equal(t, "data/botarmy.db", cfg.DatabasePath)
	assert.Equal(t, "gpt-4o-mini", cfg.OpenAIModel)
	assert.Equal(t, float64(50), cfg.RateLimitRPS)
	assert.Equal(t, 100, cfg.RateBurst)
	assert.Equal(t, []string{"*"}, cfg.AllowedOrigins)
	assert.Equal(t, "proj_49583", cfg.SeedProjectID)
	assert.False(t, cfg.IsProduction())
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("PORT", "9001")
	t.Setenv("ENVIRONMENT", "production")
	t.Setenv("RATE_LIMIT_RPS", "2.5")
	t.Setenv("RATE_LIMIT_BURST", "7")
	t.Setenv("CORS_ALLOWED_ORIGINS", "http://a.local, http://b.local")

	cfg := Load()

	assert.Equal(t, "9001", cfg.Port)
	assert.True(t, cfg.IsProduction())
	assert.Equal(t, 2.5, cfg.RateLimitRPS)
	assert.Equal(t, 7, cfg.RateBurst)
	assert.Equal(t, []string{"http://a.local", "http://b.local"}, cfg.AllowedOrigins)
}

func TestLoadIgnoresInvalidNumbers(t *testing.T) {
	t.Setenv("RATE_LIMIT_RPS", "not-a-number")
	t.Setenv("RATE_LIMIT_BURST", "NaN")

	cfg := Load()
	assert.Equal(t, float64(50), cfg.RateLimitRPS)
	assert.Equal(t, 100, cfg.RateBurst)
}
