package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("JWT_SECRET", "0123456789abcdef0123456789abcdef")
	t.Setenv("DATABASE_URL", "")

	cfg, _, err := Load("testdata/does-not-exist.env")
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Addr)
	assert.Equal(t, "gemini-2.5-flash", cfg.GeminiModel)
	assert.Equal(t, 8, cfg.SendConcurrency)
	assert.Equal(t, 15*time.Second, cfg.ExternalCallTimeout())
	assert.Equal(t, 168*time.Hour, cfg.JWTTTL())
	assert.Equal(t, "postgres://postgres:@localhost:5432/promopal?sslmode=disable", cfg.DSN())
}

func TestLoadRejectsShortSecret(t *testing.T) {
	t.Setenv("JWT_SECRET", "short")

	_, _, err := Load("testdata/does-not-exist.env")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "JWT_SECRET")
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		return &Config{
			JWTSecret:               "0123456789abcdef0123456789abcdef",
			DBName:                  "promopal",
			SendConcurrency:         4,
			ExternalCallTimeoutSec:  10,
			AutoCampaignCadenceDays: 14,
			AutoCampaignMaxUpcoming: 3,
			SquareEnvironment:       "sandbox",
		}
	}

	t.Run("valid", func(t *testing.T) {
		assert.NoError(t, base().Validate())
	})

	t.Run("bad square environment", func(t *testing.T) {
		cfg := base()
		cfg.SquareEnvironment = "staging"
		assert.ErrorContains(t, cfg.Validate(), "SQUARE_ENVIRONMENT")
	})

	t.Run("zero concurrency", func(t *testing.T) {
		cfg := base()
		cfg.SendConcurrency = 0
		assert.ErrorContains(t, cfg.Validate(), "SEND_CONCURRENCY")
	})

	t.Run("database url wins", func(t *testing.T) {
		cfg := base()
		cfg.DatabaseURL = "postgres://u:p@db:5432/x"
		assert.Equal(t, "postgres://u:p@db:5432/x", cfg.DSN())
	})
}

func TestTrustedProxyList(t *testing.T) {
	cfg := &Config{TrustedProxies: " 10.0.0.0/8, ,127.0.0.1"}
	assert.Equal(t, []string{"10.0.0.0/8", "127.0.0.1"}, cfg.TrustedProxyList())
}
