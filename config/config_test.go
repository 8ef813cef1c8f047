package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/healthapp/go-auth/config"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := config.Load(filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)

	assert.Equal(t, config.BackendSQL, cfg.StoreBackend)
	assert.Equal(t, "sqlite", cfg.DBDriver)
	assert.Equal(t, 15*time.Minute, cfg.GetAccessTokenTTL())
	assert.Equal(t, 7*24*time.Hour, cfg.GetRefreshTokenTTL())
	assert.Equal(t, []string{"health-app"}, cfg.GetAudience())
	assert.Equal(t, "health-app", cfg.GetIssuer())
	assert.NotEmpty(t, cfg.GetSigningKey(), "development gets a fallback key")
	assert.Empty(t, cfg.KafkaBrokers)
}

func TestLoadFromEnvFile(t *testing.T) {
	file := filepath.Join(t.TempDir(), "test.env")
	require.NoError(t, os.WriteFile(file, []byte("AUTH_CFG_PROBE=1\nJWT_ISSUER=from-file\n"), 0o600))
	t.Setenv("JWT_ISSUER", "from-env")
	t.Setenv("KAFKA_BROKERS", "k1:9092,k2:9092")
	t.Cleanup(func() { os.Unsetenv("AUTH_CFG_PROBE") })

	cfg, err := config.Load(file)
	require.NoError(t, err)

	assert.Equal(t, "from-env", cfg.GetIssuer(), "environment wins over the file")
	assert.Equal(t, "1", os.Getenv("AUTH_CFG_PROBE"))
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.KafkaBrokers)
}

func TestValidate(t *testing.T) {
	base := func() *config.Config {
		return &config.Config{
			Environment:     "production",
			StoreBackend:    config.BackendSQL,
			DBDSN:           "postgres://localhost/health",
			SigningKey:      "0123456789abcdef0123456789abcdef",
			AccessTokenTTL:  time.Minute,
			RefreshTokenTTL: time.Hour,
		}
	}

	require.NoError(t, base().Validate())

	t.Run("short key in production", func(t *testing.T) {
		cfg := base()
		cfg.SigningKey = "short"
		assert.ErrorContains(t, cfg.Validate(), "JWT_SIGNING_KEY")
	})

	t.Run("unknown backend", func(t *testing.T) {
		cfg := base()
		cfg.StoreBackend = "cassandra"
		assert.ErrorContains(t, cfg.Validate(), "STORE_BACKEND")
	})

	t.Run("access ttl longer than refresh", func(t *testing.T) {
		cfg := base()
		cfg.AccessTokenTTL = 2 * time.Hour
		assert.Error(t, cfg.Validate())
	})

	t.Run("mongo needs a database", func(t *testing.T) {
		cfg := base()
		cfg.StoreBackend = config.BackendMongo
		cfg.MongoURI = "mongodb://localhost"
		assert.Error(t, cfg.Validate())
	})
}
