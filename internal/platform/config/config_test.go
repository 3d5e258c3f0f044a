package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "consentd.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.HTTP.Addr)
	assert.Equal(t, "privacy_admin", cfg.Auth.AdminRole)
	assert.True(t, cfg.Ledger.ConsentGateEnabled)
	assert.Empty(t, cfg.Postgres.URL, "memory stores by default")
	assert.True(t, cfg.IsDevelopment())
}

func TestLoad_FileThenEnvironment(t *testing.T) {
	path := writeFile(t, `
http:
  addr: ":9090"
  shutdownTimeout: 3s
postgres:
  url: postgres://file/consent
kafka:
  brokers: [kafka-1:9092]
  topic: audit.from.file
auth:
  adminAllowlist: [ops-bot]
ledger:
  consentGateEnabled: false
`)
	t.Setenv("CONSENTD_HTTP_ADDR", ":7070")
	t.Setenv("CONSENTD_KAFKA_BROKERS", "kafka-1:9092,kafka-2:9092")
	t.Setenv("CONSENTD_AUTH_JWT_SIGNING_KEY", "from-env")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":7070", cfg.HTTP.Addr, "environment overrides file")
	assert.Equal(t, 3*time.Second, cfg.HTTP.ShutdownTimeout)
	assert.Equal(t, "postgres://file/consent", cfg.Postgres.URL)
	assert.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, "audit.from.file", cfg.Kafka.Topic)
	assert.Equal(t, []string{"ops-bot"}, cfg.Auth.AdminAllowlist)
	assert.Equal(t, "from-env", cfg.Auth.JWTSigningKey)
	assert.False(t, cfg.Ledger.ConsentGateEnabled)
	assert.Equal(t, 5*time.Second, cfg.Postgres.TxTimeout, "untouched defaults survive")
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read config file")
}

func TestValidate(t *testing.T) {
	t.Run("production rejects development secrets", func(t *testing.T) {
		cfg := Defaults()
		cfg.Environment = "production"

		err := cfg.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "auth.jwtSigningKey must be overridden")
		assert.Contains(t, err.Error(), "ledger.pseudonymPepper must be overridden")
	})

	t.Run("short pepper", func(t *testing.T) {
		cfg := Defaults()
		cfg.Ledger.PseudonymPepper = "short"
		require.ErrorContains(t, cfg.Validate(), "16 to 64 bytes")
	})

	t.Run("kafka without postgres", func(t *testing.T) {
		cfg := Defaults()
		cfg.Kafka.Brokers = []string{"localhost:9092"}
		require.ErrorContains(t, cfg.Validate(), "requires postgres")
	})

	t.Run("unknown log level", func(t *testing.T) {
		cfg := Defaults()
		cfg.Log.Level = "loud"
		require.ErrorContains(t, cfg.Validate(), "log.level")
	})

	t.Run("defaults are valid", func(t *testing.T) {
		cfg := Defaults()
		require.NoError(t, cfg.Validate())
	})
}
