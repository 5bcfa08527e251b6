package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, []string{"localhost:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, 72*time.Hour, cfg.RetentionWindow)
	assert.Equal(t, 3, cfg.RetryThreshold)
	assert.NotEmpty(t, cfg.PurgeCronSpec)
}

func TestLoadConfig_EnvOverlay(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://u:p@db:5432/x")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092")
	t.Setenv("TRASH_RETENTION_WINDOW", "24h")
	t.Setenv("DLQ_RETRY_THRESHOLD", "5")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "postgres://u:p@db:5432/x", cfg.DatabaseDSN)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, 24*time.Hour, cfg.RetentionWindow)
	assert.Equal(t, 5, cfg.RetryThreshold)
}

func TestLoadConfig_InvalidDuration(t *testing.T) {
	t.Setenv("TRASH_RETENTION_WINDOW", "three days")

	_, err := LoadConfig()
	require.Error(t, err)
}

func TestLoadConfig_InvalidThreshold(t *testing.T) {
	t.Setenv("DLQ_RETRY_THRESHOLD", "many")

	_, err := LoadConfig()
	require.Error(t, err)
}
