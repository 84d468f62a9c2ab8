package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadEnv_Defaults(t *testing.T) {
	cfg := LoadEnv()

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.True(t, cfg.Ledger.AllowNegativeStock, "negative stock is allowed unless configured otherwise")
	assert.Equal(t, "UTC", cfg.Ledger.DefaultTimezone)
	assert.False(t, cfg.Kafka.Enabled)
	assert.Equal(t, 15*time.Minute, cfg.Scheduler.Interval)
	assert.True(t, cfg.IsDevelopment())
}

func TestLoadEnv_Overrides(t *testing.T) {
	// GIVEN: Environment overrides
	t.Setenv("APP_ENV", "production")
	t.Setenv("ALLOW_NEGATIVE_STOCK", "false")
	t.Setenv("DEFAULT_TIMEZONE", "Asia/Jakarta")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092,")
	t.Setenv("AUTO_CLOSE_INTERVAL", "5m")

	// WHEN: Loading
	cfg := LoadEnv()

	// THEN: Values are parsed
	assert.False(t, cfg.Ledger.AllowNegativeStock)
	assert.Equal(t, "Asia/Jakarta", cfg.Ledger.DefaultTimezone)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, 5*time.Minute, cfg.Scheduler.Interval)
	assert.False(t, cfg.IsDevelopment())
}

func TestLoadEnv_InvalidValuesFallBack(t *testing.T) {
	t.Setenv("ALLOW_NEGATIVE_STOCK", "sometimes")
	t.Setenv("AUTO_CLOSE_INTERVAL", "-1s")

	cfg := LoadEnv()

	assert.True(t, cfg.Ledger.AllowNegativeStock)
	assert.Equal(t, 15*time.Minute, cfg.Scheduler.Interval)
}
