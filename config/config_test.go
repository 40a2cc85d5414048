package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadEnv_Defaults(t *testing.T) {
	cfg := LoadEnv()

	assert.Equal(t, 100, cfg.Inventory.LowStockThreshold)
	assert.Equal(t, 30, cfg.Inventory.ExpiryWindowDays)
	assert.Equal(t, 5*time.Minute, cfg.Redis.CacheTTL)
}

func TestLoadEnv_Overrides(t *testing.T) {
	t.Setenv("INVENTORY_LOW_STOCK_THRESHOLD", "25")
	t.Setenv("KAFKA_BROKERS", "kafka-1:9092, kafka-2:9092,")
	t.Setenv("LOGGER_DISABLE_CALLER", "true")
	t.Setenv("POSTGRES_MAX_OPEN_CONNS", "not-a-number")

	cfg := LoadEnv()

	assert.Equal(t, 25, cfg.Inventory.LowStockThreshold)
	assert.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, cfg.Kafka.Brokers)
	assert.True(t, cfg.Logger.DisableCaller)
	assert.Equal(t, 10, cfg.Postgres.MaxOpenConns)
}
