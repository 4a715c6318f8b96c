package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("REDIS_ADDR", "")
	t.Setenv("MIDTRANS_ENV", "")

	cfg := Load()
	assert.Equal(t, ":8000", cfg.HTTPAddr)
	assert.Equal(t, []string{"localhost:6379"}, cfg.RedisAddrs)
	assert.False(t, cfg.MidtransProduction)
	assert.Equal(t, 10*time.Minute, cfg.SweepLockTTL)
	assert.Equal(t, 500, cfg.SweepBatchSize)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("REDIS_ADDR", "r1:6379, r2:6379,")
	t.Setenv("REDIS_CLUSTER", "true")
	t.Setenv("MIDTRANS_ENV", "production")
	t.Setenv("SWEEP_LOCK_TTL", "30s")
	t.Setenv("SWEEP_BATCH_SIZE", "not-a-number")

	cfg := Load()
	assert.Equal(t, []string{"r1:6379", "r2:6379"}, cfg.RedisAddrs)
	assert.True(t, cfg.RedisCluster)
	assert.True(t, cfg.MidtransProduction)
	assert.Equal(t, 30*time.Second, cfg.SweepLockTTL)
	assert.Equal(t, 500, cfg.SweepBatchSize)
}
