package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()

	assert.Equal(t, 16, cfg.WorkerPoolSize)
	assert.Equal(t, 30*time.Second, cfg.CriticalDeadline)
	assert.Equal(t, 60*time.Second, cfg.DefaultDeadline)
	assert.Equal(t, 2, cfg.MaxRetries)
	assert.Equal(t, time.Second, cfg.RetryBase)
	assert.Equal(t, 8*time.Second, cfg.RetryCap)
	assert.Equal(t, 5*time.Minute, cfg.CriticalInterval)
	assert.Equal(t, 30*time.Minute, cfg.HighInterval)
	assert.Equal(t, 6*time.Hour, cfg.MediumInterval)
	assert.Equal(t, 24*time.Hour, cfg.DailyInterval)
	assert.Equal(t, 15*time.Minute, cfg.SuppressionWindow)
	assert.Equal(t, 5, cfg.NotifyRetryCap)
}

func TestLoadFromEnv(t *testing.T) {
	os.Setenv("WORKER_POOL_SIZE", "4")
	os.Setenv("SUPPRESSION_WINDOW_MIN", "30")
	os.Setenv("BASE_RPC_URL", "https://base.example/rpc")
	defer func() {
		os.Unsetenv("WORKER_POOL_SIZE")
		os.Unsetenv("SUPPRESSION_WINDOW_MIN")
		os.Unsetenv("BASE_RPC_URL")
	}()

	cfg := Load()
	assert.Equal(t, 4, cfg.WorkerPoolSize)
	assert.Equal(t, 30*time.Minute, cfg.SuppressionWindow)
	assert.Equal(t, "https://base.example/rpc", cfg.RPCURLs["base"])
	_, ok := cfg.RPCURLs["polygon"]
	assert.False(t, ok, "unset chains are absent, not empty")
}

func TestUnitDeadlinePerClass(t *testing.T) {
	cfg := Load()
	assert.Equal(t, cfg.CriticalDeadline, cfg.UnitDeadline("critical"))
	assert.Equal(t, cfg.DefaultDeadline, cfg.UnitDeadline("high"))
	assert.Equal(t, cfg.DefaultDeadline, cfg.UnitDeadline("daily"))
}

func TestInvalidIntFallsBack(t *testing.T) {
	os.Setenv("WORKER_POOL_SIZE", "not-a-number")
	defer os.Unsetenv("WORKER_POOL_SIZE")

	assert.Equal(t, 16, Load().WorkerPoolSize)
}
