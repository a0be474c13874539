package config

import (
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Addr())
	assert.Equal(t, 3*time.Second, cfg.CountdownDuration)
	assert.Equal(t, time.Duration(0), cfg.FinishedRetention)
	assert.Equal(t, 15*time.Second, cfg.PresenceTTL)
	assert.True(t, cfg.PruneInactiveOnStart)
	assert.Equal(t, "race:lobby:", cfg.LobbyChannelPrefix)
	assert.Equal(t, 20, cfg.HistorianBatchSize)
	assert.Equal(t, 500*time.Millisecond, cfg.HistorianFlush)
	assert.Equal(t, 250*time.Millisecond, cfg.Bot.PollInterval)
	assert.Equal(t, int64(1), cfg.Bot.CostPerClick)
	assert.Equal(t, []string{"*"}, cfg.Origins())
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("COUNTDOWN_DURATION", "1500ms")
	t.Setenv("PRUNE_INACTIVE_ON_START", "false")
	t.Setenv("RATE_LIMIT_RPS", "2.5")
	t.Setenv("ALLOWED_ORIGINS", "https://a.example, https://b.example,")
	t.Setenv("RACE_ADDRESS", "0xabc")
	t.Setenv("HISTORIAN_BATCH_SIZE", "0")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Addr())
	assert.Equal(t, 1500*time.Millisecond, cfg.CountdownDuration)
	assert.False(t, cfg.PruneInactiveOnStart)
	assert.InDelta(t, 2.5, cfg.RateLimitRPS, 1e-9)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Origins())
	assert.Equal(t, "0xabc", cfg.Bot.Address)
	assert.Equal(t, 1, cfg.HistorianBatchSize)
}

func TestNewLoggerLevel(t *testing.T) {
	cfg := &Config{LogLevel: "debug"}
	assert.Equal(t, logrus.DebugLevel, cfg.NewLogger().GetLevel())

	cfg.LogLevel = "loud"
	assert.Equal(t, logrus.InfoLevel, cfg.NewLogger().GetLevel())
}
