// Package config loads process settings from the environment (and an optional .env file).
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

// Config holds every setting used by the server, historian and racebot binaries.
type Config struct {
	Port           string `mapstructure:"PORT"`
	LogLevel       string `mapstructure:"LOG_LEVEL"`
	AllowedOrigins string `mapstructure:"ALLOWED_ORIGINS"`

	CountdownDuration    time.Duration `mapstructure:"COUNTDOWN_DURATION"`
	FinishedRetention    time.Duration `mapstructure:"FINISHED_RETENTION"`
	IdleLobbyTTL         time.Duration `mapstructure:"IDLE_LOBBY_TTL"`
	PresenceTTL          time.Duration `mapstructure:"PRESENCE_TTL"`
	PruneInactiveOnStart bool          `mapstructure:"PRUNE_INACTIVE_ON_START"`

	RateLimitRPS   float64 `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst int     `mapstructure:"RATE_LIMIT_BURST"`

	RedisAddr          string `mapstructure:"REDIS_ADDR"`
	RedisDB            int    `mapstructure:"REDIS_DB"`
	LobbyChannelPrefix string `mapstructure:"LOBBY_CHANNEL_PREFIX"`
	ResultsQueue       string `mapstructure:"RESULTS_QUEUE"`

	DatabaseURL        string        `mapstructure:"DATABASE_URL"`
	HistorianBatchSize int           `mapstructure:"HISTORIAN_BATCH_SIZE"`
	HistorianFlush     time.Duration `mapstructure:"HISTORIAN_FLUSH"`

	Bot `mapstructure:",squash"`
}

// Bot configures cmd/racebot.
type Bot struct {
	ServerURL       string        `mapstructure:"RACE_SERVER_URL"`
	Address         string        `mapstructure:"RACE_ADDRESS"`
	Name            string        `mapstructure:"RACE_NAME"`
	Color           string        `mapstructure:"RACE_COLOR"`
	PollInterval    time.Duration `mapstructure:"RACE_POLL_INTERVAL"`
	ClickInterval   time.Duration `mapstructure:"RACE_CLICK_INTERVAL"`
	StartingBalance int64         `mapstructure:"RACE_STARTING_BALANCE"`
	CostPerClick    int64         `mapstructure:"RACE_COST_PER_CLICK"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("PORT", "8080")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("ALLOWED_ORIGINS", "*")

	v.SetDefault("COUNTDOWN_DURATION", 3*time.Second)
	v.SetDefault("FINISHED_RETENTION", time.Duration(0))
	v.SetDefault("IDLE_LOBBY_TTL", 30*time.Minute)
	v.SetDefault("PRESENCE_TTL", 15*time.Second)
	v.SetDefault("PRUNE_INACTIVE_ON_START", true)

	v.SetDefault("RATE_LIMIT_RPS", 0.0)
	v.SetDefault("RATE_LIMIT_BURST", 20)

	v.SetDefault("REDIS_ADDR", "")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("LOBBY_CHANNEL_PREFIX", "race:lobby:")
	v.SetDefault("RESULTS_QUEUE", "race_results")

	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("HISTORIAN_BATCH_SIZE", 20)
	v.SetDefault("HISTORIAN_FLUSH", 500*time.Millisecond)

	v.SetDefault("RACE_SERVER_URL", "http://localhost:8080")
	v.SetDefault("RACE_ADDRESS", "")
	v.SetDefault("RACE_NAME", "")
	v.SetDefault("RACE_COLOR", "")
	v.SetDefault("RACE_POLL_INTERVAL", 250*time.Millisecond)
	v.SetDefault("RACE_CLICK_INTERVAL", 120*time.Millisecond)
	v.SetDefault("RACE_STARTING_BALANCE", int64(1000))
	v.SetDefault("RACE_COST_PER_CLICK", int64(1))
}

// Load reads the environment into a Config.
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}
	if cfg.HistorianBatchSize <= 0 {
		cfg.HistorianBatchSize = 1
	}
	return &cfg, nil
}

// Addr is the listen address for the HTTP server.
func (c *Config) Addr() string {
	if strings.HasPrefix(c.Port, ":") {
		return c.Port
	}
	return ":" + c.Port
}

// Origins splits ALLOWED_ORIGINS on commas.
func (c *Config) Origins() []string {
	var out []string
	for _, o := range strings.Split(c.AllowedOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	if len(out) == 0 {
		out = []string{"*"}
	}
	return out
}

// NewLogger builds the process logger at LOG_LEVEL, falling back to info on unknown levels.
func (c *Config) NewLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		logger.Warnf("unknown LOG_LEVEL %q, using info", c.LogLevel)
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)
	return logger
}
