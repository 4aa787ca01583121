// Package config loads the manager's runtime configuration from the
// environment, with a .env file honored for local development.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config carries every tunable of the lifecycle manager. All durations have
// defaults matching production operation; tests override them directly.
type Config struct {
	Provider struct {
		Token  string
		Region string
	}

	Postgres struct {
		Host     string
		Port     string
		Database string
		Username string
		Password string
	}

	Telegram struct {
		BotToken        string
		BroadcastChatID int64
	}

	Sweep struct {
		Interval        time.Duration // full expiry sweep cadence
		WarningWindow   time.Duration // warn owners this far ahead of expiry
		ClusterPoll     time.Duration // provisioning poller cadence
		SnapshotCeiling time.Duration // max wait for a pre-delete snapshot
		ActionPoll      time.Duration // provider action poll interval
	}

	MetricsAddr string
	LogLevel    string
	LogJSON     bool
}

// DefaultRegion is where every resource is provisioned.
const DefaultRegion = "fra1"

// Load reads configuration from the environment. A missing .env file is not
// an error; a missing provider token is.
func Load() (*Config, error) {
	_ = godotenv.Load()

	var cfg Config

	cfg.Provider.Token = os.Getenv("DIGITALOCEAN_TOKEN")
	if cfg.Provider.Token == "" {
		return nil, fmt.Errorf("DIGITALOCEAN_TOKEN is required")
	}
	cfg.Provider.Region = getEnv("PROVIDER_REGION", DefaultRegion)

	cfg.Postgres.Host = getEnv("POSTGRES_HOST", "localhost")
	cfg.Postgres.Port = getEnv("POSTGRES_PORT", "5432")
	cfg.Postgres.Database = getEnv("POSTGRES_DB", "ebb")
	cfg.Postgres.Username = getEnv("POSTGRES_USER", "ebb")
	cfg.Postgres.Password = os.Getenv("POSTGRES_PASSWORD")

	cfg.Telegram.BotToken = os.Getenv("TELEGRAM_BOT_TOKEN")
	var err error
	cfg.Telegram.BroadcastChatID, err = getEnvInt64("NOTIFICATION_CHANNEL_ID", 0)
	if err != nil {
		return nil, err
	}

	cfg.Sweep.Interval, err = getEnvDuration("SWEEP_INTERVAL", 12*time.Hour)
	if err != nil {
		return nil, err
	}
	cfg.Sweep.WarningWindow, err = getEnvDuration("WARNING_WINDOW", 24*time.Hour)
	if err != nil {
		return nil, err
	}
	cfg.Sweep.ClusterPoll, err = getEnvDuration("CLUSTER_POLL_INTERVAL", 30*time.Second)
	if err != nil {
		return nil, err
	}
	cfg.Sweep.SnapshotCeiling, err = getEnvDuration("SNAPSHOT_CEILING", 600*time.Second)
	if err != nil {
		return nil, err
	}
	cfg.Sweep.ActionPoll, err = getEnvDuration("ACTION_POLL_INTERVAL", 15*time.Second)
	if err != nil {
		return nil, err
	}

	cfg.MetricsAddr = getEnv("METRICS_ADDR", ":9123")
	cfg.LogLevel = getEnv("LOG_LEVEL", "info")
	cfg.LogJSON = os.Getenv("LOG_JSON") == "true"

	return &cfg, nil
}

// DSN builds the Postgres connection string for the resource store.
func (c *Config) DSN() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
		c.Postgres.Host, c.Postgres.Port, c.Postgres.Username, c.Postgres.Password, c.Postgres.Database)
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt64(key string, fallback int64) (int64, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func getEnvDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}
